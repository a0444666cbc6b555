package pipeline

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/tphakala/dipper-go/internal/errors"
	"github.com/tphakala/dipper-go/internal/logger"
	"github.com/tphakala/dipper-go/internal/observation"
)

// RefreshResult summarizes a thread refresh of one region.
type RefreshResult struct {
	Region   string `json:"region"`
	Checked  int    `json:"checked"`
	Changed  int    `json:"changed"`
	Notified int    `json:"notified"`
	Failed   int    `json:"failed"`
}

// RecencyMessage is the text announcing a bucket change.
func RecencyMessage(trackerKey, bucket string) string {
	return fmt.Sprintf("Recency update: %s is now in bucket %s", trackerKey, bucket)
}

// ThreadRegions returns the distinct regions of all tracked threads, upper
// cased and sorted, whether or not the region has a route.
func (p *Pipeline) ThreadRegions(ctx context.Context) ([]string, error) {
	threads, err := p.store.GetAllThreads(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var regions []string
	for i := range threads {
		_, region, ok := observation.SplitTrackerKey(threads[i].TrackerKey)
		if !ok || region == "" {
			continue
		}
		region = strings.ToUpper(region)
		if _, dup := seen[region]; dup {
			continue
		}
		seen[region] = struct{}{}
		regions = append(regions, region)
	}
	slices.Sort(regions)
	return regions, nil
}

// RefreshThreads recomputes the recency bucket of every thread in region,
// saves it with the newest sighting time and, when enabled, announces bucket
// changes to the thread's destination.
func (p *Pipeline) RefreshThreads(ctx context.Context, region string) (RefreshResult, error) {
	res := RefreshResult{Region: region}
	log := p.log.WithContext(ctx).With(logger.String("region", region))

	threads, err := p.store.GetAllThreads(ctx)
	if err != nil {
		return res, err
	}

	var errs []error
	for i := range threads {
		thread := &threads[i]
		_, threadRegion, ok := observation.SplitTrackerKey(thread.TrackerKey)
		if !ok || !strings.EqualFold(threadRegion, region) {
			continue
		}
		res.Checked++

		if err := p.refreshThread(ctx, log, thread, &res); err != nil {
			res.Failed++
			errs = append(errs, err)
			log.Warn("thread refresh failed",
				logger.String("tracker_key", thread.TrackerKey),
				logger.Error(err))
		}
	}

	log.Info("threads refreshed",
		logger.Int("checked", res.Checked),
		logger.Int("changed", res.Changed),
		logger.Int("notified", res.Notified))
	return res, errors.Join(errs...)
}

func (p *Pipeline) refreshThread(ctx context.Context, log logger.Logger, thread *observation.Thread, res *RefreshResult) error {
	bucket, latest, err := p.classifier.Evaluate(ctx, thread.TrackerKey)
	if err != nil {
		return err
	}

	changed := thread.StatusBucket != string(bucket)
	thread.StatusBucket = string(bucket)
	if latest != nil {
		thread.LastSeenAt = latest
	}
	if err := p.store.SaveThread(ctx, thread); err != nil {
		return err
	}
	if !changed {
		return nil
	}

	res.Changed++
	if p.recorder != nil {
		p.recorder.RecordBucketChange(string(bucket))
	}
	log.Debug("thread bucket changed",
		logger.String("tracker_key", thread.TrackerKey),
		logger.String("bucket", string(bucket)))

	if !p.config.RecencyUpdates || thread.ThreadID == "" || p.sender == nil {
		return nil
	}
	if err := p.sender.Send(ctx, thread.ThreadID, RecencyMessage(thread.TrackerKey, string(bucket)), p.config.Silent); err != nil {
		return err
	}
	res.Notified++
	return nil
}
