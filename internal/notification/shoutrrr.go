package notification

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/dipper-go/internal/errors"
	"github.com/tphakala/dipper-go/internal/logger"
)

// ShoutrrrSender delivers to shoutrrr service URLs such as slack:// or
// telegram://. The silent flag is not supported by shoutrrr and is ignored.
type ShoutrrrSender struct {
	timeout time.Duration
	log     logger.Logger

	mu      sync.Mutex
	routers map[string]*router.ServiceRouter
}

// NewShoutrrrSender creates a sender. timeout <= 0 keeps shoutrrr's default.
func NewShoutrrrSender(timeout time.Duration, opts ...Option) *ShoutrrrSender {
	o := applyOptions(opts)
	return &ShoutrrrSender{
		timeout: timeout,
		log:     o.log.Module("shoutrrr"),
		routers: make(map[string]*router.ServiceRouter),
	}
}

// Send delivers message to the shoutrrr URL in destination.
func (s *ShoutrrrSender) Send(ctx context.Context, destination, message string, _ bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sender, err := s.router(destination)
	if err != nil {
		return err
	}

	// the router applies its own timeout
	for _, sendErr := range sender.Send(message, &stypes.Params{}) {
		if sendErr != nil {
			return sanitized(sendErr, destination)
		}
	}
	return nil
}

// Validate reports whether destination is a URL shoutrrr can send to.
func (s *ShoutrrrSender) Validate(destination string) error {
	_, err := s.router(destination)
	return err
}

func (s *ShoutrrrSender) router(destination string) (*router.ServiceRouter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.routers[destination]; ok {
		return r, nil
	}

	r, err := shoutrrr.CreateSender(destination)
	if err != nil {
		// shoutrrr errors quote the full URL, credentials included
		return nil, errors.Newf("invalid shoutrrr destination %s", DestinationLabel(destination)).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("destination", DestinationLabel(destination)).
			Build()
	}
	if s.timeout > 0 {
		r.Timeout = s.timeout
	}
	r.SetLogger(log.New(io.Discard, "", 0))

	s.routers[destination] = r
	return r, nil
}

// sanitized replaces a shoutrrr send error. The original text is dropped
// because it may embed the service URL.
func sanitized(_ error, destination string) error {
	return errors.Newf("shoutrrr send to %s failed", DestinationLabel(destination)).
		Component("notification").
		Category(errors.CategoryDelivery).
		Context("destination", DestinationLabel(destination)).
		Build()
}
