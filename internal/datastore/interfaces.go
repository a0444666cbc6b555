// interfaces.go: the store interface and its gorm implementation shared by SQLite and MySQL
package datastore

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/dipper-go/internal/conf"
	"github.com/tphakala/dipper-go/internal/logger"
	"github.com/tphakala/dipper-go/internal/observation"
)

// Interface abstracts the underlying database implementation.
type Interface interface {
	Open() error
	Close() error

	// checklists
	SaveChecklist(ctx context.Context, obs *observation.Observation) error
	GetChecklist(ctx context.Context, checklistID string) (observation.Observation, error)
	LinkChecklist(ctx context.Context, checklistID, trackerKey string) error
	GetChecklistsForThread(ctx context.Context, trackerKey string) ([]observation.Observation, error)

	// threads
	SaveThread(ctx context.Context, thread *observation.Thread) error
	GetThread(ctx context.Context, trackerKey string) (observation.Thread, error)
	GetAllThreads(ctx context.Context) ([]observation.Thread, error)
	DeleteThread(ctx context.Context, trackerKey string) error

	// regions
	SaveRegions(ctx context.Context, regions []Region) error
	GetRegions(ctx context.Context) ([]Region, error)
	GetRegionsByPrefix(ctx context.Context, prefix string) ([]Region, error)

	// moderation and misses
	SaveModeration(ctx context.Context, rec *ModerationRecord) error
	GetModeration(ctx context.Context, checklistID string) (ModerationRecord, error)
	ListModeration(ctx context.Context, status string) ([]ModerationRecord, error)
	DeleteModeration(ctx context.Context, checklistID string) error
	SaveMiss(ctx context.Context, miss *Miss) error
	GetMissesForThread(ctx context.Context, trackerKey string) ([]Miss, error)
	DeleteMiss(ctx context.Context, id uint) error
}

// OperationRecorder receives per-operation metrics.
type OperationRecorder interface {
	RecordDbOperation(operation, table, status string)
	RecordDbOperationDuration(operation, table string, seconds float64)
}

// DataStore implements Interface on a GORM database.
type DataStore struct {
	DB      *gorm.DB
	log     logger.Logger
	metrics OperationRecorder
}

// New returns the store selected by settings, or nil when no store is enabled.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return NewSQLiteStore(settings.Output.SQLite.Path, settings.Debug)
	case settings.Output.MySQL.Enabled:
		return NewMySQLStore(settings.Output.MySQL, settings.Debug)
	default:
		return nil
	}
}

// SetMetrics installs an operation recorder
func (ds *DataStore) SetMetrics(m OperationRecorder) {
	ds.metrics = m
}

func (ds *DataStore) moduleLogger() logger.Logger {
	if ds.log == nil {
		ds.log = logger.Global().Module("datastore")
	}
	return ds.log
}

// observe records status and duration for one operation
func (ds *DataStore) observe(operation, table string, start time.Time, err error) {
	if ds.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	ds.metrics.RecordDbOperation(operation, table, status)
	ds.metrics.RecordDbOperationDuration(operation, table, time.Since(start).Seconds())
}

func (ds *DataStore) db(ctx context.Context) *gorm.DB {
	return ds.DB.WithContext(ctx)
}

// checklistUpdateColumns are overwritten when a checklist id is seen again.
// The thread link is only changed through LinkChecklist.
var checklistUpdateColumns = []string{
	"species", "region", "location", "observer", "obs_datetime",
	"local_tz", "lat", "lon", "has_media", "counted",
}

// SaveChecklist upserts a sighting by checklist id. An existing thread link is
// kept unless obs carries one.
func (ds *DataStore) SaveChecklist(ctx context.Context, obs *observation.Observation) (err error) {
	start := time.Now()
	defer func() { ds.observe("save", "checklists", start, err) }()

	if obs == nil || obs.ChecklistID == "" {
		return validationError("checklist id is required", "checklist_id", "")
	}

	row := checklistFromObservation(obs)
	columns := checklistUpdateColumns
	if row.ThreadTrackerKey != nil {
		columns = append(append([]string{}, columns...), "thread_tracker_key")
	}

	err = ds.db(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "checklist_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(&row).Error
	if err != nil {
		return dbError(err, "save_checklist", "checklists", "checklist_id", obs.ChecklistID)
	}
	return nil
}

// GetChecklist loads a sighting by checklist id
func (ds *DataStore) GetChecklist(ctx context.Context, checklistID string) (observation.Observation, error) {
	var row Checklist
	if err := ds.db(ctx).Where("checklist_id = ?", checklistID).First(&row).Error; err != nil {
		return observation.Observation{}, dbError(err, "get_checklist", "checklists", "checklist_id", checklistID)
	}
	return row.toObservation(), nil
}

// LinkChecklist points a sighting at a thread
func (ds *DataStore) LinkChecklist(ctx context.Context, checklistID, trackerKey string) (err error) {
	start := time.Now()
	defer func() { ds.observe("link", "checklists", start, err) }()

	res := ds.db(ctx).Model(&Checklist{}).
		Where("checklist_id = ?", checklistID).
		Update("thread_tracker_key", trackerKey)
	if res.Error != nil {
		return dbError(res.Error, "link_checklist", "checklists", "checklist_id", checklistID)
	}
	if res.RowsAffected == 0 {
		return notFoundError("link_checklist", "checklists", "checklist_id", checklistID)
	}
	return nil
}

// GetChecklistsForThread returns the sightings linked to trackerKey, newest first
func (ds *DataStore) GetChecklistsForThread(ctx context.Context, trackerKey string) ([]observation.Observation, error) {
	var rows []Checklist
	err := ds.db(ctx).
		Where("thread_tracker_key = ?", trackerKey).
		Order("obs_datetime DESC").
		Find(&rows).Error
	if err != nil {
		return nil, dbError(err, "get_checklists_for_thread", "checklists", "tracker_key", trackerKey)
	}

	out := make([]observation.Observation, len(rows))
	for i := range rows {
		out[i] = rows[i].toObservation()
	}
	return out, nil
}

// SaveThread upserts a thread by tracker key
func (ds *DataStore) SaveThread(ctx context.Context, thread *observation.Thread) (err error) {
	start := time.Now()
	defer func() { ds.observe("save", "threads", start, err) }()

	if thread == nil || thread.TrackerKey == "" {
		return validationError("tracker key is required", "tracker_key", "")
	}

	row := threadFromDomain(thread)
	err = ds.db(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tracker_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"thread_id", "type", "last_seen_at", "status_bucket"}),
	}).Create(&row).Error
	if err != nil {
		return dbError(err, "save_thread", "threads", "tracker_key", thread.TrackerKey)
	}
	return nil
}

// GetThread loads a thread by tracker key
func (ds *DataStore) GetThread(ctx context.Context, trackerKey string) (observation.Thread, error) {
	var row Thread
	if err := ds.db(ctx).Where("tracker_key = ?", trackerKey).First(&row).Error; err != nil {
		return observation.Thread{}, dbError(err, "get_thread", "threads", "tracker_key", trackerKey)
	}
	return row.toDomain(), nil
}

// GetAllThreads returns every thread ordered by tracker key
func (ds *DataStore) GetAllThreads(ctx context.Context) ([]observation.Thread, error) {
	var rows []Thread
	if err := ds.db(ctx).Order("tracker_key").Find(&rows).Error; err != nil {
		return nil, dbError(err, "get_all_threads", "threads")
	}

	out := make([]observation.Thread, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// DeleteThread removes a thread and unlinks its sightings
func (ds *DataStore) DeleteThread(ctx context.Context, trackerKey string) (err error) {
	start := time.Now()
	defer func() { ds.observe("delete", "threads", start, err) }()

	return ds.db(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("tracker_key = ?", trackerKey).Delete(&Thread{})
		if res.Error != nil {
			return dbError(res.Error, "delete_thread", "threads", "tracker_key", trackerKey)
		}
		if res.RowsAffected == 0 {
			return notFoundError("delete_thread", "threads", "tracker_key", trackerKey)
		}
		if err := tx.Model(&Checklist{}).
			Where("thread_tracker_key = ?", trackerKey).
			Update("thread_tracker_key", nil).Error; err != nil {
			return dbError(err, "unlink_checklists", "checklists", "tracker_key", trackerKey)
		}
		return nil
	})
}

// SaveRegions upserts directory entries in one transaction
func (ds *DataStore) SaveRegions(ctx context.Context, regions []Region) (err error) {
	start := time.Now()
	defer func() { ds.observe("save", "regions", start, err) }()

	if len(regions) == 0 {
		return nil
	}
	err = ds.db(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "type"}),
	}).CreateInBatches(regions, 200).Error
	if err != nil {
		return dbError(err, "save_regions", "regions", "count", len(regions))
	}
	return nil
}

// GetRegions returns every region ordered by name
func (ds *DataStore) GetRegions(ctx context.Context) ([]Region, error) {
	var rows []Region
	if err := ds.db(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, dbError(err, "get_regions", "regions")
	}
	return rows, nil
}

// GetRegionsByPrefix returns regions whose code starts with prefix, ordered by name
func (ds *DataStore) GetRegionsByPrefix(ctx context.Context, prefix string) ([]Region, error) {
	var rows []Region
	err := ds.db(ctx).
		Where("code LIKE ?", escapeLike(prefix)+"%").
		Order("name").
		Find(&rows).Error
	if err != nil {
		return nil, dbError(err, "get_regions_by_prefix", "regions", "prefix", prefix)
	}
	return rows, nil
}

// escapeLike strips LIKE wildcards from user supplied prefixes.
func escapeLike(s string) string {
	return strings.NewReplacer(`%`, ``, `_`, ``).Replace(s)
}

// SaveModeration upserts a moderation record
func (ds *DataStore) SaveModeration(ctx context.Context, rec *ModerationRecord) error {
	if rec == nil || rec.ChecklistID == "" {
		return validationError("checklist id is required", "checklist_id", "")
	}
	rec.SubmittedAt = rec.SubmittedAt.UTC()
	rec.ModeratedAt = utcPtr(rec.ModeratedAt)
	if err := ds.db(ctx).Save(rec).Error; err != nil {
		return dbError(err, "save_moderation", "moderation_queue", "checklist_id", rec.ChecklistID)
	}
	return nil
}

// GetModeration loads a moderation record
func (ds *DataStore) GetModeration(ctx context.Context, checklistID string) (ModerationRecord, error) {
	var row ModerationRecord
	if err := ds.db(ctx).Where("checklist_id = ?", checklistID).First(&row).Error; err != nil {
		return ModerationRecord{}, dbError(err, "get_moderation", "moderation_queue", "checklist_id", checklistID)
	}
	return row, nil
}

// ListModeration returns records with status, or all records when status is empty
func (ds *DataStore) ListModeration(ctx context.Context, status string) ([]ModerationRecord, error) {
	q := ds.db(ctx).Order("submitted_at")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rows []ModerationRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, dbError(err, "list_moderation", "moderation_queue", "status", status)
	}
	return rows, nil
}

// DeleteModeration removes a moderation record
func (ds *DataStore) DeleteModeration(ctx context.Context, checklistID string) error {
	res := ds.db(ctx).Where("checklist_id = ?", checklistID).Delete(&ModerationRecord{})
	if res.Error != nil {
		return dbError(res.Error, "delete_moderation", "moderation_queue", "checklist_id", checklistID)
	}
	if res.RowsAffected == 0 {
		return notFoundError("delete_moderation", "moderation_queue", "checklist_id", checklistID)
	}
	return nil
}

// SaveMiss inserts or updates a miss; a new miss gets its id assigned
func (ds *DataStore) SaveMiss(ctx context.Context, miss *Miss) error {
	if miss == nil {
		return validationError("miss is required", "miss", nil)
	}
	miss.MissedAt = miss.MissedAt.UTC()
	if err := ds.db(ctx).Save(miss).Error; err != nil {
		return dbError(err, "save_miss", "misses", "tracker_key", miss.ThreadTrackerKey)
	}
	return nil
}

// GetMissesForThread returns misses for a thread, newest first
func (ds *DataStore) GetMissesForThread(ctx context.Context, trackerKey string) ([]Miss, error) {
	var rows []Miss
	err := ds.db(ctx).
		Where("thread_tracker_key = ?", trackerKey).
		Order("missed_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, dbError(err, "get_misses", "misses", "tracker_key", trackerKey)
	}
	return rows, nil
}

// DeleteMiss removes a miss by id
func (ds *DataStore) DeleteMiss(ctx context.Context, id uint) error {
	res := ds.db(ctx).Delete(&Miss{}, id)
	if res.Error != nil {
		return dbError(res.Error, "delete_miss", "misses", "id", id)
	}
	if res.RowsAffected == 0 {
		return notFoundError("delete_miss", "misses", "id", id)
	}
	return nil
}

// closeDB closes the pool behind ds.DB
func (ds *DataStore) closeDB() error {
	if ds.DB == nil {
		return validationError("database connection is not initialized", "db", nil)
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "close", "")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close", "")
	}
	return nil
}

// migrate creates or updates every table
func (ds *DataStore) migrate(dbType string) error {
	if err := ds.DB.AutoMigrate(allModels()...); err != nil {
		return dbError(err, "auto_migrate", "", "db_type", dbType)
	}
	ds.moduleLogger().Debug("database schema migrated", logger.String("db_type", dbType))
	return nil
}
