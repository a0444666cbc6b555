// model.go: gorm models for the checklists, threads, regions, moderation and misses tables
package datastore

import "time"

// Checklist is one persisted sighting, keyed by the upstream checklist id.
type Checklist struct {
	ChecklistID      string    `gorm:"primaryKey;size:64"`
	Species          string    `gorm:"size:255;index:idx_checklists_species_region"`
	Region           string    `gorm:"size:32;index:idx_checklists_species_region"`
	Location         string    `gorm:"size:255"`
	Observer         string    `gorm:"size:255"`
	ObsDatetime      time.Time `gorm:"index"`
	LocalTZ          string    `gorm:"column:local_tz;size:64"`
	Lat              *float64
	Lon              *float64
	HasMedia         bool
	Counted          bool
	ThreadTrackerKey *string `gorm:"size:320;index"`
}

// TableName overrides the gorm default
func (Checklist) TableName() string { return "checklists" }

// Thread is a tracked species-in-region entity.
type Thread struct {
	TrackerKey   string `gorm:"primaryKey;size:320"`
	ThreadID     string `gorm:"size:512"` // destination id
	Type         string `gorm:"size:16"`
	LastSeenAt   *time.Time
	StatusBucket string `gorm:"size:32"`
}

// TableName overrides the gorm default
func (Thread) TableName() string { return "threads" }

// Region is a directory entry, e.g. a county.
type Region struct {
	Code string `gorm:"primaryKey;size:32"`
	Name string `gorm:"size:255;index"`
	Type string `gorm:"size:32"`
}

// TableName overrides the gorm default
func (Region) TableName() string { return "regions" }

// ModerationRecord is a user-submitted sighting awaiting review.
type ModerationRecord struct {
	ChecklistID       string `gorm:"primaryKey;size:64"`
	Species           string `gorm:"size:255"`
	Region            string `gorm:"size:32"`
	SubmittedBy       string `gorm:"size:255"`
	SubmittedAt       time.Time
	Status            string `gorm:"size:32;index"`
	ModeratedBy       string `gorm:"size:255"`
	ModeratedAt       *time.Time
	MergeTargetThread string `gorm:"size:320"`
}

// TableName overrides the gorm default
func (ModerationRecord) TableName() string { return "moderation_queue" }

// Miss records a user who went looking for a tracked bird and did not find it.
type Miss struct {
	ID               uint   `gorm:"primaryKey"`
	Observer         string `gorm:"size:255"`
	Region           string `gorm:"size:32"`
	Species          string `gorm:"size:255"`
	MissedAt         time.Time
	ThreadTrackerKey string `gorm:"size:320;index"`
	RelatedChecklist string `gorm:"size:64"`
}

// TableName overrides the gorm default
func (Miss) TableName() string { return "misses" }

// allModels lists every model for auto-migration
func allModels() []any {
	return []any{&Checklist{}, &Thread{}, &Region{}, &ModerationRecord{}, &Miss{}}
}
