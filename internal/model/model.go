// Package model contains GORM model definitions shared across packages.
// All models are driver-agnostic: they work with both PostgreSQL and SQLite.
package model

import "time"

// Record is a single durable document in a named collection. The pipeline
// stores one Record per incident in the "active_incidents" collection; the
// record body is an opaque JSON document replaced whole on every write.
type Record struct {
	Collection string    `gorm:"type:text;primaryKey"`
	Key        string    `gorm:"type:text;primaryKey"`
	Data       []byte    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

// TableName keeps the table name stable across drivers.
func (Record) TableName() string { return "records" }
