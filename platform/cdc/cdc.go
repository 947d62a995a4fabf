// Package cdc provides row-level change-data-capture transport over Redis
// Pub/Sub. Every repository write publishes a row image; listeners subscribe
// per table, optionally narrowed by a single-field equality filter. The
// filter is an optimization only, never the security boundary.
// This is part of the platform layer and contains no business logic.
package cdc

import (
	"encoding/json"
	"time"
)

// Op is the row-level operation of a change.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is one row-level change event, carrying the new and/or old row
// image as raw JSON.
type Change struct {
	Table string          `json:"table"`
	Op    Op              `json:"op"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
	At    time.Time       `json:"at"`
}

// FieldFilter is a single-field equality filter a subscription can be
// narrowed by server-side.
type FieldFilter struct {
	Field string
	Value string
}

// Channel returns the unfiltered Pub/Sub channel for a table.
func Channel(table string) string {
	return "cdc:" + table
}

// FilterChannel returns the filtered Pub/Sub channel for a table and a
// single-field equality condition.
func FilterChannel(table, field, value string) string {
	return "cdc:" + table + ":" + field + ":" + value
}
