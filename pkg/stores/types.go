package stores

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a journal entry does not exist.
var ErrNotFound = errors.New("not found")

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// InvocationFilter narrows ListInvocations. Zero fields match everything.
type InvocationFilter struct {
	Operation string
	Status    string
	ParentID  string
	Since     time.Time
	Limit     int
	Offset    int
}

// OperationStats summarizes the journaled invocations of one operation.
type OperationStats struct {
	Operation   string        `json:"operation"`
	Total       int64         `json:"total"`
	Succeeded   int64         `json:"succeeded"`
	Failed      int64         `json:"failed"`
	TimedOut    int64         `json:"timed_out"`
	AvgDuration time.Duration `json:"avg_duration"`
}
