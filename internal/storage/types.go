package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "memory": in-process, lost on exit
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Settings is the persisted panel state restored on the next start.
// Keep it compact and schema-stable.
type Settings struct {
	Mode     string
	Division int
	Quarter  time.Duration
	SavedAt  time.Time
}
