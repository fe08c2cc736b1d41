// Package ids generates the unique suffixes used for temp files and handle
// identifiers.
package ids

import "github.com/google/uuid"

// Generator produces unique identifiers.
type Generator interface {
	Generate() string
}

// UUIDv7 generates time-sortable UUIDv7 identifiers. Temp files created by
// one process therefore sort by creation time, which helps when inspecting
// leftovers after a crash.
//
// Thread-safety: UUIDv7 is stateless and safe for concurrent use.
type UUIDv7 struct{}

// Generate returns a new hyphenated UUIDv7. Panics if the system random
// source fails.
func (UUIDv7) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Default is the generator used when none is configured.
var Default Generator = UUIDv7{}
