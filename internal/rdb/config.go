package rdb

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/roach88/datakit/internal/storeerr"
)

// SecurityLevel classifies a store's at-rest protection policy. The policy
// itself is enforced by the engine; the handle only validates and records it.
type SecurityLevel int32

const (
	S1 SecurityLevel = iota + 1
	S2
	S3
	S4
)

// Valid reports whether l is one of S1..S4.
func (l SecurityLevel) Valid() bool {
	return l >= S1 && l <= S4
}

func (l SecurityLevel) String() string {
	if !l.Valid() {
		return fmt.Sprintf("SecurityLevel(%d)", int32(l))
	}
	return fmt.Sprintf("S%d", int32(l))
}

// ParseSecurityLevel maps "S1".."S4" to a SecurityLevel.
func ParseSecurityLevel(s string) (SecurityLevel, error) {
	for l := S1; l <= S4; l++ {
		if strings.EqualFold(s, l.String()) {
			return l, nil
		}
	}
	return 0, storeerr.New(storeerr.CodeInvalidConfig, "invalid security level %q", s)
}

// Config describes the store to open.
//
// Exactly one of Name and Path is set. Name is a bare file name resolved
// into the manager's database directory, which is created on demand. Path
// is an explicit location whose parent directory must already exist.
type Config struct {
	Name string
	Path string

	// Version is applied on open. Zero leaves the stored version untouched.
	Version int32

	SecurityLevel SecurityLevel
	Encrypted     bool
}

// Validate checks the config without touching the file system.
func (c Config) Validate() error {
	switch {
	case c.Name == "" && c.Path == "":
		return storeerr.New(storeerr.CodeInvalidConfig, "config needs a name or a path")
	case c.Name != "" && c.Path != "":
		return storeerr.New(storeerr.CodeInvalidConfig, "config has both name %q and path %q", c.Name, c.Path)
	case c.Name != "" && strings.ContainsAny(c.Name, `/\`):
		return storeerr.New(storeerr.CodeInvalidConfig, "name %q must be a file name without path", c.Name)
	case c.Name == "." || c.Name == "..":
		return storeerr.New(storeerr.CodeInvalidConfig, "name %q is not a file name", c.Name)
	case c.Path != "" && strings.HasSuffix(c.Path, string(filepath.Separator)):
		return storeerr.New(storeerr.CodeInvalidConfig, "path %q names a directory", c.Path)
	}
	if !c.SecurityLevel.Valid() {
		return storeerr.New(storeerr.CodeInvalidConfig, "invalid security level %d", int32(c.SecurityLevel))
	}
	return nil
}

// compatible reports whether an open store created from c can serve a
// request for other. Version differences are reconciled by an upgrade.
func (c Config) compatible(other Config) bool {
	return c.SecurityLevel == other.SecurityLevel && c.Encrypted == other.Encrypted
}
