// Package artifact stores versioned binary work products of a session.
//
// Small payloads live inline in the metadata row. Payloads above the
// inline threshold are written to an external blob bucket first and the
// metadata row, which records the object key, is committed only after the
// write is durable. The tier is chosen once, at save time, from the size
// alone.
package artifact

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/storage"
)

// DefaultInlineThreshold is the largest payload, in bytes, kept inline.
const DefaultInlineThreshold = 64 << 10

// MaxNameLength bounds artifact names.
const MaxNameLength = 512

// Location is the storage tier of one artifact version.
type Location string

const (
	LocationInline   Location = "inline"
	LocationExternal Location = "external"
)

// Artifact describes one stored version.
type Artifact struct {
	session.Identity

	Name      string    `json:"name"`
	Version   int       `json:"version"`
	Size      int64     `json:"size"`
	Location  Location  `json:"location"`
	Key       string    `json:"key,omitempty"`
	Codec     Codec     `json:"codec,omitempty"`
	Digest    string    `json:"digest"`
	CreatedAt time.Time `json:"created_at"`
}

// SweepReport counts what a Sweep did.
type SweepReport struct {
	Scanned int
	Removed int
}

// Store persists artifacts.
type Store interface {
	// Save stores data as the next version of name and returns the version.
	// Versions start at 1 and increase by one per save.
	Save(ctx context.Context, id session.Identity, name string, data []byte) (int, error)

	// Load returns the bytes of a version. Version 0 means the latest.
	Load(ctx context.Context, id session.Identity, name string, version int) ([]byte, error)

	// Stat returns the metadata of a version. Version 0 means the latest.
	Stat(ctx context.Context, id session.Identity, name string, version int) (*Artifact, error)

	// List returns the distinct artifact names of the session, sorted.
	List(ctx context.Context, id session.Identity) ([]string, error)

	// Versions returns the stored versions of name in ascending order.
	Versions(ctx context.Context, id session.Identity, name string) ([]int, error)

	// Delete removes one version, or every version when version is 0.
	Delete(ctx context.Context, id session.Identity, name string, version int) error

	// DeleteSession removes every artifact of the session.
	DeleteSession(ctx context.Context, id session.Identity) error

	// Sweep removes external objects no metadata row references and that
	// are older than grace. A grace below MinSweepGrace is a validation
	// error.
	Sweep(ctx context.Context, grace time.Duration) (*SweepReport, error)

	// Close releases store resources.
	Close() error
}

// Options are shared by every Store implementation.
type Options struct {
	// InlineThreshold is the largest payload kept inline. Zero means
	// DefaultInlineThreshold.
	InlineThreshold int64

	// Codec compresses external payloads. Empty means CodecZstd.
	Codec Codec
}

// Normalize fills in defaults.
func (o Options) Normalize() Options {
	if o.InlineThreshold <= 0 {
		o.InlineThreshold = DefaultInlineThreshold
	}
	if o.Codec == "" {
		o.Codec = CodecZstd
	}
	return o
}

// TierFor picks the location for a payload of size bytes.
func TierFor(size, threshold int64) Location {
	if size <= threshold {
		return LocationInline
	}
	return LocationExternal
}

// ValidateName checks an artifact name.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.New("artifact name is required")
	case len(name) > MaxNameLength:
		return errors.New("artifact name is too long")
	case strings.ContainsRune(name, 0):
		return errors.New("artifact name must not contain NUL")
	}
	return nil
}

// ValidateVersion checks a version argument, where 0 selects the latest.
func ValidateVersion(version int) error {
	if version < 0 {
		return errors.New("artifact version must not be negative")
	}
	return nil
}

// Validate checks the arguments of a store operation and returns a
// validation error naming op.
func Validate(op string, id session.Identity, name string, version int) error {
	if err := storage.ValidateIdentity(op, id); err != nil {
		return err
	}
	if err := ValidateName(name); err != nil {
		return storage.Invalid(op, err)
	}
	if err := ValidateVersion(version); err != nil {
		return storage.Invalid(op, err)
	}
	return nil
}

// NotFound builds the not-found error for a name or one of its versions.
func NotFound(op, name string, version int) error {
	if version == 0 {
		return storage.NotFound(op, "artifact %s not found", name)
	}
	return storage.NotFound(op, "artifact %s version %d not found", name, version)
}
