// Package storage provides the repository abstraction for tag profiles.
//
// A repository persists one Profile record per user plus one TagLog per
// (user, tag). Profile writes are compare-and-swap on Profile.Version and
// are committed in the same transaction as the tag logs they produced, so a
// failed commit leaves the previous profile and logs mutually consistent.
package storage

import (
	"context"
	"errors"

	"github.com/oceanbase/tagprofile-go/pkg/tag"
)

// Predefined errors returned by repositories.
var (
	// ErrNotFound indicates that no profile exists for the user.
	ErrNotFound = errors.New("profile not found")

	// ErrVersionConflict indicates that the stored profile version differs
	// from the expected one. Nothing was written.
	ErrVersionConflict = errors.New("profile version conflict")

	// ErrCorruptLog indicates a tag log that could not be decoded. Readers
	// degrade it to an empty log and never return this error to callers.
	ErrCorruptLog = errors.New("corrupt tag log")
)

// Commit is one atomic write.
type Commit struct {
	// UserID owns every record in the commit.
	UserID string

	// Profile is written when non-nil. On success its Version is set to
	// ExpectedVersion+1.
	Profile *tag.Profile

	// ExpectedVersion is the version the stored profile must have.
	// Zero means the profile must not exist yet.
	ExpectedVersion int64

	// TagLogs replace the stored logs with the same tag name.
	TagLogs []*tag.TagLog
}

// Repository is the interface every storage backend implements.
//
// Implementations must be safe for concurrent use.
type Repository interface {
	// LoadProfile returns the stored profile, or ErrNotFound.
	LoadProfile(ctx context.Context, userID string) (*tag.Profile, error)

	// LoadTagLog returns the logs of one tag. A tag without logs, or whose
	// logs are corrupt, yields an empty TagLog and no error.
	LoadTagLog(ctx context.Context, userID, tagName string) (*tag.TagLog, error)

	// ListTagLogs returns the logs of every tag of the user, ordered by tag
	// name. Corrupt logs are returned empty.
	ListTagLogs(ctx context.Context, userID string) ([]*tag.TagLog, error)

	// Commit writes the profile and tag logs atomically.
	Commit(ctx context.Context, c *Commit) error

	// DeleteUser removes the profile and every tag log of the user.
	DeleteUser(ctx context.Context, userID string) error

	// Close releases the backend's resources.
	Close() error
}
