// package forge defines the narrow boundary between release note generation
// and the code host. Every network call made while reconciling commits goes
// through Host, which keeps the reconciliation algorithm testable with the
// in-memory implementation in this package.
package forge

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned (possibly wrapped) when the host has no such object
var ErrNotFound = errors.New("not found on forge")

// ChangeRequest is the part of a pull request the release tooling reads
type ChangeRequest struct {
	Number    int
	Labels    []string
	Body      string
	Author    string
	MergedRef string
	Merged    bool
	MergedAt  time.Time
	State     string
}

// CommitRef is one entry of a change request's commit list
type CommitRef struct {
	Hash   string
	Author string
}

// ReleaseInfo describes the most recent published release
type ReleaseInfo struct {
	TagName     string
	PublishedAt time.Time
}

// Profile is a forge user profile
type Profile struct {
	Login string
	Name  string
	Email string
}

// Label is a label as it exists on the forge
type Label struct {
	Name        string
	Description string
	Color       string
}

// Host is the set of forge capabilities used during reconciliation
type Host interface {
	// GetChangeRequest is a point lookup by number
	GetChangeRequest(ctx context.Context, number int) (*ChangeRequest, error)

	// GetCommitsForChangeRequest lists the commits of a change request
	GetCommitsForChangeRequest(ctx context.Context, number int) ([]CommitRef, error)

	// SearchMerged runs a textual search restricted to change requests merged
	// on or after since and returns their numbers in host ranking order.
	SearchMerged(ctx context.Context, query string, since time.Time) ([]int, error)

	// BatchLookupByHash asks in one request which change requests reference
	// each hash. Hashes without any match may be absent from the map.
	BatchLookupByHash(ctx context.Context, hashes []string, since time.Time) (map[string][]ChangeRequest, error)

	// GetLatestReleaseInfo fails when the repository has no releases
	GetLatestReleaseInfo(ctx context.Context) (*ReleaseInfo, error)

	GetCommitDate(ctx context.Context, hash string) (time.Time, error)

	// GetUserByUsername and GetUserByEmail return nil, nil when nobody matches
	GetUserByUsername(ctx context.Context, username string) (*Profile, error)
	GetUserByEmail(ctx context.Context, email string) (*Profile, error)
}

// LabelManager manages the repository's label set
type LabelManager interface {
	ListLabels(ctx context.Context) ([]Label, error)
	CreateLabel(ctx context.Context, label Label) error
	UpdateLabel(ctx context.Context, label Label) error
}
