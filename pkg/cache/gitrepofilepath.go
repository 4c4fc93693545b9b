package cache

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
)

// mirrorRefSpecs keep the local branches of a bare clone in step with the
// remote so HEAD and branch names resolve to the latest commits
var mirrorRefSpecs = []config.RefSpec{
	"+refs/heads/*:refs/heads/*",
	"+refs/tags/*:refs/tags/*",
}

// GitRepoFilePath is a cached bare clone: the remote URL it was cloned from
// and its location on disk.
//
// When processing is completed for an individual GitRepoFilePath, always
// call "Done" so the element can be used or evicted by other requests.
type GitRepoFilePath struct {
	// lock is held by whoever is reading or fetching the clone. It is taken
	// inside the cache package and released through Done.
	lock sync.Mutex

	// key is the remote URL of the repository
	key string

	// path is the directory of the bare clone
	path string

	// failed is set when cloning did not succeed
	failed bool
}

// Key returns the remote URL the clone was made from
func (g *GitRepoFilePath) Key() string {
	return g.key
}

// Path returns the on-disk location of the clone
func (g *GitRepoFilePath) Path() string {
	return g.path
}

// OpenAndFetch opens the clone and fetches the latest branches and tags.
// git.NoErrAlreadyUpToDate is not an error.
func (g *GitRepoFilePath) OpenAndFetch(ctx context.Context) (*git.Repository, error) {
	repo, err := git.PlainOpen(g.path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open clone at %s", g.path)
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RefSpecs: mirrorRefSpecs,
		Tags:     git.AllTags,
		Force:    true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil, errors.Wrapf(err, "could not fetch %s", g.key)
	}

	return repo, nil
}

// Done is a thin wrapper for unlocking the GitRepoFilePath's mutex.
// This should ALWAYS be called when operations and processing for this
// individual on-disk repo are completed in order to prevent a deadlock.
func (g *GitRepoFilePath) Done() {
	g.lock.Unlock()
}

// pathKey turns a remote URL into a relative directory,
// e.g. https://github.com/open-sauced/pizza to github.com/open-sauced/pizza
func pathKey(key string) string {
	if parsed, err := url.Parse(key); err == nil && parsed.Scheme != "" {
		key = parsed.Host + "/" + parsed.Path
	}

	key = strings.ReplaceAll(key, ":", "/")
	key = filepath.Clean("/" + key)
	return strings.TrimPrefix(key, "/")
}
