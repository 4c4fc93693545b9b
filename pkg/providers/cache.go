package providers

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"

	"github.com/open-sauced/pizza/release/pkg/cache"
	"github.com/open-sauced/pizza/release/pkg/common"
)

// LRUCacheGitRepoProvider is a git repository provider that uses an internal
// Least Recently Used cache on disk for loading and querying git repositories.
// LRUCacheGitRepoProvider implements and satisfies the GitRepoProvider
// interface.
type LRUCacheGitRepoProvider struct {
	logger   *zap.SugaredLogger
	LRUCache *cache.GitRepoLRUCache
}

// NewLRUCacheGitRepoProvider returns a new LRUCacheGitRepoProvider using the
// configured cache directory and sets the minimum amount of free disk for the
// cache to keep.
func NewLRUCacheGitRepoProvider(cacheDir string, minFreeDisk uint64, l *zap.SugaredLogger, neverEvictRepos []string) (GitRepoProvider, error) {
	lru, err := cache.NewGitRepoLRUCache(cacheDir, minFreeDisk, neverEvictRepos, l)
	if err != nil {
		return nil, errors.Wrap(err, "could not initialize a new LRU cache")
	}

	return &LRUCacheGitRepoProvider{
		logger:   l,
		LRUCache: lru,
	}, nil
}

// FetchRepo returns a CachedGitRepo which satisfies the GitRepo interface.
// It uses its internal LRU cache to "Get" and "Put". If a given git repo
// is not in the cache, FetchRepo checks that the remote answers before
// placing it at the top of the cache where it will also be cloned to disk.
// See GitRepoLRUCache for details.
func (lc *LRUCacheGitRepoProvider) FetchRepo(ctx context.Context, URL string) (GitRepo, error) {
	lc.logger.Debugf("Getting repo from LRU cache: %s", URL)

	repoInCache := lc.LRUCache.Get(URL)
	if repoInCache == nil {
		if _, err := common.IsValidGitRepo(ctx, URL); err != nil {
			return nil, err
		}

		lc.logger.Debugf("Cache miss. Putting to cache: %s", URL)

		var err error
		repoInCache, err = lc.LRUCache.Put(ctx, URL)
		if err != nil {
			return nil, errors.Wrap(err, "could not put to the git repo LRU cache")
		}
	}

	lc.logger.Debugf("Opening and fetching repo: %s", URL)
	repo, err := repoInCache.OpenAndFetch(ctx)
	if err != nil {
		repoInCache.Done()
		return nil, errors.Wrap(err, "could not open and fetch repo")
	}

	return &CachedGitRepo{
		url:        URL,
		cacheEntry: repoInCache,
		repo:       repo,
	}, nil
}

// CachedGitRepo implements the GitRepo interface
type CachedGitRepo struct {
	url        string
	cacheEntry *cache.GitRepoFilePath
	repo       *git.Repository
}

// GetRepo returns the opened go-git repository
func (lc *CachedGitRepo) GetRepo() *git.Repository {
	return lc.repo
}

// Done closes the cached git repository making it available for other threads
// to start operating on this git repository.
//
// It is critical that "Done()" is called when operations are completed on a
// CachedGitRepo so the lock may be released for other threads to subsequently
// operate on that cached repo.
func (lc *CachedGitRepo) Done() {
	lc.cacheEntry.Done()
}
