package cache

import (
	"container/list"
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const bytesPerGb = 1024 * 1024 * 1024

// ErrCloneFailed is returned to requests that waited on a clone which failed
var ErrCloneFailed = errors.New("repository could not be cloned")

// ErrCachePinned is returned when only never-evict repositories are left but
// the disk is still too full
var ErrCachePinned = errors.New("disk space completely occupied by never evict repositories")

// GitRepoLRUCache is a Least Recently Used (LRU) "like" cache of bare git
// clones, implemented with a doubly-linked-list and hashmap.
//
// Instead of a fixed capacity it evicts by free disk: before a new clone is
// written, the least recently used clones are removed from disk until the
// cache directory has more than minFreeDiskGb of free space again.
//
// Both "Get()" and "Put()" return the element in a locked state, ready for
// processing. Callers must ALWAYS call "element.Done()" once they are
// finished so the clone can be fetched into or evicted again.
type GitRepoLRUCache struct {
	// lock guards the list and map only. Elements have their own lock.
	lock sync.Mutex

	minFreeDiskGb uint64

	// dir is the directory clones are stored in
	dir string

	dll *list.List
	hm  map[string]*list.Element

	// neverEvictRepos are keys that are never removed to free space
	neverEvictRepos map[string]bool

	// freeBytes reports the free space of dir
	freeBytes func(dir string) (uint64, error)

	logger *zap.SugaredLogger
}

// NewGitRepoLRUCache returns a cache storing clones in dir. It fails if dir
// does not exist or already has less than minFreeGbs of free space.
func NewGitRepoLRUCache(dir string, minFreeGbs uint64, neverEvictRepos []string, logger *zap.SugaredLogger) (*GitRepoLRUCache, error) {
	path := filepath.Clean(dir)
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, "error checking provided cache directory")
	}

	free, err := statfsFreeBytes(path)
	if err != nil {
		return nil, err
	}

	if minFree := minFreeGbs * bytesPerGb; free <= minFree {
		return nil, errors.Newf("minimum free disk space: %d exceeds actual available disk space: %d", minFree, free)
	}

	pinned := make(map[string]bool, len(neverEvictRepos))
	for _, key := range neverEvictRepos {
		pinned[key] = true
	}

	return &GitRepoLRUCache{
		minFreeDiskGb:   minFreeGbs,
		dir:             path,
		dll:             list.New(),
		hm:              make(map[string]*list.Element),
		neverEvictRepos: pinned,
		freeBytes:       statfsFreeBytes,
		logger:          logger,
	}, nil
}

// Get returns the locked element for key and marks it most recently used,
// or nil on a cache miss
func (c *GitRepoLRUCache) Get(key string) *GitRepoFilePath {
	c.lock.Lock()
	defer c.lock.Unlock()

	element, ok := c.hm[key]
	if !ok {
		return nil
	}

	c.dll.MoveToFront(element)
	repo := element.Value.(*GitRepoFilePath)
	repo.lock.Lock()
	if repo.failed {
		repo.lock.Unlock()
		return nil
	}
	return repo
}

// Put returns the locked element for key, cloning the repository key points
// to when it is not cached yet. A clone left on disk by an earlier process is
// reused if it can still be opened.
//
// The cache lock is released before cloning so other repositories can be
// served while a large clone is running. The new element stays locked the
// whole time and therefore cannot be evicted.
func (c *GitRepoLRUCache) Put(ctx context.Context, key string) (*GitRepoFilePath, error) {
	c.lock.Lock()

	if element, ok := c.hm[key]; ok {
		c.dll.MoveToFront(element)
		repo := element.Value.(*GitRepoFilePath)
		repo.lock.Lock()
		c.lock.Unlock()
		if repo.failed {
			repo.lock.Unlock()
			return nil, ErrCloneFailed
		}
		return repo, nil
	}

	if err := c.tryEvict(); err != nil {
		c.lock.Unlock()
		return nil, errors.Wrap(err, "could not evict repos from cache")
	}

	repo := &GitRepoFilePath{
		key:  key,
		path: filepath.Join(c.dir, pathKey(key)),
	}
	repo.lock.Lock()
	c.hm[key] = c.dll.PushFront(repo)

	c.lock.Unlock()

	if _, err := os.Stat(repo.path); err == nil {
		if _, err := git.PlainOpen(repo.path); err == nil {
			c.logger.Debugf("Reusing clone found on disk: %s", repo.path)
			return repo, nil
		}
		if err := os.RemoveAll(repo.path); err != nil {
			return nil, c.fail(repo, errors.Wrap(err, "could not remove invalid clone"))
		}
	}

	if err := os.MkdirAll(repo.path, os.ModePerm); err != nil {
		return nil, c.fail(repo, errors.Wrap(err, "could not create directory in cache"))
	}

	_, err := git.PlainCloneContext(ctx, repo.path, true, &git.CloneOptions{
		URL:  key,
		Tags: git.AllTags,
	})
	if err != nil {
		os.RemoveAll(repo.path)
		return nil, c.fail(repo, errors.Wrapf(err, "could not clone %s into cache directory", key))
	}

	return repo, nil
}

// Len returns the number of cached repositories
func (c *GitRepoLRUCache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.dll.Len()
}

// fail marks a locked element as failed, unlocks it and drops it from the
// cache. The element is unlocked before the cache lock is taken since Get and
// Put wait for element locks while holding the cache lock.
func (c *GitRepoLRUCache) fail(repo *GitRepoFilePath, err error) error {
	repo.failed = true
	repo.lock.Unlock()

	c.lock.Lock()
	defer c.lock.Unlock()

	if element, ok := c.hm[repo.key]; ok && element.Value == repo {
		c.dll.Remove(element)
		delete(c.hm, repo.key)
	}
	return err
}

// tryEvict removes least recently used clones until there is more than
// minFreeDiskGb of free space. The caller must hold the cache lock.
func (c *GitRepoLRUCache) tryEvict() error {
	minFreeBytes := c.minFreeDiskGb * bytesPerGb

	for {
		free, err := c.freeBytes(c.dir)
		if err != nil {
			return err
		}
		if free > minFreeBytes || c.dll.Len() == 0 {
			return nil
		}

		lruNode := c.dll.Back()
		for lruNode != nil && c.neverEvictRepos[lruNode.Value.(*GitRepoFilePath).key] {
			lruNode = lruNode.Prev()
		}
		if lruNode == nil {
			return ErrCachePinned
		}

		repo := lruNode.Value.(*GitRepoFilePath)

		// Wait for whoever is reading the clone to finish
		repo.lock.Lock()
		c.logger.Infof("Evicting %s from the repository cache", repo.key)
		err = os.RemoveAll(repo.path)
		delete(c.hm, repo.key)
		c.dll.Remove(lruNode)
		repo.lock.Unlock()

		if err != nil {
			return errors.Wrapf(err, "could not remove %s", repo.path)
		}
	}
}

func statfsFreeBytes(dir string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, errors.Wrap(err, "could not calculate disk space using statfs")
	}

	// Available blocks * size of the blocks on the system
	return stat.Bavail * uint64(stat.Bsize), nil
}
