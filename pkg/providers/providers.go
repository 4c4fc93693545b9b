package providers

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"

	"github.com/open-sauced/pizza/release/pkg/config"
)

// Names of the providers selectable with server.git_provider
const (
	MemoryProviderName = "memory"
	CacheProviderName  = "cache"
)

// GitRepoProvider is an API for accessing git repositories.
// Different implementers of GitRepoProvider may keep repositories in memory
// or on disk.
type GitRepoProvider interface {
	// FetchRepo is a single interface to acquire a GitRepo, with its history
	// and tags up to date, based on a provided URL.
	FetchRepo(ctx context.Context, URL string) (GitRepo, error)
}

// GitRepo wraps individual git repositories with the necessary internal methods
// and structs provided by an GitRepoProvider. I.e., it allows for various
// GitRepoProviders to offer a flat API surface where individual git repos
// of different implementation may be accessed.
type GitRepo interface {
	// GetRepo returns the internal go-git git repository.
	GetRepo() *git.Repository

	// Done indicates that there is no more processing to be performed on the
	// GitRepo and any resources internal to the individual GitRepo may be
	// reaped and cleaned up.
	Done()
}

// NewProvider builds the provider named by cfg.GitProvider
func NewProvider(cfg config.ServerConfig, logger *zap.SugaredLogger) (GitRepoProvider, error) {
	switch cfg.GitProvider {
	case MemoryProviderName, "":
		logger.Info("Using in-memory git repo provider")
		return NewInMemoryGitRepoProvider(logger), nil
	case CacheProviderName:
		logger.Infof("Using cached git repo provider in %s", cfg.CacheDir)
		return NewLRUCacheGitRepoProvider(cfg.CacheDir, cfg.MinFreeDiskGB, logger, cfg.NeverEvictRepos)
	default:
		return nil, errors.Newf("unknown git provider %q, expected %q or %q", cfg.GitProvider, MemoryProviderName, CacheProviderName)
	}
}
