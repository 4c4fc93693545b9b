package providers

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"
)

// LocalGitRepoProvider opens repositories that are already checked out.
// FetchRepo takes a path instead of a URL and never touches the network.
type LocalGitRepoProvider struct {
	Logger *zap.SugaredLogger
}

// NewLocalGitRepoProvider returns a new LocalGitRepoProvider
func NewLocalGitRepoProvider(logger *zap.SugaredLogger) GitRepoProvider {
	return &LocalGitRepoProvider{
		Logger: logger,
	}
}

// FetchRepo opens the repository containing path, walking up parent
// directories to find it
func (lp *LocalGitRepoProvider) FetchRepo(_ context.Context, path string) (GitRepo, error) {
	lp.Logger.Debugf("Opening local repo: %s", path)

	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, errors.Wrapf(err, "could not open git repository at %s", path)
	}

	return &InMemoryGitRepo{
		url:  path,
		repo: repo,
	}, nil
}
