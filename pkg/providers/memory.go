package providers

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/storage/memory"
	"go.uber.org/zap"
)

// InMemoryGitRepoProvider implements and satisfies the GitRepoProvider
// interface
type InMemoryGitRepoProvider struct {
	Logger *zap.SugaredLogger
}

// NewInMemoryGitRepoProvider returns a new InMemoryGitRepoProvider using a
// configured logger
func NewInMemoryGitRepoProvider(logger *zap.SugaredLogger) GitRepoProvider {
	return &InMemoryGitRepoProvider{
		Logger: logger,
	}
}

// FetchRepo clones the default branch and every tag of the repository into
// memory. Nothing is kept between calls.
func (im *InMemoryGitRepoProvider) FetchRepo(ctx context.Context, url string) (GitRepo, error) {
	im.Logger.Debugf("Cloning repo into memory: %s", url)

	inMemRepo, err := git.CloneContext(ctx, memory.NewStorage(), nil, &git.CloneOptions{
		URL:          url,
		SingleBranch: true,
		Tags:         git.AllTags,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not clone in memory repo using in memory git repo provider")
	}

	return &InMemoryGitRepo{
		url:  url,
		repo: inMemRepo,
	}, nil
}

// InMemoryGitRepo satisfies and implements the GitRepo interface
type InMemoryGitRepo struct {
	url  string
	repo *git.Repository
}

// GetRepo returns the opened go-git repository
func (im *InMemoryGitRepo) GetRepo() *git.Repository {
	return im.repo
}

// Done is a no-op for the in-memory git provider since there's nothing to do
func (im *InMemoryGitRepo) Done() {}
