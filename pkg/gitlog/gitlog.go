// package gitlog reads commit ranges out of a git repository
package gitlog

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"go.uber.org/zap"

	"github.com/open-sauced/pizza/release/pkg/insights"
)

// Source is the version control side of a release: the raw log of a range
// and the root of the history
type Source interface {
	// GetLog returns the entries reachable from to and not from from, newest
	// first. An empty from walks the whole history.
	GetLog(ctx context.Context, from, to string) ([]insights.RawEntry, error)

	// FirstCommit returns the hash of the root commit
	FirstCommit(ctx context.Context) (string, error)
}

// Collector implements Source on top of a go-git repository
type Collector struct {
	repo   *git.Repository
	logger *zap.SugaredLogger
}

// NewCollector returns a Collector reading from repo
func NewCollector(repo *git.Repository, logger *zap.SugaredLogger) *Collector {
	return &Collector{
		repo:   repo,
		logger: logger,
	}
}

// GetLog walks the history of to, skipping every commit reachable from from
func (c *Collector) GetLog(ctx context.Context, from, to string) ([]insights.RawEntry, error) {
	if to == "" {
		to = "HEAD"
	}

	toHash, err := c.resolve(to)
	if err != nil {
		return nil, err
	}

	stop := map[plumbing.Hash]bool{}
	if from != "" {
		fromHash, err := c.resolve(from)
		if err != nil {
			return nil, err
		}

		// Everything reachable from "from" is part of an older release
		fromIter, err := c.repo.Log(&git.LogOptions{From: fromHash})
		if err != nil {
			return nil, errors.Wrapf(err, "could not read log from %s", from)
		}
		defer fromIter.Close()

		err = fromIter.ForEach(func(commit *object.Commit) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			stop[commit.Hash] = true
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "could not read log from %s", from)
		}
	}

	iter, err := c.repo.Log(&git.LogOptions{From: toHash})
	if err != nil {
		return nil, errors.Wrapf(err, "could not read log from %s", to)
	}
	defer iter.Close()

	var entries []insights.RawEntry
	err = iter.ForEach(func(commit *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if stop[commit.Hash] {
			return nil
		}
		entries = append(entries, toRawEntry(commit))
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not walk log %s..%s", from, to)
	}

	c.logger.Debugf("Read %d commits in range %s..%s", len(entries), from, to)
	return entries, nil
}

// FirstCommit returns the oldest parentless commit reachable from HEAD
func (c *Collector) FirstCommit(ctx context.Context) (string, error) {
	head, err := c.repo.Head()
	if err != nil {
		return "", errors.Wrap(err, "could not resolve HEAD")
	}

	iter, err := c.repo.Log(&git.LogOptions{From: head.Hash(), Order: git.LogOrderCommitterTime})
	if err != nil {
		return "", errors.Wrap(err, "could not read log")
	}
	defer iter.Close()

	var root *object.Commit
	err = iter.ForEach(func(commit *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if commit.NumParents() == 0 {
			root = commit
		}
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "could not walk log")
	}
	if root == nil {
		return "", errors.New("repository has no root commit")
	}

	return root.Hash.String(), nil
}

// LatestTag returns the name of the newest tag reachable from to, or "" if
// there is none
func (c *Collector) LatestTag(to string) (string, error) {
	if to == "" {
		to = "HEAD"
	}

	tagged := map[plumbing.Hash]string{}
	tags, err := c.repo.Tags()
	if err != nil {
		return "", errors.Wrap(err, "could not list tags")
	}
	err = tags.ForEach(func(ref *plumbing.Reference) error {
		hash := ref.Hash()
		// Annotated tags point to a tag object rather than a commit
		if tag, err := c.repo.TagObject(hash); err == nil {
			hash = tag.Target
		}
		tagged[hash] = ref.Name().Short()
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "could not read tags")
	}
	if len(tagged) == 0 {
		return "", nil
	}

	toHash, err := c.resolve(to)
	if err != nil {
		return "", err
	}

	iter, err := c.repo.Log(&git.LogOptions{From: toHash})
	if err != nil {
		return "", errors.Wrapf(err, "could not read log from %s", to)
	}
	defer iter.Close()

	var latest string
	err = iter.ForEach(func(commit *object.Commit) error {
		if name, ok := tagged[commit.Hash]; ok {
			latest = name
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "could not walk log")
	}

	return latest, nil
}

// OriginURL returns the first URL of the "origin" remote
func (c *Collector) OriginURL() (string, error) {
	remote, err := c.repo.Remote(git.DefaultRemoteName)
	if err != nil {
		return "", errors.Wrap(err, "could not find origin remote")
	}

	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", errors.New("origin remote has no url")
	}
	return urls[0], nil
}

func (c *Collector) resolve(rev string) (plumbing.Hash, error) {
	hash, err := c.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return plumbing.ZeroHash, errors.Wrapf(err, "could not resolve revision %q", rev)
	}
	return *hash, nil
}

func toRawEntry(commit *object.Commit) insights.RawEntry {
	subject, body, _ := strings.Cut(strings.TrimSpace(commit.Message), "\n")

	return insights.RawEntry{
		Hash:        commit.Hash.String(),
		Subject:     strings.TrimSpace(subject),
		Body:        strings.TrimSpace(body),
		AuthorName:  commit.Author.Name,
		AuthorEmail: commit.Author.Email,
		Date:        commit.Author.When,
	}
}
