package common

import (
	"context"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/storage/memory"
)

// ErrInvalidRepoURL marks URLs that cannot be normalized or do not name an
// owner and a repository
var ErrInvalidRepoURL = errors.New("invalid repo URL")

// IsValidGitRepo returns true if the provided git repo URL is a valid and reachable
// git repository. This is equivalent to running "git ls-remote" on the provided
// URL string. This may result in some unexpected "authentication required" or
// "repository not found" errors which is standard for git to return in these
// situations.
func IsValidGitRepo(ctx context.Context, repoURL string) (bool, error) {
	remoteConfig := &config.RemoteConfig{
		Name: "source",
		URLs: []string{
			repoURL,
		},
	}

	remote := git.NewRemote(memory.NewStorage(), remoteConfig)

	_, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return false, errors.Wrap(err, "could not list remote repository")
	}

	return true, nil
}

// NormalizeGitURL attempts to take a raw git repo URL and ensure it is normalized
// before being cloned, cached or stored
func NormalizeGitURL(repoURL string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err != nil {
		return "", errors.Mark(errors.Wrap(err, "could not parse repo URL"), ErrInvalidRepoURL)
	}

	// Check if it has a valid protocol specified (e.g., https, ssh, git)
	if parsedURL.Scheme != "git" && parsedURL.Scheme != "https" && parsedURL.Scheme != "file" {
		return "", errors.Mark(errors.Newf("repo URL missing valid protocol scheme (https, git, file): %s", repoURL), ErrInvalidRepoURL)
	}

	// Trim trailing slashes
	// Example: https://github.com/open-sauced/pizza/ to https://github.com/open-sauced/pizza
	trimmedPath := strings.TrimSuffix(parsedURL.Path, "/")

	// Remove .git suffix if present
	// Example: https://github.com/open-sauced/pizza.git to https://github.com/open-sauced/pizza
	trimmedPath = strings.TrimSuffix(trimmedPath, ".git")

	parsedURL.Path = trimmedPath

	return parsedURL.String(), nil
}

// ParseRepoSlug returns the owner and name of the repository a remote URL
// points at. Besides regular URLs it understands the scp-like form git uses
// for ssh remotes, e.g. git@github.com:open-sauced/pizza.git
func ParseRepoSlug(remoteURL string) (string, string, error) {
	path := remoteURL

	if parsedURL, err := url.Parse(remoteURL); err == nil && parsedURL.Scheme != "" && parsedURL.Host != "" {
		path = parsedURL.Path
	} else if _, after, ok := strings.Cut(remoteURL, ":"); ok && !strings.Contains(remoteURL, "://") {
		path = after
	}

	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")

	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		return "", "", errors.Mark(errors.Newf("could not find owner and repository in %q", remoteURL), ErrInvalidRepoURL)
	}

	owner, repo := parts[len(parts)-2], parts[len(parts)-1]
	if owner == "" || repo == "" {
		return "", "", errors.Mark(errors.Newf("could not find owner and repository in %q", remoteURL), ErrInvalidRepoURL)
	}

	return owner, repo, nil
}
