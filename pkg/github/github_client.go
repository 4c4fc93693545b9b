package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/go-github/v54/github"
	"go.uber.org/zap"

	"github.com/open-sauced/pizza/release/pkg/forge"
)

// searchDateLayout is the date format used by the search "merged:" qualifier
const searchDateLayout = "2006-01-02"

// GithubClient is a forge.Host and forge.LabelManager scoped to a single
// repository on GitHub
type GithubClient struct {
	client *github.Client
	owner  string
	repo   string
	logger *zap.SugaredLogger

	// graphqlURL is resolved against the client's BaseURL
	graphqlURL string
}

// NewTokenClient returns a GithubClient authenticated with a personal access token
func NewTokenClient(token, owner, repo string, logger *zap.SugaredLogger) *GithubClient {
	ctx := context.Background()
	s := &GithubClient{
		client:     github.NewTokenClient(ctx, token),
		owner:      owner,
		repo:       repo,
		logger:     logger,
		graphqlURL: "graphql",
	}
	return s
}

// NewClient returns a GithubClient that sends requests through httpClient
func NewClient(httpClient *http.Client, owner, repo string, logger *zap.SugaredLogger) *GithubClient {
	s := &GithubClient{
		client:     github.NewClient(httpClient),
		owner:      owner,
		repo:       repo,
		logger:     logger,
		graphqlURL: "graphql",
	}
	return s
}

// WithBaseURL points the client at a different API root, e.g. a GitHub
// Enterprise instance. A missing trailing slash is added. Enterprise REST
// roots end in /api/v3/ while GraphQL is served from /api/graphql.
func (s *GithubClient) WithBaseURL(baseURL string) (*GithubClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid api url %q", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	s.client.BaseURL = u
	s.graphqlURL = graphqlURLFor(u)
	return s, nil
}

// graphqlURLFor returns the GraphQL endpoint that belongs to a REST root
func graphqlURLFor(restURL *url.URL) string {
	if !strings.HasSuffix(restURL.Path, "/api/v3/") {
		return "graphql"
	}

	u := *restURL
	u.Path = strings.TrimSuffix(u.Path, "v3/") + "graphql"
	return u.String()
}

// GetChangeRequest fetches a single pull request
func (s *GithubClient) GetChangeRequest(ctx context.Context, number int) (*forge.ChangeRequest, error) {
	pr, _, err := s.client.PullRequests.Get(ctx, s.owner, s.repo, number)
	if err != nil {
		return nil, wrapResponseError(err, "could not get pull request #%d", number)
	}

	cr := &forge.ChangeRequest{
		Number:    pr.GetNumber(),
		Body:      pr.GetBody(),
		Author:    pr.GetUser().GetLogin(),
		MergedRef: pr.GetMergeCommitSHA(),
		Merged:    pr.GetMerged() || !pr.GetMergedAt().IsZero(),
		MergedAt:  pr.GetMergedAt().Time,
		State:     strings.ToUpper(pr.GetState()),
	}
	for _, label := range pr.Labels {
		cr.Labels = append(cr.Labels, label.GetName())
	}

	return cr, nil
}

// GetCommitsForChangeRequest lists every commit of a pull request
func (s *GithubClient) GetCommitsForChangeRequest(ctx context.Context, number int) ([]forge.CommitRef, error) {
	opt := &github.ListOptions{PerPage: 100}

	// get all pages of results
	var refs []forge.CommitRef
	for {
		commits, resp, err := s.client.PullRequests.ListCommits(ctx, s.owner, s.repo, number, opt)
		if err != nil {
			return refs, wrapResponseError(err, "could not list commits of pull request #%d", number)
		}
		for _, commit := range commits {
			refs = append(refs, forge.CommitRef{
				Hash:   commit.GetSHA(),
				Author: commit.GetAuthor().GetLogin(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}

	return refs, nil
}

// SearchMerged runs an issue search for merged pull requests. Results keep
// GitHub's default ranking.
func (s *GithubClient) SearchMerged(ctx context.Context, query string, since time.Time) ([]int, error) {
	q := query + " is:pr is:merged"
	if !since.IsZero() {
		q += " merged:>=" + since.UTC().Format(searchDateLayout)
	}

	result, _, err := s.client.Search.Issues(ctx, q, &github.SearchOptions{
		ListOptions: github.ListOptions{PerPage: 10},
	})
	if err != nil {
		return nil, wrapResponseError(err, "could not search %q", q)
	}

	numbers := make([]int, 0, len(result.Issues))
	for _, issue := range result.Issues {
		numbers = append(numbers, issue.GetNumber())
	}
	return numbers, nil
}

type graphqlRequest struct {
	Query string `json:"query"`
}

type graphqlResponse struct {
	Data   map[string]searchConnection `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type searchConnection struct {
	Edges []struct {
		Node struct {
			Number   int        `json:"number"`
			State    string     `json:"state"`
			Body     string     `json:"body"`
			MergedAt *time.Time `json:"mergedAt"`
			Author   *struct {
				Login string `json:"login"`
			} `json:"author"`
			MergeCommit *struct {
				Oid string `json:"oid"`
			} `json:"mergeCommit"`
			Labels *struct {
				Edges []struct {
					Node struct {
						Name string `json:"name"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"labels"`
		} `json:"node"`
	} `json:"edges"`
}

// BatchLookupByHash resolves many hashes to pull requests with one GraphQL
// request, see BuildSearchQuery.
func (s *GithubClient) BatchLookupByHash(ctx context.Context, hashes []string, since time.Time) (map[string][]forge.ChangeRequest, error) {
	query, ok := BuildSearchQuery(s.owner, s.repo, hashes, since)
	if !ok {
		return map[string][]forge.ChangeRequest{}, nil
	}

	req, err := s.client.NewRequest(http.MethodPost, s.graphqlURL, &graphqlRequest{Query: query})
	if err != nil {
		return nil, errors.Wrap(err, "could not build graphql request")
	}

	var resp graphqlResponse
	if _, err := s.client.Do(ctx, req, &resp); err != nil {
		return nil, wrapResponseError(err, "could not look up %d commits", len(hashes))
	}
	if len(resp.Errors) > 0 && len(resp.Data) == 0 {
		return nil, errors.Newf("graphql lookup failed: %s", resp.Errors[0].Message)
	}

	out := make(map[string][]forge.ChangeRequest, len(resp.Data))
	for alias, conn := range resp.Data {
		hash := strings.TrimPrefix(alias, "hash_")
		for _, edge := range conn.Edges {
			node := edge.Node
			cr := forge.ChangeRequest{
				Number: node.Number,
				Body:   node.Body,
				State:  strings.ToUpper(node.State),
				Merged: strings.EqualFold(node.State, "MERGED"),
			}
			if node.MergedAt != nil {
				cr.MergedAt = *node.MergedAt
			}
			if node.Author != nil {
				cr.Author = node.Author.Login
			}
			if node.MergeCommit != nil {
				cr.MergedRef = node.MergeCommit.Oid
			}
			if node.Labels != nil {
				for _, label := range node.Labels.Edges {
					cr.Labels = append(cr.Labels, label.Node.Name)
				}
			}
			out[hash] = append(out[hash], cr)
		}
	}

	return out, nil
}

// BuildSearchQuery builds one GraphQL document with an aliased search per
// hash. It returns false when there is nothing to look up.
func BuildSearchQuery(owner, repo string, hashes []string, since time.Time) (string, bool) {
	if len(hashes) == 0 {
		return "", false
	}

	qualifiers := fmt.Sprintf("repo:%s/%s is:pr", owner, repo)
	if !since.IsZero() {
		qualifiers += " merged:>=" + since.UTC().Format(searchDateLayout)
	}

	var b strings.Builder
	b.WriteString("{\n")
	for _, hash := range hashes {
		fmt.Fprintf(&b, "  hash_%s: search(query: %q, type: ISSUE, first: 5) {\n", hash, hash+" "+qualifiers)
		b.WriteString("    edges { node { ... on PullRequest { number state body mergedAt author { login } mergeCommit { oid } labels(first: 20) { edges { node { name } } } } } }\n")
		b.WriteString("  }\n")
	}
	b.WriteString("}")

	return b.String(), true
}

// GetLatestReleaseInfo returns the latest published release
func (s *GithubClient) GetLatestReleaseInfo(ctx context.Context) (*forge.ReleaseInfo, error) {
	release, _, err := s.client.Repositories.GetLatestRelease(ctx, s.owner, s.repo)
	if err != nil {
		return nil, wrapResponseError(err, "could not get latest release")
	}

	return &forge.ReleaseInfo{
		TagName:     release.GetTagName(),
		PublishedAt: release.GetPublishedAt().Time,
	}, nil
}

// GetCommitDate returns the author date of a commit
func (s *GithubClient) GetCommitDate(ctx context.Context, hash string) (time.Time, error) {
	commit, _, err := s.client.Repositories.GetCommit(ctx, s.owner, s.repo, hash, nil)
	if err != nil {
		return time.Time{}, wrapResponseError(err, "could not get commit %s", hash)
	}

	return commit.GetCommit().GetAuthor().GetDate().Time, nil
}

// GetUserByUsername returns nil, nil for unknown users
func (s *GithubClient) GetUserByUsername(ctx context.Context, username string) (*forge.Profile, error) {
	user, _, err := s.client.Users.Get(ctx, username)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, wrapResponseError(err, "could not get user %s", username)
	}

	return toProfile(user), nil
}

// GetUserByEmail searches users by public email and returns the first hit
func (s *GithubClient) GetUserByEmail(ctx context.Context, email string) (*forge.Profile, error) {
	result, _, err := s.client.Search.Users(ctx, email+" in:email", nil)
	if err != nil {
		return nil, wrapResponseError(err, "could not search user by email")
	}
	if len(result.Users) == 0 {
		return nil, nil
	}

	// Search results only carry the login
	return s.GetUserByUsername(ctx, result.Users[0].GetLogin())
}

// ListLabels returns every label of the repository
func (s *GithubClient) ListLabels(ctx context.Context) ([]forge.Label, error) {
	opt := &github.ListOptions{PerPage: 100}

	var labels []forge.Label
	for {
		page, resp, err := s.client.Issues.ListLabels(ctx, s.owner, s.repo, opt)
		if err != nil {
			return labels, wrapResponseError(err, "could not list labels")
		}
		for _, label := range page {
			labels = append(labels, forge.Label{
				Name:        label.GetName(),
				Description: label.GetDescription(),
				Color:       label.GetColor(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}

	return labels, nil
}

// CreateLabel adds a label to the repository
func (s *GithubClient) CreateLabel(ctx context.Context, label forge.Label) error {
	_, _, err := s.client.Issues.CreateLabel(ctx, s.owner, s.repo, toGithubLabel(label))
	if err != nil {
		return wrapResponseError(err, "could not create label %q", label.Name)
	}
	return nil
}

// UpdateLabel edits the label with the same name
func (s *GithubClient) UpdateLabel(ctx context.Context, label forge.Label) error {
	_, _, err := s.client.Issues.EditLabel(ctx, s.owner, s.repo, label.Name, toGithubLabel(label))
	if err != nil {
		return wrapResponseError(err, "could not update label %q", label.Name)
	}
	return nil
}

func toGithubLabel(label forge.Label) *github.Label {
	l := &github.Label{
		Name:        github.String(label.Name),
		Description: github.String(label.Description),
	}
	if label.Color != "" {
		l.Color = github.String(strings.TrimPrefix(label.Color, "#"))
	}
	return l
}

func toProfile(user *github.User) *forge.Profile {
	return &forge.Profile{
		Login: user.GetLogin(),
		Name:  user.GetName(),
		Email: user.GetEmail(),
	}
}

func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}

// wrapResponseError marks 404 responses with forge.ErrNotFound so callers
// can tell a missing object from a failed request
func wrapResponseError(err error, format string, args ...interface{}) error {
	if isNotFound(err) {
		err = errors.Mark(err, forge.ErrNotFound)
	}
	return errors.Wrapf(err, format, args...)
}
