// package reconcile attaches merged change requests to the commits of a
// release range. Commits that reference their change request in the subject
// are looked up directly. Commits that lost the reference through a rebase or
// squash merge are recovered with one batched hash lookup followed by a
// per-commit search.
//
// Every lookup failure is absorbed at the commit it belongs to: the commit
// stays unresolved and the rest of the range is still reconciled.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/open-sauced/pizza/release/pkg/forge"
	"github.com/open-sauced/pizza/release/pkg/gitlog"
	"github.com/open-sauced/pizza/release/pkg/insights"
	"github.com/open-sauced/pizza/release/pkg/metrics"
)

// DefaultConcurrency bounds the number of in-flight lookups
const DefaultConcurrency = 8

// Method tells how a commit was matched to its change request
type Method string

const (
	MethodNone       Method = ""
	MethodDirect     Method = "direct"
	MethodCommitList Method = "commit-list"
	MethodBatch      Method = "batch"
	MethodSearch     Method = "search"
)

// Range is the log range being released
type Range struct {
	From string
	To   string
}

// Result is the outcome of reconciling one commit. It only lives for the
// duration of one report.
type Result struct {
	Hash   string `json:"hash" yaml:"hash"`
	Number int    `json:"number,omitempty" yaml:"number,omitempty"`
	Method Method `json:"method,omitempty" yaml:"method,omitempty"`

	// Confirmed is set when the change request's commit list contains the
	// hash. A rebased commit is never confirmed and is still matched.
	Confirmed bool `json:"confirmed" yaml:"confirmed"`
}

// Resolved reports whether a change request was found
func (r Result) Resolved() bool {
	return r.Method != MethodNone
}

// Engine reconciles commits against a forge
type Engine struct {
	Host   forge.Host
	Source gitlog.Source
	Owner  string
	Repo   string

	// Concurrency bounds in-flight lookups. Values below 1 use DefaultConcurrency.
	Concurrency int

	// ConfirmMatches fetches the commit list of every recovered change
	// request to fill Result.Confirmed
	ConfirmMatches bool

	logger *zap.SugaredLogger
}

// NewEngine returns an Engine for owner/repo
func NewEngine(host forge.Host, source gitlog.Source, owner, repo string, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		Host:        host,
		Source:      source,
		Owner:       owner,
		Repo:        repo,
		Concurrency: DefaultConcurrency,
		logger:      logger,
	}
}

// Reconcile returns enriched copies of commits in the same order, and one
// Result per commit. The input slice is not modified.
func (e *Engine) Reconcile(ctx context.Context, commits []insights.Commit, r Range) ([]insights.Commit, []Result) {
	out := make([]insights.Commit, len(commits))
	results := make([]Result, len(commits))
	for i := range commits {
		out[i] = commits[i].Clone()
		results[i] = Result{Hash: commits[i].Hash}
	}

	e.logger.Debugf("Reconciling %d commits in range %s..%s", len(out), r.From, r.To)

	prCommits := e.resolveDirect(ctx, out, results)
	e.attributeCommitLists(out, results, prCommits)

	if unresolved := unresolvedIndexes(results); len(unresolved) > 0 {
		cutoff := e.cutoff(ctx)
		e.resolveBatch(ctx, out, results, unresolved, cutoff)
		e.resolveSearch(ctx, out, results, unresolvedIndexes(results), cutoff)
		if e.ConfirmMatches {
			e.confirm(ctx, results)
		}
	}

	e.enrichAuthors(ctx, out)

	return out, results
}

func (e *Engine) group() *errgroup.Group {
	g := &errgroup.Group{}
	limit := e.Concurrency
	if limit < 1 {
		limit = DefaultConcurrency
	}
	g.SetLimit(limit)
	return g
}

// resolveDirect fetches every change request referenced in a subject and
// returns the commit lists of those change requests by commit index
func (e *Engine) resolveDirect(ctx context.Context, out []insights.Commit, results []Result) [][]forge.CommitRef {
	prCommits := make([][]forge.CommitRef, len(out))
	g := e.group()

	for i := range out {
		if out[i].PullRequest == nil {
			continue
		}

		number := out[i].PullRequest.Number
		results[i].Number = number
		results[i].Method = MethodDirect

		g.Go(func() error {
			cr, err := e.Host.GetChangeRequest(ctx, number)
			metrics.ObserveLookup(metrics.KindChangeRequest, err)
			if err != nil {
				e.logger.Warnf("Could not fetch pull request #%d for commit %s: %v", number, out[i].ShortHash(), err)
			} else {
				apply(&out[i], cr)
			}

			refs, err := e.Host.GetCommitsForChangeRequest(ctx, number)
			metrics.ObserveLookup(metrics.KindCommitList, err)
			if err != nil {
				e.logger.Warnf("Could not list commits of pull request #%d: %v", number, err)
				return nil
			}
			prCommits[i] = refs
			return nil
		})
	}

	_ = g.Wait()
	return prCommits
}

// attributeCommitLists assigns in-range commits without their own reference
// to the directly referenced change request whose commit list contains them
func (e *Engine) attributeCommitLists(out []insights.Commit, results []Result, prCommits [][]forge.CommitRef) {
	byHash := map[string]int{}
	for i := range out {
		if !results[i].Resolved() {
			byHash[out[i].Hash] = i
		}
	}
	if len(byHash) == 0 {
		return
	}

	for i, refs := range prCommits {
		for _, ref := range refs {
			j, ok := byHash[ref.Hash]
			if !ok || results[j].Resolved() {
				continue
			}

			pr := *out[i].PullRequest
			out[j].PullRequest = &pr
			out[j].AddLabels(out[i].Labels...)
			results[j].Number = pr.Number
			results[j].Method = MethodCommitList
			results[j].Confirmed = true

			e.logger.Debugf("Commit %s belongs to pull request #%d", out[j].ShortHash(), pr.Number)
		}
	}
}

// cutoff is the publish time of the latest release, else the date of the
// first commit of the project, else the zero time which disables the filter
func (e *Engine) cutoff(ctx context.Context) time.Time {
	info, err := e.Host.GetLatestReleaseInfo(ctx)
	metrics.ObserveLookup(metrics.KindRelease, err)
	if err == nil && !info.PublishedAt.IsZero() {
		return info.PublishedAt
	}
	if err != nil {
		e.logger.Debugf("No latest release, falling back to the first commit: %v", err)
	}

	if e.Source == nil {
		return time.Time{}
	}

	first, err := e.Source.FirstCommit(ctx)
	if err != nil {
		e.logger.Warnf("Could not find the first commit: %v", err)
		return time.Time{}
	}

	date, err := e.Host.GetCommitDate(ctx, first)
	if err != nil {
		e.logger.Warnf("Could not get the date of the first commit %s: %v", first, err)
		return time.Time{}
	}
	return date
}

func (e *Engine) resolveBatch(ctx context.Context, out []insights.Commit, results []Result, unresolved []int, cutoff time.Time) {
	hashes := make([]string, 0, len(unresolved))
	for _, i := range unresolved {
		hashes = append(hashes, out[i].Hash)
	}

	matches, err := e.Host.BatchLookupByHash(ctx, hashes, cutoff)
	metrics.ObserveLookup(metrics.KindBatch, err)
	if err != nil {
		e.logger.Warnf("Batch lookup of %d commits failed, falling back to search: %v", len(hashes), err)
		return
	}

	for _, i := range unresolved {
		for _, cr := range matches[out[i].Hash] {
			// Closed without merging
			if !cr.Merged {
				continue
			}

			apply(&out[i], &cr)
			results[i].Number = cr.Number
			results[i].Method = MethodBatch
			results[i].Confirmed = cr.MergedRef == out[i].Hash
			break
		}
	}
}

func (e *Engine) resolveSearch(ctx context.Context, out []insights.Commit, results []Result, unresolved []int, cutoff time.Time) {
	g := e.group()

	for _, i := range unresolved {
		g.Go(func() error {
			query := fmt.Sprintf("repo:%s/%s %s", e.Owner, e.Repo, out[i].Hash)

			numbers, err := e.Host.SearchMerged(ctx, query, cutoff)
			metrics.ObserveLookup(metrics.KindSearch, err)
			if err != nil {
				e.logger.Warnf("Search for commit %s failed: %v", out[i].ShortHash(), err)
				return nil
			}
			if len(numbers) == 0 {
				return nil
			}

			// Ties are left to the host's ranking
			cr, err := e.Host.GetChangeRequest(ctx, numbers[0])
			metrics.ObserveLookup(metrics.KindChangeRequest, err)
			if err != nil {
				e.logger.Warnf("Could not fetch pull request #%d for commit %s: %v", numbers[0], out[i].ShortHash(), err)
				return nil
			}
			if !cr.Merged {
				return nil
			}

			apply(&out[i], cr)
			results[i].Number = cr.Number
			results[i].Method = MethodSearch
			results[i].Confirmed = cr.MergedRef == out[i].Hash
			return nil
		})
	}

	_ = g.Wait()
}

// confirm checks commit list membership of recovered matches. The result
// never undoes a match.
func (e *Engine) confirm(ctx context.Context, results []Result) {
	g := e.group()

	for i := range results {
		if results[i].Confirmed || (results[i].Method != MethodBatch && results[i].Method != MethodSearch) {
			continue
		}

		g.Go(func() error {
			refs, err := e.Host.GetCommitsForChangeRequest(ctx, results[i].Number)
			metrics.ObserveLookup(metrics.KindCommitList, err)
			if err != nil {
				e.logger.Warnf("Could not confirm pull request #%d: %v", results[i].Number, err)
				return nil
			}
			for _, ref := range refs {
				if ref.Hash == results[i].Hash {
					results[i].Confirmed = true
					break
				}
			}
			if !results[i].Confirmed {
				e.logger.Debugf("Commit %s is not in the commit list of #%d, assuming a rebase", results[i].Hash, results[i].Number)
			}
			return nil
		})
	}

	_ = g.Wait()
}

// enrichAuthors folds the change request author's profile into every
// resolved commit. Lookup failures keep the raw git authors.
func (e *Engine) enrichAuthors(ctx context.Context, out []insights.Commit) {
	g := e.group()

	for i := range out {
		if out[i].PullRequest == nil {
			continue
		}

		g.Go(func() error {
			commit := &out[i]

			if username := commit.PullRequest.Author; username != "" {
				profile, err := e.Host.GetUserByUsername(ctx, username)
				metrics.ObserveLookup(metrics.KindUser, err)
				if err != nil {
					e.logger.Warnf("Could not look up user %s for commit %s: %v", username, commit.ShortHash(), err)
				}
				if profile != nil {
					commit.MergeProfile(toAuthor(profile))
					return nil
				}
			}

			var emails []string
			for _, author := range commit.Authors {
				if author.Email != "" && author.Username == "" {
					emails = append(emails, author.Email)
				}
			}

			for _, email := range emails {
				profile, err := e.Host.GetUserByEmail(ctx, email)
				metrics.ObserveLookup(metrics.KindUser, err)
				if err != nil {
					e.logger.Warnf("Could not look up user by email for commit %s: %v", commit.ShortHash(), err)
					continue
				}
				if profile != nil {
					commit.MergeProfile(toAuthor(profile))
				}
			}
			return nil
		})
	}

	_ = g.Wait()
}

func apply(commit *insights.Commit, cr *forge.ChangeRequest) {
	pr := insights.PullRequest{Number: cr.Number}
	if commit.PullRequest != nil {
		pr = *commit.PullRequest
	}
	if pr.Number == 0 {
		pr.Number = cr.Number
	}
	pr.Body = cr.Body
	pr.MergedRef = cr.MergedRef
	pr.Author = cr.Author

	commit.PullRequest = &pr
	commit.AddLabels(cr.Labels...)
}

func toAuthor(profile *forge.Profile) insights.Author {
	return insights.Author{
		Name:     profile.Name,
		Email:    profile.Email,
		Username: profile.Login,
	}
}

func unresolvedIndexes(results []Result) []int {
	var idx []int
	for i := range results {
		if !results[i].Resolved() {
			idx = append(idx, i)
		}
	}
	return idx
}
