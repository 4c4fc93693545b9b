package reconcile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/open-sauced/pizza/release/pkg/forge"
	"github.com/open-sauced/pizza/release/pkg/insights"
)

type fakeSource struct {
	first string
	err   error
}

func (f *fakeSource) GetLog(context.Context, string, string) ([]insights.RawEntry, error) {
	return nil, nil
}

func (f *fakeSource) FirstCommit(context.Context) (string, error) {
	return f.first, f.err
}

var (
	released = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	after    = released.Add(24 * time.Hour)
	before   = released.Add(-24 * time.Hour)
)

func newEngine(t *testing.T, host *forge.Memory) *Engine {
	e := NewEngine(host, &fakeSource{first: "root"}, "open-sauced", "pizza", zaptest.NewLogger(t).Sugar())
	e.Concurrency = 2
	return e
}

func direct(hash, subject string, number int) insights.Commit {
	return insights.Commit{
		Hash:        hash,
		Subject:     subject,
		AuthorName:  "Adam Dierkens",
		AuthorEmail: "adam@dierkens.com",
		Authors:     []insights.Author{{Name: "Adam Dierkens", Email: "adam@dierkens.com"}},
		PullRequest: &insights.PullRequest{Number: number},
	}
}

func bare(hash, subject string) insights.Commit {
	c := direct(hash, subject, 0)
	c.PullRequest = nil
	return c
}

func TestReconcileDirect(t *testing.T) {
	host := forge.NewMemory()
	host.PullRequests[124] = forge.ChangeRequest{
		Labels: []string{"minor"},
		Body:   "# Release Notes\n\nHello",
		Author: "adierkens",
		Merged: true,
	}

	input := []insights.Commit{direct("a", "Some Feature", 124)}
	out, results := newEngine(t, host).Reconcile(context.Background(), input, Range{})

	require.Len(t, out, 1)
	assert.Equal(t, []string{"minor"}, out[0].Labels)
	assert.Equal(t, "# Release Notes\n\nHello", out[0].PullRequest.Body)
	assert.Equal(t, "adierkens", out[0].PullRequest.Author)
	assert.Equal(t, Result{Hash: "a", Number: 124, Method: MethodDirect}, results[0])

	// Input is left untouched
	assert.Empty(t, input[0].Labels)
	assert.Equal(t, 0, host.Calls("BatchLookupByHash"))
}

func TestReconcileRebasedCommit(t *testing.T) {
	host := forge.NewMemory()
	host.LatestRelease = &forge.ReleaseInfo{TagName: "v1.0.0", PublishedAt: released}
	host.PullRequests[124] = forge.ChangeRequest{Labels: []string{"patch"}, Merged: true, MergedAt: after}
	host.PullRequests[123] = forge.ChangeRequest{
		Labels:    []string{"major"},
		MergedRef: "h",
		Merged:    true,
		MergedAt:  after,
	}
	host.HashIndex["h"] = []int{123}

	out, results := newEngine(t, host).Reconcile(context.Background(), []insights.Commit{
		direct("a", "A", 124),
		bare("h", "B"),
	}, Range{})

	require.NotNil(t, out[1].PullRequest)
	assert.Equal(t, 123, out[1].PullRequest.Number)
	assert.Equal(t, []string{"major"}, out[1].Labels)
	assert.Equal(t, MethodBatch, results[1].Method)
	assert.True(t, results[1].Confirmed)
	assert.Equal(t, 1, host.Calls("BatchLookupByHash"))
	assert.Equal(t, 0, host.Calls("SearchMerged"))
}

func TestReconcileIgnoresUnmergedAndStaleMatches(t *testing.T) {
	host := forge.NewMemory()
	host.LatestRelease = &forge.ReleaseInfo{PublishedAt: released}
	host.PullRequests[1] = forge.ChangeRequest{Labels: []string{"major"}, State: "CLOSED"}
	host.PullRequests[2] = forge.ChangeRequest{Labels: []string{"minor"}, Merged: true, MergedAt: before}
	host.HashIndex["x"] = []int{1}
	host.HashIndex["y"] = []int{2}

	out, results := newEngine(t, host).Reconcile(context.Background(), []insights.Commit{
		bare("x", "Doom Patrol enabled"),
		bare("y", "Autobots roll out!"),
	}, Range{})

	for i := range out {
		assert.Nil(t, out[i].PullRequest)
		assert.Empty(t, out[i].Labels)
		assert.False(t, results[i].Resolved())
	}
	assert.Equal(t, 2, host.Calls("SearchMerged"))
}

func TestReconcileSearchFallback(t *testing.T) {
	host := forge.NewMemory()
	host.PullRequests[7] = forge.ChangeRequest{Labels: []string{"minor"}, Merged: true, MergedRef: "other"}
	host.PullRequests[8] = forge.ChangeRequest{Labels: []string{"major"}, Merged: true}
	host.SearchResults["s1"] = []int{7, 8}
	host.PRCommits[7] = []forge.CommitRef{{Hash: "s1"}}

	e := newEngine(t, host)
	e.ConfirmMatches = true

	out, results := e.Reconcile(context.Background(), []insights.Commit{bare("s1", "Squashed")}, Range{})

	require.NotNil(t, out[0].PullRequest)
	assert.Equal(t, 7, out[0].PullRequest.Number)
	assert.Equal(t, []string{"minor"}, out[0].Labels)
	assert.Equal(t, Result{Hash: "s1", Number: 7, Method: MethodSearch, Confirmed: true}, results[0])
}

func TestReconcileRebaseDoesNotBlockMatch(t *testing.T) {
	host := forge.NewMemory()
	host.PullRequests[7] = forge.ChangeRequest{Labels: []string{"minor"}, Merged: true, MergedRef: "squashed"}
	host.SearchResults["rebased"] = []int{7}
	host.PRCommits[7] = []forge.CommitRef{{Hash: "original"}}

	e := newEngine(t, host)
	e.ConfirmMatches = true

	out, results := e.Reconcile(context.Background(), []insights.Commit{bare("rebased", "Rebased")}, Range{})

	assert.Equal(t, []string{"minor"}, out[0].Labels)
	assert.Equal(t, MethodSearch, results[0].Method)
	assert.False(t, results[0].Confirmed)
}

func TestReconcileCommitListAttribution(t *testing.T) {
	host := forge.NewMemory()
	host.PullRequests[12343] = forge.ChangeRequest{Labels: []string{"minor"}, Merged: true}
	host.PRCommits[12343] = []forge.CommitRef{{Hash: "3"}}

	out, results := newEngine(t, host).Reconcile(context.Background(), []insights.Commit{
		direct("1", "Doom", 12343),
		bare("3", "Foo Bar"),
	}, Range{})

	require.NotNil(t, out[1].PullRequest)
	assert.Equal(t, 12343, out[1].PullRequest.Number)
	assert.Equal(t, []string{"minor"}, out[1].Labels)
	assert.Equal(t, MethodCommitList, results[1].Method)
	assert.Equal(t, 0, host.Calls("BatchLookupByHash"))
}

func TestReconcileToleratesFailures(t *testing.T) {
	boom := errors.New("bah")

	host := forge.NewMemory()
	host.Errors["GetLatestReleaseInfo"] = boom
	host.Errors["GetCommitDate"] = boom
	host.Errors["BatchLookupByHash"] = boom
	host.Errors["GetChangeRequest:123"] = boom
	host.Errors["GetCommitsForChangeRequest"] = boom
	host.Errors["SearchMerged:repo:open-sauced/pizza f1"] = boom
	host.PullRequests[9] = forge.ChangeRequest{Labels: []string{"minor"}, Merged: true}
	host.SearchResults["f2"] = []int{9}

	out, results := newEngine(t, host).Reconcile(context.Background(), []insights.Commit{
		bare("f1", "First"),
		direct("f0", "Second", 123),
		bare("f2", "Third"),
	}, Range{})

	require.Len(t, out, 3)
	assert.Equal(t, []string{"f1", "f0", "f2"}, []string{out[0].Hash, out[1].Hash, out[2].Hash})

	assert.False(t, results[0].Resolved())
	assert.Nil(t, out[0].PullRequest)

	// The reference in the subject survives a failed lookup
	assert.Equal(t, MethodDirect, results[1].Method)
	assert.Equal(t, 123, out[1].PullRequest.Number)
	assert.Empty(t, out[1].Labels)

	assert.Equal(t, MethodSearch, results[2].Method)
	assert.Equal(t, []string{"minor"}, out[2].Labels)
}

func TestReconcileCutoffFallsBackToFirstCommit(t *testing.T) {
	firstCommit := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

	host := forge.NewMemory()
	host.CommitDates["root"] = firstCommit
	host.PullRequests[1] = forge.ChangeRequest{Labels: []string{"minor"}, Merged: true, MergedAt: firstCommit.Add(time.Hour)}
	host.HashIndex["x"] = []int{1}

	out, _ := newEngine(t, host).Reconcile(context.Background(), []insights.Commit{bare("x", "X")}, Range{})

	assert.Equal(t, []string{"minor"}, out[0].Labels)
	assert.Equal(t, 1, host.Calls("GetCommitDate"))
}

func TestReconcilePreservesOrder(t *testing.T) {
	host := forge.NewMemory()

	var input []insights.Commit
	for i := 1; i <= 50; i++ {
		host.PullRequests[i] = forge.ChangeRequest{Labels: []string{fmt.Sprintf("label-%d", i)}, Merged: true}
		input = append(input, direct(fmt.Sprintf("hash-%d", i), fmt.Sprintf("Commit %d", i), i))
	}

	out, results := newEngine(t, host).Reconcile(context.Background(), input, Range{})

	for i := range out {
		assert.Equal(t, input[i].Hash, out[i].Hash)
		assert.Equal(t, input[i].Hash, results[i].Hash)
		assert.Equal(t, []string{fmt.Sprintf("label-%d", i+1)}, out[i].Labels)
	}
}

func TestReconcileEnrichesAuthors(t *testing.T) {
	host := forge.NewMemory()
	host.PullRequests[1] = forge.ChangeRequest{Author: "adierkens", Merged: true}
	host.PullRequests[2] = forge.ChangeRequest{Merged: true}
	host.PullRequests[3] = forge.ChangeRequest{Author: "ghost", Merged: true}
	host.Users["adierkens"] = forge.Profile{Login: "adierkens", Name: "Adam Dierkens", Email: "adam@dierkens.com"}
	host.Errors["GetUserByEmail"] = errors.New("rate limited")

	out, _ := newEngine(t, host).Reconcile(context.Background(), []insights.Commit{
		direct("1", "By username", 1),
		direct("2", "No author on the pull request", 2),
		direct("3", "Unknown user", 3),
		bare("4", "Not resolved"),
	}, Range{})

	assert.Equal(t, []insights.Author{{Name: "Adam Dierkens", Email: "adam@dierkens.com", Username: "adierkens"}}, out[0].Authors)

	// Failed lookups keep the raw git author
	assert.Equal(t, []insights.Author{{Name: "Adam Dierkens", Email: "adam@dierkens.com"}}, out[1].Authors)
	assert.Equal(t, []insights.Author{{Name: "Adam Dierkens", Email: "adam@dierkens.com"}}, out[2].Authors)
	assert.Equal(t, []insights.Author{{Name: "Adam Dierkens", Email: "adam@dierkens.com"}}, out[3].Authors)
}

func TestReconcileEnrichesAuthorsByEmail(t *testing.T) {
	host := forge.NewMemory()
	host.PullRequests[1] = forge.ChangeRequest{Merged: true}
	host.Users["adierkens"] = forge.Profile{Login: "adierkens", Name: "Adam", Email: "adam@dierkens.com"}

	out, _ := newEngine(t, host).Reconcile(context.Background(), []insights.Commit{direct("1", "By email", 1)}, Range{})

	assert.Equal(t, []insights.Author{{Name: "Adam Dierkens", Email: "adam@dierkens.com", Username: "adierkens"}}, out[0].Authors)
}
