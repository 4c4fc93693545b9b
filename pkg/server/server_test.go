package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/open-sauced/pizza/release/pkg/config"
	"github.com/open-sauced/pizza/release/pkg/database"
	"github.com/open-sauced/pizza/release/pkg/forge"
	"github.com/open-sauced/pizza/release/pkg/providers"
	"github.com/open-sauced/pizza/release/pkg/release"
	"github.com/open-sauced/pizza/release/pkg/semver"
)

const repoURL = "https://github.com/open-sauced/pizza"

type fakeRepo struct {
	repo *git.Repository
	done int
}

func (f *fakeRepo) GetRepo() *git.Repository { return f.repo }
func (f *fakeRepo) Done()                    { f.done++ }

type fakeProvider struct {
	repo *fakeRepo
	err  error
	urls []string
}

func (f *fakeProvider) FetchRepo(_ context.Context, url string) (providers.GitRepo, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	return f.repo, nil
}

type fakeStore struct {
	lock    sync.Mutex
	reports map[string]*release.Report
}

func (f *fakeStore) SaveReport(_ context.Context, gitURL string, report *release.Report) (int, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.reports[gitURL] = report
	return len(f.reports), nil
}

func (f *fakeStore) LatestReport(_ context.Context, gitURL string) (*release.Report, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	report, ok := f.reports[gitURL]
	if !ok {
		return nil, errors.Mark(errors.New("missing"), database.ErrReportNotFound)
	}
	return report, nil
}

func newGitRepo(t *testing.T) *git.Repository {
	t.Helper()

	repo, err := git.Init(memory.NewStorage(), memfs.New())
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	when := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, message := range []string{"Initial commit", "Some Feature (#1234)"} {
		require.NoError(t, util.WriteFile(wt.Filesystem, "file.txt", []byte(message), 0o644))
		_, err = wt.Add("file.txt")
		require.NoError(t, err)

		hash, err := wt.Commit(message, &git.CommitOptions{
			Author: &object.Signature{Name: "Adam Dierkens", Email: "adam@dierkens.com", When: when.Add(time.Duration(i) * time.Hour)},
		})
		require.NoError(t, err)

		if i == 0 {
			_, err = repo.CreateTag("v1.2.3", hash, nil)
			require.NoError(t, err)
		}
	}

	return repo
}

func newTestServer(t *testing.T, provider *fakeProvider, store ReportStore) *ReleaseServer {
	t.Helper()

	cfg, err := config.Load(config.LoadOptions{Path: writeConfig(t), Logger: zaptest.NewLogger(t).Sugar()})
	require.NoError(t, err)

	host := forge.NewMemory()
	host.PullRequests[1234] = forge.ChangeRequest{Number: 1234, Labels: []string{"minor"}, Merged: true}

	newHost := func(owner, repo string) (forge.Host, error) {
		assert.Equal(t, "open-sauced", owner)
		assert.Equal(t, "pizza", repo)
		return host, nil
	}

	return NewReleaseServer(store, provider, newHost, cfg, zaptest.NewLogger(t).Sugar())
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "release.yml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))
	return path
}

func postNotes(t *testing.T, s *ReleaseServer, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/notes", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNotes(t *testing.T) {
	provider := &fakeProvider{repo: &fakeRepo{repo: newGitRepo(t)}}
	store := &fakeStore{reports: map[string]*release.Report{}}
	s := newTestServer(t, provider, store)

	rec := postNotes(t, s, `{"url": "https://github.com/open-sauced/pizza.git", "currentVersion": "v1.2.3"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var report release.Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))

	assert.Equal(t, "open-sauced/pizza", report.Repository)
	assert.Equal(t, "v1.2.3", report.From)
	assert.Equal(t, "HEAD", report.To)
	assert.Equal(t, semver.Minor, report.Bump)
	assert.Equal(t, "v1.3.0", report.NextVersion)
	assert.Equal(t, []string{"Minor Change"}, report.Changelog.Sections)
	assert.Contains(t, report.Changelog.Markdown, "[#1234](https://github.com/open-sauced/pizza/pull/1234)")

	assert.Equal(t, []string{repoURL}, provider.urls)
	assert.Equal(t, 1, provider.repo.done)
	assert.Contains(t, store.reports, repoURL)
}

func TestNotesValidation(t *testing.T) {
	s := newTestServer(t, &fakeProvider{}, nil)

	rec := postNotes(t, s, `{"url": "https://gitlab.com/open-sauced/pizza", "from": "v1..v2", "currentVersion": "latest"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body validationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Contains(t, body.Errors, "url")
	assert.Contains(t, body.Errors, "from")
	assert.Contains(t, body.Errors, "currentVersion")
}

func TestNotesBadRequests(t *testing.T) {
	s := newTestServer(t, &fakeProvider{}, nil)

	rec := postNotes(t, s, `{"url":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notes", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNotesFetchFailure(t *testing.T) {
	s := newTestServer(t, &fakeProvider{err: errors.New("authentication required")}, nil)

	rec := postNotes(t, s, `{"url": "https://github.com/open-sauced/pizza"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestNotesUnknownRevision(t *testing.T) {
	s := newTestServer(t, &fakeProvider{repo: &fakeRepo{repo: newGitRepo(t)}}, nil)

	rec := postNotes(t, s, `{"url": "https://github.com/open-sauced/pizza", "from": "v9.9.9"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestLatest(t *testing.T) {
	store := &fakeStore{reports: map[string]*release.Report{
		repoURL: {Repository: "open-sauced/pizza", Bump: semver.Patch},
	}}
	s := newTestServer(t, &fakeProvider{}, store)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notes/latest?url="+repoURL+"/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report release.Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, semver.Patch, report.Bump)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notes/latest?url=https://github.com/open-sauced/insights", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLatestWithoutStore(t *testing.T) {
	s := newTestServer(t, &fakeProvider{}, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notes/latest?url="+repoURL, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPingAndMetrics(t *testing.T) {
	s := newTestServer(t, &fakeProvider{}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/ping")
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(body))

	res, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}
