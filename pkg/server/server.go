// package server serves release reports over http for any repository the
// configured git provider can fetch.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/open-sauced/pizza/release/pkg/common"
	"github.com/open-sauced/pizza/release/pkg/config"
	"github.com/open-sauced/pizza/release/pkg/database"
	"github.com/open-sauced/pizza/release/pkg/forge"
	"github.com/open-sauced/pizza/release/pkg/gitlog"
	"github.com/open-sauced/pizza/release/pkg/providers"
	"github.com/open-sauced/pizza/release/pkg/release"
	"github.com/open-sauced/pizza/release/pkg/validator"
)

// ReportStore persists generated reports. *database.ReleaseDbHandler
// implements it.
type ReportStore interface {
	SaveReport(ctx context.Context, gitURL string, report *release.Report) (int, error)
	LatestReport(ctx context.Context, gitURL string) (*release.Report, error)
}

// HostFactory returns the forge of the repository owner/repo
type HostFactory func(owner, repo string) (forge.Host, error)

// ReleaseServer provides a leveled logger for use during serving requests,
// a git provider to read repositories and an optional store for reports.
type ReleaseServer struct {
	Logger   *zap.SugaredLogger
	Store    ReportStore
	Provider providers.GitRepoProvider
	NewHost  HostFactory
	Config   *config.Config

	// GithubOnly rejects repository URLs outside of github.com
	GithubOnly bool
}

// NewReleaseServer returns a ReleaseServer. store may be nil, in which case
// reports are not persisted.
func NewReleaseServer(store ReportStore, provider providers.GitRepoProvider, newHost HostFactory, cfg *config.Config, logger *zap.SugaredLogger) *ReleaseServer {
	return &ReleaseServer{
		Logger:     logger,
		Store:      store,
		Provider:   provider,
		NewHost:    newHost,
		Config:     cfg,
		GithubOnly: cfg.APIURL == "",
	}
}

// Handler returns the routes of the server
func (p *ReleaseServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/notes", p.handleNotes)
	mux.HandleFunc("/notes/latest", p.handleLatest)
	mux.HandleFunc("/ping", p.pingHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Run serves on the configured port until ctx is cancelled
func (p *ReleaseServer) Run(ctx context.Context) error {
	//nolint:errcheck
	defer p.Logger.Sync()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", p.Config.Server.Port),
		Handler:           p.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			p.Logger.Errorf("Could not shut down server: %v", err)
		}
	}()

	p.Logger.Infof("Starting server on port %s", p.Config.Server.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server stopped")
	}
	return nil
}

type notesRequest struct {
	URL            string `json:"url"`
	From           string `json:"from"`
	To             string `json:"to"`
	CurrentVersion string `json:"currentVersion"`
}

type validationResponse struct {
	Errors map[string]string `json:"errors"`
}

func (p *ReleaseServer) handleNotes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		p.Logger.Errorf("Received request with invalid method: %s", r.Method)
		http.Error(w, "Invalid request method, expected post", http.StatusMethodNotAllowed)
		return
	}

	var data notesRequest
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		p.Logger.Errorf("Could not decode request json body with error: %v", err)
		http.Error(w, "Could not decode request body", http.StatusBadRequest)
		return
	}

	v := validator.New()
	validator.ValidateURL(v, data.URL, p.GithubOnly)
	validator.ValidateRevision(v, "from", data.From)
	validator.ValidateRevision(v, "to", data.To)
	validator.ValidateVersion(v, "currentVersion", data.CurrentVersion)
	if !v.Valid() {
		p.writeJSON(w, http.StatusBadRequest, validationResponse{Errors: v.Errors})
		return
	}

	repoURL, err := common.NormalizeGitURL(data.URL)
	if err != nil {
		http.Error(w, "Could not normalize repository URL", http.StatusBadRequest)
		return
	}

	report, err := p.processRepository(r.Context(), repoURL, data)
	if err != nil {
		switch {
		case errors.Is(err, errFetch):
			p.Logger.Errorf("Could not fetch repository %s: %v", repoURL, err)
			http.Error(w, "Could not fetch repository", http.StatusBadGateway)
		case errors.Is(err, release.ErrLogSourceUnavailable):
			p.Logger.Warnf("Could not read log of %s: %v", repoURL, err)
			http.Error(w, "Could not read the requested commit range", http.StatusUnprocessableEntity)
		default:
			p.Logger.Errorf("Could not process repository %s: %v", repoURL, err)
			http.Error(w, "Could not process input", http.StatusInternalServerError)
		}
		return
	}

	if p.Store != nil {
		if _, err := p.Store.SaveReport(r.Context(), repoURL, report); err != nil {
			p.Logger.Errorf("Could not store report for %s: %v", repoURL, err)
		}
	}

	p.writeJSON(w, http.StatusOK, report)
}

var errFetch = errors.New("could not fetch repository")

func (p *ReleaseServer) processRepository(ctx context.Context, repoURL string, data notesRequest) (*release.Report, error) {
	owner, repo, err := common.ParseRepoSlug(repoURL)
	if err != nil {
		return nil, err
	}

	p.Logger.Debugf("Fetching repository: %s", repoURL)
	gitRepo, err := p.Provider.FetchRepo(ctx, repoURL)
	if err != nil {
		return nil, errors.Mark(err, errFetch)
	}
	defer gitRepo.Done()

	collector := gitlog.NewCollector(gitRepo.GetRepo(), p.Logger)

	from := data.From
	if from == "" {
		from, err = collector.LatestTag(data.To)
		if err != nil {
			return nil, errors.Mark(err, release.ErrLogSourceUnavailable)
		}
		p.Logger.Debugf("Using latest tag %q of %s as range start", from, repoURL)
	}

	to := data.To
	if to == "" {
		to = "HEAD"
	}

	host, err := p.NewHost(owner, repo)
	if err != nil {
		return nil, errors.Wrap(err, "could not create forge client")
	}

	options := p.Config.ReleaseOptions(owner, repo)
	if strings.HasPrefix(repoURL, "https://") {
		options.BaseURL = repoURL
	}

	return release.New(host, collector, options, p.Logger).Report(ctx, from, to, data.CurrentVersion)
}

func (p *ReleaseServer) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Invalid request method, expected get", http.StatusMethodNotAllowed)
		return
	}

	if p.Store == nil {
		http.Error(w, "Report storage is not configured", http.StatusNotFound)
		return
	}

	repoURL, err := common.NormalizeGitURL(r.URL.Query().Get("url"))
	if err != nil {
		p.writeJSON(w, http.StatusBadRequest, validationResponse{Errors: map[string]string{"url": "The URL provided is not a valid git URL"}})
		return
	}

	report, err := p.Store.LatestReport(r.Context(), repoURL)
	if errors.Is(err, database.ErrReportNotFound) {
		http.Error(w, "No report found for repository", http.StatusNotFound)
		return
	}
	if err != nil {
		p.Logger.Errorf("Could not load latest report for %s: %v", repoURL, err)
		http.Error(w, "Could not load report", http.StatusInternalServerError)
		return
	}

	p.writeJSON(w, http.StatusOK, report)
}

func (p *ReleaseServer) pingHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("pong")); err != nil {
		p.Logger.Errorf("Could not connect to /ping endpoint: %v", err.Error())
		http.Error(w, "Could not connect, server is down", http.StatusInternalServerError)
	}
}

func (p *ReleaseServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		p.Logger.Errorf("Could not encode response: %v", err)
	}
}
