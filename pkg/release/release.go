// package release ties log reading, reconciliation, bump calculation and
// changelog rendering together for one repository.
package release

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/open-sauced/pizza/release/pkg/changelog"
	"github.com/open-sauced/pizza/release/pkg/forge"
	"github.com/open-sauced/pizza/release/pkg/gitlog"
	"github.com/open-sauced/pizza/release/pkg/insights"
	"github.com/open-sauced/pizza/release/pkg/logparse"
	"github.com/open-sauced/pizza/release/pkg/metrics"
	"github.com/open-sauced/pizza/release/pkg/reconcile"
	"github.com/open-sauced/pizza/release/pkg/semver"
)

// ErrLogSourceUnavailable marks the only fatal failure: the commit range
// could not be read at all. Check with errors.Is.
var ErrLogSourceUnavailable = errors.New("log source unavailable")

// Options configure a Release
type Options struct {
	Owner   string
	Repo    string
	BaseURL string

	// Labels is the merged label table, see semver.MergeLabels
	Labels []semver.LabelDefinition
	Bots   []string

	OnlyPublishWithReleaseLabel bool
	SkipReleaseLabels           []string

	Concurrency    int
	ConfirmMatches bool
}

// Release generates release information for one repository
type Release struct {
	Normalizer *logparse.Normalizer
	Engine     *reconcile.Engine
	Composer   *changelog.Composer

	source  gitlog.Source
	options Options
	logger  *zap.SugaredLogger
}

// Report is everything known about a prospective release
type Report struct {
	Repository     string              `json:"repository" yaml:"repository"`
	From           string              `json:"from" yaml:"from"`
	To             string              `json:"to" yaml:"to"`
	CurrentVersion string              `json:"currentVersion,omitempty" yaml:"currentVersion,omitempty"`
	Bump           semver.Level        `json:"bump" yaml:"bump"`
	NextVersion    string              `json:"nextVersion,omitempty" yaml:"nextVersion,omitempty"`
	Sections       []changelog.Section `json:"sections" yaml:"sections"`
	Changelog      changelog.Document  `json:"changelog" yaml:"changelog"`
	Results        []reconcile.Result  `json:"results" yaml:"results"`
	GeneratedAt    time.Time           `json:"generatedAt" yaml:"generatedAt"`
}

// New wires a Release. Hooks can be tapped on the returned Normalizer and
// Composer before the first call.
func New(host forge.Host, source gitlog.Source, options Options, logger *zap.SugaredLogger) *Release {
	if options.Labels == nil {
		options.Labels = semver.DefaultLabels
	}

	engine := reconcile.NewEngine(host, source, options.Owner, options.Repo, logger)
	if options.Concurrency > 0 {
		engine.Concurrency = options.Concurrency
	}
	engine.ConfirmMatches = options.ConfirmMatches

	return &Release{
		Normalizer: logparse.NewNormalizer(logger),
		Engine:     engine,
		Composer: changelog.NewComposer(changelog.Options{
			Owner:   options.Owner,
			Repo:    options.Repo,
			BaseURL: options.BaseURL,
			Labels:  options.Labels,
			Bots:    options.Bots,
		}, logger),
		source:  source,
		options: options,
		logger:  logger,
	}
}

// GetCommits reads, normalizes and reconciles the commits in from..to
func (r *Release) GetCommits(ctx context.Context, from, to string) ([]insights.Commit, []reconcile.Result, error) {
	entries, err := r.source.GetLog(ctx, from, to)
	if err != nil {
		return nil, nil, errors.Mark(errors.Wrapf(err, "could not read log %s..%s", from, to), ErrLogSourceUnavailable)
	}

	commits := r.Normalizer.NormalizeCommits(entries)
	reconciled, results := r.Engine.Reconcile(ctx, commits, reconcile.Range{From: from, To: to})

	return reconciled, results, nil
}

// GetSemverBump returns the bump for from..to, "" meaning no release
func (r *Release) GetSemverBump(ctx context.Context, from, to string) (semver.Level, error) {
	commits, _, err := r.GetCommits(ctx, from, to)
	if err != nil {
		return "", err
	}
	return r.bump(commits), nil
}

// GenerateReleaseNotes renders the changelog for from..to
func (r *Release) GenerateReleaseNotes(ctx context.Context, from, to string) (changelog.Document, error) {
	commits, _, err := r.GetCommits(ctx, from, to)
	if err != nil {
		return changelog.Document{}, err
	}
	return r.Composer.GenerateReleaseNotes(commits), nil
}

// Report computes the bump, next version and changelog from a single
// reconciliation of from..to. currentVersion may be empty.
func (r *Release) Report(ctx context.Context, from, to, currentVersion string) (report *Report, err error) {
	defer func() { metrics.ObserveReport(err) }()

	commits, results, err := r.GetCommits(ctx, from, to)
	if err != nil {
		return nil, err
	}

	report = &Report{
		Repository:     r.options.Owner + "/" + r.options.Repo,
		From:           from,
		To:             to,
		CurrentVersion: currentVersion,
		Bump:           r.bump(commits),
		Sections:       r.Composer.Sections(commits),
		Changelog:      r.Composer.GenerateReleaseNotes(commits),
		Results:        results,
		GeneratedAt:    time.Now().UTC(),
	}

	if currentVersion != "" {
		report.NextVersion, err = semver.NextVersion(currentVersion, report.Bump)
		if err != nil {
			r.logger.Warnf("Could not compute the next version from %q: %v", currentVersion, err)
			err = nil
		}
	}

	return report, nil
}

func (r *Release) bump(commits []insights.Commit) semver.Level {
	return semver.CalculateBump(commits, r.options.Labels, semver.Options{
		OnlyPublishWithReleaseLabel: r.options.OnlyPublishWithReleaseLabel,
		SkipReleaseLabels:           r.options.SkipReleaseLabels,
	})
}

var labelColors = map[semver.Level]string{
	semver.Major:       "C5000B",
	semver.Minor:       "F1A60E",
	semver.Patch:       "870048",
	semver.SkipRelease: "BF5416",
	semver.Release:     "007F70",
	semver.Prerelease:  "C4E2E2",
	semver.None:        "CFD3D7",
}

// SyncLabels creates or updates the configured labels on the forge. The
// release label only exists in only-publish-with-release-label mode and the
// skip-release label only outside of it. Every label is attempted; the
// failures are returned combined.
func (r *Release) SyncLabels(ctx context.Context, manager forge.LabelManager) ([]string, error) {
	existing, err := manager.ListLabels(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not list labels")
	}

	var synced []string
	var combined error

	for _, label := range r.options.Labels {
		if label.ReleaseType == semver.Release && !r.options.OnlyPublishWithReleaseLabel {
			continue
		}
		if label.ReleaseType == semver.SkipRelease && r.options.OnlyPublishWithReleaseLabel {
			continue
		}

		target := forge.Label{
			Name:        label.Name,
			Description: label.Description,
			Color:       labelColors[label.ReleaseType],
		}

		var syncErr error
		if name, ok := findLabel(existing, label.Name); ok {
			target.Name = name
			syncErr = manager.UpdateLabel(ctx, target)
		} else {
			syncErr = manager.CreateLabel(ctx, target)
		}

		if syncErr != nil {
			r.logger.Warnf("Could not sync label %q: %v", label.Name, syncErr)
			combined = errors.CombineErrors(combined, syncErr)
			continue
		}
		synced = append(synced, target.Name)
	}

	return synced, combined
}

func findLabel(labels []forge.Label, name string) (string, bool) {
	for _, l := range labels {
		if strings.EqualFold(l.Name, name) {
			return l.Name, true
		}
	}
	return "", false
}
