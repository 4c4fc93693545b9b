// package cmd is the release command line: it loads configuration, opens the
// repository and wires the forge before handing off to pkg/release.
package cmd

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/open-sauced/pizza/release/pkg/common"
	"github.com/open-sauced/pizza/release/pkg/config"
	"github.com/open-sauced/pizza/release/pkg/forge"
	"github.com/open-sauced/pizza/release/pkg/github"
	"github.com/open-sauced/pizza/release/pkg/gitlog"
	"github.com/open-sauced/pizza/release/pkg/providers"
	"github.com/open-sauced/pizza/release/pkg/release"
	"github.com/open-sauced/pizza/release/pkg/server"
)

// Version is set via ldflags during build
var Version = "dev"

// rootOptions are the persistent flags shared by every subcommand
type rootOptions struct {
	configPath string
	debug      bool
	repoPath   string
	from       string
	to         string
}

// session is everything a local subcommand needs
type session struct {
	cfg       *config.Config
	logger    *zap.SugaredLogger
	collector *gitlog.Collector
	host      forge.Host
	release   *release.Release
	from      string
	to        string
}

// NewRootCmd builds the release command tree
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "release",
		Short:         "Generate release notes and semantic version bumps",
		Long:          "Reads the commits of a range, matches them to their pull requests and derives the next version and a markdown changelog from the pull request labels.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to .yaml file config (default .release.yml when present)")
	flags.BoolVar(&opts.debug, "debug", false, "run in debug mode")
	flags.StringVar(&opts.repoPath, "repo", ".", "path to the local git repository")
	flags.StringVar(&opts.from, "from", "", "start of the range, exclusive (default latest tag reachable from --to)")
	flags.StringVar(&opts.to, "to", "HEAD", "end of the range, inclusive")

	root.AddCommand(
		newChangelogCmd(opts),
		newVersionCmd(opts),
		newReportCmd(opts),
		newLabelsCmd(opts),
		newServeCmd(opts),
	)

	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

// ExitCode maps an error returned by Execute to a process exit code
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, release.ErrLogSourceUnavailable):
		return 2
	default:
		return 1
	}
}

func newLogger(debug bool) (*zap.SugaredLogger, error) {
	var logger *zap.Logger
	var err error

	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not initiate zap logger")
	}

	return logger.Sugar(), nil
}

// loadConfig builds the logger, reads .env and loads the configuration
func loadConfig(opts *rootOptions) (*config.Config, *zap.SugaredLogger, error) {
	logger, err := newLogger(opts.debug)
	if err != nil {
		return nil, nil, err
	}
	logger.Debugf("initiated zap logger with level: %d", logger.Level())

	// Load the environment variables from the .env file
	if err := godotenv.Load(); err != nil {
		logger.Debugf("Failed to load the dot env file. Continuing with existing environment: %v", err)
	}

	cfg, err := config.Load(config.LoadOptions{Path: opts.configPath, Logger: logger})
	if err != nil {
		return nil, nil, err
	}

	return cfg, logger, nil
}

// hostFactory returns the forge constructor for cfg. Without a token the
// forge is an empty in-memory one: every lookup misses and commits keep
// only what the log says about them.
func hostFactory(cfg *config.Config, logger *zap.SugaredLogger) server.HostFactory {
	return func(owner, repo string) (forge.Host, error) {
		if cfg.Token == "" {
			logger.Warnf("No token configured, generating %s/%s offline", owner, repo)
			return forge.NewMemory(), nil
		}

		client := github.NewTokenClient(cfg.Token, owner, repo, logger)
		if cfg.APIURL == "" {
			return client, nil
		}

		client, err := client.WithBaseURL(cfg.APIURL)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// openSession opens the local repository and wires a Release for it
func openSession(ctx context.Context, opts *rootOptions) (*session, error) {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	gitRepo, err := providers.NewLocalGitRepoProvider(logger).FetchRepo(ctx, opts.repoPath)
	if err != nil {
		return nil, errors.Mark(err, release.ErrLogSourceUnavailable)
	}
	collector := gitlog.NewCollector(gitRepo.GetRepo(), logger)

	if cfg.Owner == "" || cfg.Repo == "" {
		origin, err := collector.OriginURL()
		if err != nil {
			return nil, errors.Wrap(err, "owner and repo are not configured")
		}
		owner, repo, err := common.ParseRepoSlug(origin)
		if err != nil {
			return nil, errors.Wrap(err, "owner and repo are not configured")
		}
		cfg.SetRepository(owner, repo)
	}

	from := opts.from
	if from == "" {
		from, err = collector.LatestTag(opts.to)
		if err != nil {
			return nil, errors.Mark(err, release.ErrLogSourceUnavailable)
		}
		if from == "" {
			logger.Infof("No tag found, using the whole history up to %s", opts.to)
		}
	}

	host, err := hostFactory(cfg, logger)(cfg.Owner, cfg.Repo)
	if err != nil {
		return nil, err
	}

	return &session{
		cfg:       cfg,
		logger:    logger,
		collector: collector,
		host:      host,
		release:   release.New(host, collector, cfg.ReleaseOptions(cfg.Owner, cfg.Repo), logger),
		from:      from,
		to:        opts.to,
	}, nil
}
