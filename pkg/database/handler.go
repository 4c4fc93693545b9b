// package database provides the release server with a wrapper around an
// sql database connection pool and the public methods to store and read
// generated release reports
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"

	// the injected postgres interface implementations for Go SQL
	_ "github.com/lib/pq"

	"github.com/open-sauced/pizza/release/pkg/release"
)

// ErrReportNotFound is returned by LatestReport when a repository has no
// stored report
var ErrReportNotFound = errors.New("no release report stored")

// ReleaseDbHandler is a wrapper around *sql.DB. It provides a single
// point where internal methods and queries can access the release
// database connection pool.
//
// Expected tables:
//
//	public.repos(id serial, git_url text unique)
//	public.release_reports(id serial, repo_id int, from_ref text, to_ref text,
//	    bump text, next_version text, payload jsonb, generated_at timestamptz)
type ReleaseDbHandler struct {
	db *sql.DB
}

// NewReleaseDbHandler wraps an open connection pool
func NewReleaseDbHandler(db *sql.DB) *ReleaseDbHandler {
	return &ReleaseDbHandler{
		db: db,
	}
}

// Connect opens a postgres connection pool with the provided connection
// parameters and pings it once to make sure they work
func Connect(ctx context.Context, host, port, user, pwd, dbName string) (*ReleaseDbHandler, error) {
	connectString := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=require", host, port, user, pwd, dbName)

	dbPool, err := sql.Open("postgres", connectString)
	if err != nil {
		return nil, errors.Wrap(err, "could not open database connection")
	}

	if err := dbPool.PingContext(ctx); err != nil {
		dbPool.Close()
		return nil, errors.Wrap(err, "could not ping database")
	}

	return NewReleaseDbHandler(dbPool), nil
}

// Close closes the connection pool
func (p *ReleaseDbHandler) Close() error {
	return p.db.Close()
}

// GetRepositoryID queries the id of a repository based on its git URL
func (p *ReleaseDbHandler) GetRepositoryID(ctx context.Context, gitURL string) (int, error) {
	var id int
	err := p.db.QueryRowContext(ctx, "SELECT id FROM public.repos WHERE git_url=$1", gitURL).Scan(&id)
	return id, err
}

// InsertRepository inserts a git repository by its git_url
func (p *ReleaseDbHandler) InsertRepository(ctx context.Context, gitURL string) (int, error) {
	var id int
	err := p.db.QueryRowContext(ctx, "INSERT INTO public.repos(git_url) VALUES($1) RETURNING id", gitURL).Scan(&id)
	return id, err
}

// SaveReport stores a report for the repository at gitURL, inserting the
// repository first if it is new. It returns the id of the stored report.
func (p *ReleaseDbHandler) SaveReport(ctx context.Context, gitURL string, report *release.Report) (int, error) {
	repoID, err := p.GetRepositoryID(ctx, gitURL)
	if errors.Is(err, sql.ErrNoRows) {
		repoID, err = p.InsertRepository(ctx, gitURL)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "could not find or insert repository %s", gitURL)
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return 0, errors.Wrap(err, "could not encode report")
	}

	var id int
	err = p.db.QueryRowContext(ctx,
		"INSERT INTO public.release_reports(repo_id, from_ref, to_ref, bump, next_version, payload, generated_at) VALUES($1, $2, $3, $4, $5, $6, $7) RETURNING id",
		repoID, report.From, report.To, string(report.Bump), report.NextVersion, payload, report.GeneratedAt,
	).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "could not insert report")
	}

	return id, nil
}

// LatestReport returns the most recently generated report of the repository
// at gitURL
func (p *ReleaseDbHandler) LatestReport(ctx context.Context, gitURL string) (*release.Report, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx,
		"SELECT r.payload FROM public.release_reports r JOIN public.repos p ON p.id = r.repo_id WHERE p.git_url=$1 ORDER BY r.generated_at DESC, r.id DESC LIMIT 1",
		gitURL,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Mark(errors.Newf("no report for %s", gitURL), ErrReportNotFound)
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not query latest report")
	}

	var report release.Report
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, errors.Wrap(err, "could not decode stored report")
	}
	return &report, nil
}
