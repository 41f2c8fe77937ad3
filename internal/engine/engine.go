package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"agencyline/internal/config"
	"agencyline/internal/db"
	"agencyline/internal/domain"
	"agencyline/internal/events"
	"agencyline/internal/repo"
	"agencyline/internal/scanner"
)

// ErrInvalidCredentials is returned by Login for an unknown email or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrScanFailed wraps scanner failures for a single website.
var ErrScanFailed = errors.New("site scan failed")

// FileStore removes stored attachments.
type FileStore interface {
	Remove(ctx context.Context, ref string) error
}

// SiteScanner fetches and scores a website.
type SiteScanner interface {
	Scan(ctx context.Context, url string) (scanner.Report, error)
}

// StatsSource supplies daily search statistics for a website.
type StatsSource interface {
	FetchDailyStats(ctx context.Context, site domain.Website, start, end time.Time) ([]domain.DailyStat, error)
}

// Observer receives counters for background work. Optional.
type Observer interface {
	ObserveScan(outcome string)
	AddStatsSynced(n int)
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Files    FileStore
	Scanner  SiteScanner
	Stats    StatsSource
	Observer Observer
	Logger   *slog.Logger
	Now      func() time.Time
}

func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config, logger *slog.Logger) Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return Engine{
		DB:     conn,
		Repo:   repo.Repo{DB: conn, Dialect: dialect},
		Events: events.Writer{Dialect: dialect},
		Config: cfg,
		Logger: logger,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return domain.FormatTime(e.now())
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newWorkLogID returns a ULID so ids sort by creation time, strictly
// increasing within the same millisecond.
func (e Engine) newWorkLogID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(e.now()), entropy).String()
}

func newID() string {
	return uuid.NewString()
}

// inTx runs fn in one transaction. fn receives a Repo bound to the transaction.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx, r repo.Repo) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx, e.Repo.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// removeFiles deletes refs best-effort. Every failure is collected and logged
// once; the caller's operation has already succeeded.
func (e Engine) removeFiles(ctx context.Context, owner string, refs []string) error {
	if e.Files == nil || len(refs) == 0 {
		return nil
	}
	var errs []error
	for _, ref := range refs {
		if err := e.Files.Remove(ctx, ref); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		e.logger().WarnContext(ctx, "attachment cleanup incomplete",
			"owner", owner, "attempted", len(refs), "failed", len(errs), "error", err)
	}
	return err
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload)
}
