package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/joescharf/tfreview/internal/models"
)

var (
	// ErrNotFound is returned when a review or version does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when version 1 of a review already exists.
	ErrAlreadyExists = errors.New("review already exists")
	// ErrVersionConflict is returned when a version could not be appended
	// because another writer claimed it.
	ErrVersionConflict = errors.New("version conflict")
)

// TransientError is a storage failure that may succeed if retried: a busy
// or locked database, or a deadline hit while waiting for it.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// transientMessages are substrings of SQLite errors that clear on retry.
var transientMessages = []string{
	"database is locked",
	"database table is locked",
	"SQLITE_BUSY",
	"SQLITE_LOCKED",
}

func isTransientCause(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// ReviewFilter selects reviews by their latest version.
type ReviewFilter struct {
	IDPrefix string
	StackID  string
	Status   models.ReviewStatus
	From     time.Time // submitted at or after
	To       time.Time // submitted before
	MinRisk  *float64
	Limit    int
}

// TimeRange bounds a query on submission time. Zero values are open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Page selects a slice of a review's history.
type Page struct {
	AfterVersion int
	Limit        int
}

// Store defines the persistence interface for reviews.
type Store interface {
	// Review versions
	CreateReview(ctx context.Context, rec *models.ReviewRecord) error
	AppendVersion(ctx context.Context, rec *models.ReviewRecord) error
	GetLatest(ctx context.Context, reviewID string) (*models.ReviewRecord, error)
	GetVersion(ctx context.Context, reviewID string, version int) (*models.ReviewRecord, error)
	History(ctx context.Context, reviewID string, page Page) ([]*models.ReviewRecord, error)

	// Projections over latest versions
	ListReviews(ctx context.Context, filter ReviewFilter) ([]*models.ReviewRecord, error)
	ByStack(ctx context.Context, stackID string, r TimeRange, limit int) ([]*models.ReviewRecord, error)
	ByStatus(ctx context.Context, status models.ReviewStatus, olderThan time.Time, limit int) ([]*models.ReviewRecord, error)
	ListStacks(ctx context.Context) ([]string, error)

	// Issue frequency
	RecordIssueOccurrence(ctx context.Context, stackID, reviewID string, f models.Finding, seenAt time.Time) (*models.IssueFrequency, error)
	GetIssueFrequency(ctx context.Context, stackID, fingerprint string) (*models.IssueFrequency, error)
	ListIssueFrequencies(ctx context.Context, stackID string, limit int) ([]*models.IssueFrequency, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
