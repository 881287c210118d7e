package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/tfreview/internal/analysis"
	"github.com/joescharf/tfreview/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// appendAttempts bounds how often AppendVersion recomputes latest+1 after
// losing a race.
const appendAttempts = 3

// timeLayout is fixed width so text comparison in SQL matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const versionColumns = `review_id, version, previous_version_ref, status, source_snapshot, context_json,
	analysis_json, risk_score, risk_level, risk_breakdown_json, confidence_score, model_used, prompt_version,
	error_json, submitted_at, created_at`

// headJoin selects the latest version of every review.
const headJoin = `FROM review_heads h JOIN review_versions v
	ON v.review_id = h.review_id AND v.version = h.latest_version`

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection serializes every write through the pool; concurrent
	// reviews queue here instead of failing with "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Other processes (the CLI next to a running server) wait instead of failing
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Review versions ---

// CreateReview writes version 1 of a new review. An empty ReviewID is
// assigned a ULID.
func (s *SQLiteStore) CreateReview(ctx context.Context, rec *models.ReviewRecord) error {
	if !rec.Status.Valid() {
		return fmt.Errorf("create review: invalid status %q", rec.Status)
	}

	v := *rec
	if v.ReviewID == "" {
		v.ReviewID = newULID()
	}
	now := time.Now().UTC()
	v.Version = 1
	v.PreviousVersionRef = ""
	if v.SubmittedAt.IsZero() {
		v.SubmittedAt = now
	}
	v.SubmittedAt = v.SubmittedAt.UTC()
	v.CreatedAt = now
	v.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("create review", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertVersion(ctx, tx, &v); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, v.ReviewID)
		}
		return wrapErr("create review", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO review_heads (review_id, latest_version, stack_id, status, risk_score, submitted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ReviewID, v.Version, v.StackID(), string(v.Status), nullFloat(v.RiskScore),
		formatTime(v.SubmittedAt), formatTime(v.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, v.ReviewID)
		}
		return wrapErr("create review head", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("create review", err)
	}
	*rec = v
	return nil
}

// AppendVersion writes the next version of an existing review. With
// rec.Version == 0 the next number is computed from the latest version and
// recomputed if another writer wins the race. With rec.Version > 0 the write
// succeeds only if that is exactly the next version.
func (s *SQLiteStore) AppendVersion(ctx context.Context, rec *models.ReviewRecord) error {
	if rec.ReviewID == "" {
		return fmt.Errorf("append version: review id is required")
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("append version: invalid status %q", rec.Status)
	}

	attempts := appendAttempts
	if rec.Version > 0 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = s.appendOnce(ctx, rec)
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
	}
	return err
}

func (s *SQLiteStore) appendOnce(ctx context.Context, rec *models.ReviewRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("append version", err)
	}
	defer func() { _ = tx.Rollback() }()

	var latest int
	var submittedAt string
	err = tx.QueryRowContext(ctx,
		"SELECT latest_version, submitted_at FROM review_heads WHERE review_id = ?", rec.ReviewID,
	).Scan(&latest, &submittedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: review %s", ErrNotFound, rec.ReviewID)
	}
	if err != nil {
		return wrapErr("append version", err)
	}

	next := latest + 1
	if rec.Version > 0 && rec.Version != next {
		return fmt.Errorf("%w: review %s expected version %d, latest is %d", ErrVersionConflict, rec.ReviewID, rec.Version, latest)
	}

	v := *rec
	now := time.Now().UTC()
	v.Version = next
	v.PreviousVersionRef = models.VersionRef(v.ReviewID, latest)
	if v.SubmittedAt, err = parseTime(submittedAt); err != nil {
		return fmt.Errorf("append version: %w", err)
	}
	v.CreatedAt = now
	v.UpdatedAt = now

	if err := insertVersion(ctx, tx, &v); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: review %s version %d", ErrVersionConflict, v.ReviewID, next)
		}
		return wrapErr("append version", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE review_heads SET latest_version = ?, stack_id = ?, status = ?, risk_score = ?, updated_at = ?
		WHERE review_id = ? AND latest_version = ?`,
		next, v.StackID(), string(v.Status), nullFloat(v.RiskScore), formatTime(now), v.ReviewID, latest,
	)
	if err != nil {
		return wrapErr("update review head", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: review %s version %d", ErrVersionConflict, v.ReviewID, next)
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("append version", err)
	}
	*rec = v
	return nil
}

func insertVersion(ctx context.Context, tx *sql.Tx, rec *models.ReviewRecord) error {
	contextJSON, err := toJSON(rec.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	analysisJSON, err := toJSON(rec.Analysis)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	breakdownJSON, err := toJSON(rec.RiskBreakdown)
	if err != nil {
		return fmt.Errorf("encode risk breakdown: %w", err)
	}
	errorJSON, err := toJSON(rec.Error)
	if err != nil {
		return fmt.Errorf("encode error detail: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO review_versions (`+versionColumns+`, stack_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ReviewID, rec.Version, rec.PreviousVersionRef, string(rec.Status), rec.SourceSnapshot, contextJSON,
		analysisJSON, nullFloat(rec.RiskScore), string(rec.RiskLevel), breakdownJSON, nullFloat(rec.ConfidenceScore),
		rec.ModelUsed, rec.PromptVersion, errorJSON, formatTime(rec.SubmittedAt), formatTime(rec.CreatedAt),
		rec.StackID(),
	)
	return err
}

// GetLatest returns the highest version of a review.
func (s *SQLiteStore) GetLatest(ctx context.Context, reviewID string) (*models.ReviewRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+prefixed("v.", versionColumns)+" "+headJoin+" WHERE h.review_id = ?", reviewID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: review %s", ErrNotFound, reviewID)
	}
	if err != nil {
		return nil, wrapErr("get latest version", err)
	}
	return rec, nil
}

// GetVersion returns one specific version of a review.
func (s *SQLiteStore) GetVersion(ctx context.Context, reviewID string, version int) (*models.ReviewRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM review_versions WHERE review_id = ? AND version = ?", reviewID, version)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: review %s version %d", ErrNotFound, reviewID, version)
	}
	if err != nil {
		return nil, wrapErr("get version", err)
	}
	return rec, nil
}

// History returns the versions of a review in ascending order, starting
// after page.AfterVersion.
func (s *SQLiteStore) History(ctx context.Context, reviewID string, page Page) ([]*models.ReviewRecord, error) {
	query := "SELECT " + versionColumns + " FROM review_versions WHERE review_id = ? AND version > ? ORDER BY version ASC"
	args := []any{reviewID, page.AfterVersion}
	if page.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, page.Limit)
	}

	recs, err := s.queryRecords(ctx, "review history", query, args...)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM review_heads WHERE review_id = ?", reviewID).Scan(&n); err != nil {
			return nil, wrapErr("review history", err)
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: review %s", ErrNotFound, reviewID)
		}
	}
	return recs, nil
}

// --- Projections ---

// ListReviews returns the latest version of each matching review, most
// recently submitted first.
func (s *SQLiteStore) ListReviews(ctx context.Context, filter ReviewFilter) ([]*models.ReviewRecord, error) {
	query := "SELECT " + prefixed("v.", versionColumns) + " " + headJoin
	var conditions []string
	var args []any

	if filter.IDPrefix != "" {
		conditions = append(conditions, "h.review_id LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(filter.IDPrefix)+"%")
	}
	if filter.StackID != "" {
		conditions = append(conditions, "h.stack_id = ?")
		args = append(args, filter.StackID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "h.status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, "h.submitted_at >= ?")
		args = append(args, formatTime(filter.From))
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "h.submitted_at < ?")
		args = append(args, formatTime(filter.To))
	}
	if filter.MinRisk != nil {
		conditions = append(conditions, "h.risk_score >= ?")
		args = append(args, *filter.MinRisk)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY h.submitted_at DESC, h.review_id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.queryRecords(ctx, "list reviews", query, args...)
}

// ByStack returns the latest version of each review in a stack submitted
// within r, most recent first.
func (s *SQLiteStore) ByStack(ctx context.Context, stackID string, r TimeRange, limit int) ([]*models.ReviewRecord, error) {
	if stackID == "" {
		return nil, fmt.Errorf("reviews by stack: stack id is required")
	}
	return s.ListReviews(ctx, ReviewFilter{StackID: stackID, From: r.From, To: r.To, Limit: limit})
}

// ByStatus returns reviews whose latest version has status and was written
// before olderThan, oldest first.
func (s *SQLiteStore) ByStatus(ctx context.Context, status models.ReviewStatus, olderThan time.Time, limit int) ([]*models.ReviewRecord, error) {
	query := "SELECT " + prefixed("v.", versionColumns) + " " + headJoin +
		" WHERE h.status = ? AND h.updated_at < ? ORDER BY h.updated_at ASC, h.review_id ASC"
	args := []any{string(status), formatTime(olderThan)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryRecords(ctx, "reviews by status", query, args...)
}

// ListStacks returns every stack id that has at least one review.
func (s *SQLiteStore) ListStacks(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT stack_id FROM review_heads WHERE stack_id != '' ORDER BY stack_id")
	if err != nil {
		return nil, wrapErr("list stacks", err)
	}
	defer func() { _ = rows.Close() }()

	var stacks []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stack: %w", err)
		}
		stacks = append(stacks, id)
	}
	return stacks, rows.Err()
}

func (s *SQLiteStore) queryRecords(ctx context.Context, op, query string, args ...any) ([]*models.ReviewRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer func() { _ = rows.Close() }()

	var recs []*models.ReviewRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return recs, nil
}

// --- Issue frequency ---

// RecordIssueOccurrence counts finding f against stackID once per review.
// Recording the same (stack, fingerprint, review) again leaves the count
// unchanged.
func (s *SQLiteStore) RecordIssueOccurrence(ctx context.Context, stackID, reviewID string, f models.Finding, seenAt time.Time) (*models.IssueFrequency, error) {
	if stackID == "" {
		return nil, fmt.Errorf("record issue occurrence: stack id is required")
	}
	if reviewID == "" {
		return nil, fmt.Errorf("record issue occurrence: review id is required")
	}
	fp := f.IssueFingerprint
	if fp == "" {
		fp = analysis.Fingerprint(f.Category, f.Title, f.FilePath)
	}
	seen := formatTime(seenAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr("record issue occurrence", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO issue_occurrences (stack_id, fingerprint, review_id, seen_at) VALUES (?, ?, ?, ?)`,
		stackID, fp, reviewID, seen,
	)
	if err != nil {
		return nil, wrapErr("record issue occurrence", err)
	}

	if n, _ := res.RowsAffected(); n == 1 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO issue_frequency (stack_id, fingerprint, category, title, severity, file_path, occurrence_count, first_seen, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT (stack_id, fingerprint) DO UPDATE SET
				occurrence_count = occurrence_count + 1,
				severity = excluded.severity,
				first_seen = MIN(first_seen, excluded.first_seen),
				last_seen = MAX(last_seen, excluded.last_seen)`,
			stackID, fp, string(f.Category), f.Title, string(f.Severity), f.FilePath, seen, seen,
		)
		if err != nil {
			return nil, wrapErr("update issue frequency", err)
		}
	}

	freq, err := getIssueFrequency(ctx, tx, stackID, fp)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapErr("record issue occurrence", err)
	}
	return freq, nil
}

// GetIssueFrequency returns the aggregate for one fingerprint in a stack.
func (s *SQLiteStore) GetIssueFrequency(ctx context.Context, stackID, fingerprint string) (*models.IssueFrequency, error) {
	return getIssueFrequency(ctx, s.db, stackID, fingerprint)
}

// ListIssueFrequencies returns the issues of a stack, most frequent first.
// An empty stackID lists every stack.
func (s *SQLiteStore) ListIssueFrequencies(ctx context.Context, stackID string, limit int) ([]*models.IssueFrequency, error) {
	query := `SELECT stack_id, fingerprint, category, title, severity, file_path, occurrence_count, first_seen, last_seen
		FROM issue_frequency`
	var args []any
	if stackID != "" {
		query += " WHERE stack_id = ?"
		args = append(args, stackID)
	}
	query += " ORDER BY occurrence_count DESC, last_seen DESC, fingerprint ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list issue frequencies", err)
	}

	var freqs []*models.IssueFrequency
	for rows.Next() {
		freq, err := scanFrequency(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan issue frequency: %w", err)
		}
		freqs = append(freqs, freq)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, wrapErr("list issue frequencies", err)
	}

	// Rows must be closed first: the store holds a single connection.
	for _, freq := range freqs {
		if freq.AffectedReviewIDs, err = affectedReviews(ctx, s.db, freq.StackID, freq.Fingerprint); err != nil {
			return nil, err
		}
	}
	return freqs, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getIssueFrequency(ctx context.Context, q querier, stackID, fingerprint string) (*models.IssueFrequency, error) {
	row := q.QueryRowContext(ctx,
		`SELECT stack_id, fingerprint, category, title, severity, file_path, occurrence_count, first_seen, last_seen
		FROM issue_frequency WHERE stack_id = ? AND fingerprint = ?`, stackID, fingerprint)
	freq, err := scanFrequency(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: issue %s in stack %s", ErrNotFound, fingerprint, stackID)
	}
	if err != nil {
		return nil, wrapErr("get issue frequency", err)
	}
	if freq.AffectedReviewIDs, err = affectedReviews(ctx, q, stackID, fingerprint); err != nil {
		return nil, err
	}
	return freq, nil
}

func affectedReviews(ctx context.Context, q querier, stackID, fingerprint string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT review_id FROM issue_occurrences WHERE stack_id = ? AND fingerprint = ?
		ORDER BY seen_at ASC, review_id ASC`, stackID, fingerprint)
	if err != nil {
		return nil, wrapErr("list affected reviews", err)
	}
	defer func() { _ = rows.Close() }()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan affected review: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc rowScanner) (*models.ReviewRecord, error) {
	rec := &models.ReviewRecord{}
	var status, riskLevel, submittedAt, createdAt string
	var contextJSON, analysisJSON, breakdownJSON, errorJSON sql.NullString
	var risk, confidence sql.NullFloat64

	err := sc.Scan(&rec.ReviewID, &rec.Version, &rec.PreviousVersionRef, &status, &rec.SourceSnapshot, &contextJSON,
		&analysisJSON, &risk, &riskLevel, &breakdownJSON, &confidence, &rec.ModelUsed, &rec.PromptVersion,
		&errorJSON, &submittedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	rec.Status = models.ReviewStatus(status)
	rec.RiskLevel = models.RiskLevel(riskLevel)
	if risk.Valid {
		rec.RiskScore = &risk.Float64
	}
	if confidence.Valid {
		rec.ConfidenceScore = &confidence.Float64
	}
	if rec.Context, err = fromJSON[models.ReviewContext](contextJSON); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	if rec.Analysis, err = fromJSON[models.FullReview](analysisJSON); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	if rec.RiskBreakdown, err = fromJSON[models.RiskBreakdown](breakdownJSON); err != nil {
		return nil, fmt.Errorf("decode risk breakdown: %w", err)
	}
	if rec.Error, err = fromJSON[models.ErrorDetail](errorJSON); err != nil {
		return nil, fmt.Errorf("decode error detail: %w", err)
	}
	if rec.SubmittedAt, err = parseTime(submittedAt); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	rec.UpdatedAt = rec.CreatedAt
	return rec, nil
}

func scanFrequency(sc rowScanner) (*models.IssueFrequency, error) {
	freq := &models.IssueFrequency{}
	var category, severity, firstSeen, lastSeen string
	err := sc.Scan(&freq.StackID, &freq.Fingerprint, &category, &freq.Title, &severity, &freq.FilePath,
		&freq.OccurrenceCount, &firstSeen, &lastSeen)
	if err != nil {
		return nil, err
	}
	freq.Category = models.Category(category)
	freq.Severity = models.Severity(severity)
	if freq.FirstSeen, err = parseTime(firstSeen); err != nil {
		return nil, err
	}
	if freq.LastSeen, err = parseTime(lastSeen); err != nil {
		return nil, err
	}
	return freq, nil
}

// prefixed qualifies every column in a comma separated list.
func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func toJSON[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func fromJSON[T any](ns sql.NullString) (*T, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	v := new(T)
	if err := json.Unmarshal([]byte(ns.String), v); err != nil {
		return nil, err
	}
	return v, nil
}

// escapeLike escapes LIKE wildcards in s; pair with ESCAPE '\'.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// wrapErr tags retryable backend failures as *TransientError.
func wrapErr(op string, err error) error {
	if isTransientCause(err) {
		return &TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
