// Package ledger is the donation persistence gateway: donor resolution
// and donation creation for the ingestion loop, plus the read-side
// total/goal queries consumed by the fundraising page.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/rako-fundraiser/donation-ingest/internal/model"
)

// ErrDuplicateMessage indicates a donation with the same external
// message identifier already exists. It is the ledger-side second line
// of defense behind the idempotency state file.
var ErrDuplicateMessage = errors.New("donation with this message id already exists")

// Store is the read/write contract the ingestion loop and the read
// side depend on.
type Store interface {
	FindOrCreateDonor(ctx context.Context, name string) (*model.Donor, error)
	CreateDonation(
		ctx context.Context,
		amount decimal.Decimal,
		donorID *string,
		messageID string,
	) (*model.Donation, error)
	Total(ctx context.Context) (decimal.Decimal, error)
	LatestGoal(ctx context.Context) (*model.Goal, error)
}

// SQLiteLedger implements Store on a local SQLite database.
type SQLiteLedger struct {
	db *sqlx.DB
}

// Open opens (or creates) a SQLite ledger at dbPath, enables WAL mode,
// and runs any pending schema migrations.
func Open(dbPath string) (*SQLiteLedger, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite ledger: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	l := &SQLiteLedger{db: db}
	if err := l.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return l, nil
}

// Close closes the underlying database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (l *SQLiteLedger) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := l.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = l.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := l.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// FindOrCreateDonor resolves a donor by case-insensitive name match,
// creating one if no match exists. "max mustermann" and
// "Max Mustermann" resolve to the same row.
func (l *SQLiteLedger) FindOrCreateDonor(
	ctx context.Context, name string,
) (*model.Donor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("resolving donor: empty name")
	}

	var donor model.Donor
	err := l.db.GetContext(ctx, &donor,
		"SELECT id, name, email, created_at FROM donors WHERE lower(name) = lower(?)",
		name,
	)
	if err == nil {
		return &donor, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("looking up donor %q: %w", name, err)
	}

	donor = model.Donor{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	_, err = l.db.ExecContext(ctx,
		"INSERT INTO donors (id, name, email, created_at) VALUES (?, ?, ?, ?)",
		donor.ID, donor.Name, donor.Email, donor.CreatedAt,
	)
	if err != nil {
		// Lost a race with another writer on the nocase index: re-read.
		if isUniqueViolation(err) {
			if gerr := l.db.GetContext(ctx, &donor,
				"SELECT id, name, email, created_at FROM donors WHERE lower(name) = lower(?)",
				name,
			); gerr == nil {
				return &donor, nil
			}
		}
		return nil, fmt.Errorf("creating donor %q: %w", name, err)
	}

	return &donor, nil
}

// CreateDonation inserts one donation row. The amount is stored as its
// exact two-fraction-digit string form. messageID, when non-empty, is
// subject to a global unique constraint; a violation surfaces as
// ErrDuplicateMessage so the caller can count it as a duplicate rather
// than a fault.
func (l *SQLiteLedger) CreateDonation(
	ctx context.Context,
	amount decimal.Decimal,
	donorID *string,
	messageID string,
) (*model.Donation, error) {
	donation := model.Donation{
		ID:        uuid.New().String(),
		Amount:    amount.Round(2),
		DonorID:   donorID,
		CreatedAt: time.Now().UTC(),
	}
	if messageID != "" {
		donation.MessageID = &messageID
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO donations (id, amount, donor_id, message_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		donation.ID, donation.Amount.StringFixed(2),
		donation.DonorID, donation.MessageID, donation.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("message %q: %w", messageID, ErrDuplicateMessage)
		}
		return nil, fmt.Errorf("inserting donation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing donation: %w", err)
	}

	return &donation, nil
}

// Total returns the exact sum of all donation amounts. Amounts live in
// a TEXT column precisely so that summation happens on decimals here
// rather than on SQLite floats.
func (l *SQLiteLedger) Total(ctx context.Context) (decimal.Decimal, error) {
	var amounts []string
	err := l.db.SelectContext(ctx, &amounts, "SELECT amount FROM donations")
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("querying donation amounts: %w", err)
	}

	total := decimal.Zero
	for _, a := range amounts {
		d, err := decimal.NewFromString(a)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("scanning amount %q: %w", a, err)
		}
		total = total.Add(d)
	}

	return total.Round(2), nil
}

// LatestGoal returns the most recently created fundraising goal, or
// nil when none exists.
func (l *SQLiteLedger) LatestGoal(ctx context.Context) (*model.Goal, error) {
	row := l.db.QueryRowxContext(ctx, `
		SELECT id, title, description, target_amount, created_at
		FROM goals ORDER BY created_at DESC, id DESC LIMIT 1`)

	var (
		goal   model.Goal
		target string
	)
	err := row.Scan(&goal.ID, &goal.Title, &goal.Description, &target, &goal.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest goal: %w", err)
	}

	goal.TargetAmount, err = decimal.NewFromString(target)
	if err != nil {
		return nil, fmt.Errorf("scanning goal target %q: %w", target, err)
	}

	return &goal, nil
}

// CreateGoal inserts a fundraising goal. Ingestion never calls this;
// it exists for the read side and for seeding.
func (l *SQLiteLedger) CreateGoal(
	ctx context.Context, title, description string, target decimal.Decimal,
) (*model.Goal, error) {
	goal := model.Goal{
		ID:           uuid.New().String(),
		Title:        title,
		Description:  description,
		TargetAmount: target.Round(2),
		CreatedAt:    time.Now().UTC(),
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO goals (id, title, description, target_amount, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		goal.ID, goal.Title, goal.Description,
		goal.TargetAmount.StringFixed(2), goal.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating goal %q: %w", title, err)
	}

	return &goal, nil
}

// Progress reports the donation total as a percentage of the latest
// goal's target, clamped to [0, 100]. With no goal or a zero target it
// reports 0.
func (l *SQLiteLedger) Progress(ctx context.Context) (int, error) {
	goal, err := l.LatestGoal(ctx)
	if err != nil {
		return 0, err
	}
	if goal == nil || !goal.TargetAmount.IsPositive() {
		return 0, nil
	}

	total, err := l.Total(ctx)
	if err != nil {
		return 0, err
	}

	pct := total.Div(goal.TargetAmount).Mul(decimal.NewFromInt(100)).IntPart()
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}

	return int(pct), nil
}

// isUniqueViolation reports whether err is a SQLite unique-constraint
// failure. modernc.org/sqlite does not export a typed error for this,
// so the match is on the canonical message text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
