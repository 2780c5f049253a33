package sqlite

import (
	"context"
	"database/sql"
	"encoding/json/v2"
	"errors"
	"fmt"
	"time"

	"github.com/bookhaven/bookhaven-server/internal/domain"
	dErrors "github.com/bookhaven/bookhaven-server/internal/errors"
	"github.com/bookhaven/bookhaven-server/internal/store"
)

// titleColumns is the ordered list of columns selected in title queries.
// Must match the scan order in scanTitle.
const titleColumns = `id, title, subtitle, authors, is_active,
	total_copies, available_copies, created_at, updated_at`

// scanTitle scans a sql.Row (or sql.Rows via its Scan method) into a domain.Title.
func scanTitle(scanner interface{ Scan(dest ...any) error }) (*domain.Title, error) {
	var t domain.Title

	var (
		subtitle   sql.NullString
		authorsRaw string
		isActive   int
		createdAt  string
		updatedAt  string
	)

	err := scanner.Scan(
		&t.ID,
		&t.Title,
		&subtitle,
		&authorsRaw,
		&isActive,
		&t.TotalCopies,
		&t.AvailableCopies,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Subtitle = subtitle.String
	t.IsActive = isActive != 0

	if authorsRaw != "" {
		if err := json.Unmarshal([]byte(authorsRaw), &t.Authors); err != nil {
			return nil, fmt.Errorf("unmarshal authors: %w", err)
		}
	}

	t.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	t.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	return &t, nil
}

// marshalAuthors encodes the author list for storage.
func marshalAuthors(authors []string) (string, error) {
	if authors == nil {
		authors = []string{}
	}
	data, err := json.Marshal(authors)
	if err != nil {
		return "", fmt.Errorf("marshal authors: %w", err)
	}
	return string(data), nil
}

// CreateTitle inserts a new catalog title with its initial copy counts.
func (s *Store) CreateTitle(ctx context.Context, title *domain.Title) error {
	if title.TotalCopies < 0 || !title.LedgerConsistent() {
		return dErrors.Validation("copy counts must satisfy 0 <= available <= total")
	}

	authors, err := marshalAuthors(title.Authors)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO titles (id, title, subtitle, authors, is_active,
			total_copies, available_copies, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		title.ID,
		title.Title,
		nullString(title.Subtitle),
		authors,
		boolToInt(title.IsActive),
		title.TotalCopies,
		title.AvailableCopies,
		formatTime(title.CreatedAt),
		formatTime(title.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return dErrors.InvalidStatef("title %s already exists", title.ID)
	}
	if err != nil {
		return fmt.Errorf("insert title: %w", err)
	}
	return nil
}

// GetTitle retrieves a title by ID.
// Returns ErrNotFound if the title does not exist.
func (s *Store) GetTitle(ctx context.Context, id string) (*domain.Title, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+titleColumns+` FROM titles WHERE id = ?`, id)

	title, err := scanTitle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dErrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get title: %w", err)
	}
	return title, nil
}

// ListTitles returns a page of titles ordered by creation time, newest first.
func (s *Store) ListTitles(ctx context.Context, params store.PaginationParams) (*store.PaginatedResult[*domain.Title], error) {
	params.Normalize()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM titles`).Scan(&total); err != nil {
		return nil, fmt.Errorf("count titles: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+titleColumns+` FROM titles ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		params.Limit, params.Offset())
	if err != nil {
		return nil, fmt.Errorf("list titles: %w", err)
	}
	defer rows.Close()

	titles := make([]*domain.Title, 0, params.Limit)
	for rows.Next() {
		t, err := scanTitle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan title: %w", err)
		}
		titles = append(titles, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate titles: %w", err)
	}

	return store.NewPaginatedResult(titles, params, total), nil
}

// UpdateTitleInfo updates descriptive fields only. The copy counts are owned
// by the ledger operations and cannot be written here.
func (s *Store) UpdateTitleInfo(ctx context.Context, id, titleText, subtitle string, authors []string) (*domain.Title, error) {
	authorsJSON, err := marshalAuthors(authors)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE titles SET title = ?, subtitle = ?, authors = ?, updated_at = ?
		WHERE id = ?`,
		titleText, nullString(subtitle), authorsJSON, formatTime(time.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("update title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, dErrors.ErrNotFound
	}

	return s.GetTitle(ctx, id)
}

// SetTitleActive toggles whether the title accepts new loans and reservations.
func (s *Store) SetTitleActive(ctx context.Context, id string, active bool) (*domain.Title, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE titles SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), formatTime(time.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("set title active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, dErrors.ErrNotFound
	}

	return s.GetTitle(ctx, id)
}

// debitTitle atomically takes one available copy from the title's ledger.
// The conditional UPDATE is the compare-and-swap: it only fires while a copy
// is actually available, so two contenders for the last copy cannot both
// succeed. On zero rows affected the follow-up read (under the same write
// lock) classifies the refusal.
func debitTitle(ctx context.Context, tx *sql.Tx, titleID string, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE titles SET available_copies = available_copies - 1, updated_at = ?
		WHERE id = ? AND is_active = 1 AND available_copies > 0`,
		formatTime(now), titleID)
	if err != nil {
		return fmt.Errorf("debit title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	active, total, available, err := readLedger(ctx, tx, titleID)
	if err != nil {
		return err
	}
	switch {
	case !active:
		return dErrors.NotFound("title not available")
	case available < 0 || available > total:
		return dErrors.LedgerCorruptionf("title %s: available %d outside [0, %d]", titleID, available, total)
	default:
		return dErrors.ErrOutOfStock
	}
}

// creditTitle atomically returns one copy to the title's ledger.
// Crediting past total_copies means the books don't add up — more copies came
// back than ever went out — and is surfaced as corruption, never clamped.
func creditTitle(ctx context.Context, tx *sql.Tx, titleID string, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE titles SET available_copies = available_copies + 1, updated_at = ?
		WHERE id = ? AND available_copies < total_copies`,
		formatTime(now), titleID)
	if err != nil {
		return fmt.Errorf("credit title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	_, total, available, err := readLedger(ctx, tx, titleID)
	if err != nil {
		return err
	}
	return dErrors.LedgerCorruptionf("title %s: credit would push available %d past total %d", titleID, available, total)
}

// readLedger reads the ledger fields inside the current transaction.
func readLedger(ctx context.Context, tx *sql.Tx, titleID string) (active bool, total, available int, err error) {
	var isActive int
	err = tx.QueryRowContext(ctx,
		`SELECT is_active, total_copies, available_copies FROM titles WHERE id = ?`,
		titleID).Scan(&isActive, &total, &available)
	if errors.Is(err, sql.ErrNoRows) {
		return false, 0, 0, dErrors.ErrNotFound
	}
	if err != nil {
		return false, 0, 0, fmt.Errorf("read ledger: %w", err)
	}
	return isActive != 0, total, available, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
