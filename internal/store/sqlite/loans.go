package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bookhaven/bookhaven-server/internal/domain"
	dErrors "github.com/bookhaven/bookhaven-server/internal/errors"
	"github.com/bookhaven/bookhaven-server/internal/store"
)

// loanColumns is the ordered list of columns selected in loan queries.
// Must match the scan order in scanLoan.
const loanColumns = `id, user_id, title_id, status, loan_date, due_date,
	return_date, created_at, updated_at`

// scanLoan scans a sql.Row (or sql.Rows via its Scan method) into a domain.Loan.
func scanLoan(scanner interface{ Scan(dest ...any) error }) (*domain.Loan, error) {
	var l domain.Loan

	var (
		status     string
		loanDate   string
		dueDate    string
		returnDate sql.NullString
		createdAt  string
		updatedAt  string
	)

	err := scanner.Scan(
		&l.ID,
		&l.UserID,
		&l.TitleID,
		&status,
		&loanDate,
		&dueDate,
		&returnDate,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Status = domain.LoanStatus(status)

	l.LoanDate, err = parseTime(loanDate)
	if err != nil {
		return nil, err
	}
	l.DueDate, err = parseTime(dueDate)
	if err != nil {
		return nil, err
	}
	l.ReturnDate, err = parseNullableTime(returnDate)
	if err != nil {
		return nil, err
	}
	l.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	l.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	return &l, nil
}

// CreateLoan debits the ledger and inserts the loan as one transaction.
// A non-empty fulfillReservationID marks that READY reservation FULFILLED in
// the same transaction, so a reservation is never consumed without its loan
// nor the other way around.
func (s *Store) CreateLoan(ctx context.Context, loan *domain.Loan, fulfillReservationID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		// Duplicate check first: holding a copy already is a more useful
		// refusal than OutOfStock.
		var existing string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM loans
			WHERE user_id = ? AND title_id = ? AND status IN ('ACTIVE', 'OVERDUE')`,
			loan.UserID, loan.TitleID).Scan(&existing)
		if err == nil {
			return dErrors.ErrDuplicateLoan
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check open loan: %w", err)
		}

		if fulfillReservationID != "" {
			if err := fulfillReservation(ctx, tx, fulfillReservationID, loan.UserID, loan.TitleID, loan.LoanDate); err != nil {
				return err
			}
		}

		if err := debitTitle(ctx, tx, loan.TitleID, loan.LoanDate); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO loans (id, user_id, title_id, status, loan_date, due_date,
				return_date, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			loan.ID,
			loan.UserID,
			loan.TitleID,
			string(loan.Status),
			formatTime(loan.LoanDate),
			formatTime(loan.DueDate),
			nullTimeString(loan.ReturnDate),
			formatTime(loan.CreatedAt),
			formatTime(loan.UpdatedAt),
		)
		if isUniqueViolation(err) {
			return dErrors.ErrDuplicateLoan
		}
		if err != nil {
			return fmt.Errorf("insert loan: %w", err)
		}
		return nil
	})
}

// GetLoan retrieves a loan by ID.
// Returns ErrNotFound if the loan does not exist.
func (s *Store) GetLoan(ctx context.Context, id string) (*domain.Loan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id)

	loan, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dErrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get loan: %w", err)
	}
	return loan, nil
}

// ListLoans returns a filtered page of loans, newest first.
func (s *Store) ListLoans(ctx context.Context, filter store.LoanFilter) (*store.PaginatedResult[*domain.Loan], error) {
	filter.Page.Normalize()

	where, args := loanFilterClause(filter)

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count loans: %w", err)
	}

	listArgs := append(args, filter.Page.Limit, filter.Page.Offset())
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans`+where+
			` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, listArgs...)
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	defer rows.Close()

	loans := make([]*domain.Loan, 0, filter.Page.Limit)
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		loans = append(loans, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loans: %w", err)
	}

	return store.NewPaginatedResult(loans, filter.Page, total), nil
}

// loanFilterClause builds the WHERE clause for a loan filter.
func loanFilterClause(filter store.LoanFilter) (string, []any) {
	var conds []string
	var args []any

	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.TitleID != "" {
		conds = append(conds, "title_id = ?")
		args = append(args, filter.TitleID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ReturnLoan closes an open loan and credits the ledger as one transaction.
func (s *Store) ReturnLoan(ctx context.Context, loanID string, now time.Time) (*domain.Loan, error) {
	return s.closeLoan(ctx, loanID, domain.LoanStatusReturned, now)
}

// MarkLoanLost closes an open loan without crediting the ledger: the copy is
// gone, not returned.
func (s *Store) MarkLoanLost(ctx context.Context, loanID string, now time.Time) (*domain.Loan, error) {
	return s.closeLoan(ctx, loanID, domain.LoanStatusLost, now)
}

// closeLoan transitions an open loan to a terminal status. RETURNED credits
// the ledger in the same transaction; LOST leaves it debited.
func (s *Store) closeLoan(ctx context.Context, loanID string, to domain.LoanStatus, now time.Time) (*domain.Loan, error) {
	var closed *domain.Loan

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+loanColumns+` FROM loans WHERE id = ?`, loanID)
		loan, err := scanLoan(row)
		if errors.Is(err, sql.ErrNoRows) {
			return dErrors.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get loan: %w", err)
		}

		if !loan.Status.CanTransitionTo(to) {
			return dErrors.InvalidStatef("loan is %s, cannot transition to %s", loan.Status, to)
		}

		loan.Status = to
		loan.UpdatedAt = now
		var returnDate sql.NullString
		if to == domain.LoanStatusReturned {
			loan.ReturnDate = &now
			returnDate = nullTimeString(&now)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE loans SET status = ?, return_date = ?, updated_at = ?
			WHERE id = ?`,
			string(to), returnDate, formatTime(now), loanID)
		if err != nil {
			return fmt.Errorf("update loan: %w", err)
		}

		if to == domain.LoanStatusReturned {
			if err := creditTitle(ctx, tx, loan.TitleID, now); err != nil {
				return err
			}
		}

		closed = loan
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// MarkOverdueLoans transitions every ACTIVE loan past its due date to OVERDUE
// and returns the affected loans. The ledger is untouched: the copies are
// still out.
func (s *Store) MarkOverdueLoans(ctx context.Context, now time.Time) ([]*domain.Loan, error) {
	var overdue []*domain.Loan

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+loanColumns+` FROM loans
			WHERE status = ? AND due_date < ?
			ORDER BY due_date`,
			string(domain.LoanStatusActive), formatTime(now))
		if err != nil {
			return fmt.Errorf("select overdue loans: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			l, err := scanLoan(rows)
			if err != nil {
				return fmt.Errorf("scan loan: %w", err)
			}
			overdue = append(overdue, l)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate overdue loans: %w", err)
		}

		if len(overdue) == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE loans SET status = ?, updated_at = ?
			WHERE status = ? AND due_date < ?`,
			string(domain.LoanStatusOverdue), formatTime(now),
			string(domain.LoanStatusActive), formatTime(now))
		if err != nil {
			return fmt.Errorf("mark overdue: %w", err)
		}

		for _, l := range overdue {
			l.Status = domain.LoanStatusOverdue
			l.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return overdue, nil
}

// ListLoansDueWithin returns ACTIVE loans due in (now, now+window].
func (s *Store) ListLoansDueWithin(ctx context.Context, now time.Time, window time.Duration) ([]*domain.Loan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans
		WHERE status = ? AND due_date > ? AND due_date <= ?
		ORDER BY due_date`,
		string(domain.LoanStatusActive), formatTime(now), formatTime(now.Add(window)))
	if err != nil {
		return nil, fmt.Errorf("list due loans: %w", err)
	}
	defer rows.Close()

	var loans []*domain.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		loans = append(loans, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due loans: %w", err)
	}
	return loans, nil
}

// RecentLoanCounts returns per-title loan counts for loans opened since the
// given time, most-borrowed first.
func (s *Store) RecentLoanCounts(ctx context.Context, since time.Time, limit int) ([]store.TitleLoanCount, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT title_id, COUNT(*) AS loans FROM loans
		WHERE loan_date >= ?
		GROUP BY title_id
		ORDER BY loans DESC, title_id
		LIMIT ?`,
		formatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("recent loan counts: %w", err)
	}
	defer rows.Close()

	var counts []store.TitleLoanCount
	for rows.Next() {
		var c store.TitleLoanCount
		if err := rows.Scan(&c.TitleID, &c.Loans); err != nil {
			return nil, fmt.Errorf("scan loan count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loan counts: %w", err)
	}
	return counts, nil
}
