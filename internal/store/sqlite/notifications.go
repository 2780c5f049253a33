package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"encoding/json/v2"

	"github.com/bookhaven/bookhaven-server/internal/domain"
	dErrors "github.com/bookhaven/bookhaven-server/internal/errors"
	"github.com/bookhaven/bookhaven-server/internal/store"
)

const notificationColumns = `id, user_id, type, title, message, metadata,
	is_read, read_at, created_at`

func scanNotification(scanner interface{ Scan(dest ...any) error }) (*domain.Notification, error) {
	var n domain.Notification

	var (
		ntype     string
		metadata  sql.NullString
		isRead    int
		readAt    sql.NullString
		createdAt string
	)

	err := scanner.Scan(
		&n.ID,
		&n.UserID,
		&ntype,
		&n.Title,
		&n.Message,
		&metadata,
		&isRead,
		&readAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	n.Type = domain.NotificationType(ntype)
	n.IsRead = isRead != 0

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &n.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	n.ReadAt, err = parseNullableTime(readAt)
	if err != nil {
		return nil, err
	}
	n.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}

	return &n, nil
}

// CreateNotification persists a notification.
func (s *Store) CreateNotification(ctx context.Context, n *domain.Notification) error {
	var metadata sql.NullString
	if len(n.Metadata) > 0 {
		data, err := json.Marshal(n.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, metadata,
			is_read, read_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID,
		n.UserID,
		string(n.Type),
		n.Title,
		n.Message,
		metadata,
		boolToInt(n.IsRead),
		nullTimeString(n.ReadAt),
		formatTime(n.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns a page of the user's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, userID string, filter store.NotificationFilter) (*store.PaginatedResult[*domain.Notification], error) {
	filter.Page.Normalize()

	where := " WHERE user_id = ?"
	args := []any{userID}
	if filter.UnreadOnly {
		where += " AND is_read = 0"
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}

	listArgs := append(args, filter.Page.Limit, filter.Page.Offset())
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications`+where+
			` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, listArgs...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]*domain.Notification, 0, filter.Page.Limit)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}

	return store.NewPaginatedResult(notifications, filter.Page, total), nil
}

// MarkNotificationRead marks one of the user's notifications read. The user
// scoping doubles as the ownership check: someone else's notification reads
// as ErrNotFound.
func (s *Store) MarkNotificationRead(ctx context.Context, userID, nid string, now time.Time) (*domain.Notification, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = 1, read_at = ?
		WHERE id = ? AND user_id = ? AND is_read = 0`,
		formatTime(now), nid, userID)
	if err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	} else if affected == 0 {
		// Distinguish "already read" (fine, idempotent) from "not yours / gone".
		row := s.db.QueryRowContext(ctx,
			`SELECT `+notificationColumns+` FROM notifications WHERE id = ? AND user_id = ?`,
			nid, userID)
		n, err := scanNotification(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("get notification: %w", err)
		}
		return n, nil
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, nid)
	n, err := scanNotification(row)
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

// MarkAllNotificationsRead marks every unread notification for the user read
// and returns how many changed.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = 1, read_at = ?
		WHERE user_id = ? AND is_read = 0`,
		formatTime(now), userID)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return int(affected), nil
}

// CountUnreadNotifications returns the user's unread badge count.
func (s *Store) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = ? AND is_read = 0`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}
