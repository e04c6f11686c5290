package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/potgame/go/internal/events"
	"github.com/mcdev12/potgame/go/internal/sqlutil"
	"github.com/mcdev12/potgame/go/internal/store"
	"github.com/sqlc-dev/pqtype"
)

const (
	fetchUnsentSQL = `
SELECT id, game_id, event_type, payload, created_at, sent_at
FROM game_outbox
WHERE sent_at IS NULL
ORDER BY created_at
LIMIT $1`

	fetchByIDSQL = `
SELECT id, game_id, event_type, payload, created_at, sent_at
FROM game_outbox
WHERE id = $1 AND sent_at IS NULL`

	markSentSQL = `UPDATE game_outbox SET sent_at = now() WHERE id = $1`
)

// Repository reads the game_outbox table through database/sql and lib/pq, the same
// driver the LISTEN connection uses.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (events.OutboxEvent, error) {
	var (
		e       events.OutboxEvent
		payload pqtype.NullRawMessage
		sentAt  sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.GameID, &e.EventType, &payload, &e.CreatedAt, &sentAt); err != nil {
		return events.OutboxEvent{}, err
	}
	if payload.Valid {
		e.Payload = payload.RawMessage
	}
	e.SentAt = sqlutil.FromSqlTime(sentAt)
	return e, nil
}

func (r *Repository) FetchUnsentOutbox(ctx context.Context, limit int32) ([]events.OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, fetchUnsentSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var out []events.OutboxEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox events: %w", err)
	}
	return out, nil
}

func (r *Repository) FetchOutboxByID(ctx context.Context, id uuid.UUID) (*events.OutboxEvent, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx, fetchByIDSQL, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrOutboxEventNotFound
		}
		return nil, fmt.Errorf("failed to fetch outbox event by ID: %w", err)
	}
	return &e, nil
}

func (r *Repository) MarkOutboxSent(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, markSentSQL, id); err != nil {
		return fmt.Errorf("failed to mark outbox event as sent: %w", err)
	}
	return nil
}
