package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/potgame/go/internal/events"
	"github.com/mcdev12/potgame/go/internal/models"
	"github.com/mcdev12/potgame/go/internal/sqlutil"
)

// Schema creates the tables the Postgres store and the outbox relay use.
const Schema = `
CREATE TABLE IF NOT EXISTS game_state (
    game_id           UUID PRIMARY KEY,
    beneficiary_token TEXT           NOT NULL,
    escrow_account    TEXT           NOT NULL,
    last_buyer        TEXT           NOT NULL DEFAULT '',
    key_price         NUMERIC(39, 0) NOT NULL,
    keys_sold         NUMERIC(39, 0) NOT NULL DEFAULT 0,
    pot               NUMERIC(39, 0) NOT NULL DEFAULT 0,
    last_update       BIGINT         NOT NULL DEFAULT 0,
    time_left         BIGINT         NOT NULL DEFAULT 0 CHECK (time_left BETWEEN 0 AND 86400),
    round             BIGINT         NOT NULL DEFAULT 1,
    updated_at        TIMESTAMPTZ    NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS game_outbox (
    id         UUID PRIMARY KEY,
    game_id    UUID        NOT NULL REFERENCES game_state (game_id),
    event_type TEXT        NOT NULL,
    payload    JSONB       NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    sent_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS game_outbox_unsent_idx ON game_outbox (created_at) WHERE sent_at IS NULL;
`

const (
	insertStateSQL = `
INSERT INTO game_state (game_id, beneficiary_token, escrow_account, last_buyer, key_price,
                        keys_sold, pot, last_update, time_left, round)
VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10)
ON CONFLICT (game_id) DO NOTHING`

	selectStateSQL = `
SELECT game_id, beneficiary_token, escrow_account, last_buyer, key_price::text,
       keys_sold::text, pot::text, last_update, time_left, round, updated_at
FROM game_state
WHERE game_id = $1`

	updateStateSQL = `
UPDATE game_state
SET last_buyer = $2, key_price = $3::numeric, keys_sold = $4::numeric, pot = $5::numeric,
    last_update = $6, time_left = $7, round = $8, updated_at = now()
WHERE game_id = $1`

	insertOutboxSQL = `
INSERT INTO game_outbox (id, game_id, event_type, payload, created_at)
VALUES ($1, $2, $3, $4, $5)`

	notifySQL = `SELECT pg_notify($1, $2)`
)

// Postgres stores game state in the game_state table. Update holds a row lock for the
// duration of the UpdateFunc, so attempts are serialized across every process sharing the
// database, and records outbox events in the same transaction.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate applies Schema.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// queries binds the statements to one transaction.
type queries struct {
	tx pgx.Tx
}

func newQueries(tx pgx.Tx) *queries {
	return &queries{tx: tx}
}

func (p *Postgres) Init(ctx context.Context, st *models.GameState) (bool, error) {
	args, err := stateArgs(st)
	if err != nil {
		return false, err
	}
	tag, err := p.pool.Exec(ctx, insertStateSQL,
		st.GameID, string(st.BeneficiaryToken), string(st.EscrowAccount), args.lastBuyer,
		args.keyPrice, args.keysSold, args.pot, args.lastUpdate, args.timeLeft, args.round,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert game state: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) Load(ctx context.Context, gameID uuid.UUID) (*models.GameState, error) {
	return scanState(p.pool.QueryRow(ctx, selectStateSQL, gameID))
}

func (p *Postgres) Update(ctx context.Context, gameID uuid.UUID, fn UpdateFunc) error {
	return sqlutil.Run(ctx, p.pool, newQueries, func(q *queries) error {
		st, err := q.lockState(ctx, gameID)
		if err != nil {
			return err
		}
		evts, err := fn(st)
		if err != nil {
			return err
		}
		if err := q.saveState(ctx, st); err != nil {
			return err
		}
		for _, e := range evts {
			if err := q.insertOutbox(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (q *queries) lockState(ctx context.Context, gameID uuid.UUID) (*models.GameState, error) {
	return scanState(q.tx.QueryRow(ctx, selectStateSQL+" FOR UPDATE", gameID))
}

func (q *queries) saveState(ctx context.Context, st *models.GameState) error {
	args, err := stateArgs(st)
	if err != nil {
		return err
	}
	tag, err := q.tx.Exec(ctx, updateStateSQL,
		st.GameID, args.lastBuyer, args.keyPrice, args.keysSold, args.pot,
		args.lastUpdate, args.timeLeft, args.round,
	)
	if err != nil {
		return fmt.Errorf("failed to update game state: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s", ErrGameNotFound, st.GameID)
	}
	return nil
}

func (q *queries) insertOutbox(ctx context.Context, e events.OutboxEvent) error {
	if _, err := q.tx.Exec(ctx, insertOutboxSQL, e.ID, e.GameID, e.EventType, []byte(e.Payload), e.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", e.EventType, err)
	}
	// Delivered on commit only.
	if _, err := q.tx.Exec(ctx, notifySQL, OutboxNotifyChannel, e.ID.String()); err != nil {
		return fmt.Errorf("failed to notify outbox listener: %w", err)
	}
	return nil
}

type stateColumns struct {
	lastBuyer  string
	keyPrice   string
	keysSold   string
	pot        string
	lastUpdate int64
	timeLeft   int64
	round      int64
}

func stateArgs(st *models.GameState) (stateColumns, error) {
	lastUpdate, err := sqlutil.ToBigint(st.LastUpdate)
	if err != nil {
		return stateColumns{}, fmt.Errorf("last_update: %w", err)
	}
	timeLeft, err := sqlutil.ToBigint(st.TimeLeft)
	if err != nil {
		return stateColumns{}, fmt.Errorf("time_left: %w", err)
	}
	round, err := sqlutil.ToBigint(st.Round)
	if err != nil {
		return stateColumns{}, fmt.Errorf("round: %w", err)
	}
	return stateColumns{
		lastBuyer:  string(st.LastBuyer),
		keyPrice:   sqlutil.ToNumeric(st.KeyPrice),
		keysSold:   sqlutil.ToNumeric(st.KeysSold),
		pot:        sqlutil.ToNumeric(st.Pot),
		lastUpdate: lastUpdate,
		timeLeft:   timeLeft,
		round:      round,
	}, nil
}

func scanState(row pgx.Row) (*models.GameState, error) {
	var (
		st                        models.GameState
		token, escrow, lastBuyer  string
		keyPrice, keysSold, pot   string
		lastUpdate, timeLeft, rnd int64
	)
	err := row.Scan(&st.GameID, &token, &escrow, &lastBuyer, &keyPrice, &keysSold, &pot,
		&lastUpdate, &timeLeft, &rnd, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("failed to scan game state: %w", err)
	}

	st.BeneficiaryToken = models.Token(token)
	st.EscrowAccount = models.Account(escrow)
	st.LastBuyer = models.Account(lastBuyer)
	if st.KeyPrice, err = sqlutil.FromNumeric(keyPrice); err != nil {
		return nil, err
	}
	if st.KeysSold, err = sqlutil.FromNumeric(keysSold); err != nil {
		return nil, err
	}
	if st.Pot, err = sqlutil.FromNumeric(pot); err != nil {
		return nil, err
	}
	if st.LastUpdate, err = sqlutil.FromBigint(lastUpdate); err != nil {
		return nil, err
	}
	if st.TimeLeft, err = sqlutil.FromBigint(timeLeft); err != nil {
		return nil, err
	}
	if st.Round, err = sqlutil.FromBigint(rnd); err != nil {
		return nil, err
	}
	return &st, nil
}
