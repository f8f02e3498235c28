package registry

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists card records in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS card_registry (
    card_id TEXT PRIMARY KEY,
    instance_id TEXT NOT NULL,
    requester_index BIGINT NOT NULL,
    bank TEXT NOT NULL,
    cardholder TEXT NOT NULL,
    tx_limit BIGINT NOT NULL,
    month_limit BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Get(ctx context.Context, cardID string) (*Record, error) {
	row := p.pool.QueryRow(ctx, `
SELECT card_id, instance_id, requester_index, bank, cardholder, tx_limit, month_limit, created_at
FROM card_registry
WHERE card_id = $1
`, cardID)

	var rec Record
	if err := row.Scan(&rec.CardID, &rec.InstanceID, &rec.RequesterIndex, &rec.Bank,
		&rec.Cardholder, &rec.TxLimit, &rec.MonthLimit, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (p *PostgresStore) Save(ctx context.Context, record Record) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO card_registry (card_id, instance_id, requester_index, bank, cardholder, tx_limit, month_limit, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (card_id) DO UPDATE
SET instance_id = EXCLUDED.instance_id,
    requester_index = EXCLUDED.requester_index,
    bank = EXCLUDED.bank,
    cardholder = EXCLUDED.cardholder,
    tx_limit = EXCLUDED.tx_limit,
    month_limit = EXCLUDED.month_limit,
    created_at = EXCLUDED.created_at
`, record.CardID, record.InstanceID, record.RequesterIndex, record.Bank,
		record.Cardholder, record.TxLimit, record.MonthLimit, record.CreatedAt)
	return err
}

func (p *PostgresStore) List(ctx context.Context) ([]Record, error) {
	rows, err := p.pool.Query(ctx, `
SELECT card_id, instance_id, requester_index, bank, cardholder, tx_limit, month_limit, created_at
FROM card_registry
ORDER BY created_at
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.CardID, &rec.InstanceID, &rec.RequesterIndex, &rec.Bank,
			&rec.Cardholder, &rec.TxLimit, &rec.MonthLimit, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
