package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"carrierlink/internal/events"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// NewPostgresDB wraps an already opened handle.
func NewPostgresDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

const schema = `
CREATE TABLE IF NOT EXISTS integration_events (
    id          uuid PRIMARY KEY,
    carrier_id  text NOT NULL,
    type        text NOT NULL,
    occurred_at timestamptz NOT NULL,
    data        jsonb
);
CREATE INDEX IF NOT EXISTS integration_events_carrier_time ON integration_events (carrier_id, occurred_at DESC);
CREATE TABLE IF NOT EXISTS webhook_receipts (
    carrier_id  text NOT NULL,
    dedup_key   text NOT NULL,
    event_type  text,
    verified    boolean NOT NULL DEFAULT false,
    payload     bytea,
    received_at timestamptz NOT NULL,
    PRIMARY KEY (carrier_id, dedup_key)
);`

// Migrate creates the event log tables when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) AppendEvent(ctx context.Context, evt events.Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return fmt.Errorf("encode event data: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO integration_events (id, carrier_id, type, occurred_at, data) VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (id) DO NOTHING`, evt.ID, evt.CarrierID, evt.Type, evt.Time, data)
	return err
}

func (p *Postgres) ListEvents(ctx context.Context, f EventFilter) ([]events.Event, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.CarrierID != "" {
		add("carrier_id=$%d", f.CarrierID)
	}
	if f.Type != "" {
		add("type=$%d", f.Type)
	}
	if !f.Since.IsZero() {
		add("occurred_at >= $%d", f.Since)
	}
	q := `SELECT id::text, carrier_id, type, occurred_at, data FROM integration_events`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, f.limit())
	q += fmt.Sprintf(" ORDER BY occurred_at DESC LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []events.Event{}
	for rows.Next() {
		var evt events.Event
		var data []byte
		if err := rows.Scan(&evt.ID, &evt.CarrierID, &evt.Type, &evt.Time, &data); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &evt.Data); err != nil {
				return nil, fmt.Errorf("decode event %s: %w", evt.ID, err)
			}
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

func (p *Postgres) EventCounts(ctx context.Context, carrierID string) (map[string]int, error) {
	var rows *sql.Rows
	var err error
	if carrierID != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT type, count(*) FROM integration_events WHERE carrier_id=$1 GROUP BY type`, carrierID)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT type, count(*) FROM integration_events GROUP BY type`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}

func (p *Postgres) RecordWebhook(ctx context.Context, r WebhookReceipt) (WebhookReceipt, bool, error) {
	r = prepareReceipt(r)
	res, err := p.db.ExecContext(ctx, `INSERT INTO webhook_receipts (carrier_id, dedup_key, event_type, verified, payload, received_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (carrier_id, dedup_key) DO NOTHING`, r.CarrierID, r.DedupKey, nullIfEmpty(r.EventType), r.Verified, r.Payload, r.ReceivedAt)
	if err != nil {
		return WebhookReceipt{}, false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		prev, err := p.GetWebhook(ctx, r.CarrierID, r.DedupKey)
		if err != nil {
			return WebhookReceipt{}, false, err
		}
		return prev, true, nil
	}
	return r, false, nil
}

func (p *Postgres) GetWebhook(ctx context.Context, carrierID, dedupKey string) (WebhookReceipt, error) {
	r := WebhookReceipt{CarrierID: carrierID, DedupKey: dedupKey}
	var typ sql.NullString
	err := p.db.QueryRowContext(ctx, `SELECT event_type, verified, payload, received_at FROM webhook_receipts WHERE carrier_id=$1 AND dedup_key=$2`,
		carrierID, dedupKey).Scan(&typ, &r.Verified, &r.Payload, &r.ReceivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return WebhookReceipt{}, ErrNotFound
	}
	if err != nil {
		return WebhookReceipt{}, err
	}
	r.EventType = typ.String
	return r, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
