package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carrierlink/internal/events"
)

func TestComputeDedupKeyFromID(t *testing.T) {
	assert.Equal(t, "evt_123", computeDedupKey([]byte(`{"id":"evt_123","type":"x"}`)))
	assert.Equal(t, "E9", computeDedupKey([]byte(`{"eventId":"E9"}`)))
}

func TestComputeDedupKeyFromHash(t *testing.T) {
	got := computeDedupKey([]byte(`{"notId":"x"}`))
	b, err := hex.DecodeString(got)
	require.NoError(t, err)
	assert.Len(t, b, 8)
	assert.Equal(t, got, computeDedupKey([]byte(`{"notId":"x"}`)))

	edi := computeDedupKey([]byte("ISA*00*~"))
	assert.Len(t, edi, 16)
}

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresDB(db), mock
}

func TestPostgresAppendEvent(t *testing.T) {
	p, mock := newMock(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO integration_events`).
		WithArgs("6f1c1c2e-0000-4000-8000-000000000001", "MAEU", events.Retry, at, []byte(`{"attempt":1}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := p.AppendEvent(context.Background(), events.Event{
		ID: "6f1c1c2e-0000-4000-8000-000000000001", Type: events.Retry, CarrierID: "MAEU", Time: at,
		Data: map[string]any{"attempt": 1},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListEventsBuildsFilter(t *testing.T) {
	p, mock := newMock(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "carrier_id", "type", "occurred_at", "data"}).
		AddRow("e2", "MSCU", events.Connected, at.Add(time.Minute), []byte(`{"ok":true}`)).
		AddRow("e1", "MSCU", events.Connected, at, nil)
	mock.ExpectQuery(`FROM integration_events WHERE carrier_id=\$1 AND type=\$2 AND occurred_at >= \$3 ORDER BY occurred_at DESC LIMIT \$4`).
		WithArgs("MSCU", events.Connected, at, 5).
		WillReturnRows(rows)

	out, err := p.ListEvents(context.Background(), EventFilter{CarrierID: "MSCU", Type: events.Connected, Since: at, Limit: 5})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "e2", out[0].ID)
	assert.Equal(t, true, out[0].Data["ok"])
	assert.Nil(t, out[1].Data)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListEventsDefaultLimit(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(`FROM integration_events ORDER BY occurred_at DESC LIMIT \$1`).
		WithArgs(defaultListLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "carrier_id", "type", "occurred_at", "data"}))

	out, err := p.ListEvents(context.Background(), EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, out)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEventCounts(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(`SELECT type, count\(\*\) FROM integration_events WHERE carrier_id=\$1 GROUP BY type`).
		WithArgs("MAEU").
		WillReturnRows(sqlmock.NewRows([]string{"type", "count"}).AddRow(events.Request, 7).AddRow(events.Retry, 2))

	counts, err := p.EventCounts(context.Background(), "MAEU")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{events.Request: 7, events.Retry: 2}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordWebhookDuplicate(t *testing.T) {
	p, mock := newMock(t)
	first := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	payload := []byte(`{"id":"wh-1","eventType":"SHIPMENT_UPDATE"}`)

	mock.ExpectExec(`INSERT INTO webhook_receipts`).
		WithArgs("MAEU", "wh-1", "SHIPMENT_UPDATE", true, payload, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO webhook_receipts`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM webhook_receipts WHERE carrier_id=\$1 AND dedup_key=\$2`).
		WithArgs("MAEU", "wh-1").
		WillReturnRows(sqlmock.NewRows([]string{"event_type", "verified", "payload", "received_at"}).
			AddRow("SHIPMENT_UPDATE", true, payload, first))

	r := WebhookReceipt{CarrierID: "MAEU", EventType: "SHIPMENT_UPDATE", Verified: true, Payload: payload}
	got, dup, err := p.RecordWebhook(context.Background(), r)
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, "wh-1", got.DedupKey)

	got, dup, err = p.RecordWebhook(context.Background(), r)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, first, got.ReceivedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetWebhookNotFound(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(`FROM webhook_receipts`).WillReturnError(sql.ErrNoRows)

	_, err := p.GetWebhook(context.Background(), "MAEU", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresMigrate(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS integration_events`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, p.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
