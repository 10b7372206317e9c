//go:build postgres_integration

package store

import (
	"os"
	"testing"

	"carrierlink/internal/events"
)

func TestPostgresConnectivityAndMigrate(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer p.Close()
	if err := p.Ping(t.Context()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := p.Migrate(t.Context()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	evt := events.New(events.Connected, "ITST", map[string]any{"probe": true})
	if err := p.AppendEvent(t.Context(), evt); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	out, err := p.ListEvents(t.Context(), EventFilter{CarrierID: "ITST", Limit: 1})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(out) != 1 || out[0].ID != evt.ID {
		t.Fatalf("expected %s back, got %+v", evt.ID, out)
	}
}
