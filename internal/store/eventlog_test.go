package store

import (
	"context"
	"testing"
)

func TestEventLogAppendAndFetch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// 1. Append three events. The ids sort against append order on purpose:
	// fetch order must come from insertion, not from id or timestamp.
	events := []struct {
		id, typ string
		payload string
	}{
		{"z1", "task:create", `{"task":{"id":"t1"}}`},
		{"a2", "task:update", `{"taskId":"t1"}`},
		{"m3", "task:complete", `{"taskId":"t1"}`},
	}
	for _, ev := range events {
		if err := s.AppendEvent(ctx, ev.id, ev.typ, []byte(ev.payload)); err != nil {
			t.Fatalf("Failed to append %s: %v", ev.id, err)
		}
	}

	// 2. Fetch preserves append order
	records, err := s.FetchUnprocessed(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	for i, ev := range events {
		if records[i].ID != ev.id || records[i].Type != ev.typ {
			t.Errorf("Record %d: expected %s/%s, got %s/%s", i, ev.id, ev.typ, records[i].ID, records[i].Type)
		}
	}

	// 3. Limit caps the result
	records, err = s.FetchUnprocessed(ctx, 2)
	if err != nil {
		t.Fatalf("Failed to fetch with limit: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("Expected 2 records with limit, got %d", len(records))
	}

	// 4. Marking processed hides records from future fetches
	if err := s.MarkProcessed(ctx, []string{"z1", "a2"}); err != nil {
		t.Fatalf("Failed to mark processed: %v", err)
	}
	records, err = s.FetchUnprocessed(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to fetch after mark: %v", err)
	}
	if len(records) != 1 || records[0].ID != "m3" {
		t.Errorf("Expected only m3 unprocessed, got %+v", records)
	}

	// 5. Clearing empties the log entirely
	if err := s.ClearEventLog(ctx); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}
	records, err = s.FetchUnprocessed(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to fetch after clear: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected empty log, got %d", len(records))
	}
}

func TestMarkProcessedEmpty(t *testing.T) {
	s := openTestStore(t)

	// No-op with no ids
	if err := s.MarkProcessed(context.Background(), nil); err != nil {
		t.Errorf("Expected nil error for empty ids, got %v", err)
	}
}
