package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"whisper-desk/internal/logging"
	"whisper-desk/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "history.db"), logging.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func report(session, model string, kind models.OutcomeKind, finished time.Time) models.DownloadReport {
	return models.DownloadReport{
		SessionID:     session,
		ModelID:       model,
		StartedAt:     finished.Add(-time.Minute),
		FinishedAt:    finished,
		BytesReceived: 42,
		Outcome:       models.Outcome{Kind: kind, SizeBytes: 42},
	}
}

// TestStoreRecordsAndListsNewestFirst checks ordering and field mapping.
func TestStoreRecordsAndListsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.DownloadFinished(report("s1", "tiny", models.OutcomeSucceeded, base))
	s.DownloadFinished(report("s2", "base", models.OutcomeCancelled, base.Add(time.Hour)))
	failed := report("s3", "base", models.OutcomeFailed, base.Add(2*time.Hour))
	failed.Outcome = models.Outcome{Kind: models.OutcomeFailed, Reason: "unexpected HTTP status: 503"}
	s.DownloadFinished(failed)

	got, err := s.List(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("records = %d, want 3", len(got))
	}
	if got[0].SessionID != "s3" || got[1].SessionID != "s2" || got[2].SessionID != "s1" {
		t.Fatalf("order = %s %s %s", got[0].SessionID, got[1].SessionID, got[2].SessionID)
	}
	if got[0].Outcome != "failed" || got[0].Reason != "unexpected HTTP status: 503" {
		t.Fatalf("failed record = %+v", got[0])
	}
	if got[2].Duration() != time.Minute {
		t.Fatalf("duration = %s, want 1m", got[2].Duration())
	}
}

// TestStoreListFiltersByModelAndLimit narrows the ledger.
func TestStoreListFiltersByModelAndLimit(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d"} {
		if err := s.Add(context.Background(), report(id, "base", models.OutcomeSucceeded, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := s.Add(context.Background(), report("e", "small", models.OutcomeSucceeded, base)); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := s.List(context.Background(), "base", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].SessionID != "d" || got[1].SessionID != "c" {
		t.Fatalf("records = %+v", got)
	}
}

// TestStoreRejectsDuplicateSession keeps one record per session.
func TestStoreRejectsDuplicateSession(t *testing.T) {
	s := openTestStore(t)
	r := report("same", "tiny", models.OutcomeSucceeded, time.Now())
	if err := s.Add(context.Background(), r); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := s.Add(context.Background(), r); err == nil {
		t.Fatal("expected duplicate session error")
	}
}
