package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestEnqueueInsertsNewRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	runAt := time.Date(2025, 2, 9, 6, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"id"})
	mock.ExpectQuery("INSERT INTO message_jobs").
		WithArgs(echoID{rows}, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(rows)

	id, err := store.Enqueue(context.Background(), EnqueueInput{
		TenantID:  "t1",
		Phone:     "5571900000001",
		Kind:      KindPreVisit,
		BookingID: "ap1",
		RunAt:     runAt,
		Payload:   Payload{AppointmentID: "ap1", Service: "Corte"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected non-nil id")
	}
}

// echoID matches the id argument Enqueue generates and returns it as the
// RETURNING row, as Postgres does for a freshly inserted row.
type echoID struct{ rows *pgxmock.Rows }

func (e echoID) Match(v any) bool {
	e.rows.AddRow(v)
	return true
}

func TestEnqueueConflictReturnsExistingID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	existing := uuid.New()

	mock.ExpectQuery("INSERT INTO message_jobs").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(existing))

	id, err := store.Enqueue(context.Background(), EnqueueInput{
		TenantID:  "t1",
		Phone:     "5571900000001",
		Kind:      KindPreVisit,
		BookingID: "ap1",
		RunAt:     time.Now(),
	})
	if err != ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if id != existing {
		t.Fatalf("expected existing id %s, got %s", existing, id)
	}
}

func TestCommitSentRequiresPendingRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	id := uuid.New()

	mock.ExpectExec("UPDATE message_jobs SET state = 'sent'").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := store.CommitSent(context.Background(), id); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCommitRetryNeverMovesRunAtEarlier(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	id := uuid.New()
	next := time.Now().Add(2 * time.Second)

	mock.ExpectExec(`run_at = GREATEST\(run_at, \$3\)`).
		WithArgs(id, "transient error", next).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := store.CommitRetry(context.Background(), id, "transient error", next); err != nil {
		t.Fatalf("commit retry: %v", err)
	}
}
