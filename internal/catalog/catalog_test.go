package catalog

import (
	"context"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestUpsertNormalizesNameOnWrite(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	s := NewStore(mock)
	mock.ExpectExec("INSERT INTO service_catalog").
		WithArgs("t1", "svc1", "  Corte de Cabelo  ", "corte de cabelo", true, true, 30, int64(5000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = s.Upsert(context.Background(), Entry{
		TenantID:        "t1",
		ServiceID:       "svc1",
		RawName:         "  Corte de Cabelo  ",
		Active:          true,
		ClientVisible:   true,
		DurationMinutes: 30,
		PriceCents:      5000,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
}

func TestFindByNameNormalizesQuery(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	s := NewStore(mock)
	rows := pgxmock.NewRows([]string{"id", "tenant_id", "service_id", "raw_name", "normalized_name", "active", "client_visible", "duration_minutes", "price_cents"}).
		AddRow(int64(1), "t1", "svc1", "Corte de Cabelo", "corte de cabelo", true, true, 30, int64(5000))
	mock.ExpectQuery("SELECT id, tenant_id, service_id, raw_name, normalized_name, active, client_visible, duration_minutes, price_cents").
		WithArgs("t1", "corte de cabelo").
		WillReturnRows(rows)

	e, err := s.FindByName(context.Background(), "t1", "  CORTE DE CABELO  ")
	if err != nil {
		t.Fatalf("find by name: %v", err)
	}
	if e.ServiceID != "svc1" {
		t.Fatalf("unexpected entry %+v", e)
	}
}

func TestFindByNameReturnsErrNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	s := NewStore(mock)
	mock.ExpectQuery("SELECT id, tenant_id, service_id, raw_name, normalized_name, active, client_visible, duration_minutes, price_cents").
		WillReturnRows(pgxmock.NewRows([]string{"id", "tenant_id", "service_id", "raw_name", "normalized_name", "active", "client_visible", "duration_minutes", "price_cents"}))

	_, err = s.FindByName(context.Background(), "t1", "inexistente")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNormalizeTrimsAndCaseFolds(t *testing.T) {
	if got := Normalize("  Corte de Cabelo  "); got != "corte de cabelo" {
		t.Fatalf("unexpected normalize result %q", got)
	}
}
