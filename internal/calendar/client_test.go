package calendar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := New(Config{BaseURL: server.URL, APIKey: "test-key", HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestListAppointmentsDecodesPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/appointments" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"id":"ap1","status":"scheduled","start":"2025-02-09T10:00:00Z","phone":"5571900000001"}],"total_pages":2}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	page, err := client.ListAppointments(context.Background(), time.Now(), time.Now().Add(24*time.Hour), 1)
	if err != nil {
		t.Fatalf("list appointments: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "ap1" {
		t.Fatalf("unexpected page: %#v", page)
	}
	if page.TotalPages != 2 {
		t.Fatalf("expected 2 total pages, got %d", page.TotalPages)
	}
}

func TestRebookReturnsErrConflictOn409(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.Rebook(context.Background(), "ap1", time.Now(), "svc1", "prof1", "idem-key")
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := err.(*ErrConflict); !ok {
		t.Fatalf("expected *ErrConflict, got %T", err)
	}
}

func TestRebookSendsIdempotencyKeyHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Idempotency-Key"); got != "idem-key" {
			t.Fatalf("expected idempotency key header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"appointment_id":"ap1","start":"2025-02-10T10:00:00Z"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	booking, err := client.Rebook(context.Background(), "ap1", time.Now(), "svc1", "prof1", "idem-key")
	if err != nil {
		t.Fatalf("rebook: %v", err)
	}
	if booking.AppointmentID != "ap1" {
		t.Fatalf("unexpected booking: %#v", booking)
	}
}

func TestSearchSlotsDecodesSlots(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"slots":[{"start":"2025-02-11T10:00:00Z","professional_id":"prof1"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	slots, err := client.SearchSlots(context.Background(), "svc1", "prof1", time.Now(), 3)
	if err != nil {
		t.Fatalf("search slots: %v", err)
	}
	if len(slots) != 1 || slots[0].ProfessionalID != "prof1" {
		t.Fatalf("unexpected slots: %#v", slots)
	}
}
