package audit

import (
	"context"
	"testing"

	"github.com/dunamis-labs/agenda-core/internal/notify"
)

type fakeEmailSender struct {
	sent []notify.EmailMessage
	err  error
}

func (f *fakeEmailSender) Send(ctx context.Context, msg notify.EmailMessage) error {
	f.sent = append(f.sent, msg)
	return f.err
}

func TestNotifyAuditReportSendsToConfiguredRecipients(t *testing.T) {
	sender := &fakeEmailSender{}
	n := NewEmailNotifier(sender, func(tenantID string) []string { return []string{"ops@example.com"} }, nil)

	report := Report{TenantID: "t1", Days: []DayReport{
		{Date: "2025-02-14", Divergences: []Divergence{{Type: MissingNotification, Severity: SeverityHigh, Detail: "x"}}},
	}}
	if err := n.NotifyAuditReport(context.Background(), "t1", report); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].To != "ops@example.com" {
		t.Fatalf("unexpected sends %+v", sender.sent)
	}
}

func TestNotifyAuditReportSkipsWhenNoRecipients(t *testing.T) {
	sender := &fakeEmailSender{}
	n := NewEmailNotifier(sender, func(tenantID string) []string { return nil }, nil)

	report := Report{TenantID: "t1"}
	if err := n.NotifyAuditReport(context.Background(), "t1", report); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected no sends, got %d", len(sender.sent))
	}
}

func TestRenderSummaryReportsNoDivergences(t *testing.T) {
	report := Report{TenantID: "t1", Days: []DayReport{{Date: "2025-02-14"}}}
	body := renderSummary(report)
	if body == "" {
		t.Fatal("expected non-empty summary")
	}
}
