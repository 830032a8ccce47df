package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/dunamis-labs/agenda-core/internal/notify"
	"github.com/dunamis-labs/agenda-core/pkg/logging"
)

// EmailNotifier emails the divergence summary for a reconciliation run to a
// tenant's configured operator recipients.
type EmailNotifier struct {
	email      notify.EmailSender
	recipients func(tenantID string) []string
	logger     *logging.Logger
}

// NewEmailNotifier builds an audit report emailer. recipients resolves the
// operator addresses for a tenant at send time, so recipient configuration
// changes take effect on the next run without restarting the reconciler.
func NewEmailNotifier(email notify.EmailSender, recipients func(tenantID string) []string, logger *logging.Logger) *EmailNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &EmailNotifier{email: email, recipients: recipients, logger: logger}
}

// NotifyAuditReport emails a plain-text divergence summary. Divergences are
// evidence, not remediation, so the email is informational only.
func (n *EmailNotifier) NotifyAuditReport(ctx context.Context, tenantID string, report Report) error {
	if n.email == nil || n.recipients == nil {
		return nil
	}
	to := n.recipients(tenantID)
	if len(to) == 0 {
		return nil
	}

	subject := fmt.Sprintf("Reconciliation report: %d divergence(s) found", report.TotalDivergences())
	body := renderSummary(report)

	var errs []error
	for _, recipient := range to {
		msg := notify.EmailMessage{To: recipient, Subject: subject, Body: body}
		if err := n.email.Send(ctx, msg); err != nil {
			n.logger.Error("audit: send report email failed", "error", err, "to", recipient, "tenant_id", tenantID)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("audit: %d report email(s) failed", len(errs))
	}
	return nil
}

func renderSummary(report Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reconciliation report for %s\n\n", report.TenantID)
	for _, day := range report.Days {
		if len(day.Divergences) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s (%d appointments, %d notifications checked):\n", day.Date, day.Appointments, day.Notifications)
		for _, d := range day.Divergences {
			fmt.Fprintf(&b, "  [%s/%s] %s", d.Severity, d.Type, d.Detail)
			if d.AppointmentID != "" {
				fmt.Fprintf(&b, " (appointment %s)", d.AppointmentID)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if report.TotalDivergences() == 0 {
		b.WriteString("No divergences found.\n")
	}
	return b.String()
}

var _ reportNotifier = (*EmailNotifier)(nil)
