package api

import (
	"context"

	"github.com/invoicely/gatekeeper/pkg/observability"
)

// InvoiceDelivery is an invoice email to send
type InvoiceDelivery struct {
	WorkspaceID string
	InvoiceID   string
	SentBy      string
	Recipients  []string
	Subject     string
	Message     string
}

// Invitation is a pending workspace membership
type Invitation struct {
	ID          string
	WorkspaceID string
	InvitedBy   string
	Email       string
	Role        string
}

// Extraction is a document to run through invoice extraction
type Extraction struct {
	JobID       string
	WorkspaceID string
	RequestedBy string
	DocumentURL string
	ContentType string
	Language    string
}

// Notifier performs the side effects behind guarded routes
type Notifier interface {
	SendInvoice(ctx context.Context, d InvoiceDelivery) error
	InviteMember(ctx context.Context, inv Invitation) error
	RequestExtraction(ctx context.Context, x Extraction) error
	SendVerificationEmail(ctx context.Context, email string) error
	SendReminder(ctx context.Context, inv Invoice) error
}

// LogNotifier logs every effect instead of performing it
type LogNotifier struct {
	logger *observability.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *observability.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.WithField("component", "notifier")}
}

func (n *LogNotifier) log(ctx context.Context) *observability.Logger {
	return observability.UpdateLoggerWithTraceContext(ctx, n.logger)
}

// SendInvoice implements Notifier
func (n *LogNotifier) SendInvoice(ctx context.Context, d InvoiceDelivery) error {
	n.log(ctx).WithFields(map[string]interface{}{
		"workspace_id": d.WorkspaceID,
		"invoice_id":   d.InvoiceID,
		"sent_by":      d.SentBy,
		"recipients":   len(d.Recipients),
	}).Info("Invoice email queued")
	return nil
}

// InviteMember implements Notifier
func (n *LogNotifier) InviteMember(ctx context.Context, inv Invitation) error {
	n.log(ctx).WithFields(map[string]interface{}{
		"workspace_id":  inv.WorkspaceID,
		"invitation_id": inv.ID,
		"role":          inv.Role,
	}).Info("Invitation email queued")
	return nil
}

// RequestExtraction implements Notifier
func (n *LogNotifier) RequestExtraction(ctx context.Context, x Extraction) error {
	n.log(ctx).WithFields(map[string]interface{}{
		"workspace_id": x.WorkspaceID,
		"job_id":       x.JobID,
		"content_type": x.ContentType,
	}).Info("Extraction job queued")
	return nil
}

// SendVerificationEmail implements Notifier
func (n *LogNotifier) SendVerificationEmail(ctx context.Context, _ string) error {
	n.log(ctx).Info("Verification email queued")
	return nil
}

// SendReminder implements Notifier
func (n *LogNotifier) SendReminder(ctx context.Context, inv Invoice) error {
	n.log(ctx).WithFields(map[string]interface{}{
		"workspace_id": inv.WorkspaceID,
		"invoice_id":   inv.ID,
	}).Info("Payment reminder queued")
	return nil
}
