package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/invoicely/gatekeeper/pkg/audit"
	"github.com/invoicely/gatekeeper/pkg/guard"
	"github.com/invoicely/gatekeeper/pkg/observability"
	"github.com/invoicely/gatekeeper/pkg/ratelimit"
)

// sendInvoice handles POST /api/workspaces/{workspace_id}/invoices/{invoice_id}/send
func (s *Server) sendInvoice(ctx context.Context, req *guard.Request) (*guard.Response, error) {
	body := guard.BodyOf[SendInvoiceRequest](req)
	recipients := append([]string{body.Recipient}, body.CC...)

	delivery := InvoiceDelivery{
		WorkspaceID: req.Workspace.Workspace().ID,
		InvoiceID:   req.Vars[varInvoiceID],
		SentBy:      req.Identity.ID,
		Recipients:  recipients,
		Subject:     body.Subject,
		Message:     body.Message,
	}
	if err := s.notifier.SendInvoice(ctx, delivery); err != nil {
		return nil, fmt.Errorf("send invoice %s: %w", delivery.InvoiceID, err)
	}

	return guard.JSON(http.StatusAccepted, SendInvoiceResponse{
		InvoiceID:  delivery.InvoiceID,
		Status:     "queued",
		Recipients: recipients,
	}), nil
}

func invoiceSentAudit(req *guard.Request, resp *guard.Response) []audit.Entry {
	sent, _ := resp.Body.(SendInvoiceResponse)
	return []audit.Entry{
		audit.InvoiceEvent(audit.ActionInvoiceSent, "", "", req.Vars[varInvoiceID]).
			With("recipients", len(sent.Recipients)),
	}
}

// listInvoices handles GET /api/workspaces/{workspace_id}/invoices
func (s *Server) listInvoices(ctx context.Context, req *guard.Request) (*guard.Response, error) {
	filter := InvoiceFilter{
		Status: req.Query.String("status"),
		Limit:  req.Query.Int("limit"),
		Offset: req.Query.Int("offset"),
	}

	invoices, total, err := s.invoices.List(ctx, req.Workspace.Workspace().ID, filter)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}

	return guard.JSON(http.StatusOK, ListInvoicesResponse{
		Invoices: invoices,
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}), nil
}

// inviteMember handles POST /api/workspaces/{workspace_id}/members
func (s *Server) inviteMember(ctx context.Context, req *guard.Request) (*guard.Response, error) {
	body := guard.BodyOf[InviteMemberRequest](req)

	inv := Invitation{
		ID:          uuid.NewString(),
		WorkspaceID: req.Workspace.Workspace().ID,
		InvitedBy:   req.Identity.ID,
		Email:       strings.ToLower(body.Email),
		Role:        body.Role,
	}
	if err := s.notifier.InviteMember(ctx, inv); err != nil {
		return nil, fmt.Errorf("invite member: %w", err)
	}

	return guard.JSON(http.StatusCreated, InviteMemberResponse{
		InvitationID: inv.ID,
		Email:        inv.Email,
		Role:         inv.Role,
	}), nil
}

// inviteCooldownKey throttles repeat invitations of one address into one workspace
func inviteCooldownKey(req *guard.Request) string {
	body := guard.BodyOf[InviteMemberRequest](req)
	if body == nil || req.Workspace == nil {
		return ""
	}
	return req.Workspace.Workspace().ID + ":" + strings.ToLower(body.Email)
}

func memberInvitedAudit(_ *guard.Request, resp *guard.Response) []audit.Entry {
	inv, _ := resp.Body.(InviteMemberResponse)
	return []audit.Entry{
		audit.MembershipEvent(audit.ActionMemberInvited, "", "", inv.InvitationID).
			With("invitee_email", inv.Email).
			With("role", inv.Role),
	}
}

// extractInvoice handles POST /api/workspaces/{workspace_id}/extract
func (s *Server) extractInvoice(ctx context.Context, req *guard.Request) (*guard.Response, error) {
	body := guard.BodyOf[ExtractRequest](req)

	job := Extraction{
		JobID:       uuid.NewString(),
		WorkspaceID: req.Workspace.Workspace().ID,
		RequestedBy: req.Identity.ID,
		DocumentURL: body.DocumentURL,
		ContentType: body.ContentType,
		Language:    body.Language,
	}
	if err := s.notifier.RequestExtraction(ctx, job); err != nil {
		return nil, fmt.Errorf("request extraction: %w", err)
	}

	return guard.JSON(http.StatusAccepted, ExtractResponse{JobID: job.JobID, Status: "queued"}), nil
}

func extractionAudit(_ *guard.Request, resp *guard.Response) []audit.Entry {
	job, _ := resp.Body.(ExtractResponse)
	return []audit.Entry{audit.InvoiceEvent(audit.ActionInvoiceExtracted, "", "", "").With("job_id", job.JobID)}
}

// listAuditLog handles GET /api/workspaces/{workspace_id}/audit-log
func (s *Server) listAuditLog(ctx context.Context, req *guard.Request) (*guard.Response, error) {
	entries, err := s.auditLog.Recent(ctx, req.Workspace.Workspace().ID, req.Query.Int("limit"))
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	return guard.JSON(http.StatusOK, map[string]interface{}{"entries": entries}), nil
}

// sendVerificationEmail handles POST /api/auth/verification-email.
// The response is the same whether or not the address has an account.
func (s *Server) sendVerificationEmail(ctx context.Context, req *guard.Request) (*guard.Response, error) {
	body := guard.BodyOf[VerificationEmailRequest](req)
	if err := s.notifier.SendVerificationEmail(ctx, strings.ToLower(body.Email)); err != nil {
		return nil, fmt.Errorf("send verification email: %w", err)
	}
	return guard.JSON(http.StatusAccepted, map[string]string{"status": "sent"}), nil
}

func verificationCooldownKey(req *guard.Request) string {
	body := guard.BodyOf[VerificationEmailRequest](req)
	if body == nil {
		return ""
	}
	return strings.ToLower(body.Email)
}

func verificationAudit(req *guard.Request, _ *guard.Response) []audit.Entry {
	body := guard.BodyOf[VerificationEmailRequest](req)
	e := audit.AuthEvent(audit.ActionAuthVerificationEmailSent, "")
	if body != nil {
		e = e.With("email", strings.ToLower(body.Email))
	}
	return []audit.Entry{e}
}

// sendReminders handles POST /api/internal/cron/reminders.
// Each overdue invoice is reminded at most once per reminder cooldown.
func (s *Server) sendReminders(ctx context.Context, _ *guard.Request) (*guard.Response, error) {
	overdue, err := s.invoices.Overdue(ctx, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("load overdue invoices: %w", err)
	}

	log := observability.FromContext(ctx)
	var out RemindersResponse
	for _, inv := range overdue {
		res, err := s.cooldowns.Check(ctx, inv.ID, ratelimit.CooldownReminderEmail)
		if err != nil {
			return nil, err
		}
		if !res.Allowed {
			out.Skipped++
			continue
		}
		if err := s.notifier.SendReminder(ctx, inv); err != nil {
			out.Failed++
			log.WithError(err).WithField("invoice_id", inv.ID).Warn("Failed to send payment reminder")
			continue
		}
		out.Sent++
	}

	log.WithFields(map[string]interface{}{
		"sent":    out.Sent,
		"skipped": out.Skipped,
		"failed":  out.Failed,
	}).Info("Reminder run complete")
	return guard.JSON(http.StatusOK, out), nil
}

func remindersAudit(_ *guard.Request, resp *guard.Response) []audit.Entry {
	run, _ := resp.Body.(RemindersResponse)
	return []audit.Entry{
		audit.SchedulerEvent(audit.ActionSchedulerRemindersSent, "reminders").
			With("sent", run.Sent).
			With("skipped", run.Skipped).
			With("failed", run.Failed),
	}
}
