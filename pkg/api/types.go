package api

import "time"

// Path variables
const (
	varWorkspaceID = "workspace_id"
	varInvoiceID   = "invoice_id"
)

// SendInvoiceRequest is the body of POST /api/workspaces/{workspace_id}/invoices/{invoice_id}/send
type SendInvoiceRequest struct {
	Recipient string   `json:"recipient" validate:"required,email"`
	CC        []string `json:"cc" validate:"omitempty,max=5,dive,email"`
	Subject   string   `json:"subject" validate:"omitempty,max=200"`
	Message   string   `json:"message" validate:"omitempty,max=2000"`
}

// SendInvoiceResponse is returned once delivery is queued
type SendInvoiceResponse struct {
	InvoiceID  string   `json:"invoice_id"`
	Status     string   `json:"status"`
	Recipients []string `json:"recipients"`
}

// InviteMemberRequest is the body of POST /api/workspaces/{workspace_id}/members
type InviteMemberRequest struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required,oneof=admin member"`
}

// InviteMemberResponse describes the pending invitation
type InviteMemberResponse struct {
	InvitationID string `json:"invitation_id"`
	Email        string `json:"email"`
	Role         string `json:"role"`
}

// ExtractRequest is the body of POST /api/workspaces/{workspace_id}/extract
type ExtractRequest struct {
	DocumentURL string `json:"document_url" validate:"required,http_url"`
	ContentType string `json:"content_type" validate:"required,oneof=application/pdf image/png image/jpeg"`
	Language    string `json:"language" validate:"omitempty,len=2"`
}

// ExtractResponse identifies the extraction job
type ExtractResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// VerificationEmailRequest is the body of POST /api/auth/verification-email
type VerificationEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// Invoice is the summary the API exposes
type Invoice struct {
	ID            string    `json:"id"`
	WorkspaceID   string    `json:"workspace_id"`
	Number        string    `json:"number"`
	Status        string    `json:"status"`
	CustomerEmail string    `json:"customer_email"`
	TotalCents    int64     `json:"total_cents"`
	Currency      string    `json:"currency"`
	DueDate       time.Time `json:"due_date"`
}

// Invoice statuses
const (
	InvoiceDraft   = "draft"
	InvoiceSent    = "sent"
	InvoicePaid    = "paid"
	InvoiceOverdue = "overdue"
)

// InvoiceFilter narrows a listing
type InvoiceFilter struct {
	Status string
	Limit  int
	Offset int
}

// ListInvoicesResponse is a page of invoices
type ListInvoicesResponse struct {
	Invoices []Invoice `json:"invoices"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

// RemindersResponse summarizes one reminder run
type RemindersResponse struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}
