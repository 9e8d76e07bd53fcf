package audit

import (
	"time"
)

// Action names the audited action
type Action string

const (
	// Authentication events
	ActionAuthLogin                 Action = "auth.login"
	ActionAuthLogout                Action = "auth.logout"
	ActionAuthVerificationEmailSent Action = "auth.verification_email_sent"

	// Workspace events
	ActionWorkspaceCreated Action = "workspace.created"
	ActionWorkspaceUpdated Action = "workspace.updated"
	ActionWorkspaceDeleted Action = "workspace.deleted"

	// Membership events
	ActionMemberInvited     Action = "membership.invited"
	ActionMemberRoleChanged Action = "membership.role_changed"
	ActionMemberRemoved     Action = "membership.removed"

	// Invoice events
	ActionInvoiceCreated   Action = "invoice.created"
	ActionInvoiceSent      Action = "invoice.sent"
	ActionInvoiceExtracted Action = "invoice.extracted"

	// Scheduler events
	ActionSchedulerRun           Action = "scheduler.run"
	ActionSchedulerRemindersSent Action = "scheduler.reminders_sent"
)

// ResourceType is the kind of resource an entry refers to
type ResourceType string

const (
	ResourceTypeUser       ResourceType = "user"
	ResourceTypeWorkspace  ResourceType = "workspace"
	ResourceTypeMembership ResourceType = "membership"
	ResourceTypeInvoice    ResourceType = "invoice"
	ResourceTypeScheduler  ResourceType = "scheduler"
)

const (
	// UserAnonymous attributes entries with no authenticated caller
	UserAnonymous = "anonymous"
	// UserSystem attributes entries produced by the scheduler
	UserSystem = "SYSTEM"
)

// Entry is one append-only audit record. The persisted shape is a durable
// contract with downstream consumers.
type Entry struct {
	UserID       string                 `json:"user_id"`
	Action       Action                 `json:"action"`
	WorkspaceID  string                 `json:"workspace_id,omitempty"`
	ResourceType ResourceType           `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	UserAgent    string                 `json:"user_agent,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// With returns a copy of e with one metadata key set. The receiver's map is not modified.
func (e Entry) With(key string, value interface{}) Entry {
	md := make(map[string]interface{}, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		md[k] = v
	}
	md[key] = value
	e.Metadata = md
	return e
}

// AuthEvent builds an entry about a user account
func AuthEvent(action Action, userID string) Entry {
	return Entry{
		UserID:       userID,
		Action:       action,
		ResourceType: ResourceTypeUser,
		ResourceID:   userID,
	}
}

// WorkspaceEvent builds an entry about a workspace
func WorkspaceEvent(action Action, userID, workspaceID string) Entry {
	return Entry{
		UserID:       userID,
		Action:       action,
		WorkspaceID:  workspaceID,
		ResourceType: ResourceTypeWorkspace,
		ResourceID:   workspaceID,
	}
}

// MembershipEvent builds an entry about a membership inside a workspace
func MembershipEvent(action Action, userID, workspaceID, membershipID string) Entry {
	return Entry{
		UserID:       userID,
		Action:       action,
		WorkspaceID:  workspaceID,
		ResourceType: ResourceTypeMembership,
		ResourceID:   membershipID,
	}
}

// InvoiceEvent builds an entry about an invoice
func InvoiceEvent(action Action, userID, workspaceID, invoiceID string) Entry {
	return Entry{
		UserID:       userID,
		Action:       action,
		WorkspaceID:  workspaceID,
		ResourceType: ResourceTypeInvoice,
		ResourceID:   invoiceID,
	}
}

// SchedulerEvent builds an entry for a scheduler job, attributed to the system identity
func SchedulerEvent(action Action, job string) Entry {
	return Entry{
		UserID:       UserSystem,
		Action:       action,
		ResourceType: ResourceTypeScheduler,
		ResourceID:   job,
	}
}

func (e Entry) fields() map[string]interface{} {
	f := map[string]interface{}{
		"audit_user_id": e.UserID,
		"audit_action":  string(e.Action),
		"audit_time":    e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if e.WorkspaceID != "" {
		f["workspace_id"] = e.WorkspaceID
	}
	if e.ResourceType != "" {
		f["resource_type"] = string(e.ResourceType)
		f["resource_id"] = e.ResourceID
	}
	if e.RequestID != "" {
		f["request_id"] = e.RequestID
	}
	if e.IPAddress != "" {
		f["ip_address"] = e.IPAddress
	}
	if len(e.Metadata) > 0 {
		f["metadata"] = e.Metadata
	}
	return f
}
