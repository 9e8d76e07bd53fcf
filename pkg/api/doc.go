// Package api exposes the invoicing endpoints behind the guard pipeline.
//
// # Routes
//
// Every business route is registered through guard.Pipeline, so rate limiting,
// authentication, workspace permission, validation, cooldowns and audit run
// before and after the handler:
//
//   - POST /api/workspaces/{workspace_id}/invoices/{invoice_id}/send (canSendInvoices, emailSend per user, invoiceSend cooldown)
//   - GET  /api/workspaces/{workspace_id}/invoices (any member, validated query)
//   - POST /api/workspaces/{workspace_id}/members (canManageMembers, general per workspace, memberInvite cooldown)
//   - POST /api/workspaces/{workspace_id}/extract (canUseAI, aiExtract per workspace)
//   - GET  /api/workspaces/{workspace_id}/audit-log (canViewAuditLog)
//   - POST /api/auth/verification-email (public, auth per IP, verificationEmail cooldown)
//   - POST /api/internal/cron/reminders (scheduler secret, reminderEmail cooldown per invoice)
//
// /healthz, /readyz and /metrics are registered outside the pipeline.
//
// # Side effects
//
// Handlers never send mail or call AI providers themselves. They hand work to a
// Notifier; LogNotifier records what would have been sent.
//
// # Usage
//
//	server, err := api.NewServer(api.Deps{
//		Pipeline:  pipeline,
//		Cooldowns: cooldowns,
//		Notifier:  api.NewLogNotifier(logger),
//		Logger:    logger,
//	})
//	http.ListenAndServe(":8080", server.Handler())
package api
