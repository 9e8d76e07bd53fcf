// Package guard composes rate limiting, authentication, workspace authorization,
// input validation, cooldowns and audit logging around API handlers.
//
// Every guarded request runs the same fixed sequence and stops at the first failure:
//
//	rate_limit -> authn_authz -> validate -> cooldown -> handler -> audit -> response
//
// Three variants share it. Secure routes resolve the session, the workspace and the
// route's permission. Public routes skip authentication. Cron routes replace it with
// the shared-secret check and are never rate limited.
//
// Usage:
//
//	p, err := guard.New(guard.Deps{Limiter: limiter, Identities: resolver, Workspaces: authz})
//	router.Handle("/api/workspaces/{workspace_id}/invoices/{invoice_id}/send", p.Secure(guard.Route{
//		Name:       "invoice.send",
//		Profile:    ratelimit.ProfileEmailSend,
//		Permission: workspace.PermSendInvoices,
//		Body:       guard.Bind[SendInvoiceRequest](),
//	}, sendInvoice)).Methods(http.MethodPost)
//
// Every failure leaves the pipeline as an *Error, whose Kind maps to exactly one
// HTTP status. Unclassified errors and handler panics become a 500 whose body
// carries only the request id.
package guard
