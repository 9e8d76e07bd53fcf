// Package audit records security-relevant actions for compliance and incident response.
//
// # Overview
//
// Every entry is written twice: first as a structured log line, then durably to a Store.
// The durable write runs on a background worker pool and never blocks or fails the request
// that produced it. Failed writes are logged, counted, and dropped.
//
// # Entries
//
// Entries are built with the family constructors, which fill the resource conventions:
//
//	logger.Record(ctx, audit.InvoiceEvent(audit.ActionInvoiceSent, userID, workspaceID, invoiceID).
//		With("recipient", "billing@example.com"))
//
//	logger.Record(ctx, audit.SchedulerEvent(audit.ActionSchedulerRun, "reminders"))
//
// Request id and client IP are copied from the context when the entry does not carry them.
// An entry without a user is attributed to the anonymous sentinel.
//
// # Stores
//
//   - DBStore appends to the audit_logs table in Postgres
//   - FileStore appends newline-delimited JSON with size based rotation
//   - MultiStore fans out to several stores
//   - MemoryStore keeps entries in process, for tests and local runs
//
// # Shutdown
//
// Close drains queued writes before closing the store:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	_ = logger.Close(ctx)
package audit
