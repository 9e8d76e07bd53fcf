package api

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InvoiceLister reads invoices owned by the billing service
type InvoiceLister interface {
	List(ctx context.Context, workspaceID string, f InvoiceFilter) ([]Invoice, int, error)
	Overdue(ctx context.Context, asOf time.Time) ([]Invoice, error)
}

// MemoryInvoices is an in-process InvoiceLister for tests and local development
type MemoryInvoices struct {
	mu       sync.RWMutex
	invoices map[string]Invoice
}

// NewMemoryInvoices creates an empty store
func NewMemoryInvoices() *MemoryInvoices {
	return &MemoryInvoices{invoices: make(map[string]Invoice)}
}

// Put inserts or replaces an invoice
func (m *MemoryInvoices) Put(inv Invoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[inv.ID] = inv
}

// List returns one page of the workspace's invoices ordered by number, and the unpaged total
func (m *MemoryInvoices) List(_ context.Context, workspaceID string, f InvoiceFilter) ([]Invoice, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []Invoice
	for _, inv := range m.invoices {
		if inv.WorkspaceID != workspaceID {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		matched = append(matched, inv)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Number < matched[j].Number })

	total := len(matched)
	if f.Offset >= total {
		return []Invoice{}, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < end {
		end = f.Offset + f.Limit
	}
	return matched[f.Offset:end], total, nil
}

// Overdue returns unpaid sent invoices whose due date is before asOf
func (m *MemoryInvoices) Overdue(_ context.Context, asOf time.Time) ([]Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Invoice
	for _, inv := range m.invoices {
		if (inv.Status == InvoiceSent || inv.Status == InvoiceOverdue) && inv.DueDate.Before(asOf) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
