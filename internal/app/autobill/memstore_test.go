package autobill

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/magabrotheeeer/autobill/internal/models"
	"github.com/magabrotheeeer/autobill/internal/storage/repository"
)

// memStore — хранилище в памяти с тем же поведением, что у repository.Storage.
type memStore struct {
	mu       sync.Mutex
	now      func() time.Time
	seq      int
	accounts map[string]*models.Account
	usage    map[string][]time.Time
	invoices map[string]*models.InvoiceRecord
	jobs     map[string]*models.Job
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		now:      now,
		accounts: make(map[string]*models.Account),
		usage:    make(map[string][]time.Time),
		invoices: make(map[string]*models.InvoiceRecord),
		jobs:     make(map[string]*models.Job),
	}
}

func invoiceKey(accountID, number string) string { return accountID + "/" + number }

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) EnsureAccount(_ context.Context, accountID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[accountID]; ok {
		if email != "" {
			a.Email = email
		}
		return nil
	}
	m.accounts[accountID] = &models.Account{ID: accountID, Email: email, CreatedAt: m.now()}
	return nil
}

func (m *memStore) GetAccount(_ context.Context, accountID string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", accountID, models.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) GetAccountByEmail(_ context.Context, email string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if strings.EqualFold(a.Email, email) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memStore) GetAccountByBillingCustomer(_ context.Context, customerID string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.BillingCustomerID != nil && *a.BillingCustomerID == customerID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memStore) SetAccountTier(_ context.Context, accountID string, tier *models.Tier, customerID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return models.ErrNotFound
	}
	a.Tier = tier
	if customerID != nil {
		a.BillingCustomerID = customerID
	}
	return nil
}

func (m *memStore) RecordUsage(_ context.Context, accountID string, at time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordLocked(accountID, at), nil
}

func (m *memStore) recordLocked(accountID string, at time.Time) string {
	m.usage[accountID] = append(m.usage[accountID], at)
	m.seq++
	return fmt.Sprintf("usage-%d", m.seq)
}

func (m *memStore) countLocked(accountID string, since time.Time) int {
	n := 0
	for _, at := range m.usage[accountID] {
		if !at.Before(since) {
			n++
		}
	}
	return n
}

func (m *memStore) CountUsage(_ context.Context, accountID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked(accountID, since), nil
}

func (m *memStore) AdmitUsage(_ context.Context, accountID string, at, dayStart, monthStart time.Time, decide repository.AdmitFunc) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := decide(m.countLocked(accountID, dayStart), m.countLocked(accountID, monthStart)); err != nil {
		return "", err
	}
	return m.recordLocked(accountID, at), nil
}

func (m *memStore) usageCount(accountID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.usage[accountID])
}

func (m *memStore) InvoiceExists(_ context.Context, accountID, invoiceNumber string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.invoices[invoiceKey(accountID, invoiceNumber)]
	return ok, nil
}

func (m *memStore) ReserveInvoice(_ context.Context, rec models.InvoiceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := invoiceKey(rec.AccountID, rec.InvoiceNumber)
	if _, ok := m.invoices[key]; ok {
		return &models.DuplicateInvoiceError{InvoiceNumber: rec.InvoiceNumber}
	}
	m.invoices[key] = &rec
	return nil
}

func (m *memStore) ReleaseInvoice(_ context.Context, accountID, invoiceNumber string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := invoiceKey(accountID, invoiceNumber)
	if rec, ok := m.invoices[key]; ok && rec.JobID == nil {
		delete(m.invoices, key)
	}
	return nil
}

func (m *memStore) AttachInvoiceJob(_ context.Context, accountID, invoiceNumber, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.invoices[invoiceKey(accountID, invoiceNumber)]
	if !ok {
		return models.ErrNotFound
	}
	rec.JobID = &jobID
	return nil
}

func (m *memStore) ListInvoices(_ context.Context, accountID string, limit, offset int) ([]*models.InvoiceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.InvoiceRecord, 0)
	for _, rec := range m.invoices {
		if rec.AccountID != accountID {
			continue
		}
		cp := *rec
		cp.Total = float64(cp.TotalCents) / 100
		if cp.JobID != nil {
			if j, ok := m.jobs[*cp.JobID]; ok {
				cp.PDFURL = j.PDFURL
			}
		}
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []*models.InvoiceRecord{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) jobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *memStore) CreateJob(_ context.Context, jobID, accountID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok {
		if j.AccountID == nil {
			j.AccountID = &accountID
		}
		cp := *j
		return &cp, nil
	}
	now := m.now()
	j := &models.Job{JobID: jobID, AccountID: &accountID, Status: models.JobQueued, CreatedAt: now, UpdatedAt: now}
	m.jobs[jobID] = j
	cp := *j
	return &cp, nil
}

func (m *memStore) GetJob(_ context.Context, jobID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) InsertJobIfAbsent(_ context.Context, jobID string, status models.JobStatus, pdfURL *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[jobID]; ok {
		return false, nil
	}
	now := m.now()
	m.jobs[jobID] = &models.Job{JobID: jobID, Status: status, PDFURL: pdfURL, CreatedAt: now, UpdatedAt: now}
	return true, nil
}

func (m *memStore) CompareAndSetJobStatus(_ context.Context, jobID string, expected, next models.JobStatus, pdfURL *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != expected {
		return false, nil
	}
	j.Status = next
	j.PDFURL = pdfURL
	j.UpdatedAt = m.now()
	return true, nil
}
