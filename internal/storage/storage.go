package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AgentPay/server/internal/config"
)

// ErrNotFound is returned when a requested entity is missing from the store.
var ErrNotFound = errors.New("storage: not found")

// ErrAlreadyConfirmed is returned when confirming a payment that has
// already left the prepared state. prepared -> confirmed is one-way.
var ErrAlreadyConfirmed = errors.New("storage: payment already confirmed")

// Store captures the persistence requirements of the payment engine.
//
// Read queries never return nil slices or unfiltered data: an unknown
// agent yields an empty, well-formed result. Agent and store codes
// match case-insensitively in every implementation.
type Store interface {
	// Write path
	InsertPayment(ctx context.Context, p Payment) error
	ConfirmPayment(ctx context.Context, id, fromWallet, txHash string, confirmedAt time.Time) (Payment, error)
	SetOrderProcessing(ctx context.Context, id string, op OrderProcessing, updatedAt time.Time) (Payment, error)

	// Read path
	GetPayment(ctx context.Context, id string) (Payment, error)
	// ListPayments returns one page plus totals over the full match.
	ListPayments(ctx context.Context, filter ListFilter) (ListChunk, error)
	// BucketTotals groups confirmed payments whose event time is at or
	// after since, keyed by the unit's canonical UTC bucket key.
	BucketTotals(ctx context.Context, agentCode string, unit BucketUnit, since time.Time) (map[string]Totals, error)
	// ConfirmedTotals sums all confirmed payments for the agent, all-time.
	ConfirmedTotals(ctx context.Context, agentCode string) (Totals, error)
	// PendingSummary reports confirmed payments not yet marked COMPLETED.
	PendingSummary(ctx context.Context, agentCode string, limit int) (PendingChunk, error)

	// Store metadata backing the payment join
	SaveStore(ctx context.Context, info StoreInfo) error
	GetStore(ctx context.Context, storeCode string) (StoreInfo, error)
	ListStoresByAgent(ctx context.Context, agentCode string) ([]StoreInfo, error)

	Close() error
}

// StoreConfig holds storage backend configuration.
type StoreConfig struct {
	Backend         string // "memory", "mongodb", or "postgres"
	MongoDBURL      string
	MongoDBDatabase string
	PostgresURL     string
	PostgresPool    config.PostgresPoolConfig
}

// NewStore creates a Store instance based on the provided configuration.
func NewStore(cfg StoreConfig) (Store, error) {
	return NewStoreWithDB(cfg, nil)
}

// NewStoreWithDB creates a Store instance with an optional shared
// database pool for the postgres backend. Pass nil to let the store
// open its own connection pool.
func NewStoreWithDB(cfg StoreConfig, sharedDB *sql.DB) (Store, error) {
	switch cfg.Backend {
	case "memory":
		// Memory backend loses everything on restart. Dev and tests only.
		return NewMemoryStore(), nil
	case "":
		// Auto-detect from provided connection settings: mongodb first
		// (the primary production backend), then postgres, then memory.
		if cfg.MongoDBURL != "" {
			if cfg.MongoDBDatabase == "" {
				cfg.MongoDBDatabase = "agentpay"
			}
			return NewMongoDBStore(cfg.MongoDBURL, cfg.MongoDBDatabase)
		}
		if cfg.PostgresURL != "" {
			if sharedDB != nil {
				return NewPostgresStoreWithDB(sharedDB)
			}
			return NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool)
		}
		return NewMemoryStore(), nil
	case "mongodb":
		if cfg.MongoDBURL == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_url")
		}
		if cfg.MongoDBDatabase == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_database")
		}
		return NewMongoDBStore(cfg.MongoDBURL, cfg.MongoDBDatabase)
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("postgres backend requires postgres_url")
		}
		if sharedDB != nil {
			return NewPostgresStoreWithDB(sharedDB)
		}
		return NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// MemoryStore is an in-memory Store implementation suitable for tests
// and single-instance development deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	payments map[string]Payment   // payment ID -> payment
	stores   map[string]StoreInfo // lowercased storecode -> store
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[string]Payment),
		stores:   make(map[string]StoreInfo),
	}
}

// Close implements the Store interface. MemoryStore holds no resources.
func (m *MemoryStore) Close() error {
	return nil
}

// InsertPayment stores a new payment record. IDs are immutable and
// unique; inserting an existing ID fails.
func (m *MemoryStore) InsertPayment(_ context.Context, p Payment) error {
	if err := validatePayment(&p); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.payments[p.ID]; exists {
		return fmt.Errorf("payment already exists: %s", p.ID)
	}
	p.Store = StoreInfo{} // join output only, never persisted
	m.payments[p.ID] = p
	return nil
}

// GetPayment retrieves a payment by ID with store metadata joined.
func (m *MemoryStore) GetPayment(_ context.Context, id string) (Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return m.joinStore(p), nil
}

// ConfirmPayment moves a prepared payment to confirmed, stamping the
// confirmation time and chain identifiers.
func (m *MemoryStore) ConfirmPayment(_ context.Context, id, fromWallet, txHash string, confirmedAt time.Time) (Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	if p.Status == StatusConfirmed {
		return Payment{}, ErrAlreadyConfirmed
	}

	p.Status = StatusConfirmed
	p.ConfirmedAt = ptrTime(confirmedAt)
	if fromWallet != "" {
		p.FromWalletAddress = fromWallet
	}
	if txHash != "" {
		p.TransactionHash = txHash
	}
	m.payments[id] = p
	return m.joinStore(p), nil
}

// SetOrderProcessing updates the manual workflow flag on an existing
// payment. The record must exist; the flag is never created implicitly.
func (m *MemoryStore) SetOrderProcessing(_ context.Context, id string, op OrderProcessing, updatedAt time.Time) (Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	p.OrderProcessing = op
	p.OrderProcessingUpdatedAt = ptrTime(updatedAt)
	m.payments[id] = p
	return m.joinStore(p), nil
}

// ListPayments returns one page of an agent's payments plus totals
// over the full match.
func (m *MemoryStore) ListPayments(_ context.Context, filter ListFilter) (ListChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agent := normalizeCode(filter.AgentCode)
	matched := make([]Payment, 0)
	for _, p := range m.payments {
		if normalizeCode(p.AgentCode) != agent {
			continue
		}
		switch filter.Status {
		case StatusPrepared, StatusConfirmed:
			if p.Status != filter.Status {
				continue
			}
		}
		joined := m.joinStore(p)
		if !matchesSearch(joined, filter.SearchTerm) {
			continue
		}
		matched = append(matched, joined)
	}

	sortPaymentsNewestFirst(matched)

	chunk := ListChunk{Payments: []Payment{}, TotalCount: int64(len(matched))}
	for _, p := range matched {
		chunk.TotalUsdtAmount += p.UsdtAmount
		chunk.TotalKrwAmount += p.KrwAmount
	}

	start := filter.Skip
	if start > len(matched) {
		start = len(matched)
	}
	end := start + filter.Limit
	if filter.Limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	chunk.Payments = append(chunk.Payments, matched[start:end]...)
	return chunk, nil
}

// BucketTotals groups the agent's confirmed payments into UTC buckets.
func (m *MemoryStore) BucketTotals(_ context.Context, agentCode string, unit BucketUnit, since time.Time) (map[string]Totals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agent := normalizeCode(agentCode)
	layout := unit.BucketKeyFormat()
	grouped := make(map[string]Totals)
	for _, p := range m.payments {
		if p.Status != StatusConfirmed || normalizeCode(p.AgentCode) != agent {
			continue
		}
		at, ok := p.EventAt()
		if !ok || at.Before(since) {
			continue
		}
		key := at.UTC().Format(layout)
		t := grouped[key]
		t.Count++
		t.UsdtAmount += p.UsdtAmount
		t.KrwAmount += p.KrwAmount
		grouped[key] = t
	}
	return grouped, nil
}

// ConfirmedTotals sums all confirmed payments for the agent.
func (m *MemoryStore) ConfirmedTotals(_ context.Context, agentCode string) (Totals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agent := normalizeCode(agentCode)
	var t Totals
	for _, p := range m.payments {
		if p.Status != StatusConfirmed || normalizeCode(p.AgentCode) != agent {
			continue
		}
		t.Count++
		t.UsdtAmount += p.UsdtAmount
		t.KrwAmount += p.KrwAmount
	}
	return t, nil
}

// PendingSummary reports the agent's confirmed payments still awaiting
// manual order processing.
func (m *MemoryStore) PendingSummary(_ context.Context, agentCode string, limit int) (PendingChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agent := normalizeCode(agentCode)
	pending := make([]Payment, 0)
	for _, p := range m.payments {
		if normalizeCode(p.AgentCode) != agent || !p.IsPendingOrderProcessing() {
			continue
		}
		pending = append(pending, m.joinStore(p))
	}

	chunk := PendingChunk{PendingCount: int64(len(pending)), RecentPayments: []Payment{}}
	if len(pending) == 0 {
		return chunk, nil
	}

	sortPaymentsNewestFirst(pending)

	// Newest-first order means the oldest pending record is last.
	if at, ok := pending[len(pending)-1].EventAt(); ok {
		chunk.OldestPendingAt = ptrTime(at)
	}

	if limit <= 0 || limit > len(pending) {
		limit = len(pending)
	}
	chunk.RecentPayments = append(chunk.RecentPayments, pending[:limit]...)
	return chunk, nil
}

// SaveStore persists or updates store metadata, keyed by storecode.
func (m *MemoryStore) SaveStore(_ context.Context, info StoreInfo) error {
	code := normalizeCode(info.StoreCode)
	if code == "" {
		return fmt.Errorf("storecode required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stores[code] = info
	return nil
}

// GetStore retrieves store metadata by storecode.
func (m *MemoryStore) GetStore(_ context.Context, storeCode string) (StoreInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.stores[normalizeCode(storeCode)]
	if !ok {
		return StoreInfo{}, ErrNotFound
	}
	return info, nil
}

// ListStoresByAgent returns all stores belonging to the agent.
func (m *MemoryStore) ListStoresByAgent(_ context.Context, agentCode string) ([]StoreInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agent := normalizeCode(agentCode)
	infos := make([]StoreInfo, 0)
	for _, info := range m.stores {
		if normalizeCode(info.AgentCode) == agent {
			infos = append(infos, info)
		}
	}
	sort.Slice(infos, func(i, j int) bool {
		return normalizeCode(infos[i].StoreCode) < normalizeCode(infos[j].StoreCode)
	})
	return infos, nil
}

// joinStore attaches store metadata to a payment, falling back to the
// payment's own storecode when the store record is missing. Callers
// must hold at least a read lock.
func (m *MemoryStore) joinStore(p Payment) Payment {
	if info, ok := m.stores[normalizeCode(p.StoreCode)]; ok {
		p.Store = StoreInfo{
			StoreCode: info.StoreCode,
			StoreName: info.StoreName,
			StoreLogo: info.StoreLogo,
		}
		return p
	}
	p.Store = StoreInfo{StoreCode: p.StoreCode}
	return p
}

// sortPaymentsNewestFirst orders payments most-recent-first:
// unconfirmed payments sort before confirmed ones (a missing
// confirmation time is treated as greater), then by confirmedAt
// descending, then createdAt descending, with the ID as a final
// deterministic tie-break.
func sortPaymentsNewestFirst(payments []Payment) {
	sort.SliceStable(payments, func(i, j int) bool {
		a, b := payments[i], payments[j]
		aConfirmed := a.ConfirmedAt != nil && !a.ConfirmedAt.IsZero()
		bConfirmed := b.ConfirmedAt != nil && !b.ConfirmedAt.IsZero()
		if aConfirmed != bConfirmed {
			return !aConfirmed
		}
		if aConfirmed && bConfirmed && !a.ConfirmedAt.Equal(*b.ConfirmedAt) {
			return a.ConfirmedAt.After(*b.ConfirmedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
