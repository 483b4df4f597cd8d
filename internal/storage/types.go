package storage

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Status is the on-chain lifecycle state of a payment.
// The only legal transition is StatusPrepared -> StatusConfirmed.
type Status string

const (
	// StatusPrepared means a payment request was created but the transfer
	// has not been verified on-chain yet.
	StatusPrepared Status = "prepared"
	// StatusConfirmed means the on-chain transfer has been verified.
	StatusConfirmed Status = "confirmed"
	// StatusAll is a query-only value meaning "do not filter by status".
	StatusAll Status = "all"
)

// ParseStatus maps a raw status string to a Status filter value.
// Anything that is not exactly "prepared" or "confirmed" deliberately
// falls back to StatusAll: the listing endpoints have always treated
// unknown status values as "no filter" and dashboards rely on it.
func ParseStatus(raw string) Status {
	switch Status(raw) {
	case StatusPrepared:
		return StatusPrepared
	case StatusConfirmed:
		return StatusConfirmed
	default:
		return StatusAll
	}
}

// OrderProcessing is the manual back-office workflow flag. It is
// independent of Status: an operator marks a confirmed payment
// COMPLETED once the fiat side of the trade has been settled.
type OrderProcessing string

const (
	OrderProcessingInProgress OrderProcessing = "PROCESSING"
	OrderProcessingCompleted  OrderProcessing = "COMPLETED"
)

// ParseOrderProcessing validates an operator-supplied flag value.
func ParseOrderProcessing(raw string) (OrderProcessing, error) {
	switch OrderProcessing(strings.ToUpper(strings.TrimSpace(raw))) {
	case OrderProcessingInProgress:
		return OrderProcessingInProgress, nil
	case OrderProcessingCompleted:
		return OrderProcessingCompleted, nil
	default:
		return "", fmt.Errorf("invalid order processing value: %q", raw)
	}
}

// NormalizeOrderProcessing maps stored values (possibly lowercase or
// absent) to a canonical flag. Absent defaults to PROCESSING - records
// written before the flag existed are still awaiting manual settlement.
func NormalizeOrderProcessing(raw string) OrderProcessing {
	if strings.ToUpper(strings.TrimSpace(raw)) == string(OrderProcessingCompleted) {
		return OrderProcessingCompleted
	}
	return OrderProcessingInProgress
}

// Payment is one wallet USDT transfer record. A payment belongs to
// exactly one agent and one store; agent and store codes match
// case-insensitively everywhere.
type Payment struct {
	ID                       string          `bson:"_id" json:"id"`
	AgentCode                string          `bson:"agentcode" json:"agentcode"`
	StoreCode                string          `bson:"storecode" json:"storecode"`
	Status                   Status          `bson:"status" json:"status"`
	OrderProcessing          OrderProcessing `bson:"orderprocessing" json:"orderProcessing"`
	OrderProcessingUpdatedAt *time.Time      `bson:"orderprocessingupdatedat" json:"orderProcessingUpdatedAt,omitempty"`
	FromWalletAddress        string          `bson:"fromwalletaddress" json:"fromWalletAddress"`
	ToWalletAddress          string          `bson:"towalletaddress" json:"toWalletAddress"`
	TransactionHash          string          `bson:"transactionhash" json:"transactionHash"`
	UsdtAmount               float64         `bson:"usdtamount" json:"usdtAmount"`
	KrwAmount                float64         `bson:"krwamount" json:"krwAmount"`
	ExchangeRate             float64         `bson:"exchangerate" json:"exchangeRate"`
	MemberNickname           string          `bson:"membernickname" json:"memberNickname"`
	CreatedAt                time.Time       `bson:"createdat" json:"createdAt"`
	ConfirmedAt              *time.Time      `bson:"confirmedat" json:"confirmedAt,omitempty"`

	// Store carries the joined store metadata. It is populated by the
	// read queries, never persisted on the payment document itself.
	Store StoreInfo `bson:"store,omitempty" json:"store"`
}

// EventAt is the timestamp a payment counts at for statistics and
// pending-queue ordering: confirmation time when known, otherwise
// creation time. Returns false when neither timestamp is usable.
func (p Payment) EventAt() (time.Time, bool) {
	if p.ConfirmedAt != nil && !p.ConfirmedAt.IsZero() {
		return *p.ConfirmedAt, true
	}
	if !p.CreatedAt.IsZero() {
		return p.CreatedAt, true
	}
	return time.Time{}, false
}

// IsPendingOrderProcessing reports whether a confirmed payment still
// needs manual settlement by an operator.
func (p Payment) IsPendingOrderProcessing() bool {
	return p.Status == StatusConfirmed &&
		NormalizeOrderProcessing(string(p.OrderProcessing)) != OrderProcessingCompleted
}

// StoreInfo is the merchant store metadata joined onto payments.
type StoreInfo struct {
	StoreCode string `bson:"storecode" json:"storecode"`
	AgentCode string `bson:"agentcode" json:"agentcode,omitempty"`
	StoreName string `bson:"storename" json:"storeName"`
	StoreLogo string `bson:"storelogo" json:"storeLogo"`
}

// Totals aggregates matching payments.
type Totals struct {
	Count      int64   `bson:"count" json:"count"`
	UsdtAmount float64 `bson:"usdtamount" json:"usdtAmount"`
	KrwAmount  float64 `bson:"krwamount" json:"krwAmount"`
}

// BucketUnit is the statistics bucket width.
type BucketUnit string

const (
	BucketHourly  BucketUnit = "hourly"
	BucketDaily   BucketUnit = "daily"
	BucketMonthly BucketUnit = "monthly"
)

// BucketKeyFormat returns the Go time layout producing the canonical
// UTC bucket key for the unit. Callers must format in UTC.
func (u BucketUnit) BucketKeyFormat() string {
	switch u {
	case BucketHourly:
		return "2006-01-02 15:00"
	case BucketDaily:
		return "2006-01-02"
	default:
		return "2006-01"
	}
}

// ListFilter scopes a payment listing. Limit and Skip are assumed to
// be clamped by the caller; stores apply them verbatim.
type ListFilter struct {
	AgentCode  string
	Status     Status
	SearchTerm string
	Limit      int
	Skip       int
}

// ListChunk is a page of payments plus totals over the full match,
// not just the returned page.
type ListChunk struct {
	Payments        []Payment
	TotalCount      int64
	TotalUsdtAmount float64
	TotalKrwAmount  float64
}

// PendingChunk summarizes confirmed payments still awaiting manual
// order processing for one agent.
type PendingChunk struct {
	PendingCount    int64
	OldestPendingAt *time.Time
	RecentPayments  []Payment
}

// normalizeCode lowercases an agent/store code for matching. All code
// comparisons lowercase both sides at the query-construction boundary
// so that every backend behaves identically.
func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// escapeRegex neutralizes regex metacharacters in user search input so
// a search term is always a literal substring match.
func escapeRegex(term string) string {
	return regexp.QuoteMeta(term)
}

// matchesSearch implements the case-insensitive OR-substring search
// used by MemoryStore; the database backends express the same fields
// in their native query languages. A payment matches when any of
// storecode, joined store name, member nickname, wallet addresses, or
// transaction hash contains the term.
func matchesSearch(p Payment, term string) bool {
	if term == "" {
		return true
	}
	needle := strings.ToLower(term)
	for _, hay := range []string{
		p.StoreCode,
		p.Store.StoreName,
		p.MemberNickname,
		p.FromWalletAddress,
		p.ToWalletAddress,
		p.TransactionHash,
	} {
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	return false
}

// validatePayment checks the invariants enforced at the write path.
func validatePayment(p *Payment) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("payment id required")
	}
	if strings.TrimSpace(p.AgentCode) == "" {
		return fmt.Errorf("payment agentcode required")
	}
	if strings.TrimSpace(p.StoreCode) == "" {
		return fmt.Errorf("payment storecode required")
	}
	if p.UsdtAmount < 0 || p.KrwAmount < 0 || p.ExchangeRate < 0 {
		return fmt.Errorf("payment amounts must be non-negative")
	}
	switch p.Status {
	case StatusPrepared, StatusConfirmed:
	default:
		return fmt.Errorf("invalid payment status: %q", p.Status)
	}
	p.OrderProcessing = NormalizeOrderProcessing(string(p.OrderProcessing))
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return nil
}
