package storage

import (
	"context"
	"testing"
	"time"
)

func testPayment(id, agent, store string, status Status, usdt, krw float64, createdAt time.Time, confirmedAt *time.Time) Payment {
	return Payment{
		ID:              id,
		AgentCode:       agent,
		StoreCode:       store,
		Status:          status,
		OrderProcessing: OrderProcessingInProgress,
		ToWalletAddress: "TWallet" + id,
		UsdtAmount:      usdt,
		KrwAmount:       krw,
		ExchangeRate:    1300,
		CreatedAt:       createdAt,
		ConfirmedAt:     confirmedAt,
	}
}

func mustInsert(t *testing.T, s Store, p Payment) {
	t.Helper()
	if err := s.InsertPayment(context.Background(), p); err != nil {
		t.Fatalf("InsertPayment(%s): %v", p.ID, err)
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want Status
	}{
		{"prepared", StatusPrepared},
		{"confirmed", StatusConfirmed},
		{"all", StatusAll},
		{"", StatusAll},
		{"CONFIRMED", StatusAll}, // exact match only: unknown casing means no filter
		{"bogus", StatusAll},
	}
	for _, tt := range tests {
		if got := ParseStatus(tt.raw); got != tt.want {
			t.Errorf("ParseStatus(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestNormalizeOrderProcessing(t *testing.T) {
	tests := []struct {
		raw  string
		want OrderProcessing
	}{
		{"COMPLETED", OrderProcessingCompleted},
		{"completed", OrderProcessingCompleted},
		{" Completed ", OrderProcessingCompleted},
		{"PROCESSING", OrderProcessingInProgress},
		{"", OrderProcessingInProgress},
		{"anything-else", OrderProcessingInProgress},
	}
	for _, tt := range tests {
		if got := NormalizeOrderProcessing(tt.raw); got != tt.want {
			t.Errorf("NormalizeOrderProcessing(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestParseOrderProcessing_Invalid(t *testing.T) {
	if _, err := ParseOrderProcessing("DONE"); err == nil {
		t.Error("ParseOrderProcessing(\"DONE\") should fail")
	}
	if op, err := ParseOrderProcessing("completed"); err != nil || op != OrderProcessingCompleted {
		t.Errorf("ParseOrderProcessing(\"completed\") = %q, %v", op, err)
	}
}

func TestMemoryStore_ListPayments_CaseInsensitiveAgent(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	mustInsert(t, s, testPayment("p1", "AG1", "store1", StatusConfirmed, 10, 13000, now, &now))

	chunk, err := s.ListPayments(context.Background(), ListFilter{AgentCode: "ag1", Status: StatusAll, Limit: 20})
	if err != nil {
		t.Fatalf("ListPayments: %v", err)
	}
	if chunk.TotalCount != 1 || len(chunk.Payments) != 1 {
		t.Fatalf("expected 1 payment for lowercased agent, got count %d, page %d", chunk.TotalCount, len(chunk.Payments))
	}
}

func TestMemoryStore_ListPayments_TotalsAndSort(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	t1, t2, t3 := base, base.Add(time.Hour), base.Add(2*time.Hour)
	mustInsert(t, s, testPayment("a", "agent42", "s1", StatusConfirmed, 10, 13000, base, &t1))
	mustInsert(t, s, testPayment("b", "agent42", "s1", StatusConfirmed, 20, 26000, base, &t3))
	mustInsert(t, s, testPayment("c", "agent42", "s1", StatusConfirmed, 5, 6500, base, &t2))

	chunk, err := s.ListPayments(context.Background(), ListFilter{AgentCode: "agent42", Status: StatusConfirmed, Limit: 20})
	if err != nil {
		t.Fatalf("ListPayments: %v", err)
	}
	if chunk.TotalCount != 3 {
		t.Errorf("TotalCount = %d, want 3", chunk.TotalCount)
	}
	if chunk.TotalUsdtAmount != 35 {
		t.Errorf("TotalUsdtAmount = %v, want 35", chunk.TotalUsdtAmount)
	}
	if chunk.TotalKrwAmount != 45500 {
		t.Errorf("TotalKrwAmount = %v, want 45500", chunk.TotalKrwAmount)
	}
	wantOrder := []string{"b", "c", "a"} // newest confirmation first
	for i, want := range wantOrder {
		if chunk.Payments[i].ID != want {
			t.Errorf("payments[%d].ID = %s, want %s", i, chunk.Payments[i].ID, want)
		}
	}
}

func TestMemoryStore_ListPayments_UnconfirmedSortFirst(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	confirmed := base.Add(time.Hour)
	mustInsert(t, s, testPayment("old-prepared", "ag", "s1", StatusPrepared, 1, 1300, base.Add(-time.Hour), nil))
	mustInsert(t, s, testPayment("confirmed", "ag", "s1", StatusConfirmed, 1, 1300, base, &confirmed))

	chunk, err := s.ListPayments(context.Background(), ListFilter{AgentCode: "ag", Status: StatusAll, Limit: 20})
	if err != nil {
		t.Fatalf("ListPayments: %v", err)
	}
	if chunk.Payments[0].ID != "old-prepared" {
		t.Errorf("first payment = %s, want unconfirmed record first", chunk.Payments[0].ID)
	}
}

func TestMemoryStore_ListPayments_StatusFallthrough(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	mustInsert(t, s, testPayment("p1", "ag", "s1", StatusPrepared, 1, 1300, now, nil))
	mustInsert(t, s, testPayment("p2", "ag", "s1", StatusConfirmed, 1, 1300, now, &now))

	// StatusAll (the fallback for unknown raw values) applies no filter.
	chunk, err := s.ListPayments(context.Background(), ListFilter{AgentCode: "ag", Status: StatusAll, Limit: 20})
	if err != nil {
		t.Fatalf("ListPayments: %v", err)
	}
	if chunk.TotalCount != 2 {
		t.Errorf("TotalCount with StatusAll = %d, want 2", chunk.TotalCount)
	}

	chunk, err = s.ListPayments(context.Background(), ListFilter{AgentCode: "ag", Status: StatusPrepared, Limit: 20})
	if err != nil {
		t.Fatalf("ListPayments: %v", err)
	}
	if chunk.TotalCount != 1 || chunk.Payments[0].ID != "p1" {
		t.Errorf("prepared filter returned %d records", chunk.TotalCount)
	}
}

func TestMemoryStore_ListPayments_SearchORMatch(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()

	p1 := testPayment("p1", "ag", "coffee-shop", StatusConfirmed, 1, 1300, now, &now)
	p2 := testPayment("p2", "ag", "bookstore", StatusConfirmed, 1, 1300, now, &now)
	p2.MemberNickname = "CoffeeLover"
	p3 := testPayment("p3", "ag", "bakery", StatusConfirmed, 1, 1300, now, &now)
	p3.TransactionHash = "0xabcdef"
	mustInsert(t, s, p1)
	mustInsert(t, s, p2)
	mustInsert(t, s, p3)

	// Joined store name should be searchable too.
	if err := s.SaveStore(context.Background(), StoreInfo{StoreCode: "bakery", AgentCode: "ag", StoreName: "Seoul Coffee Bakery"}); err != nil {
		t.Fatalf("SaveStore: %v", err)
	}

	chunk, err := s.ListPayments(context.Background(), ListFilter{AgentCode: "ag", Status: StatusAll, SearchTerm: "coffee", Limit: 20})
	if err != nil {
		t.Fatalf("ListPayments: %v", err)
	}
	if chunk.TotalCount != 3 {
		t.Fatalf("search matched %d records, want 3 (storecode, nickname, joined store name)", chunk.TotalCount)
	}

	chunk, err = s.ListPayments(context.Background(), ListFilter{AgentCode: "ag", Status: StatusAll, SearchTerm: "0xABC", Limit: 20})
	if err != nil {
		t.Fatalf("ListPayments: %v", err)
	}
	if chunk.TotalCount != 1 || chunk.Payments[0].ID != "p3" {
		t.Errorf("tx hash search matched %d records", chunk.TotalCount)
	}

	chunk, err = s.ListPayments(context.Background(), ListFilter{AgentCode: "ag", Status: StatusAll, SearchTerm: "no-such-thing", Limit: 20})
	if err != nil {
		t.Fatalf("ListPayments: %v", err)
	}
	if chunk.TotalCount != 0 || len(chunk.Payments) != 0 {
		t.Errorf("non-matching search returned %d records", chunk.TotalCount)
	}
}

func TestMemoryStore_ListPayments_Pagination(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		mustInsert(t, s, testPayment(
			string(rune('a'+i)), "ag", "s1", StatusConfirmed, 1, 1300, base, &at))
	}

	// 7 records, limit 3: last page holds 1 record, totals unchanged.
	chunk, err := s.ListPayments(context.Background(), ListFilter{AgentCode: "ag", Status: StatusAll, Limit: 3, Skip: 6})
	if err != nil {
		t.Fatalf("ListPayments: %v", err)
	}
	if chunk.TotalCount != 7 {
		t.Errorf("TotalCount = %d, want 7", chunk.TotalCount)
	}
	if len(chunk.Payments) != 1 {
		t.Errorf("last page length = %d, want 1", len(chunk.Payments))
	}

	// Beyond the last page: empty page, correct count.
	chunk, err = s.ListPayments(context.Background(), ListFilter{AgentCode: "ag", Status: StatusAll, Limit: 3, Skip: 9})
	if err != nil {
		t.Fatalf("ListPayments: %v", err)
	}
	if chunk.TotalCount != 7 || len(chunk.Payments) != 0 {
		t.Errorf("page beyond end: count %d, page %d", chunk.TotalCount, len(chunk.Payments))
	}
}

func TestMemoryStore_StoreJoinFallback(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	mustInsert(t, s, testPayment("p1", "ag", "orphan-store", StatusConfirmed, 1, 1300, now, &now))

	chunk, err := s.ListPayments(context.Background(), ListFilter{AgentCode: "ag", Status: StatusAll, Limit: 20})
	if err != nil {
		t.Fatalf("ListPayments: %v", err)
	}
	got := chunk.Payments[0].Store
	if got.StoreCode != "orphan-store" || got.StoreName != "" || got.StoreLogo != "" {
		t.Errorf("missing store should fall back to payment storecode, got %+v", got)
	}
}

func TestMemoryStore_ConfirmPayment(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	mustInsert(t, s, testPayment("p1", "ag", "s1", StatusPrepared, 1, 1300, now, nil))

	p, err := s.ConfirmPayment(ctx, "p1", "TFromWallet", "0xhash", now)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if p.Status != StatusConfirmed || p.ConfirmedAt == nil || p.TransactionHash != "0xhash" {
		t.Errorf("confirmed payment = %+v", p)
	}

	if _, err := s.ConfirmPayment(ctx, "p1", "", "", now); err != ErrAlreadyConfirmed {
		t.Errorf("second confirm error = %v, want ErrAlreadyConfirmed", err)
	}
	if _, err := s.ConfirmPayment(ctx, "missing", "", "", now); err != ErrNotFound {
		t.Errorf("confirm missing error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_PendingSummary(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	t1, t2, t3 := base, base.Add(time.Hour), base.Add(2*time.Hour)
	mustInsert(t, s, testPayment("oldest", "ag", "s1", StatusConfirmed, 1, 1300, base, &t1))
	mustInsert(t, s, testPayment("mid", "ag", "s1", StatusConfirmed, 1, 1300, base, &t2))
	mustInsert(t, s, testPayment("newest", "ag", "s1", StatusConfirmed, 1, 1300, base, &t3))
	// Prepared payments never enter the pending queue.
	mustInsert(t, s, testPayment("prep", "ag", "s1", StatusPrepared, 1, 1300, base, nil))

	chunk, err := s.PendingSummary(ctx, "ag", 2)
	if err != nil {
		t.Fatalf("PendingSummary: %v", err)
	}
	if chunk.PendingCount != 3 {
		t.Errorf("PendingCount = %d, want 3", chunk.PendingCount)
	}
	if chunk.OldestPendingAt == nil || !chunk.OldestPendingAt.Equal(t1) {
		t.Errorf("OldestPendingAt = %v, want %v", chunk.OldestPendingAt, t1)
	}
	if len(chunk.RecentPayments) != 2 || chunk.RecentPayments[0].ID != "newest" {
		t.Errorf("RecentPayments = %v", chunk.RecentPayments)
	}

	// Completing a record removes it from the queue and decrements the count.
	if _, err := s.SetOrderProcessing(ctx, "mid", OrderProcessingCompleted, time.Now().UTC()); err != nil {
		t.Fatalf("SetOrderProcessing: %v", err)
	}
	chunk, err = s.PendingSummary(ctx, "ag", 5)
	if err != nil {
		t.Fatalf("PendingSummary: %v", err)
	}
	if chunk.PendingCount != 2 {
		t.Errorf("PendingCount after completion = %d, want 2", chunk.PendingCount)
	}
	for _, p := range chunk.RecentPayments {
		if p.ID == "mid" {
			t.Error("completed payment still listed as pending")
		}
	}
}

func TestMemoryStore_SetOrderProcessing_NotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.SetOrderProcessing(context.Background(), "ghost", OrderProcessingCompleted, time.Now()); err != ErrNotFound {
		t.Errorf("SetOrderProcessing(ghost) = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_BucketTotals(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 14, 10, 0, 0, time.UTC)

	t1 := base
	t2 := base.Add(20 * time.Minute) // same hour as t1
	t3 := base.Add(-3 * time.Hour)
	mustInsert(t, s, testPayment("a", "ag", "s1", StatusConfirmed, 10, 13000, base, &t1))
	mustInsert(t, s, testPayment("b", "ag", "s1", StatusConfirmed, 5, 6500, base, &t2))
	mustInsert(t, s, testPayment("c", "ag", "s1", StatusConfirmed, 1, 1300, base, &t3))
	mustInsert(t, s, testPayment("d", "ag", "s1", StatusPrepared, 99, 99, base, nil))

	grouped, err := s.BucketTotals(ctx, "AG", BucketHourly, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("BucketTotals: %v", err)
	}
	key := base.Format("2006-01-02 15:00")
	if got := grouped[key]; got.Count != 2 || got.UsdtAmount != 15 {
		t.Errorf("bucket %s = %+v, want count 2, usdt 15", key, got)
	}
	if len(grouped) != 1 {
		t.Errorf("grouped has %d buckets, want 1 (old record outside window, prepared excluded)", len(grouped))
	}

	daily, err := s.BucketTotals(ctx, "ag", BucketDaily, base.AddDate(0, 0, -7))
	if err != nil {
		t.Fatalf("BucketTotals daily: %v", err)
	}
	if got := daily[base.Format("2006-01-02")]; got.Count != 3 {
		t.Errorf("daily bucket count = %d, want 3", got.Count)
	}
}

func TestMemoryStore_ConfirmedTotals(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	mustInsert(t, s, testPayment("a", "ag", "s1", StatusConfirmed, 10, 13000, now, &now))
	mustInsert(t, s, testPayment("b", "ag", "s1", StatusPrepared, 20, 26000, now, nil))

	totals, err := s.ConfirmedTotals(context.Background(), "ag")
	if err != nil {
		t.Fatalf("ConfirmedTotals: %v", err)
	}
	if totals.Count != 1 || totals.UsdtAmount != 10 || totals.KrwAmount != 13000 {
		t.Errorf("ConfirmedTotals = %+v", totals)
	}
}

func TestEscapeRegex(t *testing.T) {
	escaped := escapeRegex("a.b*c")
	if escaped != `a\.b\*c` {
		t.Errorf("escapeRegex = %q", escaped)
	}
}

func TestEscapeLike(t *testing.T) {
	escaped := escapeLike(`50%_off\`)
	if escaped != `50\%\_off\\` {
		t.Errorf("escapeLike = %q", escaped)
	}
}
