package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/AgentPay/server/internal/config"
)

// PostgresStore implements Store using PostgreSQL. It renders the
// same listing, bucketing, and pending-queue semantics as the MongoDB
// backend in SQL: lower() on both sides for code matching, ILIKE for
// the substring search, and to_char() for UTC bucket keys.
type PostgresStore struct {
	db     *sql.DB
	ownsDB bool
}

// NewPostgresStore creates a PostgreSQL-backed store with its own
// connection pool.
func NewPostgresStore(connectionString string, poolConfig config.PostgresPoolConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	store := &PostgresStore{db: db, ownsDB: true}
	if err := store.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB creates a PostgreSQL-backed store on a shared
// connection pool. The caller remains responsible for closing the pool.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("postgres store requires a database handle")
	}
	store := &PostgresStore{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

// ensureSchema creates tables and indexes when missing.
func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS wallet_usdt_payments (
			id TEXT PRIMARY KEY,
			agentcode TEXT NOT NULL,
			storecode TEXT NOT NULL,
			status TEXT NOT NULL,
			orderprocessing TEXT NOT NULL DEFAULT 'PROCESSING',
			orderprocessing_updated_at TIMESTAMPTZ,
			from_wallet_address TEXT NOT NULL DEFAULT '',
			to_wallet_address TEXT NOT NULL DEFAULT '',
			transaction_hash TEXT NOT NULL DEFAULT '',
			usdt_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
			krw_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
			exchange_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			member_nickname TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			confirmed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_agent_status
			ON wallet_usdt_payments (lower(agentcode), status)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_recency
			ON wallet_usdt_payments (confirmed_at DESC, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS stores (
			storecode TEXT PRIMARY KEY,
			display_storecode TEXT NOT NULL,
			agentcode TEXT NOT NULL DEFAULT '',
			store_name TEXT NOT NULL DEFAULT '',
			store_logo TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close closes the connection pool when this store owns it.
func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// paymentColumns is the joined select list shared by every payment
// read. Store metadata falls back to the payment's own storecode.
const paymentColumns = `
	p.id, p.agentcode, p.storecode, p.status, p.orderprocessing,
	p.orderprocessing_updated_at, p.from_wallet_address,
	p.to_wallet_address, p.transaction_hash, p.usdt_amount,
	p.krw_amount, p.exchange_rate, p.member_nickname, p.created_at,
	p.confirmed_at,
	COALESCE(st.display_storecode, p.storecode) AS store_code,
	COALESCE(st.store_name, '') AS store_name,
	COALESCE(st.store_logo, '') AS store_logo`

const paymentJoin = `
	FROM wallet_usdt_payments p
	LEFT JOIN stores st ON st.storecode = lower(p.storecode)`

// escapeLike neutralizes LIKE metacharacters in user search input.
func escapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(term)
}

// listWhere builds the shared WHERE clause for one listing query so
// the page, count, and sum statements can never drift apart.
func listWhere(filter ListFilter) (string, []any) {
	clauses := []string{"lower(p.agentcode) = $1"}
	args := []any{normalizeCode(filter.AgentCode)}

	switch filter.Status {
	case StatusPrepared, StatusConfirmed:
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("p.status = $%d", len(args)))
	}
	// Any other status value means "all": no filter clause.

	if filter.SearchTerm != "" {
		args = append(args, "%"+escapeLike(filter.SearchTerm)+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf(`(
			p.storecode ILIKE $%d
			OR COALESCE(st.store_name, '') ILIKE $%d
			OR p.member_nickname ILIKE $%d
			OR p.from_wallet_address ILIKE $%d
			OR p.to_wallet_address ILIKE $%d
			OR p.transaction_hash ILIKE $%d
		)`, n, n, n, n, n, n))
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

// ListPayments runs the page, count, and sum queries over the same
// WHERE clause.
func (s *PostgresStore) ListPayments(ctx context.Context, filter ListFilter) (ListChunk, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	where, args := listWhere(filter)
	chunk := ListChunk{Payments: []Payment{}}

	pageArgs := append(append([]any{}, args...), filter.Limit, filter.Skip)
	pageQuery := fmt.Sprintf(`SELECT %s %s %s
		ORDER BY p.confirmed_at DESC NULLS FIRST, p.created_at DESC, p.id DESC
		LIMIT $%d OFFSET $%d`,
		paymentColumns, paymentJoin, where, len(args)+1, len(args)+2)

	rows, err := s.db.QueryContext(ctx, pageQuery, pageArgs...)
	if err != nil {
		return ListChunk{}, fmt.Errorf("query payments page: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return ListChunk{}, err
		}
		chunk.Payments = append(chunk.Payments, p)
	}
	if err := rows.Err(); err != nil {
		return ListChunk{}, fmt.Errorf("payments page rows: %w", err)
	}

	totalsQuery := fmt.Sprintf(`SELECT COUNT(*),
		COALESCE(SUM(p.usdt_amount), 0), COALESCE(SUM(p.krw_amount), 0)
		%s %s`, paymentJoin, where)
	err = s.db.QueryRowContext(ctx, totalsQuery, args...).
		Scan(&chunk.TotalCount, &chunk.TotalUsdtAmount, &chunk.TotalKrwAmount)
	if err != nil {
		return ListChunk{}, fmt.Errorf("query payments totals: %w", err)
	}

	return chunk, nil
}

// bucketCharFormat maps a bucket unit to the to_char() format
// producing the unit's canonical UTC bucket key.
func bucketCharFormat(unit BucketUnit) string {
	switch unit {
	case BucketHourly:
		return `YYYY-MM-DD HH24:00`
	case BucketDaily:
		return `YYYY-MM-DD`
	default:
		return `YYYY-MM`
	}
}

// BucketTotals groups confirmed payments by UTC bucket key.
func (s *PostgresStore) BucketTotals(ctx context.Context, agentCode string, unit BucketUnit, since time.Time) (map[string]Totals, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT
			to_char(COALESCE(confirmed_at, created_at) AT TIME ZONE 'UTC', '%s') AS bucket,
			COUNT(*), COALESCE(SUM(usdt_amount), 0), COALESCE(SUM(krw_amount), 0)
		FROM wallet_usdt_payments
		WHERE lower(agentcode) = $1
			AND status = $2
			AND COALESCE(confirmed_at, created_at) >= $3
		GROUP BY bucket`, bucketCharFormat(unit))

	rows, err := s.db.QueryContext(ctx, query, normalizeCode(agentCode), string(StatusConfirmed), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query bucket totals: %w", err)
	}
	defer rows.Close()

	grouped := make(map[string]Totals)
	for rows.Next() {
		var bucket string
		var t Totals
		if err := rows.Scan(&bucket, &t.Count, &t.UsdtAmount, &t.KrwAmount); err != nil {
			return nil, fmt.Errorf("scan bucket totals: %w", err)
		}
		grouped[bucket] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bucket totals rows: %w", err)
	}
	return grouped, nil
}

// ConfirmedTotals sums all confirmed payments for the agent, all-time.
func (s *PostgresStore) ConfirmedTotals(ctx context.Context, agentCode string) (Totals, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var t Totals
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*),
			COALESCE(SUM(usdt_amount), 0), COALESCE(SUM(krw_amount), 0)
		FROM wallet_usdt_payments
		WHERE lower(agentcode) = $1 AND status = $2`,
		normalizeCode(agentCode), string(StatusConfirmed)).
		Scan(&t.Count, &t.UsdtAmount, &t.KrwAmount)
	if err != nil {
		return Totals{}, fmt.Errorf("query confirmed totals: %w", err)
	}
	return t, nil
}

// pendingWhere is the shared predicate for the pending queue: a stored
// flag that is empty or missing counts as PROCESSING.
const pendingWhere = `
	WHERE lower(p.agentcode) = $1
		AND p.status = $2
		AND upper(COALESCE(NULLIF(p.orderprocessing, ''), 'PROCESSING')) <> 'COMPLETED'`

// PendingSummary computes the pending count, the oldest pending event
// time, and the most recent pending payments.
func (s *PostgresStore) PendingSummary(ctx context.Context, agentCode string, limit int) (PendingChunk, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	agent := normalizeCode(agentCode)
	chunk := PendingChunk{RecentPayments: []Payment{}}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wallet_usdt_payments p`+pendingWhere,
		agent, string(StatusConfirmed)).Scan(&chunk.PendingCount)
	if err != nil {
		return PendingChunk{}, fmt.Errorf("query pending count: %w", err)
	}

	var oldest sql.NullTime
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(p.confirmed_at, p.created_at)
			FROM wallet_usdt_payments p`+pendingWhere+`
			ORDER BY COALESCE(p.confirmed_at, p.created_at) ASC, p.id ASC
			LIMIT 1`,
		agent, string(StatusConfirmed)).Scan(&oldest)
	if err != nil && err != sql.ErrNoRows {
		return PendingChunk{}, fmt.Errorf("query oldest pending: %w", err)
	}
	if oldest.Valid {
		at := oldest.Time.UTC()
		chunk.OldestPendingAt = &at
	}

	recentQuery := fmt.Sprintf(`SELECT %s %s %s
		ORDER BY COALESCE(p.confirmed_at, p.created_at) DESC, p.id DESC
		LIMIT $3`, paymentColumns, paymentJoin, pendingWhere)
	rows, err := s.db.QueryContext(ctx, recentQuery, agent, string(StatusConfirmed), limit)
	if err != nil {
		return PendingChunk{}, fmt.Errorf("query recent pending: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return PendingChunk{}, err
		}
		chunk.RecentPayments = append(chunk.RecentPayments, p)
	}
	if err := rows.Err(); err != nil {
		return PendingChunk{}, fmt.Errorf("recent pending rows: %w", err)
	}

	return chunk, nil
}

// InsertPayment stores a new payment row.
func (s *PostgresStore) InsertPayment(ctx context.Context, p Payment) error {
	if err := validatePayment(&p); err != nil {
		return err
	}

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `INSERT INTO wallet_usdt_payments (
			id, agentcode, storecode, status, orderprocessing,
			orderprocessing_updated_at, from_wallet_address,
			to_wallet_address, transaction_hash, usdt_amount, krw_amount,
			exchange_rate, member_nickname, created_at, confirmed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		p.ID, p.AgentCode, p.StoreCode, string(p.Status), string(p.OrderProcessing),
		nullableTime(p.OrderProcessingUpdatedAt), p.FromWalletAddress,
		p.ToWalletAddress, p.TransactionHash, p.UsdtAmount, p.KrwAmount,
		p.ExchangeRate, p.MemberNickname, p.CreatedAt, nullableTime(p.ConfirmedAt))
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetPayment retrieves a payment by ID with store metadata joined.
func (s *PostgresStore) GetPayment(ctx context.Context, id string) (Payment, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s %s WHERE p.id = $1`, paymentColumns, paymentJoin)
	row := s.db.QueryRowContext(ctx, query, id)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return Payment{}, ErrNotFound
	}
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

// ConfirmPayment moves a prepared payment to confirmed. The predicate
// pins status=prepared so concurrent confirmations cannot double-stamp.
func (s *PostgresStore) ConfirmPayment(ctx context.Context, id, fromWallet, txHash string, confirmedAt time.Time) (Payment, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `UPDATE wallet_usdt_payments SET
			status = $2,
			confirmed_at = $3,
			from_wallet_address = CASE WHEN $4 <> '' THEN $4 ELSE from_wallet_address END,
			transaction_hash = CASE WHEN $5 <> '' THEN $5 ELSE transaction_hash END
		WHERE id = $1 AND status = $6`,
		id, string(StatusConfirmed), confirmedAt.UTC(), fromWallet, txHash, string(StatusPrepared))
	if err != nil {
		return Payment{}, fmt.Errorf("confirm payment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return Payment{}, err
	}
	if affected == 0 {
		var exists bool
		err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM wallet_usdt_payments WHERE id = $1)`, id).Scan(&exists)
		if err != nil {
			return Payment{}, err
		}
		if !exists {
			return Payment{}, ErrNotFound
		}
		return Payment{}, ErrAlreadyConfirmed
	}

	return s.GetPayment(ctx, id)
}

// SetOrderProcessing updates the manual workflow flag on an existing
// payment and returns the persisted row read back.
func (s *PostgresStore) SetOrderProcessing(ctx context.Context, id string, op OrderProcessing, updatedAt time.Time) (Payment, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `UPDATE wallet_usdt_payments SET
			orderprocessing = $2, orderprocessing_updated_at = $3
		WHERE id = $1`,
		id, string(op), updatedAt.UTC())
	if err != nil {
		return Payment{}, fmt.Errorf("set order processing: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return Payment{}, err
	}
	if affected == 0 {
		return Payment{}, ErrNotFound
	}

	return s.GetPayment(ctx, id)
}

// SaveStore persists or updates store metadata.
func (s *PostgresStore) SaveStore(ctx context.Context, info StoreInfo) error {
	code := normalizeCode(info.StoreCode)
	if code == "" {
		return fmt.Errorf("storecode required")
	}

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `INSERT INTO stores (
			storecode, display_storecode, agentcode, store_name, store_logo
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (storecode) DO UPDATE SET
			display_storecode = EXCLUDED.display_storecode,
			agentcode = EXCLUDED.agentcode,
			store_name = EXCLUDED.store_name,
			store_logo = EXCLUDED.store_logo`,
		code, info.StoreCode, info.AgentCode, info.StoreName, info.StoreLogo)
	if err != nil {
		return fmt.Errorf("save store: %w", err)
	}
	return nil
}

// GetStore retrieves store metadata by storecode.
func (s *PostgresStore) GetStore(ctx context.Context, storeCode string) (StoreInfo, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var info StoreInfo
	err := s.db.QueryRowContext(ctx, `SELECT display_storecode, agentcode, store_name, store_logo
		FROM stores WHERE storecode = $1`, normalizeCode(storeCode)).
		Scan(&info.StoreCode, &info.AgentCode, &info.StoreName, &info.StoreLogo)
	if err == sql.ErrNoRows {
		return StoreInfo{}, ErrNotFound
	}
	if err != nil {
		return StoreInfo{}, fmt.Errorf("query store: %w", err)
	}
	return info, nil
}

// ListStoresByAgent returns all stores belonging to the agent.
func (s *PostgresStore) ListStoresByAgent(ctx context.Context, agentCode string) ([]StoreInfo, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT display_storecode, agentcode, store_name, store_logo
		FROM stores WHERE lower(agentcode) = $1 ORDER BY storecode`,
		normalizeCode(agentCode))
	if err != nil {
		return nil, fmt.Errorf("query stores: %w", err)
	}
	defer rows.Close()

	infos := []StoreInfo{}
	for rows.Next() {
		var info StoreInfo
		if err := rows.Scan(&info.StoreCode, &info.AgentCode, &info.StoreName, &info.StoreLogo); err != nil {
			return nil, fmt.Errorf("scan store: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stores rows: %w", err)
	}
	return infos, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanPayment reads one joined payment row.
func scanPayment(row rowScanner) (Payment, error) {
	var p Payment
	var status, orderProcessing string
	var opUpdatedAt, confirmedAt sql.NullTime

	err := row.Scan(
		&p.ID, &p.AgentCode, &p.StoreCode, &status, &orderProcessing,
		&opUpdatedAt, &p.FromWalletAddress, &p.ToWalletAddress,
		&p.TransactionHash, &p.UsdtAmount, &p.KrwAmount, &p.ExchangeRate,
		&p.MemberNickname, &p.CreatedAt, &confirmedAt,
		&p.Store.StoreCode, &p.Store.StoreName, &p.Store.StoreLogo,
	)
	if err == sql.ErrNoRows {
		return Payment{}, err
	}
	if err != nil {
		return Payment{}, fmt.Errorf("scan payment: %w", err)
	}

	p.Status = Status(status)
	p.OrderProcessing = NormalizeOrderProcessing(orderProcessing)
	if opUpdatedAt.Valid {
		p.OrderProcessingUpdatedAt = ptrTime(opUpdatedAt.Time.UTC())
	}
	if confirmedAt.Valid {
		p.ConfirmedAt = ptrTime(confirmedAt.Time.UTC())
	}
	return p, nil
}

func nullableTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}
