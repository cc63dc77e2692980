package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"budget/internal/core"
	applog "budget/internal/log"

	_ "modernc.org/sqlite"
)

const dateLayout = "2006-01-02"

var ErrNotFound = errors.New("not found")

// MonthRecord is a persisted month row with its cached stats.
type MonthRecord struct {
	ID               int64
	Key              core.MonthKey
	Stats            core.MonthStats
	TransactionCount int
	UpdatedAt        time.Time
}

type SQLiteRepository struct {
	db *sql.DB
}

// DSN builds the connection string used for both the pool and the migrator.
// Writes take the database lock at BEGIN so concurrent month scopes queue instead of failing.
func DSN(dbPath string) string {
	return dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := DSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func storageLogger() *slog.Logger {
	return applog.WithComponent(slog.Default(), applog.ComponentStorage)
}

// InMonth runs fn inside a single database transaction scoped to key. The month row is
// created if missing. If fn returns an error nothing it did is kept.
func (r *SQLiteRepository) InMonth(ctx context.Context, key core.MonthKey, fn func(tx *MonthTx) error) error {
	return r.inMonth(ctx, key, ensureMonth, fn)
}

// InStoredMonth is InMonth for a month that must already exist. It returns ErrNotFound
// instead of creating the row.
func (r *SQLiteRepository) InStoredMonth(ctx context.Context, key core.MonthKey, fn func(tx *MonthTx) error) error {
	return r.inMonth(ctx, key, lookupMonth, fn)
}

func (r *SQLiteRepository) inMonth(ctx context.Context, key core.MonthKey,
	resolve func(context.Context, *sql.Tx, core.MonthKey) (int64, error), fn func(tx *MonthTx) error) (err error) {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				storageLogger().ErrorContext(ctx, "Failed to roll back month transaction",
					applog.FieldMonth, key.String(), applog.FieldError, rbErr)
			}
		}
	}()

	monthID, err := resolve(ctx, sqlTx, key)
	if err != nil {
		return err
	}

	if err = fn(&MonthTx{tx: sqlTx, key: key, monthID: monthID}); err != nil {
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit month %s: %w", key, err)
	}
	return nil
}

func ensureMonth(ctx context.Context, tx *sql.Tx, key core.MonthKey) (int64, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO months (year, month) VALUES (?, ?) ON CONFLICT(year, month) DO NOTHING`,
		key.Year, key.Month); err != nil {
		return 0, fmt.Errorf("ensure month %s: %w", key, err)
	}
	return lookupMonth(ctx, tx, key)
}

func lookupMonth(ctx context.Context, tx *sql.Tx, key core.MonthKey) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM months WHERE year = ? AND month = ?`, key.Year, key.Month).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("month %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("load month %s: %w", key, err)
	}
	return id, nil
}

// ListMonths returns every month row oldest first.
func (r *SQLiteRepository) ListMonths(ctx context.Context) ([]MonthRecord, error) {
	rows, err := r.db.QueryContext(ctx, monthSelect+` GROUP BY m.id ORDER BY m.year, m.month`)
	if err != nil {
		return nil, fmt.Errorf("list months: %w", err)
	}
	defer rows.Close()

	var out []MonthRecord
	for rows.Next() {
		rec, err := scanMonth(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetMonth returns ErrNotFound when the month was never imported.
func (r *SQLiteRepository) GetMonth(ctx context.Context, key core.MonthKey) (MonthRecord, error) {
	row := r.db.QueryRowContext(ctx, monthSelect+` WHERE m.year = ? AND m.month = ? GROUP BY m.id`, key.Year, key.Month)
	rec, err := scanMonth(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MonthRecord{}, fmt.Errorf("month %s: %w", key, ErrNotFound)
	}
	return rec, err
}

// MonthTransactions lists a month's transactions by date then insertion order.
func (r *SQLiteRepository) MonthTransactions(ctx context.Context, key core.MonthKey) ([]core.CategorizedTransaction, error) {
	return queryTransactions(ctx, r.db,
		transactionSelect+` JOIN months m ON m.id = t.month_id WHERE m.year = ? AND m.month = ? ORDER BY t.date, t.id`,
		key.Year, key.Month)
}

// DedupKeys returns the identity keys already stored for key.
func (r *SQLiteRepository) DedupKeys(ctx context.Context, key core.MonthKey) (map[string]struct{}, error) {
	return queryDedupKeys(ctx, r.db,
		`SELECT t.dedup_key FROM transactions t JOIN months m ON m.id = t.month_id WHERE m.year = ? AND m.month = ?`,
		key.Year, key.Month)
}

// TransactionMonth returns the month a stored transaction belongs to.
func (r *SQLiteRepository) TransactionMonth(ctx context.Context, id int64) (core.MonthKey, error) {
	var key core.MonthKey
	err := r.db.QueryRowContext(ctx,
		`SELECT m.year, m.month FROM transactions t JOIN months m ON m.id = t.month_id WHERE t.id = ?`, id).
		Scan(&key.Year, &key.Month)
	if errors.Is(err, sql.ErrNoRows) {
		return core.MonthKey{}, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.MonthKey{}, fmt.Errorf("load transaction %d: %w", id, err)
	}
	return key, nil
}

// DeleteMonth removes the month row; its transactions go with it.
func (r *SQLiteRepository) DeleteMonth(ctx context.Context, key core.MonthKey) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM months WHERE year = ? AND month = ?`, key.Year, key.Month)
	if err != nil {
		return fmt.Errorf("delete month %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("month %s: %w", key, ErrNotFound)
	}
	storageLogger().InfoContext(ctx, "Month deleted", applog.FieldMonth, key.String())
	return nil
}

// MonthTx is the write surface available inside InMonth.
type MonthTx struct {
	tx      *sql.Tx
	key     core.MonthKey
	monthID int64
}

func (m *MonthTx) Key() core.MonthKey { return m.key }

// DeleteTransactions removes every transaction of the month and returns how many were removed.
func (m *MonthTx) DeleteTransactions(ctx context.Context) (int64, error) {
	res, err := m.tx.ExecContext(ctx, `DELETE FROM transactions WHERE month_id = ?`, m.monthID)
	if err != nil {
		return 0, fmt.Errorf("delete transactions of %s: %w", m.key, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DedupKeys returns the identity keys stored for the month as seen by this transaction.
func (m *MonthTx) DedupKeys(ctx context.Context) (map[string]struct{}, error) {
	return queryDedupKeys(ctx, m.tx, `SELECT dedup_key FROM transactions WHERE month_id = ?`, m.monthID)
}

// Insert stores txs and returns their new ids in the same order.
func (m *MonthTx) Insert(ctx context.Context, txs []core.CategorizedTransaction) ([]int64, error) {
	if len(txs) == 0 {
		return nil, nil
	}
	stmt, err := m.tx.PrepareContext(ctx, `INSERT INTO transactions (
		month_id, date, description, account, amount, source_category, source_subcategory,
		note, reconciled, category, subcategory, confidence, needs_review, manual_override, dedup_key
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(txs))
	for _, t := range txs {
		if t.Key() != m.key {
			return nil, fmt.Errorf("transaction dated %s does not belong to month %s", t.Date.Format(dateLayout), m.key)
		}
		var note sql.NullString
		if t.Note != nil {
			note = sql.NullString{String: *t.Note, Valid: true}
		}
		res, err := stmt.ExecContext(ctx,
			m.monthID, t.Date.Format(dateLayout), t.Description, t.Account, t.Amount.String(),
			t.SourceCategory, t.SourceSubcategory, note, t.Reconciled,
			string(t.Category), t.Subcategory, t.Confidence, t.NeedsReview, t.ManualOverride, t.DedupKey())
		if err != nil {
			return nil, fmt.Errorf("insert transaction %q: %w", t.Description, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("read inserted id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Transactions lists the month's transactions as seen by this transaction.
func (m *MonthTx) Transactions(ctx context.Context) ([]core.CategorizedTransaction, error) {
	return queryTransactions(ctx, m.tx, transactionSelect+` WHERE t.month_id = ? ORDER BY t.date, t.id`, m.monthID)
}

// SetClassification overwrites a transaction's category and marks it as a manual override.
func (m *MonthTx) SetClassification(ctx context.Context, id int64, category core.Category, subcategory string) error {
	res, err := m.tx.ExecContext(ctx, `UPDATE transactions
		SET category = ?, subcategory = ?, confidence = 1, needs_review = 0, manual_override = 1
		WHERE id = ? AND month_id = ?`, string(category), subcategory, id, m.monthID)
	if err != nil {
		return fmt.Errorf("update transaction %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %d in %s: %w", id, m.key, ErrNotFound)
	}
	return nil
}

// SaveStats replaces the month's cached stats.
func (m *MonthTx) SaveStats(ctx context.Context, s core.MonthStats) error {
	_, err := m.tx.ExecContext(ctx, `UPDATE months SET
		total_income = ?, total_core = ?, total_choice = ?, total_compound = ?,
		core_pct = ?, choice_pct = ?, compound_pct = ?, score = ?, score_label = ?,
		updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		s.TotalIncome.String(), s.TotalCore.String(), s.TotalChoice.String(), s.TotalCompound.String(),
		s.CorePct.String(), s.ChoicePct.String(), s.CompoundPct.String(), s.Score, string(s.Label),
		m.monthID)
	if err != nil {
		return fmt.Errorf("save stats for %s: %w", m.key, err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const monthSelect = `SELECT m.id, m.year, m.month,
	m.total_income, m.total_core, m.total_choice, m.total_compound,
	m.core_pct, m.choice_pct, m.compound_pct, m.score, m.score_label,
	CAST(strftime('%s', m.updated_at) AS INTEGER), COUNT(t.id)
	FROM months m LEFT JOIN transactions t ON t.month_id = m.id`

func scanMonth(row rowScanner) (MonthRecord, error) {
	var (
		rec     MonthRecord
		label   string
		updated int64
	)
	err := row.Scan(&rec.ID, &rec.Key.Year, &rec.Key.Month,
		&rec.Stats.TotalIncome, &rec.Stats.TotalCore, &rec.Stats.TotalChoice, &rec.Stats.TotalCompound,
		&rec.Stats.CorePct, &rec.Stats.ChoicePct, &rec.Stats.CompoundPct, &rec.Stats.Score, &label,
		&updated, &rec.TransactionCount)
	if err != nil {
		return MonthRecord{}, err
	}
	rec.Stats.Label = core.ScoreLabel(label)
	rec.UpdatedAt = time.Unix(updated, 0).UTC()
	return rec, nil
}

const transactionSelect = `SELECT t.id, t.date, t.description, t.account, t.amount,
	t.source_category, t.source_subcategory, t.note, t.reconciled,
	t.category, t.subcategory, t.confidence, t.needs_review, t.manual_override
	FROM transactions t`

func queryTransactions(ctx context.Context, q queryer, query string, args ...any) ([]core.CategorizedTransaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.CategorizedTransaction
	for rows.Next() {
		var (
			t        core.CategorizedTransaction
			date     string
			amount   string
			note     sql.NullString
			category string
		)
		if err := rows.Scan(&t.ID, &date, &t.Description, &t.Account, &amount,
			&t.SourceCategory, &t.SourceSubcategory, &note, &t.Reconciled,
			&category, &t.Subcategory, &t.Confidence, &t.NeedsReview, &t.ManualOverride); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if t.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("transaction %d: bad date %q: %w", t.ID, date, err)
		}
		if t.Amount, err = decimal.NewFromString(strings.TrimSpace(amount)); err != nil {
			return nil, fmt.Errorf("transaction %d: bad amount %q: %w", t.ID, amount, err)
		}
		if note.Valid {
			n := note.String
			t.Note = &n
		}
		t.Category = core.Category(category)
		out = append(out, t)
	}
	return out, rows.Err()
}

func queryDedupKeys(ctx context.Context, q queryer, query string, args ...any) (map[string]struct{}, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dedup keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan dedup key: %w", err)
		}
		keys[k] = struct{}{}
	}
	return keys, rows.Err()
}
