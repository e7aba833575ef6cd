package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mmeshcher/donations-system/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	userColumns     = `id, name, email, role, balance, bank_details, fund_ids, customer_ref, subscription_ref, created_at, updated_at`
	fundColumns     = `id, admin_id, name, description, target_amount, current_amount, plan, is_active, start_date, created_at, updated_at`
	donationColumns = `id, fund_id, donor_id, amount, donation_interval, source, invoice_id, created_at`
	historyColumns  = `id, user_id, fund_id, amount, donation_interval, source, invoice_id, paid_at`
	eventColumns    = `key, event_id, type, customer_ref, amount_minor, invoice_id, subscription_ref, donation_interval, fund_id, occurred_at, status, reason, attempts, updated_at`
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	delays []time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		delays: []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second},
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при конфликтах сериализации, дедлоках и обрывах соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= len(r.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(r.delays) {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.delays[i]):
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// InTx выполняет fn в транзакции. При временных ошибках транзакция целиком повторяется.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(ctx, &pgTx{tx: tx}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, u *model.User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.Name, u.Email, string(u.Role), u.Balance, u.BankDetails, fundIDs(u.FundIDs),
		u.CustomerRef, u.SubscriptionRef, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrUserExists, u.Email)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetUserByEmail возвращает пользователя по email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// GetFund возвращает сбор по идентификатору.
func (r *PostgresRepository) GetFund(ctx context.Context, id string) (*model.Fund, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+fundColumns+` FROM funds WHERE id = $1`, id)
	return scanFund(row)
}

// ListDonations возвращает журнал пожертвований сбора, новые записи первыми. limit <= 0 снимает ограничение.
func (r *PostgresRepository) ListDonations(ctx context.Context, fundID string, limit int) ([]model.Donation, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+donationColumns+`
		 FROM fund_donations
		 WHERE fund_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		fundID, lim,
	)
	if err != nil {
		return nil, fmt.Errorf("select donations: %w", err)
	}
	defer rows.Close()

	var res []model.Donation
	for rows.Next() {
		var (
			d        model.Donation
			interval string
			source   string
		)
		if err := rows.Scan(&d.ID, &d.FundID, &d.DonorID, &d.Amount, &interval, &source, &d.InvoiceID, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan donation: %w", err)
		}
		d.Interval = model.Interval(interval)
		d.Source = model.DonationSource(source)
		res = append(res, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListHistory возвращает историю пожертвований пользователя, новые записи первыми.
func (r *PostgresRepository) ListHistory(ctx context.Context, userID string) ([]model.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+historyColumns+`
		 FROM donation_history
		 WHERE user_id = $1
		 ORDER BY paid_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()

	var res []model.HistoryEntry
	for rows.Next() {
		var (
			h        model.HistoryEntry
			interval string
			source   string
		)
		if err := rows.Scan(&h.ID, &h.UserID, &h.FundID, &h.Amount, &interval, &source, &h.InvoiceID, &h.PaidAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		h.Interval = model.Interval(interval)
		h.Source = model.DonationSource(source)
		res = append(res, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SavePaymentEvent сохраняет или обновляет запись о событии оплаты.
func (r *PostgresRepository) SavePaymentEvent(ctx context.Context, rec *model.PaymentEventRecord) error {
	return upsertPaymentEvent(ctx, r.pool, rec)
}

// ListPaymentEvents возвращает события с указанным статусом, старые первыми.
func (r *PostgresRepository) ListPaymentEvents(ctx context.Context, status model.PaymentEventStatus, limit int) ([]model.PaymentEventRecord, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+eventColumns+`
		 FROM payment_events
		 WHERE status = $1
		 ORDER BY updated_at
		 LIMIT $2`,
		string(status), lim,
	)
	if err != nil {
		return nil, fmt.Errorf("select payment events: %w", err)
	}
	defer rows.Close()

	var res []model.PaymentEventRecord
	for rows.Next() {
		rec, err := scanPaymentEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetFundForUpdate(ctx context.Context, id string) (*model.Fund, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+fundColumns+` FROM funds WHERE id = $1 FOR UPDATE`, id)
	return scanFund(row)
}

func (t *pgTx) CreateFund(ctx context.Context, f *model.Fund) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO funds (`+fundColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		f.ID, f.AdminID, f.Name, f.Description, f.TargetAmount, f.CurrentAmount, string(f.Plan),
		f.IsActive, f.StartDate, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert fund: %w", err)
	}
	return nil
}

func (t *pgTx) SaveFund(ctx context.Context, f *model.Fund) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE funds
		 SET name = $2, description = $3, target_amount = $4, current_amount = $5,
		     plan = $6, is_active = $7, start_date = $8, updated_at = $9
		 WHERE id = $1`,
		f.ID, f.Name, f.Description, f.TargetAmount, f.CurrentAmount,
		string(f.Plan), f.IsActive, f.StartDate, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update fund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFundNotFound
	}
	return nil
}

func (t *pgTx) AppendDonation(ctx context.Context, d *model.Donation) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO fund_donations (`+donationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.FundID, d.DonorID, d.Amount, string(d.Interval), string(d.Source), d.InvoiceID, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert donation: %w", err)
	}
	return nil
}

func (t *pgTx) GetUserForUpdate(ctx context.Context, id string) (*model.User, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
	return scanUser(row)
}

func (t *pgTx) GetUserByCustomerRefForUpdate(ctx context.Context, customerRef string) (*model.User, error) {
	if customerRef == "" {
		return nil, ErrUserNotFound
	}
	row := t.tx.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE customer_ref = $1 ORDER BY created_at LIMIT 1 FOR UPDATE`,
		customerRef,
	)
	return scanUser(row)
}

func (t *pgTx) SaveUser(ctx context.Context, u *model.User) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE users
		 SET name = $2, role = $3, balance = $4, bank_details = $5, fund_ids = $6,
		     customer_ref = $7, subscription_ref = $8, updated_at = $9
		 WHERE id = $1`,
		u.ID, u.Name, string(u.Role), u.Balance, u.BankDetails, fundIDs(u.FundIDs),
		u.CustomerRef, u.SubscriptionRef, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (t *pgTx) AppendHistory(ctx context.Context, h *model.HistoryEntry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO donation_history (`+historyColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		h.ID, h.UserID, h.FundID, h.Amount, string(h.Interval), string(h.Source), h.InvoiceID, h.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// GetPaymentEvent сначала занимает ключ события, чтобы параллельная доставка того же события
// ждала завершения этой транзакции, а затем блокирует запись.
func (t *pgTx) GetPaymentEvent(ctx context.Context, key string) (*model.PaymentEventRecord, error) {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO payment_events (key, status) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
		key, string(model.PaymentEventReceived),
	)
	if err != nil {
		return nil, fmt.Errorf("claim payment event: %w", err)
	}

	row := t.tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM payment_events WHERE key = $1 FOR UPDATE`, key)
	rec, err := scanPaymentEvent(row)
	if err != nil {
		return nil, err
	}
	if rec.Status == model.PaymentEventReceived {
		return nil, ErrPaymentEventNotFound
	}
	return rec, nil
}

func (t *pgTx) SavePaymentEvent(ctx context.Context, rec *model.PaymentEventRecord) error {
	return upsertPaymentEvent(ctx, t.tx, rec)
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func upsertPaymentEvent(ctx context.Context, db execer, rec *model.PaymentEventRecord) error {
	_, err := db.Exec(ctx,
		`INSERT INTO payment_events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (key) DO UPDATE SET
		     event_id = EXCLUDED.event_id,
		     type = EXCLUDED.type,
		     customer_ref = EXCLUDED.customer_ref,
		     amount_minor = EXCLUDED.amount_minor,
		     invoice_id = EXCLUDED.invoice_id,
		     subscription_ref = EXCLUDED.subscription_ref,
		     donation_interval = EXCLUDED.donation_interval,
		     fund_id = EXCLUDED.fund_id,
		     occurred_at = EXCLUDED.occurred_at,
		     status = EXCLUDED.status,
		     reason = EXCLUDED.reason,
		     attempts = EXCLUDED.attempts,
		     updated_at = EXCLUDED.updated_at`,
		rec.Key, rec.EventID, rec.Type, rec.CustomerRef, rec.AmountMinor, rec.InvoiceID,
		rec.SubscriptionRef, string(rec.Interval), rec.FundID, rec.OccurredAt,
		string(rec.Status), rec.Reason, rec.Attempts, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert payment event: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u    model.User
		role string
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &u.Balance, &u.BankDetails, &u.FundIDs,
		&u.CustomerRef, &u.SubscriptionRef, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)
	return &u, nil
}

func scanFund(row pgx.Row) (*model.Fund, error) {
	var (
		f    model.Fund
		plan string
	)
	err := row.Scan(&f.ID, &f.AdminID, &f.Name, &f.Description, &f.TargetAmount, &f.CurrentAmount,
		&plan, &f.IsActive, &f.StartDate, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFundNotFound
		}
		return nil, fmt.Errorf("get fund: %w", err)
	}
	f.Plan = model.Interval(plan)
	return &f, nil
}

func scanPaymentEvent(row pgx.Row) (*model.PaymentEventRecord, error) {
	var (
		rec      model.PaymentEventRecord
		interval string
		status   string
	)
	err := row.Scan(&rec.Key, &rec.EventID, &rec.Type, &rec.CustomerRef, &rec.AmountMinor, &rec.InvoiceID,
		&rec.SubscriptionRef, &interval, &rec.FundID, &rec.OccurredAt, &status, &rec.Reason,
		&rec.Attempts, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentEventNotFound
		}
		return nil, fmt.Errorf("get payment event: %w", err)
	}
	rec.Interval = model.Interval(interval)
	rec.Status = model.PaymentEventStatus(status)
	return &rec, nil
}

func fundIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
