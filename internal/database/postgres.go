package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cubegift-bot/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

// DB обёртка над пулом соединений PostgreSQL
type DB struct {
	Pool *pgxpool.Pool
	log  *zap.Logger
}

// New создаёт новое подключение к БД используя DATABASE_URL
func New(ctx context.Context, databaseURL string, log *zap.Logger) (*DB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &DB{Pool: pool, log: log}, nil
}

// Close закрывает пул соединений
func (db *DB) Close() {
	db.Pool.Close()
}

// RunMigrations выполняет SQL миграции из указанной директории
func (db *DB) RunMigrations(ctx context.Context, migrationsDir string) error {
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, filename := range files {
		version := strings.TrimSuffix(filename, ".sql")

		var applied bool
		err := db.Pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
			version,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("failed to check migration status for %s: %w", version, err)
		}
		if applied {
			continue
		}

		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}

		if err := db.applyMigration(ctx, version, string(content)); err != nil {
			return err
		}

		db.log.Info("✅ applied migration", zap.String("version", version))
	}

	return nil
}

func (db *DB) applyMigration(ctx context.Context, version, sql string) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for %s: %w", version, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", version, err)
	}

	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", version, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", version, err)
	}
	return nil
}

// === Pending Payments ===

// PostgresPendingStore ожидающие платежи в таблице pending_payments
type PostgresPendingStore struct {
	db *DB
}

// NewPostgresPendingStore создаёт хранилище поверх пула
func NewPostgresPendingStore(db *DB) *PostgresPendingStore {
	return &PostgresPendingStore{db: db}
}

// Register добавляет платёж; повторный payload даёт ErrDuplicatePayload
func (s *PostgresPendingStore) Register(ctx context.Context, p models.PendingPayment) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO pending_payments (payload, user_id, amount, created_at)
		VALUES ($1, $2, $3, $4)
	`, p.Payload, p.UserID, p.Amount, p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", models.ErrDuplicatePayload, p.Payload)
		}
		return err
	}
	return nil
}

// Lookup получает платёж без удаления
func (s *PostgresPendingStore) Lookup(ctx context.Context, payload string) (*models.PendingPayment, error) {
	var p models.PendingPayment
	err := s.db.Pool.QueryRow(ctx, `
		SELECT payload, user_id, amount, created_at
		FROM pending_payments WHERE payload = $1
	`, payload).Scan(&p.Payload, &p.UserID, &p.Amount, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Consume удаляет платёж одним DELETE ... RETURNING, поэтому строку получает только один вызов
func (s *PostgresPendingStore) Consume(ctx context.Context, payload string) (*models.PendingPayment, error) {
	var p models.PendingPayment
	err := s.db.Pool.QueryRow(ctx, `
		DELETE FROM pending_payments WHERE payload = $1
		RETURNING payload, user_id, amount, created_at
	`, payload).Scan(&p.Payload, &p.UserID, &p.Amount, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Expire удаляет платежи старше olderThan
func (s *PostgresPendingStore) Expire(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := s.db.Pool.Exec(ctx, `
		DELETE FROM pending_payments WHERE created_at <= $1
	`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// === Balances ===

// PostgresLedger балансы в таблице balances с историей в transactions
type PostgresLedger struct {
	db *DB
}

// NewPostgresLedger создаёт ledger поверх пула
func NewPostgresLedger(db *DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Credit пополняет баланс и создаёт транзакцию. Инкремент выполняется в UPDATE,
// строки одного пользователя блокируются, параллельные зачисления не теряются.
func (l *PostgresLedger) Credit(ctx context.Context, userID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: %d", models.ErrNonPositiveAmount, amount)
	}

	tx, err := l.db.Pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, `
		INSERT INTO balances (user_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = balances.balance + EXCLUDED.balance, updated_at = NOW()
		RETURNING balance
	`, userID, amount).Scan(&balance)
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO transactions (user_id, amount, type, status)
		VALUES ($1, $2, 'top_up', 'completed')
	`, userID, amount)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return balance, nil
}

// Balance возвращает баланс, 0 если пользователь ещё не пополнял
func (l *PostgresLedger) Balance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := l.db.Pool.QueryRow(ctx, `SELECT balance FROM balances WHERE user_id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}
