package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cubegift-bot/internal/models"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS credit_journal (
	payload     TEXT PRIMARY KEY,
	user_id     INTEGER NOT NULL,
	amount      INTEGER NOT NULL,
	charge_id   TEXT NOT NULL,
	consumed_at INTEGER NOT NULL,
	credited_at INTEGER
);
`

type journalRow struct {
	Payload    string `db:"payload"`
	UserID     int64  `db:"user_id"`
	Amount     int64  `db:"amount"`
	ChargeID   string `db:"charge_id"`
	ConsumedAt int64  `db:"consumed_at"`
}

// SQLiteJournal журнал зачислений в файле SQLite
type SQLiteJournal struct {
	db *sqlx.DB
}

// OpenJournal открывает (и создаёт) журнал по пути к файлу или ":memory:"
func OpenJournal(ctx context.Context, path string) (*SQLiteJournal, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// один писатель, и ":memory:" должна жить в одном соединении
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

// Close закрывает файл журнала
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// Record записывает использованный платёж до зачисления
func (j *SQLiteJournal) Record(ctx context.Context, e models.JournalEntry) error {
	_, err := j.db.NamedExecContext(ctx, `
		INSERT INTO credit_journal (payload, user_id, amount, charge_id, consumed_at)
		VALUES (:payload, :user_id, :amount, :charge_id, :consumed_at)
	`, journalRow{
		Payload:    e.Payload,
		UserID:     e.UserID,
		Amount:     e.Amount,
		ChargeID:   e.ChargeID,
		ConsumedAt: e.ConsumedAt.UnixNano(),
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", models.ErrDuplicatePayload, e.Payload)
		}
		return fmt.Errorf("journal record: %w", err)
	}
	return nil
}

// MarkCredited отмечает запись зачисленной
func (j *SQLiteJournal) MarkCredited(ctx context.Context, payload string) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE credit_journal SET credited_at = ? WHERE payload = ? AND credited_at IS NULL`,
		time.Now().UnixNano(), payload,
	)
	if err != nil {
		return fmt.Errorf("journal mark credited: %w", err)
	}
	return nil
}

// Uncredited возвращает незачисленные записи в порядке использования
func (j *SQLiteJournal) Uncredited(ctx context.Context) ([]models.JournalEntry, error) {
	var rows []journalRow
	err := j.db.SelectContext(ctx, &rows, `
		SELECT payload, user_id, amount, charge_id, consumed_at
		FROM credit_journal
		WHERE credited_at IS NULL
		ORDER BY consumed_at
	`)
	if err != nil {
		return nil, fmt.Errorf("journal uncredited: %w", err)
	}

	entries := make([]models.JournalEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, models.JournalEntry{
			Payload:    r.Payload,
			UserID:     r.UserID,
			Amount:     r.Amount,
			ChargeID:   r.ChargeID,
			ConsumedAt: time.Unix(0, r.ConsumedAt),
		})
	}
	return entries, nil
}
