// Package store persists bots, funnels, known Telegram users and the payment
// audit trail in an embedded SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"pixfunnel/pkg/funnel"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

type DB struct {
	sql *sql.DB
}

func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", dbPath)
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxOpenConns(1) // SQLite best practice for embedded use
	sqldb.SetConnMaxLifetime(0)

	db := &DB{sql: sqldb}
	if err := db.migrate(context.Background()); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bots (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			token TEXT NOT NULL,
			funnel_id TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS funnels (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS telegram_users (
			bot_id TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			chat_id INTEGER NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			first_seen INTEGER NOT NULL,
			last_seen INTEGER NOT NULL,
			PRIMARY KEY (bot_id, user_id)
		);`,
		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			bot_id TEXT NOT NULL,
			chat_id INTEGER NOT NULL,
			button_id TEXT NOT NULL,
			amount_cents INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_payments_bot_status ON payments(bot_id, status);`,
	}
	for _, s := range stmts {
		if _, err := d.sql.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

type Bot struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Token     string `json:"token"`
	FunnelID  string `json:"funnel_id"`
	Enabled   bool   `json:"enabled"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

func (d *DB) SaveBot(ctx context.Context, b *Bot) error {
	now := time.Now().Unix()
	if b.CreatedAt == 0 {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	enabled := 0
	if b.Enabled {
		enabled = 1
	}
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO bots(id,name,token,funnel_id,enabled,created_at,updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, token=excluded.token,
		 funnel_id=excluded.funnel_id, enabled=excluded.enabled, updated_at=excluded.updated_at`,
		b.ID, b.Name, b.Token, b.FunnelID, enabled, b.CreatedAt, b.UpdatedAt)
	return err
}

func (d *DB) GetBot(ctx context.Context, id string) (*Bot, error) {
	var b Bot
	var enabled int
	err := d.sql.QueryRowContext(ctx,
		`SELECT id,name,token,funnel_id,enabled,created_at,updated_at FROM bots WHERE id=?`, id).
		Scan(&b.ID, &b.Name, &b.Token, &b.FunnelID, &enabled, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Enabled = enabled == 1
	return &b, nil
}

func (d *DB) ListBots(ctx context.Context) ([]Bot, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id,name,token,funnel_id,enabled,created_at,updated_at FROM bots ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Bot
	for rows.Next() {
		var b Bot
		var enabled int
		if err := rows.Scan(&b.ID, &b.Name, &b.Token, &b.FunnelID, &enabled, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		b.Enabled = enabled == 1
		out = append(out, b)
	}
	return out, rows.Err()
}

func (d *DB) DeleteBot(ctx context.Context, id string) error {
	res, err := d.sql.ExecContext(ctx, `DELETE FROM bots WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *DB) SetBotEnabled(ctx context.Context, id string, enabled bool) error {
	val := 0
	if enabled {
		val = 1
	}
	res, err := d.sql.ExecContext(ctx,
		`UPDATE bots SET enabled=?, updated_at=? WHERE id=?`, val, time.Now().Unix(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveFunnel stores a funnel as a JSON blob. Definitions are read back in
// bulk and served from the in-memory registry, never queried field by field.
func (d *DB) SaveFunnel(ctx context.Context, f *funnel.Funnel) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_, err = d.sql.ExecContext(ctx,
		`INSERT INTO funnels(id,data,updated_at) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		f.ID, string(data), time.Now().Unix())
	return err
}

func (d *DB) DeleteFunnel(ctx context.Context, id string) error {
	res, err := d.sql.ExecContext(ctx, `DELETE FROM funnels WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *DB) ListFunnels(ctx context.Context) ([]funnel.Funnel, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT data FROM funnels ORDER BY updated_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []funnel.Funnel
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var f funnel.Funnel
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			return nil, fmt.Errorf("corrupt funnel row: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpsertTelegramUser records a user interacting with a bot. Callers treat
// failures as best effort; a write error never blocks the conversation.
func (d *DB) UpsertTelegramUser(ctx context.Context, botID string, userID, chatID int64, username, firstName string) error {
	now := time.Now().Unix()
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO telegram_users(bot_id,user_id,chat_id,username,first_name,first_seen,last_seen)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(bot_id,user_id) DO UPDATE SET chat_id=excluded.chat_id,
		 username=excluded.username, first_name=excluded.first_name, last_seen=excluded.last_seen`,
		botID, userID, chatID, username, firstName, now, now)
	return err
}

func (d *DB) CountTelegramUsers(ctx context.Context, botID string) (int, error) {
	var c int
	err := d.sql.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM telegram_users WHERE bot_id=?`, botID).Scan(&c)
	return c, err
}

type Payment struct {
	ID          string `json:"id"`
	BotID       string `json:"bot_id"`
	ChatID      int64  `json:"chat_id"`
	ButtonID    string `json:"button_id"`
	AmountCents int64  `json:"amount_cents"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

func (d *DB) RecordPayment(ctx context.Context, p *Payment) error {
	now := time.Now().Unix()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO payments(id,bot_id,chat_id,button_id,amount_cents,status,created_at,updated_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, updated_at=excluded.updated_at`,
		p.ID, p.BotID, p.ChatID, p.ButtonID, p.AmountCents, p.Status, p.CreatedAt, p.UpdatedAt)
	return err
}

func (d *DB) UpdatePaymentStatus(ctx context.Context, id, status string) error {
	res, err := d.sql.ExecContext(ctx,
		`UPDATE payments SET status=?, updated_at=? WHERE id=?`, status, time.Now().Unix(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *DB) ListPayments(ctx context.Context, botID string, limit int) ([]Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id,bot_id,chat_id,button_id,amount_cents,status,created_at,updated_at
		 FROM payments WHERE bot_id=? ORDER BY created_at DESC LIMIT ?`, botID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.BotID, &p.ChatID, &p.ButtonID, &p.AmountCents, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Stats is the dashboard summary.
type Stats struct {
	Bots         int   `json:"bots"`
	Funnels      int   `json:"funnels"`
	Users        int   `json:"users"`
	PaymentsPaid int   `json:"payments_paid"`
	RevenueCents int64 `json:"revenue_cents"`
}

func (d *DB) GetStats(ctx context.Context) (*Stats, error) {
	var s Stats
	if err := d.sql.QueryRowContext(ctx, `SELECT COUNT(1) FROM bots`).Scan(&s.Bots); err != nil {
		return nil, err
	}
	if err := d.sql.QueryRowContext(ctx, `SELECT COUNT(1) FROM funnels`).Scan(&s.Funnels); err != nil {
		return nil, err
	}
	if err := d.sql.QueryRowContext(ctx, `SELECT COUNT(1) FROM telegram_users`).Scan(&s.Users); err != nil {
		return nil, err
	}
	err := d.sql.QueryRowContext(ctx,
		`SELECT COUNT(1), COALESCE(SUM(amount_cents),0) FROM payments WHERE status='paid'`).
		Scan(&s.PaymentsPaid, &s.RevenueCents)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
