package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/telekom/owners-notify/pkg/mail"
)

// Mail delivery states kept in the outbox.
const (
	StatusQueued = "queued"
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// MailRecord is a persisted outbox entry.
type MailRecord struct {
	ID         string    `json:"id" yaml:"id"`
	ThreadID   string    `json:"threadID" yaml:"threadID"`
	RelatedID  string    `json:"relatedID" yaml:"relatedID"`
	Subject    string    `json:"subject" yaml:"subject"`
	Body       string    `json:"body" yaml:"body"`
	Recipients []string  `json:"recipients" yaml:"recipients"`
	ReplyTo    string    `json:"replyTo,omitempty" yaml:"replyTo,omitempty"`
	Status     string    `json:"status" yaml:"status"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// SaveMail stores m as queued.
func (s *Store) SaveMail(ctx context.Context, m *mail.Message) error {
	return insertMail(ctx, s.db, m)
}

// SaveMails stores all messages as queued in one transaction.
func (s *Store) SaveMails(ctx context.Context, msgs []*mail.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, m := range msgs {
		if err := insertMail(ctx, tx, m); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMail(ctx context.Context, db execer, m *mail.Message) error {
	recipients, err := json.Marshal(m.RecipientIDs())
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	created := m.CreatedAt.UTC().Format(time.RFC3339Nano)
	_, err = db.ExecContext(ctx,
		`INSERT INTO mails(id, thread_id, related_id, subject, body, recipients, reply_to, status, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.ThreadID, m.RelatedID, m.Subject, m.Body, string(recipients), m.ReplyTo, StatusQueued, created, now)
	if err != nil {
		return fmt.Errorf("save mail %s: %w", m.ID, err)
	}
	return nil
}

// MarkSent records successful delivery.
func (s *Store) MarkSent(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, StatusSent, "")
}

// MarkFailed records a permanent delivery failure.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	return s.setStatus(ctx, id, StatusFailed, reason)
}

func (s *Store) setStatus(ctx context.Context, id, status, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mails SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, reason, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("mark mail %s %s: %w", id, status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mail %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListMails returns the outbox entries for a related object, oldest first.
func (s *Store) ListMails(ctx context.Context, relatedID string) ([]MailRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, related_id, subject, body, recipients, reply_to, status, error, created_at, updated_at
		 FROM mails WHERE related_id = ? ORDER BY created_at, id`, relatedID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []MailRecord
	for rows.Next() {
		var (
			r                MailRecord
			recipients       string
			created, updated string
		)
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.RelatedID, &r.Subject, &r.Body, &recipients,
			&r.ReplyTo, &r.Status, &r.Error, &created, &updated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(recipients), &r.Recipients); err != nil {
			return nil, fmt.Errorf("decode recipients of mail %s: %w", r.ID, err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, r)
	}
	return out, rows.Err()
}
