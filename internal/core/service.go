package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Cypherspark/shopsense/internal/db"
)

type Store struct {
	DB *db.DB
	// ClaimLease is how long a reply may stay in sending before another
	// claim takes it over. Zero means DefaultClaimLease.
	ClaimLease time.Duration
}

const DefaultClaimLease = 5 * time.Minute

var (
	ErrNotFound     = errors.New("message_not_found")
	ErrInvalidReply = errors.New("invalid_reply")
)

const messageColumns = `id, phone_number, body, direction, created_at, processed, ai_response, intent, action, read, notified, status, provider_message_id, attempts`

type ReplyRequest struct {
	PhoneNumber string
	Body        string
}

type InboundRequest struct {
	PhoneNumber       string
	Body              string
	ProviderMessageID *string
	ReceivedAt        time.Time
	Intent            *string
	Action            *string
	AIResponse        *string
}

// ListMessages returns up to limit messages, newest first.
func (s *Store) ListMessages(ctx context.Context, limit int) ([]Message, error) {
	rows, err := s.DB.Pool.Query(ctx, `SELECT `+messageColumns+` FROM messages ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanMessage)
}

func (s *Store) GetMessage(ctx context.Context, id string) (Message, error) {
	if !validID(id) {
		return Message{}, ErrNotFound
	}
	rows, err := s.DB.Pool.Query(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, id)
	if err != nil {
		return Message{}, err
	}
	m, err := pgx.CollectOneRow(rows, scanMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	return m, err
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func scanMessage(row pgx.CollectableRow) (Message, error) {
	var m Message
	var dir string
	err := row.Scan(&m.ID, &m.PhoneNumber, &m.Body, &dir, &m.Timestamp, &m.Processed,
		&m.AIResponse, &m.Intent, &m.Action, &m.Read, &m.Notified, &m.Status, &m.ProviderMessageID, &m.Attempts)
	m.Direction = Direction(dir)
	return m, err
}

// EnqueueReply stores an outbound reply in the queued state and returns its id.
func (s *Store) EnqueueReply(ctx context.Context, r ReplyRequest) (string, error) {
	if r.PhoneNumber == "" || r.Body == "" {
		return "", ErrInvalidReply
	}
	var id string
	err := s.DB.Pool.QueryRow(ctx, `
		INSERT INTO messages(phone_number, body, direction, status, processed, read)
		VALUES($1,$2,'outbound','queued',true,true)
		RETURNING id
	`, r.PhoneNumber, r.Body).Scan(&id)
	return id, err
}

// SaveInbound stores a received message. A provider id seen before is not stored twice;
// created reports whether a new row was written.
func (s *Store) SaveInbound(ctx context.Context, r InboundRequest) (id string, created bool, err error) {
	err = s.DB.WithTx(ctx, func(tx pgx.Tx) error {
		if r.ProviderMessageID != nil {
			err := tx.QueryRow(ctx, `SELECT id FROM messages WHERE provider_message_id=$1`, *r.ProviderMessageID).Scan(&id)
			if err == nil {
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
		}
		at := r.ReceivedAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		processed := r.Intent != nil
		err := tx.QueryRow(ctx, `
			INSERT INTO messages(phone_number, body, direction, status, created_at, processed, ai_response, intent, action, provider_message_id)
			VALUES($1,$2,'inbound','received',$3,$4,$5,$6,$7,$8)
			ON CONFLICT (provider_message_id) DO NOTHING
			RETURNING id
		`, r.PhoneNumber, r.Body, at, processed, r.AIResponse, r.Intent, r.Action, r.ProviderMessageID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			// lost a race with a concurrent insert of the same provider id
			return tx.QueryRow(ctx, `SELECT id FROM messages WHERE provider_message_id=$1`, *r.ProviderMessageID).Scan(&id)
		}
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	return id, created, err
}

// MarkRead sets the read flag. The flag is never cleared.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := s.DB.Pool.Exec(ctx, `UPDATE messages SET read=true WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkNotified records that staff were alerted about a message.
func (s *Store) MarkNotified(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := s.DB.Pool.Exec(ctx, `UPDATE messages SET notified=true WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUnread counts inbound messages not yet read.
func (s *Store) CountUnread(ctx context.Context) (int, error) {
	var n int
	err := s.DB.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE direction='inbound' AND NOT read`).Scan(&n)
	return n, err
}

// ClaimQueuedReplies moves up to limit replies to sending using SKIP LOCKED and returns their ids.
// Replies left in sending longer than the claim lease are claimed again.
func (s *Store) ClaimQueuedReplies(ctx context.Context, limit int) ([]string, error) {
	lease := s.ClaimLease
	if lease <= 0 {
		lease = DefaultClaimLease
	}
	var ids []string
	err := s.DB.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id FROM messages
			WHERE direction='outbound'
			  AND ((status='queued' AND send_after <= now())
			    OR (status='sending' AND claimed_at < now() - make_interval(secs => $2)))
			ORDER BY created_at
			LIMIT $1 FOR UPDATE SKIP LOCKED
		`, limit, lease.Seconds())
		if err != nil {
			return err
		}
		ids, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil || len(ids) == 0 {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE messages SET status='sending', attempts=attempts+1, claimed_at=now() WHERE id = ANY($1::uuid[])`, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

type PendingReply struct {
	ID          string
	PhoneNumber string
	Body        string
	Attempts    int
}

func (s *Store) LoadReplyForSend(ctx context.Context, id string) (PendingReply, error) {
	p := PendingReply{ID: id}
	err := s.DB.Pool.QueryRow(ctx, `SELECT phone_number, body, attempts FROM messages WHERE id=$1 AND direction='outbound'`, id).
		Scan(&p.PhoneNumber, &p.Body, &p.Attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

func (s *Store) MarkSent(ctx context.Context, id, providerID string) error {
	_, err := s.DB.Pool.Exec(ctx, `UPDATE messages SET status='sent', provider_message_id=NULLIF($2,''), sent_at=now(), claimed_at=NULL WHERE id=$1`, id, providerID)
	return err
}

func (s *Store) MarkFailedWithRetry(ctx context.Context, id string, retryIn time.Duration) error {
	_, err := s.DB.Pool.Exec(ctx, `UPDATE messages SET status='queued', claimed_at=NULL, send_after=now()+make_interval(secs => $2) WHERE id=$1`, id, retryIn.Seconds())
	return err
}

// ReleaseClaim returns a reply that was claimed but never handed to the provider
// to the queue, undoing the attempt the claim counted.
func (s *Store) ReleaseClaim(ctx context.Context, id string) error {
	_, err := s.DB.Pool.Exec(ctx, `
		UPDATE messages SET status='queued', attempts=GREATEST(attempts-1, 0), claimed_at=NULL, send_after=now()
		WHERE id=$1 AND status='sending'
	`, id)
	return err
}

func (s *Store) MarkFailedPermanent(ctx context.Context, id string) error {
	tag, err := s.DB.Pool.Exec(ctx, `UPDATE messages SET status='failed' WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.DB.Ping(ctx)
}
