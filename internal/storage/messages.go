package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/relatia/mailpipe/internal/models"
	"github.com/relatia/mailpipe/internal/thread"
)

// dbMessage is the flat row shape of the messages table.
type dbMessage struct {
	ID               string    `db:"id"`
	AccountID        string    `db:"account_id"`
	ExternalID       string    `db:"external_id"`
	Subject          string    `db:"subject"`
	FromAddr         string    `db:"from_addr"`
	ToAddrs          string    `db:"to_addrs"`
	CcAddrs          string    `db:"cc_addrs"`
	BccAddrs         string    `db:"bcc_addrs"`
	SentAt           time.Time `db:"sent_at"`
	ReceivedAt       time.Time `db:"received_at"`
	BodyText         string    `db:"body_text"`
	BodyHTML         string    `db:"body_html"`
	Attachments      string    `db:"attachments"`
	InlineImages     string    `db:"inline_images"`
	MessageID        string    `db:"message_id"`
	InReplyTo        string    `db:"in_reply_to"`
	Refs             string    `db:"refs"`
	Importance       string    `db:"importance"`
	Signed           bool      `db:"signed"`
	Encrypted        bool      `db:"encrypted"`
	Degraded         bool      `db:"degraded"`
	ThreadID         string    `db:"thread_id"`
	ThreadConfidence string    `db:"thread_confidence"`
	ThreadMethod     string    `db:"thread_method"`
	SubjectKey       string    `db:"subject_key"`
	Participants     string    `db:"participants"`
	NewText          string    `db:"new_text"`
	NewMarkup        string    `db:"new_markup"`
	QuotedText       string    `db:"quoted_text"`
	Signature        string    `db:"signature"`
	Disclaimer       string    `db:"disclaimer"`
	ReplyStyle       string    `db:"reply_style"`
	BusinessID       string    `db:"business_id"`
	ContactID        string    `db:"contact_id"`
	AssocConfidence  string    `db:"assoc_confidence"`
	AssocManual      bool      `db:"assoc_manual"`
	Read             bool      `db:"read"`
	Starred          bool      `db:"starred"`
	Deleted          bool      `db:"deleted"`
}

// UpsertResult reports what persisting a message did.
type UpsertResult struct {
	ID      string
	Created bool
}

// UpsertMessage persists a fully annotated message, keyed by
// (account id, external id). Re-syncing the same external id updates the
// derived annotations in place; it never duplicates the row, never touches
// the user-facing flags, and never overwrites a manual association.
func (s *Store) UpsertMessage(ctx context.Context, m *models.Message) (UpsertResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var existing dbMessage
	err = tx.GetContext(ctx, &existing, tx.Rebind(
		"SELECT * FROM messages WHERE account_id = ? AND external_id = ?",
	), m.AccountID, m.ExternalID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		if err := s.insertMessage(ctx, tx, m); err != nil {
			return UpsertResult{}, err
		}
		return UpsertResult{ID: m.ID, Created: true}, tx.Commit()
	case err != nil:
		return UpsertResult{}, fmt.Errorf("looking up message %s: %w", m.ExternalID, err)
	}

	m.ID = existing.ID
	// Flags belong to the user, not the pipeline.
	m.Read = existing.Read
	m.Starred = existing.Starred
	m.Deleted = existing.Deleted
	// Thread identity is append-only: the first assignment wins. Without this
	// a re-sync would rediscover the message's own thread through the subject
	// heuristic and downgrade the recorded confidence.
	if existing.ThreadID != "" {
		m.Thread = models.ThreadAssignment{
			ThreadID:   existing.ThreadID,
			Confidence: models.ThreadConfidence(existing.ThreadConfidence),
			Method:     models.ThreadMethod(existing.ThreadMethod),
		}
	}
	if existing.AssocManual {
		m.Association = models.AssociationResult{
			BusinessID: existing.BusinessID,
			ContactID:  existing.ContactID,
			Confidence: models.AssocConfidence(existing.AssocConfidence),
			Manual:     true,
		}
	}

	row, err := toRow(m)
	if err != nil {
		return UpsertResult{}, err
	}
	_, err = tx.NamedExecContext(ctx, `
		UPDATE messages SET
			subject = :subject, from_addr = :from_addr,
			to_addrs = :to_addrs, cc_addrs = :cc_addrs, bcc_addrs = :bcc_addrs,
			sent_at = :sent_at, received_at = :received_at,
			body_text = :body_text, body_html = :body_html,
			attachments = :attachments, inline_images = :inline_images,
			message_id = :message_id, in_reply_to = :in_reply_to, refs = :refs,
			importance = :importance, signed = :signed, encrypted = :encrypted,
			degraded = :degraded,
			thread_id = :thread_id, thread_confidence = :thread_confidence,
			thread_method = :thread_method,
			subject_key = :subject_key, participants = :participants,
			new_text = :new_text, new_markup = :new_markup,
			quoted_text = :quoted_text, signature = :signature,
			disclaimer = :disclaimer, reply_style = :reply_style,
			business_id = :business_id, contact_id = :contact_id,
			assoc_confidence = :assoc_confidence, assoc_manual = :assoc_manual
		WHERE id = :id`, row)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("updating message %s: %w", m.ExternalID, err)
	}
	return UpsertResult{ID: m.ID, Created: false}, tx.Commit()
}

func (s *Store) insertMessage(ctx context.Context, tx *sqlx.Tx, m *models.Message) error {
	row, err := toRow(m)
	if err != nil {
		return err
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO messages (
			id, account_id, external_id, subject, from_addr,
			to_addrs, cc_addrs, bcc_addrs, sent_at, received_at,
			body_text, body_html, attachments, inline_images,
			message_id, in_reply_to, refs, importance, signed, encrypted, degraded,
			thread_id, thread_confidence, thread_method, subject_key, participants,
			new_text, new_markup, quoted_text, signature, disclaimer, reply_style,
			business_id, contact_id, assoc_confidence, assoc_manual,
			read, starred, deleted
		) VALUES (
			:id, :account_id, :external_id, :subject, :from_addr,
			:to_addrs, :cc_addrs, :bcc_addrs, :sent_at, :received_at,
			:body_text, :body_html, :attachments, :inline_images,
			:message_id, :in_reply_to, :refs, :importance, :signed, :encrypted, :degraded,
			:thread_id, :thread_confidence, :thread_method, :subject_key, :participants,
			:new_text, :new_markup, :quoted_text, :signature, :disclaimer, :reply_style,
			:business_id, :contact_id, :assoc_confidence, :assoc_manual,
			:read, :starred, :deleted
		)`, row)
	if err != nil {
		return fmt.Errorf("inserting message %s: %w", m.ExternalID, err)
	}
	return nil
}

// GetMessage returns one message by its internal id.
func (s *Store) GetMessage(ctx context.Context, accountID, id string) (*models.Message, error) {
	var row dbMessage
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		"SELECT * FROM messages WHERE account_id = ? AND id = ?",
	), accountID, id)
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", id, err)
	}
	return fromRow(&row)
}

// SetAssociation writes a message's association. It is the manual path:
// whatever it writes is terminal for automatic passes.
func (s *Store) SetAssociation(ctx context.Context, messageID string, res models.AssociationResult) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE messages SET business_id = ?, contact_id = ?, assoc_confidence = ?, assoc_manual = ?
		WHERE id = ?`),
		res.BusinessID, res.ContactID, string(res.Confidence), res.Manual, messageID)
	if err != nil {
		return fmt.Errorf("setting association for %s: %w", messageID, err)
	}
	return nil
}

// SetStatus applies a partial flag update; nil fields stay untouched.
func (s *Store) SetStatus(ctx context.Context, accountID, messageID string, change models.StatusChange) error {
	sets := make([]string, 0, 3)
	args := make([]any, 0, 5)
	if change.Read != nil {
		sets = append(sets, "read = ?")
		args = append(args, *change.Read)
	}
	if change.Starred != nil {
		sets = append(sets, "starred = ?")
		args = append(args, *change.Starred)
	}
	if change.Deleted != nil {
		sets = append(sets, "deleted = ?")
		args = append(args, *change.Deleted)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, accountID, messageID)
	query := "UPDATE messages SET " + strings.Join(sets, ", ") + " WHERE account_id = ? AND id = ?"
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("updating status of %s: %w", messageID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("message %s not found", messageID)
	}
	return nil
}

// ListMessages returns non-deleted messages scoped to an account and,
// optionally, a business or contact, most recent first.
func (s *Store) ListMessages(ctx context.Context, accountID, businessID, contactID string) ([]*models.Message, error) {
	query := "SELECT * FROM messages WHERE account_id = ? AND deleted = ?"
	args := []any{accountID, false}
	if businessID != "" {
		query += " AND business_id = ?"
		args = append(args, businessID)
	}
	if contactID != "" {
		query += " AND contact_id = ?"
		args = append(args, contactID)
	}
	query += " ORDER BY sent_at DESC"
	return s.queryMessages(ctx, query, args...)
}

// ListThreadMessages returns every non-deleted message of a thread,
// oldest first.
func (s *Store) ListThreadMessages(ctx context.Context, accountID, threadID string) ([]*models.Message, error) {
	return s.queryMessages(ctx,
		"SELECT * FROM messages WHERE account_id = ? AND thread_id = ? AND deleted = ? ORDER BY sent_at ASC",
		accountID, threadID, false)
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]*models.Message, error) {
	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		var row dbMessage
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		m, err := fromRow(&row)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// FindThreadByMessageIDs resolves the first known message id of the given
// chain (ordered strongest evidence first) to its thread.
func (s *Store) FindThreadByMessageIDs(ctx context.Context, accountID string, messageIDs []string) (string, bool, error) {
	if len(messageIDs) == 0 {
		return "", false, nil
	}
	query, args, err := sqlx.In(
		"SELECT message_id, thread_id FROM messages WHERE account_id = ? AND message_id IN (?)",
		accountID, messageIDs)
	if err != nil {
		return "", false, fmt.Errorf("building message id query: %w", err)
	}
	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return "", false, fmt.Errorf("querying by message ids: %w", err)
	}
	defer rows.Close()

	threads := make(map[string]string)
	for rows.Next() {
		var messageID, threadID string
		if err := rows.Scan(&messageID, &threadID); err != nil {
			return "", false, fmt.Errorf("scanning thread lookup row: %w", err)
		}
		if threadID != "" {
			threads[messageID] = threadID
		}
	}
	if err := rows.Err(); err != nil {
		return "", false, err
	}

	// The input order encodes evidence strength; honor it.
	for _, id := range messageIDs {
		if threadID, ok := threads[id]; ok {
			return threadID, true, nil
		}
	}
	return "", false, nil
}

// FindThreadCandidates returns threads sharing the normalized subject within
// the recency window, most recent first, with their participant sets.
func (s *Store) FindThreadCandidates(ctx context.Context, accountID, subjectKey string, window time.Duration) ([]thread.Candidate, error) {
	if subjectKey == "" {
		return nil, nil
	}
	since := time.Now().UTC().Add(-window)
	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(`
		SELECT thread_id, participants, sent_at FROM messages
		WHERE account_id = ? AND subject_key = ? AND sent_at >= ? AND thread_id != ''
		ORDER BY sent_at DESC`),
		accountID, subjectKey, since)
	if err != nil {
		return nil, fmt.Errorf("querying thread candidates: %w", err)
	}
	defer rows.Close()

	byThread := make(map[string]*thread.Candidate)
	order := make([]string, 0)
	for rows.Next() {
		var threadID, participantsJSON string
		var sentAt time.Time
		if err := rows.Scan(&threadID, &participantsJSON, &sentAt); err != nil {
			return nil, fmt.Errorf("scanning candidate row: %w", err)
		}
		var participants []string
		if err := json.Unmarshal([]byte(participantsJSON), &participants); err != nil {
			return nil, fmt.Errorf("unmarshaling participants: %w", err)
		}
		c, ok := byThread[threadID]
		if !ok {
			c = &thread.Candidate{ThreadID: threadID, LastSentAt: sentAt}
			byThread[threadID] = c
			order = append(order, threadID)
		}
		if sentAt.After(c.LastSentAt) {
			c.LastSentAt = sentAt
		}
		c.Participants = append(c.Participants, participants...)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	candidates := make([]thread.Candidate, 0, len(order))
	for _, id := range order {
		candidates = append(candidates, *byThread[id])
	}
	return candidates, nil
}

// GetSyncCursor returns the persisted provider cursor for an account.
func (s *Store) GetSyncCursor(ctx context.Context, accountID string) (string, error) {
	var cursor string
	err := s.db.GetContext(ctx, &cursor, s.db.Rebind(
		"SELECT cursor FROM sync_state WHERE account_id = ?"), accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading sync cursor: %w", err)
	}
	return cursor, nil
}

// SetSyncCursor persists the provider cursor after a successful sync pass.
func (s *Store) SetSyncCursor(ctx context.Context, accountID, cursor string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO sync_state (account_id, cursor, synced_at) VALUES (?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET cursor = excluded.cursor, synced_at = excluded.synced_at`),
		accountID, cursor, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing sync cursor: %w", err)
	}
	return nil
}

func toRow(m *models.Message) (*dbMessage, error) {
	toAddrs, err := marshalJSON(m.To)
	if err != nil {
		return nil, err
	}
	ccAddrs, err := marshalJSON(m.Cc)
	if err != nil {
		return nil, err
	}
	bccAddrs, err := marshalJSON(m.Bcc)
	if err != nil {
		return nil, err
	}
	refs, err := marshalJSON(m.Headers.References)
	if err != nil {
		return nil, err
	}
	attachments, err := marshalJSON(m.Attachments)
	if err != nil {
		return nil, err
	}
	inlineImages, err := marshalJSON(m.InlineImages)
	if err != nil {
		return nil, err
	}
	participants, err := marshalJSON(participantList(m))
	if err != nil {
		return nil, err
	}

	return &dbMessage{
		ID:               m.ID,
		AccountID:        m.AccountID,
		ExternalID:       m.ExternalID,
		Subject:          m.Subject,
		FromAddr:         m.From,
		ToAddrs:          toAddrs,
		CcAddrs:          ccAddrs,
		BccAddrs:         bccAddrs,
		SentAt:           m.SentAt.UTC(),
		ReceivedAt:       m.ReceivedAt.UTC(),
		BodyText:         m.Text,
		BodyHTML:         m.HTML,
		Attachments:      attachments,
		InlineImages:     inlineImages,
		MessageID:        m.Headers.MessageID,
		InReplyTo:        m.Headers.InReplyTo,
		Refs:             refs,
		Importance:       m.Headers.Importance,
		Signed:           m.Headers.Signed,
		Encrypted:        m.Headers.Encrypted,
		Degraded:         m.Degraded,
		ThreadID:         m.Thread.ThreadID,
		ThreadConfidence: string(m.Thread.Confidence),
		ThreadMethod:     string(m.Thread.Method),
		SubjectKey:       thread.NormalizeSubject(m.Subject),
		Participants:     participants,
		NewText:          m.Extracted.NewText,
		NewMarkup:        m.Extracted.NewMarkup,
		QuotedText:       m.Extracted.QuotedText,
		Signature:        m.Extracted.Signature,
		Disclaimer:       m.Extracted.Disclaimer,
		ReplyStyle:       string(m.Extracted.ReplyStyle),
		BusinessID:       m.Association.BusinessID,
		ContactID:        m.Association.ContactID,
		AssocConfidence:  string(m.Association.Confidence),
		AssocManual:      m.Association.Manual,
		Read:             m.Read,
		Starred:          m.Starred,
		Deleted:          m.Deleted,
	}, nil
}

func fromRow(row *dbMessage) (*models.Message, error) {
	m := &models.Message{
		ID:         row.ID,
		AccountID:  row.AccountID,
		ExternalID: row.ExternalID,
		Subject:    row.Subject,
		From:       row.FromAddr,
		SentAt:     row.SentAt,
		ReceivedAt: row.ReceivedAt,
		Text:       row.BodyText,
		HTML:       row.BodyHTML,
		Headers: models.HeaderBag{
			MessageID:  row.MessageID,
			InReplyTo:  row.InReplyTo,
			Importance: row.Importance,
			Signed:     row.Signed,
			Encrypted:  row.Encrypted,
		},
		Degraded: row.Degraded,
		Thread: models.ThreadAssignment{
			ThreadID:   row.ThreadID,
			Confidence: models.ThreadConfidence(row.ThreadConfidence),
			Method:     models.ThreadMethod(row.ThreadMethod),
		},
		Extracted: models.ExtractedContent{
			NewText:    row.NewText,
			NewMarkup:  row.NewMarkup,
			QuotedText: row.QuotedText,
			Signature:  row.Signature,
			Disclaimer: row.Disclaimer,
			ReplyStyle: models.ReplyStyle(row.ReplyStyle),
		},
		Association: models.AssociationResult{
			BusinessID: row.BusinessID,
			ContactID:  row.ContactID,
			Confidence: models.AssocConfidence(row.AssocConfidence),
			Manual:     row.AssocManual,
		},
		Read:    row.Read,
		Starred: row.Starred,
		Deleted: row.Deleted,
	}

	for _, col := range []struct {
		data   string
		target any
	}{
		{row.ToAddrs, &m.To},
		{row.CcAddrs, &m.Cc},
		{row.BccAddrs, &m.Bcc},
		{row.Refs, &m.Headers.References},
		{row.Attachments, &m.Attachments},
		{row.InlineImages, &m.InlineImages},
	} {
		if col.data == "" {
			continue
		}
		if err := json.Unmarshal([]byte(col.data), col.target); err != nil {
			return nil, fmt.Errorf("unmarshaling message %s: %w", row.ID, err)
		}
	}
	return m, nil
}

func participantList(m *models.Message) []string {
	out := make([]string, 0, 1+len(m.To)+len(m.Cc))
	if m.From != "" {
		out = append(out, strings.ToLower(m.From))
	}
	for _, list := range [][]string{m.To, m.Cc} {
		for _, addr := range list {
			if addr != "" {
				out = append(out, strings.ToLower(addr))
			}
		}
	}
	return out
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshaling column: %w", err)
	}
	return string(b), nil
}
