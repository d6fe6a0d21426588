package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/relatia/mailpipe/internal/models"
)

// UpsertBusiness inserts or replaces a business and its known addresses.
func (s *Store) UpsertBusiness(ctx context.Context, accountID string, b models.Business) (string, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO businesses (id, account_id, name, domain, last_active_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, domain = excluded.domain,
			last_active_at = excluded.last_active_at`),
		b.ID, accountID, b.Name, strings.ToLower(b.Domain), b.LastActiveAt.UTC())
	if err != nil {
		return "", fmt.Errorf("upserting business %s: %w", b.ID, err)
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(
		"DELETE FROM business_emails WHERE business_id = ?"), b.ID); err != nil {
		return "", fmt.Errorf("clearing business emails: %w", err)
	}
	for _, addr := range b.Emails {
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			"INSERT INTO business_emails (business_id, address) VALUES (?, ?)"),
			b.ID, strings.ToLower(addr)); err != nil {
			return "", fmt.Errorf("inserting business email: %w", err)
		}
	}
	return b.ID, tx.Commit()
}

// UpsertContact inserts or replaces a contact and its known addresses.
func (s *Store) UpsertContact(ctx context.Context, accountID string, c models.Contact) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO contacts (id, account_id, business_id, name, last_active_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			business_id = excluded.business_id, name = excluded.name,
			last_active_at = excluded.last_active_at`),
		c.ID, accountID, c.BusinessID, c.Name, c.LastActiveAt.UTC())
	if err != nil {
		return "", fmt.Errorf("upserting contact %s: %w", c.ID, err)
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(
		"DELETE FROM contact_emails WHERE contact_id = ?"), c.ID); err != nil {
		return "", fmt.Errorf("clearing contact emails: %w", err)
	}
	for _, addr := range c.Emails {
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			"INSERT INTO contact_emails (contact_id, address) VALUES (?, ?)"),
			c.ID, strings.ToLower(addr)); err != nil {
			return "", fmt.Errorf("inserting contact email: %w", err)
		}
	}
	return c.ID, tx.Commit()
}

// FindContactsByAddress returns the contacts owning any of the addresses.
func (s *Store) FindContactsByAddress(ctx context.Context, accountID string, addresses []string) ([]models.Contact, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT DISTINCT c.id, c.business_id, c.name, c.last_active_at
		FROM contacts c JOIN contact_emails e ON e.contact_id = c.id
		WHERE c.account_id = ? AND e.address IN (?)
		ORDER BY c.id`, accountID, lowered(addresses))
	if err != nil {
		return nil, fmt.Errorf("building contact query: %w", err)
	}
	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying contacts: %w", err)
	}
	defer rows.Close()

	var contacts []models.Contact
	for rows.Next() {
		var c models.Contact
		var lastActive time.Time
		if err := rows.Scan(&c.ID, &c.BusinessID, &c.Name, &lastActive); err != nil {
			return nil, fmt.Errorf("scanning contact row: %w", err)
		}
		c.LastActiveAt = lastActive
		emails, err := s.contactEmails(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		c.Emails = emails
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (s *Store) contactEmails(ctx context.Context, contactID string) ([]string, error) {
	var emails []string
	err := s.db.SelectContext(ctx, &emails, s.db.Rebind(
		"SELECT address FROM contact_emails WHERE contact_id = ? ORDER BY address"), contactID)
	if err != nil {
		return nil, fmt.Errorf("querying contact emails: %w", err)
	}
	return emails, nil
}

// FindBusinessesByAddressOrDomain returns businesses matching any of the
// exact addresses or base domains, ordered by id for determinism.
func (s *Store) FindBusinessesByAddressOrDomain(ctx context.Context, accountID string, addresses, domains []string) ([]models.Business, error) {
	if len(addresses) == 0 && len(domains) == 0 {
		return nil, nil
	}
	if len(addresses) == 0 {
		addresses = []string{""}
	}
	if len(domains) == 0 {
		domains = []string{""}
	}
	query, args, err := sqlx.In(`
		SELECT DISTINCT b.id, b.name, b.domain, b.last_active_at
		FROM businesses b LEFT JOIN business_emails e ON e.business_id = b.id
		WHERE b.account_id = ? AND (b.domain IN (?) OR e.address IN (?))
		ORDER BY b.id`, accountID, lowered(domains), lowered(addresses))
	if err != nil {
		return nil, fmt.Errorf("building business query: %w", err)
	}
	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying businesses: %w", err)
	}
	defer rows.Close()

	var businesses []models.Business
	for rows.Next() {
		var b models.Business
		var lastActive time.Time
		if err := rows.Scan(&b.ID, &b.Name, &b.Domain, &lastActive); err != nil {
			return nil, fmt.Errorf("scanning business row: %w", err)
		}
		b.LastActiveAt = lastActive
		businesses = append(businesses, b)
	}
	return businesses, rows.Err()
}

func lowered(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, strings.ToLower(s))
		}
	}
	if len(out) == 0 {
		out = append(out, "")
	}
	return out
}
