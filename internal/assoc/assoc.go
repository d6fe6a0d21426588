// Package assoc maps message participants to CRM businesses and contacts.
package assoc

import (
	"context"
	"strings"

	"github.com/etkecc/go-kit"
	validator "github.com/etkecc/go-validator/v2"
	emailaddress "github.com/mcnijman/go-emailaddress"
	"github.com/rs/zerolog"

	"github.com/relatia/mailpipe/internal/models"
	"github.com/relatia/mailpipe/internal/utils"
)

// Directory is the CRM lookup side of persistence, scoped per workspace
// (one account maps to one workspace).
type Directory interface {
	FindContactsByAddress(ctx context.Context, accountID string, addresses []string) ([]models.Contact, error)
	FindBusinessesByAddressOrDomain(ctx context.Context, accountID string, addresses, domains []string) ([]models.Business, error)
}

// MessageStore is the slice of message persistence the service needs for
// manual association.
type MessageStore interface {
	SetAssociation(ctx context.Context, messageID string, res models.AssociationResult) error
}

// Service performs automatic association and records manual ones.
type Service struct {
	dir      Directory
	messages MessageStore
	v        *validator.V
	log      *zerolog.Logger
}

// New returns an association Service.
func New(dir Directory, messages MessageStore, log *zerolog.Logger) *Service {
	v := validator.New(&validator.Config{
		Log: func(msg string, args ...any) {
			log.Debug().Msgf(msg, args...)
		},
	})
	return &Service{dir: dir, messages: messages, v: v, log: log}
}

// Associate resolves the message's participants against the CRM directory.
// The tie-break order is fixed: exact contact match, then single-business
// address/domain match, then ambiguous (deterministic best effort, flagged
// for manual confirmation), then none. The result is deterministic across
// repeated runs over unchanged directory data.
func (s *Service) Associate(ctx context.Context, msg *models.NormalizedMessage) (models.AssociationResult, error) {
	addresses, domains := s.participants(msg)
	if len(addresses) == 0 {
		return models.AssociationResult{Confidence: models.AssocNone}, nil
	}

	contacts, err := s.dir.FindContactsByAddress(ctx, msg.AccountID, addresses)
	if err != nil {
		return models.AssociationResult{}, err
	}
	if contact, ok := exactContact(addresses, contacts); ok {
		return models.AssociationResult{
			BusinessID: contact.BusinessID,
			ContactID:  contact.ID,
			Confidence: models.AssocExact,
		}, nil
	}

	businesses, err := s.dir.FindBusinessesByAddressOrDomain(ctx, msg.AccountID, addresses, domains)
	if err != nil {
		return models.AssociationResult{}, err
	}

	switch len(businesses) {
	case 0:
		return models.AssociationResult{Confidence: models.AssocNone}, nil
	case 1:
		return models.AssociationResult{
			BusinessID: businesses[0].ID,
			Confidence: models.AssocDomain,
		}, nil
	default:
		// Best-effort candidate (most recently active), flagged for manual
		// confirmation. Ambiguity is a valid terminal state, not an error.
		best := businesses[0]
		for _, b := range businesses[1:] {
			if b.LastActiveAt.After(best.LastActiveAt) {
				best = b
			}
		}
		s.log.Info().
			Str("external_id", msg.ExternalID).
			Int("matches", len(businesses)).
			Str("candidate", best.ID).
			Msg("ambiguous business association, needs manual confirmation")
		return models.AssociationResult{
			BusinessID: best.ID,
			Confidence: models.AssocAmbiguous,
		}, nil
	}
}

// ManuallyAssociate records a terminal association. Automatic passes never
// overwrite it; that contract is enforced at the persistence layer.
func (s *Service) ManuallyAssociate(ctx context.Context, messageID, businessID, contactID string) error {
	return s.messages.SetAssociation(ctx, messageID, models.AssociationResult{
		BusinessID: businessID,
		ContactID:  contactID,
		Confidence: models.AssocExact,
		Manual:     true,
	})
}

// participants collects the valid addresses of the message (sender first)
// and their base domains. Subaddresses are folded away, so jane+crm@ and
// jane@ resolve to the same contact.
func (s *Service) participants(msg *models.NormalizedMessage) (addresses, domains []string) {
	raw := make([]string, 0, 1+len(msg.To)+len(msg.Cc))
	if msg.From != "" {
		raw = append(raw, msg.From)
	}
	raw = append(raw, msg.To...)
	raw = append(raw, msg.Cc...)

	for _, addr := range kit.Uniq(raw) {
		parsed, err := emailaddress.Parse(strings.ToLower(strings.TrimSpace(addr)))
		if err != nil {
			s.log.Debug().Str("address", addr).Msg("skipping unparsable address")
			continue
		}
		mailbox, _, hostname := utils.EmailParts(parsed.String())
		addresses = append(addresses, mailbox+"@"+hostname)
		domains = append(domains, s.v.GetBase(parsed.Domain))
	}
	return kit.Uniq(addresses), kit.Uniq(domains)
}

func exactContact(addresses []string, contacts []models.Contact) (models.Contact, bool) {
	// Address order encodes priority: the sender wins over recipients.
	for _, addr := range addresses {
		for _, c := range contacts {
			for _, email := range c.Emails {
				if strings.EqualFold(email, addr) {
					return c, true
				}
			}
		}
	}
	return models.Contact{}, false
}
