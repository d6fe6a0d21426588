// Package compose builds outgoing reply drafts that keep thread continuity:
// In-Reply-To and References always chain back to the message being answered.
package compose

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-msgauth/dkim"
	"github.com/google/uuid"
	enmime "github.com/jhillyerd/enmime/v2"
	"github.com/rs/zerolog"

	"github.com/relatia/mailpipe/internal/models"
	"github.com/relatia/mailpipe/internal/utils"
)

// File is an outgoing attachment or inline part.
type File struct {
	Name      string
	MediaType string
	ContentID string // set for inline parts
	Content   []byte
}

// Draft is an outgoing message before rendering.
type Draft struct {
	From       string
	To         []string
	Cc         []string
	Subject    string
	MessageID  string
	InReplyTo  string
	References []string
	Text       string
	HTML       string
	Files      []File
}

// Composer renders drafts to wire format and optionally DKIM-signs them.
type Composer struct {
	selector string
	privkey  string
	log      *zerolog.Logger
}

// New returns a Composer. privkey is a PEM-encoded PKCS#8 key; empty
// disables signing.
func New(selector, privkey string, log *zerolog.Logger) *Composer {
	if selector == "" {
		selector = "mailpipe"
	}
	return &Composer{selector: selector, privkey: privkey, log: log}
}

// NewReply drafts a reply to a persisted message. The reference chain is the
// original's References plus its own Message-Id, so any threading client and
// our own identifier land the reply in the same conversation.
func NewReply(orig *models.Message, from, text, html string) *Draft {
	refs := make([]string, 0, len(orig.Headers.References)+1)
	refs = append(refs, orig.Headers.References...)
	if orig.Headers.MessageID != "" {
		refs = append(refs, orig.Headers.MessageID)
	}

	subject := orig.Subject
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		subject = "Re: " + subject
	}

	return &Draft{
		From:       from,
		To:         []string{orig.From},
		Subject:    subject,
		MessageID:  generateMessageID(from),
		InReplyTo:  orig.Headers.MessageID,
		References: refs,
		Text:       text,
		HTML:       html,
	}
}

// Render produces the RFC 5322 wire form of the draft.
func (c *Composer) Render(d *Draft) (string, error) {
	if d.Text == "" && d.HTML == "" {
		return "", fmt.Errorf("draft has no body")
	}
	if len(d.To) == 0 {
		return "", fmt.Errorf("draft has no recipient")
	}

	mail := enmime.Builder().
		From("", d.From).
		Subject(d.Subject).
		Header("Message-Id", d.MessageID).
		Date(time.Now().UTC())
	for _, to := range d.To {
		mail = mail.To("", to)
	}
	for _, cc := range d.Cc {
		mail = mail.CC("", cc)
	}
	if d.Text != "" {
		mail = mail.Text([]byte(d.Text))
	}
	if d.HTML != "" {
		mail = mail.HTML([]byte(d.HTML))
	}
	if d.InReplyTo != "" {
		mail = mail.Header("In-Reply-To", d.InReplyTo)
	}
	if len(d.References) > 0 {
		mail = mail.Header("References", strings.Join(d.References, " "))
	}
	for _, f := range d.Files {
		if f.ContentID != "" {
			mail = mail.AddInline(f.Content, f.MediaType, f.Name, f.ContentID)
		} else {
			mail = mail.AddAttachment(f.Content, f.MediaType, f.Name)
		}
	}

	root, err := mail.Build()
	if err != nil {
		return "", fmt.Errorf("building message: %w", err)
	}
	var data strings.Builder
	if err := root.Encode(&data); err != nil {
		return "", fmt.Errorf("encoding message: %w", err)
	}

	return c.sign(domainOf(d.From), data.String()), nil
}

// sign DKIM-signs the rendered message. Any signing trouble falls back to
// the unsigned form; delivery beats a missing signature.
func (c *Composer) sign(domain, data string) string {
	if c.privkey == "" || domain == "" {
		return data
	}
	pemblock, _ := pem.Decode([]byte(c.privkey))
	if pemblock == nil {
		c.log.Warn().Msg("dkim key is not valid PEM, sending unsigned")
		return data
	}
	parsedkey, err := x509.ParsePKCS8PrivateKey(pemblock.Bytes)
	if err != nil {
		c.log.Warn().Err(err).Msg("cannot parse dkim key, sending unsigned")
		return data
	}
	signer, ok := parsedkey.(crypto.Signer)
	if !ok {
		return data
	}

	var msg strings.Builder
	err = dkim.Sign(&msg, strings.NewReader(data), &dkim.SignOptions{
		Domain:   domain,
		Selector: c.selector,
		Signer:   signer,
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("dkim signing failed, sending unsigned")
		return data
	}
	return msg.String()
}

func generateMessageID(from string) string {
	domain := domainOf(from)
	if domain == "" {
		domain = "localhost"
	}
	return "<" + uuid.New().String() + "@" + domain + ">"
}

func domainOf(addr string) string {
	_, _, hostname := utils.EmailParts(addr)
	return hostname
}
