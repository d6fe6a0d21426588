// Package timeline projects persisted messages and other CRM events into a
// single chronological feed. The feed is always computed on read; nothing in
// this package persists state of its own.
package timeline

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/etkecc/go-kit"
	"github.com/kvannotten/mailstrip"
	"github.com/rs/zerolog"

	"github.com/relatia/mailpipe/internal/extract"
	"github.com/relatia/mailpipe/internal/models"
)

// previewLen caps the one-line preview shown in the feed.
const previewLen = 160

// Query selects and shapes a timeline.
type Query struct {
	AccountID  string
	BusinessID string
	ContactID  string

	// Kinds restricts the feed to the named event kinds. Empty means all.
	Kinds []models.EventKind

	// Collapse folds each email thread into one representative event.
	Collapse bool

	Since time.Time
	Until time.Time

	// Page is 1-based; Limit is the page size. A zero Limit returns
	// everything as a single page.
	Page  int
	Limit int
}

// Page is one slice of the feed together with its pagination metadata.
type Page struct {
	Events  []models.TimelineEvent
	Total   int
	Page    int
	PerPage int
	HasMore bool
}

// wantKind is the kind filter. It is a pure predicate over the query so the
// same query always selects the same events.
func (q Query) wantKind(k models.EventKind) bool {
	if len(q.Kinds) == 0 {
		return true
	}
	for _, want := range q.Kinds {
		if want == k {
			return true
		}
	}
	return false
}

func (q Query) inRange(t time.Time) bool {
	if !q.Since.IsZero() && t.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && t.After(q.Until) {
		return false
	}
	return true
}

// MessageSource is the message persistence the aggregator reads.
type MessageSource interface {
	// ListMessages returns non-deleted messages matching the query's
	// account/business/contact scope, most recent first.
	ListMessages(ctx context.Context, accountID, businessID, contactID string) ([]*models.Message, error)
	// ListThreadMessages returns every non-deleted message of a thread.
	ListThreadMessages(ctx context.Context, accountID, threadID string) ([]*models.Message, error)
}

// EventSource supplies non-email events (activities, tickets, offers,
// chat messages) already shaped as timeline events.
type EventSource interface {
	ListEvents(ctx context.Context, accountID, businessID, contactID string) ([]models.TimelineEvent, error)
}

// Aggregator builds timeline feeds and thread views.
type Aggregator struct {
	messages  MessageSource
	events    EventSource // optional
	extractor *extract.Extractor
	log       *zerolog.Logger
}

// New returns an Aggregator. events may be nil when only email is wired;
// extractor may be nil to fall back to the stored content split.
func New(messages MessageSource, events EventSource, extractor *extract.Extractor, log *zerolog.Logger) *Aggregator {
	return &Aggregator{messages: messages, events: events, extractor: extractor, log: log}
}

// GetTimeline returns one page of the merged feed, newest first. With
// Collapse set, each email thread contributes exactly one representative
// event (its most recent message) annotated with the thread size.
func (a *Aggregator) GetTimeline(ctx context.Context, q Query) (*Page, error) {
	feed := make([]models.TimelineEvent, 0)

	if q.wantKind(models.EventEmail) {
		msgs, err := a.messages.ListMessages(ctx, q.AccountID, q.BusinessID, q.ContactID)
		if err != nil {
			return nil, err
		}
		feed = append(feed, a.emailEvents(msgs, q.Collapse)...)
	}

	if a.events != nil {
		others, err := a.events.ListEvents(ctx, q.AccountID, q.BusinessID, q.ContactID)
		if err != nil {
			return nil, err
		}
		for _, ev := range others {
			if ev.Kind != models.EventEmail && q.wantKind(ev.Kind) {
				feed = append(feed, ev)
			}
		}
	}

	filtered := feed[:0]
	for _, ev := range feed {
		if q.inRange(ev.Timestamp) {
			filtered = append(filtered, ev)
		}
	}

	// Newest first; id breaks timestamp ties so pagination stays stable.
	sort.SliceStable(filtered, func(i, j int) bool {
		if !filtered[i].Timestamp.Equal(filtered[j].Timestamp) {
			return filtered[i].Timestamp.After(filtered[j].Timestamp)
		}
		return filtered[i].ID > filtered[j].ID
	})

	return paginate(filtered, q), nil
}

func paginate(events []models.TimelineEvent, q Query) *Page {
	pageNo := q.Page
	if pageNo < 1 {
		pageNo = 1
	}
	page := &Page{Total: len(events), Page: pageNo, PerPage: q.Limit}
	if q.Limit <= 0 {
		page.Events = events
		return page
	}

	offset := (pageNo - 1) * q.Limit
	if offset >= len(events) {
		page.Events = []models.TimelineEvent{}
		return page
	}
	end := offset + q.Limit
	if end > len(events) {
		end = len(events)
	}
	page.Events = events[offset:end]
	page.HasMore = end < len(events)
	return page
}

func (a *Aggregator) emailEvents(msgs []*models.Message, collapse bool) []models.TimelineEvent {
	if !collapse {
		events := make([]models.TimelineEvent, 0, len(msgs))
		for _, m := range msgs {
			events = append(events, emailEvent(m, false, 0))
		}
		return events
	}

	type group struct {
		latest *models.Message
		size   int
	}
	groups := make(map[string]*group)
	order := make([]string, 0)
	for _, m := range msgs {
		g, ok := groups[m.Thread.ThreadID]
		if !ok {
			g = &group{latest: m}
			groups[m.Thread.ThreadID] = g
			order = append(order, m.Thread.ThreadID)
		}
		g.size++
		if m.SentAt.After(g.latest.SentAt) {
			g.latest = m
		}
	}

	events := make([]models.TimelineEvent, 0, len(order))
	for _, threadID := range order {
		g := groups[threadID]
		events = append(events, emailEvent(g.latest, true, g.size))
	}
	return events
}

func emailEvent(m *models.Message, representative bool, threadSize int) models.TimelineEvent {
	return models.TimelineEvent{
		Kind:           models.EventEmail,
		ID:             m.ID,
		Timestamp:      m.SentAt,
		Title:          m.Subject,
		Preview:        Preview(m),
		ThreadID:       m.Thread.ThreadID,
		Representative: representative,
		ThreadSize:     threadSize,
		Message:        m,
	}
}

// ThreadView is the full conversation, oldest first.
type ThreadView struct {
	ThreadID string
	Messages []*models.Message
	// Reconstructed is the thread read top to bottom through each message's
	// new content only, approximating the conversation without its quote
	// pyramid.
	Reconstructed string
}

// GetThread returns the thread's messages in ascending sent order together
// with a quote-free reconstruction of the conversation.
func (a *Aggregator) GetThread(ctx context.Context, accountID, threadID string) (*ThreadView, error) {
	msgs, err := a.messages.ListThreadMessages(ctx, accountID, threadID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].SentAt.Equal(msgs[j].SentAt) {
			return msgs[i].SentAt.Before(msgs[j].SentAt)
		}
		return msgs[i].ID < msgs[j].ID
	})

	var sb strings.Builder
	for _, m := range msgs {
		// The split is recomputable: re-running it over the stored bodies
		// means pattern catalog updates reach rows extracted before them.
		text := m.Extracted.NewText
		if a.extractor != nil && m.Text != "" {
			text = a.extractor.Extract(m.Text, m.HTML).NewText
		}
		if text == "" {
			text = mailstrip.Parse(m.Text).String()
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
	}

	return &ThreadView{
		ThreadID:      threadID,
		Messages:      msgs,
		Reconstructed: sb.String(),
	}, nil
}

// Preview returns the one-line feed preview of a message: its new content,
// stripped of quoted history, squashed onto a single line.
func Preview(m *models.Message) string {
	text := m.Extracted.NewText
	if text == "" {
		text = mailstrip.Parse(m.Text).String()
	}
	return kit.Truncate(strings.Join(strings.Fields(text), " "), previewLen)
}
