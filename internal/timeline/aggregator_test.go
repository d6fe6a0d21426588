package timeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/relatia/mailpipe/internal/extract"
	"github.com/relatia/mailpipe/internal/models"
)

type fakeMessages struct {
	messages []*models.Message
}

func (f *fakeMessages) ListMessages(_ context.Context, _, _, _ string) ([]*models.Message, error) {
	return f.messages, nil
}

func (f *fakeMessages) ListThreadMessages(_ context.Context, _, threadID string) ([]*models.Message, error) {
	var out []*models.Message
	for _, m := range f.messages {
		if m.Thread.ThreadID == threadID {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeEvents struct {
	events []models.TimelineEvent
}

func (f *fakeEvents) ListEvents(_ context.Context, _, _, _ string) ([]models.TimelineEvent, error) {
	return f.events, nil
}

func testAggregator(messages *fakeMessages, events EventSource) *Aggregator {
	log := zerolog.Nop()
	return New(messages, events, extract.New(&log), &log)
}

func at(day int) time.Time {
	return time.Date(2024, 1, day, 12, 0, 0, 0, time.UTC)
}

func testMessages() []*models.Message {
	return []*models.Message{
		{ID: "m-3", Subject: "Re: offer", SentAt: at(3), Thread: models.ThreadAssignment{ThreadID: "t-1"},
			Extracted: models.ExtractedContent{NewText: "Deal."}},
		{ID: "m-2", Subject: "invoice", SentAt: at(2), Thread: models.ThreadAssignment{ThreadID: "t-2"},
			Extracted: models.ExtractedContent{NewText: "Invoice attached."}},
		{ID: "m-1", Subject: "offer", SentAt: at(1), Thread: models.ThreadAssignment{ThreadID: "t-1"},
			Extracted: models.ExtractedContent{NewText: "Our offer is 100."}},
	}
}

func TestGetTimeline(t *testing.T) {
	agg := testAggregator(&fakeMessages{messages: testMessages()}, nil)

	page, err := agg.GetTimeline(context.Background(), Query{AccountID: "acc-1"})
	if err != nil {
		t.Fatal(err)
	}
	feed := page.Events
	if len(feed) != 3 {
		t.Fatal(3, "!=", len(feed))
	}
	for i, want := range []string{"m-3", "m-2", "m-1"} {
		if feed[i].ID != want {
			t.Error(want, "!=", feed[i].ID)
		}
	}
	if feed[0].Preview != "Deal." {
		t.Error("Deal.", "!=", feed[0].Preview)
	}
	if page.Total != 3 || page.HasMore {
		t.Error("total=3 hasmore=false", "!=", page)
	}
}

func TestGetTimelineCollapse(t *testing.T) {
	agg := testAggregator(&fakeMessages{messages: testMessages()}, nil)

	page, err := agg.GetTimeline(context.Background(), Query{AccountID: "acc-1", Collapse: true})
	if err != nil {
		t.Fatal(err)
	}
	feed := page.Events
	if len(feed) != 2 {
		t.Fatal(2, "!=", len(feed))
	}

	// The thread is represented by its most recent message.
	if feed[0].ID != "m-3" {
		t.Error("m-3", "!=", feed[0].ID)
	}
	if !feed[0].Representative {
		t.Error("collapsed event must be marked representative")
	}
	if feed[0].ThreadSize != 2 {
		t.Error(2, "!=", feed[0].ThreadSize)
	}
	if feed[1].ID != "m-2" {
		t.Error("m-2", "!=", feed[1].ID)
	}
	if feed[1].ThreadSize != 1 {
		t.Error(1, "!=", feed[1].ThreadSize)
	}
}

func TestGetTimelineMergesEvents(t *testing.T) {
	events := &fakeEvents{events: []models.TimelineEvent{
		{Kind: models.EventTicket, ID: "ticket-1", Timestamp: at(2).Add(time.Hour), Title: "Support ticket"},
	}}
	agg := testAggregator(&fakeMessages{messages: testMessages()}, events)

	page, err := agg.GetTimeline(context.Background(), Query{AccountID: "acc-1"})
	if err != nil {
		t.Fatal(err)
	}
	feed := page.Events
	if len(feed) != 4 {
		t.Fatal(4, "!=", len(feed))
	}
	if feed[1].ID != "ticket-1" {
		t.Error("ticket-1", "!=", feed[1].ID)
	}
}

func TestGetTimelineKindFilter(t *testing.T) {
	events := &fakeEvents{events: []models.TimelineEvent{
		{Kind: models.EventTicket, ID: "ticket-1", Timestamp: at(5)},
	}}
	agg := testAggregator(&fakeMessages{messages: testMessages()}, events)

	page, err := agg.GetTimeline(context.Background(), Query{AccountID: "acc-1", Kinds: []models.EventKind{models.EventTicket}})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Events) != 1 {
		t.Fatal(1, "!=", len(page.Events))
	}
	if page.Events[0].ID != "ticket-1" {
		t.Error("ticket-1", "!=", page.Events[0].ID)
	}
}

func TestGetTimelineRange(t *testing.T) {
	agg := testAggregator(&fakeMessages{messages: testMessages()}, nil)

	page, err := agg.GetTimeline(context.Background(), Query{
		AccountID: "acc-1",
		Since:     at(1).Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Events) != 2 {
		t.Fatal(2, "!=", len(page.Events))
	}
	if page.Events[0].ID != "m-3" {
		t.Error("m-3", "!=", page.Events[0].ID)
	}
}

func TestGetTimelinePaging(t *testing.T) {
	agg := testAggregator(&fakeMessages{messages: testMessages()}, nil)
	ctx := context.Background()

	first, err := agg.GetTimeline(ctx, Query{AccountID: "acc-1", Limit: 2, Page: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Events) != 2 || first.Total != 3 || !first.HasMore {
		t.Error("2 events of 3, more to come", "!=", first)
	}
	if first.Events[0].ID != "m-3" || first.Events[1].ID != "m-2" {
		t.Error("m-3,m-2", "!=", first.Events)
	}

	second, err := agg.GetTimeline(ctx, Query{AccountID: "acc-1", Limit: 2, Page: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Events) != 1 || second.HasMore {
		t.Error("last page of 1", "!=", second)
	}
	if second.Events[0].ID != "m-1" {
		t.Error("m-1", "!=", second.Events[0].ID)
	}

	// Pages never overlap and together cover the feed.
	beyond, err := agg.GetTimeline(ctx, Query{AccountID: "acc-1", Limit: 2, Page: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(beyond.Events) != 0 || beyond.Total != 3 {
		t.Error("empty page past the end", "!=", beyond)
	}
}

func TestGetThread(t *testing.T) {
	agg := testAggregator(&fakeMessages{messages: testMessages()}, nil)

	view, err := agg.GetThread(context.Background(), "acc-1", "t-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Messages) != 2 {
		t.Fatal(2, "!=", len(view.Messages))
	}
	// Oldest first, unlike the feed.
	if view.Messages[0].ID != "m-1" || view.Messages[1].ID != "m-3" {
		t.Error("m-1,m-3", "!=", view.Messages[0].ID+","+view.Messages[1].ID)
	}
	if view.Reconstructed != "Our offer is 100.\n\nDeal." {
		t.Error("Our offer is 100.\n\nDeal.", "!=", view.Reconstructed)
	}
}

func TestGetThreadRecomputesSplit(t *testing.T) {
	// The stored split is stale: reconstruction must come from the raw body,
	// not from the cached extraction.
	messages := &fakeMessages{messages: []*models.Message{
		{ID: "m-1", SentAt: at(1), Thread: models.ThreadAssignment{ThreadID: "t-1"},
			Text:      "Fresh reply.\n\nOn Jan 1, 2024, Jane wrote:\n> old offer",
			Extracted: models.ExtractedContent{NewText: "stale cached value"}},
	}}

	view, err := testAggregator(messages, nil).GetThread(context.Background(), "acc-1", "t-1")
	if err != nil {
		t.Fatal(err)
	}
	if view.Reconstructed != "Fresh reply." {
		t.Error("Fresh reply.", "!=", view.Reconstructed)
	}
}

func TestGetThreadFallsBackToStrippedText(t *testing.T) {
	messages := &fakeMessages{messages: []*models.Message{
		{ID: "m-1", SentAt: at(1), Thread: models.ThreadAssignment{ThreadID: "t-1"},
			Text: "Sounds good.\n\nOn Jan 1, 2024, Jane wrote:\n> our offer is 100"},
	}}

	view, err := testAggregator(messages, nil).GetThread(context.Background(), "acc-1", "t-1")
	if err != nil {
		t.Fatal(err)
	}
	if view.Reconstructed != "Sounds good." {
		t.Error("Sounds good.", "!=", view.Reconstructed)
	}
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("word ", 50)
	m := &models.Message{Extracted: models.ExtractedContent{NewText: "line one\nline  two\n" + long}}

	preview := Preview(m)
	if strings.ContainsAny(preview, "\n\t") {
		t.Error("preview must be a single line:", preview)
	}
	if !strings.HasPrefix(preview, "line one line two word") {
		t.Error("preview not squashed:", preview)
	}
	if len(preview) > previewLen+3 {
		t.Error("preview not truncated:", len(preview))
	}
}
