package extract

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/relatia/mailpipe/internal/models"
)

func testExtractor() *Extractor {
	log := zerolog.Nop()
	return New(&log)
}

func TestExtractTopPosted(t *testing.T) {
	text := "Thanks.\n\nOn Jan 1, 2024, J Doe wrote:\n> original"

	content := testExtractor().Extract(text, "")
	if content.NewText != "Thanks." {
		t.Error("Thanks.", "!=", content.NewText)
	}
	if !strings.Contains(content.QuotedText, "> original") {
		t.Error("quoted region lost:", content.QuotedText)
	}
	if content.ReplyStyle != models.ReplyStyleTop {
		t.Error(models.ReplyStyleTop, "!=", content.ReplyStyle)
	}
}

func TestExtractBottomPostedOutlook(t *testing.T) {
	text := strings.Join([]string{
		"From: Jane Doe",
		"Sent: Monday, January 1, 2024 9:00 AM",
		"To: Bob Smith",
		"Subject: Quarterly numbers",
		"",
		"Please find the numbers attached.",
		"Second line of the original message.",
		"",
		"",
		"Here is my reply, written at the bottom the way Outlook users do.",
	}, "\n")

	content := testExtractor().Extract(text, "")
	if content.ReplyStyle != models.ReplyStyleBottom {
		t.Error(models.ReplyStyleBottom, "!=", content.ReplyStyle)
	}
	if !strings.HasPrefix(content.NewText, "Here is my reply") {
		t.Error("new content misplaced:", content.NewText)
	}
	if !strings.Contains(content.QuotedText, "Please find the numbers") {
		t.Error("quoted region lost:", content.QuotedText)
	}
}

func TestExtractInline(t *testing.T) {
	text := strings.Join([]string{
		"> what about the budget?",
		"approved yesterday",
		"> and the deadline?",
		"end of the month",
	}, "\n")

	content := testExtractor().Extract(text, "")
	if content.ReplyStyle != models.ReplyStyleInline {
		t.Error(models.ReplyStyleInline, "!=", content.ReplyStyle)
	}
}

func TestExtractSignatureDelimiter(t *testing.T) {
	text := "Hello,\n\nsee the attached contract.\n\n--\nJane Doe\nCEO\n555-1234"

	content := testExtractor().Extract(text, "")
	want := "--\nJane Doe\nCEO\n555-1234"
	if content.Signature != want {
		t.Error(want, "!=", content.Signature)
	}
	if strings.Contains(content.NewText, "Jane Doe") {
		t.Error("signature leaked into new content:", content.NewText)
	}
}

func TestExtractSignatureImplicit(t *testing.T) {
	text := "Hi,\n\nlet's meet tomorrow at ten.\n\nJane Doe\nCEO, Acme Corp\n+1 555 123 4567"

	content := testExtractor().Extract(text, "")
	if !strings.Contains(content.Signature, "Jane Doe") {
		t.Error("implicit signature not detected:", content.Signature)
	}
	if !strings.Contains(content.NewText, "meet tomorrow") {
		t.Error("body lost:", content.NewText)
	}
}

func TestExtractDisclaimer(t *testing.T) {
	text := "The invoice is attached.\n\nCONFIDENTIALITY NOTICE: This email and any attachments are confidential and intended solely for the addressee."

	content := testExtractor().Extract(text, "")
	if content.NewText != "The invoice is attached." {
		t.Error("The invoice is attached.", "!=", content.NewText)
	}
	if !strings.Contains(content.Disclaimer, "CONFIDENTIALITY NOTICE") {
		t.Error("disclaimer not separated:", content.Disclaimer)
	}
}

func TestExtractDisclaimerNeedsParagraphBreak(t *testing.T) {
	// A short message that merely mentions confidentiality stays intact.
	text := "Please treat this as confidential and intended solely for you."

	content := testExtractor().Extract(text, "")
	if content.Disclaimer != "" {
		t.Error("", "!=", content.Disclaimer)
	}
	if content.NewText != text {
		t.Error(text, "!=", content.NewText)
	}
}

func TestExtractAllQuoted(t *testing.T) {
	text := "> the whole message\n> is a forwarded quote"

	content := testExtractor().Extract(text, "")
	if content.NewText != "" {
		t.Error("", "!=", content.NewText)
	}
	if content.QuotedText == "" {
		t.Error("quoted region lost")
	}
}

func TestSplitTextCoverage(t *testing.T) {
	// The split is non-destructive: both regions together reproduce the
	// input exactly.
	tests := map[string]string{
		"top":       "Thanks.\n\nOn Jan 1, 2024, J Doe wrote:\n> original",
		"no quotes": "just a plain message\nwith two lines",
		"quoted":    "> only quoted\n> content",
		"rule":      "reply text\n\n________\nFrom: someone",
	}

	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			newRegion, quotedRegion := splitText(text)
			if newRegion+quotedRegion != text && quotedRegion+newRegion != text {
				t.Error(text, "!=", newRegion+quotedRegion)
			}
		})
	}
}

func TestFindQuoteStart(t *testing.T) {
	tests := map[string]struct {
		text string
		name string
	}{
		"quote prefix":     {"new\n> old", "quote-prefix"},
		"attribution en":   {"new\n\nOn Mon, Jan 1, 2024 at 9:00 AM Jane <j@example.com> wrote:\nold", "attribution-en"},
		"attribution de":   {"new\n\nAm 01.01.2024 um 09:00 schrieb Jane Doe:\nalt", "attribution-de"},
		"original message": {"new\n\n-----Original Message-----\nold", "original-message"},
		"header block":     {"new\n\nFrom: Jane Doe\nSent: Monday\nold", "header-block"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, matched, found := findQuoteStart(tc.text)
			if !found {
				t.Fatal("no boundary found")
			}
			if matched != tc.name {
				t.Error(tc.name, "!=", matched)
			}
		})
	}
}

func TestExtractMarkup(t *testing.T) {
	markup := `<html><body><div>Got it, thanks!</div><div class="gmail_quote">On Mon, Jan 1, 2024 Jane wrote:<blockquote>original text</blockquote></div></body></html>`

	content := testExtractor().Extract("Got it, thanks!", markup)
	if content.ReplyStyle != models.ReplyStyleTop {
		t.Error(models.ReplyStyleTop, "!=", content.ReplyStyle)
	}
	if strings.Contains(content.NewMarkup, "gmail_quote") {
		t.Error("quote container leaked into new markup:", content.NewMarkup)
	}
	if !strings.Contains(content.NewMarkup, "Got it, thanks!") {
		t.Error("new markup lost:", content.NewMarkup)
	}
	if !strings.Contains(content.QuotedText, "original text") {
		t.Error("quoted text lost:", content.QuotedText)
	}
}

func TestExtractMarkupWinsStyleDisagreement(t *testing.T) {
	// The text channel cannot classify the leading quote, the markup channel
	// shows the reply before the quote container; markup decides.
	text := "> quoted first\nthis reply is substantial enough"
	markup := `<html><body><div>this reply is substantial enough</div><blockquote>quoted first</blockquote></body></html>`

	content := testExtractor().Extract(text, markup)
	if content.ReplyStyle != models.ReplyStyleTop {
		t.Error(models.ReplyStyleTop, "!=", content.ReplyStyle)
	}
}

func TestExtractIdempotent(t *testing.T) {
	text := "Thanks.\n\nOn Jan 1, 2024, J Doe wrote:\n> original"
	e := testExtractor()

	first := e.Extract(text, "")
	second := e.Extract(text, "")
	if first != second {
		t.Error(first, "!=", second)
	}
}
