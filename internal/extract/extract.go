// Package extract separates a message body into new content, quoted history,
// signature and legal disclaimer, and classifies the author's reply style.
// Every split is non-destructive: the separated regions are kept as fields so
// a consumer can always opt back into the full content.
package extract

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/relatia/mailpipe/internal/models"
)

// Extractor runs the content extraction over the plain-text and, when
// present, the markup representation of a message.
type Extractor struct {
	log *zerolog.Logger
}

// New returns an Extractor.
func New(log *zerolog.Logger) *Extractor {
	return &Extractor{log: log}
}

// Extract produces one coherent ExtractedContent from the two body channels.
// The channels must agree on reply style; when they disagree the markup
// channel wins, since providers style quotes more reliably in markup.
func (e *Extractor) Extract(text, markup string) models.ExtractedContent {
	newRegion, quotedRegion := splitText(text)
	textStyle := classifyTextStyle(text, newRegion, quotedRegion)

	body, signature := splitSignature(newRegion)
	body, disclaimer := splitDisclaimer(body)

	content := models.ExtractedContent{
		NewText:    strings.TrimSpace(body),
		QuotedText: strings.TrimSpace(quotedRegion),
		Signature:  strings.TrimSpace(signature),
		Disclaimer: strings.TrimSpace(disclaimer),
		ReplyStyle: textStyle,
	}

	if markup == "" {
		return content
	}

	ms := splitMarkup(markup)
	content.NewMarkup = ms.newHTML
	if content.QuotedText == "" && ms.quotedHTML != "" {
		// The text channel missed the quote; surface the markup evidence.
		content.QuotedText = strings.TrimSpace(stripTags(ms.quotedHTML))
	}
	if content.Signature == "" && ms.signatureText != "" {
		content.Signature = ms.signatureText
	}
	if ms.style != models.ReplyStyleUnknown && ms.style != textStyle {
		e.log.Debug().
			Str("text_style", string(textStyle)).
			Str("markup_style", string(ms.style)).
			Msg("reply style disagreement, trusting markup")
		content.ReplyStyle = ms.style
	}
	if content.ReplyStyle == models.ReplyStyleUnknown && ms.style != models.ReplyStyleUnknown {
		content.ReplyStyle = ms.style
	}

	return content
}

// stripTags flattens a markup fragment to its text content.
func stripTags(markup string) string {
	split := strings.NewReplacer("<br>", "\n", "<br/>", "\n", "</p>", "\n", "</div>", "\n")
	s := split.Replace(markup)
	var sb strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
