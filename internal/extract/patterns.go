package extract

import "regexp"

// pattern is one entry of the quote-boundary catalog: a name for audit
// logging plus its matcher. The catalog is a static ordered table processed
// by a single dispatch loop, so entries stay independently testable.
type pattern struct {
	name string
	re   *regexp.Regexp
}

// quotePatterns is tried against the plain-text body; the earliest match
// position wins, with table order breaking ties. Everything from the match
// onward is quoted history.
var quotePatterns = []pattern{
	// "> quoted line"
	{"quote-prefix", regexp.MustCompile(`(?m)^ ?>`)},
	// "On Jan 1, 2024, J Doe wrote:" with optional wrap onto a second line
	{"attribution-en", regexp.MustCompile(`(?mi)^On [^\n]{0,200}(\n[^\n]{0,100})?wrote:\s*$`)},
	// localized attribution variants
	{"attribution-de", regexp.MustCompile(`(?mi)^Am [^\n]{0,200}schrieb[^\n]{0,100}:\s*$`)},
	{"attribution-fr", regexp.MustCompile(`(?mi)^Le [^\n]{0,200}a écrit\s*:\s*$`)},
	{"attribution-es", regexp.MustCompile(`(?mi)^El [^\n]{0,200}escribió:\s*$`)},
	// "-----Original Message-----" / "---------- Forwarded message ----------"
	{"original-message", regexp.MustCompile(`(?mi)^-{2,}\s*(original|forwarded) message\s*-{2,}\s*$`)},
	// Outlook-style reply header block
	{"header-block", regexp.MustCompile(`(?mi)^ ?(?:\*?From:?\*?)[ \t][^\n]+\n(?:[^\n]{0,100}\n){0,2}? ?(?:\*?(?:Sent|Date|To):?\*?)[ \t]`)},
	// horizontal rules used as reply separators
	{"rule", regexp.MustCompile(`(?m)^\s*(?:_{4,}|-{6,}|={6,}|\*{6,})\s*$`)},
}

// findQuoteStart returns the byte offset of the earliest quote-boundary
// match and the name of the matching pattern.
func findQuoteStart(text string) (offset int, name string, found bool) {
	offset = len(text)
	for _, p := range quotePatterns {
		loc := p.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if loc[0] < offset {
			offset = loc[0]
			name = p.name
			found = true
		}
	}
	if !found {
		return 0, "", false
	}
	return offset, name, true
}

// headerFieldLine matches lines that look like reproduced message headers.
var headerFieldLine = regexp.MustCompile(`(?i)^ ?\*?(from|date|sent|to|cc|subject):?\*?[ \t]`)

var (
	signatureDelimiter = regexp.MustCompile(`^(?:--|__)\s*$`)
	closingSalutation  = regexp.MustCompile(`(?i)^(?:(?:best |kind |warm )?(?:regards|wishes)|thanks|thank you|many thanks|cheers|sincerely|best|br|mit freundlichen grüßen|cordialement)\s*[,.!]?\s*$`)

	nameLine    = regexp.MustCompile(`^[A-Z][\pL.'-]*(?: [A-Z][\pL.'-]*){1,3}$`)
	phoneSignal = regexp.MustCompile(`(?:\+|\b)\d[\d ().\/-]{6,}\d`)
	emailSignal = regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`)
	urlSignal   = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
)

// disclaimerMarker matches legal-notice boilerplate openings.
var disclaimerMarker = regexp.MustCompile(`(?i)(confidentiality notice|disclaimer\s*:|if you (?:are not|received this .{0,30}in error)|this (?:e-?mail|message)[^\n]{0,120}(?:confidential|privileged)|privileged and confidential|intended solely for)`)
