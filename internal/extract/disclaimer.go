package extract

import "strings"

// splitDisclaimer separates trailing legal boilerplate from the content.
// The marker must appear after at least one paragraph break so that a short
// message that merely mentions confidentiality is not misclassified.
func splitDisclaimer(text string) (body, disclaimer string) {
	loc := disclaimerMarker.FindStringIndex(text)
	if loc == nil {
		return text, ""
	}

	breakIdx := strings.LastIndex(text[:loc[0]], "\n\n")
	if breakIdx < 0 {
		return text, ""
	}
	if strings.TrimSpace(text[:breakIdx]) == "" {
		return text, ""
	}

	// Cut at the start of the paragraph carrying the marker.
	return text[:breakIdx], text[breakIdx:]
}
