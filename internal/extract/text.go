package extract

import (
	"strings"

	"github.com/relatia/mailpipe/internal/models"
)

// headerBlockScan is how many leading lines the bottom-posting heuristic
// inspects for reproduced header fields.
const headerBlockScan = 10

// splitText separates the plain-text body into new and quoted regions.
// The returned strings cover the input exactly: new + quoted == text.
func splitText(text string) (newRegion, quotedRegion string) {
	offset, _, found := findQuoteStart(text)
	if found && offset > 0 {
		return text[:offset], text[offset:]
	}

	// No boundary, or the boundary sits at the very start of the message:
	// check for a bottom-posted reply before giving up.
	if newStart, ok := bottomPostSplit(text); ok {
		return text[newStart:], text[:newStart]
	}

	if found {
		// The whole message is a reproduced quote.
		return "", text
	}
	return text, ""
}

// bottomPostSplit detects the bottom-posting shape: a leading block of
// header-looking lines, then the largest blank-line gap, then the reply.
// It returns the offset where the new content starts.
func bottomPostSplit(text string) (int, bool) {
	lines := strings.Split(text, "\n")
	scan := headerBlockScan
	if len(lines) < scan {
		scan = len(lines)
	}

	headerish := 0
	blockEnd := 0
	for i := 0; i < scan; i++ {
		if headerFieldLine.MatchString(lines[i]) {
			headerish++
			blockEnd = i + 1
		}
	}
	if headerish < 3 {
		return 0, false
	}

	// Find the largest blank-line gap beyond the header block.
	bestLine, bestSize := -1, 0
	gapStart, gapSize := -1, 0
	for i := blockEnd; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			if gapSize == 0 {
				gapStart = i
			}
			gapSize++
			continue
		}
		if gapSize > bestSize {
			bestLine, bestSize = gapStart+gapSize, gapSize
		}
		gapSize = 0
	}
	if bestLine < 0 || bestLine >= len(lines) {
		return 0, false
	}

	offset := 0
	for i := 0; i < bestLine; i++ {
		offset += len(lines[i]) + 1
	}
	if strings.TrimSpace(text[offset:]) == "" {
		return 0, false
	}
	return offset, true
}

// substantialLen is the minimum trimmed length for a region to count as a
// real block of new content when classifying reply style.
const substantialLen = 8

// classifyTextStyle derives the reply style from the line structure of the
// original text given the new/quoted split.
func classifyTextStyle(text, newRegion, quotedRegion string) models.ReplyStyle {
	if strings.TrimSpace(quotedRegion) == "" {
		return models.ReplyStyleUnknown
	}

	quotedAtStart := strings.HasPrefix(text, quotedRegion)

	// Count alternating quoted/new runs over ">"-prefixed lines; three or
	// more transitions means the author replied inline.
	transitions := countQuoteTransitions(text)
	if transitions >= 3 {
		return models.ReplyStyleInline
	}

	newTrimmed := strings.TrimSpace(newRegion)
	switch {
	case quotedAtStart && len(newTrimmed) >= substantialLen:
		return models.ReplyStyleBottom
	case !quotedAtStart && newTrimmed != "":
		return models.ReplyStyleTop
	default:
		return models.ReplyStyleUnknown
	}
}

func countQuoteTransitions(text string) int {
	transitions := 0
	previous := -1 // -1 unset, 0 new, 1 quoted
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		class := 0
		if strings.HasPrefix(trimmed, ">") {
			class = 1
		}
		if previous >= 0 && class != previous {
			transitions++
		}
		previous = class
	}
	return transitions
}
