package extract

import "strings"

const (
	// signatureMaxLines bounds how far from the end a signature can start.
	signatureMaxLines = 12
	// signatureMinBody is the number of content lines that must precede a
	// delimiter; shorter messages are too easy to misclassify.
	signatureMinBody = 2
)

// splitSignature scans the new-content region from the end for an explicit
// signature delimiter, then falls back to an implicit trailing-block
// heuristic. body + signature covers the input exactly.
func splitSignature(text string) (body, signature string) {
	lines := strings.Split(text, "\n")

	if idx, ok := explicitDelimiter(lines); ok {
		return joinRegion(lines, idx)
	}
	if idx, ok := implicitSignature(lines); ok {
		return joinRegion(lines, idx)
	}
	return text, ""
}

// explicitDelimiter finds a "--"/"__" line or a closing salutation close to
// the end, requiring preceding content lines.
func explicitDelimiter(lines []string) (int, bool) {
	start := len(lines) - signatureMaxLines
	if start < 0 {
		start = 0
	}
	for i := start; i < len(lines); i++ {
		trimmed := strings.TrimRight(lines[i], " \t\r")
		if !signatureDelimiter.MatchString(trimmed) && !closingSalutation.MatchString(strings.TrimSpace(trimmed)) {
			continue
		}
		if contentLinesBefore(lines, i) < signatureMinBody {
			continue
		}
		return i, true
	}
	return 0, false
}

// implicitSignature inspects the block after the last blank line: a name-like
// line plus phone/email/URL patterns. Two of the four signals make it a
// signature.
func implicitSignature(lines []string) (int, bool) {
	blockStart := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			break
		}
		blockStart = i
	}
	if blockStart >= len(lines) || blockStart == 0 {
		return 0, false
	}
	if len(lines)-blockStart > signatureMaxLines/2 {
		return 0, false
	}
	if contentLinesBefore(lines, blockStart) < signatureMinBody {
		return 0, false
	}

	block := strings.Join(lines[blockStart:], "\n")
	signals := 0
	for _, line := range lines[blockStart:] {
		if nameLine.MatchString(strings.TrimSpace(line)) {
			signals++
			break
		}
	}
	if phoneSignal.MatchString(block) {
		signals++
	}
	if emailSignal.MatchString(block) {
		signals++
	}
	if urlSignal.MatchString(block) {
		signals++
	}
	if signals < 2 {
		return 0, false
	}
	return blockStart, true
}

func contentLinesBefore(lines []string, idx int) int {
	count := 0
	for i := 0; i < idx; i++ {
		if strings.TrimSpace(lines[i]) != "" {
			count++
		}
	}
	return count
}

func joinRegion(lines []string, idx int) (body, signature string) {
	return strings.Join(lines[:idx], "\n"), strings.Join(lines[idx:], "\n")
}
