package mime

import (
	"bytes"
	"regexp"
)

var qpToken = regexp.MustCompile(`=(?:[0-9A-Fa-f]{2}|\r?\n)`)

// repairBoundary synthesizes the terminating boundary when a start boundary
// exists without a matching terminator, which otherwise makes the stdlib
// multipart reader fail the whole message.
func repairBoundary(body []byte, boundary string) []byte {
	delim := []byte("--" + boundary)
	if !bytes.Contains(body, delim) {
		return body
	}
	if bytes.Contains(body, append(append([]byte{}, delim...), '-', '-')) {
		return body
	}
	repaired := make([]byte, 0, len(body)+len(delim)+6)
	repaired = append(repaired, body...)
	if !bytes.HasSuffix(repaired, []byte("\n")) {
		repaired = append(repaired, '\r', '\n')
	}
	repaired = append(repaired, delim...)
	repaired = append(repaired, '-', '-', '\r', '\n')
	return repaired
}

// matchesBase64 reports whether the payload sticks to the base64 alphabet
// (ignoring whitespace). Declared-base64 parts that fail this check get their
// encoding downgraded instead of failing to decode.
func matchesBase64(b []byte) bool {
	for _, c := range b {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+', c == '/', c == '=':
		case c == '\r', c == '\n', c == ' ', c == '\t':
		default:
			return false
		}
	}
	return true
}

// downgradeEncoding picks the replacement encoding for a part whose declared
// base64 payload is not base64: quoted-printable when QP escape tokens are
// present, plain 7bit otherwise.
func downgradeEncoding(b []byte) string {
	if qpToken.Match(b) {
		return "quoted-printable"
	}
	return "7bit"
}
