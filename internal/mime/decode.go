package mime

import (
	"bytes"
	"encoding/base64"
	"io"
	stdmime "mime"
	"mime/quotedprintable"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// decodeTransfer undoes a part's Content-Transfer-Encoding. On failure it
// returns whatever prefix decoded cleanly along with the error, so the caller
// can degrade instead of dropping the part outright.
func decodeTransfer(encoding string, raw []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		compact := stripWhitespace(raw)
		out := make([]byte, base64.StdEncoding.DecodedLen(len(compact)))
		n, err := base64.StdEncoding.Decode(out, compact)
		if err != nil {
			if n == 0 {
				n, err = base64.RawStdEncoding.Decode(out, compact)
			}
			return out[:n], err
		}
		return out[:n], nil
	case "quoted-printable":
		out, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(raw)))
		return out, err
	default: // 7bit, 8bit, binary, empty
		return raw, nil
	}
}

func stripWhitespace(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch c {
		case '\r', '\n', ' ', '\t':
		default:
			out = append(out, c)
		}
	}
	return out
}

// decodeCharset converts payload bytes to UTF-8 using the declared charset,
// sniffing a fallback when the declaration is missing or unknown.
func decodeCharset(charset string, data []byte) (string, error) {
	name := strings.ToLower(strings.TrimSpace(charset))
	switch name {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		if utf8.Valid(data) {
			return string(data), nil
		}
		// Declared (or defaulted) UTF-8 that does not validate is almost
		// always mislabeled Windows-1252.
		return decodeWith1252(data), nil
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		if utf8.Valid(data) {
			return string(data), nil
		}
		return decodeWith1252(data), nil
	}
	out, _, terr := transform.Bytes(enc.NewDecoder(), data)
	if terr != nil {
		return string(out), terr
	}
	return string(out), nil
}

func decodeWith1252(data []byte) string {
	out, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), data)
	if err != nil {
		return string(data)
	}
	return string(out)
}

var headerDecoder = stdmime.WordDecoder{
	CharsetReader: func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(strings.ToLower(charset))
		if err != nil {
			return input, nil
		}
		return transform.NewReader(input, enc.NewDecoder()), nil
	},
}

// decodeHeader re-encodes RFC 2047 encoded words (subjects, display names)
// to plain UTF-8 text. Undecodable input is returned as-is.
func decodeHeader(s string) string {
	decoded, err := headerDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}
