package mime

import (
	"net/mail"
	"strings"

	"github.com/relatia/mailpipe/internal/models"
)

// Normalize parses a raw message and projects it into a NormalizedMessage.
// The returned tree is kept alongside for attachment extraction; the raw
// bytes are not needed after this point.
func Normalize(raw *models.RawMessage) (*models.NormalizedMessage, *Tree, error) {
	tree, err := Parse(raw.Data)
	if err != nil {
		return nil, nil, err
	}
	hdr := tree.Nodes[tree.Root()].Header

	msg := &models.NormalizedMessage{
		AccountID:  raw.AccountID,
		ExternalID: raw.ExternalID,
		ThreadHint: raw.ThreadHint,
		Subject:    decodeHeader(hdr.Get("Subject")),
		From:       firstAddress(hdr.Get("From")),
		To:         addressList(hdr.Get("To")),
		Cc:         addressList(hdr.Get("Cc")),
		Bcc:        addressList(hdr.Get("Bcc")),
	}
	if date, derr := mail.ParseDate(hdr.Get("Date")); derr == nil {
		msg.SentAt = date.UTC()
	}

	textIdx, htmlIdx := tree.PrimaryBodies()
	if textIdx >= 0 {
		msg.Text, _ = tree.Text(textIdx)
	}
	if htmlIdx >= 0 {
		msg.HTML, _ = tree.Text(htmlIdx)
	}
	// Both representations present and not byte-equal: extraction must keep
	// the two channels consistent instead of trusting either alone.
	msg.ParallelBodies = textIdx >= 0 && htmlIdx >= 0 && msg.Text != msg.HTML

	msg.Headers = headerBag(hdr, tree)
	msg.Degraded = tree.Degraded()

	return msg, tree, nil
}

func headerBag(hdr map[string][]string, tree *Tree) models.HeaderBag {
	get := func(key string) string {
		if v, ok := hdr[key]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}

	bag := models.HeaderBag{
		MessageID: strings.TrimSpace(get("Message-Id")),
		InReplyTo: strings.TrimSpace(get("In-Reply-To")),
	}
	if refs := get("References"); refs != "" {
		bag.References = strings.Fields(refs)
	}

	bag.Importance = importance(get("Importance"), get("X-Priority"))

	tree.Walk(func(_ int, n *Node) bool {
		switch n.MediaType {
		case "multipart/signed", "application/pkcs7-signature", "application/pgp-signature":
			bag.Signed = true
		case "multipart/encrypted", "application/pkcs7-mime", "application/pgp-encrypted":
			bag.Encrypted = true
		}
		return true
	})

	return bag
}

func importance(importanceHdr, priorityHdr string) string {
	switch strings.ToLower(strings.TrimSpace(importanceHdr)) {
	case "high":
		return "high"
	case "low":
		return "low"
	}
	priority, _, _ := strings.Cut(strings.TrimSpace(priorityHdr), " ")
	switch priority {
	case "1", "2":
		return "high"
	case "4", "5":
		return "low"
	}
	return ""
}

// firstAddress extracts the first plain address from a header value,
// lower-cased, falling back to the raw (decoded) value for unparsable input.
func firstAddress(v string) string {
	if strings.TrimSpace(v) == "" {
		return ""
	}
	decoded := decodeHeader(v)
	addr, err := mail.ParseAddress(decoded)
	if err != nil {
		list := addressList(v)
		if len(list) > 0 {
			return list[0]
		}
		return strings.ToLower(strings.TrimSpace(decoded))
	}
	return strings.ToLower(addr.Address)
}

// addressList extracts all plain addresses from a header value, lower-cased.
func addressList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	decoded := decodeHeader(v)
	list, err := mail.ParseAddressList(decoded)
	if err != nil {
		// Best effort: split on commas and keep anything address-shaped.
		var out []string
		for _, chunk := range strings.Split(decoded, ",") {
			chunk = strings.TrimSpace(chunk)
			if strings.Contains(chunk, "@") {
				out = append(out, strings.ToLower(strings.Trim(chunk, "<> ")))
			}
		}
		return out
	}
	out := make([]string, 0, len(list))
	for _, addr := range list {
		out = append(out, strings.ToLower(addr.Address))
	}
	return out
}
