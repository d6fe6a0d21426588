package mime

import (
	"bufio"
	"bytes"
	"io"
	stdmime "mime"
	"mime/multipart"
	"net/textproto"
	"strings"
)

// maxDepth bounds nesting recursion. Crafted or corrupted input beyond the
// bound fails closed: the part becomes an opaque degraded leaf.
const maxDepth = 10

// Parse turns raw message bytes into a Tree, applying the repair pass on the
// way down. The only fatal outcome is an unparsable top-level header.
func Parse(raw []byte) (*Tree, error) {
	hdr, body, err := splitMessage(raw)
	if err != nil {
		return nil, &ParseFailure{Reason: "unparsable header", Err: err}
	}
	p := &parser{tree: &Tree{}}
	p.addNode(hdr, body, -1, 0)
	return p.tree, nil
}

type parser struct {
	tree *Tree
}

// splitMessage separates the RFC 5322 header block from the body.
func splitMessage(raw []byte) (textproto.MIMEHeader, []byte, error) {
	r := textproto.NewReader(bufio.NewReader(bytes.NewReader(raw)))
	hdr, err := r.ReadMIMEHeader()
	if err != nil && len(hdr) == 0 {
		return nil, nil, err
	}
	body, _ := io.ReadAll(r.R) //nolint:errcheck // reading from memory
	return hdr, body, nil
}

func (p *parser) addNode(hdr textproto.MIMEHeader, body []byte, parent, depth int) int {
	idx := len(p.tree.Nodes)
	p.tree.Nodes = append(p.tree.Nodes, Node{})

	n := Node{Parent: parent, Header: hdr}

	ct := hdr.Get("Content-Type")
	if strings.TrimSpace(ct) == "" {
		// Repair: no Content-Type means plain text in UTF-8.
		ct = "text/plain; charset=utf-8"
	}
	mediaType, params, err := stdmime.ParseMediaType(ct)
	if err != nil {
		mediaType, params = "text/plain", map[string]string{"charset": "utf-8"}
		n.Degraded = true
	}
	n.MediaType = strings.ToLower(mediaType)
	n.Params = params
	n.Charset = params["charset"]
	n.Encoding = strings.ToLower(strings.TrimSpace(hdr.Get("Content-Transfer-Encoding")))
	if n.Encoding == "" {
		n.Encoding = "7bit"
	}
	if disp := hdr.Get("Content-Disposition"); disp != "" {
		dispType, dispParams, derr := stdmime.ParseMediaType(disp)
		if derr == nil {
			n.Disposition = strings.ToLower(dispType)
			n.DispositionParams = dispParams
		}
	}
	n.ContentID = strings.Trim(hdr.Get("Content-Id"), "<> \t")

	boundary := params["boundary"]
	switch {
	case strings.HasPrefix(n.MediaType, "multipart/") && boundary != "" && depth < maxDepth:
		n.Children = p.parseMultipart(body, boundary, idx, depth+1)
		if len(n.Children) == 0 {
			// A container must have children; an empty one degrades to
			// an empty leaf.
			n.Degraded = true
		}
	case n.MediaType == "message/rfc822" && depth < maxDepth:
		subHdr, subBody, serr := splitMessage(body)
		if serr != nil {
			n.Degraded = true
			n.raw = body
		} else {
			n.Children = []int{p.addNode(subHdr, subBody, idx, depth+1)}
		}
	default:
		if depth >= maxDepth && (strings.HasPrefix(n.MediaType, "multipart/") || n.MediaType == "message/rfc822") {
			n.Degraded = true
		}
		if n.Encoding == "base64" && !matchesBase64(body) {
			// Repair: declared base64 that is not base64.
			n.Encoding = downgradeEncoding(body)
		}
		n.raw = body
	}

	p.tree.Nodes[idx] = n
	return idx
}

func (p *parser) parseMultipart(body []byte, boundary string, parent, depth int) []int {
	body = repairBoundary(body, boundary)
	mr := multipart.NewReader(bytes.NewReader(body), boundary)

	var children []int
	for {
		part, err := mr.NextRawPart()
		if err != nil {
			// EOF or a mid-stream structural error; keep what parsed.
			break
		}
		payload, rerr := io.ReadAll(part)
		child := p.addNode(textproto.MIMEHeader(part.Header), payload, parent, depth)
		if rerr != nil {
			p.tree.Nodes[child].Degraded = true
		}
		children = append(children, child)
	}
	return children
}
