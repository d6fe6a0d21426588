package mime

import (
	"net/textproto"
	"strconv"
	"strings"
)

// Tree is the parsed MIME structure of one message, stored as an arena of
// nodes addressed by index. Nodes are never mutated after parsing; consumers
// that need a different view (e.g. "all leaves except the primary bodies")
// build index sets instead of editing nodes.
type Tree struct {
	Nodes []Node
}

// Node is one MIME part. A node is either a container (non-empty Children)
// or a leaf carrying a payload.
type Node struct {
	Parent   int
	Children []int

	Header            textproto.MIMEHeader
	MediaType         string
	Params            map[string]string
	Encoding          string
	Disposition       string
	DispositionParams map[string]string
	ContentID         string
	Charset           string

	// Degraded marks a part whose declared structure or encoding could not
	// be honored; the payload is best-effort or empty, never a hard failure.
	Degraded bool

	raw []byte
}

// IsLeaf reports whether the node carries a payload instead of children.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// Filename returns the part's declared filename, preferring the
// Content-Disposition parameter over the Content-Type name parameter.
func (n *Node) Filename() string {
	if v := n.DispositionParams["filename"]; v != "" {
		return v
	}
	return n.Params["name"]
}

// Root returns the index of the root node, or -1 for an empty tree.
func (t *Tree) Root() int {
	if len(t.Nodes) == 0 {
		return -1
	}
	return 0
}

// Walk visits nodes depth-first in declared order. The visitor returns false
// to stop the walk.
func (t *Tree) Walk(fn func(idx int, n *Node) bool) {
	t.walk(t.Root(), fn)
}

func (t *Tree) walk(idx int, fn func(idx int, n *Node) bool) bool {
	if idx < 0 || idx >= len(t.Nodes) {
		return true
	}
	n := &t.Nodes[idx]
	if !fn(idx, n) {
		return false
	}
	for _, child := range n.Children {
		if !t.walk(child, fn) {
			return false
		}
	}
	return true
}

// Payload returns the leaf's bytes with its transfer encoding undone.
// Decoding happens on demand; a decode failure yields the best-effort prefix
// and marks nothing — callers consult the returned flag.
func (t *Tree) Payload(idx int) (data []byte, degraded bool) {
	if idx < 0 || idx >= len(t.Nodes) {
		return nil, false
	}
	n := &t.Nodes[idx]
	if !n.IsLeaf() {
		return nil, false
	}
	decoded, err := decodeTransfer(n.Encoding, n.raw)
	if err != nil {
		return decoded, true
	}
	return decoded, n.Degraded
}

// Text returns the leaf's payload decoded to UTF-8 using its declared or
// sniffed charset.
func (t *Tree) Text(idx int) (text string, degraded bool) {
	data, degraded := t.Payload(idx)
	if len(data) == 0 {
		return "", degraded
	}
	s, err := decodeCharset(t.Nodes[idx].Charset, data)
	if err != nil {
		return s, true
	}
	return s, degraded
}

// PrimaryBodies returns the indexes of the first text/plain and text/html
// leaves in a depth-first walk, skipping parts declared as attachments.
// Either index is -1 when no such leaf exists.
func (t *Tree) PrimaryBodies() (textIdx, htmlIdx int) {
	textIdx, htmlIdx = -1, -1
	t.Walk(func(idx int, n *Node) bool {
		if !n.IsLeaf() || n.Disposition == "attachment" {
			return true
		}
		switch n.MediaType {
		case "text/plain":
			if textIdx < 0 {
				textIdx = idx
			}
		case "text/html":
			if htmlIdx < 0 {
				htmlIdx = idx
			}
		}
		return textIdx < 0 || htmlIdx < 0
	})
	return textIdx, htmlIdx
}

// Degraded reports whether any node in the tree was degraded during parsing.
func (t *Tree) Degraded() bool {
	degraded := false
	t.Walk(func(_ int, n *Node) bool {
		if n.Degraded {
			degraded = true
			return false
		}
		return true
	})
	return degraded
}

// PartID derives a stable dotted part address ("1.2") for a node, usable as
// a blob store key component.
func (t *Tree) PartID(idx int) string {
	if idx <= 0 || idx >= len(t.Nodes) {
		return "1"
	}
	var segments []string
	for idx > 0 {
		parent := t.Nodes[idx].Parent
		pos := 1
		for i, child := range t.Nodes[parent].Children {
			if child == idx {
				pos = i + 1
				break
			}
		}
		segments = append([]string{strconv.Itoa(pos)}, segments...)
		idx = parent
	}
	return strings.Join(segments, ".")
}
