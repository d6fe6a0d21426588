package extract

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/relatia/mailpipe/internal/models"
)

// Vendor-specific quote container markers, collected from the markup the big
// providers emit around quoted history.
var quoteMarkers = []string{
	"gmail_quote",
	"yahoo_quoted",
	"moz-cite-prefix",
	"outlookmessageheader",
	"divrplyfwdmsg",
	"protonmail_quote",
	"zmail_extra",
	"quoted-text",
}

var signatureMarkers = []string{
	"gmail_signature",
	"moz-signature",
	"protonmail_signature_block",
	"signature",
}

// markupSplit is the outcome of the markup-channel quote separation. The
// parsed tree is never mutated; the split is a pair of render views over
// disjoint node sets.
type markupSplit struct {
	newHTML       string
	quotedHTML    string
	signatureText string
	style         models.ReplyStyle
	found         bool
}

// splitMarkup walks the markup body for known quote containers and splits it
// into new and quoted views, classifying the reply style on the way.
func splitMarkup(markup string) markupSplit {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil || doc == nil {
		return markupSplit{newHTML: markup, style: models.ReplyStyleUnknown}
	}
	body := findElement(doc, "body")
	if body == nil {
		return markupSplit{newHTML: markup, style: models.ReplyStyleUnknown}
	}

	quote := findQuoteNode(body)
	if quote == nil {
		quote = findRuleBoundary(body)
	}

	split := markupSplit{style: models.ReplyStyleUnknown}
	exclude := make(map[*html.Node]bool)
	var quoted []*html.Node

	if quote != nil {
		split.found = true
		before := strings.TrimSpace(textContent(body, map[*html.Node]bool{quote: true}, quote))
		exclude[quote] = true
		quoted = append(quoted, quote)
		if before != "" {
			// New content precedes the quote: the quote and everything
			// after it in sibling order is history.
			for sib := quote.NextSibling; sib != nil; sib = sib.NextSibling {
				exclude[sib] = true
				quoted = append(quoted, sib)
			}
			split.style = models.ReplyStyleTop
		} else {
			// Quote leads the message; whatever follows it is the reply.
			after := strings.TrimSpace(textContent(body, exclude, nil))
			if len(after) >= substantialLen {
				split.style = models.ReplyStyleBottom
			}
		}
	}

	if sig := findSignatureNode(body, exclude); sig != nil {
		split.signatureText = strings.TrimSpace(textContent(sig, nil, nil))
		exclude[sig] = true
	}

	var newBuf, quotedBuf strings.Builder
	renderChildren(&newBuf, body, exclude)
	for _, n := range quoted {
		renderNode(&quotedBuf, n, nil)
	}
	split.newHTML = strings.TrimSpace(newBuf.String())
	split.quotedHTML = strings.TrimSpace(quotedBuf.String())
	return split
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// findQuoteNode returns the first quote container in DOM order.
func findQuoteNode(n *html.Node) *html.Node {
	if n.Type == html.ElementNode {
		if n.Data == "blockquote" {
			return n
		}
		if marker := attrLower(n, "class") + " " + attrLower(n, "id"); marker != " " {
			for _, m := range quoteMarkers {
				if strings.Contains(marker, m) {
					return n
				}
			}
		}
		if style := attrLower(n, "style"); strings.Contains(style, "border-left") || strings.Contains(style, "padding-left:1") {
			return n
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findQuoteNode(c); found != nil {
			return found
		}
	}
	return nil
}

// findRuleBoundary is the fallback: a horizontal rule followed by
// header-looking text marks the quote boundary.
func findRuleBoundary(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "hr" {
		var after strings.Builder
		for sib := n.NextSibling; sib != nil; sib = sib.NextSibling {
			after.WriteString(textContent(sib, nil, nil))
		}
		if headerFieldLine.MatchString(strings.TrimSpace(after.String())) {
			return n
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findRuleBoundary(c); found != nil {
			return found
		}
	}
	return nil
}

func findSignatureNode(n *html.Node, exclude map[*html.Node]bool) *html.Node {
	if exclude[n] {
		return nil
	}
	if n.Type == html.ElementNode {
		marker := attrLower(n, "class") + " " + attrLower(n, "id")
		for _, m := range signatureMarkers {
			if strings.Contains(marker, m) {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findSignatureNode(c, exclude); found != nil {
			return found
		}
	}
	return nil
}

func attrLower(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.ToLower(a.Val)
		}
	}
	return ""
}

// textContent collects the text of a subtree, skipping excluded nodes and
// stopping early when stop is reached.
func textContent(n *html.Node, exclude map[*html.Node]bool, stop *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node) bool
	walk = func(node *html.Node) bool {
		if node == stop {
			return false
		}
		if exclude[node] {
			return true
		}
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(n)
	return sb.String()
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// renderNode serializes a subtree, skipping excluded nodes. Rendering through
// an exclusion set keeps the parsed tree untouched so both views can be
// re-derived from the same parse.
func renderNode(sb *strings.Builder, n *html.Node, exclude map[*html.Node]bool) {
	if exclude[n] {
		return
	}
	switch n.Type {
	case html.TextNode:
		sb.WriteString(html.EscapeString(n.Data))
		return
	case html.CommentNode, html.DoctypeNode:
		return
	case html.ElementNode:
		sb.WriteByte('<')
		sb.WriteString(n.Data)
		for _, a := range n.Attr {
			sb.WriteByte(' ')
			sb.WriteString(a.Key)
			sb.WriteString(`="`)
			sb.WriteString(html.EscapeString(a.Val))
			sb.WriteByte('"')
		}
		sb.WriteByte('>')
		if voidElements[n.Data] {
			return
		}
		renderChildren(sb, n, exclude)
		sb.WriteString("</")
		sb.WriteString(n.Data)
		sb.WriteByte('>')
	default:
		renderChildren(sb, n, exclude)
	}
}

func renderChildren(sb *strings.Builder, n *html.Node, exclude map[*html.Node]bool) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderNode(sb, c, exclude)
	}
}
