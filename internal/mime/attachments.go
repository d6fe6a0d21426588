package mime

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/relatia/mailpipe/internal/blob"
	"github.com/relatia/mailpipe/internal/models"
)

// inlineDataLimit is the largest inline image embedded directly into the
// markup as a data reference; bigger images get a fetchable pointer instead.
const inlineDataLimit = 32 * 1024

// BlobRefScheme prefixes fetchable pointers written into rewritten markup.
// Consumers resolve them through the blob store.
const BlobRefScheme = "blob://"

// AttachmentExtractor pulls binary parts out of a parse tree, classifies them
// as attachments vs inline images, and rewrites content-id references so the
// markup body is self-contained.
type AttachmentExtractor struct {
	blobs   blob.Store
	maxSize int64
	log     *zerolog.Logger
}

// NewAttachmentExtractor returns an extractor storing payloads through blobs.
// Parts larger than maxSize are persisted as metadata-only stubs.
func NewAttachmentExtractor(blobs blob.Store, maxSize int64, log *zerolog.Logger) *AttachmentExtractor {
	return &AttachmentExtractor{blobs: blobs, maxSize: maxSize, log: log}
}

// Extract fills msg.Attachments and msg.InlineImages from every leaf that was
// not selected as a primary body, and rewrites cid references in msg.HTML.
func (e *AttachmentExtractor) Extract(ctx context.Context, tree *Tree, msg *models.NormalizedMessage) error {
	textIdx, htmlIdx := tree.PrimaryBodies()

	tree.Walk(func(idx int, n *Node) bool {
		if !n.IsLeaf() || idx == textIdx || idx == htmlIdx || idx == tree.Root() {
			return true
		}
		// Structural leaves without content (degraded containers) are skipped.
		payload, _ := tree.Payload(idx)
		if len(payload) == 0 && n.Filename() == "" && n.ContentID == "" {
			return true
		}

		partID := tree.PartID(idx)
		mediaType := e.mediaType(n, payload)

		if n.Disposition == "inline" && n.ContentID != "" && strings.HasPrefix(mediaType, "image/") {
			e.extractInline(ctx, msg, n, partID, mediaType, payload)
			return true
		}
		e.extractAttachment(ctx, msg, n, partID, mediaType, payload)
		return true
	})

	return nil
}

func (e *AttachmentExtractor) extractInline(ctx context.Context, msg *models.NormalizedMessage, n *Node, partID, mediaType string, payload []byte) {
	img := models.InlineImageRef{
		PartID:    partID,
		ContentID: n.ContentID,
		Filename:  n.Filename(),
		MediaType: mediaType,
		Size:      int64(len(payload)),
	}

	if e.maxSize > 0 && img.Size > e.maxSize {
		// Same treatment as oversized attachments: metadata only, and the cid
		// reference stays in the markup for a later on-demand fetch.
		img.Stub = true
		msg.InlineImages = append(msg.InlineImages, img)
		return
	}

	ref, err := e.blobs.Put(ctx, msg.AccountID, msg.ExternalID, partID, payload, mediaType)
	if err != nil {
		e.log.Error().Err(err).Str("part", partID).Msg("cannot store inline image")
	}
	img.StorageRef = ref
	msg.InlineImages = append(msg.InlineImages, img)

	if msg.HTML != "" {
		msg.HTML = rewriteCID(msg.HTML, n.ContentID, ref, mediaType, payload)
	}
}

func (e *AttachmentExtractor) extractAttachment(ctx context.Context, msg *models.NormalizedMessage, n *Node, partID, mediaType string, payload []byte) {
	att := models.AttachmentRef{
		PartID:    partID,
		Filename:  n.Filename(),
		MediaType: mediaType,
		Size:      int64(len(payload)),
	}
	if att.Filename == "" {
		att.Filename = "part-" + partID + extensionFor(mediaType, payload)
	}

	if e.maxSize > 0 && att.Size > e.maxSize {
		// Metadata-only stub; the binary stays with the provider until a
		// consumer asks for it.
		att.Stub = true
	} else {
		ref, err := e.blobs.Put(ctx, msg.AccountID, msg.ExternalID, partID, payload, mediaType)
		if err != nil {
			e.log.Error().Err(err).Str("part", partID).Msg("cannot store attachment")
		}
		att.StorageRef = ref
	}

	msg.Attachments = append(msg.Attachments, att)
}

func (e *AttachmentExtractor) mediaType(n *Node, payload []byte) string {
	if n.MediaType != "" && n.MediaType != "application/octet-stream" {
		return n.MediaType
	}
	return mimetype.Detect(payload).String()
}

// rewriteCID replaces one cid reference with an inline data reference (small
// images) or a fetchable blob pointer, making the markup self-contained.
func rewriteCID(html, contentID, ref, mediaType string, payload []byte) string {
	target := "cid:" + contentID
	var replacement string
	if len(payload) > 0 && len(payload) <= inlineDataLimit {
		replacement = "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(payload)
	} else if ref != "" {
		replacement = BlobRefScheme + ref
	} else {
		return html
	}
	return strings.ReplaceAll(html, target, replacement)
}

func extensionFor(mediaType string, data []byte) string {
	if mediaType == "" || mediaType == "application/octet-stream" {
		return mimetype.Detect(data).Extension()
	}
	if mt := mimetype.Lookup(mediaType); mt != nil {
		return mt.Extension()
	}
	return ".bin"
}
