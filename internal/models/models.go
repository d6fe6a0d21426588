package models

import "time"

// RawMessage is an opaque provider-sourced message. It is fetched once per
// external id and discarded after normalization; only attachment blobs outlive it.
type RawMessage struct {
	AccountID  string
	ExternalID string
	ThreadHint string // provider-native thread id, if the provider exposes one
	IsRead     bool
	Labels     []string
	Data       []byte
}

// Confidence of a thread assignment.
type ThreadConfidence string

const (
	ThreadConfidenceHigh   ThreadConfidence = "high"
	ThreadConfidenceMedium ThreadConfidence = "medium"
	ThreadConfidenceLow    ThreadConfidence = "low"
)

// ThreadMethod describes the evidence used to assign a message to a thread.
type ThreadMethod string

const (
	ThreadMethodHeader    ThreadMethod = "header"
	ThreadMethodHeuristic ThreadMethod = "subject-participant-heuristic"
)

// ThreadAssignment binds a message to a conversation. Assignments are
// append-only: once persisted for an external id they are never reassigned
// outside an explicit re-sync.
type ThreadAssignment struct {
	ThreadID   string
	Confidence ThreadConfidence
	Method     ThreadMethod
}

// ReplyStyle is where new content sits relative to quoted content.
type ReplyStyle string

const (
	ReplyStyleTop     ReplyStyle = "top"
	ReplyStyleBottom  ReplyStyle = "bottom"
	ReplyStyleInline  ReplyStyle = "inline"
	ReplyStyleUnknown ReplyStyle = "unknown"
)

// ExtractedContent is the derived split of a message body. It is recomputable
// and replaceable without affecting thread identity; nothing here is ever the
// only copy of the original content.
type ExtractedContent struct {
	NewText    string
	NewMarkup  string // empty when the message has no markup body
	QuotedText string
	Signature  string
	Disclaimer string
	ReplyStyle ReplyStyle
}

// AssocConfidence of a business/contact association.
type AssocConfidence string

const (
	AssocExact     AssocConfidence = "exact"
	AssocDomain    AssocConfidence = "domain"
	AssocAmbiguous AssocConfidence = "ambiguous"
	AssocNone      AssocConfidence = "none"
)

// AssociationResult maps a message to CRM entities. A manual association is
// terminal and must never be overwritten by an automatic pass.
type AssociationResult struct {
	BusinessID string
	ContactID  string
	Confidence AssocConfidence
	Manual     bool
}

// AttachmentRef is stored metadata for a non-inline binary part.
// Oversized parts are persisted as stubs: metadata only, no storage reference.
type AttachmentRef struct {
	PartID     string
	Filename   string
	MediaType  string
	Size       int64
	StorageRef string
	Stub       bool
}

// InlineImageRef is an inline image part addressed by its content id.
type InlineImageRef struct {
	PartID     string
	ContentID  string
	Filename   string
	MediaType  string
	Size       int64
	StorageRef string
	// Stub marks an oversized image kept as metadata only, with no stored
	// payload and no rewritten markup reference.
	Stub bool
}

// HeaderBag carries the header evidence the pipeline keeps after the parse
// tree is discarded.
type HeaderBag struct {
	MessageID  string
	InReplyTo  string
	References []string
	Importance string
	Signed     bool
	Encrypted  bool
}

// NormalizedMessage is derived from exactly one parse tree.
type NormalizedMessage struct {
	AccountID  string
	ExternalID string
	ThreadHint string

	Subject string
	From    string
	To      []string
	Cc      []string
	Bcc     []string
	SentAt  time.Time

	Text string
	HTML string
	// ParallelBodies is set when the message carries both a plain-text and a
	// markup representation that differ, so extraction keeps the two channels
	// consistent instead of trusting either alone.
	ParallelBodies bool

	Attachments  []AttachmentRef
	InlineImages []InlineImageRef
	Headers      HeaderBag

	// Degraded is set when at least one part failed to decode and was
	// replaced with an empty payload instead of failing the whole message.
	Degraded bool
}

// Message is the persisted record shape: the normalized message plus every
// derived annotation. Historical content is immutable once committed;
// corrections mark records deleted or superseded.
type Message struct {
	ID         string
	AccountID  string
	ExternalID string

	Subject    string
	From       string
	To         []string
	Cc         []string
	Bcc        []string
	SentAt     time.Time
	ReceivedAt time.Time

	Text string
	HTML string

	Attachments  []AttachmentRef
	InlineImages []InlineImageRef
	Headers      HeaderBag
	Degraded     bool

	Thread      ThreadAssignment
	Extracted   ExtractedContent
	Association AssociationResult

	Read    bool
	Starred bool
	Deleted bool
}

// Contact is a CRM person record.
type Contact struct {
	ID           string
	BusinessID   string
	Name         string
	Emails       []string
	LastActiveAt time.Time
}

// Business is a CRM company record.
type Business struct {
	ID           string
	Name         string
	Domain       string
	Emails       []string
	LastActiveAt time.Time
}

// EventKind discriminates timeline event sources.
type EventKind string

const (
	EventEmail    EventKind = "email"
	EventActivity EventKind = "activity"
	EventTicket   EventKind = "ticket"
	EventOffer    EventKind = "offer"
	EventMessage  EventKind = "message"
)

// TimelineEvent is a projection over messages and other domain events,
// never a separate persisted entity.
type TimelineEvent struct {
	Kind      EventKind
	ID        string
	Timestamp time.Time
	Title     string
	Preview   string

	// Email-kind fields.
	ThreadID       string
	Representative bool
	ThreadSize     int
	Message        *Message
}

// StatusChange is a partial update of the user-facing message flags.
// Nil fields are left untouched.
type StatusChange struct {
	Read    *bool
	Starred *bool
	Deleted *bool
}
