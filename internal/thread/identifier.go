// Package thread assigns normalized messages to conversations: header
// evidence first, a subject+participant heuristic as fallback.
package thread

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/etkecc/go-kit"
	"github.com/rs/zerolog"

	"github.com/relatia/mailpipe/internal/models"
)

// Candidate is an existing thread considered by the fallback heuristic.
type Candidate struct {
	ThreadID     string
	Participants []string
	LastSentAt   time.Time
}

// Repository is the persistence the identifier consumes.
type Repository interface {
	// FindThreadByMessageIDs resolves RFC 5322 message ids (References,
	// In-Reply-To) to the thread of an already-known message.
	FindThreadByMessageIDs(ctx context.Context, accountID string, messageIDs []string) (string, bool, error)
	// FindThreadCandidates returns threads sharing the normalized subject
	// within the recency window, most recent first.
	FindThreadCandidates(ctx context.Context, accountID, subjectKey string, window time.Duration) ([]Candidate, error)
}

// DefaultWindow bounds how far back the fallback heuristic searches.
const DefaultWindow = 30 * 24 * time.Hour

// Identifier assigns messages to threads.
type Identifier struct {
	repo   Repository
	window time.Duration
	log    *zerolog.Logger
}

// New returns an Identifier. A zero window falls back to DefaultWindow.
func New(repo Repository, window time.Duration, log *zerolog.Logger) *Identifier {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Identifier{repo: repo, window: window, log: log}
}

// Assign produces the message's ThreadAssignment. Assignments are stable:
// re-running Assign for a known external id yields the same thread because
// both evidence paths are deterministic over persisted state.
func (i *Identifier) Assign(ctx context.Context, msg *models.NormalizedMessage) (models.ThreadAssignment, error) {
	// Provider-native thread id is the strongest evidence there is.
	if msg.ThreadHint != "" {
		return models.ThreadAssignment{
			ThreadID:   SeedID(msg.AccountID, "hint:"+msg.ThreadHint),
			Confidence: models.ThreadConfidenceHigh,
			Method:     models.ThreadMethodHeader,
		}, nil
	}

	if refs := referenceChain(msg); len(refs) > 0 {
		threadID, ok, err := i.repo.FindThreadByMessageIDs(ctx, msg.AccountID, refs)
		if err != nil {
			return models.ThreadAssignment{}, err
		}
		if ok {
			return models.ThreadAssignment{
				ThreadID:   threadID,
				Confidence: models.ThreadConfidenceHigh,
				Method:     models.ThreadMethodHeader,
			}, nil
		}
	}

	return i.assignByHeuristic(ctx, msg)
}

func (i *Identifier) assignByHeuristic(ctx context.Context, msg *models.NormalizedMessage) (models.ThreadAssignment, error) {
	subjectKey := NormalizeSubject(msg.Subject)
	participants := participantSet(msg)

	candidates, err := i.repo.FindThreadCandidates(ctx, msg.AccountID, subjectKey, i.window)
	if err != nil {
		return models.ThreadAssignment{}, err
	}

	var matched []Candidate
	for _, c := range candidates {
		if overlaps(participants, c.Participants) {
			matched = append(matched, c)
		}
	}

	switch len(matched) {
	case 0:
		// No ambiguity: this message seeds a new thread.
		return models.ThreadAssignment{
			ThreadID:   SeedID(msg.AccountID, msg.ExternalID),
			Confidence: models.ThreadConfidenceHigh,
			Method:     models.ThreadMethodHeuristic,
		}, nil
	case 1:
		return models.ThreadAssignment{
			ThreadID:   matched[0].ThreadID,
			Confidence: models.ThreadConfidenceMedium,
			Method:     models.ThreadMethodHeuristic,
		}, nil
	default:
		// Ambiguity is resolved deterministically (most recent candidate)
		// and logged for audit; it is not an error.
		best := matched[0]
		for _, c := range matched[1:] {
			if c.LastSentAt.After(best.LastSentAt) {
				best = c
			}
		}
		i.log.Info().
			Str("external_id", msg.ExternalID).
			Str("subject_key", subjectKey).
			Int("candidates", len(matched)).
			Str("thread_id", best.ThreadID).
			Msg("ambiguous thread candidates, adopting most recent")
		return models.ThreadAssignment{
			ThreadID:   best.ThreadID,
			Confidence: models.ThreadConfidenceLow,
			Method:     models.ThreadMethodHeuristic,
		}, nil
	}
}

// SeedID derives the stable thread id from the first message of the thread.
func SeedID(accountID, seed string) string {
	return kit.Hash(accountID + "/" + seed)[:32]
}

func referenceChain(msg *models.NormalizedMessage) []string {
	refs := make([]string, 0, len(msg.Headers.References)+1)
	// References are ordered oldest first; In-Reply-To is the direct parent
	// and the best first guess.
	if msg.Headers.InReplyTo != "" {
		refs = append(refs, msg.Headers.InReplyTo)
	}
	for i := len(msg.Headers.References) - 1; i >= 0; i-- {
		ref := strings.TrimSpace(msg.Headers.References[i])
		if ref != "" && ref != msg.Headers.InReplyTo {
			refs = append(refs, ref)
		}
	}
	return refs
}

var subjectPrefix = regexp.MustCompile(`(?i)^(re|fw|fwd|aw|wg|sv|vs|antw)(\[\d+\])?\s*:\s*`)

// NormalizeSubject strips reply/forward prefixes (repeatedly, since clients
// stack them) and collapses the rest into a comparison key.
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		stripped := subjectPrefix.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = strings.TrimSpace(stripped)
	}
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func participantSet(msg *models.NormalizedMessage) map[string]bool {
	set := make(map[string]bool)
	if msg.From != "" {
		set[strings.ToLower(msg.From)] = true
	}
	for _, list := range [][]string{msg.To, msg.Cc} {
		for _, addr := range list {
			if addr != "" {
				set[strings.ToLower(addr)] = true
			}
		}
	}
	return set
}

func overlaps(set map[string]bool, participants []string) bool {
	for _, p := range participants {
		if set[strings.ToLower(p)] {
			return true
		}
	}
	return false
}
