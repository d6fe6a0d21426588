// Package syncer drives ingestion: it pulls raw messages from providers and
// runs each through normalize, attachment extraction, content extraction,
// thread assignment and association before persisting.
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/etkecc/go-kit"
	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"github.com/relatia/mailpipe/internal/assoc"
	"github.com/relatia/mailpipe/internal/extract"
	"github.com/relatia/mailpipe/internal/mime"
	"github.com/relatia/mailpipe/internal/models"
	"github.com/relatia/mailpipe/internal/provider"
	"github.com/relatia/mailpipe/internal/storage"
	"github.com/relatia/mailpipe/internal/thread"
)

const (
	defaultWorkers   = 4
	defaultBatchSize = 100
	defaultRetries   = 3
	retryBaseDelay   = 2 * time.Second
)

// Store is the persistence the syncer writes to.
type Store interface {
	UpsertMessage(ctx context.Context, m *models.Message) (storage.UpsertResult, error)
	GetMessage(ctx context.Context, accountID, id string) (*models.Message, error)
	SetStatus(ctx context.Context, accountID, messageID string, change models.StatusChange) error
	GetSyncCursor(ctx context.Context, accountID string) (string, error)
	SetSyncCursor(ctx context.Context, accountID, cursor string) error
}

// Result is the outcome of one sync pass over one account. Structurally
// unparsable messages are skips, not errors; Errors carries the per-message
// failures of everything else.
type Result struct {
	AccountID string
	Processed int
	Created   int
	Updated   int
	Skipped   int
	Errors    []SyncError
}

// SyncError records one failure of a pass, with the external id of the
// affected message when there is one.
type SyncError struct {
	ExternalID string
	Err        error
}

// Syncer owns the ingestion pipeline for a set of accounts.
type Syncer struct {
	fetchers  map[string]provider.Fetcher
	store     Store
	attach    *mime.AttachmentExtractor
	extractor *extract.Extractor
	threads   *thread.Identifier
	assoc     *assoc.Service

	workers   int
	batchSize int
	retries   int

	// mu serializes passes per account: two overlapping syncs of the same
	// mailbox would race on the cursor.
	mu  *kit.Mutex
	log *zerolog.Logger
}

// Config bundles the pipeline stages and tuning knobs.
type Config struct {
	Fetchers  []provider.Fetcher
	Store     Store
	Attach    *mime.AttachmentExtractor
	Extractor *extract.Extractor
	Threads   *thread.Identifier
	Assoc     *assoc.Service
	Workers   int
	BatchSize int
	Retries   int
	Log       *zerolog.Logger
}

// New returns a Syncer.
func New(cfg *Config) *Syncer {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Retries <= 0 {
		cfg.Retries = defaultRetries
	}
	fetchers := make(map[string]provider.Fetcher, len(cfg.Fetchers))
	for _, f := range cfg.Fetchers {
		fetchers[f.AccountID()] = f
	}
	return &Syncer{
		fetchers:  fetchers,
		store:     cfg.Store,
		attach:    cfg.Attach,
		extractor: cfg.Extractor,
		threads:   cfg.Threads,
		assoc:     cfg.Assoc,
		workers:   cfg.Workers,
		batchSize: cfg.BatchSize,
		retries:   cfg.Retries,
		mu:        kit.NewMutex(),
		log:       cfg.Log,
	}
}

// SyncAll runs one pass over every account through a bounded worker pool.
func (s *Syncer) SyncAll(ctx context.Context) []Result {
	results := make([]Result, 0, len(s.fetchers))
	resultCh := make(chan Result, len(s.fetchers))
	sem := make(chan struct{}, s.workers)
	wg := kit.NewWaitGroup()

	for _, f := range s.fetchers {
		fetcher := f
		wg.Do(func() {
			sem <- struct{}{}
			defer func() { <-sem }()
			resultCh <- s.SyncAccount(ctx, fetcher.AccountID())
		})
	}
	wg.Wait()
	close(resultCh)

	for r := range resultCh {
		results = append(results, r)
	}
	return results
}

// SyncAccount runs one incremental pass over a single account. Auth is
// refreshed at most once per pass; transient fetch failures are retried with
// exponential backoff. Per-message failures degrade to skips, never abort
// the pass.
func (s *Syncer) SyncAccount(ctx context.Context, accountID string) Result {
	result := Result{AccountID: accountID}
	fetcher, ok := s.fetchers[accountID]
	if !ok {
		s.log.Error().Str("account", accountID).Msg("no fetcher for account")
		result.Errors = append(result.Errors, SyncError{Err: fmt.Errorf("no fetcher for account %s", accountID)})
		return result
	}

	s.mu.Lock(accountID)
	defer s.mu.Unlock(accountID)

	cursor, err := s.store.GetSyncCursor(ctx, accountID)
	if err != nil {
		s.fail(&result, err, "cannot read sync cursor")
		return result
	}

	fetched, err := s.fetchWithRetry(ctx, fetcher, cursor)
	if err != nil {
		s.fail(&result, err, "cannot fetch messages")
		return result
	}

	for _, raw := range fetched.Messages {
		result.Processed++
		switch outcome, err := s.ingest(ctx, raw); {
		case mime.IsParseFailure(err):
			// Structurally unparsable input is a skip, not a failure.
			result.Skipped++
			s.log.Warn().Err(err).
				Str("account", accountID).
				Str("external_id", raw.ExternalID).
				Msg("skipping unparsable message")
		case err != nil:
			result.Errors = append(result.Errors, SyncError{ExternalID: raw.ExternalID, Err: err})
			s.log.Error().Err(err).
				Str("account", accountID).
				Str("external_id", raw.ExternalID).
				Msg("cannot ingest message")
			sentry.CaptureException(err)
		case outcome.Created:
			result.Created++
		default:
			result.Updated++
		}
	}

	if fetched.NextCursor != cursor {
		if err := s.store.SetSyncCursor(ctx, accountID, fetched.NextCursor); err != nil {
			s.fail(&result, err, "cannot persist sync cursor")
		}
	}

	s.log.Info().
		Str("account", accountID).
		Int("processed", result.Processed).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("skipped", result.Skipped).
		Int("errors", len(result.Errors)).
		Msg("sync pass finished")
	return result
}

// fetchWithRetry retries transient failures with exponential backoff and
// refreshes auth once when credentials are rejected.
func (s *Syncer) fetchWithRetry(ctx context.Context, fetcher provider.Fetcher, cursor string) (*provider.FetchResult, error) {
	refreshed := false
	var lastErr error
	for attempt := 0; attempt < s.retries; attempt++ {
		fetched, err := fetcher.FetchMessages(ctx, cursor, s.batchSize)
		if err == nil {
			return fetched, nil
		}
		lastErr = err

		switch {
		case provider.IsAuthError(err) && !refreshed:
			refreshed = true
			s.log.Warn().Err(err).Str("account", fetcher.AccountID()).Msg("refreshing credentials")
			if rerr := fetcher.RefreshAuth(ctx); rerr != nil {
				return nil, rerr
			}
		case provider.IsAuthError(err):
			return nil, err
		case provider.IsTransient(err):
			delay := retryBaseDelay << attempt
			s.log.Warn().Err(err).
				Str("account", fetcher.AccountID()).
				Dur("retry_in", delay).
				Msg("transient fetch failure")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		default:
			return nil, err
		}
	}
	return nil, lastErr
}

// ingest runs the full pipeline for one raw message.
func (s *Syncer) ingest(ctx context.Context, raw *models.RawMessage) (storage.UpsertResult, error) {
	normalized, tree, err := mime.Normalize(raw)
	if err != nil {
		return storage.UpsertResult{}, err
	}

	if s.attach != nil {
		if err := s.attach.Extract(ctx, tree, normalized); err != nil {
			// Attachment storage trouble degrades the message, it does not
			// drop it.
			normalized.Degraded = true
			s.log.Warn().Err(err).
				Str("external_id", raw.ExternalID).
				Msg("attachment extraction degraded")
		}
	}

	extracted := s.extractor.Extract(normalized.Text, normalized.HTML)

	assignment, err := s.threads.Assign(ctx, normalized)
	if err != nil {
		return storage.UpsertResult{}, err
	}

	association, err := s.assoc.Associate(ctx, normalized)
	if err != nil {
		return storage.UpsertResult{}, err
	}

	msg := assemble(normalized, raw, assignment, extracted, association)
	return s.store.UpsertMessage(ctx, msg)
}

// SetMessageStatus updates user-facing flags and propagates them to the
// provider when it supports writable flags.
func (s *Syncer) SetMessageStatus(ctx context.Context, accountID, messageID string, change models.StatusChange) error {
	if err := s.store.SetStatus(ctx, accountID, messageID, change); err != nil {
		return err
	}

	fetcher, ok := s.fetchers[accountID]
	if !ok {
		return nil
	}
	msg, err := s.store.GetMessage(ctx, accountID, messageID)
	if err != nil {
		return err
	}
	if err := fetcher.PushFlags(ctx, msg.ExternalID, change); err != nil {
		// Local state is already updated; provider divergence heals on the
		// next pass.
		s.log.Warn().Err(err).
			Str("account", accountID).
			Str("external_id", msg.ExternalID).
			Msg("cannot push flags to provider")
	}
	return nil
}

func (s *Syncer) fail(result *Result, err error, msg string) {
	result.Errors = append(result.Errors, SyncError{Err: err})
	s.log.Error().Err(err).Str("account", result.AccountID).Msg(msg)
	sentry.CaptureException(err)
}

func assemble(
	n *models.NormalizedMessage,
	raw *models.RawMessage,
	assignment models.ThreadAssignment,
	extracted models.ExtractedContent,
	association models.AssociationResult,
) *models.Message {
	return &models.Message{
		AccountID:    n.AccountID,
		ExternalID:   n.ExternalID,
		Subject:      n.Subject,
		From:         n.From,
		To:           n.To,
		Cc:           n.Cc,
		Bcc:          n.Bcc,
		SentAt:       n.SentAt,
		ReceivedAt:   time.Now().UTC(),
		Text:         n.Text,
		HTML:         n.HTML,
		Attachments:  n.Attachments,
		InlineImages: n.InlineImages,
		Headers:      n.Headers,
		Degraded:     n.Degraded,
		Thread:       assignment,
		Extracted:    extracted,
		Association:  association,
		Read:         raw.IsRead,
	}
}
