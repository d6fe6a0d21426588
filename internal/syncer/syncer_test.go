package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/relatia/mailpipe/internal/assoc"
	"github.com/relatia/mailpipe/internal/extract"
	"github.com/relatia/mailpipe/internal/models"
	"github.com/relatia/mailpipe/internal/provider"
	"github.com/relatia/mailpipe/internal/storage"
	"github.com/relatia/mailpipe/internal/thread"
)

type fakeStore struct {
	messages  map[string]*models.Message
	cursors   map[string]string
	statuses  []models.StatusChange
	upsertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: map[string]*models.Message{}, cursors: map[string]string{}}
}

func (s *fakeStore) UpsertMessage(_ context.Context, m *models.Message) (storage.UpsertResult, error) {
	if s.upsertErr != nil {
		return storage.UpsertResult{}, s.upsertErr
	}
	key := m.AccountID + "/" + m.ExternalID
	if existing, ok := s.messages[key]; ok {
		m.ID = existing.ID
		s.messages[key] = m
		return storage.UpsertResult{ID: m.ID}, nil
	}
	m.ID = key
	s.messages[key] = m
	return storage.UpsertResult{ID: m.ID, Created: true}, nil
}

func (s *fakeStore) GetMessage(_ context.Context, accountID, id string) (*models.Message, error) {
	for _, m := range s.messages {
		if m.AccountID == accountID && m.ID == id {
			return m, nil
		}
	}
	return nil, errors.New("message not found")
}

func (s *fakeStore) SetStatus(_ context.Context, _, _ string, change models.StatusChange) error {
	s.statuses = append(s.statuses, change)
	return nil
}

func (s *fakeStore) GetSyncCursor(_ context.Context, accountID string) (string, error) {
	return s.cursors[accountID], nil
}

func (s *fakeStore) SetSyncCursor(_ context.Context, accountID, cursor string) error {
	s.cursors[accountID] = cursor
	return nil
}

func (s *fakeStore) SetAssociation(_ context.Context, _ string, _ models.AssociationResult) error {
	return nil
}

type fakeFetcher struct {
	accountID string
	result    *provider.FetchResult
	errs      []error

	fetches   int
	refreshes int
	pushed    []string
	pushErr   error
}

func (f *fakeFetcher) AccountID() string { return f.accountID }

func (f *fakeFetcher) FetchMessages(_ context.Context, _ string, _ int) (*provider.FetchResult, error) {
	f.fetches++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.result, nil
}

func (f *fakeFetcher) RefreshAuth(_ context.Context) error {
	f.refreshes++
	return nil
}

func (f *fakeFetcher) PushFlags(_ context.Context, externalID string, _ models.StatusChange) error {
	f.pushed = append(f.pushed, externalID)
	return f.pushErr
}

type fakeThreadRepo struct{}

func (fakeThreadRepo) FindThreadByMessageIDs(_ context.Context, _ string, _ []string) (string, bool, error) {
	return "", false, nil
}

func (fakeThreadRepo) FindThreadCandidates(_ context.Context, _, _ string, _ time.Duration) ([]thread.Candidate, error) {
	return nil, nil
}

type fakeDirectory struct{}

func (fakeDirectory) FindContactsByAddress(_ context.Context, _ string, _ []string) ([]models.Contact, error) {
	return nil, nil
}

func (fakeDirectory) FindBusinessesByAddressOrDomain(_ context.Context, _ string, _, _ []string) ([]models.Business, error) {
	return nil, nil
}

func newTestSyncer(store *fakeStore, fetchers ...provider.Fetcher) *Syncer {
	log := zerolog.Nop()
	return New(&Config{
		Fetchers:  fetchers,
		Store:     store,
		Extractor: extract.New(&log),
		Threads:   thread.New(fakeThreadRepo{}, 0, &log),
		Assoc:     assoc.New(fakeDirectory{}, store, &log),
		Retries:   2,
		Log:       &log,
	})
}

func rawMessage(externalID, subject string) *models.RawMessage {
	return &models.RawMessage{
		AccountID:  "acc-1",
		ExternalID: externalID,
		Data: []byte("From: jane@acme.example\n" +
			"To: bob@crm.example\n" +
			"Subject: " + subject + "\n" +
			"Message-ID: <" + externalID + "@acme.example>\n" +
			"\n" +
			"message body " + externalID + "\n"),
	}
}

func TestSyncAccount(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{
		accountID: "acc-1",
		result: &provider.FetchResult{
			Messages:   []*models.RawMessage{rawMessage("1", "offer"), rawMessage("2", "invoice")},
			NextCursor: "2",
		},
	}

	result := newTestSyncer(store, fetcher).SyncAccount(context.Background(), "acc-1")
	if result.Processed != 2 || result.Created != 2 || len(result.Errors) != 0 {
		t.Error("processed=2 created=2 errors=0", "!=", result)
	}
	if store.cursors["acc-1"] != "2" {
		t.Error("2", "!=", store.cursors["acc-1"])
	}

	stored := store.messages["acc-1/1"]
	if stored == nil {
		t.Fatal("message not persisted")
	}
	if stored.Thread.ThreadID == "" {
		t.Error("thread not assigned")
	}
	if stored.Association.Confidence != models.AssocNone {
		t.Error(models.AssocNone, "!=", stored.Association.Confidence)
	}
}

func TestSyncAccountSecondPassUpdates(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{
		accountID: "acc-1",
		result: &provider.FetchResult{
			Messages:   []*models.RawMessage{rawMessage("1", "offer")},
			NextCursor: "1",
		},
	}
	s := newTestSyncer(store, fetcher)

	s.SyncAccount(context.Background(), "acc-1")
	result := s.SyncAccount(context.Background(), "acc-1")
	if result.Created != 0 || result.Updated != 1 {
		t.Error("created=0 updated=1", "!=", result)
	}
}

func TestSyncAccountUnparsableSkipped(t *testing.T) {
	store := newFakeStore()
	broken := &models.RawMessage{AccountID: "acc-1", ExternalID: "2", Data: []byte(" broken header\n\nbody")}
	fetcher := &fakeFetcher{
		accountID: "acc-1",
		result: &provider.FetchResult{
			Messages:   []*models.RawMessage{rawMessage("1", "offer"), broken},
			NextCursor: "2",
		},
	}

	result := newTestSyncer(store, fetcher).SyncAccount(context.Background(), "acc-1")
	// A structurally unparsable message is a skip, not an error.
	if result.Processed != 2 || result.Created != 1 || result.Skipped != 1 || len(result.Errors) != 0 {
		t.Error("processed=2 created=1 skipped=1 errors=0", "!=", result)
	}
	// One bad message does not abort the pass: the cursor still advances.
	if store.cursors["acc-1"] != "2" {
		t.Error("2", "!=", store.cursors["acc-1"])
	}
}

func TestSyncAccountErrorsCarryExternalID(t *testing.T) {
	store := newFakeStore()
	store.upsertErr = errors.New("disk full")
	fetcher := &fakeFetcher{
		accountID: "acc-1",
		result: &provider.FetchResult{
			Messages:   []*models.RawMessage{rawMessage("1", "offer")},
			NextCursor: "1",
		},
	}

	result := newTestSyncer(store, fetcher).SyncAccount(context.Background(), "acc-1")
	if len(result.Errors) != 1 {
		t.Fatal(1, "!=", len(result.Errors))
	}
	if result.Errors[0].ExternalID != "1" {
		t.Error("1", "!=", result.Errors[0].ExternalID)
	}
	if !errors.Is(result.Errors[0].Err, store.upsertErr) {
		t.Error("error not preserved:", result.Errors[0].Err)
	}
}

func TestSyncAccountAuthRefresh(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{
		accountID: "acc-1",
		errs:      []error{&provider.AuthError{Account: "acc-1", Message: "expired"}},
		result:    &provider.FetchResult{Messages: []*models.RawMessage{rawMessage("1", "offer")}, NextCursor: "1"},
	}

	result := newTestSyncer(store, fetcher).SyncAccount(context.Background(), "acc-1")
	if len(result.Errors) != 0 || result.Created != 1 {
		t.Error("errors=0 created=1", "!=", result)
	}
	if fetcher.refreshes != 1 {
		t.Error(1, "!=", fetcher.refreshes)
	}
}

func TestSyncAccountAuthRefreshOnlyOnce(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{
		accountID: "acc-1",
		errs: []error{
			&provider.AuthError{Account: "acc-1", Message: "expired"},
			&provider.AuthError{Account: "acc-1", Message: "still expired"},
		},
	}

	result := newTestSyncer(store, fetcher).SyncAccount(context.Background(), "acc-1")
	if len(result.Errors) != 1 {
		t.Error(1, "!=", len(result.Errors))
	}
	if fetcher.refreshes != 1 {
		t.Error(1, "!=", fetcher.refreshes)
	}
}

func TestSyncAccountTransientHonorsContext(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{
		accountID: "acc-1",
		errs: []error{
			&provider.TransientError{Err: errors.New("timeout")},
			&provider.TransientError{Err: errors.New("timeout")},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := newTestSyncer(store, fetcher).SyncAccount(ctx, "acc-1")
	if len(result.Errors) != 1 {
		t.Error(1, "!=", len(result.Errors))
	}
	// The backoff wait aborts on a cancelled context instead of sleeping.
	if fetcher.fetches != 1 {
		t.Error(1, "!=", fetcher.fetches)
	}
}

func TestSyncAll(t *testing.T) {
	store := newFakeStore()
	first := &fakeFetcher{accountID: "acc-1", result: &provider.FetchResult{
		Messages: []*models.RawMessage{rawMessage("1", "offer")}, NextCursor: "1",
	}}
	second := &fakeFetcher{accountID: "acc-2", result: &provider.FetchResult{NextCursor: ""}}

	results := newTestSyncer(store, first, second).SyncAll(context.Background())
	if len(results) != 2 {
		t.Fatal(2, "!=", len(results))
	}
	total := 0
	for _, r := range results {
		if len(r.Errors) != 0 {
			t.Error("unexpected errors for", r.AccountID)
		}
		total += r.Created
	}
	if total != 1 {
		t.Error(1, "!=", total)
	}
}

func TestSetMessageStatus(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{accountID: "acc-1", result: &provider.FetchResult{
		Messages: []*models.RawMessage{rawMessage("1", "offer")}, NextCursor: "1",
	}}
	s := newTestSyncer(store, fetcher)
	s.SyncAccount(context.Background(), "acc-1")

	read := true
	if err := s.SetMessageStatus(context.Background(), "acc-1", "acc-1/1", models.StatusChange{Read: &read}); err != nil {
		t.Fatal(err)
	}
	if len(store.statuses) != 1 {
		t.Fatal(1, "!=", len(store.statuses))
	}
	if len(fetcher.pushed) != 1 || fetcher.pushed[0] != "1" {
		t.Error("flags not pushed to the provider:", fetcher.pushed)
	}
}

func TestSetMessageStatusPushFailureIsLocalOnly(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{
		accountID: "acc-1",
		result: &provider.FetchResult{
			Messages: []*models.RawMessage{rawMessage("1", "offer")}, NextCursor: "1",
		},
		pushErr: errors.New("connection reset"),
	}
	s := newTestSyncer(store, fetcher)
	s.SyncAccount(context.Background(), "acc-1")

	starred := true
	if err := s.SetMessageStatus(context.Background(), "acc-1", "acc-1/1", models.StatusChange{Starred: &starred}); err != nil {
		t.Error("a provider push failure must not surface:", err)
	}
	if len(store.statuses) != 1 {
		t.Error(1, "!=", len(store.statuses))
	}
}
