package provider

import (
	"context"
	"fmt"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"

	"github.com/relatia/mailpipe/internal/models"
)

// IMAPConfig is the connection configuration of one IMAP account.
type IMAPConfig struct {
	AccountID string
	Host      string
	Port      string
	Username  string
	Password  string
	TLS       bool
	Folder    string

	// CredentialSource renews the password on RefreshAuth. Nil means the
	// static password is all there is.
	CredentialSource func(ctx context.Context) (string, error)
}

// IMAPFetcher pulls messages over IMAP. The sync cursor is the highest UID
// already ingested, so every pass is an incremental UID range search.
type IMAPFetcher struct {
	cfg IMAPConfig
	log *zerolog.Logger
}

// NewIMAPFetcher returns a Fetcher for one IMAP account.
func NewIMAPFetcher(cfg IMAPConfig, log *zerolog.Logger) *IMAPFetcher {
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	return &IMAPFetcher{cfg: cfg, log: log}
}

// AccountID returns the account this fetcher serves.
func (f *IMAPFetcher) AccountID() string {
	return f.cfg.AccountID
}

// connect dials, authenticates and selects the folder. The caller owns the
// returned client and must Logout.
func (f *IMAPFetcher) connect(_ context.Context) (*imapclient.Client, error) {
	addr := f.cfg.Host + ":" + f.cfg.Port

	var client *imapclient.Client
	var err error
	if f.cfg.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("connecting to %s: %w", addr, err)}
	}

	if err := client.Login(f.cfg.Username, f.cfg.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &AuthError{
			Account: f.cfg.AccountID,
			Message: fmt.Sprintf("login failed for %s: %v", f.cfg.Username, err),
		}
	}

	if _, err := client.Select(f.cfg.Folder, nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &TransientError{Err: fmt.Errorf("selecting %s: %w", f.cfg.Folder, err)}
	}
	return client, nil
}

// FetchMessages returns up to maxCount full messages with UIDs above the
// cursor, oldest first, plus the cursor to resume from.
func (f *IMAPFetcher) FetchMessages(ctx context.Context, cursor string, maxCount int) (*FetchResult, error) {
	client, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	lastUID := parseCursor(cursor)
	criteria := &imap.SearchCriteria{
		UID: []imap.UIDSet{{imap.UIDRange{Start: imap.UID(lastUID + 1), Stop: 0}}},
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("searching %s: %w", f.cfg.Folder, err)}
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return &FetchResult{NextCursor: cursor}, nil
	}
	if maxCount > 0 && len(uids) > maxCount {
		uids = uids[:maxCount]
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	result := &FetchResult{NextCursor: cursor}
	highest := lastUID
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			f.log.Warn().Err(err).Str("account", f.cfg.AccountID).Msg("skipping uncollectable message")
			continue
		}

		raw := buf.FindBodySection(bodySection)
		if raw == nil {
			f.log.Warn().Uint32("uid", uint32(buf.UID)).Msg("message without body section")
			continue
		}

		isRead := false
		for _, flag := range buf.Flags {
			if flag == imap.FlagSeen {
				isRead = true
			}
		}

		result.Messages = append(result.Messages, &models.RawMessage{
			AccountID:  f.cfg.AccountID,
			ExternalID: strconv.FormatUint(uint64(buf.UID), 10),
			IsRead:     isRead,
			Data:       raw,
		})
		if uint32(buf.UID) > highest {
			highest = uint32(buf.UID)
		}
	}
	if err := fetchCmd.Close(); err != nil {
		return result, &TransientError{Err: fmt.Errorf("fetching messages: %w", err)}
	}

	if highest > lastUID {
		result.NextCursor = strconv.FormatUint(uint64(highest), 10)
	}
	return result, nil
}

// RefreshAuth renews the password from the credential source, if any.
func (f *IMAPFetcher) RefreshAuth(ctx context.Context) error {
	if f.cfg.CredentialSource == nil {
		return &AuthError{Account: f.cfg.AccountID, Message: "no credential source to refresh from"}
	}
	password, err := f.cfg.CredentialSource(ctx)
	if err != nil {
		return fmt.Errorf("refreshing credentials: %w", err)
	}
	f.cfg.Password = password
	return nil
}

// PushFlags maps read/deleted flag changes onto IMAP store operations.
// Starred maps to \Flagged.
func (f *IMAPFetcher) PushFlags(ctx context.Context, externalID string, change models.StatusChange) error {
	uid, err := strconv.ParseUint(externalID, 10, 32)
	if err != nil {
		return fmt.Errorf("external id %q is not an imap uid: %w", externalID, err)
	}

	type flagOp struct {
		flag imap.Flag
		set  *bool
	}
	ops := []flagOp{
		{imap.FlagSeen, change.Read},
		{imap.FlagFlagged, change.Starred},
		{imap.FlagDeleted, change.Deleted},
	}

	var client *imapclient.Client
	for _, op := range ops {
		if op.set == nil {
			continue
		}
		if client == nil {
			client, err = f.connect(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = client.Logout().Wait() }()
		}

		storeOp := imap.StoreFlagsAdd
		if !*op.set {
			storeOp = imap.StoreFlagsDel
		}
		storeCmd := client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
			Op:     storeOp,
			Silent: true,
			Flags:  []imap.Flag{op.flag},
		}, nil)
		if err := storeCmd.Close(); err != nil {
			return &TransientError{Err: fmt.Errorf("storing flags on uid %d: %w", uid, err)}
		}
	}
	return nil
}

func parseCursor(cursor string) uint32 {
	if cursor == "" {
		return 0
	}
	uid, err := strconv.ParseUint(cursor, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(uid)
}
