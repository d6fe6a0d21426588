// Package provider abstracts the mailbox side of ingestion. A Fetcher pulls
// raw messages from one account and pushes status flags back.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/relatia/mailpipe/internal/models"
)

// AuthError indicates expired or rejected credentials. The syncer reacts by
// refreshing auth once and retrying; a second failure fails the account pass.
type AuthError struct {
	Account string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Account, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// TransientError marks a failure worth retrying with backoff: network
// timeouts, throttling, temporary server errors.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient provider error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var tErr *TransientError
	return errors.As(err, &tErr)
}

// FetchResult is one page of raw messages with the cursor to resume from.
type FetchResult struct {
	Messages   []*models.RawMessage
	NextCursor string
}

// Fetcher is one mail provider bound to one account.
type Fetcher interface {
	// AccountID returns the stable account identifier this fetcher serves.
	AccountID() string
	// FetchMessages returns up to maxCount messages newer than the cursor.
	// An empty cursor means "from the beginning".
	FetchMessages(ctx context.Context, cursor string, maxCount int) (*FetchResult, error)
	// RefreshAuth renews credentials after an AuthError.
	RefreshAuth(ctx context.Context) error
	// PushFlags propagates user-facing flag changes back to the provider.
	// Fetchers for providers without writable flags return nil.
	PushFlags(ctx context.Context, externalID string, change models.StatusChange) error
}
