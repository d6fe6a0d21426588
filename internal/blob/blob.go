// Package blob is the binary storage collaborator: attachment and inline
// image payloads live here, keyed by (account, message, part).
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
)

// Store is the concurrency-safe storage interface the pipeline consumes.
type Store interface {
	Put(ctx context.Context, accountID, messageID, partID string, data []byte, mediaType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// FSStore keeps blobs on the local filesystem under a root directory.
// The returned references are paths relative to the root.
type FSStore struct {
	root string
	log  *zerolog.Logger
}

// NewFSStore creates the store root if needed.
func NewFSStore(root string, log *zerolog.Logger) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create blob root: %w", err)
	}
	return &FSStore{root: root, log: log}, nil
}

// Put stores one part payload. The extension is derived from the media type,
// sniffing the content when the declared type is generic.
func (s *FSStore) Put(_ context.Context, accountID, messageID, partID string, data []byte, mediaType string) (string, error) {
	ext := extensionFor(mediaType, data)
	ref := filepath.Join(sanitize(accountID), sanitize(messageID), sanitize(partID)+ext)

	path := filepath.Join(s.root, ref)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("cannot create blob dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("cannot write blob: %w", err)
	}
	s.log.Debug().Str("ref", ref).Int("size", len(data)).Msg("blob stored")
	return ref, nil
}

// Get reads a blob back by its reference.
func (s *FSStore) Get(_ context.Context, ref string) ([]byte, error) {
	clean := filepath.Clean(ref)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil, fmt.Errorf("invalid blob ref %q", ref)
	}
	return os.ReadFile(filepath.Join(s.root, clean))
}

func extensionFor(mediaType string, data []byte) string {
	if mediaType == "" || mediaType == "application/octet-stream" {
		return mimetype.Detect(data).Extension()
	}
	if mt := mimetype.Lookup(mediaType); mt != nil {
		return mt.Extension()
	}
	return ""
}

var refReplacer = strings.NewReplacer("/", "_", "\\", "_", ":", "_", "<", "", ">", "", "..", "_")

func sanitize(s string) string {
	s = refReplacer.Replace(s)
	if s == "" {
		return "_"
	}
	return s
}
