// ABOUTME: Attachment intake: size limits, MIME sniffing and key naming before handing bytes to a backend
// ABOUTME: Backends (disk, S3) only store bytes and return the URL clients use to fetch them

package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// keyPrefix groups every stored attachment under one namespace.
const keyPrefix = "chat_attachments"

var (
	// ErrTooLarge is returned when an upload exceeds the configured limit.
	ErrTooLarge = errors.New("attachment too large")
	// ErrEmpty is returned for zero-byte uploads.
	ErrEmpty = errors.New("attachment is empty")
)

// Store persists attachment bytes under key and returns a URL for them.
// Delete of a missing key is not an error.
type Store interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
	Delete(ctx context.Context, key string) error
}

// Stored describes a saved attachment.
type Stored struct {
	Key         string
	URL         string
	ContentType string
	Size        int64
}

// Service validates uploads and writes them to a Store.
type Service struct {
	store   Store
	maxSize int64
	logger  *slog.Logger
}

// NewService creates a Service. maxSize <= 0 disables the size limit.
// Pass nil logger for default.
func NewService(store Store, maxSize int64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		maxSize: maxSize,
		logger:  logger.With("component", "attachments"),
	}
}

// MaxSize returns the configured upload limit in bytes.
func (s *Service) MaxSize() int64 {
	return s.maxSize
}

// Save reads body, enforces the size limit, detects the content type from
// the bytes themselves and stores the result under a fresh key scoped to
// threadID. filename only contributes its extension.
func (s *Service) Save(ctx context.Context, threadID, filename string, body io.Reader) (*Stored, error) {
	reader := body
	if s.maxSize > 0 {
		reader = io.LimitReader(body, s.maxSize+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return nil, fmt.Errorf("%w: limit is %s", ErrTooLarge, humanize.Bytes(uint64(s.maxSize)))
	}

	mtype := mimetype.Detect(data)
	key := objectKey(threadID, filename, mtype.Extension())

	url, err := s.store.Put(ctx, key, mtype.String(), bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}

	s.logger.Info("attachment stored",
		"thread_id", threadID,
		"key", key,
		"content_type", mtype.String(),
		"size", humanize.Bytes(uint64(len(data))))

	return &Stored{
		Key:         key,
		URL:         url,
		ContentType: mtype.String(),
		Size:        int64(len(data)),
	}, nil
}

// Discard removes a saved attachment that no message ended up referencing.
func (s *Service) Discard(ctx context.Context, stored *Stored) error {
	if err := s.store.Delete(ctx, stored.Key); err != nil {
		return fmt.Errorf("discard attachment %s: %w", stored.Key, err)
	}
	s.logger.Info("attachment discarded", "key", stored.Key)
	return nil
}

// objectKey builds chat_attachments/<thread>/<uuid><ext>. The client's
// extension wins when it looks sane; otherwise the sniffed one is used.
func objectKey(threadID, filename, sniffedExt string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if !validExt(ext) {
		ext = sniffedExt
	}
	return path.Join(keyPrefix, safeSegment(threadID), uuid.New().String()+ext)
}

func validExt(ext string) bool {
	if len(ext) < 2 || len(ext) > 10 {
		return false
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// safeSegment keeps a path segment free of separators and dot-dot.
func safeSegment(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_").Replace(s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
