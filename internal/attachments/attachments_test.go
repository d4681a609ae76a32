package attachments

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngHeader is enough of a PNG for content sniffing.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type memoryStore struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryStore) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.objects[key] = data
	m.types[key] = contentType
	return "mem://" + key, nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	if m.err != nil {
		return m.err
	}
	delete(m.objects, key)
	delete(m.types, key)
	return nil
}

func TestService_SaveSniffsContentType(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, 1024, nil)

	stored, err := svc.Save(t.Context(), "thread-1", "holiday.PNG", bytes.NewReader(pngHeader))
	require.NoError(t, err)

	assert.Equal(t, "image/png", stored.ContentType)
	assert.Equal(t, int64(len(pngHeader)), stored.Size)
	assert.True(t, strings.HasPrefix(stored.Key, "chat_attachments/thread-1/"))
	assert.True(t, strings.HasSuffix(stored.Key, ".png"))
	assert.Equal(t, "mem://"+stored.Key, stored.URL)
	assert.Equal(t, pngHeader, store.objects[stored.Key])
	assert.Equal(t, "image/png", store.types[stored.Key])
}

func TestService_SaveFallsBackToSniffedExtension(t *testing.T) {
	svc := NewService(newMemoryStore(), 0, nil)

	stored, err := svc.Save(t.Context(), "thread-1", "no-extension", bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(stored.Key, ".png"))

	stored, err = svc.Save(t.Context(), "thread-1", "weird.ex!t", strings.NewReader("plain words"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(stored.Key, ".txt"))
	assert.True(t, strings.HasPrefix(stored.ContentType, "text/plain"))
}

func TestService_SaveUniqueKeys(t *testing.T) {
	svc := NewService(newMemoryStore(), 0, nil)

	a, err := svc.Save(t.Context(), "thread-1", "a.txt", strings.NewReader("x"))
	require.NoError(t, err)
	b, err := svc.Save(t.Context(), "thread-1", "a.txt", strings.NewReader("x"))
	require.NoError(t, err)

	assert.NotEqual(t, a.Key, b.Key)
}

func TestService_SaveRejectsOversizeAndEmpty(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, 8, nil)

	_, err := svc.Save(t.Context(), "thread-1", "big.bin", bytes.NewReader(make([]byte, 9)))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = svc.Save(t.Context(), "thread-1", "exact.bin", bytes.NewReader(make([]byte, 8)))
	assert.NoError(t, err, "exactly the limit is allowed")

	_, err = svc.Save(t.Context(), "thread-1", "empty.txt", bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrEmpty)

	assert.Len(t, store.objects, 1)
}

func TestService_SaveWrapsStoreError(t *testing.T) {
	boom := errors.New("bucket on fire")
	store := newMemoryStore()
	store.err = boom
	svc := NewService(store, 0, nil)

	_, err := svc.Save(t.Context(), "thread-1", "a.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, boom)
}

func TestObjectKey_SanitizesThreadID(t *testing.T) {
	key := objectKey("../../etc", "x.txt", ".txt")
	assert.True(t, strings.HasPrefix(key, "chat_attachments/.._.._etc/"), key)
	assert.NotContains(t, strings.TrimPrefix(key, "chat_attachments/"), "/../")
}

func TestDiskStore_Put(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "media")
	store, err := NewDiskStore(dir, "/media/")
	require.NoError(t, err)

	url, err := store.Put(t.Context(), "chat_attachments/t1/file.txt", "text/plain", strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, "/media/chat_attachments/t1/file.txt", url)

	data, err := os.ReadFile(filepath.Join(dir, "chat_attachments", "t1", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	leftovers, err := filepath.Glob(filepath.Join(dir, "chat_attachments", "t1", ".upload-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "temp files are cleaned up")
}

func TestDiskStore_RejectsEscapingKeys(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), "/media")
	require.NoError(t, err)

	_, err = store.Put(t.Context(), "../outside.txt", "text/plain", strings.NewReader("x"), 1)
	assert.Error(t, err)
}

func TestDiskStore_WithService(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir, "http://cdn.example.com/media")
	require.NoError(t, err)
	svc := NewService(store, 1<<20, nil)

	stored, err := svc.Save(t.Context(), "thread-9", "pic.png", bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.Equal(t, "http://cdn.example.com/media/"+stored.Key, stored.URL)

	_, err = os.Stat(filepath.Join(dir, filepath.FromSlash(stored.Key)))
	assert.NoError(t, err)
}

func TestService_Discard(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, 0, nil)

	stored, err := svc.Save(t.Context(), "thread-1", "a.png", bytes.NewReader(pngHeader))
	require.NoError(t, err)
	require.Len(t, store.objects, 1)

	require.NoError(t, svc.Discard(t.Context(), stored))
	assert.Empty(t, store.objects)

	boom := errors.New("bucket on fire")
	store.err = boom
	assert.ErrorIs(t, svc.Discard(t.Context(), stored), boom)
}

func TestDiskStore_Delete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir, "/media")
	require.NoError(t, err)

	_, err = store.Put(t.Context(), "chat_attachments/t1/file.txt", "text/plain", strings.NewReader("hello"), 5)
	require.NoError(t, err)

	require.NoError(t, store.Delete(t.Context(), "chat_attachments/t1/file.txt"))
	_, err = os.Stat(filepath.Join(dir, "chat_attachments", "t1", "file.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.NoError(t, store.Delete(t.Context(), "chat_attachments/t1/file.txt"), "missing keys are fine")
	assert.Error(t, store.Delete(t.Context(), "../outside.txt"))
}
