package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupdrive/internal/domain"
)

type memObject struct {
	data []byte
	opts PutOptions
}

type memStore struct {
	mu      sync.Mutex
	objects map[string]memObject
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string]memObject)}
}

func (m *memStore) Put(_ context.Context, key string, data []byte, opts PutOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: append([]byte(nil), data...), opts: opts}
	return nil
}

func (m *memStore) Get(_ context.Context, key string) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: archived object %s", domain.ErrNotFound, key)
	}
	return &Object{
		Key:         key,
		Size:        int64(len(obj.data)),
		ContentType: obj.opts.ContentType,
		Metadata:    obj.opts.Metadata,
		Body:        io.NopCloser(bytes.NewReader(obj.data)),
	}, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestArchivePlain(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	a, err := NewArchiver(store, "trash-archive", "", discardLogger())
	require.NoError(t, err)

	shadow := "deleted_files/groups/team/report_v1_1705314600000.txt"
	require.NoError(t, a.Archive(ctx, shadow, strings.NewReader("hello")))

	key := "trash-archive/" + shadow
	require.Contains(t, store.objects, key)
	assert.Equal(t, contentTypePlain, store.objects[key].opts.ContentType)
	assert.Equal(t, shadow, store.objects[key].opts.Metadata[metaShadowPath])

	data, err := a.Fetch(ctx, shadow)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, a.Remove(ctx, shadow))
	_, err = a.Fetch(ctx, shadow)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestArchiveEncrypted(t *testing.T) {
	ctx := context.Background()
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	store := newMemStore()
	a, err := NewArchiver(store, "", identity.Recipient().String(), discardLogger())
	require.NoError(t, err)

	shadow := "deleted_files/secret_v1_1705314600000.txt"
	require.NoError(t, a.Archive(ctx, shadow, strings.NewReader("top secret")))

	key := shadow + ".age"
	assert.Equal(t, key, a.Key(shadow))
	stored := store.objects[key]
	require.NotEmpty(t, stored.data)
	assert.NotContains(t, string(stored.data), "top secret")
	assert.Equal(t, contentTypeEncrypted, stored.opts.ContentType)

	plain, err := a.Fetch(ctx, shadow, identity)
	require.NoError(t, err)
	assert.Equal(t, "top secret", string(plain))

	// без ключа расшифровать нельзя
	_, err = a.Fetch(ctx, shadow)
	assert.Error(t, err)

	other, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	_, err = a.Fetch(ctx, shadow, other)
	assert.Error(t, err)
}

func TestNewArchiverRejectsBadRecipient(t *testing.T) {
	_, err := NewArchiver(newMemStore(), "", "not-a-key", discardLogger())
	assert.Error(t, err)
}

type failingStore struct{ *memStore }

func (failingStore) Put(context.Context, string, []byte, PutOptions) error {
	return errors.New("bucket unavailable")
}

func TestArchivePropagatesPutErrors(t *testing.T) {
	a, err := NewArchiver(failingStore{newMemStore()}, "", "", discardLogger())
	require.NoError(t, err)
	assert.EqualError(t, a.Archive(context.Background(), "deleted_files/x_v1_1", strings.NewReader("x")), "bucket unavailable")
}

func TestConfigValidate(t *testing.T) {
	conf := &Config{Region: "us-east-1", AccessKeyID: "id", SecretAccessKey: "secret", Bucket: "b"}
	assert.NoError(t, conf.Validate())

	conf.Endpoint = "https://storage.yandexcloud.net"
	assert.NoError(t, conf.Validate())

	conf.Bucket = ""
	assert.EqualError(t, conf.Validate(), "archive Bucket: failed on required")

	conf.Bucket = "b"
	conf.Endpoint = "not a url"
	assert.EqualError(t, conf.Validate(), "archive Endpoint: failed on url")
}
