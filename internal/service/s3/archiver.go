package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"filippo.io/age"
)

const (
	ageSuffix = ".age"

	contentTypePlain     = "application/octet-stream"
	contentTypeEncrypted = "application/age-encryption"

	metaShadowPath = "shadow-path"
)

// Archiver сохраняет файлы, окончательно удаляемые из корзины, в бакет.
// Если задан получатель age, содержимое шифруется перед загрузкой.
type Archiver struct {
	store     ObjectStore
	prefix    string
	recipient age.Recipient
	logger    *slog.Logger
}

// NewArchiver recipient - публичный ключ age ("age1..."), пустая строка отключает шифрование
func NewArchiver(store ObjectStore, prefix, recipient string, logger *slog.Logger) (*Archiver, error) {
	a := &Archiver{
		store:  store,
		prefix: prefix,
		logger: logger.With("component", "Archiver"),
	}
	if recipient != "" {
		r, err := age.ParseX25519Recipient(recipient)
		if err != nil {
			return nil, fmt.Errorf("invalid age recipient: %w", err)
		}
		a.recipient = r
	}
	return a, nil
}

// Key ключ объекта для пути в теневом дереве
func (a *Archiver) Key(shadowPath string) string {
	key := shadowPath
	if a.prefix != "" {
		key = path.Join(a.prefix, shadowPath)
	}
	if a.recipient != nil {
		key += ageSuffix
	}
	return key
}

// Archive загружает content под ключом, производным от shadowPath
func (a *Archiver) Archive(ctx context.Context, shadowPath string, content io.Reader) error {
	var buf bytes.Buffer
	opts := PutOptions{
		ContentType: contentTypePlain,
		Metadata:    map[string]string{metaShadowPath: shadowPath},
	}
	if a.recipient != nil {
		w, err := age.Encrypt(&buf, a.recipient)
		if err != nil {
			return fmt.Errorf("creating encrypted writer: %w", err)
		}
		if _, err := io.Copy(w, content); err != nil {
			return fmt.Errorf("encrypting data: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("finalizing encryption: %w", err)
		}
		opts.ContentType = contentTypeEncrypted
	} else if _, err := io.Copy(&buf, content); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	key := a.Key(shadowPath)
	if err := a.store.Put(ctx, key, buf.Bytes(), opts); err != nil {
		return err
	}
	a.logger.Info("trash item archived", "key", key, "size", buf.Len(), "encrypted", a.recipient != nil)
	return nil
}

// Fetch читает архивную копию. Зашифрованные объекты расшифровываются ключами identities.
func (a *Archiver) Fetch(ctx context.Context, shadowPath string, identities ...age.Identity) ([]byte, error) {
	obj, err := a.store.Get(ctx, a.Key(shadowPath))
	if err != nil {
		return nil, err
	}
	defer obj.Body.Close()

	var r io.Reader = obj.Body
	if obj.ContentType == contentTypeEncrypted {
		if len(identities) == 0 {
			return nil, errors.New("archived object is encrypted, an age identity is required")
		}
		if r, err = age.Decrypt(obj.Body, identities...); err != nil {
			return nil, fmt.Errorf("decrypting archived object: %w", err)
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read archived object: %w", err)
	}
	return data, nil
}

// Remove удаляет архивную копию
func (a *Archiver) Remove(ctx context.Context, shadowPath string) error {
	return a.store.Delete(ctx, a.Key(shadowPath))
}
