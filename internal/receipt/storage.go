package receipt

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

// Storage defines the interface for receipt image storage
type Storage interface {
	// Upload stores data under key and returns a URL for it
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Delete removes the object stored under key
	Delete(ctx context.Context, key string) error
}

// objectURL builds <scheme>://<host>/<segments...>, escaping the path but
// keeping the slashes inside object keys.
func objectURL(scheme, host string, segments ...string) string {
	u := url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   "/" + strings.Join(segments, "/"),
	}
	return u.String()
}

const blobBucketName = "receipt-images"

// BoltStorage implements the Storage interface with a single bbolt file.
// It is meant for local development where no object store is available.
type BoltStorage struct {
	db *bbolt.DB
}

// NewBoltStorage opens or creates the blob file at path
func NewBoltStorage(path string) (*BoltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(blobBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltStorage{db: db}, nil
}

// Upload stores the image bytes under key
func (b *BoltStorage) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(blobBucketName)).Put([]byte(key), data)
	})
	if err != nil {
		return "", fmt.Errorf("writing blob %s: %w", key, err)
	}
	return objectURL("bolt", blobBucketName, key), nil
}

// Get returns a copy of the bytes stored under key
func (b *BoltStorage) Get(key string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(blobBucketName)).Get([]byte(key))
		if v == nil {
			return fmt.Errorf("blob %s: %w", key, ErrNotFound)
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Delete removes the blob stored under key
func (b *BoltStorage) Delete(ctx context.Context, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(blobBucketName)).Delete([]byte(key))
	})
}

// Close closes the blob file
func (b *BoltStorage) Close() error {
	return b.db.Close()
}
