package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"go.etcd.io/bbolt"

	"github.com/personaforge/personaforge/internal/models"
)

var payloadBucket = []byte("payloads")

// CachedRetriever wraps a Retriever with a local bbolt payload cache.
// Notifications are delivered at-least-once; a re-invoked run should not
// re-fetch and re-decrypt a package it already pulled.
type CachedRetriever struct {
	inner  Retriever
	db     *bbolt.DB
	logger *slog.Logger
}

// NewCachedRetriever opens (or creates) the cache file at path
func NewCachedRetriever(inner Retriever, path string) (*CachedRetriever, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open retrieval cache: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(payloadBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}

	return &CachedRetriever{
		inner:  inner,
		db:     db,
		logger: slog.Default().With("component", "retrieval-cache"),
	}, nil
}

// Retrieve serves from cache when the package was already fetched.
// Cache read/write failures fall through to the inner retriever.
func (r *CachedRetriever) Retrieve(ctx context.Context, pkg models.DataPackageRef) ([]byte, error) {
	var cached []byte
	if err := r.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(payloadBucket).Get([]byte(pkg.PackageID)); v != nil {
			cached = make([]byte, len(v))
			copy(cached, v)
		}
		return nil
	}); err != nil {
		r.logger.Warn("retrieval cache read failed", "package_id", pkg.PackageID, "error", err)
	}
	if cached != nil {
		r.logger.Debug("retrieval cache hit", "package_id", pkg.PackageID)
		return cached, nil
	}

	content, err := r.inner.Retrieve(ctx, pkg)
	if err != nil {
		return nil, err
	}

	if err := r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(payloadBucket).Put([]byte(pkg.PackageID), content)
	}); err != nil {
		r.logger.Warn("retrieval cache write failed", "package_id", pkg.PackageID, "error", err)
	}

	return content, nil
}

// Evict removes a cached payload, e.g. after the package is superseded
func (r *CachedRetriever) Evict(packageID string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(payloadBucket).Delete([]byte(packageID))
	})
}

// Close closes the cache file
func (r *CachedRetriever) Close() error {
	return r.db.Close()
}
