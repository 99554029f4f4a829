// Package store persists the small executor state that must survive a
// restart: per-vendor light-client heights as last seen on the coordinator,
// and the set of terminally resolved side effect ids.
package store

import (
	"context"
	"encoding/binary"
	"fmt"

	ds "github.com/ipfs/go-datastore"
)

// Store is the minimal interface for executor state persistence.
type Store interface {
	// VendorHeight returns the last persisted light-client height for a
	// vendor, or 0 if none was ever recorded.
	VendorHeight(ctx context.Context, vendor string) (uint64, error)

	// SetVendorHeight persists a vendor's height if it is higher than the
	// currently stored one.
	SetVendorHeight(ctx context.Context, vendor string, height uint64) error

	// MarkResolved records a side effect id as terminally resolved
	// (confirmed, dropped or reverted).
	MarkResolved(ctx context.Context, sfxID string) error

	// IsResolved reports whether a side effect id was terminally resolved.
	IsResolved(ctx context.Context, sfxID string) (bool, error)

	// SetMetadata saves an arbitrary value in the store.
	SetMetadata(ctx context.Context, key string, value []byte) error

	// GetMetadata returns a value stored with SetMetadata.
	GetMetadata(ctx context.Context, key string) ([]byte, error)

	// Close safely closes the underlying data storage.
	Close() error
}

// DefaultStore is the default Store implementation over a datastore.
type DefaultStore struct {
	db ds.Batching
}

var _ Store = &DefaultStore{}

// New returns a new store backed by the given datastore.
func New(db ds.Batching) Store {
	return &DefaultStore{db: db}
}

// Close safely closes underlying data storage, to ensure that data is actually saved.
func (s *DefaultStore) Close() error {
	return s.db.Close()
}

// VendorHeight returns the last persisted height for a vendor.
func (s *DefaultStore) VendorHeight(ctx context.Context, vendor string) (uint64, error) {
	raw, err := s.db.Get(ctx, ds.NewKey(getVendorHeightKey(vendor)))
	if err == ds.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load height for vendor %s: %w", vendor, err)
	}
	return decodeHeight(raw)
}

// SetVendorHeight persists a vendor's height if it advanced.
func (s *DefaultStore) SetVendorHeight(ctx context.Context, vendor string, height uint64) error {
	current, err := s.VendorHeight(ctx, vendor)
	if err != nil {
		return err
	}
	if height <= current {
		return nil
	}
	return s.db.Put(ctx, ds.NewKey(getVendorHeightKey(vendor)), encodeHeight(height))
}

// MarkResolved records a side effect id as terminally resolved.
func (s *DefaultStore) MarkResolved(ctx context.Context, sfxID string) error {
	return s.db.Put(ctx, ds.NewKey(getResolvedKey(sfxID)), []byte{1})
}

// IsResolved reports whether a side effect id was terminally resolved.
func (s *DefaultStore) IsResolved(ctx context.Context, sfxID string) (bool, error) {
	ok, err := s.db.Has(ctx, ds.NewKey(getResolvedKey(sfxID)))
	if err != nil {
		return false, fmt.Errorf("check resolved %s: %w", sfxID, err)
	}
	return ok, nil
}

// SetMetadata saves an arbitrary value in the store.
func (s *DefaultStore) SetMetadata(ctx context.Context, key string, value []byte) error {
	if err := s.db.Put(ctx, ds.NewKey(getMetaKey(key)), value); err != nil {
		return fmt.Errorf("set metadata for key %q: %w", key, err)
	}
	return nil
}

// GetMetadata returns a value stored with SetMetadata.
func (s *DefaultStore) GetMetadata(ctx context.Context, key string) ([]byte, error) {
	data, err := s.db.Get(ctx, ds.NewKey(getMetaKey(key)))
	if err != nil {
		return nil, fmt.Errorf("get metadata for key %q: %w", key, err)
	}
	return data, nil
}

func encodeHeight(height uint64) []byte {
	bz := make([]byte, 8)
	binary.BigEndian.PutUint64(bz, height)
	return bz
}

func decodeHeight(raw []byte) (uint64, error) {
	if len(raw) != 8 {
		return 0, fmt.Errorf("invalid height length: %d", len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}
