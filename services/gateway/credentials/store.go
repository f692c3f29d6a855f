// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package credentials stores API keys and the tenant profiles they resolve
// to.
//
// # Description
//
// Keys are stored in an embedded BadgerDB, hashed with SHA-256. The
// plaintext key exists only in the Create response; resolution hashes the
// presented key and looks the digest up. A tenant profile carries the
// Weaviate/Qdrant collection the key is scoped to and an optional
// per-tenant confidence threshold override.
//
// # Thread Safety
//
// All Store methods are safe for concurrent use; BadgerDB provides
// transactional isolation.
package credentials

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/AleutianAI/AleutianGateway/pkg/extensions"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// keyPrefix namespaces API-key records inside the database.
const keyPrefix = "apikey:"

// ErrTenantNotFound is returned by Get for an unknown tenant ID.
var ErrTenantNotFound = errors.New("tenant not found")

// plaintextPrefix marks gateway-issued keys so misdirected secrets are
// recognizable in logs and scanners.
const plaintextPrefix = "alt_"

// TenantInfo is the profile an API key resolves to.
type TenantInfo struct {
	// ID is the stable tenant identifier.
	ID string `json:"id"`

	// Name is the human-readable tenant label.
	Name string `json:"name"`

	// Collection is the vector collection this tenant's retrievals are
	// scoped to.
	Collection string `json:"collection"`

	// Threshold optionally overrides the gateway-wide confidence threshold.
	// Zero means no override.
	Threshold float64 `json:"threshold,omitempty"`

	// Active gates resolution. Deactivated keys resolve to unauthorized.
	Active bool `json:"active"`

	// CreatedAt is the key issue time.
	CreatedAt time.Time `json:"created_at"`
}

// Store is a BadgerDB-backed API key store.
type Store struct {
	db *badger.DB
}

// badgerSlogAdapter routes BadgerDB's internal logging through slog.
type badgerSlogAdapter struct{}

func (badgerSlogAdapter) Errorf(format string, args ...interface{}) {
	slog.Error(fmt.Sprintf(format, args...))
}
func (badgerSlogAdapter) Warningf(format string, args ...interface{}) {
	slog.Warn(fmt.Sprintf(format, args...))
}
func (badgerSlogAdapter) Infof(format string, args ...interface{}) {
	slog.Debug(fmt.Sprintf(format, args...))
}
func (badgerSlogAdapter) Debugf(format string, args ...interface{}) {
	slog.Debug(fmt.Sprintf(format, args...))
}

// NewStore opens the key store at path, creating the directory if needed.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("key store path is required")
	}
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("failed to create key store directory %s: %w", path, err)
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithLogger(badgerSlogAdapter{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open key store: %w", err)
	}
	return &Store{db: db}, nil
}

// NewInMemoryStore opens a non-persistent store. Useful for testing.
func NewInMemoryStore() (*Store, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(badgerSlogAdapter{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory key store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create issues a new API key for a tenant.
//
// # Outputs
//
//   - string: The plaintext key. Returned exactly once; only its SHA-256
//     digest is stored.
//   - *TenantInfo: The stored profile.
//   - error: Non-nil on storage failure.
func (s *Store) Create(ctx context.Context, name, collection string, threshold float64) (string, *TenantInfo, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	if name == "" || collection == "" {
		return "", nil, errors.New("tenant name and collection are required")
	}

	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("failed to generate API key: %w", err)
	}
	plaintext := plaintextPrefix + hex.EncodeToString(raw)

	info := &TenantInfo{
		ID:         uuid.New().String(),
		Name:       name,
		Collection: collection,
		Threshold:  threshold,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	payload, err := json.Marshal(info)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode tenant profile: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(storageKey(plaintext), payload)
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to store API key: %w", err)
	}

	slog.Info("Issued API key", "tenant_id", info.ID, "tenant", info.Name,
		"collection", info.Collection)
	return plaintext, info, nil
}

// Resolve maps a presented API key to its tenant profile.
//
// Unknown and deactivated keys both resolve to extensions.ErrUnauthorized;
// callers cannot distinguish the two.
func (s *Store) Resolve(ctx context.Context, apiKey string) (*TenantInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, fmt.Errorf("missing API key: %w", extensions.ErrUnauthorized)
	}

	var info TenantInfo
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storageKey(apiKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &info)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("unknown API key: %w", extensions.ErrUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve API key: %w", err)
	}
	if !info.Active {
		return nil, fmt.Errorf("deactivated API key: %w", extensions.ErrUnauthorized)
	}
	return &info, nil
}

// Deactivate disables every key belonging to the tenant ID.
//
// Returns the number of keys deactivated; zero with a nil error means the
// tenant had no active keys.
func (s *Store) Deactivate(ctx context.Context, tenantID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	deactivated := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var info TenantInfo
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &info)
			})
			if err != nil {
				return err
			}
			if info.ID != tenantID || !info.Active {
				continue
			}

			info.Active = false
			payload, err := json.Marshal(&info)
			if err != nil {
				return err
			}
			if err := txn.Set(item.KeyCopy(nil), payload); err != nil {
				return err
			}
			deactivated++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate tenant %s: %w", tenantID, err)
	}

	if deactivated > 0 {
		slog.Info("Deactivated API keys", "tenant_id", tenantID, "count", deactivated)
	}
	return deactivated, nil
}

// Get returns the profile for a tenant ID, active or deactivated.
//
// A tenant can hold several keys; when their statuses diverge the active
// profile wins, so the result reflects whether the tenant can still
// authenticate. Unknown IDs resolve to ErrTenantNotFound.
func (s *Store) Get(ctx context.Context, tenantID string) (*TenantInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var found *TenantInfo
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var info TenantInfo
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &info)
			})
			if err != nil {
				return err
			}
			if info.ID != tenantID {
				continue
			}
			if found == nil || (!found.Active && info.Active) {
				profile := info
				found = &profile
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}
	if found == nil {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
	}
	return found, nil
}

// List returns every stored tenant profile, active and inactive.
func (s *Store) List(ctx context.Context) ([]TenantInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tenants []TenantInfo
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var info TenantInfo
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &info)
			})
			if err != nil {
				return err
			}
			tenants = append(tenants, info)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	return tenants, nil
}

// storageKey derives the database key for a plaintext API key.
func storageKey(plaintext string) []byte {
	digest := sha256.Sum256([]byte(plaintext))
	return []byte(keyPrefix + hex.EncodeToString(digest[:]))
}
