// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/boardmax/core"
	"github.com/poiesic/boardmax/storage"
)

// SaveManifest persists the ingestion manifest for a document.
func (x *Index) SaveManifest(ctx context.Context, manifest *core.Manifest) error {
	return x.backend.WithTx(func(tx *badger.Txn) error {
		manifest.UpdatedAt = time.Now().UTC()
		key := makeManifestKey(manifest.DocumentID)
		value, err := storage.MarshalManifest(manifest)
		if err != nil {
			return err
		}
		if err := tx.Set(key, value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// LoadManifest retrieves the manifest for a document.
// Returns nil, nil if no manifest exists.
func (x *Index) LoadManifest(ctx context.Context, documentID string) (*core.Manifest, error) {
	var manifest *core.Manifest
	err := x.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeManifestKey(documentID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		return item.Value(func(val []byte) error {
			var unmarshalErr error
			manifest, unmarshalErr = storage.UnmarshalManifest(val)
			return unmarshalErr
		})
	}, false)

	return manifest, err
}
