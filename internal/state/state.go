// Package state persists the set of transaction identifiers that have
// already been committed to the ledger. The file is a small JSON
// document; a missing or malformed file never fails an ingestion run.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// document is the on-disk shape. A bare JSON array of ids is also
// accepted on read for files written by earlier versions.
type document struct {
	SeenTxIDs []string `json:"seen_tx_ids"`
}

// Load reads the idempotency set at path. Missing files and files that
// cannot be decoded both yield an empty set: losing dedup state
// degrades to re-checking against the ledger, which is preferable to
// aborting every future run over one bad file.
func Load(path string) map[string]struct{} {
	seen := make(map[string]struct{})

	raw, err := os.ReadFile(path)
	if err != nil {
		return seen
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err == nil && doc.SeenTxIDs != nil {
		for _, id := range doc.SeenTxIDs {
			seen[id] = struct{}{}
		}
		return seen
	}

	var bare []string
	if err := json.Unmarshal(raw, &bare); err == nil {
		for _, id := range bare {
			seen[id] = struct{}{}
		}
	}

	return seen
}

// Save writes the idempotency set to path, creating parent directories
// as needed. The document is written to a temp file in the same
// directory and renamed into place so an interrupted run cannot leave
// a torn file behind.
func Save(path string, seen map[string]struct{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory %s: %w", dir, err)
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	raw, err := json.Marshal(document{SeenTxIDs: ids})
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ingest-state-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp state file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing state file %s: %w", path, err)
	}

	return nil
}
