package rag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	chromem "github.com/philippgille/chromem-go"

	"github.com/koopa0/zonda/internal/knowledge"
)

// Snapshot file names inside IndexConfig.SnapshotDir. The gob file is the
// chromem export (gzip-compressed); the meta file records provenance; the
// lock file serializes access across processes.
const (
	snapshotFile     = "index.gob"
	snapshotMetaFile = "index.meta.json"
	snapshotLockFile = "index.lock"
)

// snapshotMeta records what a snapshot was built from. A snapshot is
// restored only when every field matches the current configuration; any
// drift forces a rebuild.
type snapshotMeta struct {
	Model       string    `json:"model"`
	Dimension   int32     `json:"dimension"`
	Count       int       `json:"count"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

// check compares the snapshot provenance against the current configuration.
func (m snapshotMeta) check(cfg IndexConfig) error {
	if m.Model != cfg.Model {
		return fmt.Errorf("snapshot model %q does not match %q", m.Model, cfg.Model)
	}
	if m.Dimension != cfg.Dimension {
		return fmt.Errorf("snapshot dimension %d does not match %d", m.Dimension, cfg.Dimension)
	}
	if m.Count != len(cfg.Docs) {
		return fmt.Errorf("snapshot count %d does not match corpus size %d", m.Count, len(cfg.Docs))
	}
	if m.Fingerprint != knowledge.Fingerprint(cfg.Docs) {
		return fmt.Errorf("snapshot fingerprint does not match corpus")
	}
	return nil
}

// loadSnapshot restores the corpus collection from disk into db after
// verifying the snapshot metadata against cfg.
func loadSnapshot(db *chromem.DB, cfg IndexConfig) (*chromem.Collection, error) {
	dir := cfg.SnapshotDir

	lock := flock.New(filepath.Join(dir, snapshotLockFile))
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("locking snapshot: %w", err)
	}
	defer lock.Unlock()

	meta, err := readSnapshotMeta(filepath.Join(dir, snapshotMetaFile))
	if err != nil {
		return nil, err
	}
	if err := meta.check(cfg); err != nil {
		return nil, err
	}

	if err := db.ImportFromFile(filepath.Join(dir, snapshotFile), ""); err != nil {
		return nil, fmt.Errorf("importing snapshot: %w", err)
	}

	coll := db.GetCollection(collectionName, newEmbeddingFunc(cfg.Embedder))
	if coll == nil {
		return nil, fmt.Errorf("snapshot has no %q collection", collectionName)
	}
	if got := coll.Count(); got != meta.Count {
		return nil, fmt.Errorf("snapshot document count mismatch: got %d, want %d", got, meta.Count)
	}
	return coll, nil
}

// readSnapshotMeta reads and decodes the snapshot metadata file.
func readSnapshotMeta(path string) (snapshotMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return snapshotMeta{}, fmt.Errorf("reading snapshot metadata: %w", err)
	}
	var meta snapshotMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return snapshotMeta{}, fmt.Errorf("parsing snapshot metadata: %w", err)
	}
	return meta, nil
}

// saveSnapshot persists the corpus collection and its provenance metadata.
// Both files are written to a temp path and renamed into place so readers
// never observe a partial snapshot.
func saveSnapshot(db *chromem.DB, cfg IndexConfig) error {
	dir := cfg.SnapshotDir
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, snapshotLockFile))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking snapshot: %w", err)
	}
	defer lock.Unlock()

	gobPath := filepath.Join(dir, snapshotFile)
	tmpGob := gobPath + ".tmp"
	if err := db.ExportToFile(tmpGob, true, "", collectionName); err != nil {
		return fmt.Errorf("exporting index: %w", err)
	}
	if err := os.Rename(tmpGob, gobPath); err != nil {
		return fmt.Errorf("replacing snapshot: %w", err)
	}

	meta := snapshotMeta{
		Model:       cfg.Model,
		Dimension:   cfg.Dimension,
		Count:       len(cfg.Docs),
		Fingerprint: knowledge.Fingerprint(cfg.Docs),
		CreatedAt:   time.Now().UTC(),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot metadata: %w", err)
	}

	metaPath := filepath.Join(dir, snapshotMetaFile)
	tmpMeta := metaPath + ".tmp"
	if err := os.WriteFile(tmpMeta, data, 0o600); err != nil {
		return fmt.Errorf("writing snapshot metadata: %w", err)
	}
	if err := os.Rename(tmpMeta, metaPath); err != nil {
		return fmt.Errorf("replacing snapshot metadata: %w", err)
	}
	return nil
}
