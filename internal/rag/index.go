// Package rag provides role-aware semantic retrieval over the fixed
// knowledge corpus. An Index embeds the corpus once, holds the vectors in an
// in-memory chromem-go collection, and serves top-K cosine similarity
// searches filtered by the caller's role. Snapshots let a restart skip the
// embedding pass when the corpus and embedder configuration are unchanged.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/koopa0/zonda/internal/knowledge"
	"github.com/koopa0/zonda/internal/log"
)

// collectionName is the chromem collection holding the corpus vectors.
const collectionName = "zonda-knowledge"

// Metadata keys attached to every indexed document.
const (
	metaSource = "source"
	metaRoles  = "roles"
	metaPos    = "pos"
)

// Embedding call budgets.
const (
	queryEmbedTimeout  = 15 * time.Second
	corpusEmbedTimeout = 60 * time.Second
)

// ErrUnavailable marks retrieval failures that callers should surface as a
// temporary service outage rather than a client error.
var ErrUnavailable = errors.New("retrieval unavailable")

// IndexConfig configures an Index.
type IndexConfig struct {
	// Embedder generates corpus and query vectors. Required.
	Embedder Embedder

	// Docs is the corpus in canonical order. Required; the order is the
	// ranking tie-break.
	Docs []knowledge.Document

	// Model is the embedder model name, recorded in snapshots.
	Model string

	// Dimension is the vector dimension recorded in snapshots
	// (0 = provider default).
	Dimension int32

	// TopK is the default number of results per search.
	TopK int

	// Overfetch multiplies TopK to size the pre-filter candidate pool, so
	// role filtering still fills TopK results when high-ranking documents
	// are restricted.
	Overfetch int

	// SnapshotDir enables snapshot persistence when non-empty.
	SnapshotDir string

	// Logger defaults to slog.Default() when nil.
	Logger log.Logger
}

// Index is a searchable vector index over the knowledge corpus.
// It builds lazily on first use and is safe for concurrent use.
type Index struct {
	cfg    IndexConfig
	logger log.Logger

	mu   sync.Mutex
	db   *chromem.DB
	coll *chromem.Collection
}

// NewIndex validates cfg and returns an unbuilt Index.
func NewIndex(cfg IndexConfig) (*Index, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if len(cfg.Docs) == 0 {
		return nil, fmt.Errorf("corpus is empty")
	}
	if cfg.TopK < 1 {
		return nil, fmt.Errorf("top K must be at least 1, got %d", cfg.TopK)
	}
	if cfg.Overfetch < 1 {
		return nil, fmt.Errorf("overfetch factor must be at least 1, got %d", cfg.Overfetch)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{cfg: cfg, logger: logger}, nil
}

// Warm builds the index if it is not ready yet. A failed build leaves the
// index unbuilt; the next Warm or Search retries.
func (ix *Index) Warm(ctx context.Context) error {
	_, err := ix.collection(ctx)
	return err
}

// Ready reports whether the index has been built.
func (ix *Index) Ready() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.coll != nil
}

// Count returns the number of indexed documents, 0 if the index is unbuilt.
func (ix *Index) Count() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.coll == nil {
		return 0
	}
	return ix.coll.Count()
}

// Search returns the documents most similar to query that the configured
// role may access, ordered by similarity descending with corpus position as
// the tie-break. An empty query returns no results. Failures wrap
// ErrUnavailable.
func (ix *Index) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return []Result{}, nil
	}
	cfg := buildSearchConfig(ix.cfg.TopK, opts)

	coll, err := ix.collection(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	embedCtx, cancel := context.WithTimeout(ctx, queryEmbedTimeout)
	defer cancel()

	vec, err := ix.cfg.Embedder.EmbedQuery(embedCtx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	total := coll.Count()
	if total == 0 {
		return []Result{}, nil
	}
	searchK := min(cfg.topK*ix.cfg.Overfetch, total)

	hits, err := coll.QueryEmbedding(ctx, vec, searchK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: querying index: %w", ErrUnavailable, err)
	}
	rankHits(hits)

	results := make([]Result, 0, cfg.topK)
	for _, h := range hits {
		if cfg.role != "" && !roleAllowed(h.Metadata[metaRoles], cfg.role) {
			continue
		}
		results = append(results, Result{
			ID:      h.ID,
			Source:  h.Metadata[metaSource],
			Content: h.Content,
			Score:   h.Similarity,
		})
		if len(results) == cfg.topK {
			break
		}
	}
	return results, nil
}

// collection returns the built collection, building it first if needed.
func (ix *Index) collection(ctx context.Context) (*chromem.Collection, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.coll == nil {
		if err := ix.buildLocked(ctx); err != nil {
			return nil, err
		}
	}
	return ix.coll, nil
}

// buildLocked populates the index, preferring a matching snapshot over a
// fresh embedding pass. The caller must hold ix.mu.
func (ix *Index) buildLocked(ctx context.Context) error {
	start := time.Now()

	if ix.cfg.SnapshotDir != "" {
		db := chromem.NewDB()
		coll, err := loadSnapshot(db, ix.cfg)
		if err == nil {
			ix.db, ix.coll = db, coll
			ix.logger.Info("knowledge index restored from snapshot",
				"documents", coll.Count(), "duration", time.Since(start))
			return nil
		}
		ix.logger.Info("index snapshot unavailable, rebuilding", "reason", err)
	}

	db := chromem.NewDB()
	coll, err := db.CreateCollection(collectionName, nil, newEmbeddingFunc(ix.cfg.Embedder))
	if err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}

	texts := make([]string, len(ix.cfg.Docs))
	for i, d := range ix.cfg.Docs {
		texts[i] = d.Content
	}

	embedCtx, cancel := context.WithTimeout(ctx, corpusEmbedTimeout)
	defer cancel()

	vectors, err := ix.cfg.Embedder.EmbedDocuments(embedCtx, texts)
	if err != nil {
		return fmt.Errorf("embedding corpus: %w", err)
	}
	if len(vectors) != len(ix.cfg.Docs) {
		return fmt.Errorf("embedding count mismatch: got %d for %d documents", len(vectors), len(ix.cfg.Docs))
	}

	docs := make([]chromem.Document, 0, len(ix.cfg.Docs))
	for i, d := range ix.cfg.Docs {
		docs = append(docs, chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Embedding: vectors[i],
			Metadata: map[string]string{
				metaSource: d.Source,
				metaRoles:  strings.Join(d.RoleAccess, ","),
				metaPos:    strconv.Itoa(i),
			},
		})
	}
	if err := coll.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("indexing corpus: %w", err)
	}

	ix.db, ix.coll = db, coll
	ix.logger.Info("knowledge index built",
		"documents", len(docs), "duration", time.Since(start))

	if ix.cfg.SnapshotDir != "" {
		if err := saveSnapshot(ix.db, ix.cfg); err != nil {
			ix.logger.Warn("persisting index snapshot", "error", err)
		}
	}
	return nil
}

// rankHits re-sorts chromem results deterministically: similarity
// descending, then corpus position ascending. chromem's ordering of equal
// scores is not stable across runs.
func rankHits(hits []chromem.Result) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hitPos(hits[i]) < hitPos(hits[j])
	})
}

// hitPos parses the corpus position metadata, sorting unknowns last.
func hitPos(h chromem.Result) int {
	pos, err := strconv.Atoi(h.Metadata[metaPos])
	if err != nil {
		return math.MaxInt
	}
	return pos
}

// roleAllowed reports whether role appears in the comma-separated role list.
func roleAllowed(csv, role string) bool {
	for _, r := range strings.Split(csv, ",") {
		if r == role {
			return true
		}
	}
	return false
}
