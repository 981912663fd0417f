package index

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/google/uuid"

	"gwi.com/sqlrag/internal/embedding"
	"gwi.com/sqlrag/internal/store"
	"gwi.com/sqlrag/internal/utils"
)

// Entry is one indexed table definition.
type Entry struct {
	ID         string
	Definition store.TableDefinition
	Embedding  []float32
}

type ScoredEntry struct {
	Entry      Entry
	Similarity float32
}

// SchemaIndex is an in-memory nearest-neighbour index over table definitions. It is rebuilt on
// every start and never persisted.
type SchemaIndex struct {
	embedder embedding.Embedder
	entries  []Entry
}

func NewSchemaIndex(e embedding.Embedder) *SchemaIndex {
	return &SchemaIndex{embedder: e}
}

// EntryID derives a stable id from the definition text.
func EntryID(ddl string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(ddl)).String()
}

// Index embeds and stores the given definitions.
func (x *SchemaIndex) Index(ctx context.Context, defs []store.TableDefinition) error {
	if len(defs) == 0 {
		return nil
	}
	texts := make([]string, len(defs))
	for i, d := range defs {
		texts[i] = d.SQL
	}
	vectors, err := x.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed table definitions: %w", err)
	}
	if len(vectors) != len(defs) {
		return fmt.Errorf("embedder returned %d vectors for %d definitions", len(vectors), len(defs))
	}
	for i, d := range defs {
		x.entries = append(x.entries, Entry{
			ID:         EntryID(d.SQL),
			Definition: d,
			Embedding:  vectors[i],
		})
	}
	log.Printf("Indexed %d table definitions with %s.", len(defs), x.embedder.ModelInfo())
	return nil
}

func (x *SchemaIndex) Count() int {
	return len(x.entries)
}

// Definitions returns every indexed definition in insertion order.
func (x *SchemaIndex) Definitions() []store.TableDefinition {
	defs := make([]store.TableDefinition, len(x.entries))
	for i, e := range x.entries {
		defs[i] = e.Definition
	}
	return defs
}

// Search scores every entry against query and returns the best min(k, Count()) of them.
func (x *SchemaIndex) Search(ctx context.Context, query string, k int) ([]ScoredEntry, error) {
	if len(x.entries) == 0 || k <= 0 {
		return []ScoredEntry{}, nil
	}
	queryEmbedding, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get query embedding: %w", err)
	}

	scored := make([]ScoredEntry, 0, len(x.entries))
	for _, e := range x.entries {
		similarity, err := utils.CosineSimilarity(queryEmbedding, e.Embedding)
		if err != nil {
			log.Printf("Error calculating similarity for entry %s: %v. Skipping.", e.ID, err)
			continue
		}
		scored = append(scored, ScoredEntry{Entry: e, Similarity: similarity})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

// Retrieve returns the definitions most similar to query, best first.
func (x *SchemaIndex) Retrieve(ctx context.Context, query string, k int) ([]store.TableDefinition, error) {
	scored, err := x.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	defs := make([]store.TableDefinition, len(scored))
	for i, s := range scored {
		defs[i] = s.Entry.Definition
	}
	return defs, nil
}
