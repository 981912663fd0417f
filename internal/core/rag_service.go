package core

import (
	"context"
	"fmt"
	"log"

	"gwi.com/sqlrag/internal/embedding"
	"gwi.com/sqlrag/internal/index"
	"gwi.com/sqlrag/internal/store"
)

// DefinitionSource is the catalog side of the schema store.
type DefinitionSource interface {
	TableDefinitions(ctx context.Context) ([]store.TableDefinition, error)
}

// RAGService owns the schema index built from the store's catalog at startup.
type RAGService struct {
	index *index.SchemaIndex
}

func NewRAGService(ctx context.Context, db DefinitionSource, embedder embedding.Embedder) (*RAGService, error) {
	defs, err := db.TableDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load table definitions for RAG service: %w", err)
	}

	idx := index.NewSchemaIndex(embedder)
	if err := idx.Index(ctx, defs); err != nil {
		return nil, fmt.Errorf("failed to index table definitions: %w", err)
	}

	if idx.Count() == 0 {
		log.Println("Warning: RAGService initialized with no table definitions. The database appears to be empty.")
	} else {
		log.Printf("RAGService initialized with %d table definitions.", idx.Count())
	}
	return &RAGService{index: idx}, nil
}

// Retrieve returns up to k definitions relevant to question, best first.
func (s *RAGService) Retrieve(ctx context.Context, question string, k int) ([]store.TableDefinition, error) {
	defs, err := s.index.Retrieve(ctx, question, k)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve table definitions: %w", err)
	}
	log.Printf("Retrieved %d relevant table definitions for question.", len(defs))
	return defs, nil
}

func (s *RAGService) Definitions() []store.TableDefinition {
	return s.index.Definitions()
}
