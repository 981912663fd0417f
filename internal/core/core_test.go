package core

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"path/filepath"
	"testing"

	"gwi.com/sqlrag/internal/embedding"
	"gwi.com/sqlrag/internal/llm"
	"gwi.com/sqlrag/internal/store"
)

// fakeProvider returns a canned SQL answer and streams canned summary chunks.
type fakeProvider struct {
	chatResponse string
	chatErr      error
	chunks       []string
	streamErr    error

	chatCalls   [][]llm.Message
	streamCalls [][]llm.Message
}

func (p *fakeProvider) Chat(_ context.Context, messages []llm.Message) (string, error) {
	p.chatCalls = append(p.chatCalls, messages)
	if p.chatErr != nil {
		return "", &llm.GenerationError{Provider: "fake", Err: p.chatErr}
	}
	return p.chatResponse, nil
}

func (p *fakeProvider) ChatStream(_ context.Context, messages []llm.Message) iter.Seq2[string, error] {
	p.streamCalls = append(p.streamCalls, messages)
	return func(yield func(string, error) bool) {
		for _, c := range p.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if p.streamErr != nil {
			yield("", &llm.GenerationError{Provider: "fake", Err: p.streamErr})
		}
	}
}

func (p *fakeProvider) Name() string  { return "fake" }
func (p *fakeProvider) Close() error { return nil }

func newTestStore(t *testing.T, statements ...string) *store.SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gho.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
	db.Close()

	s, err := store.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestRAG(t *testing.T, db *store.SQLiteStore) *RAGService {
	t.Helper()
	rag, err := NewRAGService(context.Background(), db, embedding.NewLocalEmbedder(128))
	if err != nil {
		t.Fatalf("NewRAGService() error = %v", err)
	}
	return rag
}

var ghoSchema = []string{
	`CREATE TABLE "hiv infections" (country TEXT, year INTEGER, value REAL)`,
	`INSERT INTO "hiv infections" VALUES ('Germany', 2019, 2600), ('Germany', 2020, 2000), ('France', 2020, 5000)`,
	`CREATE TABLE "diabetes prevalence" (country TEXT, value REAL)`,
	`INSERT INTO "diabetes prevalence" VALUES ('Germany', 7.4)`,
}

type failingSamples struct{}

func (failingSamples) SampleRows(context.Context, string, string) (*store.QueryResult, error) {
	return nil, errors.New("no such table")
}
