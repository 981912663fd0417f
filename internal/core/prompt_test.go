package core

import (
	"context"
	"strings"
	"testing"

	"gwi.com/sqlrag/internal/llm"
	"gwi.com/sqlrag/internal/store"
)

func TestSQLSystemPromptEmptyStore(t *testing.T) {
	b := NewPromptBuilder(failingSamples{}, "value")
	got := b.SQLSystemPrompt(context.Background(), nil)

	want := sqlSystemPreamble + tablesHeader + responseGuidelines
	if got != want {
		t.Fatalf("SQLSystemPrompt() =\n%s\nwant\n%s", got, want)
	}
}

func TestSQLSystemPromptWithTables(t *testing.T) {
	db := newTestStore(t, ghoSchema...)
	defs, err := db.TableDefinitions(context.Background())
	if err != nil {
		t.Fatalf("TableDefinitions() error = %v", err)
	}

	got := NewPromptBuilder(db, "value").SQLSystemPrompt(context.Background(), defs)

	for _, want := range []string{
		"You are an SQLite query expert.",
		"===Tables",
		`CREATE TABLE "hiv infections"`,
		`CREATE TABLE "diabetes prevalence"`,
		"Five random table rows:",
		"Germany",
		"===Response Guidelines",
		"Use LIKE for filtering TEXT columns",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("prompt missing %q:\n%s", want, got)
		}
	}
	if strings.Index(got, "===Tables") > strings.Index(got, "hiv infections") {
		t.Fatal("tables section should precede the definitions")
	}
	if strings.Index(got, "diabetes prevalence") > strings.Index(got, "===Response Guidelines") {
		t.Fatal("guidelines should follow the definitions")
	}
}

func TestSQLSystemPromptUnparseableName(t *testing.T) {
	defs := []store.TableDefinition{{SQL: "CREATE INDEX idx_country ON t(country)"}}
	got := NewPromptBuilder(failingSamples{}, "value").SQLSystemPrompt(context.Background(), defs)

	if !strings.Contains(got, "CREATE INDEX idx_country") {
		t.Fatalf("DDL missing from prompt:\n%s", got)
	}
	if !strings.Contains(got, "Sample rows unavailable.") {
		t.Fatalf("expected unavailable marker:\n%s", got)
	}
	if !strings.HasSuffix(got, responseGuidelines) {
		t.Fatal("guidelines missing")
	}
}

func TestSQLSystemPromptSamplingFailure(t *testing.T) {
	defs := []store.TableDefinition{{Name: "ghost", SQL: `CREATE TABLE "ghost" (value TEXT)`}}
	got := NewPromptBuilder(failingSamples{}, "value").SQLSystemPrompt(context.Background(), defs)
	if !strings.Contains(got, "Sample rows unavailable.") {
		t.Fatalf("expected unavailable marker:\n%s", got)
	}
}

func TestSummaryMessages(t *testing.T) {
	result := &store.QueryResult{Columns: []string{"year", "value"}, Rows: [][]string{{"2020", "2000"}}}
	msgs := SummaryMessages("HIV in Germany?", "select year, value from hiv;", result)

	if len(msgs) != 2 || msgs[0].Role != llm.RoleSystem || msgs[1].Role != llm.RoleUser {
		t.Fatalf("messages = %+v", msgs)
	}
	for _, want := range []string{"Question: 'HIV in Germany?'", "select year, value from hiv;", "| 0 ", "2000"} {
		if !strings.Contains(msgs[0].Content, want) {
			t.Fatalf("system message missing %q:\n%s", want, msgs[0].Content)
		}
	}
	if !strings.Contains(msgs[1].Content, "DON'T MENTION the SQL query") {
		t.Fatalf("instruction = %q", msgs[1].Content)
	}
}

func TestSummaryMessagesEmptyResult(t *testing.T) {
	result := &store.QueryResult{Columns: []string{"value"}, Rows: [][]string{}}
	msgs := SummaryMessages("q", "select value from t where 0;", result)
	if !strings.Contains(msgs[0].Content, "(no rows)") {
		t.Fatalf("empty result not explicit:\n%s", msgs[0].Content)
	}
}
