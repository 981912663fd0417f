package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestAskHappyPath(t *testing.T) {
	db := newTestStore(t, ghoSchema...)
	provider := &fakeProvider{
		chatResponse: "Here you go:\n```sql\nSELECT year, value FROM \"hiv infections\" WHERE country LIKE 'Germany' ORDER BY year;\n```",
		chunks:       []string{"HIV infections in Germany ", "fell from 2600 to 2000."},
	}
	svc := NewQueryService(newTestRAG(t, db), db, provider, Options{TopK: 10, SampleColumn: "value", PrintResults: true})

	var out bytes.Buffer
	answer, err := svc.Ask(context.Background(), "How did HIV infections in Germany develop?", &out)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer.Failed() {
		t.Fatalf("unexpected execution failure: %v", answer.ExecErr)
	}
	if want := `select year, value from "hiv infections" where country like 'germany' order by year;`; answer.SQL != want {
		t.Fatalf("SQL = %q, want %q", answer.SQL, want)
	}
	if len(answer.Result.Rows) != 2 {
		t.Fatalf("rows = %v", answer.Result.Rows)
	}
	if answer.Summary != "HIV infections in Germany fell from 2600 to 2000." {
		t.Fatalf("Summary = %q", answer.Summary)
	}
	if !strings.Contains(out.String(), "| 2019 ") {
		t.Fatalf("result table not printed:\n%s", out.String())
	}
	if !strings.HasSuffix(out.String(), "fell from 2600 to 2000.\n") {
		t.Fatalf("summary not streamed:\n%s", out.String())
	}
	if svc.State() != StateIdle {
		t.Fatalf("State() = %v, want idle", svc.State())
	}

	if len(provider.chatCalls) != 1 || len(provider.streamCalls) != 1 {
		t.Fatalf("chat calls = %d, stream calls = %d", len(provider.chatCalls), len(provider.streamCalls))
	}
	sqlPrompt := provider.chatCalls[0]
	if !strings.Contains(sqlPrompt[0].Content, `CREATE TABLE "hiv infections"`) {
		t.Fatalf("system prompt missing schema:\n%s", sqlPrompt[0].Content)
	}
	if sqlPrompt[1].Content != "How did HIV infections in Germany develop?" {
		t.Fatalf("user message = %q", sqlPrompt[1].Content)
	}
	summaryPrompt := provider.streamCalls[0]
	if !strings.Contains(summaryPrompt[0].Content, answer.SQL) {
		t.Fatalf("summary prompt missing SQL:\n%s", summaryPrompt[0].Content)
	}
}

func TestAskExecutionFailureApologizesWithoutSummary(t *testing.T) {
	db := newTestStore(t, ghoSchema...)
	provider := &fakeProvider{chatResponse: "SELEC * FRM nowhere;", chunks: []string{"should not stream"}}
	svc := NewQueryService(newTestRAG(t, db), db, provider, Options{})

	var out bytes.Buffer
	answer, err := svc.Ask(context.Background(), "anything", &out)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if !answer.Failed() {
		t.Fatal("expected execution failure")
	}
	if strings.TrimSpace(out.String()) != ApologyMessage {
		t.Fatalf("output = %q", out.String())
	}
	if len(provider.streamCalls) != 0 {
		t.Fatal("summary stage must not run after an execution failure")
	}
	if answer.Summary != "" {
		t.Fatalf("Summary = %q", answer.Summary)
	}
}

func TestAskVerboseShowsRawError(t *testing.T) {
	db := newTestStore(t, ghoSchema...)
	provider := &fakeProvider{chatResponse: "select nope from \"hiv infections\";"}
	svc := NewQueryService(newTestRAG(t, db), db, provider, Options{Verbose: true})

	var out bytes.Buffer
	if _, err := svc.Ask(context.Background(), "q", &out); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	for _, want := range []string{"The system prompt is:", ApologyMessage, "no such column"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestAskExtractionFallbackFailsAtExecution(t *testing.T) {
	db := newTestStore(t, ghoSchema...)
	provider := &fakeProvider{chatResponse: "I am not sure which table to use."}
	svc := NewQueryService(newTestRAG(t, db), db, provider, Options{})

	var out bytes.Buffer
	answer, err := svc.Ask(context.Background(), "q", &out)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer.Extracted {
		t.Fatal("Extracted should be false")
	}
	if answer.SQL != "i am not sure which table to use." {
		t.Fatalf("SQL = %q", answer.SQL)
	}
	if !answer.Failed() {
		t.Fatal("expected execution failure")
	}
}

func TestAskGenerationErrorPropagates(t *testing.T) {
	db := newTestStore(t, ghoSchema...)
	provider := &fakeProvider{chatErr: errors.New("connection refused")}
	svc := NewQueryService(newTestRAG(t, db), db, provider, Options{})

	var out bytes.Buffer
	_, err := svc.Ask(context.Background(), "q", &out)
	if !IsGenerationError(err) {
		t.Fatalf("Ask() error = %v, want generation error", err)
	}
	if out.Len() != 0 {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestAskSummaryStreamErrorPropagates(t *testing.T) {
	db := newTestStore(t, ghoSchema...)
	provider := &fakeProvider{
		chatResponse: `SELECT value FROM "diabetes prevalence";`,
		chunks:       []string{"Diabetes "},
		streamErr:    errors.New("stream reset"),
	}
	svc := NewQueryService(newTestRAG(t, db), db, provider, Options{})

	var out bytes.Buffer
	answer, err := svc.Ask(context.Background(), "q", &out)
	if !IsGenerationError(err) {
		t.Fatalf("Ask() error = %v, want generation error", err)
	}
	if answer.Summary != "Diabetes " {
		t.Fatalf("Summary = %q", answer.Summary)
	}
}

func TestAskEmptyStore(t *testing.T) {
	db := newTestStore(t)
	provider := &fakeProvider{chatResponse: "SELECT 1 AS one;", chunks: []string{"One."}}
	svc := NewQueryService(newTestRAG(t, db), db, provider, Options{})

	var out bytes.Buffer
	answer, err := svc.Ask(context.Background(), "q", &out)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	want := sqlSystemPreamble + tablesHeader + responseGuidelines
	if answer.SystemPrompt != want {
		t.Fatalf("SystemPrompt = %q", answer.SystemPrompt)
	}
}

func TestAskIsStatelessAcrossQuestions(t *testing.T) {
	db := newTestStore(t, ghoSchema...)
	provider := &fakeProvider{chatResponse: `SELECT count(*) FROM "hiv infections";`, chunks: []string{"Three."}}
	svc := NewQueryService(newTestRAG(t, db), db, provider, Options{})

	for _, q := range []string{"first question", "second question"} {
		if _, err := svc.Ask(context.Background(), q, &bytes.Buffer{}); err != nil {
			t.Fatalf("Ask(%q) error = %v", q, err)
		}
	}
	second := provider.chatCalls[1]
	if len(second) != 2 || second[1].Content != "second question" {
		t.Fatalf("second request carried history: %+v", second)
	}
}

func TestAskApologyGoesThroughAlert(t *testing.T) {
	db := newTestStore(t, ghoSchema...)
	provider := &fakeProvider{chatResponse: "SELEC 1;"}

	var alerts []string
	svc := NewQueryService(newTestRAG(t, db), db, provider, Options{
		Alert: func(out io.Writer, msg string) {
			alerts = append(alerts, msg)
			io.WriteString(out, "!! "+msg+"\n")
		},
	})

	var out bytes.Buffer
	if _, err := svc.Ask(context.Background(), "q", &out); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if len(alerts) != 1 || alerts[0] != ApologyMessage {
		t.Fatalf("alerts = %q", alerts)
	}
	if out.String() != "!! "+ApologyMessage+"\n" {
		t.Fatalf("output = %q", out.String())
	}
}
