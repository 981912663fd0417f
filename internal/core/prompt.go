package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"gwi.com/sqlrag/internal/llm"
	"gwi.com/sqlrag/internal/store"
)

const (
	sqlSystemPreamble = "You are an SQLite query expert. Generate an optimized and accurate query based solely on the user's question, " +
		"ensuring it follows the given context, response guidelines, and format instructions. \n\n"

	tablesHeader = "===Tables \n"

	responseGuidelines = "===Response Guidelines \n" +
		"1. Generate valid SQL if the context is sufficient. Ensure it is SQLite-compliant and error-free. \n" +
		"2. Use the most relevant tables only. \n" +
		"3. Use the example rows provided with each table, to ensure the right values are selected. \n" +
		"4. Use LIKE for filtering TEXT columns unless otherwise specified. \n" +
		"5. Avoid unnecessary complexity. Make the queries as short as possible. Do not focus on too many things at once. \n"

	summaryInstruction = "Summarize the data concisely based on the question. Use the mentioned SQL query to contextualize the data. " +
		"Don't overcomplicate your answer, highlight only the important information of the data. " +
		"DON'T MENTION the SQL query and in which format the data was given to you. Summarize directly the data."

	samplesUnavailable = "Sample rows unavailable.\n\n"
)

// SampleSource supplies example rows for a table.
type SampleSource interface {
	SampleRows(ctx context.Context, table, preferredColumn string) (*store.QueryResult, error)
}

type PromptBuilder struct {
	samples      SampleSource
	sampleColumn string
}

func NewPromptBuilder(samples SampleSource, sampleColumn string) *PromptBuilder {
	return &PromptBuilder{samples: samples, sampleColumn: sampleColumn}
}

// SQLSystemPrompt renders the instruction preamble, every definition with its example rows and
// the response guidelines. Definitions whose table cannot be sampled keep their DDL.
func (b *PromptBuilder) SQLSystemPrompt(ctx context.Context, defs []store.TableDefinition) string {
	var sb strings.Builder
	sb.WriteString(sqlSystemPreamble)
	sb.WriteString(tablesHeader)

	for _, def := range defs {
		sb.WriteString(def.SQL)
		sb.WriteString("\n\n")

		name := def.Name
		if name == "" {
			var err error
			if name, err = store.ParseTableName(def.SQL); err != nil {
				log.Printf("Skipping sample rows: %v: %.60s", err, def.SQL)
				sb.WriteString(samplesUnavailable)
				continue
			}
		}

		rows, err := b.samples.SampleRows(ctx, name, b.sampleColumn)
		if err != nil {
			log.Printf("Failed to sample rows of %s: %v", name, err)
			sb.WriteString(samplesUnavailable)
			continue
		}
		fmt.Fprintf(&sb, "Five random table rows:\n%s\n", rows.Markdown())
	}

	sb.WriteString(responseGuidelines)
	return sb.String()
}

// SQLMessages pairs the system prompt with the user's question.
func SQLMessages(systemPrompt, question string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: question},
	}
}

// SummaryMessages asks for a prose summary of result without revealing how it was obtained.
func SummaryMessages(question, sql string, result *store.QueryResult) []llm.Message {
	system := fmt.Sprintf(
		"You are a helpful data scientist. Question: '%s'\n\n"+
			"SQL query used:\n%s\n\n"+
			"Here is the query result as a table:\n\n%s\n\n",
		question, sql, result.Markdown())

	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: summaryInstruction},
	}
}
