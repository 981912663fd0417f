package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"gwi.com/sqlrag/internal/llm"
	"gwi.com/sqlrag/internal/metrics"
	"gwi.com/sqlrag/internal/store"
)

// ApologyMessage is shown instead of a summary when the generated statement cannot be executed.
const ApologyMessage = "Sorry, but there was an error generating a SQL query for your question. Please consider formulating it differently."

type State int

const (
	StateIdle State = iota
	StateBuildingPrompt
	StateGeneratingSQL
	StateExecutingQuery
	StateExecutionFailed
	StateSummarizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuildingPrompt:
		return "building_prompt"
	case StateGeneratingSQL:
		return "generating_sql"
	case StateExecutingQuery:
		return "executing_query"
	case StateExecutionFailed:
		return "execution_failed"
	case StateSummarizing:
		return "summarizing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Retriever finds the table definitions relevant to a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) ([]store.TableDefinition, error)
}

// QueryStore runs generated statements and supplies sample rows for prompts.
type QueryStore interface {
	SampleSource
	Query(ctx context.Context, query string) (*store.QueryResult, error)
}

type Options struct {
	TopK         int
	SampleColumn string
	Verbose      bool
	PrintResults bool
	Debug        bool

	// Alert prints user-facing notices such as the apology. Defaults to a plain line.
	Alert func(out io.Writer, msg string)
}

// Answer records what happened to one question.
type Answer struct {
	Question     string
	SystemPrompt string
	RawResponse  string
	SQL          string
	Extracted    bool
	Result       *store.QueryResult
	ExecErr      error
	Summary      string
}

// Failed reports whether the request ended in the execution-failure state.
func (a *Answer) Failed() bool {
	return a.ExecErr != nil
}

// QueryService runs the question → SQL → result → summary pipeline. It handles one question at a
// time and keeps nothing between questions.
type QueryService struct {
	retriever Retriever
	db        QueryStore
	provider  llm.Provider
	prompts   *PromptBuilder
	opts      Options
	state     State
}

func NewQueryService(retriever Retriever, db QueryStore, provider llm.Provider, opts Options) *QueryService {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	return &QueryService{
		retriever: retriever,
		db:        db,
		provider:  provider,
		prompts:   NewPromptBuilder(db, opts.SampleColumn),
		opts:      opts,
	}
}

func (s *QueryService) State() State {
	return s.state
}

func (s *QueryService) transition(next State) {
	if s.opts.Debug {
		log.Printf("Pipeline %s -> %s", s.state, next)
	}
	s.state = next
}

// Ask answers question, writing verbose diagnostics, the optional result table and the streamed
// summary to out. A statement that fails to execute is reported to out as an apology and returns a
// nil error; generation failures are returned.
func (s *QueryService) Ask(ctx context.Context, question string, out io.Writer) (*Answer, error) {
	defer s.transition(StateIdle)
	metrics.IncrementQuestions()
	answer := &Answer{Question: question}

	s.transition(StateBuildingPrompt)
	start := time.Now()
	defs, err := s.retriever.Retrieve(ctx, question, s.opts.TopK)
	if err != nil {
		return answer, fmt.Errorf("failed to retrieve schemas: %w", err)
	}
	metrics.ObserveRetrievedTables(len(defs))
	answer.SystemPrompt = s.prompts.SQLSystemPrompt(ctx, defs)
	metrics.ObserveStage(StateBuildingPrompt.String(), time.Since(start))

	if s.opts.Verbose {
		fmt.Fprintln(out, "The system prompt is:")
		fmt.Fprintln(out, answer.SystemPrompt)
	}

	s.transition(StateGeneratingSQL)
	start = time.Now()
	answer.RawResponse, err = s.provider.Chat(ctx, SQLMessages(answer.SystemPrompt, question))
	metrics.ObserveStage(StateGeneratingSQL.String(), time.Since(start))
	if err != nil {
		metrics.IncrementGenerationError()
		return answer, err
	}
	if s.opts.Verbose {
		fmt.Fprintln(out, answer.RawResponse)
	}

	// Lower-casing folds string literals too, which breaks case-sensitive comparisons.
	sql, ok := ExtractSQL(answer.RawResponse)
	answer.SQL = strings.ToLower(sql)
	answer.Extracted = ok
	if !ok {
		metrics.IncrementExtractionFallback()
		log.Println("No SQL pattern matched the model response, executing it verbatim.")
	} else if s.opts.Debug {
		if first, _ := ExtractFirstSQL(answer.RawResponse); first != sql {
			log.Printf("Model revised its query; first attempt was: %s", first)
		}
	}
	if s.opts.Verbose {
		fmt.Fprintln(out, answer.SQL)
	}

	s.transition(StateExecutingQuery)
	start = time.Now()
	answer.Result, answer.ExecErr = s.db.Query(ctx, answer.SQL)
	metrics.ObserveStage(StateExecutingQuery.String(), time.Since(start))
	if answer.ExecErr != nil {
		s.transition(StateExecutionFailed)
		metrics.IncrementExecutionFailure()
		log.Printf("Generated query failed to execute: %v", answer.ExecErr)
		s.alert(out, ApologyMessage)
		if s.opts.Verbose {
			fmt.Fprintln(out, answer.ExecErr)
		}
		return answer, nil
	}

	if s.opts.PrintResults {
		fmt.Fprintln(out, answer.Result.Markdown())
	}

	s.transition(StateSummarizing)
	start = time.Now()
	summary, err := s.stream(ctx, SummaryMessages(question, answer.SQL, answer.Result), out)
	answer.Summary = summary
	metrics.ObserveStage(StateSummarizing.String(), time.Since(start))
	if err != nil {
		metrics.IncrementGenerationError()
		return answer, err
	}
	return answer, nil
}

func (s *QueryService) alert(out io.Writer, msg string) {
	if s.opts.Alert != nil {
		s.opts.Alert(out, msg)
		return
	}
	fmt.Fprintln(out, msg)
}

// stream forwards each fragment to out as it arrives and returns the concatenation.
func (s *QueryService) stream(ctx context.Context, messages []llm.Message, out io.Writer) (string, error) {
	var summary strings.Builder
	for chunk, err := range s.provider.ChatStream(ctx, messages) {
		if err != nil {
			if summary.Len() > 0 {
				fmt.Fprintln(out)
			}
			return summary.String(), err
		}
		summary.WriteString(chunk)
		if _, werr := io.WriteString(out, chunk); werr != nil {
			return summary.String(), fmt.Errorf("failed to write summary: %w", werr)
		}
		if f, ok := out.(interface{ Flush() }); ok {
			f.Flush()
		}
	}
	fmt.Fprintln(out)
	return summary.String(), nil
}

// IsGenerationError reports whether err came from a language model backend.
func IsGenerationError(err error) bool {
	var genErr *llm.GenerationError
	return errors.As(err, &genErr)
}
