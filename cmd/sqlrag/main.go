package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"gwi.com/sqlrag/internal/api"
	"gwi.com/sqlrag/internal/config"
	"gwi.com/sqlrag/internal/core"
	"gwi.com/sqlrag/internal/embedding"
	"gwi.com/sqlrag/internal/llm"
	"gwi.com/sqlrag/internal/store"
)

func main() {
	modelFlag := flag.String("model", "", "Language model to use (defaults per provider)")
	dbFlag := flag.String("db", "", "Path to the SQLite indicators database")
	providerFlag := flag.String("provider", "", "Generation backend: ollama, gemini or openai")
	verboseFlag := flag.Bool("verbose", false, "Print the system prompt, raw model output and generated SQL")
	resultsFlag := flag.Bool("results", false, "Print the query result table before the summary")
	pullFlag := flag.Bool("pull", false, "Download the Ollama model before starting")
	serveFlag := flag.Bool("serve", false, "Serve the HTTP API instead of the interactive prompt")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := applyFlags(cfg, *providerFlag, *modelFlag, *dbFlag, *verboseFlag, *resultsFlag); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if cfg.Debug() {
		log.Println("Service starting in DEBUG mode")
	}

	dbStore, err := store.NewSQLiteStore(cfg.DatabasePath)
	if errors.Is(err, store.ErrMissingDataStore) {
		fmt.Printf("Please download the indicators database first (expected at %s)\n", cfg.DatabasePath)
		os.Exit(255)
	}
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	ctx := context.Background()

	embedder, err := embedding.New(ctx, *cfg)
	if err != nil {
		log.Fatalf("Failed to initialize embedder: %v", err)
	}
	defer embedder.Close()

	ragService, err := core.NewRAGService(ctx, dbStore, embedder)
	if err != nil {
		log.Fatalf("Failed to initialize RAG service: %v", err)
	}

	provider, err := llm.NewProvider(ctx, *cfg)
	if err != nil {
		log.Fatalf("Failed to initialize language model: %v", err)
	}
	defer provider.Close()
	log.Printf("Using language model %s", provider.Name())

	if *pullFlag {
		if err := pullModel(ctx, provider); err != nil {
			log.Fatalf("Model download failed: %v", err)
		}
	}

	opts := core.Options{
		TopK:         cfg.TopK,
		SampleColumn: cfg.SampleColumn,
		Verbose:      cfg.Verbose,
		PrintResults: cfg.PrintResults,
		Debug:        cfg.Debug(),
	}
	if !*serveFlag {
		opts.Alert = redAlert
	}
	queryService := core.NewQueryService(ragService, dbStore, provider, opts)

	if *serveFlag {
		serve(cfg, api.NewAPIHandler(queryService, ragService))
		return
	}
	interact(ctx, queryService, os.Stdin, os.Stdout)
}

// applyFlags lets command line flags override the loaded configuration, then validates the result.
func applyFlags(cfg *config.Config, provider, model, db string, verbose, results bool) error {
	if provider != "" && provider != cfg.LLMProvider {
		cfg.LLMProvider = provider
		cfg.LLMModel = ""
	}
	if model != "" {
		cfg.LLMModel = model
	}
	if db != "" {
		cfg.DatabasePath = db
	}
	cfg.Verbose = cfg.Verbose || verbose
	cfg.PrintResults = cfg.PrintResults || results
	return cfg.Validate()
}

func pullModel(ctx context.Context, provider llm.Provider) error {
	ollama, ok := provider.(*llm.OllamaProvider)
	if !ok {
		log.Printf("Ignoring -pull: %s is not served by Ollama", provider.Name())
		return nil
	}

	last := ""
	return ollama.Pull(ctx, func(p llm.PullProgress) {
		line := p.Status
		if p.Total > 0 {
			line = fmt.Sprintf("%s %s / %s", p.Status, humanize.Bytes(uint64(p.Completed)), humanize.Bytes(uint64(p.Total)))
		}
		if line != last {
			fmt.Printf("\r%-72s", line)
			last = line
		}
		if p.Status == "success" {
			fmt.Println()
		}
	})
}

var failure = color.New(color.FgRed, color.Bold)

// redAlert prints terminal notices such as the apology in red.
func redAlert(out io.Writer, msg string) {
	failure.Fprintln(out, msg)
}

type asker interface {
	Ask(ctx context.Context, question string, out io.Writer) (*core.Answer, error)
}

func interact(ctx context.Context, queryService asker, in io.Reader, out io.Writer) {
	prompt := color.New(color.FgCyan, color.Bold)

	scanner := bufio.NewScanner(in)
	for {
		prompt.Fprintln(out, "What is your question?")
		fmt.Fprint(out, ">>> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}

		if _, err := queryService.Ask(ctx, question, out); err != nil {
			log.Printf("Error answering question: %v", err)
			failure.Fprintln(out, "The language model could not be reached. Please try again.")
		}
		fmt.Fprintln(out)
	}
}

func serve(cfg *config.Config, apiHandler *api.APIHandler) {
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // Local models can take minutes per answer
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exiting gracefully")
}
