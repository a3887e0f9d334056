package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/tamgam/diya/internal/assessment"
	"github.com/tamgam/diya/internal/handler"
	appI18n "github.com/tamgam/diya/internal/i18n"
	"github.com/tamgam/diya/internal/indexer"
	"github.com/tamgam/diya/internal/level"
	"github.com/tamgam/diya/internal/llm"
	"github.com/tamgam/diya/internal/model"
	"github.com/tamgam/diya/internal/retrieval"
	"github.com/tamgam/diya/internal/store"
	"github.com/tamgam/diya/internal/tutor"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "diya",
		Short: "Level-aware tutoring and assessment engine grounded in class transcripts",
	}

	serve := serveCmd()
	root.AddCommand(serve, indexCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `diya --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLLMFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("chat-model", "llama3.2", "Chat model name")
	f.String("embed-model", "nomic-embed-text", "Embedding model name")
}

func addEngineFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("top-k", 5, "Chunks retrieved per query")
	f.Float64("min-similarity", 0.4, "Similarity floor below which retrieval is discarded")
	f.Int("chunk-size", 500, "Target words per transcript chunk")
	f.Int("chunk-overlap", 50, "Overlap words between consecutive chunks")
	f.Float64("embed-rps", 4, "Embedding calls per second during indexing")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP tutoring server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "diya.db", "SQLite database path")
	f.StringP("lang", "l", "en", "Response language (en, hi)")
	f.Float64("advance-threshold", 0.80, "Rolling score at or above which the level advances")
	f.Float64("regress-threshold", 0.30, "Rolling score below which the level regresses")
	f.Int("assessment-size", 10, "Items per generated assessment (8-10)")
	f.Int("weak-area-streak", 3, "Confident interactions before a weak area clears")
	f.Int("history-turns", 6, "Prior turns included in the tutoring prompt")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("admin-password", "", "Initial admin password (or set DIYA_ADMIN_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	addLLMFlags(cmd)
	addEngineFlags(cmd)
	return cmd
}

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index a class transcript from a file",
		RunE:  runIndex,
	}
	f := cmd.Flags()
	f.String("db", "diya.db", "SQLite database path")
	f.String("class", "", "Class identifier (required)")
	f.String("subject", "", "Subject identifier (required)")
	f.String("title", "", "Class title")
	f.StringP("file", "f", "", "Transcript file path (required)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	addLLMFlags(cmd)
	addEngineFlags(cmd)

	_ = cmd.MarkFlagRequired("class")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export student progress as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "diya.db", "SQLite database path")
	f.String("subject", "", "Restrict the export to one subject")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("DIYA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("diya")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/diya")
	v.AddConfigPath("/etc/diya")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func engineConfig(v *viper.Viper) model.EngineConfig {
	return model.EngineConfig{
		TopK:             v.GetInt("top-k"),
		MinSimilarity:    v.GetFloat64("min-similarity"),
		ChunkSize:        v.GetInt("chunk-size"),
		ChunkOverlap:     v.GetInt("chunk-overlap"),
		AdvanceThreshold: v.GetFloat64("advance-threshold"),
		RegressThreshold: v.GetFloat64("regress-threshold"),
		AssessmentSize:   v.GetInt("assessment-size"),
		WeakAreaStreak:   v.GetInt("weak-area-streak"),
		HistoryTurns:     v.GetInt("history-turns"),
		SecureCookies:    v.GetBool("secure-cookies"),
	}
}

func newLLMClient(ctx context.Context, v *viper.Viper, db *store.Store) (*llm.Client, error) {
	client := llm.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("chat-model"),
		v.GetString("embed-model"),
	)
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK",
		"url", v.GetString("llm-url"),
		"chat_model", client.ChatModel(),
		"embed_model", client.EmbedModel())

	// Record which models built the index; a model swap invalidates stored
	// vectors.
	prev, err := db.GetMetadata(store.MetaEmbeddingModel)
	if err != nil {
		return nil, err
	}
	if prev != "" && prev != client.EmbedModel() {
		slog.Warn("embedding model changed; existing indexes must be rebuilt",
			"previous", prev, "current", client.EmbedModel())
	}
	if err := db.SetMetadata(store.MetaEmbeddingModel, client.EmbedModel()); err != nil {
		return nil, err
	}
	if err := db.SetMetadata(store.MetaChatModel, client.ChatModel()); err != nil {
		return nil, err
	}
	return client, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	llmClient, err := newLLMClient(cmd.Context(), v, db)
	if err != nil {
		return err
	}

	cfg := engineConfig(v)
	if cfg.AssessmentSize < 8 || cfg.AssessmentSize > 10 {
		return fmt.Errorf("assessment-size must be between 8 and 10, got %d", cfg.AssessmentSize)
	}

	eng := level.NewEngine(db, cfg)
	retr := retrieval.New(db, llmClient, cfg.TopK, cfg.MinSimilarity)
	ix := indexer.New(db, llmClient, cfg, v.GetFloat64("embed-rps"))
	tut := tutor.New(db, retr, llmClient, eng, cfg)
	assess := assessment.New(db, llmClient, eng, cfg)

	h := handler.New(db, tut, assess, ix, eng, cfg)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"top_k", cfg.TopK,
		"min_similarity", cfg.MinSimilarity,
		"assessment_size", cfg.AssessmentSize,
	)
	return http.ListenAndServe(addr, r)
}

func runIndex(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	llmClient, err := newLLMClient(cmd.Context(), v, db)
	if err != nil {
		return err
	}

	transcript, err := os.ReadFile(v.GetString("file"))
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}

	classID := v.GetString("class")
	if err := db.UpsertClass(model.Class{
		ID:        classID,
		SubjectID: v.GetString("subject"),
		Title:     v.GetString("title"),
	}); err != nil {
		return fmt.Errorf("upsert class: %w", err)
	}

	ix := indexer.New(db, llmClient, engineConfig(v), v.GetFloat64("embed-rps"))
	stats, err := ix.IndexClass(cmd.Context(), classID, string(transcript))
	var partial *indexer.PartialFailureError
	if err != nil && !errors.As(err, &partial) {
		return fmt.Errorf("index class: %w", err)
	}

	fmt.Printf("class %s: %d chunks, %d embedded, %.1f%% coverage\n",
		classID, stats.TotalChunks, stats.EmbeddedChunks, stats.CoveragePct())
	if partial != nil {
		fmt.Printf("warning: %d chunks failed to embed; re-run to fill the gaps\n", partial.Failed)
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportProgress(v.GetString("subject"))
	if err != nil {
		return fmt.Errorf("export progress: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)

	return nil
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or DIYA_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	admin, err := db.CreateUser("admin", "Administrator", string(hash), model.UserRoleAdmin)
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", admin.Username, "id", strconv.FormatInt(admin.ID, 10))
	return nil
}
