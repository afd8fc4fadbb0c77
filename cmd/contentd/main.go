// Package main implements contentd, the content-intelligence-engine
// daemon: it wires every engine component for one library and exposes
// ingestion, the ops surface, and hybrid query over a minimal net/http
// mux, styled on the teacher's cmd/api Config/loadConfig/run shape with
// signal.NotifyContext graceful shutdown and the pkg/mid middleware chain.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/lumenforge/contentbase/engine/artifact"
	"github.com/lumenforge/contentbase/engine/capability"
	"github.com/lumenforge/contentbase/engine/domain"
	"github.com/lumenforge/contentbase/engine/events"
	"github.com/lumenforge/contentbase/engine/executor"
	"github.com/lumenforge/contentbase/engine/fulltext"
	"github.com/lumenforge/contentbase/engine/graph"
	"github.com/lumenforge/contentbase/engine/library"
	"github.com/lumenforge/contentbase/engine/ops"
	"github.com/lumenforge/contentbase/engine/pool"
	"github.com/lumenforge/contentbase/engine/retrieval"
	"github.com/lumenforge/contentbase/engine/tasks"
	"github.com/lumenforge/contentbase/engine/vector"
	"github.com/lumenforge/contentbase/pkg/mid"
	"github.com/lumenforge/contentbase/pkg/metrics"
	"github.com/lumenforge/contentbase/pkg/objstore"
	"github.com/lumenforge/contentbase/pkg/ollama"
	"github.com/lumenforge/contentbase/pkg/whispers"
)

// Config holds all environment-based configuration for one library
// instance. A deployment running several libraries runs one contentd
// process per library, each with its own DataDir/DBPath/port.
type Config struct {
	Port string

	DataDir string
	DBPath  string
	S3      bool

	Neo4jURL  string
	Neo4jUser string
	Neo4jPass string

	QdrantAddr string

	OllamaURL       string
	WhispersURL     string
	ChunkTargetTokens int

	NATSURL string

	Workers    int
	CORSOrigin string
}

func loadConfig() Config {
	return Config{
		Port:              envOr("PORT", "8090"),
		DataDir:           envOr("DATA_DIR", "/var/lib/contentbase/files"),
		DBPath:            envOr("ARTIFACT_DB_PATH", "/var/lib/contentbase/artifacts.db"),
		S3:                envOr("OBJSTORE_BACKEND", "local") == "s3",
		Neo4jURL:          envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:         envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:         envOr("NEO4J_PASS", "password"),
		QdrantAddr:        envOr("QDRANT_ADDR", "localhost:6334"),
		OllamaURL:         envOr("OLLAMA_URL", "http://localhost:11434"),
		WhispersURL:       envOr("WHISPERS_URL", "http://localhost:9000"),
		ChunkTargetTokens: envOrInt("CHUNK_TARGET_TOKENS", 100),
		NATSURL:           os.Getenv("NATS_URL"), // empty disables event broadcasting
		Workers:           envOrInt("WORKERS", runtimeNumWorkers()),
		CORSOrigin:        envOr("CORS_ORIGIN", "*"),
	}
}

func runtimeNumWorkers() int {
	if n := runtime.NumCPU() - 1; n > 0 {
		return n
	}
	return 1
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("contentd exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Storage façade ---
	var files objstore.Store
	localFiles, err := objstore.NewLocalStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("local store: %w", err)
	}
	files = localFiles

	doc, err := library.Load(ctx, files)
	if err != nil {
		return fmt.Errorf("load library settings: %w", err)
	}
	settings := doc.Settings
	if cfg.S3 && settings.S3Config != nil {
		s3Files, err := objstore.NewS3Store(ctx, *settings.S3Config)
		if err != nil {
			return fmt.Errorf("s3 store: %w", err)
		}
		files = s3Files
	}

	// --- Artifact store (task run records + sharded layout) ---
	artifacts, err := artifact.Open(cfg.DBPath, files)
	if err != nil {
		return fmt.Errorf("artifact store: %w", err)
	}
	defer artifacts.Close()

	// --- Graph-structured content DB (Neo4j) ---
	neo4jDriver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer neo4jDriver.Close(ctx)
	graphStore := graph.New(neo4jDriver)

	// --- Vector index (Qdrant) ---
	vectorStore, err := vector.New(cfg.QdrantAddr)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()
	if err := vectorStore.EnsureCollections(ctx); err != nil {
		return fmt.Errorf("ensure qdrant collections: %w", err)
	}

	// --- Full-text index (bleve) ---
	fulltextIndex, err := fulltext.Open(cfg.DataDir+"/.fulltext.bleve", logger)
	if err != nil {
		return fmt.Errorf("fulltext index: %w", err)
	}
	defer fulltextIndex.Close()

	// --- Model capability layer ---
	textEmbedModel := ollama.New(cfg.OllamaURL, settings.Models.TextEmbedding)
	multiModalModel := ollama.New(cfg.OllamaURL, settings.Models.MultiModalEmbedding)
	captionModel := ollama.New(cfg.OllamaURL, settings.Models.ImageCaption)
	llmModel := ollama.New(cfg.OllamaURL, settings.Models.LLM)
	transcribeModel := whispers.New(cfg.WhispersURL)

	textEmbedder := capability.NewBatchedTextEmbedder(textEmbedModel, 16, 30*time.Second)
	defer textEmbedder.Close()
	visionTextEmbedder := capability.NewBatchedTextEmbedder(multiModalModel, 16, 30*time.Second)
	defer visionTextEmbedder.Close()
	imageEmbedder := capability.NewBatchedImageEmbedder(multiModalModel, 16, 30*time.Second)
	defer imageEmbedder.Close()
	captioner := capability.NewBatchedCaptioner(captionModel, 8, 30*time.Second)
	defer captioner.Close()
	transcriber := capability.NewBatchedTranscriber(transcribeModel, 4, 30*time.Second)
	defer transcriber.Close()
	summarizer := capability.NewBatchedLLM(llmModel, 30*time.Second)
	defer summarizer.Close()

	// --- Task registry + executor ---
	registry := tasks.NewRegistry(tasks.Deps{
		Files:             files,
		Artifacts:         artifacts,
		Graph:             graphStore,
		Vector:            vectorStore,
		FullText:          fulltextIndex,
		TextEmbedder:      textEmbedder,
		ImageEmbedder:     imageEmbedder,
		Captioner:         captioner,
		Transcriber:       transcriber,
		Summarizer:        summarizer,
		ChunkTargetTokens: cfg.ChunkTargetTokens,
	})
	exec := executor.New(registry, artifacts, logger)

	// --- Metrics ---
	metricsReg := metrics.New()
	exec.Metrics = metricsReg
	ingestedCounter := metricsReg.Counter("contentd_files_ingested_total", "files accepted for ingestion")
	queuedGauge := metricsReg.Gauge("contentd_tasks_pending", "tasks currently queued in the pool")

	// --- Optional lifecycle event broadcasting over NATS ---
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
	}
	broadcaster := events.New(exec, nc, logger)

	// --- Priority-scheduled task pool ---
	taskPool := pool.New(cfg.Workers)
	defer taskPool.Close()

	// --- Hybrid retrieval engine ---
	retrievalEngine := &retrieval.Engine{
		Vector:             vectorStore,
		FullText:           fulltextIndex,
		Graph:              graphStore,
		TextEmbedder:       textEmbedder,
		VisionTextEmbedder: visionTextEmbedder,
		Artifacts:          artifacts,
		Summarizer:         summarizer,
	}

	// --- Ops surface ---
	opsSurface := &ops.Surface{
		Pool:      taskPool,
		Executor:  exec,
		Registry:  registry,
		Artifacts: artifacts,
		Graph:     graphStore,
		Vector:    vectorStore,
		Files:     files,
		Resolve:   fileResolver(files),
	}

	srv := &httpServer{
		logger:      logger,
		files:       files,
		artifacts:   artifacts,
		registry:    registry,
		pool:        taskPool,
		broadcaster: broadcaster,
		retrieval:   retrievalEngine,
		ops:         opsSurface,
		graph:       graphStore,
		metrics:     metricsReg,
		ingested:    ingestedCounter,
		queued:      queuedGauge,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.HandleFunc("GET /v1/stats", srv.handleStats)
	mux.Handle("GET /metrics", metricsReg.Handler())
	mux.HandleFunc("POST /v1/files", srv.handleIngest)
	mux.HandleFunc("POST /v1/files/{fid}/cancel", srv.handleCancel)
	mux.HandleFunc("POST /v1/files/{fid}/purge", srv.handlePurge)
	mux.HandleFunc("POST /v1/ops/trigger-unfinished", srv.handleTriggerUnfinished)
	mux.HandleFunc("POST /v1/query", srv.handleQuery)
	mux.HandleFunc("POST /v1/answer", srv.handleAnswer)

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("contentd"),
	)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("contentd starting", "port", cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

// fileResolver builds an ops.FileResolver over files, deriving FilePath
// from artifact.SourceFilePath the way every ingest path already does.
func fileResolver(files objstore.Store) ops.FileResolver {
	return func(_ context.Context, fid domain.FileIdentifier) (domain.FileInfo, error) {
		return domain.FileInfo{FileIdentifier: fid, FilePath: artifact.SourceFilePath(fid)}, nil
	}
}

// --- HTTP layer ---

type httpServer struct {
	logger      *slog.Logger
	files       objstore.Store
	artifacts   *artifact.Store
	registry    *tasks.Registry
	pool        *pool.Pool
	broadcaster *events.Broadcaster
	retrieval   *retrieval.Engine
	ops         *ops.Surface
	graph       *graph.GraphStore
	metrics     *metrics.Registry
	ingested    *metrics.Counter
	queued      *metrics.Gauge
}

func (s *httpServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleStats reports per-kind node counts from the graph store, a cheap
// way to see how much content has landed without querying Neo4j directly.
func (s *httpServer) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.graph.NodeCounts(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"node_counts": counts})
}

// kindFromExt maps a filename extension to its content kind (§4.1 intake
// classification), mirroring the prefix families in domain.ParseTaskType.
func kindFromExt(name string) (domain.ContentKind, bool) {
	ext := strings.ToLower(name)
	switch {
	case strings.HasSuffix(ext, ".mp4"), strings.HasSuffix(ext, ".mov"), strings.HasSuffix(ext, ".mkv"), strings.HasSuffix(ext, ".webm"):
		return domain.KindVideo, true
	case strings.HasSuffix(ext, ".mp3"), strings.HasSuffix(ext, ".wav"), strings.HasSuffix(ext, ".m4a"), strings.HasSuffix(ext, ".flac"):
		return domain.KindAudio, true
	case strings.HasSuffix(ext, ".png"), strings.HasSuffix(ext, ".jpg"), strings.HasSuffix(ext, ".jpeg"), strings.HasSuffix(ext, ".gif"), strings.HasSuffix(ext, ".webp"):
		return domain.KindImage, true
	case strings.HasSuffix(ext, ".html"), strings.HasSuffix(ext, ".htm"), strings.HasSuffix(ext, ".url"):
		return domain.KindWebPage, true
	case strings.HasSuffix(ext, ".txt"), strings.HasSuffix(ext, ".md"), strings.HasSuffix(ext, ".pdf"):
		return domain.KindRawText, true
	default:
		return "", false
	}
}

// leafTaskTypes returns the terminal TaskTypes an ingest should submit
// for one content kind: the executor's dependency-closure resolution
// pulls in everything upstream of these automatically.
func leafTaskTypes(kind domain.ContentKind) []domain.TaskType {
	switch kind {
	case domain.KindVideo:
		return []domain.TaskType{
			{Kind: kind, Variant: "trans-chunk-sum-embed"},
			{Kind: kind, Variant: "frame-desc-embed"},
			{Kind: kind, Variant: "frame-embedding"},
		}
	case domain.KindAudio:
		return []domain.TaskType{{Kind: kind, Variant: "trans-chunk-sum-embed"}}
	case domain.KindImage:
		return []domain.TaskType{
			{Kind: kind, Variant: "desc-embed"},
			{Kind: kind, Variant: "embedding"},
		}
	case domain.KindRawText, domain.KindWebPage:
		return []domain.TaskType{{Kind: kind, Variant: "chunk-sum-embed"}}
	default:
		return nil
	}
}

// handleIngest accepts a raw file body, computes its content-addressed
// identifier, writes it to the storage façade, and submits the content
// kind's leaf task types to the pool.
func (s *httpServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, `{"error":"name query parameter is required"}`, http.StatusBadRequest)
		return
	}
	kind, ok := kindFromExt(name)
	if !ok {
		http.Error(w, `{"error":"unrecognized file extension"}`, http.StatusUnprocessableEntity)
		return
	}

	body := http.MaxBytesReader(w, r.Body, 4<<30) // 4GiB cap
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		http.Error(w, `{"error":"failed to read request body"}`, http.StatusBadRequest)
		return
	}

	fid := domain.NewFileIdentifier(data)
	if err := s.files.Write(r.Context(), artifact.SourceFilePath(fid), data); err != nil {
		s.logger.Error("ingest: write source file failed", "err", err, "file_identifier", fid)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	file := domain.FileInfo{FileIdentifier: fid, FilePath: artifact.SourceFilePath(fid)}
	priority := pool.PriorityNormal
	if r.URL.Query().Get("priority") == "high" {
		priority = pool.PriorityHigh
	}

	submitted := 0
	for _, tt := range leafTaskTypes(kind) {
		tt := tt
		job := pool.Job{
			FileIdentifier: fid.String(),
			TaskType:       tt.String(),
			Priority:       priority,
			Run: func(ctx context.Context) error {
				_, err := s.broadcaster.Run(ctx, tt, file)
				return err
			},
		}
		if err := s.pool.Submit(r.Context(), job); err != nil {
			s.logger.Error("ingest: submit job failed", "err", err, "task_type", tt)
			continue
		}
		submitted++
	}
	s.ingested.Inc()
	s.queued.Set(int64(s.pool.Pending()))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"fileIdentifier": fid.String(),
		"contentKind":    kind,
		"tasksSubmitted": submitted,
	})
}

func (s *httpServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	fid := r.PathValue("fid")
	prefix := r.URL.Query().Get("prefix")
	s.ops.Cancel(fid, prefix)
	w.WriteHeader(http.StatusNoContent)
}

func (s *httpServer) handlePurge(w http.ResponseWriter, r *http.Request) {
	fid := domain.FileIdentifier(r.PathValue("fid"))
	deleteSource := r.URL.Query().Get("deleteSource") == "true"
	if err := s.ops.Purge(r.Context(), fid, deleteSource); err != nil {
		s.logger.Error("purge failed", "err", err, "file_identifier", fid)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *httpServer) handleTriggerUnfinished(w http.ResponseWriter, r *http.Request) {
	n, err := s.ops.TriggerUnfinished(r.Context())
	if err != nil {
		s.logger.Error("trigger unfinished failed", "err", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"enqueued": n})
}

// QueryRequest is the JSON body for POST /v1/query.
type QueryRequest struct {
	Text        string  `json:"text"`
	Highlight   bool    `json:"highlight,omitempty"`
	TopN        int     `json:"topN,omitempty"`
	ContentKind *string `json:"contentKind,omitempty"`
}

func (req QueryRequest) toQuery() retrieval.Query {
	q := retrieval.Query{Text: req.Text, TopN: req.TopN}
	if req.Highlight {
		q.Mode = retrieval.ModeHighlight
	}
	if req.ContentKind != nil {
		kind := domain.ContentKind(*req.ContentKind)
		q.ContentKind = &kind
	}
	return q
}

func (s *httpServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, `{"error":"text is required"}`, http.StatusBadRequest)
		return
	}

	results, degraded, err := s.retrieval.Search(r.Context(), req.toQuery())
	if err != nil {
		s.logger.Error("query failed", "err", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"results":  results,
		"degraded": degraded,
	})
}

// AnswerRequest is the JSON body for POST /v1/answer.
type AnswerRequest struct {
	QueryRequest
	TopK         int    `json:"topK,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

func (s *httpServer) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, `{"error":"text is required"}`, http.StatusBadRequest)
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}

	stream, refs, degraded, err := s.retrieval.Answer(r.Context(), req.toQuery(), topK, req.SystemPrompt)
	if err != nil {
		s.logger.Error("answer failed", "err", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	enc.Encode(map[string]any{"references": refs, "degraded": degraded})
	if canFlush {
		flusher.Flush()
	}
	for chunk := range stream {
		enc.Encode(map[string]string{"chunk": chunk})
		if canFlush {
			flusher.Flush()
		}
	}
}
