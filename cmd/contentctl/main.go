// Command contentctl is the direct, non-HTTP control surface for one
// library: it wires the same engine stack as contentd but drives it
// synchronously for a single operation and exits with the exit-code
// taxonomy of spec §6 (0 success, 1 work error, 2 dependency failure,
// 3 cancelled), styled on the teacher's cmd/ingest flag-driven main.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/lumenforge/contentbase/engine/artifact"
	"github.com/lumenforge/contentbase/engine/capability"
	"github.com/lumenforge/contentbase/engine/domain"
	"github.com/lumenforge/contentbase/engine/executor"
	"github.com/lumenforge/contentbase/engine/fulltext"
	"github.com/lumenforge/contentbase/engine/graph"
	"github.com/lumenforge/contentbase/engine/library"
	"github.com/lumenforge/contentbase/engine/ops"
	"github.com/lumenforge/contentbase/engine/pool"
	"github.com/lumenforge/contentbase/engine/retrieval"
	"github.com/lumenforge/contentbase/engine/tasks"
	"github.com/lumenforge/contentbase/engine/vector"
	"github.com/lumenforge/contentbase/pkg/objstore"
	"github.com/lumenforge/contentbase/pkg/ollama"
	"github.com/lumenforge/contentbase/pkg/whispers"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// stack bundles every wired collaborator a subcommand may need. Not
// every subcommand touches every field.
type stack struct {
	files     objstore.Store
	artifacts *artifact.Store
	graph     *graph.GraphStore
	vector    *vector.Store
	fulltext  *fulltext.Index
	registry  *tasks.Registry
	exec      *executor.Executor
	pool      *pool.Pool
	retrieval *retrieval.Engine
	ops       *ops.Surface
	closers   []func() error
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

func wireStack(ctx context.Context, logger *slog.Logger) (*stack, error) {
	dataDir := envOr("DATA_DIR", "/var/lib/contentbase/files")
	dbPath := envOr("ARTIFACT_DB_PATH", "/var/lib/contentbase/artifacts.db")

	files, err := objstore.NewLocalStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("local store: %w", err)
	}

	doc, err := library.Load(ctx, files)
	if err != nil {
		return nil, fmt.Errorf("load library settings: %w", err)
	}
	settings := doc.Settings
	if settings.S3Config != nil {
		if s3Files, err := objstore.NewS3Store(ctx, *settings.S3Config); err == nil {
			files = s3Files
		}
	}

	s := &stack{files: files}

	artifacts, err := artifact.Open(dbPath, files)
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}
	s.artifacts = artifacts
	s.closers = append(s.closers, artifacts.Close)

	neo4jDriver, err := neo4j.NewDriverWithContext(
		envOr("NEO4J_URL", "neo4j://localhost:7687"),
		neo4j.BasicAuth(envOr("NEO4J_USER", "neo4j"), envOr("NEO4J_PASS", "password"), ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	s.graph = graph.New(neo4jDriver)
	s.closers = append(s.closers, func() error { return neo4jDriver.Close(ctx) })

	vectorStore, err := vector.New(envOr("QDRANT_ADDR", "localhost:6334"))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	s.vector = vectorStore
	s.closers = append(s.closers, vectorStore.Close)
	if err := vectorStore.EnsureCollections(ctx); err != nil {
		return nil, fmt.Errorf("ensure qdrant collections: %w", err)
	}

	fulltextIndex, err := fulltext.Open(dataDir+"/.fulltext.bleve", logger)
	if err != nil {
		return nil, fmt.Errorf("fulltext index: %w", err)
	}
	s.fulltext = fulltextIndex
	s.closers = append(s.closers, fulltextIndex.Close)

	ollamaURL := envOr("OLLAMA_URL", "http://localhost:11434")
	textEmbedder := capability.NewBatchedTextEmbedder(ollama.New(ollamaURL, settings.Models.TextEmbedding), 16, 30*time.Second)
	s.closers = append(s.closers, func() error { textEmbedder.Close(); return nil })
	visionTextEmbedder := capability.NewBatchedTextEmbedder(ollama.New(ollamaURL, settings.Models.MultiModalEmbedding), 16, 30*time.Second)
	s.closers = append(s.closers, func() error { visionTextEmbedder.Close(); return nil })
	imageEmbedder := capability.NewBatchedImageEmbedder(ollama.New(ollamaURL, settings.Models.MultiModalEmbedding), 16, 30*time.Second)
	s.closers = append(s.closers, func() error { imageEmbedder.Close(); return nil })
	captioner := capability.NewBatchedCaptioner(ollama.New(ollamaURL, settings.Models.ImageCaption), 8, 30*time.Second)
	s.closers = append(s.closers, func() error { captioner.Close(); return nil })
	transcriber := capability.NewBatchedTranscriber(whispers.New(envOr("WHISPERS_URL", "http://localhost:9000")), 4, 30*time.Second)
	s.closers = append(s.closers, func() error { transcriber.Close(); return nil })
	summarizer := capability.NewBatchedLLM(ollama.New(ollamaURL, settings.Models.LLM), 30*time.Second)
	s.closers = append(s.closers, func() error { summarizer.Close(); return nil })

	chunkTarget := 100
	if v := os.Getenv("CHUNK_TARGET_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			chunkTarget = n
		}
	}

	s.registry = tasks.NewRegistry(tasks.Deps{
		Files:             files,
		Artifacts:         artifacts,
		Graph:             s.graph,
		Vector:            vectorStore,
		FullText:          fulltextIndex,
		TextEmbedder:      textEmbedder,
		ImageEmbedder:     imageEmbedder,
		Captioner:         captioner,
		Transcriber:       transcriber,
		Summarizer:        summarizer,
		ChunkTargetTokens: chunkTarget,
	})
	s.exec = executor.New(s.registry, artifacts, logger)

	workers := 2
	if n, err := strconv.Atoi(os.Getenv("WORKERS")); err == nil && n > 0 {
		workers = n
	}
	s.pool = pool.New(workers)
	s.closers = append(s.closers, func() error { s.pool.Close(); return nil })

	s.retrieval = &retrieval.Engine{
		Vector:             vectorStore,
		FullText:           fulltextIndex,
		Graph:              s.graph,
		TextEmbedder:       textEmbedder,
		VisionTextEmbedder: visionTextEmbedder,
		Artifacts:          artifacts,
		Summarizer:         summarizer,
	}

	s.ops = &ops.Surface{
		Pool:      s.pool,
		Executor:  s.exec,
		Registry:  s.registry,
		Artifacts: artifacts,
		Graph:     s.graph,
		Vector:    vectorStore,
		Files:     files,
		Resolve: func(_ context.Context, fid domain.FileIdentifier) (domain.FileInfo, error) {
			return domain.FileInfo{FileIdentifier: fid, FilePath: artifact.SourceFilePath(fid)}, nil
		},
	}

	return s, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: contentctl <ingest|run|cancel|purge|trigger-unfinished|query> [flags]")
		os.Exit(executor.ExitWorkError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "ingest":
		os.Exit(runIngest(ctx, logger, args))
	case "run":
		os.Exit(runTask(ctx, logger, args))
	case "cancel":
		os.Exit(runCancel(ctx, logger, args))
	case "purge":
		os.Exit(runPurge(ctx, logger, args))
	case "trigger-unfinished":
		os.Exit(runTriggerUnfinished(ctx, logger, args))
	case "query":
		os.Exit(runQuery(ctx, logger, args))
	default:
		fmt.Fprintf(os.Stderr, "contentctl: unknown subcommand %q\n", cmd)
		os.Exit(executor.ExitWorkError)
	}
}

// runIngest computes the content-addressed identifier for a local file,
// copies its bytes into the storage façade, and prints the identifier.
func runIngest(ctx context.Context, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	path := fs.String("path", "", "path to the file to ingest")
	fs.Parse(args)
	if *path == "" {
		fmt.Fprintln(os.Stderr, "contentctl ingest: -path is required")
		return executor.ExitWorkError
	}

	s, err := wireStack(ctx, logger)
	if err != nil {
		logger.Error("wire stack", "err", err)
		return executor.ExitDependencyFailure
	}
	defer s.Close()

	data, err := os.ReadFile(*path)
	if err != nil {
		logger.Error("read source file", "err", err)
		return executor.ExitWorkError
	}

	fid := domain.NewFileIdentifier(data)
	if err := s.files.Write(ctx, artifact.SourceFilePath(fid), data); err != nil {
		logger.Error("write source file", "err", err)
		return executor.ExitWorkError
	}

	fmt.Println(fid.String())
	return executor.ExitSuccess
}

// runTask executes a single task type for a single already-ingested file
// identifier synchronously, exiting with the taxonomy of spec §6.
func runTask(ctx context.Context, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fidFlag := fs.String("file", "", "file identifier")
	taskFlag := fs.String("task", "", "wire-form task type, e.g. raw-text-chunk-sum-embed")
	fs.Parse(args)
	if *fidFlag == "" || *taskFlag == "" {
		fmt.Fprintln(os.Stderr, "contentctl run: -file and -task are required")
		return executor.ExitWorkError
	}

	tt, err := domain.ParseTaskType(*taskFlag)
	if err != nil {
		logger.Error("parse task type", "err", err)
		return executor.ExitWorkError
	}

	s, err := wireStack(ctx, logger)
	if err != nil {
		logger.Error("wire stack", "err", err)
		return executor.ExitDependencyFailure
	}
	defer s.Close()

	fid := domain.FileIdentifier(*fidFlag)
	file := domain.FileInfo{FileIdentifier: fid, FilePath: artifact.SourceFilePath(fid)}

	result, err := s.exec.Run(ctx, tt, file)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCancelled):
			return executor.ExitCancelled
		case result.Record.ExitCode != nil:
			logger.Error("run task", "err", err, "task_type", tt, "file_identifier", fid)
			return *result.Record.ExitCode
		default:
			logger.Error("run task", "err", err, "task_type", tt, "file_identifier", fid)
			return executor.ExitWorkError
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.Encode(result.Record)
	return executor.ExitSuccess
}

func runCancel(ctx context.Context, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	fid := fs.String("file", "", "file identifier")
	prefix := fs.String("prefix", "", "only cancel task types under this wire-form prefix")
	fs.Parse(args)
	if *fid == "" {
		fmt.Fprintln(os.Stderr, "contentctl cancel: -file is required")
		return executor.ExitWorkError
	}

	s, err := wireStack(ctx, logger)
	if err != nil {
		logger.Error("wire stack", "err", err)
		return executor.ExitDependencyFailure
	}
	defer s.Close()

	s.ops.Cancel(*fid, *prefix)
	return executor.ExitSuccess
}

func runPurge(ctx context.Context, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	fid := fs.String("file", "", "file identifier")
	deleteSource := fs.Bool("delete-source", false, "also remove the original file bytes")
	fs.Parse(args)
	if *fid == "" {
		fmt.Fprintln(os.Stderr, "contentctl purge: -file is required")
		return executor.ExitWorkError
	}

	s, err := wireStack(ctx, logger)
	if err != nil {
		logger.Error("wire stack", "err", err)
		return executor.ExitDependencyFailure
	}
	defer s.Close()

	if err := s.ops.Purge(ctx, domain.FileIdentifier(*fid), *deleteSource); err != nil {
		logger.Error("purge", "err", err)
		return executor.ExitWorkError
	}
	return executor.ExitSuccess
}

func runTriggerUnfinished(ctx context.Context, logger *slog.Logger, _ []string) int {
	s, err := wireStack(ctx, logger)
	if err != nil {
		logger.Error("wire stack", "err", err)
		return executor.ExitDependencyFailure
	}
	defer s.Close()

	n, err := s.ops.TriggerUnfinished(ctx)
	if err != nil {
		logger.Error("trigger unfinished", "err", err)
		return executor.ExitWorkError
	}
	fmt.Fprintf(os.Stdout, "enqueued %d task(s)\n", n)
	return executor.ExitSuccess
}

func runQuery(ctx context.Context, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	text := fs.String("text", "", "query text")
	highlight := fs.Bool("highlight", false, "use phrase-highlight full-text mode")
	topN := fs.Int("top-n", 0, "override the default fused-result cap")
	fs.Parse(args)
	if *text == "" {
		fmt.Fprintln(os.Stderr, "contentctl query: -text is required")
		return executor.ExitWorkError
	}

	s, err := wireStack(ctx, logger)
	if err != nil {
		logger.Error("wire stack", "err", err)
		return executor.ExitDependencyFailure
	}
	defer s.Close()

	q := retrieval.Query{Text: *text, TopN: *topN}
	if *highlight {
		q.Mode = retrieval.ModeHighlight
	}

	results, degraded, err := s.retrieval.Search(ctx, q)
	if err != nil {
		logger.Error("query", "err", err)
		return executor.ExitWorkError
	}

	enc := json.NewEncoder(os.Stdout)
	enc.Encode(map[string]any{"results": results, "degraded": degraded})
	return executor.ExitSuccess
}
