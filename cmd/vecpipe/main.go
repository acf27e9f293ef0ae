// Package main is the vecpipe CLI entry point.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/vecpipe/internal/cli"
	"github.com/hyperjump/vecpipe/internal/config"
	"github.com/hyperjump/vecpipe/internal/embedding"
	"github.com/hyperjump/vecpipe/internal/index"
	"github.com/hyperjump/vecpipe/internal/metrics"
	"github.com/hyperjump/vecpipe/internal/models"
	"github.com/hyperjump/vecpipe/internal/pipeline"
	"github.com/hyperjump/vecpipe/internal/server"
	"github.com/hyperjump/vecpipe/internal/source"
	"github.com/hyperjump/vecpipe/internal/watcher"
	"github.com/hyperjump/vecpipe/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/vecpipe/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory takes precedence, and a missing default file means built-in defaults.
// Returns the config and the path that was loaded ("" for built-in defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				if err != nil {
					return nil, "", err
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "run":
		runRun(args)
	case "ingest":
		runIngest(args)
	case "query":
		runQuery(args)
	case "watch":
		runWatch(args)
	case "server":
		runServer(args)
	case "collection":
		runCollection(args)
	case "init-config":
		runInitConfig(args)
	case "version", "--version", "-v":
		fmt.Printf("vecpipe version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`vecpipe - embed documents into a vector collection and query it

Usage:
  vecpipe run [flags] <text>...        Ingest texts, then query with one of them
  vecpipe ingest [flags] <path>...     Ingest files or directories
  vecpipe query [flags] <text>         Query the collection
  vecpipe watch [flags] [dir...]       Keep the collection in sync with directories
  vecpipe server [flags]               Start the HTTP API
  vecpipe collection <info|ensure|drop> [flags]
  vecpipe init-config [flags] [path]   Write a config file with defaults
  vecpipe version
  vecpipe help

Run "vecpipe <command> -h" for command flags.
`)
}

// commonFlags registers the flags every pipeline command has.
type commonFlags struct {
	configPath *string
	debug      *bool
	output     *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		debug:      fs.Bool("debug", false, "enable debug logging"),
		output:     fs.String("output", "text", "output format: text, compact, or json"),
	}
}

// setup loads config, builds the logger and output format, and exits on failure.
func (f commonFlags) setup() (*config.Config, *zap.Logger, cli.OutputFormat) {
	cfg, resolved, err := loadConfig(*f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*f.output)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *f.debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return cfg, logger, format
}

// argsReorder moves flags that appear after positional arguments to the front so that
// flag.Parse sees them ("vecpipe query some text -top-k 3").
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildQuery joins positional args so multi-word queries work with or without quotes.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// readLines returns the non-blank lines of r as documents.
func readLines(r io.Reader) ([]models.Document, error) {
	var docs []models.Document
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if line := sc.Text(); strings.TrimSpace(line) != "" {
			docs = append(docs, models.Document{Text: line})
		}
	}
	return docs, sc.Err()
}

func fatal(logger *zap.Logger, msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	_ = logger.Sync()
	os.Exit(1)
}

func runRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	common := addCommonFlags(fs)
	topK := fs.Int("top-k", 0, "number of matches (default: pipeline.top_k)")
	queryIndex := fs.Int("query-index", 0, "index of the document to query with")
	stdin := fs.Bool("stdin", false, "read one document per line from stdin")
	skipQuery := fs.Bool("skip-query", false, "ingest only")
	_ = fs.Parse(argsReorder(args))

	cfg, logger, format := common.setup()
	defer logger.Sync()

	docs := models.NewDocuments(fs.Args()...)
	if *stdin {
		lines, err := readLines(os.Stdin)
		if err != nil {
			fatal(logger, "Failed to read stdin", err)
		}
		docs = append(docs, lines...)
	}
	if len(docs) == 0 {
		fmt.Println("Usage: vecpipe run [flags] <text>...")
		os.Exit(1)
	}

	c, err := initializeComponents(cfg, logger)
	if err != nil {
		fatal(logger, "Failed to initialize", err)
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	res, err := c.pipeline.Run(ctx, pipeline.RunRequest{
		Documents:  docs,
		QueryIndex: *queryIndex,
		TopK:       *topK,
		SkipQuery:  *skipQuery,
	})
	if res != nil {
		_ = cli.WriteRunResult(os.Stdout, res, format)
	}
	if err != nil {
		fatal(logger, "Run failed", err)
	}
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	common := addCommonFlags(fs)
	recursive := fs.Bool("recursive", true, "descend into subdirectories")
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() < 1 {
		fmt.Println("Usage: vecpipe ingest [flags] <path>...")
		os.Exit(1)
	}

	cfg, logger, format := common.setup()
	defer logger.Sync()
	loader := source.NewLoader(cfg.Source, source.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var docs []models.Document
	files := 0
	for _, path := range fs.Args() {
		info, err := os.Stat(path)
		if err != nil {
			fatal(logger, "Failed to stat path", err)
		}
		if info.IsDir() {
			dirDocs, n, err := loader.LoadDirectory(ctx, path, *recursive)
			if err != nil {
				fatal(logger, "Failed to load directory", err)
			}
			docs = append(docs, dirDocs...)
			files += n
			continue
		}
		fileDocs, err := loader.LoadFile(path)
		if err != nil {
			fatal(logger, "Failed to load file", err)
		}
		docs = append(docs, fileDocs...)
		files++
	}
	fmt.Printf("Loaded %d chunks from %d files\n", len(docs), files)
	if len(docs) == 0 {
		return
	}

	c, err := initializeComponents(cfg, logger)
	if err != nil {
		fatal(logger, "Failed to initialize", err)
	}
	defer c.Close()

	res, err := c.pipeline.Ingest(ctx, docs)
	if res != nil {
		_ = cli.WriteRunResult(os.Stdout, res, format)
	}
	if err != nil {
		fatal(logger, "Ingest failed", err)
	}
}

func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	common := addCommonFlags(fs)
	topK := fs.Int("top-k", 0, "number of matches (default: pipeline.top_k)")
	serverURL := fs.String("server", "", "query a running vecpipe server instead of the index directly")
	_ = fs.Parse(argsReorder(args))

	text := buildQuery(fs.Args())
	if text == "" {
		fmt.Println("Usage: vecpipe query [flags] <text>")
		os.Exit(1)
	}
	cfg, logger, format := common.setup()
	defer logger.Sync()

	var (
		matches []models.Match
		err     error
	)
	if *serverURL != "" {
		matches, err = queryViaHTTP(*serverURL, text, *topK)
	} else {
		var c *components
		c, err = initializeComponents(cfg, logger)
		if err != nil {
			fatal(logger, "Failed to initialize", err)
		}
		defer c.Close()
		matches, err = c.pipeline.Query(context.Background(), text, *topK)
	}
	if err != nil {
		fatal(logger, "Query failed", err)
	}
	if err := cli.WriteMatches(os.Stdout, matches, format); err != nil {
		fatal(logger, "Output failed", err)
	}
}

func queryViaHTTP(serverURL, text string, topK int) ([]models.Match, error) {
	body, err := json.Marshal(map[string]any{"text": text, "top_k": topK})
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(strings.TrimRight(serverURL, "/")+"/api/v1/query", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out struct {
		Matches []models.Match `json:"matches"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Matches, nil
}

// startWatcher watches dirs and ingests changes through p. It returns nil when dirs is empty.
func startWatcher(ctx context.Context, cfg *config.Config, dirs []string, p *pipeline.Pipeline, logger *zap.Logger) (*watcher.Watcher, error) {
	if len(dirs) == 0 {
		return nil, nil
	}
	loader := source.NewLoader(cfg.Source, source.WithLogger(logger))
	w := watcher.New(dirs, cfg.Watch.RecursiveOrDefault(), loader.Allowed,
		watcher.NewPipelineHandler(loader, p, logger),
		watcher.WithLogger(logger),
		watcher.WithDebounce(cfg.Watch.Debounce),
	)
	if err := w.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start watcher: %w", err)
	}
	go func() {
		if err := w.Sync(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("initial sync failed", zap.Error(err))
		}
	}()
	return w, nil
}

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	common := addCommonFlags(fs)
	_ = fs.Parse(argsReorder(args))

	cfg, logger, _ := common.setup()
	defer logger.Sync()
	dirs := cfg.Watch.Directories
	if fs.NArg() > 0 {
		dirs = fs.Args()
	}
	if len(dirs) == 0 {
		fmt.Println("Usage: vecpipe watch [flags] <dir>... (or set watch.directories)")
		os.Exit(1)
	}

	c, err := initializeComponents(cfg, logger)
	if err != nil {
		fatal(logger, "Failed to initialize", err)
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	w, err := startWatcher(ctx, cfg, dirs, c.pipeline, logger)
	if err != nil {
		fatal(logger, "Watch failed", err)
	}
	defer w.Stop()
	logger.Info("watching", zap.Strings("directories", w.Directories()), zap.String("collection", c.pipeline.Collection()))
	<-ctx.Done()
	logger.Info("Shutting down...")
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	common := addCommonFlags(fs)
	_ = fs.Parse(args)

	cfg, logger, _ := common.setup()
	defer logger.Sync()

	c, err := initializeComponents(cfg, logger)
	if err != nil {
		fatal(logger, "Failed to initialize components", err)
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	w, err := startWatcher(ctx, cfg, cfg.Watch.Directories, c.pipeline, logger)
	if err != nil {
		fatal(logger, "Failed to start watcher", err)
	}
	if w != nil {
		defer w.Stop()
	}

	srv := server.NewServer(c.pipeline, cfg, c.metrics, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "Server failed", err)
		}
	case <-ctx.Done():
	}
	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

func runCollection(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: vecpipe collection <info|ensure|drop> [flags]")
		os.Exit(1)
	}
	sub := args[0]
	fs := flag.NewFlagSet("collection", flag.ExitOnError)
	common := addCommonFlags(fs)
	_ = fs.Parse(args[1:])

	cfg, logger, format := common.setup()
	defer logger.Sync()
	c, err := initializeComponents(cfg, logger)
	if err != nil {
		fatal(logger, "Failed to initialize", err)
	}
	defer c.Close()

	ctx := context.Background()
	switch sub {
	case "info":
		info, err := c.pipeline.Info(ctx)
		if err != nil {
			fatal(logger, "Info failed", err)
		}
		_ = cli.WriteCollectionInfo(os.Stdout, info, format)
	case "ensure":
		state, err := c.pipeline.EnsureCollection(ctx)
		if err != nil {
			fatal(logger, "Ensure failed", err)
		}
		fmt.Printf("Collection %s: %s\n", c.pipeline.Collection(), state)
	case "drop":
		if err := c.pipeline.DropCollection(ctx); err != nil {
			fatal(logger, "Drop failed", err)
		}
		fmt.Printf("Collection dropped: %s\n", c.pipeline.Collection())
	default:
		fmt.Printf("Unknown collection subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func runInitConfig(args []string) {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(args)
	path := defaultConfigPath
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if err := writeDefaultConfig(path, *force); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config written: %s\n", path)
}

func writeDefaultConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use -force to overwrite)", path)
	}
	return config.Save(path, config.Default())
}

// components holds initialized services.
type components struct {
	embedder embedding.Embedder
	index    index.Service
	metrics  *metrics.Metrics
	pipeline *pipeline.Pipeline
}

func (c *components) Close() {
	if c.index != nil {
		_ = c.index.Close()
	}
	if c.embedder != nil {
		_ = c.embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	pcfg, err := pipeline.ConfigFrom(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	e, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	svc, err := index.New(cfg.Index, logger)
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to initialize index: %w", err)
	}
	c := &components{embedder: e, index: svc}
	if cfg.Metrics.Enabled {
		c.metrics = metrics.New()
	}
	c.pipeline, err = pipeline.New(e, svc, pcfg, pipeline.WithLogger(logger), pipeline.WithMetrics(c.metrics))
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}
