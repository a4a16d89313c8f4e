// Package main is the apex CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/apex/internal/cli"
	"github.com/hyperjump/apex/internal/config"
	"github.com/hyperjump/apex/internal/fileid"
	"github.com/hyperjump/apex/internal/hnsw"
	"github.com/hyperjump/apex/internal/indexer"
	"github.com/hyperjump/apex/internal/models"
	"github.com/hyperjump/apex/internal/search"
	"github.com/hyperjump/apex/internal/server"
	"github.com/hyperjump/apex/internal/storage"
	"github.com/hyperjump/apex/internal/vector"
	"github.com/hyperjump/apex/internal/watcher"
	"github.com/hyperjump/apex/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/apex/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// resolveConfigPath picks the file loadConfig reads. An explicit path is used
// as given. For the default path, ./config.yaml wins when present; when neither
// exists the result is empty and built-in defaults apply.
func resolveConfigPath(path, cwd string) string {
	if path != defaultConfigPath || cwd == "" {
		return path
	}
	for _, candidate := range []string{filepath.Join(cwd, "config.yaml"), path} {
		if _, err := os.Stat(candidate); !errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
	return ""
}

// loadConfig returns the config and the file it came from. The path is empty
// when built-in defaults rooted at the working directory were used, in which
// case nothing gets saved back.
func loadConfig(path string) (*config.Config, string, error) {
	cwd, _ := os.Getwd()
	resolved := resolveConfigPath(path, cwd)
	if resolved == "" {
		return config.Default(cwd), "", nil
	}
	cfg, err := config.Load(resolved)
	if err != nil {
		return nil, "", err
	}
	return cfg, resolved, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "add":
		runAdd()
	case "search":
		runSearch()
	case "ingest":
		runIngest()
	case "status":
		runStatus()
	case "watch":
		runWatch()
	case "version", "--version", "-v":
		fmt.Printf("apex version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (graph inserts, file ingestion, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.Int("dimensions", cfg.Index.Dimensions),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loaded, err := components.Indexer.Rebuild(ctx)
	if err != nil {
		logger.Fatal("Failed to rebuild index", zap.Error(err))
	}
	logger.Info(fmt.Sprintf("ready, loaded %d vectors", loaded))

	watchSvc := watcher.NewWatcher(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		components.Indexer,
		watcher.WithLogger(logger),
	)
	srv := server.NewServer(
		components.Engine,
		components.Indexer,
		components.Storage,
		components.Index,
		cfg,
		logger,
		watchSvc,
		resolvedConfigPath,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return watchSvc.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server exited", zap.Error(err))
		components.Close()
		os.Exit(1)
	}
}

// parseVector reads a vector given as a JSON array ("[0.1, 0.2]") or as bare
// comma-separated numbers ("0.1,0.2"). Arguments are joined first so shells
// that split on spaces do not matter.
func parseVector(args []string) ([]float32, error) {
	s := strings.TrimSpace(strings.Join(args, " "))
	if s == "" {
		return nil, errors.New("vector is required")
	}
	if !strings.HasPrefix(s, "[") {
		s = "[" + s + "]"
	}
	var vec []float32
	if err := json.Unmarshal([]byte(s), &vec); err != nil {
		return nil, fmt.Errorf("parse vector: %w", err)
	}
	if len(vec) == 0 {
		return nil, errors.New("vector is empty")
	}
	return vec, nil
}

// searchConfigPathFromArgs returns the value of -config/--config from args if present, else defaultPath.
func searchConfigPathFromArgs(args []string, defaultPath string) string {
	for i, a := range args {
		if (a == "-config" || a == "--config") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return defaultPath
}

// searchDefaultKFromConfig loads config at path and returns search.default_k.
// On load failure it returns models.DefaultK.
func searchDefaultKFromConfig(path string) int {
	cfg, _, err := loadConfig(path)
	if err != nil || cfg == nil || cfg.Search.DefaultK <= 0 {
		return models.DefaultK
	}
	return cfg.Search.DefaultK
}

// searchArgsReorder moves any flags (and their values) that appear after the
// vector to the front of the slice so that flag.Parse() sees them. Go's flag
// package stops at the first non-flag argument, so "apex search [1,0] -k 5"
// would otherwise leave -k unparsed. A leading "-" followed by a digit is a
// negative vector component, not a flag.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if isFlagArg(a) {
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

func isFlagArg(a string) bool {
	if len(a) < 2 || a[0] != '-' {
		return false
	}
	c := a[1]
	return c != '.' && (c < '0' || c > '9')
}

func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: apex search [flags] <vector>\n\n")
	fmt.Fprintf(fs.Output(), "The vector is a JSON array or comma-separated numbers.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  apex search "[0.12, -0.4, 0.9]"
  apex search -k 3 0.12,-0.4,0.9
  apex search --min-score 0.8 --output json "[0.12, -0.4, 0.9]"
  apex search --server "" "[0.12, -0.4, 0.9]"      # read the database directly
`)
}

func runSearch() {
	searchArgs := searchArgsReorder(os.Args[2:])
	configPath := searchConfigPathFromArgs(searchArgs, defaultConfigPath)

	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPathFlag := fs.String("config", defaultConfigPath, "config file path (direct mode and default k)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = load the database directly)")
	k := fs.Int("k", searchDefaultKFromConfig(configPath), "number of results")
	minScore := fs.Float64("min-score", 0, "drop results with similarity below this (0 disables)")
	outputFormat := fs.String("output", "text", "output format: text (human-readable) or json (parseable)")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgs)

	vec, err := parseVector(fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid vector: %v\n", err)
		printSearchUsage(fs)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	query := &models.SearchQuery{Vector: vec, K: *k, MinScore: *minScore}
	ctx := context.Background()

	var response *models.SearchResponse
	if *serverURL != "" {
		response, err = cli.NewClient(*serverURL, 0).Search(ctx, query)
	} else {
		response, err = searchDirect(ctx, *configPathFlag, query)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// searchDirect rebuilds the index from the database and queries it in-process.
func searchDirect(ctx context.Context, configPath string, query *models.SearchQuery) (*models.SearchResponse, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := utils.NewCLILogger(cfg.Debug)
	if err != nil {
		return nil, err
	}
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer components.Close()
	if _, err := components.Indexer.Rebuild(ctx); err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}
	return components.Engine.Search(ctx, query)
}

func runAdd() {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	id := fs.String("id", "", "document id (generated when empty)")
	docURL := fs.String("url", "", "source URL of the document")
	content := fs.String("content", "", "text the vector was computed from")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	vec, err := parseVector(fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid vector: %v\n", err)
		fmt.Fprintln(os.Stderr, "Usage: apex add [--id id] [--url url] [--content text] <vector>")
		os.Exit(1)
	}
	input := &models.DocumentInput{ID: *id, Vector: vec, URL: *docURL, Content: *content}
	res, err := cli.NewClient(*serverURL, 0).Add(context.Background(), input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Add failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Document indexed: %s (internal id %d)\n", res.ID, res.InternalID)
}

// ingestClient is the part of cli.Client that ingestion needs.
type ingestClient interface {
	Add(ctx context.Context, input *models.DocumentInput) (*cli.AddResult, error)
}

// collectFiles returns path itself when it is a file, or every file under it
// whose extension is in exts.
func collectFiles(path string, exts []string) ([]string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{abs}, nil
	}
	var files []string
	err = filepath.WalkDir(abs, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !hasExtension(p, exts) {
			return nil
		}
		files = append(files, p)
		return nil
	})
	return files, err
}

func hasExtension(path string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range exts {
		if strings.TrimPrefix(strings.ToLower(strings.TrimSpace(e)), ".") == ext {
			return true
		}
	}
	return false
}

// ingestFile posts every document in a JSON or JSONL file. Documents without
// an id get the same file-derived id the server's watcher would give them.
func ingestFile(ctx context.Context, client ingestClient, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	inputs, err := indexer.DecodeDocuments(f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	n := 0
	for i, input := range inputs {
		if input == nil {
			continue
		}
		if input.ID == "" {
			input.ID = fileid.DocID(path, i)
		}
		if _, err := client.Add(ctx, input); err != nil {
			return n, fmt.Errorf("%s: document %d: %w", path, i, err)
		}
		n++
	}
	return n, nil
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	extList := fs.String("ext", ".jsonl,.json", "comma-separated extensions to ingest from directories")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: apex ingest [flags] <file-or-directory>")
		os.Exit(1)
	}
	files, err := collectFiles(fs.Arg(0), strings.Split(*extList, ","))
	if err != nil {
		fmt.Printf("Failed to read %s: %v\n", fs.Arg(0), err)
		os.Exit(1)
	}
	client := cli.NewClient(*serverURL, 0)
	ctx := context.Background()
	total := 0
	for _, f := range files {
		n, err := ingestFile(ctx, client, f)
		total += n
		if err != nil {
			fmt.Printf("Ingest failed after %d document(s): %v\n", total, err)
			os.Exit(1)
		}
	}
	fmt.Printf("Ingested %d document(s) from %d file(s)\n", total, len(files))
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read the database directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ctx := context.Background()
	var status *cli.Status
	if *serverURL != "" {
		status, err = cli.NewClient(*serverURL, 0).Status(ctx)
	} else {
		status, err = statusDirect(ctx, *configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// statusDirect reports on the database and the graph rebuilt from it.
func statusDirect(ctx context.Context, configPath string) (*cli.Status, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := utils.NewCLILogger(cfg.Debug)
	if err != nil {
		return nil, err
	}
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer components.Close()
	if _, err := components.Indexer.Rebuild(ctx); err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}
	docCount, err := components.Storage.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	stats := components.Index.Stats()
	status := &cli.Status{
		Documents:  docCount,
		Vectors:    components.Index.Size(),
		Dimensions: components.Index.Dimensions(),
		Graph:      &stats,
		Config: map[string]interface{}{
			"database_path":   cfg.Storage.DatabasePath,
			"m":               cfg.Index.M,
			"ef_construction": cfg.Index.EfConstruction,
			"ef_search":       cfg.Index.EfSearch,
			"max_level":       cfg.Index.MaxLevel,
			"default_k":       cfg.Search.DefaultK,
			"max_k":           cfg.Search.MaxK,
		},
	}
	if diskBytes, err := storage.DiskUsageBytes(storage.DatabaseFiles(cfg.Storage.DatabasePath)...); err == nil {
		status.DiskUsageBytes = &diskBytes
	}
	return status, nil
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: apex watch <add|remove|list> [path]")
		fmt.Println("  apex watch add <path>     Add directory to watch")
		fmt.Println("  apex watch remove <path>  Remove directory from watch")
		fmt.Println("  apex watch list           List watched directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	syncExisting := fs.Bool("sync", true, "ingest files already in the directory (add only)")
	_ = fs.Parse(os.Args[3:])

	client := cli.NewClient(*serverURL, 0)
	ctx := context.Background()
	switch sub {
	case "add", "remove":
		if fs.NArg() < 1 {
			fmt.Printf("Usage: apex watch %s <path>\n", sub)
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		done := "Added"
		var err error
		if sub == "add" {
			err = client.AddWatchDirectory(ctx, path, *syncExisting)
		} else {
			done = "Removed"
			err = client.RemoveWatchDirectory(ctx, path)
		}
		if err != nil {
			fmt.Printf("Watch %s failed: %v\n", sub, err)
			os.Exit(1)
		}
		fmt.Printf("%s: %s\n", done, path)
	case "list":
		dirs, err := client.WatchDirectories(ctx)
		if err != nil {
			fmt.Printf("List failed: %v\n", err)
			os.Exit(1)
		}
		for _, d := range dirs {
			fmt.Println(d)
		}
	default:
		fmt.Printf("Unknown watch subcommand: %s\n", sub)
		os.Exit(1)
	}
}

// Components holds initialized services.
type Components struct {
	Storage storage.Storage
	Index   *vector.Index
	Indexer *indexer.Indexer
	Engine  *search.Engine
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
		c.Storage = nil
	}
}

func graphOptions(cfg *config.IndexConfig) []hnsw.Option {
	return []hnsw.Option{
		hnsw.WithM(cfg.M),
		hnsw.WithEfConstruction(cfg.EfConstruction),
		hnsw.WithEfSearch(cfg.EfSearch),
		hnsw.WithMaxLevel(cfg.MaxLevel),
		hnsw.WithSeed(cfg.Seed),
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	index, err := vector.NewIndex(cfg.Index.Dimensions,
		vector.WithLogger(logger),
		vector.WithGraphOptions(graphOptions(&cfg.Index)...),
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	logger.Info("vector index initialized",
		zap.Int("dimensions", cfg.Index.Dimensions),
		zap.Int("m", cfg.Index.M),
		zap.Int("ef_construction", cfg.Index.EfConstruction),
		zap.Int("ef_search", cfg.Index.EfSearch),
		zap.Int("max_level", cfg.Index.MaxLevel))

	return &Components{
		Storage: store,
		Index:   index,
		Indexer: indexer.NewIndexer(store, index, indexer.WithLogger(logger)),
		Engine:  search.NewEngine(index, &cfg.Search, search.WithLogger(logger)),
	}, nil
}

func printUsage() {
	fmt.Println(`apex - HNSW vector similarity search service

Usage:
  apex server [flags]             Start the HTTP server
  apex add [flags] <vector>       Add a document to a running server
  apex search [flags] <vector>    Find the nearest documents to a vector
  apex ingest [flags] <path>      Post JSON/JSONL documents to a running server
  apex status [flags]             Show index, storage and graph status
  apex watch <add|remove|list>    Manage watched directories
  apex version                    Show version
  apex help                       Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/apex/config.yaml)
  --debug            Enable debug logging

Add Flags:
  --server string    Server URL (default: http://localhost:8080)
  --id string        Document id (generated when empty)
  --url string       Source URL
  --content string   Text the vector was computed from

Search Flags:
  --config string      Config file path (direct mode; also the default k)
  --server string      Server URL (default: http://localhost:8080). Use --server "" to read the database directly.
  --k int              Number of results (default from config, or 10)
  --min-score float    Drop results below this similarity
  --output string      Output format: text or json (default: text)

Ingest Flags:
  --server string    Server URL (default: http://localhost:8080)
  --ext string       Extensions to ingest from directories (default: .jsonl,.json)

Status Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" for direct mode.
  --output string    Output format: text or json (default: text)

Examples:
  apex server
  apex add --id doc-1 --url https://example.com "[0.1, 0.2, 0.3]"
  apex search -k 5 "[0.1, 0.2, 0.3]"
  apex search --output json 0.1,0.2,0.3
  apex ingest ./crawl
  apex status --output json
  apex watch add /path/to/crawl`)
}
