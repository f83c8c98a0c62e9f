package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/xhad/clipping/internal/types"
	"github.com/xhad/clipping/pkg/config"
	"github.com/xhad/clipping/pkg/llm"
	"github.com/xhad/clipping/pkg/processor"
	"github.com/xhad/clipping/pkg/store"
)

type GlobalOptions struct {
	Config   string `short:"c" long:"config" env:"CLIPPING_CONFIG" description:"Path to config file"`
	LogLevel string `long:"log-level" description:"Override logging.level"`
	DryRun   bool   `long:"dry-run" description:"Use an in-memory store instead of Postgres"`
}

var (
	globals GlobalOptions
	rootCtx = context.Background()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCtx = ctx

	parser := flags.NewParser(&globals, flags.Default)
	parser.AddCommand("crawl", "Crawl sources", "Discover, extract, classify and store recent articles from every source.", &CrawlCommand{})
	parser.AddCommand("seed", "Load a catalog", "Load sources, categories, keywords and rules from a catalog file.", &SeedCommand{})
	parser.AddCommand("search", "Semantic search", "Find stored articles by meaning.", &SearchCommand{})
	parser.AddCommand("articles", "List articles", "List stored articles by category, keyword, source and date.", &ArticlesCommand{})
	parser.AddCommand("serve", "Start the websocket server", "Serve search and crawl control over a websocket.", &ServeCommand{})
	parser.AddCommand("delete-keyword", "Delete a keyword", "Delete a keyword and the rules that depend on it.", &DeleteKeywordCommand{})

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}
}

// app holds what a command needs from the environment. vectors is nil when
// the command does not ask for it or no database is configured.
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	pool    *pgxpool.Pool
	catalog store.Catalog
	vectors *store.VectorStore
}

func setup(ctx context.Context, withVectors bool) (*app, error) {
	cfg, err := config.LoadConfig(globals.Config)
	if err != nil {
		return nil, err
	}
	if globals.LogLevel != "" {
		cfg.Logging.Level = globals.LogLevel
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, e := range errs {
			joined[i] = e
		}
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(joined...))
	}

	a := &app{cfg: cfg, log: cfg.NewLogger()}

	if globals.DryRun || cfg.Database.URL == "" {
		a.log.Warn("No database configured, using an in-memory store")
		a.catalog = store.NewMemoryStore()
		return a, nil
	}

	version, _, err := store.Migrate(cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	a.log.WithField("version", version).Debug("Schema up to date")

	if a.pool, err = store.Connect(ctx, cfg.Database.URL); err != nil {
		return nil, err
	}
	a.catalog = store.NewNewsStore(a.pool, store.NewsStoreConfig{Logger: a.log})

	if withVectors {
		embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
			Model:   cfg.Embedder.Model,
			BaseURL: cfg.Embedder.BaseURL,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		proc := processor.NewWithConfig(processor.ProcessorConfig{
			ChunkSize:    cfg.Processor.ChunkSize,
			ChunkOverlap: cfg.Processor.ChunkOverlap,
		})
		a.vectors, err = store.NewVectorStore(ctx, a.pool, embedder, proc, store.VectorStoreConfig{
			TableName:   cfg.Database.TableName,
			VectorDim:   cfg.Database.VectorDim,
			SearchLimit: cfg.Search.Limit,
			MinScore:    cfg.Search.MinScore,
			Logger:      a.log,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize vector store: %w", err)
		}
	}
	return a, nil
}

// ingester returns the vector sink, or nil so that a crawl skips ingest.
func (a *app) ingester() types.Ingester {
	if a.vectors == nil {
		return nil
	}
	return a.vectors
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}
