package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/clipping/internal/models"
	"github.com/xhad/clipping/pkg/config"
	"github.com/xhad/clipping/pkg/crawl"
	"github.com/xhad/clipping/pkg/rules"
	"github.com/xhad/clipping/pkg/search"
	"github.com/xhad/clipping/server"
)

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("sources"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// searcher builds the search service over whatever stores a has.
func (a *app) searcher() *search.Service {
	loc, _ := a.cfg.Location()
	var vectors search.VectorSearcher
	if a.vectors != nil {
		vectors = a.vectors
	}
	return search.NewWithConfig(vectors, a.catalog, search.SearchConfig{
		Limit:    a.cfg.Search.Limit,
		MinScore: a.cfg.Search.MinScore,
		Location: loc,
	})
}

type CrawlCommand struct {
	Sources  []string `short:"s" long:"source" description:"Only crawl this source id (repeatable)"`
	FromDate string   `long:"from" description:"Crawl articles published since this date (YYYY-MM-DD)"`
	Catalog  string   `long:"catalog" description:"Seed this catalog file before crawling"`
	NoIngest bool     `long:"no-ingest" description:"Skip vector ingest of accepted articles"`
}

func (c *CrawlCommand) Execute(args []string) error {
	a, err := setup(rootCtx, !c.NoIngest)
	if err != nil {
		return err
	}
	defer a.Close()

	if c.Catalog != "" {
		if err := seedCatalog(a, c.Catalog); err != nil {
			return err
		}
	}

	crawler := crawl.New(a.cfg, a.catalog, a.ingester(), a.log)
	job, err := crawler.Start(rootCtx, crawl.Options{Sources: c.Sources, FromDate: c.FromDate})
	if err != nil {
		return fmt.Errorf("failed to start crawl: %w", err)
	}

	color.Blue("\nCrawl %s: %d sources\n", job.ID, job.Total)
	bar := getProgressBar(job.Total, "Crawling sources...")
	var failed []string
	for ev := range job.Progress {
		if ev.Kind != crawl.EventSource || ev.Source == nil {
			continue
		}
		bar.Add(1)
		bar.Describe(color.BlueString("Crawling sources... (%s)", ev.Source.SourceID))
		if ev.Source.Err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", ev.Source.SourceID, ev.Source.Err))
		}
	}
	bar.Finish()

	result, err := job.Wait()
	stats := result.Pipeline
	fmt.Println()
	color.Green("✓ Dispatched %d articles since %s\n", result.Dispatched(), result.Cutoff.Format(time.DateOnly))
	color.Green("✓ Accepted %d, stored %d, ingested %d\n", stats.Accepted, stats.Stored, stats.Ingested)
	if n := stats.FetchFailed + stats.Rejected; n > 0 {
		color.Yellow("  %d pages failed to fetch or extract, %d unclassified\n", n, stats.Unclassified)
	}
	if stats.StoreFailed+stats.IngestFailed > 0 {
		color.Red("  %d store failures, %d ingest failures (see %s)\n", stats.StoreFailed, stats.IngestFailed, a.cfg.Database.FailedArticlesPath)
	}
	for _, f := range failed {
		color.Yellow("  ! %s\n", f)
	}
	fmt.Printf("  Finished in %s\n", result.Finished.Sub(result.Started).Round(time.Millisecond))
	return err
}

type SeedCommand struct {
	Args struct {
		Catalog string `positional-arg-name:"catalog" description:"Catalog YAML file"`
	} `positional-args:"yes" required:"yes"`
}

func (c *SeedCommand) Execute(args []string) error {
	a, err := setup(rootCtx, false)
	if err != nil {
		return err
	}
	defer a.Close()
	return seedCatalog(a, c.Args.Catalog)
}

func seedCatalog(a *app, path string) error {
	catalog, err := config.LoadCatalog(path)
	if err != nil {
		return err
	}
	sources, seed, err := buildSeed(catalog)
	if err != nil {
		return err
	}
	if err := a.catalog.Seed(rootCtx, sources, seed); err != nil {
		return fmt.Errorf("failed to seed catalog: %w", err)
	}
	color.Green("✓ Seeded %d sources, %d categories, %d keywords, %d rules\n",
		len(sources), len(seed.Categories), len(seed.Keywords), len(seed.Rules))
	return nil
}

// buildSeed turns a catalog file into sources and a validated rule seed.
func buildSeed(catalog *config.Catalog) ([]models.Source, *rules.Seed, error) {
	sources := make([]models.Source, 0, len(catalog.Sources))
	for _, src := range catalog.Sources {
		id := models.SourceID(src.URL)
		if id == "" {
			return nil, nil, fmt.Errorf("source %q: invalid url %q", src.Name, src.URL)
		}
		home := src.URL
		if !strings.Contains(home, "://") {
			home = "https://" + home
		}
		sources = append(sources, models.Source{
			ID:       id,
			Name:     src.Name,
			HomeURL:  home,
			Sitemaps: src.Sitemaps,
		})
	}

	categories := make([]rules.CategoryRules, len(catalog.Categories))
	for i, cat := range catalog.Categories {
		categories[i] = rules.CategoryRules{Name: cat.Name, Descriptions: cat.Rules}
	}
	seed, err := rules.BuildSeed(categories)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return sources, seed, nil
}

type SearchCommand struct {
	Limit int    `short:"n" long:"limit" description:"Maximum number of articles"`
	From  string `long:"from" description:"Published on or after (YYYY-MM-DD)"`
	To    string `long:"to" description:"Published on or before (YYYY-MM-DD)"`
	Args  struct {
		Query []string `positional-arg-name:"query" required:"1"`
	} `positional-args:"yes"`
}

func (c *SearchCommand) Execute(args []string) error {
	a, err := setup(rootCtx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	spinner := getSpinner(" Searching articles...")
	hits, err := a.searcher().Semantic(rootCtx, search.Request{
		Query: strings.Join(c.Args.Query, " "),
		Limit: c.Limit,
		From:  c.From,
		To:    c.To,
	})
	spinner.Finish()
	fmt.Print("\r")
	if err != nil {
		return err
	}

	if len(hits) == 0 {
		color.Yellow("No articles found\n")
		return nil
	}
	title := color.New(color.FgCyan, color.Bold).PrintfFunc()
	for i, h := range hits {
		title("\n%d. %s\n", i+1, h.Title)
		fmt.Printf("   %s  %s  score %.2f\n", h.Date, h.Source, h.Score)
		color.Blue("   %s\n", h.URL)
	}
	return nil
}

type ArticlesCommand struct {
	Categories []string `long:"category" description:"Category name (repeatable)"`
	Keywords   []string `long:"keyword" description:"Keyword (repeatable)"`
	Sources    []string `long:"source" description:"Source id (repeatable)"`
	From       string   `long:"from" description:"Published on or after (YYYY-MM-DD)"`
	To         string   `long:"to" description:"Published on or before (YYYY-MM-DD)"`
	Limit      int      `short:"n" long:"limit" description:"Maximum number of articles"`
}

func (c *ArticlesCommand) Execute(args []string) error {
	a, err := setup(rootCtx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	articles, err := a.searcher().Articles(rootCtx, search.Request{
		Categories: c.Categories,
		Keywords:   c.Keywords,
		Sources:    c.Sources,
		From:       c.From,
		To:         c.To,
		Limit:      c.Limit,
	})
	if err != nil {
		return err
	}

	if len(articles) == 0 {
		color.Yellow("No articles found\n")
		return nil
	}
	loc, _ := a.cfg.Location()
	for _, art := range articles {
		color.Cyan("%s  %s\n", art.Published.In(loc).Format("2006-01-02 15:04"), art.Title)
		fmt.Printf("   %s  [%s]\n", art.URL, strings.Join(art.Keywords, ", "))
	}
	return nil
}

type ServeCommand struct {
	Addr string `long:"addr" description:"Listen address (default from server.addr)"`
}

func (c *ServeCommand) Execute(args []string) error {
	a, err := setup(rootCtx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := c.Addr
	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	srv := server.NewWithConfig(
		a.searcher(),
		crawl.New(a.cfg, a.catalog, a.ingester(), a.log),
		server.ServerConfig{Addr: addr, Logger: a.log},
	)
	return srv.ListenAndServe(rootCtx)
}

type DeleteKeywordCommand struct {
	Args struct {
		Keyword string `positional-arg-name:"keyword"`
	} `positional-args:"yes" required:"yes"`
}

func (c *DeleteKeywordCommand) Execute(args []string) error {
	a, err := setup(rootCtx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	cascade, err := a.catalog.DeleteKeyword(rootCtx, c.Args.Keyword)
	if err != nil {
		return err
	}
	color.Green("✓ Deleted %q\n", c.Args.Keyword)
	fmt.Printf("  rules removed: %d, OR members removed: %d\n", len(cascade.DeletedRules), len(cascade.RemovedRows))
	if len(cascade.OrphanKeywords) > 0 {
		fmt.Printf("  orphaned keywords removed: %s\n", strings.Join(cascade.OrphanKeywords, ", "))
	}
	return nil
}
