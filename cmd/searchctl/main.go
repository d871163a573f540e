package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli"

	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/query"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/querycache"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/logger"
	pkgredis "github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/redis"
)

const appName = "searchctl"

func main() {
	if err := makeApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func makeApp() *cli.App {
	app := cli.NewApp()
	app.Name = appName
	app.Usage = "build, update and query a deltasearch index"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config",
			Value:  "",
			EnvVar: "DS_CONFIG",
			Usage:  "path to the YAML config file",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "build",
			Usage:  "bulk-build the static index from the configured corpus if no snapshot exists",
			Action: withEngine(buildAction),
		},
		{
			Name:      "add",
			Usage:     "index each argument as a new document",
			ArgsUsage: "TEXT...",
			Action:    withEngine(addAction),
		},
		{
			Name:      "search",
			Usage:     "run a query against static and delta documents",
			ArgsUsage: "QUERY",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "limit, n", Usage: "maximum results (0 uses search.defaultLimit)"},
				cli.BoolFlag{Name: "cache", Usage: "serve through the Redis query cache"},
			},
			Action: withEngine(searchAction),
		},
		{
			Name:   "compact",
			Usage:  "fold the delta into the static index",
			Action: withEngine(compactAction),
		},
		{
			Name:  "terms",
			Usage: "list dictionary terms",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "prefix", Usage: "only terms starting with this prefix, most frequent first"},
				cli.IntFlag{Name: "limit", Usage: "maximum terms listed with --prefix", Value: 10},
			},
			Action: withEngine(termsAction),
		},
		{
			Name:   "stats",
			Usage:  "print index statistics",
			Action: withEngine(statsAction),
		},
		{
			Name:      "enqueue",
			Usage:     "publish each argument to the Kafka ingest topic",
			ArgsUsage: "TEXT...",
			Action:    enqueueAction,
		},
	}
	return app
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	logger.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

type engineAction func(c *cli.Context, cfg *config.Config, eng *engine.Engine) error

// withEngine opens the engine for the duration of one command.
func withEngine(fn engineAction) func(c *cli.Context) error {
	return func(c *cli.Context) (err error) {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		eng, err := engine.Open(context.Background(), cfg, corpus.FromConfig(cfg))
		if err != nil {
			return err
		}
		defer func() {
			if cerr := eng.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		return fn(c, cfg, eng)
	}
}

func buildAction(_ *cli.Context, _ *config.Config, eng *engine.Engine) error {
	return printJSON(eng.Stats())
}

func addAction(c *cli.Context, _ *config.Config, eng *engine.Engine) error {
	if c.NArg() == 0 {
		return cli.NewExitError("add needs at least one document", 2)
	}
	for _, text := range c.Args() {
		id, err := eng.AddDocument(text)
		if err != nil {
			return fmt.Errorf("adding %q: %w", text, err)
		}
		fmt.Println(id)
	}
	return nil
}

func searchAction(c *cli.Context, cfg *config.Config, eng *engine.Engine) error {
	text := strings.Join(c.Args(), " ")
	limit := clampLimit(c.Int("limit"), cfg.Search)
	if !c.Bool("cache") || !cfg.Redis.Enabled {
		results, err := eng.Search(text, limit)
		if err != nil {
			return err
		}
		return printJSON(results)
	}

	ctx := context.Background()
	client, err := pkgredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer client.Close()
	cache := querycache.New(client, pkgredis.IsNilError, cfg.Redis.CacheTTL)
	results, hit, err := cache.GetOrCompute(ctx, eng.Version(), text, limit, func() ([]query.Result, error) {
		return eng.Search(text, limit)
	})
	if err != nil {
		return err
	}
	slog.Debug("search served", "cache_hit", hit, "results", len(results))
	return printJSON(results)
}

// clampLimit applies the configured default for unset limits and caps the
// rest at MaxResults.
func clampLimit(limit int, cfg config.SearchConfig) int {
	if limit <= 0 {
		limit = cfg.DefaultLimit
	}
	if cfg.MaxResults > 0 && limit > cfg.MaxResults {
		limit = cfg.MaxResults
	}
	return limit
}

func compactAction(_ *cli.Context, _ *config.Config, eng *engine.Engine) error {
	n, err := eng.Compact()
	if err != nil {
		return err
	}
	fmt.Printf("compacted %d documents\n", n)
	return nil
}

func termsAction(c *cli.Context, _ *config.Config, eng *engine.Engine) error {
	if prefix := c.String("prefix"); prefix != "" {
		return printJSON(eng.Suggest(prefix, c.Int("limit")))
	}
	return printJSON(eng.Terms())
}

func statsAction(_ *cli.Context, _ *config.Config, eng *engine.Engine) error {
	return printJSON(eng.Stats())
}

func enqueueAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.NewExitError("enqueue needs at least one document", 2)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()
	keys, err := ingest.Enqueue(context.Background(), producer, c.Args())
	if err != nil {
		return err
	}
	for _, key := range keys {
		fmt.Println(key)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
