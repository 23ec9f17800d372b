package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ssaamm/rss2/internal/cache"
	"github.com/ssaamm/rss2/internal/config"
	"github.com/ssaamm/rss2/internal/database"
	"github.com/ssaamm/rss2/internal/feeds"
	"github.com/ssaamm/rss2/internal/indexer"
	"github.com/ssaamm/rss2/internal/logger"
	"github.com/ssaamm/rss2/internal/ml"
	"github.com/ssaamm/rss2/internal/model"
	"github.com/ssaamm/rss2/internal/render"
	"github.com/ssaamm/rss2/internal/rss"
	"github.com/ssaamm/rss2/internal/server"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

const version = "0.1.0"

func main() {
	app := cli.NewApp()
	app.Name = "rss2"
	app.Usage = "virtual RSS feeds: combine, filter and digest"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "path to YAML config file",
			EnvVar: "RSS2_CONFIG",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "run the HTTP API",
			Action: serve,
		},
		{
			Name:      "render",
			Usage:     "render a feed to stdout",
			ArgsUsage: "<feed-id>",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "no-cache", Usage: "ignore cached output"},
			},
			Action: renderFeed,
		},
		{
			Name:      "create",
			Usage:     "create a feed from a JSON file and print its URL",
			ArgsUsage: "<json-file>",
			Action:    createFeed,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds the wired components for one command.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   database.Store
	queue   *indexer.Queue
	service *feeds.Service
	links   render.Links

	closeLog io.Closer
}

func setup(c *cli.Context) (*app, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	log, closeLog, err := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	})
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg.Database)
	if err != nil {
		closeLog.Close()
		return nil, err
	}
	log.Info("database opened", zap.String("type", store.DatabaseType()))

	fetcher := rss.NewFetcher(rss.Options{
		Timeout:   cfg.Fetch.Timeout,
		UserAgent: cfg.Fetch.UserAgent,
		HostDelay: cfg.Fetch.HostDelay,
	}, log)

	var scorer ml.Scorer
	if cfg.ML.Endpoint != "" {
		scorer = ml.NewClient(cfg.ML.Endpoint, cfg.ML.APIKey, cfg.ML.Timeout)
	}
	ix := indexer.New(fetcher, store, scorer, log)
	queue := indexer.NewQueue(ix.Index, indexWorkers(cfg.Indexer, store), cfg.Indexer.QueueSize, cfg.Indexer.Timeout, log)

	renderer := render.New(fetcher, store, cfg.Server.BaseURL, log)
	service := feeds.New(store, cache.New(store, cfg.Cache.TTL), renderer, ix, queue, log)

	return &app{
		cfg:      cfg,
		logger:   log,
		store:    store,
		queue:    queue,
		service:  service,
		links:    renderer.Links(),
		closeLog: closeLog,
	}, nil
}

func openStore(cfg config.DatabaseConfig) (database.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return database.NewPostgres(cfg.DSN)
	case config.DriverSQLite:
		return database.New(cfg.Path)
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// Index workers used when the config leaves the pool size unset.
const (
	sqliteIndexWorkers   = 1
	postgresIndexWorkers = 4
)

// indexWorkers sizes the index pool. SQLite serializes writers, so extra
// workers would only queue on its lock.
func indexWorkers(cfg config.IndexerConfig, store database.Store) int {
	if cfg.Workers > 0 {
		return cfg.Workers
	}
	if store.SupportsHighConcurrency() {
		return postgresIndexWorkers
	}
	return sqliteIndexWorkers
}

// close drains background indexing before closing the store.
func (a *app) close() {
	a.queue.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close database", zap.Error(err))
	}
	a.logger.Sync()
	a.closeLog.Close()
}

func serve(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.close()

	srv := server.New(a.service, a.logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(a.cfg.Server.Address) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		a.logger.Info("shutting down", zap.String("signal", s.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func renderFeed(c *cli.Context) error {
	feedID := c.Args().First()
	if feedID == "" {
		return errors.New("usage: rss2 render <feed-id>")
	}
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.close()

	doc, err := a.service.Render(context.Background(), feedID, c.Bool("no-cache"))
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(doc)
	return err
}

func createFeed(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("usage: rss2 create <json-file>")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	cfg, err := model.ParseConfig(raw)
	if err != nil {
		return err
	}

	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.close()

	id, err := a.service.CreateFeed(context.Background(), cfg)
	if err != nil {
		return err
	}
	fmt.Println(a.links.Feed(id))
	return nil
}
