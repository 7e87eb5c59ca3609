package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/azybler/safepath/pkg/api"
	"github.com/azybler/safepath/pkg/config"
	"github.com/azybler/safepath/pkg/dataset"
	"github.com/azybler/safepath/pkg/geometry"
	"github.com/azybler/safepath/pkg/osm"
	"github.com/azybler/safepath/pkg/reports"
	"github.com/azybler/safepath/pkg/routing"
	"github.com/azybler/safepath/pkg/spatial"
)

var (
	configPath string
	addr       string
	logLevel   string
	snapshot   string
)

var rootCmd = &cobra.Command{
	Use:   "safepath-server",
	Short: "Serve risk-aware routes over HTTP",
	Long: `Loads the edge table (or a preprocessed snapshot), builds the routing
graph and nearest-node index, and serves route, heatmap and hazard report
endpoints.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config (defaults are used when empty)")
	rootCmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides server.addr")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level, overrides log.level")
	rootCmd.Flags().StringVar(&snapshot, "snapshot", "", "Graph snapshot path, overrides data.snapshot")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if snapshot != "" {
		cfg.Data.Snapshot = snapshot
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	ds, err := dataset.Load(ctx, cfg.Data, osm.BBox{})
	if err != nil {
		return err
	}

	idx, err := spatial.NewIndex(routing.IndexPoints(ds.Graph))
	if err != nil {
		if cfg.Data.RequireIndex {
			return fmt.Errorf("build spatial index: %w", err)
		}
		slog.Warn("spatial index unavailable, nearest-node queries disabled", "err", err)
		idx = nil
	}

	engine := routing.NewEngine(ds.Graph, idx, routing.Options{
		MaxK:         cfg.Routing.MaxK,
		QueryTimeout: cfg.Routing.QueryTimeout,
	})
	stats := engine.Stats()
	slog.Info("routing engine ready",
		"nodes", stats.Nodes,
		"edges", stats.Edges,
		"components", stats.Components,
		"largest_component", stats.LargestComp,
		"indexed_points", stats.IndexedPoints,
		"elapsed", time.Since(start).Round(time.Millisecond))

	store, err := openStore(ctx, cfg.Reports)
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(cctx); err != nil {
			slog.Warn("close report store", "err", err)
		}
	}()

	handlers := api.NewHandlers(api.Deps{
		Router:   engine,
		Renderer: geometry.NewRenderer(ds.Features, ds.TableRows),
		Coords:   ds.Graph,
		Reports:  store,
		Stats: api.StatsResponse{
			Stats:         stats,
			EdgeFeatures:  ds.Features.Len(),
			ReportBackend: cfg.Reports.Backend,
		},
		DefaultK:           cfg.Routing.DefaultK,
		ReportRadiusMeters: cfg.Reports.RadiusMeters,
		AdminToken:         cfg.Reports.AdminToken,
	})
	if cfg.Reports.AdminToken == "" {
		slog.Warn("reports.admin_token is empty; reports cannot be verified and nearby/all queries stay empty")
	}
	srv := api.NewServer(cfg.Server, api.NewRouter(cfg.Server, handlers))
	return api.ListenAndServe(ctx, srv, cfg.Server.ShutdownTimeout)
}

func openStore(ctx context.Context, cfg config.ReportsConfig) (reports.Store, error) {
	if cfg.Backend != "mongo" {
		slog.Info("report store ready", "backend", "memory")
		return reports.NewMemoryStore(), nil
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	store, err := reports.NewMongoStore(cctx, reports.MongoConfig{
		URI:        cfg.MongoURI,
		Database:   cfg.Database,
		Collection: cfg.Collection,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}
