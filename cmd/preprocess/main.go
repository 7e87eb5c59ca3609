package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/azybler/safepath/pkg/config"
	"github.com/azybler/safepath/pkg/dataset"
	"github.com/azybler/safepath/pkg/graph"
	"github.com/azybler/safepath/pkg/osm"
)

var singaporeBBox = osm.BBox{MinLat: 1.15, MaxLat: 1.48, MinLng: 103.6, MaxLng: 104.1}

var (
	edgesPath   string
	geojsonPath string
	pbfPath     string
	outputPath  string
	bboxFlag    string
	singapore   bool
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "safepath-preprocess",
	Short: "Build a graph snapshot from the edge table",
	Long: `Reads the edge table and a coordinate source (edge GeoJSON or an OSM
PBF extract), builds the routing graph and writes it as a binary snapshot
that the server loads with --snapshot.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&edgesPath, "edges", "data/edges.csv", "Edge table CSV")
	f.StringVar(&geojsonPath, "geojson", "", "Edge GeoJSON used for node coordinates")
	f.StringVar(&pbfPath, "osm", "", "OSM .osm.pbf extract used for node coordinates when --geojson is empty")
	f.StringVarP(&outputPath, "output", "o", "graph.bin", "Snapshot output path")
	f.StringVar(&bboxFlag, "bbox", "", "OSM node filter: minLat,minLng,maxLat,maxLng")
	f.BoolVar(&singapore, "singapore", false, "Shortcut for --bbox 1.15,103.6,1.48,104.1")
	f.BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	level := "info"
	if verbose {
		level = "debug"
	}
	logger, err := config.LogConfig{Level: level, Format: "text"}.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	bbox, err := parseBBox()
	if err != nil {
		return err
	}

	start := time.Now()
	ds, err := dataset.Load(cmd.Context(), config.DataConfig{
		EdgesCSV:     edgesPath,
		EdgesGeoJSON: geojsonPath,
		OSMPBF:       pbfPath,
	}, bbox)
	if err != nil {
		return err
	}

	g := ds.Graph
	slog.Info("graph built",
		"nodes", g.NumNodes,
		"edges", g.NumEdges,
		"with_coords", g.NumWithCoord(),
		"components", g.NumComponents(),
		"largest_component", g.LargestComponentSize())
	if g.NumWithCoord() == 0 {
		slog.Warn("snapshot has no coordinates; the server will not be able to answer nearest-node queries")
	}

	if err := graph.WriteBinary(outputPath, g); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	info, err := os.Stat(outputPath)
	if err != nil {
		return err
	}
	slog.Info("snapshot written",
		"path", outputPath,
		"mb", fmt.Sprintf("%.1f", float64(info.Size())/(1024*1024)),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func parseBBox() (osm.BBox, error) {
	switch {
	case singapore:
		return singaporeBBox, nil
	case bboxFlag == "":
		return osm.BBox{}, nil
	}
	var b osm.BBox
	if _, err := fmt.Sscanf(bboxFlag, "%f,%f,%f,%f", &b.MinLat, &b.MinLng, &b.MaxLat, &b.MaxLng); err != nil {
		return osm.BBox{}, fmt.Errorf("invalid --bbox %q (expected minLat,minLng,maxLat,maxLng): %w", bboxFlag, err)
	}
	if b.MinLat > b.MaxLat || b.MinLng > b.MaxLng {
		return osm.BBox{}, fmt.Errorf("invalid --bbox %q: min exceeds max", bboxFlag)
	}
	return b, nil
}
