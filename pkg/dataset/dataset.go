// Package dataset assembles the routing graph and its edge geometries from
// the configured data files.
package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/azybler/safepath/pkg/config"
	"github.com/azybler/safepath/pkg/geometry"
	"github.com/azybler/safepath/pkg/graph"
	"github.com/azybler/safepath/pkg/osm"
)

// Dataset is a loaded network.
type Dataset struct {
	Graph     *graph.Graph
	Rows      []graph.EdgeRow    // collapsed edge set, in edge order
	TableRows []graph.EdgeRow    // every table row, for per-edge risk lookups
	Features  *geometry.Features // nil when no GeoJSON is configured
	Source    string             // "snapshot" or "tables"
}

// Load reads the network described by cfg. A snapshot takes precedence over
// the edge table. Files are read concurrently. Node coordinates come from
// the edge GeoJSON, or from the OSM extract when no GeoJSON is configured;
// bbox filters the OSM nodes.
func Load(ctx context.Context, cfg config.DataConfig, bbox osm.BBox) (*Dataset, error) {
	start := time.Now()
	var (
		ds   = &Dataset{}
		rows []graph.EdgeRow
	)

	var eg errgroup.Group
	if cfg.Snapshot != "" {
		ds.Source = "snapshot"
		eg.Go(func() error {
			g, err := graph.ReadBinary(cfg.Snapshot)
			if err != nil {
				return fmt.Errorf("load snapshot: %w", err)
			}
			ds.Graph = g
			return nil
		})
	} else {
		ds.Source = "tables"
		eg.Go(func() error {
			r, err := graph.ReadEdgeTableFile(cfg.EdgesCSV)
			if err != nil {
				return fmt.Errorf("load edge table: %w", err)
			}
			rows = r
			return nil
		})
	}
	if cfg.EdgesGeoJSON != "" {
		eg.Go(func() error {
			f, err := geometry.LoadFeaturesFile(cfg.EdgesGeoJSON)
			if err != nil {
				return err
			}
			ds.Features = f
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if ds.Graph == nil {
		coords, err := nodeCoords(ctx, cfg, rows, ds.Features, bbox)
		if err != nil {
			return nil, err
		}
		g, err := graph.Build(rows, coords)
		if err != nil {
			return nil, fmt.Errorf("build graph: %w", err)
		}
		ds.Graph = g
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ds.Rows = ds.Graph.Rows()
	ds.TableRows = ds.Graph.Table

	slog.Info("dataset loaded",
		"source", ds.Source,
		"nodes", len(ds.Graph.NodeIDs),
		"edges", len(ds.Graph.Edges),
		"table_rows", len(ds.TableRows),
		"with_coords", ds.Graph.NumWithCoord(),
		"features", ds.Features.Len(),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return ds, nil
}

func nodeCoords(ctx context.Context, cfg config.DataConfig, rows []graph.EdgeRow, f *geometry.Features, bbox osm.BBox) (map[int64]graph.Coord, error) {
	switch {
	case f != nil:
		return f.NodeCoords(rows), nil
	case cfg.OSMPBF != "":
		coords, err := osm.ReadNodeCoordsFile(ctx, cfg.OSMPBF, osm.NodeIDSet(rows), osm.ReadOptions{BBox: bbox})
		if err != nil {
			return nil, fmt.Errorf("load osm coordinates: %w", err)
		}
		return coords, nil
	default:
		slog.Warn("no coordinate source configured; nearest-node queries will be unavailable")
		return nil, nil
	}
}
