// Package osm reads node coordinates from OpenStreetMap PBF extracts.
//
// Edge-table node ids are OSM node ids, so an extract covering the network
// can stand in for the edge GeoJSON as the coordinate source.
package osm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"

	"github.com/azybler/safepath/pkg/geo"
	"github.com/azybler/safepath/pkg/graph"
)

// BBox defines a geographic bounding box for filtering.
// If non-zero, only nodes inside the box are kept.
type BBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// IsZero returns true if the bbox is unset.
func (b BBox) IsZero() bool {
	return b.MinLat == 0 && b.MaxLat == 0 && b.MinLng == 0 && b.MaxLng == 0
}

// Contains returns true if the point is inside the bounding box.
func (b BBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// ReadOptions configures ReadNodeCoords.
type ReadOptions struct {
	BBox    BBox // if non-zero, drop nodes outside this box
	Workers int  // PBF decoder goroutines, default 1
}

// objectScanner is the subset of the osmpbf scanner used here.
type objectScanner interface {
	Scan() bool
	Object() osm.Object
	Err() error
}

// ReadNodeCoords scans a PBF extract and returns coordinates for the
// requested node ids. Ways and relations are skipped. Ids absent from the
// extract are missing from the result.
func ReadNodeCoords(ctx context.Context, r io.Reader, ids map[int64]struct{}, opts ...ReadOptions) (map[int64]graph.Coord, error) {
	var opt ReadOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	if opt.Workers <= 0 {
		opt.Workers = 1
	}

	scanner := osmpbf.New(ctx, r, opt.Workers)
	scanner.SkipWays = true
	scanner.SkipRelations = true
	defer scanner.Close()

	coords, err := collectCoords(scanner, ids, opt.BBox)
	if err != nil {
		return nil, fmt.Errorf("scan nodes: %w", err)
	}
	return coords, nil
}

// ReadNodeCoordsFile is ReadNodeCoords over a file path.
func ReadNodeCoordsFile(ctx context.Context, path string, ids map[int64]struct{}, opts ...ReadOptions) (map[int64]graph.Coord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pbf: %w", err)
	}
	defer f.Close()
	return ReadNodeCoords(ctx, f, ids, opts...)
}

// NodeIDSet returns the set of node ids referenced by rows.
func NodeIDSet(rows []graph.EdgeRow) map[int64]struct{} {
	ids := make(map[int64]struct{}, len(rows))
	for _, r := range rows {
		ids[r.U] = struct{}{}
		ids[r.V] = struct{}{}
	}
	return ids
}

func collectCoords(scanner objectScanner, ids map[int64]struct{}, bbox BBox) (map[int64]graph.Coord, error) {
	useBBox := !bbox.IsZero()
	coords := make(map[int64]graph.Coord, len(ids))
	var invalid, outside int

	for scanner.Scan() {
		n, ok := scanner.Object().(*osm.Node)
		if !ok {
			continue
		}
		id := int64(n.ID)
		if _, needed := ids[id]; !needed {
			continue
		}
		if !geo.ValidLatLng(n.Lat, n.Lon) {
			invalid++
			continue
		}
		if useBBox && !bbox.Contains(n.Lat, n.Lon) {
			outside++
			continue
		}
		coords[id] = graph.Coord{Lng: n.Lon, Lat: n.Lat}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	slog.Info("osm node scan complete",
		"requested", len(ids),
		"found", len(coords),
		"invalid", invalid,
		"outside_bbox", outside)
	return coords, nil
}
