package routing

import (
	"errors"

	"github.com/azybler/safepath/pkg/graph"
	"github.com/azybler/safepath/pkg/spatial"
)

var (
	// ErrNoPath is returned when source and target are not connected, or when
	// every candidate is blocked during a k-path search.
	ErrNoPath = errors.New("no path found")

	// ErrInvalidParameter is returned for a non-positive or oversized k and
	// for malformed coordinates.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNodeNotFound is returned when a query references an unknown node id.
	ErrNodeNotFound = graph.ErrNodeNotFound

	// ErrIndexUnavailable is returned by Nearest when no spatial index was built.
	ErrIndexUnavailable = spatial.ErrIndexUnavailable
)
