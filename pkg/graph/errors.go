package graph

import "errors"

// ErrConfig is returned when the edge table cannot produce a valid graph:
// missing columns, malformed values, invalid weights or an empty table.
var ErrConfig = errors.New("invalid edge table")

// ErrNodeNotFound is returned when a query references a node id that is not
// part of the graph.
var ErrNodeNotFound = errors.New("node not found")
