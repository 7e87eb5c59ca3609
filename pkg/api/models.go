package api

import (
	"github.com/paulmach/orb/geojson"

	"github.com/azybler/safepath/pkg/routing"
)

// ErrorResponse is the JSON response for errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// NearestResponse is the JSON response for GET /api/v1/nearest_node.
type NearestResponse struct {
	NodeID          int64      `json:"node_id"`
	Coordinates     [2]float64 `json:"coordinates"` // [lng, lat]
	Lng             float64    `json:"lng"`
	Lat             float64    `json:"lat"`
	DistanceDegrees float64    `json:"distance_degrees"`
	DistanceMeters  float64    `json:"distance_meters"`
}

// RouteJSON is one entry of the routes_multi response.
type RouteJSON struct {
	ID           int                        `json:"id"`
	Nodes        []int64                    `json:"nodes"`
	EdgeIDs      []int64                    `json:"edge_ids"`
	GeoJSON      *geojson.FeatureCollection `json:"geojson"`
	NodeCount    int                        `json:"node_count"`
	EdgeCount    int                        `json:"edge_count"`
	TotalRisk    float64                    `json:"total_risk"`
	AvgRisk      float64                    `json:"avg_risk"`
	Rank         int                        `json:"rank"`
	LengthMeters float64                    `json:"length_meters"`
	StartNode    int64                      `json:"start_node"`
	EndNode      int64                      `json:"end_node"`
	StartCoord   *[2]float64                `json:"start_coord"` // [lng, lat]
	EndCoord     *[2]float64                `json:"end_coord"`
}

// RoutesMultiResponse is the JSON response for GET /api/v1/routes_multi.
type RoutesMultiResponse struct {
	Routes []RouteJSON `json:"routes"`
}

// ReportRequest is the JSON body for POST /api/v1/reports/new.
type ReportRequest struct {
	Location struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
	} `json:"location"`
	Severity  *int   `json:"severity"`
	Category  string `json:"category"`
	Details   string `json:"details"`
	Timestamp string `json:"timestamp"`
}

// ReportCreatedResponse is the JSON response for a stored report.
type ReportCreatedResponse struct {
	Status   string `json:"status"`
	ReportID string `json:"report_id"`
}

// StatusRequest is the JSON body for POST /api/v1/reports/:id/status.
type StatusRequest struct {
	Status string `json:"status"`
}

// StatusResponse confirms a moderation change.
type StatusResponse struct {
	Status       string `json:"status"`
	ReportID     string `json:"report_id"`
	ReportStatus string `json:"report_status"`
}

// StatsResponse is the JSON response for GET /api/v1/stats.
type StatsResponse struct {
	routing.Stats
	EdgeFeatures  int    `json:"edge_features"`
	ReportBackend string `json:"report_backend"`
}

// HealthResponse is the JSON response for GET /api/v1/health.
type HealthResponse struct {
	Status string `json:"status"`
}

// IndexResponse describes the service at GET /.
type IndexResponse struct {
	Service   string            `json:"service"`
	Endpoints map[string]string `json:"endpoints"`
}
