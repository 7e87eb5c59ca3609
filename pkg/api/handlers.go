package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"

	"github.com/azybler/safepath/pkg/geo"
	"github.com/azybler/safepath/pkg/geometry"
	"github.com/azybler/safepath/pkg/graph"
	"github.com/azybler/safepath/pkg/reports"
	"github.com/azybler/safepath/pkg/routing"
)

const maxReportBodyBytes = 16 << 10

// CoordLookup resolves node ids to coordinates.
type CoordLookup interface {
	NodeCoord(id int64) (graph.Coord, bool)
}

// Deps are the collaborators injected into the handlers.
type Deps struct {
	Router             routing.Router
	Renderer           *geometry.Renderer
	Coords             CoordLookup // optional
	Reports            reports.Store
	Stats              StatsResponse
	DefaultK           int
	ReportRadiusMeters float64
	AdminToken         string // moderation route is registered only when set
}

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	deps Deps
}

// NewHandlers creates handlers over deps.
func NewHandlers(deps Deps) *Handlers {
	if deps.DefaultK <= 0 {
		deps.DefaultK = 3
	}
	if deps.Renderer == nil {
		deps.Renderer = geometry.NewRenderer(nil, nil)
	}
	return &Handlers{deps: deps}
}

// HandleIndex handles GET /.
func (h *Handlers) HandleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, IndexResponse{
		Service: "safepath risk-aware routing",
		Endpoints: map[string]string{
			"nearest_node":   "/api/v1/nearest_node?lng=<lng>&lat=<lat>",
			"route":          "/api/v1/route?start=<node_id>&end=<node_id>",
			"routes_multi":   "/api/v1/routes_multi?start=<node_id>&end=<node_id>&k=3",
			"risk_data":      "/api/v1/edges/risk_data?bbox=<minLng,minLat,maxLng,maxLat>",
			"reports_new":    "POST /api/v1/reports/new",
			"reports_nearby": "/api/v1/reports/nearby?lat=<lat>&lon=<lon>",
			"reports_all":    "/api/v1/reports/all",
			"health":         "/api/v1/health",
			"stats":          "/api/v1/stats",
			"metrics":        "/metrics",
		},
	})
}

// HandleNearest handles GET /api/v1/nearest_node.
func (h *Handlers) HandleNearest(c *gin.Context) {
	lng, ok := floatParam(c, "lng")
	if !ok {
		return
	}
	lat, ok := floatParam(c, "lat")
	if !ok {
		return
	}
	if !geo.ValidLatLng(lat, lng) {
		writeError(c, http.StatusBadRequest, "invalid_coordinates", "")
		return
	}

	m, err := h.deps.Router.Nearest(c.Request.Context(), lng, lat)
	if err != nil {
		routeError(c, err)
		return
	}
	c.JSON(http.StatusOK, NearestResponse{
		NodeID:          m.NodeID,
		Coordinates:     [2]float64{m.Lng, m.Lat},
		Lng:             m.Lng,
		Lat:             m.Lat,
		DistanceDegrees: m.DistanceDegrees,
		DistanceMeters:  m.DistanceMeters,
	})
}

// HandleRoute handles GET /api/v1/route.
func (h *Handlers) HandleRoute(c *gin.Context) {
	start, ok := nodeParam(c, "start")
	if !ok {
		return
	}
	end, ok := nodeParam(c, "end")
	if !ok {
		return
	}

	res, err := h.deps.Router.SafestPath(c.Request.Context(), start, end)
	if err != nil {
		routeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.deps.Renderer.RouteCollection(res))
}

// HandleRoutesMulti handles GET /api/v1/routes_multi.
func (h *Handlers) HandleRoutesMulti(c *gin.Context) {
	start, ok := nodeParam(c, "start")
	if !ok {
		return
	}
	end, ok := nodeParam(c, "end")
	if !ok {
		return
	}
	k := h.deps.DefaultK
	if raw := c.Query("k"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid_parameter", "k")
			return
		}
		k = v
	}

	results, err := h.deps.Router.SafestKPaths(c.Request.Context(), start, end, k)
	if err != nil {
		routeError(c, err)
		return
	}

	resp := RoutesMultiResponse{Routes: make([]RouteJSON, len(results))}
	for i, r := range results {
		first, last := r.Nodes[0], r.Nodes[len(r.Nodes)-1]
		resp.Routes[i] = RouteJSON{
			ID:           r.Rank,
			Nodes:        r.Nodes,
			EdgeIDs:      r.EdgeIDs,
			GeoJSON:      h.deps.Renderer.RouteCollection(r),
			NodeCount:    r.NodeCount,
			EdgeCount:    r.EdgeCount,
			TotalRisk:    r.TotalRisk,
			AvgRisk:      r.AvgRisk,
			Rank:         r.Rank,
			LengthMeters: r.LengthMeters,
			StartNode:    first,
			EndNode:      last,
			StartCoord:   h.coord(first),
			EndCoord:     h.coord(last),
		}
	}
	c.JSON(http.StatusOK, resp)
}

// HandleRiskData handles GET /api/v1/edges/risk_data.
func (h *Handlers) HandleRiskData(c *gin.Context) {
	var bbox *orb.Bound
	if raw := c.Query("bbox"); raw != "" {
		b, err := geometry.ParseBBox(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid_parameter", "bbox")
			return
		}
		bbox = &b
	}
	fc := h.deps.Renderer.RiskFeatures(bbox)
	slog.Debug("risk data", "features", len(fc.Features), "bbox", c.Query("bbox"))
	c.JSON(http.StatusOK, fc)
}

// HandleNewReport handles POST /api/v1/reports/new.
func (h *Handlers) HandleNewReport(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxReportBodyBytes)
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "")
		return
	}
	if req.Location.Lat == nil || req.Location.Lon == nil {
		writeError(c, http.StatusBadRequest, "invalid_coordinates", "location")
		return
	}

	id, err := h.deps.Reports.Insert(c.Request.Context(), reports.Report{
		Location:  reports.Location{Lat: *req.Location.Lat, Lon: *req.Location.Lon},
		Severity:  req.Severity,
		Category:  req.Category,
		Details:   req.Details,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		reportError(c, err)
		return
	}
	c.JSON(http.StatusOK, ReportCreatedResponse{Status: "ok", ReportID: id})
}

// HandleNearbyReports handles GET /api/v1/reports/nearby.
func (h *Handlers) HandleNearbyReports(c *gin.Context) {
	lat, ok := floatParam(c, "lat")
	if !ok {
		return
	}
	lon, ok := floatParam(c, "lon")
	if !ok {
		return
	}
	found, err := h.deps.Reports.Nearby(c.Request.Context(), lat, lon, h.deps.ReportRadiusMeters)
	if err != nil {
		reportError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

// HandleAllReports handles GET /api/v1/reports/all.
func (h *Handlers) HandleAllReports(c *gin.Context) {
	found, err := h.deps.Reports.AllVerified(c.Request.Context())
	if err != nil {
		reportError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

// HandleSetReportStatus handles POST /api/v1/reports/:id/status. The caller
// must present the admin token as a bearer token.
func (h *Handlers) HandleSetReportStatus(c *gin.Context) {
	const prefix = "Bearer "
	auth := c.GetHeader("Authorization")
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix ||
		subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(h.deps.AdminToken)) != 1 {
		writeError(c, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "")
		return
	}
	id := c.Param("id")
	if err := h.deps.Reports.SetStatus(c.Request.Context(), id, req.Status); err != nil {
		switch {
		case errors.Is(err, reports.ErrNotFound):
			writeError(c, http.StatusNotFound, "report_not_found", "id")
		case errors.Is(err, reports.ErrInvalidReport):
			writeError(c, http.StatusBadRequest, "invalid_parameter", "status")
		default:
			reportError(c, err)
		}
		return
	}
	slog.Info("report moderated", "id", id, "status", req.Status)
	c.JSON(http.StatusOK, StatusResponse{Status: "ok", ReportID: id, ReportStatus: req.Status})
}

// HandleHealth handles GET /api/v1/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// HandleStats handles GET /api/v1/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Stats)
}

func (h *Handlers) coord(id int64) *[2]float64 {
	if h.deps.Coords == nil {
		return nil
	}
	cd, ok := h.deps.Coords.NodeCoord(id)
	if !ok {
		return nil
	}
	return &[2]float64{cd.Lng, cd.Lat}
}

func nodeParam(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		writeError(c, http.StatusBadRequest, "missing_parameter", name)
		return 0, false
	}
	id, err := graph.ParseID(raw)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_parameter", name)
		return 0, false
	}
	return id, true
}

func floatParam(c *gin.Context, name string) (float64, bool) {
	raw := c.Query(name)
	if raw == "" {
		writeError(c, http.StatusBadRequest, "missing_parameter", name)
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_parameter", name)
		return 0, false
	}
	return v, true
}

// routeError maps routing errors to HTTP responses.
func routeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, routing.ErrInvalidParameter):
		writeError(c, http.StatusBadRequest, "invalid_parameter", "")
	case errors.Is(err, routing.ErrNodeNotFound):
		writeError(c, http.StatusNotFound, "node_not_found", "")
	case errors.Is(err, routing.ErrNoPath):
		writeError(c, http.StatusNotFound, "no_route_found", "")
	case errors.Is(err, routing.ErrIndexUnavailable):
		writeError(c, http.StatusServiceUnavailable, "index_unavailable", "")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(c, http.StatusServiceUnavailable, "request_timeout", "")
	default:
		slog.Error("routing failed", "path", c.Request.URL.Path, "err", err)
		writeError(c, http.StatusInternalServerError, "internal_error", "")
	}
}

func reportError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, reports.ErrInvalidReport):
		writeError(c, http.StatusBadRequest, "invalid_coordinates", "location")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(c, http.StatusServiceUnavailable, "request_timeout", "")
	default:
		slog.Error("report store failed", "path", c.Request.URL.Path, "err", err)
		writeError(c, http.StatusInternalServerError, "internal_error", "")
	}
}

func writeError(c *gin.Context, status int, code, field string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: code, Field: field})
}
