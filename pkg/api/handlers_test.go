package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azybler/safepath/pkg/config"
	"github.com/azybler/safepath/pkg/geometry"
	"github.com/azybler/safepath/pkg/graph"
	"github.com/azybler/safepath/pkg/reports"
	"github.com/azybler/safepath/pkg/routing"
	"github.com/azybler/safepath/pkg/spatial"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockRouter implements routing.Router for testing.
type mockRouter struct {
	match spatial.Match
	path  routing.PathResult
	paths []routing.PathResult
	err   error
	gotK  int
}

func (m *mockRouter) Nearest(ctx context.Context, lng, lat float64) (spatial.Match, error) {
	return m.match, m.err
}

func (m *mockRouter) SafestPath(ctx context.Context, source, target int64) (routing.PathResult, error) {
	return m.path, m.err
}

func (m *mockRouter) SafestKPaths(ctx context.Context, source, target int64, k int) ([]routing.PathResult, error) {
	m.gotK = k
	return m.paths, m.err
}

type coordMap map[int64]graph.Coord

func (c coordMap) NodeCoord(id int64) (graph.Coord, bool) {
	cd, ok := c[id]
	return cd, ok
}

const featuresJSON = `{"type": "FeatureCollection", "features": [
  {"type": "Feature", "properties": {"edge_id": 1},
   "geometry": {"type": "LineString", "coordinates": [[103.800, 1.300], [103.801, 1.300]]}},
  {"type": "Feature", "properties": {"edge_id": 2},
   "geometry": {"type": "LineString", "coordinates": [[103.801, 1.300], [103.802, 1.300]]}},
  {"type": "Feature", "properties": {"edge_id": 3},
   "geometry": {"type": "LineString", "coordinates": [[120.000, 20.000], [120.001, 20.001]]}}
]}`

func testRenderer(t *testing.T) *geometry.Renderer {
	t.Helper()
	f, err := geometry.LoadFeatures(strings.NewReader(featuresJSON))
	require.NoError(t, err)
	return geometry.NewRenderer(f, []graph.EdgeRow{
		{EdgeID: 1, U: 10, V: 20, Risk: 0.1},
		{EdgeID: 2, U: 20, V: 30, Risk: 0.45},
		{EdgeID: 3, U: 40, V: 50, Risk: 0.3},
	})
}

type testServer struct {
	router  *mockRouter
	store   *reports.MemoryStore
	handler http.Handler
}

const testAdminToken = "s3cret"

func newTestServer(t *testing.T, mock *mockRouter) *testServer {
	t.Helper()
	return newAdminTestServer(t, mock, testAdminToken)
}

func newAdminTestServer(t *testing.T, mock *mockRouter, adminToken string) *testServer {
	t.Helper()
	store := reports.NewMemoryStore()
	h := NewHandlers(Deps{
		Router:   mock,
		Renderer: testRenderer(t),
		Coords: coordMap{
			10: {Lng: 103.800, Lat: 1.300},
			30: {Lng: 103.802, Lat: 1.300},
		},
		Reports:            store,
		Stats:              StatsResponse{Stats: routing.Stats{Nodes: 3, Edges: 2}, EdgeFeatures: 3, ReportBackend: "memory"},
		DefaultK:           3,
		ReportRadiusMeters: 200,
		AdminToken:         adminToken,
	})
	return &testServer{router: mock, store: store, handler: NewRouter(config.Default().Server, h)}
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) setStatus(t *testing.T, id, status, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/"+id+"/status",
		strings.NewReader(`{"status": "`+status+`"}`))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func trianglePath() routing.PathResult {
	return routing.PathResult{
		Nodes:     []int64{10, 20, 30},
		EdgeIDs:   []int64{1, 2},
		NodeCount: 3,
		EdgeCount: 2,
		TotalRisk: 0.4,
		AvgRisk:   0.2,
	}
}

func TestHandleRouteSuccess(t *testing.T) {
	s := newTestServer(t, &mockRouter{path: trianglePath()})

	w := s.do(t, http.MethodGet, "/api/v1/route?start=10&end=30", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
		Props    map[string]any    `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "FeatureCollection", resp.Type)
	assert.Len(t, resp.Features, 2)
	assert.EqualValues(t, 10, resp.Props["start"])
	assert.EqualValues(t, 30, resp.Props["end"])
	assert.InDelta(t, 0.2, resp.Props["avg_risk"], 1e-12)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestHandleRouteAcceptsIntegralFloatIDs(t *testing.T) {
	s := newTestServer(t, &mockRouter{path: trianglePath()})
	w := s.do(t, http.MethodGet, "/api/v1/route?start=10.0&end=30", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleRouteBadParams(t *testing.T) {
	s := newTestServer(t, &mockRouter{})

	tests := []struct {
		query string
		code  string
		field string
	}{
		{"end=30", "missing_parameter", "start"},
		{"start=10", "missing_parameter", "end"},
		{"start=abc&end=30", "invalid_parameter", "start"},
		{"start=10&end=3.5", "invalid_parameter", "end"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := s.do(t, http.MethodGet, "/api/v1/route?"+tt.query, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.code, resp.Error)
			assert.Equal(t, tt.field, resp.Field)
		})
	}
}

func TestRouteErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: k=0", routing.ErrInvalidParameter), http.StatusBadRequest, "invalid_parameter"},
		{fmt.Errorf("%w: 99", routing.ErrNodeNotFound), http.StatusNotFound, "node_not_found"},
		{routing.ErrNoPath, http.StatusNotFound, "no_route_found"},
		{routing.ErrIndexUnavailable, http.StatusServiceUnavailable, "index_unavailable"},
		{fmt.Errorf("dijkstra: %w", context.DeadlineExceeded), http.StatusServiceUnavailable, "request_timeout"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			s := newTestServer(t, &mockRouter{err: tt.err})
			for _, target := range []string{
				"/api/v1/route?start=10&end=30",
				"/api/v1/routes_multi?start=10&end=30",
				"/api/v1/nearest_node?lng=103.8&lat=1.3",
			} {
				w := s.do(t, http.MethodGet, target, "")
				assert.Equal(t, tt.status, w.Code, target)
				assert.Equal(t, tt.code, decodeError(t, w).Error, target)
			}
		})
	}
}

func TestHandleRoutesMulti(t *testing.T) {
	first := trianglePath()
	second := routing.PathResult{
		Nodes:     []int64{10, 30},
		EdgeIDs:   []int64{3},
		NodeCount: 2,
		EdgeCount: 1,
		TotalRisk: 0.3,
		AvgRisk:   0.3,
		Rank:      1,
	}
	mock := &mockRouter{paths: []routing.PathResult{first, second}}
	s := newTestServer(t, mock)

	w := s.do(t, http.MethodGet, "/api/v1/routes_multi?start=10&end=30", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 3, mock.gotK, "default k")

	var resp RoutesMultiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Routes, 2)

	r0, r1 := resp.Routes[0], resp.Routes[1]
	assert.Equal(t, 0, r0.ID)
	assert.Equal(t, 1, r1.ID)
	assert.Equal(t, []int64{10, 20, 30}, r0.Nodes)
	assert.Equal(t, int64(10), r0.StartNode)
	assert.Equal(t, int64(30), r0.EndNode)
	require.NotNil(t, r0.StartCoord)
	assert.Equal(t, [2]float64{103.800, 1.300}, *r0.StartCoord)
	require.NotNil(t, r0.GeoJSON)
	assert.Len(t, r0.GeoJSON.Features, 2)
	assert.Len(t, r1.GeoJSON.Features, 1)

	w = s.do(t, http.MethodGet, "/api/v1/routes_multi?start=10&end=30&k=7", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, mock.gotK)
}

func TestHandleRoutesMultiBadK(t *testing.T) {
	s := newTestServer(t, &mockRouter{})
	w := s.do(t, http.MethodGet, "/api/v1/routes_multi?start=10&end=30&k=two", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "k", decodeError(t, w).Field)
}

func TestHandleNearest(t *testing.T) {
	mock := &mockRouter{match: spatial.Match{NodeID: 20, Lng: 103.801, Lat: 1.3, DistanceDegrees: 0.001, DistanceMeters: 111}}
	s := newTestServer(t, mock)

	w := s.do(t, http.MethodGet, "/api/v1/nearest_node?lng=103.8011&lat=1.3", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp NearestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(20), resp.NodeID)
	assert.Equal(t, [2]float64{103.801, 1.3}, resp.Coordinates)
	assert.Equal(t, 111.0, resp.DistanceMeters)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Equal(t, []any{103.801, 1.3}, raw["coordinates"], "coordinates are [lng, lat]")

	for _, q := range []string{"lat=1.3", "lng=103.8", "lng=x&lat=1.3", "lng=103.8&lat=91"} {
		w := s.do(t, http.MethodGet, "/api/v1/nearest_node?"+q, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestHandleRiskData(t *testing.T) {
	s := newTestServer(t, &mockRouter{})

	decode := func(w *httptest.ResponseRecorder) []map[string]any {
		var resp struct {
			Features []struct {
				Properties map[string]any `json:"properties"`
			} `json:"features"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		out := make([]map[string]any, len(resp.Features))
		for i, f := range resp.Features {
			out[i] = f.Properties
		}
		return out
	}

	w := s.do(t, http.MethodGet, "/api/v1/edges/risk_data", "")
	require.Equal(t, http.StatusOK, w.Code)
	all := decode(w)
	require.Len(t, all, 3)
	assert.Equal(t, "#F44336", all[1]["color"])

	w = s.do(t, http.MethodGet, "/api/v1/edges/risk_data?bbox=103.7,1.2,103.9,1.4", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(w), 2)

	w = s.do(t, http.MethodGet, "/api/v1/edges/risk_data?bbox=1,2,3", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReportEndpoints(t *testing.T) {
	s := newTestServer(t, &mockRouter{})

	w := s.do(t, http.MethodPost, "/api/v1/reports/new",
		`{"location": {"lat": 1.3, "lon": 103.8}, "severity": 4, "category": "lighting", "details": "dark underpass"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var created ReportCreatedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "ok", created.Status)
	require.NotEmpty(t, created.ReportID)

	// Submitted reports are not visible until verified.
	w = s.do(t, http.MethodGet, "/api/v1/reports/nearby?lat=1.3&lon=103.8", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = s.setStatus(t, created.ReportID, reports.StatusVerified, testAdminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"status": "ok", "report_id": "`+created.ReportID+`", "report_status": "verified"}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/reports/nearby?lat=1.3005&lon=103.8", "")
	require.Equal(t, http.StatusOK, w.Code)
	var near []reports.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &near))
	require.Len(t, near, 1)
	assert.Equal(t, "lighting", near[0].Category)

	w = s.do(t, http.MethodGet, "/api/v1/reports/nearby?lat=1.32&lon=103.8", "")
	assert.JSONEq(t, `[]`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/reports/all", "")
	require.Equal(t, http.StatusOK, w.Code)
	var all []reports.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Len(t, all, 1)
}

func TestSetReportStatus(t *testing.T) {
	s := newTestServer(t, &mockRouter{})
	id, err := s.store.Insert(context.Background(), reports.Report{
		Location: reports.Location{Lat: 1.3, Lon: 103.8},
		Category: "lighting",
	})
	require.NoError(t, err)

	tests := []struct {
		name   string
		id     string
		status string
		token  string
		want   int
	}{
		{"no token", id, reports.StatusVerified, "", http.StatusUnauthorized},
		{"wrong token", id, reports.StatusVerified, "guess", http.StatusUnauthorized},
		{"unknown report", "missing", reports.StatusVerified, testAdminToken, http.StatusNotFound},
		{"unknown status", id, "bogus", testAdminToken, http.StatusBadRequest},
		{"reject", id, reports.StatusRejected, testAdminToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.setStatus(t, tt.id, tt.status, tt.token)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	all, err := s.store.AllVerified(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all, "rejected and unauthorized changes leave nothing verified")
}

func TestSetReportStatusDisabledWithoutToken(t *testing.T) {
	s := newAdminTestServer(t, &mockRouter{}, "")
	id, err := s.store.Insert(context.Background(), reports.Report{Location: reports.Location{Lat: 1.3, Lon: 103.8}})
	require.NoError(t, err)

	w := s.setStatus(t, id, reports.StatusVerified, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.setStatus(t, id, reports.StatusVerified, "anything")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReportEndpointsReject(t *testing.T) {
	s := newTestServer(t, &mockRouter{})

	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{"invalid json", http.MethodPost, "/api/v1/reports/new", "not json"},
		{"missing location", http.MethodPost, "/api/v1/reports/new", `{"category": "x"}`},
		{"latitude out of range", http.MethodPost, "/api/v1/reports/new", `{"location": {"lat": 91, "lon": 0}}`},
		{"nearby missing lon", http.MethodGet, "/api/v1/reports/nearby?lat=1.3", ""},
		{"nearby bad lat", http.MethodGet, "/api/v1/reports/nearby?lat=-95&lon=0", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.target, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestHandleHealthAndStats(t *testing.T) {
	s := newTestServer(t, &mockRouter{})

	w := s.do(t, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "ok"}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, uint32(3), stats.Nodes)
	assert.Equal(t, 3, stats.EdgeFeatures)
	assert.Equal(t, "memory", stats.ReportBackend)

	w = s.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "routes_multi")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &mockRouter{})
	s.do(t, http.MethodGet, "/api/v1/health", "")

	w := s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `safepath_http_requests_total{code="200",method="GET",route="/api/v1/health"}`)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, &mockRouter{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "https://map.example.org")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	_, ok := corsConfig(nil)
	assert.False(t, ok)
	c, ok := corsConfig([]string{"https://map.example.org"})
	require.True(t, ok)
	assert.False(t, c.AllowAllOrigins)
	assert.Equal(t, []string{"https://map.example.org"}, c.AllowOrigins)
}

func TestLimiterRejectsWhenFull(t *testing.T) {
	r := gin.New()
	r.GET("/", limiter(0), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestTimeoutSetsDeadline(t *testing.T) {
	r := gin.New()
	var hasDeadline bool
	r.GET("/", timeout(time.Second), func(c *gin.Context) {
		_, hasDeadline = c.Request.Context().Deadline()
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, hasDeadline)
}

func TestRecoveryReturnsJSON(t *testing.T) {
	r := gin.New()
	r.Use(recovery())
	r.GET("/", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal_error", decodeError(t, w).Error)
}
