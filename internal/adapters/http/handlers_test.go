package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	handler "github.com/samirrijal/flyover/internal/adapters/http"
	"github.com/samirrijal/flyover/internal/adapters/gazetteer"
	"github.com/samirrijal/flyover/internal/adapters/hub"
	"github.com/samirrijal/flyover/internal/adapters/surface/sim"
	"github.com/samirrijal/flyover/internal/core/domain"
	"github.com/samirrijal/flyover/internal/core/usecases"
	"github.com/samirrijal/flyover/internal/pkg/config"
)

// ---- Test helpers ----

func testPlaces() []domain.Place {
	return []domain.Place{
		{ID: "yasawi-mausoleum", NameEN: "Yasawi Mausoleum", NameRU: "Мавзолей Ходжи Ахмеда Ясави", Lat: 43.2974, Lng: 68.2707},
		{ID: "otrar", NameEN: "Otrar", NameRU: "Отрар", NameKK: "Отырар", Lat: 42.853, Lng: 68.3026},
		{ID: "arystan-bab", NameEN: "Arystan Bab Mausoleum", Lat: 42.8522, Lng: 68.2969},
		{ID: "karavan-saray", NameEN: "Karavan Saray", Lat: 43.2921, Lng: 68.2655},
		{ID: "turkistan-station", NameEN: "Turkistan Railway Station", Lat: 43.2953, Lng: 68.2411},
	}
}

func testFlyover() config.FlyoverConfig {
	cfg := config.DefaultFlyover()
	cfg.SplashDwell = time.Millisecond
	cfg.Hold = time.Second
	cfg.HoldWithNotes = time.Second
	cfg.FirstLeg = time.Second
	cfg.MinLeg = time.Second
	cfg.MaxLeg = 2 * time.Second
	cfg.SettleMaxWait = 10 * time.Millisecond
	cfg.FrameInterval = 2 * time.Millisecond
	cfg.ProbeWindow = 100 * time.Millisecond
	return cfg
}

func makeDeps(t *testing.T) *handler.Dependencies {
	t.Helper()
	gaz := gazetteer.NewMemory(testPlaces())
	resolver := usecases.NewResolver(gaz, nil, nil, usecases.ResolverConfig{
		RoundPrecision:  4,
		JitterMagnitude: 0.008,
		JitterSeed:      7,
		BatchSize:       25,
		GeocodeTimeout:  time.Second,
	})
	events := hub.New()
	svc := usecases.NewFlyoverService(resolver, nil, events, testFlyover(), config.PanoramaConfig{RadiusMeters: 200, Timeout: time.Second})
	t.Cleanup(svc.CloseAll)

	return &handler.Dependencies{
		Flyovers:  svc,
		Gazetteer: gaz,
		Events:    events,
	}
}

func setupApp(deps *handler.Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupRoutes(app, deps)
	return app
}

func readBody(t *testing.T, body io.Reader) []byte {
	t.Helper()
	b, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return b
}

func postJSON(t *testing.T, app *fiber.App, path, body string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, readBody(t, resp.Body)
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var apiErr struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &apiErr); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, body)
	}
	return apiErr.Code
}

// createReady opens a two-stop flyover, waits for it to load and attaches
// an in-memory surface so it is ready to play.
func createReady(t *testing.T, deps *handler.Dependencies, app *fiber.App) string {
	t.Helper()
	status, body := postJSON(t, app, "/v1/flyovers", `{"itinerary":[
		{"day":1,"time":"09:00","activity":"Pilgrimage","location":"Yasawi Mausoleum"},
		{"day":1,"time":"14:00","activity":"Ruins","location":"Otrar"}
	]}`)
	if status != 201 {
		t.Fatalf("expected 201, got %d: %s", status, body)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatal(err)
	}

	sess, err := deps.Flyovers.Get(snap.ID)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-sess.Loaded():
	case <-time.After(3 * time.Second):
		t.Fatal("flyover did not load")
	}
	if _, err := deps.Flyovers.AttachSurface(context.Background(), snap.ID, sim.NewCapable(domain.CameraTarget{}), nil); err != nil {
		t.Fatalf("attach surface: %v", err)
	}
	return snap.ID
}

// ---- Flyover handler tests ----

func TestCreateFlyover_Success(t *testing.T) {
	app := setupApp(makeDeps(t))

	req := httptest.NewRequest("POST", "/v1/flyovers", strings.NewReader(`{"itinerary":[
		{"day":1,"time":"09:00","activity":"Pilgrimage","location":"Yasawi Mausoleum"}
	]}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var snap domain.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.ID == "" {
		t.Fatal("expected a session id")
	}
	if snap.Phase != domain.PhaseLoading {
		t.Errorf("expected loading, got %s", snap.Phase)
	}
	if loc := resp.Header.Get("Location"); loc != "/v1/flyovers/"+snap.ID {
		t.Errorf("unexpected Location header %q", loc)
	}
}

func TestCreateFlyover_BadBody(t *testing.T) {
	app := setupApp(makeDeps(t))

	status, body := postJSON(t, app, "/v1/flyovers", `{"itinerary":`)
	if status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
	if code := errorCode(t, body); code != "bad_request" {
		t.Errorf("expected bad_request, got %s", code)
	}
}

func TestGetFlyover_NotFound(t *testing.T) {
	app := setupApp(makeDeps(t))

	req := httptest.NewRequest("GET", "/v1/flyovers/does-not-exist", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if code := errorCode(t, readBody(t, resp.Body)); code != "not_found" {
		t.Errorf("expected not_found, got %s", code)
	}
}

func TestGetFlyover_ReadyAfterLoad(t *testing.T) {
	deps := makeDeps(t)
	app := setupApp(deps)
	id := createReady(t, deps, app)

	req := httptest.NewRequest("GET", "/v1/flyovers/"+id, nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
		t.Errorf("expected no-store, got %q", cc)
	}

	var snap domain.Snapshot
	json.NewDecoder(resp.Body).Decode(&snap)
	if snap.Phase != domain.PhaseReady {
		t.Errorf("expected ready, got %s", snap.Phase)
	}
	if len(snap.Stops) != 2 {
		t.Fatalf("expected 2 stops, got %d", len(snap.Stops))
	}
	if snap.Stops[0].PlaceID != "yasawi-mausoleum" || snap.Stops[1].PlaceID != "otrar" {
		t.Errorf("unexpected stop order: %s, %s", snap.Stops[0].PlaceID, snap.Stops[1].PlaceID)
	}
	if snap.Backend != "capable" {
		t.Errorf("expected capable backend, got %q", snap.Backend)
	}
}

func TestPlaybackControls(t *testing.T) {
	deps := makeDeps(t)
	app := setupApp(deps)
	id := createReady(t, deps, app)

	// Nothing to pause yet.
	status, body := postJSON(t, app, "/v1/flyovers/"+id+"/pause", "")
	if status != 409 {
		t.Fatalf("expected 409 pausing a ready flyover, got %d", status)
	}
	if code := errorCode(t, body); code != "conflict" {
		t.Errorf("expected conflict, got %s", code)
	}

	status, body = postJSON(t, app, "/v1/flyovers/"+id+"/start", "")
	if status != 200 {
		t.Fatalf("expected 200 on start, got %d: %s", status, body)
	}
	var snap domain.Snapshot
	json.Unmarshal(body, &snap)
	if snap.Phase != domain.PhaseFlying {
		t.Errorf("expected flying, got %s", snap.Phase)
	}

	status, body = postJSON(t, app, "/v1/flyovers/"+id+"/pause", "")
	if status != 200 {
		t.Fatalf("expected 200 on pause, got %d: %s", status, body)
	}
	json.Unmarshal(body, &snap)
	if snap.Phase != domain.PhasePaused {
		t.Errorf("expected paused, got %s", snap.Phase)
	}

	status, _ = postJSON(t, app, "/v1/flyovers/"+id+"/resume", "")
	if status != 200 {
		t.Fatalf("expected 200 on resume, got %d", status)
	}

	status, body = postJSON(t, app, "/v1/flyovers/"+id+"/reset", "")
	if status != 200 {
		t.Fatalf("expected 200 on reset, got %d", status)
	}
	json.Unmarshal(body, &snap)
	if snap.Phase != domain.PhaseReady {
		t.Errorf("expected ready after reset, got %s", snap.Phase)
	}
}

func TestSpeed_Validation(t *testing.T) {
	deps := makeDeps(t)
	app := setupApp(deps)
	id := createReady(t, deps, app)

	status, body := postJSON(t, app, "/v1/flyovers/"+id+"/speed", `{"multiplier":3}`)
	if status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
	if code := errorCode(t, body); code != "bad_request" {
		t.Errorf("expected bad_request, got %s", code)
	}

	status, body = postJSON(t, app, "/v1/flyovers/"+id+"/speed", `{"multiplier":1.5}`)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var snap domain.Snapshot
	json.Unmarshal(body, &snap)
	if snap.Speed != 1.5 {
		t.Errorf("expected speed 1.5, got %v", snap.Speed)
	}
}

func TestStart_NegativeIndex(t *testing.T) {
	deps := makeDeps(t)
	app := setupApp(deps)
	id := createReady(t, deps, app)

	status, _ := postJSON(t, app, "/v1/flyovers/"+id+"/start", `{"from":-1}`)
	if status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestTogglePanorama_OnlyWhilePaused(t *testing.T) {
	deps := makeDeps(t)
	app := setupApp(deps)
	id := createReady(t, deps, app)

	status, body := postJSON(t, app, "/v1/flyovers/"+id+"/panorama/toggle", "")
	if status != 409 {
		t.Fatalf("expected 409, got %d", status)
	}
	if code := errorCode(t, body); code != "conflict" {
		t.Errorf("expected conflict, got %s", code)
	}
}

func TestDeleteFlyover(t *testing.T) {
	deps := makeDeps(t)
	app := setupApp(deps)
	id := createReady(t, deps, app)

	req := httptest.NewRequest("DELETE", "/v1/flyovers/"+id, nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 204 {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest("GET", "/v1/flyovers/"+id, nil)
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestRouteGeoJSON(t *testing.T) {
	deps := makeDeps(t)
	app := setupApp(deps)
	id := createReady(t, deps, app)

	req := httptest.NewRequest("GET", "/v1/flyovers/"+id+"/route.geojson", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("unexpected content type %q", ct)
	}

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type string `json:"type"`
			} `json:"geometry"`
			Properties map[string]interface{} `json:"properties"`
		} `json:"features"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		t.Fatal(err)
	}
	if fc.Type != "FeatureCollection" {
		t.Fatalf("expected FeatureCollection, got %s", fc.Type)
	}
	if len(fc.Features) != 3 {
		t.Fatalf("expected path + 2 stops, got %d features", len(fc.Features))
	}
	if fc.Features[0].Geometry.Type != "LineString" {
		t.Errorf("expected path first, got %s", fc.Features[0].Geometry.Type)
	}
	if length, _ := fc.Features[0].Properties["length_m"].(float64); length <= 0 {
		t.Errorf("expected a positive path length, got %v", fc.Features[0].Properties["length_m"])
	}
	if fc.Features[2].Properties["place_id"] != "otrar" {
		t.Errorf("expected otrar as last stop, got %v", fc.Features[2].Properties["place_id"])
	}
}

// ---- Gazetteer handler tests ----

func TestSearchPlaces_AnyLanguage(t *testing.T) {
	app := setupApp(makeDeps(t))

	req := httptest.NewRequest("GET", "/v1/gazetteer/search?q=%D0%BE%D1%82%D1%80%D0%B0%D1%80", nil) // "отрар"
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var places []domain.Place
	json.NewDecoder(resp.Body).Decode(&places)
	if len(places) != 1 || places[0].ID != "otrar" {
		t.Errorf("expected otrar, got %+v", places)
	}
}

func TestSearchPlaces_MissingQuery(t *testing.T) {
	app := setupApp(makeDeps(t))

	req := httptest.NewRequest("GET", "/v1/gazetteer/search", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSearchPlaces_DeprecatedAlias(t *testing.T) {
	app := setupApp(makeDeps(t))

	req := httptest.NewRequest("GET", "/v1/places/search?q=mausoleum", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Deprecation") != "true" {
		t.Error("expected Deprecation header")
	}
	if link := resp.Header.Get("Link"); !strings.Contains(link, "/v1/gazetteer/search") {
		t.Errorf("expected successor link, got %q", link)
	}
}

func TestListPlaces_Pagination(t *testing.T) {
	app := setupApp(makeDeps(t))

	req := httptest.NewRequest("GET", "/v1/gazetteer/places?offset=2&limit=2", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Data       []domain.Place `json:"data"`
		Pagination struct {
			Offset int `json:"offset"`
			Limit  int `json:"limit"`
			Total  int `json:"total"`
		} `json:"pagination"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Pagination.Total != 5 {
		t.Errorf("expected total 5, got %d", result.Pagination.Total)
	}
	if len(result.Data) != 2 || result.Data[0].ID != "arystan-bab" {
		t.Errorf("unexpected page %+v", result.Data)
	}

	link := resp.Header.Get("Link")
	for _, rel := range []string{`rel="first"`, `rel="prev"`, `rel="next"`, `rel="last"`} {
		if !strings.Contains(link, rel) {
			t.Errorf("expected %s in Link header %q", rel, link)
		}
	}
}

func TestGetPlace(t *testing.T) {
	app := setupApp(makeDeps(t))

	for _, tc := range []struct {
		id     string
		status int
	}{
		{"karavan-saray", 200},
		{"nowhere", 404},
	} {
		req := httptest.NewRequest("GET", fmt.Sprintf("/v1/gazetteer/places/%s", tc.id), nil)
		resp, _ := app.Test(req, -1)
		if resp.StatusCode != tc.status {
			t.Errorf("%s: expected %d, got %d", tc.id, tc.status, resp.StatusCode)
		}
	}
}

// ---- System tests ----

func TestHealth(t *testing.T) {
	app := setupApp(makeDeps(t))

	req := httptest.NewRequest("GET", "/v1/health", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("expected a request id header")
	}
}

func TestReady_OptionalBackends(t *testing.T) {
	app := setupApp(makeDeps(t))

	req := httptest.NewRequest("GET", "/v1/ready", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Checks map[string]string `json:"checks"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Checks["gazetteer"] != "ok" {
		t.Errorf("expected gazetteer ok, got %q", result.Checks["gazetteer"])
	}
	if result.Checks["database"] != "not configured" {
		t.Errorf("expected database not configured, got %q", result.Checks["database"])
	}
}

func TestReady_EmptyGazetteer(t *testing.T) {
	deps := makeDeps(t)
	deps.Gazetteer = gazetteer.NewMemory(nil)
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/ready", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 503 {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestETag_NotModified(t *testing.T) {
	app := setupApp(makeDeps(t))

	req := httptest.NewRequest("GET", "/v1/gazetteer/places/otrar", nil)
	resp, _ := app.Test(req, -1)
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatal("expected an ETag")
	}

	req = httptest.NewRequest("GET", "/v1/gazetteer/places/otrar", nil)
	req.Header.Set("If-None-Match", etag)
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 304 {
		t.Fatalf("expected 304, got %d", resp.StatusCode)
	}
}

func TestGraphQL_Places(t *testing.T) {
	app := setupApp(makeDeps(t))

	status, body := postJSON(t, app, "/graphql", `{"query":"{ places(q: \"mausoleum\") { id name_en lat } }"}`)
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}

	var result struct {
		Data struct {
			Places []struct {
				ID     string  `json:"id"`
				NameEN string  `json:"name_en"`
				Lat    float64 `json:"lat"`
			} `json:"places"`
		} `json:"data"`
		Errors []interface{} `json:"errors"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if len(result.Data.Places) != 2 {
		t.Fatalf("expected 2 mausoleums, got %d", len(result.Data.Places))
	}
	if result.Data.Places[0].ID != "yasawi-mausoleum" {
		t.Errorf("expected yasawi first, got %s", result.Data.Places[0].ID)
	}
}

func TestGraphQL_Flyover(t *testing.T) {
	deps := makeDeps(t)
	app := setupApp(deps)
	id := createReady(t, deps, app)

	status, body := postJSON(t, app, "/graphql", fmt.Sprintf(`{"query":"{ flyover(id: \"%s\") { phase stops { title place_id } } }"}`, id))
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}

	var result struct {
		Data struct {
			Flyover struct {
				Phase string `json:"phase"`
				Stops []struct {
					Title   string `json:"title"`
					PlaceID string `json:"place_id"`
				} `json:"stops"`
			} `json:"flyover"`
		} `json:"data"`
	}
	json.Unmarshal(body, &result)
	if result.Data.Flyover.Phase != "ready" {
		t.Errorf("expected ready, got %q", result.Data.Flyover.Phase)
	}
	if len(result.Data.Flyover.Stops) != 2 {
		t.Errorf("expected 2 stops, got %d", len(result.Data.Flyover.Stops))
	}
}
