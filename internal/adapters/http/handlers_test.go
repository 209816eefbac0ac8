package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	handler "github.com/samirrijal/nearchat/internal/adapters/http"
	"github.com/samirrijal/nearchat/internal/adapters/memory"
	"github.com/samirrijal/nearchat/internal/core/domain"
	"github.com/samirrijal/nearchat/internal/core/ports"
	"github.com/samirrijal/nearchat/internal/core/usecases"
	"github.com/samirrijal/nearchat/internal/pkg/logging"
	"github.com/samirrijal/nearchat/internal/pkg/obfuscate"
)

// ---- Stub authenticator ----

// stubAuth accepts "tok-<user>" and treats "tok-down" as a session store outage.
type stubAuth struct{}

func (stubAuth) Authenticate(ctx context.Context, token string) (*domain.Session, error) {
	if token == "tok-down" {
		return nil, &domain.StoreError{Store: domain.StoreSession, Op: "check", Err: errors.New("connection refused")}
	}
	user, ok := strings.CutPrefix(token, "tok-")
	if !ok || user == "" {
		return nil, domain.ErrUnauthorized
	}
	return &domain.Session{ID: "s-" + user, UserID: user}, nil
}

// ---- Test helpers ----

type testEnv struct {
	app      *fiber.App
	profiles *memory.ProfileRepo
}

func setupApp(t *testing.T) *testEnv {
	t.Helper()
	return setupAppWithGeo(t, memory.NewGeoIndex())
}

func setupAppWithGeo(t *testing.T, geo ports.GeoIndexStore) *testEnv {
	t.Helper()
	profiles := memory.NewProfileRepo()
	for _, p := range []domain.Profile{
		{UserID: "alice", Name: "Alice", Email: "alice@example.com", IsPubliclyVisible: true},
		{UserID: "bob", Name: "Bob", Email: "bob@example.com", IsPubliclyVisible: true},
		{UserID: "carol", Name: "Carol"},
	} {
		profiles.Save(p)
	}

	svc := usecases.NewLocationService(
		usecases.NewLocationRepository(geo, 0),
		profiles,
		obfuscate.New("handler_salt_", obfuscate.DefaultRangeDeg),
	)
	deps := &handler.Dependencies{Locations: svc, Auth: stubAuth{}}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupRoutes(app, deps)
	return &testEnv{app: app, profiles: profiles}
}

func (e *testEnv) do(t *testing.T, method, path, user, body string) (int, []byte, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer tok-"+user)
	}
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, b, resp.Header.Get("Cache-Control")
}

func decode(t *testing.T, b []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
}

func errorCode(t *testing.T, b []byte) string {
	t.Helper()
	var e handler.APIError
	decode(t, b, &e)
	return e.Code
}

// 25 km north of San Francisco city hall.
const (
	sfLon    = -122.4194
	sfLat    = 37.7749
	sfLat25k = 37.7749 + 25/111.195
	sfLat75k = 37.7749 + 75/111.195
)

func (e *testEnv) locate(t *testing.T, user string, lon, lat float64) {
	t.Helper()
	body, _ := json.Marshal(map[string]float64{"longitude": lon, "latitude": lat})
	status, b, _ := e.do(t, "PUT", "/v1/location", user, string(body))
	if status != 200 {
		t.Fatalf("update %s: expected 200, got %d: %s", user, status, b)
	}
}

// ---- Health ----

func TestHealth_NoAuthRequired(t *testing.T) {
	env := setupApp(t)

	status, _, _ := env.do(t, "GET", "/v1/health", "", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}

	status, b, _ := env.do(t, "GET", "/v1/ready", "", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, b)
	}
	var ready struct {
		Checks map[string]string `json:"checks"`
	}
	decode(t, b, &ready)
	if ready.Checks["valkey"] != "in memory" {
		t.Errorf("expected in-memory geo index, got %q", ready.Checks["valkey"])
	}
}

// ---- Authentication ----

func TestAuth_MissingToken(t *testing.T) {
	env := setupApp(t)

	status, b, _ := env.do(t, "GET", "/v1/location/status", "", "")
	if status != 401 {
		t.Fatalf("expected 401, got %d", status)
	}
	if code := errorCode(t, b); code != "unauthorized" {
		t.Errorf("expected unauthorized, got %q", code)
	}
}

func TestAuth_InvalidToken(t *testing.T) {
	env := setupApp(t)

	req := httptest.NewRequest("GET", "/v1/location/status", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	resp, err := env.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 401 {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAuth_SessionStoreDown(t *testing.T) {
	env := setupApp(t)

	status, b, _ := env.do(t, "GET", "/v1/location/status", "down", "")
	if status != 503 {
		t.Fatalf("expected 503, got %d", status)
	}
	if strings.Contains(string(b), "connection refused") {
		t.Errorf("store error leaked to client: %s", b)
	}
}

// ---- Location updates ----

func TestUpdateLocation_MissingCoordinate(t *testing.T) {
	env := setupApp(t)

	status, b, _ := env.do(t, "PUT", "/v1/location", "alice", `{"longitude": 10}`)
	if status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
	if code := errorCode(t, b); code != "bad_request" {
		t.Errorf("expected bad_request, got %q", code)
	}
}

func TestUpdateLocation_OutOfRange(t *testing.T) {
	env := setupApp(t)

	for _, body := range []string{
		`{"longitude": 200, "latitude": 0}`,
		`{"longitude": 0, "latitude": -95}`,
		`not json`,
	} {
		status, _, _ := env.do(t, "PUT", "/v1/location", "alice", body)
		if status != 400 {
			t.Errorf("%s: expected 400, got %d", body, status)
		}
	}
}

func TestUpdateLocation_UnknownProfile(t *testing.T) {
	env := setupApp(t)

	status, b, _ := env.do(t, "PUT", "/v1/location", "ghost", `{"longitude": 1, "latitude": 1}`)
	if status != 404 {
		t.Fatalf("expected 404, got %d", status)
	}
	if code := errorCode(t, b); code != "not_found" {
		t.Errorf("expected not_found, got %q", code)
	}
}

// ---- Nearby ----

func TestNearby_ReturnsPublicUsersWithoutCoordinates(t *testing.T) {
	env := setupApp(t)
	env.locate(t, "alice", sfLon, sfLat)
	env.locate(t, "bob", sfLon, sfLat25k)
	env.locate(t, "carol", sfLon, sfLat25k)

	status, b, cc := env.do(t, "GET", "/v1/location/nearby?radius_km=50", "alice", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, b)
	}
	if cc != "no-store" {
		t.Errorf("expected Cache-Control no-store, got %q", cc)
	}

	var result struct {
		Users    []domain.NearbyUser `json:"users"`
		Count    int                 `json:"count"`
		RadiusKm float64             `json:"radiusKm"`
	}
	decode(t, b, &result)
	if result.Count != 1 || len(result.Users) != 1 {
		t.Fatalf("expected only bob, got %+v", result.Users)
	}
	if result.Users[0].UserID != "bob" {
		t.Errorf("expected bob, got %q", result.Users[0].UserID)
	}
	if d := result.Users[0].DistanceKm; d < 23.5 || d > 26.5 {
		t.Errorf("expected ~25 km, got %v", d)
	}
	for _, leak := range []string{"latitude", "longitude", "lat", "lon"} {
		if strings.Contains(string(b), `"`+leak+`"`) {
			t.Errorf("response exposes %s: %s", leak, b)
		}
	}
}

func TestNearby_Validation(t *testing.T) {
	env := setupApp(t)
	env.locate(t, "alice", sfLon, sfLat)

	for _, q := range []string{"", "?radius_km=abc", "?radius_km=0", "?radius_km=1001", "?radius_km=5&limit=x", "?radius_km=5&limit=-1"} {
		status, _, _ := env.do(t, "GET", "/v1/location/nearby"+q, "alice", "")
		if status != 400 {
			t.Errorf("%q: expected 400, got %d", q, status)
		}
	}
}

func TestNearby_NoOwnLocation(t *testing.T) {
	env := setupApp(t)

	status, b, _ := env.do(t, "GET", "/v1/location/nearby?radius_km=5", "alice", "")
	if status != 404 {
		t.Fatalf("expected 404, got %d", status)
	}
	if code := errorCode(t, b); code != "location_not_found" {
		t.Errorf("expected location_not_found, got %q", code)
	}
}

// ---- Distance and access ----

func TestDistance_FollowsTargetPrivacy(t *testing.T) {
	env := setupApp(t)
	env.locate(t, "alice", sfLon, sfLat)
	env.locate(t, "bob", sfLon, sfLat25k)

	status, b, _ := env.do(t, "GET", "/v1/location/distance/bob", "alice", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, b)
	}
	var dist struct {
		UserID     string  `json:"userId"`
		DistanceKm float64 `json:"distanceKm"`
	}
	decode(t, b, &dist)
	if dist.UserID != "bob" || dist.DistanceKm < 23.5 || dist.DistanceKm > 26.5 {
		t.Errorf("unexpected distance result %+v", dist)
	}

	status, b, _ = env.do(t, "PATCH", "/v1/location/privacy", "bob", `{"isPubliclyVisible": false}`)
	if status != 200 {
		t.Fatalf("privacy: expected 200, got %d: %s", status, b)
	}

	status, b, _ = env.do(t, "GET", "/v1/location/distance/bob", "alice", "")
	if status != 403 {
		t.Fatalf("expected 403, got %d", status)
	}
	var apiErr handler.APIError
	decode(t, b, &apiErr)
	if apiErr.Message != domain.ReasonPrivate {
		t.Errorf("expected reason %q, got %q", domain.ReasonPrivate, apiErr.Message)
	}
}

func TestAccess_Reasons(t *testing.T) {
	env := setupApp(t)
	env.locate(t, "alice", sfLon, sfLat)
	env.locate(t, "bob", sfLon, sfLat75k)

	tests := []struct {
		target  string
		allowed bool
		reason  string
	}{
		{"alice", true, domain.ReasonOwnLocation},
		{"ghost", false, domain.ReasonTargetNotFound},
		{"carol", false, domain.ReasonPrivate},
		{"bob", false, domain.ReasonOutsideRadius},
	}
	for _, tt := range tests {
		status, b, _ := env.do(t, "GET", "/v1/location/access/"+tt.target, "alice", "")
		if status != 200 {
			t.Fatalf("%s: expected 200, got %d", tt.target, status)
		}
		var d domain.AccessDecision
		decode(t, b, &d)
		if d.Allowed != tt.allowed || d.Reason != tt.reason {
			t.Errorf("%s: got %+v, want allowed=%v reason=%q", tt.target, d, tt.allowed, tt.reason)
		}
	}
}

// ---- Privacy, status and removal ----

func TestPrivacy_Validation(t *testing.T) {
	env := setupApp(t)

	for _, body := range []string{`{}`, `{"publicRadiusKm": 0.5}`, `{"publicRadiusKm": 1001}`} {
		status, _, _ := env.do(t, "PATCH", "/v1/location/privacy", "alice", body)
		if status != 400 {
			t.Errorf("%s: expected 400, got %d", body, status)
		}
	}
}

func TestRemoveLocation_ClearsStatus(t *testing.T) {
	env := setupApp(t)
	env.locate(t, "alice", sfLon, sfLat)

	status, b, _ := env.do(t, "GET", "/v1/location/status", "alice", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	var st domain.LocationStatus
	decode(t, b, &st)
	if !st.HasLocation || st.TTLSeconds <= 0 || st.LastUpdate == "" {
		t.Fatalf("expected live location, got %+v", st)
	}

	status, _, _ = env.do(t, "DELETE", "/v1/location", "alice", "")
	if status != 204 {
		t.Fatalf("expected 204, got %d", status)
	}

	_, b, _ = env.do(t, "GET", "/v1/location/status", "alice", "")
	st = domain.LocationStatus{}
	decode(t, b, &st)
	if st.HasLocation || st.TTLSeconds != -1 {
		t.Errorf("expected no location after removal, got %+v", st)
	}
}

// ---- GraphQL ----

func TestGraphQL_NearbyUsers(t *testing.T) {
	env := setupApp(t)
	env.locate(t, "alice", sfLon, sfLat)
	env.locate(t, "bob", sfLon, sfLat25k)

	query := `{"query": "{ nearbyUsers(radiusKm: 50) { userId distanceKm } locationAccess(userId: \"bob\") { allowed reason } }"}`
	status, b, cc := env.do(t, "POST", "/graphql", "alice", query)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, b)
	}
	if cc != "no-store" {
		t.Errorf("expected Cache-Control no-store, got %q", cc)
	}

	var result struct {
		Data struct {
			NearbyUsers    []domain.NearbyUser   `json:"nearbyUsers"`
			LocationAccess domain.AccessDecision `json:"locationAccess"`
		} `json:"data"`
		Errors []any `json:"errors"`
	}
	decode(t, b, &result)
	if len(result.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if len(result.Data.NearbyUsers) != 1 || result.Data.NearbyUsers[0].UserID != "bob" {
		t.Errorf("expected bob, got %+v", result.Data.NearbyUsers)
	}
	if !result.Data.LocationAccess.Allowed {
		t.Errorf("expected access granted, got %+v", result.Data.LocationAccess)
	}
}

func TestGraphQL_RequiresAuth(t *testing.T) {
	env := setupApp(t)

	status, _, _ := env.do(t, "POST", "/graphql", "", `{"query": "{ locationStatus { hasLocation } }"}`)
	if status != 401 {
		t.Fatalf("expected 401, got %d", status)
	}
}

type gqlResult struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (e *testEnv) gql(t *testing.T, user, query string, vars map[string]any) gqlResult {
	t.Helper()
	body, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		t.Fatal(err)
	}
	status, b, _ := e.do(t, "POST", "/graphql", user, string(body))
	if status != 200 {
		t.Fatalf("graphql: expected 200, got %d: %s", status, b)
	}
	var res gqlResult
	decode(t, b, &res)
	return res
}

func (e *testEnv) status(t *testing.T, user string) domain.LocationStatus {
	t.Helper()
	status, b, _ := e.do(t, "GET", "/v1/location/status", user, "")
	if status != 200 {
		t.Fatalf("status %s: expected 200, got %d", user, status)
	}
	var st domain.LocationStatus
	decode(t, b, &st)
	return st
}

func TestGraphQL_UpdateLocation(t *testing.T) {
	env := setupApp(t)
	const m = `mutation ($lon: Float!, $lat: Float!) { updateLocation(longitude: $lon, latitude: $lat, accuracy: 5) }`

	res := env.gql(t, "alice", m, map[string]any{"lon": sfLon, "lat": sfLat})
	if len(res.Errors) > 0 {
		t.Fatalf("unexpected errors: %+v", res.Errors)
	}
	if string(res.Data["updateLocation"]) != "true" {
		t.Errorf("expected true, got %s", res.Data["updateLocation"])
	}
	st := env.status(t, "alice")
	if !st.HasLocation || st.Accuracy != "5" {
		t.Errorf("expected stored location with accuracy 5, got %+v", st)
	}

	res = env.gql(t, "bob", m, map[string]any{"lon": sfLon, "lat": 91.0})
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0].Message, "latitude") {
		t.Fatalf("expected latitude validation error, got %+v", res.Errors)
	}
	if st := env.status(t, "bob"); st.HasLocation {
		t.Errorf("invalid update must not be stored, got %+v", st)
	}
}

func TestGraphQL_UpdatePrivacy(t *testing.T) {
	env := setupApp(t)
	env.locate(t, "alice", sfLon, sfLat)
	env.locate(t, "bob", sfLon, sfLat25k)

	res := env.gql(t, "bob", `mutation { updatePrivacy(isPubliclyVisible: false) }`, nil)
	if len(res.Errors) > 0 || string(res.Data["updatePrivacy"]) != "true" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if st := env.status(t, "bob"); st.IsPubliclyVisible {
		t.Errorf("expected bob private, got %+v", st)
	}

	res = env.gql(t, "alice", `query ($id: String!) { locationAccess(userId: $id) { allowed reason } }`, map[string]any{"id": "bob"})
	var d domain.AccessDecision
	decode(t, res.Data["locationAccess"], &d)
	if d.Allowed || d.Reason != domain.ReasonPrivate {
		t.Errorf("expected private denial, got %+v", d)
	}

	res = env.gql(t, "bob", `mutation { updatePrivacy(publicRadiusKm: 0.5) }`, nil)
	if len(res.Errors) != 1 {
		t.Fatalf("expected radius validation error, got %+v", res.Errors)
	}
}

func TestGraphQL_RemoveLocation(t *testing.T) {
	env := setupApp(t)
	env.locate(t, "alice", sfLon, sfLat)

	res := env.gql(t, "alice", `mutation { removeLocation }`, nil)
	if len(res.Errors) > 0 || string(res.Data["removeLocation"]) != "true" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if st := env.status(t, "alice"); st.HasLocation {
		t.Errorf("expected no location after removal, got %+v", st)
	}

	// removing again is a no-op
	res = env.gql(t, "alice", `mutation { removeLocation }`, nil)
	if len(res.Errors) > 0 {
		t.Errorf("second removal failed: %+v", res.Errors)
	}
}

func TestGraphQL_DistanceToFollowsAccess(t *testing.T) {
	env := setupApp(t)
	env.locate(t, "alice", sfLon, sfLat)
	env.locate(t, "bob", sfLon, sfLat25k)
	env.locate(t, "carol", sfLon, sfLat25k)

	const q = `query ($id: String!) { distanceTo(userId: $id) }`

	res := env.gql(t, "alice", q, map[string]any{"id": "bob"})
	if len(res.Errors) > 0 {
		t.Fatalf("unexpected errors: %+v", res.Errors)
	}
	var km float64
	decode(t, res.Data["distanceTo"], &km)
	if km < 23.5 || km > 26.5 {
		t.Errorf("unexpected distance %v", km)
	}

	res = env.gql(t, "alice", q, map[string]any{"id": "carol"})
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0].Message, domain.ReasonPrivate) {
		t.Fatalf("expected private denial, got %+v", res.Errors)
	}
	if v := string(res.Data["distanceTo"]); v != "null" {
		t.Errorf("denied distance must be null, got %s", v)
	}
}

// deadlineGeo records whether reads carry a request deadline.
type deadlineGeo struct {
	*memory.GeoIndex
	sawDeadline bool
}

func (g *deadlineGeo) Get(ctx context.Context, userID string) (*domain.Position, error) {
	_, g.sawDeadline = ctx.Deadline()
	return g.GeoIndex.Get(ctx, userID)
}

func TestGraphQL_RunsWithRequestDeadline(t *testing.T) {
	geo := &deadlineGeo{GeoIndex: memory.NewGeoIndex()}
	env := setupAppWithGeo(t, geo)

	res := env.gql(t, "alice", `{ locationStatus { hasLocation } }`, nil)
	if len(res.Errors) > 0 {
		t.Fatalf("unexpected errors: %+v", res.Errors)
	}
	if !geo.sawDeadline {
		t.Error("graphql resolvers ran without a request deadline")
	}
}

// ---- Docs ----

func TestDocs_OpenAPIWithETag(t *testing.T) {
	env := setupApp(t)

	// Tests run in the package directory; the document lives at the repo root.
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupDocs(app, "../../../api/openapi.yaml")

	resp, err := app.Test(httptest.NewRequest("GET", "/docs/openapi.yaml", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag header")
	}

	req := httptest.NewRequest("GET", "/docs/openapi.yaml", nil)
	req.Header.Set("If-None-Match", etag)
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 304 {
		t.Errorf("expected 304, got %d", resp.StatusCode)
	}

	// Location responses never get an ETag.
	env.locate(t, "alice", sfLon, sfLat)
	req = httptest.NewRequest("GET", "/v1/location/status", nil)
	req.Header.Set("Authorization", "Bearer tok-alice")
	resp, err = env.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Header.Get("ETag") != "" {
		t.Error("location responses must not carry an ETag")
	}
}

// ---- Logging ----

func TestAccessLog_RequestScopedFields(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(logging.New(&buf, "info", "json"))
	t.Cleanup(func() { slog.SetDefault(prev) })

	env := setupApp(t)
	env.do(t, "GET", "/v1/location/access/carol", "alice", "")

	var line string
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if strings.Contains(l, `"msg":"http request"`) {
			line = l
		}
	}
	if line == "" {
		t.Fatalf("no access log line in %q", buf.String())
	}
	for _, want := range []string{`"request_id":`, `"user_id":"alice"`, `"route":"/v1/location/access/:userId"`} {
		if !strings.Contains(line, want) {
			t.Errorf("access log missing %s: %s", want, line)
		}
	}
	if strings.Contains(line, "carol") {
		t.Errorf("access log leaks the target user id: %s", line)
	}
}
