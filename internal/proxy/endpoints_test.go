package proxy_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

type routeInfoBody struct {
	Name      string `json:"name"`
	Target    string `json:"target"`
	URL       string `json:"url"`
	Error     string `json:"error"`
	Reachable *bool  `json:"reachable"`
}

type routesBody struct {
	Routes []routeInfoBody `json:"routes"`
	Count  int             `json:"count"`
	Source string          `json:"source"`
}

func decodeRoutes(t *testing.T, rec *httptest.ResponseRecorder) routesBody {
	t.Helper()
	var body routesBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v (%q)", err, rec.Body.String())
	}
	return body
}

func findRoute(t *testing.T, body routesBody, name string) routeInfoBody {
	t.Helper()
	for _, r := range body.Routes {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("route %q missing from %+v", name, body.Routes)
	return routeInfoBody{}
}

func TestRoutesEndpoint_ReportsInvalidEntries(t *testing.T) {
	h := newTestHandler(t, testConfig(), `{"good": 3000, "broken": "not a target"}`)

	rec := httptest.NewRecorder()
	h.RoutesHandler()(rec, httptest.NewRequest(http.MethodGet, "/routes", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeRoutes(t, rec)
	if body.Count != 2 {
		t.Fatalf("count = %d, want 2", body.Count)
	}
	if body.Source == "" {
		t.Error("source path missing")
	}

	good := findRoute(t, body, "good")
	if good.URL != "http://127.0.0.1:3000" || good.Error != "" {
		t.Errorf("good = %+v, want a resolved URL and no error", good)
	}
	broken := findRoute(t, body, "broken")
	if broken.Error == "" {
		t.Error("broken entry must carry an error field")
	}
	if broken.URL != "" {
		t.Errorf("broken entry must not carry a URL, got %q", broken.URL)
	}
	// /routes never probes.
	if good.Reachable != nil || broken.Reachable != nil {
		t.Error("/routes must not include reachability")
	}
}

func TestMappingsEndpoint_ProbesReachability(t *testing.T) {
	live := httptest.NewServer(http.NotFoundHandler())
	defer live.Close()
	liveURL, _ := url.Parse(live.URL)

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL, _ := url.Parse(dead.URL)
	dead.Close()

	h := newTestHandler(t, testConfig(),
		`{"up": "`+liveURL.Host+`", "down": "`+deadURL.Host+`", "broken": "not a target"}`)

	rec := httptest.NewRecorder()
	h.MappingsHandler()(rec, httptest.NewRequest(http.MethodGet, "/mappings", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeRoutes(t, rec)

	up := findRoute(t, body, "up")
	if up.Reachable == nil || !*up.Reachable {
		t.Errorf("up = %+v, want reachable=true", up)
	}
	down := findRoute(t, body, "down")
	if down.Reachable == nil || *down.Reachable {
		t.Errorf("down = %+v, want reachable=false", down)
	}
	// Invalid entries have nothing to probe.
	broken := findRoute(t, body, "broken")
	if broken.Reachable != nil {
		t.Errorf("broken = %+v, must not be probed", broken)
	}
	if broken.Error == "" {
		t.Error("broken entry must carry an error field")
	}
}
