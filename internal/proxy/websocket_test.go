package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsWebSocketUpgrade(t *testing.T) {
	cases := []struct {
		name       string
		upgrade    string
		connection []string
		want       bool
	}{
		{"plain upgrade", "websocket", []string{"Upgrade"}, true},
		{"token among others", "websocket", []string{"keep-alive, Upgrade"}, true},
		{"case insensitive", "WebSocket", []string{"upgrade"}, true},
		{"repeated connection headers", "websocket", []string{"keep-alive", "Upgrade"}, true},
		{"upgrade without connection token", "websocket", nil, false},
		{"connection without upgrade header", "", []string{"Upgrade"}, false},
		{"wrong protocol", "h2c", []string{"Upgrade"}, false},
		{"no headers", "", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://ws.localhost/", nil)
			if tc.upgrade != "" {
				r.Header.Set("Upgrade", tc.upgrade)
			}
			for _, v := range tc.connection {
				r.Header.Add("Connection", v)
			}
			if got := isWebSocketUpgrade(r); got != tc.want {
				t.Fatalf("isWebSocketUpgrade = %v, want %v", got, tc.want)
			}
		})
	}
}
