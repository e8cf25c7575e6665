package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBaseURL(t *testing.T) {
	tt := []struct {
		Name       string
		Headers    map[string]string
		Configured string
		Want       string
	}{
		{
			Name:    "HeaderWins",
			Headers: map[string]string{"x-base-url": "http://bridge/"},
			Want:    "http://bridge",
		},
		{
			Name: "Forwarded",
			Headers: map[string]string{
				"x-forwarded-proto": "https",
				"x-forwarded-host":  "edge.example.com",
			},
			Want: "https://edge.example.com",
		},
		{
			Name:       "Configured",
			Configured: "http://cfg.example.com/",
			Want:       "http://cfg.example.com",
		},
		{
			Name: "RequestFallback",
			Want: "http://backend.test",
		},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://backend.test/", nil)
			for k, v := range tc.Headers {
				r.Header.Set(k, v)
			}
			if got := BaseURL(r, tc.Configured, ""); got != tc.Want {
				t.Errorf("got %q, want %q", got, tc.Want)
			}
		})
	}
}
