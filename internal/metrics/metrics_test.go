package metrics

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/", "/"},
		{"/health", "/health"},
		{"/api/v1/agents", "/api/v1/agents"},
		{"/api/v1/agents/log-parser", "/api/v1/agents/:id"},
		{"/api/v1/agents/log-parser/download", "/api/v1/agents/:id/download"},
		{"/api/v1/agents/log-parser/download/1.0.0", "/api/v1/agents/:id/download"},
		{"/api/v1/reviews/abc/helpful", "/api/v1/reviews/:id/helpful"},
	}
	for _, tc := range cases {
		if got := canonicalPath(tc.in); got != tc.want {
			t.Errorf("canonicalPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
