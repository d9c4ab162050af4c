package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCORS(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name       string
		allowed    []string
		origin     string
		method     string
		wantOrigin string
		wantCreds  bool
		wantStatus int
	}{
		{"explicit origin", []string{"http://localhost:5173"}, "http://localhost:5173", http.MethodPost, "http://localhost:5173", true, http.StatusTeapot},
		{"wildcard has no credentials", []string{"*"}, "https://x.example", http.MethodGet, "https://x.example", false, http.StatusTeapot},
		{"unknown origin", []string{"http://localhost:5173"}, "https://evil.example", http.MethodGet, "", false, http.StatusTeapot},
		{"preflight short-circuits", []string{"*"}, "https://x.example", http.MethodOptions, "https://x.example", false, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(tt.method, "/api/chat", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			CORS(tt.allowed)(next).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.wantCreds {
				t.Errorf("Allow-Credentials = %v, want %v", got, tt.wantCreds)
			}
			if tt.wantOrigin != "" && !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "X-Agribot-Session-ID") {
				t.Error("session header not allowed")
			}
		})
	}
}

func TestOriginPolicy(t *testing.T) {
	t.Parallel()
	p := newOriginPolicy([]string{"", " https://agribot.example/ ", "*"})

	if ok, creds := p.check("https://agribot.example"); !ok || !creds {
		t.Errorf("explicit origin = (%v, %v), want allowed with credentials", ok, creds)
	}
	if ok, creds := p.check("https://other.example"); !ok || creds {
		t.Errorf("wildcard origin = (%v, %v), want allowed without credentials", ok, creds)
	}
	if ok, _ := p.check(""); ok {
		t.Error("empty origin allowed")
	}
	if ok, _ := newOriginPolicy(nil).check("https://agribot.example"); ok {
		t.Error("empty policy allowed an origin")
	}
}
