package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandler(t *testing.T) {
	t.Parallel()
	h := Handler()

	for _, path := range []string{"/", "/chat/anything"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d", path, rec.Code)
			continue
		}
		if !strings.Contains(rec.Body.String(), "<title>Agribot</title>") {
			t.Errorf("GET %s did not serve the chat page", path)
		}
	}
}
