package identity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddlewareIssuesCookieAndSession(t *testing.T) {
	t.Parallel()

	var gotChat string
	h := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotChat = ChatSessionID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.Header.Set(SessionHeaderName, "tab-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || !isValidAnonID(cookies[0].Value) {
		t.Fatalf("cookies = %+v, want one anon cookie", cookies)
	}
	want := "web:" + cookies[0].Value + ":tab-1"
	if gotChat != want {
		t.Errorf("ChatSessionID = %q, want %q", gotChat, want)
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	t.Parallel()

	id := generateAnonID()
	var gotUser, gotSession string
	h := Middleware(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/?session_id=bad%20id!", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if gotUser != id {
		t.Errorf("user = %q, want %q", gotUser, id)
	}
	if gotSession != DefaultSessionIDValue {
		t.Errorf("session = %q, want default for invalid id", gotSession)
	}
	if c := rec.Result().Cookies(); len(c) != 1 || !c[0].Secure {
		t.Errorf("cookie = %+v, want refreshed secure cookie", c)
	}
}

func TestGenerateAnonID(t *testing.T) {
	t.Parallel()
	id := generateAnonID()
	if !isValidAnonID(id) || !strings.HasPrefix(id, "anon_") {
		t.Errorf("generateAnonID() = %q", id)
	}
	if ChatSessionID(WithIdentity(t.Context(), "", "x")) != "" {
		t.Error("ChatSessionID without user should be empty")
	}
}
