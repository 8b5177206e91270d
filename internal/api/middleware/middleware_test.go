package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	h := BasicAuth("admin", string(hash), "/api/health")(okHandler())

	cases := []struct {
		name       string
		path       string
		user, pass string
		setAuth    bool
		want       int
	}{
		{"health is exempt", "/api/health", "", "", false, http.StatusNoContent},
		{"missing credentials", "/api/properties", "", "", false, http.StatusUnauthorized},
		{"wrong password", "/api/properties", "admin", "nope", true, http.StatusUnauthorized},
		{"wrong user", "/api/properties", "root", "hunter2", true, http.StatusUnauthorized},
		{"valid", "/api/properties", "admin", "hunter2", true, http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.setAuth {
			req.SetBasicAuth(tc.user, tc.pass)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, rec.Code, tc.want)
		}
	}
}

func TestBasicAuthDisabledWithoutHash(t *testing.T) {
	h := BasicAuth("admin", "")(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/properties", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestErrorRecovery(t *testing.T) {
	h := Logging(ErrorRecovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}
