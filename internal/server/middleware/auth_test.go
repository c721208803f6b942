package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func adminRequest(key string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/admin/blacklist", nil)
	if key != "" {
		r.Header.Set("X-API-Key", key)
	}
	return r
}

func TestAdminAuth_AcceptsConfiguredKey(t *testing.T) {
	called := false
	h := AdminAuth("op-key")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, adminRequest("op-key"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}

func TestAdminAuth_AcceptsBearerScheme(t *testing.T) {
	called := false
	h := AdminAuth("op-key")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	r := adminRequest("")
	r.Header.Set("Authorization", "Bearer op-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}

func TestAdminAuth_RejectsWrongOrMissingKey(t *testing.T) {
	h := AdminAuth("op-key")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, adminRequest("guess"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, adminRequest(""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminAuth_EmptyKeyLocksEverythingOut(t *testing.T) {
	h := AdminAuth("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, adminRequest("anything"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
