package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogging_LevelFollowsStatusClass(t *testing.T) {
	cases := []struct {
		name   string
		status int
		level  string
	}{
		{"success", http.StatusOK, "INFO"},
		{"client error", http.StatusConflict, "WARN"},
		{"server error", http.StatusInternalServerError, "ERROR"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte("body"))
			}))
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/auctions", nil))

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tc.level, entry["level"])
			assert.Equal(t, float64(tc.status), entry["status"])
			assert.Equal(t, float64(4), entry["bytes"])
		})
	}
}

func TestLogging_HealthProbesStayOutOfInfoLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil)) // info level

	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Zero(t, buf.Len(), "successful probes log at debug only")
}
