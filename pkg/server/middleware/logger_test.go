package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	var fromCtx *zerolog.Logger
	handler := chimw.RequestID(Logger(&logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = zerolog.Ctx(r.Context())
		fromCtx.Info().Msg("inside")
		w.WriteHeader(http.StatusTeapot)
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/FI/Notification", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotNil(t, fromCtx)
	out := buf.String()
	assert.Contains(t, out, `"path":"/FI/Notification"`)
	assert.Contains(t, out, `"request_id":"`)
	assert.Contains(t, out, `"status":418`)
	assert.Contains(t, out, `"message":"inside"`)
}
