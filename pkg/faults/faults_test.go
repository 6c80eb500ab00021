package faults

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, RoleDenied, CodeOf(New(RoleDenied, "nope")))
	assert.Equal(t, AuthInvalid, CodeOf(fmt.Errorf("outer: %w", Wrap(AuthInvalid, "bad token", errors.New("sig")))))
	assert.Equal(t, Internal, CodeOf(errors.New("plain")))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, StatusOf(New(AuthMissing, "")))
	assert.Equal(t, http.StatusForbidden, StatusOf(New(RoleDenied, "")))
	assert.Equal(t, http.StatusNotFound, StatusOf(New(NoKnowledge, "")))
	assert.Equal(t, http.StatusBadGateway, StatusOf(New(DecisionParse, "")))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("plain")))
}

func TestWriteHTTPEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHTTP(rec, New(RoleDenied, "insufficient role for endpoint"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"failed","code":"role_denied","error":"insufficient role for endpoint"}`, rec.Body.String())
}

func TestWriteHTTPHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHTTP(rec, Wrap(Internal, "db exploded: password=hunter2", errors.New("pq: fatal")))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
	assert.JSONEq(t, `{"status":"failed","code":"internal","error":"internal error"}`, rec.Body.String())
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root")
	assert.ErrorIs(t, Wrap(Internal, "wrapped", cause), cause)
}
