package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botgate/pkg/tenants"
)

type stubProvider struct {
	bots map[string]tenants.Bot
	err  error
}

func (s *stubProvider) GetBot(_ context.Context, id string) (tenants.Bot, error) {
	if s.err != nil {
		return tenants.Bot{}, s.err
	}
	if b, ok := s.bots[id]; ok {
		return b, nil
	}
	return tenants.Bot{}, tenants.ErrNotFound
}

func (s *stubProvider) PutBot(context.Context, tenants.Bot) error { return nil }

func (s *stubProvider) ListBots(context.Context) ([]tenants.Bot, error) { return nil, nil }

func botRouter(prov tenants.Provider) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1/bots/{botID}", func(br chi.Router) {
		br.Use(WithBot(prov))
		br.Get("/chat", func(w http.ResponseWriter, req *http.Request) {
			_, _ = w.Write([]byte(BotFrom(req.Context()).ID))
		})
	})
	return r
}

func TestWithBotUnknownIs404(t *testing.T) {
	rec := httptest.NewRecorder()
	botRouter(&stubProvider{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/bots/ghost/chat", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "tenant_unknown", body["code"])
}

func TestWithBotResolvesIntoContext(t *testing.T) {
	prov := &stubProvider{bots: map[string]tenants.Bot{"acme": {ID: "acme"}}}
	rec := httptest.NewRecorder()
	botRouter(prov).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/bots/acme/chat", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", rec.Body.String())
}

func TestWithBotLookupFailureIs500(t *testing.T) {
	prov := &stubProvider{err: errors.New("pg down")}
	rec := httptest.NewRecorder()
	botRouter(prov).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/bots/acme/chat", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal", body["code"])
}
