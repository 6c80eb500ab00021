// internal/adminapi/handlers.go
package adminapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"botgate/internal/retrieval"
	"botgate/pkg/faults"
	"botgate/pkg/tenants"
)

// App is the admin-service application container: bot registration, config
// updates and document upload forwarding. Keep it lean; shared deps only.
type App struct {
	log      *zap.SugaredLogger
	registry tenants.Provider
	ingestor retrieval.Ingestor
}

func New(log *zap.SugaredLogger, registry tenants.Provider, ingestor retrieval.Ingestor) *App {
	return &App{log: log, registry: registry, ingestor: ingestor}
}

type botPayload struct {
	ID               string                    `json:"id"`
	Slug             string                    `json:"slug"`
	DisplayName      string                    `json:"display_name"`
	Persona          string                    `json:"persona"`
	PolicyText       string                    `json:"policy_text"`
	UpstreamBaseURL  string                    `json:"upstream_base_url"`
	Issuer           string                    `json:"issuer"`
	Audience         string                    `json:"audience"`
	RolesClaimPath   string                    `json:"roles_claim_path"`
	EndpointPolicies []tenants.EndpointPolicy  `json:"endpoint_policies"`
	RegoPolicy       string                    `json:"rego_policy,omitempty"`
}

func (p botPayload) toBot() tenants.Bot {
	return tenants.Bot{
		ID: p.ID, Slug: p.Slug, DisplayName: p.DisplayName,
		Persona: p.Persona, PolicyText: p.PolicyText,
		UpstreamBaseURL: p.UpstreamBaseURL,
		Issuer:          p.Issuer, Audience: p.Audience,
		RolesClaimPath:   p.RolesClaimPath,
		EndpointPolicies: p.EndpointPolicies,
		RegoPolicy:       p.RegoPolicy,
	}
}

func fromBot(b tenants.Bot) botPayload {
	return botPayload{
		ID: b.ID, Slug: b.Slug, DisplayName: b.DisplayName,
		Persona: b.Persona, PolicyText: b.PolicyText,
		UpstreamBaseURL: b.UpstreamBaseURL,
		Issuer:          b.Issuer, Audience: b.Audience,
		RolesClaimPath:   b.RolesClaimPath,
		EndpointPolicies: b.EndpointPolicies,
		RegoPolicy:       b.RegoPolicy,
	}
}

// Routes mounts the admin surface.
func (a *App) Routes(r chi.Router) {
	r.Post("/v1/bots", a.createBot)
	r.Get("/v1/bots", a.listBots)
	r.Get("/v1/bots/{botID}", a.getBot)
	r.Put("/v1/bots/{botID}", a.updateBot)
	r.Post("/v1/bots/{botID}/documents", a.uploadDocument)
}

// createBot registers a new bot. Endpoint policies are validated here, at
// config-write time, so request-time code never sees a malformed policy.
func (a *App) createBot(w http.ResponseWriter, r *http.Request) {
	var p botPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		faults.WriteHTTP(w, faults.New(faults.InputInvalid, "request body must be JSON"))
		return
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	b := p.toBot()
	if err := b.Validate(); err != nil {
		faults.WriteHTTP(w, faults.New(faults.InputInvalid, err.Error()))
		return
	}
	if err := a.registry.PutBot(r.Context(), b); err != nil {
		faults.WriteHTTP(w, faults.Wrap(faults.Internal, "bot save failed", err))
		return
	}
	a.log.Infow("bot registered", "id", b.ID, "slug", b.Slug)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(fromBot(b))
}

func (a *App) listBots(w http.ResponseWriter, r *http.Request) {
	bots, err := a.registry.ListBots(r.Context())
	if err != nil {
		faults.WriteHTTP(w, faults.Wrap(faults.Internal, "bot list failed", err))
		return
	}
	out := make([]botPayload, 0, len(bots))
	for _, b := range bots {
		out = append(out, fromBot(b))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (a *App) getBot(w http.ResponseWriter, r *http.Request) {
	b, err := a.registry.GetBot(r.Context(), chi.URLParam(r, "botID"))
	if err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			faults.WriteHTTP(w, faults.New(faults.TenantUnknown, "unknown bot"))
			return
		}
		faults.WriteHTTP(w, faults.Wrap(faults.Internal, "bot lookup failed", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(fromBot(b))
}

func (a *App) updateBot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "botID")
	if _, err := a.registry.GetBot(r.Context(), id); err != nil {
		faults.WriteHTTP(w, faults.New(faults.TenantUnknown, "unknown bot"))
		return
	}
	var p botPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		faults.WriteHTTP(w, faults.New(faults.InputInvalid, "request body must be JSON"))
		return
	}
	p.ID = id
	b := p.toBot()
	if err := b.Validate(); err != nil {
		faults.WriteHTTP(w, faults.New(faults.InputInvalid, err.Error()))
		return
	}
	if err := a.registry.PutBot(r.Context(), b); err != nil {
		faults.WriteHTTP(w, faults.Wrap(faults.Internal, "bot save failed", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(fromBot(b))
}

// uploadDocument forwards document text to the ingestion collaborator.
// Accepts multipart (field "file") or a raw text body.
func (a *App) uploadDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "botID")
	if _, err := a.registry.GetBot(r.Context(), id); err != nil {
		faults.WriteHTTP(w, faults.New(faults.TenantUnknown, "unknown bot"))
		return
	}
	if a.ingestor == nil {
		faults.WriteHTTP(w, faults.New(faults.Internal, "ingestion not configured"))
		return
	}

	filename := "upload.txt"
	var text string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(16 << 20); err != nil {
			faults.WriteHTTP(w, faults.New(faults.InputInvalid, "multipart parse failed"))
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			faults.WriteHTTP(w, faults.New(faults.InputInvalid, "file field required"))
			return
		}
		defer f.Close()
		raw, err := io.ReadAll(io.LimitReader(f, 16<<20))
		if err != nil {
			faults.WriteHTTP(w, faults.Wrap(faults.Internal, "file read failed", err))
			return
		}
		filename = hdr.Filename
		text = string(raw)
	} else {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 16<<20))
		if err != nil {
			faults.WriteHTTP(w, faults.New(faults.InputInvalid, "body read failed"))
			return
		}
		text = string(raw)
		if fn := r.URL.Query().Get("filename"); fn != "" {
			filename = fn
		}
	}
	if strings.TrimSpace(text) == "" {
		faults.WriteHTTP(w, faults.New(faults.InputInvalid, "document is empty"))
		return
	}

	if err := a.ingestor.Ingest(r.Context(), id, text, filename); err != nil {
		faults.WriteHTTP(w, faults.Wrap(faults.Internal, "ingestion failed", err))
		return
	}
	a.log.Infow("document ingested", "bot", id, "filename", filename, "bytes", len(text))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "filename": filename})
}
