// Package httpapi exposes the form service over HTTP
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/identi-digital/identi-modules-sub000/internal/form/compiler"
	"github.com/identi-digital/identi-modules-sub000/internal/form/service"
	"github.com/identi-digital/identi-modules-sub000/internal/form/store"
	"github.com/identi-digital/identi-modules-sub000/internal/logging"
	"github.com/identi-digital/identi-modules-sub000/internal/web/middleware"
	"github.com/identi-digital/identi-modules-sub000/internal/web/request"
	"github.com/identi-digital/identi-modules-sub000/internal/web/response"
)

// Service is the part of the form service the API calls
type Service interface {
	CompileSchema(ctx context.Context, req service.CompileRequest) (*service.CompileResponse, error)
	LatestSchema(ctx context.Context, formID string) (*compiler.Schema, error)
	Submit(ctx context.Context, req service.SubmitRequest) (*service.SubmitResponse, error)
	Materialize(ctx context.Context, submissionID string) (*service.MaterializeResponse, error)
	Submission(ctx context.Context, id string, enrich bool) (*store.Submission, error)
	Query(ctx context.Context, entity, filter string, limit, offset int) (*service.QueryResult, error)
}

// Handler serves the form API
type Handler struct {
	svc    Service
	parser *request.Parser
	logger *zap.Logger
}

// NewHandler creates a handler
func NewHandler(svc Service, logger *zap.Logger) *Handler {
	return &Handler{
		svc:    svc,
		parser: request.NewParser(request.DefaultMaxBodySize, false),
		logger: logging.OrNop(logger),
	}
}

// NewRouter mounts the API with request id, logging and recovery middleware
func NewRouter(svc Service, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID(), middleware.Logging(logger, "/healthz"), middleware.Recovery(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		response.RenderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.RenderNotFound(w, "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.RenderError(w, http.StatusMethodNotAllowed, "", "method not allowed")
	})

	NewHandler(svc, logger).Register(r)
	return r
}

// Register adds the API routes to r
func (h *Handler) Register(r chi.Router) {
	r.Route("/forms/{formID}", func(r chi.Router) {
		r.Post("/schemas", h.compileSchema)
		r.Get("/schemas/latest", h.latestSchema)
		r.Post("/submissions", h.submit)
	})
	r.Route("/submissions/{id}", func(r chi.Router) {
		r.Get("/", h.submission)
		r.Post("/materialize", h.materialize)
	})
	r.Get("/entities/{entity}/rows", h.query)
}

func (h *Handler) compileSchema(w http.ResponseWriter, r *http.Request) {
	var req service.CompileRequest
	if err := h.parser.ParseJSON(w, r, &req); err != nil {
		response.RenderBadRequest(w, err.Error())
		return
	}
	req.FormID = chi.URLParam(r, "formID")

	resp, err := h.svc.CompileSchema(r.Context(), req)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	status := http.StatusOK
	if resp.Recompiled {
		status = http.StatusCreated
	}
	response.RenderJSON(w, status, resp)
}

func (h *Handler) latestSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := h.svc.LatestSchema(r.Context(), chi.URLParam(r, "formID"))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	response.RenderJSON(w, http.StatusOK, schema)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitRequest
	if err := h.parser.ParseJSON(w, r, &req); err != nil {
		response.RenderBadRequest(w, err.Error())
		return
	}
	req.FormID = chi.URLParam(r, "formID")

	resp, err := h.svc.Submit(r.Context(), req)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	response.RenderJSON(w, http.StatusCreated, resp)
}

func (h *Handler) submission(w http.ResponseWriter, r *http.Request) {
	enrich := request.GetQueryParamBool(r, "enrich", false)
	sub, err := h.svc.Submission(r.Context(), chi.URLParam(r, "id"), enrich)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	response.RenderJSON(w, http.StatusOK, sub)
}

func (h *Handler) materialize(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Materialize(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	response.RenderJSON(w, http.StatusOK, resp)
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Query(r.Context(),
		chi.URLParam(r, "entity"),
		r.URL.Query().Get("filter"),
		request.GetQueryParamInt(r, "limit", 0),
		request.GetQueryParamInt(r, "offset", 0),
	)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	response.RenderJSON(w, http.StatusOK, result)
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		response.RenderBadRequest(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		response.RenderNotFound(w, err.Error())
	case errors.Is(err, context.Canceled):
		response.RenderError(w, http.StatusServiceUnavailable, "", err.Error())
	default:
		h.logger.Error("request failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		response.RenderInternalError(w)
	}
}
