package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"transcript-rag/internal/app"
	"transcript-rag/internal/logging"
	"transcript-rag/internal/model"
	"transcript-rag/internal/transport/http/response"
)

const (
	defaultFailureLimit = 50
	maxFailureLimit     = 500
)

type Asker interface {
	Ask(ctx context.Context, input app.AskInput) (*model.QueryResult, error)
}

type CatalogReader interface {
	Catalog(ctx context.Context) (*app.Catalog, error)
}

type FailureLister interface {
	List(ctx context.Context, limit int) ([]model.CleaningFailure, error)
}

type QueryHandler struct {
	agent    Asker
	catalog  CatalogReader
	failures FailureLister
}

type AskRequest struct {
	Question string `json:"question" binding:"required,max=2000"`
	TopK     int    `json:"top_k" binding:"min=0,max=50"`
}

type AskResponse struct {
	*model.QueryResult
	Markdown string `json:"markdown"`
}

func NewQueryHandler(agent Asker, catalog CatalogReader, failures FailureLister) *QueryHandler {
	return &QueryHandler{agent: agent, catalog: catalog, failures: failures}
}

func (h *QueryHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.agent.Ask(c.Request.Context(), app.AskInput{Question: req.Question, TopK: req.TopK})
	if err != nil {
		writeServiceError(c, err, "answer question failed")
		return
	}
	response.OK(c, AskResponse{QueryResult: result, Markdown: app.RenderMarkdown(result)})
}

func (h *QueryHandler) Metadata(c *gin.Context) {
	catalog, err := h.catalog.Catalog(c.Request.Context())
	if err != nil {
		writeServiceError(c, err, "load metadata failed")
		return
	}
	response.OK(c, catalog)
}

func (h *QueryHandler) Failures(c *gin.Context) {
	limit := defaultFailureLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxFailureLimit {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	failures, err := h.failures.List(c.Request.Context(), limit)
	if err != nil {
		writeServiceError(c, err, "list failures failed")
		return
	}
	response.OK(c, failures)
}

func writeServiceError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case app.IsUpstreamUnavailable(err):
		logging.From(c.Request.Context()).Error(message, "error", err)
		response.Error(c, http.StatusServiceUnavailable, response.CodeUpstreamUnavailable, message)
	default:
		logging.From(c.Request.Context()).Error(message, "error", err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, message)
	}
}
