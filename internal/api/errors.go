package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/dunamismax/pixelmask/internal/domain"
	"github.com/rs/zerolog"
)

const (
	failureBadRequest   = "bad_request"
	failureUnauthorized = "unauthorized"
	failureContentType  = "unsupported_content_type"
	failureFetchSource  = "fetch_source"
	failureFetchLogo    = "fetch_logo"
	failureAssetMissing = "asset_missing"
	failureProcessing   = "processing"
	failureCanceled     = "canceled"
	failureInternal     = "internal"
)

type errorResponse struct {
	Error       string `json:"error"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Message     string `json:"message,omitempty"`
}

// classifyError maps a handler or pipeline error to the response status,
// the JSON body and a failure kind for metrics.
func classifyError(err error) (int, errorResponse, string) {
	var (
		fetchErr       *domain.FetchError
		contentTypeErr *domain.ContentTypeError
	)

	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, errorResponse{Error: "Unauthorized"}, failureUnauthorized
	case errors.Is(err, domain.ErrBadRequest):
		return http.StatusBadRequest, errorResponse{Error: "Missing or invalid 'url' parameter"}, failureBadRequest
	case errors.As(err, &contentTypeErr):
		return http.StatusUnsupportedMediaType, errorResponse{
			Error:       "Unsupported content type",
			ContentType: contentTypeErr.ContentType,
		}, failureContentType
	case errors.As(err, &fetchErr):
		if fetchErr.Resource == domain.ResourceLogo {
			return http.StatusBadRequest, errorResponse{
				Error:  "Failed to fetch logo",
				Status: fetchErr.StatusCode,
			}, failureFetchLogo
		}
		return http.StatusBadRequest, errorResponse{
			Error:  "Failed to fetch source image",
			Status: fetchErr.StatusCode,
		}, failureFetchSource
	case errors.Is(err, domain.ErrAssetMissing):
		return http.StatusInternalServerError, errorResponse{
			Error:   "Logo asset unavailable",
			Message: err.Error(),
		}, failureAssetMissing
	case errors.Is(err, domain.ErrProcessing):
		return http.StatusInternalServerError, errorResponse{
			Error:   "Server error",
			Message: err.Error(),
		}, failureProcessing
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusInternalServerError, errorResponse{
			Error:   "Server error",
			Message: err.Error(),
		}, failureCanceled
	default:
		return http.StatusInternalServerError, errorResponse{
			Error:   "Server error",
			Message: err.Error(),
		}, failureInternal
	}
}

func (s *Server) writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status, body, kind := classifyError(err)
	s.metrics.observeFailure(kind)

	event := logger.Warn()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Err(err).Int("status", status).Str("kind", kind).Msg("watermark request failed")

	writeJSON(w, status, body)
}
