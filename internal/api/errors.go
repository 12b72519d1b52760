package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/heimdex/window-annotator/internal/annotations"
	"github.com/heimdex/window-annotator/internal/export"
	"github.com/heimdex/window-annotator/internal/media"
	"github.com/heimdex/window-annotator/internal/session"
	"github.com/heimdex/window-annotator/internal/transcode"
)

// writeServiceError maps a service error onto the error envelope.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		ve *session.ValidationError
		se *session.StateError
		pe *export.PendingError
		te *media.ToolError
	)
	switch {
	case errors.As(err, &pe):
		WriteError(w, http.StatusConflict, pe.Error(), CodePendingEntries)
	case errors.As(err, &ve):
		WriteError(w, http.StatusBadRequest, ve.Error(), CodeValidation)
	case errors.As(err, &se):
		WriteError(w, http.StatusConflict, se.Error(), CodeInvalidState)
	case errors.Is(err, media.ErrUnavailable):
		WriteError(w, http.StatusNotImplemented, err.Error(), CodeUnavailable)
	case errors.As(err, &te):
		WriteJSON(w, http.StatusBadRequest, ToolErrorResponse{Error: te.Code(), Message: te.Message})
	case errors.Is(err, annotations.ErrInvalidJSON), errors.Is(err, transcode.ErrEmptyUpload):
		WriteError(w, http.StatusBadRequest, err.Error(), CodeBadRequest)
	default:
		logger.Error("request failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal server error", CodeInternal)
	}
}
