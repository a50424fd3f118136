package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/brightfold/voicegate/pkg/gateway/apierror"
	"github.com/brightfold/voicegate/pkg/gateway/mw"
)

func writeError(w http.ResponseWriter, reqID string, err error) {
	apiErr, status := apierror.FromError(err, reqID)
	apierror.WriteJSON(w, reqID, apiErr, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func methodNotAllowed(w http.ResponseWriter, reqID string) {
	apiErr := &apierror.Error{
		Type:      apierror.ErrInvalidRequest,
		Message:   "method not allowed",
		Code:      "method_not_allowed",
		RequestID: reqID,
	}
	apierror.WriteJSON(w, reqID, apiErr, http.StatusMethodNotAllowed)
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := mw.RequestIDFrom(ctx); ok {
		return id
	}
	return ""
}
