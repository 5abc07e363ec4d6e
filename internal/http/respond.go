package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/splax/kubehost/internal/domain"
	"github.com/splax/kubehost/internal/lifecycle"
	"github.com/splax/kubehost/internal/repository"
)

func (r *Router) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.logger.Error("failed to encode response", "error", err)
	}
}

func (r *Router) writeError(w http.ResponseWriter, status int, msg string) {
	r.writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps err onto a status code. Unknown errors are logged and reported
// as 500 with their message.
func (r *Router) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		r.logger.Error("request failed", "error", err)
	}
	r.writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAppNameInvalid), errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNameConflict):
		return http.StatusConflict
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, lifecycle.ErrNotDeployed):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
