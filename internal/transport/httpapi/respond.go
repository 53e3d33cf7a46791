package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/transport/apiview"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		writeStatus(w, http.StatusInternalServerError, apiview.CodeInternal, "internal server error")
		return
	}
	writeRaw(w, status, body)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeStatus(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiview.ErrorBody{Error: code, Message: message})
}

// writeError: единственное место, где ошибки сервисов превращаются в HTTP-ответ.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	problem := s.problem(r, err)
	writeJSON(w, problem.Status, problem.Body)
}

func (s *server) problem(r *http.Request, err error) apiview.Problem {
	problem := apiview.Classify(err)
	if problem.Internal() {
		s.logger.WithError(err).WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
		}).Error("request failed")
	}
	return problem
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.NewValidationError("body", "is too large")
		}
		return domain.NewValidationError("body", "could not be read")
	}
	return decodeBody(body, dst)
}

func decodeBody(body []byte, dst any) error {
	if len(body) == 0 {
		return domain.NewValidationError("body", "is required")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return domain.NewValidationError("body", "must be valid JSON: "+err.Error())
	}
	return nil
}
