package httpapi

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/auth"
	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/transport/apiview"
)

func (s *server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		entry := s.logger.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      status,
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("http request")
			return
		}
		entry.Debug("http request")
	})
}

func (s *server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok || s.tokens == nil {
			s.writeError(w, r, domain.ErrUnauthenticated)
			return
		}
		principal, err := s.tokens.Verify(raw)
		if err != nil {
			s.writeError(w, r, domain.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func (s *server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(headerAPIKey))
		if raw == "" || s.keys == nil {
			s.writeError(w, r, domain.ErrUnauthenticated)
			return
		}
		principal, err := s.keys.Authenticate(r.Context(), raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// recordExternalCall пишет каждый вызов внешнего API в журнал запросов:
// статус, задержку и усечённые тела запроса и ответа.
func (s *server) recordExternalCall(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.requestLogs == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()

		var reqBody []byte
		if r.Body != nil {
			var err error
			reqBody, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				s.writeError(w, r, domain.NewValidationError("body", "could not be read"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(reqBody))
		}

		var respBody bytes.Buffer
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Tee(&respBody)
		next.ServeHTTP(ww, r)

		principal, _ := auth.PrincipalFrom(r.Context())
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		entry := domain.APIRequestLog{
			ID:           uuid.NewString(),
			APIKeyID:     principal.ID,
			MerchantID:   principal.MerchantID,
			Method:       r.Method,
			Path:         r.URL.RequestURI(),
			StatusCode:   status,
			LatencyMs:    time.Since(start).Milliseconds(),
			RequestBody:  apiview.Truncate(string(reqBody), apiview.MaxLoggedBody),
			ResponseBody: apiview.Truncate(respBody.String(), apiview.MaxLoggedBody),
			ClientIP:     clientIP(r),
			CreatedAt:    s.now(),
		}
		if err := s.requestLogs.Append(context.WithoutCancel(r.Context()), entry); err != nil {
			s.logger.WithError(err).WithField("api_key_id", entry.APIKeyID).Warn("failed to record external api call")
		}
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func callerOf(r *http.Request) domain.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}
