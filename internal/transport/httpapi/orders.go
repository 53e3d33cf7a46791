package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/idempotency"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/ordering"
	"github.com/vladislavdragonenkov/fulfillment/internal/transport/apiview"
)

const operationCreateOrder = "CreateOrder"

// createOrder обслуживает и внутренний, и внешний POST /orders. Ответ
// с заголовком Idempotency-Key сохраняется в области вызывающего.
func (s *server) createOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, domain.NewValidationError("body", "could not be read"))
		return
	}
	caller := callerOf(r)

	resp, replayed, err := s.idempotency.Do(
		r.Context(),
		caller.ID,
		r.Header.Get(headerIdempotencyKey),
		idempotency.RequestHash(operationCreateOrder, body),
		func(ctx context.Context) idempotency.Response {
			var in ordering.CreateInput
			if err := decodeBody(body, &in); err != nil {
				return s.failure(r, err)
			}
			details, err := s.orders.Create(ctx, caller, in)
			if err != nil {
				return s.failure(r, err)
			}
			return success(http.StatusCreated, apiview.NewOrder(details, nil))
		},
	)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if replayed {
		w.Header().Set(headerIdempotentReply, "true")
	}
	writeRaw(w, resp.Status, resp.Body)
}

func (s *server) failure(r *http.Request, err error) idempotency.Response {
	problem := s.problem(r, err)
	body, _ := json.Marshal(problem.Body)
	return idempotency.Failure(problem.Status, body, err)
}

func success(status int, view any) idempotency.Response {
	body, err := json.Marshal(view)
	if err != nil {
		body, _ = json.Marshal(apiview.ErrorBody{Error: apiview.CodeInternal, Message: "internal server error"})
		return idempotency.Failure(http.StatusInternalServerError, body, err)
	}
	return idempotency.Response{Status: status, Body: body}
}

func (s *server) listOrders(w http.ResponseWriter, r *http.Request) {
	filter, err := apiview.ParseOrderFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.orders.List(r.Context(), callerOf(r), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiview.NewPage(page, apiview.NewOrderSummary))
}

func (s *server) getOrder(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	id := chi.URLParam(r, "id")

	details, err := s.orders.Get(r.Context(), caller, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	history, err := s.orders.History(r.Context(), caller, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiview.NewOrder(details, history))
}

func (s *server) orderHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.orders.History(r.Context(), callerOf(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]apiview.HistoryView, 0, len(history))
	for _, h := range history {
		items = append(items, apiview.HistoryView{Status: h.Status, Note: h.Note, ChangedBy: h.ChangedBy, CreatedAt: h.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *server) orderAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.orders.AuditTrail(r.Context(), callerOf(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]apiview.AuditView, 0, len(entries))
	for _, e := range entries {
		items = append(items, apiview.NewAudit(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *server) transitionOrder(w http.ResponseWriter, r *http.Request) {
	var in ordering.TransitionInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller := callerOf(r)
	id := chi.URLParam(r, "id")

	if _, err := s.orders.Transition(r.Context(), caller, id, in); err != nil {
		s.writeError(w, r, err)
		return
	}
	details, err := s.orders.Get(r.Context(), caller, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiview.NewOrder(details, nil))
}
