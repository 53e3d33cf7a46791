package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/fulfillment/internal/service/returns"
	"github.com/vladislavdragonenkov/fulfillment/internal/transport/apiview"
)

func (s *server) createReturn(w http.ResponseWriter, r *http.Request) {
	var in returns.CreateReturnInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := s.returns.CreateReturn(r.Context(), callerOf(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, apiview.NewReturn(req))
}

func (s *server) listReturns(w http.ResponseWriter, r *http.Request) {
	filter, err := apiview.ParseRequestFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.returns.ListReturns(r.Context(), callerOf(r), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiview.NewPage(page, apiview.NewReturn))
}

func (s *server) decideReturn(w http.ResponseWriter, r *http.Request) {
	var in returns.DecisionInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := s.returns.DecideReturn(r.Context(), callerOf(r), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiview.NewReturn(req))
}

func (s *server) createRefund(w http.ResponseWriter, r *http.Request) {
	var in returns.CreateRefundInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := s.returns.CreateRefund(r.Context(), callerOf(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, apiview.NewRefund(req))
}

func (s *server) listRefunds(w http.ResponseWriter, r *http.Request) {
	filter, err := apiview.ParseRequestFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.returns.ListRefunds(r.Context(), callerOf(r), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiview.NewPage(page, apiview.NewRefund))
}

func (s *server) decideRefund(w http.ResponseWriter, r *http.Request) {
	var in returns.DecisionInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := s.returns.DecideRefund(r.Context(), callerOf(r), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiview.NewRefund(req))
}
