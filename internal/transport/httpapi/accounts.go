package httpapi

import (
	"net/http"

	"github.com/vladislavdragonenkov/fulfillment/internal/service/accounts"
	"github.com/vladislavdragonenkov/fulfillment/internal/transport/apiview"
)

func (s *server) createMerchant(w http.ResponseWriter, r *http.Request) {
	var in accounts.MerchantInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.accounts.CreateMerchant(r.Context(), callerOf(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, apiview.NewMerchant(m))
}

func (s *server) createUser(w http.ResponseWriter, r *http.Request) {
	var in accounts.UserInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.accounts.CreateUser(r.Context(), callerOf(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, apiview.NewUser(u))
}

func (s *server) issueAPIKey(w http.ResponseWriter, r *http.Request) {
	var in accounts.APIKeyInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	issued, err := s.accounts.IssueAPIKey(r.Context(), callerOf(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, apiview.NewIssuedKey(issued))
}

func (s *server) listNotifications(w http.ResponseWriter, r *http.Request) {
	p := apiview.NewQueryParser(r.URL.Query())
	limit := p.Int("limit")
	if err := p.Err(); err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.accounts.Notifications(r.Context(), callerOf(r), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]apiview.NotificationView, 0, len(list))
	for _, n := range list {
		items = append(items, apiview.NewNotification(n))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
