package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/fulfillment/internal/service/catalog"
	"github.com/vladislavdragonenkov/fulfillment/internal/transport/apiview"
)

func (s *server) createProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.CreateProductInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	ps, err := s.catalog.CreateProduct(r.Context(), callerOf(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, apiview.NewProduct(ps))
}

func (s *server) updateProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.UpdateProductInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	ps, err := s.catalog.UpdateProduct(r.Context(), callerOf(r), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiview.NewProduct(ps))
}

func (s *server) productStock(w http.ResponseWriter, r *http.Request) {
	ps, err := s.catalog.Stock(r.Context(), callerOf(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiview.NewProduct(ps))
}

func (s *server) productMovements(w http.ResponseWriter, r *http.Request) {
	p := apiview.NewQueryParser(r.URL.Query())
	limit := p.Int("limit")
	if err := p.Err(); err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.catalog.Movements(r.Context(), callerOf(r), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]apiview.MovementView, 0, len(list))
	for _, m := range list {
		items = append(items, apiview.NewMovement(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *server) receiveStock(w http.ResponseWriter, r *http.Request) {
	var in catalog.ReceiveInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	item, err := s.catalog.Receive(r.Context(), callerOf(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiview.NewStockItem(item, ""))
}

func (s *server) lowStock(w http.ResponseWriter, r *http.Request) {
	p := apiview.NewQueryParser(r.URL.Query())
	merchantID := p.String("merchantId")
	limit := p.Int("limit")
	if err := p.Err(); err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.catalog.LowStock(r.Context(), callerOf(r), merchantID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]apiview.StockItemView, 0, len(list))
	for _, it := range list {
		items = append(items, apiview.NewStockItem(it, ""))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *server) createWarehouse(w http.ResponseWriter, r *http.Request) {
	var in catalog.WarehouseInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	wh, err := s.catalog.CreateWarehouse(r.Context(), callerOf(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, apiview.NewWarehouse(wh))
}

func (s *server) listWarehouses(w http.ResponseWriter, r *http.Request) {
	p := apiview.NewQueryParser(r.URL.Query())
	activeOnly := p.Bool("active")
	if err := p.Err(); err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.catalog.ListWarehouses(r.Context(), callerOf(r), activeOnly)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]apiview.WarehouseView, 0, len(list))
	for _, wh := range list {
		items = append(items, apiview.NewWarehouse(wh))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
