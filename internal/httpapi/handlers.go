package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/xeipuuv/gojsonschema"

	"github.com/dshills/orderflow/internal/callback"
	"github.com/dshills/orderflow/internal/orders"
	"github.com/dshills/orderflow/pkg/types"
)

type initiatePaymentRequest struct {
	OrderID     string `json:"order_id"`
	PhoneNumber string `json:"phone_number"`
}

type updateStatusRequest struct {
	Status types.OrderStatus `json:"status"`
}

type recentOrdersResponse struct {
	Results []*types.Order `json:"results"`
}

// decode reads the body, validates it against schema and unmarshals it into v
func decode(r *http.Request, schema *gojsonschema.Schema, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return types.Wrap(types.KindValidation, err, "cannot read body")
	}
	if err := validateBody(schema, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return types.Wrap(types.KindValidation, err, "invalid JSON body")
	}
	return nil
}

func (s *Server) caller(r *http.Request) types.Identity {
	id, _ := IdentityFrom(r.Context())
	return id
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.CreateOrderRequest
	if err := decode(r, createOrderSchema, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	order, err := s.orders.CreateOrder(r.Context(), s.caller(r), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, order.Summary())
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := orders.ListFilter{Status: types.OrderStatus(q.Get("status"))}
	var err error
	if filter.Page, err = queryInt(q.Get("page")); err != nil {
		s.fail(w, r, types.Wrap(types.KindValidation, err, "invalid page"))
		return
	}
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		s.fail(w, r, types.Wrap(types.KindValidation, err, "invalid limit"))
		return
	}
	page, err := s.orders.ListOrders(r.Context(), s.caller(r), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, page)
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func (s *Server) handleRecentOrders(w http.ResponseWriter, r *http.Request) {
	list, err := s.orders.RecentOrders(r.Context(), s.caller(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, recentOrdersResponse{Results: list})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.GetOrder(r.Context(), s.caller(r), chi.URLParam(r, "orderID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, order)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decode(r, updateStatusSchema, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	order, err := s.orders.AdvanceStatus(r.Context(), s.caller(r), chi.URLParam(r, "orderID"), req.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, order)
}

func (s *Server) handleOrderPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := s.payments.PaymentForOrder(r.Context(), s.caller(r), chi.URLParam(r, "orderID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, payment)
}

func (s *Server) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiatePaymentRequest
	if err := decode(r, initiatePaymentSchema, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	summary, err := s.payments.Initiate(r.Context(), s.caller(r), req.OrderID, req.PhoneNumber)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, summary)
}

func (s *Server) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.payments.Poll(r.Context(), s.caller(r), chi.URLParam(r, "paymentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, view)
}

// handleCallback always answers 200 with the acknowledgement
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Warn("failed to read callback body", "error", err)
		render.JSON(w, r, callback.Accepted)
		return
	}
	render.JSON(w, r, s.reconciler.Handle(r.Context(), body))
}
