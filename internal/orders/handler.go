package orders

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/forgeline/forgeline/internal/platform/httpx"
	"github.com/forgeline/forgeline/internal/shared"
)

// IdempotencyHeader carries the client's idempotency key for order creation.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes the order engine as JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the order handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.show)
	r.Post("/{id}/transitions", h.transition)
	r.Post("/{id}/cancel", h.cancel)
	r.Delete("/{id}", h.remove)
	r.Post("/{id}/restore", h.restore)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.ActorFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var cmd CreateOrderCommand
	if err := httpx.Decode(r, &cmd); err != nil {
		httpx.RespondError(w, err)
		return
	}
	cmd.IdempotencyKey = r.Header.Get(IdempotencyHeader)
	order, err := h.service.CreateOrder(r.Context(), actor, cmd)
	if err != nil {
		h.logger.Debug("order rejected", slog.Int64("user_id", actor.UserID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.ActorFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	f := ListFilter{
		Page:    httpx.QueryInt(r, "page", 1),
		PerPage: httpx.QueryInt(r, "per_page", 20),
	}
	if v := q.Get("status"); v != "" {
		st := Status(v)
		f.Status = &st
	}
	if v := q.Get("type"); v != "" {
		t := Type(v)
		f.Type = &t
	}
	if v := httpx.QueryInt(r, "user_id", 0); v > 0 {
		id := int64(v)
		f.UserID = &id
	}
	out, page, err := h.service.ListOrders(r.Context(), actor, f)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if out == nil {
		out = []Order{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out, "pagination": page})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.ActorFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.GetOrder(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.ActorFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var cmd TransitionStatusCommand
	if err := httpx.Decode(r, &cmd); err != nil {
		httpx.RespondError(w, err)
		return
	}
	cmd.OrderID = id
	order, err := h.service.TransitionStatus(r.Context(), actor, cmd)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.ActorFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var cmd CancelOrderCommand
	if err := httpx.Decode(r, &cmd); err != nil {
		httpx.RespondError(w, err)
		return
	}
	cmd.OrderID = id
	order, err := h.service.CancelOrder(r.Context(), actor, cmd)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	h.archive(w, r, h.service.DeleteOrder)
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	h.archive(w, r, h.service.RestoreOrder)
}

func (h *Handler) archive(w http.ResponseWriter, r *http.Request, call func(context.Context, shared.Actor, VersionedRef) (Order, error)) {
	actor, err := httpx.ActorFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var ref VersionedRef
	if err := httpx.Decode(r, &ref); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ref.ID = id
	order, err := call(r.Context(), actor, ref)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}
