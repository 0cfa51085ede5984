package users

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/forgeline/forgeline/internal/platform/httpx"
	"github.com/forgeline/forgeline/internal/shared"
)

// Handler exposes user management as JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.show)
	r.Put("/{id}", h.update)
	r.Post("/{id}/validate", h.validate)
	r.Delete("/{id}", h.remove)
	r.Post("/{id}/restore", h.restore)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.ActorFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in CreateInput
	if err := httpx.Decode(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	u, err := h.service.Create(r.Context(), actor, in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, u)
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
	u, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var in UpdateProfileInput
	h.versioned(w, r, &in, &in.ID, func(ctx context.Context, actor shared.Actor) (User, error) {
		return h.service.UpdateProfile(ctx, actor, in)
	})
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	var in SetValidatedInput
	h.versioned(w, r, &in, &in.ID, func(ctx context.Context, actor shared.Actor) (User, error) {
		return h.service.SetValidated(ctx, actor, in)
	})
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	var ref VersionedRef
	h.versioned(w, r, &ref, &ref.ID, func(ctx context.Context, actor shared.Actor) (User, error) {
		return h.service.Delete(ctx, actor, ref)
	})
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	var ref VersionedRef
	h.versioned(w, r, &ref, &ref.ID, func(ctx context.Context, actor shared.Actor) (User, error) {
		return h.service.Restore(ctx, actor, ref)
	})
}

// versioned decodes body into payload, sets the URL id and runs call.
func (h *Handler) versioned(w http.ResponseWriter, r *http.Request, payload any, id *int64, call func(context.Context, shared.Actor) (User, error)) {
	actor, err := httpx.ActorFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	parsed, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Decode(r, payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	*id = parsed
	u, err := call(r.Context(), actor)
	if err != nil {
		h.logger.Debug("user mutation rejected", slog.Int64("user_id", parsed), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}
