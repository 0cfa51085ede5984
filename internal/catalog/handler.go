package catalog

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/forgeline/forgeline/internal/platform/httpx"
	"github.com/forgeline/forgeline/internal/shared"
)

// Handler wires HTTP endpoints for the catalog.
type Handler struct {
	logger  *slog.Logger
	service *Service
	now     func() time.Time
}

// NewHandler constructs catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, now: time.Now}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Post("/", h.createProduct)
		r.Get("/{id}", h.showProduct)
		r.Put("/{id}", h.updateProduct)
		r.Delete("/{id}", h.deleteProduct)
		r.Post("/{id}/restore", h.restoreProduct)
		r.Post("/{id}/stock", h.adjustStock)
	})
	r.Route("/categories", func(r chi.Router) {
		r.Post("/", h.createCategory)
		r.Put("/{id}", h.renameCategory)
		r.Delete("/{id}", h.deleteCategory)
		r.Post("/{id}/restore", h.restoreCategory)
	})
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.ActorFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := ListFilter{
		ActiveOnly: !actor.IsBackOffice(),
		Page:       httpx.QueryInt(r, "page", 1),
		PerPage:    httpx.QueryInt(r, "per_page", 20),
	}
	if c := httpx.QueryInt(r, "category_id", 0); c > 0 {
		id := int64(c)
		filter.CategoryID = &id
	}
	products, page, err := h.service.ListProducts(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	now := h.now()
	views := make([]ProductView, 0, len(products))
	for _, p := range products {
		views = append(views, ViewFor(p, actor, now))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": views, "pagination": page})
}

func (h *Handler) showProduct(w http.ResponseWriter, r *http.Request) {
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
	p, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ViewFor(p, actor, h.now()))
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var in CreateProductInput
	h.write(w, r, &in, nil, http.StatusCreated, func(ctx context.Context, actor shared.Actor) (any, error) {
		return h.service.CreateProduct(ctx, actor, in)
	})
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	var in UpdateProductInput
	h.write(w, r, &in, &in.ID, http.StatusOK, func(ctx context.Context, actor shared.Actor) (any, error) {
		return h.service.UpdateProduct(ctx, actor, in)
	})
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	var ref VersionedRef
	h.write(w, r, &ref, &ref.ID, http.StatusOK, func(ctx context.Context, actor shared.Actor) (any, error) {
		return h.service.DeleteProduct(ctx, actor, ref)
	})
}

func (h *Handler) restoreProduct(w http.ResponseWriter, r *http.Request) {
	var ref VersionedRef
	h.write(w, r, &ref, &ref.ID, http.StatusOK, func(ctx context.Context, actor shared.Actor) (any, error) {
		return h.service.RestoreProduct(ctx, actor, ref)
	})
}

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var in AdjustStockInput
	h.write(w, r, &in, &in.ID, http.StatusOK, func(ctx context.Context, actor shared.Actor) (any, error) {
		return h.service.AdjustStock(ctx, actor, in)
	})
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var in CreateCategoryInput
	h.write(w, r, &in, nil, http.StatusCreated, func(ctx context.Context, actor shared.Actor) (any, error) {
		return h.service.CreateCategory(ctx, actor, in)
	})
}

func (h *Handler) renameCategory(w http.ResponseWriter, r *http.Request) {
	var in RenameCategoryInput
	h.write(w, r, &in, &in.ID, http.StatusOK, func(ctx context.Context, actor shared.Actor) (any, error) {
		return h.service.RenameCategory(ctx, actor, in)
	})
}

func (h *Handler) deleteCategory(w http.ResponseWriter, r *http.Request) {
	var ref VersionedRef
	h.write(w, r, &ref, &ref.ID, http.StatusOK, func(ctx context.Context, actor shared.Actor) (any, error) {
		return h.service.DeleteCategory(ctx, actor, ref)
	})
}

func (h *Handler) restoreCategory(w http.ResponseWriter, r *http.Request) {
	var ref VersionedRef
	h.write(w, r, &ref, &ref.ID, http.StatusOK, func(ctx context.Context, actor shared.Actor) (any, error) {
		return h.service.RestoreCategory(ctx, actor, ref)
	})
}

// write decodes body into payload, copies the URL id into id when given and
// responds with the result of call.
func (h *Handler) write(w http.ResponseWriter, r *http.Request, payload any, id *int64, status int, call func(context.Context, shared.Actor) (any, error)) {
	actor, err := httpx.ActorFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var parsed int64
	if id != nil {
		if parsed, err = httpx.IDParam(r, "id"); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	if err := httpx.Decode(r, payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if id != nil {
		*id = parsed
	}
	out, err := call(r.Context(), actor)
	if err != nil {
		h.logger.Debug("catalog request rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, status, out)
}
