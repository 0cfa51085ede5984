package catalog

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/forgeline/forgeline/internal/platform/db"
	"github.com/forgeline/forgeline/internal/shared"
	"github.com/forgeline/forgeline/internal/versioning"
)

// RepositoryPort defines data access for the catalog.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context, f ListFilter) ([]Product, int, error)
}

// Service coordinates catalog maintenance. Mutations require a back-office
// actor and are audited inside their own transaction.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// GetProduct returns a live product.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return Product{}, s.fail("get product", "product", id, err)
	}
	return p, nil
}

// ListProducts pages live products.
func (s *Service) ListProducts(ctx context.Context, f ListFilter) ([]Product, shared.Pagination, error) {
	page := shared.NewPagination(f.Page, f.PerPage, 0)
	f.Page, f.PerPage = page.Page, page.PerPage
	products, total, err := s.repo.ListProducts(ctx, f)
	if err != nil {
		return nil, shared.Pagination{}, s.fail("list products", "product", 0, err)
	}
	return products, shared.NewPagination(f.Page, f.PerPage, total), nil
}

// CreateProduct adds a product, holding a share lock on its category.
func (s *Service) CreateProduct(ctx context.Context, actor shared.Actor, in CreateProductInput) (Product, error) {
	if err := requireBackOffice(actor); err != nil {
		return Product{}, err
	}
	if err := shared.ValidateStruct(in); err != nil {
		return Product{}, err
	}
	if in.InitialStock < 0 {
		return Product{}, shared.Validation("initial_stock must not be negative")
	}
	if err := validateFields(in.ProductFields); err != nil {
		return Product{}, err
	}
	var created Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := shareCategory(ctx, tx, in.CategoryID); err != nil {
			return err
		}
		p, err := tx.InsertProduct(ctx, in)
		if err != nil {
			return err
		}
		created = p
		return tx.RecordAudit(ctx, s.audit(actor, "product.create", "product", p.ID, map[string]any{
			"sku": p.SKU, "initial_stock": in.InitialStock,
		}))
	})
	if err != nil {
		return Product{}, s.fail("create product", "product", 0, err)
	}
	return created, nil
}

// UpdateProduct replaces descriptive and price attributes. Stock is not
// touched and existing orders keep their price snapshots.
func (s *Service) UpdateProduct(ctx context.Context, actor shared.Actor, in UpdateProductInput) (Product, error) {
	if err := requireBackOffice(actor); err != nil {
		return Product{}, err
	}
	if err := shared.ValidateStruct(in); err != nil {
		return Product{}, err
	}
	if err := validateFields(in.ProductFields); err != nil {
		return Product{}, err
	}
	return s.mutateProduct(ctx, "update product", in.ID, func(ctx context.Context, tx TxRepository) (shared.AuditLog, error) {
		if err := shareCategory(ctx, tx, in.CategoryID); err != nil {
			return shared.AuditLog{}, err
		}
		version, err := tx.UpdateProduct(ctx, in)
		if err != nil {
			return shared.AuditLog{}, err
		}
		return s.audit(actor, "product.update", "product", in.ID, map[string]any{
			"from_version": in.Version, "to_version": version,
			"base_price": in.BasePrice.StringFixed(2),
		}), nil
	})
}

// DeleteProduct soft-deletes a product. Orders referencing it are kept.
func (s *Service) DeleteProduct(ctx context.Context, actor shared.Actor, ref VersionedRef) (Product, error) {
	if err := requireBackOffice(actor); err != nil {
		return Product{}, err
	}
	if err := shared.ValidateStruct(ref); err != nil {
		return Product{}, err
	}
	return s.mutateProduct(ctx, "delete product", ref.ID, func(ctx context.Context, tx TxRepository) (shared.AuditLog, error) {
		version, err := tx.SoftDeleteProduct(ctx, ref, s.now())
		if err != nil {
			return shared.AuditLog{}, err
		}
		return s.audit(actor, "product.delete", "product", ref.ID, map[string]any{"to_version": version}), nil
	})
}

// RestoreProduct clears the tombstone of a product. Its category is share
// locked and must not be deleted.
func (s *Service) RestoreProduct(ctx context.Context, actor shared.Actor, ref VersionedRef) (Product, error) {
	if err := requireBackOffice(actor); err != nil {
		return Product{}, err
	}
	if err := shared.ValidateStruct(ref); err != nil {
		return Product{}, err
	}
	return s.mutateProduct(ctx, "restore product", ref.ID, func(ctx context.Context, tx TxRepository) (shared.AuditLog, error) {
		p, err := tx.GetProduct(ctx, ref.ID, true)
		if err != nil {
			return shared.AuditLog{}, err
		}
		if p.CategoryID != nil {
			st, err := tx.LockCategory(ctx, *p.CategoryID, LockForShare)
			if err != nil {
				return shared.AuditLog{}, err
			}
			if st.Deleted {
				return shared.AuditLog{}, shared.BusinessRule("product", strconv.FormatInt(ref.ID, 10),
					"category %d is deleted; restore it first", *p.CategoryID)
			}
		}
		version, err := tx.RestoreProduct(ctx, ref)
		if err != nil {
			return shared.AuditLog{}, err
		}
		return s.audit(actor, "product.restore", "product", ref.ID, map[string]any{"to_version": version}), nil
	})
}

// AdjustStock applies a manual correction with conditional arithmetic; the
// product version is not bumped.
func (s *Service) AdjustStock(ctx context.Context, actor shared.Actor, in AdjustStockInput) (Product, error) {
	if err := requireBackOffice(actor); err != nil {
		return Product{}, err
	}
	if err := shared.ValidateStruct(in); err != nil {
		return Product{}, err
	}
	return s.mutateProduct(ctx, "adjust stock", in.ID, func(ctx context.Context, tx TxRepository) (shared.AuditLog, error) {
		balance, err := tx.AdjustStock(ctx, in.ID, in.Delta)
		if err != nil {
			return shared.AuditLog{}, err
		}
		return s.audit(actor, "product.stock_adjust", "product", in.ID, map[string]any{
			"delta": in.Delta, "balance": balance, "reason": in.Reason,
		}), nil
	})
}

// CreateCategory adds a category.
func (s *Service) CreateCategory(ctx context.Context, actor shared.Actor, in CreateCategoryInput) (Category, error) {
	if err := requireBackOffice(actor); err != nil {
		return Category{}, err
	}
	if err := shared.ValidateStruct(in); err != nil {
		return Category{}, err
	}
	var created Category
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.InsertCategory(ctx, in)
		if err != nil {
			return err
		}
		created = c
		return tx.RecordAudit(ctx, s.audit(actor, "category.create", "category", c.ID, map[string]any{"name": c.Name}))
	})
	if err != nil {
		return Category{}, s.fail("create category", "category", 0, err)
	}
	return created, nil
}

// RenameCategory renames a category.
func (s *Service) RenameCategory(ctx context.Context, actor shared.Actor, in RenameCategoryInput) (Category, error) {
	if err := requireBackOffice(actor); err != nil {
		return Category{}, err
	}
	if err := shared.ValidateStruct(in); err != nil {
		return Category{}, err
	}
	return s.mutateCategory(ctx, "rename category", in.ID, func(ctx context.Context, tx TxRepository) (shared.AuditLog, error) {
		version, err := tx.RenameCategory(ctx, in)
		if err != nil {
			return shared.AuditLog{}, err
		}
		return s.audit(actor, "category.rename", "category", in.ID, map[string]any{"name": in.Name, "to_version": version}), nil
	})
}

// DeleteCategory soft-deletes a category that no active product references.
// The category row is locked before counting so a concurrent product write
// waits on the same lock.
func (s *Service) DeleteCategory(ctx context.Context, actor shared.Actor, ref VersionedRef) (Category, error) {
	if err := requireBackOffice(actor); err != nil {
		return Category{}, err
	}
	if err := shared.ValidateStruct(ref); err != nil {
		return Category{}, err
	}
	return s.mutateCategory(ctx, "delete category", ref.ID, func(ctx context.Context, tx TxRepository) (shared.AuditLog, error) {
		st, err := tx.LockCategory(ctx, ref.ID, LockForUpdate)
		if err != nil {
			return shared.AuditLog{}, err
		}
		if err := versioning.Expect(categoriesTable, ref.ID, st, ref.Version); err != nil {
			return shared.AuditLog{}, err
		}
		n, err := tx.CountActiveProducts(ctx, ref.ID)
		if err != nil {
			return shared.AuditLog{}, err
		}
		if n > 0 {
			return shared.AuditLog{}, shared.BusinessRule("category", strconv.FormatInt(ref.ID, 10), "still has %d active products", n)
		}
		version, err := tx.SoftDeleteCategory(ctx, ref, s.now())
		if err != nil {
			return shared.AuditLog{}, err
		}
		return s.audit(actor, "category.delete", "category", ref.ID, map[string]any{"to_version": version}), nil
	})
}

// RestoreCategory clears the tombstone of a category.
func (s *Service) RestoreCategory(ctx context.Context, actor shared.Actor, ref VersionedRef) (Category, error) {
	if err := requireBackOffice(actor); err != nil {
		return Category{}, err
	}
	if err := shared.ValidateStruct(ref); err != nil {
		return Category{}, err
	}
	return s.mutateCategory(ctx, "restore category", ref.ID, func(ctx context.Context, tx TxRepository) (shared.AuditLog, error) {
		version, err := tx.RestoreCategory(ctx, ref)
		if err != nil {
			return shared.AuditLog{}, err
		}
		return s.audit(actor, "category.restore", "category", ref.ID, map[string]any{"to_version": version}), nil
	})
}

func (s *Service) mutateProduct(ctx context.Context, op string, id int64, fn func(context.Context, TxRepository) (shared.AuditLog, error)) (Product, error) {
	var out Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, entry); err != nil {
			return err
		}
		out, err = tx.GetProduct(ctx, id, true)
		return err
	})
	if err != nil {
		return Product{}, s.fail(op, "product", id, err)
	}
	return out, nil
}

func (s *Service) mutateCategory(ctx context.Context, op string, id int64, fn func(context.Context, TxRepository) (shared.AuditLog, error)) (Category, error) {
	var out Category
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, entry); err != nil {
			return err
		}
		out, err = tx.GetCategory(ctx, id, true)
		return err
	})
	if err != nil {
		return Category{}, s.fail(op, "category", id, err)
	}
	return out, nil
}

// shareCategory blocks concurrent deletion of the referenced category until
// the product write commits.
func shareCategory(ctx context.Context, tx TxRepository, id *int64) error {
	if id == nil {
		return nil
	}
	st, err := tx.LockCategory(ctx, *id, LockForShare)
	if err != nil {
		return err
	}
	if st.Deleted {
		return shared.NotFound("category", strconv.FormatInt(*id, 10))
	}
	return nil
}

func requireBackOffice(actor shared.Actor) error {
	if !actor.IsBackOffice() {
		return shared.Forbidden("catalog changes require staff or admin")
	}
	return nil
}

func (s *Service) audit(actor shared.Actor, action, entity string, id int64, meta map[string]any) shared.AuditLog {
	return shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       s.now(),
	}
}

func (s *Service) fail(op, entity string, id int64, err error) error {
	err = db.Classify(op, entity, strconv.FormatInt(id, 10), err)
	if shared.KindOf(err) == shared.KindStorage {
		s.logger.Error(op+" failed", slog.String("entity", entity), slog.Int64("id", id), slog.Any("error", err))
	}
	return err
}
