package product

import (
	"context"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/catalog"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	productsTable = "products"
	sizesTable    = "product_sizes"

	vendorCodeConstraint = "products_vendor_code_key"
	sizeProductFK        = "product_sizes_product_id_fkey"
)

var productColumns = []string{"id", "serial_no", "nm_id", "imt_id", "vendor_code", "title", "category_wb"}

// Repository is the postgres catalog.ProductStore. Rows are matched on nm_id and
// barcode; id and serial_no are assigned once on insert and never rewritten.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

var _ catalog.ProductStore = (*Repository)(nil)

func (r *Repository) UpsertProduct(ctx context.Context, p models.Product) (models.UpsertResult, error) {
	ctx, span := tracing.StartSpan(ctx, "product.Repository.UpsertProduct")
	defer span.End()

	// a lost insert race leaves a row to update, so the second pass always resolves
	for attempt := 0; attempt < 2; attempt++ {
		id, err := r.productIDByNmID(ctx, p.NmID)
		if err != nil {
			return models.UpsertResult{}, err
		}

		if id != uuid.Nil {
			changed, err := r.updateProduct(ctx, p)
			if err != nil {
				return models.UpsertResult{}, err
			}
			return models.UpsertResult{ID: id, IsChanged: changed}, nil
		}

		id, inserted, err := r.insertProduct(ctx, p)
		var conflict *catalog.ConflictError
		if errors.As(err, &conflict) && attempt == 0 {
			// a concurrent writer of the same card can trip vendor_code before nm_id
			if existing, lookupErr := r.productIDByNmID(ctx, p.NmID); lookupErr == nil && existing != uuid.Nil {
				continue
			}
		}
		if err != nil {
			return models.UpsertResult{}, err
		}
		if inserted {
			return models.UpsertResult{ID: id, IsNew: true}, nil
		}

		r.logger.WithContext(ctx).WithFields(map[string]any{"nm_id": p.NmID}).Debug("Product inserted concurrently, retrying as update")
	}

	return models.UpsertResult{}, httperror.NewHTTPErrorf(http.StatusConflict, "product nm_id=%d could not be resolved after a concurrent insert", p.NmID)
}

func (r *Repository) productIDByNmID(ctx context.Context, nmID int64) (uuid.UUID, error) {
	sb := database.NewSelectBuilder()
	sb.Select("id")
	sb.From(productsTable)
	sb.Where(sb.Equal("nm_id", nmID))

	query, args := sb.Build()

	var id uuid.UUID
	err := database.Conn(ctx, r.db).GetContext(ctx, &id, query, args...)
	if database.IsNoRows(err) {
		return uuid.Nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"nm_id": nmID}).Error("Failed to look up product")
		return uuid.Nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to look up product")
	}
	return id, nil
}

// updateProduct rewrites the mutable columns only when at least one differs.
func (r *Repository) updateProduct(ctx context.Context, p models.Product) (bool, error) {
	ub := database.NewUpdateBuilder()
	ub.Update(productsTable)
	ub.Set(
		ub.Assign("imt_id", p.ImtID),
		ub.Assign("vendor_code", p.VendorCode),
		ub.Assign("title", p.Title),
		ub.Assign("category_wb", p.Category),
	)
	ub.Where(
		ub.Equal("nm_id", p.NmID),
		ub.IsDistinctFrom(
			[]string{"imt_id", "vendor_code", "title", "category_wb"},
			[]any{p.ImtID, p.VendorCode, p.Title, p.Category},
		),
	)

	query, args := ub.Build()

	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return false, r.productWriteError(ctx, p, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update product")
	}
	return rows > 0, nil
}

// insertProduct reports inserted=false when another writer created the nm_id first.
func (r *Repository) insertProduct(ctx context.Context, p models.Product) (uuid.UUID, bool, error) {
	ib := database.NewInsertBuilder()
	ib.InsertInto(productsTable)
	ib.Cols("id", "nm_id", "imt_id", "vendor_code", "title", "category_wb")
	ib.Values(uuid.New(), p.NmID, p.ImtID, p.VendorCode, p.Title, p.Category)
	ib.OnConflictDoNothing("nm_id")
	ib.Returning("id")

	query, args := ib.Build()

	var id uuid.UUID
	err := database.Conn(ctx, r.db).GetContext(ctx, &id, query, args...)
	if database.IsNoRows(err) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, r.productWriteError(ctx, p, err)
	}
	return id, true, nil
}

func (r *Repository) productWriteError(ctx context.Context, p models.Product, err error) error {
	if database.IsUniqueViolation(err, vendorCodeConstraint) {
		return &catalog.ConflictError{
			NmID:       p.NmID,
			Column:     "vendor_code",
			Value:      p.VendorCode,
			Constraint: vendorCodeConstraint,
		}
	}
	r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"nm_id": p.NmID}).Error("Failed to write product")
	return httperror.NewHTTPError(http.StatusInternalServerError, "failed to write product")
}

func (r *Repository) ProductIDsByNmID(ctx context.Context, nmIDs []int64) (map[int64]uuid.UUID, error) {
	ctx, span := tracing.StartSpan(ctx, "product.Repository.ProductIDsByNmID")
	defer span.End()

	products, err := r.listByNmIDs(ctx, nmIDs)
	if err != nil {
		return nil, err
	}

	ids := make(map[int64]uuid.UUID, len(products))
	for _, p := range products {
		ids[p.NmID] = p.ID
	}
	return ids, nil
}

// VendorCodesByNmID maps each known nm_id to its vendor code.
func (r *Repository) VendorCodesByNmID(ctx context.Context, nmIDs []int64) (map[int64]string, error) {
	ctx, span := tracing.StartSpan(ctx, "product.Repository.VendorCodesByNmID")
	defer span.End()

	products, err := r.listByNmIDs(ctx, nmIDs)
	if err != nil {
		return nil, err
	}

	codes := make(map[int64]string, len(products))
	for _, p := range products {
		codes[p.NmID] = p.VendorCode
	}
	return codes, nil
}

// GetByNmID returns nil when no product has the nm_id.
func (r *Repository) GetByNmID(ctx context.Context, nmID int64) (*models.Product, error) {
	ctx, span := tracing.StartSpan(ctx, "product.Repository.GetByNmID")
	defer span.End()

	products, err := r.listByNmIDs(ctx, []int64{nmID})
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, nil
	}
	return &products[0], nil
}

func (r *Repository) listByNmIDs(ctx context.Context, nmIDs []int64) ([]models.Product, error) {
	if len(nmIDs) == 0 {
		return nil, nil
	}

	sb := database.NewSelectBuilder()
	sb.Select(productColumns...)
	sb.From(productsTable)
	sb.Where(sb.In("nm_id", ectolinq.Map(nmIDs, func(id int64) any { return id })...))
	sb.OrderBy("nm_id")

	query, args := sb.Build()

	var products []models.Product
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &products, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(nmIDs)}).Error("Failed to list products")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list products")
	}
	return products, nil
}

func (r *Repository) UpsertProductSize(ctx context.Context, size models.ProductSize) (models.UpsertResult, error) {
	ctx, span := tracing.StartSpan(ctx, "product.Repository.UpsertProductSize")
	defer span.End()

	for attempt := 0; attempt < 2; attempt++ {
		existing, err := r.sizeByBarcode(ctx, size.Barcode)
		if err != nil {
			return models.UpsertResult{}, err
		}

		if existing != nil {
			changed, err := r.updateSize(ctx, size)
			if err != nil {
				return models.UpsertResult{}, err
			}
			return models.UpsertResult{ID: existing.ID, IsChanged: changed}, nil
		}

		id, inserted, err := r.insertSize(ctx, size)
		if err != nil {
			return models.UpsertResult{}, err
		}
		if inserted {
			return models.UpsertResult{ID: id, IsNew: true}, nil
		}

		r.logger.WithContext(ctx).WithFields(map[string]any{"barcode": size.Barcode}).Debug("Product size inserted concurrently, retrying as update")
	}

	return models.UpsertResult{}, httperror.NewHTTPErrorf(http.StatusConflict, "barcode %s could not be resolved after a concurrent insert", size.Barcode)
}

// SizesByProductID lists a product's sizes ordered by serial number.
func (r *Repository) SizesByProductID(ctx context.Context, productID uuid.UUID) ([]models.ProductSize, error) {
	ctx, span := tracing.StartSpan(ctx, "product.Repository.SizesByProductID")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("id", "serial_no", "product_id", "barcode", "size")
	sb.From(sizesTable)
	sb.Where(sb.Equal("product_id", productID))
	sb.OrderBy("serial_no")

	query, args := sb.Build()

	var sizes []models.ProductSize
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &sizes, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"product_id": productID}).Error("Failed to list product sizes")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list product sizes")
	}
	return sizes, nil
}

func (r *Repository) sizeByBarcode(ctx context.Context, barcode string) (*models.ProductSize, error) {
	sb := database.NewSelectBuilder()
	sb.Select("id", "serial_no", "product_id", "barcode", "size")
	sb.From(sizesTable)
	sb.Where(sb.Equal("barcode", barcode))

	query, args := sb.Build()

	var size models.ProductSize
	err := database.Conn(ctx, r.db).GetContext(ctx, &size, query, args...)
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"barcode": barcode}).Error("Failed to look up product size")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to look up product size")
	}
	return &size, nil
}

// updateSize also moves a barcode to another product when the card now lists it there.
func (r *Repository) updateSize(ctx context.Context, size models.ProductSize) (bool, error) {
	ub := database.NewUpdateBuilder()
	ub.Update(sizesTable)
	ub.Set(
		ub.Assign("product_id", size.ProductID),
		ub.Assign("size", size.Size),
	)
	ub.Where(
		ub.Equal("barcode", size.Barcode),
		ub.IsDistinctFrom([]string{"product_id", "size"}, []any{size.ProductID, size.Size}),
	)

	query, args := ub.Build()

	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return false, r.sizeWriteError(ctx, size, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update product size")
	}
	return rows > 0, nil
}

func (r *Repository) insertSize(ctx context.Context, size models.ProductSize) (uuid.UUID, bool, error) {
	ib := database.NewInsertBuilder()
	ib.InsertInto(sizesTable)
	ib.Cols("id", "product_id", "barcode", "size")
	ib.Values(uuid.New(), size.ProductID, size.Barcode, size.Size)
	ib.OnConflictDoNothing("barcode")
	ib.Returning("id")

	query, args := ib.Build()

	var id uuid.UUID
	err := database.Conn(ctx, r.db).GetContext(ctx, &id, query, args...)
	if database.IsNoRows(err) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, r.sizeWriteError(ctx, size, err)
	}
	return id, true, nil
}

func (r *Repository) sizeWriteError(ctx context.Context, size models.ProductSize, err error) error {
	r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"barcode": size.Barcode, "product_id": size.ProductID}).Error("Failed to write product size")
	if database.IsForeignKeyViolation(err, sizeProductFK) {
		return httperror.NewHTTPErrorf(http.StatusUnprocessableEntity, "product %s does not exist", size.ProductID)
	}
	return httperror.NewHTTPError(http.StatusInternalServerError, "failed to write product size")
}
