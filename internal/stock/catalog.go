package stock

import (
	"errors"
	"fmt"

	"github.com/zulandar/marketyard/internal/apperr"
	"github.com/zulandar/marketyard/internal/models"
	"gorm.io/gorm"
)

// Catalog owns the stock and price records approved requests mutate. The db
// handle is the resolving transaction, so a catalog that stores its data in
// the same database commits or rolls back with the decision.
type Catalog interface {
	ApplyApprovedChange(db *gorm.DB, growerID, productID string, change Change) error
}

// GormCatalog applies changes to the products table.
type GormCatalog struct{}

// ApplyApprovedChange writes the proposed stock and price onto the product.
func (GormCatalog) ApplyApprovedChange(db *gorm.DB, growerID, productID string, change Change) error {
	const op = "catalog: apply"
	var p models.Product
	if err := db.Where("id = ?", productID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound(op, "product not found: %s", productID)
		}
		return fmt.Errorf("%s: load %s: %w", op, productID, err)
	}
	if p.GrowerID != growerID {
		return apperr.Validation(op, "product %s belongs to grower %s, not %s", productID, p.GrowerID, growerID)
	}

	updates := map[string]interface{}{}
	if change.Stock != nil {
		updates["stock"] = *change.Stock
	}
	if change.Price != nil {
		updates["price"] = change.Price.Round(2)
	}
	if len(updates) == 0 {
		return nil
	}
	if err := db.Model(&models.Product{}).Where("id = ?", productID).Updates(updates).Error; err != nil {
		return fmt.Errorf("%s: update %s: %w", op, productID, err)
	}
	return nil
}
