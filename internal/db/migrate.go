package db

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/zulandar/marketyard/internal/config"
	"github.com/zulandar/marketyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Session{},
		&models.Participation{},
		&models.ParticipationProduct{},
		&models.StockValidationRequest{},
		&models.CommissionRecord{},
		&models.Settlement{},
		&models.Grower{},
		&models.Product{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedGrowers upserts Grower rows from configuration. A configured
// commission rate replaces the stored override; an absent one clears it.
func SeedGrowers(db *gorm.DB, growers []config.GrowerConfig) error {
	for _, gc := range growers {
		g := models.Grower{
			ID:             gc.ID,
			Name:           gc.Name,
			CommissionRate: rateFromConfig(gc.CommissionRate),
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "commission_rate", "updated_at"}),
		}).Create(&g)
		if result.Error != nil {
			return fmt.Errorf("db: seed grower %q: %w", gc.ID, result.Error)
		}
	}
	return nil
}

// SeedProducts upserts catalog Product rows from configuration.
func SeedProducts(db *gorm.DB, products []config.ProductConfig) error {
	for _, pc := range products {
		p := models.Product{
			ID:       pc.ID,
			GrowerID: pc.GrowerID,
			Name:     pc.Name,
			Stock:    pc.Stock,
			Price:    decimal.NewFromFloat(pc.Price).Round(2),
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"grower_id", "name", "stock", "price", "updated_at"}),
		}).Create(&p)
		if result.Error != nil {
			return fmt.Errorf("db: seed product %q: %w", pc.ID, result.Error)
		}
	}
	return nil
}

func rateFromConfig(rate *float64) *decimal.Decimal {
	if rate == nil {
		return nil
	}
	d := decimal.NewFromFloat(*rate).Round(2)
	return &d
}
