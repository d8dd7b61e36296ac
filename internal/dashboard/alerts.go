package dashboard

import (
	"github.com/zulandar/marketyard/internal/participation"
	"github.com/zulandar/marketyard/internal/stock"
	"gorm.io/gorm"
)

// Alerts is the admin alert read model.
type Alerts struct {
	UnseenConfirmations participation.UnseenSummary `json:"unseen_confirmations"`
	StockGrowers        []stock.GrowerAlert         `json:"stock_growers"`
	StockAlertCount     int64                       `json:"stock_alert_count"`
	Total               int64                       `json:"total"`
}

// loadAlerts reads both alert sources. Pending stock changes count one alert
// per grower.
func loadAlerts(db *gorm.DB) (Alerts, error) {
	unseen, err := participation.CountUnseenConfirmations(db)
	if err != nil {
		return Alerts{}, err
	}
	groups, err := stock.ListPendingGroupedByGrower(db)
	if err != nil {
		return Alerts{}, err
	}
	if groups == nil {
		groups = []stock.GrowerAlert{}
	}
	a := Alerts{
		UnseenConfirmations: unseen,
		StockGrowers:        groups,
		StockAlertCount:     int64(len(groups)),
	}
	a.Total = a.UnseenConfirmations.Count + a.StockAlertCount
	return a, nil
}
