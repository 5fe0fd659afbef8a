package subscriptions

import (
	"gorm.io/gorm"

	"github.com/lexmarket/lexmarket-backend/pkg/models"
)

// defaultPlans is the shipped catalog. Client plans gate marketplace
// benefits; lawyer plans carry a monthly AI-token allowance.
var defaultPlans = []models.SubscriptionPlan{
	{
		Name:       "Client Basic",
		PriceCents: 1999,
		TokenLimit: 0,
		Features:   "Post requests, compare proposals",
	},
	{
		Name:       "Client Plus",
		PriceCents: 4999,
		TokenLimit: 0,
		Features:   "Post requests, compare proposals, priority support",
	},
	{
		Name:       "Lawyer Starter",
		PriceCents: 0,
		TokenLimit: 50,
		Features:   "Marketplace access, 50 AI tokens per cycle",
	},
	{
		Name:       "Lawyer Pro",
		PriceCents: 9999,
		TokenLimit: 500,
		Features:   "Marketplace access, 500 AI tokens per cycle, draft assistant",
	},
}

// SeedPlans inserts the default catalog, skipping names that already exist.
// Safe to run on every boot.
func SeedPlans(db *gorm.DB) error {
	for _, p := range defaultPlans {
		var cnt int64
		if err := db.Model(&models.SubscriptionPlan{}).
			Where("name = ?", p.Name).Count(&cnt).Error; err != nil {
			return err
		}
		if cnt > 0 {
			continue
		}
		plan := p
		plan.Active = true
		if err := db.Create(&plan).Error; err != nil {
			return err
		}
	}
	return nil
}
