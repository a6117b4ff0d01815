package migrations

import (
	"github.com/dekuworks/runner-alerts/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_subscriptions",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.SubscriptionModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_subscriptions_topic_active ON subscriptions (topic) WHERE is_subscribed`,
					`CREATE INDEX IF NOT EXISTS idx_subscriptions_gc ON subscriptions (updated_at) WHERE NOT is_subscribed`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.SubscriptionModel{})
			},
		},
		{
			ID: "000002_create_channel_endpoints",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.EndpointModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_endpoints_user_channel_active ON channel_endpoints (user_id, channel) WHERE is_active`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.EndpointModel{})
			},
		},
		{
			ID: "000003_create_delivery_records",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.DeliveryRecordModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_deliveries_event_id ON delivery_records (event_id)`,
					`CREATE INDEX IF NOT EXISTS idx_deliveries_retry ON delivery_records (next_retry_at) WHERE status = 'RETRYING'`,
					`CREATE INDEX IF NOT EXISTS idx_deliveries_expiry ON delivery_records (expires_at) WHERE expires_at IS NOT NULL`,
					`CREATE INDEX IF NOT EXISTS idx_deliveries_recipient_created ON delivery_records (recipient_user_id, created_at)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DeliveryRecordModel{})
			},
		},
	})

	return m.Migrate()
}
