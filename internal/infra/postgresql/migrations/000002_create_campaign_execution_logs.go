package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"gorm.io/gorm"
)

func createExecutionLogsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_campaign_execution_logs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ExecutionLogModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_execution_logs_campaign_ts ON campaign_execution_logs (campaign_id, timestamp)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ExecutionLogModel{})
		},
	}
}
