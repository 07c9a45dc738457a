package worker

import (
	"context"
	"log"
	"time"

	"leadpilot/models"

	"gorm.io/gorm"
)

// CallRequestWorker sweeps pending call requests past their expiry into the
// expired state. Reads already report expiry lazily; the sweep keeps the
// stored rows honest for reporting and cleanup.
type CallRequestWorker struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewCallRequestWorker(db *gorm.DB, logger *log.Logger) *CallRequestWorker {
	return &CallRequestWorker{
		DB:     db,
		Logger: logger,
	}
}

func (cw *CallRequestWorker) Start(ctx context.Context) {
	cw.Logger.Println("Call request worker started")

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cw.Logger.Println("Call request worker shutting down...")
			return
		case <-ticker.C:
			cw.expirePending()
		}
	}
}

func (cw *CallRequestWorker) expirePending() {
	result := cw.DB.Model(&models.CallRequest{}).
		Where("status = ? AND expires_at < ?", models.CallPending, time.Now()).
		Update("status", models.CallExpired)
	if result.Error != nil {
		cw.Logger.Printf("Error expiring call requests: %v", result.Error)
		return
	}
	if result.RowsAffected > 0 {
		cw.Logger.Printf("Expired %d call requests", result.RowsAffected)
	}
}
