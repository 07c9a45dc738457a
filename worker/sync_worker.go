package worker

import (
	"context"
	"log"
	"time"

	"leadpilot/models"
	"leadpilot/utils"

	"gorm.io/gorm"
)

// SyncWorker periodically re-exports realtime-synced sheets. It backstops
// the per-write triggers: a trigger that failed (bridge timeout, deploy
// restart) gets retried here instead of leaving the mirror stale.
type SyncWorker struct {
	DB       *gorm.DB
	Exporter *utils.SheetExporter
	Logger   *log.Logger
}

func NewSyncWorker(db *gorm.DB, exporter *utils.SheetExporter, logger *log.Logger) *SyncWorker {
	return &SyncWorker{
		DB:       db,
		Exporter: exporter,
		Logger:   logger,
	}
}

func (sw *SyncWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	time.Sleep(10 * time.Second)

	sw.Logger.Println("Sync worker started")

	ticker := time.NewTicker(2 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.Logger.Println("Sync worker shutting down...")
			return
		case <-ticker.C:
			sw.syncLinkedSheets()
		}
	}
}

func (sw *SyncWorker) syncLinkedSheets() {
	var sheets []models.Sheet
	if err := sw.DB.Where("realtime_sync = ? AND linked_sheet_url <> ''", true).
		Find(&sheets).Error; err != nil {
		sw.Logger.Printf("Error fetching synced sheets: %v", err)
		return
	}

	for i := range sheets {
		if _, err := sw.Exporter.Export(&sheets[i], nil); err != nil {
			sw.Logger.Printf("Error syncing sheet %d: %v", sheets[i].ID, err)
			utils.LogError("sheet_sync_failed", err, map[string]interface{}{"sheet_id": sheets[i].ID})
		}
	}
}
