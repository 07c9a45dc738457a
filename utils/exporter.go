package utils

import (
	"fmt"

	"leadpilot/models"

	"gorm.io/gorm"
)

// SheetExporter pushes a sheet's customers out to its linked external
// spreadsheet. Shared by the sync endpoints, the realtime trigger and the
// background sync worker.
type SheetExporter struct {
	DB     *gorm.DB
	Bridge GSheetAPI
}

func NewSheetExporter(db *gorm.DB, bridge GSheetAPI) *SheetExporter {
	return &SheetExporter{DB: db, Bridge: bridge}
}

// Export writes the sheet to its linked spreadsheet and returns the number
// of data rows written. An empty field list falls back through the sheet's
// persisted export configuration.
func (se *SheetExporter) Export(sheet *models.Sheet, fields []string) (int, error) {
	if sheet.LinkedSheetURL == "" {
		return 0, fmt.Errorf("sheet %d has no linked spreadsheet", sheet.ID)
	}

	var customers []models.Customer
	if err := se.DB.Where("sheet_id = ?", sheet.ID).
		Order("position ASC").Find(&customers).Error; err != nil {
		return 0, err
	}

	cols := ExportFieldList(sheet, fields)
	matrix := BuildExportMatrix(cols, customers)

	if err := se.Bridge.WriteRange(sheet.LinkedSheetURL, sheet.LinkedTabName, matrix); err != nil {
		return 0, err
	}
	return len(customers), nil
}
