package controller

import (
	"errors"
	"log"
	"os"

	"leadpilot/models"
	"leadpilot/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

var syncLogger = log.New(os.Stdout, "[SYNC] ", log.LstdFlags)

// TriggerRealtimeSync re-exports a sheet in the background when it has
// realtime sync enabled. Fire and forget: the caller's write already
// succeeded, a mirror failure is only logged.
func TriggerRealtimeSync(db *gorm.DB, exporter *utils.SheetExporter, sheetID uint) {
	if exporter == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				utils.LogError("realtime_sync_panic", errors.New("panic in realtime sync"), map[string]interface{}{
					"panic":    r,
					"sheet_id": sheetID,
				})
			}
		}()

		var sheet models.Sheet
		if err := db.First(&sheet, sheetID).Error; err != nil {
			return
		}
		if !sheet.RealtimeSync || sheet.LinkedSheetURL == "" {
			return
		}
		if _, err := exporter.Export(&sheet, nil); err != nil {
			utils.LogError("realtime_sync_failed", err, map[string]interface{}{"sheet_id": sheetID})
			syncLogger.Printf("Realtime sync failed for sheet %d: %v", sheetID, err)
		}
	}()
}

// ExportSheet links a sheet to an external spreadsheet and pushes the
// current contents. The link configuration is only persisted after the
// first write succeeds.
func (sc *SyncController) ExportSheet(c *fiber.Ctx) error {
	sheet, err := sc.ownedSheet(c)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Sheet not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load sheet", err)
	}

	var input struct {
		SheetURL     string   `json:"sheet_url" validate:"required,url"`
		TabName      string   `json:"tab_name"`
		Fields       []string `json:"fields"`
		RealtimeSync bool     `json:"realtime_sync"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	sheet.LinkedSheetURL = input.SheetURL
	sheet.LinkedTabName = input.TabName

	rows, err := sc.Exporter.Export(sheet, input.Fields)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Export failed", err)
	}

	sheet.ExportFields = models.StringList(utils.ExportFieldList(sheet, input.Fields))
	sheet.RealtimeSync = input.RealtimeSync
	if err := sc.DB.Save(sheet).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Export succeeded but link could not be saved", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"rows_written":  rows,
		"fields":        sheet.ExportFields,
		"realtime_sync": sheet.RealtimeSync,
	}))
}
