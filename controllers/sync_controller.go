package controller

import (
	"errors"
	"log"

	"leadpilot/models"
	"leadpilot/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// SyncController handles the bidirectional bridge between sheets and the
// user's external spreadsheets: link validation, imports, exports and the
// on-demand sync trigger.
type SyncController struct {
	DB       *gorm.DB
	Logger   *log.Logger
	Bridge   utils.GSheetAPI
	Exporter *utils.SheetExporter
}

func NewSyncController(db *gorm.DB, logger *log.Logger, bridge utils.GSheetAPI, exporter *utils.SheetExporter) *SyncController {
	return &SyncController{
		DB:       db,
		Logger:   logger,
		Bridge:   bridge,
		Exporter: exporter,
	}
}

func (sc *SyncController) ownedSheet(c *fiber.Ctx) (*models.Sheet, error) {
	user := c.Locals("user").(*models.User)
	sheetID := utils.ParseUint(c.Params("id"))

	var sheet models.Sheet
	if err := sc.DB.Where("id = ? AND user_id = ?", sheetID, user.ID).First(&sheet).Error; err != nil {
		return nil, err
	}
	return &sheet, nil
}

// ValidateLink checks that the bridge endpoint is reachable and returns the
// spreadsheet's tabs so the dashboard can offer a tab picker.
func (sc *SyncController) ValidateLink(c *fiber.Ctx) error {
	var input struct {
		SheetURL string `json:"sheet_url" validate:"required,url"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	tabs, err := sc.Bridge.ValidateAccess(input.SheetURL)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Could not reach the linked spreadsheet", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"valid": true,
		"tabs":  tabs,
	}))
}

// SyncNow re-exports a linked sheet immediately, regardless of the realtime
// flag.
func (sc *SyncController) SyncNow(c *fiber.Ctx) error {
	sheet, err := sc.ownedSheet(c)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Sheet not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load sheet", err)
	}
	if sheet.LinkedSheetURL == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Sheet has no linked spreadsheet", nil)
	}

	rows, err := sc.Exporter.Export(sheet, nil)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Sync failed", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"rows_written": rows,
	}))
}
