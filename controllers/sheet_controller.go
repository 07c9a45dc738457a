package controller

import (
	"errors"
	"fmt"
	"log"

	"leadpilot/models"
	"leadpilot/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type SheetController struct {
	DB       *gorm.DB
	Logger   *log.Logger
	Exporter *utils.SheetExporter
}

func NewSheetController(db *gorm.DB, logger *log.Logger, exporter *utils.SheetExporter) *SheetController {
	return &SheetController{
		DB:       db,
		Logger:   logger,
		Exporter: exporter,
	}
}

// nextPosition returns the next free 0-based position on a sheet.
func nextPosition(db *gorm.DB, sheetID uint) int {
	var next int
	db.Model(&models.Customer{}).
		Where("sheet_id = ?", sheetID).
		Select("COALESCE(MAX(position), -1) + 1").
		Scan(&next)
	return next
}

func (sc *SheetController) CreateSheet(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Name string `json:"name" validate:"required,min=1,max=200"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	sheet := models.Sheet{
		UserID: user.ID,
		Name:   input.Name,
	}
	if err := sc.DB.Create(&sheet).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create sheet", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(sheet))
}

func (sc *SheetController) GetSheets(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var sheets []models.Sheet
	if err := sc.DB.Where("user_id = ?", user.ID).
		Order("created_at DESC").Find(&sheets).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sheets", err)
	}

	return c.JSON(utils.SuccessResponse(sheets))
}

func (sc *SheetController) GetSheet(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	sheetID := utils.ParseUint(c.Params("id"))

	var sheet models.Sheet
	err := sc.DB.Preload("Customers", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).Where("id = ? AND user_id = ?", sheetID, user.ID).First(&sheet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Sheet not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sheet", err)
	}

	return c.JSON(utils.SuccessResponse(sheet))
}

func (sc *SheetController) DeleteSheet(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	sheetID := utils.ParseUint(c.Params("id"))

	var sheet models.Sheet
	if err := sc.DB.Where("id = ? AND user_id = ?", sheetID, user.ID).First(&sheet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Sheet not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sheet", err)
	}

	tx := sc.DB.Begin()
	if err := tx.Where("sheet_id = ?", sheet.ID).Delete(&models.Customer{}).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete sheet", err)
	}
	if err := tx.Delete(&sheet).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete sheet", err)
	}
	if err := tx.Commit().Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete sheet", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"deleted": sheet.ID}))
}

func (sc *SheetController) CreateCustomer(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	sheetID := utils.ParseUint(c.Params("id"))

	var sheet models.Sheet
	if err := sc.DB.Where("id = ? AND user_id = ?", sheetID, user.ID).First(&sheet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Sheet not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sheet", err)
	}

	var input struct {
		Name        string            `json:"name" validate:"required,min=1,max=200"`
		Phone       string            `json:"phone" validate:"max=50"`
		Company     string            `json:"company" validate:"max=200"`
		Note        string            `json:"note" validate:"max=2000"`
		ExtraFields map[string]string `json:"extra_fields"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	customer := models.Customer{
		UserID:      user.ID,
		SheetID:     sheet.ID,
		Name:        input.Name,
		Phone:       input.Phone,
		Company:     input.Company,
		Note:        input.Note,
		Status:      models.StatusNew,
		Position:    nextPosition(sc.DB, sheet.ID),
		ExtraFields: models.FieldMap(input.ExtraFields),
	}
	if err := sc.DB.Create(&customer).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create customer", err)
	}

	TriggerRealtimeSync(sc.DB, sc.Exporter, sheet.ID)

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(customer))
}

func (sc *SheetController) UpdateCustomer(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	customerID := utils.ParseUint(c.Params("id"))

	var customer models.Customer
	if err := sc.DB.Where("id = ? AND user_id = ?", customerID, user.ID).First(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Customer not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch customer", err)
	}

	var input struct {
		Name        *string           `json:"name"`
		Phone       *string           `json:"phone"`
		Company     *string           `json:"company"`
		Note        *string           `json:"note"`
		Status      *string           `json:"status"`
		ExtraFields map[string]string `json:"extra_fields"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	if input.Name != nil {
		customer.Name = *input.Name
	}
	if input.Phone != nil {
		customer.Phone = *input.Phone
	}
	if input.Company != nil {
		customer.Company = *input.Company
	}
	if input.Note != nil {
		customer.Note = *input.Note
	}
	if input.Status != nil {
		if !models.IsValidStatus(*input.Status) {
			return utils.ErrorResponse(c, fiber.StatusBadRequest,
				fmt.Sprintf("Invalid status %q", *input.Status), nil)
		}
		customer.Status = *input.Status
	}
	if input.ExtraFields != nil {
		if customer.ExtraFields == nil {
			customer.ExtraFields = models.FieldMap{}
		}
		for k, v := range input.ExtraFields {
			customer.ExtraFields[k] = v
		}
	}

	if err := sc.DB.Save(&customer).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update customer", err)
	}

	TriggerRealtimeSync(sc.DB, sc.Exporter, customer.SheetID)

	return c.JSON(utils.SuccessResponse(customer))
}

func (sc *SheetController) DeleteCustomer(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	customerID := utils.ParseUint(c.Params("id"))

	var customer models.Customer
	if err := sc.DB.Where("id = ? AND user_id = ?", customerID, user.ID).First(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Customer not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch customer", err)
	}

	tx := sc.DB.Begin()
	if err := tx.Delete(&customer).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete customer", err)
	}
	// Close the position gap so the sheet stays dense.
	if err := tx.Model(&models.Customer{}).
		Where("sheet_id = ? AND position > ?", customer.SheetID, customer.Position).
		UpdateColumn("position", gorm.Expr("position - 1")).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete customer", err)
	}
	if err := tx.Commit().Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete customer", err)
	}

	TriggerRealtimeSync(sc.DB, sc.Exporter, customer.SheetID)

	return c.JSON(utils.SuccessResponse(fiber.Map{"deleted": customer.ID}))
}

// ReorderCustomers replaces the sheet's ordering with the supplied id list,
// which must be exactly the sheet's customers.
func (sc *SheetController) ReorderCustomers(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	sheetID := utils.ParseUint(c.Params("id"))

	var sheet models.Sheet
	if err := sc.DB.Where("id = ? AND user_id = ?", sheetID, user.ID).First(&sheet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Sheet not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sheet", err)
	}

	var input struct {
		CustomerIDs []uint `json:"customer_ids" validate:"required,min=1"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var existing []models.Customer
	if err := sc.DB.Select("id").Where("sheet_id = ?", sheet.ID).Find(&existing).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch customers", err)
	}
	if len(existing) != len(input.CustomerIDs) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest,
			fmt.Sprintf("Expected %d customer ids, got %d", len(existing), len(input.CustomerIDs)), nil)
	}
	known := make(map[uint]bool, len(existing))
	for _, e := range existing {
		known[e.ID] = true
	}
	seen := make(map[uint]bool, len(input.CustomerIDs))
	for _, id := range input.CustomerIDs {
		if !known[id] || seen[id] {
			return utils.ErrorResponse(c, fiber.StatusBadRequest,
				"Customer ids must be a permutation of the sheet's customers", nil)
		}
		seen[id] = true
	}

	tx := sc.DB.Begin()
	for pos, id := range input.CustomerIDs {
		if err := tx.Model(&models.Customer{}).Where("id = ?", id).
			UpdateColumn("position", pos).Error; err != nil {
			tx.Rollback()
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to reorder customers", err)
		}
	}
	if err := tx.Commit().Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to reorder customers", err)
	}

	TriggerRealtimeSync(sc.DB, sc.Exporter, sheet.ID)

	return c.JSON(utils.SuccessResponse(fiber.Map{"reordered": len(input.CustomerIDs)}))
}

// MergeSheets combines two or more sheets of the same origin into a new
// sheet. Source sheets are left untouched.
func (sc *SheetController) MergeSheets(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		SheetIDs []uint `json:"sheet_ids" validate:"required,min=2"`
		Name     string `json:"name" validate:"max=200"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	sheets := make([]models.Sheet, 0, len(input.SheetIDs))
	for _, id := range input.SheetIDs {
		var sheet models.Sheet
		if err := sc.DB.Where("id = ? AND user_id = ?", id, user.ID).First(&sheet).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorResponse(c, fiber.StatusNotFound,
					fmt.Sprintf("Sheet %d not found", id), nil)
			}
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sheets", err)
		}
		sheets = append(sheets, sheet)
	}

	first := sheets[0]
	if input.Name == "" {
		input.Name = first.Name + " (merged)"
	}
	for _, s := range sheets[1:] {
		if s.FromMeta != first.FromMeta {
			return utils.ErrorResponse(c, fiber.StatusBadRequest,
				"Cannot merge lead-sourced sheets with manual sheets", nil)
		}
		if first.FromMeta && (s.PageID != first.PageID || s.FormID != first.FormID) {
			return utils.ErrorResponse(c, fiber.StatusBadRequest,
				fmt.Sprintf("Sheets %q and %q belong to different pages or forms", first.Name, s.Name), nil)
		}
	}

	merged := models.Sheet{
		UserID:        user.ID,
		Name:          input.Name,
		FromMeta:      first.FromMeta,
		PageID:        first.PageID,
		FormID:        first.FormID,
		PageName:      first.PageName,
		FormName:      first.FormName,
		DynamicFields: append(models.StringList{}, first.DynamicFields...),
	}

	tx := sc.DB.Begin()
	if err := tx.Create(&merged).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create merged sheet", err)
	}

	position := 0
	for _, source := range sheets {
		var customers []models.Customer
		if err := tx.Where("sheet_id = ?", source.ID).
			Order("position ASC").Find(&customers).Error; err != nil {
			tx.Rollback()
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to read source customers", err)
		}

		copies := make([]models.Customer, 0, len(customers))
		for _, customer := range customers {
			extras := models.FieldMap{}
			for k, v := range customer.ExtraFields {
				extras[k] = v
			}
			copies = append(copies, models.Customer{
				UserID:      user.ID,
				SheetID:     merged.ID,
				Name:        customer.Name,
				Phone:       customer.Phone,
				Company:     customer.Company,
				Note:        customer.Note,
				Status:      customer.Status,
				Position:    position,
				ExtraFields: extras,
			})
			position++
		}
		if len(copies) > 0 {
			if err := tx.CreateInBatches(copies, importBatchSize).Error; err != nil {
				tx.Rollback()
				return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to copy customers", err)
			}
		}
	}

	if err := tx.Commit().Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to merge sheets", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(fiber.Map{
		"sheet_id":  merged.ID,
		"customers": position,
	}))
}
