package controller

import (
	"errors"
	"fmt"
	"strings"

	"leadpilot/models"
	"leadpilot/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Mapping a field to this marker excludes the column from the import.
const noImportMarker = "no-import"

const importBatchSize = 100

// ImportResult summarizes one import run.
type ImportResult struct {
	Processed   int      `json:"processed"`
	Imported    int      `json:"imported"`
	Mirrored    int      `json:"mirrored"`
	Skipped     int      `json:"skipped"`
	Removed     int      `json:"removed"`
	SkipReasons []string `json:"skip_reasons,omitempty"`
}

// ImportCustomers pulls rows from the linked spreadsheet (or takes them
// inline) and merges them into the sheet. With overwrite set, manually
// created customers are replaced; rows that came from lead ingestion are
// always preserved.
func (sc *SyncController) ImportCustomers(c *fiber.Ctx) error {
	sheet, err := sc.ownedSheet(c)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Sheet not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load sheet", err)
	}

	var input struct {
		SheetURL  string            `json:"sheet_url"`
		TabName   string            `json:"tab_name"`
		Mapping   map[string]string `json:"mapping"`
		Overwrite bool              `json:"overwrite"`
		Headers   []string          `json:"headers"`
		Rows      [][]string        `json:"rows"`
		FromRow   int               `json:"from_row"`
		ToRow     int               `json:"to_row"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	headers := input.Headers
	rows := input.Rows
	if len(rows) == 0 {
		url := input.SheetURL
		if url == "" {
			url = sheet.LinkedSheetURL
		}
		if url == "" {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "No rows supplied and no linked spreadsheet to fetch from", nil)
		}
		// Rows are re-fetched server-side; a row range bounds the payload.
		data, err := sc.Bridge.FetchRange(url, input.TabName, input.FromRow, input.ToRow)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadGateway, "Could not fetch rows from the linked spreadsheet", err)
		}
		headers = data.Headers
		rows = data.Rows
		if input.SheetURL != "" {
			sheet.LinkedSheetURL = input.SheetURL
			sheet.LinkedTabName = input.TabName
		}
	}

	result, err := sc.importRows(sheet, headers, rows, input.Mapping, input.Overwrite)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Import failed", err)
	}

	if len(input.Mapping) > 0 {
		sheet.ColumnMapping = models.FieldMap(input.Mapping)
	}
	if err := sc.DB.Save(sheet).Error; err != nil {
		utils.LogError("import_mapping_save_failed", err, map[string]interface{}{"sheet_id": sheet.ID})
	}

	TriggerRealtimeSync(sc.DB, sc.Exporter, sheet.ID)

	return c.JSON(utils.SuccessResponse(result))
}

// columnIndex resolves a mapped field to its column position, matching the
// header case-insensitively.
func columnIndex(headers []string, mapping map[string]string, field string) int {
	col, ok := mapping[field]
	if !ok || col == "" || col == noImportMarker {
		return -1
	}
	for i, h := range headers {
		if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(col)) {
			return i
		}
	}
	return -1
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// importRows converts spreadsheet rows into customers on the sheet. The
// mapping binds normalized fields (name, phone, company, note, status) to
// column headers; every other non-empty column lands in the dynamic payload.
func (sc *SyncController) importRows(sheet *models.Sheet, headers []string, rows [][]string, mapping map[string]string, overwrite bool) (*ImportResult, error) {
	result := &ImportResult{Processed: len(rows)}

	if overwrite {
		removed, err := sc.removeManualCustomers(sheet.ID)
		if err != nil {
			return nil, err
		}
		result.Removed = removed
	}

	nameIdx := columnIndex(headers, mapping, "name")
	phoneIdx := columnIndex(headers, mapping, "phone")
	companyIdx := columnIndex(headers, mapping, "company")
	noteIdx := columnIndex(headers, mapping, "note")
	statusIdx := columnIndex(headers, mapping, "status")

	// Mapping keys are normalized field names bound to a column header.
	// A key whose value is the no-import marker names a column header to
	// drop entirely.
	mappedCols := map[int]bool{}
	excludedCols := map[int]bool{}
	for field, col := range mapping {
		if col == noImportMarker {
			for i, h := range headers {
				if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(field)) {
					excludedCols[i] = true
				}
			}
			continue
		}
		if idx := columnIndex(headers, mapping, field); idx >= 0 {
			mappedCols[idx] = true
		}
	}

	position := nextPosition(sc.DB, sheet.ID)
	var batch []models.Customer

	for rowNum, row := range rows {
		extras := models.FieldMap{}
		extraOrder := make([]string, 0, len(headers))
		for i, h := range headers {
			h = strings.TrimSpace(h)
			if h == "" || mappedCols[i] || excludedCols[i] {
				continue
			}
			if v := cellAt(row, i); v != "" {
				extras[h] = v
				extraOrder = append(extraOrder, h)
			}
		}

		name := cellAt(row, nameIdx)
		phone := cellAt(row, phoneIdx)

		// Rescue: a row with empty mapped identity columns may still carry
		// the identity under a differently named dynamic column.
		if name == "" && len(extras) > 0 {
			name = utils.PickName(extras, extraOrder)
		}
		if phone == "" && len(extras) > 0 {
			phone = utils.PickPhone(extras, extraOrder)
		}

		usable := (name != "" && name != models.PlaceholderName) ||
			(phone != "" && phone != models.PlaceholderPhone) ||
			len(extras) > 0
		if !usable {
			result.Skipped++
			result.SkipReasons = append(result.SkipReasons, fmt.Sprintf("row %d: no usable data", rowNum+1))
			continue
		}
		if name == "" {
			name = models.PlaceholderName
		}
		if phone == "" {
			phone = models.PlaceholderPhone
		}

		status := cellAt(row, statusIdx)
		if !models.IsValidStatus(status) {
			status = models.StatusNew
		}

		customer := models.Customer{
			UserID:      sheet.UserID,
			SheetID:     sheet.ID,
			Name:        name,
			Phone:       phone,
			Company:     cellAt(row, companyIdx),
			Note:        cellAt(row, noteIdx),
			Status:      status,
			Position:    position,
			ExtraFields: extras,
		}
		position++
		batch = append(batch, customer)
	}

	if len(batch) > 0 {
		if err := sc.DB.CreateInBatches(batch, importBatchSize).Error; err != nil {
			return nil, err
		}
		result.Imported = len(batch)

		if sheet.AddDynamicFields(headerFieldNames(headers, mappedCols, excludedCols)) {
			if err := sc.DB.Save(sheet).Error; err != nil {
				utils.LogError("dynamic_fields_save_failed", err, map[string]interface{}{"sheet_id": sheet.ID})
			}
		}
	}

	// An ad sheet's rows also belong in the master aggregate.
	if sheet.FromMeta && !sheet.IsMaster && len(batch) > 0 {
		mirrored, err := sc.mirrorToMaster(sheet, batch)
		if err != nil {
			utils.LogError("master_mirror_failed", err, map[string]interface{}{"sheet_id": sheet.ID})
		}
		result.Mirrored = mirrored
	}

	return result, nil
}

func headerFieldNames(headers []string, mappedCols, excludedCols map[int]bool) []string {
	names := make([]string, 0, len(headers))
	for i, h := range headers {
		h = strings.TrimSpace(h)
		if h == "" || mappedCols[i] || excludedCols[i] {
			continue
		}
		names = append(names, h)
	}
	return names
}

// removeManualCustomers deletes the sheet's customers that did not come from
// lead ingestion. The lead id marker lives in the serialized payload, so
// candidates are filtered in Go.
func (sc *SyncController) removeManualCustomers(sheetID uint) (int, error) {
	var customers []models.Customer
	if err := sc.DB.Select("id", "extra_fields").
		Where("sheet_id = ?", sheetID).Find(&customers).Error; err != nil {
		return 0, err
	}

	var ids []uint
	for i := range customers {
		if customers[i].LeadID() == "" {
			ids = append(ids, customers[i].ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := sc.DB.Where("id IN ?", ids).Delete(&models.Customer{}).Error; err != nil {
		return 0, err
	}
	return len(ids), nil
}

// mirrorToMaster copies freshly imported ad-sheet customers into the master
// sheet for the same page and form, marking them as copies.
func (sc *SyncController) mirrorToMaster(sheet *models.Sheet, imported []models.Customer) (int, error) {
	var master models.Sheet
	err := sc.DB.Where("user_id = ? AND page_id = ? AND form_id = ? AND is_master = ?",
		sheet.UserID, sheet.PageID, sheet.FormID, true).First(&master).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}

	position := nextPosition(sc.DB, master.ID)
	var copies []models.Customer
	for _, c := range imported {
		extras := models.FieldMap{}
		for k, v := range c.ExtraFields {
			extras[k] = v
		}
		extras[models.ExtraKeyIsCopy] = "true"
		extras[models.ExtraKeySourceSheetID] = fmt.Sprintf("%d", sheet.ID)

		copies = append(copies, models.Customer{
			UserID:      master.UserID,
			SheetID:     master.ID,
			Name:        c.Name,
			Phone:       c.Phone,
			Company:     c.Company,
			Note:        c.Note,
			Status:      c.Status,
			Position:    position,
			ExtraFields: extras,
		})
		position++
	}

	if err := sc.DB.CreateInBatches(copies, importBatchSize).Error; err != nil {
		return 0, err
	}
	return len(copies), nil
}
