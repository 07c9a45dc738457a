package controller

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"

	"leadpilot/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSheetFixture(t *testing.T) (*SheetController, *fiber.App, *models.User) {
	t.Helper()

	db := setupTestDB(t)
	user := createTestUser(t, db, "sheets@example.com")
	sc := NewSheetController(db, discardLogger(), nil)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user", user)
		return c.Next()
	})
	app.Post("/sheets", sc.CreateSheet)
	app.Post("/sheets/merge", sc.MergeSheets)
	app.Put("/sheets/:id/reorder", sc.ReorderCustomers)
	app.Delete("/sheets/:id", sc.DeleteSheet)
	app.Patch("/customers/:id", sc.UpdateCustomer)
	app.Delete("/customers/:id", sc.DeleteCustomer)

	return sc, app, user
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) int {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode
}

func seedSheetWithCustomers(t *testing.T, sc *SheetController, user *models.User, name string, count int, template models.Sheet) *models.Sheet {
	t.Helper()

	template.UserID = user.ID
	template.Name = name
	require.NoError(t, sc.DB.Create(&template).Error)
	for i := 0; i < count; i++ {
		require.NoError(t, sc.DB.Create(&models.Customer{
			UserID:   user.ID,
			SheetID:  template.ID,
			Name:     fmt.Sprintf("%s %d", name, i),
			Position: i,
		}).Error)
	}
	return &template
}

func TestMergeSheetsCombinesWithDensePositions(t *testing.T) {
	sc, app, user := newSheetFixture(t)

	a := seedSheetWithCustomers(t, sc, user, "Ad A", 3, models.Sheet{
		FromMeta: true, PageID: "page-1", FormID: "form-1",
		DynamicFields: models.StringList{"budget"},
	})
	b := seedSheetWithCustomers(t, sc, user, "Ad B", 5, models.Sheet{
		FromMeta: true, PageID: "page-1", FormID: "form-1",
		DynamicFields: models.StringList{"city"},
	})

	status := doJSON(t, app, "POST", "/sheets/merge", fiber.Map{
		"sheet_ids": []uint{a.ID, b.ID},
		"name":      "Combined",
	})
	require.Equal(t, fiber.StatusCreated, status)

	// The merged sheet keeps the first input's dynamic fields.
	var merged models.Sheet
	require.NoError(t, sc.DB.Where("name = ?", "Combined").First(&merged).Error)
	assert.True(t, merged.DynamicFields.Contains("budget"))
	assert.False(t, merged.DynamicFields.Contains("city"))

	var customers []models.Customer
	require.NoError(t, sc.DB.Where("sheet_id = ?", merged.ID).Order("position ASC").Find(&customers).Error)
	require.Len(t, customers, 8)
	for i, customer := range customers {
		assert.Equal(t, i, customer.Position)
	}
	assert.Equal(t, "Ad A 0", customers[0].Name)
	assert.Equal(t, "Ad B 4", customers[7].Name)

	// Source sheets keep their rows.
	var remaining int64
	sc.DB.Model(&models.Customer{}).Where("sheet_id = ?", a.ID).Count(&remaining)
	assert.Equal(t, int64(3), remaining)
}

func TestMergeSheetsRejectsDifferentForms(t *testing.T) {
	sc, app, user := newSheetFixture(t)

	a := seedSheetWithCustomers(t, sc, user, "Ad A", 1, models.Sheet{
		FromMeta: true, PageID: "page-1", FormID: "form-1",
	})
	b := seedSheetWithCustomers(t, sc, user, "Ad B", 1, models.Sheet{
		FromMeta: true, PageID: "page-1", FormID: "form-2",
	})

	status := doJSON(t, app, "POST", "/sheets/merge", fiber.Map{
		"sheet_ids": []uint{a.ID, b.ID},
		"name":      "Nope",
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestMergeSheetsRejectsMixedOrigins(t *testing.T) {
	sc, app, user := newSheetFixture(t)

	a := seedSheetWithCustomers(t, sc, user, "Ad A", 1, models.Sheet{
		FromMeta: true, PageID: "page-1", FormID: "form-1",
	})
	b := seedSheetWithCustomers(t, sc, user, "Manual", 1, models.Sheet{})

	status := doJSON(t, app, "POST", "/sheets/merge", fiber.Map{
		"sheet_ids": []uint{a.ID, b.ID},
		"name":      "Nope",
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestReorderCustomersReplacesPositions(t *testing.T) {
	sc, app, user := newSheetFixture(t)
	sheet := seedSheetWithCustomers(t, sc, user, "Ordered", 3, models.Sheet{})

	var customers []models.Customer
	require.NoError(t, sc.DB.Where("sheet_id = ?", sheet.ID).Order("position ASC").Find(&customers).Error)

	status := doJSON(t, app, "PUT", fmt.Sprintf("/sheets/%d/reorder", sheet.ID), fiber.Map{
		"customer_ids": []uint{customers[2].ID, customers[0].ID, customers[1].ID},
	})
	require.Equal(t, fiber.StatusOK, status)

	var reordered []models.Customer
	require.NoError(t, sc.DB.Where("sheet_id = ?", sheet.ID).Order("position ASC").Find(&reordered).Error)
	assert.Equal(t, customers[2].ID, reordered[0].ID)
	assert.Equal(t, customers[0].ID, reordered[1].ID)
	assert.Equal(t, customers[1].ID, reordered[2].ID)
}

func TestReorderCustomersRejectsPartialList(t *testing.T) {
	sc, app, user := newSheetFixture(t)
	sheet := seedSheetWithCustomers(t, sc, user, "Ordered", 3, models.Sheet{})

	var customers []models.Customer
	require.NoError(t, sc.DB.Where("sheet_id = ?", sheet.ID).Find(&customers).Error)

	status := doJSON(t, app, "PUT", fmt.Sprintf("/sheets/%d/reorder", sheet.ID), fiber.Map{
		"customer_ids": []uint{customers[0].ID},
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestDeleteCustomerCompactsPositions(t *testing.T) {
	sc, app, user := newSheetFixture(t)
	sheet := seedSheetWithCustomers(t, sc, user, "Dense", 3, models.Sheet{})

	var middle models.Customer
	require.NoError(t, sc.DB.Where("sheet_id = ? AND position = ?", sheet.ID, 1).First(&middle).Error)

	status := doJSON(t, app, "DELETE", fmt.Sprintf("/customers/%d", middle.ID), nil)
	require.Equal(t, fiber.StatusOK, status)

	var customers []models.Customer
	require.NoError(t, sc.DB.Where("sheet_id = ?", sheet.ID).Order("position ASC").Find(&customers).Error)
	require.Len(t, customers, 2)
	assert.Equal(t, 0, customers[0].Position)
	assert.Equal(t, 1, customers[1].Position)
}

func TestUpdateCustomerRejectsUnknownStatus(t *testing.T) {
	sc, app, user := newSheetFixture(t)
	sheet := seedSheetWithCustomers(t, sc, user, "Status", 1, models.Sheet{})

	var customer models.Customer
	require.NoError(t, sc.DB.Where("sheet_id = ?", sheet.ID).First(&customer).Error)

	status := doJSON(t, app, "PATCH", fmt.Sprintf("/customers/%d", customer.ID), fiber.Map{
		"status": "Definitely Wrong",
	})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status = doJSON(t, app, "PATCH", fmt.Sprintf("/customers/%d", customer.ID), fiber.Map{
		"status": models.StatusInterested,
	})
	assert.Equal(t, fiber.StatusOK, status)
}

func TestDeleteSheetRemovesCustomers(t *testing.T) {
	sc, app, user := newSheetFixture(t)
	sheet := seedSheetWithCustomers(t, sc, user, "Doomed", 2, models.Sheet{})

	status := doJSON(t, app, "DELETE", fmt.Sprintf("/sheets/%d", sheet.ID), nil)
	require.Equal(t, fiber.StatusOK, status)

	var count int64
	sc.DB.Model(&models.Customer{}).Where("sheet_id = ?", sheet.ID).Count(&count)
	assert.Zero(t, count)
}
