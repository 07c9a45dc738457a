package controller

import (
	"testing"

	"leadpilot/models"
	"leadpilot/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testLead(id string) *utils.MetaLead {
	return &utils.MetaLead{
		ID: id,
		FieldData: []utils.MetaFieldData{
			{Name: "full_name", Values: []string{"Jane Doe"}},
			{Name: "phone_number", Values: []string{"+15550100"}},
			{Name: "email", Values: []string{id + "@example.com"}},
			{Name: "budget", Values: []string{"10k"}},
		},
	}
}

func newWebhookFixture(t *testing.T) (*WebhookController, *stubMeta, *models.User) {
	t.Helper()

	db := setupTestDB(t)
	user := createTestUser(t, db, "owner@example.com")
	require.NoError(t, db.Create(&models.PageConnection{
		UserID:      user.ID,
		PageID:      "page-1",
		PageName:    "Acme Page",
		AccessToken: "page-token",
	}).Error)

	meta := &stubMeta{
		lead: testLead("lead-1"),
		page: &utils.MetaObject{ID: "page-1", Name: "Acme Page"},
		form: &utils.MetaObject{ID: "form-1", Name: "Spring Promo"},
	}
	meta.ad = &utils.MetaAdDetail{ID: "ad-1", Name: "Video Ad"}
	meta.ad.Adset.Name = "Retargeting"
	meta.ad.Campaign.Name = "Spring Campaign"

	return NewWebhookController(db, discardLogger(), meta), meta, user
}

func TestProcessLeadEventRoutesToMasterAndAdSheet(t *testing.T) {
	wc, _, user := newWebhookFixture(t)

	wc.processLeadEvent(leadgenChange{
		LeadgenID: "lead-1",
		PageID:    "page-1",
		FormID:    "form-1",
		AdID:      "ad-1",
	})

	var sheets []models.Sheet
	require.NoError(t, wc.DB.Where("user_id = ?", user.ID).Order("is_master DESC").Find(&sheets).Error)
	require.Len(t, sheets, 2)

	master, adSheet := sheets[0], sheets[1]
	assert.True(t, master.IsMaster)
	assert.Equal(t, "Spring Promo - All Leads", master.Name)
	assert.False(t, adSheet.IsMaster)
	assert.Equal(t, "Spring Promo - Video Ad", adSheet.Name)
	assert.Equal(t, "Spring Campaign", adSheet.CampaignName)
	assert.Equal(t, "Retargeting", adSheet.AdsetName)

	for _, sheet := range sheets {
		var customers []models.Customer
		require.NoError(t, wc.DB.Where("sheet_id = ?", sheet.ID).Find(&customers).Error)
		require.Len(t, customers, 1)
		assert.Equal(t, "Jane Doe", customers[0].Name)
		assert.Equal(t, "+15550100", customers[0].Phone)
		assert.Equal(t, "lead-1", customers[0].LeadID())
		assert.Equal(t, 0, customers[0].Position)
		assert.True(t, sheet.DynamicFields.Contains("budget"))
	}
}

func TestProcessLeadEventIsIdempotentPerSheet(t *testing.T) {
	wc, _, _ := newWebhookFixture(t)

	ev := leadgenChange{LeadgenID: "lead-1", PageID: "page-1", FormID: "form-1", AdID: "ad-1"}
	wc.processLeadEvent(ev)
	wc.processLeadEvent(ev)

	var count int64
	wc.DB.Model(&models.Customer{}).Count(&count)
	assert.Equal(t, int64(2), count, "one row per target sheet, duplicates dropped")
}

func TestProcessLeadEventSameRoutingTupleReusesSheets(t *testing.T) {
	wc, meta, _ := newWebhookFixture(t)

	wc.processLeadEvent(leadgenChange{LeadgenID: "lead-1", PageID: "page-1", FormID: "form-1", AdID: "ad-1"})

	meta.lead = testLead("lead-2")
	wc.processLeadEvent(leadgenChange{LeadgenID: "lead-2", PageID: "page-1", FormID: "form-1", AdID: "ad-1"})

	var sheetCount int64
	wc.DB.Model(&models.Sheet{}).Count(&sheetCount)
	assert.Equal(t, int64(2), sheetCount)

	var master models.Sheet
	require.NoError(t, wc.DB.Where("is_master = ?", true).First(&master).Error)
	var customers int64
	wc.DB.Model(&models.Customer{}).Where("sheet_id = ?", master.ID).Count(&customers)
	assert.Equal(t, int64(2), customers)
}

func TestProcessLeadEventNewAdGetsOwnSheetSameMaster(t *testing.T) {
	wc, meta, _ := newWebhookFixture(t)

	wc.processLeadEvent(leadgenChange{LeadgenID: "lead-1", PageID: "page-1", FormID: "form-1", AdID: "ad-1"})

	meta.lead = testLead("lead-2")
	meta.ad = &utils.MetaAdDetail{ID: "ad-2", Name: "Carousel Ad"}
	wc.processLeadEvent(leadgenChange{LeadgenID: "lead-2", PageID: "page-1", FormID: "form-1", AdID: "ad-2"})

	var masters, adSheets int64
	wc.DB.Model(&models.Sheet{}).Where("is_master = ?", true).Count(&masters)
	wc.DB.Model(&models.Sheet{}).Where("is_master = ?", false).Count(&adSheets)
	assert.Equal(t, int64(1), masters)
	assert.Equal(t, int64(2), adSheets)
}

func TestProcessLeadEventChangedCampaignSplitsAdSheet(t *testing.T) {
	wc, meta, _ := newWebhookFixture(t)

	wc.processLeadEvent(leadgenChange{LeadgenID: "lead-1", PageID: "page-1", FormID: "form-1", AdID: "ad-1"})

	// Same ad name under a different campaign routes to a new ad sheet.
	meta.lead = testLead("lead-2")
	meta.ad = &utils.MetaAdDetail{ID: "ad-9", Name: "Video Ad"}
	meta.ad.Adset.Name = "Retargeting"
	meta.ad.Campaign.Name = "Summer Campaign"
	wc.processLeadEvent(leadgenChange{LeadgenID: "lead-2", PageID: "page-1", FormID: "form-1", AdID: "ad-9"})

	var masters, adSheets int64
	wc.DB.Model(&models.Sheet{}).Where("is_master = ?", true).Count(&masters)
	wc.DB.Model(&models.Sheet{}).Where("is_master = ?", false).Count(&adSheets)
	assert.Equal(t, int64(1), masters)
	assert.Equal(t, int64(2), adSheets)
}

func TestProcessLeadEventAdFetchFailureUsesPlaceholders(t *testing.T) {
	wc, meta, _ := newWebhookFixture(t)
	meta.ad = nil

	wc.processLeadEvent(leadgenChange{LeadgenID: "lead-1", PageID: "page-1", FormID: "form-1", AdID: "ad-broken"})

	var adSheet models.Sheet
	require.NoError(t, wc.DB.Where("is_master = ?", false).First(&adSheet).Error)
	assert.Equal(t, "Spring Promo - "+placeholderAd, adSheet.Name)
	assert.Equal(t, placeholderCampaign, adSheet.CampaignName)
	assert.Equal(t, placeholderAdset, adSheet.AdsetName)

	var customer models.Customer
	require.NoError(t, wc.DB.Where("sheet_id = ?", adSheet.ID).First(&customer).Error)
	assert.Equal(t, placeholderCampaign, customer.ExtraFields[models.ExtraKeyCampaignName])
}

func TestProcessLeadEventDropsWhenLeadFetchFails(t *testing.T) {
	wc, meta, _ := newWebhookFixture(t)
	meta.lead = nil

	wc.processLeadEvent(leadgenChange{LeadgenID: "lead-gone", PageID: "page-1", FormID: "form-1"})

	var count int64
	wc.DB.Model(&models.Customer{}).Count(&count)
	assert.Zero(t, count)
}

func TestProcessLeadEventUnknownPageIsDropped(t *testing.T) {
	wc, _, _ := newWebhookFixture(t)

	wc.processLeadEvent(leadgenChange{LeadgenID: "lead-1", PageID: "page-nobody", FormID: "form-1"})

	var count int64
	wc.DB.Model(&models.Sheet{}).Count(&count)
	assert.Zero(t, count)
}

func TestDuplicateMasterCreateFallsBackToLookup(t *testing.T) {
	wc, _, user := newWebhookFixture(t)

	master := func() models.Sheet {
		return models.Sheet{
			UserID:   user.ID,
			Name:     "Spring Promo - All Leads",
			FromMeta: true,
			IsMaster: true,
			PageID:   "page-1",
			FormID:   "form-1",
		}
	}
	first := master()
	require.NoError(t, wc.DB.Create(&first).Error)

	// A racing second insert for the same routing key hits the unique index.
	dup := master()
	require.Error(t, wc.DB.Create(&dup).Error)

	lc := &leadContext{
		formName:     "Spring Promo",
		campaignName: placeholderCampaign,
		adsetName:    placeholderAdset,
		adName:       placeholderAd,
	}
	sheet, err := wc.findOrCreateSheet(user, leadgenChange{PageID: "page-1", FormID: "form-1"}, lc, true)
	require.NoError(t, err)
	assert.Equal(t, first.ID, sheet.ID)

	var masters int64
	wc.DB.Model(&models.Sheet{}).Where("is_master = ?", true).Count(&masters)
	assert.Equal(t, int64(1), masters)
}

func TestFindOrCreateSheetResolvesCreateRace(t *testing.T) {
	wc, _, user := newWebhookFixture(t)

	// Sneak an identical master in between the lookup miss and the create,
	// the way a concurrent event would.
	var seeded models.Sheet
	raced := false
	require.NoError(t, wc.DB.Callback().Create().Before("gorm:create").Register("seed_racing_master", func(tx *gorm.DB) {
		dest, ok := tx.Statement.Dest.(*models.Sheet)
		if !ok || !dest.IsMaster || raced {
			return
		}
		raced = true
		seeded = models.Sheet{
			UserID:   user.ID,
			Name:     "Spring Promo - All Leads",
			FromMeta: true,
			IsMaster: true,
			PageID:   "page-1",
			FormID:   "form-1",
		}
		wc.DB.Session(&gorm.Session{NewDB: true}).Create(&seeded)
	}))

	lc := &leadContext{
		formName:     "Spring Promo",
		campaignName: placeholderCampaign,
		adsetName:    placeholderAdset,
		adName:       placeholderAd,
	}
	sheet, err := wc.findOrCreateSheet(user, leadgenChange{PageID: "page-1", FormID: "form-1"}, lc, true)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, sheet.ID)

	var masters int64
	wc.DB.Model(&models.Sheet{}).Where("is_master = ?", true).Count(&masters)
	assert.Equal(t, int64(1), masters)
}

func TestRoutingKeyUniquePerAdTuple(t *testing.T) {
	wc, _, user := newWebhookFixture(t)

	ad := func(campaign string) models.Sheet {
		return models.Sheet{
			UserID:       user.ID,
			Name:         "Spring Promo - Video Ad",
			FromMeta:     true,
			PageID:       "page-1",
			FormID:       "form-1",
			CampaignName: campaign,
			AdsetName:    "Retargeting",
			AdName:       "Video Ad",
		}
	}
	first := ad("Spring Campaign")
	require.NoError(t, wc.DB.Create(&first).Error)

	dup := ad("Spring Campaign")
	require.Error(t, wc.DB.Create(&dup).Error)

	// A different campaign is a different routing key.
	other := ad("Summer Campaign")
	require.NoError(t, wc.DB.Create(&other).Error)
}

func TestRoutingKeyIgnoresManualAndMergedSheets(t *testing.T) {
	wc, _, user := newWebhookFixture(t)

	// Dashboard sheets share an empty routing tuple.
	require.NoError(t, wc.DB.Create(&models.Sheet{UserID: user.ID, Name: "Prospects"}).Error)
	require.NoError(t, wc.DB.Create(&models.Sheet{UserID: user.ID, Name: "Partners"}).Error)

	// Merged sheets keep page/form identity but no campaign tuple.
	merged := func(name string) models.Sheet {
		return models.Sheet{
			UserID: user.ID, Name: name,
			FromMeta: true, PageID: "page-1", FormID: "form-1",
		}
	}
	a := merged("Combined A")
	b := merged("Combined B")
	require.NoError(t, wc.DB.Create(&a).Error)
	require.NoError(t, wc.DB.Create(&b).Error)
}

func TestProcessLeadEventMasterFailureStillWritesAdSheet(t *testing.T) {
	wc, _, _ := newWebhookFixture(t)

	require.NoError(t, wc.DB.Exec(
		"CREATE TRIGGER fail_master_inserts BEFORE INSERT ON sheets WHEN NEW.is_master = 1 BEGIN SELECT RAISE(ABORT, 'insert rejected'); END",
	).Error)

	wc.processLeadEvent(leadgenChange{LeadgenID: "lead-1", PageID: "page-1", FormID: "form-1", AdID: "ad-1"})

	var sheets []models.Sheet
	require.NoError(t, wc.DB.Find(&sheets).Error)
	require.Len(t, sheets, 1)
	assert.False(t, sheets[0].IsMaster)
	assert.Equal(t, "Spring Promo - Video Ad", sheets[0].Name)

	var customers int64
	wc.DB.Model(&models.Customer{}).Where("sheet_id = ?", sheets[0].ID).Count(&customers)
	assert.Equal(t, int64(1), customers)
}

func TestResolveTenantPrefersPageConnection(t *testing.T) {
	wc, _, connected := newWebhookFixture(t)

	// A second user claims the same page through the legacy column only.
	legacy := createTestUser(t, wc.DB, "legacy@example.com")
	legacy.MetaPageID = "page-1"
	legacy.MetaAccessToken = "legacy-token"
	require.NoError(t, wc.DB.Save(legacy).Error)

	user, token, err := wc.resolveTenant("page-1")
	require.NoError(t, err)
	assert.Equal(t, connected.ID, user.ID)
	assert.Equal(t, "page-token", token)
}

func TestResolveTenantLegacyFallback(t *testing.T) {
	wc, _, _ := newWebhookFixture(t)

	legacy := createTestUser(t, wc.DB, "legacy@example.com")
	legacy.MetaPageID = "page-legacy"
	legacy.MetaAccessToken = "legacy-token"
	require.NoError(t, wc.DB.Save(legacy).Error)

	user, token, err := wc.resolveTenant("page-legacy")
	require.NoError(t, err)
	assert.Equal(t, legacy.ID, user.ID)
	assert.Equal(t, "legacy-token", token)
}
