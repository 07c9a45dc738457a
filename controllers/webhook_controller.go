package controller

import (
	"errors"
	"log"
	"strings"
	"sync"

	"leadpilot/config"
	"leadpilot/models"
	"leadpilot/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	placeholderCampaign = "Unknown Campaign"
	placeholderAdset    = "Unknown Adset"
	placeholderAd       = "Unknown Ad"
)

type WebhookController struct {
	DB     *gorm.DB
	Logger *log.Logger
	Meta   utils.MetaAPI
}

func NewWebhookController(db *gorm.DB, logger *log.Logger, meta utils.MetaAPI) *WebhookController {
	return &WebhookController{
		DB:     db,
		Logger: logger,
		Meta:   meta,
	}
}

// VerifyMetaWebhook answers the Graph API subscription handshake. The
// challenge is echoed back when the verify token matches either a connected
// page's token or the global fallback.
func (wc *WebhookController) VerifyMetaWebhook(c *fiber.Ctx) error {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || token == "" {
		return c.Status(fiber.StatusForbidden).SendString("verification failed")
	}

	if token != config.AppConfig.MetaVerifyToken {
		var count int64
		wc.DB.Model(&models.PageConnection{}).Where("verify_token = ?", token).Count(&count)
		if count == 0 {
			wc.Logger.Printf("Webhook verification rejected: unknown verify token")
			return c.Status(fiber.StatusForbidden).SendString("verification failed")
		}
	}

	return c.SendString(challenge)
}

// metaWebhookPayload is the portion of the leadgen notification we consume.
type metaWebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string        `json:"field"`
			Value leadgenChange `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type leadgenChange struct {
	LeadgenID   string `json:"leadgen_id"`
	PageID      string `json:"page_id"`
	FormID      string `json:"form_id"`
	AdID        string `json:"ad_id"`
	CreatedTime int64  `json:"created_time"`
}

// HandleMetaWebhook acknowledges the notification immediately and processes
// each leadgen change in the background. Meta retries on non-200 responses,
// so slow Graph fetches must never hold the HTTP response hostage.
func (wc *WebhookController) HandleMetaWebhook(c *fiber.Ctx) error {
	var payload metaWebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		wc.Logger.Printf("Webhook payload parse failed: %v", err)
		return c.SendStatus(fiber.StatusOK)
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "leadgen" || change.Value.LeadgenID == "" {
				continue
			}
			ev := change.Value
			if ev.PageID == "" {
				ev.PageID = entry.ID
			}
			go func(ev leadgenChange) {
				defer func() {
					if r := recover(); r != nil {
						utils.LogError("lead_processing_panic", errors.New("panic in lead processing"), map[string]interface{}{
							"panic":      r,
							"leadgen_id": ev.LeadgenID,
						})
					}
				}()
				wc.processLeadEvent(ev)
			}(ev)
		}
	}

	return c.SendStatus(fiber.StatusOK)
}

// tenant resolution: a PageConnection row for the page wins, falling back to
// the legacy single-page column on the user record.
func (wc *WebhookController) resolveTenant(pageID string) (*models.User, string, error) {
	var conn models.PageConnection
	err := wc.DB.Where("page_id = ?", pageID).First(&conn).Error
	if err == nil {
		var user models.User
		if err := wc.DB.First(&user, conn.UserID).Error; err != nil {
			return nil, "", err
		}
		token := conn.AccessToken
		if token == "" {
			token = user.MetaAccessToken
		}
		return &user, token, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", err
	}

	var user models.User
	if err := wc.DB.Where("meta_page_id = ?", pageID).First(&user).Error; err != nil {
		return nil, "", err
	}
	return &user, user.MetaAccessToken, nil
}

type leadContext struct {
	eventID      string
	lead         *utils.MetaLead
	pageName     string
	formName     string
	campaignName string
	adsetName    string
	adName       string
}

func (wc *WebhookController) processLeadEvent(ev leadgenChange) {
	eventID := uuid.New().String()

	user, accessToken, err := wc.resolveTenant(ev.PageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.LogEvent("webhook_unknown_page", map[string]interface{}{
				"event_id": eventID,
				"page_id":  ev.PageID,
			})
			return
		}
		utils.LogError("tenant_resolution_failed", err, map[string]interface{}{"event_id": eventID, "page_id": ev.PageID})
		return
	}

	lc := wc.fetchLeadContext(eventID, ev, accessToken)
	if lc == nil {
		return
	}

	master, adSheet := wc.resolveSheets(user, ev, lc)

	// Each target write is independent: a failure on one must not block the
	// other, and there is no shared transaction across them.
	if master != nil {
		wc.writeLead(master, lc, eventID)
	}
	if adSheet != nil && (master == nil || adSheet.ID != master.ID) {
		wc.writeLead(adSheet, lc, eventID)
	}
}

// fetchLeadContext pulls the lead and its surrounding metadata from the
// Graph API concurrently. Only the lead itself is required: missing page,
// form or ad objects degrade to placeholder names.
func (wc *WebhookController) fetchLeadContext(eventID string, ev leadgenChange, accessToken string) *leadContext {
	lc := &leadContext{
		eventID:      eventID,
		pageName:     ev.PageID,
		formName:     ev.FormID,
		campaignName: placeholderCampaign,
		adsetName:    placeholderAdset,
		adName:       placeholderAd,
	}

	var wg sync.WaitGroup
	var leadErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		lead, err := wc.Meta.FetchLead(ev.LeadgenID, accessToken)
		if err != nil {
			leadErr = err
			return
		}
		if lead == nil {
			leadErr = errors.New("lead no longer exists")
			return
		}
		lc.lead = lead
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if page, err := wc.Meta.FetchPage(ev.PageID, accessToken); err == nil && page != nil && page.Name != "" {
			lc.pageName = page.Name
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if form, err := wc.Meta.FetchForm(ev.FormID, accessToken); err == nil && form != nil && form.Name != "" {
			lc.formName = form.Name
		}
	}()

	if ev.AdID != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ad, err := wc.Meta.FetchAd(ev.AdID, accessToken)
			if err != nil || ad == nil {
				return
			}
			if ad.Name != "" {
				lc.adName = ad.Name
			}
			if ad.Adset.Name != "" {
				lc.adsetName = ad.Adset.Name
			}
			if ad.Campaign.Name != "" {
				lc.campaignName = ad.Campaign.Name
			}
		}()
	}

	wg.Wait()

	if leadErr != nil {
		utils.LogError("lead_fetch_failed", leadErr, map[string]interface{}{
			"event_id":   eventID,
			"leadgen_id": ev.LeadgenID,
		})
		return nil
	}
	return lc
}

// resolveSheets returns the master sheet for the page+form pair and, when
// the event carries an ad, the per-ad sheet. Sheets are created on first
// contact; a concurrent create racing us resolves by re-reading. Either
// result may be nil after a resolution failure: the targets are
// independent, so a failed master lookup must not block the ad-sheet write
// and vice versa.
func (wc *WebhookController) resolveSheets(user *models.User, ev leadgenChange, lc *leadContext) (*models.Sheet, *models.Sheet) {
	master, err := wc.findOrCreateSheet(user, ev, lc, true)
	if err != nil {
		utils.LogError("master_sheet_resolution_failed", err, map[string]interface{}{
			"event_id": lc.eventID,
			"page_id":  ev.PageID,
			"form_id":  ev.FormID,
		})
		master = nil
	}

	if ev.AdID == "" {
		return master, nil
	}
	adSheet, err := wc.findOrCreateSheet(user, ev, lc, false)
	if err != nil {
		utils.LogError("ad_sheet_resolution_failed", err, map[string]interface{}{"event_id": lc.eventID, "ad_id": ev.AdID})
		return master, nil
	}
	return master, adSheet
}

// routingQuery builds a fresh lookup for the sheet routing key. The full
// tuple keys the ad sheet: the same ad name under a different campaign or
// adset is a different sheet.
func (wc *WebhookController) routingQuery(userID uint, ev leadgenChange, lc *leadContext, isMaster bool) *gorm.DB {
	query := wc.DB.Where("user_id = ? AND page_id = ? AND form_id = ? AND is_master = ?",
		userID, ev.PageID, ev.FormID, isMaster)
	if !isMaster {
		query = query.Where("campaign_name = ? AND adset_name = ? AND ad_name = ?",
			lc.campaignName, lc.adsetName, lc.adName)
	}
	return query
}

func (wc *WebhookController) findOrCreateSheet(user *models.User, ev leadgenChange, lc *leadContext, isMaster bool) (*models.Sheet, error) {
	var sheet models.Sheet
	err := wc.routingQuery(user.ID, ev, lc, isMaster).First(&sheet).Error
	if err == nil {
		return &sheet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	sheet = models.Sheet{
		UserID:   user.ID,
		FromMeta: true,
		IsMaster: isMaster,
		PageID:   ev.PageID,
		FormID:   ev.FormID,
		PageName: lc.pageName,
		FormName: lc.formName,
	}
	if isMaster {
		sheet.Name = lc.formName + " - All Leads"
	} else {
		sheet.Name = lc.formName + " - " + lc.adName
		sheet.CampaignName = lc.campaignName
		sheet.AdsetName = lc.adsetName
		sheet.AdName = lc.adName
	}

	if err := wc.DB.Create(&sheet).Error; err != nil {
		// A concurrent event may have created the same sheet first; the
		// routing index turns that race into a conflict we resolve by
		// re-reading.
		var existing models.Sheet
		if lookupErr := wc.routingQuery(user.ID, ev, lc, isMaster).First(&existing).Error; lookupErr == nil {
			return &existing, nil
		}
		return nil, err
	}
	return &sheet, nil
}

// leadExists scans the sheet's customers for a matching lead id, or failing
// that a matching email. The dynamic payload lives in a serialized column,
// so the comparison happens here rather than in SQL.
func (wc *WebhookController) leadExists(sheetID uint, leadID, email string) (bool, error) {
	var customers []models.Customer
	if err := wc.DB.Select("id", "extra_fields").
		Where("sheet_id = ?", sheetID).Find(&customers).Error; err != nil {
		return false, err
	}
	for i := range customers {
		if leadID != "" && customers[i].LeadID() == leadID {
			return true, nil
		}
		if email != "" && strings.EqualFold(customers[i].ExtraFields[models.ExtraKeyEmail], email) {
			return true, nil
		}
	}
	return false, nil
}

// writeLead appends the lead to one target sheet, skipping duplicates. The
// duplicate check is scoped to the sheet: the same lead legitimately lands
// in both the master and the ad sheet.
func (wc *WebhookController) writeLead(sheet *models.Sheet, lc *leadContext, eventID string) {
	fields := lc.lead.Fields()
	order := lc.lead.FieldNames()

	email := ""
	for k, v := range fields {
		if strings.Contains(strings.ToLower(k), "email") && v != "" {
			email = v
			break
		}
	}

	exists, err := wc.leadExists(sheet.ID, lc.lead.ID, email)
	if err != nil {
		utils.LogError("lead_dedup_check_failed", err, map[string]interface{}{"event_id": eventID, "sheet_id": sheet.ID})
		return
	}
	if exists {
		utils.LogEvent("lead_duplicate_skipped", map[string]interface{}{
			"event_id":   eventID,
			"sheet_id":   sheet.ID,
			"leadgen_id": lc.lead.ID,
		})
		return
	}

	extra := models.FieldMap{}
	for k, v := range fields {
		extra[k] = v
	}
	extra[models.ExtraKeyLeadID] = lc.lead.ID
	extra[models.ExtraKeyCampaignName] = lc.campaignName
	extra[models.ExtraKeyAdsetName] = lc.adsetName
	extra[models.ExtraKeyAdName] = lc.adName
	if email != "" {
		extra[models.ExtraKeyEmail] = email
	}

	customer := models.Customer{
		UserID:      sheet.UserID,
		SheetID:     sheet.ID,
		Name:        utils.PickName(fields, order),
		Phone:       utils.PickPhone(fields, order),
		Status:      models.StatusNew,
		Position:    nextPosition(wc.DB, sheet.ID),
		ExtraFields: extra,
	}
	if err := wc.DB.Create(&customer).Error; err != nil {
		utils.LogError("lead_store_failed", err, map[string]interface{}{"event_id": eventID, "sheet_id": sheet.ID})
		return
	}

	if sheet.AddDynamicFields(order) {
		if err := wc.DB.Save(sheet).Error; err != nil {
			utils.LogError("dynamic_fields_save_failed", err, map[string]interface{}{"event_id": eventID, "sheet_id": sheet.ID})
		}
	}

	utils.LogEvent("lead_stored", map[string]interface{}{
		"event_id":    eventID,
		"sheet_id":    sheet.ID,
		"customer_id": customer.ID,
	})
}
