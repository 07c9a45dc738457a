package controller

import (
	"errors"
	"fmt"
	"log"
	"time"

	"leadpilot/models"
	"leadpilot/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type CallController struct {
	DB       *gorm.DB
	Logger   *log.Logger
	Hub      *Hub
	Exporter *utils.SheetExporter
}

func NewCallController(db *gorm.DB, logger *log.Logger, hub *Hub, exporter *utils.SheetExporter) *CallController {
	return &CallController{
		DB:       db,
		Logger:   logger,
		Hub:      hub,
		Exporter: exporter,
	}
}

var (
	errCallNotFound    = errors.New("call request not found")
	errCallForbidden   = errors.New("call request belongs to another user")
	errCallFinished    = errors.New("call request already finalized")
	errCallNotAccepted = errors.New("call request has not been accepted")
	errCallBadAction   = errors.New("action must be accept or reject")
)

// CreateCallRequest opens a call handoff ticket for a customer and pushes it
// to the requesting user's mobile session if one is connected. The HTTP
// response never waits on the mobile side: "delivered" only means a live
// socket existed when the payload was written.
func (cc *CallController) CreateCallRequest(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		CustomerID uint `json:"customer_id" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	req, delivered, err := cc.createRequest(user, input.CustomerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Customer not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create call request", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(fiber.Map{
		"request_id": req.ID,
		"expires_at": req.ExpiresAt,
		"delivered":  delivered,
	}))
}

func (cc *CallController) createRequest(user *models.User, customerID uint) (*models.CallRequest, bool, error) {
	var customer models.Customer
	if err := cc.DB.Where("id = ? AND user_id = ?", customerID, user.ID).First(&customer).Error; err != nil {
		return nil, false, err
	}

	now := time.Now()
	req := models.CallRequest{
		UserID:      user.ID,
		CustomerID:  customer.ID,
		Phone:       customer.Phone,
		Name:        customer.Name,
		Status:      models.CallPending,
		RequestedAt: now,
		ExpiresAt:   now.Add(models.CallRequestTTL),
	}
	if err := cc.DB.Create(&req).Error; err != nil {
		return nil, false, err
	}

	delivered := cc.Hub.Send(user.ID, fiber.Map{
		"type":       "call_request",
		"request_id": req.ID,
		"name":       req.Name,
		"phone":      req.Phone,
		"expires_at": req.ExpiresAt,
	})
	if !delivered {
		cc.Logger.Printf("Call request %d created with no connected mobile session for user %d", req.ID, user.ID)
	}
	return &req, delivered, nil
}

// RespondCallRequest lets the owning user accept or reject a pending
// request from the mobile app.
func (cc *CallController) RespondCallRequest(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	requestID := utils.ParseUint(c.Params("id"))

	var input struct {
		Action string `json:"action" validate:"required,oneof=accept reject"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	req, err := cc.respond(user.ID, requestID, input.Action)
	if err != nil {
		return cc.callErrorResponse(c, err)
	}

	return c.JSON(utils.SuccessResponse(req))
}

func (cc *CallController) respond(userID, requestID uint, action string) (*models.CallRequest, error) {
	if action != "accept" && action != "reject" {
		return nil, errCallBadAction
	}

	var req models.CallRequest
	if err := cc.DB.First(&req, requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errCallNotFound
		}
		return nil, err
	}
	if req.UserID != userID {
		return nil, errCallForbidden
	}

	now := time.Now()
	if req.IsTerminal(now) || req.Status == models.CallAccepted {
		return nil, fmt.Errorf("%w: status is %s", errCallFinished, req.EffectiveStatus(now))
	}

	if action == "accept" {
		req.Status = models.CallAccepted
		req.AcceptedAt = utils.Pointer(now)
	} else {
		req.Status = models.CallRejected
	}
	if err := cc.DB.Save(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// CompleteCallRequest marks an accepted request as completed and syncs the
// outcome back onto the customer row.
func (cc *CallController) CompleteCallRequest(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	requestID := utils.ParseUint(c.Params("id"))

	var input struct {
		Note string `json:"note" validate:"max=2000"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	req, err := cc.complete(user.ID, requestID, input.Note)
	if err != nil {
		return cc.callErrorResponse(c, err)
	}

	return c.JSON(utils.SuccessResponse(req))
}

func (cc *CallController) complete(userID, requestID uint, note string) (*models.CallRequest, error) {
	var req models.CallRequest
	if err := cc.DB.First(&req, requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errCallNotFound
		}
		return nil, err
	}
	if req.UserID != userID {
		return nil, errCallForbidden
	}
	if req.Status != models.CallAccepted {
		return nil, errCallNotAccepted
	}

	now := time.Now()
	req.Status = models.CallCompleted
	req.CompletedAt = utils.Pointer(now)
	if err := cc.DB.Save(&req).Error; err != nil {
		return nil, err
	}

	// Sync the outcome onto the customer row. A failure here leaves the
	// request completed; the customer update is retried on the next call.
	var customer models.Customer
	if err := cc.DB.First(&customer, req.CustomerID).Error; err == nil {
		customer.Status = models.StatusCalled
		if note != "" {
			if customer.Note != "" {
				customer.Note += "\n"
			}
			customer.Note += note
		}
		if err := cc.DB.Save(&customer).Error; err != nil {
			cc.Logger.Printf("Failed to sync call outcome to customer %d: %v", customer.ID, err)
		} else {
			TriggerRealtimeSync(cc.DB, cc.Exporter, customer.SheetID)
		}
	}

	return &req, nil
}

// GetCallRequests lists the user's call requests newest first, reporting
// the lazily evaluated status for each.
func (cc *CallController) GetCallRequests(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var requests []models.CallRequest
	if err := cc.DB.Where("user_id = ?", user.ID).
		Order("created_at DESC").Limit(100).Find(&requests).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch call requests", err)
	}

	now := time.Now()
	items := make([]fiber.Map, 0, len(requests))
	for _, req := range requests {
		items = append(items, fiber.Map{
			"id":           req.ID,
			"customer_id":  req.CustomerID,
			"name":         req.Name,
			"phone":        req.Phone,
			"status":       req.EffectiveStatus(now),
			"requested_at": req.RequestedAt,
			"expires_at":   req.ExpiresAt,
			"accepted_at":  req.AcceptedAt,
			"completed_at": req.CompletedAt,
		})
	}

	return c.JSON(utils.SuccessResponse(items))
}

func (cc *CallController) callErrorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, errCallNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Call request not found", nil)
	case errors.Is(err, errCallForbidden):
		return utils.ErrorResponse(c, fiber.StatusForbidden, "Not allowed to respond to this call request", nil)
	case errors.Is(err, errCallFinished), errors.Is(err, errCallNotAccepted), errors.Is(err, errCallBadAction):
		return utils.ErrorResponse(c, fiber.StatusConflict, "Invalid call request transition", err)
	default:
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update call request", err)
	}
}
