package routes

import (
	"log"
	"os"

	"leadpilot/config"
	controller "leadpilot/controllers"
	"leadpilot/middleware"
	"leadpilot/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"
)

// SetupRoutes wires every controller behind the HTTP surface. The hub and
// exporter are returned indirectly through the controllers so main can hand
// them to the background workers.
func SetupRoutes(app *fiber.App, db *gorm.DB) (*controller.Hub, *utils.SheetExporter) {
	authLogger := log.New(os.Stdout, "AUTH: ", log.Ldate|log.Ltime|log.Lshortfile)
	webhookLogger := log.New(os.Stdout, "WEBHOOK: ", log.Ldate|log.Ltime|log.Lshortfile)
	sheetLogger := log.New(os.Stdout, "SHEET: ", log.Ldate|log.Ltime|log.Lshortfile)
	syncLogger := log.New(os.Stdout, "SYNC: ", log.Ldate|log.Ltime|log.Lshortfile)
	callLogger := log.New(os.Stdout, "CALL: ", log.Ldate|log.Ltime|log.Lshortfile)

	metaClient := utils.NewMetaClient(config.AppConfig.MetaGraphURL)
	bridge := utils.NewGSheetClient(config.AppConfig.SheetBridgeTimeout)
	exporter := utils.NewSheetExporter(db, bridge)
	hub := controller.NewHub()

	authController := controller.NewAuthController(db, authLogger)
	webhookController := controller.NewWebhookController(db, webhookLogger, metaClient)
	sheetController := controller.NewSheetController(db, sheetLogger, exporter)
	syncController := controller.NewSyncController(db, syncLogger, bridge, exporter)
	callController := controller.NewCallController(db, callLogger, hub, exporter)

	auth := app.Group("/auth", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	auth.Post("/login", authController.Login)
	auth.Post("/refresh", authController.RefreshToken)
	auth.Get("/me", middleware.Protected(), authController.GetCurrentUser)

	// Meta calls these without credentials; verification is the handshake
	// token on GET and the page routing lookup on POST.
	webhook := app.Group("/webhook", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	webhook.Get("/meta", webhookController.VerifyMetaWebhook)
	webhook.Post("/meta", middleware.WebhookRateLimiter(), webhookController.HandleMetaWebhook)

	// Mobile app socket. Auth happens inside the handler via query token.
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/mobile", websocket.New(callController.HandleMobileWS))

	api := app.Group("/api/v1", middleware.Protected())

	sheets := api.Group("/sheets")
	sheets.Post("/", sheetController.CreateSheet)
	sheets.Get("/", sheetController.GetSheets)
	sheets.Post("/merge", sheetController.MergeSheets)
	sheets.Post("/validate-link", syncController.ValidateLink)
	sheets.Get("/:id", sheetController.GetSheet)
	sheets.Delete("/:id", sheetController.DeleteSheet)
	sheets.Post("/:id/customers", sheetController.CreateCustomer)
	sheets.Put("/:id/reorder", sheetController.ReorderCustomers)
	sheets.Post("/:id/import", syncController.ImportCustomers)
	sheets.Post("/:id/export", syncController.ExportSheet)
	sheets.Post("/:id/sync-now", syncController.SyncNow)

	customers := api.Group("/customers")
	customers.Patch("/:id", sheetController.UpdateCustomer)
	customers.Delete("/:id", sheetController.DeleteCustomer)

	calls := api.Group("/calls")
	calls.Post("/", callController.CreateCallRequest)
	calls.Get("/", callController.GetCallRequests)
	calls.Post("/:id/respond", callController.RespondCallRequest)
	calls.Post("/:id/complete", callController.CompleteCallRequest)

	return hub, exporter
}
