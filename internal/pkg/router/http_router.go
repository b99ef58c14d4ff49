package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/grouphive/grouphive/app/controllers"
	"github.com/grouphive/grouphive/app/repository"
	"github.com/grouphive/grouphive/internal/pkg/billing"
	"github.com/grouphive/grouphive/internal/pkg/constants"
	"github.com/grouphive/grouphive/internal/pkg/database"
)

// Router installs a set of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

type HttpRouter struct{}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}

func (h *HttpRouter) InstallRouter(app *fiber.App) {
	bc := newBillingController()

	app.Get(constants.HealthRoute, func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	// No auth middleware here; the controller verifies the gateway signature
	// before anything else happens.
	app.Post(constants.PaymentWebhookRoute, bc.HandlePaymentWebhook)
}

func newBillingController() *controllers.BillingController {
	db := database.GetDB()
	return controllers.NewBillingController(
		billing.NewStripeGatewayFromEnv(),
		billing.NewService(db),
		repository.NewLedgerRepository(db),
	)
}
