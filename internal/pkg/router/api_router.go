package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	"github.com/grouphive/grouphive/internal/pkg/constants"
	"github.com/grouphive/grouphive/internal/pkg/env"
)

type ApiRouter struct{}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

func (a *ApiRouter) InstallRouter(app *fiber.App) {
	bc := newBillingController()

	internal := app.Group(constants.InternalAPIPrefix, basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("INTERNAL_API_USER", "internal"): env.GetEnv("INTERNAL_API_PASSWORD", "internal"),
		},
	}))

	internal.Get("/groups/:id/ledger", bc.HandleGroupLedgerSummary)
	internal.Get("/billing/counters", bc.HandleWebhookCounters)
}
