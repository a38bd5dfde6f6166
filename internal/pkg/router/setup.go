package router

import (
	"github.com/gofiber/fiber/v2"
)

// Router registers a group of routes on the app
type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter installs the routers in order. The system router goes first
// so health checks bypass API authentication.
func InstallRouter(app *fiber.App, routers ...Router) {
	setup(app, routers...)
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
