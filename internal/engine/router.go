package engine

import (
	"log"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts every compiled endpoint under /api with its count
// route. POST <route>/search lists like GET for clients that send filter
// values in a JSON body. Handler.Compile must have succeeded.
func RegisterRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	api := app.Group("/api", middleware...)

	for _, ep := range h.endpoints {
		route := ep.route()
		api.Get(route, h.List(ep))
		api.Get(route+"/count", h.Count(ep))
		api.Post(route+"/search", h.List(ep))
		log.Printf("Registered endpoint %s: GET /api%s", ep.Name, route)
	}
}
