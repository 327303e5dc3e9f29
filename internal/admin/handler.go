package admin

import (
	"github.com/gofiber/fiber/v2"

	"filterspec/internal/cache"
	"filterspec/internal/compose"
	"filterspec/internal/engine"
	"filterspec/internal/metadata"
)

// Handler exposes the loaded definitions and the resolution cache.
type Handler struct {
	registry *metadata.Registry
	plans    *cache.Cache[*compose.Plan]
}

// NewHandler creates the admin handler. plans may be nil when caching is off.
func NewHandler(reg *metadata.Registry, plans *cache.Cache[*compose.Plan]) *Handler {
	return &Handler{registry: reg, plans: plans}
}

func RegisterAdminRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	admin := app.Group("/api/_admin", middleware...)

	admin.Get("/entities", h.ListEntities)
	admin.Get("/entities/:name", h.GetEntity)
	admin.Get("/relations", h.ListRelations)
	admin.Get("/endpoints", h.ListEndpoints)

	admin.Get("/cache", h.CacheStats)
	admin.Delete("/cache", h.PurgeCache)
}

func (h *Handler) ListEntities(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.registry.AllEntities()})
}

func (h *Handler) GetEntity(c *fiber.Ctx) error {
	name := c.Params("name")
	entity := h.registry.GetEntity(name)
	if entity == nil {
		return engine.NewAppError("NOT_FOUND", 404, "Entity not found: "+name)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"entity":    entity,
		"relations": h.registry.GetRelationsForSource(name),
	}})
}

func (h *Handler) ListRelations(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.registry.AllRelations()})
}

func (h *Handler) ListEndpoints(c *fiber.Ctx) error {
	endpoints := h.registry.AllEndpoints()
	out := make([]fiber.Map, 0, len(endpoints))
	for _, ep := range endpoints {
		out = append(out, fiber.Map{
			"name":     ep.Name,
			"route":    ep.Route,
			"entity":   ep.Entity,
			"sort":     ep.Sort,
			"per_page": ep.PerPage,
			"filtered": ep.Filter != nil,
		})
	}
	return c.JSON(fiber.Map{"data": out})
}

func (h *Handler) CacheStats(c *fiber.Ctx) error {
	if h.plans == nil {
		return c.JSON(fiber.Map{"data": fiber.Map{"enabled": false}})
	}
	hits, misses := h.plans.Stats()
	return c.JSON(fiber.Map{"data": fiber.Map{
		"enabled": true,
		"entries": h.plans.Len(),
		"hits":    hits,
		"misses":  misses,
	}})
}

func (h *Handler) PurgeCache(c *fiber.Ctx) error {
	if h.plans != nil {
		h.plans.Purge()
	}
	return c.SendStatus(fiber.StatusNoContent)
}
