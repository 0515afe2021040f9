package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/silencealoe/data-clean-tool/internal/domain"
)

type ruleConfigRequest struct {
	Configuration domain.RuleConfiguration `json:"configuration"`
	Description   string                   `json:"description"`
}

// handleRuleConfigCurrent answers GET /api/rule-config/current.
func (a *App) handleRuleConfigCurrent(c *fiber.Ctx) error {
	cfg := a.Store.Get()
	if cfg == nil {
		return c.JSON(fiber.Map{"success": false, "message": "no active configuration"})
	}
	return c.JSON(fiber.Map{"success": true, "configuration": cfg})
}

// handleRuleConfigUpdate answers PUT /api/rule-config/update.
func (a *App) handleRuleConfigUpdate(c *fiber.Ctx) error {
	var req ruleConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid request body: " + err.Error()})
	}
	if err := a.Store.Update(&req.Configuration, req.Description); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "configuration": a.Store.Get()})
}

// handleRuleConfigReload answers POST /api/rule-config/reload.
func (a *App) handleRuleConfigReload(c *fiber.Ctx) error {
	if err := a.Store.Reload(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "configuration": a.Store.Get()})
}

// handleRuleConfigHistory answers GET /api/rule-config/history?limit=.
func (a *App) handleRuleConfigHistory(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	history := a.Store.History(limit)
	return c.JSON(fiber.Map{"history": history, "total": len(history)})
}

// handleRuleConfigStats answers GET /api/rule-config/stats.
func (a *App) handleRuleConfigStats(c *fiber.Ctx) error {
	return c.JSON(a.Store.StatsSnapshot())
}
