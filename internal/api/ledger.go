package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

func (s *Server) getLedger(c *fiber.Ctx) error {
	l, err := s.deps.Engine.Ledger(c.UserContext(), currentUser(c))
	if err != nil {
		return err
	}
	return c.JSON(toLedgerJSON(l))
}

func (s *Server) ledgerSummary(c *fiber.Ctx) error {
	summary, err := s.deps.Engine.LedgerSummary(c.UserContext(), currentUser(c))
	if err != nil {
		return err
	}
	return c.JSON(toSummaryJSON(summary))
}

func (s *Server) rebuildLedger(c *fiber.Ctx) error {
	res, err := s.deps.Engine.RebuildLedger(c.UserContext(), currentUser(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"saved_before": res.SavedBefore,
		"saved_after":  res.SavedAfter,
		"backfilled":   len(res.Backfilled),
	})
}

type addExpenseRequest struct {
	Date  *time.Time      `json:"date"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

func (s *Server) addExpense(c *fiber.Ctx) error {
	var req addExpenseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	var date time.Time
	if req.Date != nil {
		date = *req.Date
	}

	item, err := s.deps.Engine.AddManualExpense(c.UserContext(), currentUser(c), req.Name, req.Price, date)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toExpenseJSON(item))
}

func (s *Server) deleteExpense(c *fiber.Ctx) error {
	if _, err := s.deps.Engine.DeleteExpense(c.UserContext(), currentUser(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
