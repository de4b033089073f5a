package api

import (
	"github.com/Veraticus/buyornot/internal/engine"
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/Veraticus/buyornot/internal/service"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type createDecisionRequest struct {
	Title    string          `json:"title"`
	Category string          `json:"category"`
	Price    decimal.Decimal `json:"price"`
}

func (s *Server) createDecision(c *fiber.Ctx) error {
	var req createDecisionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	d, err := s.deps.Engine.ProposeDecision(c.UserContext(), currentUser(c), engine.Proposal{
		Title:    req.Title,
		Category: req.Category,
		Price:    req.Price,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toDecisionJSON(d))
}

func (s *Server) listDecisions(c *fiber.Ctx) error {
	filter := service.DecisionFilter{
		Limit:  c.QueryInt("limit", 0),
		Offset: c.QueryInt("offset", 0),
	}
	if raw := c.Query("status"); raw != "" {
		status, err := model.ParseDecisionStatus(raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		filter.Status = status
	}

	decisions, err := s.deps.Engine.ListDecisions(c.UserContext(), currentUser(c), filter)
	if err != nil {
		return err
	}
	out := make([]decisionJSON, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, toDecisionJSON(d))
	}
	return c.JSON(fiber.Map{"decisions": out})
}

func (s *Server) getDecision(c *fiber.Ctx) error {
	d, err := s.deps.Engine.GetDecision(c.UserContext(), currentUser(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toDecisionJSON(d))
}

type transitionRequest struct {
	Title    *string          `json:"title"`
	Category *string          `json:"category"`
	Price    *decimal.Decimal `json:"price"`
	Status   string           `json:"status"`
}

type transitionResponse struct {
	Decision decisionJSON    `json:"decision"`
	Saved    decimal.Decimal `json:"saved"`
	Spent    decimal.Decimal `json:"spent"`
	Changed  bool            `json:"changed"`
	Clamped  bool            `json:"clamped"`
}

func (s *Server) transitionDecision(c *fiber.Ctx) error {
	var req transitionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	status, err := model.ParseDecisionStatus(req.Status)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	res, err := s.deps.Engine.TransitionDecision(c.UserContext(), currentUser(c), c.Params("id"), status, engine.Edits{
		Title:    req.Title,
		Category: req.Category,
		Price:    req.Price,
	})
	if err != nil {
		return err
	}

	return c.JSON(transitionResponse{
		Decision: toDecisionJSON(res.Decision),
		Saved:    res.Ledger.Saved,
		Spent:    res.Ledger.Spent(),
		Changed:  res.Changed,
		Clamped:  res.Mutation.Clamped,
	})
}
