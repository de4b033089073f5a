package api

import (
	"encoding/base64"
	"strings"

	"github.com/Veraticus/buyornot/internal/assistant"
	"github.com/Veraticus/buyornot/internal/llm"
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/gofiber/fiber/v2"
)

func (s *Server) decisionContext(c *fiber.Ctx) error {
	userID := currentUser(c)
	d, err := s.deps.Engine.GetDecision(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return err
	}

	var recent []model.ChatMessage
	if conv, err := s.deps.Conversations.LoadConversation(c.UserContext(), userID, d.ID); err == nil && conv != nil {
		recent = conv.Messages
	}

	bundle, err := s.deps.Context.RetrieveContext(c.UserContext(), d, recent, userID)
	if err != nil {
		return err
	}

	prompt := ""
	if s.deps.Assembler != nil {
		if prompt, err = s.deps.Assembler.Render(bundle); err != nil {
			return err
		}
	}
	return c.JSON(toContextJSON(bundle, prompt))
}

func (s *Server) getConversation(c *fiber.Ctx) error {
	conv, err := s.deps.Conversations.LoadConversation(c.UserContext(), currentUser(c), c.Params("id"))
	if err != nil {
		return err
	}
	if conv == nil {
		return c.JSON(fiber.Map{"messages": []messageJSON{}, "active": false})
	}
	return c.JSON(fiber.Map{"messages": toMessagesJSON(conv.Messages), "active": conv.IsActive})
}

type finalizeRequest struct {
	Messages []messageJSON `json:"messages"`
}

// finalizeConversation queues the conversation for embedding. Without a
// message list in the body the stored thread is used.
func (s *Server) finalizeConversation(c *fiber.Ctx) error {
	userID := currentUser(c)
	d, err := s.deps.Engine.GetDecision(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return err
	}

	var req finalizeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
	}

	messages := fromMessagesJSON(req.Messages)
	if req.Messages == nil {
		conv, err := s.deps.Conversations.LoadConversation(c.UserContext(), userID, d.ID)
		if err != nil {
			return err
		}
		if conv != nil {
			messages = conv.Messages
		}
	}

	if err := s.deps.Context.RecordFinalizedConversation(c.UserContext(), d.ID, messages, d, userID); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "queued", "messages": len(messages)})
}

type chatRequest struct {
	Message       string `json:"message"`
	ImageBase64   string `json:"image_base64"`
	ImageMIMEType string `json:"image_mime_type"`
}

func (s *Server) chat(c *fiber.Ctx) error {
	if s.deps.Assistant == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "assistant is not configured")
	}

	var req chatRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	userID := currentUser(c)
	d, err := s.deps.Engine.GetDecision(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return err
	}

	in := assistant.TurnInput{UserID: userID, Decision: d, Message: req.Message}
	if req.ImageBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "image_base64 is not valid base64")
		}
		mime := strings.TrimSpace(req.ImageMIMEType)
		if mime == "" {
			mime = "image/jpeg"
		}
		in.Image = &llm.Image{MIMEType: mime, Data: data}
	}

	reply, err := s.deps.Assistant.Turn(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"reply":    reply.Text,
		"messages": toMessagesJSON(reply.Messages),
		"similar":  len(reply.Context.Similar),
	})
}
