package api

import (
	"errors"
	"io"

	"github.com/Veraticus/buyornot/internal/llm"
	"github.com/gofiber/fiber/v2"
)

// recognize reads a product photo from the "image" form field and returns the
// model's guess at its name and price.
func (s *Server) recognize(c *fiber.Ctx) error {
	if s.deps.Recognizer == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "image recognition is not configured")
	}

	header, err := c.FormFile("image")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "multipart field \"image\" is required")
	}
	f, err := header.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "could not read image")
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "could not read image")
	}

	mime := header.Header.Get("Content-Type")
	if mime == "application/octet-stream" {
		mime = ""
	}

	guess, err := llm.RecognizeProduct(c.UserContext(), s.deps.Recognizer, llm.Image{MIMEType: mime, Data: data})
	if errors.Is(err, llm.ErrNotRecognized) {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "no product recognized in image")
	}
	if err != nil {
		return err
	}

	body := fiber.Map{"product_name": guess.Name, "price": nil}
	if guess.Price != nil {
		body["price"] = guess.Price
	}
	return c.JSON(body)
}
