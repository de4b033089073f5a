package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/shopspring/decimal"
)

const (
	unidentifiedProduct = "Failed to identify product"
	maxImageBytes       = 20 << 20
)

var (
	// ErrNotRecognized is returned when the model cannot tell what the photo shows.
	ErrNotRecognized = errors.New("product not recognized")
	// ErrInvalidImage marks empty, oversized or non-image uploads.
	ErrInvalidImage = fmt.Errorf("%w: invalid image", common.ErrInvalidInput)
)

// ProductGuess is what the model read off a product photo.
type ProductGuess struct {
	Price *decimal.Decimal // nil when no price was visible
	Name  string
}

const recognitionPrompt = `You are analyzing a product image. Extract the following information:

1. Product name: Identify what product or item is shown in the image. Keep the name SHORT (2-4 words). Use the brand name and product type only (for example "iPhone 15", "Nike Shoes", "Coffee Maker"). Leave out model numbers and specifications unless essential.
2. Price: If a price tag, label, sticker or other visible price text appears anywhere in the image, extract the numeric value without currency symbols or separators. Only extract it if you are confident.

Return ONLY a valid JSON object in this exact format, with no text before or after it:
{"productName": "short product name or 'Failed to identify product'", "price": number or null}

Rules:
- If you cannot clearly identify the product, set productName to "Failed to identify product"
- If no price is visible or you are uncertain, set price to null (not 0)
- The price must be a number, not a string
- Do not use markdown or code blocks`

// RecognizeProduct asks the model to name the product in a photo and read its
// price tag. An empty MIME type is sniffed from the data.
func RecognizeProduct(ctx context.Context, client Client, img Image) (ProductGuess, error) {
	if len(img.Data) == 0 {
		return ProductGuess{}, fmt.Errorf("%w: no image data", ErrInvalidImage)
	}
	if len(img.Data) > maxImageBytes {
		return ProductGuess{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidImage, len(img.Data), maxImageBytes)
	}
	if img.MIMEType == "" {
		img.MIMEType = http.DetectContentType(img.Data)
	}
	if !strings.HasPrefix(img.MIMEType, "image/") {
		return ProductGuess{}, fmt.Errorf("%w: unsupported content type %q", ErrInvalidImage, img.MIMEType)
	}

	reply, err := client.Send(ctx, Request{
		Prompt:    recognitionPrompt,
		Image:     &img,
		MaxTokens: 256,
	})
	if err != nil {
		return ProductGuess{}, fmt.Errorf("failed to recognize product: %w", err)
	}

	return parseProductGuess(reply)
}

func parseProductGuess(reply string) (ProductGuess, error) {
	text := extractJSONObject(cleanMarkdownWrapper(reply))

	var raw struct {
		ProductName string          `json:"productName"`
		Price       json.RawMessage `json:"price"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return ProductGuess{}, fmt.Errorf("failed to parse recognition result: %w", err)
	}

	name := strings.TrimSpace(raw.ProductName)
	if name == "" || strings.EqualFold(name, unidentifiedProduct) {
		return ProductGuess{}, ErrNotRecognized
	}

	return ProductGuess{Name: name, Price: parsePrice(raw.Price)}, nil
}

// parsePrice accepts a JSON number or a numeric string. Anything else,
// including negative amounts, means no price.
func parsePrice(raw json.RawMessage) *decimal.Decimal {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	s = strings.TrimLeft(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}

	price, err := decimal.NewFromString(s)
	if err != nil || price.IsNegative() {
		return nil
	}
	price = price.Round(2)
	return &price
}
