// Package llm provides chat model clients for the purchase assistant and for
// product recognition from photos. It supports OpenAI, Anthropic and Gemini,
// with retry logic and rate limiting shared across providers.
package llm
