package rag

import (
	"strings"

	"github.com/Veraticus/buyornot/internal/model"
)

var (
	skipPhrases = []string{"not buy", "don't buy", "dont buy", "skip"}
	buyPhrases  = []string{"buy", "purchase"}
)

// Summarize describes the outcome of a conversation in one line. It looks for
// an explicit decision in the last three messages, newest first. Skip phrases
// are checked before buy phrases because "don't buy" contains "buy".
func Summarize(decision model.Decision, messages []model.ChatMessage) string {
	label := decision.Label()

	start := max(len(messages)-3, 0)
	for i := len(messages) - 1; i >= start; i-- {
		text := strings.ToLower(messages[i].Text)
		if containsAny(text, skipPhrases) {
			return "Decided to skip " + label
		}
		if containsAny(text, buyPhrases) {
			return "Decided to buy " + label
		}
	}

	return "Discussed " + label
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
