package answer

import (
	"fmt"
	"strings"

	"github.com/docsage/docsage/pkg/domain"
	"github.com/docsage/docsage/pkg/registry"
)

const systemTemplate = `You are DocSage, an assistant answering questions about the documented platform components listed below.

Rules:
- Base factual claims only on the provided context. If the context does not cover the question, say so instead of guessing.
- When citing a repository, use only its canonical URL from the component list.
- For questions outside the platform's scope, reply: "That is outside the scope of this documentation. Please ask about the platform components."

Known components:
%s`

// buildPrompt assembles the full message list for one question. It is a pure
// function of the system template, the registry snapshot, the history
// snapshot, the retrieved context, and the question.
func buildPrompt(reg *registry.Registry, history []domain.ChatMessage, contextText, question string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+2)
	messages = append(messages, domain.ChatMessage{
		Role:    "system",
		Content: fmt.Sprintf(systemTemplate, componentList(reg)),
	})
	messages = append(messages, history...)

	var final strings.Builder
	if contextText != "" {
		final.WriteString("Context:\n")
		final.WriteString(contextText)
		final.WriteString("\n\n")
	}
	final.WriteString("Question: ")
	final.WriteString(question)
	messages = append(messages, domain.ChatMessage{Role: "user", Content: final.String()})
	return messages
}

func componentList(reg *registry.Registry) string {
	components := reg.Components()
	if len(components) == 0 {
		return "(none configured)"
	}
	var b strings.Builder
	for _, name := range components {
		fmt.Fprintf(&b, "- %s: %s\n", name, reg.CanonicalURL(name))
	}
	return strings.TrimRight(b.String(), "\n")
}
