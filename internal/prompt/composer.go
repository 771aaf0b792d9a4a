// Package prompt assembles generation prompts from ranked context documents.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/unipost/unipost/internal/ranking"
)

const defaultContextBudget = 6000

const promptTemplate = `Based on the context provided below, create a natural and engaging text about the topic: %q

CONTEXT:
%s

INSTRUCTIONS:
- Create an informative and well-structured text
- Use clear and objective language
- Keep a professional but accessible tone
- Incorporate information from the context naturally
- %s

TEXT:
`

// Composer builds bounded prompts for the LLM
type Composer struct {
	// ContextBudget caps the total characters of context included
	ContextBudget int
}

// NewComposer creates a composer with the given character budget for context.
// A non-positive budget falls back to the default.
func NewComposer(contextBudget int) *Composer {
	if contextBudget <= 0 {
		contextBudget = defaultContextBudget
	}
	return &Composer{ContextBudget: contextBudget}
}

// Compose formats the ranked documents and topic into a single prompt.
// Documents are included in rank order until the character budget is
// exhausted; duplicate content is included once. At least one document is
// required; callers must abort generation before reaching here otherwise.
func (c *Composer) Compose(topic, platform string, ranked []ranking.Ranked) (string, error) {
	if strings.TrimSpace(topic) == "" {
		return "", fmt.Errorf("prompt: empty topic")
	}
	if len(ranked) == 0 {
		return "", fmt.Errorf("prompt: no context documents")
	}

	instructions, ok := platformInstructions[platform]
	if !ok {
		instructions = platformInstructions[PlatformBlog]
	}

	context := c.formatContext(ranked)
	if context == "" {
		return "", fmt.Errorf("prompt: context documents are empty")
	}

	return fmt.Sprintf(promptTemplate, topic, context, instructions), nil
}

// formatContext joins documents as "**title**\ncontent" blocks separated by
// blank lines, skipping duplicates and stopping at the budget.
func (c *Composer) formatContext(ranked []ranking.Ranked) string {
	var b strings.Builder
	seen := make(map[string]struct{}, len(ranked))

	for _, r := range ranked {
		content := strings.TrimSpace(r.Doc.Content)
		if content == "" {
			continue
		}
		if _, dup := seen[content]; dup {
			continue
		}

		part := content
		if title := strings.TrimSpace(r.Doc.Title); title != "" {
			part = fmt.Sprintf("**%s**\n%s", title, content)
		}

		sep := 0
		if b.Len() > 0 {
			sep = 2 // "\n\n"
		}
		remaining := c.ContextBudget - b.Len() - sep
		if remaining <= 0 {
			break
		}
		if len(part) > remaining {
			// Partial document only if nothing fit yet; a truncated later
			// document adds noise without adding grounding
			if b.Len() > 0 {
				break
			}
			part = truncateRuneSafe(part, remaining)
		}

		if sep > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(part)
		seen[content] = struct{}{}
	}

	return b.String()
}

// truncateRuneSafe cuts s to at most n bytes without splitting a
// multi-byte rune.
func truncateRuneSafe(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
