package browser

import (
	"fmt"
	"strings"
)

// Selector addresses elements by exactly one strategy: CSS, visible text, or ARIA role.
// HasText narrows the matches to elements containing the text, and Index picks one match.
type Selector struct {
	CSS     string
	Text    string
	Role    string
	Name    string
	HasText string
	Index   int
}

// CSS selects elements matching a CSS expression.
func CSS(expression string) Selector {
	return Selector{CSS: expression}
}

// Text selects the smallest elements whose text contains the given text.
func Text(text string) Selector {
	return Selector{Text: text}
}

// Role selects elements with an ARIA role and, when name is non-empty, a matching accessible name.
func Role(role string, name string) Selector {
	return Selector{Role: role, Name: name}
}

// WithText narrows the selector to elements containing the text.
func (selector Selector) WithText(text string) Selector {
	selector.HasText = text
	return selector
}

// Nth picks the zero-based match.
func (selector Selector) Nth(index int) Selector {
	selector.Index = index
	return selector
}

// Validate ensures exactly one strategy is set.
func (selector Selector) Validate() error {
	strategies := 0
	for _, strategy := range []string{selector.CSS, selector.Text, selector.Role} {
		if strings.TrimSpace(strategy) != "" {
			strategies++
		}
	}
	if strategies != 1 {
		return fmt.Errorf("%w: %s", ErrInvalidSelector, selector)
	}
	if selector.Index < 0 {
		return fmt.Errorf("%w: negative index %d", ErrInvalidSelector, selector.Index)
	}
	return nil
}

func (selector Selector) String() string {
	var builder strings.Builder
	switch {
	case selector.CSS != "":
		builder.WriteString(selector.CSS)
	case selector.Role != "":
		builder.WriteString("role=")
		builder.WriteString(selector.Role)
		if selector.Name != "" {
			fmt.Fprintf(&builder, "[name=%q]", selector.Name)
		}
	case selector.Text != "":
		fmt.Fprintf(&builder, "text=%q", selector.Text)
	default:
		builder.WriteString("<empty>")
	}
	if selector.HasText != "" {
		fmt.Fprintf(&builder, " >> has-text=%q", selector.HasText)
	}
	if selector.Index != 0 {
		fmt.Fprintf(&builder, " >> nth=%d", selector.Index)
	}
	return builder.String()
}
