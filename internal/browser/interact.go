package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Outcome reports how EnsureInteractable reached the element.
type Outcome int

const (
	// OutcomeActed means the element was interactable on the first attempt.
	OutcomeActed Outcome = iota + 1
	// OutcomeActedAfterScroll means the element needed a scroll into view before the action succeeded.
	OutcomeActedAfterScroll
)

func (outcome Outcome) String() string {
	switch outcome {
	case OutcomeActed:
		return "acted"
	case OutcomeActedAfterScroll:
		return "acted_after_scroll"
	default:
		return "none"
	}
}

// Action is the interaction performed once the element is ready.
type Action func(ctx context.Context) error

// ClickAction clicks the selector with the given options.
func ClickAction(page Page, selector Selector, options ClickOptions) Action {
	return func(ctx context.Context) error {
		return page.Click(ctx, selector, options)
	}
}

// EnsureInteractable waits up to timeout for the element to become visible and runs the action.
// When the element is not ready or the action reports it as unreachable, the element is scrolled
// into view, awaited again with the page's own waits, and the action is retried exactly once.
func EnsureInteractable(ctx context.Context, page Page, selector Selector, timeout time.Duration, action Action) (Outcome, error) {
	if validationErr := selector.Validate(); validationErr != nil {
		return 0, validationErr
	}
	firstErr := page.WaitVisible(ctx, selector, timeout)
	if firstErr == nil {
		firstErr = action(ctx)
		if firstErr == nil {
			return OutcomeActed, nil
		}
	}
	if !isInteractionFailure(firstErr) {
		return 0, firstErr
	}

	if scrollErr := page.ScrollIntoView(ctx, selector); scrollErr != nil {
		return 0, fmt.Errorf("scroll %s into view after %v: %w", selector, firstErr, scrollErr)
	}
	if waitErr := page.WaitVisible(ctx, selector, timeout); waitErr != nil {
		return 0, waitErr
	}
	if actionErr := action(ctx); actionErr != nil {
		return 0, actionErr
	}
	return OutcomeActedAfterScroll, nil
}

func isInteractionFailure(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrElementNotVisible) || errors.Is(err, ErrElementNotFound)
}
