// Package superset drives the dashboard application through its rendered pages.
package superset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/dashprobe/internal/browser"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/config"
)

const (
	// ApplicationTitle is the document title every application page carries.
	ApplicationTitle = "Superset"

	alternativeMessageTimeout = 2 * time.Second

	errorMessageDashboardNotFound  = "superset: dashboard not found"
	errorMessageUnexpectedPage     = "superset: unexpected page"
	errorMessageConnectionFailed   = "superset: database connection not created"
	errorMessageDatasetFailed      = "superset: dataset not created"
	errorMessageDeletionIncomplete = "superset: deletion incomplete"
	errorMessageInvalidChartClick  = "superset: invalid chart click"

	wrappedStepErrorFormat = "%s: %w"
)

var (
	// ErrDashboardNotFound indicates the dashboard list was exhausted without a match.
	ErrDashboardNotFound = errors.New(errorMessageDashboardNotFound)
	// ErrUnexpectedPage indicates a list page without the expected title or header.
	ErrUnexpectedPage = errors.New(errorMessageUnexpectedPage)
	// ErrConnectionFailed indicates the database connection flow did not confirm success.
	ErrConnectionFailed = errors.New(errorMessageConnectionFailed)
	// ErrDatasetFailed indicates the dataset flow did not confirm success.
	ErrDatasetFailed = errors.New(errorMessageDatasetFailed)
	// ErrDeletionIncomplete indicates deleted rows are still listed.
	ErrDeletionIncomplete = errors.New(errorMessageDeletionIncomplete)
	// ErrInvalidChartClick indicates a chart click without a chart.
	ErrInvalidChartClick = errors.New(errorMessageInvalidChartClick)
)

// Workflows runs multi-step interactions against one application deployment.
type Workflows struct {
	configuration config.Config
	logger        *zap.Logger
}

// New returns workflows bound to the configuration.
func New(configuration config.Config, logger *zap.Logger) *Workflows {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflows{configuration: configuration, logger: logger}
}

// open navigates to an application path and waits until the network settles.
func (workflows *Workflows) open(ctx context.Context, page browser.Page, relativePath string) error {
	targetURL := workflows.configuration.ResolveURL(relativePath)
	if navigateErr := page.Navigate(ctx, targetURL); navigateErr != nil {
		return fmt.Errorf("navigate to %s: %w", targetURL, navigateErr)
	}
	return settle(ctx, page)
}

func settle(ctx context.Context, page browser.Page) error {
	if idleErr := page.WaitNetworkIdle(ctx); idleErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "wait for network idle", idleErr)
	}
	return nil
}

// clickVisible waits for the element, clicks it, and lets the network settle.
func (workflows *Workflows) clickVisible(ctx context.Context, page browser.Page, selector browser.Selector) error {
	if waitErr := page.WaitVisible(ctx, selector, workflows.configuration.ActionTimeout); waitErr != nil {
		return waitErr
	}
	if clickErr := page.Click(ctx, selector, browser.ClickOptions{}); clickErr != nil {
		return clickErr
	}
	return settle(ctx, page)
}

// visibleWithin reports whether the element shows up within the timeout.
func visibleWithin(ctx context.Context, page browser.Page, selector browser.Selector, timeout time.Duration) (bool, error) {
	waitErr := page.WaitVisible(ctx, selector, timeout)
	switch {
	case waitErr == nil:
		return true, nil
	case errors.Is(waitErr, browser.ErrTimeout):
		return false, nil
	default:
		return false, waitErr
	}
}
