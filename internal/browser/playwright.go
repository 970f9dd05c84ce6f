package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

const (
	logEventPlaywrightCloseFailure = "playwright_close_failed"
	logEventPlaywrightStopFailure  = "playwright_stop_failed"
)

type playwrightBrowser struct {
	options LaunchOptions
	logger  *zap.Logger
	runtime *playwright.Playwright
	browser playwright.Browser
}

func launchPlaywright(ctx context.Context, options LaunchOptions, logger *zap.Logger) (Browser, error) {
	if callerErr := ctx.Err(); callerErr != nil {
		return nil, callerErr
	}
	runtime, runErr := playwright.Run()
	if runErr != nil {
		return nil, fmt.Errorf("start playwright: %w", runErr)
	}

	launchOptions := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(options.Headless),
	}
	if options.ExecutablePath != "" {
		launchOptions.ExecutablePath = playwright.String(options.ExecutablePath)
	}
	launched, launchErr := runtime.Chromium.Launch(launchOptions)
	if launchErr != nil {
		if stopErr := runtime.Stop(); stopErr != nil {
			logger.Debug(logEventPlaywrightStopFailure, zap.Error(stopErr))
		}
		return nil, fmt.Errorf("launch chromium: %w", launchErr)
	}

	return &playwrightBrowser{
		options: options,
		logger:  logger,
		runtime: runtime,
		browser: launched,
	}, nil
}

func (launched *playwrightBrowser) NewPage(ctx context.Context) (Page, error) {
	if callerErr := ctx.Err(); callerErr != nil {
		return nil, callerErr
	}
	browserContext, contextErr := launched.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  launched.options.ViewportWidth,
			Height: launched.options.ViewportHeight,
		},
	})
	if contextErr != nil {
		return nil, fmt.Errorf("new browser context: %w", contextErr)
	}
	page, pageErr := browserContext.NewPage()
	if pageErr != nil {
		if closeErr := browserContext.Close(); closeErr != nil {
			launched.logger.Debug(logEventPlaywrightCloseFailure, zap.Error(closeErr))
		}
		return nil, fmt.Errorf("new page: %w", pageErr)
	}
	return &playwrightPage{
		options:        launched.options,
		logger:         launched.logger,
		browserContext: browserContext,
		page:           page,
	}, nil
}

func (launched *playwrightBrowser) Close() error {
	closeErr := launched.browser.Close()
	stopErr := launched.runtime.Stop()
	return errors.Join(closeErr, stopErr)
}

type playwrightPage struct {
	options        LaunchOptions
	logger         *zap.Logger
	browserContext playwright.BrowserContext
	page           playwright.Page

	closeOnce sync.Once
	closeErr  error
}

// timeoutMilliseconds bounds a playwright call by the fallback and the caller's deadline.
func timeoutMilliseconds(ctx context.Context, fallback time.Duration) *float64 {
	timeout := fallback
	if deadline, hasDeadline := ctx.Deadline(); hasDeadline {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}
	return playwright.Float(float64(timeout.Milliseconds()))
}

func translatePlaywrightError(selector Selector, playwrightErr error) error {
	if playwrightErr == nil {
		return nil
	}
	if errors.Is(playwrightErr, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, selector, playwrightErr)
	}
	return fmt.Errorf("%s: %w", selector, playwrightErr)
}

// matches addresses every element the selector resolves to, ignoring its index.
func (page *playwrightPage) matches(selector Selector) (playwright.Locator, error) {
	if validationErr := selector.Validate(); validationErr != nil {
		return nil, validationErr
	}
	var located playwright.Locator
	switch {
	case selector.CSS != "":
		located = page.page.Locator(selector.CSS)
	case selector.Role != "":
		roleOptions := playwright.PageGetByRoleOptions{}
		if selector.Name != "" {
			roleOptions.Name = selector.Name
		}
		located = page.page.GetByRole(playwright.AriaRole(selector.Role), roleOptions)
	default:
		located = page.page.GetByText(selector.Text)
	}
	if selector.HasText != "" {
		located = located.Filter(playwright.LocatorFilterOptions{HasText: selector.HasText})
	}
	return located, nil
}

func (page *playwrightPage) locator(selector Selector) (playwright.Locator, error) {
	located, matchErr := page.matches(selector)
	if matchErr != nil {
		return nil, matchErr
	}
	return located.Nth(selector.Index), nil
}

func (page *playwrightPage) Navigate(ctx context.Context, targetURL string) error {
	if callerErr := ctx.Err(); callerErr != nil {
		return callerErr
	}
	_, gotoErr := page.page.Goto(targetURL, playwright.PageGotoOptions{
		Timeout: timeoutMilliseconds(ctx, page.options.NetworkIdleTimeout),
	})
	return gotoErr
}

func (page *playwrightPage) Title(ctx context.Context) (string, error) {
	if callerErr := ctx.Err(); callerErr != nil {
		return "", callerErr
	}
	return page.page.Title()
}

func (page *playwrightPage) URL(ctx context.Context) (string, error) {
	if callerErr := ctx.Err(); callerErr != nil {
		return "", callerErr
	}
	return page.page.URL(), nil
}

func (page *playwrightPage) WaitNetworkIdle(ctx context.Context) error {
	if callerErr := ctx.Err(); callerErr != nil {
		return callerErr
	}
	waitErr := page.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: timeoutMilliseconds(ctx, page.options.NetworkIdleTimeout),
	})
	if waitErr != nil && errors.Is(waitErr, playwright.ErrTimeout) {
		return fmt.Errorf("%w: network idle after %s", ErrTimeout, page.options.NetworkIdleTimeout)
	}
	return waitErr
}

func (page *playwrightPage) Fill(ctx context.Context, selector Selector, value string) error {
	located, locatorErr := page.locator(selector)
	if locatorErr != nil {
		return locatorErr
	}
	if callerErr := ctx.Err(); callerErr != nil {
		return callerErr
	}
	return translatePlaywrightError(selector, located.Fill(value, playwright.LocatorFillOptions{
		Timeout: timeoutMilliseconds(ctx, page.options.ActionTimeout),
	}))
}

func (page *playwrightPage) Click(ctx context.Context, selector Selector, options ClickOptions) error {
	located, locatorErr := page.locator(selector)
	if locatorErr != nil {
		return locatorErr
	}
	if callerErr := ctx.Err(); callerErr != nil {
		return callerErr
	}
	normalizedOptions := options.normalized()
	button := playwright.MouseButton(normalizedOptions.Button)
	clickOptions := playwright.LocatorClickOptions{
		Button:     &button,
		ClickCount: playwright.Int(normalizedOptions.ClickCount),
		Timeout:    timeoutMilliseconds(ctx, page.options.ActionTimeout),
	}
	for _, modifier := range normalizedOptions.Modifiers {
		clickOptions.Modifiers = append(clickOptions.Modifiers, playwright.KeyboardModifier(modifier))
	}
	if normalizedOptions.Position != nil {
		clickOptions.Position = &playwright.Position{X: normalizedOptions.Position.X, Y: normalizedOptions.Position.Y}
	}
	return translatePlaywrightError(selector, located.Click(clickOptions))
}

func (page *playwrightPage) waitFor(ctx context.Context, selector Selector, timeout time.Duration, state *playwright.WaitForSelectorState) error {
	located, locatorErr := page.locator(selector)
	if locatorErr != nil {
		return locatorErr
	}
	if callerErr := ctx.Err(); callerErr != nil {
		return callerErr
	}
	return translatePlaywrightError(selector, located.WaitFor(playwright.LocatorWaitForOptions{
		State:   state,
		Timeout: timeoutMilliseconds(ctx, timeout),
	}))
}

func (page *playwrightPage) WaitVisible(ctx context.Context, selector Selector, timeout time.Duration) error {
	return page.waitFor(ctx, selector, timeout, playwright.WaitForSelectorStateVisible)
}

func (page *playwrightPage) WaitHidden(ctx context.Context, selector Selector, timeout time.Duration) error {
	return page.waitFor(ctx, selector, timeout, playwright.WaitForSelectorStateHidden)
}

func (page *playwrightPage) IsVisible(ctx context.Context, selector Selector) (bool, error) {
	located, locatorErr := page.locator(selector)
	if locatorErr != nil {
		return false, locatorErr
	}
	if callerErr := ctx.Err(); callerErr != nil {
		return false, callerErr
	}
	visible, visibleErr := located.IsVisible()
	return visible, translatePlaywrightError(selector, visibleErr)
}

func (page *playwrightPage) Count(ctx context.Context, selector Selector) (int, error) {
	located, matchErr := page.matches(selector)
	if matchErr != nil {
		return 0, matchErr
	}
	if callerErr := ctx.Err(); callerErr != nil {
		return 0, callerErr
	}
	matched, countErr := located.Count()
	return matched, translatePlaywrightError(selector, countErr)
}

func (page *playwrightPage) BoundingBox(ctx context.Context, selector Selector) (BoundingBox, error) {
	located, locatorErr := page.locator(selector)
	if locatorErr != nil {
		return BoundingBox{}, locatorErr
	}
	if callerErr := ctx.Err(); callerErr != nil {
		return BoundingBox{}, callerErr
	}
	rect, boxErr := located.BoundingBox(playwright.LocatorBoundingBoxOptions{
		Timeout: timeoutMilliseconds(ctx, page.options.ActionTimeout),
	})
	if boxErr != nil {
		return BoundingBox{}, translatePlaywrightError(selector, boxErr)
	}
	if rect == nil {
		return BoundingBox{}, fmt.Errorf("%w: %s", ErrElementNotVisible, selector)
	}
	return BoundingBox{X: rect.X, Y: rect.Y, Width: rect.Width, Height: rect.Height}, nil
}

func (page *playwrightPage) Attribute(ctx context.Context, selector Selector, name string) (string, error) {
	located, locatorErr := page.locator(selector)
	if locatorErr != nil {
		return "", locatorErr
	}
	if callerErr := ctx.Err(); callerErr != nil {
		return "", callerErr
	}
	value, attributeErr := located.GetAttribute(name, playwright.LocatorGetAttributeOptions{
		Timeout: timeoutMilliseconds(ctx, page.options.ActionTimeout),
	})
	return value, translatePlaywrightError(selector, attributeErr)
}

func (page *playwrightPage) InnerText(ctx context.Context, selector Selector) (string, error) {
	located, locatorErr := page.locator(selector)
	if locatorErr != nil {
		return "", locatorErr
	}
	if callerErr := ctx.Err(); callerErr != nil {
		return "", callerErr
	}
	text, textErr := located.InnerText(playwright.LocatorInnerTextOptions{
		Timeout: timeoutMilliseconds(ctx, page.options.ActionTimeout),
	})
	return text, translatePlaywrightError(selector, textErr)
}

func (page *playwrightPage) ScrollIntoView(ctx context.Context, selector Selector) error {
	located, locatorErr := page.locator(selector)
	if locatorErr != nil {
		return locatorErr
	}
	if callerErr := ctx.Err(); callerErr != nil {
		return callerErr
	}
	return translatePlaywrightError(selector, located.ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{
		Timeout: timeoutMilliseconds(ctx, page.options.ActionTimeout),
	}))
}

func (page *playwrightPage) MouseMove(ctx context.Context, point Point) error {
	if callerErr := ctx.Err(); callerErr != nil {
		return callerErr
	}
	return page.page.Mouse().Move(point.X, point.Y)
}

// MouseClick holds the modifiers on the keyboard for the duration of the click.
func (page *playwrightPage) MouseClick(ctx context.Context, point Point, options ClickOptions) error {
	if callerErr := ctx.Err(); callerErr != nil {
		return callerErr
	}
	normalizedOptions := options.normalized()
	keyboard := page.page.Keyboard()
	pressed := make([]Modifier, 0, len(normalizedOptions.Modifiers))
	var clickErr error
	for _, modifier := range normalizedOptions.Modifiers {
		if clickErr = keyboard.Down(string(modifier)); clickErr != nil {
			break
		}
		pressed = append(pressed, modifier)
	}
	if clickErr == nil {
		button := playwright.MouseButton(normalizedOptions.Button)
		clickErr = page.page.Mouse().Click(point.X, point.Y, playwright.MouseClickOptions{
			Button:     &button,
			ClickCount: playwright.Int(normalizedOptions.ClickCount),
		})
	}
	for index := len(pressed) - 1; index >= 0; index-- {
		if releaseErr := keyboard.Up(string(pressed[index])); releaseErr != nil && clickErr == nil {
			clickErr = releaseErr
		}
	}
	return clickErr
}

func (page *playwrightPage) Sleep(ctx context.Context, duration time.Duration) error {
	return sleepContext(ctx, duration)
}

func (page *playwrightPage) Close() error {
	page.closeOnce.Do(func() {
		page.closeErr = page.browserContext.Close()
		if page.closeErr != nil {
			page.logger.Debug(logEventPlaywrightCloseFailure, zap.Error(page.closeErr))
		}
	})
	return page.closeErr
}
