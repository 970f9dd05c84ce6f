package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

const (
	rodBlankPageURL          = "about:blank"
	rodEvaluateFormat        = "() => (%s)"
	logEventRodCloseFailure  = "rod_close_failed"
	logEventRodBrowserLookup = "rod_browser_lookup"
)

var rodButtons = map[MouseButton]proto.InputMouseButton{
	MouseButtonLeft:   proto.InputMouseButtonLeft,
	MouseButtonRight:  proto.InputMouseButtonRight,
	MouseButtonMiddle: proto.InputMouseButtonMiddle,
}

var rodModifierKeys = map[Modifier]input.Key{
	ModifierShift:   input.ShiftLeft,
	ModifierControl: input.ControlLeft,
	ModifierAlt:     input.AltLeft,
	ModifierMeta:    input.MetaLeft,
}

// openRodPage opens the first tab of a fresh browser context.
var openRodPage = func(incognito *rod.Browser) (*rod.Page, error) {
	return incognito.Page(proto.TargetCreateTarget{URL: rodBlankPageURL})
}

type rodBrowser struct {
	options  LaunchOptions
	logger   *zap.Logger
	launcher *launcher.Launcher
	browser  *rod.Browser
}

func launchRod(ctx context.Context, options LaunchOptions, logger *zap.Logger) (Browser, error) {
	if callerErr := ctx.Err(); callerErr != nil {
		return nil, callerErr
	}
	browserLauncher := launcher.New().
		Headless(options.Headless).
		NoSandbox(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage")
	executablePath := options.ExecutablePath
	if executablePath == "" {
		if foundPath, found := launcher.LookPath(); found {
			executablePath = foundPath
		}
		logger.Debug(logEventRodBrowserLookup, zap.String(logFieldBrowserExecutable, executablePath))
	}
	if executablePath != "" {
		browserLauncher = browserLauncher.Bin(executablePath)
	}

	controlURL, launchErr := browserLauncher.Context(ctx).Launch()
	if launchErr != nil {
		browserLauncher.Cleanup()
		return nil, fmt.Errorf("launch browser process: %w", launchErr)
	}

	// The connection outlives the launch call.
	connected := rod.New().ControlURL(controlURL).Context(context.WithoutCancel(ctx))
	if connectErr := connected.Connect(); connectErr != nil {
		browserLauncher.Kill()
		browserLauncher.Cleanup()
		return nil, fmt.Errorf("connect to browser: %w", connectErr)
	}

	return &rodBrowser{
		options:  options,
		logger:   logger,
		launcher: browserLauncher,
		browser:  connected,
	}, nil
}

func (launched *rodBrowser) NewPage(ctx context.Context) (Page, error) {
	if callerErr := ctx.Err(); callerErr != nil {
		return nil, callerErr
	}
	incognito, incognitoErr := launched.browser.Incognito()
	if incognitoErr != nil {
		return nil, fmt.Errorf("new browser context: %w", incognitoErr)
	}
	page, pageErr := openRodPage(incognito)
	if pageErr != nil {
		launched.disposeContext(incognito)
		return nil, fmt.Errorf("new page: %w", pageErr)
	}
	viewportErr := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             launched.options.ViewportWidth,
		Height:            launched.options.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	})
	if viewportErr != nil {
		if closeErr := page.Close(); closeErr != nil {
			launched.logger.Debug(logEventRodCloseFailure, zap.Error(closeErr))
		}
		launched.disposeContext(incognito)
		return nil, fmt.Errorf("set viewport: %w", viewportErr)
	}
	return &rodPage{
		options:   launched.options,
		logger:    launched.logger,
		browser:   launched.browser,
		incognito: incognito,
		page:      page,
	}, nil
}

func (launched *rodBrowser) disposeContext(incognito *rod.Browser) {
	disposeErr := proto.TargetDisposeBrowserContext{BrowserContextID: incognito.BrowserContextID}.Call(launched.browser)
	if disposeErr != nil {
		launched.logger.Debug(logEventRodCloseFailure, zap.Error(disposeErr))
	}
}

func (launched *rodBrowser) Close() error {
	closeErr := launched.browser.Close()
	launched.launcher.Kill()
	launched.launcher.Cleanup()
	if closeErr != nil && !errors.Is(closeErr, context.Canceled) {
		return closeErr
	}
	return nil
}

type rodPage struct {
	options   LaunchOptions
	logger    *zap.Logger
	browser   *rod.Browser
	incognito *rod.Browser
	page      *rod.Page

	closeOnce sync.Once
	closeErr  error
}

func (page *rodPage) bound(ctx context.Context) *rod.Page {
	return page.page.Context(ctx)
}

func (page *rodPage) Navigate(ctx context.Context, targetURL string) error {
	if callerErr := ctx.Err(); callerErr != nil {
		return callerErr
	}
	loadContext, loadCancel := context.WithTimeout(ctx, page.options.NetworkIdleTimeout)
	defer loadCancel()
	bound := page.bound(loadContext)
	if navigateErr := bound.Navigate(targetURL); navigateErr != nil {
		return navigateErr
	}
	return bound.WaitLoad()
}

func (page *rodPage) Title(ctx context.Context) (string, error) {
	if callerErr := ctx.Err(); callerErr != nil {
		return "", callerErr
	}
	info, infoErr := page.bound(ctx).Info()
	if infoErr != nil {
		return "", infoErr
	}
	return info.Title, nil
}

func (page *rodPage) URL(ctx context.Context) (string, error) {
	if callerErr := ctx.Err(); callerErr != nil {
		return "", callerErr
	}
	info, infoErr := page.bound(ctx).Info()
	if infoErr != nil {
		return "", infoErr
	}
	return info.URL, nil
}

func (page *rodPage) WaitNetworkIdle(ctx context.Context) error {
	if callerErr := ctx.Err(); callerErr != nil {
		return callerErr
	}
	idleContext, idleCancel := context.WithTimeout(ctx, page.options.NetworkIdleTimeout)
	defer idleCancel()
	page.bound(idleContext).WaitRequestIdle(networkIdleQuietPeriod, nil, nil, nil)()
	if callerErr := ctx.Err(); callerErr != nil {
		return callerErr
	}
	if idleContext.Err() != nil {
		return fmt.Errorf("%w: network idle after %s", ErrTimeout, page.options.NetworkIdleTimeout)
	}
	return nil
}

func (page *rodPage) inspect(ctx context.Context, selector Selector, action string, attributeName string) (elementState, error) {
	if validationErr := selector.Validate(); validationErr != nil {
		return elementState{}, validationErr
	}
	if callerErr := ctx.Err(); callerErr != nil {
		return elementState{}, callerErr
	}
	script, scriptErr := buildElementScript(selector, action, attributeName)
	if scriptErr != nil {
		return elementState{}, scriptErr
	}
	result, evalErr := page.bound(ctx).Eval(fmt.Sprintf(rodEvaluateFormat, script))
	if evalErr != nil {
		return elementState{}, fmt.Errorf("evaluate %s: %w", selector, evalErr)
	}
	valueData, marshalErr := json.Marshal(result.Value)
	if marshalErr != nil {
		return elementState{}, marshalErr
	}
	var state elementState
	if unmarshalErr := json.Unmarshal(valueData, &state); unmarshalErr != nil {
		return elementState{}, unmarshalErr
	}
	return state, nil
}

func (page *rodPage) waitForState(ctx context.Context, selector Selector, timeout time.Duration, predicate func(elementState) bool) (elementState, error) {
	deadline := time.Now().Add(timeout)
	for {
		state, inspectErr := page.inspect(ctx, selector, elementActionInspect, "")
		if inspectErr != nil {
			return elementState{}, inspectErr
		}
		if predicate(state) {
			return state, nil
		}
		if time.Now().After(deadline) {
			return state, fmt.Errorf("%w: %s after %s", ErrTimeout, selector, timeout)
		}
		if sleepErr := sleepContext(ctx, elementPollInterval); sleepErr != nil {
			return state, sleepErr
		}
	}
}

func (page *rodPage) actionable(ctx context.Context, selector Selector, action string) (elementState, error) {
	if _, waitErr := page.waitForState(ctx, selector, page.options.ActionTimeout, func(state elementState) bool {
		return state.Visible
	}); waitErr != nil {
		return elementState{}, waitErr
	}
	state, inspectErr := page.inspect(ctx, selector, action, "")
	if inspectErr != nil {
		return elementState{}, inspectErr
	}
	if !state.Found {
		return elementState{}, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	if !state.Visible {
		return elementState{}, fmt.Errorf("%w: %s", ErrElementNotVisible, selector)
	}
	return state, nil
}

func (page *rodPage) Fill(ctx context.Context, selector Selector, value string) error {
	if _, focusErr := page.actionable(ctx, selector, elementActionFocus); focusErr != nil {
		return focusErr
	}
	return page.bound(ctx).InsertText(value)
}

func (page *rodPage) Click(ctx context.Context, selector Selector, options ClickOptions) error {
	state, actionableErr := page.actionable(ctx, selector, elementActionScroll)
	if actionableErr != nil {
		return actionableErr
	}
	box := state.boundingBox()
	target := box.Center()
	if options.Position != nil {
		target = box.Absolute(*options.Position)
	}
	return page.MouseClick(ctx, target, options)
}

func (page *rodPage) WaitVisible(ctx context.Context, selector Selector, timeout time.Duration) error {
	_, waitErr := page.waitForState(ctx, selector, timeout, func(state elementState) bool {
		return state.Visible
	})
	return waitErr
}

func (page *rodPage) WaitHidden(ctx context.Context, selector Selector, timeout time.Duration) error {
	_, waitErr := page.waitForState(ctx, selector, timeout, func(state elementState) bool {
		return !state.Visible
	})
	return waitErr
}

func (page *rodPage) IsVisible(ctx context.Context, selector Selector) (bool, error) {
	state, inspectErr := page.inspect(ctx, selector, elementActionInspect, "")
	return state.Visible, inspectErr
}

func (page *rodPage) Count(ctx context.Context, selector Selector) (int, error) {
	state, inspectErr := page.inspect(ctx, selector, elementActionInspect, "")
	return state.Count, inspectErr
}

func (page *rodPage) BoundingBox(ctx context.Context, selector Selector) (BoundingBox, error) {
	state, inspectErr := page.inspect(ctx, selector, elementActionInspect, "")
	if inspectErr != nil {
		return BoundingBox{}, inspectErr
	}
	if !state.Found {
		return BoundingBox{}, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return state.boundingBox(), nil
}

func (page *rodPage) Attribute(ctx context.Context, selector Selector, name string) (string, error) {
	state, inspectErr := page.inspect(ctx, selector, elementActionInspect, name)
	if inspectErr != nil {
		return "", inspectErr
	}
	if !state.Found {
		return "", fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return state.Attribute, nil
}

func (page *rodPage) InnerText(ctx context.Context, selector Selector) (string, error) {
	state, inspectErr := page.inspect(ctx, selector, elementActionInspect, "")
	if inspectErr != nil {
		return "", inspectErr
	}
	if !state.Found {
		return "", fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return state.Text, nil
}

func (page *rodPage) ScrollIntoView(ctx context.Context, selector Selector) error {
	state, inspectErr := page.inspect(ctx, selector, elementActionScroll, "")
	if inspectErr != nil {
		return inspectErr
	}
	if !state.Found {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return nil
}

func (page *rodPage) MouseMove(ctx context.Context, point Point) error {
	if callerErr := ctx.Err(); callerErr != nil {
		return callerErr
	}
	return page.bound(ctx).Mouse.MoveTo(proto.Point{X: point.X, Y: point.Y})
}

// MouseClick presses the modifier keys for the duration of the click; rod attaches the
// pressed modifiers to every mouse event it dispatches.
func (page *rodPage) MouseClick(ctx context.Context, point Point, options ClickOptions) error {
	if callerErr := ctx.Err(); callerErr != nil {
		return callerErr
	}
	normalizedOptions := options.normalized()
	bound := page.bound(ctx)
	if moveErr := bound.Mouse.MoveTo(proto.Point{X: point.X, Y: point.Y}); moveErr != nil {
		return moveErr
	}

	pressed := make([]input.Key, 0, len(normalizedOptions.Modifiers))
	var clickErr error
	for _, modifier := range normalizedOptions.Modifiers {
		key := rodModifierKeys[modifier]
		if clickErr = bound.Keyboard.Press(key); clickErr != nil {
			break
		}
		pressed = append(pressed, key)
	}
	for clickIndex := 1; clickErr == nil && clickIndex <= normalizedOptions.ClickCount; clickIndex++ {
		clickErr = bound.Mouse.Click(rodButtons[normalizedOptions.Button], clickIndex)
	}
	for index := len(pressed) - 1; index >= 0; index-- {
		if releaseErr := bound.Keyboard.Release(pressed[index]); releaseErr != nil && clickErr == nil {
			clickErr = releaseErr
		}
	}
	return clickErr
}

func (page *rodPage) Sleep(ctx context.Context, duration time.Duration) error {
	return sleepContext(ctx, duration)
}

func (page *rodPage) Close() error {
	page.closeOnce.Do(func() {
		closeErr := page.page.Close()
		disposeErr := proto.TargetDisposeBrowserContext{BrowserContextID: page.incognito.BrowserContextID}.Call(page.browser)
		page.closeErr = errors.Join(closeErr, disposeErr)
		if page.closeErr != nil {
			page.logger.Debug(logEventRodCloseFailure, zap.Error(page.closeErr))
		}
	})
	return page.closeErr
}
