package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	chromedpFlagHeadless         = "headless"
	chromedpFlagDisableGPU       = "disable-gpu"
	chromedpFlagNoSandbox        = "no-sandbox"
	chromedpFlagDisableDevShm    = "disable-dev-shm-usage"
	chromedpShutdownTimeout      = 5 * time.Second
	logEventChromedpCloseFailure = "chromedp_close_failed"
)

var chromedpModifiers = map[Modifier]input.Modifier{
	ModifierShift:   input.ModifierShift,
	ModifierControl: input.ModifierCtrl,
	ModifierAlt:     input.ModifierAlt,
	ModifierMeta:    input.ModifierMeta,
}

var chromedpButtons = map[MouseButton]input.MouseButton{
	MouseButtonLeft:   input.Left,
	MouseButtonRight:  input.Right,
	MouseButtonMiddle: input.Middle,
}

type chromedpBrowser struct {
	options         LaunchOptions
	logger          *zap.Logger
	browserContext  context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc
}

func launchChromedp(ctx context.Context, options LaunchOptions, logger *zap.Logger) (Browser, error) {
	allocatorOptions := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag(chromedpFlagHeadless, options.Headless),
		chromedp.Flag(chromedpFlagDisableGPU, true),
		chromedp.Flag(chromedpFlagNoSandbox, true),
		chromedp.Flag(chromedpFlagDisableDevShm, true),
		chromedp.WindowSize(options.ViewportWidth, options.ViewportHeight),
	)
	if options.ExecutablePath != "" {
		allocatorOptions = append(allocatorOptions, chromedp.ExecPath(options.ExecutablePath))
	}

	if callerErr := ctx.Err(); callerErr != nil {
		return nil, callerErr
	}
	// The browser outlives the launch call, so only the values of ctx are inherited.
	allocatorContext, allocatorCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocatorOptions...)
	browserContext, browserCancel := chromedp.NewContext(allocatorContext)

	// The first Run allocates the browser; a derived context here would bound its lifetime.
	if startErr := chromedp.Run(browserContext); startErr != nil {
		browserCancel()
		allocatorCancel()
		return nil, startErr
	}

	return &chromedpBrowser{
		options:         options,
		logger:          logger,
		browserContext:  browserContext,
		browserCancel:   browserCancel,
		allocatorCancel: allocatorCancel,
	}, nil
}

func (launched *chromedpBrowser) NewPage(ctx context.Context) (Page, error) {
	pageContext, pageCancel := chromedp.NewContext(launched.browserContext, chromedp.WithNewBrowserContext())

	page := &chromedpPage{
		options:     launched.options,
		logger:      launched.logger,
		context:     pageContext,
		cancel:      pageCancel,
		inFlight:    make(map[network.RequestID]struct{}),
		lastChanged: time.Now(),
	}
	chromedp.ListenTarget(pageContext, page.observeNetwork)

	if callerErr := ctx.Err(); callerErr != nil {
		pageCancel()
		return nil, callerErr
	}
	if enableErr := chromedp.Run(pageContext, network.Enable()); enableErr != nil {
		pageCancel()
		return nil, enableErr
	}
	return page, nil
}

func (launched *chromedpBrowser) Close() error {
	shutdownContext, shutdownCancel := context.WithTimeout(launched.browserContext, chromedpShutdownTimeout)
	defer shutdownCancel()
	closeErr := chromedp.Cancel(shutdownContext)
	launched.browserCancel()
	launched.allocatorCancel()
	return closeErr
}

type chromedpPage struct {
	options LaunchOptions
	logger  *zap.Logger
	context context.Context
	cancel  context.CancelFunc

	networkMutex sync.Mutex
	inFlight     map[network.RequestID]struct{}
	lastChanged  time.Time

	closeOnce sync.Once
	closeErr  error
}

func (page *chromedpPage) observeNetwork(event interface{}) {
	page.networkMutex.Lock()
	defer page.networkMutex.Unlock()
	switch typedEvent := event.(type) {
	case *network.EventRequestWillBeSent:
		page.inFlight[typedEvent.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		delete(page.inFlight, typedEvent.RequestID)
	case *network.EventLoadingFailed:
		delete(page.inFlight, typedEvent.RequestID)
	default:
		return
	}
	page.lastChanged = time.Now()
}

func (page *chromedpPage) networkQuiet() bool {
	page.networkMutex.Lock()
	defer page.networkMutex.Unlock()
	return len(page.inFlight) == 0 && time.Since(page.lastChanged) >= networkIdleQuietPeriod
}

func (page *chromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	return runWithCaller(ctx, page.context, func(runContext context.Context) error {
		return chromedp.Run(runContext, actions...)
	})
}

func (page *chromedpPage) Navigate(ctx context.Context, targetURL string) error {
	return page.run(ctx, chromedp.Navigate(targetURL))
}

func (page *chromedpPage) Title(ctx context.Context) (string, error) {
	var title string
	if runErr := page.run(ctx, chromedp.Title(&title)); runErr != nil {
		return "", runErr
	}
	return title, nil
}

func (page *chromedpPage) URL(ctx context.Context) (string, error) {
	var location string
	if runErr := page.run(ctx, chromedp.Location(&location)); runErr != nil {
		return "", runErr
	}
	return location, nil
}

func (page *chromedpPage) WaitNetworkIdle(ctx context.Context) error {
	deadline := time.Now().Add(page.options.NetworkIdleTimeout)
	for !page.networkQuiet() {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: network idle after %s", ErrTimeout, page.options.NetworkIdleTimeout)
		}
		if sleepErr := sleepContext(ctx, elementPollInterval); sleepErr != nil {
			return sleepErr
		}
	}
	return nil
}

func (page *chromedpPage) inspect(ctx context.Context, selector Selector, action string, attributeName string) (elementState, error) {
	if validationErr := selector.Validate(); validationErr != nil {
		return elementState{}, validationErr
	}
	script, scriptErr := buildElementScript(selector, action, attributeName)
	if scriptErr != nil {
		return elementState{}, scriptErr
	}
	var state elementState
	if runErr := page.run(ctx, chromedp.Evaluate(script, &state)); runErr != nil {
		return elementState{}, fmt.Errorf("evaluate %s: %w", selector, runErr)
	}
	return state, nil
}

// waitForState polls the element until the predicate holds or the timeout expires.
func (page *chromedpPage) waitForState(ctx context.Context, selector Selector, timeout time.Duration, predicate func(elementState) bool) (elementState, error) {
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

func (page *chromedpPage) actionable(ctx context.Context, selector Selector, action string) (elementState, error) {
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

func (page *chromedpPage) Fill(ctx context.Context, selector Selector, value string) error {
	if _, focusErr := page.actionable(ctx, selector, elementActionFocus); focusErr != nil {
		return focusErr
	}
	return page.run(ctx, input.InsertText(value))
}

func (page *chromedpPage) Click(ctx context.Context, selector Selector, options ClickOptions) error {
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

func (page *chromedpPage) WaitVisible(ctx context.Context, selector Selector, timeout time.Duration) error {
	_, waitErr := page.waitForState(ctx, selector, timeout, func(state elementState) bool {
		return state.Visible
	})
	return waitErr
}

func (page *chromedpPage) WaitHidden(ctx context.Context, selector Selector, timeout time.Duration) error {
	_, waitErr := page.waitForState(ctx, selector, timeout, func(state elementState) bool {
		return !state.Visible
	})
	return waitErr
}

func (page *chromedpPage) IsVisible(ctx context.Context, selector Selector) (bool, error) {
	state, inspectErr := page.inspect(ctx, selector, elementActionInspect, "")
	if inspectErr != nil {
		return false, inspectErr
	}
	return state.Visible, nil
}

func (page *chromedpPage) Count(ctx context.Context, selector Selector) (int, error) {
	state, inspectErr := page.inspect(ctx, selector, elementActionInspect, "")
	if inspectErr != nil {
		return 0, inspectErr
	}
	return state.Count, nil
}

func (page *chromedpPage) BoundingBox(ctx context.Context, selector Selector) (BoundingBox, error) {
	state, inspectErr := page.inspect(ctx, selector, elementActionInspect, "")
	if inspectErr != nil {
		return BoundingBox{}, inspectErr
	}
	if !state.Found {
		return BoundingBox{}, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return state.boundingBox(), nil
}

func (page *chromedpPage) Attribute(ctx context.Context, selector Selector, name string) (string, error) {
	state, inspectErr := page.inspect(ctx, selector, elementActionInspect, name)
	if inspectErr != nil {
		return "", inspectErr
	}
	if !state.Found {
		return "", fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return state.Attribute, nil
}

func (page *chromedpPage) InnerText(ctx context.Context, selector Selector) (string, error) {
	state, inspectErr := page.inspect(ctx, selector, elementActionInspect, "")
	if inspectErr != nil {
		return "", inspectErr
	}
	if !state.Found {
		return "", fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return state.Text, nil
}

func (page *chromedpPage) ScrollIntoView(ctx context.Context, selector Selector) error {
	state, inspectErr := page.inspect(ctx, selector, elementActionScroll, "")
	if inspectErr != nil {
		return inspectErr
	}
	if !state.Found {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return nil
}

func (page *chromedpPage) MouseMove(ctx context.Context, point Point) error {
	return page.run(ctx, chromedp.MouseEvent(input.MouseMoved, point.X, point.Y))
}

// MouseClick sends one press/release pair per click so that repeated clicks register as
// separate click events, each carrying its running click count.
func (page *chromedpPage) MouseClick(ctx context.Context, point Point, options ClickOptions) error {
	normalizedOptions := options.normalized()
	mouseOptions := []chromedp.MouseOption{chromedp.ButtonType(chromedpButtons[normalizedOptions.Button])}
	if len(normalizedOptions.Modifiers) > 0 {
		modifiers := make([]input.Modifier, 0, len(normalizedOptions.Modifiers))
		for _, modifier := range normalizedOptions.Modifiers {
			modifiers = append(modifiers, chromedpModifiers[modifier])
		}
		mouseOptions = append(mouseOptions, chromedp.ButtonModifiers(modifiers...))
	}

	actions := make([]chromedp.Action, 0, normalizedOptions.ClickCount)
	for clickIndex := 1; clickIndex <= normalizedOptions.ClickCount; clickIndex++ {
		clickOptions := append(append([]chromedp.MouseOption{}, mouseOptions...), chromedp.ClickCount(clickIndex))
		actions = append(actions, chromedp.MouseClickXY(point.X, point.Y, clickOptions...))
	}
	return page.run(ctx, actions...)
}

func (page *chromedpPage) Sleep(ctx context.Context, duration time.Duration) error {
	return sleepContext(ctx, duration)
}

func (page *chromedpPage) Close() error {
	page.closeOnce.Do(func() {
		shutdownContext, shutdownCancel := context.WithTimeout(page.context, chromedpShutdownTimeout)
		defer shutdownCancel()
		page.closeErr = chromedp.Cancel(shutdownContext)
		page.cancel()
		if page.closeErr != nil {
			page.logger.Debug(logEventChromedpCloseFailure, zap.Error(page.closeErr))
		}
	})
	return page.closeErr
}

// runWithCaller runs an operation in a context derived from the chromedp context that also honors
// the caller's deadline and cancellation.
func runWithCaller(callerContext context.Context, chromedpContext context.Context, operation func(context.Context) error) error {
	if callerErr := callerContext.Err(); callerErr != nil {
		return callerErr
	}
	runContext, runCancel := context.WithCancel(chromedpContext)
	defer runCancel()
	if deadline, hasDeadline := callerContext.Deadline(); hasDeadline {
		var deadlineCancel context.CancelFunc
		runContext, deadlineCancel = context.WithDeadline(runContext, deadline)
		defer deadlineCancel()
	}
	stopPropagation := context.AfterFunc(callerContext, runCancel)
	defer stopPropagation()

	operationErr := operation(runContext)
	if operationErr != nil && callerContext.Err() != nil {
		return callerContext.Err()
	}
	return operationErr
}
