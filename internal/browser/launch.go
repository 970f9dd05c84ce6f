package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/dashprobe/internal/config"
)

const (
	// DriverNameChromedp drives Chrome over the DevTools protocol with chromedp.
	DriverNameChromedp = "chromedp"
	// DriverNamePlaywright drives Chromium through the Playwright runtime.
	DriverNamePlaywright = "playwright"
	// DriverNameRod drives Chrome over the DevTools protocol with go-rod.
	DriverNameRod = "rod"

	defaultViewportWidth      = 1280
	defaultViewportHeight     = 720
	networkIdleQuietPeriod    = 500 * time.Millisecond
	elementPollInterval       = 100 * time.Millisecond
	logEventBrowserLaunched   = "browser_launched"
	logFieldDriver            = "driver"
	logFieldHeadless          = "headless"
	logFieldBrowserExecutable = "executable"
)

// LaunchOptions configure a browser process.
type LaunchOptions struct {
	DriverName         string
	Headless           bool
	ExecutablePath     string
	ViewportWidth      int
	ViewportHeight     int
	ActionTimeout      time.Duration
	NetworkIdleTimeout time.Duration
}

// LaunchOptionsFromConfig derives launch options from the harness configuration.
func LaunchOptionsFromConfig(configuration config.Config) LaunchOptions {
	return LaunchOptions{
		DriverName:         configuration.DriverName,
		Headless:           configuration.Headless,
		ExecutablePath:     configuration.BrowserExecutable,
		ActionTimeout:      configuration.ActionTimeout,
		NetworkIdleTimeout: configuration.NetworkIdleTimeout,
	}
}

func (options LaunchOptions) normalized() LaunchOptions {
	options.DriverName = strings.ToLower(strings.TrimSpace(options.DriverName))
	if options.DriverName == "" {
		options.DriverName = DriverNameChromedp
	}
	if options.ViewportWidth <= 0 {
		options.ViewportWidth = defaultViewportWidth
	}
	if options.ViewportHeight <= 0 {
		options.ViewportHeight = defaultViewportHeight
	}
	if options.ActionTimeout <= 0 {
		options.ActionTimeout = config.DefaultActionTimeout
	}
	if options.NetworkIdleTimeout <= 0 {
		options.NetworkIdleTimeout = config.DefaultNetworkIdleTimeout
	}
	return options
}

type launcherFunc func(context.Context, LaunchOptions, *zap.Logger) (Browser, error)

var launchers = map[string]launcherFunc{
	DriverNameChromedp:   launchChromedp,
	DriverNamePlaywright: launchPlaywright,
	DriverNameRod:        launchRod,
}

// Launch starts a browser with the driver named in the options.
func Launch(ctx context.Context, options LaunchOptions, logger *zap.Logger) (Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	normalizedOptions := options.normalized()

	launcher, driverSupported := launchers[normalizedOptions.DriverName]
	if !driverSupported {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, normalizedOptions.DriverName)
	}

	launchedBrowser, launchErr := launcher(ctx, normalizedOptions, logger)
	if launchErr != nil {
		return nil, fmt.Errorf("launch %s: %w", normalizedOptions.DriverName, launchErr)
	}

	logger.Info(logEventBrowserLaunched,
		zap.String(logFieldDriver, normalizedOptions.DriverName),
		zap.Bool(logFieldHeadless, normalizedOptions.Headless),
		zap.String(logFieldBrowserExecutable, normalizedOptions.ExecutablePath),
	)
	return launchedBrowser, nil
}

func sleepContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
