package testutil

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/dashprobe/internal/browser"
)

const (
	// EnvironmentKeyChromedpBrowser overrides the browser binary for headless tests.
	EnvironmentKeyChromedpBrowser = "CHROMEDP_BROWSER"
	// EnvironmentKeyChromePath overrides the browser binary for headless tests.
	EnvironmentKeyChromePath = "CHROME_PATH"

	headlessBrowserSkipReason     = "headless browser not available"
	headlessBrowserSkipFormat     = "%s: %v"
	headlessBrowserStartupTimeout = 30 * time.Second
	headlessBrowserCloseFormat    = "close headless browser: %v"
)

var errHeadlessBrowserNotFound = errors.New("headless browser executable not found")

var headlessBrowserExecutableNames = []string{
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"chrome",
	"headless-shell",
}

var headlessBrowserLookupCache struct {
	once sync.Once
	path string
	err  error
}

// LocateHeadlessBrowser returns the browser binary named by the environment, found on PATH, or
// known to the rod launcher.
func LocateHeadlessBrowser() (string, error) {
	headlessBrowserLookupCache.once.Do(func() {
		headlessBrowserLookupCache.path, headlessBrowserLookupCache.err = discoverHeadlessBrowserExecutable()
	})
	return headlessBrowserLookupCache.path, headlessBrowserLookupCache.err
}

func discoverHeadlessBrowserExecutable() (string, error) {
	for _, environmentVariableName := range []string{EnvironmentKeyChromedpBrowser, EnvironmentKeyChromePath} {
		if environmentValue := strings.TrimSpace(os.Getenv(environmentVariableName)); environmentValue != "" {
			return environmentValue, nil
		}
	}
	for _, executableName := range headlessBrowserExecutableNames {
		if executablePath, lookupErr := exec.LookPath(executableName); lookupErr == nil {
			return executablePath, nil
		}
	}
	if executablePath, found := launcher.LookPath(); found {
		return executablePath, nil
	}
	return "", errHeadlessBrowserNotFound
}

// LaunchHeadlessBrowser starts a headless browser with the named driver and closes it on cleanup.
// The test is skipped when no browser can be located or started.
func LaunchHeadlessBrowser(testingT testing.TB, driverName string, logger *zap.Logger) browser.Browser {
	testingT.Helper()
	if testing.Short() {
		testingT.Skip("headless browser tests are skipped in short mode")
	}

	executablePath, locateErr := LocateHeadlessBrowser()
	if locateErr != nil && driverName != browser.DriverNamePlaywright {
		testingT.Skipf(headlessBrowserSkipFormat, headlessBrowserSkipReason, locateErr)
	}

	startupContext, cancelStartup := context.WithTimeout(context.Background(), headlessBrowserStartupTimeout)
	defer cancelStartup()
	launchedBrowser, launchErr := browser.Launch(startupContext, browser.LaunchOptions{
		DriverName:     driverName,
		Headless:       true,
		ExecutablePath: executablePath,
	}, logger)
	if launchErr != nil {
		testingT.Skipf(headlessBrowserSkipFormat, headlessBrowserSkipReason, launchErr)
	}
	testingT.Cleanup(func() {
		if closeErr := launchedBrowser.Close(); closeErr != nil {
			testingT.Logf(headlessBrowserCloseFormat, closeErr)
		}
	})
	return launchedBrowser
}
