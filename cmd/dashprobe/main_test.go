package main_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	dashprobecmd "github.com/MarkoPoloResearchLab/dashprobe/cmd/dashprobe"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/browser"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/browser/browsertest"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/config"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/probe"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/session"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/superset"
)

const (
	testApplicationURL     = "http://superset.test:8088/"
	testLandingURL         = "http://superset.test:8088/superset/welcome/"
	testMissingFlagMessage = "missing required configuration"
	testUsagePrefix        = "Usage:"
	testDashboardName      = "Test FILTER JS"
	testChartContainer     = "#chart-id-1314"
)

var errLaunchRefused = errors.New("launch refused")

type launchRecorder struct {
	mutex    sync.Mutex
	options  []browser.LaunchOptions
	launched browser.Browser
	err      error
}

func (recorder *launchRecorder) launch(_ context.Context, options browser.LaunchOptions, _ *zap.Logger) (browser.Browser, error) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.options = append(recorder.options, options)
	if recorder.err != nil {
		return nil, recorder.err
	}
	return recorder.launched, nil
}

func (recorder *launchRecorder) launchCount() int {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return len(recorder.options)
}

func scriptedLoginPage() *browsertest.Page {
	page := browsertest.NewPage()
	page.OnNavigate = func(scripted *browsertest.Page, _ string) error {
		scripted.SetTitle(session.ExpectedTitle)
		scripted.SetVisible(session.UsernameField, true)
		scripted.SetVisible(session.PasswordField, true)
		scripted.SetVisible(session.SubmitButton, true)
		return nil
	}
	page.OnClick = func(scripted *browsertest.Page, selector browser.Selector, _ browser.ClickOptions) error {
		if selector == session.SubmitButton {
			scripted.SetURL(testLandingURL)
		}
		return nil
	}
	return page
}

// scriptedMapDashboardPage logs in, lists one dashboard and renders a 100x100 map canvas whose
// tooltip shows only while the pointer rests on one of the feature points.
func scriptedMapDashboardPage(testingT *testing.T, features ...browser.Point) *browsertest.Page {
	testingT.Helper()
	prober, proberErr := probe.NewProber(probe.DefaultOptions(), nil)
	require.NoError(testingT, proberErr)

	page := scriptedLoginPage()
	page.OnNavigate = func(scripted *browsertest.Page, _ string) error {
		scripted.SetTitle(session.ExpectedTitle)
		scripted.SetVisible(session.UsernameField, true)
		scripted.SetVisible(session.PasswordField, true)
		scripted.SetVisible(session.SubmitButton, true)
		scripted.SetElement(superset.DashboardListHeader, browsertest.Element{Visible: true, Text: "Dashboards"})
		scripted.SetVisible(superset.DashboardLink(testDashboardName), true)
		return nil
	}
	page.OnClick = func(scripted *browsertest.Page, selector browser.Selector, _ browser.ClickOptions) error {
		switch selector {
		case session.SubmitButton:
			scripted.SetURL(testLandingURL)
		case superset.DashboardLink(testDashboardName):
			scripted.SetVisible(superset.DashboardTitle, true)
		}
		return nil
	}
	page.SetElement(prober.CanvasSelector(testChartContainer), browsertest.Element{
		Visible: true,
		Box:     browser.BoundingBox{Width: 100, Height: 100},
	})
	page.SetVisible(prober.ZoomSelector(testChartContainer), true)
	page.SetElement(prober.TooltipSelector(), browsertest.Element{
		VisibleAt: func(pointer browser.Point) bool {
			for _, feature := range features {
				if pointer == feature {
					return true
				}
			}
			return false
		},
	})
	return page
}

func executeCommand(testingT *testing.T, recorder *launchRecorder, arguments ...string) (string, error) {
	testingT.Helper()
	application := dashprobecmd.NewDashprobeApplication().
		WithBrowserLauncher(recorder.launch).
		WithLoggerFactory(func(bool) (*zap.Logger, error) {
			return zaptest.NewLogger(testingT), nil
		})
	command, commandErr := application.Command()
	require.NoError(testingT, commandErr)

	output := &bytes.Buffer{}
	command.SetOut(output)
	command.SetErr(output)
	command.SetArgs(arguments)
	executeErr := command.Execute()
	return output.String(), executeErr
}

func TestLoginCommandPrintsLandingURL(testingT *testing.T) {
	testingT.Setenv(config.EnvironmentKeyApplicationURL, testApplicationURL)
	loginPage := scriptedLoginPage()
	fakeBrowser := browsertest.NewBrowser(loginPage)
	recorder := &launchRecorder{launched: fakeBrowser}

	output, executeErr := executeCommand(testingT, recorder, "login")
	require.NoError(testingT, executeErr)
	require.Contains(testingT, output, "logged in: "+testLandingURL)
	require.Equal(testingT, []string{testApplicationURL}, loginPage.Navigations())
	require.Equal(testingT, 1, loginPage.CloseCount())
	require.Equal(testingT, 1, fakeBrowser.CloseCount())
}

func TestLoginCommandRejectsInvalidConfiguration(testingT *testing.T) {
	testCases := []struct {
		name          string
		environment   map[string]string
		expectedError error
	}{
		{name: "invalid url", environment: map[string]string{config.EnvironmentKeyApplicationURL: "ftp://superset.test/"}, expectedError: config.ErrInvalidApplicationURL},
		{name: "missing password", environment: map[string]string{config.EnvironmentKeyPassword: ""}, expectedError: config.ErrMissingCredentials},
		{name: "zero page cap", environment: map[string]string{config.EnvironmentKeyMaxDashboardPages: "0"}, expectedError: config.ErrInvalidPageLimit},
	}

	for _, testCase := range testCases {
		testingT.Run(testCase.name, func(testingT *testing.T) {
			for key, value := range testCase.environment {
				testingT.Setenv(key, value)
			}
			recorder := &launchRecorder{}

			_, executeErr := executeCommand(testingT, recorder, "login")
			require.ErrorIs(testingT, executeErr, testCase.expectedError)
			require.Empty(testingT, recorder.options)
		})
	}
}

func TestLaunchOptionsFollowEnvironmentAndFlags(testingT *testing.T) {
	testCases := []struct {
		name                  string
		environment           map[string]string
		arguments             []string
		expectedDriver        string
		expectedHeadless      bool
		expectedActionTimeout time.Duration
	}{
		{
			name:                  "defaults",
			arguments:             []string{"login"},
			expectedDriver:        config.DefaultDriverName,
			expectedHeadless:      true,
			expectedActionTimeout: config.DefaultActionTimeout,
		},
		{
			name: "environment",
			environment: map[string]string{
				config.EnvironmentKeyDriverName:    browser.DriverNamePlaywright,
				config.EnvironmentKeyHeadless:      "false",
				config.EnvironmentKeyActionTimeout: "3s",
			},
			arguments:             []string{"login"},
			expectedDriver:        browser.DriverNamePlaywright,
			expectedHeadless:      false,
			expectedActionTimeout: 3 * time.Second,
		},
		{
			name:                  "flags win over environment",
			environment:           map[string]string{config.EnvironmentKeyDriverName: browser.DriverNamePlaywright},
			arguments:             []string{"--driver", browser.DriverNameRod, "--action-timeout", "4s", "login"},
			expectedDriver:        browser.DriverNameRod,
			expectedHeadless:      true,
			expectedActionTimeout: 4 * time.Second,
		},
	}

	for _, testCase := range testCases {
		testingT.Run(testCase.name, func(testingT *testing.T) {
			for key, value := range testCase.environment {
				testingT.Setenv(key, value)
			}
			recorder := &launchRecorder{err: errLaunchRefused}

			_, executeErr := executeCommand(testingT, recorder, testCase.arguments...)
			require.ErrorIs(testingT, executeErr, errLaunchRefused)
			require.Len(testingT, recorder.options, 1)
			require.Equal(testingT, testCase.expectedDriver, recorder.options[0].DriverName)
			require.Equal(testingT, testCase.expectedHeadless, recorder.options[0].Headless)
			require.Equal(testingT, testCase.expectedActionTimeout, recorder.options[0].ActionTimeout)
		})
	}
}

func TestProbeCommandRequiresDashboardAndContainer(testingT *testing.T) {
	testCases := []struct {
		name        string
		arguments   []string
		missingFlag string
	}{
		{name: "missing dashboard", arguments: []string{"probe", "--container", "#chart-id-1314"}, missingFlag: "dashboard"},
		{name: "missing container", arguments: []string{"probe", "--dashboard", "Test FILTER JS"}, missingFlag: "container"},
	}

	for _, testCase := range testCases {
		testingT.Run(testCase.name, func(testingT *testing.T) {
			recorder := &launchRecorder{}

			output, executeErr := executeCommand(testingT, recorder, testCase.arguments...)
			require.Error(testingT, executeErr)
			require.Contains(testingT, executeErr.Error(), testMissingFlagMessage)
			require.Contains(testingT, executeErr.Error(), testCase.missingFlag)
			require.Contains(testingT, output, testUsagePrefix)
			require.Empty(testingT, recorder.options)
		})
	}
}

func TestCommandsRejectPositionalArguments(testingT *testing.T) {
	for _, subcommand := range []string{"login", "probe", "fixture"} {
		testingT.Run(subcommand, func(testingT *testing.T) {
			recorder := &launchRecorder{}
			_, executeErr := executeCommand(testingT, recorder, subcommand, "extra")
			require.Error(testingT, executeErr)
			require.Contains(testingT, executeErr.Error(), "unexpected command arguments")
			require.Empty(testingT, recorder.options)
		})
	}
}

func TestFixtureCommandStopsWhenContextEnds(testingT *testing.T) {
	application := dashprobecmd.NewDashprobeApplication().
		WithLoggerFactory(func(bool) (*zap.Logger, error) {
			return zaptest.NewLogger(testingT), nil
		})
	command, commandErr := application.Command()
	require.NoError(testingT, commandErr)

	output := &bytes.Buffer{}
	command.SetOut(output)
	command.SetErr(output)
	command.SetArgs([]string{"fixture", "--addr", "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(testingT, command.ExecuteContext(ctx))
	require.Contains(testingT, output.String(), "fixture listening on http://127.0.0.1:")
}

func TestProbeWatchReportsFailedRunsUntilContextEnds(testingT *testing.T) {
	testingT.Setenv(config.EnvironmentKeyApplicationURL, testApplicationURL)
	recorder := &launchRecorder{err: errLaunchRefused}
	application := dashprobecmd.NewDashprobeApplication().
		WithBrowserLauncher(recorder.launch).
		WithLoggerFactory(func(bool) (*zap.Logger, error) {
			return zaptest.NewLogger(testingT), nil
		})
	command, commandErr := application.Command()
	require.NoError(testingT, commandErr)

	output := &bytes.Buffer{}
	command.SetOut(output)
	command.SetErr(output)
	command.SetArgs([]string{"probe", "--dashboard", "Test FILTER JS", "--container", "#chart-id-1314", "--every", "1h"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(testingT, command.ExecuteContext(ctx))
	require.Len(testingT, recorder.options, 1)
	require.Contains(testingT, output.String(), "probe failed: launch browser: "+errLaunchRefused.Error())
	require.Contains(testingT, output.String(), "1 probes, 1 failed")
}

func TestProbeWatchRejectsInvalidConfiguration(testingT *testing.T) {
	testingT.Setenv(config.EnvironmentKeyApplicationURL, "ftp://superset.test/")
	recorder := &launchRecorder{}

	_, executeErr := executeCommand(testingT, recorder, "probe", "--dashboard", "Test FILTER JS", "--container", "#chart-id-1314", "--every", "1m")
	require.ErrorIs(testingT, executeErr, config.ErrInvalidApplicationURL)
	require.Empty(testingT, recorder.options)
}

func TestProbeCommandPrintsTooltipPosition(testingT *testing.T) {
	testingT.Setenv(config.EnvironmentKeyApplicationURL, testApplicationURL)
	mapPage := scriptedMapDashboardPage(testingT, browser.Point{X: 30, Y: 20})
	fakeBrowser := browsertest.NewBrowser(mapPage)
	recorder := &launchRecorder{launched: fakeBrowser}

	output, executeErr := executeCommand(testingT, recorder, "probe", "--dashboard", testDashboardName, "--container", testChartContainer)
	require.NoError(testingT, executeErr)
	require.Equal(testingT, "tooltip at (30, 20) of 100x100 canvas after 24 positions\n", output)
	require.Equal(testingT, []browser.Point{{X: 30, Y: 20}}, mouseClickPoints(mapPage))
	require.Equal(testingT, 1, mapPage.CloseCount())
	require.Equal(testingT, 1, fakeBrowser.CloseCount())
}

func TestProbeCommandFailsWhenTooltipNeverShows(testingT *testing.T) {
	testingT.Setenv(config.EnvironmentKeyApplicationURL, testApplicationURL)
	mapPage := scriptedMapDashboardPage(testingT)
	fakeBrowser := browsertest.NewBrowser(mapPage)
	recorder := &launchRecorder{launched: fakeBrowser}

	output, executeErr := executeCommand(testingT, recorder, "probe", "--dashboard", testDashboardName, "--container", testChartContainer)
	require.ErrorIs(testingT, executeErr, probe.ErrTooltipNotFound)
	require.NotContains(testingT, output, "tooltip at")
	require.Len(testingT, mapPage.MouseMoves(), 100)
	require.Equal(testingT, 1, fakeBrowser.CloseCount())
}

func TestProbeCommandRejectsUnusableStep(testingT *testing.T) {
	for _, step := range []string{"0", "NaN", "+Inf"} {
		testingT.Run(step, func(testingT *testing.T) {
			recorder := &launchRecorder{}

			_, executeErr := executeCommand(testingT, recorder, "probe", "--dashboard", testDashboardName, "--container", testChartContainer, "--step", step)
			require.ErrorIs(testingT, executeErr, probe.ErrInvalidOptions)
			require.Empty(testingT, recorder.options)
		})
	}
}

func mouseClickPoints(page *browsertest.Page) []browser.Point {
	var points []browser.Point
	for _, click := range page.MouseClicks() {
		points = append(points, click.Point)
	}
	return points
}

func TestProbeWatchRunsAgainOnRerunSignal(testingT *testing.T) {
	testingT.Setenv(config.EnvironmentKeyApplicationURL, testApplicationURL)
	recorder := &launchRecorder{err: errLaunchRefused}
	rerunRequests := make(chan os.Signal, 1)
	application := dashprobecmd.NewDashprobeApplication().
		WithBrowserLauncher(recorder.launch).
		WithRerunSignals(rerunRequests).
		WithLoggerFactory(func(bool) (*zap.Logger, error) {
			return zaptest.NewLogger(testingT), nil
		})
	command, commandErr := application.Command()
	require.NoError(testingT, commandErr)

	output := &bytes.Buffer{}
	command.SetOut(output)
	command.SetErr(output)
	command.SetArgs([]string{"probe", "--dashboard", testDashboardName, "--container", testChartContainer, "--every", "1h"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	executed := make(chan error, 1)
	go func() {
		executed <- command.ExecuteContext(ctx)
	}()

	require.Eventually(testingT, func() bool { return recorder.launchCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	rerunRequests <- os.Interrupt
	require.Eventually(testingT, func() bool { return recorder.launchCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case executeErr := <-executed:
		require.NoError(testingT, executeErr)
	case <-time.After(2 * time.Second):
		testingT.Fatal("watch mode did not stop after cancellation")
	}
	require.Contains(testingT, output.String(), "2 probes, 2 failed")
}
