package fixtureapp_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/MarkoPoloResearchLab/dashprobe/internal/browser"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/config"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/fixtureapp"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/model"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/probe"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/session"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/superset"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/testutil"
)

const (
	browserScenarioTimeout = 90 * time.Second
	crossFilterColumn      = "cat"
)

func startFixtureServer(testingT *testing.T) config.Config {
	testingT.Helper()
	server, serverErr := fixtureapp.New(fixtureapp.DefaultOptions(), zaptest.NewLogger(testingT))
	require.NoError(testingT, serverErr)
	httpServer := httptest.NewServer(server.Handler())
	testingT.Cleanup(func() {
		httpServer.Close()
		require.NoError(testingT, server.Close())
	})
	return config.Config{
		ApplicationURL:     httpServer.URL + "/",
		Username:           fixtureapp.DefaultUsername,
		Password:           fixtureapp.DefaultPassword,
		WFSEndpoint:        config.DefaultWFSEndpoint,
		DriverName:         browser.DriverNameChromedp,
		Headless:           true,
		ActionTimeout:      5 * time.Second,
		NetworkIdleTimeout: 15 * time.Second,
		MaxDashboardPages:  5,
	}
}

func TestFixtureCrossFilterScenarioInBrowser(testingT *testing.T) {
	for _, driverName := range []string{browser.DriverNameChromedp, browser.DriverNameRod} {
		testingT.Run(driverName, func(testingT *testing.T) {
			logger := zaptest.NewLogger(testingT)
			configuration := startFixtureServer(testingT)
			configuration.DriverName = driverName
			launchedBrowser := testutil.LaunchHeadlessBrowser(testingT, driverName, logger)

			ctx, cancel := context.WithTimeout(context.Background(), browserScenarioTimeout)
			testingT.Cleanup(cancel)

			openedSession := session.OpenForTest(testingT, ctx, launchedBrowser, configuration, logger)
			page := openedSession.Page()
			workflows := superset.New(configuration, logger)

			require.NoError(testingT, workflows.OpenDashboard(ctx, page, fixtureapp.FilterDashboardTitle))
			require.NoError(testingT, workflows.WaitForCharts(ctx, page, fixtureapp.PointChartName, fixtureapp.PieChartName))

			pointContainer := model.Chart{ElementID: fixtureapp.PointChartElementID}.ContainerSelector()
			canvasCount, countErr := workflows.ChartCanvasCount(ctx, page, pointContainer)
			require.NoError(testingT, countErr)
			require.Equal(testingT, 1, canvasCount)

			prober, proberErr := probe.NewProber(probe.DefaultOptions(), logger)
			require.NoError(testingT, proberErr)
			result, probeErr := prober.HoverCanvasUntilTooltip(ctx, page, pointContainer)
			require.NoError(testingT, probeErr)
			require.True(testingT, result.Box.ContainsOffset(result.Position))

			require.NoError(testingT, page.WaitVisible(ctx, superset.AppliedFilters(fixtureapp.PieChartName, 1), configuration.ActionTimeout))
			filtered, queryErr := workflows.ChartQueryFiltered(ctx, page, fixtureapp.PieChartName)
			require.NoError(testingT, queryErr)
			require.True(testingT, filtered)

			require.NoError(testingT, workflows.OpenFilterBar(ctx, page))
			require.NoError(testingT, page.WaitVisible(ctx, superset.CrossFilterBadge(crossFilterColumn), configuration.ActionTimeout))
			require.NoError(testingT, workflows.DismissCrossFilter(ctx, page, 0))
			require.NoError(testingT, page.WaitHidden(ctx, superset.CrossFilterBadge(crossFilterColumn), configuration.ActionTimeout))

			unfiltered, unfilteredErr := workflows.ChartQueryFiltered(ctx, page, fixtureapp.PieChartName)
			require.NoError(testingT, unfilteredErr)
			require.False(testingT, unfiltered)

			alertShown, alertErr := workflows.ErrorAlertShown(ctx, page)
			require.NoError(testingT, alertErr)
			require.False(testingT, alertShown)
		})
	}
}

func TestFixtureTableRowsFollowCrossFilterInBrowser(testingT *testing.T) {
	logger := zaptest.NewLogger(testingT)
	configuration := startFixtureServer(testingT)
	launchedBrowser := testutil.LaunchHeadlessBrowser(testingT, configuration.DriverName, logger)

	ctx, cancel := context.WithTimeout(context.Background(), browserScenarioTimeout)
	testingT.Cleanup(cancel)

	openedSession := session.OpenForTest(testingT, ctx, launchedBrowser, configuration, logger)
	page := openedSession.Page()
	workflows := superset.New(configuration, logger)
	require.NoError(testingT, workflows.OpenDashboard(ctx, page, fixtureapp.FilterDashboardTitle))

	initialRows, initialErr := workflows.ChartTableRowCount(ctx, page, fixtureapp.ZonesTableName)
	require.NoError(testingT, initialErr)
	require.Equal(testingT, 2, initialRows)

	knotenContainer := model.Chart{ElementID: fixtureapp.KnotenChartElementID}.ContainerSelector()
	knotenFeature := browser.Point{X: 0.45 * 400, Y: 0.55 * 300}
	require.NoError(testingT, workflows.ShiftClickChart(ctx, page, superset.ChartClick{Container: knotenContainer, Position: &knotenFeature}))
	require.NoError(testingT, page.WaitVisible(ctx, superset.AppliedFilters(fixtureapp.ZonesTableName, 1), configuration.ActionTimeout))

	filteredRows, filteredErr := workflows.ChartTableRowCount(ctx, page, fixtureapp.ZonesTableName)
	require.NoError(testingT, filteredErr)
	require.Equal(testingT, 1, filteredRows)

	require.NoError(testingT, workflows.RemoveCrossFilter(ctx, page, superset.ChartClick{Container: knotenContainer, Position: &knotenFeature}))
	require.NoError(testingT, page.WaitHidden(ctx, superset.AppliedFilters(fixtureapp.ZonesTableName, 1), configuration.ActionTimeout))
}
