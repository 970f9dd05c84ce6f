package superset_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/dashprobe/internal/browser"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/browser/browsertest"
	"github.com/MarkoPoloResearchLab/dashprobe/internal/superset"
)

const (
	pieChartContainer   = "#chart-id-325"
	cartoChartContainer = "#chart-id-1314"
	pointChartName      = "Test POINT Cartodiagram JS"
	crossFilterColumn   = "cat"
)

// scriptedCrossFilterDashboard shows a badge after a left shift-click on the pie chart and offers
// the removal menu after a right shift-click.
func scriptedCrossFilterDashboard() *browsertest.Page {
	page := browsertest.NewPage()
	pieCanvas := superset.ChartCanvases(pieChartContainer)
	page.SetVisible(pieCanvas, true)
	page.OnClick = func(scripted *browsertest.Page, selector browser.Selector, options browser.ClickOptions) error {
		switch {
		case selector == pieCanvas && options.Button == browser.MouseButtonLeft:
			scripted.SetVisible(superset.CrossFilterBadge(crossFilterColumn), true)
		case selector == pieCanvas && options.Button == browser.MouseButtonRight:
			scripted.SetVisible(superset.RemoveCrossFilterItem, true)
		case selector == superset.RemoveCrossFilterItem:
			scripted.RemoveElement(superset.RemoveCrossFilterItem)
			scripted.RemoveElement(superset.CrossFilterBadge(crossFilterColumn))
		}
		return nil
	}
	return page
}

func TestShiftClickChartSetsCrossFilter(testingT *testing.T) {
	page := scriptedCrossFilterDashboard()
	workflows := newTestWorkflows(testingT, testConfiguration())
	position := &browser.Point{X: 100, Y: 150}

	clickErr := workflows.ShiftClickChart(context.Background(), page, superset.ChartClick{Container: pieChartContainer, Position: position})
	require.NoError(testingT, clickErr)

	clicks := page.Clicks()
	require.Len(testingT, clicks, 1)
	require.Equal(testingT, browser.MouseButtonLeft, clicks[0].Options.Button)
	require.Equal(testingT, []browser.Modifier{browser.ModifierShift}, clicks[0].Options.Modifiers)
	require.Equal(testingT, position, clicks[0].Options.Position)
	require.Equal(testingT, 1, page.NetworkIdleWaits())

	badgeShown, badgeErr := page.IsVisible(context.Background(), superset.CrossFilterBadge(crossFilterColumn))
	require.NoError(testingT, badgeErr)
	require.True(testingT, badgeShown)
}

func TestRemoveCrossFilterUsesContextMenu(testingT *testing.T) {
	page := scriptedCrossFilterDashboard()
	workflows := newTestWorkflows(testingT, testConfiguration())
	click := superset.ChartClick{Container: pieChartContainer, Position: &browser.Point{X: 134, Y: 300}}

	require.NoError(testingT, workflows.ShiftClickChart(context.Background(), page, click))
	require.NoError(testingT, workflows.RemoveCrossFilter(context.Background(), page, click))

	clicks := page.Clicks()
	require.Len(testingT, clicks, 3)
	require.Equal(testingT, browser.MouseButtonRight, clicks[1].Options.Button)
	require.Equal(testingT, superset.RemoveCrossFilterItem, clicks[2].Selector)

	badgeShown, badgeErr := page.IsVisible(context.Background(), superset.CrossFilterBadge(crossFilterColumn))
	require.NoError(testingT, badgeErr)
	require.False(testingT, badgeShown)
}

func TestChartClickValidation(testingT *testing.T) {
	testCases := []struct {
		name  string
		click superset.ChartClick
	}{
		{name: "missing container", click: superset.ChartClick{Container: "  "}},
		{name: "negative canvas index", click: superset.ChartClick{Container: pieChartContainer, CanvasIndex: -1}},
	}

	for _, testCase := range testCases {
		testingT.Run(testCase.name, func(testingT *testing.T) {
			page := scriptedCrossFilterDashboard()
			clickErr := newTestWorkflows(testingT, testConfiguration()).ShiftClickChart(context.Background(), page, testCase.click)
			require.ErrorIs(testingT, clickErr, superset.ErrInvalidChartClick)
			require.Empty(testingT, page.Clicks())
		})
	}
}

func TestShiftClickChartTargetsCanvasIndex(testingT *testing.T) {
	page := browsertest.NewPage()
	secondCanvas := superset.ChartCanvases(cartoChartContainer).Nth(1)
	page.SetVisible(secondCanvas, true)

	clickErr := newTestWorkflows(testingT, testConfiguration()).ShiftClickChart(context.Background(), page,
		superset.ChartClick{Container: cartoChartContainer, CanvasIndex: 1, Position: &browser.Point{X: 48, Y: 45}})
	require.NoError(testingT, clickErr)
	require.Equal(testingT, []browser.Selector{secondCanvas}, clickedSelectors(page))
}

func TestChartCanvasCount(testingT *testing.T) {
	page := browsertest.NewPage()
	page.SetVisible(browser.CSS(cartoChartContainer), true)
	page.SetElement(superset.ChartCanvases(cartoChartContainer), browsertest.Element{Visible: true, Count: 14})
	workflows := newTestWorkflows(testingT, testConfiguration())

	canvasCount, countErr := workflows.ChartCanvasCount(context.Background(), page, cartoChartContainer)
	require.NoError(testingT, countErr)
	require.Equal(testingT, 14, canvasCount)

	_, missingErr := workflows.ChartCanvasCount(context.Background(), page, "#chart-id-9")
	require.ErrorIs(testingT, missingErr, browser.ErrTimeout)

	_, emptyErr := workflows.ChartCanvasCount(context.Background(), page, "")
	require.ErrorIs(testingT, emptyErr, superset.ErrInvalidChartClick)
}

func TestChartTableRowCountClosesModal(testingT *testing.T) {
	page := browsertest.NewPage()
	page.SetVisible(superset.ChartMenu(pointChartName), true)
	page.OnClick = func(scripted *browsertest.Page, selector browser.Selector, _ browser.ClickOptions) error {
		switch selector {
		case superset.ChartMenu(pointChartName):
			scripted.SetVisible(superset.ViewAsTableButton, true)
		case superset.ViewAsTableButton:
			scripted.SetVisible(superset.ResultTable, true)
			scripted.SetElement(superset.ResultTableRows, browsertest.Element{Visible: true, Count: 1})
			scripted.SetVisible(superset.ModalCloseButton, true)
		case superset.ModalCloseButton:
			scripted.RemoveElement(superset.ResultTable)
			scripted.RemoveElement(superset.ResultTableRows)
		}
		return nil
	}

	rows, countErr := newTestWorkflows(testingT, testConfiguration()).ChartTableRowCount(context.Background(), page, pointChartName)
	require.NoError(testingT, countErr)
	require.Equal(testingT, 1, rows)
	require.Equal(testingT, []browser.Selector{
		superset.ChartMenu(pointChartName),
		superset.ViewAsTableButton,
		superset.ModalCloseButton,
	}, clickedSelectors(page))
}

func TestChartQueryFiltered(testingT *testing.T) {
	testCases := []struct {
		name          string
		whereShown    bool
		expectedMatch bool
	}{
		{name: "filtered query", whereShown: true, expectedMatch: true},
		{name: "unfiltered query", whereShown: false, expectedMatch: false},
	}

	for _, testCase := range testCases {
		testingT.Run(testCase.name, func(testingT *testing.T) {
			page := browsertest.NewPage()
			for _, selector := range []browser.Selector{
				superset.ChartMenu(pointChartName),
				superset.ViewQueryButton,
				superset.QuerySelectClause,
				superset.ModalCloseButton,
			} {
				page.SetVisible(selector, true)
			}
			page.SetVisible(superset.QueryWhereClause, testCase.whereShown)

			filtered, queryErr := newTestWorkflows(testingT, testConfiguration()).ChartQueryFiltered(context.Background(), page, pointChartName)
			require.NoError(testingT, queryErr)
			require.Equal(testingT, testCase.expectedMatch, filtered)
			clicks := clickedSelectors(page)
			require.Equal(testingT, superset.ModalCloseButton, clicks[len(clicks)-1])
		})
	}
}

func TestFilterBarWorkflows(testingT *testing.T) {
	page := browsertest.NewPage()
	page.SetVisible(superset.FilterBarToggle, true)
	page.SetVisible(superset.FilterBarExpand, true)
	page.OnClick = func(scripted *browsertest.Page, selector browser.Selector, _ browser.ClickOptions) error {
		switch selector {
		case superset.FilterBarToggle:
			scripted.SetVisible(superset.FilterBarEmptyDescription, true)
		case superset.FilterBarExpand:
			scripted.SetVisible(superset.FilterBarEmptyDescription, false)
		}
		return nil
	}
	workflows := newTestWorkflows(testingT, testConfiguration())

	require.NoError(testingT, workflows.OpenFilterBar(context.Background(), page))
	empty, emptyErr := workflows.FilterBarEmpty(context.Background(), page)
	require.NoError(testingT, emptyErr)
	require.True(testingT, empty)

	require.NoError(testingT, workflows.ExpandFilterBar(context.Background(), page))
	empty, emptyErr = workflows.FilterBarEmpty(context.Background(), page)
	require.NoError(testingT, emptyErr)
	require.False(testingT, empty)

	alertShown, alertErr := workflows.ErrorAlertShown(context.Background(), page)
	require.NoError(testingT, alertErr)
	require.False(testingT, alertShown)
}

func TestDismissCrossFilterClicksIndexedIcon(testingT *testing.T) {
	page := browsertest.NewPage()
	secondIcon := superset.CrossFilterDismissIcons.Nth(1)
	page.SetVisible(secondIcon, true)

	require.NoError(testingT, newTestWorkflows(testingT, testConfiguration()).DismissCrossFilter(context.Background(), page, 1))
	require.Equal(testingT, []browser.Selector{secondIcon}, clickedSelectors(page))
}

func TestWaitForChartsReportsMissingChart(testingT *testing.T) {
	page := browsertest.NewPage()
	page.SetVisible(superset.ChartByName(pointChartName), true)
	workflows := newTestWorkflows(testingT, testConfiguration())

	require.NoError(testingT, workflows.WaitForCharts(context.Background(), page, pointChartName))
	waitErr := workflows.WaitForCharts(context.Background(), page, pointChartName, "TEST PIE JS")
	require.ErrorIs(testingT, waitErr, browser.ErrTimeout)
	require.Contains(testingT, waitErr.Error(), "TEST PIE JS")
}

func TestCrossFilterSelectors(testingT *testing.T) {
	require.Equal(testingT, `div[data-test-chart-name="JS Knoten"] div[aria-label="Applied filters (1)"]`, superset.AppliedFilters("JS Knoten", 1).CSS)
	require.Equal(testingT, `span.css-19ez2t >> has-text="objectid"`, superset.CrossFilterBadge("objectid").String())
	require.Equal(testingT, `#chart-id-325 canvas`, superset.ChartCanvases(pieChartContainer).String())
}
