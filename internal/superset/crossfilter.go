package superset

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/dashprobe/internal/browser"
)

const (
	chartCanvasFormat          = "%s canvas"
	chartByNameFormat          = `div[data-test-chart-name="%s"]`
	chartMenuFormat            = `div[data-test-chart-name="%s"] span[aria-label="More Options"]`
	appliedFiltersFormat       = `div[data-test-chart-name="%s"] div[aria-label="Applied filters (%d)"]`
	viewAsTableLabel           = "View as table"
	viewQueryLabel             = "View query"
	removeCrossFilterLabel     = "Remove cross-filter"
	queryClauseSelect          = "SELECT"
	queryClauseWhere           = "WHERE"
	ariaRoleButton             = "button"
	ariaRoleAlert              = "alert"
	logEventChartClicked       = "chart_cross_filter_click"
	logEventCrossFilterRemoved = "cross_filter_removed"
	logEventChartTableRows     = "chart_table_rows"
	logEventFilterBarOpened    = "filter_bar_opened"
	logFieldContainer          = "container"
	logFieldChart              = "chart"
	logFieldRows               = "rows"
	logFieldButton             = "button"
	invalidChartClickFormat    = "%w: %s"
	invalidContainerDetail     = "container selector is required"
	invalidCanvasIndexDetail   = "canvas index must not be negative"
	invalidChartNameDetail     = "chart name is required"
)

var (
	// FilterBarToggle opens the native filter bar.
	FilterBarToggle = browser.CSS(`span[aria-label="filter"]`)
	// FilterBarExpand expands the filter bar sections.
	FilterBarExpand = browser.CSS(`span[aria-label="expand"]`)
	// FilterBarEmptyDescription is shown while the filter bar has no filters.
	FilterBarEmptyDescription = browser.CSS("p.ant-empty-description")
	// ResultTable is the tabular chart view opened from the chart menu.
	ResultTable = browser.CSS(".antd5-modal-root .table-condensed")
	// ResultTableRows are the body rows of the tabular chart view.
	ResultTableRows = browser.CSS(".antd5-modal-root .table-condensed tbody tr")
	// ModalCloseButton closes the open chart modal. The first match belongs to the page header.
	ModalCloseButton = browser.CSS(`button[aria-label="Close"]`).Nth(1)
	// RemoveCrossFilterItem is the context menu entry that removes a chart cross-filter.
	RemoveCrossFilterItem = browser.Text(removeCrossFilterLabel)
	// CrossFilterDismissIcons close cross-filters listed in the filter bar.
	CrossFilterDismissIcons = browser.CSS("div.ant-collapse-content span.anticon-close")
	// ErrorAlert is any error banner shown by the dashboard.
	ErrorAlert = browser.Role(ariaRoleAlert, "")
	// ViewAsTableButton opens the tabular chart view.
	ViewAsTableButton = browser.Role(ariaRoleButton, viewAsTableLabel)
	// ViewQueryButton opens the generated chart query.
	ViewQueryButton = browser.Role(ariaRoleButton, viewQueryLabel)
	// QuerySelectClause marks the rendered query.
	QuerySelectClause = browser.Text(queryClauseSelect).Nth(0)
	// QueryWhereClause marks a filtered rendered query.
	QueryWhereClause = browser.Text(queryClauseWhere)
)

// ChartClick places a pointer click on a chart canvas.
type ChartClick struct {
	// Container addresses the chart, for example "#chart-id-325".
	Container string
	// CanvasIndex picks among the canvases rendered inside the container.
	CanvasIndex int
	// Position is relative to the canvas box; nil clicks the center.
	Position *browser.Point
}

func (click ChartClick) validate() error {
	switch {
	case strings.TrimSpace(click.Container) == "":
		return fmt.Errorf(invalidChartClickFormat, ErrInvalidChartClick, invalidContainerDetail)
	case click.CanvasIndex < 0:
		return fmt.Errorf(invalidChartClickFormat, ErrInvalidChartClick, invalidCanvasIndexDetail)
	}
	return nil
}

func (click ChartClick) canvas() browser.Selector {
	return ChartCanvases(click.Container).Nth(click.CanvasIndex)
}

// ChartCanvases addresses every canvas inside the chart container.
func ChartCanvases(container string) browser.Selector {
	return browser.CSS(fmt.Sprintf(chartCanvasFormat, container))
}

// ChartByName addresses a dashboard chart by its title.
func ChartByName(name string) browser.Selector {
	return browser.CSS(fmt.Sprintf(chartByNameFormat, name))
}

// ChartMenu addresses the "More Options" menu of a named chart.
func ChartMenu(name string) browser.Selector {
	return browser.CSS(fmt.Sprintf(chartMenuFormat, name))
}

// AppliedFilters addresses the applied filter indicator of a named chart.
func AppliedFilters(chartName string, filterCount int) browser.Selector {
	return browser.CSS(fmt.Sprintf(appliedFiltersFormat, chartName, filterCount))
}

// CrossFilterBadge addresses the filter bar badge of a cross-filter on the column.
func CrossFilterBadge(column string) browser.Selector {
	return browser.CSS("span.css-19ez2t").WithText(column)
}

// WaitForCharts waits until every named chart is rendered.
func (workflows *Workflows) WaitForCharts(ctx context.Context, page browser.Page, names ...string) error {
	for _, name := range names {
		if waitErr := page.WaitVisible(ctx, ChartByName(name), workflows.configuration.ActionTimeout); waitErr != nil {
			return fmt.Errorf("wait for chart %q: %w", name, waitErr)
		}
	}
	return nil
}

// OpenFilterBar opens the native filter bar of the current dashboard.
func (workflows *Workflows) OpenFilterBar(ctx context.Context, page browser.Page) error {
	if clickErr := workflows.clickVisible(ctx, page, FilterBarToggle); clickErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "open filter bar", clickErr)
	}
	workflows.logger.Debug(logEventFilterBarOpened)
	return nil
}

// ExpandFilterBar expands the filter bar sections.
func (workflows *Workflows) ExpandFilterBar(ctx context.Context, page browser.Page) error {
	if clickErr := workflows.clickVisible(ctx, page, FilterBarExpand); clickErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "expand filter bar", clickErr)
	}
	return nil
}

// FilterBarEmpty reports whether the filter bar shows its empty description.
func (workflows *Workflows) FilterBarEmpty(ctx context.Context, page browser.Page) (bool, error) {
	return page.IsVisible(ctx, FilterBarEmptyDescription)
}

// ErrorAlertShown reports whether the dashboard shows an error banner.
func (workflows *Workflows) ErrorAlertShown(ctx context.Context, page browser.Page) (bool, error) {
	return page.IsVisible(ctx, ErrorAlert)
}

// ShiftClickChart shift-clicks a chart canvas, which sets a cross-filter from the clicked datum.
func (workflows *Workflows) ShiftClickChart(ctx context.Context, page browser.Page, click ChartClick) error {
	return workflows.clickChart(ctx, page, click, browser.MouseButtonLeft)
}

// RemoveCrossFilter opens the chart context menu with a shift right-click and removes the
// cross-filter the chart owns.
func (workflows *Workflows) RemoveCrossFilter(ctx context.Context, page browser.Page, click ChartClick) error {
	if clickErr := workflows.clickChart(ctx, page, click, browser.MouseButtonRight); clickErr != nil {
		return clickErr
	}
	if clickErr := workflows.clickVisible(ctx, page, RemoveCrossFilterItem); clickErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "remove cross-filter", clickErr)
	}
	workflows.logger.Info(logEventCrossFilterRemoved, zap.String(logFieldContainer, click.Container))
	return nil
}

func (workflows *Workflows) clickChart(ctx context.Context, page browser.Page, click ChartClick, button browser.MouseButton) error {
	if validationErr := click.validate(); validationErr != nil {
		return validationErr
	}
	options := browser.ClickOptions{
		Button:    button,
		Modifiers: []browser.Modifier{browser.ModifierShift},
		Position:  click.Position,
	}
	if clickErr := page.Click(ctx, click.canvas(), options); clickErr != nil {
		return fmt.Errorf("click chart %s: %w", click.Container, clickErr)
	}
	workflows.logger.Info(logEventChartClicked,
		zap.String(logFieldContainer, click.Container),
		zap.String(logFieldButton, string(button)),
	)
	return settle(ctx, page)
}

// DismissCrossFilter closes the cross-filter listed at the index in the filter bar.
func (workflows *Workflows) DismissCrossFilter(ctx context.Context, page browser.Page, index int) error {
	if clickErr := workflows.clickVisible(ctx, page, CrossFilterDismissIcons.Nth(index)); clickErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "dismiss cross-filter", clickErr)
	}
	return nil
}

// ChartCanvasCount waits for the chart container and counts the canvases it renders.
func (workflows *Workflows) ChartCanvasCount(ctx context.Context, page browser.Page, container string) (int, error) {
	if strings.TrimSpace(container) == "" {
		return 0, fmt.Errorf(invalidChartClickFormat, ErrInvalidChartClick, invalidContainerDetail)
	}
	if waitErr := page.WaitVisible(ctx, browser.CSS(container).Nth(0), workflows.configuration.ActionTimeout); waitErr != nil {
		return 0, fmt.Errorf("wait for chart %s: %w", container, waitErr)
	}
	return page.Count(ctx, ChartCanvases(container))
}

// ChartTableRowCount opens the tabular view of the named chart, counts its rows and closes it.
func (workflows *Workflows) ChartTableRowCount(ctx context.Context, page browser.Page, chartName string) (int, error) {
	if openErr := workflows.openChartView(ctx, page, chartName, ViewAsTableButton); openErr != nil {
		return 0, openErr
	}
	if waitErr := page.WaitVisible(ctx, ResultTable, workflows.configuration.ActionTimeout); waitErr != nil {
		return 0, fmt.Errorf(wrappedStepErrorFormat, "wait for result table", waitErr)
	}
	rows, countErr := page.Count(ctx, ResultTableRows)
	if countErr != nil {
		return 0, countErr
	}
	if closeErr := workflows.closeChartView(ctx, page); closeErr != nil {
		return 0, closeErr
	}
	workflows.logger.Info(logEventChartTableRows, zap.String(logFieldChart, chartName), zap.Int(logFieldRows, rows))
	return rows, nil
}

// ChartQueryFiltered opens the query view of the named chart and reports whether the rendered
// query is a filtered SELECT.
func (workflows *Workflows) ChartQueryFiltered(ctx context.Context, page browser.Page, chartName string) (bool, error) {
	if openErr := workflows.openChartView(ctx, page, chartName, ViewQueryButton); openErr != nil {
		return false, openErr
	}
	selectShown, selectErr := visibleWithin(ctx, page, QuerySelectClause, workflows.configuration.ActionTimeout)
	if selectErr != nil {
		return false, selectErr
	}
	whereShown := false
	if selectShown {
		var whereErr error
		whereShown, whereErr = page.IsVisible(ctx, QueryWhereClause)
		if whereErr != nil {
			return false, whereErr
		}
	}
	if closeErr := workflows.closeChartView(ctx, page); closeErr != nil {
		return false, closeErr
	}
	return selectShown && whereShown, nil
}

func (workflows *Workflows) openChartView(ctx context.Context, page browser.Page, chartName string, view browser.Selector) error {
	if strings.TrimSpace(chartName) == "" {
		return fmt.Errorf(invalidChartClickFormat, ErrInvalidChartClick, invalidChartNameDetail)
	}
	if clickErr := page.Click(ctx, ChartMenu(chartName), browser.ClickOptions{}); clickErr != nil {
		return fmt.Errorf("open menu of chart %q: %w", chartName, clickErr)
	}
	if clickErr := workflows.clickVisible(ctx, page, view); clickErr != nil {
		return fmt.Errorf("open %s of chart %q: %w", view, chartName, clickErr)
	}
	return nil
}

func (workflows *Workflows) closeChartView(ctx context.Context, page browser.Page) error {
	if clickErr := page.Click(ctx, ModalCloseButton, browser.ClickOptions{}); clickErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "close chart view", clickErr)
	}
	return settle(ctx, page)
}
