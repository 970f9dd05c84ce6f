package superset

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/dashprobe/internal/browser"
)

const (
	dashboardListPath          = "dashboard/list/?"
	dashboardListHeaderText    = "Dashboards"
	paginationDisabledClass    = "disabled"
	paginationNextLabel        = "»"
	attributeClass             = "class"
	logEventDashboardNextPage  = "dashboard_list_next_page"
	logEventDashboardOpened    = "dashboard_opened"
	logEventDashboardListEnded = "dashboard_list_exhausted"
	logFieldDashboard          = "dashboard"
	logFieldListPage           = "list_page"
)

var (
	// DashboardListHeader is the list page heading.
	DashboardListHeader = browser.CSS("div.header")
	// NextPageControl is the pagination item that advances the dashboard list.
	NextPageControl = browser.CSS(`ul[role="navigation"] li`).WithText(paginationNextLabel)
	// DashboardTitle is shown once a dashboard has rendered.
	DashboardTitle = browser.CSS(`span[aria-label="Dashboard title"]`)
)

// DashboardLink addresses a dashboard entry in the list by its name.
func DashboardLink(name string) browser.Selector {
	return browser.Text(name)
}

// OpenDashboard walks the dashboard list page by page until the named dashboard is visible and
// opens it. The walk stops at the last page or after the configured page cap, whichever comes first.
func (workflows *Workflows) OpenDashboard(ctx context.Context, page browser.Page, name string) error {
	if openErr := workflows.open(ctx, page, dashboardListPath); openErr != nil {
		return openErr
	}
	if checkErr := workflows.requireListPage(ctx, page); checkErr != nil {
		return checkErr
	}

	dashboardLogger := workflows.logger.With(zap.String(logFieldDashboard, name))
	link := DashboardLink(name)
	for listPage := 1; ; listPage++ {
		visible, visibleErr := page.IsVisible(ctx, link)
		if visibleErr != nil {
			return visibleErr
		}
		if visible {
			if clickErr := page.Click(ctx, link, browser.ClickOptions{}); clickErr != nil {
				return fmt.Errorf(wrappedStepErrorFormat, "open dashboard", clickErr)
			}
			if waitErr := page.WaitVisible(ctx, DashboardTitle, workflows.configuration.ActionTimeout); waitErr != nil {
				return fmt.Errorf(wrappedStepErrorFormat, "wait for dashboard title", waitErr)
			}
			dashboardLogger.Info(logEventDashboardOpened, zap.Int(logFieldListPage, listPage))
			return nil
		}

		lastPage, lastPageErr := isLastListPage(ctx, page)
		if lastPageErr != nil {
			return lastPageErr
		}
		if lastPage {
			dashboardLogger.Info(logEventDashboardListEnded, zap.Int(logFieldListPage, listPage))
			return fmt.Errorf("%w: %q not listed on %d pages", ErrDashboardNotFound, name, listPage)
		}
		if listPage >= workflows.configuration.MaxDashboardPages {
			return fmt.Errorf("%w: %q not found within %d pages", ErrDashboardNotFound, name, workflows.configuration.MaxDashboardPages)
		}

		dashboardLogger.Debug(logEventDashboardNextPage, zap.Int(logFieldListPage, listPage+1))
		if clickErr := page.Click(ctx, NextPageControl, browser.ClickOptions{}); clickErr != nil {
			return fmt.Errorf(wrappedStepErrorFormat, "advance dashboard list", clickErr)
		}
		if idleErr := settle(ctx, page); idleErr != nil {
			return idleErr
		}
	}
}

func (workflows *Workflows) requireListPage(ctx context.Context, page browser.Page) error {
	title, titleErr := page.Title(ctx)
	if titleErr != nil {
		return titleErr
	}
	if title != ApplicationTitle {
		return fmt.Errorf("%w: title %q", ErrUnexpectedPage, title)
	}
	if waitErr := page.WaitVisible(ctx, DashboardListHeader, workflows.configuration.ActionTimeout); waitErr != nil {
		return fmt.Errorf(wrappedStepErrorFormat, "wait for dashboard list header", waitErr)
	}
	header, headerErr := page.InnerText(ctx, DashboardListHeader)
	if headerErr != nil {
		return headerErr
	}
	if strings.TrimSpace(header) != dashboardListHeaderText {
		return fmt.Errorf("%w: header %q", ErrUnexpectedPage, header)
	}
	return nil
}

// isLastListPage treats a missing pagination control as a single-page list.
func isLastListPage(ctx context.Context, page browser.Page) (bool, error) {
	controls, countErr := page.Count(ctx, NextPageControl)
	if countErr != nil {
		return false, countErr
	}
	if controls == 0 {
		return true, nil
	}
	class, classErr := page.Attribute(ctx, NextPageControl, attributeClass)
	if classErr != nil {
		return false, classErr
	}
	return strings.Contains(class, paginationDisabledClass), nil
}
