package storage

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/dashprobe/internal/model"
)

const (
	errorMessageDashboardNotFound = "storage: dashboard not found"
	errorMessageInvalidDashboard  = "storage: invalid dashboard"
	errorMessageInvalidPage       = "storage: invalid page"
)

var (
	// ErrDashboardNotFound indicates no dashboard matches the slug.
	ErrDashboardNotFound = errors.New(errorMessageDashboardNotFound)
	// ErrInvalidDashboard indicates a dashboard seed without a title.
	ErrInvalidDashboard = errors.New(errorMessageInvalidDashboard)
	// ErrInvalidPage indicates a page number or size below one.
	ErrInvalidPage = errors.New(errorMessageInvalidPage)
)

// DashboardPage is one page of the ordered dashboard listing.
type DashboardPage struct {
	Dashboards []model.Dashboard
	Page       int
	PageSize   int
	Total      int64
}

// HasNext reports whether a later page exists.
func (page DashboardPage) HasNext() bool {
	return int64(page.Page*page.PageSize) < page.Total
}

// HasPrevious reports whether an earlier page exists.
func (page DashboardPage) HasPrevious() bool {
	return page.Page > 1
}

// SeedDashboards stores the dashboards in order, assigning identifiers, slugs and positions
// where they are missing.
func SeedDashboards(database *gorm.DB, dashboards []model.Dashboard) error {
	return database.Transaction(func(transaction *gorm.DB) error {
		var existing int64
		if countErr := transaction.Model(&model.Dashboard{}).Count(&existing).Error; countErr != nil {
			return countErr
		}
		for index := range dashboards {
			dashboard := dashboards[index]
			if strings.TrimSpace(dashboard.Title) == "" {
				return fmt.Errorf("%w: dashboard %d has no title", ErrInvalidDashboard, index)
			}
			prepareDashboard(&dashboard, int(existing)+index+1)
			if createErr := transaction.Create(&dashboard).Error; createErr != nil {
				return fmt.Errorf("seed dashboard %q: %w", dashboard.Title, createErr)
			}
		}
		return nil
	})
}

func prepareDashboard(dashboard *model.Dashboard, position int) {
	if dashboard.ID == "" {
		dashboard.ID = NewID()
	}
	if dashboard.Slug == "" {
		dashboard.Slug = model.SlugFromTitle(dashboard.Title)
	}
	if dashboard.Position == 0 {
		dashboard.Position = position
	}
	for chartIndex := range dashboard.Charts {
		chart := &dashboard.Charts[chartIndex]
		if chart.ID == "" {
			chart.ID = NewID()
		}
		chart.DashboardID = dashboard.ID
		if chart.Kind == "" {
			chart.Kind = model.ChartKindTable
		}
		if chart.Position == 0 {
			chart.Position = chartIndex + 1
		}
		for featureIndex := range chart.Features {
			feature := &chart.Features[featureIndex]
			if feature.ID == "" {
				feature.ID = NewID()
			}
			feature.ChartID = chart.ID
		}
	}
}

// ListDashboards returns the page of dashboards ordered by position.
func ListDashboards(database *gorm.DB, page int, pageSize int) (DashboardPage, error) {
	if page < 1 || pageSize < 1 {
		return DashboardPage{}, fmt.Errorf("%w: page %d of size %d", ErrInvalidPage, page, pageSize)
	}
	var total int64
	if countErr := database.Model(&model.Dashboard{}).Count(&total).Error; countErr != nil {
		return DashboardPage{}, countErr
	}
	var dashboards []model.Dashboard
	queryErr := database.
		Order("position ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&dashboards).Error
	if queryErr != nil {
		return DashboardPage{}, queryErr
	}
	return DashboardPage{Dashboards: dashboards, Page: page, PageSize: pageSize, Total: total}, nil
}

// FindDashboardBySlug loads a dashboard with its charts and their features.
func FindDashboardBySlug(database *gorm.DB, slug string) (model.Dashboard, error) {
	var dashboard model.Dashboard
	queryErr := database.
		Preload("Charts", func(query *gorm.DB) *gorm.DB {
			return query.Order("position ASC")
		}).
		Preload("Charts.Features").
		First(&dashboard, "slug = ?", strings.TrimSpace(slug)).Error
	if errors.Is(queryErr, gorm.ErrRecordNotFound) {
		return model.Dashboard{}, fmt.Errorf("%w: %s", ErrDashboardNotFound, slug)
	}
	if queryErr != nil {
		return model.Dashboard{}, queryErr
	}
	return dashboard, nil
}
