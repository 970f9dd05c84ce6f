package model

import (
	"strconv"
	"strings"
	"time"
)

const (
	// ChartKindMap renders an OpenLayers style map canvas with hoverable features.
	ChartKindMap = "map"
	// ChartKindTable renders a plain result table.
	ChartKindTable = "table"
)

type Dashboard struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Slug      string    `gorm:"uniqueIndex;not null;size:200"`
	Title     string    `gorm:"not null;size:200"`
	Position  int       `gorm:"index;not null"`
	Charts    []Chart   `gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

type Chart struct {
	ID          string       `gorm:"primaryKey;size:36"`
	DashboardID string       `gorm:"index;not null;size:36"`
	ElementID   int          `gorm:"not null"`
	Name        string       `gorm:"not null;size:200"`
	Kind        string       `gorm:"not null;size:20"`
	Position    int          `gorm:"not null"`
	Features    []MapFeature `gorm:"constraint:OnDelete:CASCADE"`
}

// MapFeature is a point drawn on a map chart. X and Y are fractions of the canvas size.
type MapFeature struct {
	ID      string  `gorm:"primaryKey;size:36"`
	ChartID string  `gorm:"index;not null;size:36"`
	Label   string  `gorm:"not null;size:200"`
	Column  string  `gorm:"not null;size:100"`
	Value   string  `gorm:"not null;size:200"`
	X       float64 `gorm:"not null"`
	Y       float64 `gorm:"not null"`
	Radius  float64 `gorm:"not null"`
}

// SlugFromTitle derives the URL slug of a dashboard title.
func SlugFromTitle(title string) string {
	var builder strings.Builder
	pendingSeparator := false
	for _, character := range strings.ToLower(strings.TrimSpace(title)) {
		isAlphanumeric := (character >= 'a' && character <= 'z') || (character >= '0' && character <= '9')
		if !isAlphanumeric {
			pendingSeparator = builder.Len() > 0
			continue
		}
		if pendingSeparator {
			builder.WriteByte('-')
			pendingSeparator = false
		}
		builder.WriteRune(character)
	}
	return builder.String()
}

// IsMap reports whether the chart draws a map canvas.
func (chart Chart) IsMap() bool {
	return chart.Kind == ChartKindMap
}

// ContainerSelector addresses the rendered chart container.
func (chart Chart) ContainerSelector() string {
	return "#chart-id-" + strconv.Itoa(chart.ElementID)
}
