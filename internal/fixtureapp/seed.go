package fixtureapp

import "github.com/MarkoPoloResearchLab/dashprobe/internal/model"

const (
	// FilterDashboardTitle is the seeded dashboard with map charts and cross-filters.
	FilterDashboardTitle = "Test FILTER JS"
	// PieChartElementID hosts the pie style map that emits the "cat" cross-filter.
	PieChartElementID = 325
	// PointChartElementID hosts the point cartodiagram.
	PointChartElementID = 1314
	// KnotenChartElementID hosts the map that emits the "objectid" cross-filter.
	KnotenChartElementID = 206
	// ZoneChartElementID hosts the zone map.
	ZoneChartElementID = 248

	PieChartName    = "TEST PIE JS"
	PointChartName  = "Test POINT Cartodiagram JS"
	KnotenChartName = "JS Knoten Carto"
	ZoneChartName   = "Test_Knoten"
	TableChartName  = "JS Knoten"
	ZonesTableName  = "Test BRW Zonen"
)

// DefaultDashboards returns the seeded dashboards. The filter dashboard sits on the second list
// page at the default page size.
func DefaultDashboards() []model.Dashboard {
	return []model.Dashboard{
		{Title: "Bevölkerung"},
		{Title: "Fahrradzählung"},
		{Title: "Grünflächen"},
		{Title: "Luftqualität"},
		{Title: "Parkplätze"},
		filterDashboard(),
		{Title: "Verkehrsunfälle"},
	}
}

func filterDashboard() model.Dashboard {
	return model.Dashboard{
		Title: FilterDashboardTitle,
		Charts: []model.Chart{
			{
				ElementID: PointChartElementID,
				Name:      PointChartName,
				Kind:      model.ChartKindMap,
				Features: []model.MapFeature{
					{Label: "Punkt 1", Column: "cat", Value: "a", X: 0.6, Y: 0.6, Radius: 6},
					{Label: "Punkt 2", Column: "cat", Value: "b", X: 0.4, Y: 0.45, Radius: 6},
					{Label: "Punkt 3", Column: "cat", Value: "c", X: 0.55, Y: 0.4, Radius: 6},
				},
			},
			{
				ElementID: PieChartElementID,
				Name:      PieChartName,
				Kind:      model.ChartKindMap,
				Features: []model.MapFeature{
					{Label: "Kategorie A", Column: "cat", Value: "a", X: 0.25, Y: 0.5, Radius: 40},
					{Label: "Kategorie B", Column: "cat", Value: "b", X: 0.75, Y: 0.5, Radius: 40},
				},
			},
			{
				ElementID: KnotenChartElementID,
				Name:      KnotenChartName,
				Kind:      model.ChartKindMap,
				Features: []model.MapFeature{
					{Label: "Knoten 7", Column: "objectid", Value: "7", X: 0.45, Y: 0.55, Radius: 8},
					{Label: "Knoten 9", Column: "objectid", Value: "9", X: 0.6, Y: 0.35, Radius: 8},
				},
			},
			{
				ElementID: ZoneChartElementID,
				Name:      ZoneChartName,
				Kind:      model.ChartKindMap,
				Features: []model.MapFeature{
					{Label: "Zone Nord", Column: "zone", Value: "nord", X: 0.5, Y: 0.3, Radius: 10},
					{Label: "Zone Süd", Column: "zone", Value: "sued", X: 0.5, Y: 0.7, Radius: 10},
				},
			},
			{
				ElementID: 412,
				Name:      TableChartName,
				Kind:      model.ChartKindTable,
				Features: []model.MapFeature{
					{Label: "Knoten 7", Column: "objectid", Value: "7"},
					{Label: "Knoten 9", Column: "objectid", Value: "9"},
				},
			},
			{
				ElementID: 413,
				Name:      ZonesTableName,
				Kind:      model.ChartKindTable,
				Features: []model.MapFeature{
					{Label: "BRW 1", Column: "objectid", Value: "7"},
					{Label: "BRW 2", Column: "objectid", Value: "11"},
				},
			},
		},
	}
}
