package browser_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/dashprobe/internal/browser"
)

func TestSelectorValidate(t *testing.T) {
	testCases := []struct {
		name          string
		selector      browser.Selector
		expectedError error
	}{
		{name: "css", selector: browser.CSS("#username")},
		{name: "text", selector: browser.Text("Dashboards")},
		{name: "role with name", selector: browser.Role("button", "View as table")},
		{name: "filtered nth", selector: browser.CSS("button.superset-button-primary").WithText("Connect").Nth(1)},
		{name: "empty", selector: browser.Selector{}, expectedError: browser.ErrInvalidSelector},
		{name: "blank css", selector: browser.CSS("   "), expectedError: browser.ErrInvalidSelector},
		{name: "two strategies", selector: browser.Selector{CSS: "div", Text: "Other"}, expectedError: browser.ErrInvalidSelector},
		{name: "negative index", selector: browser.CSS("div").Nth(-1), expectedError: browser.ErrInvalidSelector},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			validationErr := testCase.selector.Validate()
			if testCase.expectedError == nil {
				require.NoError(t, validationErr)
				return
			}
			require.Error(t, validationErr)
			require.True(t, errors.Is(validationErr, testCase.expectedError))
		})
	}
}

func TestSelectorString(t *testing.T) {
	require.Equal(t, "#chart-id-325 canvas", browser.CSS("#chart-id-325 canvas").String())
	require.Equal(t, `text="Remove cross-filter"`, browser.Text("Remove cross-filter").String())
	require.Equal(t, `role=button[name="View query"]`, browser.Role("button", "View query").String())
	require.Equal(t, `role=alert`, browser.Role("alert", "").String())
	require.Equal(t, `button >> has-text="Delete" >> nth=2`, browser.CSS("button").WithText("Delete").Nth(2).String())
	require.Equal(t, "<empty>", browser.Selector{}.String())
}

func TestSelectorBuildersDoNotMutateReceiver(t *testing.T) {
	base := browser.CSS("li")
	narrowed := base.WithText("»").Nth(3)

	require.Empty(t, base.HasText)
	require.Zero(t, base.Index)
	require.Equal(t, "»", narrowed.HasText)
	require.Equal(t, 3, narrowed.Index)
}

func TestBoundingBoxGeometry(t *testing.T) {
	box := browser.BoundingBox{X: 10, Y: 20, Width: 100, Height: 50}

	require.False(t, box.IsDegenerate())
	require.True(t, browser.BoundingBox{Width: 0, Height: 10}.IsDegenerate())
	require.True(t, browser.BoundingBox{Width: 10, Height: -1}.IsDegenerate())

	require.Equal(t, browser.Point{X: 50, Y: 60}, box.Absolute(browser.Point{X: 40, Y: 40}))
	require.Equal(t, browser.Point{X: 60, Y: 45}, box.Center())

	require.True(t, box.ContainsOffset(browser.Point{X: 0, Y: 0}))
	require.True(t, box.ContainsOffset(browser.Point{X: 99.5, Y: 49}))
	require.False(t, box.ContainsOffset(browser.Point{X: 100, Y: 10}))
	require.False(t, box.ContainsOffset(browser.Point{X: 10, Y: 50}))
	require.False(t, box.ContainsOffset(browser.Point{X: -1, Y: 0}))
}
