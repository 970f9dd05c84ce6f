package browser

import (
	"context"
	"errors"
	"time"
)

const (
	errorMessageElementNotFound   = "browser: element not found"
	errorMessageElementNotVisible = "browser: element not visible"
	errorMessageTimeout           = "browser: timed out"
	errorMessageUnsupportedDriver = "browser: unsupported driver"
	errorMessageInvalidSelector   = "browser: invalid selector"
	errorMessagePageClosed        = "browser: page closed"
)

var (
	// ErrElementNotFound indicates the selector resolved to no element.
	ErrElementNotFound = errors.New(errorMessageElementNotFound)
	// ErrElementNotVisible indicates the element exists but is not rendered.
	ErrElementNotVisible = errors.New(errorMessageElementNotVisible)
	// ErrTimeout indicates a bounded wait expired.
	ErrTimeout = errors.New(errorMessageTimeout)
	// ErrUnsupportedDriver indicates an unknown driver name.
	ErrUnsupportedDriver = errors.New(errorMessageUnsupportedDriver)
	// ErrInvalidSelector indicates a selector without exactly one strategy.
	ErrInvalidSelector = errors.New(errorMessageInvalidSelector)
	// ErrPageClosed indicates an operation on a closed page.
	ErrPageClosed = errors.New(errorMessagePageClosed)
)

// MouseButton names a pointer button.
type MouseButton string

const (
	MouseButtonLeft   MouseButton = "left"
	MouseButtonRight  MouseButton = "right"
	MouseButtonMiddle MouseButton = "middle"
)

// Modifier names a keyboard modifier held during a pointer action.
type Modifier string

const (
	ModifierShift   Modifier = "Shift"
	ModifierControl Modifier = "Control"
	ModifierAlt     Modifier = "Alt"
	ModifierMeta    Modifier = "Meta"
)

// Point is a pixel coordinate.
type Point struct {
	X float64
	Y float64
}

// BoundingBox is the viewport rectangle of a rendered element.
type BoundingBox struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// IsDegenerate reports whether the box has no area.
func (box BoundingBox) IsDegenerate() bool {
	return box.Width <= 0 || box.Height <= 0
}

// Absolute converts a box-relative offset into a viewport coordinate.
func (box BoundingBox) Absolute(offset Point) Point {
	return Point{X: box.X + offset.X, Y: box.Y + offset.Y}
}

// ContainsOffset reports whether a box-relative offset falls inside the box.
func (box BoundingBox) ContainsOffset(offset Point) bool {
	return offset.X >= 0 && offset.Y >= 0 && offset.X < box.Width && offset.Y < box.Height
}

// Center returns the viewport coordinate of the box center.
func (box BoundingBox) Center() Point {
	return Point{X: box.X + box.Width/2, Y: box.Y + box.Height/2}
}

// ClickOptions tunes a click. The zero value is a single left click at the element center.
type ClickOptions struct {
	Button     MouseButton
	Modifiers  []Modifier
	Position   *Point
	ClickCount int
}

func (options ClickOptions) normalized() ClickOptions {
	if options.Button == "" {
		options.Button = MouseButtonLeft
	}
	if options.ClickCount <= 0 {
		options.ClickCount = 1
	}
	return options
}

// Page is a single isolated browser tab with its own cookie jar.
type Page interface {
	Navigate(ctx context.Context, targetURL string) error
	Title(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	WaitNetworkIdle(ctx context.Context) error

	Fill(ctx context.Context, selector Selector, value string) error
	Click(ctx context.Context, selector Selector, options ClickOptions) error
	WaitVisible(ctx context.Context, selector Selector, timeout time.Duration) error
	WaitHidden(ctx context.Context, selector Selector, timeout time.Duration) error
	IsVisible(ctx context.Context, selector Selector) (bool, error)
	Count(ctx context.Context, selector Selector) (int, error)
	BoundingBox(ctx context.Context, selector Selector) (BoundingBox, error)
	Attribute(ctx context.Context, selector Selector, name string) (string, error)
	InnerText(ctx context.Context, selector Selector) (string, error)
	ScrollIntoView(ctx context.Context, selector Selector) error

	MouseMove(ctx context.Context, point Point) error
	MouseClick(ctx context.Context, point Point, options ClickOptions) error
	Sleep(ctx context.Context, duration time.Duration) error

	Close() error
}

// Browser owns a running browser process and hands out isolated pages.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}
