// Package probe finds interactive features on rendered map canvases by sweeping the pointer
// across the canvas until a hover tooltip appears.
package probe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/dashprobe/internal/browser"
)

const (
	DefaultStep                 = 10.0
	DefaultSettleDelay          = 100 * time.Millisecond
	DefaultZoomClicks           = 3
	DefaultVisibilityTimeout    = 10 * time.Second
	DefaultCanvasSelectorFormat = "%s .ol-layer canvas"
	DefaultZoomSelectorFormat   = "%s .ol-zoom-in"
	DefaultTooltipSelector      = "#infoTooltip"

	errorMessageCanvasNotVisible     = "probe: canvas not visible"
	errorMessageDegenerateCanvas     = "probe: canvas has no area"
	errorMessageTooltipAlreadyShown  = "probe: tooltip visible before probing"
	errorMessageTooltipNotFound      = "probe: tooltip never appeared"
	errorMessageInvalidOptions       = "probe: invalid options"
	errorMessageMissingContainer     = "probe: container selector is required"
	logEventProbeCanvasBox           = "probe_canvas_box"
	logEventProbeZoomed              = "probe_zoomed"
	logEventProbeNoTooltip           = "probe_no_tooltip"
	logEventProbeTooltipFound        = "probe_tooltip_found"
	logEventProbeTooltipNotFound     = "probe_tooltip_not_found"
	logFieldContainer                = "container"
	logFieldBoxX                     = "box_x"
	logFieldBoxY                     = "box_y"
	logFieldBoxWidth                 = "box_width"
	logFieldBoxHeight                = "box_height"
	logFieldOffsetX                  = "x"
	logFieldOffsetY                  = "y"
	logFieldAttempts                 = "attempts"
	logFieldZoomClicks               = "zoom_clicks"
	tooltipNotFoundDetailFormat      = "%w: %d positions over %.0fx%.0f canvas"
	selectorFailureFormat            = "%w: %s: %w"
	degenerateCanvasDetailFormat     = "%w: %s is %.1fx%.1f"
	invalidOptionsDetailFormat       = "%w: %s"
	invalidStepDetail                = "step must be positive"
	invalidSettleDetail              = "settle delay must not be negative"
	invalidZoomDetail                = "zoom clicks must not be negative"
	invalidVisibilityDetail          = "visibility timeout must be positive"
	invalidSelectorFormatDetail      = "selector formats and tooltip selector are required"
	wrappedProbeOperationErrorFormat = "%s: %w"
	operationZoom                    = "zoom in"
	operationMovePointer             = "move pointer"
	operationSettle                  = "settle"
	operationCheckTooltip            = "check tooltip"
	operationClickFeature            = "click feature"
	operationResolveCanvas           = "resolve canvas"
)

var (
	// ErrCanvasNotVisible indicates the container renders no visible canvas.
	ErrCanvasNotVisible = errors.New(errorMessageCanvasNotVisible)
	// ErrDegenerateCanvas indicates the canvas has a zero or negative dimension.
	ErrDegenerateCanvas = errors.New(errorMessageDegenerateCanvas)
	// ErrTooltipAlreadyVisible indicates the tooltip was showing before the sweep started.
	ErrTooltipAlreadyVisible = errors.New(errorMessageTooltipAlreadyShown)
	// ErrTooltipNotFound indicates no grid position made the tooltip appear.
	ErrTooltipNotFound = errors.New(errorMessageTooltipNotFound)
	// ErrInvalidOptions indicates unusable probe options.
	ErrInvalidOptions = errors.New(errorMessageInvalidOptions)
	// ErrMissingContainer indicates an empty container selector.
	ErrMissingContainer = errors.New(errorMessageMissingContainer)
)

// Options tune the sweep. Selector formats receive the container selector.
type Options struct {
	Step                 float64
	SettleDelay          time.Duration
	ZoomClicks           int
	VisibilityTimeout    time.Duration
	CanvasSelectorFormat string
	ZoomSelectorFormat   string
	TooltipSelector      string
}

// DefaultOptions returns the options used against OpenLayers map charts.
func DefaultOptions() Options {
	return Options{
		Step:                 DefaultStep,
		SettleDelay:          DefaultSettleDelay,
		ZoomClicks:           DefaultZoomClicks,
		VisibilityTimeout:    DefaultVisibilityTimeout,
		CanvasSelectorFormat: DefaultCanvasSelectorFormat,
		ZoomSelectorFormat:   DefaultZoomSelectorFormat,
		TooltipSelector:      DefaultTooltipSelector,
	}
}

// Validate reports the first unusable option.
func (options Options) Validate() error {
	switch {
	case options.Step <= 0 || math.IsNaN(options.Step) || math.IsInf(options.Step, 0):
		return fmt.Errorf(invalidOptionsDetailFormat, ErrInvalidOptions, invalidStepDetail)
	case options.SettleDelay < 0:
		return fmt.Errorf(invalidOptionsDetailFormat, ErrInvalidOptions, invalidSettleDetail)
	case options.ZoomClicks < 0:
		return fmt.Errorf(invalidOptionsDetailFormat, ErrInvalidOptions, invalidZoomDetail)
	case options.VisibilityTimeout <= 0:
		return fmt.Errorf(invalidOptionsDetailFormat, ErrInvalidOptions, invalidVisibilityDetail)
	case strings.TrimSpace(options.CanvasSelectorFormat) == "",
		strings.TrimSpace(options.ZoomSelectorFormat) == "",
		strings.TrimSpace(options.TooltipSelector) == "":
		return fmt.Errorf(invalidOptionsDetailFormat, ErrInvalidOptions, invalidSelectorFormatDetail)
	}
	return nil
}

// Result describes where the tooltip appeared.
type Result struct {
	// Position is the offset inside the canvas box.
	Position browser.Point
	// Absolute is the viewport coordinate that was hovered and clicked.
	Absolute browser.Point
	// Box is the canvas box snapshotted before the sweep.
	Box      browser.BoundingBox
	Attempts int
}

// Prober sweeps canvases for hover tooltips.
type Prober struct {
	options Options
	logger  *zap.Logger
}

// NewProber validates the options and returns a prober.
func NewProber(options Options, logger *zap.Logger) (*Prober, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validationErr := options.Validate(); validationErr != nil {
		return nil, validationErr
	}
	return &Prober{options: options, logger: logger}, nil
}

// CanvasSelector addresses the first map canvas inside the container.
func (prober *Prober) CanvasSelector(container string) browser.Selector {
	return browser.CSS(fmt.Sprintf(prober.options.CanvasSelectorFormat, container))
}

// ZoomSelector addresses the zoom-in control of the container.
func (prober *Prober) ZoomSelector(container string) browser.Selector {
	return browser.CSS(fmt.Sprintf(prober.options.ZoomSelectorFormat, container))
}

// TooltipSelector addresses the hover tooltip overlay.
func (prober *Prober) TooltipSelector() browser.Selector {
	return browser.CSS(prober.options.TooltipSelector)
}

// ResolveCanvas waits for the container canvas and returns its current box.
func (prober *Prober) ResolveCanvas(ctx context.Context, page browser.Page, container string) (browser.BoundingBox, error) {
	if strings.TrimSpace(container) == "" {
		return browser.BoundingBox{}, ErrMissingContainer
	}
	canvas := prober.CanvasSelector(container)
	if waitErr := page.WaitVisible(ctx, canvas, prober.options.VisibilityTimeout); waitErr != nil {
		return browser.BoundingBox{}, fmt.Errorf(selectorFailureFormat, ErrCanvasNotVisible, canvas, waitErr)
	}
	box, boxErr := page.BoundingBox(ctx, canvas)
	if boxErr != nil {
		return browser.BoundingBox{}, fmt.Errorf(selectorFailureFormat, ErrCanvasNotVisible, canvas, boxErr)
	}
	if box.IsDegenerate() {
		return browser.BoundingBox{}, fmt.Errorf(degenerateCanvasDetailFormat, ErrDegenerateCanvas, canvas, box.Width, box.Height)
	}
	return box, nil
}

// HoverCanvasUntilTooltip zooms into the container map, then moves the pointer over the canvas
// row by row until the tooltip shows, and clicks that coordinate. The grid starts at the box
// origin and excludes the far edges.
func (prober *Prober) HoverCanvasUntilTooltip(ctx context.Context, page browser.Page, container string) (Result, error) {
	initialBox, resolveErr := prober.ResolveCanvas(ctx, page, container)
	if resolveErr != nil {
		return Result{}, resolveErr
	}
	containerLogger := prober.logger.With(zap.String(logFieldContainer, container))
	logBox(containerLogger, initialBox)

	tooltip := prober.TooltipSelector()
	if hiddenErr := page.WaitHidden(ctx, tooltip, prober.options.VisibilityTimeout); hiddenErr != nil {
		return Result{}, fmt.Errorf(selectorFailureFormat, ErrTooltipAlreadyVisible, tooltip, hiddenErr)
	}

	if prober.options.ZoomClicks > 0 {
		zoomErr := page.Click(ctx, prober.ZoomSelector(container), browser.ClickOptions{ClickCount: prober.options.ZoomClicks})
		if zoomErr != nil {
			return Result{}, fmt.Errorf(wrappedProbeOperationErrorFormat, operationZoom, zoomErr)
		}
		containerLogger.Debug(logEventProbeZoomed, zap.Int(logFieldZoomClicks, prober.options.ZoomClicks))
	}

	// Zooming re-renders the canvas, so the box used for the sweep is taken afterwards and kept
	// for every move and the final click.
	box, snapshotErr := prober.ResolveCanvas(ctx, page, container)
	if snapshotErr != nil {
		return Result{}, fmt.Errorf(wrappedProbeOperationErrorFormat, operationResolveCanvas, snapshotErr)
	}
	logBox(containerLogger, box)

	attempts := 0
	for offsetY := 0.0; offsetY < box.Height; offsetY += prober.options.Step {
		for offsetX := 0.0; offsetX < box.Width; offsetX += prober.options.Step {
			attempts++
			position := browser.Point{X: offsetX, Y: offsetY}
			absolute := box.Absolute(position)

			if moveErr := page.MouseMove(ctx, absolute); moveErr != nil {
				return Result{}, fmt.Errorf(wrappedProbeOperationErrorFormat, operationMovePointer, moveErr)
			}
			if settleErr := page.Sleep(ctx, prober.options.SettleDelay); settleErr != nil {
				return Result{}, fmt.Errorf(wrappedProbeOperationErrorFormat, operationSettle, settleErr)
			}
			visible, visibleErr := page.IsVisible(ctx, tooltip)
			if visibleErr != nil {
				return Result{}, fmt.Errorf(wrappedProbeOperationErrorFormat, operationCheckTooltip, visibleErr)
			}
			if !visible {
				containerLogger.Debug(logEventProbeNoTooltip, zap.Float64(logFieldOffsetX, offsetX), zap.Float64(logFieldOffsetY, offsetY))
				continue
			}

			containerLogger.Info(logEventProbeTooltipFound,
				zap.Float64(logFieldOffsetX, offsetX),
				zap.Float64(logFieldOffsetY, offsetY),
				zap.Int(logFieldAttempts, attempts),
			)
			if clickErr := page.MouseClick(ctx, absolute, browser.ClickOptions{}); clickErr != nil {
				return Result{}, fmt.Errorf(wrappedProbeOperationErrorFormat, operationClickFeature, clickErr)
			}
			return Result{Position: position, Absolute: absolute, Box: box, Attempts: attempts}, nil
		}
	}

	containerLogger.Warn(logEventProbeTooltipNotFound, zap.Int(logFieldAttempts, attempts))
	return Result{}, fmt.Errorf(tooltipNotFoundDetailFormat, ErrTooltipNotFound, attempts, box.Width, box.Height)
}

func logBox(logger *zap.Logger, box browser.BoundingBox) {
	logger.Info(logEventProbeCanvasBox,
		zap.Float64(logFieldBoxX, box.X),
		zap.Float64(logFieldBoxY, box.Y),
		zap.Float64(logFieldBoxWidth, box.Width),
		zap.Float64(logFieldBoxHeight, box.Height),
	)
}
