// Package browsertest provides a scripted in-memory browser.Page for exercising harness logic
// without a real browser.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/dashprobe/internal/browser"
)

var (
	_ browser.Page    = (*Page)(nil)
	_ browser.Browser = (*Browser)(nil)
)

// Element is the scripted state of one selector.
type Element struct {
	Visible bool
	// VisibleAt overrides Visible with a function of the current pointer position.
	VisibleAt func(pointer browser.Point) bool
	// RevealOnScroll makes the element visible once it is scrolled into view.
	RevealOnScroll bool
	Box            browser.BoundingBox
	Text           string
	Attributes     map[string]string
	// Count overrides the match count; zero means one match.
	Count int
}

// ClickRecord captures a selector click.
type ClickRecord struct {
	Selector browser.Selector
	Options  browser.ClickOptions
}

// MouseClickRecord captures a pointer click at a coordinate.
type MouseClickRecord struct {
	Point   browser.Point
	Options browser.ClickOptions
}

// Page is a scripted browser.Page. Hooks run without the page lock held and may mutate the page.
type Page struct {
	mutex sync.Mutex

	elements         map[string]*Element
	title            string
	currentURL       string
	pointer          browser.Point
	navigations      []string
	clicks           []ClickRecord
	mouseMoves       []browser.Point
	mouseClicks      []MouseClickRecord
	fills            map[string]string
	scrolls          []browser.Selector
	sleeps           []time.Duration
	visibilityChecks map[string]int
	boxQueries       map[string]int
	networkIdleWaits int
	closeCount       int

	// OnNavigate runs after the URL changes.
	OnNavigate func(page *Page, targetURL string) error
	// OnClick runs after a selector click is recorded.
	OnClick func(page *Page, selector browser.Selector, options browser.ClickOptions) error
	// OnMouseClick runs after a pointer click is recorded.
	OnMouseClick func(page *Page, point browser.Point, options browser.ClickOptions) error
	// OnSleep runs after a delay is recorded.
	OnSleep func(page *Page, duration time.Duration) error
	// NetworkIdleErr is returned from WaitNetworkIdle when set.
	NetworkIdleErr error
}

// NewPage returns an empty scripted page.
func NewPage() *Page {
	return &Page{
		elements:         make(map[string]*Element),
		fills:            make(map[string]string),
		visibilityChecks: make(map[string]int),
		boxQueries:       make(map[string]int),
	}
}

// SetTitle scripts the document title.
func (page *Page) SetTitle(title string) {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.title = title
}

// SetURL scripts the current location.
func (page *Page) SetURL(currentURL string) {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.currentURL = currentURL
}

// SetElement scripts the element addressed by the selector.
func (page *Page) SetElement(selector browser.Selector, element Element) {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	stored := element
	page.elements[selector.String()] = &stored
}

// RemoveElement drops the element addressed by the selector.
func (page *Page) RemoveElement(selector browser.Selector) {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	delete(page.elements, selector.String())
}

// SetVisible toggles the static visibility of a scripted element, creating it when absent.
func (page *Page) SetVisible(selector browser.Selector, visible bool) {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	element, exists := page.elements[selector.String()]
	if !exists {
		element = &Element{}
		page.elements[selector.String()] = element
	}
	element.Visible = visible
	element.VisibleAt = nil
}

func (page *Page) lookup(selector browser.Selector) (*Element, error) {
	if validationErr := selector.Validate(); validationErr != nil {
		return nil, validationErr
	}
	element, exists := page.elements[selector.String()]
	if !exists {
		return nil, fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	return element, nil
}

func (page *Page) visibleLocked(element *Element) bool {
	if element.VisibleAt != nil {
		return element.VisibleAt(page.pointer)
	}
	return element.Visible
}

func (page *Page) requireVisible(selector browser.Selector) (*Element, error) {
	element, lookupErr := page.lookup(selector)
	if lookupErr != nil {
		return nil, fmt.Errorf("%w: %v", browser.ErrTimeout, lookupErr)
	}
	if !page.visibleLocked(element) {
		return nil, fmt.Errorf("%w: %s not visible", browser.ErrTimeout, selector)
	}
	return element, nil
}

func (page *Page) Navigate(ctx context.Context, targetURL string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	page.mutex.Lock()
	page.navigations = append(page.navigations, targetURL)
	page.currentURL = targetURL
	hook := page.OnNavigate
	page.mutex.Unlock()
	if hook != nil {
		return hook(page, targetURL)
	}
	return nil
}

func (page *Page) Title(ctx context.Context) (string, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return page.title, nil
}

func (page *Page) URL(ctx context.Context) (string, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return page.currentURL, nil
}

func (page *Page) WaitNetworkIdle(ctx context.Context) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.networkIdleWaits++
	return page.NetworkIdleErr
}

func (page *Page) Fill(ctx context.Context, selector browser.Selector, value string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	page.mutex.Lock()
	defer page.mutex.Unlock()
	if _, visibleErr := page.requireVisible(selector); visibleErr != nil {
		return visibleErr
	}
	page.fills[selector.String()] = value
	return nil
}

func (page *Page) Click(ctx context.Context, selector browser.Selector, options browser.ClickOptions) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	page.mutex.Lock()
	if _, visibleErr := page.requireVisible(selector); visibleErr != nil {
		page.mutex.Unlock()
		return visibleErr
	}
	page.clicks = append(page.clicks, ClickRecord{Selector: selector, Options: options})
	hook := page.OnClick
	page.mutex.Unlock()
	if hook != nil {
		return hook(page, selector, options)
	}
	return nil
}

func (page *Page) WaitVisible(ctx context.Context, selector browser.Selector, _ time.Duration) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	page.mutex.Lock()
	defer page.mutex.Unlock()
	_, visibleErr := page.requireVisible(selector)
	return visibleErr
}

func (page *Page) WaitHidden(ctx context.Context, selector browser.Selector, _ time.Duration) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	page.mutex.Lock()
	defer page.mutex.Unlock()
	element, lookupErr := page.lookup(selector)
	if lookupErr != nil {
		return nil
	}
	if page.visibleLocked(element) {
		return fmt.Errorf("%w: %s still visible", browser.ErrTimeout, selector)
	}
	return nil
}

func (page *Page) IsVisible(ctx context.Context, selector browser.Selector) (bool, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.visibilityChecks[selector.String()]++
	element, lookupErr := page.lookup(selector)
	if lookupErr != nil {
		return false, nil
	}
	return page.visibleLocked(element), nil
}

func (page *Page) Count(ctx context.Context, selector browser.Selector) (int, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, ctxErr
	}
	page.mutex.Lock()
	defer page.mutex.Unlock()
	element, lookupErr := page.lookup(selector)
	if lookupErr != nil {
		return 0, nil
	}
	if element.Count > 0 {
		return element.Count, nil
	}
	return 1, nil
}

func (page *Page) BoundingBox(ctx context.Context, selector browser.Selector) (browser.BoundingBox, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return browser.BoundingBox{}, ctxErr
	}
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.boxQueries[selector.String()]++
	element, lookupErr := page.lookup(selector)
	if lookupErr != nil {
		return browser.BoundingBox{}, lookupErr
	}
	return element.Box, nil
}

func (page *Page) Attribute(ctx context.Context, selector browser.Selector, name string) (string, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	page.mutex.Lock()
	defer page.mutex.Unlock()
	element, lookupErr := page.lookup(selector)
	if lookupErr != nil {
		return "", lookupErr
	}
	return element.Attributes[name], nil
}

func (page *Page) InnerText(ctx context.Context, selector browser.Selector) (string, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	page.mutex.Lock()
	defer page.mutex.Unlock()
	element, lookupErr := page.lookup(selector)
	if lookupErr != nil {
		return "", lookupErr
	}
	return element.Text, nil
}

func (page *Page) ScrollIntoView(ctx context.Context, selector browser.Selector) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.scrolls = append(page.scrolls, selector)
	element, lookupErr := page.lookup(selector)
	if lookupErr != nil {
		return lookupErr
	}
	if element.RevealOnScroll {
		element.Visible = true
	}
	return nil
}

func (page *Page) MouseMove(ctx context.Context, point browser.Point) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.pointer = point
	page.mouseMoves = append(page.mouseMoves, point)
	return nil
}

func (page *Page) MouseClick(ctx context.Context, point browser.Point, options browser.ClickOptions) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	page.mutex.Lock()
	page.pointer = point
	page.mouseClicks = append(page.mouseClicks, MouseClickRecord{Point: point, Options: options})
	hook := page.OnMouseClick
	page.mutex.Unlock()
	if hook != nil {
		return hook(page, point, options)
	}
	return nil
}

// Sleep records the requested delay and returns immediately.
func (page *Page) Sleep(ctx context.Context, duration time.Duration) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	page.mutex.Lock()
	page.sleeps = append(page.sleeps, duration)
	onSleep := page.OnSleep
	page.mutex.Unlock()
	if onSleep != nil {
		return onSleep(page, duration)
	}
	return nil
}

func (page *Page) Close() error {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.closeCount++
	return nil
}

// Navigations lists every navigated URL in order.
func (page *Page) Navigations() []string {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return append([]string(nil), page.navigations...)
}

// Clicks lists every selector click in order.
func (page *Page) Clicks() []ClickRecord {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return append([]ClickRecord(nil), page.clicks...)
}

// MouseMoves lists every pointer move in order.
func (page *Page) MouseMoves() []browser.Point {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return append([]browser.Point(nil), page.mouseMoves...)
}

// MouseClicks lists every pointer click in order.
func (page *Page) MouseClicks() []MouseClickRecord {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return append([]MouseClickRecord(nil), page.mouseClicks...)
}

// Filled returns the last value filled into the selector.
func (page *Page) Filled(selector browser.Selector) (string, bool) {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	value, filled := page.fills[selector.String()]
	return value, filled
}

// Scrolls lists every scrolled selector in order.
func (page *Page) Scrolls() []browser.Selector {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return append([]browser.Selector(nil), page.scrolls...)
}

// Sleeps lists every requested delay in order.
func (page *Page) Sleeps() []time.Duration {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return append([]time.Duration(nil), page.sleeps...)
}

// VisibilityChecks counts IsVisible calls for the selector.
func (page *Page) VisibilityChecks(selector browser.Selector) int {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return page.visibilityChecks[selector.String()]
}

// BoundingBoxQueries counts BoundingBox calls for the selector.
func (page *Page) BoundingBoxQueries(selector browser.Selector) int {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return page.boxQueries[selector.String()]
}

// NetworkIdleWaits counts WaitNetworkIdle calls.
func (page *Page) NetworkIdleWaits() int {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return page.networkIdleWaits
}

// CloseCount counts Close calls.
func (page *Page) CloseCount() int {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return page.closeCount
}

// Browser hands out scripted pages in order.
type Browser struct {
	mutex      sync.Mutex
	pages      []*Page
	opened     int
	closeCount int
	// NewPageErr is returned from NewPage when set.
	NewPageErr error
}

// NewBrowser returns a browser that serves the given pages in order.
func NewBrowser(pages ...*Page) *Browser {
	return &Browser{pages: pages}
}

func (fake *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	if fake.NewPageErr != nil {
		return nil, fake.NewPageErr
	}
	if fake.opened >= len(fake.pages) {
		return nil, fmt.Errorf("browsertest: no scripted page left after %d", fake.opened)
	}
	page := fake.pages[fake.opened]
	fake.opened++
	return page, nil
}

func (fake *Browser) Close() error {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	fake.closeCount++
	return nil
}

// OpenedPages counts NewPage calls that returned a page.
func (fake *Browser) OpenedPages() int {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	return fake.opened
}

// CloseCount counts Close calls.
func (fake *Browser) CloseCount() int {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	return fake.closeCount
}
