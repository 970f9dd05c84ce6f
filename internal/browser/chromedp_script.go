package browser

import (
	"encoding/json"
	"fmt"
)

const (
	elementActionInspect = "inspect"
	elementActionScroll  = "scroll"
	elementActionFocus   = "focus"
)

// elementScriptTemplate resolves a selector in the page and reports the state of the selected element.
// Arguments: selector query, action, attribute name.
const elementScriptTemplate = `(function(query, action, attributeName) {
  function normalize(value) {
    return String(value || '').replace(/\s+/g, ' ').trim().toLowerCase();
  }
  function isVisible(element) {
    if (!element || !element.isConnected) { return false; }
    var style = window.getComputedStyle(element);
    if (style.visibility === 'hidden' || style.display === 'none') { return false; }
    var rect = element.getBoundingClientRect();
    return rect.width > 0 && rect.height > 0;
  }
  var implicitRoles = {
    button: 'button, input[type="button"], input[type="submit"], input[type="reset"], [role="button"]',
    link: 'a[href], [role="link"]',
    textbox: 'input:not([type]), input[type="text"], input[type="password"], input[type="email"], textarea, [role="textbox"]',
    checkbox: 'input[type="checkbox"], [role="checkbox"]',
    heading: 'h1, h2, h3, h4, h5, h6, [role="heading"]',
    table: 'table, [role="table"]',
    navigation: 'nav, [role="navigation"]'
  };
  function accessibleName(element) {
    var label = element.getAttribute('aria-label');
    if (label) { return normalize(label); }
    if (element.tagName === 'INPUT') { return normalize(element.value); }
    return normalize(element.textContent);
  }
  function toArray(list) {
    return Array.prototype.slice.call(list || []);
  }
  function resolveCandidates() {
    if (query.css) {
      return toArray(document.querySelectorAll(query.css));
    }
    if (query.role) {
      var roleQuery = implicitRoles[query.role] || '[role="' + query.role + '"]';
      var roleMatches = toArray(document.querySelectorAll(roleQuery));
      if (!query.name) { return roleMatches; }
      var wantedName = normalize(query.name);
      return roleMatches.filter(function(element) {
        return accessibleName(element).indexOf(wantedName) !== -1;
      });
    }
    var needle = normalize(query.text);
    if (!document.body || !needle) { return []; }
    var textMatches = toArray(document.body.querySelectorAll('*')).filter(function(element) {
      if (element.tagName === 'SCRIPT' || element.tagName === 'STYLE') { return false; }
      return normalize(element.textContent).indexOf(needle) !== -1;
    });
    return textMatches.filter(function(element) {
      return !toArray(element.children).some(function(child) {
        return normalize(child.textContent).indexOf(needle) !== -1;
      });
    });
  }
  var candidates = resolveCandidates();
  if (query.hasText) {
    var hasText = normalize(query.hasText);
    candidates = candidates.filter(function(element) {
      return normalize(element.textContent).indexOf(hasText) !== -1;
    });
  }
  var element = candidates[query.index] || null;
  if (element && action === 'scroll') {
    element.scrollIntoView({block: 'center', inline: 'center'});
  }
  if (element && action === 'focus') {
    element.scrollIntoView({block: 'center', inline: 'center'});
    element.focus();
    if ('value' in element) {
      element.value = '';
      element.dispatchEvent(new Event('input', {bubbles: true}));
    }
  }
  var state = {count: candidates.length, found: !!element, visible: false, x: 0, y: 0, width: 0, height: 0, text: '', attribute: '', hasAttribute: false};
  if (!element) { return state; }
  var rect = element.getBoundingClientRect();
  state.visible = isVisible(element);
  state.x = rect.left;
  state.y = rect.top;
  state.width = rect.width;
  state.height = rect.height;
  state.text = element.innerText || element.textContent || '';
  if (attributeName) {
    state.hasAttribute = element.hasAttribute(attributeName);
    state.attribute = element.getAttribute(attributeName) || '';
  }
  return state;
})(%s, %s, %s)`

type selectorQuery struct {
	CSS     string `json:"css"`
	Text    string `json:"text"`
	Role    string `json:"role"`
	Name    string `json:"name"`
	HasText string `json:"hasText"`
	Index   int    `json:"index"`
}

type elementState struct {
	Count        int     `json:"count"`
	Found        bool    `json:"found"`
	Visible      bool    `json:"visible"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	Text         string  `json:"text"`
	Attribute    string  `json:"attribute"`
	HasAttribute bool    `json:"hasAttribute"`
}

func (state elementState) boundingBox() BoundingBox {
	return BoundingBox{X: state.X, Y: state.Y, Width: state.Width, Height: state.Height}
}

func buildElementScript(selector Selector, action string, attributeName string) (string, error) {
	queryJSON, queryErr := json.Marshal(selectorQuery{
		CSS:     selector.CSS,
		Text:    selector.Text,
		Role:    selector.Role,
		Name:    selector.Name,
		HasText: selector.HasText,
		Index:   selector.Index,
	})
	if queryErr != nil {
		return "", queryErr
	}
	actionJSON, actionErr := json.Marshal(action)
	if actionErr != nil {
		return "", actionErr
	}
	attributeJSON, attributeErr := json.Marshal(attributeName)
	if attributeErr != nil {
		return "", attributeErr
	}
	return fmt.Sprintf(elementScriptTemplate, queryJSON, actionJSON, attributeJSON), nil
}
