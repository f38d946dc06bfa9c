package observe

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/thatsimonsguy/blackout-monitor/internal/classifier"
	"github.com/thatsimonsguy/blackout-monitor/internal/model"
)

const (
	outageSelector      = "span.uk-text-danger"
	operationalSelector = "span.uk-text-primary"
	windowSelector      = "div.m-attention__text"
)

// PageProbe reads the house state off a public status page.
type PageProbe struct {
	url       string
	renderer  Renderer
	ambiguous model.PowerState
}

func NewPageProbe(url string, renderer Renderer, ambiguous model.PowerState) *PageProbe {
	return &PageProbe{url: url, renderer: renderer, ambiguous: ambiguous}
}

func (p *PageProbe) Name() string { return "page" }

func (p *PageProbe) Observe(ctx context.Context) (model.PowerState, error) {
	html, err := p.renderer.Render(ctx, p.url, outageSelector+", "+operationalSelector)
	if err != nil {
		return model.StateUnknown, err
	}
	return ClassifyPage(html, p.ambiguous)
}

func (p *PageProbe) Reset() error { return p.renderer.Reset() }
func (p *PageProbe) Close() error { return p.renderer.Close() }

// ClassifyPage maps status page markup to a power state. A "down" marker wins
// over an "operational" one; a page showing neither yields ambiguous.
func ClassifyPage(html string, ambiguous model.PowerState) (model.PowerState, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return model.StateUnknown, fmt.Errorf("%w: parse page: %v", ErrObservationFailure, err)
	}

	if containsFold(doc.Find(outageSelector).First().Text(), "down") {
		return model.StateOff, nil
	}
	if containsFold(doc.Find(operationalSelector).First().Text(), "operational") {
		return model.StateOn, nil
	}
	return ambiguous, nil
}

// WindowSource reads today's stable outage window from the grid operator's
// page.
type WindowSource struct {
	url      string
	renderer Renderer
}

func NewWindowSource(url string, renderer Renderer) *WindowSource {
	return &WindowSource{url: url, renderer: renderer}
}

// Fetch returns the parsed window. Any error means the window is unknown.
func (w *WindowSource) Fetch(ctx context.Context) (model.OutageWindow, error) {
	if w.url == "" {
		return model.OutageWindow{}, ErrConfigurationMissing
	}

	html, err := w.renderer.Render(ctx, w.url, windowSelector)
	if err != nil {
		return model.OutageWindow{}, err
	}

	text, ok := WindowText(html)
	if !ok {
		return model.OutageWindow{}, fmt.Errorf("%w: %s not found on %s", ErrObservationFailure, windowSelector, w.url)
	}
	return classifier.ParseOutageWindow(text), nil
}

// WindowText returns the text of the outage notice block, if the page has one.
func WindowText(html string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}
	sel := doc.Find(windowSelector).First()
	if sel.Length() == 0 {
		return "", false
	}
	return strings.TrimSpace(sel.Text()), true
}

func (w *WindowSource) Reset() error { return w.renderer.Reset() }
func (w *WindowSource) Close() error { return w.renderer.Close() }
