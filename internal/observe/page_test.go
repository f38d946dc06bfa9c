package observe

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/blackout-monitor/internal/model"
)

func statusPage(body string) string {
	return fmt.Sprintf(`<html><body><div class="uk-card">%s</div></body></html>`, body)
}

func TestClassifyPage(t *testing.T) {
	tests := []struct {
		name string
		html string
		want model.PowerState
	}{
		{"down marker", statusPage(`<span class="uk-text-danger">Down</span>`), model.StateOff},
		{"operational marker", statusPage(`<span class="uk-text-primary">All systems Operational</span>`), model.StateOn},
		{"down wins over operational",
			statusPage(`<span class="uk-text-primary">operational</span><span class="uk-text-danger">down</span>`),
			model.StateOff},
		{"danger span without down text", statusPage(`<span class="uk-text-danger">degraded</span>`), model.StatePossibleOutage},
		{"neither marker", statusPage(`<p>loading...</p>`), model.StatePossibleOutage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClassifyPage(tt.html, model.StatePossibleOutage)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyPage_ConfiguredAmbiguousState(t *testing.T) {
	got, err := ClassifyPage(statusPage(""), model.StateUnknown)
	require.NoError(t, err)
	assert.Equal(t, model.StateUnknown, got)
}

func pageServer(t *testing.T, status int, body string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPageProbe_WithHTTPRenderer(t *testing.T) {
	srv := pageServer(t, http.StatusOK, statusPage(`<span class="uk-text-primary">operational</span>`))
	probe := NewPageProbe(srv.URL, NewHTTPRenderer(time.Second), model.StatePossibleOutage)
	defer probe.Close()

	got, err := probe.Observe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StateOn, got)
	assert.NoError(t, probe.Reset())
}

func TestPageProbe_ServerErrorIsObservationFailure(t *testing.T) {
	srv := pageServer(t, http.StatusBadGateway, "bad gateway")
	probe := NewPageProbe(srv.URL, NewHTTPRenderer(time.Second), model.StatePossibleOutage)

	got, err := probe.Observe(context.Background())
	assert.ErrorIs(t, err, ErrObservationFailure)
	assert.Equal(t, model.StateUnknown, got)
}

func TestWindowSource_Fetch(t *testing.T) {
	srv := pageServer(t, http.StatusOK,
		`<html><body><div class="m-attention__text">Стабілізаційне відключення з 09:00 до 13:00</div></body></html>`)

	w, err := NewWindowSource(srv.URL, NewHTTPRenderer(time.Second)).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "09-13", w.String())
}

func TestWindowSource_NoTimesFallsBackToWholeDay(t *testing.T) {
	srv := pageServer(t, http.StatusOK,
		`<html><body><div class="m-attention__text">Відключення протягом доби</div></body></html>`)

	w, err := NewWindowSource(srv.URL, NewHTTPRenderer(time.Second)).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "00-24", w.String())
}

func TestWindowSource_Failures(t *testing.T) {
	missing := pageServer(t, http.StatusOK, `<html><body><p>nothing here</p></body></html>`)
	w, err := NewWindowSource(missing.URL, NewHTTPRenderer(time.Second)).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrObservationFailure)
	assert.False(t, w.Known())

	broken := pageServer(t, http.StatusInternalServerError, "")
	w, err = NewWindowSource(broken.URL, NewHTTPRenderer(time.Second)).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrObservationFailure)
	assert.False(t, w.Known())

	w, err = NewWindowSource("", NewHTTPRenderer(time.Second)).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrConfigurationMissing)
	assert.Equal(t, "none-none", w.String())
}

func TestWindowText(t *testing.T) {
	text, ok := WindowText(`<div class="m-attention__text">
		з 10:00 до 14:00
	</div><div class="m-attention__text">second</div>`)
	require.True(t, ok)
	assert.Equal(t, "з 10:00 до 14:00", text)

	_, ok = WindowText(`<div class="other">x</div>`)
	assert.False(t, ok)
}
