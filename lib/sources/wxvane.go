/*
 * Triggerr
 * Copyright (C) 2025  Triggerr, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package sources

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/e3o8o/triggerr-sub002/lib/canonical"
	"github.com/e3o8o/triggerr-sub002/lib/defaults"
)

const (
	wxVaneName        = "wxvane"
	wxVanePriority    = 80
	wxVaneReliability = 0.85
	wxVaneVersion     = "2024-06"
)

// WxVaneConfig configures the WxVane weather source. WxVane authenticates
// with the API key in a request header.
type WxVaneConfig struct {
	// APIKey is sent as the X-Api-Key header.
	APIKey string
	// BaseURL overrides the production endpoint, used in tests.
	BaseURL string
	// HTTPClient is optional; a timeout-bounded default is used otherwise.
	HTTPClient *http.Client
	// Clock is optional and can be used to control time in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults checks and sets defaults.
func (c *WxVaneConfig) CheckAndSetDefaults() error {
	if c.APIKey == "" {
		return trace.BadParameter("missing parameter APIKey")
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.wxvane.io"
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaults.ProviderRequestTimeout}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// NewWxVane returns the secondary weather source.
func NewWxVane(cfg WxVaneConfig) (*WxVane, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &WxVane{cfg: cfg}, nil
}

// WxVane translates WxVane responses into canonical weather records.
type WxVane struct {
	cfg WxVaneConfig
}

func (w *WxVane) Name() string         { return wxVaneName }
func (w *WxVane) Priority() int        { return wxVanePriority }
func (w *WxVane) Reliability() float64 { return wxVaneReliability }

// CheckAvailability hits the health endpoint.
func (w *WxVane) CheckAvailability(ctx context.Context) error {
	var out struct{}
	err := getJSON(ctx, w.cfg.HTTPClient, w.cfg.BaseURL, "/healthz", nil, w.auth, &out)
	if err != nil && !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	return nil
}

func (w *WxVane) auth(req *http.Request) {
	req.Header.Set("X-Api-Key", w.cfg.APIKey)
}

type wxVaneResponse struct {
	Airport  string `json:"airport"`
	Time     string `json:"time"`
	Summary  string `json:"summary"`
	Code     string `json:"code"`
	Metrics  struct {
		TempC    *float64 `json:"temp_c"`
		WindKts  *float64 `json:"wind_kts"`
		WindCard string   `json:"wind_cardinal"`
		RainMM   *float64 `json:"rain_mm"`
		VisKM    *float64 `json:"visibility_km"`
		Humidity *float64 `json:"humidity"`
		Pressure *float64 `json:"pressure"`
	} `json:"metrics"`
}

// FetchWeather fetches one airport slot and normalizes it.
func (w *WxVane) FetchWeather(ctx context.Context, q WeatherQuery) (*canonical.Weather, error) {
	query := url.Values{
		"date":   []string{q.Date.UTC().Format(time.DateOnly)},
		"period": []string{string(q.Period)},
	}
	var resp wxVaneResponse
	err := getJSON(ctx, w.cfg.HTTPClient, w.cfg.BaseURL, "/v2/airports/"+q.AirportIATA+"/weather", query, w.auth, &resp)
	if err != nil {
		providerRequestsCounter.WithLabelValues(wxVaneName, requestResult(err)).Inc()
		return nil, trace.Wrap(err)
	}
	providerRequestsCounter.WithLabelValues(wxVaneName, "ok").Inc()
	if resp.Airport == "" {
		return nil, trace.NotFound("wxvane has no data for %v", q.AirportIATA)
	}
	wx, err := w.toCanonical(q, resp)
	return wx, trace.Wrap(err)
}

func (w *WxVane) toCanonical(q WeatherQuery, in wxVaneResponse) (*canonical.Weather, error) {
	out := &canonical.Weather{
		AirportIATA:     in.Airport,
		Period:          q.Period,
		ConditionCode:   in.Code,
		ConditionText:   in.Summary,
		Condition:       conditionClass(in.Summary),
		WindDirection:   in.Metrics.WindCard,
		TemperatureC:    in.Metrics.TempC,
		WindSpeedKts:    in.Metrics.WindKts,
		PrecipitationMM: in.Metrics.RainMM,
		VisibilityKM:    in.Metrics.VisKM,
		HumidityPct:     in.Metrics.Humidity,
		PressureHPa:     in.Metrics.Pressure,
	}

	observed, err := parseProviderTime(in.Time)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if observed.IsZero() {
		observed = q.Date.UTC()
	}
	out.ObservationTime = observed

	fields := []string{"airport", "observation_time", "condition"}
	for field, present := range map[string]bool{
		"temperature_c":    out.TemperatureC != nil,
		"wind_speed_kts":   out.WindSpeedKts != nil,
		"precipitation_mm": out.PrecipitationMM != nil,
		"visibility_km":    out.VisibilityKM != nil,
		"humidity_pct":     out.HumidityPct != nil,
		"pressure_hpa":     out.PressureHPa != nil,
	} {
		if present {
			fields = append(fields, field)
		}
	}

	now := w.cfg.Clock.Now().UTC()
	completeness := canonical.WeatherCompleteness(out, wxVaneReliability)
	out.Contributions = []canonical.SourceContribution{{
		SourceName: wxVaneName,
		Fields:     fields,
		Timestamp:  now,
		Confidence: confidence(completeness, wxVaneReliability),
		APIVersion: wxVaneVersion,
	}}
	out.DataQualityScore = completeness
	out.LastUpdated = now
	return out, nil
}
