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
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/e3o8o/triggerr-sub002/lib/canonical"
	"github.com/e3o8o/triggerr-sub002/lib/defaults"
)

const (
	meteoStreamName        = "meteostream"
	meteoStreamPriority    = 90
	meteoStreamReliability = 0.90
	meteoStreamVersion     = "v1"
)

// MeteoStreamConfig configures the MeteoStream weather source. MeteoStream
// authenticates with the API key as a query parameter.
type MeteoStreamConfig struct {
	// APIKey is sent as the key query parameter.
	APIKey string
	// BaseURL overrides the production endpoint, used in tests.
	BaseURL string
	// HTTPClient is optional; a timeout-bounded default is used otherwise.
	HTTPClient *http.Client
	// Clock is optional and can be used to control time in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults checks and sets defaults.
func (c *MeteoStreamConfig) CheckAndSetDefaults() error {
	if c.APIKey == "" {
		return trace.BadParameter("missing parameter APIKey")
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.meteostream.com/v1"
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaults.ProviderRequestTimeout}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// NewMeteoStream returns the primary weather source.
func NewMeteoStream(cfg MeteoStreamConfig) (*MeteoStream, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &MeteoStream{cfg: cfg}, nil
}

// MeteoStream translates MeteoStream responses into canonical weather
// records.
type MeteoStream struct {
	cfg MeteoStreamConfig
}

func (m *MeteoStream) Name() string         { return meteoStreamName }
func (m *MeteoStream) Priority() int        { return meteoStreamPriority }
func (m *MeteoStream) Reliability() float64 { return meteoStreamReliability }

// CheckAvailability hits the ping endpoint.
func (m *MeteoStream) CheckAvailability(ctx context.Context) error {
	var out struct{}
	query := url.Values{"key": []string{m.cfg.APIKey}}
	err := getJSON(ctx, m.cfg.HTTPClient, m.cfg.BaseURL, "/ping", query, nil, &out)
	if err != nil && !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	return nil
}

type meteoStreamResponse struct {
	Station     string  `json:"station"`
	ObservedAt  string  `json:"observed_at"`
	TempC       *float64 `json:"temp_c"`
	Condition   string  `json:"condition"`
	ConditionID string  `json:"condition_id"`
	WindKts     *float64 `json:"wind_kts"`
	WindDir     string  `json:"wind_dir"`
	PrecipMM    *float64 `json:"precip_mm"`
	VisKM       *float64 `json:"vis_km"`
	HumidityPct *float64 `json:"humidity_pct"`
	PressureHPa *float64 `json:"pressure_hpa"`
}

// FetchWeather fetches one airport slot and normalizes it.
func (m *MeteoStream) FetchWeather(ctx context.Context, q WeatherQuery) (*canonical.Weather, error) {
	query := url.Values{
		"key":     []string{m.cfg.APIKey},
		"station": []string{q.AirportIATA},
		"date":    []string{q.Date.UTC().Format(time.DateOnly)},
		"period":  []string{string(q.Period)},
	}
	var resp meteoStreamResponse
	err := getJSON(ctx, m.cfg.HTTPClient, m.cfg.BaseURL, "/conditions", query, nil, &resp)
	if err != nil {
		providerRequestsCounter.WithLabelValues(meteoStreamName, requestResult(err)).Inc()
		return nil, trace.Wrap(err)
	}
	providerRequestsCounter.WithLabelValues(meteoStreamName, "ok").Inc()
	if resp.Station == "" {
		return nil, trace.NotFound("meteostream has no data for %v", q.AirportIATA)
	}
	wx, err := m.toCanonical(q, resp)
	return wx, trace.Wrap(err)
}

func (m *MeteoStream) toCanonical(q WeatherQuery, in meteoStreamResponse) (*canonical.Weather, error) {
	out := &canonical.Weather{
		AirportIATA:   in.Station,
		Period:        q.Period,
		ConditionCode: in.ConditionID,
		ConditionText: in.Condition,
		Condition:     conditionClass(in.Condition),
		WindDirection: in.WindDir,
		TemperatureC:  in.TempC,
		WindSpeedKts:  in.WindKts,
		PrecipitationMM: in.PrecipMM,
		VisibilityKM:  in.VisKM,
		HumidityPct:   in.HumidityPct,
		PressureHPa:   in.PressureHPa,
	}

	observed, err := parseProviderTime(in.ObservedAt)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if observed.IsZero() {
		observed = q.Date.UTC()
	}
	out.ObservationTime = observed

	fields := []string{"airport", "observation_time", "condition"}
	for field, present := range map[string]bool{
		"temperature_c":    in.TempC != nil,
		"wind_speed_kts":   in.WindKts != nil,
		"precipitation_mm": in.PrecipMM != nil,
		"visibility_km":    in.VisKM != nil,
		"humidity_pct":     in.HumidityPct != nil,
		"pressure_hpa":     in.PressureHPa != nil,
	} {
		if present {
			fields = append(fields, field)
		}
	}

	now := m.cfg.Clock.Now().UTC()
	completeness := canonical.WeatherCompleteness(out, meteoStreamReliability)
	out.Contributions = []canonical.SourceContribution{{
		SourceName: meteoStreamName,
		Fields:     fields,
		Timestamp:  now,
		Confidence: confidence(completeness, meteoStreamReliability),
		APIVersion: meteoStreamVersion,
	}}
	out.DataQualityScore = completeness
	out.LastUpdated = now
	return out, nil
}

// conditionClass buckets a free-form condition description into the coarse
// classes the risk model consumes.
func conditionClass(text string) canonical.ConditionType {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "thunder"), strings.Contains(t, "storm"), strings.Contains(t, "squall"):
		return canonical.ConditionStorm
	case strings.Contains(t, "snow"), strings.Contains(t, "sleet"), strings.Contains(t, "ice"), strings.Contains(t, "freezing"):
		return canonical.ConditionSnow
	case strings.Contains(t, "rain"), strings.Contains(t, "drizzle"), strings.Contains(t, "shower"):
		return canonical.ConditionRain
	case strings.Contains(t, "fog"), strings.Contains(t, "mist"), strings.Contains(t, "haze"):
		return canonical.ConditionFog
	case strings.Contains(t, "cloud"), strings.Contains(t, "overcast"):
		return canonical.ConditionCloudy
	default:
		return canonical.ConditionClear
	}
}
