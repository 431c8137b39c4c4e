// Package weather resolves current conditions through the Open-Meteo APIs.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicebridge/domain/entities"
	"github.com/satriahrh/voicebridge/domain/repositories"
)

const (
	defaultGeocodingURL = "https://geocoding-api.open-meteo.com/v1/search"
	defaultForecastURL  = "https://api.open-meteo.com/v1/forecast"
	defaultTimeout      = 10 * time.Second
)

// ErrLocationNotFound means geocoding returned no match.
var ErrLocationNotFound = errors.New("location not found")

// OpenMeteoConfig holds configuration for the Open-Meteo adapter.
// Optional fields with defaults:
// - GeocodingURL: (default: "https://geocoding-api.open-meteo.com/v1/search")
// - ForecastURL: (default: "https://api.open-meteo.com/v1/forecast")
// - Timeout: bounds both lookups together (default: 10s)
type OpenMeteoConfig struct {
	GeocodingURL string
	ForecastURL  string
	Timeout      time.Duration
}

// OpenMeteo implements repositories.WeatherProvider.
type OpenMeteo struct {
	geocodingURL string
	forecastURL  string
	timeout      time.Duration
	client       *http.Client
	logger       *zap.Logger
}

var _ repositories.WeatherProvider = (*OpenMeteo)(nil)

// NewOpenMeteo creates the adapter. No API key is needed.
func NewOpenMeteo(config OpenMeteoConfig, logger *zap.Logger) *OpenMeteo {
	if config.GeocodingURL == "" {
		config.GeocodingURL = defaultGeocodingURL
	}
	if config.ForecastURL == "" {
		config.ForecastURL = defaultForecastURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	return &OpenMeteo{
		geocodingURL: config.GeocodingURL,
		forecastURL:  config.ForecastURL,
		timeout:      config.Timeout,
		client:       &http.Client{},
		logger:       logger,
	}
}

type geocodingResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Country   string  `json:"country"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

type forecastResponse struct {
	Current struct {
		Time          string  `json:"time"`
		Temperature2m float64 `json:"temperature_2m"`
		WindSpeed10m  float64 `json:"wind_speed_10m"`
		WeatherCode   int     `json:"weather_code"`
	} `json:"current"`
}

// Current geocodes location and fetches its current conditions.
func (o *OpenMeteo) Current(ctx context.Context, location string) (*entities.Weather, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	// "Paris, France" geocodes poorly; search by the first component.
	name, _, _ := strings.Cut(location, ",")
	name = strings.TrimSpace(name)

	q := url.Values{}
	q.Set("name", name)
	q.Set("count", "1")
	q.Set("language", "en")
	q.Set("format", "json")
	var geo geocodingResponse
	if err := o.getJSON(ctx, o.geocodingURL+"?"+q.Encode(), &geo); err != nil {
		return nil, fmt.Errorf("failed to geocode %q: %w", location, err)
	}
	if len(geo.Results) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrLocationNotFound, location)
	}
	place := geo.Results[0]

	q = url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", place.Latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", place.Longitude))
	q.Set("current", "temperature_2m,wind_speed_10m,weather_code")
	q.Set("timezone", "UTC")
	var fc forecastResponse
	if err := o.getJSON(ctx, o.forecastURL+"?"+q.Encode(), &fc); err != nil {
		return nil, fmt.Errorf("failed to fetch weather for %q: %w", location, err)
	}

	observed, _ := time.Parse("2006-01-02T15:04", fc.Current.Time)
	w := &entities.Weather{
		Location:     place.Name,
		Country:      place.Country,
		Latitude:     place.Latitude,
		Longitude:    place.Longitude,
		TemperatureC: fc.Current.Temperature2m,
		WindKph:      fc.Current.WindSpeed10m,
		Conditions:   DescribeWeatherCode(fc.Current.WeatherCode),
		ObservedAt:   observed,
	}
	o.logger.Debug("Weather lookup",
		zap.String("location", w.Location),
		zap.Float64("temperatureC", w.TemperatureC),
		zap.String("conditions", w.Conditions))
	return w, nil
}

func (o *OpenMeteo) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("open-meteo returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// DescribeWeatherCode maps a WMO weather interpretation code to words.
func DescribeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code == 1:
		return "mainly clear"
	case code == 2:
		return "partly cloudy"
	case code == 3:
		return "overcast"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 57:
		return "drizzle"
	case code >= 61 && code <= 67:
		return "rain"
	case code >= 71 && code <= 77:
		return "snow"
	case code >= 80 && code <= 82:
		return "rain showers"
	case code == 85 || code == 86:
		return "snow showers"
	case code >= 95:
		return "thunderstorm"
	default:
		return "unknown"
	}
}
