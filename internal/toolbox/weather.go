package toolbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Units selects the temperature scale of a weather report.
const (
	UnitsMetric   = "metric"
	UnitsImperial = "imperial"
	UnitsKelvin   = "kelvin"
)

// ErrCityNotFound matches any CityNotFoundError.
var ErrCityNotFound = errors.New("city not found")

// CityNotFoundError is returned by weather sources that do not know a city.
// Known lists the accepted cities when the source has a fixed set.
type CityNotFoundError struct {
	City  string
	Known []string
}

func (e *CityNotFoundError) Error() string {
	if len(e.Known) > 0 {
		return fmt.Sprintf("Weather data not available for '%s'. Available cities: %s", e.City, strings.Join(e.Known, ", "))
	}
	return fmt.Sprintf("location not found: '%s'", e.City)
}

func (e *CityNotFoundError) Is(target error) bool { return target == ErrCityNotFound }

// Reading is a weather observation in metric units.
type Reading struct {
	TemperatureC float64
	Humidity     int
	Description  string
	WindSpeed    float64
	Pressure     float64
}

// WeatherSource looks up the current conditions for a city.
type WeatherSource interface {
	Current(ctx context.Context, city string) (Reading, error)
}

// WeatherReport is the get_weather payload.
type WeatherReport struct {
	City            string  `json:"city"`
	Temperature     float64 `json:"temperature"`
	TemperatureUnit string  `json:"temperature_unit"`
	Humidity        int     `json:"humidity"`
	Description     string  `json:"description"`
	WindSpeed       float64 `json:"wind_speed"`
	Pressure        float64 `json:"pressure"`
	Timestamp       string  `json:"timestamp"`
	Units           string  `json:"units"`
}

// NewWeatherReport converts r into units and stamps it with now.
func NewWeatherReport(city string, r Reading, units string, now time.Time) WeatherReport {
	temp, unit := convertTemperature(r.TemperatureC, units)
	if units == "" {
		units = UnitsMetric
	}
	return WeatherReport{
		City:            titleCity(city),
		Temperature:     round1(temp),
		TemperatureUnit: unit,
		Humidity:        r.Humidity,
		Description:     r.Description,
		WindSpeed:       r.WindSpeed,
		Pressure:        r.Pressure,
		Timestamp:       now.Format(time.RFC3339),
		Units:           units,
	}
}

func convertTemperature(celsius float64, units string) (float64, string) {
	switch units {
	case UnitsImperial:
		return celsius*9/5 + 32, "°F"
	case UnitsKelvin:
		return celsius + 273.15, "K"
	default:
		return celsius, "°C"
	}
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

var titleCaser = cases.Title(language.English)

func titleCity(city string) string {
	return titleCaser.String(strings.ToLower(strings.TrimSpace(city)))
}

// MockWeather serves canned readings for a handful of cities.
type MockWeather struct {
	data map[string]Reading
}

// NewMockWeather returns the demo data set.
func NewMockWeather() *MockWeather {
	return &MockWeather{data: map[string]Reading{
		"london":   {TemperatureC: 15.2, Humidity: 68, Description: "Partly cloudy", WindSpeed: 12.5, Pressure: 1013.2},
		"new york": {TemperatureC: 22.1, Humidity: 55, Description: "Sunny", WindSpeed: 8.3, Pressure: 1018.7},
		"tokyo":    {TemperatureC: 18.7, Humidity: 72, Description: "Light rain", WindSpeed: 6.2, Pressure: 1009.8},
		"paris":    {TemperatureC: 16.8, Humidity: 61, Description: "Overcast", WindSpeed: 9.7, Pressure: 1015.3},
		"sydney":   {TemperatureC: 25.4, Humidity: 58, Description: "Clear sky", WindSpeed: 14.1, Pressure: 1020.1},
		"berlin":   {TemperatureC: 12.3, Humidity: 74, Description: "Foggy", WindSpeed: 5.8, Pressure: 1011.9},
	}}
}

// Cities lists the known cities alphabetically.
func (m *MockWeather) Cities() []string {
	out := make([]string, 0, len(m.data))
	for c := range m.data {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (m *MockWeather) Current(_ context.Context, city string) (Reading, error) {
	r, ok := m.data[strings.ToLower(strings.TrimSpace(city))]
	if !ok {
		return Reading{}, &CityNotFoundError{City: strings.TrimSpace(city), Known: m.Cities()}
	}
	return r, nil
}

// Default endpoints of the live weather source.
const (
	DefaultGeocodeURL  = "https://nominatim.openstreetmap.org/search"
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"
)

// nominatimResponse holds the fields we need from OpenStreetMap.
type nominatimResponse struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// openMeteoResponse holds the fields we need from Open-Meteo.
type openMeteoResponse struct {
	Current struct {
		Temperature      float64 `json:"temperature_2m"`
		RelativeHumidity int     `json:"relative_humidity_2m"`
		WindSpeed10M     float64 `json:"wind_speed_10m"`
		SurfacePressure  float64 `json:"surface_pressure"`
		WeatherCode      int     `json:"weather_code"`
	} `json:"current"`
}

// OpenMeteo geocodes the city with Nominatim and reads the current
// conditions from Open-Meteo.
type OpenMeteo struct {
	GeocodeURL  string
	ForecastURL string
	Client      *http.Client
}

// NewOpenMeteo fills in default endpoints and client.
func NewOpenMeteo(geocodeURL, forecastURL string, client *http.Client) *OpenMeteo {
	if geocodeURL == "" {
		geocodeURL = DefaultGeocodeURL
	}
	if forecastURL == "" {
		forecastURL = DefaultForecastURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &OpenMeteo{GeocodeURL: geocodeURL, ForecastURL: forecastURL, Client: client}
}

func (o *OpenMeteo) Current(ctx context.Context, city string) (Reading, error) {
	q := url.Values{}
	q.Set("q", city)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")
	var geo []nominatimResponse
	if err := o.getJSON(ctx, o.GeocodeURL+"?"+q.Encode(), &geo); err != nil {
		return Reading{}, fmt.Errorf("geocoding request failed: %w", err)
	}
	if len(geo) == 0 {
		return Reading{}, &CityNotFoundError{City: city}
	}

	q = url.Values{}
	q.Set("latitude", geo[0].Lat)
	q.Set("longitude", geo[0].Lon)
	q.Set("current", "temperature_2m,relative_humidity_2m,wind_speed_10m,surface_pressure,weather_code")
	q.Set("wind_speed_unit", "kmh")
	q.Set("timezone", "auto")
	var forecast openMeteoResponse
	if err := o.getJSON(ctx, o.ForecastURL+"?"+q.Encode(), &forecast); err != nil {
		return Reading{}, fmt.Errorf("weather request failed: %w", err)
	}

	c := forecast.Current
	return Reading{
		TemperatureC: c.Temperature,
		Humidity:     c.RelativeHumidity,
		Description:  describeWeatherCode(c.WeatherCode),
		WindSpeed:    c.WindSpeed10M,
		Pressure:     c.SurfacePressure,
	}, nil
}

func (o *OpenMeteo) getJSON(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "mcpdispatch-weather/1.0")
	resp, err := o.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service returned status: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// describeWeatherCode maps WMO weather interpretation codes to text.
func describeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "Clear sky"
	case code <= 2:
		return "Partly cloudy"
	case code == 3:
		return "Overcast"
	case code == 45 || code == 48:
		return "Foggy"
	case code >= 51 && code <= 57:
		return "Drizzle"
	case code >= 61 && code <= 67:
		return "Rain"
	case code >= 71 && code <= 77:
		return "Snow"
	case code >= 80 && code <= 82:
		return "Rain showers"
	case code >= 85 && code <= 86:
		return "Snow showers"
	case code >= 95:
		return "Thunderstorm"
	default:
		return "Unknown"
	}
}
