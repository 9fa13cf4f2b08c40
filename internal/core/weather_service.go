package core

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"closetstudio.app/virtual-closet/internal/store"
)

const forecastDays = 7

// WeatherService reads conditions from WeatherAPI.com.
type WeatherService struct {
	mu       sync.RWMutex
	client   *resty.Client
	apiKey   string
	location string
	log      zerolog.Logger
}

func NewWeatherService(baseURL string, settings store.Settings, log zerolog.Logger) *WeatherService {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(15 * time.Second)

	s := &WeatherService{client: c, log: log.With().Str("component", "weather").Logger()}
	s.UpdateSettings(settings)
	return s
}

func (s *WeatherService) UpdateSettings(settings store.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = strings.TrimSpace(settings.WeatherAPIKey)
	s.location = strings.TrimSpace(settings.WeatherLocation)
}

// IsConfigured needs both a key and a location.
func (s *WeatherService) IsConfigured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiKey != "" && s.location != ""
}

func (s *WeatherService) credentials() (string, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.apiKey == "" || s.location == "" {
		return "", "", notConfigured("weather API key and location are required")
	}
	return s.apiKey, s.location, nil
}

type weatherCondition struct {
	Text string `json:"text"`
	Icon string `json:"icon"`
}

type weatherAPIError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type currentResponse struct {
	Location struct {
		Name string `json:"name"`
	} `json:"location"`
	Current struct {
		TempF      float64          `json:"temp_f"`
		FeelsLikeF float64          `json:"feelslike_f"`
		Humidity   int              `json:"humidity"`
		Condition  weatherCondition `json:"condition"`
	} `json:"current"`
}

type forecastResponse struct {
	Forecast struct {
		ForecastDay []struct {
			Date string `json:"date"`
			Day  struct {
				AvgTempF          float64          `json:"avgtemp_f"`
				MaxTempF          float64          `json:"maxtemp_f"`
				MinTempF          float64          `json:"mintemp_f"`
				DailyChanceOfRain int              `json:"daily_chance_of_rain"`
				Condition         weatherCondition `json:"condition"`
			} `json:"day"`
		} `json:"forecastday"`
	} `json:"forecast"`
}

type CurrentWeather struct {
	Location  string `json:"location,omitempty"`
	Temp      int    `json:"temp"`
	FeelsLike int    `json:"feelsLike"`
	Humidity  int    `json:"humidity"`
	Condition string `json:"condition"`
	Icon      string `json:"icon,omitempty"`
	Category  string `json:"category"`
}

func (s *WeatherService) get(ctx context.Context, path string, params map[string]string, out any) error {
	key, location, err := s.credentials()
	if err != nil {
		return err
	}
	var apiErr weatherAPIError
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("key", key).
		SetQueryParam("q", location).
		SetQueryParams(params).
		SetResult(out).
		SetError(&apiErr).
		Get(path)
	if err != nil {
		return fmt.Errorf("weather request: %w", err)
	}
	if resp.IsError() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = "weather API request failed"
		}
		return fmt.Errorf("weather status %d: %s", resp.StatusCode(), msg)
	}
	return nil
}

func (s *WeatherService) CurrentWeather(ctx context.Context) (*CurrentWeather, error) {
	var out currentResponse
	if err := s.get(ctx, "/current.json", nil, &out); err != nil {
		return nil, err
	}
	temp := roundTemp(out.Current.TempF)
	return &CurrentWeather{
		Location:  out.Location.Name,
		Temp:      temp,
		FeelsLike: roundTemp(out.Current.FeelsLikeF),
		Humidity:  out.Current.Humidity,
		Condition: out.Current.Condition.Text,
		Icon:      out.Current.Condition.Icon,
		Category:  WeatherCategory(temp, out.Current.Condition.Text),
	}, nil
}

func (s *WeatherService) WeeklyForecast(ctx context.Context) ([]ForecastDay, error) {
	var out forecastResponse
	params := map[string]string{"days": fmt.Sprint(forecastDays)}
	if err := s.get(ctx, "/forecast.json", params, &out); err != nil {
		return nil, err
	}

	days := make([]ForecastDay, 0, len(out.Forecast.ForecastDay))
	for _, fd := range out.Forecast.ForecastDay {
		day := ForecastDay{
			Date:         fd.Date,
			Temp:         roundTemp(fd.Day.AvgTempF),
			MaxTemp:      roundTemp(fd.Day.MaxTempF),
			MinTemp:      roundTemp(fd.Day.MinTempF),
			Condition:    fd.Day.Condition.Text,
			ChanceOfRain: fd.Day.DailyChanceOfRain,
		}
		if t, err := time.Parse(store.DateLayout, fd.Date); err == nil {
			day.DayName = t.Weekday().String()
		}
		days = append(days, day)
	}
	s.log.Debug().Int("days", len(days)).Msg("forecast fetched")
	return days, nil
}

func roundTemp(f float64) int {
	return int(math.Round(f))
}

// DressingTips is the advice shown next to a forecast.
type DressingTips struct {
	Category string   `json:"category"`
	Tips     []string `json:"tips"`
	Avoid    []string `json:"avoid"`
}

var dressingTips = map[string]DressingTips{
	WeatherHot: {
		Tips:  []string{"Light, breathable fabrics", "Sleeveless or short sleeves", "Light colors"},
		Avoid: []string{"Heavy layers", "Dark colors that absorb heat"},
	},
	WeatherWarm: {
		Tips:  []string{"Comfortable layers", "Mix of short and long sleeves", "Versatile pieces"},
		Avoid: []string{"Heavy coats", "Too many layers"},
	},
	WeatherCool: {
		Tips:  []string{"Light jacket or cardigan", "Long sleeves", "Closed-toe shoes"},
		Avoid: []string{"Sleeveless tops alone", "Sandals"},
	},
	WeatherCold: {
		Tips:  []string{"Warm coat or jacket", "Multiple layers", "Scarves and accessories"},
		Avoid: []string{"Thin fabrics", "Sandals or open-toe shoes"},
	},
	WeatherRainy: {
		Tips:  []string{"Waterproof outerwear", "Closed-toe shoes", "Darker colors"},
		Avoid: []string{"Suede or delicate fabrics", "White or light colors"},
	},
}

func TipsFor(temp int, condition string) DressingTips {
	category := WeatherCategory(temp, condition)
	tips, ok := dressingTips[category]
	if !ok {
		tips = dressingTips[WeatherWarm]
	}
	tips.Category = category
	return tips
}
