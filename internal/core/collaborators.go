package core

import (
	"context"

	"closetstudio.app/virtual-closet/internal/store"
)

// Generator is the external language-model collaborator. Its output is
// untrusted: callers always parse and validate what it returns.
type Generator interface {
	IsConfigured() bool
	// Generate executes the request and returns the model's raw text.
	Generate(ctx context.Context, req *GenerationRequest) (string, error)
	// TagImage suggests item attributes for a photo. A nil suggestion with a
	// nil error means the model had nothing usable to say.
	TagImage(ctx context.Context, data []byte, mimeType string) (*ItemSuggestion, error)
}

// Forecaster is the external weather collaborator.
type Forecaster interface {
	IsConfigured() bool
	WeeklyForecast(ctx context.Context) ([]ForecastDay, error)
}

// SettingsAware collaborators are told when settings change instead of
// re-reading them.
type SettingsAware interface {
	UpdateSettings(store.Settings)
}

// ItemSuggestion is a best-effort autofill for the add-item flow.
type ItemSuggestion struct {
	Type       store.ItemType   `json:"type,omitempty"`
	Color      store.Color      `json:"color,omitempty"`
	Silhouette store.Silhouette `json:"silhouette,omitempty"`
	Season     store.Season     `json:"season,omitempty"`
	ShoeType   store.ShoeType   `json:"shoeType,omitempty"`
}

type ForecastDay struct {
	Date         string `json:"date"`
	DayName      string `json:"dayName"`
	Temp         int    `json:"temp"`
	MaxTemp      int    `json:"maxTemp,omitempty"`
	MinTemp      int    `json:"minTemp,omitempty"`
	Condition    string `json:"condition"`
	ChanceOfRain int    `json:"chanceOfRain"`
	Placeholder  bool   `json:"placeholder,omitempty"`
}
