package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"closetstudio.app/virtual-closet/internal/store"
)

// Config is the process configuration. The credential fields only seed the
// persisted Settings on first start; once settings are saved through the API
// the stored copy wins.
type Config struct {
	HTTPPort        string `envconfig:"HTTP_PORT" default:"8080"`
	DatabaseURL     string `envconfig:"DATABASE_URL" default:"virtual_closet.db"`
	LogLevel        string `envconfig:"LOG_LEVEL" default:"INFO"`
	GenerationModel string `envconfig:"GENERATION_MODEL" default:"gemini-1.5-flash"`

	GeminiAPIKey    string `envconfig:"GEMINI_API_KEY"`
	WeatherAPIKey   string `envconfig:"WEATHER_API_KEY"`
	WeatherLocation string `envconfig:"WEATHER_LOCATION"`
	WeatherBaseURL  string `envconfig:"WEATHER_BASE_URL" default:"https://api.weatherapi.com/v1"`

	UploadWorkerURL string `envconfig:"UPLOAD_WORKER_URL"`
	UploadBucket    string `envconfig:"UPLOAD_GCS_BUCKET"`
	UploadPublicURL string `envconfig:"UPLOAD_PUBLIC_URL"`

	// EnvFileLoaded reports whether LoadConfig found a .env file. The caller
	// logs it once its logger honors LOG_LEVEL.
	EnvFileLoaded bool `ignored:"true"`
}

var AppConfig Config

// LoadConfig reads a .env file when present and then the environment.
func LoadConfig() error {
	envErr := godotenv.Load()

	cfg, err := New()
	if err != nil {
		return err
	}
	cfg.EnvFileLoaded = envErr == nil
	AppConfig = *cfg
	return nil
}

func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if cfg.HTTPPort == "" {
		return nil, fmt.Errorf("HTTP_PORT must not be empty")
	}
	return &cfg, nil
}

// SeedSettings builds the first-run settings from the environment.
func (c Config) SeedSettings() store.Settings {
	return store.Settings{
		GenerationAPIKey: c.GeminiAPIKey,
		WeatherAPIKey:    c.WeatherAPIKey,
		WeatherLocation:  c.WeatherLocation,
		Upload: store.UploadSettings{
			WorkerURL: c.UploadWorkerURL,
			Bucket:    c.UploadBucket,
			PublicURL: c.UploadPublicURL,
		},
	}
}
