package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"closetstudio.app/virtual-closet/internal/store"
	"closetstudio.app/virtual-closet/internal/utils"
)

const (
	PlanDays           = 7
	MinWeeklyPlanItems = 5

	PlaceholderTemp      = 65
	PlaceholderCondition = "Partly cloudy"
)

// PlanDay is one day of a weekly plan. A day whose generation failed keeps
// Error set and, for rule violations, the offending outfit.
type PlanDay struct {
	Date          string                `json:"date"`
	DayName       string                `json:"dayName"`
	Forecast      ForecastDay           `json:"forecast"`
	Weather       string                `json:"weather"`
	Events        []store.CalendarEvent `json:"events,omitempty"`
	Outfit        *store.Outfit         `json:"outfit,omitempty"`
	Violations    []store.Violation     `json:"violations,omitempty"`
	Error         string                `json:"error,omitempty"`
	RepeatOverlap float64               `json:"repeatOverlap"`
}

type WeeklyPlan struct {
	StartDate   string    `json:"startDate"`
	Placeholder bool      `json:"placeholderForecast"`
	Days        []PlanDay `json:"days"`
}

// PlaceholderForecast is the flat forecast used when no forecast is available.
func PlaceholderForecast(start time.Time) []ForecastDay {
	days := make([]ForecastDay, PlanDays)
	for i := range days {
		days[i] = placeholderDay(start.AddDate(0, 0, i))
	}
	return days
}

func placeholderDay(d time.Time) ForecastDay {
	return ForecastDay{
		Date:        d.Format(store.DateLayout),
		DayName:     d.Weekday().String(),
		Temp:        PlaceholderTemp,
		MaxTemp:     PlaceholderTemp,
		MinTemp:     PlaceholderTemp,
		Condition:   PlaceholderCondition,
		Placeholder: true,
	}
}

type Planner struct {
	composer   *Composer
	forecaster Forecaster
	log        zerolog.Logger
	now        func() time.Time
}

func NewPlanner(composer *Composer, forecaster Forecaster, log zerolog.Logger) *Planner {
	return &Planner{
		composer:   composer,
		forecaster: forecaster,
		log:        log.With().Str("component", "planner").Logger(),
		now:        time.Now,
	}
}

// forecast returns one entry per plan day, in order. Days the forecaster did
// not cover are filled with the placeholder.
func (p *Planner) forecast(ctx context.Context, start time.Time) ([]ForecastDay, bool) {
	if p.forecaster == nil || !p.forecaster.IsConfigured() {
		return PlaceholderForecast(start), true
	}
	fetched, err := p.forecaster.WeeklyForecast(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("forecast unavailable, using placeholder")
		return PlaceholderForecast(start), true
	}

	byDate := make(map[string]ForecastDay, len(fetched))
	for _, f := range fetched {
		byDate[f.Date] = f
	}
	days := make([]ForecastDay, PlanDays)
	placeholder := true
	for i := range days {
		d := start.AddDate(0, 0, i)
		f, ok := byDate[d.Format(store.DateLayout)]
		if !ok {
			days[i] = placeholderDay(d)
			continue
		}
		if f.DayName == "" {
			f.DayName = d.Weekday().String()
		}
		days[i] = f
		placeholder = false
	}
	return days, placeholder
}

// Plan composes one outfit per day for today and the six following days.
// Unusable or rule-breaking generations are recorded on their day; missing
// configuration, a small wardrobe or a transport failure abort the plan.
func (p *Planner) Plan(ctx context.Context, catalog []store.ClothingItem, summary PreferenceSummary, events []store.CalendarEvent) (*WeeklyPlan, error) {
	if !p.composer.generator.IsConfigured() {
		return nil, notConfigured("generation API key is missing")
	}
	if len(catalog) < MinWeeklyPlanItems {
		return nil, &InsufficientWardrobeError{Have: len(catalog), Need: MinWeeklyPlanItems}
	}

	now := p.now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	forecast, placeholder := p.forecast(ctx, start)

	eventsByDate := make(map[string][]store.CalendarEvent)
	for _, e := range events {
		eventsByDate[e.Date] = append(eventsByDate[e.Date], e)
	}

	plan := &WeeklyPlan{
		StartDate:   start.Format(store.DateLayout),
		Placeholder: placeholder,
		Days:        make([]PlanDay, 0, PlanDays),
	}

	var previous []string
	for i, f := range forecast {
		date := start.AddDate(0, 0, i).Format(store.DateLayout)
		weather := TemperatureContext(f.Temp, f.Condition)
		day := PlanDay{
			Date:     date,
			DayName:  f.DayName,
			Forecast: f,
			Weather:  weather.Category,
			Events:   eventsByDate[date],
		}

		oc := OutfitContext{
			Occasion:   dayOccasion(day.Events),
			Weather:    weather,
			ExcludeIDs: previous,
			Date:       date,
			Events:     eventNames(day.Events),
		}
		outfit, err := p.composer.Compose(ctx, catalog, summary, oc)

		var parseErr *GenerationParseError
		var cv *ConstraintViolationError
		switch {
		case err == nil:
		case errors.As(err, &cv):
			day.Violations = cv.Violations
			day.Error = err.Error()
		case errors.As(err, &parseErr):
			day.Error = err.Error()
			p.log.Warn().Err(err).Str("date", date).Msg("skipping unparseable day")
		default:
			return nil, err
		}

		if outfit != nil {
			if outfit.Name == "" {
				outfit.Name = f.DayName + " outfit"
			}
			ids := outfit.ItemIDs()
			day.Outfit = outfit
			day.RepeatOverlap = utils.RepeatOverlap(previous, ids)
			previous = ids
		}
		plan.Days = append(plan.Days, day)
	}

	p.log.Info().Str("start", plan.StartDate).Bool("placeholder", placeholder).Msg("weekly plan composed")
	return plan, nil
}

// dayOccasion picks the occasion from the day's first event.
func dayOccasion(events []store.CalendarEvent) string {
	for _, e := range events {
		if t := strings.TrimSpace(e.Type); t != "" {
			return t
		}
	}
	return ""
}

func eventNames(events []store.CalendarEvent) []string {
	if len(events) == 0 {
		return nil
	}
	names := make([]string, 0, len(events))
	for _, e := range events {
		names = append(names, e.Name)
	}
	return names
}
