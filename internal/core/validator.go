package core

import (
	"fmt"
	"strings"

	"closetstudio.app/virtual-closet/internal/store"
)

// Rule names reported in violations.
const (
	RuleEmptyOutfit          = "empty-outfit"
	RuleSlotExclusivity      = "slot-exclusivity"
	RuleSlotCompleteness     = "slot-completeness"
	RuleSeasonalMatch        = "seasonal-compatibility"
	RuleSandalWithOuterwear  = "sandal-with-outerwear"
	RuleWhiteBottomOuterwear = "white-bottom-with-outerwear"
	RuleOuterwearWhenWarm    = "outerwear-in-warm-weather"
)

// WarmThreshold is the temperature (°F) at and above which outerwear is excluded.
const WarmThreshold = 70

// Weather categories.
const (
	WeatherHot   = "hot"
	WeatherWarm  = "warm"
	WeatherCool  = "cool"
	WeatherCold  = "cold"
	WeatherRainy = "rainy"
	WeatherAny   = "any"
)

// WeatherContext is the ambient weather an outfit is judged against. Either
// field may be empty; a known Temperature takes precedence over Category.
type WeatherContext struct {
	Category    string `json:"category,omitempty"`
	Temperature *int   `json:"temperature,omitempty"`
}

func TemperatureContext(temp int, condition string) WeatherContext {
	t := temp
	return WeatherContext{Category: WeatherCategory(temp, condition), Temperature: &t}
}

// WeatherCategory buckets a forecast into the categories used for styling.
func WeatherCategory(temp int, condition string) string {
	c := strings.ToLower(condition)
	switch {
	case strings.Contains(c, "rain"), strings.Contains(c, "drizzle"):
		return WeatherRainy
	case temp >= 75:
		return WeatherHot
	case temp >= 60:
		return WeatherWarm
	case temp >= 45:
		return WeatherCool
	default:
		return WeatherCold
	}
}

func (w WeatherContext) category() string {
	c := strings.ToLower(strings.TrimSpace(w.Category))
	if c == WeatherAny {
		return ""
	}
	return c
}

// Warm reports whether outerwear is unnecessary.
func (w WeatherContext) Warm() bool {
	if w.Temperature != nil {
		return *w.Temperature >= WarmThreshold
	}
	c := w.category()
	return c == WeatherWarm || c == WeatherHot
}

// TargetSeasons lists the concrete seasons that suit the weather, or nil when
// the weather says nothing about season.
func (w WeatherContext) TargetSeasons() []store.Season {
	if w.Temperature != nil {
		t := *w.Temperature
		switch {
		case t >= 75:
			return []store.Season{store.SeasonSummer}
		case t >= 60:
			return []store.Season{store.SeasonSpring, store.SeasonSummer}
		case t >= 45:
			return []store.Season{store.SeasonSpring, store.SeasonFall}
		default:
			return []store.Season{store.SeasonFall, store.SeasonWinter}
		}
	}
	switch w.category() {
	case WeatherHot:
		return []store.Season{store.SeasonSummer}
	case WeatherWarm:
		return []store.Season{store.SeasonSpring, store.SeasonSummer}
	case WeatherCool:
		return []store.Season{store.SeasonSpring, store.SeasonFall}
	case WeatherCold:
		return []store.Season{store.SeasonFall, store.SeasonWinter}
	}
	return nil
}

// Label is the human-readable weather tag stored on outfits.
func (w WeatherContext) Label() string {
	c := w.category()
	switch {
	case w.Temperature != nil && c != "":
		return fmt.Sprintf("%s (%d°F)", c, *w.Temperature)
	case w.Temperature != nil:
		return fmt.Sprintf("%d°F", *w.Temperature)
	case c != "":
		return c
	}
	return WeatherAny
}

// ValidateOutfit checks a candidate outfit against the outfit rules and
// returns every violated rule. An empty result means the outfit is valid.
func ValidateOutfit(items []store.ClothingItem, weather WeatherContext) []store.Violation {
	if len(items) == 0 {
		return []store.Violation{{Rule: RuleEmptyOutfit, Message: "outfit has no items"}}
	}

	var violations []store.Violation
	byType := make(map[store.ItemType][]string)
	for _, it := range items {
		byType[it.Type] = append(byType[it.Type], it.ID)
	}

	dresses := byType[store.TypeDress]
	outerwear := byType[store.TypeOuterwear]

	if len(dresses) > 0 {
		clashing := append(append([]string{}, byType[store.TypeTop]...), byType[store.TypeBottom]...)
		if len(clashing) > 0 {
			violations = append(violations, store.Violation{
				Rule:    RuleSlotExclusivity,
				Message: "a dress replaces both top and bottom",
				ItemIDs: append(append([]string{}, dresses...), clashing...),
			})
		}
	} else if len(byType[store.TypeTop]) > 0 && len(byType[store.TypeBottom]) == 0 {
		violations = append(violations, store.Violation{
			Rule:    RuleSlotCompleteness,
			Message: "a top needs a bottom",
			ItemIDs: byType[store.TypeTop],
		})
	}

	if v, ok := checkSeasons(items, weather); ok {
		violations = append(violations, v)
	}

	if len(outerwear) > 0 {
		var sandals, whiteBottoms []string
		for _, it := range items {
			if it.Type == store.TypeShoes && it.ShoeType == store.ShoeSandal {
				sandals = append(sandals, it.ID)
			}
			if it.Type == store.TypeBottom && it.Color == store.ColorWhite {
				whiteBottoms = append(whiteBottoms, it.ID)
			}
		}
		if len(sandals) > 0 {
			violations = append(violations, store.Violation{
				Rule:    RuleSandalWithOuterwear,
				Message: "sandals cannot be worn with outerwear",
				ItemIDs: append(sandals, outerwear...),
			})
		}
		if len(whiteBottoms) > 0 {
			violations = append(violations, store.Violation{
				Rule:    RuleWhiteBottomOuterwear,
				Message: "white bottoms cannot be worn with outerwear",
				ItemIDs: append(whiteBottoms, outerwear...),
			})
		}
		if weather.Warm() {
			violations = append(violations, store.Violation{
				Rule:    RuleOuterwearWhenWarm,
				Message: fmt.Sprintf("no outerwear when the weather is %s", weather.Label()),
				ItemIDs: outerwear,
			})
		}
	}

	return violations
}

// checkSeasons requires every item to be all-season or fit the weather's
// target seasons. Without a target, concrete seasons must not be mixed.
// Items with no season (degraded records) are not judged.
func checkSeasons(items []store.ClothingItem, weather WeatherContext) (store.Violation, bool) {
	targets := weather.TargetSeasons()
	var offending []string

	if len(targets) > 0 {
		for _, it := range items {
			if it.Season == "" || it.Season == store.SeasonAllSeason {
				continue
			}
			if !containsSeason(targets, it.Season) {
				offending = append(offending, it.ID)
			}
		}
		if len(offending) == 0 {
			return store.Violation{}, false
		}
		return store.Violation{
			Rule:    RuleSeasonalMatch,
			Message: fmt.Sprintf("items must be all-season or %s", joinSeasons(targets)),
			ItemIDs: offending,
		}, true
	}

	var first store.Season
	for _, it := range items {
		if it.Season == "" || it.Season == store.SeasonAllSeason {
			continue
		}
		if first == "" {
			first = it.Season
			continue
		}
		if it.Season != first {
			offending = append(offending, it.ID)
		}
	}
	if len(offending) == 0 {
		return store.Violation{}, false
	}
	return store.Violation{
		Rule:    RuleSeasonalMatch,
		Message: fmt.Sprintf("items mix %s with other seasons", first),
		ItemIDs: offending,
	}, true
}

func containsSeason(list []store.Season, s store.Season) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func joinSeasons(list []store.Season) string {
	parts := make([]string, len(list))
	for i, s := range list {
		parts[i] = string(s)
	}
	return strings.Join(parts, " or ")
}

// ValidateItem checks a catalog record before it is stored.
func ValidateItem(item store.ClothingItem) error {
	if t, ok := store.ParseItemType(string(item.Type)); !ok || t != item.Type {
		return invalidInput("unknown item type %q", item.Type)
	}
	if c, ok := store.ParseColor(string(item.Color)); !ok || c != item.Color {
		return invalidInput("unknown color %q", item.Color)
	}
	if s, ok := store.ParseSilhouette(string(item.Silhouette)); !ok || s != item.Silhouette {
		return invalidInput("unknown silhouette %q", item.Silhouette)
	}
	if s, ok := store.ParseSeason(string(item.Season)); !ok || s != item.Season {
		return invalidInput("unknown season %q", item.Season)
	}
	if item.ShoeType != "" {
		if item.Type != store.TypeShoes {
			return invalidInput("shoe type is only allowed on shoes")
		}
		if st, ok := store.ParseShoeType(string(item.ShoeType)); !ok || st != item.ShoeType {
			return invalidInput("unknown shoe type %q", item.ShoeType)
		}
	}
	return nil
}

// NormalizeItem maps loosely spelled attributes onto their canonical values.
// Values that do not parse are left for ValidateItem to reject.
func NormalizeItem(item store.ClothingItem) store.ClothingItem {
	if t, ok := store.ParseItemType(string(item.Type)); ok {
		item.Type = t
	}
	if c, ok := store.ParseColor(string(item.Color)); ok {
		item.Color = c
	}
	if s, ok := store.ParseSilhouette(string(item.Silhouette)); ok {
		item.Silhouette = s
	}
	if s, ok := store.ParseSeason(string(item.Season)); ok {
		item.Season = s
	}
	if item.ShoeType != "" {
		if st, ok := store.ParseShoeType(string(item.ShoeType)); ok {
			item.ShoeType = st
		}
	}
	item.Notes = strings.TrimSpace(item.Notes)
	return item
}
