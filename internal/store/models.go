package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type ItemType string

const (
	TypeTop       ItemType = "top"
	TypeSweater   ItemType = "sweater"
	TypeBottom    ItemType = "bottom"
	TypeDress     ItemType = "dress"
	TypeOuterwear ItemType = "outerwear"
	TypeShoes     ItemType = "shoes"
	TypeAccessory ItemType = "accessory"
)

var itemTypes = []ItemType{TypeTop, TypeSweater, TypeBottom, TypeDress, TypeOuterwear, TypeShoes, TypeAccessory}

type Color string

const (
	ColorBlack      Color = "black"
	ColorWhite      Color = "white"
	ColorGray       Color = "gray"
	ColorBrown      Color = "brown"
	ColorBeige      Color = "beige"
	ColorRed        Color = "red"
	ColorPink       Color = "pink"
	ColorOrange     Color = "orange"
	ColorYellow     Color = "yellow"
	ColorGreen      Color = "green"
	ColorBlue       Color = "blue"
	ColorPurple     Color = "purple"
	ColorMulticolor Color = "multicolor"
)

var colors = []Color{
	ColorBlack, ColorWhite, ColorGray, ColorBrown, ColorBeige, ColorRed, ColorPink,
	ColorOrange, ColorYellow, ColorGreen, ColorBlue, ColorPurple, ColorMulticolor,
}

type Silhouette string

const (
	SilhouetteFitted     Silhouette = "fitted"
	SilhouetteLoose      Silhouette = "loose"
	SilhouetteOversized  Silhouette = "oversized"
	SilhouetteFlowy      Silhouette = "flowy"
	SilhouetteStructured Silhouette = "structured"
)

var silhouettes = []Silhouette{SilhouetteFitted, SilhouetteLoose, SilhouetteOversized, SilhouetteFlowy, SilhouetteStructured}

type Season string

const (
	SeasonSpring    Season = "spring"
	SeasonSummer    Season = "summer"
	SeasonFall      Season = "fall"
	SeasonWinter    Season = "winter"
	SeasonAllSeason Season = "all-season"
)

var seasons = []Season{SeasonSpring, SeasonSummer, SeasonFall, SeasonWinter, SeasonAllSeason}

type ShoeType string

const (
	ShoeSneaker ShoeType = "sneaker"
	ShoeBoot    ShoeType = "boot"
	ShoeSandal  ShoeType = "sandal"
	ShoeHeel    ShoeType = "heel"
	ShoeFlat    ShoeType = "flat"
	ShoeLoafer  ShoeType = "loafer"
)

var shoeTypes = []ShoeType{ShoeSneaker, ShoeBoot, ShoeSandal, ShoeHeel, ShoeFlat, ShoeLoafer}

// ParseItemType accepts the singular names as well as the plural forms the
// generation model tends to emit ("tops", "dresses", "accessories").
func ParseItemType(s string) (ItemType, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "dresses":
		return TypeDress, true
	case "accessories":
		return TypeAccessory, true
	case "sweaters", "tops", "bottoms":
		v = strings.TrimSuffix(v, "s")
	}
	for _, t := range itemTypes {
		if string(t) == v {
			return t, true
		}
	}
	return "", false
}

func ParseColor(s string) (Color, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "grey" {
		v = "gray"
	}
	for _, c := range colors {
		if string(c) == v {
			return c, true
		}
	}
	return "", false
}

func ParseSilhouette(s string) (Silhouette, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, sil := range silhouettes {
		if string(sil) == v {
			return sil, true
		}
	}
	return "", false
}

func ParseSeason(s string) (Season, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "autumn":
		v = "fall"
	case "all season", "allseason", "all":
		v = string(SeasonAllSeason)
	}
	for _, se := range seasons {
		if string(se) == v {
			return se, true
		}
	}
	return "", false
}

func ParseShoeType(s string) (ShoeType, bool) {
	v := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s")
	for _, st := range shoeTypes {
		if string(st) == v {
			return st, true
		}
	}
	return "", false
}

type ClothingItem struct {
	ID         string     `json:"id"`
	Type       ItemType   `json:"type"`
	Color      Color      `json:"color,omitempty"`
	Silhouette Silhouette `json:"silhouette,omitempty"`
	Season     Season     `json:"season,omitempty"`
	ShoeType   ShoeType   `json:"shoeType,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	ImageURL   string     `json:"imageUrl,omitempty"`
	CreatedAt  time.Time  `json:"createdAt,omitzero"`
}

// Degraded reports whether the record is only an {id, type} placeholder left
// behind when a generated outfit referenced an id the catalog did not know.
func (i ClothingItem) Degraded() bool {
	return i.Color == "" && i.Silhouette == "" && i.Season == ""
}

type Violation struct {
	Rule    string   `json:"rule"`
	Message string   `json:"message"`
	ItemIDs []string `json:"itemIds,omitempty"`
}

type Outfit struct {
	ID         string         `json:"id"`
	Name       string         `json:"name,omitempty"`
	Date       string         `json:"date,omitempty"`
	Items      []ClothingItem `json:"items"`
	Reasoning  string         `json:"reasoning"`
	Occasion   string         `json:"occasion,omitempty"`
	Weather    string         `json:"weather,omitempty"`
	Liked      bool           `json:"liked"`
	Violations []Violation    `json:"violations,omitempty"`
	CreatedAt  time.Time      `json:"createdAt,omitzero"`
}

// ItemIDs returns the ids of the outfit's items in order.
func (o Outfit) ItemIDs() []string {
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.ID)
	}
	return ids
}

type Vote struct {
	Outfit    Outfit    `json:"outfit"`
	Liked     bool      `json:"liked"`
	Timestamp time.Time `json:"timestamp"`
}

// Tally is a counter that remembers the order in which keys were first seen.
// It serializes as an ordered list so that order survives a round trip.
type Tally struct {
	keys   []string
	counts map[string]int
}

type tallyEntry struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

func (t *Tally) Inc(key string) {
	if t.counts == nil {
		t.counts = make(map[string]int)
	}
	if _, seen := t.counts[key]; !seen {
		t.keys = append(t.keys, key)
	}
	t.counts[key]++
}

func (t *Tally) Count(key string) int {
	return t.counts[key]
}

// Keys returns keys in first-seen order.
func (t *Tally) Keys() []string {
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

func (t *Tally) Len() int { return len(t.keys) }

func (t *Tally) Total() int {
	sum := 0
	for _, c := range t.counts {
		sum += c
	}
	return sum
}

func (t Tally) MarshalJSON() ([]byte, error) {
	entries := make([]tallyEntry, 0, len(t.keys))
	for _, k := range t.keys {
		entries = append(entries, tallyEntry{Key: k, Count: t.counts[k]})
	}
	return json.Marshal(entries)
}

func (t *Tally) UnmarshalJSON(data []byte) error {
	*t = Tally{}
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var entries []tallyEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to decode tally: %w", err)
	}
	for _, e := range entries {
		if e.Count < 0 {
			return fmt.Errorf("negative count %d for %q", e.Count, e.Key)
		}
		if t.counts == nil {
			t.counts = make(map[string]int)
		}
		if _, seen := t.counts[e.Key]; !seen {
			t.keys = append(t.keys, e.Key)
		}
		t.counts[e.Key] += e.Count
	}
	return nil
}

type PreferenceState struct {
	LikedCombinations    []Vote `json:"likedCombinations"`
	DislikedCombinations []Vote `json:"dislikedCombinations"`
	ColorPreferences     Tally  `json:"colorPreferences"`
	StylePreferences     Tally  `json:"stylePreferences"`
	OccasionPreferences  Tally  `json:"occasionPreferences"`
}

type CalendarEvent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Date string `json:"date"` // YYYY-MM-DD
	Type string `json:"type"`
}

const DateLayout = "2006-01-02"

type VisionBoard struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Outfits   []Outfit  `json:"outfits"`
	CreatedAt time.Time `json:"createdAt"`
}

type UploadSettings struct {
	WorkerURL string `json:"workerUrl,omitempty"`
	Bucket    string `json:"bucket,omitempty"`
	PublicURL string `json:"publicUrl,omitempty"`
}

type Settings struct {
	GenerationAPIKey string         `json:"generationApiKey"`
	WeatherAPIKey    string         `json:"weatherApiKey"`
	WeatherLocation  string         `json:"weatherLocation"`
	Upload           UploadSettings `json:"upload"`
}

// Redacted returns a copy safe to hand back to clients.
func (s Settings) Redacted() Settings {
	mask := func(v string) string {
		if v == "" {
			return ""
		}
		if len(v) <= 4 {
			return "****"
		}
		return "****" + v[len(v)-4:]
	}
	s.GenerationAPIKey = mask(s.GenerationAPIKey)
	s.WeatherAPIKey = mask(s.WeatherAPIKey)
	return s
}
