package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"closetstudio.app/virtual-closet/internal/store"
)

const (
	MinOutfitItems  = 3
	DefaultOccasion = "casual"
)

type GenerationMode string

const (
	ModeOutfit   GenerationMode = "outfit"
	ModeBatch    GenerationMode = "batch"
	ModeInsights GenerationMode = "insights"
)

// GenerationRequest is the fully specified input for the generation
// collaborator. Building one never touches the network.
type GenerationRequest struct {
	Mode         GenerationMode     `json:"mode"`
	Items        []string           `json:"items,omitempty"`
	Occasion     string             `json:"occasion,omitempty"`
	Weather      string             `json:"weather,omitempty"`
	Date         string             `json:"date,omitempty"`
	Events       []string           `json:"events,omitempty"`
	Preferences  *PreferenceSummary `json:"preferences,omitempty"`
	Rules        []string           `json:"rules,omitempty"`
	Count        int                `json:"count,omitempty"`
	Categories   []string           `json:"categories,omitempty"`
	LikedOutfits []string           `json:"likedOutfits,omitempty"`
	Temperature  float32            `json:"temperature,omitempty"`
}

// OutfitContext is what a single outfit is being composed for.
type OutfitContext struct {
	Occasion   string         `json:"occasion,omitempty"`
	Weather    WeatherContext `json:"weather"`
	ExcludeIDs []string       `json:"excludeIds,omitempty"`
	Date       string         `json:"date,omitempty"`
	Events     []string       `json:"events,omitempty"`
}

var outfitRules = []string{
	"If you choose a dress, do not include tops or bottoms; sweaters, outerwear and accessories may be layered over it.",
	"If you choose a top (not a dress), you must include a bottom.",
	"Include shoes when available and add accessories when they help.",
	"Every item must match the season of the weather or be labeled all-season; do not mix seasons.",
	"Never pair sandals with outerwear.",
	"Never pair white bottoms with outerwear.",
	fmt.Sprintf("Do not include outerwear when the weather is warm or hot (%d°F and above).", WarmThreshold),
	"Vary combinations; do not repeat the same items every time.",
}

// DescribeItem renders the one-line item description sent to the model.
func DescribeItem(it store.ClothingItem) string {
	season := it.Season
	if season == "" {
		season = store.SeasonAllSeason
	}
	kind := string(it.Type)
	if it.Type == store.TypeShoes && it.ShoeType != "" {
		kind += " (" + string(it.ShoeType) + ")"
	}
	line := fmt.Sprintf("%s: %s %s, %s (ID: %s)", kind, it.Color, it.Silhouette, season, it.ID)
	if it.Notes != "" {
		line += " - " + it.Notes
	}
	return line
}

// BuildOutfitRequest packages a single-outfit generation request. Excluded
// ids only bias the choice: when excluding them would leave fewer than
// MinOutfitItems items, the full catalog is offered.
func BuildOutfitRequest(catalog []store.ClothingItem, summary PreferenceSummary, oc OutfitContext) (*GenerationRequest, error) {
	if len(catalog) < MinOutfitItems {
		return nil, &InsufficientWardrobeError{Have: len(catalog), Need: MinOutfitItems}
	}

	available := excludeItems(catalog, oc.ExcludeIDs)
	if len(available) < MinOutfitItems {
		available = catalog
	}

	lines := make([]string, 0, len(available))
	for _, it := range available {
		lines = append(lines, DescribeItem(it))
	}

	req := &GenerationRequest{
		Mode:        ModeOutfit,
		Items:       lines,
		Occasion:    oc.Occasion,
		Weather:     oc.Weather.Label(),
		Date:        oc.Date,
		Events:      oc.Events,
		Rules:       outfitRules,
		Temperature: 0.9,
	}
	if summary.LikedCount > 0 {
		s := summary
		req.Preferences = &s
	}
	return req, nil
}

func excludeItems(items []store.ClothingItem, ids []string) []store.ClothingItem {
	if len(ids) == 0 {
		return items
	}
	skip := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		skip[id] = struct{}{}
	}
	out := make([]store.ClothingItem, 0, len(items))
	for _, it := range items {
		if _, ok := skip[it.ID]; !ok {
			out = append(out, it)
		}
	}
	return out
}

type generatedItem struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// GeneratedOutfit is the decoded but not yet trusted model output.
type GeneratedOutfit struct {
	Items     []generatedItem `json:"items"`
	Reasoning string          `json:"reasoning"`
	Reason    string          `json:"reason"`
	Occasion  string          `json:"occasion"`
	Name      string          `json:"name"`
}

func (g GeneratedOutfit) reasoning() string {
	if g.Reasoning != "" {
		return g.Reasoning
	}
	return g.Reason
}

func (g GeneratedOutfit) check() error {
	if len(g.Items) == 0 {
		return fmt.Errorf("outfit has no items")
	}
	for i, it := range g.Items {
		if strings.TrimSpace(it.ID) == "" {
			return fmt.Errorf("item %d has no id", i)
		}
	}
	return nil
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// jsonValues returns the top-level JSON objects and arrays found in a model
// reply, in order. Bracketed prose that does not decode is skipped.
func jsonValues(raw string) []json.RawMessage {
	s := stripFences(raw)
	var values []json.RawMessage
	for i := 0; i < len(s); {
		if s[i] != '{' && s[i] != '[' {
			i++
			continue
		}
		dec := json.NewDecoder(strings.NewReader(s[i:]))
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			i++
			continue
		}
		values = append(values, v)
		i += int(dec.InputOffset())
	}
	return values
}

func noJSONError(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return parseErrorf("empty response")
	}
	return parseErrorf("no JSON value in response")
}

// ParseOutfitResponse decodes a single generated outfit. The first embedded
// value that holds a usable outfit wins; a one-element array is unwrapped.
func ParseOutfitResponse(raw string) (*GeneratedOutfit, error) {
	values := jsonValues(raw)
	if len(values) == 0 {
		return nil, noJSONError(raw)
	}
	var lastErr error
	for _, v := range values {
		g, err := decodeOutfit(v)
		if err == nil {
			return g, nil
		}
		lastErr = err
	}
	return nil, &GenerationParseError{Err: lastErr}
}

func decodeOutfit(v json.RawMessage) (*GeneratedOutfit, error) {
	var g GeneratedOutfit
	if v[0] == '[' {
		var list []GeneratedOutfit
		if err := json.Unmarshal(v, &list); err != nil {
			return nil, err
		}
		if len(list) != 1 {
			return nil, fmt.Errorf("expected one outfit, got %d", len(list))
		}
		g = list[0]
	} else if err := json.Unmarshal(v, &g); err != nil {
		return nil, err
	}
	if err := g.check(); err != nil {
		return nil, err
	}
	return &g, nil
}

// ParseOutfitBatch decodes a list of generated outfits, either as a bare
// array or wrapped in {"outfits": [...]}.
func ParseOutfitBatch(raw string) ([]GeneratedOutfit, error) {
	values := jsonValues(raw)
	if len(values) == 0 {
		return nil, noJSONError(raw)
	}
	var lastErr error
	for _, v := range values {
		batch, err := decodeBatch(v)
		if err == nil {
			return batch, nil
		}
		lastErr = err
	}
	return nil, &GenerationParseError{Err: lastErr}
}

func decodeBatch(v json.RawMessage) ([]GeneratedOutfit, error) {
	var batch []GeneratedOutfit
	if v[0] == '{' {
		var wrapped struct {
			Outfits []GeneratedOutfit `json:"outfits"`
		}
		if err := json.Unmarshal(v, &wrapped); err != nil {
			return nil, err
		}
		batch = wrapped.Outfits
	} else if err := json.Unmarshal(v, &batch); err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, fmt.Errorf("no outfits in response")
	}
	for i, g := range batch {
		if err := g.check(); err != nil {
			return nil, fmt.Errorf("outfit %d: %w", i, err)
		}
	}
	return batch, nil
}

// resolveItems swaps generated ids for full catalog snapshots. Unknown ids
// stay as degraded {id, type} records; repeated ids are dropped.
func resolveItems(generated []generatedItem, catalog []store.ClothingItem) []store.ClothingItem {
	byID := make(map[string]store.ClothingItem, len(catalog))
	for _, it := range catalog {
		byID[it.ID] = it
	}
	seen := make(map[string]bool, len(generated))
	out := make([]store.ClothingItem, 0, len(generated))
	for _, g := range generated {
		id := strings.TrimSpace(g.ID)
		if seen[id] {
			continue
		}
		seen[id] = true
		if full, ok := byID[id]; ok {
			out = append(out, full)
			continue
		}
		t, ok := store.ParseItemType(g.Type)
		if !ok {
			t = store.ItemType(g.Type)
		}
		out = append(out, store.ClothingItem{ID: id, Type: t})
	}
	return out
}

// ReconcileOutfit turns a parsed generation into an outfit and validates it.
// A rule-breaking outfit is returned together with a *ConstraintViolationError.
func ReconcileOutfit(g GeneratedOutfit, catalog []store.ClothingItem, oc OutfitContext) (*store.Outfit, error) {
	occasion := oc.Occasion
	if occasion == "" {
		occasion = DefaultOccasion
	}
	outfit := &store.Outfit{
		Name:      g.Name,
		Date:      oc.Date,
		Items:     resolveItems(g.Items, catalog),
		Reasoning: g.reasoning(),
		Occasion:  occasion,
		Weather:   oc.Weather.Label(),
	}
	if v := ValidateOutfit(outfit.Items, oc.Weather); len(v) > 0 {
		outfit.Violations = v
		return outfit, &ConstraintViolationError{Violations: v, Outfit: outfit}
	}
	return outfit, nil
}

// Composer runs one outfit generation end to end: gate, build, call, parse, reconcile.
type Composer struct {
	generator Generator
	log       zerolog.Logger
	now       func() time.Time
}

func NewComposer(generator Generator, log zerolog.Logger) *Composer {
	return &Composer{
		generator: generator,
		log:       log.With().Str("component", "composer").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Compose returns a transient outfit with a fresh id. On a rule violation it
// returns the outfit and a *ConstraintViolationError.
func (c *Composer) Compose(ctx context.Context, catalog []store.ClothingItem, summary PreferenceSummary, oc OutfitContext) (*store.Outfit, error) {
	if !c.generator.IsConfigured() {
		return nil, notConfigured("generation API key is missing")
	}
	req, err := BuildOutfitRequest(catalog, summary, oc)
	if err != nil {
		return nil, err
	}

	raw, err := c.generator.Generate(ctx, req)
	if err != nil {
		return nil, generationError(err)
	}
	generated, err := ParseOutfitResponse(raw)
	if err != nil {
		c.log.Warn().Err(err).Str("occasion", oc.Occasion).Msg("unparseable outfit response")
		return nil, err
	}

	outfit, err := ReconcileOutfit(*generated, catalog, oc)
	outfit.ID = uuid.NewString()
	outfit.CreatedAt = c.now()

	var cv *ConstraintViolationError
	if errors.As(err, &cv) {
		c.log.Info().Int("violations", len(cv.Violations)).Str("outfit", outfit.ID).Msg("generated outfit broke outfit rules")
	}
	return outfit, err
}
