package core

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"closetstudio.app/virtual-closet/internal/store"
)

const (
	MinVisionBoardItems = 10
	VisionBoardSize     = 30
)

// VisionBoardCategories are the occasion tags a batch outfit may carry.
var VisionBoardCategories = []string{"casual", "date", "gala"}

// Curator builds inspiration boards from one batch generation. Batch outfits
// are not rejected for breaking outfit rules; each one lists its violations.
type Curator struct {
	generator Generator
	log       zerolog.Logger
	now       func() time.Time
}

func NewCurator(generator Generator, log zerolog.Logger) *Curator {
	return &Curator{
		generator: generator,
		log:       log.With().Str("component", "curator").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func BuildBatchRequest(catalog []store.ClothingItem, summary PreferenceSummary) *GenerationRequest {
	lines := make([]string, 0, len(catalog))
	for _, it := range catalog {
		lines = append(lines, DescribeItem(it))
	}
	req := &GenerationRequest{
		Mode:        ModeBatch,
		Items:       lines,
		Rules:       outfitRules,
		Count:       VisionBoardSize,
		Categories:  VisionBoardCategories,
		Temperature: 1.0,
	}
	if summary.LikedCount > 0 {
		s := summary
		req.Preferences = &s
	}
	return req
}

// Curate returns an unsaved board named name.
func (c *Curator) Curate(ctx context.Context, name string, catalog []store.ClothingItem, summary PreferenceSummary) (*store.VisionBoard, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalidInput("vision board name is required")
	}
	if !c.generator.IsConfigured() {
		return nil, notConfigured("generation API key is missing")
	}
	if len(catalog) < MinVisionBoardItems {
		return nil, &InsufficientWardrobeError{Have: len(catalog), Need: MinVisionBoardItems}
	}

	raw, err := c.generator.Generate(ctx, BuildBatchRequest(catalog, summary))
	if err != nil {
		return nil, generationError(err)
	}
	batch, err := ParseOutfitBatch(raw)
	if err != nil {
		return nil, err
	}

	now := c.now()
	board := &store.VisionBoard{Name: name, Outfits: make([]store.Outfit, 0, len(batch))}
	flagged := 0
	for _, g := range batch {
		items := resolveItems(g.Items, catalog)
		outfit := store.Outfit{
			ID:         uuid.NewString(),
			Name:       g.Name,
			Items:      items,
			Reasoning:  g.reasoning(),
			Occasion:   boardCategory(g.Occasion),
			Weather:    WeatherAny,
			Violations: ValidateOutfit(items, WeatherContext{}),
			CreatedAt:  now,
		}
		if len(outfit.Violations) > 0 {
			flagged++
		}
		board.Outfits = append(board.Outfits, outfit)
	}

	c.log.Info().Str("board", name).Int("outfits", len(board.Outfits)).Int("flagged", flagged).Msg("vision board curated")
	return board, nil
}

// boardCategory maps the generated occasion onto a board category, keeping
// unknown values as given.
func boardCategory(occasion string) string {
	o := strings.ToLower(strings.TrimSpace(occasion))
	switch {
	case o == "":
		return DefaultOccasion
	case strings.Contains(o, "date"), strings.Contains(o, "dinner"):
		return "date"
	case strings.Contains(o, "gala"), strings.Contains(o, "party"), strings.Contains(o, "formal"):
		return "gala"
	case strings.Contains(o, "casual"):
		return "casual"
	}
	return o
}
