package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"closetstudio.app/virtual-closet/internal/store"
)

func TestLLMServiceWithoutKey(t *testing.T) {
	s := NewLLMService("", store.Settings{GenerationAPIKey: "   "}, nopLogger())
	defer s.Close()

	assert.False(t, s.IsConfigured())
	assert.Equal(t, defaultModelName, s.modelName)

	_, err := s.Generate(context.Background(), &GenerationRequest{Mode: ModeOutfit})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = s.TagImage(context.Background(), []byte{1}, "image/png")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestLLMServiceKeepsReplacedClientOpenForRunningCalls(t *testing.T) {
	s := NewLLMService("", store.Settings{}, nopLogger())
	closed := make(chan struct{})
	s.apiKey = "old-key"
	s.lease = &clientLease{close: func() error {
		close(closed)
		return nil
	}}

	lease, err := s.acquire()
	require.NoError(t, err)

	s.UpdateSettings(store.Settings{})
	assert.False(t, s.IsConfigured())
	select {
	case <-closed:
		t.Fatal("client closed while a call was still using it")
	case <-time.After(50 * time.Millisecond):
	}

	lease.active.Done()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("client not closed after the running call returned")
	}
}

func TestLLMServiceCloseWaitsForRunningCalls(t *testing.T) {
	s := NewLLMService("", store.Settings{}, nopLogger())
	var closedAt, releasedAt time.Time
	s.lease = &clientLease{close: func() error {
		closedAt = time.Now()
		return nil
	}}

	lease, err := s.acquire()
	require.NoError(t, err)
	go func() {
		time.Sleep(20 * time.Millisecond)
		releasedAt = time.Now()
		lease.active.Done()
	}()

	s.Close()
	require.False(t, closedAt.IsZero())
	assert.False(t, closedAt.Before(releasedAt))
	assert.False(t, s.IsConfigured())
}

func TestRenderOutfitPrompt(t *testing.T) {
	req, err := BuildOutfitRequest(testCatalog(), PreferenceSummary{LikedCount: 3, TopColors: []string{"blue", "black"}}, OutfitContext{
		Occasion: "work",
		Weather:  TemperatureContext(50, "Cloudy"),
		Date:     "2026-10-14",
		Events:   []string{"Client pitch"},
	})
	require.NoError(t, err)

	system, prompt := RenderPrompt(req)
	assert.Equal(t, stylistSystemInstruction, system)
	assert.Contains(t, prompt, "- top: blue fitted, all-season (ID: top1)\n")
	assert.Contains(t, prompt, "Create one outfit for a work occasion. Weather: cool (50°F).")
	assert.Contains(t, prompt, "Date: 2026-10-14.")
	assert.Contains(t, prompt, "Planned events: Client pitch.")
	assert.Contains(t, prompt, "Based on 3 liked outfits:\n- favorite colors: blue, black\n")
	assert.NotContains(t, prompt, "favorite styles")
	assert.Contains(t, prompt, "1. "+outfitRules[0])
	assert.True(t, strings.HasSuffix(prompt, `"reasoning": "..."}`))
}

func TestRenderPromptDefaults(t *testing.T) {
	_, prompt := RenderPrompt(&GenerationRequest{Mode: ModeOutfit, Items: []string{"x"}})
	assert.Contains(t, prompt, "Create one outfit for a casual occasion. Weather: any.")
	assert.NotContains(t, prompt, "Based on")
}

func TestRenderBatchPrompt(t *testing.T) {
	_, prompt := RenderPrompt(BuildBatchRequest(testCatalog(), PreferenceSummary{}))
	assert.Contains(t, prompt, "Create 30 different complete outfits")
	assert.Contains(t, prompt, "Tag each outfit with one occasion: casual, date, gala.")
	assert.Contains(t, prompt, "Respond with a JSON array")
}

func TestRenderInsightsPrompt(t *testing.T) {
	system, prompt := RenderPrompt(&GenerationRequest{
		Mode:         ModeInsights,
		LikedOutfits: []string{"work: blue fitted top, black fitted bottom"},
		Preferences:  &PreferenceSummary{LikedCount: 5, TopStyles: []string{"fitted"}},
	})
	assert.Equal(t, insightsSystemInstruction, system)
	assert.Contains(t, prompt, "- work: blue fitted top, black fitted bottom\n")
	assert.Contains(t, prompt, "- favorite styles: fitted\n")
	assert.NotContains(t, prompt, "Rules:")
}

func TestParseItemSuggestion(t *testing.T) {
	sug := ParseItemSuggestion("```json\n{\"type\":\"Shoes\",\"color\":\"grey\",\"silhouette\":\"structured\",\"season\":\"autumn\",\"shoeType\":\"boots\"}\n```")
	require.NotNil(t, sug)
	assert.Equal(t, ItemSuggestion{
		Type:       store.TypeShoes,
		Color:      store.ColorGray,
		Silhouette: store.SilhouetteStructured,
		Season:     store.SeasonFall,
		ShoeType:   store.ShoeBoot,
	}, *sug)

	sug = ParseItemSuggestion(`{"type":"top","color":"chartreuse","shoeType":"sneaker"}`)
	require.NotNil(t, sug)
	assert.Equal(t, store.TypeTop, sug.Type)
	assert.Empty(t, sug.Color)
	assert.Empty(t, sug.ShoeType)

	assert.Nil(t, ParseItemSuggestion("I can't tell"))
	assert.Nil(t, ParseItemSuggestion(`{"type":"hat"}`))
}
