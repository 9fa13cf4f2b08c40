package core

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"closetstudio.app/virtual-closet/internal/store"
)

var seedSettings = store.Settings{WeatherLocation: "Boston"}

func newTestCloset(t *testing.T, gen *fakeGenerator, fc Forecaster) (*ClosetService, *settingsRecorder) {
	t.Helper()
	repo := store.NewRepository(store.NewMemoryStore())
	rec := &settingsRecorder{}
	s := NewClosetService(repo, gen, fc, NewImageServiceWithUploader(nil, nopLogger()), seedSettings, nopLogger(), rec)
	return s, rec
}

// seedCatalog stores items with their ids intact.
func seedCatalog(t *testing.T, s *ClosetService, items []store.ClothingItem) {
	t.Helper()
	data, err := json.Marshal(items)
	require.NoError(t, err)
	require.NoError(t, s.Import(context.Background(), map[string]json.RawMessage{store.CollectionItems: data}))
}

// flakyStore fails writes to one collection, and every import when importErr is set.
type flakyStore struct {
	*store.MemoryStore
	mu        sync.Mutex
	failPut   string
	importErr error
}

func (f *flakyStore) Put(ctx context.Context, name string, data json.RawMessage, expectedVersion int64) (int64, error) {
	f.mu.Lock()
	fail := f.failPut == name
	f.mu.Unlock()
	if fail {
		return 0, store.ErrVersionConflict
	}
	return f.MemoryStore.Put(ctx, name, data, expectedVersion)
}

func (f *flakyStore) ImportAll(ctx context.Context, docs map[string]json.RawMessage) error {
	if f.importErr != nil {
		return f.importErr
	}
	return f.MemoryStore.ImportAll(ctx, docs)
}

func (f *flakyStore) setFailPut(name string) {
	f.mu.Lock()
	f.failPut = name
	f.mu.Unlock()
}

func newFlakyCloset(t *testing.T, gen *fakeGenerator) (*ClosetService, *flakyStore) {
	t.Helper()
	docs := &flakyStore{MemoryStore: store.NewMemoryStore()}
	s := NewClosetService(store.NewRepository(docs), gen, nil, NewImageServiceWithUploader(nil, nopLogger()), seedSettings, nopLogger())
	return s, docs
}

func TestClosetItems(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestCloset(t, &fakeGenerator{}, nil)

	saved, err := s.AddItem(ctx, store.ClothingItem{Type: "Tops", Color: "grey", Silhouette: "Loose", Season: "autumn"})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, store.TypeTop, saved.Type)
	assert.Equal(t, store.ColorGray, saved.Color)
	assert.Equal(t, store.SeasonFall, saved.Season)

	_, err = s.AddItem(ctx, store.ClothingItem{Type: store.TypeTop, Color: "teal", Silhouette: store.SilhouetteLoose, Season: store.SeasonFall})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.AddItem(ctx, store.ClothingItem{Type: store.TypeTop, Color: store.ColorRed, Silhouette: store.SilhouetteLoose, Season: store.SeasonFall, ShoeType: store.ShoeBoot})
	assert.ErrorIs(t, err, ErrInvalidInput)

	updated, err := s.UpdateItem(ctx, saved.ID, store.ClothingItem{Type: store.TypeSweater, Color: store.ColorGreen, Silhouette: store.SilhouetteOversized, Season: store.SeasonWinter})
	require.NoError(t, err)
	assert.Equal(t, saved.ID, updated.ID)
	assert.Equal(t, saved.CreatedAt, updated.CreatedAt)

	got, err := s.Items(ctx, ItemFilter{Type: store.TypeSweater})
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, s.DeleteItem(ctx, saved.ID))
	_, err = s.Item(ctx, saved.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteItem(ctx, saved.ID), ErrNotFound)
}

func TestGenerateAndVote(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{configured: true, responses: []string{plainOutfit}}
	s, _ := newTestCloset(t, gen, nil)
	seedCatalog(t, s, testCatalog())

	outfit, err := s.GenerateOutfit(ctx, OutfitRequest{Occasion: " work "})
	require.NoError(t, err)
	assert.Equal(t, "work", outfit.Occasion)

	pending, err := s.PendingOutfit(outfit.ID)
	require.NoError(t, err)
	assert.Equal(t, outfit.ID, pending.ID)

	liked, err := s.Vote(ctx, outfit.ID, true)
	require.NoError(t, err)
	assert.True(t, liked.Liked)

	saved, err := s.Outfits(ctx)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, outfit.ID, saved[0].ID)
	assert.True(t, saved[0].Liked)

	_, err = s.Vote(ctx, outfit.ID, true)
	assert.ErrorIs(t, err, ErrNotFound)

	disliked, err := s.GenerateOutfit(ctx, OutfitRequest{})
	require.NoError(t, err)
	_, err = s.Vote(ctx, disliked.ID, false)
	require.NoError(t, err)

	saved, err = s.Outfits(ctx)
	require.NoError(t, err)
	assert.Len(t, saved, 1)

	prefs, err := s.Preferences(ctx)
	require.NoError(t, err)
	assert.Len(t, prefs.LikedCombinations, 1)
	assert.Len(t, prefs.DislikedCombinations, 1)
	assert.Equal(t, 1, prefs.OccasionPreferences.Count("work"))

	summary, err := s.PreferenceSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.LikedCount)

	require.NoError(t, s.ClearPreferences(ctx))
	summary, err = s.PreferenceSummary(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.LikedCount)
}

func TestVoteRetriesAfterPreferenceWriteFails(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{configured: true, responses: []string{plainOutfit}}
	s, docs := newFlakyCloset(t, gen)
	seedCatalog(t, s, testCatalog())

	outfit, err := s.GenerateOutfit(ctx, OutfitRequest{})
	require.NoError(t, err)

	docs.setFailPut(store.CollectionPreferences)
	_, err = s.Vote(ctx, outfit.ID, true)
	require.ErrorIs(t, err, store.ErrVersionConflict)

	saved, err := s.Outfits(ctx)
	require.NoError(t, err)
	assert.Empty(t, saved)
	pending, err := s.PendingOutfit(outfit.ID)
	require.NoError(t, err)
	assert.False(t, pending.Liked)

	docs.setFailPut("")
	liked, err := s.Vote(ctx, outfit.ID, true)
	require.NoError(t, err)
	assert.True(t, liked.Liked)

	saved, err = s.Outfits(ctx)
	require.NoError(t, err)
	assert.Len(t, saved, 1)
	prefs, err := s.Preferences(ctx)
	require.NoError(t, err)
	assert.Len(t, prefs.LikedCombinations, 1)
}

func TestVoteKeepsPendingWhenOutfitSaveFails(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{configured: true, responses: []string{plainOutfit}}
	s, docs := newFlakyCloset(t, gen)
	seedCatalog(t, s, testCatalog())

	outfit, err := s.GenerateOutfit(ctx, OutfitRequest{})
	require.NoError(t, err)

	docs.setFailPut(store.CollectionOutfits)
	_, err = s.Vote(ctx, outfit.ID, true)
	require.ErrorIs(t, err, store.ErrVersionConflict)

	prefs, err := s.Preferences(ctx)
	require.NoError(t, err)
	assert.Empty(t, prefs.LikedCombinations)
	_, err = s.PendingOutfit(outfit.ID)
	assert.NoError(t, err)
}

func TestGenerateExcludesRecentItems(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{configured: true, responses: []string{plainOutfit}}
	s, _ := newTestCloset(t, gen, nil)
	seedCatalog(t, s, testCatalog())

	_, err := s.GenerateOutfit(ctx, OutfitRequest{})
	require.NoError(t, err)
	_, err = s.GenerateOutfit(ctx, OutfitRequest{})
	require.NoError(t, err)
	_, err = s.GenerateOutfit(ctx, OutfitRequest{ExcludeIDs: []string{}})
	require.NoError(t, err)

	require.Equal(t, 3, gen.calls())
	assert.Len(t, gen.requests[0].Items, 6)
	assert.Len(t, gen.requests[1].Items, 3)
	assert.Len(t, gen.requests[2].Items, 6)

	require.NoError(t, s.DeleteItem(ctx, "top1"))
	assert.NotContains(t, s.recent, "top1")
}

func TestAppendRecentKeepsNewest(t *testing.T) {
	recent := appendRecent(nil, []string{"a", "b", "c", "d"})
	recent = appendRecent(recent, []string{"b", "e", "f", "g"})
	assert.Equal(t, []string{"c", "d", "b", "e", "f", "g"}, recent)
}

func TestGenerateHoldsRuleBreakingOutfit(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{configured: true, responses: []string{
		`{"items":[{"id":"top1","type":"top"},{"id":"bottom1","type":"bottom"},{"id":"coat1","type":"outerwear"}],"reasoning":"layers"}`,
	}}
	s, _ := newTestCloset(t, gen, nil)
	seedCatalog(t, s, testCatalog())

	outfit, err := s.GenerateOutfit(ctx, OutfitRequest{Weather: WeatherContext{Temperature: intPtr(80)}})
	var cv *ConstraintViolationError
	require.ErrorAs(t, err, &cv)
	require.NotNil(t, outfit)

	_, err = s.PendingOutfit(outfit.ID)
	assert.NoError(t, err)
}

func TestGenerationGuard(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{
		configured: true,
		responses:  []string{plainOutfit},
		block:      make(chan struct{}),
		entered:    make(chan struct{}, 1),
	}
	s, _ := newTestCloset(t, gen, nil)
	seedCatalog(t, s, largeCatalog())

	done := make(chan error, 1)
	go func() {
		_, err := s.GenerateOutfit(ctx, OutfitRequest{})
		done <- err
	}()
	<-gen.entered

	_, err := s.GenerateOutfit(ctx, OutfitRequest{})
	assert.ErrorIs(t, err, ErrGenerationInFlight)
	_, err = s.WeeklyPlan(ctx)
	assert.ErrorIs(t, err, ErrGenerationInFlight)
	_, err = s.CreateVisionBoard(ctx, "Autumn")
	assert.ErrorIs(t, err, ErrGenerationInFlight)

	close(gen.block)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("generation did not finish")
	}

	gen.entered = nil
	_, err = s.GenerateOutfit(ctx, OutfitRequest{})
	assert.NoError(t, err)
}

func TestCheckOutfit(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestCloset(t, &fakeGenerator{}, nil)
	seedCatalog(t, s, testCatalog())

	v, err := s.CheckOutfit(ctx, []string{"top1", "bottom1", "shoe1"}, WeatherContext{})
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.Empty(t, v)

	v, err = s.CheckOutfit(ctx, []string{"top1", "shoe1"}, WeatherContext{})
	require.NoError(t, err)
	assert.Equal(t, []string{RuleSlotCompleteness}, rules(v))

	_, err = s.CheckOutfit(ctx, []string{"top1", "nope"}, WeatherContext{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStyleInsights(t *testing.T) {
	ctx := context.Background()

	s, _ := newTestCloset(t, &fakeGenerator{}, nil)
	_, err := s.StyleInsights(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)

	gen := &fakeGenerator{configured: true, responses: []string{"  You favor blue.\n"}}
	s, _ = newTestCloset(t, gen, nil)
	_, err = s.StyleInsights(ctx)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
	assert.Zero(t, gen.calls())

	_, err = s.repo.UpdatePreferences(ctx, func(p *store.PreferenceState) error {
		for i := 0; i < MinLikesForInsights; i++ {
			outfit := store.Outfit{Occasion: "work", Items: testCatalog()[:2]}
			RecordVote(p, outfit, true, time.Now())
		}
		return nil
	})
	require.NoError(t, err)

	text, err := s.StyleInsights(ctx)
	require.NoError(t, err)
	assert.Equal(t, "You favor blue.", text)

	req := gen.requests[0]
	assert.Equal(t, ModeInsights, req.Mode)
	assert.Len(t, req.LikedOutfits, MinLikesForInsights)
	assert.Equal(t, "work: blue fitted top, black fitted bottom", req.LikedOutfits[0])
	require.NotNil(t, req.Preferences)
	assert.Equal(t, MinLikesForInsights, req.Preferences.LikedCount)
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestCloset(t, &fakeGenerator{}, nil)

	_, err := s.AddEvent(ctx, store.CalendarEvent{Name: "  ", Date: "2026-10-20"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = s.AddEvent(ctx, store.CalendarEvent{Name: "Wedding", Date: "10/20/2026"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	e, err := s.AddEvent(ctx, store.CalendarEvent{Name: " Wedding ", Date: "2026-10-20", Type: "formal"})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "Wedding", e.Name)

	events, err := s.Events(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	require.NoError(t, s.DeleteEvent(ctx, e.ID))
	assert.ErrorIs(t, s.DeleteEvent(ctx, e.ID), ErrNotFound)
}

func TestForecast(t *testing.T) {
	ctx := context.Background()

	s, _ := newTestCloset(t, &fakeGenerator{}, &fakeForecaster{})
	view, err := s.Forecast(ctx)
	require.NoError(t, err)
	assert.True(t, view.Placeholder)
	require.Len(t, view.Days, PlanDays)
	require.Len(t, view.Tips, PlanDays)
	assert.Equal(t, WeatherWarm, view.Tips[0].Category)

	s, _ = newTestCloset(t, &fakeGenerator{}, &fakeForecaster{configured: true, err: errors.New("boom")})
	_, err = s.Forecast(ctx)
	assert.ErrorIs(t, err, ErrForecastFailed)

	s, _ = newTestCloset(t, &fakeGenerator{}, &fakeForecaster{configured: true, days: []ForecastDay{
		{Date: "2026-10-12", Temp: 90, Condition: "Sunny"},
		{Date: "2026-10-13", Temp: 55, Condition: "Light rain"},
	}})
	view, err = s.Forecast(ctx)
	require.NoError(t, err)
	assert.False(t, view.Placeholder)
	require.Len(t, view.Tips, 2)
	assert.Equal(t, WeatherHot, view.Tips[0].Category)
	assert.Equal(t, WeatherRainy, view.Tips[1].Category)

	_, err = s.CurrentWeather(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestWeeklyPlanAndVisionBoards(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{configured: true, responses: []string{plainOutfit}}
	s, _ := newTestCloset(t, gen, nil)
	seedCatalog(t, s, largeCatalog())

	plan, err := s.WeeklyPlan(ctx)
	require.NoError(t, err)
	assert.Len(t, plan.Days, PlanDays)
	assert.True(t, plan.Placeholder)

	gen.responses = []string{`[{"occasion":"gala","items":[{"id":"dress1","type":"dress"},{"id":"shoe1","type":"shoes"}]}]`}
	board, err := s.CreateVisionBoard(ctx, "Evenings")
	require.NoError(t, err)
	assert.NotEmpty(t, board.ID)

	boards, err := s.VisionBoards(ctx)
	require.NoError(t, err)
	require.Len(t, boards, 1)
	assert.Equal(t, "Evenings", boards[0].Name)
	assert.Equal(t, "gala", boards[0].Outfits[0].Occasion)

	require.NoError(t, s.DeleteVisionBoard(ctx, board.ID))
	boards, err = s.VisionBoards(ctx)
	require.NoError(t, err)
	assert.Empty(t, boards)
}

func TestSettingsPropagationAndMasking(t *testing.T) {
	ctx := context.Background()
	s, rec := newTestCloset(t, &fakeGenerator{}, nil)

	loaded, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, seedSettings, loaded)
	require.Len(t, rec.got, 1)

	out, err := s.SaveSettings(ctx, store.Settings{GenerationAPIKey: " gen-key-1234 ", WeatherAPIKey: "wx-9876", WeatherLocation: " Paris "})
	require.NoError(t, err)
	assert.Equal(t, "****1234", out.GenerationAPIKey)
	assert.Equal(t, "****9876", out.WeatherAPIKey)
	assert.Equal(t, "Paris", out.WeatherLocation)

	last := rec.got[len(rec.got)-1]
	assert.Equal(t, "gen-key-1234", last.GenerationAPIKey)

	// A client echoing the masked key back keeps the stored one.
	_, err = s.SaveSettings(ctx, store.Settings{GenerationAPIKey: out.GenerationAPIKey, WeatherAPIKey: "", WeatherLocation: "Rome"})
	require.NoError(t, err)
	last = rec.got[len(rec.got)-1]
	assert.Equal(t, "gen-key-1234", last.GenerationAPIKey)
	assert.Empty(t, last.WeatherAPIKey)
	assert.Equal(t, "Rome", last.WeatherLocation)

	view, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "****1234", view.GenerationAPIKey)
}

func TestImportAndClearResetState(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{configured: true, responses: []string{plainOutfit}}
	s, rec := newTestCloset(t, gen, nil)
	seedCatalog(t, s, testCatalog())

	_, err := s.SaveSettings(ctx, store.Settings{GenerationAPIKey: "key-abcd", WeatherLocation: "Oslo"})
	require.NoError(t, err)

	outfit, err := s.GenerateOutfit(ctx, OutfitRequest{})
	require.NoError(t, err)

	backup, err := s.Export(ctx)
	require.NoError(t, err)
	assert.Contains(t, backup, store.CollectionItems)

	err = s.Import(ctx, map[string]json.RawMessage{store.CollectionItems: json.RawMessage(`{"not":"a list"}`)})
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, s.Import(ctx, backup))
	_, err = s.PendingOutfit(outfit.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, s.recent)
	assert.Equal(t, "Oslo", rec.got[len(rec.got)-1].WeatherLocation)

	require.NoError(t, s.Clear(ctx))
	items, err := s.Items(ctx, ItemFilter{})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, seedSettings, rec.got[len(rec.got)-1])
}

func TestImportStorageFailureIsNotInvalidInput(t *testing.T) {
	ctx := context.Background()
	s, docs := newFlakyCloset(t, &fakeGenerator{})
	docs.importErr = errors.New("disk I/O error")

	err := s.Import(ctx, map[string]json.RawMessage{store.CollectionItems: json.RawMessage(`[]`)})
	require.Error(t, err)
	assert.ErrorIs(t, err, docs.importErr)
	assert.NotErrorIs(t, err, ErrInvalidInput)
}

func TestUploadImage(t *testing.T) {
	ctx := context.Background()
	suggestion := &ItemSuggestion{Type: store.TypeTop, Color: store.ColorBlue}
	gen := &fakeGenerator{configured: true, suggestion: suggestion}
	s, _ := newTestCloset(t, gen, nil)

	up, err := s.UploadImage(ctx, pngBytes(20, 10), "image/png", true)
	require.NoError(t, err)
	assert.True(t, up.Image.Inline)
	assert.True(t, strings.HasPrefix(up.Image.URL, "data:image/jpeg;base64,"))
	assert.Equal(t, suggestion, up.Suggestion)

	up, err = s.UploadImage(ctx, pngBytes(20, 10), "image/png", false)
	require.NoError(t, err)
	assert.Nil(t, up.Suggestion)

	_, err = s.UploadImage(ctx, []byte("not an image"), "image/png", true)
	assert.ErrorIs(t, err, ErrInvalidInput)

	// Tagging failures do not fail the upload.
	gen.err = errors.New("quota exceeded")
	gen.suggestion = nil
	up, err = s.UploadImage(ctx, pngBytes(20, 10), "image/png", true)
	require.NoError(t, err)
	assert.Nil(t, up.Suggestion)

	_, err = s.AnalyzeImage(ctx, pngBytes(4, 4), "image/png")
	assert.ErrorIs(t, err, ErrGenerationFailed)

	s, _ = newTestCloset(t, &fakeGenerator{}, nil)
	_, err = s.AnalyzeImage(ctx, pngBytes(4, 4), "image/png")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
