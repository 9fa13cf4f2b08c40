package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"closetstudio.app/virtual-closet/internal/store"
)

// RecentItemLimit is how many recently generated item ids bias the next outfit away from repeats.
const RecentItemLimit = 6

// CurrentReader is implemented by forecasters that also report live conditions.
type CurrentReader interface {
	CurrentWeather(ctx context.Context) (*CurrentWeather, error)
}

// OutfitRequest asks for one outfit. A nil ExcludeIDs uses the recently
// generated items; an empty non-nil slice excludes nothing.
type OutfitRequest struct {
	Occasion   string         `json:"occasion"`
	Weather    WeatherContext `json:"weather"`
	ExcludeIDs []string       `json:"excludeIds"`
}

// ImageUpload is the stored photo plus the optional attribute suggestion.
type ImageUpload struct {
	Image      StoredImage     `json:"image"`
	Suggestion *ItemSuggestion `json:"suggestion,omitempty"`
}

type ForecastView struct {
	Days        []ForecastDay  `json:"days"`
	Tips        []DressingTips `json:"tips"`
	Placeholder bool           `json:"placeholder"`
}

// ClosetService ties the catalog, the styling rules and the external
// collaborators together. Only one generation runs at a time.
type ClosetService struct {
	repo       *store.Repository
	generator  Generator
	forecaster Forecaster
	images     *ImageService
	composer   *Composer
	planner    *Planner
	curator    *Curator
	listeners  []SettingsAware
	seed       store.Settings

	inFlight *semaphore.Weighted

	mu      sync.Mutex
	pending map[string]store.Outfit
	recent  []string

	log zerolog.Logger
	now func() time.Time
}

// NewClosetService wires the service. Settings changes are pushed to every
// listener; seed is used until settings are saved.
func NewClosetService(repo *store.Repository, generator Generator, forecaster Forecaster, images *ImageService, seed store.Settings, log zerolog.Logger, listeners ...SettingsAware) *ClosetService {
	composer := NewComposer(generator, log)
	return &ClosetService{
		repo:       repo,
		generator:  generator,
		forecaster: forecaster,
		images:     images,
		composer:   composer,
		planner:    NewPlanner(composer, forecaster, log),
		curator:    NewCurator(generator, log),
		listeners:  listeners,
		seed:       seed,
		inFlight:   semaphore.NewWeighted(1),
		pending:    make(map[string]store.Outfit),
		log:        log.With().Str("component", "closet").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// acquire claims the single generation slot without waiting.
func (s *ClosetService) acquire() (func(), error) {
	if !s.inFlight.TryAcquire(1) {
		return nil, ErrGenerationInFlight
	}
	return func() { s.inFlight.Release(1) }, nil
}

// Items

func (s *ClosetService) Items(ctx context.Context, filter ItemFilter) ([]store.ClothingItem, error) {
	items, err := s.repo.Items(ctx)
	if err != nil {
		return nil, err
	}
	return FilterItems(items, filter), nil
}

func (s *ClosetService) Item(ctx context.Context, id string) (*store.ClothingItem, error) {
	return s.repo.Item(ctx, id)
}

func (s *ClosetService) AddItem(ctx context.Context, item store.ClothingItem) (store.ClothingItem, error) {
	item = NormalizeItem(item)
	if err := ValidateItem(item); err != nil {
		return item, err
	}
	saved, err := s.repo.AddItem(ctx, item)
	if err != nil {
		return saved, fmt.Errorf("failed to save item: %w", err)
	}
	s.log.Info().Str("item", saved.ID).Str("type", string(saved.Type)).Msg("item added")
	return saved, nil
}

func (s *ClosetService) UpdateItem(ctx context.Context, id string, item store.ClothingItem) (store.ClothingItem, error) {
	item = NormalizeItem(item)
	if err := ValidateItem(item); err != nil {
		return item, err
	}
	return s.repo.UpdateItem(ctx, id, item)
}

// DeleteItem removes the item from the catalog. Saved outfits keep their snapshot.
func (s *ClosetService) DeleteItem(ctx context.Context, id string) error {
	if err := s.repo.DeleteItem(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	s.recent = removeString(s.recent, id)
	s.mu.Unlock()
	return nil
}

// UploadImage stores the photo and, when asked and possible, suggests item
// attributes. Tagging problems never fail the upload.
func (s *ClosetService) UploadImage(ctx context.Context, data []byte, mimeType string, analyze bool) (*ImageUpload, error) {
	stored, err := s.images.Store(ctx, data)
	if err != nil {
		return nil, err
	}
	out := &ImageUpload{Image: *stored}
	if analyze && s.generator.IsConfigured() {
		sug, err := s.generator.TagImage(ctx, data, mimeType)
		if err != nil {
			s.log.Warn().Err(err).Msg("image analysis failed")
		}
		out.Suggestion = sug
	}
	return out, nil
}

// AnalyzeImage only suggests attributes; nothing is stored.
func (s *ClosetService) AnalyzeImage(ctx context.Context, data []byte, mimeType string) (*ItemSuggestion, error) {
	if !s.generator.IsConfigured() {
		return nil, notConfigured("generation API key is missing")
	}
	sug, err := s.generator.TagImage(ctx, data, mimeType)
	if err != nil {
		return nil, generationError(err)
	}
	return sug, nil
}

// Outfits

// GenerateOutfit composes an outfit and holds it until it is voted on. A
// rule-breaking outfit is held too and returned with its
// *ConstraintViolationError.
func (s *ClosetService) GenerateOutfit(ctx context.Context, req OutfitRequest) (*store.Outfit, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	items, err := s.repo.Items(ctx)
	if err != nil {
		return nil, err
	}
	summary, err := s.PreferenceSummary(ctx)
	if err != nil {
		return nil, err
	}

	exclude := req.ExcludeIDs
	if exclude == nil {
		s.mu.Lock()
		exclude = append([]string(nil), s.recent...)
		s.mu.Unlock()
	}

	outfit, err := s.composer.Compose(ctx, items, summary, OutfitContext{
		Occasion:   strings.TrimSpace(req.Occasion),
		Weather:    req.Weather,
		ExcludeIDs: exclude,
	})
	if outfit == nil {
		return nil, err
	}

	s.mu.Lock()
	s.pending[outfit.ID] = *outfit
	s.recent = appendRecent(s.recent, outfit.ItemIDs())
	s.mu.Unlock()
	return outfit, err
}

func appendRecent(recent, ids []string) []string {
	for _, id := range ids {
		recent = append(removeString(recent, id), id)
	}
	if len(recent) > RecentItemLimit {
		recent = append([]string(nil), recent[len(recent)-RecentItemLimit:]...)
	}
	return recent
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

func (s *ClosetService) PendingOutfit(id string) (*store.Outfit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.pending[id]
	if !ok {
		return nil, fmt.Errorf("pending outfit %s: %w", id, ErrNotFound)
	}
	return &o, nil
}

// Vote records a verdict on a pending outfit. A liked outfit is saved; both
// verdicts land in the preference history. If either write fails the outfit
// goes back to pending and nothing stays saved, so the vote can be retried.
func (s *ClosetService) Vote(ctx context.Context, outfitID string, liked bool) (*store.Outfit, error) {
	s.mu.Lock()
	outfit, ok := s.pending[outfitID]
	if ok {
		delete(s.pending, outfitID)
	}
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("pending outfit %s: %w", outfitID, ErrNotFound)
	}

	pending := outfit
	outfit.Liked = liked
	if liked {
		saved, err := s.repo.AddOutfit(ctx, outfit)
		if err != nil {
			s.restorePending(pending)
			return nil, fmt.Errorf("failed to save outfit: %w", err)
		}
		outfit = saved
	}

	now := s.now()
	if _, err := s.repo.UpdatePreferences(ctx, func(p *store.PreferenceState) error {
		RecordVote(p, outfit, liked, now)
		return nil
	}); err != nil {
		if liked {
			if delErr := s.repo.DeleteOutfit(ctx, outfit.ID); delErr != nil {
				s.log.Error().Err(delErr).Str("outfit", outfit.ID).Msg("failed to roll back saved outfit")
			}
		}
		s.restorePending(pending)
		return nil, fmt.Errorf("failed to record vote: %w", err)
	}

	s.log.Info().Str("outfit", outfit.ID).Bool("liked", liked).Msg("vote recorded")
	return &outfit, nil
}

func (s *ClosetService) restorePending(o store.Outfit) {
	o.Liked = false
	s.mu.Lock()
	s.pending[o.ID] = o
	s.mu.Unlock()
}

func (s *ClosetService) Outfits(ctx context.Context) ([]store.Outfit, error) {
	return s.repo.Outfits(ctx)
}

func (s *ClosetService) DeleteOutfit(ctx context.Context, id string) error {
	return s.repo.DeleteOutfit(ctx, id)
}

// CheckOutfit validates a hand-picked set of catalog items.
func (s *ClosetService) CheckOutfit(ctx context.Context, itemIDs []string, weather WeatherContext) ([]store.Violation, error) {
	catalog, err := s.repo.Items(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]store.ClothingItem, len(catalog))
	for _, it := range catalog {
		byID[it.ID] = it
	}
	items := make([]store.ClothingItem, 0, len(itemIDs))
	for _, id := range itemIDs {
		it, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
		}
		items = append(items, it)
	}
	violations := ValidateOutfit(items, weather)
	if violations == nil {
		violations = []store.Violation{}
	}
	return violations, nil
}

// Preferences

func (s *ClosetService) Preferences(ctx context.Context) (store.PreferenceState, error) {
	return s.repo.Preferences(ctx)
}

func (s *ClosetService) PreferenceSummary(ctx context.Context) (PreferenceSummary, error) {
	state, err := s.repo.Preferences(ctx)
	if err != nil {
		return PreferenceSummary{}, err
	}
	return Summarize(state), nil
}

func (s *ClosetService) ClearPreferences(ctx context.Context) error {
	return s.repo.ClearPreferences(ctx)
}

// StyleInsights asks the model to describe the user's style from recent likes.
func (s *ClosetService) StyleInsights(ctx context.Context) (string, error) {
	if !s.generator.IsConfigured() {
		return "", notConfigured("generation API key is missing")
	}
	state, err := s.repo.Preferences(ctx)
	if err != nil {
		return "", err
	}
	if n := len(state.LikedCombinations); n < MinLikesForInsights {
		return "", fmt.Errorf("%w: %d of %d liked outfits", ErrInsufficientHistory, n, MinLikesForInsights)
	}

	release, err := s.acquire()
	if err != nil {
		return "", err
	}
	defer release()

	summary := Summarize(state)
	req := &GenerationRequest{
		Mode:        ModeInsights,
		Preferences: &summary,
		Temperature: 0.7,
	}
	for _, o := range insightSample(state) {
		req.LikedOutfits = append(req.LikedOutfits, describeOutfit(o))
	}
	text, err := s.generator.Generate(ctx, req)
	if err != nil {
		return "", generationError(err)
	}
	return strings.TrimSpace(text), nil
}

func describeOutfit(o store.Outfit) string {
	parts := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		if it.Degraded() {
			parts = append(parts, string(it.Type))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", it.Color, it.Silhouette, it.Type))
	}
	occasion := o.Occasion
	if occasion == "" {
		occasion = DefaultOccasion
	}
	return fmt.Sprintf("%s: %s", occasion, strings.Join(parts, ", "))
}

// Events

func (s *ClosetService) Events(ctx context.Context) ([]store.CalendarEvent, error) {
	return s.repo.Events(ctx)
}

func (s *ClosetService) AddEvent(ctx context.Context, e store.CalendarEvent) (store.CalendarEvent, error) {
	e.Name = strings.TrimSpace(e.Name)
	e.Type = strings.TrimSpace(e.Type)
	if e.Name == "" {
		return e, invalidInput("event name is required")
	}
	if _, err := time.Parse(store.DateLayout, e.Date); err != nil {
		return e, invalidInput("event date %q must be YYYY-MM-DD", e.Date)
	}
	return s.repo.AddEvent(ctx, e)
}

func (s *ClosetService) DeleteEvent(ctx context.Context, id string) error {
	return s.repo.DeleteEvent(ctx, id)
}

// Weather

func (s *ClosetService) Forecast(ctx context.Context) (*ForecastView, error) {
	view := &ForecastView{}
	if s.forecaster == nil || !s.forecaster.IsConfigured() {
		view.Days = PlaceholderForecast(s.now())
		view.Placeholder = true
	} else {
		days, err := s.forecaster.WeeklyForecast(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrForecastFailed, err)
		}
		view.Days = days
	}
	for _, d := range view.Days {
		view.Tips = append(view.Tips, TipsFor(d.Temp, d.Condition))
	}
	return view, nil
}

func (s *ClosetService) CurrentWeather(ctx context.Context) (*CurrentWeather, error) {
	cr, ok := s.forecaster.(CurrentReader)
	if !ok || !s.forecaster.IsConfigured() {
		return nil, notConfigured("weather API key and location are required")
	}
	cw, err := cr.CurrentWeather(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrForecastFailed, err)
	}
	return cw, nil
}

// Planning and boards

func (s *ClosetService) WeeklyPlan(ctx context.Context) (*WeeklyPlan, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	items, err := s.repo.Items(ctx)
	if err != nil {
		return nil, err
	}
	summary, err := s.PreferenceSummary(ctx)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.Events(ctx)
	if err != nil {
		return nil, err
	}
	return s.planner.Plan(ctx, items, summary, events)
}

func (s *ClosetService) VisionBoards(ctx context.Context) ([]store.VisionBoard, error) {
	return s.repo.VisionBoards(ctx)
}

func (s *ClosetService) CreateVisionBoard(ctx context.Context, name string) (*store.VisionBoard, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	items, err := s.repo.Items(ctx)
	if err != nil {
		return nil, err
	}
	summary, err := s.PreferenceSummary(ctx)
	if err != nil {
		return nil, err
	}
	board, err := s.curator.Curate(ctx, name, items, summary)
	if err != nil {
		return nil, err
	}
	saved, err := s.repo.AddVisionBoard(ctx, *board)
	if err != nil {
		return nil, fmt.Errorf("failed to save vision board: %w", err)
	}
	return &saved, nil
}

func (s *ClosetService) DeleteVisionBoard(ctx context.Context, id string) error {
	return s.repo.DeleteVisionBoard(ctx, id)
}

// Settings

// LoadSettings reads the effective settings and pushes them to every
// listener. It runs at startup and after bulk changes.
func (s *ClosetService) LoadSettings(ctx context.Context) (store.Settings, error) {
	saved, ok, err := s.repo.Settings(ctx)
	if err != nil {
		return store.Settings{}, err
	}
	if !ok {
		saved = s.seed
	}
	s.propagate(saved)
	return saved, nil
}

// Settings returns the effective settings with credentials masked.
func (s *ClosetService) Settings(ctx context.Context) (store.Settings, error) {
	saved, ok, err := s.repo.Settings(ctx)
	if err != nil {
		return store.Settings{}, err
	}
	if !ok {
		saved = s.seed
	}
	return saved.Redacted(), nil
}

// SaveSettings persists settings and propagates them. Masked keys echoed back
// by a client keep their stored value.
func (s *ClosetService) SaveSettings(ctx context.Context, next store.Settings) (store.Settings, error) {
	current, ok, err := s.repo.Settings(ctx)
	if err != nil {
		return store.Settings{}, err
	}
	if !ok {
		current = s.seed
	}
	if isMasked(next.GenerationAPIKey) {
		next.GenerationAPIKey = current.GenerationAPIKey
	}
	if isMasked(next.WeatherAPIKey) {
		next.WeatherAPIKey = current.WeatherAPIKey
	}
	next.GenerationAPIKey = strings.TrimSpace(next.GenerationAPIKey)
	next.WeatherAPIKey = strings.TrimSpace(next.WeatherAPIKey)
	next.WeatherLocation = strings.TrimSpace(next.WeatherLocation)

	if err := s.repo.SaveSettings(ctx, next); err != nil {
		return store.Settings{}, fmt.Errorf("failed to save settings: %w", err)
	}
	s.propagate(next)
	s.log.Info().Bool("generation", next.GenerationAPIKey != "").Bool("weather", next.WeatherAPIKey != "").Msg("settings updated")
	return next.Redacted(), nil
}

func isMasked(v string) bool {
	return strings.HasPrefix(v, "****")
}

func (s *ClosetService) propagate(settings store.Settings) {
	for _, l := range s.listeners {
		l.UpdateSettings(settings)
	}
}

// Backup

func (s *ClosetService) Export(ctx context.Context) (map[string]json.RawMessage, error) {
	return s.repo.ExportAll(ctx)
}

// Import replaces the stored collections and forgets in-memory generation state.
func (s *ClosetService) Import(ctx context.Context, docs map[string]json.RawMessage) error {
	if err := s.repo.ImportAll(ctx, docs); err != nil {
		if errors.Is(err, store.ErrInvalidDocument) {
			return invalidInput("%v", err)
		}
		return fmt.Errorf("failed to import: %w", err)
	}
	s.reset()
	_, err := s.LoadSettings(ctx)
	return err
}

func (s *ClosetService) Clear(ctx context.Context) error {
	if err := s.repo.ClearAll(ctx); err != nil {
		return err
	}
	s.reset()
	_, err := s.LoadSettings(ctx)
	return err
}

func (s *ClosetService) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[string]store.Outfit)
	s.recent = nil
}
