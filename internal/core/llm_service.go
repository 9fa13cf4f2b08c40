package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"closetstudio.app/virtual-closet/internal/store"
)

const (
	defaultModelName = "gemini-1.5-flash"

	stylistSystemInstruction = "You are a personal stylist who builds outfits only from the user's own wardrobe. " +
		"Use only the item IDs you are given and follow every outfit rule. " +
		"Respond with JSON only, without Markdown."

	insightsSystemInstruction = "You are a personal stylist. Describe the user's style in a short, friendly paragraph " +
		"based on outfits they liked, and suggest one or two pieces that would extend their wardrobe."

	tagImagePrompt = "Describe the clothing item in this photo. Respond with JSON only: " +
		`{"type": "...", "color": "...", "silhouette": "...", "season": "...", "shoeType": "..."}. ` +
		"type is one of top, sweater, bottom, dress, outerwear, shoes, accessory. " +
		"color is one of black, white, gray, brown, beige, red, pink, orange, yellow, green, blue, purple, multicolor. " +
		"silhouette is one of fitted, loose, oversized, flowy, structured. " +
		"season is one of spring, summer, fall, winter, all-season. " +
		"shoeType is only set for shoes and is one of sneaker, boot, sandal, heel, flat, loafer."
)

// LLMService is the Gemini-backed Generator. The client is rebuilt whenever
// the stored API key changes.
type LLMService struct {
	mu        sync.RWMutex
	lease     *clientLease
	apiKey    string
	modelName string
	log       zerolog.Logger
}

// clientLease counts the calls still using a client, so a replaced client is
// closed only once they have returned.
type clientLease struct {
	client *genai.Client
	close  func() error
	active sync.WaitGroup
}

func newClientLease(client *genai.Client) *clientLease {
	return &clientLease{client: client, close: client.Close}
}

func (l *clientLease) shutdown(log zerolog.Logger) {
	l.active.Wait()
	if err := l.close(); err != nil {
		log.Warn().Err(err).Msg("Error closing GenAI client")
	}
}

func NewLLMService(modelName string, settings store.Settings, log zerolog.Logger) *LLMService {
	if modelName == "" {
		modelName = defaultModelName
	}
	s := &LLMService{
		modelName: modelName,
		log:       log.With().Str("component", "llm").Logger(),
	}
	s.UpdateSettings(settings)
	return s
}

// UpdateSettings swaps the client when the generation key changed. A client
// that cannot be built leaves the service unconfigured. The old client stays
// open until calls already running on it return.
func (s *LLMService) UpdateSettings(settings store.Settings) {
	key := strings.TrimSpace(settings.GenerationAPIKey)

	s.mu.Lock()
	defer s.mu.Unlock()
	if key == s.apiKey && (s.lease != nil || key == "") {
		return
	}
	if old := s.lease; old != nil {
		go old.shutdown(s.log)
	}
	s.lease = nil
	s.apiKey = key
	if key == "" {
		return
	}
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(key))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to create GenAI client")
		return
	}
	s.lease = newClientLease(client)
}

func (s *LLMService) IsConfigured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lease != nil
}

// Close waits for running calls and closes the current client.
func (s *LLMService) Close() {
	s.mu.Lock()
	old := s.lease
	s.lease = nil
	s.mu.Unlock()
	if old != nil {
		old.shutdown(s.log)
	}
}

// acquire registers a call on the current client. The caller must call
// lease.active.Done when it no longer uses the client.
func (s *LLMService) acquire() (*clientLease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lease == nil {
		return nil, notConfigured("generation API key is missing")
	}
	s.lease.active.Add(1)
	return s.lease, nil
}

func (s *LLMService) model() (*genai.GenerativeModel, func(), error) {
	lease, err := s.acquire()
	if err != nil {
		return nil, nil, err
	}
	return lease.client.GenerativeModel(s.modelName), lease.active.Done, nil
}

func (s *LLMService) Generate(ctx context.Context, req *GenerationRequest) (string, error) {
	model, release, err := s.model()
	if err != nil {
		return "", err
	}
	defer release()

	system, prompt := RenderPrompt(req)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(system)},
	}
	model.GenerationConfig = genai.GenerationConfig{}
	if req.Temperature > 0 {
		temp := req.Temperature
		model.GenerationConfig.Temperature = &temp
	}
	if req.Mode != ModeInsights {
		model.GenerationConfig.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini %s request failed: %w", req.Mode, err)
	}
	text := responseText(resp)
	if text == "" {
		return "", parseErrorf("gemini returned an empty %s response", req.Mode)
	}
	s.log.Debug().Str("mode", string(req.Mode)).Int("chars", len(text)).Msg("generation complete")
	return text, nil
}

// TagImage asks the model for item attributes. Attributes that do not parse
// are dropped rather than failing the upload.
func (s *LLMService) TagImage(ctx context.Context, data []byte, mimeType string) (*ItemSuggestion, error) {
	model, release, err := s.model()
	if err != nil {
		return nil, err
	}
	defer release()
	model.GenerationConfig = genai.GenerationConfig{ResponseMIMEType: "application/json"}

	format := strings.TrimPrefix(mimeType, "image/")
	if format == "" || format == mimeType {
		format = "jpeg"
	}
	resp, err := model.GenerateContent(ctx, genai.ImageData(format, data), genai.Text(tagImagePrompt))
	if err != nil {
		return nil, fmt.Errorf("gemini image analysis failed: %w", err)
	}
	return ParseItemSuggestion(responseText(resp)), nil
}

// ParseItemSuggestion decodes the image analysis reply; nil means nothing usable.
func ParseItemSuggestion(raw string) *ItemSuggestion {
	var fields struct {
		Type       string `json:"type"`
		Color      string `json:"color"`
		Silhouette string `json:"silhouette"`
		Season     string `json:"season"`
		ShoeType   string `json:"shoeType"`
	}
	values := jsonValues(raw)
	if len(values) == 0 || json.Unmarshal(values[0], &fields) != nil {
		return nil
	}
	var sug ItemSuggestion
	sug.Type, _ = store.ParseItemType(fields.Type)
	sug.Color, _ = store.ParseColor(fields.Color)
	sug.Silhouette, _ = store.ParseSilhouette(fields.Silhouette)
	sug.Season, _ = store.ParseSeason(fields.Season)
	if sug.Type == store.TypeShoes {
		sug.ShoeType, _ = store.ParseShoeType(fields.ShoeType)
	}
	if sug == (ItemSuggestion{}) {
		return nil
	}
	return &sug
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

// RenderPrompt turns a request into the system instruction and user prompt.
func RenderPrompt(req *GenerationRequest) (system, prompt string) {
	var b strings.Builder

	if req.Mode == ModeInsights {
		b.WriteString("Here are outfits I liked recently:\n")
		for _, o := range req.LikedOutfits {
			b.WriteString("- " + o + "\n")
		}
		writePreferences(&b, req.Preferences)
		b.WriteString("\nWhat does this say about my style?")
		return insightsSystemInstruction, b.String()
	}

	b.WriteString("My wardrobe:\n")
	for _, line := range req.Items {
		b.WriteString("- " + line + "\n")
	}

	if req.Mode == ModeBatch {
		fmt.Fprintf(&b, "\nCreate %d different complete outfits for an inspiration board.\n", req.Count)
		fmt.Fprintf(&b, "Tag each outfit with one occasion: %s.\n", strings.Join(req.Categories, ", "))
	} else {
		occasion := req.Occasion
		if occasion == "" {
			occasion = DefaultOccasion
		}
		weather := req.Weather
		if weather == "" {
			weather = WeatherAny
		}
		fmt.Fprintf(&b, "\nCreate one outfit for a %s occasion. Weather: %s.\n", occasion, weather)
		if req.Date != "" {
			fmt.Fprintf(&b, "Date: %s.\n", req.Date)
		}
		if len(req.Events) > 0 {
			fmt.Fprintf(&b, "Planned events: %s.\n", strings.Join(req.Events, ", "))
		}
	}

	writePreferences(&b, req.Preferences)

	b.WriteString("\nRules:\n")
	for i, rule := range req.Rules {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rule)
	}

	b.WriteString("\n")
	if req.Mode == ModeBatch {
		b.WriteString(`Respond with a JSON array: [{"occasion": "...", "name": "...", "items": [{"id": "...", "type": "..."}], "reasoning": "..."}]`)
	} else {
		b.WriteString(`Respond with JSON: {"name": "...", "items": [{"id": "...", "type": "..."}], "reasoning": "..."}`)
	}
	return stylistSystemInstruction, b.String()
}

func writePreferences(b *strings.Builder, p *PreferenceSummary) {
	if p == nil || p.LikedCount == 0 {
		return
	}
	fmt.Fprintf(b, "\nBased on %d liked outfits:\n", p.LikedCount)
	if len(p.TopColors) > 0 {
		fmt.Fprintf(b, "- favorite colors: %s\n", strings.Join(p.TopColors, ", "))
	}
	if len(p.TopStyles) > 0 {
		fmt.Fprintf(b, "- favorite styles: %s\n", strings.Join(p.TopStyles, ", "))
	}
	if len(p.TopOccasions) > 0 {
		fmt.Fprintf(b, "- frequent occasions: %s\n", strings.Join(p.TopOccasions, ", "))
	}
}
