package core

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/rs/zerolog"

	"closetstudio.app/virtual-closet/internal/store"
)

// fakeGenerator replays canned responses in order, repeating the last one.
type fakeGenerator struct {
	mu         sync.Mutex
	configured bool
	responses  []string
	err        error
	requests   []*GenerationRequest
	suggestion *ItemSuggestion
	block      chan struct{}
	entered    chan struct{}
}

func (f *fakeGenerator) IsConfigured() bool { return f.configured }

func (f *fakeGenerator) Generate(ctx context.Context, req *GenerationRequest) (string, error) {
	if f.block != nil {
		if f.entered != nil {
			f.entered <- struct{}{}
		}
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", nil
	}
	i := len(f.requests) - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

func (f *fakeGenerator) TagImage(ctx context.Context, data []byte, mimeType string) (*ItemSuggestion, error) {
	return f.suggestion, f.err
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeForecaster struct {
	configured bool
	days       []ForecastDay
	err        error
}

func (f *fakeForecaster) IsConfigured() bool { return f.configured }

func (f *fakeForecaster) WeeklyForecast(ctx context.Context) ([]ForecastDay, error) {
	return f.days, f.err
}

type settingsRecorder struct {
	got []store.Settings
}

func (r *settingsRecorder) UpdateSettings(s store.Settings) { r.got = append(r.got, s) }

func item(id string, typ store.ItemType, c store.Color, season store.Season) store.ClothingItem {
	return store.ClothingItem{ID: id, Type: typ, Color: c, Silhouette: store.SilhouetteFitted, Season: season}
}

func shoes(id string, kind store.ShoeType, season store.Season) store.ClothingItem {
	it := item(id, store.TypeShoes, store.ColorBlack, season)
	it.ShoeType = kind
	return it
}

// testCatalog is a small all-season wardrobe that can form valid outfits.
func testCatalog() []store.ClothingItem {
	return []store.ClothingItem{
		item("top1", store.TypeTop, store.ColorBlue, store.SeasonAllSeason),
		item("bottom1", store.TypeBottom, store.ColorBlack, store.SeasonAllSeason),
		item("dress1", store.TypeDress, store.ColorRed, store.SeasonAllSeason),
		shoes("shoe1", store.ShoeSneaker, store.SeasonAllSeason),
		item("coat1", store.TypeOuterwear, store.ColorBrown, store.SeasonAllSeason),
		item("acc1", store.TypeAccessory, store.ColorBeige, store.SeasonAllSeason),
	}
}

func nopLogger() zerolog.Logger { return zerolog.Nop() }

func intPtr(v int) *int { return &v }

func pngBytes(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
