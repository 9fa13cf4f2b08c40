package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnums(t *testing.T) {
	tests := []struct {
		in   string
		want ItemType
		ok   bool
	}{
		{"top", TypeTop, true},
		{"Tops", TypeTop, true},
		{"dresses", TypeDress, true},
		{"accessories", TypeAccessory, true},
		{" Outerwear ", TypeOuterwear, true},
		{"hat", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseItemType(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	c, ok := ParseColor("Grey")
	assert.True(t, ok)
	assert.Equal(t, ColorGray, c)

	s, ok := ParseSeason("autumn")
	assert.True(t, ok)
	assert.Equal(t, SeasonFall, s)
	s, ok = ParseSeason("all season")
	assert.True(t, ok)
	assert.Equal(t, SeasonAllSeason, s)

	st, ok := ParseShoeType("Sandals")
	assert.True(t, ok)
	assert.Equal(t, ShoeSandal, st)

	_, ok = ParseSilhouette("baggy")
	assert.False(t, ok)
}

func TestTallyKeepsFirstSeenOrder(t *testing.T) {
	var tally Tally
	for _, k := range []string{"red", "blue", "red", "green", "blue", "red"} {
		tally.Inc(k)
	}
	assert.Equal(t, []string{"red", "blue", "green"}, tally.Keys())
	assert.Equal(t, 3, tally.Count("red"))
	assert.Equal(t, 0, tally.Count("pink"))
	assert.Equal(t, 6, tally.Total())

	data, err := json.Marshal(tally)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"key":"red","count":3},{"key":"blue","count":2},{"key":"green","count":1}]`, string(data))

	var back Tally
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, tally.Keys(), back.Keys())
	assert.Equal(t, 2, back.Count("blue"))
}

func TestTallyRejectsNegativeCounts(t *testing.T) {
	var tally Tally
	assert.Error(t, json.Unmarshal([]byte(`[{"key":"red","count":-1}]`), &tally))
	assert.NoError(t, json.Unmarshal([]byte(`null`), &tally))
	assert.Equal(t, 0, tally.Len())
}

func TestSettingsRedacted(t *testing.T) {
	s := Settings{GenerationAPIKey: "sk-1234567890", WeatherAPIKey: "abc", WeatherLocation: "Oslo"}
	r := s.Redacted()
	assert.Equal(t, "****7890", r.GenerationAPIKey)
	assert.Equal(t, "****", r.WeatherAPIKey)
	assert.Equal(t, "Oslo", r.WeatherLocation)
	assert.Equal(t, "sk-1234567890", s.GenerationAPIKey)
}

func TestDegradedItem(t *testing.T) {
	assert.True(t, ClothingItem{ID: "x", Type: TypeTop}.Degraded())
	assert.False(t, ClothingItem{ID: "x", Type: TypeTop, Color: ColorRed}.Degraded())
}
