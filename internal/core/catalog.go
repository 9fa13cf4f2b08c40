package core

import (
	"strings"

	"closetstudio.app/virtual-closet/internal/store"
)

// ItemFilter narrows a catalog listing. Zero fields match everything.
type ItemFilter struct {
	Type       store.ItemType
	Color      store.Color
	Silhouette store.Silhouette
	Season     store.Season
	ShoeType   store.ShoeType
	Query      string
}

// ParseItemFilter builds a filter from loosely spelled query values.
func ParseItemFilter(typ, color, silhouette, season, shoeType, q string) (ItemFilter, error) {
	f := ItemFilter{Query: strings.TrimSpace(q)}
	var ok bool
	if typ != "" {
		if f.Type, ok = store.ParseItemType(typ); !ok {
			return f, invalidInput("unknown item type %q", typ)
		}
	}
	if color != "" {
		if f.Color, ok = store.ParseColor(color); !ok {
			return f, invalidInput("unknown color %q", color)
		}
	}
	if silhouette != "" {
		if f.Silhouette, ok = store.ParseSilhouette(silhouette); !ok {
			return f, invalidInput("unknown silhouette %q", silhouette)
		}
	}
	if season != "" {
		if f.Season, ok = store.ParseSeason(season); !ok {
			return f, invalidInput("unknown season %q", season)
		}
	}
	if shoeType != "" {
		if f.ShoeType, ok = store.ParseShoeType(shoeType); !ok {
			return f, invalidInput("unknown shoe type %q", shoeType)
		}
	}
	return f, nil
}

// Match reports whether the item passes every set field. A season filter also
// admits all-season items. Query matches any attribute or the notes, case
// insensitively.
func (f ItemFilter) Match(it store.ClothingItem) bool {
	if f.Type != "" && it.Type != f.Type {
		return false
	}
	if f.Color != "" && it.Color != f.Color {
		return false
	}
	if f.Silhouette != "" && it.Silhouette != f.Silhouette {
		return false
	}
	if f.Season != "" && it.Season != f.Season && it.Season != store.SeasonAllSeason {
		return false
	}
	if f.ShoeType != "" && it.ShoeType != f.ShoeType {
		return false
	}
	if f.Query == "" {
		return true
	}
	q := strings.ToLower(f.Query)
	for _, field := range []string{string(it.Type), string(it.Color), string(it.Silhouette), string(it.Season), string(it.ShoeType), it.Notes} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// FilterItems keeps catalog order.
func FilterItems(items []store.ClothingItem, f ItemFilter) []store.ClothingItem {
	out := make([]store.ClothingItem, 0, len(items))
	for _, it := range items {
		if f.Match(it) {
			out = append(out, it)
		}
	}
	return out
}
