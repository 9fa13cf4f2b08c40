package core

import (
	"sort"
	"time"

	"closetstudio.app/virtual-closet/internal/store"
)

const (
	TopColorCount    = 5
	TopStyleCount    = 3
	TopOccasionCount = 3

	// MinLikesForInsights is the number of liked outfits needed before
	// style insights are requested.
	MinLikesForInsights = 5
	insightSampleSize   = 10
)

// PreferenceSummary is the ranked view of liked-vote history used to bias generation.
type PreferenceSummary struct {
	LikedCount   int      `json:"likedCount"`
	TopColors    []string `json:"topColors"`
	TopStyles    []string `json:"topStyles"`
	TopOccasions []string `json:"topOccasions"`
}

// RecordVote appends the vote to the matching history. Only likes move the
// counters: one color and one silhouette increment per item, and one occasion
// increment per vote.
func RecordVote(state *store.PreferenceState, outfit store.Outfit, liked bool, now time.Time) {
	vote := store.Vote{Outfit: outfit, Liked: liked, Timestamp: now}
	if !liked {
		state.DislikedCombinations = append(state.DislikedCombinations, vote)
		return
	}

	state.LikedCombinations = append(state.LikedCombinations, vote)
	for _, it := range outfit.Items {
		if it.Color != "" {
			state.ColorPreferences.Inc(string(it.Color))
		}
		if it.Silhouette != "" {
			state.StylePreferences.Inc(string(it.Silhouette))
		}
	}
	if outfit.Occasion != "" {
		state.OccasionPreferences.Inc(outfit.Occasion)
	}
}

// Summarize ranks the tallies by descending count; ties keep first-seen order.
func Summarize(state store.PreferenceState) PreferenceSummary {
	return PreferenceSummary{
		LikedCount:   len(state.LikedCombinations),
		TopColors:    topKeys(&state.ColorPreferences, TopColorCount),
		TopStyles:    topKeys(&state.StylePreferences, TopStyleCount),
		TopOccasions: topKeys(&state.OccasionPreferences, TopOccasionCount),
	}
}

func topKeys(t *store.Tally, n int) []string {
	keys := t.Keys()
	sort.SliceStable(keys, func(i, j int) bool {
		return t.Count(keys[i]) > t.Count(keys[j])
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

// insightSample returns the most recent liked outfits, oldest first.
func insightSample(state store.PreferenceState) []store.Outfit {
	liked := state.LikedCombinations
	if len(liked) > insightSampleSize {
		liked = liked[len(liked)-insightSampleSize:]
	}
	out := make([]store.Outfit, 0, len(liked))
	for _, v := range liked {
		out = append(out, v.Outfit)
	}
	return out
}
