package utils

// toSet builds a membership set, ignoring empty ids.
func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

// intersection counts the distinct ids present in both lists.
func intersection(a, b []string) int {
	setB := toSet(b)
	n := 0
	for id := range toSet(a) {
		if _, ok := setB[id]; ok {
			n++
		}
	}
	return n
}

// RepeatOverlap is the share of current ids that already appeared in previous.
// It is 0 when current is empty.
func RepeatOverlap(previous, current []string) float64 {
	cur := toSet(current)
	if len(cur) == 0 {
		return 0
	}
	return float64(intersection(current, previous)) / float64(len(cur))
}
