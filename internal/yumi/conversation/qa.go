package conversation

import (
	"regexp"
	"sort"
	"strings"

	"github.com/yumisugoi/yumi/internal/yumi/llm"
)

var wordRE = regexp.MustCompile(`[\p{L}\p{N}']+`)

var stopWords = map[string]bool{
	"what": true, "that": true, "this": true, "with": true, "have": true,
	"your": true, "about": true, "there": true, "they": true, "from": true,
	"would": true, "could": true, "should": true, "when": true, "where": true,
}

func keywords(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range wordRE.FindAllString(strings.ToLower(s), -1) {
		if len([]rune(w)) >= 4 && !stopWords[w] {
			out[w] = true
		}
	}
	return out
}

// SelectQAPairs returns up to limit pairs whose question shares a keyword
// with message, best overlap first and stable otherwise.
func SelectQAPairs(message string, pairs []llm.QAPair, limit int) []llm.QAPair {
	if limit <= 0 || len(pairs) == 0 {
		return nil
	}
	want := keywords(message)
	if len(want) == 0 {
		return nil
	}

	type scored struct {
		pair  llm.QAPair
		score int
	}
	var hits []scored
	for _, p := range pairs {
		n := 0
		for w := range keywords(p.Question) {
			if want[w] {
				n++
			}
		}
		if n > 0 {
			hits = append(hits, scored{p, n})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]llm.QAPair, len(hits))
	for i, h := range hits {
		out[i] = h.pair
	}
	return out
}
