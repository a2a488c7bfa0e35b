// Package moderation classifies peer room text with fixed keyword lists.
// It is a heuristic filter: substring matches will produce false positives
// (for example "hell" inside "hello") and misses on paraphrases.
package moderation

import "strings"

type Category string

const (
	SelfHarm     Category = "self-harm"
	Violence     Category = "violence"
	SubstanceUse Category = "substance-use"
	Profanity    Category = "profanity"
)

// Result is the outcome of Moderate. Flagged is true iff Flags is non-empty.
type Result struct {
	Flagged bool       `json:"flagged"`
	Flags   []Category `json:"flags"`
}

type keywordList struct {
	category Category
	words    []string
	// minorSafeOnly lists are only checked for minor-safe rooms.
	minorSafeOnly bool
}

// checked in this order; the order is also the order of Result.Flags
var lists = []keywordList{
	{category: SelfHarm, words: []string{
		"self-harm", "self harm", "cut myself", "cutting myself",
		"hurt myself", "hurting myself", "kill myself", "killing myself",
		"suicide", "suicidal", "end my life", "want to die",
		"better off dead", "no reason to live",
	}},
	{category: Violence, words: []string{
		"want to hurt", "going to hurt", "kill someone", "attack someone",
		"bring a weapon", "shoot up",
	}},
	{category: SubstanceUse, words: []string{
		"getting high", "doing drugs", "buy drugs", "sell drugs",
		"overdose", "getting drunk",
	}},
	{category: Profanity, minorSafeOnly: true, words: []string{
		"fuck", "shit", "bitch", "ass", "damn", "crap", "hell", "bastard",
	}},
}

// Moderate returns the categories text falls into. Profanity is only
// considered when minorSafeRoom is true.
func Moderate(text string, minorSafeRoom bool) Result {
	res := Result{Flags: []Category{}}
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return res
	}
	for _, l := range lists {
		if l.minorSafeOnly && !minorSafeRoom {
			continue
		}
		if containsAny(lower, l.words) {
			res.Flags = append(res.Flags, l.category)
		}
	}
	res.Flagged = len(res.Flags) > 0
	return res
}

// Strings converts flags for storage and wire payloads.
func (r Result) Strings() []string {
	out := make([]string, len(r.Flags))
	for i, f := range r.Flags {
		out[i] = string(f)
	}
	return out
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
