package sync

import (
	"strings"
	"unicode"
)

// Small lexicon scorer for email tone. Not a model: a word-count
// ratio in [-1, 1], or no score at all when nothing in the text is
// opinionated.
var positiveWords = map[string]struct{}{
	"great": {}, "good": {}, "excellent": {}, "happy": {}, "pleased": {},
	"thanks": {}, "thank": {}, "appreciate": {}, "glad": {}, "excited": {},
	"wonderful": {}, "perfect": {}, "love": {}, "confident": {}, "helpful": {},
}

var negativeWords = map[string]struct{}{
	"bad": {}, "terrible": {}, "unhappy": {}, "worried": {}, "concerned": {},
	"upset": {}, "angry": {}, "disappointed": {}, "frustrated": {}, "problem": {},
	"issue": {}, "complaint": {}, "afraid": {}, "loss": {}, "cancel": {},
}

// ScoreSentiment returns a score and whether the text carried any
// sentiment signal at all.
func ScoreSentiment(text string) (float64, bool) {
	var pos, neg int
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		if _, ok := positiveWords[word]; ok {
			pos++
		}
		if _, ok := negativeWords[word]; ok {
			neg++
		}
	}
	total := pos + neg
	if total == 0 {
		return 0, false
	}
	return float64(pos-neg) / float64(total), true
}
