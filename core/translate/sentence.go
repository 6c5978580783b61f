package translate

import "strings"

// sentenceTerminators covers Latin and CJK full-stop punctuation. Closing
// quotes and brackets directly after a terminator stay attached to the
// sentence they close.
var sentenceTerminators = map[rune]bool{
	'.': true, '!': true, '?': true,
	'。': true, '！': true, '？': true, '…': true,
}

var trailingClosers = map[rune]bool{
	'"': true, '\'': true, ')': true, ']': true,
	'”': true, '’': true, '）': true, '」': true, '』': true,
}

// SplitSentences splits text into ordered sentence units. Whitespace-only
// units are dropped; text without any terminator comes back as one unit.
func SplitSentences(text string) []string {
	var sentences []string
	var builder strings.Builder

	terminated := false
	for _, r := range text {
		if terminated && !sentenceTerminators[r] && !trailingClosers[r] {
			if sentence := strings.TrimSpace(builder.String()); sentence != "" {
				sentences = append(sentences, sentence)
			}
			builder.Reset()
			terminated = false
		}

		builder.WriteRune(r)
		if sentenceTerminators[r] {
			terminated = true
		}
	}

	if sentence := strings.TrimSpace(builder.String()); sentence != "" {
		sentences = append(sentences, sentence)
	}

	return sentences
}
