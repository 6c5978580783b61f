// Package translate defines the translation collaborator contract consumed by
// the session engine and the sentence-level pairing it needs to keep
// translations aligned with source text.
//
// Request/response shaping against a concrete translation API lives outside
// the engine; only the interface below crosses the boundary.
package translate

import (
	"context"
	"strings"

	"github.com/justsay/livecap-core/core/transcript"
)

// Translator converts one text unit to the target language.
type Translator interface {
	Translate(ctx context.Context, text string, targetLanguage string) (string, error)
}

// PairSegment translates segment text sentence by sentence and returns the
// segment annotated with its translation and ordered sentence pairs.
//
// Sentences that fail to translate keep an empty translation rather than
// failing the whole segment; the first error is returned so callers can log
// it, but the returned segment is always usable.
func PairSegment(ctx context.Context, translator Translator, segment transcript.SpeakerSegment, targetLanguage string) (transcript.SpeakerSegment, error) {
	if translator == nil || segment.Text == "" {
		return segment, nil
	}

	sentences := SplitSentences(segment.Text)
	pairs := make([]transcript.SentencePair, 0, len(sentences))

	var firstErr error
	translated := make([]string, 0, len(sentences))
	for _, sentence := range sentences {
		pair := transcript.SentencePair{Original: sentence}

		text, err := translator.Translate(ctx, sentence, targetLanguage)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			pair.Translated = text
			translated = append(translated, text)
		}

		pairs = append(pairs, pair)
	}

	segment.SentencePairs = pairs
	segment.TranslatedText = strings.Join(translated, " ")

	return segment, firstErr
}
