// Package dedup suppresses text the user has already seen. The final
// synthesized answer is generated independently of whatever filler replies
// were streamed while tools ran, so naive delivery would repeat phrases.
//
// Matching is heuristic, not semantic. Both passes prefer false negatives
// (a missed duplicate) over false positives, because dropping non-duplicate
// content corrupts the answer.
package dedup

import (
	"strings"
)

// ChunkFilter is the streaming-level pass, stateful per answer.
// Permit reports whether a chunk should be forwarded and, when it is,
// records it as emitted.
type ChunkFilter interface {
	Permit(chunk string) bool
}

// Engine implements both deduplication passes. The zero value is not
// usable; construct with NewEngine.
type Engine struct {
	cfg Config
}

// NewEngine creates an Engine from configuration, falling back to defaults
// for unset knobs.
func NewEngine(cfg *Config) *Engine {
	merged := DefaultConfig()
	if cfg != nil {
		merged.Merge(cfg)
	}
	return &Engine{cfg: merged}
}

// FilterFinal applies the sentence-level pass to a complete answer before it
// is stored in history. Sentences whose normalized form is a substring of
// the concatenated filler log, or whose token overlap against any single
// filler entry meets the threshold, are dropped. Surviving sentences are
// rejoined in original order with collapsed whitespace.
func (e *Engine) FilterFinal(text string, filler []string) string {
	if len(filler) == 0 {
		return text
	}

	fillerAll := normalize(strings.Join(filler, " "))
	fillerNorms := make([]string, len(filler))
	for i, f := range filler {
		fillerNorms[i] = normalize(f)
	}

	var kept []string
	for _, sentence := range splitSentences(text) {
		n := normalize(sentence)
		if n == "" {
			continue
		}
		if containsPhrase(fillerAll, n) {
			continue
		}
		if e.overlapsAny(n, fillerNorms) {
			continue
		}
		kept = append(kept, strings.TrimSpace(sentence))
	}

	return normalizeSpace(strings.Join(kept, " "))
}

// NewStream returns the streaming-level pass for one answer, seeded with
// the current filler log.
func (e *Engine) NewStream(filler []string) ChunkFilter {
	norms := make([]string, 0, len(filler))
	for _, f := range filler {
		if n := normalize(f); n != "" {
			norms = append(norms, n)
		}
	}
	return &chunkStream{cfg: e.cfg, filler: norms}
}

func (e *Engine) overlapsAny(candidate string, fillerNorms []string) bool {
	words := strings.Fields(candidate)
	if len(words) == 0 {
		return false
	}

	for _, entry := range fillerNorms {
		if entry == "" {
			continue
		}
		entryWords := make(map[string]struct{})
		for _, w := range strings.Fields(entry) {
			entryWords[w] = struct{}{}
		}

		shared := 0
		for _, w := range words {
			if _, ok := entryWords[w]; ok {
				shared++
			}
		}
		if float64(shared)/float64(len(words)) >= e.cfg.OverlapThreshold {
			return true
		}
	}
	return false
}

// chunkStream suppresses a chunk when its normalized form already appears
// in what this answer has emitted, or when any n-gram within it appears in
// a filler entry. Suppression is whole-chunk; a chunk mixing new and seen
// words is kept.
type chunkStream struct {
	cfg     Config
	filler  []string
	emitted strings.Builder
}

func (s *chunkStream) Permit(chunk string) bool {
	n := normalize(chunk)
	if n == "" {
		// Whitespace and punctuation-only chunks carry no repeatable content.
		return true
	}

	if s.emitted.Len() > 0 && containsPhrase(s.emitted.String(), n) {
		return false
	}

	words := strings.Fields(n)
	width := s.cfg.NGramWidth
	if width < 1 {
		width = defaultNGramWidth
	}
	for i := 0; i+width <= len(words); i++ {
		gram := strings.Join(words[i:i+width], " ")
		for _, entry := range s.filler {
			if containsPhrase(entry, gram) {
				return false
			}
		}
	}

	if s.emitted.Len() > 0 {
		s.emitted.WriteByte(' ')
	}
	s.emitted.WriteString(n)
	return true
}

// containsPhrase reports whether needle occurs in haystack on word
// boundaries. Both arguments must already be normalized, so padding with
// spaces turns substring search into whole-word phrase search ("on it"
// must not match inside "carbon item").
func containsPhrase(haystack, needle string) bool {
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}

// normalize lower-cases and collapses all whitespace runs to single spaces,
// stripping sentence-terminal punctuation so token comparison is stable.
func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '.', '!', '?', ',', ';', ':':
			return ' '
		}
		return r
	}, s)
	return normalizeSpace(s)
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// splitSentences cuts text on terminal punctuation, keeping the terminator
// attached to its sentence.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			sentences = append(sentences, text[start:i+1])
			start = i + 1
		}
	}
	if tail := strings.TrimSpace(text[start:]); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}
