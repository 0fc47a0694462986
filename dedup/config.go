package dedup

const (
	defaultOverlapThreshold = 0.75
	defaultNGramWidth       = 2
)

// Config holds the matching knobs. Both defaults are empirical tuning
// values inherited from the original service and have not been validated;
// treat them as starting points, not truths.
type Config struct {
	// OverlapThreshold is the token-overlap ratio (shared words divided by
	// words in the candidate sentence) at or above which a sentence is
	// considered a duplicate of a filler entry.
	OverlapThreshold float64 `json:"overlap_threshold,omitempty"`
	// NGramWidth is the length of the word sequences matched against the
	// filler log during the streaming pass.
	NGramWidth int `json:"ngram_width,omitempty"`
}

// DefaultConfig returns the default matching configuration.
func DefaultConfig() Config {
	return Config{
		OverlapThreshold: defaultOverlapThreshold,
		NGramWidth:       defaultNGramWidth,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.OverlapThreshold > 0 {
		c.OverlapThreshold = source.OverlapThreshold
	}
	if source.NGramWidth > 0 {
		c.NGramWidth = source.NGramWidth
	}
}
