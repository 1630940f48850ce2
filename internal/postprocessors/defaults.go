package postprocessors

import (
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
	"github.com/custodia-labs/inboxd/internal/postprocessors/chunker"
)

// DefaultSplitter is the splitter used when none is configured.
const DefaultSplitter = "paragraph"

// RegisterDefaults registers all built-in splitters with the registry.
func RegisterDefaults(r *Registry) {
	r.Register("paragraph", buildParagraph)
	r.Register("fixed", buildFixed)
}

// buildParagraph creates the sentence-aware splitter.
// Supported config keys:
//   - target_tokens (int): token budget per chunk (default: 7500)
//   - counter (chunker.CountFunc): token counter (default: estimate)
func buildParagraph(cfg map[string]any) (driven.TextSplitter, error) {
	var opts []chunker.Option

	if cfg != nil {
		if n := getIntFromConfig(cfg, "target_tokens"); n > 0 {
			opts = append(opts, chunker.WithTargetTokens(n))
		}
		if count, ok := cfg["counter"].(chunker.CountFunc); ok {
			opts = append(opts, chunker.WithCounter(count))
		}
	}

	return chunker.New(opts...), nil
}

// buildFixed creates a fixed window splitter.
// Supported config keys:
//   - chunk_size (int): characters per chunk (default: 24000)
//   - overlap (int): overlapping characters between chunks (default: 400)
func buildFixed(cfg map[string]any) (driven.TextSplitter, error) {
	var opts []chunker.FixedOption

	if cfg != nil {
		if size := getIntFromConfig(cfg, "chunk_size"); size > 0 {
			opts = append(opts, chunker.WithChunkSize(size))
		}
		if _, ok := cfg["overlap"]; ok {
			opts = append(opts, chunker.WithOverlap(getIntFromConfig(cfg, "overlap")))
		}
	}

	return chunker.NewFixed(opts...), nil
}

// getIntFromConfig safely extracts an int from generic config map.
// Handles int, int64, and float64 types that may come from TOML/JSON parsing.
func getIntFromConfig(cfg map[string]any, key string) int {
	val, ok := cfg[key]
	if !ok {
		return 0
	}

	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
