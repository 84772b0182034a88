package postprocessors

import (
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
	"github.com/custodia-labs/deskrag/internal/postprocessors/caption"
	"github.com/custodia-labs/deskrag/internal/postprocessors/chunker"
	"github.com/custodia-labs/deskrag/internal/postprocessors/units"
)

// RegisterDefaults registers all built-in processors with the registry.
func RegisterDefaults(r *Registry) {
	r.Register("units", buildUnits)
	r.Register("caption", buildCaption)
	r.Register("chunker", buildChunker)
}

func buildUnits(_ map[string]any) (driven.PostProcessor, error) {
	return units.New(), nil
}

// buildCaption creates a caption processor from generic config.
// Supported config keys:
//   - max_chars (int): Longest caption kept (default: 160)
func buildCaption(cfg map[string]any) (driven.PostProcessor, error) {
	var opts []caption.Option
	if n := getIntFromConfig(cfg, "max_chars"); n > 0 {
		opts = append(opts, caption.WithMaxChars(n))
	}
	return caption.New(opts...), nil
}

// buildChunker creates a chunker processor from generic config.
// Supported config keys:
//   - max_chars (int): Longest narrative segment; 0 disables splitting
//   - overlap (int): Overlapping characters between pieces (default: 0)
func buildChunker(cfg map[string]any) (driven.PostProcessor, error) {
	var opts []chunker.Option

	if size := getIntFromConfig(cfg, "max_chars"); size > 0 {
		opts = append(opts, chunker.WithMaxChars(size))
	}
	if overlap := getIntFromConfig(cfg, "overlap"); overlap > 0 {
		opts = append(opts, chunker.WithOverlap(overlap))
	}

	return chunker.New(opts...), nil
}

// getIntFromConfig safely extracts an int from generic config map.
// Handles int, int64, and float64 types that may come from TOML/JSON parsing.
func getIntFromConfig(cfg map[string]any, key string) int {
	if cfg == nil {
		return 0
	}
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
