package enrichment

import "context"

// EnrichAll resolves details for each title, skipping misses. A nil
// enricher yields an empty map, so callers without an API key need no
// special casing.
func EnrichAll(ctx context.Context, e Enricher, titles []string) map[string]MovieDetails {
	out := map[string]MovieDetails{}
	if e == nil {
		return out
	}
	for _, title := range titles {
		if ctx.Err() != nil {
			return out
		}
		if details, ok := e.Enrich(ctx, title); ok {
			out[title] = details
		}
	}
	return out
}
