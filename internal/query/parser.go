// Package query plans and executes free-text searches over the inverted index
// and metadata store: terms are ANDed, candidates hydrated and filtered, then
// ranked by name match quality and recency and paged.
package query

import (
	"regexp"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/fsearch/pkg/errors"
)

// Request is a single search call. Limit must be in [1, MaxLimit].
type Request struct {
	Query   string        `json:"query"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
	Filters model.Filters `json:"filters"`
}

// Plan is the normalized form of a raw query.
type Plan struct {
	Raw string
	// Terms are unique and keep their first-seen order.
	Terms []string
	// Folded is the whole query diacritic-folded and trimmed, used for
	// whole-name comparisons during ranking.
	Folded string
}

// Parse normalizes raw into a Plan using tok for term splitting.
func Parse(tok *tokenizer.Tokenizer, raw string) Plan {
	terms := tok.Normalize(raw)
	seen := make(map[string]struct{}, len(terms))
	unique := terms[:0]
	for _, t := range terms {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		unique = append(unique, t)
	}
	return Plan{
		Raw:    raw,
		Terms:  unique,
		Folded: tokenizer.Fold(strings.TrimSpace(raw)),
	}
}

// Limits bound what a Request may ask for.
type Limits struct {
	MaxLimit      int
	MaxQueryBytes int
}

// restricted-name from RFC 6838 section 4.2.
const mimeName = `[A-Za-z0-9][A-Za-z0-9!#$&^_.+-]{0,126}`

var mimeFilterPattern = regexp.MustCompile(`^` + mimeName + `/(` + mimeName + `)?$`)

// Validate reports an InvalidQuery error for malformed requests.
func Validate(req Request, limits Limits) error {
	const op = "query.Validate"
	switch {
	case req.Limit <= 0:
		return apperrors.Newf(apperrors.KindInvalidQuery, op, "limit must be positive, got %d", req.Limit)
	case limits.MaxLimit > 0 && req.Limit > limits.MaxLimit:
		return apperrors.Newf(apperrors.KindInvalidQuery, op, "limit %d exceeds maximum %d", req.Limit, limits.MaxLimit)
	case req.Offset < 0:
		return apperrors.Newf(apperrors.KindInvalidQuery, op, "offset must not be negative, got %d", req.Offset)
	case limits.MaxQueryBytes > 0 && len(req.Query) > limits.MaxQueryBytes:
		return apperrors.Newf(apperrors.KindInvalidQuery, op, "query is %d bytes, maximum is %d", len(req.Query), limits.MaxQueryBytes)
	}
	if m := req.Filters.MimeType; m != "" && !mimeFilterPattern.MatchString(m) {
		return apperrors.Newf(apperrors.KindInvalidQuery, op, "malformed mime type filter %q", m)
	}
	return nil
}
