package query

import (
	"path"
	"slices"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/tokenizer"
)

// Tier orders matches by how closely the item name matches the query.
type Tier int

const (
	TierExactName Tier = iota
	TierNamePrefix
	TierPath
)

// String returns the tier's snake_case name.
func (t Tier) String() string {
	switch t {
	case TierExactName:
		return "exact_name"
	case TierNamePrefix:
		return "name_prefix"
	default:
		return "path"
	}
}

// Ranker orders matches by tier, then recency, then ID.
type Ranker struct {
	tok *tokenizer.Tokenizer
}

// NewRanker returns a Ranker folding names with tok.
func NewRanker(tok *tokenizer.Tokenizer) *Ranker {
	return &Ranker{tok: tok}
}

// TierOf classifies it against plan. A name equals the query when its folded
// form or its terms match, with or without the file extension.
func (r *Ranker) TierOf(plan Plan, it model.Item) Tier {
	folded := tokenizer.Fold(it.Name)
	stem := folded
	if !it.IsFolder {
		stem = strings.TrimSuffix(folded, path.Ext(folded))
	}
	if plan.Folded != "" && (folded == plan.Folded || stem == plan.Folded) {
		return TierExactName
	}
	nameTerms := r.tok.Normalize(it.Name)
	if slices.Equal(nameTerms, plan.Terms) {
		return TierExactName
	}
	if !it.IsFolder && path.Ext(it.Name) != "" {
		if slices.Equal(r.tok.Normalize(strings.TrimSuffix(it.Name, path.Ext(it.Name))), plan.Terms) {
			return TierExactName
		}
	}
	if plan.Folded != "" && strings.HasPrefix(folded, plan.Folded) {
		return TierNamePrefix
	}
	if len(nameTerms) >= len(plan.Terms) && slices.Equal(nameTerms[:len(plan.Terms)], plan.Terms) {
		return TierNamePrefix
	}
	return TierPath
}

// Rank sorts items in place: tier, then most recently modified, then id.
func (r *Ranker) Rank(plan Plan, items []model.Item) []model.Item {
	tiers := make(map[string]Tier, len(items))
	for _, it := range items {
		tiers[it.ID] = r.TierOf(plan, it)
	}
	slices.SortFunc(items, func(a, b model.Item) int {
		if ta, tb := tiers[a.ID], tiers[b.ID]; ta != tb {
			return int(ta) - int(tb)
		}
		if c := b.ModifiedAt.Compare(a.ModifiedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return items
}
