package categorization

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Suggestion proposes an existing category for an uncategorized transaction.
// Suggestions are advisory: they are shown to the user and never applied
// automatically, unlike rule matches.
type Suggestion struct {
	CategoryID   uuid.UUID `json:"category_id"`
	CategoryName string    `json:"category_name"`
	Distance     int       `json:"distance"`
}

// SuggestCategories fuzzy-matches the description's words against known
// category names and returns up to limit suggestions, best first. An empty
// result means nothing resembled a category; the transaction stays as is.
func SuggestCategories(description string, categories map[uuid.UUID]string, limit int) []Suggestion {
	if limit <= 0 || len(categories) == 0 {
		return nil
	}

	words := strings.Fields(strings.ToLower(description))
	if len(words) == 0 {
		return nil
	}

	var suggestions []Suggestion
	for id, name := range categories {
		best := -1
		for _, word := range words {
			ranks := fuzzy.RankFindNormalizedFold(word, []string{name})
			if len(ranks) == 0 {
				continue
			}
			if best == -1 || ranks[0].Distance < best {
				best = ranks[0].Distance
			}
		}
		if best >= 0 {
			suggestions = append(suggestions, Suggestion{
				CategoryID:   id,
				CategoryName: name,
				Distance:     best,
			})
		}
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Distance != suggestions[j].Distance {
			return suggestions[i].Distance < suggestions[j].Distance
		}
		return suggestions[i].CategoryName < suggestions[j].CategoryName
	})
	if len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions
}
