package intent

import (
	"regexp"
	"strings"
)

// CuisineKeywords maps one cuisine to the words that signal it.
type CuisineKeywords struct {
	Cuisine  string
	Keywords []string
}

// Vocabulary is the word list the classifier matches against.
type Vocabulary struct {
	MenuItems []string
	// Cuisines are checked in order; the first cuisine with a matching
	// keyword wins.
	Cuisines        []CuisineKeywords
	ServiceAreas    []string
	BookingKeywords []string
}

// DefaultVocabulary returns the vocabulary for the default catalog.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		MenuItems: []string{"pizza", "pasta", "tacos", "burritos", "sandwiches", "salads", "chicken", "rice", "noodles"},
		Cuisines: []CuisineKeywords{
			{Cuisine: "italian", Keywords: []string{"italian", "pasta", "pizza", "spaghetti", "lasagna", "marinara"}},
			{Cuisine: "mexican", Keywords: []string{"mexican", "tacos", "burritos", "nachos", "fajitas", "quesadilla", "salsa"}},
			{Cuisine: "chinese", Keywords: []string{"chinese", "lo mein", "fried rice", "dumplings", "sweet and sour", "chow mein"}},
			{Cuisine: "mediterranean", Keywords: []string{"mediterranean", "hummus", "falafel", "kebabs", "pita", "greek"}},
			{Cuisine: "american", Keywords: []string{"american", "bbq", "barbecue", "fried chicken", "mac and cheese", "burger", "sandwich"}},
		},
		ServiceAreas:    []string{"boston", "cambridge", "somerville", "newton", "brookline"},
		BookingKeywords: []string{"order", "book", "place an order", "want to order", "schedule", "reserve", "buy"},
	}
}

type keyword struct {
	term string
	re   *regexp.Regexp
}

// compileKeywords builds case-insensitive matchers anchored at a word start,
// so "rice" does not fire on "price" while "pizzas" still matches "pizza".
func compileKeywords(terms []string) []keyword {
	out := make([]keyword, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		out = append(out, keyword{term: t, re: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(t))})
	}
	return out
}

func firstKeyword(keywords []keyword, text string) (string, bool) {
	for _, k := range keywords {
		if k.re.MatchString(text) {
			return k.term, true
		}
	}
	return "", false
}

type cuisineMatcher struct {
	cuisine  string
	keywords []keyword
}

// classifierRule turns an utterance into an intent or reports no match.
type classifierRule struct {
	name  string
	match func(utterance string) (Intent, bool)
}

// Classifier maps an utterance to an intent without any conversation state.
// Rules run in order and the first match wins.
type Classifier struct {
	rules []classifierRule
}

var (
	prepositionPlace = regexp.MustCompile(`(?i)\b(?:in|near|around|from)\s+([a-zA-Z\s]+(?:,\s*[A-Z]{2})?)\b`)
	areaPlace        = regexp.MustCompile(`(?i)\b([A-Z][a-zA-Z\s]+(?:,\s*[A-Z]{2})?)\s+area\b`)
)

// NewClassifier builds a Classifier over v.
func NewClassifier(v Vocabulary) *Classifier {
	menu := compileKeywords(v.MenuItems)
	cuisines := make([]cuisineMatcher, 0, len(v.Cuisines))
	for _, c := range v.Cuisines {
		cuisines = append(cuisines, cuisineMatcher{cuisine: strings.ToLower(c.Cuisine), keywords: compileKeywords(c.Keywords)})
	}
	booking := compileKeywords(v.BookingKeywords)

	placePatterns := []*regexp.Regexp{prepositionPlace, areaPlace}
	if areas := quoteAll(v.ServiceAreas); len(areas) > 0 {
		placePatterns = append(placePatterns, regexp.MustCompile(`(?i)\b(`+strings.Join(areas, "|")+`)\b`))
	}

	return &Classifier{rules: []classifierRule{
		{name: "menu_item", match: func(u string) (Intent, bool) {
			item, ok := firstKeyword(menu, u)
			if !ok {
				return nil, false
			}
			return MenuInquiry{MenuItem: item}, true
		}},
		{name: "cuisine", match: func(u string) (Intent, bool) {
			for _, c := range cuisines {
				if _, ok := firstKeyword(c.keywords, u); ok {
					return CuisinePreference{Cuisine: c.cuisine}, true
				}
			}
			return nil, false
		}},
		{name: "location", match: func(u string) (Intent, bool) {
			for _, re := range placePatterns {
				m := re.FindStringSubmatch(u)
				if m == nil {
					continue
				}
				if place := cleanPlace(m[1]); place != "" {
					return LocationInquiry{Location: place}, true
				}
			}
			return nil, false
		}},
		{name: "booking", match: func(u string) (Intent, bool) {
			if _, ok := firstKeyword(booking, u); ok {
				return BookingInquiry{}, true
			}
			return nil, false
		}},
	}}
}

// Classify returns the intent of utterance. It never returns nil; an
// utterance no rule recognizes is a GeneralInquiry.
func (c *Classifier) Classify(utterance string) Intent {
	in, _ := c.ClassifyRule(utterance)
	return in
}

// ClassifyRule is Classify that also names the rule that matched, or
// "default" when none did.
func (c *Classifier) ClassifyRule(utterance string) (Intent, string) {
	u := strings.TrimSpace(utterance)
	for _, r := range c.rules {
		if in, ok := r.match(u); ok {
			return in, r.name
		}
	}
	return GeneralInquiry{}, "default"
}

func quoteAll(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, regexp.QuoteMeta(t))
		}
	}
	return out
}

// cleanPlace trims a captured place name and drops a leading article and a
// trailing "area".
func cleanPlace(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "the ") {
		s = s[4:]
		lower = lower[4:]
	}
	if lower == "area" {
		return ""
	}
	if strings.HasSuffix(lower, " area") {
		s = s[:len(s)-5]
	}
	return strings.TrimSpace(s)
}
