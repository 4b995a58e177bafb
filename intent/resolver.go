package intent

import (
	"regexp"
	"strings"

	"github.com/room4-2/CaterConverse/catalog"
)

// State is the part of a conversation the resolver reads.
type State struct {
	Recommendations []catalog.Listing
	LastIntent      Intent
	Location        string
}

// continuationRule reinterprets an utterance against State. interpret may
// decline, in which case the next rule is tried.
type continuationRule struct {
	name      string
	pattern   *regexp.Regexp
	interpret func(m []string, s State) (Intent, bool)
}

// Resolver recognizes utterances that only make sense against the previous
// turn, such as "yes" or "the second one".
type Resolver struct {
	rules []continuationRule
}

var ordinals = map[string]int{"first": 0, "second": 1, "third": 2}

// NewResolver returns a Resolver with the affirmation, negation, detail,
// ordinal and contact rules, tried in that order.
func NewResolver() *Resolver {
	return &Resolver{rules: []continuationRule{
		{
			name:    "affirmation",
			pattern: regexp.MustCompile(`(?i)\b(yes|yeah|yep|sure|ok|okay|sounds good|that works|perfect)\b`),
			interpret: func(_ []string, s State) (Intent, bool) {
				if len(s.Recommendations) == 0 {
					return GeneralAffirmation{}, true
				}
				confirm := BookingConfirmation{Location: s.Location, Caterer: listingRef(s.Recommendations)}
				if cp, ok := s.LastIntent.(CuisinePreference); ok {
					confirm.Cuisine = cp.Cuisine
				}
				return confirm, true
			},
		},
		{
			name:    "negation",
			pattern: regexp.MustCompile(`(?i)\b(no|nope|not really|maybe not|different|something else)\b`),
			interpret: func(_ []string, _ State) (Intent, bool) {
				return SearchRefinement{}, true
			},
		},
		{
			name:    "detail",
			pattern: regexp.MustCompile(`(?i)\b(tell me more|more info|details|what else|continue)\b`),
			interpret: func(_ []string, s State) (Intent, bool) {
				return DetailRequest{Target: listingRef(s.Recommendations)}, true
			},
		},
		{
			name:    "ordinal",
			pattern: regexp.MustCompile(`(?i)\b(first|second|third)\s+(one|option)\b`),
			interpret: func(m []string, s State) (Intent, bool) {
				idx := ordinals[strings.ToLower(m[1])]
				if idx >= len(s.Recommendations) {
					return nil, false
				}
				return SpecificSelection{Caterer: s.Recommendations[idx].Clone(), Index: idx}, true
			},
		},
		{
			name:    "contact",
			pattern: regexp.MustCompile(`(?i)\b(call them|contact|phone|order|book)\b`),
			interpret: func(_ []string, s State) (Intent, bool) {
				return ContactRequest{Caterer: listingRef(s.Recommendations)}, true
			},
		},
	}}
}

// Resolve reports the continuation intent of utterance, if any. ok is false
// when the utterance should go to the Classifier instead.
func (r *Resolver) Resolve(utterance string, s State) (Intent, bool) {
	in, _, ok := r.ResolveRule(utterance, s)
	return in, ok
}

// ResolveRule is Resolve that also names the rule that produced the intent.
func (r *Resolver) ResolveRule(utterance string, s State) (Intent, string, bool) {
	for _, rule := range r.rules {
		m := rule.pattern.FindStringSubmatch(utterance)
		if m == nil {
			continue
		}
		if in, ok := rule.interpret(m, s); ok {
			return in, rule.name, true
		}
	}
	return nil, "", false
}
