// Package intent turns caller utterances into typed intents, either from the
// utterance alone or by reading it against the current conversation.
package intent

import "github.com/room4-2/CaterConverse/catalog"

// Kind names an intent variant.
type Kind string

const (
	KindMenuInquiry         Kind = "menu_inquiry"
	KindCuisinePreference   Kind = "cuisine_preference"
	KindLocationInquiry     Kind = "location_inquiry"
	KindBookingInquiry      Kind = "booking_inquiry"
	KindGeneralInquiry      Kind = "general_inquiry"
	KindBookingConfirmation Kind = "booking_confirmation"
	KindGeneralAffirmation  Kind = "general_affirmation"
	KindSearchRefinement    Kind = "search_refinement"
	KindDetailRequest       Kind = "detail_request"
	KindSpecificSelection   Kind = "specific_selection"
	KindContactRequest      Kind = "contact_request"
)

// Intent is the closed set of resolved intents. A nil Intent means none.
type Intent interface {
	Kind() Kind
	sealed()
}

// KindOf returns the kind of in, or "" for nil.
func KindOf(in Intent) Kind {
	if in == nil {
		return ""
	}
	return in.Kind()
}

type MenuInquiry struct{ MenuItem string }

type CuisinePreference struct{ Cuisine string }

type LocationInquiry struct{ Location string }

type BookingInquiry struct{}

type GeneralInquiry struct{}

// BookingConfirmation accepts the top recommendation. Cuisine and Location
// are empty when unknown.
type BookingConfirmation struct {
	Cuisine  string
	Location string
	Caterer  *catalog.Listing
}

type GeneralAffirmation struct{}

type SearchRefinement struct{}

// DetailRequest asks for more about Target, which is nil when nothing has
// been recommended yet.
type DetailRequest struct{ Target *catalog.Listing }

// SpecificSelection always refers to an existing recommendation.
type SpecificSelection struct {
	Caterer catalog.Listing
	Index   int
}

// ContactRequest asks how to reach Caterer, nil when nothing is recommended.
type ContactRequest struct{ Caterer *catalog.Listing }

func (MenuInquiry) Kind() Kind         { return KindMenuInquiry }
func (CuisinePreference) Kind() Kind   { return KindCuisinePreference }
func (LocationInquiry) Kind() Kind     { return KindLocationInquiry }
func (BookingInquiry) Kind() Kind      { return KindBookingInquiry }
func (GeneralInquiry) Kind() Kind      { return KindGeneralInquiry }
func (BookingConfirmation) Kind() Kind { return KindBookingConfirmation }
func (GeneralAffirmation) Kind() Kind  { return KindGeneralAffirmation }
func (SearchRefinement) Kind() Kind    { return KindSearchRefinement }
func (DetailRequest) Kind() Kind       { return KindDetailRequest }
func (SpecificSelection) Kind() Kind   { return KindSpecificSelection }
func (ContactRequest) Kind() Kind      { return KindContactRequest }

func (MenuInquiry) sealed()         {}
func (CuisinePreference) sealed()   {}
func (LocationInquiry) sealed()     {}
func (BookingInquiry) sealed()      {}
func (GeneralInquiry) sealed()      {}
func (BookingConfirmation) sealed() {}
func (GeneralAffirmation) sealed()  {}
func (SearchRefinement) sealed()    {}
func (DetailRequest) sealed()       {}
func (SpecificSelection) sealed()   {}
func (ContactRequest) sealed()      {}

// listingRef returns a pointer to a copy of recs[0], or nil.
func listingRef(recs []catalog.Listing) *catalog.Listing {
	if len(recs) == 0 {
		return nil
	}
	l := recs[0].Clone()
	return &l
}
