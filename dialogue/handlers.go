package dialogue

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/room4-2/CaterConverse/catalog"
	"github.com/room4-2/CaterConverse/intent"
	"github.com/room4-2/CaterConverse/session"
)

// Pending action tags
const (
	ActionBookingConfirmed = "booking_confirmed"
	ActionContactRequested = "contact_requested"
)

// displayCuisine renders a cuisine key for speech, "italian" -> "Italian".
// A Caser is stateful, so one is built per call.
func displayCuisine(name string) string {
	return cases.Title(language.English).String(name)
}

func (e *Engine) handleCuisine(ctx context.Context, c *session.Context, in intent.CuisinePreference) string {
	c.Preferences[session.PrefCuisine] = in.Cuisine
	cuisine := displayCuisine(in.Cuisine)

	results := e.lookup(ctx, c, "by_cuisine", func(ctx context.Context) ([]catalog.Listing, error) {
		return e.catalog.ByCuisine(ctx, in.Cuisine)
	})
	if len(results) == 0 {
		return fmt.Sprintf("I don't currently have %s caterers in our network, but I can suggest some similar options. Would you like to hear about other cuisines we offer?", cuisine)
	}
	c.Recommendations = results
	followUp := c.UserTurns() > 1

	if len(results) == 1 {
		l := results[0]
		reply := fmt.Sprintf("Great choice! I found %s that specializes in %s cuisine. They're rated %s stars and are located in %s. They specialize in %s.",
			l.Name, cuisine, rating(l), l.Location, strings.Join(l.Specialties, ", "))
		if followUp {
			return reply + " This seems perfect based on what you've been looking for! Would you like their contact information?"
		}
		return reply + " Would you like their contact information or should I help you find more options?"
	}

	reply := fmt.Sprintf("Excellent! I found %d %s caterers for you. The top options are %s.",
		len(results), cuisine, strings.Join(names(results, 3), ", "))
	if followUp {
		return reply + " These should work well with your other preferences. Which one interests you most?"
	}
	return reply + " Would you like me to tell you more about any of these, or do you have a specific location in mind?"
}

func (e *Engine) handleLocation(ctx context.Context, c *session.Context, in intent.LocationInquiry) string {
	c.Location = in.Location

	results := e.lookup(ctx, c, "by_location", func(ctx context.Context) ([]catalog.Listing, error) {
		return e.catalog.ByLocation(ctx, in.Location, e.opts.SearchRadius)
	})
	if len(results) == 0 {
		return fmt.Sprintf("I couldn't find any caterers currently delivering to %s. Could you try a nearby city or let me know if you'd like to expand the search radius?", in.Location)
	}
	c.Recommendations = results

	var b strings.Builder
	fmt.Fprintf(&b, "Perfect! I found %d caterers serving the %s area. ", len(results), in.Location)

	if pref := c.Preferences[session.PrefCuisine]; pref != "" {
		matched, rest := partitionByCuisine(results, pref)
		if len(matched) > 0 {
			fmt.Fprintf(&b, "I see %d %s caterers that match your previous preference: %s. ",
				len(matched), displayCuisine(pref), strings.Join(names(matched, 2), ", "))
			c.Recommendations = append(matched, rest...)
		}
	}

	if len(results) >= 3 {
		descriptions := make([]string, 0, 3)
		for _, l := range results[:3] {
			descriptions = append(descriptions, fmt.Sprintf("%s (%s, %s miles away)", l.Name, l.Cuisine, distance(l)))
		}
		fmt.Fprintf(&b, "The closest options are: %s. ", strings.Join(descriptions, ", "))
	} else {
		for _, l := range results {
			fmt.Fprintf(&b, "%s offers %s cuisine and is %s miles away. ", l.Name, l.Cuisine, distance(l))
		}
	}
	b.WriteString("Would you like to hear more details about any of these caterers?")
	return b.String()
}

// partitionByCuisine splits listings into those whose cuisine contains pref
// and the rest, keeping relative order on both sides. Membership is decided
// by provider id.
func partitionByCuisine(listings []catalog.Listing, pref string) (matched, rest []catalog.Listing) {
	pref = strings.ToLower(pref)
	ids := make(map[int]struct{})
	for _, l := range listings {
		if strings.Contains(strings.ToLower(l.Cuisine), pref) {
			matched = append(matched, l)
			ids[l.ID] = struct{}{}
		}
	}
	for _, l := range listings {
		if _, ok := ids[l.ID]; !ok {
			rest = append(rest, l)
		}
	}
	return matched, rest
}

func (e *Engine) handleMenu(ctx context.Context, c *session.Context, in intent.MenuInquiry) string {
	results := e.lookup(ctx, c, "by_menu_item", func(ctx context.Context) ([]catalog.Listing, error) {
		return e.catalog.ByMenuItem(ctx, in.MenuItem)
	})
	if len(results) == 0 {
		return fmt.Sprintf("I don't see any caterers currently offering %s, but let me suggest some similar options. What type of cuisine were you thinking?", in.MenuItem)
	}

	if c.Location != "" {
		if origin, ok := e.locate(ctx, c, c.Location); ok {
			if nearby := catalog.Near(origin, e.opts.SearchRadius, results); len(nearby) > 0 {
				c.Recommendations = nearby
				reply := fmt.Sprintf("Great news! I found %d caterers near %s that offer %s. ", len(nearby), c.Location, in.MenuItem)
				if len(nearby) == 1 {
					l := nearby[0]
					return reply + fmt.Sprintf("%s specializes in %s cuisine and is %s miles away. Would you like their contact information?", l.Name, l.Cuisine, distance(l))
				}
				labels := make([]string, 0, 3)
				for _, l := range nearby[:min(3, len(nearby))] {
					labels = append(labels, fmt.Sprintf("%s (%s miles)", l.Name, distance(l)))
				}
				return reply + fmt.Sprintf("Your closest options are %s. Which one interests you most?", strings.Join(labels, ", "))
			}
		}
	}

	c.Recommendations = results
	if len(results) == 1 {
		l := results[0]
		reply := fmt.Sprintf("Great news! %s offers %s. They specialize in %s cuisine", l.Name, in.MenuItem, l.Cuisine)
		if others := otherSpecialties(l, in.MenuItem); len(others) > 0 {
			reply += " and also offer " + strings.Join(others, ", ")
		}
		return reply + ". Would you like their contact information?"
	}
	return fmt.Sprintf("I found %d caterers that offer %s! Your top options are %s. Would you like me to tell you more about any of these?",
		len(results), in.MenuItem, strings.Join(names(results, 3), ", "))
}

func otherSpecialties(l catalog.Listing, item string) []string {
	var out []string
	for _, s := range l.Specialties {
		if !strings.EqualFold(s, item) {
			out = append(out, s)
		}
	}
	return out
}

func handleBookingInquiry(c *session.Context) string {
	recs := c.Recommendations
	switch {
	case len(recs) == 0:
		return "I'd be happy to help you place an order! First, let me know what type of cuisine you're interested in or your delivery location."
	case c.Selected != nil:
		l := c.Selected
		return fmt.Sprintf("Perfect! I'll help you place an order with %s. You can call them at %s. Their minimum order is $%d. Would you like me to provide any other details before you call?",
			l.Name, l.Phone, l.MinOrder)
	case len(recs) == 1:
		l := recs[0]
		return fmt.Sprintf("Excellent! To place an order with %s, you can call them directly at %s or I can connect you. Their minimum order is $%d and they're rated %s stars. Would you like me to connect you now?",
			l.Name, l.Phone, l.MinOrder, rating(l))
	default:
		return fmt.Sprintf("I have %d great options for you. Which caterer would you like to place an order with? You can say 'the first one' or mention the caterer's name specifically.", len(recs))
	}
}

func handleBookingConfirmation(c *session.Context, in intent.BookingConfirmation) string {
	if in.Caterer == nil {
		return "I'd be happy to help you place an order! Which caterer from our recommendations would you like to book?"
	}
	l := in.Caterer
	c.PendingActions = append(c.PendingActions, ActionBookingConfirmed)
	return fmt.Sprintf("Excellent choice! I'll help you place an order with %s. You can reach them directly at %s. They're rated %s stars and their minimum order is $%d. Would you like me to provide any other information before you call them?",
		l.Name, l.Phone, rating(*l), l.MinOrder)
}

// handleSearchRefinement answers "no" based on what the caller was answering.
func handleSearchRefinement(previous intent.Intent) string {
	switch previous.(type) {
	case intent.CuisinePreference:
		return "No problem! What other type of cuisine would you prefer? We have Italian, Mexican, Chinese, Mediterranean, and American options available."
	case intent.LocationInquiry:
		return "I understand. Would you like to try a different location, or would you prefer to see caterers that can deliver to a wider area?"
	default:
		return "I'd be happy to find different options for you. Could you tell me more specifically what you're looking for?"
	}
}

func handleDetailRequest(c *session.Context, in intent.DetailRequest) string {
	recs := c.Recommendations
	switch {
	case in.Target != nil && len(recs) > 0:
		l := in.Target
		var b strings.Builder
		fmt.Fprintf(&b, "Here are more details about %s:\n\n", l.Name)
		fmt.Fprintf(&b, "• Cuisine: %s\n", l.Cuisine)
		fmt.Fprintf(&b, "• Location: %s\n", l.Location)
		fmt.Fprintf(&b, "• Rating: %s stars\n", rating(*l))
		fmt.Fprintf(&b, "• Price Range: %s\n", l.PriceRange)
		fmt.Fprintf(&b, "• Minimum Order: $%d\n", l.MinOrder)
		fmt.Fprintf(&b, "• Specialties: %s\n", strings.Join(l.Specialties, ", "))
		fmt.Fprintf(&b, "• Phone: %s\n\n", l.Phone)
		fmt.Fprintf(&b, "Description: %s\n\n", l.Description)
		b.WriteString("Would you like to place an order with them, or would you like information about other caterers?")
		return b.String()
	case len(recs) > 0:
		return detailedList(recs[:min(3, len(recs))])
	default:
		return "I don't have specific recommendations to detail right now. What type of catering are you looking for?"
	}
}

func detailedList(listings []catalog.Listing) string {
	var b strings.Builder
	b.WriteString("Here are the details for our top recommendations:\n\n")
	for i, l := range listings {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, l.Name, l.Cuisine)
		fmt.Fprintf(&b, "   • Rating: %s stars\n", rating(l))
		fmt.Fprintf(&b, "   • Location: %s\n", l.Location)
		fmt.Fprintf(&b, "   • Price: %s\n", l.PriceRange)
		fmt.Fprintf(&b, "   • Min Order: $%d\n", l.MinOrder)
		fmt.Fprintf(&b, "   • Phone: %s\n\n", l.Phone)
	}
	b.WriteString("Which one interests you most, or would you like me to help you narrow down the options?")
	return b.String()
}

func handleSpecificSelection(c *session.Context, in intent.SpecificSelection) string {
	l := in.Caterer.Clone()
	c.Selected = &l
	c.Preferences[session.PrefSelectedCaterer] = strconv.Itoa(l.ID)
	return fmt.Sprintf("Great choice! You've selected %s. They specialize in %s cuisine and are rated %s stars. Their minimum order is $%d and they're located in %s. Would you like their contact information to place an order, or do you need more details?",
		l.Name, l.Cuisine, rating(l), l.MinOrder, l.Location)
}

func handleContactRequest(c *session.Context, in intent.ContactRequest, brand string) string {
	if l := in.Caterer; l != nil {
		c.PendingActions = append(c.PendingActions, ActionContactRequested)
		return fmt.Sprintf("Perfect! Here's how to contact %s:\n\nPhone: %s\nLocation: %s\nMinimum Order: $%d\n\nWhen you call, mention you found them through %s. Is there anything else I can help you with for your catering needs?",
			l.Name, l.Phone, l.Location, l.MinOrder, brand)
	}
	if len(c.Recommendations) > 0 {
		l := c.Recommendations[0]
		return fmt.Sprintf("I'll give you the contact information for %s, our top recommendation:\n\nPhone: %s\nLocation: %s\nMinimum Order: $%d\n\nWould you like contact information for any of the other caterers I mentioned?",
			l.Name, l.Phone, l.Location, l.MinOrder)
	}
	return "I'd be happy to help you contact a caterer! First, let me find some options for you. What type of cuisine or location are you looking for?"
}

func handleGeneralAffirmation(c *session.Context) string {
	if len(c.Recommendations) > 0 {
		return fmt.Sprintf("Wonderful! Would you like me to provide contact information for %s, or would you like to hear about more options first?", c.Recommendations[0].Name)
	}
	return "Great! How can I help you find the perfect catering service today?"
}

func handleGeneralInquiry(c *session.Context) string {
	switch {
	case len(c.Recommendations) > 0:
		return "I can help you with more information about the caterers I found, help you make a selection, or search for different options. What would you like to do next?"
	case len(c.Preferences) > 0:
		return "Based on our conversation, I can search for more options or help you refine your preferences. What specific aspect of catering would you like to explore?"
	default:
		return "I'm here to help you find the perfect catering service. You can ask me about cuisine types, locations, specific menu items, or pricing. What interests you most?"
	}
}

func welcomeReply(brand string) string {
	return "Welcome to " + brand + "! I'm here to help you find the perfect catering service for your needs. I can help you search by:\n" +
		"- Cuisine type (Italian, Mexican, Chinese, etc.)\n" +
		"- Your location and delivery area\n" +
		"- Specific menu items you're craving\n" +
		"- Budget and group size\n\n" +
		"What would you like to know about our catering partners?"
}

// unclearReply is the fallback for anything no handler could answer.
func unclearReply(c *session.Context) string {
	if len(c.Recommendations) > 0 {
		return fmt.Sprintf("I'm not sure I understood that completely. Were you asking about one of the caterers I mentioned (%s), or would you like me to search for something else?",
			strings.Join(names(c.Recommendations, 2), ", "))
	}
	return "I want to make sure I understand what you're looking for. Could you tell me what type of cuisine you'd like, your location, or any specific menu items you have in mind?"
}

func names(listings []catalog.Listing, limit int) []string {
	out := make([]string, 0, limit)
	for _, l := range listings[:min(limit, len(listings))] {
		out = append(out, l.Name)
	}
	return out
}

func rating(l catalog.Listing) string {
	return strconv.FormatFloat(l.Rating, 'f', 1, 64)
}

func distance(l catalog.Listing) string {
	d, ok := l.Distance()
	if !ok {
		return "?"
	}
	return strconv.FormatFloat(d, 'f', 1, 64)
}
