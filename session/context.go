package session

import (
	"time"

	"github.com/room4-2/CaterConverse/catalog"
	"github.com/room4-2/CaterConverse/intent"
)

// Stage is a coarse, advisory marker of conversation progress.
type Stage string

const (
	StageGreeting  Stage = "greeting"
	StageSearching Stage = "searching"
	StageRefining  Stage = "refining"
	StageSelected  Stage = "selected"
	StageBooking   Stage = "booking"
)

// Speaker identifies who produced a history entry.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Preference keys
const (
	PrefCuisine         = "cuisine"
	PrefSelectedCaterer = "selected_caterer"
)

// Entry is one line of dialogue history.
type Entry struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Context is the memory of one conversation. It is only ever handed out
// while its session lock is held, or as a copy.
type Context struct {
	ID              string
	Stage           Stage
	Preferences     map[string]string
	Location        string
	Recommendations []catalog.Listing
	History         []Entry
	LastIntent      intent.Intent
	PendingActions  []string
	// Selected is the caterer picked by ordinal; Preferences holds its id.
	Selected     *catalog.Listing
	CreatedAt    time.Time
	LastActivity time.Time
}

func newContext(id string, now time.Time) *Context {
	return &Context{
		ID:           id,
		Stage:        StageGreeting,
		Preferences:  make(map[string]string),
		CreatedAt:    now,
		LastActivity: now,
	}
}

// AddEntry appends a line to the history.
func (c *Context) AddEntry(speaker Speaker, text string, at time.Time) {
	c.History = append(c.History, Entry{Speaker: speaker, Text: text, Timestamp: at})
}

// UserTurns counts the user entries in the history.
func (c *Context) UserTurns() int {
	n := 0
	for _, e := range c.History {
		if e.Speaker == SpeakerUser {
			n++
		}
	}
	return n
}

// State returns the view the continuation resolver works on.
func (c *Context) State() intent.State {
	return intent.State{
		Recommendations: c.Recommendations,
		LastIntent:      c.LastIntent,
		Location:        c.Location,
	}
}

// Clone returns a copy that shares no mutable state with c. Intents are
// immutable once resolved and are shared.
func (c *Context) Clone() Context {
	out := *c
	out.Preferences = make(map[string]string, len(c.Preferences))
	for k, v := range c.Preferences {
		out.Preferences[k] = v
	}
	if c.Recommendations != nil {
		out.Recommendations = make([]catalog.Listing, len(c.Recommendations))
		for i, l := range c.Recommendations {
			out.Recommendations[i] = l.Clone()
		}
	}
	out.History = append([]Entry(nil), c.History...)
	out.PendingActions = append([]string(nil), c.PendingActions...)
	if c.Selected != nil {
		sel := c.Selected.Clone()
		out.Selected = &sel
	}
	return out
}
