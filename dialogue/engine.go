// Package dialogue runs conversation turns: it resolves what the caller
// meant, answers from the catalog and keeps the session's memory current.
package dialogue

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/room4-2/CaterConverse/catalog"
	"github.com/room4-2/CaterConverse/intent"
	"github.com/room4-2/CaterConverse/logging"
	"github.com/room4-2/CaterConverse/session"
)

const (
	defaultSearchRadius  = 50.0
	defaultLookupTimeout = 3 * time.Second
	defaultMaxUtterance  = 4096
	defaultBrand         = "EZCaters"
)

// Catalog is the caterer lookup the handlers query.
type Catalog interface {
	ByCuisine(ctx context.Context, name string) ([]catalog.Listing, error)
	ByLocation(ctx context.Context, place string, radiusMiles float64) ([]catalog.Listing, error)
	ByMenuItem(ctx context.Context, term string) ([]catalog.Listing, error)
}

// Options tune an Engine. Zero values pick the defaults.
type Options struct {
	SearchRadius      float64 // miles
	LookupTimeout     time.Duration
	MaxUtteranceBytes int
	Brand             string
	Vocabulary        *intent.Vocabulary
}

// Engine is the dialogue orchestrator. It is safe for concurrent use; turns
// for one session are serialized by the store.
type Engine struct {
	store      *session.Store
	catalog    Catalog
	geocoder   catalog.Geocoder
	classifier *intent.Classifier
	resolver   *intent.Resolver
	opts       Options
	logger     *zap.Logger
	now        func() time.Time
}

// New creates an Engine.
func New(store *session.Store, cat Catalog, geocoder catalog.Geocoder, opts Options, logger *zap.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("dialogue: session store must not be nil")
	}
	if cat == nil {
		return nil, errors.New("dialogue: catalog must not be nil")
	}
	if geocoder == nil {
		return nil, errors.New("dialogue: geocoder must not be nil")
	}
	if opts.SearchRadius <= 0 {
		opts.SearchRadius = defaultSearchRadius
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = defaultLookupTimeout
	}
	if opts.MaxUtteranceBytes <= 0 {
		opts.MaxUtteranceBytes = defaultMaxUtterance
	}
	if strings.TrimSpace(opts.Brand) == "" {
		opts.Brand = defaultBrand
	}
	vocab := intent.DefaultVocabulary()
	if opts.Vocabulary != nil {
		vocab = *opts.Vocabulary
	}
	return &Engine{
		store:      store,
		catalog:    cat,
		geocoder:   geocoder,
		classifier: intent.NewClassifier(vocab),
		resolver:   intent.NewResolver(),
		opts:       opts,
		logger:     logging.OrNop(logger),
		now:        time.Now,
	}, nil
}

// HandleTurn runs one caller utterance through the session identified by
// sessionID, creating the session if it is new, and returns the reply.
func (e *Engine) HandleTurn(ctx context.Context, sessionID, utterance string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return "", newError(ErrorInvalidInput, "empty_utterance", nil)
	}
	if len(utterance) > e.opts.MaxUtteranceBytes {
		return "", newError(ErrorInvalidInput, "utterance_too_long", nil)
	}
	if err := ctx.Err(); err != nil {
		return "", newError(ErrorUnavailable, "request_cancelled", err)
	}

	var reply string
	err := e.store.With(ctx, sessionID, func(c *session.Context) error {
		reply = e.turn(ctx, c, utterance)
		return nil
	})
	if err != nil {
		if errors.Is(err, session.ErrInvalidID) {
			return "", newError(ErrorInvalidInput, "empty_session_id", err)
		}
		return "", newError(ErrorInternal, "session_store_error", err)
	}
	return reply, nil
}

// EndSession forgets sessionID. Ending an unknown session is not an error.
func (e *Engine) EndSession(ctx context.Context, sessionID string) error {
	if err := e.store.Destroy(ctx, sessionID); err != nil {
		if errors.Is(err, session.ErrInvalidID) {
			return newError(ErrorInvalidInput, "empty_session_id", err)
		}
		return newError(ErrorInternal, "session_store_error", err)
	}
	return nil
}

// Session returns a copy of the session's current context.
func (e *Engine) Session(sessionID string) (session.Context, bool) {
	return e.store.Snapshot(sessionID)
}

// ActiveSessions returns the number of live sessions.
func (e *Engine) ActiveSessions() int {
	return e.store.Len()
}

// Greeting is the prompt played before the caller has said anything.
func (e *Engine) Greeting() string {
	return welcomeReply(e.opts.Brand)
}

// VoiceGreeting is the short prompt a phone call opens with. The caller's
// first utterance then gets the full welcome.
func (e *Engine) VoiceGreeting() string {
	return "Thanks for calling " + e.opts.Brand + ". What kind of catering are you looking for today?"
}

// turn runs the pipeline on c. The caller holds c's session lock.
func (e *Engine) turn(ctx context.Context, c *session.Context, utterance string) string {
	c.AddEntry(session.SpeakerUser, utterance, e.now())

	previous := c.LastIntent
	resolved, source := e.resolve(utterance, c)
	c.LastIntent = resolved

	reply := e.dispatch(ctx, c, resolved, previous)

	c.AddEntry(session.SpeakerAssistant, reply, e.now())
	c.Stage = nextStage(c.Stage, resolved)

	e.logger.Debug("turn handled",
		zap.String("session_id", logging.ShortID(c.ID)),
		zap.String("intent", string(resolved.Kind())),
		zap.String("rule", source),
		zap.String("stage", string(c.Stage)),
		zap.Int("recommendations", len(c.Recommendations)),
	)
	return reply
}

// resolve tries the continuation rules first and falls back to stateless
// classification. source names the rule that decided.
func (e *Engine) resolve(utterance string, c *session.Context) (intent.Intent, string) {
	if in, rule, ok := e.resolver.ResolveRule(utterance, c.State()); ok {
		return in, "continuation/" + rule
	}
	in, rule := e.classifier.ClassifyRule(utterance)
	return in, "classifier/" + rule
}

// dispatch hands the intent to exactly one handler. A panicking handler is
// logged and answered with the clarifying reply.
func (e *Engine) dispatch(ctx context.Context, c *session.Context, in intent.Intent, previous intent.Intent) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("response handler panicked",
				zap.String("session_id", logging.ShortID(c.ID)),
				zap.String("intent", string(intent.KindOf(in))),
				zap.Any("panic", r),
			)
			reply = unclearReply(c)
		}
	}()

	switch in := in.(type) {
	case intent.CuisinePreference:
		return e.handleCuisine(ctx, c, in)
	case intent.LocationInquiry:
		return e.handleLocation(ctx, c, in)
	case intent.MenuInquiry:
		return e.handleMenu(ctx, c, in)
	case intent.BookingInquiry:
		return handleBookingInquiry(c)
	case intent.BookingConfirmation:
		return handleBookingConfirmation(c, in)
	case intent.SearchRefinement:
		return handleSearchRefinement(previous)
	case intent.DetailRequest:
		return handleDetailRequest(c, in)
	case intent.SpecificSelection:
		return handleSpecificSelection(c, in)
	case intent.ContactRequest:
		return handleContactRequest(c, in, e.opts.Brand)
	case intent.GeneralAffirmation:
		return handleGeneralAffirmation(c)
	case intent.GeneralInquiry:
		if c.UserTurns() == 1 {
			return welcomeReply(e.opts.Brand)
		}
		return handleGeneralInquiry(c)
	default:
		return unclearReply(c)
	}
}

// lookup runs a catalog query under the lookup timeout. Failures are logged
// and read as no results.
func (e *Engine) lookup(ctx context.Context, c *session.Context, op string, query func(ctx context.Context) ([]catalog.Listing, error)) []catalog.Listing {
	ctx, cancel := context.WithTimeout(ctx, e.opts.LookupTimeout)
	defer cancel()

	results, err := query(ctx)
	if err != nil {
		e.logger.Warn("catalog lookup failed",
			zap.String("session_id", logging.ShortID(c.ID)),
			zap.String("op", op),
			zap.Error(err),
		)
		return nil
	}
	return results
}

// locate geocodes place under the lookup timeout. Errors read as not found.
func (e *Engine) locate(ctx context.Context, c *session.Context, place string) (catalog.Coordinates, bool) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.LookupTimeout)
	defer cancel()

	origin, found, err := e.geocoder.Geocode(ctx, place)
	if err != nil {
		e.logger.Warn("geocode failed",
			zap.String("session_id", logging.ShortID(c.ID)),
			zap.String("place", place),
			zap.Error(err),
		)
		return catalog.Coordinates{}, false
	}
	return origin, found
}
