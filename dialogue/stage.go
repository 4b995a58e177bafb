package dialogue

import (
	"github.com/room4-2/CaterConverse/intent"
	"github.com/room4-2/CaterConverse/session"
)

// stageAfter maps an intent kind to the stage a conversation moves to.
// Kinds not listed leave the stage alone.
var stageAfter = map[intent.Kind]session.Stage{
	intent.KindCuisinePreference:   session.StageSearching,
	intent.KindLocationInquiry:     session.StageSearching,
	intent.KindMenuInquiry:         session.StageSearching,
	intent.KindBookingConfirmation: session.StageBooking,
	intent.KindContactRequest:      session.StageBooking,
	intent.KindSpecificSelection:   session.StageSelected,
	intent.KindSearchRefinement:    session.StageRefining,
}

func nextStage(current session.Stage, in intent.Intent) session.Stage {
	if st, ok := stageAfter[intent.KindOf(in)]; ok {
		return st
	}
	return current
}
