package referral

import (
	"errors"

	"github.com/careroute/referral-engine/internal/model"
)

var (
	guardValidMobile = Guard{
		Name: "valid_mobile",
		Check: func(r *model.Referral) error {
			if r.Mobile == "" || !r.MobileValid {
				return errors.New("a valid mobile number is required")
			}
			return nil
		},
	}

	guardValidEmail = Guard{
		Name: "valid_email",
		Check: func(r *model.Referral) error {
			if r.Email == "" || !r.EmailValid {
				return errors.New("a valid email address is required")
			}
			return nil
		},
	}

	guardProviderSelected = Guard{
		Name: "provider_selected",
		Check: func(r *model.Referral) error {
			if r.ProviderID == nil {
				return errors.New("a provider must be selected")
			}
			return nil
		},
	}
)

// transitionTable enumerates every legal (from, to) edge. Statuses absent as
// keys (Complete, the cancellation and provider end states) are terminal.
// Exception and CancelledByEreferrals are listed on every non-terminal state
// rather than treated as wildcards, so the table stays a plain enumeration.
func transitionTable() map[model.ReferralStatus][]Edge {
	return map[model.ReferralStatus][]Edge{
		model.StatusNew: {
			{Target: model.StatusTextMessage1, Guards: []Guard{guardValidMobile}},
			{Target: model.StatusRmcCall},
			{Target: model.StatusException},
			{Target: model.StatusCancelledByEreferrals},
		},
		model.StatusTextMessage1: {
			{Target: model.StatusTextMessage2, Guards: []Guard{guardValidMobile}},
			{Target: model.StatusRmcCall},
			{Target: model.StatusException},
			{Target: model.StatusCancelledByEreferrals},
		},
		model.StatusTextMessage2: {
			{Target: model.StatusRmcCall},
			{Target: model.StatusException},
			{Target: model.StatusCancelledByEreferrals},
		},
		model.StatusRmcCall: {
			{Target: model.StatusFailedToContact},
			{Target: model.StatusProviderAwaitingStart, Guards: []Guard{guardProviderSelected}},
			{Target: model.StatusException},
			{Target: model.StatusCancelledByEreferrals},
		},
		model.StatusFailedToContact: {
			{Target: model.StatusFailedToContactTextMessage, Guards: []Guard{guardValidMobile}},
			{Target: model.StatusFailedToContactEmailMessage, Guards: []Guard{guardValidEmail}},
			{Target: model.StatusRmcCall},
			{Target: model.StatusException},
			{Target: model.StatusCancelledByEreferrals},
		},
		model.StatusFailedToContactTextMessage: {
			{Target: model.StatusRmcCall},
			{Target: model.StatusException},
			{Target: model.StatusCancelledByEreferrals},
		},
		model.StatusFailedToContactEmailMessage: {
			{Target: model.StatusRmcCall},
			{Target: model.StatusException},
			{Target: model.StatusCancelledByEreferrals},
		},
		model.StatusProviderAwaitingStart: {
			{Target: model.StatusProviderStarted, Guards: []Guard{guardProviderSelected}},
			{Target: model.StatusProviderDeclinedByServiceUser},
			{Target: model.StatusProviderRejected},
			{Target: model.StatusException},
			{Target: model.StatusCancelledByEreferrals},
		},
		model.StatusProviderStarted: {
			{Target: model.StatusProviderCompleted},
			{Target: model.StatusProviderTerminated},
			{Target: model.StatusException},
			{Target: model.StatusCancelledByEreferrals},
		},
		model.StatusProviderCompleted: {
			{Target: model.StatusComplete},
			{Target: model.StatusException},
		},
		model.StatusException: {
			{Target: model.StatusRejectedToEreferrals},
		},
		model.StatusRejectedToEreferrals: {
			{Target: model.StatusNew},
			{Target: model.StatusRmcCall},
			{Target: model.StatusException},
		},
	}
}
