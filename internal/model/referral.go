package model

import (
	"errors"
	"time"
)

// ReferralStatus is the lifecycle state of a referral. The set is closed;
// transitions between members are owned by the referral state machine.
type ReferralStatus string

const (
	StatusNew                          ReferralStatus = "New"
	StatusTextMessage1                 ReferralStatus = "TextMessage1"
	StatusTextMessage2                 ReferralStatus = "TextMessage2"
	StatusRmcCall                      ReferralStatus = "RmcCall"
	StatusFailedToContact              ReferralStatus = "FailedToContact"
	StatusFailedToContactTextMessage   ReferralStatus = "FailedToContactTextMessage"
	StatusFailedToContactEmailMessage  ReferralStatus = "FailedToContactEmailMessage"
	StatusProviderAwaitingStart        ReferralStatus = "ProviderAwaitingStart"
	StatusProviderStarted              ReferralStatus = "ProviderStarted"
	StatusProviderCompleted            ReferralStatus = "ProviderCompleted"
	StatusComplete                     ReferralStatus = "Complete"
	StatusCancelledByEreferrals        ReferralStatus = "CancelledByEreferrals"
	StatusException                    ReferralStatus = "Exception"
	StatusRejectedToEreferrals         ReferralStatus = "RejectedToEreferrals"
	StatusProviderDeclinedByServiceUser ReferralStatus = "ProviderDeclinedByServiceUser"
	StatusProviderRejected             ReferralStatus = "ProviderRejected"
	StatusProviderTerminated           ReferralStatus = "ProviderTerminated"
)

// AllStatuses enumerates the full status set, used to validate stored values
// and to enumerate the transition table in tests.
var AllStatuses = []ReferralStatus{
	StatusNew,
	StatusTextMessage1,
	StatusTextMessage2,
	StatusRmcCall,
	StatusFailedToContact,
	StatusFailedToContactTextMessage,
	StatusFailedToContactEmailMessage,
	StatusProviderAwaitingStart,
	StatusProviderStarted,
	StatusProviderCompleted,
	StatusComplete,
	StatusCancelledByEreferrals,
	StatusException,
	StatusRejectedToEreferrals,
	StatusProviderDeclinedByServiceUser,
	StatusProviderRejected,
	StatusProviderTerminated,
}

func (s ReferralStatus) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

type ReferralSource string

const (
	SourceEreferrals ReferralSource = "ereferrals"
	SourceGpDirect   ReferralSource = "gp-direct"
)

type Referral struct {
	ID               int64          `json:"id"`
	UBRN             string         `json:"ubrn"`
	Status           ReferralStatus `json:"status"`
	StatusReason     string         `json:"status_reason,omitempty"`
	Source           ReferralSource `json:"source"`
	Mobile           string         `json:"mobile,omitempty"`
	MobileValid      bool           `json:"mobile_valid"`
	Telephone        string         `json:"telephone,omitempty"`
	Email            string         `json:"email,omitempty"`
	EmailValid       bool           `json:"email_valid"`
	NumberOfContacts int            `json:"number_of_contacts"`
	ProviderID       *int64         `json:"provider_id,omitempty"`
	Active           bool           `json:"active"`
	ModifiedAt       time.Time      `json:"modified_at"`
	ModifiedBy       string         `json:"modified_by,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

type ReferralCreateRequest struct {
	UBRN      string
	Source    ReferralSource
	Mobile    string
	Telephone string
	Email     string
}

func (p ReferralCreateRequest) Validate() error {
	if p.UBRN == "" {
		return errors.New("ubrn is required")
	}
	if p.Source == "" {
		return errors.New("source is required")
	}
	if p.Mobile == "" && p.Telephone == "" && p.Email == "" {
		return errors.New("at least one contact detail is required")
	}
	return nil
}

// ReferralFilter controls List queries.
type ReferralFilter struct {
	Statuses []ReferralStatus // IN (...)
	UBRN     *string          // equals
	From     *time.Time
	To       *time.Time
	Limit    int // default 50
	Offset   int
	Desc     bool // order by created_at
}
