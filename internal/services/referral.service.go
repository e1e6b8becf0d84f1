package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/careroute/referral-engine/internal/apperr"
	"github.com/careroute/referral-engine/internal/model"
	"github.com/careroute/referral-engine/internal/referral"
	"github.com/careroute/referral-engine/internal/repository"
	"github.com/careroute/referral-engine/pkg/logger"
	"github.com/pkg/errors"
)

const (
	CodeReferralNotFound      = "ReferralNotFound"
	CodeReferralAlreadyExists = "ReferralAlreadyExists"
)

var (
	// UK mobile numbers, either 07 or +447 prefixed.
	mobilePattern = regexp.MustCompile(`^(\+447\d{9}|07\d{9})$`)
	emailPattern  = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

type ReferralService struct {
	repo    ReferralRepository
	msgRepo OutboundMessageRepository
	machine *referral.Machine
}

func NewReferralService(repo ReferralRepository, msgRepo OutboundMessageRepository, machine *referral.Machine) *ReferralService {
	return &ReferralService{repo: repo, msgRepo: msgRepo, machine: machine}
}

// Create admits a new referral in status New. Contact details are normalised
// and validated here once; the stored validity flags are what the state
// machine guards and the queueing run consult later.
func (s *ReferralService) Create(ctx context.Context, p model.ReferralCreateRequest) (*model.Referral, error) {
	if err := p.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "InvalidReferral", "invalid referral", err)
	}

	if existing, err := s.repo.GetByUBRN(ctx, p.UBRN); err == nil && existing != nil {
		return nil, apperr.New(apperr.KindConflict, CodeReferralAlreadyExists,
			fmt.Sprintf("referral with UBRN %s already exists", p.UBRN))
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindUnexpected, "ReferralLookupFailed", "failed to check existing referral", err)
	}

	mobile := normalizeMobile(p.Mobile)
	email := strings.TrimSpace(strings.ToLower(p.Email))

	ref := &model.Referral{
		UBRN:        p.UBRN,
		Status:      model.StatusNew,
		Source:      p.Source,
		Mobile:      mobile,
		MobileValid: mobilePattern.MatchString(mobile),
		Telephone:   strings.TrimSpace(p.Telephone),
		Email:       email,
		EmailValid:  emailPattern.MatchString(email),
		Active:      true,
		ModifiedBy:  "intake",
	}

	created, err := s.repo.Create(ctx, ref)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnexpected, "ReferralCreateFailed", "failed to create referral", err)
	}
	logger.Info("referral admitted", "referral_id", created.ID, "ubrn", created.UBRN, "source", string(created.Source))
	return created, nil
}

func (s *ReferralService) Get(ctx context.Context, id int64) (*model.Referral, error) {
	ref, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, CodeReferralNotFound,
				fmt.Sprintf("referral %d does not exist", id))
		}
		return nil, apperr.Wrap(apperr.KindUnexpected, "ReferralLookupFailed", "failed to load referral", err)
	}
	return ref, nil
}

func (s *ReferralService) List(ctx context.Context, f model.ReferralFilter) ([]*model.Referral, int64, error) {
	for _, status := range f.Statuses {
		if !status.Valid() {
			return nil, 0, apperr.WithField(apperr.KindValidation, "InvalidStatus",
				"unknown referral status", "status", string(status))
		}
	}
	return s.repo.List(ctx, f)
}

// Messages returns the notification history of a referral.
func (s *ReferralService) Messages(ctx context.Context, id int64) ([]*model.OutboundMessage, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.msgRepo.ListByReferral(ctx, id)
}

// ChangeStatus moves a referral through the state machine on behalf of an
// operator. The transition is validated against the stored referral, then
// persisted conditionally on the status not having changed underneath us.
func (s *ReferralService) ChangeStatus(ctx context.Context, id int64, target model.ReferralStatus, reason, modifiedBy string) (*model.Referral, error) {
	ref, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	prev, err := s.machine.Transition(ref, target, reason)
	if err != nil {
		return nil, err
	}

	ref.ModifiedBy = modifiedBy
	if err := s.repo.UpdateStatus(ctx, ref); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.KindStale, "ReferralChanged",
				fmt.Sprintf("referral %d changed while updating", id))
		}
		return nil, apperr.Wrap(apperr.KindUnexpected, "ReferralUpdateFailed", "failed to update referral", err)
	}

	logger.Info("referral status changed",
		"referral_id", id, "from", string(prev), "to", string(target), "by", modifiedBy)
	return ref, nil
}

// AssignProvider records the provider chosen for the referral. Selection is
// what the provider_selected guard checks before the awaiting-start move.
func (s *ReferralService) AssignProvider(ctx context.Context, id int64, providerID int64, modifiedBy string) (*model.Referral, error) {
	ref, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.machine.Terminal(ref.Status) {
		return nil, apperr.WithField(apperr.KindValidation, referral.CodeInvalidTransition,
			fmt.Sprintf("referral %d is in terminal status %s", id, ref.Status), "status", string(ref.Status))
	}

	if err := s.repo.AssignProvider(ctx, id, providerID, modifiedBy); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, CodeReferralNotFound,
				fmt.Sprintf("referral %d does not exist", id))
		}
		return nil, apperr.Wrap(apperr.KindUnexpected, "ReferralUpdateFailed", "failed to assign provider", err)
	}
	return s.Get(ctx, id)
}

// Deactivate soft-removes a referral from every scan and listing. The row
// and its message history stay for audit.
func (s *ReferralService) Deactivate(ctx context.Context, id int64, modifiedBy string) error {
	if err := s.repo.Deactivate(ctx, id, modifiedBy); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.New(apperr.KindNotFound, CodeReferralNotFound,
				fmt.Sprintf("referral %d does not exist", id))
		}
		return apperr.Wrap(apperr.KindUnexpected, "ReferralUpdateFailed", "failed to deactivate referral", err)
	}
	logger.Info("referral deactivated", "referral_id", id, "by", modifiedBy)
	return nil
}

func normalizeMobile(mobile string) string {
	m := strings.TrimSpace(mobile)
	m = strings.ReplaceAll(m, " ", "")
	m = strings.ReplaceAll(m, "-", "")
	if strings.HasPrefix(m, "07") {
		m = "+447" + m[2:]
	}
	return m
}
