// Package referral owns the authoritative status graph of a referral. The
// transition table is data so the full edge set can be enumerated; moving a
// referral between statuses is a pure in-memory update with no I/O, and a
// rejected transition leaves the referral untouched.
package referral

import (
	"fmt"
	"time"

	"github.com/careroute/referral-engine/internal/apperr"
	"github.com/careroute/referral-engine/internal/model"
)

const CodeInvalidTransition = "InvalidTransition"

// Guard is a predicate attached to an edge. It returns nil when the edge may
// be taken, or a short reason otherwise.
type Guard struct {
	Name  string
	Check func(r *model.Referral) error
}

// Edge is one permitted (from, to) move plus the guards that must hold.
type Edge struct {
	Target model.ReferralStatus
	Guards []Guard
}

type Machine struct {
	table map[model.ReferralStatus][]Edge
}

func NewMachine() *Machine {
	return &Machine{table: transitionTable()}
}

// TargetsFrom returns the statuses reachable from the given status,
// disregarding guards.
func (m *Machine) TargetsFrom(status model.ReferralStatus) []model.ReferralStatus {
	edges := m.table[status]
	targets := make([]model.ReferralStatus, 0, len(edges))
	for _, e := range edges {
		targets = append(targets, e.Target)
	}
	return targets
}

// Terminal reports whether a status has no outgoing edges.
func (m *Machine) Terminal(status model.ReferralStatus) bool {
	return len(m.table[status]) == 0
}

func (m *Machine) edge(from, to model.ReferralStatus) (Edge, bool) {
	for _, e := range m.table[from] {
		if e.Target == to {
			return e, true
		}
	}
	return Edge{}, false
}

// CanTransition checks reachability and guards without mutating the referral.
func (m *Machine) CanTransition(r *model.Referral, target model.ReferralStatus) error {
	if !target.Valid() {
		return apperr.WithField(apperr.KindValidation, CodeInvalidTransition,
			"unknown target status", "status", string(target))
	}
	e, ok := m.edge(r.Status, target)
	if !ok {
		return apperr.WithField(apperr.KindValidation, CodeInvalidTransition,
			fmt.Sprintf("no transition from %s to %s", r.Status, target),
			"status", string(target))
	}
	for _, g := range e.Guards {
		if err := g.Check(r); err != nil {
			return apperr.WithField(apperr.KindValidation, CodeInvalidTransition,
				fmt.Sprintf("transition %s to %s blocked by %s", r.Status, target, g.Name),
				g.Name, err.Error())
		}
	}
	return nil
}

// Transition moves the referral to target and returns the previous status for
// audit logging. On any failure the referral is left exactly as it was.
func (m *Machine) Transition(r *model.Referral, target model.ReferralStatus, reason string) (model.ReferralStatus, error) {
	if err := m.CanTransition(r, target); err != nil {
		return r.Status, err
	}

	prev := r.Status
	r.Status = target
	r.StatusReason = reason
	r.ModifiedAt = time.Now()
	return prev, nil
}
