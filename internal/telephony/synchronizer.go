package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voicetyped/campaignflow/pkg/events"
	"github.com/voicetyped/campaignflow/pkg/lifecycle"
)

// Move is a facade verb applied to one telephony campaign.
type Move func(f *Facade, ctx context.Context, id, reason string) error

// Rule maps a campaign action to the move linked telephony campaigns make.
type Rule struct {
	Action lifecycle.Action
	Move   Move
}

// DefaultRules mirrors the campaign manager's decisions onto telephony
// campaigns. A telephony campaign is created in Draft and becomes Scheduled
// when its campaign is scheduled or rescheduled.
func DefaultRules() []Rule {
	return []Rule{
		{Action: lifecycle.ActionScheduling, Move: (*Facade).Schedule},
		{Action: lifecycle.ActionRescheduling, Move: (*Facade).Schedule},
		{Action: lifecycle.ActionActivation, Move: (*Facade).Activate},
		{Action: lifecycle.ActionPause, Move: (*Facade).Pause},
		{Action: lifecycle.ActionResumption, Move: (*Facade).Resume},
		{Action: lifecycle.ActionCancellation, Move: (*Facade).Cancel},
		{Action: lifecycle.ActionFinalization, Move: (*Facade).Finish},
	}
}

// Synchronizer reacts to campaign events and drives linked telephony
// campaigns through the facade.
type Synchronizer struct {
	facade *Facade
	rules  []Rule
	logger *slog.Logger
}

// NewSynchronizer creates a synchronizer. With no rules, DefaultRules apply.
func NewSynchronizer(facade *Facade, logger *slog.Logger, rules ...Rule) *Synchronizer {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{facade: facade, rules: rules, logger: logger}
}

// Register subscribes one handler per rule, filtered by action.
func (s *Synchronizer) Register(bus *events.Bus) {
	for _, r := range s.rules {
		bus.Subscribe(lifecycle.KindCampaign, s.handler(r),
			events.WithAction(r.Action),
			events.WithName("telephony-sync-"+string(r.Action)))
	}
}

func (s *Synchronizer) handler(r Rule) events.Handler {
	return func(ctx context.Context, evt events.StateChangeEvent) error {
		s.apply(ctx, r, evt)
		return nil
	}
}

// apply never fails: a rejected downstream move means the telephony
// campaign already reached, or moved past, the target, which is the normal
// outcome of a redelivered event.
func (s *Synchronizer) apply(ctx context.Context, r Rule, evt events.StateChangeEvent) {
	linked, err := s.facade.ForCampaign(ctx, evt.EntityID)
	if err != nil {
		s.logger.ErrorContext(ctx, "telephony sync: list linked campaigns",
			slog.String("campaign_id", evt.EntityID),
			slog.String("event_id", evt.ID),
			slog.String("error", err.Error()))
		return
	}

	reason := fmt.Sprintf("campaign %s %s", evt.EntityID, r.Action)
	if evt.Reason != "" {
		reason += ": " + evt.Reason
	}

	for _, tc := range linked {
		err := r.Move(s.facade, ctx, tc.ID, reason)
		switch {
		case err == nil:
			s.logger.InfoContext(ctx, "telephony campaign synchronized",
				slog.String("telephony_campaign_id", tc.ID),
				slog.String("campaign_id", evt.EntityID),
				slog.String("action", string(r.Action)))
		case errors.Is(err, lifecycle.ErrTransitionRejected):
			s.logger.InfoContext(ctx, "telephony sync skipped",
				slog.String("telephony_campaign_id", tc.ID),
				slog.String("campaign_id", evt.EntityID),
				slog.String("action", string(r.Action)),
				slog.String("reason", err.Error()))
		default:
			s.logger.ErrorContext(ctx, "telephony sync failed",
				slog.String("telephony_campaign_id", tc.ID),
				slog.String("campaign_id", evt.EntityID),
				slog.String("action", string(r.Action)),
				slog.String("error", err.Error()))
		}
	}
}
