// Package telephony keeps telephony campaigns in step with the campaign
// manager.
package telephony

import (
	"context"
	"fmt"

	"github.com/voicetyped/campaignflow/pkg/events"
	"github.com/voicetyped/campaignflow/pkg/lifecycle"
)

// Transitioner requests guarded state changes.
type Transitioner interface {
	RequestTransition(ctx context.Context, kind lifecycle.Kind, id string, target lifecycle.State, reason string) (events.StateChangeEvent, error)
}

// Facade is the telephony module's narrow entry point. Every change goes
// through the transition guard.
type Facade struct {
	transitions Transitioner
	store       lifecycle.EntityStore
}

// NewFacade creates a facade.
func NewFacade(t Transitioner, store lifecycle.EntityStore) *Facade {
	return &Facade{transitions: t, store: store}
}

// ForCampaign returns the telephony campaigns linked to a marketing campaign.
func (f *Facade) ForCampaign(ctx context.Context, campaignID string) ([]*lifecycle.Record, error) {
	recs, err := f.store.ListLinked(ctx, lifecycle.KindTelephonyCampaign, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list telephony campaigns of %s: %w", campaignID, err)
	}
	return recs, nil
}

func (f *Facade) move(ctx context.Context, id string, target lifecycle.State, reason string) error {
	_, err := f.transitions.RequestTransition(ctx, lifecycle.KindTelephonyCampaign, id, target, reason)
	return err
}

// Schedule readies a telephony campaign for dialing. It also takes a paused
// campaign back to Scheduled on reschedule.
func (f *Facade) Schedule(ctx context.Context, id, reason string) error {
	return f.move(ctx, id, lifecycle.CampaignScheduled, reason)
}

func (f *Facade) Activate(ctx context.Context, id, reason string) error {
	return f.move(ctx, id, lifecycle.CampaignActive, reason)
}

func (f *Facade) Pause(ctx context.Context, id, reason string) error {
	return f.move(ctx, id, lifecycle.CampaignPaused, reason)
}

func (f *Facade) Resume(ctx context.Context, id, reason string) error {
	return f.move(ctx, id, lifecycle.CampaignActive, reason)
}

func (f *Facade) Cancel(ctx context.Context, id, reason string) error {
	return f.move(ctx, id, lifecycle.CampaignCancelled, reason)
}

func (f *Facade) Finish(ctx context.Context, id, reason string) error {
	return f.move(ctx, id, lifecycle.CampaignFinished, reason)
}
