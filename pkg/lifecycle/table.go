package lifecycle

import (
	_ "embed"
	"fmt"
)

//go:embed tables/campaign.yaml
var campaignTablesYAML []byte

// CallTable is the fixed lifecycle of an outbound call.
func CallTable() Table {
	return Table{
		Kind:         KindCall,
		InitialState: CallPending,
		States: map[State]StateDef{
			CallPending: {Transitions: []Edge{
				{Target: CallInCall, Action: ActionCallStarted},
				{Target: CallRescheduled, Action: ActionRescheduling},
				{Target: CallClosed, Action: ActionCallClosed},
				{Target: CallCancelled, Action: ActionCancellation},
			}},
			CallInCall: {Transitions: []Edge{
				{Target: CallRescheduled, Action: ActionRescheduling},
				{Target: CallClosed, Action: ActionCallClosed},
				{Target: CallCancelled, Action: ActionCancellation},
			}},
			CallRescheduled: {Transitions: []Edge{
				{Target: CallInCall, Action: ActionCallStarted},
				{Target: CallClosed, Action: ActionCallClosed},
				{Target: CallCancelled, Action: ActionCancellation},
			}},
			CallClosed:    {Terminal: true},
			CallCancelled: {Terminal: true},
		},
	}
}

// LeadTable is the fixed lifecycle of a lead inside a telephony campaign.
func LeadTable() Table {
	return Table{
		Kind:         KindLead,
		InitialState: LeadPending,
		States: map[State]StateDef{
			LeadPending: {Transitions: []Edge{
				{Target: LeadInCall, Action: ActionContactStarted},
				{Target: LeadRescheduled, Action: ActionRescheduling},
				{Target: LeadSuccessClosed, Action: ActionConversion},
				{Target: LeadDiscarded, Action: ActionDiscard},
			}},
			LeadInCall: {Transitions: []Edge{
				{Target: LeadRescheduled, Action: ActionRescheduling},
				{Target: LeadSuccessClosed, Action: ActionConversion},
				{Target: LeadDiscarded, Action: ActionDiscard},
			}},
			LeadRescheduled: {Transitions: []Edge{
				{Target: LeadInCall, Action: ActionContactStarted},
				{Target: LeadSuccessClosed, Action: ActionConversion},
				{Target: LeadDiscarded, Action: ActionDiscard},
			}},
			LeadSuccessClosed: {Terminal: true},
			LeadDiscarded:     {Terminal: true},
		},
	}
}

// DefaultTables returns the built-in tables: Call and Lead from code, Campaign
// and telephony campaign from the embedded YAML configuration.
func DefaultTables() ([]Table, error) {
	configured, err := ParseTables(campaignTablesYAML)
	if err != nil {
		return nil, fmt.Errorf("embedded campaign tables: %w", err)
	}
	return append([]Table{CallTable(), LeadTable()}, configured...), nil
}

// DefaultRegistry builds a registry from DefaultTables.
func DefaultRegistry() (*Registry, error) {
	tables, err := DefaultTables()
	if err != nil {
		return nil, err
	}
	return NewRegistry(tables...)
}
