package fsm

import "github.com/counselops/be-rate-negotiations/internal/domain"

// Negotiation transition names.
const (
	TransitionSubmit            = "SUBMIT"
	TransitionBeginReview       = "BEGIN_REVIEW"
	TransitionClientCounter     = "CLIENT_COUNTER"
	TransitionFirmCounter       = "FIRM_COUNTER"
	TransitionEnterApproval     = "ENTER_APPROVAL"
	TransitionFirmToApproval    = "FIRM_TO_APPROVAL"
	TransitionDirectApprove     = "DIRECT_APPROVE"
	TransitionFirmDirectApprove = "FIRM_DIRECT_APPROVE"
	TransitionComplete          = "COMPLETE"
	TransitionReject            = "REJECT"
)

// Guard and effect names resolved by the negotiation service's handler.
const (
	GuardAutoApprovalAllowed = "auto_approval_allowed"

	EffectProcessClientCounter = "process_client_counter"
	EffectProcessFirmCounter   = "process_firm_counter"
	EffectCreateWorkflow       = "create_workflow"
)

// Transition parameter keys.
const (
	ParamCounterRates = "counter_rates" // map[rateID]decimal amount
	ParamMessage      = "message"
)

// NewNegotiationMachine returns the coarse negotiation lifecycle table.
// Completed and rejected are terminal: no transition lists them as a source.
func NewNegotiationMachine() *Machine {
	req := string(domain.NegotiationRequested)
	prog := string(domain.NegotiationInProgress)
	done := string(domain.NegotiationCompleted)
	rej := string(domain.NegotiationRejected)

	return NewMachine("negotiation", []Transition{
		{
			Name:    TransitionSubmit,
			Sources: []string{req},
			Target:  prog,
		},
		{
			// marks the client-side review milestone; no status change
			Name:    TransitionBeginReview,
			Sources: []string{prog},
			Target:  prog,
		},
		{
			Name:           TransitionClientCounter,
			Sources:        []string{prog},
			Target:         prog,
			RequiredParams: []string{ParamCounterRates, ParamMessage},
			Effect:         EffectProcessClientCounter,
		},
		{
			Name:           TransitionFirmCounter,
			Sources:        []string{prog},
			Target:         prog,
			RequiredParams: []string{ParamCounterRates, ParamMessage},
			Effect:         EffectProcessFirmCounter,
		},
		{
			Name:    TransitionEnterApproval,
			Sources: []string{prog},
			Target:  prog,
			Effect:  EffectCreateWorkflow,
		},
		{
			Name:    TransitionFirmToApproval,
			Sources: []string{prog},
			Target:  prog,
			Effect:  EffectCreateWorkflow,
		},
		{
			Name:    TransitionDirectApprove,
			Sources: []string{prog},
			Target:  done,
			Guard:   GuardAutoApprovalAllowed,
		},
		{
			Name:    TransitionFirmDirectApprove,
			Sources: []string{prog},
			Target:  done,
			Guard:   GuardAutoApprovalAllowed,
		},
		{
			Name:    TransitionComplete,
			Sources: []string{prog},
			Target:  done,
		},
		{
			Name:    TransitionReject,
			Sources: []string{req, prog},
			Target:  rej,
		},
	})
}

// Rate transition names.
const (
	RateTransitionSubmit        = "SUBMIT_RATE"
	RateTransitionBeginReview   = "BEGIN_REVIEW"
	RateTransitionClientApprove = "CLIENT_APPROVE"
	RateTransitionClientReject  = "CLIENT_REJECT"
	RateTransitionClientCounter = "CLIENT_COUNTER"
	RateTransitionFirmAccept    = "FIRM_ACCEPT"
	RateTransitionFirmCounter   = "FIRM_COUNTER"
	RateTransitionEnterApproval = "ENTER_APPROVAL"
	RateTransitionApprove       = "APPROVE"
	RateTransitionReject        = "REJECT"
	RateTransitionModify        = "MODIFY"
	RateTransitionExport        = "EXPORT"
	RateTransitionActivate      = "ACTIVATE"
	RateTransitionExpire        = "EXPIRE"
)

// NewRateMachine returns the fine-grained rate lifecycle table used to drive
// counter-proposal rounds and export. Exported, expired, and rejected are
// terminal.
func NewRateMachine() *Machine {
	draft := string(domain.RateDraft)
	submitted := string(domain.RateSubmitted)
	review := string(domain.RateUnderReview)
	clientApproved := string(domain.RateClientApproved)
	clientCounter := string(domain.RateClientCounterProposed)
	firmAccepted := string(domain.RateFirmAccepted)
	firmCounter := string(domain.RateFirmCounterProposed)
	pendApproval := string(domain.RatePendingApproval)
	approved := string(domain.RateApproved)
	modified := string(domain.RateModified)
	active := string(domain.RateActive)

	return NewMachine("rate", []Transition{
		{Name: RateTransitionSubmit, Sources: []string{draft}, Target: submitted},
		{Name: RateTransitionBeginReview, Sources: []string{submitted}, Target: review},
		{
			Name:    RateTransitionClientApprove,
			Sources: []string{review, firmCounter},
			Target:  clientApproved,
		},
		{
			Name:    RateTransitionClientReject,
			Sources: []string{review, firmCounter},
			Target:  string(domain.RateClientRejected),
		},
		{
			Name:    RateTransitionClientCounter,
			Sources: []string{review, firmCounter},
			Target:  clientCounter,
		},
		{
			Name:    RateTransitionFirmAccept,
			Sources: []string{clientCounter},
			Target:  firmAccepted,
		},
		{
			Name:    RateTransitionFirmCounter,
			Sources: []string{clientCounter},
			Target:  firmCounter,
		},
		{
			Name:    RateTransitionEnterApproval,
			Sources: []string{clientApproved, firmAccepted, review},
			Target:  pendApproval,
		},
		{Name: RateTransitionApprove, Sources: []string{pendApproval}, Target: approved},
		{
			Name:    RateTransitionReject,
			Sources: []string{pendApproval, review, clientCounter, firmCounter},
			Target:  string(domain.RateRejected),
		},
		{Name: RateTransitionModify, Sources: []string{approved}, Target: modified},
		{Name: RateTransitionExport, Sources: []string{approved, active, modified}, Target: string(domain.RateExported)},
		{Name: RateTransitionActivate, Sources: []string{approved, modified}, Target: active},
		{Name: RateTransitionExpire, Sources: []string{active}, Target: string(domain.RateExpired)},
	})
}
