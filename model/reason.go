package model

// Reason explains why a request was rejected or a bundle was dropped.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonNoCapableNode         Reason = "no_capable_node"
	ReasonInfeasibleRoute       Reason = "infeasible_route"
	ReasonNoAcquisitionSlot     Reason = "no_acquisition_slot"
	ReasonBufferOverflow        Reason = "buffer_overflow"
	ReasonDeadlineExpired       Reason = "deadline_expired"
	ReasonCongestionUnavailable Reason = "congestion_unavailable"
	ReasonContactLimit          Reason = "contact_limit"
)
