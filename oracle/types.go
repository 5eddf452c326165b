// Package oracle implements the request lifecycle engine: the state machine
// carrying a question from creation through proposal, optional dispute, and
// resolution, with every transition backed by escrowed funds.
package oracle

import "time"

// AnswerType constrains what counts as a well-formed answer.
type AnswerType string

const (
	AnswerYesNo          AnswerType = "YesNo"
	AnswerMultipleChoice AnswerType = "MultipleChoice"
	AnswerNumeric        AnswerType = "Numeric"
)

// ValidAnswerType reports whether t is one of the enumerated kinds.
func ValidAnswerType(t AnswerType) bool {
	switch t {
	case AnswerYesNo, AnswerMultipleChoice, AnswerNumeric:
		return true
	}
	return false
}

// Status is a request's lifecycle state. Transitions are monotone: no status
// is ever revisited.
type Status string

const (
	StatusCreated   Status = "Created"
	StatusProposed  Status = "Proposed"
	StatusDisputed  Status = "Disputed"
	StatusResolved  Status = "Resolved"
	StatusCancelled Status = "Cancelled"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusCancelled
}

// Party identifies which side of a dispute an arbitration decision favors.
type Party string

const (
	PartyProposer Party = "proposer"
	PartyDisputer Party = "disputer"
)

// Validation bounds.
const (
	MaxQuestionLen = 500
	MaxAnswerLen   = 200

	MinChallengePeriodSeconds = 3600   // one hour
	MaxChallengePeriodSeconds = 604800 // one week
)

// Proposal is the first answer submitted after a request expires. At most
// one exists per request.
type Proposal struct {
	Answer           string    `json:"answer"`
	Proposer         string    `json:"proposer"`
	BondAmount       uint64    `json:"bondAmount"`
	ProposalTime     time.Time `json:"proposalTime"`
	ChallengeEndTime time.Time `json:"challengeEndTime"`
	BondTxRef        string    `json:"bondTxRef"`
}

// Dispute is a challenge to a proposal. At most one exists per request.
type Dispute struct {
	Disputer         string    `json:"disputer"`
	CounterAnswer    string    `json:"counterAnswer,omitempty"`
	BondAmount       uint64    `json:"bondAmount"`
	DisputeTime      time.Time `json:"disputeTime"`
	ResolutionBounty uint64    `json:"resolutionBounty,omitempty"`
	BondTxRef        string    `json:"bondTxRef"`
}

// Request is one question awaiting a verified answer. Terminal requests are
// retained for audit, never deleted.
type Request struct {
	ID                     uint64     `json:"requestId"`
	Creator                string     `json:"creator"`
	Question               string     `json:"question"`
	AnswerType             AnswerType `json:"answerType"`
	RewardAmount           uint64     `json:"rewardAmount"`
	BondAmount             uint64     `json:"bondAmount"`
	ExpiryTimestamp        time.Time  `json:"expiryTimestamp"`
	ChallengePeriodSeconds uint64     `json:"challengePeriodSeconds"`
	Status                 Status     `json:"status"`
	DataSource             string     `json:"dataSource,omitempty"`
	Metadata               string     `json:"metadata,omitempty"`
	EscrowAddress          string     `json:"escrowAddress"`
	CreatedAt              time.Time  `json:"createdAt"`

	Proposal *Proposal `json:"proposal,omitempty"`
	Dispute  *Dispute  `json:"dispute,omitempty"`

	// ResolvedAnswer is the answer that prevailed, set on resolution.
	ResolvedAnswer string `json:"resolvedAnswer,omitempty"`
	// Winner is set when a disputed request resolves.
	Winner Party `json:"winner,omitempty"`
}
