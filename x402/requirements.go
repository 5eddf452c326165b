package x402

import "fmt"

// OperationKind names a payment-gated oracle operation.
type OperationKind string

const (
	// OpCreateRequest gates request creation behind an antispam bond.
	OpCreateRequest OperationKind = "create-request"

	// OpProposeAnswer gates answer proposals behind a proposer bond.
	OpProposeAnswer OperationKind = "propose-answer"

	// OpDisputeAnswer gates disputes behind a disputer bond.
	OpDisputeAnswer OperationKind = "dispute-answer"
)

// SecondaryKind names an optional secondary payment line a caller may attach
// to an operation.
type SecondaryKind string

const (
	// SecondaryPriorityTip is an optional tip attached to a proposal.
	SecondaryPriorityTip SecondaryKind = "priority-tip"

	// SecondaryReputationStake is an optional stake attached to a proposal.
	SecondaryReputationStake SecondaryKind = "reputation-stake"

	// SecondaryResolutionBounty is an optional bounty attached to a dispute
	// to incentivize faster arbitration.
	SecondaryResolutionBounty SecondaryKind = "resolution-bounty"
)

// SecondaryLine is a caller-supplied optional payment composed into the
// requirements alongside the fixed bond.
type SecondaryLine struct {
	Kind   SecondaryKind
	Amount string
}

// BuilderConfig holds the protocol constants the requirement builder works
// from: fixed bond amounts, the settlement asset and the treasury recipient.
type BuilderConfig struct {
	// Network is the ledger network identifier advertised in requirements.
	Network string

	// Asset is the settlement asset (stable unit, smallest-unit amounts).
	Asset Asset

	// Treasury is the protocol treasury address receiving all bonds.
	Treasury string

	// AntispamAmount is the fixed antispam bond for create-request.
	AntispamAmount string

	// ProposerBondAmount is the fixed bond for propose-answer.
	ProposerBondAmount string

	// DisputerBondAmount is the fixed minimum bond for dispute-answer.
	DisputerBondAmount string
}

// Builder produces PaymentRequirements for gated operations. It is a pure
// computation over configuration constants and has no side effects.
type Builder struct {
	cfg BuilderConfig
}

// NewBuilder creates a requirement builder from protocol configuration.
func NewBuilder(cfg BuilderConfig) *Builder {
	return &Builder{cfg: cfg}
}

// Build produces the payment requirements for the given operation. resource
// identifies the gated endpoint. For OpCreateRequest a non-empty customAmount
// overrides the configured antispam bond. requestID contextualizes the
// description for propose/dispute operations. secondary, when non-nil, adds an
// optional second scheme line.
func (b *Builder) Build(kind OperationKind, resource, customAmount string, requestID uint64, secondary *SecondaryLine) (PaymentRequirements, error) {
	var amount, description string

	switch kind {
	case OpCreateRequest:
		amount = b.cfg.AntispamAmount
		if customAmount != "" {
			amount = customAmount
		}
		description = "Antispam bond required to create an oracle request"
	case OpProposeAnswer:
		amount = b.cfg.ProposerBondAmount
		description = fmt.Sprintf("Proposer bond required to answer request #%d", requestID)
	case OpDisputeAnswer:
		amount = b.cfg.DisputerBondAmount
		description = fmt.Sprintf("Disputer bond required to challenge request #%d", requestID)
	default:
		return PaymentRequirements{}, fmt.Errorf("x402: unknown operation kind %q", kind)
	}

	schemes := []Scheme{{
		Scheme:    SchemeExact,
		Network:   b.cfg.Network,
		Asset:     b.cfg.Asset,
		Recipient: b.cfg.Treasury,
		Amount:    amount,
	}}

	if secondary != nil {
		if err := validateSecondary(kind, secondary.Kind); err != nil {
			return PaymentRequirements{}, err
		}
		schemes = append(schemes, Scheme{
			Scheme:    SchemeExact,
			Network:   b.cfg.Network,
			Asset:     b.cfg.Asset,
			Recipient: b.cfg.Treasury,
			Amount:    secondary.Amount,
		})
		description += " (+" + string(secondary.Kind) + ")"
	}

	return PaymentRequirements{
		Version:     ProtocolVersion,
		Schemes:     schemes,
		Resource:    resource,
		Description: description,
	}, nil
}

// DisputeBond returns the dispute requirement amount for a request whose
// proposer locked bondAmount stable units: the larger of the proposer's actual
// bond and the configured disputer minimum. Dispute bonds are symmetric with
// the proposal they challenge.
func (b *Builder) DisputeBond(proposerBond string) string {
	if cmpAmount(proposerBond, b.cfg.DisputerBondAmount) > 0 {
		return proposerBond
	}
	return b.cfg.DisputerBondAmount
}

// cmpAmount compares two decimal-string amounts. Malformed values compare low.
func cmpAmount(a, b string) int {
	if len(a) != len(b) {
		if len(a) > len(b) {
			return 1
		}
		return -1
	}
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}

func validateSecondary(kind OperationKind, secondary SecondaryKind) error {
	switch kind {
	case OpProposeAnswer:
		if secondary == SecondaryPriorityTip || secondary == SecondaryReputationStake {
			return nil
		}
	case OpDisputeAnswer:
		if secondary == SecondaryResolutionBounty {
			return nil
		}
	}
	return fmt.Errorf("x402: secondary payment %q not allowed for operation %q", secondary, kind)
}
