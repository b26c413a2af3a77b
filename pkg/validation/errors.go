// Package validation runs the deterministic predicates every incoming
// candidate block must pass before it enters the HotStuff pipeline. Every
// failure here is non-fatal to the local node: the block is dropped and
// the sender may be penalized by a higher layer, but the local chain
// continues.
package validation

// Kind names one of the fixed set of ways a candidate block can fail
// validation, matching the proposal-validation error enum.
type Kind string

const (
	InvalidNetwork                     Kind = "InvalidNetwork"
	NodeHashMismatch                   Kind = "NodeHashMismatch"
	ProposingGenesisBlock              Kind = "ProposingGenesisBlock"
	NotLeader                          Kind = "NotLeader"
	MissingSignature                   Kind = "MissingSignature"
	InvalidSignature                   Kind = "InvalidSignature"
	CandidateBlockNotHigherThanJustify Kind = "CandidateBlockNotHigherThanJustify"
	QuorumWasNotReached                Kind = "QuorumWasNotReached"
	QCInvalidSignature                 Kind = "QCInvalidSignature"
	ValidatorNotInCommittee            Kind = "ValidatorNotInCommittee"
	BlockHashNotFound                  Kind = "BlockHashNotFound"
	BlockHeightMismatch                Kind = "BlockHeightMismatch"
	BlockHeightTooHigh                 Kind = "BlockHeightTooHigh"
)

// Error reports why a candidate block was rejected.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return "validation: " + string(e.Kind)
	}
	return "validation: " + string(e.Kind) + ": " + e.Detail
}

func fail(kind Kind, detail string) error {
	return &Error{Kind: kind, Detail: detail}
}

// KindOf extracts the Kind from a validation error, the zero Kind if err
// did not originate from this package.
func KindOf(err error) Kind {
	var ve *Error
	if e, ok := err.(*Error); ok {
		ve = e
		return ve.Kind
	}
	return ""
}
