package types

// PoolStage is a transaction's position in the pool's FSM. Stages are
// ranked (see Rank); a transaction never moves to a lower rank.
type PoolStage string

const (
	StageNew            PoolStage = "New"
	StagePrepared       PoolStage = "Prepared"
	StageLocalPrepared  PoolStage = "LocalPrepared"
	StageAllPrepared    PoolStage = "AllPrepared"
	StageSomePrepared   PoolStage = "SomePrepared"
	StageLocalAccepted  PoolStage = "LocalAccepted"
	StageAllAccepted    PoolStage = "AllAccepted"
	StageSomeAccepted   PoolStage = "SomeAccepted"
	StageComplete       PoolStage = "Complete"
)

// stageOrder gives every stage a rank so pending updates can be compared
// without re-deriving the FSM graph at every call site.
var stageOrder = map[PoolStage]int{
	StageNew:           0,
	StagePrepared:      1,
	StageLocalPrepared: 2,
	StageAllPrepared:   3,
	StageSomePrepared:  3,
	StageLocalAccepted: 4,
	StageAllAccepted:   5,
	StageSomeAccepted:  5,
	StageComplete:      6,
}

// Rank returns the stage's position in the FSM ordering. Stages with the
// same rank (AllPrepared/SomePrepared, AllAccepted/SomeAccepted) are
// alternative outcomes of the same step, not a strict sequence.
func (s PoolStage) Rank() int { return stageOrder[s] }

// GreaterOrEqual reports whether s is at least as advanced as other.
func (s PoolStage) GreaterOrEqual(other PoolStage) bool {
	return s.Rank() >= other.Rank()
}

// TransactionFees splits a transaction's fee between the paying account
// and the leader who proposed its inclusion.
type TransactionFees struct {
	TransactionFee uint64
	LeaderFee      *uint64
}

// TransactionPoolRecord is the single row tracking a transaction's
// progress through the pipeline.
type TransactionPoolRecord struct {
	TransactionId   TransactionId
	OriginalDecision Decision
	LocalDecision   *Decision
	RemoteDecision  *Decision
	Evidence        Evidence
	RemoteEvidence  Evidence
	Fees            TransactionFees
	Stage           PoolStage
	PendingStage    *PoolStage
	IsReady         bool

	MinEpoch *Epoch
	MaxEpoch *Epoch

	CreatedAt int64
	UpdatedAt int64
}

// FinalDecision resolves the effective decision for a transaction: any
// remote Abort is absolute, regardless of the local decision.
func (r *TransactionPoolRecord) FinalDecision() Decision {
	if r.RemoteDecision != nil && *r.RemoteDecision == DecisionAbort {
		return DecisionAbort
	}
	if r.LocalDecision != nil {
		return *r.LocalDecision
	}
	return r.OriginalDecision
}

// EligibleAtEpoch reports whether the transaction's validity window
// covers the given epoch.
func (r *TransactionPoolRecord) EligibleAtEpoch(e Epoch) bool {
	if r.MinEpoch != nil && e < *r.MinEpoch {
		return false
	}
	if r.MaxEpoch != nil && e > *r.MaxEpoch {
		return false
	}
	return true
}

// TransactionPoolStatusUpdate is an append-only record of a pending stage
// move for a transaction at a specific block. Superseded entries are
// deleted once the locked block advances past them.
type TransactionPoolStatusUpdate struct {
	BlockId       BlockId
	BlockHeight   NodeHeight
	TransactionId TransactionId
	Stage         PoolStage
	LocalDecision *Decision
	Evidence      Evidence
	IsReady       bool
}

// TransactionRecord is the durable record of a transaction's content,
// independent of its pool progress.
type TransactionRecord struct {
	Id             TransactionId
	ResolvedInputs []SubstateAddress
	ResultingOutputs []SubstateAddress
	MinEpoch       *Epoch
	MaxEpoch       *Epoch
	TransactionFee uint64
	LeaderFee      *uint64
}
