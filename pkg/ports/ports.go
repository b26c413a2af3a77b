// Package ports collects the narrow interfaces the consensus core depends
// on but does not implement: execution, signatures, leader selection,
// epoch/committee membership and outbound messaging. Every external
// collaborator named in the system's scope document is reached through
// one of these, never through a concrete dependency.
package ports

import (
	"context"

	"github.com/shardfabric/dancore/pkg/types"
)

// Logger is the shared logging seam for every package in the core. It is
// satisfied by *log.Logger, so production code wires a real logger while
// tests can substitute a recording fake.
type Logger interface {
	Printf(format string, args ...interface{})
}

// EpochManager answers committee-membership and base-layer anchor
// questions. It is the core's only source of truth for "who is in which
// committee right now" — the core never computes membership itself.
type EpochManager interface {
	// CommitteeForShardGroup returns the committee responsible for sg in
	// the given epoch.
	CommitteeForShardGroup(ctx context.Context, epoch types.Epoch, sg types.ShardGroup) (types.Committee, error)

	// CommitteeForAddress returns the committee a public key belongs to
	// in the given epoch.
	CommitteeForAddress(ctx context.Context, epoch types.Epoch, pk types.PublicKey) (types.Committee, error)

	// ShardGroupForSubstate maps a substate address to the shard group
	// that owns it in the given epoch.
	ShardGroupForSubstate(ctx context.Context, epoch types.Epoch, addr types.SubstateAddress) (types.ShardGroup, error)

	// CurrentEpoch returns the epoch the base layer currently has
	// finalized as active.
	CurrentEpoch(ctx context.Context) (types.Epoch, error)

	// BaseLayerBlockHash returns the anchor block hash the base layer had
	// finalized as of the given epoch's start.
	BaseLayerBlockHash(ctx context.Context, epoch types.Epoch) (types.Hash32, error)
}

// LeaderStrategy picks the leader for a height within a committee. The
// selection MUST be deterministic and total: every honest validator
// computes the same answer from the same (committee, height) pair.
type LeaderStrategy interface {
	GetLeader(committee types.Committee, height types.NodeHeight) types.PublicKey
}

// SignatureService signs and verifies the vote message a validator casts
// for a block, and signs/verifies whole blocks on proposal.
type SignatureService interface {
	// Sign returns a signature over msg using the local validator key.
	Sign(ctx context.Context, msg []byte) ([]byte, error)

	// Verify reports whether sig is a valid signature by pk over msg.
	Verify(pk types.PublicKey, msg []byte, sig []byte) bool

	// PublicKey returns the local validator's public key.
	PublicKey() types.PublicKey
}

// ExecuteResult is the outcome of running a transaction against its
// resolved inputs.
type ExecuteResult struct {
	Decision         types.Decision
	Fee              uint64
	ResultingOutputs []types.SubstateChange
	RejectReason     string
}

// Executor runs a transaction against its resolved inputs and pre-image
// substates. It is a pure function from the core's point of view: same
// inputs always produce the same result, and it never touches the store.
type Executor interface {
	Execute(ctx context.Context, tx types.TransactionRecord, resolvedInputs []types.SubstateRecord) (ExecuteResult, error)
}

// OutboundMessaging is a fire-and-forget send to a remote validator. The
// core never waits on delivery; retries and backoff are the transport's
// problem, out of scope here.
type OutboundMessaging interface {
	SendProposal(ctx context.Context, epoch types.Epoch, to types.PublicKey, block types.Block) error
	SendVote(ctx context.Context, epoch types.Epoch, to types.PublicKey, qc types.QuorumCertificate, sig types.ValidatorSignature, blockId types.BlockId) error
	SendForeignProposal(ctx context.Context, epoch types.Epoch, to types.ShardGroup, fp types.ForeignProposal) error
}
