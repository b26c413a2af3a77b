// Package hotstuff drives the pipelined three-chain BFT protocol for a
// single shard group: proposal construction, proposal/vote handling, and
// the commit rule that folds a locked block's effects into the pool, the
// substate store and the state tree.
package hotstuff

import (
	"github.com/shardfabric/dancore/pkg/ports"
	"github.com/shardfabric/dancore/pkg/types"
)

// Driver holds everything the pipeline needs for one local shard group.
// A process runs exactly one Driver per shard group it participates in.
type Driver struct {
	ShardGroup types.ShardGroup
	Network    types.Network

	Epochs    ports.EpochManager
	Leaders   ports.LeaderStrategy
	Sigs      ports.SignatureService
	Executor  ports.Executor
	Outbound  ports.OutboundMessaging
	Log       ports.Logger

	// beat is a single-slot rendezvous: a send never blocks, and a
	// pending beat collapses with any beat already queued. Proposal
	// construction only ever needs to know "something changed since I
	// last looked", never how many times.
	beat chan struct{}
}

// New builds a Driver wired to its external collaborators.
func New(sg types.ShardGroup, network types.Network, epochs ports.EpochManager, leaders ports.LeaderStrategy, sigs ports.SignatureService, executor ports.Executor, outbound ports.OutboundMessaging, log ports.Logger) *Driver {
	return &Driver{
		ShardGroup: sg,
		Network:    network,
		Epochs:     epochs,
		Leaders:    leaders,
		Sigs:       sigs,
		Executor:   executor,
		Outbound:   outbound,
		Log:        log,
		beat:       make(chan struct{}, 1),
	}
}

// OnBeat schedules a proposal attempt without blocking the caller. Multiple
// calls before the pipeline next looks collapse into a single wakeup.
func (d *Driver) OnBeat() {
	select {
	case d.beat <- struct{}{}:
	default:
	}
}

// Beats exposes the rendezvous channel for a pipeline loop to range or
// select over.
func (d *Driver) Beats() <-chan struct{} {
	return d.beat
}
