package types

// BlockId is the content-addressed identifier of a Block.
type BlockId = Hash32

// SubstateAddress is the 32-byte key a substate is stored and locked under
// in the state tree.
type SubstateAddress [32]byte

// String returns the lowercase hex form of the address.
func (a SubstateAddress) String() string { return Hash32(a).String() }

// SubstateIdFor derives a substate's stable logical id from its address.
// The id stays constant across every version the substate goes through;
// the address is the version-agnostic key, so it doubles as the id.
func SubstateIdFor(address SubstateAddress) SubstateId {
	return SubstateId(address.String())
}

// SubstateId is the logical identifier of a substate, stable across the
// versions it goes through as it is created, destroyed and recreated.
type SubstateId string

// TransactionId identifies a transaction by its content hash.
type TransactionId = Hash32

// Evidence records, per substate address, the number of shards that have
// certified a transaction's effect on that substate.
type Evidence map[SubstateAddress]uint32

// TransactionAtom is the per-transaction payload carried by a Prepare/
// Accept command.
type TransactionAtom struct {
	TransactionId  TransactionId
	Decision       Decision
	Evidence       Evidence
	TransactionFee uint64
	LeaderFee      *uint64
}

// CommandKind discriminates the action a Command carries.
type CommandKind string

const (
	CommandPrepare         CommandKind = "Prepare"
	CommandLocalPrepare    CommandKind = "LocalPrepare"
	CommandAllPrepare      CommandKind = "AllPrepare"
	CommandSomePrepare     CommandKind = "SomePrepare"
	CommandLocalAccept     CommandKind = "LocalAccept"
	CommandAllAccept       CommandKind = "AllAccept"
	CommandSomeAccept      CommandKind = "SomeAccept"
	CommandForeignProposal CommandKind = "ForeignProposal"
	CommandEndEpoch        CommandKind = "EndEpoch"
)

// Command is one discriminated action within a block. Exactly the field
// matching Kind is populated; callers switch on Kind before reading it.
type Command struct {
	Kind            CommandKind
	Atom            *TransactionAtom
	ForeignProposal *ForeignProposal
}

// Network identifies the network a block belongs to; blocks from another
// network are rejected by validation before any other check runs.
type Network uint8

// Block is one node in the HotStuff chain for a single shard group.
type Block struct {
	Id         BlockId
	ParentId   BlockId
	Justify    QuorumCertificate
	Height     NodeHeight
	Epoch      Epoch
	ShardGroup ShardGroup
	ProposedBy PublicKey
	Commands   []Command

	MerkleRoot Hash32
	Network    Network
	Timestamp  uint64

	BaseLayerBlockHash   Hash32
	BaseLayerBlockHeight uint64

	TotalLeaderFee uint64
	Signature      []byte

	IsDummy     bool
	IsGenesis   bool
	IsCommitted bool
	IsProcessed bool

	// ForeignIndexes tracks, per foreign shard group, the highest foreign
	// proposal sequence number this block has incorporated.
	ForeignIndexes map[ShardGroup]uint64
}

// signatureFreeEncoder writes every field CalculateHash covers except the
// signature and the id itself, so the id formula and the signed message
// agree on exactly the same byte stream.
func (b *Block) signatureFreeEncoder() *HashEncoder {
	enc := NewHashEncoder().
		Bytes(b.ParentId[:]).
		Uint64(uint64(b.Height)).
		Uint64(uint64(b.Epoch)).
		Uint64(uint64(b.ShardGroup.Start)).
		Uint64(uint64(b.ShardGroup.End)).
		Bytes(b.ProposedBy).
		Bytes(b.Justify.CalculateId().Bytes()).
		Bytes(b.BaseLayerBlockHash[:]).
		Bytes(b.MerkleRoot[:]).
		Uint64(b.Timestamp)

	for _, cmd := range b.Commands {
		enc = enc.String(string(cmd.Kind))
		if cmd.Atom != nil {
			enc = enc.Bytes(cmd.Atom.TransactionId[:]).String(string(cmd.Atom.Decision))
		}
		if cmd.ForeignProposal != nil {
			enc = enc.Bytes(cmd.ForeignProposal.BlockId[:])
		}
	}
	return enc
}

// CalculateHash recomputes the block's content-addressed id from the
// parent id, height, epoch, shard group, proposer, justify QC id,
// base-layer block hash, merkle root, timestamp and each command's kind,
// transaction id and decision (or foreign block id). The signature, the
// id, the network, the fee fields, the flags and ForeignIndexes are not
// covered.
func (b *Block) CalculateHash() Hash32 {
	return b.signatureFreeEncoder().Finalize()
}

// HeightEpoch returns the (height, epoch) pair used to compare this block
// against the monotone single-row pointers.
func (b *Block) HeightEpoch() HeightEpoch {
	return HeightEpoch{Height: b.Height, Epoch: b.Epoch}
}
