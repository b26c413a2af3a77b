// Package eventquery is the read-side query contract an external
// GraphQL/JSON-RPC front end would call to look up substate history: by
// transaction, by substate address and version, by an opaque payload
// key/value pair, and a generic paginated listing of the per-shard
// transition log. Building that front end is out of scope; this package
// only implements the storage-backed lookups it would need.
package eventquery

import (
	"encoding/json"
	"fmt"

	"github.com/shardfabric/dancore/pkg/store"
	"github.com/shardfabric/dancore/pkg/types"
)

// TransactionSubstates is the set of substate records a transaction
// resolved as inputs and produced as outputs.
type TransactionSubstates struct {
	Transaction *types.TransactionRecord
	Inputs      []types.SubstateRecord
	Outputs     []types.SubstateRecord
}

// ByTransaction resolves a transaction's content plus the latest known
// record for every substate address it read or wrote.
func ByTransaction(tx store.ReadTx, id types.TransactionId) (*TransactionSubstates, error) {
	record, err := tx.TransactionsGet(id)
	if err != nil {
		return nil, fmt.Errorf("eventquery: by transaction %s: %w", id.String(), err)
	}
	result := &TransactionSubstates{Transaction: record}
	for _, addr := range record.ResolvedInputs {
		s, err := tx.SubstatesGetLatest(addr)
		if err != nil {
			continue
		}
		result.Inputs = append(result.Inputs, *s)
	}
	for _, addr := range record.ResultingOutputs {
		s, err := tx.SubstatesGetLatest(addr)
		if err != nil {
			continue
		}
		result.Outputs = append(result.Outputs, *s)
	}
	return result, nil
}

// BySubstateVersion resolves a single substate record at an exact
// version, or its latest version if version is zero and a newer one
// exists.
func BySubstateVersion(tx store.ReadTx, address types.SubstateAddress, version uint32) (*types.SubstateRecord, error) {
	if version == 0 {
		return tx.SubstatesGetLatest(address)
	}
	return tx.SubstatesGet(address, version)
}

// DecodePayload best-effort decodes a substate's opaque value as a flat
// string-keyed JSON object, the shape external callers query by
// payload_key/payload_value. A substate whose value isn't a JSON object
// decodes to an empty map rather than an error, since payload querying
// is inherently a filter over whatever substates happen to carry
// structured values.
func DecodePayload(v types.SubstateValue) map[string]string {
	var payload map[string]string
	if err := json.Unmarshal(v, &payload); err != nil {
		return nil
	}
	return payload
}

// ByPayloadKV scans a shard's transition log for substates whose latest
// value contains payloadKey mapped to payloadValue, returning a page of
// at most limit matches starting after the offset'th match.
func ByPayloadKV(tx store.ReadTx, sg types.ShardGroup, payloadKey, payloadValue string, offset, limit int) ([]types.SubstateRecord, error) {
	transitions, err := tx.StateTransitionsGetSince(sg, 0)
	if err != nil {
		return nil, fmt.Errorf("eventquery: by payload %s=%s: %w", payloadKey, payloadValue, err)
	}

	var matches []types.SubstateRecord
	seen := make(map[types.SubstateAddress]bool)
	for _, t := range transitions {
		if seen[t.Address] {
			continue
		}
		seen[t.Address] = true

		record, err := tx.SubstatesGetLatest(t.Address)
		if err != nil {
			continue
		}
		if v, ok := DecodePayload(record.Value)[payloadKey]; ok && v == payloadValue {
			matches = append(matches, *record)
		}
	}
	return page(matches, offset, limit), nil
}

// List returns a paginated page of a shard's state-transition log, the
// generic offset/limit listing operation external callers use when no
// other filter narrows the query.
func List(tx store.ReadTx, sg types.ShardGroup, sinceSeq uint64, offset, limit int) ([]types.StateTransition, error) {
	transitions, err := tx.StateTransitionsGetSince(sg, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("eventquery: list since %d: %w", sinceSeq, err)
	}
	return page(transitions, offset, limit), nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
