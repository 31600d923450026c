package bridge

import (
	"math"

	berrors "github.com/lightmesh/enginebridge/errors"
)

// AddChainOptions configures a chain added through Client.AddChain.
type AddChainOptions struct {
	// ChainSpec is the raw JSON text of the chain specification. Required.
	// Pass the document as-is; do not decode it first.
	ChainSpec string

	// DatabaseContent is an optional previously-saved database snapshot.
	DatabaseContent string

	// PotentialRelayChains lists chains that may act as the relay chain of
	// this one. Handles whose chain has already been removed are silently
	// ignored.
	PotentialRelayChains []*Chain

	// DisableJSONRPC creates the chain without a JSON-RPC endpoint. Both
	// SendJSONRPC and NextJSONRPCResponse fail on such a chain.
	DisableJSONRPC bool

	// JSONRPCMaxPendingRequests caps the number of JSON-RPC requests queued
	// at once. 0 means unlimited. Must fit in an unsigned 32-bit integer.
	JSONRPCMaxPendingRequests int64

	// JSONRPCMaxSubscriptions caps the number of active subscriptions.
	// 0 means unlimited. Must fit in an unsigned 32-bit integer.
	JSONRPCMaxSubscriptions int64
}

// addChainParams is the validated form handed to the dispatcher.
type addChainParams struct {
	spec             string
	databaseContent  string
	relayChains      []*Chain
	disableJSONRPC   bool
	maxPending       uint32
	maxSubscriptions uint32
}

// validate rejects malformed options before any command is issued. No
// partial side effects: an error here means the engine never saw the call.
func (o AddChainOptions) validate() (addChainParams, error) {
	if o.ChainSpec == "" {
		return addChainParams{}, berrors.InvalidInput(
			"chain spec must be the chain specification's raw JSON text; an empty string was passed")
	}

	maxPending, err := boundedU32("JSONRPCMaxPendingRequests", o.JSONRPCMaxPendingRequests)
	if err != nil {
		return addChainParams{}, err
	}
	maxSubscriptions, err := boundedU32("JSONRPCMaxSubscriptions", o.JSONRPCMaxSubscriptions)
	if err != nil {
		return addChainParams{}, err
	}

	return addChainParams{
		spec:             o.ChainSpec,
		databaseContent:  o.DatabaseContent,
		relayChains:      o.PotentialRelayChains,
		disableJSONRPC:   o.DisableJSONRPC,
		maxPending:       maxPending,
		maxSubscriptions: maxSubscriptions,
	}, nil
}

// boundedU32 maps a caller-facing limit onto the engine's u32 field. Zero
// means "unspecified" and becomes the maximum.
func boundedU32(name string, v int64) (uint32, error) {
	switch {
	case v < 0:
		return 0, berrors.InvalidInput("%s must not be negative, got %d", name, v)
	case v > math.MaxUint32:
		return 0, berrors.InvalidInput("%s must fit in an unsigned 32-bit integer, got %d", name, v)
	case v == 0:
		return math.MaxUint32, nil
	default:
		return uint32(v), nil
	}
}
