package nodeclient

import (
	"context"

	"github.com/hnsd-go/hnscore/internal/chaindb"
	"github.com/hnsd-go/hnscore/internal/namefsm"
	"github.com/hnsd-go/hnscore/internal/rpcclient"
	"github.com/hnsd-go/hnscore/pkg/tx"
	"github.com/hnsd-go/hnscore/pkg/types"
)

// RPCClient implements Client over internal/rpcclient's generic JSON-RPC
// client, for a wallet running against a remote node. Call blocks the
// calling goroutine on HTTP, so every method here checks ctx first rather
// than threading it into rpcclient.Client.Call, which predates context
// support.
type RPCClient struct {
	rpc *rpcclient.Client
}

// NewRPCClient wraps rpc for remote wallet use.
func NewRPCClient(rpc *rpcclient.Client) *RPCClient {
	return &RPCClient{rpc: rpc}
}

func (c *RPCClient) call(ctx context.Context, method string, params, result interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.rpc.Call(method, params, result)
}

func (c *RPCClient) GetTip(ctx context.Context) (BlockHeader, error) {
	var h BlockHeader
	err := c.call(ctx, "getTip", nil, &h)
	return h, err
}

func (c *RPCClient) GetEntry(ctx context.Context, hash types.Hash) (BlockHeader, error) {
	var h BlockHeader
	err := c.call(ctx, "getEntry", map[string]types.Hash{"hash": hash}, &h)
	return h, err
}

func (c *RPCClient) GetBlockHeader(ctx context.Context, height uint32) (BlockHeader, error) {
	var h BlockHeader
	err := c.call(ctx, "getBlockHeader", map[string]uint32{"height": height}, &h)
	return h, err
}

func (c *RPCClient) GetCoin(ctx context.Context, op types.Outpoint) (chaindb.Coin, bool, error) {
	var result struct {
		Coin  chaindb.Coin `json:"coin"`
		Found bool         `json:"found"`
	}
	err := c.call(ctx, "getCoin", map[string]types.Outpoint{"outpoint": op}, &result)
	return result.Coin, result.Found, err
}

func (c *RPCClient) GetNameStatus(ctx context.Context, nameHash types.Hash) (namefsm.NS, bool, error) {
	var result struct {
		Status namefsm.NS `json:"status"`
		Found  bool       `json:"found"`
	}
	err := c.call(ctx, "getNameStatus", map[string]types.Hash{"nameHash": nameHash}, &result)
	return result.Status, result.Found, err
}

// Rescan fetches every matching block in one round trip rather than
// streaming, since JSON-RPC 2.0 over HTTP has no native server push; a
// wallet wanting progress feedback during a long rescan should call this
// in height-bounded chunks from the caller side instead.
func (c *RPCClient) Rescan(ctx context.Context, start uint32, fn func(ScanResult) error) error {
	var results []ScanResult
	if err := c.call(ctx, "rescan", map[string]uint32{"start": start}, &results); err != nil {
		return err
	}
	for _, r := range results {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// SetFilter, AddFilter and ResetFilter mutate server-side scan state kept
// per RPC session; errors are swallowed to match Client's synchronous,
// error-free signature for these three, mirroring a fire-and-forget
// bloom-filter update in an SPV client.
func (c *RPCClient) SetFilter(addrs []types.Address) {
	_ = c.rpc.Call("setFilter", map[string][]types.Address{"addresses": addrs}, nil)
}

func (c *RPCClient) AddFilter(addr types.Address) {
	_ = c.rpc.Call("addFilter", map[string]types.Address{"address": addr}, nil)
}

func (c *RPCClient) ResetFilter() {
	_ = c.rpc.Call("resetFilter", nil, nil)
}

func (c *RPCClient) Send(ctx context.Context, t *tx.Transaction) error {
	return c.call(ctx, "send", map[string]*tx.Transaction{"tx": t}, nil)
}

func (c *RPCClient) EstimateFee(ctx context.Context, blocks uint32) (FeeEstimate, error) {
	var fee FeeEstimate
	err := c.call(ctx, "estimateFee", map[string]uint32{"blocks": blocks}, &fee)
	return fee, err
}
