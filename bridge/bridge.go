package bridge

import (
	"context"

	"go.uber.org/zap"

	"github.com/lightmesh/enginebridge/engine"
	berrors "github.com/lightmesh/enginebridge/errors"
	"github.com/lightmesh/enginebridge/platform"
)

// Config holds configuration for client creation
type Config struct {
	// Start constructs the engine instance. It runs on its own goroutine;
	// the client is usable immediately and operations suspend until Start
	// returns. Required.
	Start func(ctx context.Context) (engine.Instance, error)

	// Platform supplies network connections for the engine's connection
	// requests. Required.
	Platform platform.Platform

	// Logger receives bridge diagnostics and the engine's forwarded log
	// events. Defaults to a nop logger.
	Logger *zap.Logger
}

// Client drives one engine instance. Create it with New; it is live until a
// crash or Terminate, after which every operation returns the same terminal
// error.
type Client struct {
	log  *zap.Logger
	plat platform.Platform

	inbox chan message
	ready chan struct{}
	done  chan struct{}

	// terminal is written by the dispatcher before it closes done.
	terminal error

	// Everything below is owned by the dispatcher goroutine. No other
	// goroutine reads or writes these fields.
	eng            engine.Instance
	state          status
	conns          map[uint32]*connAdapter
	connTombstones map[uint32]struct{}
	chains         map[uint32]*chainState
	handleIDs      map[*Chain]uint32
	pending        []pendingAddChain
	shutdownReply  chan<- error
}

// chainState is the registry entry of one live chain.
type chainState struct {
	jsonRPCEnabled bool
	// waiters are the callers suspended in NextJSONRPCResponse. Each is
	// woken (closed) exactly once, then discarded; a woken caller re-polls.
	waiters []chan struct{}
}

// pendingAddChain is one ledger entry. Outcomes are matched strictly FIFO
// against issuance order; the entry carries no id on purpose.
type pendingAddChain struct {
	reply          chan<- addChainReply
	disableJSONRPC bool
}

// New creates a client and begins constructing the engine instance in the
// background. An error is returned only for invalid configuration; engine
// construction failures surface as the terminal error of the returned
// client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Start == nil {
		return nil, berrors.InvalidInput("Config.Start is required")
	}
	if cfg.Platform == nil {
		return nil, berrors.InvalidInput("Config.Platform is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	c := &Client{
		log:            log,
		plat:           cfg.Platform,
		inbox:          make(chan message),
		ready:          make(chan struct{}),
		done:           make(chan struct{}),
		state:          statusInitializing,
		conns:          make(map[uint32]*connAdapter),
		connTombstones: make(map[uint32]struct{}),
		chains:         make(map[uint32]*chainState),
		handleIDs:      make(map[*Chain]uint32),
	}

	go c.dispatch()
	go func() {
		eng, err := cfg.Start(ctx)
		// The dispatcher may already be gone if a concurrent destruction
		// won; post handles that.
		c.post(initDoneMsg{eng: eng, err: err})
	}()

	return c, nil
}

// AddChain adds a chain to the engine instance and returns its handle. The
// call suspends until the engine reports the outcome of this specific
// request (outcomes arrive in issuance order) or the instance is destroyed.
func (c *Client) AddChain(ctx context.Context, opts AddChainOptions) (*Chain, error) {
	params, err := opts.validate()
	if err != nil {
		return nil, err
	}
	if err := c.waitReady(ctx); err != nil {
		return nil, err
	}

	reply := make(chan addChainReply, 1)
	if !c.post(addChainMsg{params: params, reply: reply}) {
		return nil, c.terminalErr()
	}

	select {
	case r := <-reply:
		return r.chain, r.err
	case <-ctx.Done():
		// The ledger entry stays queued; its outcome is discarded when it
		// arrives. There is no way to retract an issued create-chain
		// command.
		return nil, ctx.Err()
	}
}

// Terminate shuts the engine instance down. It suspends until initialization
// completes if still in progress, then until the engine confirms shutdown.
// After Terminate every operation on the client and its chains fails with
// the terminal error.
func (c *Client) Terminate(ctx context.Context) error {
	if err := c.waitReady(ctx); err != nil {
		return err
	}

	reply := make(chan error, 1)
	if !c.post(terminateMsg{reply: reply}) {
		return c.terminalErr()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
