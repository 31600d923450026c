package bridge

import "context"

// status is the instance lifecycle state. The client is created directly in
// statusInitializing; statusDestroyed is absorbing and carries the terminal
// error.
type status uint8

const (
	statusInitializing status = iota
	statusReady
	statusDestroyed
)

// waitReady suspends until the instance leaves Initializing. It returns nil
// once Ready, the terminal error once Destroyed, or the context's error.
func (c *Client) waitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.done:
		return c.terminalErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// terminalErr returns the error the instance was destroyed with. Only valid
// after c.done is closed; the dispatcher stores the error before closing.
func (c *Client) terminalErr() error {
	return c.terminal
}

// post hands m to the dispatcher. It returns false when the instance was
// destroyed before the dispatcher picked the message up; the inbox is
// unbuffered, so true means the message will be handled.
func (c *Client) post(m message) bool {
	select {
	case c.inbox <- m:
		return true
	case <-c.done:
		return false
	}
}
