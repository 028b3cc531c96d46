package core

import "sync"

// --------------------------------------------------------------------------
// Error Handler
// --------------------------------------------------------------------------

// ErrHandler inspects every error reported to a Context before it is latched.
// Returning false marks the error as non-fatal: it is absorbed and does not
// trigger cancellation.
type ErrHandler interface {
	OnError(err GenericError) bool
}

// ErrHandlerFunc adapts a plain function to the ErrHandler interface.
type ErrHandlerFunc func(err GenericError) bool

func (f ErrHandlerFunc) OnError(err GenericError) bool {
	return f(err)
}

// --------------------------------------------------------------------------
// Execution Context
// --------------------------------------------------------------------------

// Context combines a Cancellation flag with a first-error latch. It
// coordinates many shard-local tasks belonging to one logical operation: a
// transaction, a bulk load, a save. A Context is created per operation and
// not reused.
//
// The first reported error that passes the handler latches and triggers
// cancellation. Later reports never displace the latched error, but the
// handler still sees every reported error.
//
// Thread-safety: all methods are safe for concurrent use. The internal lock
// is never held across a suspension point.
type Context struct {
	Cancellation

	mu      sync.Mutex
	err     GenericError
	handler ErrHandler
}

// NewContext creates a Context with an optional error handler. A nil handler
// accepts every error.
func NewContext(handler ErrHandler) *Context {
	return &Context{handler: handler}
}

// ReportError reports err with optional detail text. If the handler accepts
// it and no error was latched yet, it becomes the context's error and the
// context is cancelled. Reporting a nil error is a no-op.
func (c *Context) ReportError(err error, details ...string) {
	if err == nil {
		return
	}
	ge := GenericError{err: err}
	if len(details) > 0 {
		ge.details = details[0]
	}
	c.Report(ge)
}

// Report is like ReportError for an already-built GenericError.
func (c *Context) Report(ge GenericError) {
	if !ge.HasError() {
		return
	}

	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()

	// the handler runs outside the lock; it may report again or cancel
	if handler != nil && !handler.OnError(ge) {
		return
	}

	c.mu.Lock()
	if !c.err.HasError() {
		c.err = ge
		c.mu.Unlock()
		c.Cancel()
		return
	}
	c.mu.Unlock()
}

// Err returns the latched error; the zero GenericError when none.
func (c *Context) Err() GenericError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// HasError reports whether an error was latched.
func (c *Context) HasError() bool {
	return c.Err().HasError()
}
