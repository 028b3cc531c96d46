package core

import "sync/atomic"

// --------------------------------------------------------------------------
// Global Lifecycle State
// --------------------------------------------------------------------------

// GlobalState is the process-wide admission-control state.
type GlobalState uint8

const (
	GlobalActive GlobalState = iota
	GlobalLoading
	GlobalSaving
	GlobalShuttingDown
)

func (s GlobalState) String() string {
	switch s {
	case GlobalActive:
		return "ACTIVE"
	case GlobalLoading:
		return "LOADING"
	case GlobalSaving:
		return "SAVING"
	case GlobalShuttingDown:
		return "SHUTTING DOWN"
	default:
		return "UNKNOWN"
	}
}

// --------------------------------------------------------------------------
// Server State
// --------------------------------------------------------------------------

// ServerState owns the process-wide lifecycle state machine plus the cached
// process counters (memory accounting, kernel version). It starts in LOADING;
// the startup orchestrator calls Activate once restore is complete.
//
// Allowed transitions: LOADING -> ACTIVE (startup only), ACTIVE <-> SAVING,
// any -> SHUTTING DOWN (terminal).
//
// The counters follow a designated-writer discipline: they are set at startup
// or updated by a single owner, everyone else reads.
type ServerState struct {
	state atomic.Uint32

	usedMem     atomic.Uint64
	usedMemPeak atomic.Uint64
	maxMemory   uint64 // set once at startup
	kernelVer   uint32 // set once at startup, 5.11 maps to 511
}

// NewServerState creates a ServerState in the LOADING phase.
func NewServerState() *ServerState {
	s := &ServerState{}
	s.state.Store(uint32(GlobalLoading))
	return s
}

// State returns the current lifecycle state.
func (s *ServerState) State() GlobalState {
	return GlobalState(s.state.Load())
}

// TransitionTo atomically moves to next if the transition is legal and
// reports whether it took place. SHUTTING DOWN is terminal.
func (s *ServerState) TransitionTo(next GlobalState) bool {
	for {
		cur := s.State()
		if cur == next {
			return true
		}

		var ok bool
		switch next {
		case GlobalActive:
			ok = cur == GlobalLoading || cur == GlobalSaving
		case GlobalSaving:
			ok = cur == GlobalActive
		case GlobalLoading:
			ok = false // loading happens only at startup
		case GlobalShuttingDown:
			ok = true
		}
		if !ok {
			return false
		}
		if s.state.CompareAndSwap(uint32(cur), uint32(next)) {
			return true
		}
	}
}

// Activate ends the startup phase.
func (s *ServerState) Activate() bool {
	return s.TransitionTo(GlobalActive)
}

// Shutdown moves to the terminal SHUTTING DOWN state.
func (s *ServerState) Shutdown() {
	s.TransitionTo(GlobalShuttingDown)
}

// --------------------------------------------------------------------------
// Process Counters
// --------------------------------------------------------------------------

// SetMaxMemory sets the memory ceiling. Startup only.
func (s *ServerState) SetMaxMemory(limit uint64) {
	s.maxMemory = limit
}

// MaxMemory returns the configured memory ceiling, 0 when unlimited.
func (s *ServerState) MaxMemory() uint64 {
	return s.maxMemory
}

// UpdateUsedMemory publishes the current memory usage and advances the peak.
// Only the designated sampling owner may call it.
func (s *ServerState) UpdateUsedMemory(used uint64) {
	s.usedMem.Store(used)
	for {
		peak := s.usedMemPeak.Load()
		if used <= peak {
			return
		}
		if s.usedMemPeak.CompareAndSwap(peak, used) {
			return
		}
	}
}

// UsedMemory returns the last published memory usage.
func (s *ServerState) UsedMemory() uint64 {
	return s.usedMem.Load()
}

// PeakMemory returns the highest memory usage ever published.
func (s *ServerState) PeakMemory() uint64 {
	return s.usedMemPeak.Load()
}

// SetKernelVersion records the kernel version. Startup only.
func (s *ServerState) SetKernelVersion(v uint32) {
	s.kernelVer = v
}

// KernelVersion returns the recorded kernel version.
func (s *ServerState) KernelVersion() uint32 {
	return s.kernelVer
}
