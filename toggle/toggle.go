package toggle

import (
	"context"
	"sync"
)

// Package toggle keeps a UI-facing on/off switch consistent with the
// hardware truth of one selected headset. The hardware round trip is
// slow and can fail; the switch must stay responsive, never issue two
// transport calls at once for the same device, and never loop a
// programmatic correction back into another outgoing write.
//
// Every mutation of the observed state carries an Origin, and only
// OriginUser mutations cause an outgoing set call. That makes the
// no-echo invariant a pattern match instead of a one-shot flag.

// Commander is the backend surface the synchronizer drives. Both
// core.Core and pilotapi.Client satisfy it.
type Commander interface {
	GetSidetone(ctx context.Context, deviceID string) (bool, error)
	SetSidetone(ctx context.Context, deviceID string, enabled bool) error
}

// Origin tags who is mutating the observed state.
type Origin int

const (
	// OriginUser is a toggle flip by the user; it triggers a set call.
	OriginUser Origin = iota
	// OriginRefresh is hardware truth arriving from a read; no call.
	OriginRefresh
	// OriginRollback undoes an optimistic flip after a failed set; no call.
	OriginRollback
)

// State is the observed toggle state handed to the observer. While Busy
// is set a call is in flight and the toggle should be disabled; with an
// empty DeviceID the toggle is inert at its false baseline.
type State struct {
	DeviceID       string
	Enabled        bool
	Busy           bool
	PendingRefresh bool
	LastError      string
}

type Synchronizer struct {
	mu    sync.Mutex
	cmd   Commander
	state State

	// epoch grows on every selection change. In-flight calls carry the
	// epoch they were started under; a completion with a stale epoch is
	// discarded, so a previous device's late result never mutates the
	// current one.
	epoch uint64

	notify func(State)
}

// New creates a synchronizer with no device selected. The notify
// callback observes every state change; it is called without internal
// locks held and may call back into the synchronizer.
func New(cmd Commander, notify func(State)) *Synchronizer {
	return &Synchronizer{cmd: cmd, notify: notify}
}

// State returns a copy of the current observed state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetDevices reacts to a fresh device list: the current selection is
// kept while still listed, otherwise the first device is selected, or
// the selection is cleared when the list is empty.
func (s *Synchronizer) SetDevices(ids []string) {
	s.mu.Lock()
	current := s.state.DeviceID
	if current != "" {
		for _, id := range ids {
			if id == current {
				st := s.state
				s.mu.Unlock()
				s.emit(st)
				return
			}
		}
	}
	next := ""
	if len(ids) > 0 {
		next = ids[0]
	}
	st := s.selectLocked(next)
	s.mu.Unlock()
	s.emit(st)
}

// Select switches the selected device. Any assumption about the
// previous device is discarded and a fresh read primes the toggle; an
// empty id clears the selection.
func (s *Synchronizer) Select(deviceID string) {
	s.mu.Lock()
	st := s.selectLocked(deviceID)
	s.mu.Unlock()
	s.emit(st)
}

func (s *Synchronizer) selectLocked(deviceID string) State {
	s.epoch++
	s.state = State{DeviceID: deviceID}
	if deviceID != "" {
		s.startGetLocked()
	}
	return s.state
}

// Toggle flips the switch by user intent. With no device selected it is
// inert. While a call is in flight the flip is not issued; instead one
// trailing refresh is remembered, coalescing any burst of flips into a
// single follow-up read.
func (s *Synchronizer) Toggle() {
	s.mu.Lock()
	if s.state.DeviceID == "" {
		s.mu.Unlock()
		return
	}
	if s.state.Busy {
		s.state.PendingRefresh = true
		st := s.state
		s.mu.Unlock()
		s.emit(st)
		return
	}
	st := s.applyLocked(OriginUser, !s.state.Enabled)
	s.mu.Unlock()
	s.emit(st)
}

// Refresh re-reads the hardware state of the selected device.
func (s *Synchronizer) Refresh() {
	s.mu.Lock()
	if s.state.DeviceID == "" {
		s.mu.Unlock()
		return
	}
	if s.state.Busy {
		s.state.PendingRefresh = true
		st := s.state
		s.mu.Unlock()
		s.emit(st)
		return
	}
	s.startGetLocked()
	st := s.state
	s.mu.Unlock()
	s.emit(st)
}

// applyLocked is the single transition point for the observed value.
// Only user intent leaves the process; refresh and rollback are local.
func (s *Synchronizer) applyLocked(origin Origin, enabled bool) State {
	prev := s.state.Enabled
	s.state.Enabled = enabled
	switch origin {
	case OriginUser:
		s.state.LastError = ""
		s.state.Busy = true
		go s.runSet(s.epoch, s.state.DeviceID, enabled, prev)
	case OriginRefresh, OriginRollback:
		// no outgoing call; this is what breaks the echo loop
	}
	return s.state
}

func (s *Synchronizer) startGetLocked() {
	s.state.Busy = true
	go s.runGet(s.epoch, s.state.DeviceID)
}

func (s *Synchronizer) runSet(epoch uint64, deviceID string, enabled, prev bool) {
	err := s.cmd.SetSidetone(context.Background(), deviceID, enabled)

	s.mu.Lock()
	if epoch != s.epoch || s.state.DeviceID != deviceID {
		// selection changed mid-flight, result no longer applies
		s.mu.Unlock()
		return
	}
	s.state.Busy = false
	if err != nil {
		s.applyLocked(OriginRollback, prev)
		s.state.LastError = err.Error()
	}
	st := s.finishLocked()
	s.mu.Unlock()
	s.emit(st)
}

func (s *Synchronizer) runGet(epoch uint64, deviceID string) {
	enabled, err := s.cmd.GetSidetone(context.Background(), deviceID)

	s.mu.Lock()
	if epoch != s.epoch || s.state.DeviceID != deviceID {
		s.mu.Unlock()
		return
	}
	s.state.Busy = false
	if err != nil {
		// keep the last observed value, only surface the message
		s.state.LastError = err.Error()
	} else {
		s.state.LastError = ""
		s.applyLocked(OriginRefresh, enabled)
	}
	st := s.finishLocked()
	s.mu.Unlock()
	s.emit(st)
}

// finishLocked services the coalesced trailing refresh, if any, on the
// way back to idle.
func (s *Synchronizer) finishLocked() State {
	if s.state.PendingRefresh && !s.state.Busy {
		s.state.PendingRefresh = false
		s.startGetLocked()
	}
	return s.state
}

func (s *Synchronizer) emit(st State) {
	if s.notify != nil {
		s.notify(st)
	}
}
