package core

import "sync"

type EventContext struct {
	Data struct {
		I64 [2]int64
		U64 [2]uint64
		F64 [2]float64

		U32 [4]uint32

		C [2]string
	}
}

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// A submitted frame finished on the GPU and its leases were returned.
	/* Context usage:
	 * string frame = data.C[0];
	 * string error = data.C[1]; empty on success
	 * u64 in_flight = data.U64[0];
	 */
	EVENT_CODE_FRAME_RETIRED SystemEventCode = 0x02

	// The configuration file was reloaded.
	/* Context usage:
	 * string path = data.C[0];
	 */
	EVENT_CODE_CONFIG_RELOADED SystemEventCode = 0x03

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

// This should be more than enough codes...
const MAX_MESSAGE_CODES = 16384

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// State structure.
type eventSystemState struct {
	mu sync.RWMutex
	// Lookup table for event codes.
	registered [MAX_MESSAGE_CODES][]*registeredEvent
}

/**
 * Event system internal state.
 */
var eventState *eventSystemState
var eventStateMu sync.Mutex

// Should return true if handled.
type FnOnEvent func(code SystemEventCode, sender interface{}, listener_inst interface{}, data EventContext) bool

func events() *eventSystemState {
	eventStateMu.Lock()
	defer eventStateMu.Unlock()
	return eventState
}

func EventInitialize() bool {
	eventStateMu.Lock()
	defer eventStateMu.Unlock()
	if eventState != nil {
		return false
	}
	eventState = &eventSystemState{}
	return true
}

func EventShutdown() error {
	eventStateMu.Lock()
	defer eventStateMu.Unlock()
	eventState = nil
	return nil
}

/**
 * Register to listen for when events are sent with the provided code. A listener
 * is registered at most once per code; a duplicate returns false.
 * @param code The event code to listen for.
 * @param listener A listener instance. Can be nil.
 * @param onEvent The callback to be invoked when the event code is fired.
 * @returns true if the event is successfully registered; otherwise false.
 */
func EventRegister(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	s := events()
	if s == nil || code < 0 || code >= MAX_MESSAGE_CODES || onEvent == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.registered[code] {
		if e.listener == listener {
			LogWarn("listener already registered for event code %d", code)
			return false
		}
	}
	s.registered[code] = append(s.registered[code], &registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

/**
 * Unregister listener from the provided code.
 * @returns true if the listener was registered; otherwise false.
 */
func EventUnregister(code SystemEventCode, listener interface{}) bool {
	s := events()
	if s == nil || code < 0 || code >= MAX_MESSAGE_CODES {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.registered[code]
	for i, e := range list {
		if e.listener == listener {
			s.registered[code] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

/**
 * Fires an event to listeners of the given code, in registration order. If
 * a handler returns true, the event is considered handled and is not passed
 * on to any more listeners.
 * @returns true if handled, otherwise false.
 */
func EventFire(code SystemEventCode, sender interface{}, context EventContext) bool {
	s := events()
	if s == nil || code < 0 || code >= MAX_MESSAGE_CODES {
		return false
	}
	s.mu.RLock()
	list := append([]*registeredEvent(nil), s.registered[code]...)
	s.mu.RUnlock()

	for _, e := range list {
		if e.callback(code, sender, e.listener, context) {
			return true
		}
	}
	return false
}
