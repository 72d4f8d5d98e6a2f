package cache

import "sync"

var (
	instanceMu sync.Mutex
	instance   *Manager
)

// Instance returns the process-wide Manager, creating it with opts on first
// use. Options passed after the first call are ignored.
//
// Prefer passing the returned *Manager to the code that needs it over
// calling Instance repeatedly.
func Instance(opts ...Option) *Manager {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance == nil {
		instance = New(opts...)
	}
	return instance
}

// Shutdown stops the process-wide Manager's reaper and waits for it to
// exit. A later Instance call creates a fresh Manager.
func Shutdown() {
	instanceMu.Lock()
	m := instance
	instance = nil
	instanceMu.Unlock()

	if m != nil {
		m.Close()
	}
}
