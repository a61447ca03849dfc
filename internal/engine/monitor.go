package engine

import (
	"sync"
)

// monitor hands out a channel that is closed and replaced on every update.
type monitor struct {
	mutex  sync.Mutex
	update chan struct{}
}

func newMonitor() *monitor {
	return &monitor{
		update: make(chan struct{}),
	}
}

func (m *monitor) notifyChannel() <-chan struct{} {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.update
}

func (m *monitor) notifyAll() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	close(m.update)
	m.update = make(chan struct{})
}
