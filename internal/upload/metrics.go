package upload

import (
	"sync"
	"sync/atomic"
)

// Metrics accumulates plain in-process counters, readable through
// Handler.Metrics(). Neither the upload package nor cmd/server exports
// them; there is no HTTP scrape endpoint.
type Metrics struct {
	RequestsTotal     map[string]*uint64
	ErrorsTotal       *errorsTotalMap
	BytesReceived     *uint64
	UploadsFinished   *uint64
	UploadsCreated    *uint64
	UploadsExpired    *uint64
}

func newMetrics() Metrics {
	return Metrics{
		RequestsTotal: map[string]*uint64{
			"POST": new(uint64),
			"PUT":  new(uint64),
		},
		ErrorsTotal:     newErrorsTotalMap(),
		BytesReceived:   new(uint64),
		UploadsFinished: new(uint64),
		UploadsCreated:  new(uint64),
		UploadsExpired:  new(uint64),
	}
}

func (m Metrics) incRequestsTotal(method string) {
	if ptr, ok := m.RequestsTotal[method]; ok {
		atomic.AddUint64(ptr, 1)
	}
}

func (m Metrics) incErrorsTotal(errorCode string) {
	atomic.AddUint64(m.ErrorsTotal.pointerFor(errorCode), 1)
}

func (m Metrics) incBytesReceived(delta uint64) {
	atomic.AddUint64(m.BytesReceived, delta)
}

func (m Metrics) incUploadsFinished() {
	atomic.AddUint64(m.UploadsFinished, 1)
}

func (m Metrics) incUploadsCreated() {
	atomic.AddUint64(m.UploadsCreated, 1)
}

func (m Metrics) incUploadsExpired(delta uint64) {
	atomic.AddUint64(m.UploadsExpired, delta)
}

// errorsTotalMap lazily allocates one counter per distinct error code.
type errorsTotalMap struct {
	sync.RWMutex
	m map[string]*uint64
}

func newErrorsTotalMap() *errorsTotalMap {
	return &errorsTotalMap{m: make(map[string]*uint64, 16)}
}

func (e *errorsTotalMap) pointerFor(errorCode string) *uint64 {
	e.RLock()
	ptr, ok := e.m[errorCode]
	e.RUnlock()
	if ok {
		return ptr
	}

	e.Lock()
	defer e.Unlock()
	if ptr, ok = e.m[errorCode]; ok {
		return ptr
	}
	ptr = new(uint64)
	e.m[errorCode] = ptr
	return ptr
}
