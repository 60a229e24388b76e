package host

import (
	"sync"

	"github.com/danmuck/wifikey/internal/discovery"
	"github.com/danmuck/wifikey/internal/protocol/event"
)

// Listener receives host notifications. Calls arrive in order on one goroutine
// at a time; implementations must not call Manager.Stop from a callback.
type Listener interface {
	ConnectionStatusChanged(connected bool, deviceName string)
	DeviceDiscovered(d discovery.Descriptor)
	Log(text string)
	ControlReturned()
	PeerEvent(ev event.Event)
}

// NopListener ignores every notification. Embed it to implement a subset.
type NopListener struct{}

func (NopListener) ConnectionStatusChanged(bool, string)   {}
func (NopListener) DeviceDiscovered(discovery.Descriptor) {}
func (NopListener) Log(string)                            {}
func (NopListener) ControlReturned()                      {}
func (NopListener) PeerEvent(event.Event)                 {}

// Fanout forwards each notification to every added listener.
type Fanout struct {
	mu        sync.RWMutex
	next      int
	listeners map[int]Listener
}

func NewFanout(ls ...Listener) *Fanout {
	f := &Fanout{listeners: make(map[int]Listener)}
	for _, l := range ls {
		f.Add(l)
	}
	return f
}

// Add registers l and returns a function that removes it.
func (f *Fanout) Add(l Listener) (remove func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.listeners[id] = l
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *Fanout) each(fn func(Listener)) {
	f.mu.RLock()
	ls := make([]Listener, 0, len(f.listeners))
	for id := 0; id < f.next; id++ {
		if l, ok := f.listeners[id]; ok {
			ls = append(ls, l)
		}
	}
	f.mu.RUnlock()
	for _, l := range ls {
		fn(l)
	}
}

func (f *Fanout) ConnectionStatusChanged(connected bool, deviceName string) {
	f.each(func(l Listener) { l.ConnectionStatusChanged(connected, deviceName) })
}

func (f *Fanout) DeviceDiscovered(d discovery.Descriptor) {
	f.each(func(l Listener) { l.DeviceDiscovered(d) })
}

func (f *Fanout) Log(text string) {
	f.each(func(l Listener) { l.Log(text) })
}

func (f *Fanout) ControlReturned() {
	f.each(func(l Listener) { l.ControlReturned() })
}

func (f *Fanout) PeerEvent(ev event.Event) {
	f.each(func(l Listener) { l.PeerEvent(ev) })
}

// notifier delivers queued notifications in FIFO order without blocking the
// poster. At most one drain goroutine runs at a time.
type notifier struct {
	listener Listener

	mu       sync.Mutex
	idle     *sync.Cond
	queue    []func(Listener)
	draining bool
}

func newNotifier(l Listener) *notifier {
	if l == nil {
		l = NopListener{}
	}
	n := &notifier{listener: l}
	n.idle = sync.NewCond(&n.mu)
	return n
}

func (n *notifier) post(fn func(Listener)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queue = append(n.queue, fn)
	if !n.draining {
		n.draining = true
		go n.drain()
	}
}

func (n *notifier) drain() {
	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.draining = false
			n.idle.Broadcast()
			n.mu.Unlock()
			return
		}
		fn := n.queue[0]
		n.queue[0] = nil
		n.queue = n.queue[1:]
		n.mu.Unlock()
		fn(n.listener)
	}
}

// flush blocks until everything posted so far has been delivered.
func (n *notifier) flush() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for n.draining {
		n.idle.Wait()
	}
}
