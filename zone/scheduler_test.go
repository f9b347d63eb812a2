package zone

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/korsgren/zonecore/codec"
)

// fakeScheduler never actually fires anything; ScheduleCB just records the
// call so tests can assert on rescheduling without waiting on real timers.
type fakeScheduler struct {
	mu       sync.Mutex
	next     TimerID
	canceled map[TimerID]bool
	calls    int
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{canceled: make(map[TimerID]bool)}
}

func (f *fakeScheduler) Schedule(TimerID, time.Duration) {}

func (f *fakeScheduler) ScheduleCB(cb func(data interface{}), data interface{}, delay time.Duration) TimerID {
	f.mu.Lock()
	f.next++
	id := f.next
	f.calls++
	f.mu.Unlock()
	return id
}

func (f *fakeScheduler) Cancel(id TimerID) {
	f.mu.Lock()
	f.canceled[id] = true
	f.mu.Unlock()
}

func (f *fakeScheduler) EventFinished(TimerID) {}

type fakeTransfer struct {
	mu    sync.Mutex
	tasks []Task
	err   error
}

func (f *fakeTransfer) Enqueue(task Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeTransfer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

func newStubHandle(t *testing.T, apex string) *Handle {
	t.Helper()
	return NewHandle(apex, HandleConfig{}, nil)
}

func TestForceRefreshOnStubEnqueuesAXFR(t *testing.T) {
	reg := NewRegistry()
	h := newStubHandle(t, "example.com.")
	reg.Register(h)

	sched := newFakeScheduler()
	xfer := &fakeTransfer{}
	sm := NewStateMachine(reg, sched, xfer, nil, 0)

	sm.ForceRefresh(h)

	if xfer.count() != 1 {
		t.Fatalf("expected one enqueued task, got %d", xfer.count())
	}
	if xfer.tasks[0].Type != TaskAXFR {
		t.Errorf("stub zone should enqueue AXFR, got %s", xfer.tasks[0].Type)
	}
	if h.GetState() != StatePending {
		t.Errorf("state = %s, want PENDING", h.GetState())
	}
}

func TestForceRefreshWithContentEnqueuesSOAProbe(t *testing.T) {
	reg := NewRegistry()
	h := newStubHandle(t, "example.com.")
	c := NewContent("example.com.")
	c.Put(codec.RRset{Name: "example.com.", RRtype: dns.TypeSOA, RRs: []dns.RR{soaRRForTest(t, 100)}})
	h.Swap(c, nil)
	reg.Register(h)

	sched := newFakeScheduler()
	xfer := &fakeTransfer{}
	sm := NewStateMachine(reg, sched, xfer, nil, 0)

	sm.ForceRefresh(h)

	if xfer.count() != 1 || xfer.tasks[0].Type != TaskSOAProbe {
		t.Fatalf("expected one SOA probe task, got %+v", xfer.tasks)
	}
}

// TestForceRefreshDropsDuplicateWhilePending checks duplicate
// suppression: a second attempt while PENDING is simply dropped.
func TestForceRefreshDropsDuplicateWhilePending(t *testing.T) {
	reg := NewRegistry()
	h := newStubHandle(t, "example.com.")
	reg.Register(h)

	sched := newFakeScheduler()
	xfer := &fakeTransfer{}
	sm := NewStateMachine(reg, sched, xfer, nil, 0)

	if !h.TryPending() {
		t.Fatal("expected first TryPending to succeed")
	}
	sm.ForceRefresh(h)
	if xfer.count() != 0 {
		t.Fatalf("expected duplicate attempt to be dropped, got %d enqueued", xfer.count())
	}
}

func TestForceRefreshOnUnregisteredZoneIsNoop(t *testing.T) {
	reg := NewRegistry()
	h := newStubHandle(t, "ghost.example.com.")
	sched := newFakeScheduler()
	xfer := &fakeTransfer{}
	sm := NewStateMachine(reg, sched, xfer, nil, 0)

	sm.ForceRefresh(h)
	if xfer.count() != 0 {
		t.Fatalf("expected no task enqueued for an unregistered zone, got %d", xfer.count())
	}
}

func TestFrozenZoneSkipsRefresh(t *testing.T) {
	reg := NewRegistry()
	h := newStubHandle(t, "example.com.")
	reg.Register(h)
	h.Freeze()

	sched := newFakeScheduler()
	xfer := &fakeTransfer{}
	sm := NewStateMachine(reg, sched, xfer, nil, 0)

	sm.ForceRefresh(h)
	if xfer.count() != 0 {
		t.Fatalf("expected frozen zone to skip REFRESH, got %d enqueued", xfer.count())
	}
	if sched.calls == 0 {
		t.Error("expected the next REFRESH to still be rescheduled even while frozen")
	}
}

func TestNotifyDownstreamsEnqueuesOnePerTarget(t *testing.T) {
	reg := NewRegistry()
	h := newStubHandle(t, "example.com.")
	sched := newFakeScheduler()
	xfer := &fakeTransfer{}
	sm := NewStateMachine(reg, sched, xfer, nil, 0)

	sm.NotifyDownstreams(h, []string{"10.0.0.1:53", "10.0.0.2:53"})
	if xfer.count() != 2 {
		t.Fatalf("expected 2 NOTIFY tasks, got %d", xfer.count())
	}
	for _, task := range xfer.tasks {
		if task.Type != TaskNotify {
			t.Errorf("task type = %s, want notify", task.Type)
		}
	}
}

// TestNotifyDownstreamsContinuesPastOneFailure ensures a failing target
// doesn't stop the fan-out to the rest.
func TestNotifyDownstreamsContinuesPastOneFailure(t *testing.T) {
	reg := NewRegistry()
	h := newStubHandle(t, "example.com.")
	sched := newFakeScheduler()
	xfer := &fakeTransfer{err: dns.ErrShortRead}
	sm := NewStateMachine(reg, sched, xfer, nil, 0)

	// Should not panic even though every enqueue fails.
	sm.NotifyDownstreams(h, []string{"10.0.0.1:53", "10.0.0.2:53"})
}

// TestOnExpireFireUnregistersAndCancelsRefresh drives the EXPIRE race
// directly: onExpireFire must pull the zone out of the registry, cancel
// its REFRESH timer, and swap in an empty tree — all while still holding
// the handle's lock, so a concurrent Swap from another goroutine observing
// the same handle can never interleave with the content reset.
func TestOnExpireFireUnregistersAndCancelsRefresh(t *testing.T) {
	reg := NewRegistry()
	h := newStubHandle(t, "example.com.")
	c := NewContent("example.com.")
	c.Put(codec.RRset{Name: "example.com.", RRtype: dns.TypeSOA, RRs: []dns.RR{soaRRForTest(t, 100)}})
	h.Swap(c, nil)
	reg.Register(h)

	sched := newFakeScheduler()
	xfer := &fakeTransfer{}
	sm := NewStateMachine(reg, sched, xfer, nil, 0)

	h.Lock()
	h.Timers.Refresh = sched.ScheduleCB(func(interface{}) {}, h, time.Hour)
	refreshID := h.Timers.Refresh
	h.Unlock()

	sm.onExpireFire(h)

	if _, ok := reg.Lookup("example.com."); ok {
		t.Error("expected onExpireFire to remove the zone from the registry")
	}
	if !sched.canceled[refreshID] {
		t.Error("expected onExpireFire to cancel the armed REFRESH timer")
	}
	if h.Timers.Refresh != 0 {
		t.Error("expected onExpireFire to clear the REFRESH timer ID")
	}
	if h.Content().SOA() != nil {
		t.Error("expected onExpireFire to swap in an empty content tree")
	}
}

// TestOnExpireFireOnUnregisteredZoneIsNoop covers the race where a zone is
// unregistered (e.g. deleted) before its EXPIRE timer fires: Unregister
// already returned it once, so a second fire must not panic or re-swap.
func TestOnExpireFireOnUnregisteredZoneIsNoop(t *testing.T) {
	reg := NewRegistry()
	h := newStubHandle(t, "ghost.example.com.")
	sched := newFakeScheduler()
	xfer := &fakeTransfer{}
	sm := NewStateMachine(reg, sched, xfer, nil, 0)

	sm.onExpireFire(h)
}

func soaRRForTest(t *testing.T, serial uint32) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(fmt.Sprintf("example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. %d 7200 3600 1209600 3600", serial))
	if err != nil {
		t.Fatalf("dns.NewRR(SOA): %v", err)
	}
	return rr
}
