package zone

import (
	"log"
	"math/rand"
	"sync"
	"time"
)

// JitterPct bounds the random reduction applied when rescheduling REFRESH
// and RETRY: the next delay is the SOA timer value reduced by a uniformly
// random percentage up to this constant, so a large population of
// secondaries for the same zone doesn't all probe at once.
const JitterPct = 10

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	pct := rand.Float64() * JitterPct / 100
	return d - time.Duration(float64(d)*pct)
}

// Scheduler is the timer abstraction the state machine depends on, so
// timer management can be swapped or mocked independently of the
// time.AfterFunc-backed default below.
type Scheduler interface {
	Schedule(timer TimerID, delay time.Duration)
	ScheduleCB(cb func(data interface{}), data interface{}, delay time.Duration) TimerID
	Cancel(timer TimerID)
	EventFinished(parent TimerID)
}

// TimeWheel is the default Scheduler: one time.AfterFunc per armed timer.
type TimeWheel struct {
	mu     sync.Mutex
	next   TimerID
	timers map[TimerID]*time.Timer
}

// NewTimeWheel returns an empty scheduler.
func NewTimeWheel() *TimeWheel {
	return &TimeWheel{timers: make(map[TimerID]*time.Timer)}
}

func (w *TimeWheel) ScheduleCB(cb func(data interface{}), data interface{}, delay time.Duration) TimerID {
	w.mu.Lock()
	w.next++
	id := w.next
	w.mu.Unlock()

	t := time.AfterFunc(delay, func() { cb(data) })

	w.mu.Lock()
	w.timers[id] = t
	w.mu.Unlock()
	return id
}

// Schedule re-arms an already-issued timer ID — unused by TimeWheel's
// one-shot model (callers reschedule via a fresh ScheduleCB instead) but
// kept to satisfy the contract's shape for alternate implementations that
// reuse timer identities.
func (w *TimeWheel) Schedule(timer TimerID, delay time.Duration) {}

func (w *TimeWheel) Cancel(timer TimerID) {
	w.mu.Lock()
	t, ok := w.timers[timer]
	if ok {
		delete(w.timers, timer)
	}
	w.mu.Unlock()
	if ok {
		t.Stop()
	}
}

// EventFinished is a no-op for TimeWheel: each timer fires at most once
// and is never raced by a concurrent cancel of the same identity, since
// Cancel deletes the map entry before Stop is observable by a new
// ScheduleCB call reusing the counter (the counter never repeats).
func (w *TimeWheel) EventFinished(parent TimerID) {}

// TaskType enumerates the work the core can hand the external transfer
// subsystem.
type TaskType uint8

const (
	TaskSOAProbe TaskType = iota
	TaskAXFR
	TaskIXFR
	TaskNotify
	TaskUpdateForward
)

var taskTypeToString = map[TaskType]string{
	TaskSOAProbe:      "soa-probe",
	TaskAXFR:          "axfr",
	TaskIXFR:          "ixfr",
	TaskNotify:        "notify",
	TaskUpdateForward: "update-forward",
}

func (t TaskType) String() string {
	if s, ok := taskTypeToString[t]; ok {
		return s
	}
	return "unknown"
}

// Task is what the core constructs and hands to TransferSubsystem.Enqueue.
type Task struct {
	Zone    *Handle
	Type    TaskType
	Addr    string
	TSIGKey string
	UseTCP  bool
}

// TransferSubsystem is the external transfer-subsystem contract: the
// state machine enqueues work here and never talks to the network itself.
type TransferSubsystem interface {
	Enqueue(task Task) error
}

// StateMachine drives the per-zone REFRESH/RETRY/EXPIRE/flush/resign
// timers against a Registry, a Scheduler, and an external
// TransferSubsystem. One type covers what would otherwise be several
// independent timer loops, since they all share the same registry lookup
// and per-zone locking discipline.
type StateMachine struct {
	registry  *Registry
	sched     Scheduler
	xfer      TransferSubsystem
	signer    Signer
	maxConnIdle time.Duration
}

// NewStateMachine wires the four collaborators together.
func NewStateMachine(r *Registry, sched Scheduler, xfer TransferSubsystem, signer Signer, maxConnIdle time.Duration) *StateMachine {
	return &StateMachine{registry: r, sched: sched, xfer: xfer, signer: signer, maxConnIdle: maxConnIdle}
}

// ArmRefresh schedules h's first REFRESH fire. Called once at zone
// registration; subsequent fires reschedule themselves.
func (sm *StateMachine) ArmRefresh(h *Handle, delay time.Duration) {
	h.Lock()
	h.State = StateScheduled
	h.Timers.Refresh = sm.sched.ScheduleCB(func(data interface{}) {
		sm.onRefreshFire(data.(*Handle))
	}, h, delay)
	h.Unlock()
}

// ForceRefresh triggers an immediate out-of-band REFRESH attempt for h,
// without waiting for its timer to fire. It reuses the same handler the
// timer itself calls, so duplicate suppression and bootstrap/probe
// selection behave identically.
func (sm *StateMachine) ForceRefresh(h *Handle) {
	sm.onRefreshFire(h)
}

// onRefreshFire is the REFRESH/RETRY timer handler. Rescheduling happens
// before the transfer task is enqueued so a slow transfer subsystem never
// delays the next fire.
func (sm *StateMachine) onRefreshFire(h *Handle) {
	if _, ok := sm.registry.Lookup(h.Name); !ok {
		return // zone discarded; timer callbacks discovering this return immediately
	}

	h.Lock()
	frozen := h.Options&OptFrozen != 0
	h.LastRefresh = time.Now()
	bootstrap := h.Content().IsStub()
	var nextDelay time.Duration
	if soa := h.Content().SOA(); soa != nil {
		nextDelay = jitter(time.Duration(soa.Refresh) * time.Second)
	} else {
		nextDelay = jitter(30 * time.Second)
	}
	h.Timers.Refresh = sm.sched.ScheduleCB(func(data interface{}) {
		sm.onRefreshFire(data.(*Handle))
	}, h, nextDelay)

	if !bootstrap && h.Timers.Expire == 0 {
		if soa := h.Content().SOA(); soa != nil {
			expireDelay := time.Duration(soa.Expire)*time.Second + 2*sm.maxConnIdle
			h.Timers.Expire = sm.sched.ScheduleCB(func(data interface{}) {
				sm.onExpireFire(data.(*Handle))
			}, h, expireDelay)
		}
	}
	h.Unlock()

	if frozen {
		return // frozen zones keep the REFRESH timer armed but enqueue no transfer until thawed
	}

	if !h.TryPending() {
		return // a transfer is already in flight for this zone; drop the duplicate
	}

	task := Task{Zone: h}
	if bootstrap {
		task.Type = TaskAXFR
	} else {
		task.Type = TaskSOAProbe
	}
	if err := sm.xfer.Enqueue(task); err != nil {
		h.SetState(StateScheduled)
	}
}

// OnRetry reschedules REFRESH using SOA RETRY after a transient failure,
// the same event as REFRESH but driven by the pipeline on failure rather
// than by the timer itself.
func (sm *StateMachine) OnRetry(h *Handle) {
	h.SetState(StateScheduled)
	soa := h.Content().SOA()
	var delay time.Duration
	if soa != nil {
		delay = jitter(time.Duration(soa.Retry) * time.Second)
	} else {
		delay = jitter(10 * time.Second)
	}
	h.Lock()
	sm.sched.Cancel(h.Timers.Refresh)
	h.Timers.Refresh = sm.sched.ScheduleCB(func(data interface{}) {
		sm.onRefreshFire(data.(*Handle))
	}, h, delay)
	h.Unlock()
}

// onExpireFire removes the zone from the registry, cancels REFRESH, and
// reclaims the old content only after the quiescence barrier.
func (sm *StateMachine) onExpireFire(h *Handle) {
	removed, ok := sm.registry.Unregister(h.Name)
	if !ok {
		return
	}
	log.Printf("EXPIRE: zone %q expired", h.Name)

	removed.Lock()
	defer removed.Unlock()
	sm.sched.Cancel(removed.Timers.Refresh)
	removed.Timers.Refresh = 0
	removed.Timers.Expire = 0
	removed.Swap(NewContent(removed.Name), nil)
}

// ArmFlush schedules h's recurring flush timer at dbsync_timeout.
func (sm *StateMachine) ArmFlush(h *Handle, flush func(*Handle) error) {
	var tick func(interface{})
	tick = func(data interface{}) {
		hh := data.(*Handle)
		if _, ok := sm.registry.Lookup(hh.Name); !ok {
			return
		}
		_ = flush(hh)
		hh.Lock()
		hh.Timers.Flush = sm.sched.ScheduleCB(tick, hh, hh.Config.DBSyncTimeout)
		hh.Unlock()
	}
	h.Lock()
	h.Timers.Flush = sm.sched.ScheduleCB(tick, h, h.Config.DBSyncTimeout)
	h.Unlock()
}

// resignRetryDelay re-arms the resign timer after a failed tick, so a
// transient failure (a frozen zone, a signer hiccup) doesn't leave the
// zone without a resign timer until restart.
const resignRetryDelay = 10 * time.Minute

// ArmResign schedules h's DNSSEC resign timer at the refresh_at point the
// signer returns. resign is expected to call sm.signer and return the new
// refresh_at as an absolute time.
func (sm *StateMachine) ArmResign(h *Handle, resign func(*Handle) (time.Time, error)) {
	var tick func(interface{})
	tick = func(data interface{}) {
		hh := data.(*Handle)
		if _, ok := sm.registry.Lookup(hh.Name); !ok {
			return
		}
		refreshAt, err := resign(hh)
		if err != nil {
			log.Printf("DNSSEC: Zone %q - resign failed: %v", hh.Name, err)
			hh.Lock()
			hh.Timers.Resign = sm.sched.ScheduleCB(tick, hh, resignRetryDelay)
			hh.Unlock()
			return
		}
		hh.Lock()
		hh.LastResign = time.Now()
		hh.Unlock()
		delay := time.Until(refreshAt)
		if delay < 0 {
			delay = 0
		}
		hh.Lock()
		hh.Timers.Resign = sm.sched.ScheduleCB(tick, hh, delay)
		hh.Unlock()
	}
	h.Lock()
	h.Timers.Resign = sm.sched.ScheduleCB(tick, h, 0)
	h.Unlock()
}

// NotifyDownstreams enqueues a NOTIFY task to every configured downstream
// once a swap has published new content. Errors enqueueing to one target
// do not stop the others; each is logged and the fan-out continues, since
// a downstream NOTIFY is best-effort.
func (sm *StateMachine) NotifyDownstreams(h *Handle, downstreams []string) {
	for _, addr := range downstreams {
		task := Task{Zone: h, Type: TaskNotify, Addr: addr, UseTCP: false}
		if err := sm.xfer.Enqueue(task); err != nil {
			log.Printf("NOTIFY: zone %q: enqueue to %s failed: %v", h.Name, addr, err)
		}
	}
}

// CancelAll cancels every armed timer on h. Idempotent.
func (sm *StateMachine) CancelAll(h *Handle) {
	h.Lock()
	defer h.Unlock()
	for _, id := range []TimerID{h.Timers.Refresh, h.Timers.Retry, h.Timers.Expire, h.Timers.Flush, h.Timers.Resign} {
		if id != 0 {
			sm.sched.Cancel(id)
		}
	}
	h.Timers = Timers{}
}
