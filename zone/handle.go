package zone

import (
	"sync"
	"sync/atomic"
	"time"
)

// TransferState tracks a zone's transfer lifecycle: IDLE -> SCHEDULED -> PENDING -> IDLE.
type TransferState uint8

const (
	StateIdle TransferState = iota
	StateScheduled
	StatePending
)

var transferStateToString = map[TransferState]string{
	StateIdle:      "IDLE",
	StateScheduled: "SCHEDULED",
	StatePending:   "PENDING",
}

func (s TransferState) String() string {
	if str, ok := transferStateToString[s]; ok {
		return str
	}
	return "UNKNOWN"
}

// SerialPolicy selects how the next SOA serial is computed.
type SerialPolicy uint8

const (
	SerialIncrement SerialPolicy = iota
	SerialUnixtime
)

var serialPolicyToString = map[SerialPolicy]string{
	SerialIncrement: "increment",
	SerialUnixtime:  "unixtime",
}

func (p SerialPolicy) String() string {
	if s, ok := serialPolicyToString[p]; ok {
		return s
	}
	return "unknown"
}

var stringToSerialPolicy = map[string]SerialPolicy{
	"increment": SerialIncrement,
	"unixtime":  SerialUnixtime,
}

// ParseSerialPolicy is the reverse of SerialPolicy.String.
func ParseSerialPolicy(s string) (SerialPolicy, error) {
	p, ok := stringToSerialPolicy[s]
	if !ok {
		return 0, errorf(InvalidArgument, "", "ParseSerialPolicy", "unknown serial policy %q", s)
	}
	return p, nil
}

// HandleConfig is the configuration snapshot a Handle owns: master
// address, TSIG key reference, feature flags, and ACLs. It is passed in
// whole and replaced whole on reconfiguration — never mutated field by
// field — so a reader holding a reference to one snapshot never observes
// a torn read.
type HandleConfig struct {
	MasterAddr    string
	TSIGKeyName   string
	BuildDiffs    bool
	DNSSECEnabled bool
	DBSyncTimeout time.Duration
	SerialPolicy  SerialPolicy
	NotifyRetries int
	ACLs          []string
	Downstreams   []string
}

// Timers holds the identifiers the Scheduler hands back for each of a
// zone's timers. Cancellation through these must be idempotent: a
// nil/zero value means "not currently armed".
type Timers struct {
	Refresh TimerID
	Retry   TimerID
	Expire  TimerID
	Flush   TimerID
	Resign  TimerID
}

// TimerID is an opaque handle returned by the scheduler contract's
// schedule_cb; its zero value means "no timer armed".
type TimerID uint64

// ZoneOption is a bit in a handle's option set. Until an operator thaws
// a frozen zone, its update pipeline, BumpSerial and Resign return Busy,
// and its REFRESH handler re-arms the REFRESH timer but enqueues no
// transfer.
type ZoneOption uint32

const (
	OptFrozen ZoneOption = 1 << iota
)

// Handle is the stable per-zone identity. It outlives any specific
// Content tree: the tree is replaced wholesale by Swap while the Handle
// itself, its journal, and its timers persist across reconfiguration.
type Handle struct {
	Name string

	mu      sync.Mutex // guards Config, State, Timers, Options, ZonefileSerial, ZonefileMtime
	Config  HandleConfig
	State   TransferState
	Timers  Timers
	Options ZoneOption

	content atomic.Pointer[Content]
	epoch   *epoch

	Journal *Journal

	ZonefileSerial Serial
	ZonefileMtime  time.Time
	LastRefresh    time.Time
	LastResign     time.Time

	refcount int32
}

// NewHandle constructs a handle for name with an empty (stub) content
// tree and the given configuration and journal.
func NewHandle(name string, cfg HandleConfig, j *Journal) *Handle {
	h := &Handle{
		Name:    name,
		Config:  cfg,
		State:   StateIdle,
		Journal: j,
		epoch:   newEpoch(),
	}
	h.content.Store(NewContent(name))
	return h
}

// Retain/Release adjust the handle's reference count, readable through
// Refcount. Nothing in this package takes or waits on a retain:
// ReadContent and RunUpdatePipeline do not call Retain, and Handle has
// no Close that drains the count.
func (h *Handle) Retain()  { atomic.AddInt32(&h.refcount, 1) }
func (h *Handle) Release() { atomic.AddInt32(&h.refcount, -1) }
func (h *Handle) Refcount() int32 { return atomic.LoadInt32(&h.refcount) }

// ReadContent captures the live pointer, runs fn against it, then exits
// the region. No lock is held across fn — only the epoch bookkeeping
// brackets it, and that is itself lock-free on the fast path.
func (h *Handle) ReadContent(fn func(*Content)) {
	g := h.epoch.enter()
	defer h.epoch.exit(g)
	fn(h.content.Load())
}

// Content returns the live content pointer for a short inspection. Callers
// that need a stable view across several operations should prefer
// ReadContent, which brackets the whole closure in one read region.
func (h *Handle) Content() *Content {
	return h.content.Load()
}

// Swap publishes newContent, then blocks until every reader that captured
// the old pointer before this call has finished, then invokes onReclaim
// (normally nil, or a hook that returns the old tree to a pool/records a
// metric) with the retired tree.
//
// Swap assumes the caller already holds h.mu — concurrent writers for the
// same zone are serialized by the per-zone mutex, so Swap itself does not
// lock.
func (h *Handle) Swap(newContent *Content, onReclaim func(old *Content)) {
	old := h.content.Swap(newContent)
	retiring := h.epoch.advance()
	h.epoch.quiesce(retiring)
	if onReclaim != nil {
		onReclaim(old)
	}
}

// Lock/Unlock expose the per-zone mutex to callers outside this package
// (the update pipeline, the scheduler) that must serialize a whole
// multi-step operation, not just a single field touch.
func (h *Handle) Lock()   { h.mu.Lock() }
func (h *Handle) Unlock() { h.mu.Unlock() }

// TryPending attempts the SCHEDULED->PENDING transition, guarded by
// h.mu. It reports false (duplicate suppression) if the zone is already
// PENDING.
func (h *Handle) TryPending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.State == StatePending {
		return false
	}
	h.State = StatePending
	return true
}

// SetState sets the transfer state under the zone mutex.
func (h *Handle) SetState(s TransferState) {
	h.mu.Lock()
	h.State = s
	h.mu.Unlock()
}

// GetState reads the transfer state under the zone mutex.
func (h *Handle) GetState() TransferState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.State
}

// Freeze and Thaw set/clear OptFrozen under the zone mutex. A frozen zone
// rejects new updates with Busy and enqueues no REFRESH transfer until
// thawed; in-flight work already past the check is unaffected — timer callbacks
// only ever observe the latest state at their own next tick rather than
// being interrupted mid-flight.
func (h *Handle) Freeze() {
	h.mu.Lock()
	h.Options |= OptFrozen
	h.mu.Unlock()
}

func (h *Handle) Thaw() {
	h.mu.Lock()
	h.Options &^= OptFrozen
	h.mu.Unlock()
}

// Frozen reports whether OptFrozen is set.
func (h *Handle) Frozen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Options&OptFrozen != 0
}

// DirtyJournalCount counts VALID+DIRTY journal entries, for zone status
// introspection.
func (h *Handle) DirtyJournalCount() (int, error) {
	if h.Journal == nil {
		return 0, nil
	}
	n := 0
	err := h.Journal.Walk(func(key uint64, flags EntryFlag, payload []byte) (bool, error) {
		if flags&EntryValid != 0 && flags&EntryDirty != 0 {
			n++
		}
		return false, nil
	})
	return n, err
}
