package mbbridge

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// settleDelay guards against the spurious start bit some devices see
	// right after the line or connection comes up.
	settleDelay = 20 * time.Millisecond

	// recoveryPause is the auto-balancing hold applied after an incomplete
	// transaction. Every lock is held across it, so other pipelines block
	// behind the pause instead of hammering a device that just errored.
	recoveryPause = time.Millisecond

	// shutdownAttempts and shutdownInterval bound how long Shutdown waits
	// for pipeline workers to observe the stop flag.
	shutdownAttempts = 50
	shutdownInterval = 10 * time.Millisecond
)

// endpoint pairs a Bus with the mutex serializing every operation against
// it. A single connection can be the read side of one pipeline and the write
// side of the other, hence one lock per handle rather than per pipeline.
type endpoint struct {
	name   string
	bus    Bus
	unitId uint8
	lock   sync.Mutex
}

// pipeline is one directional relay task. It is exclusively owned by its
// worker: the value buffer is written by the read half and drained by the
// write half, and is never shared with the other pipeline.
type pipeline struct {
	name       string
	src        *endpoint
	srcAddr    uint16
	dst        *endpoint
	dstAddr    uint16
	count      uint16
	values     []uint16
	recoveries uint64 // touched only by the owning worker
}

// Bridge is the scheduler: it runs two concurrent relay pipelines between
// two endpoints (bridge mode), or a single polling worker against one
// endpoint (poll mode), until stopped.
//
// Lock ordering is a hard contract: endpoints in declaration order first,
// the print lock last. quiesce is the only code path that ever holds more
// than one lock at a time; every other path acquires exactly one, uses it,
// and releases it before taking the next. This single invariant is what
// keeps two pipelines over shared handles deadlock free.
type Bridge struct {
	endpoints []*endpoint
	pipelines []*pipeline
	poll      *pollTask
	logger    *logger
	printLock sync.Mutex
	running   atomic.Bool
	workers   atomic.Int32
	stats     Stats
	mode      Mode
	verbose   bool
	title     string
	closeOnce sync.Once
}

// NewBridge validates the configuration and assembles the run: endpoints,
// locks and pipelines for bridge mode, or the single poll task. No I/O
// happens until Open.
func NewBridge(cfg *Config) (b *Bridge, err error) {
	var srcBus Bus
	var fwdBus Bus

	err = cfg.Validate()
	if err != nil {
		return
	}

	srcBus, err = NewBus(&cfg.Source, time.Duration(cfg.Timeout), cfg.Table == "input")
	if err != nil {
		return
	}

	b = &Bridge{
		logger:  newLogger("mbbridge"),
		mode:    cfg.Mode(),
		verbose: cfg.Verbose,
		title:   cfg.Source.Name,
	}

	var src = &endpoint{
		name:   cfg.Source.Name,
		bus:    srcBus,
		unitId: cfg.Source.UnitId,
	}
	b.endpoints = append(b.endpoints, src)

	if b.mode == MODE_BRIDGE {
		fwdBus, err = NewBus(cfg.Forward, time.Duration(cfg.Timeout), false)
		if err != nil {
			b = nil
			return
		}

		var fwd = &endpoint{
			name:   cfg.Forward.Name,
			bus:    fwdBus,
			unitId: cfg.Forward.UnitId,
		}
		b.endpoints = append(b.endpoints, fwd)

		b.pipelines = []*pipeline{
			{
				name:    fmt.Sprintf("%s->%s", src.name, fwd.name),
				src:     src,
				srcAddr: cfg.Outbound.ReadAddress,
				dst:     fwd,
				dstAddr: cfg.Outbound.WriteAddress,
				count:   cfg.Outbound.Count,
				values:  make([]uint16, cfg.Outbound.Count),
			},
			{
				name:    fmt.Sprintf("%s->%s", fwd.name, src.name),
				src:     fwd,
				srcAddr: cfg.Inbound.ReadAddress,
				dst:     src,
				dstAddr: cfg.Inbound.WriteAddress,
				count:   cfg.Inbound.Count,
				values:  make([]uint16, cfg.Inbound.Count),
			},
		}
	} else {
		b.poll = &pollTask{
			ep:        src,
			slaves:    cfg.slaveIds,
			reference: cfg.Reference,
			count:     cfg.Count,
			format:    cfg.format,
			wordOrder: cfg.wordOrder,
			bits:      cfg.format == FMT_BOOL,
			discrete:  cfg.Table == "discrete",
			values:    make([]uint16, cfg.format.BufferSize(int(cfg.Count))),
			rate:      time.Duration(cfg.Rate),
		}
	}

	return
}

// Open connects every endpoint. Any failure is fatal to the whole run: the
// bridge must not come up half connected, so already opened endpoints are
// closed again and the error names the offending endpoint along with the
// transport's own error text.
func (b *Bridge) Open() (err error) {
	for i, ep := range b.endpoints {
		err = ep.bus.Open()
		if err != nil {
			for j := 0; j < i; j++ {
				b.endpoints[j].bus.Close()
			}
			err = fmt.Errorf("connection failed to %s: %v", ep.name, err)
			return
		}
	}

	// give the line time to settle before the first transaction
	time.Sleep(settleDelay)

	for _, ep := range b.endpoints {
		err = ep.bus.SetUnitId(ep.unitId)
		if err != nil {
			err = fmt.Errorf("failed to address unit %d on %s: %v", ep.unitId, ep.name, err)
			return
		}
	}

	return
}

// Start launches the workers and returns immediately.
func (b *Bridge) Start() {
	b.running.Store(true)

	if b.mode == MODE_BRIDGE {
		for _, p := range b.pipelines {
			go b.runPipeline(p)
		}
	} else {
		go b.runPoll(b.poll)
	}

	return
}

// Stop flips the run flag. It is the only way the run ends and may be called
// from any goroutine, including the signal path: workers observe the flag at
// their loop checkpoints only, never mid transaction.
func (b *Bridge) Stop() {
	b.running.Store(false)

	return
}

func (b *Bridge) Running() (running bool) {
	running = b.running.Load()

	return
}

// Stats exposes the run counters.
func (b *Bridge) Stats() (s *Stats) {
	s = &b.stats

	return
}

func (b *Bridge) runPipeline(p *pipeline) {
	b.workers.Add(1)
	defer b.workers.Add(-1)

	for b.running.Load() {
		b.relayCycle(p)
	}

	return
}

// relayCycle performs one read-then-write pass. The read half and the write
// half each hold exactly one endpoint lock, and the write is attempted only
// if the read returned the full count and the run is still live. Any
// incomplete transaction ends the cycle with the auto-balancing pause.
func (b *Bridge) relayCycle(p *pipeline) {
	var values []uint16
	var err error
	var n int
	var ok bool

	p.src.lock.Lock()
	b.stats.tx.Add(1)
	values, err = p.src.bus.ReadRegisters(p.srcAddr, p.count)
	p.src.lock.Unlock()

	n = copy(p.values, values)
	ok = b.classify(p.name, "read", n, int(p.count), err)

	if ok && b.running.Load() {
		p.dst.lock.Lock()
		b.stats.tx.Add(1)
		err = p.dst.bus.WriteRegisters(p.dstAddr, p.values)
		p.dst.lock.Unlock()

		n = int(p.count)
		if err != nil {
			n = 0
		}
		ok = b.classify(p.name, "write", n, int(p.count), err)
	}

	if !ok {
		p.recoveries++
		b.quiesce()
	}

	return
}

// classify records the outcome of one transaction under the print lock: a
// full-count success bumps the received counter and may emit a confirmation,
// anything else bumps the error counter and reports the direction, the
// requested count and the transport's error text.
func (b *Bridge) classify(dir string, op string, got int, want int, err error) (ok bool) {
	b.printLock.Lock()
	defer b.printLock.Unlock()

	if err == nil && got == want {
		b.stats.rx.Add(1)
		if b.verbose {
			b.logger.Infof("%s: %s %d values", dir, op, got)
		}
		ok = true
		return
	}

	b.stats.errors.Add(1)
	if err == nil {
		err = fmt.Errorf("short response (returned %d)", got)
	}
	b.logger.Errorf("%s: %s of %d values failed: %v", dir, op, want, err)

	return
}

// quiesce is the auto-balancing barrier: take every lock in the declared
// global order, hold them across a short pause so every other worker
// attempting the same handles blocks behind it while the remote device
// settles, then release in reverse order. Using the same global order on
// every path, regardless of which direction a pipeline runs in, is what
// rules out deadlock between two recovering pipelines.
func (b *Bridge) quiesce() {
	for _, ep := range b.endpoints {
		ep.lock.Lock()
	}
	b.printLock.Lock()

	time.Sleep(recoveryPause)

	b.printLock.Unlock()
	for i := len(b.endpoints) - 1; i >= 0; i-- {
		b.endpoints[i].lock.Unlock()
	}

	return
}

// idle sleeps for d in short slices so a stop request is not held up by a
// long poll interval.
func (b *Bridge) idle(d time.Duration) {
	var deadline = time.Now().Add(d)

	for b.running.Load() && time.Now().Before(deadline) {
		time.Sleep(shutdownInterval)
	}

	return
}

// Shutdown stops the workers, waits a bounded time for them to drain, prints
// the final statistics exactly once and closes every endpoint. Workers that
// fail to drain in time are reported as a warning but never affect the exit
// status: the returned code is non-zero iff any transaction error was
// recorded during the run.
func (b *Bridge) Shutdown() (code int) {
	b.closeOnce.Do(func() {
		b.running.Store(false)

		b.waitForWorkers()
		// one pass through the barrier flushes any worker still inside
		// a critical section or a recovery pause
		b.quiesce()
		b.waitForWorkers()

		if n := b.workers.Load(); n != 0 {
			b.logger.Warningf("pipelines not closed properly, still %d running", n)
		}

		b.printStats()

		for _, ep := range b.endpoints {
			ep.bus.Close()
		}
	})

	if b.stats.errors.Load() != 0 {
		code = 1
	}

	return
}

func (b *Bridge) waitForWorkers() {
	for i := 0; i < shutdownAttempts && b.workers.Load() != 0; i++ {
		time.Sleep(shutdownInterval)
	}

	return
}

func (b *Bridge) printStats() {
	b.printLock.Lock()
	defer b.printLock.Unlock()

	b.logger.Printf("--- %s statistics ---\n", b.title)
	b.logger.Printf("%d frames transmitted, %d received, %d errors, %.1f%% frame loss\n",
		b.stats.tx.Load(), b.stats.rx.Load(), b.stats.errors.Load(),
		b.stats.LossPercent(b.mode))

	return
}
