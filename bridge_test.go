package mbbridge

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeBus is a scriptable in-memory Bus used by the scheduler tests.
type fakeBus struct {
	mu        sync.Mutex
	regs      []uint16 // register block returned by reads
	bits      []bool   // bit block returned by coil/discrete reads
	readErrs  []error  // per-call read outcomes, nil entries succeed
	readCalls int
	shortBy   int // return this many registers fewer than asked
	writeErr  error
	writes    [][]uint16
	unitIds   []uint8
	openErr   error
	opened    bool
	closed    bool
	delay     time.Duration
}

func (f *fakeBus) Open() (err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	err = f.openErr
	if err == nil {
		f.opened = true
	}

	return
}

func (f *fakeBus) Close() (err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true

	return
}

func (f *fakeBus) SetUnitId(id uint8) (err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.unitIds = append(f.unitIds, id)

	return
}

func (f *fakeBus) ReadRegisters(addr uint16, quantity uint16) (values []uint16, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	var call = f.readCalls
	f.readCalls++

	if call < len(f.readErrs) && f.readErrs[call] != nil {
		err = f.readErrs[call]
		return
	}

	var n = int(quantity) - f.shortBy
	if n > len(f.regs) {
		n = len(f.regs)
	}
	values = append(values, f.regs[:n]...)

	return
}

func (f *fakeBus) WriteRegisters(addr uint16, values []uint16) (err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		err = f.writeErr
		return
	}
	f.writes = append(f.writes, append([]uint16{}, values...))

	return
}

func (f *fakeBus) ReadCoils(addr uint16, quantity uint16) (values []bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var call = f.readCalls
	f.readCalls++

	if call < len(f.readErrs) && f.readErrs[call] != nil {
		err = f.readErrs[call]
		return
	}
	values = append(values, f.bits...)

	return
}

func (f *fakeBus) ReadDiscreteInputs(addr uint16, quantity uint16) (values []bool, err error) {
	values, err = f.ReadCoils(addr, quantity)

	return
}

// newTestBridge assembles a two endpoint bridge around fake buses, with both
// logger streams captured.
func newTestBridge(src Bus, dst Bus, outCount uint16, inCount uint16) (b *Bridge, out *bytes.Buffer) {
	var eSrc = &endpoint{name: "src", bus: src}
	var eDst = &endpoint{name: "dst", bus: dst}

	out = &bytes.Buffer{}
	b = &Bridge{
		endpoints: []*endpoint{eSrc, eDst},
		logger:    newLogger("test"),
		mode:      MODE_BRIDGE,
		title:     "src",
	}
	b.logger.out = out
	b.logger.errOut = out

	b.pipelines = []*pipeline{
		{
			name:    "src->dst",
			src:     eSrc,
			srcAddr: 192,
			dst:     eDst,
			dstAddr: 4,
			count:   outCount,
			values:  make([]uint16, outCount),
		},
		{
			name:    "dst->src",
			src:     eDst,
			srcAddr: 4,
			dst:     eSrc,
			dstAddr: 200,
			count:   inCount,
			values:  make([]uint16, inCount),
		},
	}

	return
}

func TestRelayCycleSuccess(t *testing.T) {
	var src = &fakeBus{regs: []uint16{1, 2, 3, 4}}
	var dst = &fakeBus{regs: []uint16{9, 9, 9, 9}}
	var b, _ = newTestBridge(src, dst, 4, 4)

	b.running.Store(true)
	b.relayCycle(b.pipelines[0])

	if b.stats.Tx() != 2 || b.stats.Rx() != 2 || b.stats.Errors() != 0 {
		t.Errorf("expected tx=2 rx=2 errors=0, got %d/%d/%d",
			b.stats.Tx(), b.stats.Rx(), b.stats.Errors())
	}
	if len(dst.writes) != 1 {
		t.Fatalf("expected 1 write, got %d", len(dst.writes))
	}
	for i, v := range dst.writes[0] {
		if v != src.regs[i] {
			t.Errorf("expected relayed value %d at offset %d, got %d", src.regs[i], i, v)
		}
	}
	if b.pipelines[0].recoveries != 0 {
		t.Errorf("expected no recovery pause, got %d", b.pipelines[0].recoveries)
	}

	return
}

func TestRelayCycleReadFailureBlocksWrite(t *testing.T) {
	var src = &fakeBus{
		regs:     []uint16{1, 2, 3, 4},
		readErrs: []error{errors.New("request timed out")},
	}
	var dst = &fakeBus{}
	var b, out = newTestBridge(src, dst, 4, 4)

	b.running.Store(true)
	b.relayCycle(b.pipelines[0])

	if b.stats.Errors() != 1 {
		t.Errorf("expected 1 error, got %d", b.stats.Errors())
	}
	if b.stats.Tx() != 1 {
		t.Errorf("expected 1 transmit attempt (no write after a failed read), got %d", b.stats.Tx())
	}
	if len(dst.writes) != 0 {
		t.Errorf("expected no write after a failed read, got %d", len(dst.writes))
	}
	if b.pipelines[0].recoveries != 1 {
		t.Errorf("expected exactly 1 recovery pause, got %d", b.pipelines[0].recoveries)
	}
	if !strings.Contains(out.String(), "request timed out") {
		t.Errorf("expected the transport error text in the diagnostic, got %q", out.String())
	}
	if !strings.Contains(out.String(), "read of 4") {
		t.Errorf("expected the requested count in the diagnostic, got %q", out.String())
	}

	return
}

func TestRelayCycleShortRead(t *testing.T) {
	var src = &fakeBus{regs: []uint16{1, 2, 3, 4}, shortBy: 2}
	var dst = &fakeBus{}
	var b, out = newTestBridge(src, dst, 4, 4)

	b.running.Store(true)
	b.relayCycle(b.pipelines[0])

	if b.stats.Errors() != 1 {
		t.Errorf("expected 1 error for a short read, got %d", b.stats.Errors())
	}
	if len(dst.writes) != 0 {
		t.Errorf("expected no write after a short read, got %d", len(dst.writes))
	}
	if !strings.Contains(out.String(), "returned 2") {
		t.Errorf("expected the short count in the diagnostic, got %q", out.String())
	}

	return
}

func TestRelayCycleWriteFailure(t *testing.T) {
	var src = &fakeBus{regs: []uint16{1, 2, 3, 4}}
	var dst = &fakeBus{writeErr: errors.New("illegal data address")}
	var b, _ = newTestBridge(src, dst, 4, 4)

	b.running.Store(true)
	b.relayCycle(b.pipelines[0])

	if b.stats.Tx() != 2 {
		t.Errorf("expected 2 transmit attempts, got %d", b.stats.Tx())
	}
	if b.stats.Rx() != 1 {
		t.Errorf("expected 1 received frame (the read), got %d", b.stats.Rx())
	}
	if b.stats.Errors() != 1 {
		t.Errorf("expected 1 error, got %d", b.stats.Errors())
	}
	if b.pipelines[0].recoveries != 1 {
		t.Errorf("expected exactly 1 recovery pause, got %d", b.pipelines[0].recoveries)
	}

	return
}

func TestRelayRecoversAfterSingleFailure(t *testing.T) {
	var src = &fakeBus{
		regs:     []uint16{1, 2, 3, 4, 5, 6},
		readErrs: []error{errors.New("request timed out"), nil},
	}
	var dst = &fakeBus{}
	var b, _ = newTestBridge(src, dst, 6, 6)
	var p = b.pipelines[0]

	b.running.Store(true)

	// first cycle fails its read, second cycle goes through
	b.relayCycle(p)
	b.relayCycle(p)

	if b.stats.Errors() != 1 {
		t.Errorf("expected exactly 1 error, got %d", b.stats.Errors())
	}
	if p.recoveries != 1 {
		t.Errorf("expected exactly 1 recovery pause, got %d", p.recoveries)
	}
	if b.stats.Tx() != 3 {
		t.Errorf("expected 3 transmit attempts (failed read, read, write), got %d", b.stats.Tx())
	}
	if len(dst.writes) != 1 {
		t.Errorf("expected exactly 1 write, got %d", len(dst.writes))
	}

	return
}

func TestStopBetweenReadAndWrite(t *testing.T) {
	var src = &fakeBus{regs: []uint16{1, 2, 3, 4}}
	var dst = &fakeBus{}
	var b, _ = newTestBridge(src, dst, 4, 4)

	// run flag already down: the read proceeds but the write must not
	b.relayCycle(b.pipelines[0])

	if len(dst.writes) != 0 {
		t.Errorf("expected no write once stopped, got %d", len(dst.writes))
	}

	return
}

func TestOpenFailureNamesEndpoint(t *testing.T) {
	var src = &fakeBus{}
	var dst = &fakeBus{openErr: errors.New("connection refused")}
	var b, _ = newTestBridge(src, dst, 4, 4)
	var err = b.Open()

	if err == nil {
		t.Fatalf("expected the open to fail")
	}
	if !strings.Contains(err.Error(), "dst") {
		t.Errorf("expected the endpoint name in the error, got %v", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected the transport error text in the error, got %v", err)
	}
	if !src.closed {
		t.Errorf("expected the already opened endpoint to be closed again")
	}

	return
}

func TestShutdownDrainsWorkers(t *testing.T) {
	var src = &fakeBus{regs: []uint16{1, 2, 3, 4}, delay: time.Millisecond}
	var dst = &fakeBus{regs: []uint16{5, 6, 7, 8}, delay: time.Millisecond}
	var b, out = newTestBridge(src, dst, 4, 4)

	b.Start()
	time.Sleep(50 * time.Millisecond)
	b.Stop()

	var code = b.Shutdown()
	if code != 0 {
		t.Errorf("expected exit code 0 on a clean run, got %d", code)
	}
	if n := b.workers.Load(); n != 0 {
		t.Errorf("expected all workers drained, still %d running", n)
	}
	if !src.closed || !dst.closed {
		t.Errorf("expected both endpoints closed")
	}
	if strings.Contains(out.String(), "not closed properly") {
		t.Errorf("did not expect the unclean shutdown warning, got %q", out.String())
	}

	// the statistics block is printed exactly once, even if Shutdown is
	// called again
	b.Shutdown()
	if n := strings.Count(out.String(), "statistics"); n != 1 {
		t.Errorf("expected exactly 1 statistics block, got %d", n)
	}
	if b.stats.Tx() == 0 || b.stats.Rx() != b.stats.Tx() {
		t.Errorf("expected a clean run, got tx=%d rx=%d errors=%d",
			b.stats.Tx(), b.stats.Rx(), b.stats.Errors())
	}

	return
}

func TestShutdownExitCodeTracksErrors(t *testing.T) {
	var src = &fakeBus{
		regs:     []uint16{1, 2, 3, 4},
		readErrs: []error{errors.New("request timed out")},
	}
	var dst = &fakeBus{}
	var b, _ = newTestBridge(src, dst, 4, 4)

	b.running.Store(true)
	b.relayCycle(b.pipelines[0])
	b.Stop()

	if code := b.Shutdown(); code != 1 {
		t.Errorf("expected exit code 1 after an error, got %d", code)
	}

	return
}
