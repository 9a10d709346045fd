package mbbridge

import (
	"fmt"
	"time"
)

// pollTask describes the single endpoint polling mode: sweep the configured
// slave ids, read one block per slave and render it with the codec. The
// value buffer is sized once, before the first transaction, to
// format.BufferSize(count) words; bit reads store one bit per word.
type pollTask struct {
	ep         *endpoint
	slaves     []uint8
	reference  uint16
	count      uint16
	format     Format
	wordOrder  WordOrder
	bits       bool
	discrete   bool
	values     []uint16
	rate       time.Duration
	recoveries uint64 // touched only by the owning worker
}

func (b *Bridge) runPoll(t *pollTask) {
	b.workers.Add(1)
	defer b.workers.Add(-1)

	for b.running.Load() {
		b.pollCycle(t)
		if b.running.Load() {
			b.idle(t.rate)
		}
	}

	return
}

// pollCycle reads the configured block from every slave in turn. The target
// unit id is switched under the endpoint lock, right before the request. A
// failed read never aborts the run: it is counted, reported and followed by
// the auto-balancing pause, then the sweep moves on.
func (b *Bridge) pollCycle(t *pollTask) {
	for _, slave := range t.slaves {
		var err error
		var n int
		var want int
		var ok bool

		if !b.running.Load() {
			return
		}

		t.ep.lock.Lock()
		b.stats.tx.Add(1)
		err = t.ep.bus.SetUnitId(slave)
		if err == nil {
			if t.bits {
				n, want, err = t.readBits()
			} else {
				var values []uint16
				want = len(t.values)
				values, err = t.ep.bus.ReadRegisters(t.reference, uint16(want))
				n = copy(t.values, values)
			}
		} else {
			want = len(t.values)
		}
		t.ep.lock.Unlock()

		ok = b.classify(pollDirection(t.ep.name, slave), "read", n, want, err)
		if ok {
			b.display(t, slave)
		} else {
			t.recoveries++
			b.quiesce()
		}
	}

	return
}

// readBits reads count coils or discrete inputs and packs them into the
// value buffer, one bit per stored word. Caller holds the endpoint lock.
func (t *pollTask) readBits() (n int, want int, err error) {
	var bits []bool

	want = int(t.count)

	if t.discrete {
		bits, err = t.ep.bus.ReadDiscreteInputs(t.reference, t.count)
	} else {
		bits, err = t.ep.bus.ReadCoils(t.reference, t.count)
	}

	for i := range bits {
		if i >= len(t.values) {
			break
		}
		if bits[i] {
			t.values[i] = 1
		} else {
			t.values[i] = 0
		}
		n++
	}

	return
}

// display renders the freshly read block under the print lock, one line per
// reference. The reference cursor advances by the number of words each
// decode consumed, so 32-bit values land on every other reference.
func (b *Bridge) display(t *pollTask, slave uint8) {
	b.printLock.Lock()
	defer b.printLock.Unlock()

	b.logger.Printf("-- slave %d, %s, reference %d, count %d\n",
		slave, t.format, t.reference, t.count)

	var idx int
	for i := 0; i < int(t.count); i++ {
		var text string
		var consumed int

		text, consumed = t.format.Decode(t.values, idx, t.wordOrder)
		b.logger.Printf("[%d]:\t%s\n", int(t.reference)+idx, text)
		idx += consumed
	}

	return
}

func pollDirection(name string, slave uint8) (dir string) {
	dir = fmt.Sprintf("%s#%d", name, slave)

	return
}
