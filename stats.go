package mbbridge

import (
	"sync/atomic"
)

type Mode uint

const (
	MODE_POLL   Mode = 0
	MODE_BRIDGE Mode = 1
)

// Stats accumulates frame counters for the lifetime of a run: one transmit
// tick per read or write attempt, one receive tick per fully successful
// transaction, one error tick for anything else. The counters are atomic
// fields on the scheduler's context object; they are zeroed at startup,
// reported once at shutdown and never reset.
type Stats struct {
	tx     atomic.Uint64
	rx     atomic.Uint64
	errors atomic.Uint64
}

func (s *Stats) Tx() (n uint64) {
	n = s.tx.Load()

	return
}

func (s *Stats) Rx() (n uint64) {
	n = s.rx.Load()

	return
}

func (s *Stats) Errors() (n uint64) {
	n = s.errors.Load()

	return
}

// LossPercent reports the frame loss percentage. Poll mode reports errors as
// a percentage of frames received; bridge mode reports the transmit/receive
// gap as a percentage of frames transmitted. The two historical formulas
// are intentionally kept distinct per mode.
func (s *Stats) LossPercent(mode Mode) (loss float64) {
	var tx = s.tx.Load()
	var rx = s.rx.Load()
	var errs = s.errors.Load()

	switch mode {
	case MODE_BRIDGE:
		if tx > 0 {
			loss = float64(tx-rx) * 100.0 / float64(tx)
		}
	default:
		if rx > 0 {
			loss = float64(errs) * 100.0 / float64(rx)
		}
	}

	return
}
