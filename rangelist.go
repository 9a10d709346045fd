package mbbridge

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseIntList expands a compact integer list such as "1,3:5,0x10" into an
// explicit ordered slice. A single token contributes its value once, in the
// position it appears. A range token A:B contributes every integer from
// min(A,B) to max(A,B) inclusive, ascending, whichever way round the bounds
// are written. Literals follow C conventions: decimal, 0x-prefixed hex or
// 0-prefixed octal, with an optional sign.
//
// The input is walked twice: a first pass validates the syntax and computes
// the exact output length without allocating, then a second identical walk
// fills a slice sized to that length, so the output never regrows. Malformed
// input aborts the whole parse with no partial result.
func ParseIntList(in string) (out []int, err error) {
	var n int

	n, err = scanIntList(in, nil)
	if err != nil {
		return
	}

	out = make([]int, 0, n)
	_, err = scanIntList(in, func(v int) {
		out = append(out, v)
	})

	return
}

// scanIntList walks the comma separated token list, returning the number of
// integers the list expands to. When emit is non-nil it is called once per
// expanded integer, in output order.
func scanIntList(in string, emit func(int)) (n int, err error) {
	var pos int
	var count int

	if len(in) == 0 {
		return
	}

	for {
		var tok string
		var sep int

		sep = strings.IndexByte(in[pos:], ',')
		if sep < 0 {
			tok = in[pos:]
		} else {
			tok = in[pos : pos+sep]
		}

		count, err = scanIntToken(tok, emit)
		if err != nil {
			n = 0
			return
		}
		n += count

		if sep < 0 {
			break
		}
		pos += sep + 1
	}

	return
}

// scanIntToken handles one token, either a single literal or a first:last
// range with at most one colon.
func scanIntToken(tok string, emit func(int)) (n int, err error) {
	var first int64
	var last int64
	var colon int

	colon = strings.IndexByte(tok, ':')
	if colon < 0 {
		first, err = strconv.ParseInt(tok, 0, 0)
		if err != nil {
			err = fmt.Errorf("invalid integer '%s' in list", tok)
			return
		}

		n = 1
		if emit != nil {
			emit(int(first))
		}
		return
	}

	if strings.IndexByte(tok[colon+1:], ':') >= 0 {
		err = fmt.Errorf("more than one ':' in range '%s'", tok)
		return
	}

	first, err = strconv.ParseInt(tok[:colon], 0, 0)
	if err != nil {
		err = fmt.Errorf("invalid integer '%s' in range '%s'", tok[:colon], tok)
		return
	}

	last, err = strconv.ParseInt(tok[colon+1:], 0, 0)
	if err != nil {
		err = fmt.Errorf("invalid integer '%s' in range '%s'", tok[colon+1:], tok)
		return
	}

	// ranges are normalized: either bound may come first in the source text
	if first > last {
		first, last = last, first
	}

	n = int(last-first) + 1
	if emit != nil {
		for v := first; v <= last; v++ {
			emit(int(v))
		}
	}

	return
}
