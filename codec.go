package mbbridge

import (
	"fmt"
	"math"
)

type Format uint
type WordOrder uint

const (
	// register display formats
	FMT_UINT16  Format = 0 // unsigned 16-bit decimal
	FMT_INT16   Format = 1 // signed 16-bit decimal
	FMT_HEX16   Format = 2 // 16-bit hexadecimal
	FMT_TEXT    Format = 3 // two packed characters
	FMT_INT32   Format = 4 // signed 32-bit integer, two registers
	FMT_FLOAT32 Format = 5 // IEEE-754 float, two registers
	FMT_BOOL    Format = 6 // single bit (coil/discrete input)
)

const (
	HIGH_WORD_FIRST WordOrder = 0
	LOW_WORD_FIRST  WordOrder = 1
)

// ParseFormat maps a configuration string to a Format. Unknown formats are
// a configuration error: they are rejected here, before any polling starts,
// never defaulted at decode time.
func ParseFormat(in string) (f Format, err error) {
	switch in {
	case "uint16":
		f = FMT_UINT16
	case "int16":
		f = FMT_INT16
	case "hex":
		f = FMT_HEX16
	case "text":
		f = FMT_TEXT
	case "int32":
		f = FMT_INT32
	case "float32":
		f = FMT_FLOAT32
	case "bool", "bit":
		f = FMT_BOOL
	default:
		err = fmt.Errorf("unknown data format '%s' (should be one of uint16, int16, hex, text, int32, float32, bool)", in)
	}

	return
}

// ParseWordOrder maps a configuration string to a WordOrder.
func ParseWordOrder(in string) (wo WordOrder, err error) {
	switch in {
	case "highfirst", "hf":
		wo = HIGH_WORD_FIRST
	case "lowfirst", "lf":
		wo = LOW_WORD_FIRST
	default:
		err = fmt.Errorf("unknown word order '%s' (should be one of highfirst, hf, lowfirst, lf)", in)
	}

	return
}

func (f Format) String() (s string) {
	switch f {
	case FMT_UINT16:
		s = "16-bit unsigned integer"
	case FMT_INT16:
		s = "16-bit signed integer"
	case FMT_HEX16:
		s = "16-bit hexadecimal"
	case FMT_TEXT:
		s = "packed text"
	case FMT_INT32:
		s = "32-bit integer"
	case FMT_FLOAT32:
		s = "32-bit float"
	case FMT_BOOL:
		s = "single bit"
	default:
		s = fmt.Sprintf("unknown format (%d)", uint(f))
	}

	return
}

// WordWidth returns the number of 16-bit register words one value of this
// format occupies in a value buffer.
func (f Format) WordWidth() (words int) {
	switch f {
	case FMT_INT32, FMT_FLOAT32:
		words = 2
	default:
		words = 1
	}

	return
}

// BufferSize returns the value buffer length, in register words, needed to
// hold count values of this format. Bit formats pack one bit per stored
// word. The size is computed once, before any read or write takes place,
// and stays fixed for the lifetime of the pipeline.
func (f Format) BufferSize(count int) (words int) {
	words = count * f.WordWidth()

	return
}

// Decode interprets the register words at idx as a single value of this
// format and renders it for display. It returns the rendered value and the
// number of register words consumed. The format must have been validated
// beforehand: decoding an unknown format is a programming error.
func (f Format) Decode(regs []uint16, idx int, wo WordOrder) (out string, consumed int) {
	consumed = f.WordWidth()

	switch f {
	case FMT_UINT16:
		out = fmt.Sprintf("%d", regs[idx])
	case FMT_INT16:
		out = fmt.Sprintf("%d", int16(regs[idx]))
	case FMT_HEX16:
		out = fmt.Sprintf("0x%04x", regs[idx])
	case FMT_TEXT:
		out = string([]byte{byte(regs[idx] >> 8), byte(regs[idx])})
	case FMT_INT32:
		out = fmt.Sprintf("%d", int32(packWords(wo, regs[idx], regs[idx+1])))
	case FMT_FLOAT32:
		out = fmt.Sprintf("%g", math.Float32frombits(packWords(wo, regs[idx], regs[idx+1])))
	case FMT_BOOL:
		if regs[idx] != 0 {
			out = "1"
		} else {
			out = "0"
		}
	default:
		panic(fmt.Sprintf("decode of unvalidated format (%d)", uint(f)))
	}

	return
}

// packWords assembles two consecutive register words into a 32-bit pattern,
// buffer order (high word first), then corrects for the configured word
// order.
func packWords(wo WordOrder, hi uint16, lo uint16) (out uint32) {
	out = uint32(hi)<<16 | uint32(lo)
	if wo == LOW_WORD_FIRST {
		out = swapWords(out)
	}

	return
}

// swapWords exchanges the two 16-bit halves of a 32-bit pattern. The swap
// operates on the raw bit pattern, so it applies unchanged whether the
// pattern encodes an integer or a float.
func swapWords(in uint32) (out uint32) {
	out = in<<16 | in>>16

	return
}
