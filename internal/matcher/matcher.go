// Package matcher implements the Matcher: the exact and metadata-stripped
// partial equality relations between on-chain and recompiled bytecode.
package matcher

import (
	"bytes"
	"encoding/binary"
)

// Result is the strongest relation that holds between two byte strings.
type Result int

const (
	None Result = iota
	Partial
	Perfect
)

func (r Result) String() string {
	switch r {
	case Perfect:
		return "perfect"
	case Partial:
		return "partial"
	default:
		return "none"
	}
}

// Match returns the strongest relation that holds between onChain (bytecode
// read from the chain) and recompiled (the Compiler Driver's output).
func Match(onChain, recompiled []byte) Result {
	if bytes.Equal(onChain, recompiled) {
		return Perfect
	}
	a, okA := strip(onChain)
	b, okB := strip(recompiled)
	if okA && okB && bytes.Equal(a, b) {
		return Partial
	}
	return None
}

// strip removes the trailing CBOR metadata section: the last two bytes are
// a big-endian length L; the stripped form drops those two bytes plus the
// preceding L bytes. A malformed tail (declared length exceeding the
// available bytes) is rejected by returning ok=false — it must never be
// silently treated as a match.
func strip(bytecode []byte) (stripped []byte, ok bool) {
	if len(bytecode) < 2 {
		return nil, false
	}
	length := binary.BigEndian.Uint16(bytecode[len(bytecode)-2:])
	end := len(bytecode) - 2
	start := end - int(length)
	if start < 0 || length == 0 {
		return nil, false
	}
	return bytecode[:start], true
}
