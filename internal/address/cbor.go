package address

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// auxiliaryData mirrors the CBOR map Solidity appends to runtime bytecode.
// Only the content-address fields are decoded; any other keys (e.g. "solc")
// are ignored.
type auxiliaryData struct {
	IPFS  []byte `cbor:"ipfs,omitempty"`
	Bzzr0 []byte `cbor:"bzzr0,omitempty"`
	Bzzr1 []byte `cbor:"bzzr1,omitempty"`
}

// minTailLength is the smallest legal tail: a 1-byte empty CBOR map plus the
// 2-byte length field.
const minTailLength = 3

// ExtractFromBytecode reads the trailing CBOR auxiliary block of Solidity
// runtime bytecode and returns the embedded metadata pointer.
//
// Layout: <CBOR object><uint16 length>. The last two bytes are read
// big-endian as length L; bytes [end-2-L, end-2) are parsed as CBOR.
// If more than one content-address field is present (should not happen in
// practice), ipfs is preferred over bzzr0 over bzzr1.
func ExtractFromBytecode(bytecode []byte) (SourceAddress, error) {
	if len(bytecode) < minTailLength {
		return SourceAddress{}, fmt.Errorf("address: bytecode too short for CBOR tail (%d bytes)", len(bytecode))
	}

	length := binary.BigEndian.Uint16(bytecode[len(bytecode)-2:])
	end := len(bytecode) - 2
	start := end - int(length)
	if start < 0 || int(length) == 0 {
		return SourceAddress{}, fmt.Errorf("address: invalid CBOR tail length %d for bytecode of %d bytes", length, len(bytecode))
	}

	var aux auxiliaryData
	if err := cbor.Unmarshal(bytecode[start:end], &aux); err != nil {
		return SourceAddress{}, fmt.Errorf("address: decode CBOR tail: %w", err)
	}

	switch {
	case len(aux.IPFS) > 0:
		return NewIPFS(aux.IPFS), nil
	case len(aux.Bzzr0) > 0:
		return NewBzzr(OriginBzzr0, aux.Bzzr0), nil
	case len(aux.Bzzr1) > 0:
		return NewBzzr(OriginBzzr1, aux.Bzzr1), nil
	default:
		return SourceAddress{}, fmt.Errorf("address: CBOR tail has no recognized content-address field")
	}
}
