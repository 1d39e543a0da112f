// Package electrumx implements the ElectrumX TCP JSON-lines client and
// mainnet address→scripthash conversion (spec.md §6), grounded on
// original_source/nodes/electrumx.py and original_source/electrumx/.
package electrumx

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
)

// --- Base58Check --------------------------------------------------------

const b58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var b58Index [256]int8

func init() {
	for i := range b58Index {
		b58Index[i] = -1
	}
	for i, c := range b58Alphabet {
		b58Index[c] = int8(i)
	}
}

func base58Decode(s string) ([]byte, error) {
	num := new(big.Int)
	base := big.NewInt(58)
	for _, ch := range s {
		if ch > 255 || b58Index[ch] < 0 {
			return nil, fmt.Errorf("electrumx: invalid base58 character %q", ch)
		}
		num.Mul(num, base)
		num.Add(num, big.NewInt(int64(b58Index[ch])))
	}
	pad := 0
	for _, ch := range s {
		if ch == '1' {
			pad++
		} else {
			break
		}
	}
	body := num.Bytes()
	out := make([]byte, pad+len(body))
	copy(out[pad:], body)
	return out, nil
}

func hash256(b []byte) []byte {
	h1 := sha256.Sum256(b)
	h2 := sha256.Sum256(h1[:])
	return h2[:]
}

// Base58CheckDecode decodes a Base58Check-encoded address into its version
// byte and payload, verifying the trailing 4-byte checksum.
func Base58CheckDecode(addr string) (version byte, payload []byte, err error) {
	raw, err := base58Decode(addr)
	if err != nil {
		return 0, nil, err
	}
	if len(raw) < 5 {
		return 0, nil, fmt.Errorf("electrumx: base58check address too short")
	}
	body, checksum := raw[:len(raw)-4], raw[len(raw)-4:]
	want := hash256(body)[:4]
	for i := range checksum {
		if checksum[i] != want[i] {
			return 0, nil, fmt.Errorf("electrumx: base58check checksum mismatch")
		}
	}
	return body[0], body[1:], nil
}

// --- Bech32 / Bech32m ----------------------------------------------------

const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

var bech32Index [256]int8

func init() {
	for i := range bech32Index {
		bech32Index[i] = -1
	}
	for i, c := range bech32Charset {
		bech32Index[c] = int8(i)
	}
}

const (
	bech32Const  = 1
	bech32mConst = 0x2bc830a3
)

func bech32Polymod(values []int) int {
	generator := [5]int{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}
	chk := 1
	for _, v := range values {
		top := chk >> 25
		chk = ((chk & 0x1ffffff) << 5) ^ v
		for i := 0; i < 5; i++ {
			if (top>>uint(i))&1 != 0 {
				chk ^= generator[i]
			}
		}
	}
	return chk
}

func bech32HRPExpand(hrp string) []int {
	out := make([]int, 0, len(hrp)*2+1)
	for _, c := range hrp {
		out = append(out, int(c)>>5)
	}
	out = append(out, 0)
	for _, c := range hrp {
		out = append(out, int(c)&31)
	}
	return out
}

func bech32VerifyChecksum(hrp string, data []int, bech32m bool) bool {
	want := bech32Const
	if bech32m {
		want = bech32mConst
	}
	return bech32Polymod(append(bech32HRPExpand(hrp), data...)) == want
}

func bech32Decode(addr string) (hrp string, data []int, err error) {
	lower, upper := addr, addr
	lower = strings.ToLower(addr)
	upper = strings.ToUpper(addr)
	if addr != lower && addr != upper {
		return "", nil, fmt.Errorf("electrumx: mixed-case bech32 address")
	}
	addr = lower
	pos := strings.LastIndexByte(addr, '1')
	if pos < 1 || len(addr)-pos-1 < 6 {
		return "", nil, fmt.Errorf("electrumx: invalid bech32 separator/length")
	}
	hrp = addr[:pos]
	dataPart := addr[pos+1:]
	data = make([]int, 0, len(dataPart))
	for _, c := range dataPart {
		if c > 255 || bech32Index[c] < 0 {
			return "", nil, fmt.Errorf("electrumx: invalid bech32 character %q", c)
		}
		data = append(data, int(bech32Index[c]))
	}
	return hrp, data, nil
}

func convertBits(data []int, fromBits, toBits uint, pad bool) ([]byte, error) {
	acc, bits := 0, uint(0)
	maxv := (1 << toBits) - 1
	var out []byte
	for _, v := range data {
		if v < 0 || v>>fromBits != 0 {
			return nil, fmt.Errorf("electrumx: invalid value for convertbits")
		}
		acc = (acc << fromBits) | v
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, byte((acc>>bits)&maxv))
		}
	}
	if pad {
		if bits > 0 {
			out = append(out, byte((acc<<(toBits-bits))&maxv))
		}
	} else if bits >= fromBits || (acc<<(toBits-bits))&maxv != 0 {
		return nil, fmt.Errorf("electrumx: invalid padding in convertbits")
	}
	return out, nil
}

// SegwitDecode decodes a bech32 (SegWit v0) or bech32m (v1+/Taproot)
// address, returning its hrp, witness version, and witness program.
func SegwitDecode(addr string) (hrp string, witver int, program []byte, err error) {
	hrp, data, err := bech32Decode(addr)
	if err != nil {
		return "", 0, nil, err
	}
	if len(data) < 1 {
		return "", 0, nil, fmt.Errorf("electrumx: bech32 data too short")
	}
	witver = data[0]
	if witver > 16 {
		return "", 0, nil, fmt.Errorf("electrumx: invalid witness version %d", witver)
	}
	isM := witver != 0
	if !bech32VerifyChecksum(hrp, data, isM) {
		return "", 0, nil, fmt.Errorf("electrumx: bech32 checksum mismatch (wrong spec or corrupted address)")
	}
	if len(data) < 7 {
		return "", 0, nil, fmt.Errorf("electrumx: bech32 data too short for checksum")
	}
	prog5 := data[1 : len(data)-6]
	program, err = convertBits(prog5, 5, 8, false)
	if err != nil {
		return "", 0, nil, err
	}
	if len(program) < 2 || len(program) > 40 {
		return "", 0, nil, fmt.Errorf("electrumx: invalid witness program length %d", len(program))
	}
	if witver == 0 && len(program) != 20 && len(program) != 32 {
		return "", 0, nil, fmt.Errorf("electrumx: invalid v0 witness program length %d", len(program))
	}
	if witver == 1 && len(program) != 32 {
		return "", 0, nil, fmt.Errorf("electrumx: invalid v1 (taproot) witness program length %d", len(program))
	}
	return hrp, witver, program, nil
}

// --- scriptPubKey construction -------------------------------------------

func pushData(data []byte) ([]byte, error) {
	if len(data) >= 0x4c {
		return nil, fmt.Errorf("electrumx: data push too large for this minimal builder")
	}
	return append([]byte{byte(len(data))}, data...), nil
}

// ScriptPubKeyFromAddress builds the scriptPubKey for a mainnet-only
// Bitcoin address: legacy P2PKH/P2SH (Base58Check), or SegWit v0/Taproot
// v1 (bech32/bech32m).
func ScriptPubKeyFromAddress(address string) ([]byte, error) {
	address = strings.TrimSpace(address)

	if strings.HasPrefix(strings.ToLower(address), "bc1") {
		hrp, witver, prog, err := SegwitDecode(address)
		if err != nil {
			return nil, err
		}
		if hrp != "bc" {
			return nil, fmt.Errorf("electrumx: not a mainnet bech32 address (hrp=%q)", hrp)
		}
		push, err := pushData(prog)
		if err != nil {
			return nil, err
		}
		if witver == 0 {
			return append([]byte{0x00}, push...), nil
		}
		// OP_1..OP_16 are 0x51..0x60
		return append([]byte{byte(0x50 + witver)}, push...), nil
	}

	version, hash, err := Base58CheckDecode(address)
	if err != nil {
		return nil, err
	}
	switch {
	case version == 0x00 && len(hash) == 20:
		// P2PKH: OP_DUP OP_HASH160 <20> hash OP_EQUALVERIFY OP_CHECKSIG
		out := append([]byte{0x76, 0xa9, 0x14}, hash...)
		return append(out, 0x88, 0xac), nil
	case version == 0x05 && len(hash) == 20:
		// P2SH: OP_HASH160 <20> hash OP_EQUAL
		out := append([]byte{0xa9, 0x14}, hash...)
		return append(out, 0x87), nil
	default:
		return nil, fmt.Errorf("electrumx: unsupported or non-mainnet address format (version=0x%02x)", version)
	}
}

// AddressToScripthash converts a mainnet Bitcoin address into the
// little-endian SHA-256(scriptPubKey) hex string ElectrumX expects.
func AddressToScripthash(address string) (string, error) {
	spk, err := ScriptPubKeyFromAddress(address)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(spk)
	reversed := make([]byte, len(h))
	for i := range h {
		reversed[i] = h[len(h)-1-i]
	}
	return fmt.Sprintf("%x", reversed), nil
}
