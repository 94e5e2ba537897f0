// Package txparse implements the address extractor (C1): given a raw
// transaction it recognises P2PKH inputs and outputs and returns the set
// of base58 addresses involved, spec.md §4.1.
package txparse

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/base58"
	"golang.org/x/crypto/ripemd160"

	"github.com/bsv-watch/address-tracker/internal/errs"
)

// Extraction is the result of parsing one transaction: every base58
// address the extractor found in a recognised input or output script.
type Extraction struct {
	TxID            string
	InputAddresses  []string
	OutputAddresses []string
	AllAddresses    []string
}

const (
	opPushData1 = 0x4c
	opPushData2 = 0x4d
	opPushData4 = 0x4e

	p2pkhScriptLen = 25
)

// ExtractHex decodes a hex-encoded raw transaction and extracts addresses.
func ExtractHex(hexStr string, network Network, maxSize int64) (*Extraction, error) {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex", errs.ErrMalformedTx)
	}
	return Extract(raw, network, maxSize)
}

// Extract parses raw transaction bytes and returns the addresses found in
// its P2PKH inputs and outputs, along with the computed txid.
func Extract(raw []byte, network Network, maxSize int64) (*Extraction, error) {
	if maxSize > 0 && int64(len(raw)) > maxSize {
		return nil, errs.ErrTxTooLarge
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty transaction", errs.ErrMalformedTx)
	}

	r := newByteReader(raw)

	if _, err := r.uint32LE(); err != nil { // version
		return nil, err
	}

	inCount, err := r.varInt()
	if err != nil {
		return nil, err
	}

	inputAddrs := make(map[string]struct{})
	for i := uint64(0); i < inCount; i++ {
		if _, err := r.take(32); err != nil { // prev txid
			return nil, err
		}
		if _, err := r.uint32LE(); err != nil { // prev index
			return nil, err
		}
		sigLen, err := r.varInt()
		if err != nil {
			return nil, err
		}
		sigScript, err := r.take(int(sigLen))
		if err != nil {
			return nil, err
		}
		if _, err := r.uint32LE(); err != nil { // sequence
			return nil, err
		}

		if addr, ok := addressFromScriptSig(sigScript, network); ok {
			inputAddrs[addr] = struct{}{}
		}
	}

	outCount, err := r.varInt()
	if err != nil {
		return nil, err
	}

	outputAddrs := make(map[string]struct{})
	for i := uint64(0); i < outCount; i++ {
		if _, err := r.uint64LE(); err != nil { // value
			return nil, err
		}
		pkLen, err := r.varInt()
		if err != nil {
			return nil, err
		}
		pkScript, err := r.take(int(pkLen))
		if err != nil {
			return nil, err
		}
		if addr, ok := addressFromPkScript(pkScript, network); ok {
			outputAddrs[addr] = struct{}{}
		}
	}

	if _, err := r.uint32LE(); err != nil { // locktime
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes after locktime", errs.ErrMalformedTx)
	}

	txid := computeTxID(raw)

	in := setToSortedSlice(inputAddrs)
	out := setToSortedSlice(outputAddrs)
	all := make(map[string]struct{}, len(inputAddrs)+len(outputAddrs))
	for a := range inputAddrs {
		all[a] = struct{}{}
	}
	for a := range outputAddrs {
		all[a] = struct{}{}
	}

	return &Extraction{
		TxID:            txid,
		InputAddresses:  in,
		OutputAddresses: out,
		AllAddresses:    setToSortedSlice(all),
	}, nil
}

// addressFromPkScript recognises the canonical P2PKH output template:
// OP_DUP OP_HASH160 <20 byte push> OP_EQUALVERIFY OP_CHECKSIG.
func addressFromPkScript(script []byte, network Network) (string, bool) {
	if len(script) != p2pkhScriptLen {
		return "", false
	}
	if script[0] != 0x76 || script[1] != 0xa9 || script[2] != 0x14 {
		return "", false
	}
	if script[23] != 0x88 || script[24] != 0xac {
		return "", false
	}
	hash160 := script[3:23]
	return base58.CheckEncode(hash160, byte(network)), true
}

// addressFromScriptSig recognises a standard P2PKH unlocking script:
// exactly two pushed items, <sig> then a 33-byte compressed pubkey.
func addressFromScriptSig(script []byte, network Network) (string, bool) {
	pushes, err := extractPushes(script)
	if err != nil || len(pushes) != 2 {
		return "", false
	}
	pubkeyBytes := pushes[1]
	if len(pubkeyBytes) != 33 {
		return "", false
	}
	if _, err := btcec.ParsePubKey(pubkeyBytes); err != nil {
		return "", false
	}
	hash := hash160(pubkeyBytes)
	return base58.CheckEncode(hash, byte(network)), true
}

// extractPushes walks a script consisting entirely of data-push opcodes
// and returns the pushed byte strings in order.
func extractPushes(script []byte) ([][]byte, error) {
	var pushes [][]byte
	pos := 0
	for pos < len(script) {
		op := script[pos]
		pos++
		var length int
		switch {
		case op >= 1 && op <= 0x4b:
			length = int(op)
		case op == opPushData1:
			if pos+1 > len(script) {
				return nil, fmt.Errorf("short PUSHDATA1")
			}
			length = int(script[pos])
			pos++
		case op == opPushData2:
			if pos+2 > len(script) {
				return nil, fmt.Errorf("short PUSHDATA2")
			}
			length = int(script[pos]) | int(script[pos+1])<<8
			pos += 2
		case op == opPushData4:
			if pos+4 > len(script) {
				return nil, fmt.Errorf("short PUSHDATA4")
			}
			length = int(script[pos]) | int(script[pos+1])<<8 | int(script[pos+2])<<16 | int(script[pos+3])<<24
			pos += 4
		default:
			return nil, fmt.Errorf("non-push opcode 0x%x", op)
		}
		if pos+length > len(script) {
			return nil, fmt.Errorf("push length exceeds script")
		}
		pushes = append(pushes, script[pos:pos+length])
		pos += length
	}
	return pushes, nil
}

func hash160(b []byte) []byte {
	sh := sha256.Sum256(b)
	r := ripemd160.New()
	r.Write(sh[:])
	return r.Sum(nil)
}

func computeTxID(raw []byte) string {
	first := sha256.Sum256(raw)
	second := sha256.Sum256(first[:])
	reversed := make([]byte, len(second))
	for i, b := range second {
		reversed[len(second)-1-i] = b
	}
	return hex.EncodeToString(reversed)
}

func setToSortedSlice(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	// Deterministic ordering makes persisted address lists and test
	// assertions stable without depending on map iteration order.
	sort.Strings(out)
	return out
}
