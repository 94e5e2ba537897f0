package txparse

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/bsv-watch/address-tracker/internal/errs"
)

// knownTestnetTx is scenario 1: a single P2PKH input spending to a single
// P2PKH output. Expected txid and addresses are the known values.
const knownTestnetTx = "01000000014f226ee6c5e75ea5528219c9e98ad372fcb5cd3c9ac300d1cd25680370903dd02e0000006b483045022100e27577999098d75ae8afc04cad0253a879ef052e2776ccd9e1b921d4339a08a102203c9291d9c32ca06799d53567cb05df2ab973f4281a0a2a4bb85066e9d6964aaa41210292acdb57c788c1e8c83cdb0ae8f23e079139ba7ba1bccf67b31653c7af12c4b4ffffffff0140860100000000001976a914be83350213ab6483e111f675268b5bbaba7cdcae88ac00000000"

const (
	wantTxID       = "f1a7b1854ba8ea120f9cd47db7a8ff190b5c5bc2385b01cbd8fcc5a9df8598c0"
	wantInputAddr  = "mnai8LzKea5e3C9qgrBo7JHgpiEnHKMhwR"
	wantOutputAddr = "mxtHrvoExpf55rts14HyyKeZc7FtwSoxY5"
)

func TestExtractKnownTestnetTx(t *testing.T) {
	ext, err := ExtractHex(knownTestnetTx, Testnet, 1_000_000)
	if err != nil {
		t.Fatalf("ExtractHex: %v", err)
	}

	if ext.TxID != wantTxID {
		t.Errorf("txid = %q, want %q", ext.TxID, wantTxID)
	}

	if len(ext.OutputAddresses) != 1 || ext.OutputAddresses[0] != wantOutputAddr {
		t.Errorf("output addresses = %v, want [%s]", ext.OutputAddresses, wantOutputAddr)
	}

	if len(ext.InputAddresses) != 1 || ext.InputAddresses[0] != wantInputAddr {
		t.Errorf("input addresses = %v, want [%s]", ext.InputAddresses, wantInputAddr)
	}

	if len(ext.AllAddresses) != 2 {
		t.Errorf("AllAddresses should union input and output sets, got %v", ext.AllAddresses)
	}
}

func TestExtractRejectsTruncated(t *testing.T) {
	raw, err := hex.DecodeString(knownTestnetTx)
	if err != nil {
		t.Fatal(err)
	}
	truncated := raw[:len(raw)-10]
	_, err = Extract(truncated, Testnet, int64(len(raw)))
	if !errors.Is(err, errs.ErrMalformedTx) {
		t.Fatalf("expected ErrMalformedTx, got %v", err)
	}
}

func TestExtractRejectsTrailingGarbage(t *testing.T) {
	raw, err := hex.DecodeString(knownTestnetTx)
	if err != nil {
		t.Fatal(err)
	}
	padded := append(append([]byte{}, raw...), 0x00, 0x01)
	_, err = Extract(padded, Testnet, int64(len(padded)))
	if !errors.Is(err, errs.ErrMalformedTx) {
		t.Fatalf("expected ErrMalformedTx, got %v", err)
	}
}

func TestExtractEnforcesMaxSize(t *testing.T) {
	raw, err := hex.DecodeString(knownTestnetTx)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Extract(raw, Testnet, int64(len(raw))); err != nil {
		t.Fatalf("exact-size tx should be accepted: %v", err)
	}

	_, err = Extract(raw, Testnet, int64(len(raw))-1)
	if !errors.Is(err, errs.ErrTxTooLarge) {
		t.Fatalf("expected ErrTxTooLarge, got %v", err)
	}
}

func TestExtractEmptyInput(t *testing.T) {
	_, err := Extract(nil, Mainnet, 1_000_000)
	if !errors.Is(err, errs.ErrMalformedTx) {
		t.Fatalf("expected ErrMalformedTx for empty input, got %v", err)
	}
}

func TestExtractHexInvalidHex(t *testing.T) {
	_, err := ExtractHex("not-hex", Mainnet, 1_000_000)
	if !errors.Is(err, errs.ErrMalformedTx) {
		t.Fatalf("expected ErrMalformedTx for bad hex, got %v", err)
	}
}

func TestExtractNonStandardOutputsSkipped(t *testing.T) {
	// version(4) + 0 inputs + 1 output (OP_RETURN data, not P2PKH) + locktime(4)
	raw := []byte{
		0x01, 0x00, 0x00, 0x00, // version
		0x00,                                           // input count
		0x01,                                           // output count
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // value
		0x02,       // script length
		0x6a, 0x00, // OP_RETURN OP_0
		0x00, 0x00, 0x00, 0x00, // locktime
	}
	ext, err := Extract(raw, Mainnet, 1_000_000)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(ext.OutputAddresses) != 0 {
		t.Errorf("OP_RETURN output should not yield an address, got %v", ext.OutputAddresses)
	}
}

func TestParseNetwork(t *testing.T) {
	if n, err := ParseNetwork("mainnet"); err != nil || n != Mainnet {
		t.Errorf("mainnet: got %v, %v", n, err)
	}
	if n, err := ParseNetwork("testnet"); err != nil || n != Testnet {
		t.Errorf("testnet: got %v, %v", n, err)
	}
	if _, err := ParseNetwork("regtest"); err == nil {
		t.Error("expected error for unknown network")
	}
}

func FuzzExtract(f *testing.F) {
	raw, _ := hex.DecodeString(knownTestnetTx)
	f.Add(raw)
	f.Add([]byte{})
	f.Add([]byte{0x01, 0x00, 0x00, 0x00})

	f.Fuzz(func(t *testing.T, data []byte) {
		_, err := Extract(data, Mainnet, 10_000_000)
		if err != nil && !errors.Is(err, errs.ErrMalformedTx) && !errors.Is(err, errs.ErrTxTooLarge) {
			t.Fatalf("unexpected error type: %v", err)
		}
	})
}
