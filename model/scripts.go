package model

import (
	"bytes"
	"encoding/binary"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/bscript"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/goldcoin/popnode/errors"
)

// StakeMarker tags a stake-lock output: <"GLDSTAKE"> OP_DROP <pubkey> OP_CHECKSIG.
var StakeMarker = []byte("GLDSTAKE")

const compressedPubKeyLen = 33

func NewStakeLockScript(pubKey []byte) (*bscript.Script, error) {
	if len(pubKey) != compressedPubKeyLen {
		return nil, errors.NewInvalidArgumentError("stake public key must be %d bytes, got %d", compressedPubKeyLen, len(pubKey))
	}

	s := &bscript.Script{}
	if err := s.AppendPushData(StakeMarker); err != nil {
		return nil, err
	}

	if err := s.AppendOpcodes(bscript.OpDROP); err != nil {
		return nil, err
	}

	if err := s.AppendPushData(pubKey); err != nil {
		return nil, err
	}

	if err := s.AppendOpcodes(bscript.OpCHECKSIG); err != nil {
		return nil, err
	}

	return s, nil
}

// ParseStakeLockScript returns the staker public key if script is a stake lock.
func ParseStakeLockScript(script []byte) ([]byte, bool) {
	markerLen := len(StakeMarker)
	if len(script) != 1+markerLen+1+1+compressedPubKeyLen+1 {
		return nil, false
	}

	if int(script[0]) != markerLen || !bytes.Equal(script[1:1+markerLen], StakeMarker) {
		return nil, false
	}

	off := 1 + markerLen
	if script[off] != bscript.OpDROP || script[off+1] != compressedPubKeyLen {
		return nil, false
	}

	off += 2
	if script[off+compressedPubKeyLen] != bscript.OpCHECKSIG {
		return nil, false
	}

	return append([]byte(nil), script[off:off+compressedPubKeyLen]...), true
}

// ParseP2PKScript returns the public key a pay-to-pubkey script pays to.
func ParseP2PKScript(script []byte) ([]byte, bool) {
	n := len(script)
	if n != compressedPubKeyLen+2 && n != 65+2 {
		return nil, false
	}

	if int(script[0]) != n-2 || script[n-1] != bscript.OpCHECKSIG {
		return nil, false
	}

	return append([]byte(nil), script[1:n-1]...), true
}

// ScriptOwner returns the key that controls script, for pay-to-pubkey and stake-lock
// scripts.
func ScriptOwner(script []byte) ([]byte, bool) {
	if pubKey, ok := ParseStakeLockScript(script); ok {
		return pubKey, true
	}

	return ParseP2PKScript(script)
}

// NewP2PKScript pays to a public key, used for producer rewards.
func NewP2PKScript(pubKey []byte) (*bscript.Script, error) {
	s := &bscript.Script{}
	if err := s.AppendPushData(pubKey); err != nil {
		return nil, err
	}

	if err := s.AppendOpcodes(bscript.OpCHECKSIG); err != nil {
		return nil, err
	}

	return s, nil
}

// NewCoinbaseTx creates a coinbase paying value to lockingScript. The height is pushed as
// the first item of the unlocking script so coinbase txids are unique per height.
func NewCoinbaseTx(height uint32, value uint64, lockingScript *bscript.Script, extra []byte) (*bt.Tx, error) {
	tx := bt.NewTx()

	unlocking := &bscript.Script{}

	heightBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(heightBytes, height)

	if err := unlocking.AppendPushData(heightBytes); err != nil {
		return nil, err
	}

	if len(extra) > 0 {
		if err := unlocking.AppendPushData(extra); err != nil {
			return nil, err
		}
	}

	input := &bt.Input{
		PreviousTxOutIndex: 0xffffffff,
		UnlockingScript:    unlocking,
		SequenceNumber:     0xffffffff,
	}

	if err := input.PreviousTxIDAdd(&chainhash.Hash{}); err != nil {
		return nil, err
	}

	tx.Inputs = append(tx.Inputs, input)
	tx.AddOutput(&bt.Output{
		Satoshis:      value,
		LockingScript: lockingScript,
	})

	return tx, nil
}

// ExtractCoinbaseHeight reads the height pushed by NewCoinbaseTx.
func ExtractCoinbaseHeight(tx *bt.Tx) (uint32, error) {
	if tx == nil || !tx.IsCoinbase() {
		return 0, errors.NewTxInvalidError("not a coinbase transaction")
	}

	if tx.Inputs[0].UnlockingScript == nil {
		return 0, errors.NewTxInvalidError("coinbase has no unlocking script")
	}

	script := *tx.Inputs[0].UnlockingScript
	if len(script) < 5 || script[0] != 4 {
		return 0, errors.NewTxInvalidError("coinbase does not start with a height push")
	}

	return binary.LittleEndian.Uint32(script[1:5]), nil
}
