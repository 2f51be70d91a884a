package model

import (
	"encoding/binary"
	"fmt"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/goldcoin/popnode/errors"
)

// OutpointSize is the serialized size of an Outpoint.
const OutpointSize = chainhash.HashSize + 4

// Outpoint references a transaction output.
type Outpoint struct {
	TxID  chainhash.Hash
	Index uint32
}

func NewOutpoint(txID *chainhash.Hash, index uint32) Outpoint {
	return Outpoint{TxID: *txID, Index: index}
}

func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID.String(), o.Index)
}

func (o Outpoint) Bytes() []byte {
	b := make([]byte, OutpointSize)
	copy(b, o.TxID[:])
	binary.LittleEndian.PutUint32(b[chainhash.HashSize:], o.Index)

	return b
}

func NewOutpointFromBytes(b []byte) (Outpoint, error) {
	if len(b) != OutpointSize {
		return Outpoint{}, errors.NewProcessingError("outpoint should be %d bytes, got %d", OutpointSize, len(b))
	}

	var o Outpoint

	copy(o.TxID[:], b[:chainhash.HashSize])
	o.Index = binary.LittleEndian.Uint32(b[chainhash.HashSize:])

	return o, nil
}

// UTXO is an unspent transaction output.
type UTXO struct {
	Outpoint   Outpoint
	Value      uint64
	Script     []byte
	Height     uint32
	IsCoinbase bool
}

// Confirmations is the number of blocks that include or build on the UTXO's block, as seen
// from a block at height.
func (u *UTXO) Confirmations(height uint32) uint32 {
	if height < u.Height {
		return 0
	}

	return height - u.Height + 1
}

// IsMature reports whether the UTXO can be spent by a transaction in a block at height.
func (u *UTXO) IsMature(height uint32, coinbaseMaturity uint32) bool {
	if !u.IsCoinbase {
		return true
	}

	return height >= u.Height && height-u.Height >= coinbaseMaturity
}

// Bytes serializes the UTXO as txid | index | value | height | flags | script.
func (u *UTXO) Bytes() []byte {
	b := make([]byte, 0, OutpointSize+17+len(u.Script))
	b = append(b, u.Outpoint.Bytes()...)
	b = binary.LittleEndian.AppendUint64(b, u.Value)
	b = binary.LittleEndian.AppendUint32(b, u.Height)

	var flags byte
	if u.IsCoinbase {
		flags = 1
	}

	b = append(b, flags)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(u.Script)))
	b = append(b, u.Script...)

	return b
}

func NewUTXOFromBytes(b []byte) (*UTXO, int, error) {
	const fixed = OutpointSize + 8 + 4 + 1 + 4
	if len(b) < fixed {
		return nil, 0, errors.NewProcessingError("utxo record too short: %d bytes", len(b))
	}

	outpoint, err := NewOutpointFromBytes(b[:OutpointSize])
	if err != nil {
		return nil, 0, err
	}

	off := OutpointSize
	u := &UTXO{Outpoint: outpoint}
	u.Value = binary.LittleEndian.Uint64(b[off:])
	off += 8
	u.Height = binary.LittleEndian.Uint32(b[off:])
	off += 4
	u.IsCoinbase = b[off] == 1
	off++

	scriptLen := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4

	if len(b)-off < scriptLen {
		return nil, 0, errors.NewProcessingError("utxo script truncated: want %d bytes, have %d", scriptLen, len(b)-off)
	}

	u.Script = append([]byte(nil), b[off:off+scriptLen]...)

	return u, off + scriptLen, nil
}

// UndoRecord holds everything needed to disconnect a block: the UTXOs it spent, in the
// order they were spent.
type UndoRecord struct {
	BlockHash chainhash.Hash
	Spent     []*UTXO
}

func (u *UndoRecord) Bytes() []byte {
	b := make([]byte, 0, chainhash.HashSize+4+len(u.Spent)*64)
	b = append(b, u.BlockHash[:]...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(u.Spent)))

	for _, s := range u.Spent {
		b = append(b, s.Bytes()...)
	}

	return b
}

func NewUndoRecordFromBytes(b []byte) (*UndoRecord, error) {
	if len(b) < chainhash.HashSize+4 {
		return nil, errors.NewProcessingError("undo record too short: %d bytes", len(b))
	}

	u := &UndoRecord{}
	copy(u.BlockHash[:], b[:chainhash.HashSize])

	count := binary.LittleEndian.Uint32(b[chainhash.HashSize:])
	rest := b[chainhash.HashSize+4:]

	u.Spent = make([]*UTXO, 0, count)

	for i := uint32(0); i < count; i++ {
		utxo, n, err := NewUTXOFromBytes(rest)
		if err != nil {
			return nil, errors.NewProcessingError("undo record entry %d", i, err)
		}

		u.Spent = append(u.Spent, utxo)
		rest = rest[n:]
	}

	return u, nil
}
