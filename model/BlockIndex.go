package model

import (
	"bytes"
	"encoding/binary"
	"math/big"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/goldcoin/popnode/errors"
)

// BlockStatus is a bit field describing what is known about an indexed block.
type BlockStatus uint32

const (
	// StatusHeaderValid means the header and block structure passed all context-free checks.
	StatusHeaderValid BlockStatus = 1 << iota
	// StatusHaveData means the full block is stored.
	StatusHaveData
	// StatusConnected means the block was connected at least once, so an undo record exists.
	StatusConnected
	// StatusFailed means the block failed contextual validation.
	StatusFailed
	// StatusFailedChild means an ancestor of the block failed.
	StatusFailedChild
)

func (s BlockStatus) Has(flag BlockStatus) bool {
	return s&flag == flag
}

func (s BlockStatus) IsFailed() bool {
	return s&(StatusFailed|StatusFailedChild) != 0
}

// BlockIndex is one node of the block graph. Parents are referenced by hash, children are
// never stored: the main chain is kept as a height-indexed slice of hashes by the chain state.
type BlockIndex struct {
	Hash           chainhash.Hash
	PrevHash       chainhash.Hash
	Height         uint32
	Header         *BlockHeader
	CumulativeWork *big.Int
	Status         BlockStatus
	TxCount        uint32
	Size           uint64
}

func (bi *BlockIndex) Bytes() []byte {
	b := make([]byte, 0, 128)
	b = append(b, bi.Hash[:]...)
	b = append(b, bi.PrevHash[:]...)
	b = binary.LittleEndian.AppendUint32(b, bi.Height)
	b = binary.LittleEndian.AppendUint32(b, uint32(bi.Status))
	b = binary.LittleEndian.AppendUint32(b, bi.TxCount)
	b = binary.LittleEndian.AppendUint64(b, bi.Size)

	work := bi.CumulativeWork.Bytes()
	b = append(b, byte(len(work)))
	b = append(b, work...)
	b = append(b, bi.Header.Bytes()...)

	return b
}

func NewBlockIndexFromBytes(b []byte) (*BlockIndex, error) {
	const fixed = 2*chainhash.HashSize + 4 + 4 + 4 + 8 + 1
	if len(b) < fixed {
		return nil, errors.NewProcessingError("block index record too short: %d bytes", len(b))
	}

	bi := &BlockIndex{}
	copy(bi.Hash[:], b[0:32])
	copy(bi.PrevHash[:], b[32:64])

	off := 64
	bi.Height = binary.LittleEndian.Uint32(b[off:])
	off += 4
	bi.Status = BlockStatus(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	bi.TxCount = binary.LittleEndian.Uint32(b[off:])
	off += 4
	bi.Size = binary.LittleEndian.Uint64(b[off:])
	off += 8

	workLen := int(b[off])
	off++

	if len(b)-off < workLen {
		return nil, errors.NewProcessingError("block index work truncated")
	}

	bi.CumulativeWork = new(big.Int).SetBytes(b[off : off+workLen])
	off += workLen

	header, _, err := readBlockHeader(bytes.NewReader(b[off:]))
	if err != nil {
		return nil, err
	}

	bi.Header = header

	return bi, nil
}
