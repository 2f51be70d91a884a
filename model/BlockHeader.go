package model

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"io"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/goldcoin/popnode/errors"
)

const (
	// BlockHeaderBaseSize is the size of the proof-of-work part of a header.
	BlockHeaderBaseSize = 80

	// LotteryProofSize is the size of the lottery proof carried by a PoP header.
	LotteryProofSize = 64

	// ProducerPubKeySize is the size of the compressed producer key of a PoP header.
	ProducerPubKeySize = 33
)

type BlockHeader struct {
	// Version of the block.  This is not the same as the protocol version.
	Version uint32

	// Hash of the previous block header in the blockchain.
	HashPrevBlock *chainhash.Hash

	// Merkle tree reference to hash of all transactions for the block.
	HashMerkleRoot *chainhash.Hash

	// Time the block was created in unix time.
	Timestamp uint32

	// Difficulty target for the block, compact form.
	Bits uint32

	// Nonce used to generate the block.
	Nonce uint32

	// ProducerPubKey is the compressed public key of the lottery winner. Empty on PoW blocks.
	ProducerPubKey []byte

	// LotteryProof is the proof of the winning lottery ticket. Empty on PoW blocks.
	LotteryProof []byte

	// Signature by the producer over Hash(). Not part of the hash.
	Signature []byte
}

func NewBlockHeaderFromBytes(headerBytes []byte) (*BlockHeader, error) {
	header, _, err := readBlockHeader(bytes.NewReader(headerBytes))

	return header, err
}

func NewBlockHeaderFromString(headerHex string) (*BlockHeader, error) {
	headerBytes, err := hex.DecodeString(headerHex)
	if err != nil {
		return nil, errors.NewProcessingError("error decoding hex string to bytes", err)
	}

	return NewBlockHeaderFromBytes(headerBytes)
}

func readBlockHeader(r *bytes.Reader) (*BlockHeader, int, error) {
	start := r.Len()

	base := make([]byte, BlockHeaderBaseSize)
	if _, err := io.ReadFull(r, base); err != nil {
		return nil, 0, errors.NewProcessingError("block header should be at least %d bytes long", BlockHeaderBaseSize, err)
	}

	hashPrevBlock, err := chainhash.NewHash(base[4:36])
	if err != nil {
		return nil, 0, errors.NewProcessingError("error creating previous block hash from bytes", err)
	}

	hashMerkleRoot, err := chainhash.NewHash(base[36:68])
	if err != nil {
		return nil, 0, errors.NewProcessingError("error creating merkle root hash from bytes", err)
	}

	header := &BlockHeader{
		Version:        binary.LittleEndian.Uint32(base[:4]),
		HashPrevBlock:  hashPrevBlock,
		HashMerkleRoot: hashMerkleRoot,
		Timestamp:      binary.LittleEndian.Uint32(base[68:72]),
		Bits:           binary.LittleEndian.Uint32(base[72:76]),
		Nonce:          binary.LittleEndian.Uint32(base[76:80]),
	}

	if header.ProducerPubKey, err = readVarBytes(r); err != nil {
		return nil, 0, errors.NewProcessingError("error reading producer public key", err)
	}

	if header.LotteryProof, err = readVarBytes(r); err != nil {
		return nil, 0, errors.NewProcessingError("error reading lottery proof", err)
	}

	if header.Signature, err = readVarBytes(r); err != nil {
		return nil, 0, errors.NewProcessingError("error reading producer signature", err)
	}

	return header, start - r.Len(), nil
}

// Hash is the double SHA-256 of the header without the signature.
func (bh *BlockHeader) Hash() *chainhash.Hash {
	hash := chainhash.DoubleHashH(bh.hashBytes())
	return &hash
}

// IsPoP reports whether the header carries participation fields.
func (bh *BlockHeader) IsPoP() bool {
	return len(bh.ProducerPubKey) > 0 || len(bh.LotteryProof) > 0
}

func (bh *BlockHeader) baseBytes() []byte {
	b := make([]byte, BlockHeaderBaseSize)

	binary.LittleEndian.PutUint32(b[0:4], bh.Version)

	if bh.HashPrevBlock != nil {
		copy(b[4:36], bh.HashPrevBlock[:])
	}

	if bh.HashMerkleRoot != nil {
		copy(b[36:68], bh.HashMerkleRoot[:])
	}

	binary.LittleEndian.PutUint32(b[68:72], bh.Timestamp)
	binary.LittleEndian.PutUint32(b[72:76], bh.Bits)
	binary.LittleEndian.PutUint32(b[76:80], bh.Nonce)

	return b
}

func (bh *BlockHeader) hashBytes() []byte {
	b := bh.baseBytes()
	if !bh.IsPoP() {
		return b
	}

	b = appendVarBytes(b, bh.ProducerPubKey)
	b = appendVarBytes(b, bh.LotteryProof)

	return b
}

// Bytes serializes the full header including the participation fields and signature.
func (bh *BlockHeader) Bytes() []byte {
	b := bh.baseBytes()
	b = appendVarBytes(b, bh.ProducerPubKey)
	b = appendVarBytes(b, bh.LotteryProof)
	b = appendVarBytes(b, bh.Signature)

	return b
}

func (bh *BlockHeader) String() string {
	return bh.Hash().String()
}

func appendVarBytes(dst []byte, b []byte) []byte {
	dst = append(dst, bt.VarInt(uint64(len(b))).Bytes()...)
	return append(dst, b...)
}

func readVarBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readVarInt(r)
	if err != nil {
		return nil, err
	}

	if n == 0 {
		return nil, nil
	}

	if n > uint64(r.Len()) {
		return nil, errors.NewProcessingError("length %d exceeds remaining %d bytes", n, r.Len())
	}

	b := make([]byte, n)
	if _, err = io.ReadFull(r, b); err != nil {
		return nil, err
	}

	return b, nil
}

func readVarInt(r *bytes.Reader) (uint64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, err
	}

	var size int

	switch first {
	case 0xfd:
		size = 2
	case 0xfe:
		size = 4
	case 0xff:
		size = 8
	default:
		return uint64(first), nil
	}

	buf := make([]byte, 8)
	if _, err = io.ReadFull(r, buf[:size]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(buf), nil
}
