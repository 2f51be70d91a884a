package model

import (
	"bytes"
	"fmt"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	subtreepkg "github.com/bsv-blockchain/go-subtree"
	"github.com/goldcoin/popnode/errors"
)

type Block struct {
	Header       *BlockHeader
	Transactions []*bt.Tx

	// Height is not serialized, it is set from the block index.
	Height uint32

	// local
	hash *chainhash.Hash
}

func NewBlock(header *BlockHeader, txs []*bt.Tx, height uint32) *Block {
	return &Block{
		Header:       header,
		Transactions: txs,
		Height:       height,
	}
}

func NewBlockFromBytes(blockBytes []byte) (*Block, error) {
	r := bytes.NewReader(blockBytes)

	header, _, err := readBlockHeader(r)
	if err != nil {
		return nil, err
	}

	txCount, err := readVarInt(r)
	if err != nil {
		return nil, errors.NewProcessingError("error reading transaction count", err)
	}

	if txCount > uint64(r.Len()) {
		return nil, errors.NewProcessingError("transaction count %d exceeds block size", txCount)
	}

	block := &Block{
		Header:       header,
		Transactions: make([]*bt.Tx, 0, txCount),
	}

	rest := blockBytes[len(blockBytes)-r.Len():]

	for i := uint64(0); i < txCount; i++ {
		tx, used, err := bt.NewTxFromStream(rest)
		if err != nil {
			return nil, errors.NewProcessingError("error reading transaction %d", i, err)
		}

		block.Transactions = append(block.Transactions, tx)
		rest = rest[used:]
	}

	if len(rest) != 0 {
		return nil, errors.NewProcessingError("%d trailing bytes after transactions", len(rest))
	}

	return block, nil
}

func (b *Block) Hash() *chainhash.Hash {
	if b.hash != nil {
		return b.hash
	}

	b.hash = b.Header.Hash()

	return b.hash
}

// ResetHash drops the cached hash after the header was modified.
func (b *Block) ResetHash() {
	b.hash = nil
}

func (b *Block) String() string {
	return fmt.Sprintf("%s (height %d, %d txs)", b.Hash(), b.Height, len(b.Transactions))
}

func (b *Block) CoinbaseTx() *bt.Tx {
	if len(b.Transactions) == 0 {
		return nil
	}

	return b.Transactions[0]
}

func (b *Block) Bytes() []byte {
	buf := b.Header.Bytes()
	buf = append(buf, bt.VarInt(uint64(len(b.Transactions))).Bytes()...)

	for _, tx := range b.Transactions {
		buf = append(buf, tx.Bytes()...)
	}

	return buf
}

// Size is the serialized size of the block in bytes.
func (b *Block) Size() uint64 {
	size := uint64(len(b.Header.Bytes()))
	size += uint64(len(bt.VarInt(uint64(len(b.Transactions))).Bytes()))

	for _, tx := range b.Transactions {
		size += uint64(tx.Size())
	}

	return size
}

// CoinbaseValue is the total output value of the coinbase transaction.
func (b *Block) CoinbaseValue() uint64 {
	cb := b.CoinbaseTx()
	if cb == nil {
		return 0
	}

	return cb.TotalOutputSatoshis()
}

func (b *Block) CheckMerkleRoot() error {
	root, err := BuildMerkleRoot(b.Transactions)
	if err != nil {
		return err
	}

	if b.Header.HashMerkleRoot == nil || !b.Header.HashMerkleRoot.IsEqual(root) {
		return errors.NewBlockInvalidError("merkle root does not match")
	}

	return nil
}

// BuildMerkleRoot computes the merkle root of txs in block order.
func BuildMerkleRoot(txs []*bt.Tx) (*chainhash.Hash, error) {
	if len(txs) == 0 {
		return nil, errors.NewBlockInvalidError("block has no transactions")
	}

	hashes := make([]chainhash.Hash, len(txs))
	for i, tx := range txs {
		hashes[i] = *tx.TxIDChainHash()
	}

	return calculateMerkleRoot(hashes)
}

func calculateMerkleRoot(hashes []chainhash.Hash) (*chainhash.Hash, error) {
	if len(hashes) == 1 {
		root := hashes[0]
		return &root, nil
	}

	st, err := subtreepkg.NewIncompleteTreeByLeafCount(len(hashes))
	if err != nil {
		return nil, err
	}

	for _, hash := range hashes {
		if err = st.AddNode(hash, 1, 0); err != nil {
			return nil, err
		}
	}

	calculatedMerkleRoot := st.RootHash()

	return chainhash.NewHash(calculatedMerkleRoot[:])
}
