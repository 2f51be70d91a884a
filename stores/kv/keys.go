package kv

import (
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/goldcoin/popnode/model"
)

// SchemaVersion is written under KeyVersion when a store is initialized.
const SchemaVersion uint32 = 1

var (
	PrefixTx         = []byte("tx:")
	PrefixBlockIndex = []byte("blockindex:")
	PrefixBlock      = []byte("block:")
	PrefixUndo       = []byte("undo:")
	PrefixUtxo       = []byte("utxo:")

	KeyBestChain = []byte("hashBestChain")
	KeyVersion   = []byte("version")
)

func prefixed(prefix []byte, suffix []byte) []byte {
	key := make([]byte, 0, len(prefix)+len(suffix))
	key = append(key, prefix...)

	return append(key, suffix...)
}

func KeyTx(hash *chainhash.Hash) []byte {
	return prefixed(PrefixTx, hash[:])
}

func KeyBlockIndex(hash *chainhash.Hash) []byte {
	return prefixed(PrefixBlockIndex, hash[:])
}

func KeyBlock(hash *chainhash.Hash) []byte {
	return prefixed(PrefixBlock, hash[:])
}

func KeyUndo(hash *chainhash.Hash) []byte {
	return prefixed(PrefixUndo, hash[:])
}

func KeyUtxo(outpoint model.Outpoint) []byte {
	return prefixed(PrefixUtxo, outpoint.Bytes())
}
