package util

import (
	"math/big"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/goldcoin/popnode/errors"
)

var (
	bigOne = big.NewInt(1)

	// oneLsh256 is 1 shifted left 256 bits.
	oneLsh256 = new(big.Int).Lsh(bigOne, 256)
)

// CompactToBig converts the compact representation used in block headers to
// the target it encodes:
//
//	N = (-1^sign) * mantissa * 256^(exponent-3)
//
// with an 8 bit exponent, 1 sign bit and a 23 bit mantissa.
func CompactToBig(compact uint32) *big.Int {
	mantissa := compact & 0x007fffff
	isNegative := compact&0x00800000 != 0
	exponent := uint(compact >> 24)

	var bn *big.Int

	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		bn = big.NewInt(int64(mantissa))
	} else {
		bn = big.NewInt(int64(mantissa))
		bn.Lsh(bn, 8*(exponent-3))
	}

	if isNegative {
		bn = bn.Neg(bn)
	}

	return bn
}

// BigToCompact is the inverse of CompactToBig.  Only the 23 most significant
// bits of n are kept.
func BigToCompact(n *big.Int) uint32 {
	if n.Sign() == 0 {
		return 0
	}

	var mantissa uint32

	exponent := uint(len(n.Bytes()))
	if exponent <= 3 {
		//nolint:gosec // G115: at most 3 bytes
		mantissa = uint32(n.Bits()[0])
		mantissa <<= 8 * (3 - exponent)
	} else {
		tn := new(big.Int).Set(n)
		//nolint:gosec // G115: shifted down to 3 bytes
		mantissa = uint32(tn.Rsh(tn, 8*(exponent-3)).Bits()[0])
	}

	// the mantissa would be read back as negative
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	//nolint:gosec // G115: exponent fits in 8 bits for 256 bit targets
	compact := uint32(exponent<<24) | mantissa
	if n.Sign() < 0 {
		compact |= 0x00800000
	}

	return compact
}

// CalcWork returns the expected number of hashes needed to meet the target
// encoded by bits: 2^256 / (target + 1).
func CalcWork(bits uint32) *big.Int {
	target := CompactToBig(bits)
	if target.Sign() <= 0 {
		return big.NewInt(0)
	}

	return new(big.Int).Div(oneLsh256, new(big.Int).Add(target, bigOne))
}

// HashToBig interprets a block hash as a little endian 256 bit number.
func HashToBig(hash *chainhash.Hash) *big.Int {
	return new(big.Int).SetBytes(bt.ReverseBytes(hash.CloneBytes()))
}

// CheckProofOfWork verifies that hash meets the target encoded by bits and that
// the target is within (0, powLimit].
func CheckProofOfWork(hash *chainhash.Hash, bits uint32, powLimit *big.Int) error {
	target := CompactToBig(bits)
	if target.Sign() <= 0 {
		return errors.NewInvalidPoWError("target %08x is not positive", bits)
	}

	if target.Cmp(powLimit) > 0 {
		return errors.NewInvalidPoWError("target %08x is above the proof of work limit", bits)
	}

	if HashToBig(hash).Cmp(target) > 0 {
		return errors.NewInvalidPoWError("block hash %s is above target %08x", hash, bits)
	}

	return nil
}

// Difficulty is how many times harder the target encoded by bits is than the target
// encoded by powLimitBits.
func Difficulty(bits, powLimitBits uint32) float64 {
	target := CompactToBig(bits)
	if target.Sign() <= 0 {
		return 0
	}

	ratio, _ := new(big.Float).Quo(new(big.Float).SetInt(CompactToBig(powLimitBits)), new(big.Float).SetInt(target)).Float64()

	return ratio
}
