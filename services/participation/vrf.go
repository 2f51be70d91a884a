package participation

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
)

// Seed derives the lottery seed of height from the previous block hash. Round counts the
// target block times elapsed since the previous block without a winner; round zero is the
// plain (previous hash, height) seed.
func Seed(prevHash *chainhash.Hash, height, round uint32) chainhash.Hash {
	b := make([]byte, 0, chainhash.HashSize+8)
	b = append(b, prevHash[:]...)
	b = binary.LittleEndian.AppendUint32(b, height)

	if round > 0 {
		b = binary.LittleEndian.AppendUint32(b, round)
	}

	return chainhash.DoubleHashH(b)
}

// VRF draws lottery tickets. Every eligible participant has the same target, whatever its
// stake above the minimum.
type VRF struct {
	target float64
}

func NewVRF(targetProbability float64) *VRF {
	return &VRF{target: targetProbability}
}

func (v *VRF) Target() float64 {
	return v.target
}

// ComputeLottery draws the ticket of pubKey for seed. The result depends on nothing else.
func (v *VRF) ComputeLottery(seed chainhash.Hash, pubKey []byte) (*model.LotteryResult, error) {
	if len(pubKey) == 0 {
		return nil, errors.NewInvalidArgumentError("empty participant key")
	}

	output := hashToTarget(seed, pubKey)

	proof := make([]byte, 0, model.LotteryProofSize)
	proof = append(proof, output[:]...)
	proof = append(proof, seed[:]...)

	return &model.LotteryResult{
		OutputHash:  output,
		Proof:       proof,
		IsWinner:    isWinningHash(output, v.target),
		Probability: v.target,
	}, nil
}

// VerifyLottery recomputes the ticket and requires the claimed proof to match it exactly.
func (v *VRF) VerifyLottery(proof []byte, seed chainhash.Hash, pubKey []byte) (*model.LotteryResult, error) {
	if len(proof) != model.LotteryProofSize {
		return nil, errors.NewInvalidLotteryError("lottery proof is %d bytes, expected %d", len(proof), model.LotteryProofSize)
	}

	result, err := v.ComputeLottery(seed, pubKey)
	if err != nil {
		return nil, errors.NewInvalidLotteryError("cannot recompute lottery", err)
	}

	if !bytes.Equal(result.Proof, proof) {
		return nil, errors.NewInvalidLotteryError("lottery proof does not match producer key and seed %s", seed)
	}

	return result, nil
}

func hashToTarget(seed chainhash.Hash, pubKey []byte) chainhash.Hash {
	h := sha256.New()
	h.Write(seed[:])
	h.Write(pubKey)

	var output chainhash.Hash

	copy(output[:], h.Sum(nil))

	return output
}

// isWinningHash reads the first 8 bytes of the output as a fraction of the uint64 range.
func isWinningHash(output chainhash.Hash, target float64) bool {
	value := binary.BigEndian.Uint64(output[:8])

	return float64(value)/float64(math.MaxUint64) < target
}
