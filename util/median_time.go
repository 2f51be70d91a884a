package util

import (
	"slices"

	"github.com/goldcoin/popnode/errors"
)

// MedianTimeBlocks is the number of blocks, the tip included, whose timestamps make up
// the past median time.
const MedianTimeBlocks = 11

// CalcPastMedianTime returns the median of at most MedianTimeBlocks timestamps. With an
// even count the upper middle element is returned, as the consensus rules do.
// timestamps is sorted in place.
func CalcPastMedianTime(timestamps []int64) (int64, error) {
	if len(timestamps) == 0 {
		return 0, errors.NewProcessingError("no timestamps for median time calculation")
	}

	if len(timestamps) > MedianTimeBlocks {
		return 0, errors.NewProcessingError("too many timestamps for median time calculation: %d", len(timestamps))
	}

	slices.Sort(timestamps)

	return timestamps[len(timestamps)/2], nil
}
