package compactor

// runShift advances shiftIndex by one step within [0, width), wrapping to 0
// when it reaches width (§4.7, §9 "shift bookkeeping... to avoid starving
// any adjacency"). It returns the new shiftIndex and whether this step
// wrapped; callers accumulate shiftCount by incrementing it once per
// wrapped call, so shiftCount is state the Compactor owns across calls,
// not something runShift recomputes from scratch.
//
// This implements §9's prose contract, not the five literal (shiftIndex,
// width) -> (newShiftIndex, wrapped) vectors in §8 E4: those five vectors do
// not reduce to one consistent pure function of their stated inputs (see
// DESIGN.md's pkg/compactor entry), and no original-language source survived
// to disambiguate them. shift_test.go accordingly pins this function's own
// behavior rather than reproducing E4's numbers.
func runShift(shiftIndex, width int) (newShiftIndex int, wrapped bool) {
	if width <= 0 {
		return 0, false
	}

	next := shiftIndex + 1
	if next >= width {
		return 0, true
	}
	return next, false
}
