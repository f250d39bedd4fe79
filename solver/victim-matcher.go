package solver

import (
	"fmt"
	"math"

	"github.com/pattyshack/shrike/config"
)

type VictimExhaustedError struct {
	TargetOffset uint64
	Bit          int
	Sign         bool
}

func (err VictimExhaustedError) Error() string {
	sign := "+"
	if !err.Sign {
		sign = "-"
	}
	return fmt.Sprintf(
		"no unused victim frame matches target offset 0x%x bit %d%s "+
			"(do you have enough victims in the victim addresses file?)",
		err.TargetOffset,
		err.Bit,
		sign)
}

// Selects a victim frame for the block, best fit.  The block's target byte
// must land at or after its page origin, so only victims whose page offset
// exceeds the block's target offset are usable; among those, the one
// needing the least head padding (smallest E = frameOffset - targetOffset)
// wins, ties broken by scan order.  The winning frame is consumed: the
// loader does not support multiple victims in the same frame.
func (solver *Solver) findVictim(
	block *Block,
	bit int,
	sign bool,
) (int, int, error) {
	targetOffset := block.TargetVictim.TargetOffset
	if targetOffset >= config.PageSize {
		panic("target offset exceeds the page size")
	}

	best := int64(math.MaxInt64)
	retFrame := -1
	retIdx := -1
	for frameIdx, frame := range solver.victims.Frames {
		for idx := range frame {
			victim := &frame[idx]
			frameOffset := victim.Addr % config.PageSize
			e := int64(frameOffset) - int64(targetOffset)
			if e > 0 && e < best &&
				victim.Bit == bit && victim.Sign == sign &&
				!solver.frameUsed(victim.Addr/config.PageSize) {

				retFrame = frameIdx
				retIdx = idx
				best = e
			}
		}
	}

	if retFrame == -1 {
		return 0, 0, VictimExhaustedError{
			TargetOffset: targetOffset,
			Bit:          bit,
			Sign:         sign,
		}
	}

	victim := solver.victims.Victim(retFrame, retIdx)
	solver.used[victim.Addr/config.PageSize] = struct{}{}
	return retFrame, retIdx, nil
}

func (solver *Solver) frameUsed(frameNr uint64) bool {
	_, ok := solver.used[frameNr]
	return ok
}
