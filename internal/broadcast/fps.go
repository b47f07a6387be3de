package broadcast

import "time"

const fpsSlots = 32

// fpsCounter counts marked frames per wall-clock second in a small ring.
// Slots skipped while no frames arrived are zeroed lazily.
type fpsCounter struct {
	base  time.Time
	sec   uint64
	slots [fpsSlots]uint32
}

func newFPSCounter(base time.Time) *fpsCounter {
	return &fpsCounter{base: base}
}

func (f *fpsCounter) advance(now time.Time) int {
	sec := uint64(elapsedSince(now, f.base) / time.Second)
	switch {
	case sec <= f.sec:
	case sec-f.sec >= fpsSlots:
		f.reset()
	default:
		for s := f.sec + 1; s <= sec; s++ {
			f.slots[s&(fpsSlots-1)] = 0
		}
	}
	if sec > f.sec {
		f.sec = sec
	}
	return int(f.sec & (fpsSlots - 1))
}

func (f *fpsCounter) logFrame(now time.Time) {
	idx := f.advance(now)
	f.slots[idx]++
}

// current returns the frame count of the last completed second.
func (f *fpsCounter) current(now time.Time) uint32 {
	idx := f.advance(now)
	return f.slots[(idx+fpsSlots-1)&(fpsSlots-1)]
}

func (f *fpsCounter) average() float64 {
	var sum, n uint32
	for _, v := range f.slots {
		if v > 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

func (f *fpsCounter) reset() {
	f.slots = [fpsSlots]uint32{}
}
