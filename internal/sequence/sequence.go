// Package sequence maps RTP sequence numbers and timestamps between the
// virtual numbering of a broadcast and the numbering of each peer.
package sequence

// Rebaser pins the first packet a sink forwards to the sink's own numbering
// and keeps every later packet at the same offset, so receivers see
// contiguous values across stream switches.
type Rebaser struct {
	pinned  bool
	baseSeq uint16
	baseTS  uint32
	virtSeq uint16
	virtTS  uint32
}

// Map converts a virtual sequence number and timestamp into the sink's
// numbering. nextSeq is the sequence number the sink would use next and
// lastTS the timestamp it sent last. Callers store seq+1 and ts afterwards.
func (r *Rebaser) Map(nextSeq uint16, lastTS uint32, virtSeq uint16, virtTS uint32) (seq uint16, ts uint32) {
	if !r.pinned {
		r.pinned = true
		r.baseSeq, r.virtSeq = nextSeq, virtSeq
		r.baseTS, r.virtTS = lastTS, virtTS
		return nextSeq, lastTS
	}

	return r.baseSeq + (virtSeq - r.virtSeq), r.baseTS + (virtTS - r.virtTS)
}

func (r *Rebaser) Pinned() bool {
	return r.pinned
}

func (r *Rebaser) Reset() {
	*r = Rebaser{}
}

// Normalizer turns the sequence numbers of an incoming stream into virtual
// ones starting at zero. The first packet seen pins the base, even if it
// arrived out of order.
type Normalizer struct {
	pinned bool
	base   uint16
}

func (n *Normalizer) Virtual(seq uint16) uint16 {
	if !n.pinned {
		n.pinned = true
		n.base = seq
	}
	return seq - n.base
}

func (n *Normalizer) Reset() {
	*n = Normalizer{}
}
