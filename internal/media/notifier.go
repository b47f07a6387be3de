package media

import "errors"

// BroadcastInfo describes one running video broadcast in a channel directory.
type BroadcastInfo struct {
	Mode       VideoMode
	ClientID   uint32
	ClientData ClientData
}

// Notifier is the table of host callbacks. It is handed to the relay once at
// construction. Implementations are invoked while relay locks are held and
// must not call back into the relay.
type Notifier interface {
	// StreamAssignment reports a sender slot being borrowed for a source.
	// A release is reported with MediaTypeAudio and a nil source.
	StreamAssignment(owner ClientData, streamID uint32, kind MediaType, source ClientData)
	StreamStart(owner ClientData, streamID uint32, source ClientData)
	StreamStop(owner ClientData, streamID uint32, source ClientData)
	// VideoJoin and VideoLeave report a viewer attaching to or leaving the
	// source client's video stream.
	VideoJoin(source ClientData, streamID uint32, viewer ClientData)
	VideoLeave(source ClientData, streamID uint32, viewer ClientData)
	VideoDirectory(recipients []ClientData, broadcasts []BroadcastInfo)
	AudioSenderData(owner ClientData, source ClientData, mode uint8, seq uint16, codec AudioCodec, payload []byte)
	WhisperSessionReset(owner ClientData)
	OfferGenerated(owner ClientData, sdp string)
	ICECandidate(owner ClientData, candidate string)
	// RTCConfigure runs before an rtc connection is handed out. An error
	// aborts the connection setup.
	RTCConfigure(owner ClientData) error
}

type NopNotifier struct{}

func (NopNotifier) StreamAssignment(ClientData, uint32, MediaType, ClientData)                {}
func (NopNotifier) StreamStart(ClientData, uint32, ClientData)                                {}
func (NopNotifier) StreamStop(ClientData, uint32, ClientData)                                 {}
func (NopNotifier) VideoJoin(ClientData, uint32, ClientData)                                  {}
func (NopNotifier) VideoLeave(ClientData, uint32, ClientData)                                 {}
func (NopNotifier) VideoDirectory([]ClientData, []BroadcastInfo)                              {}
func (NopNotifier) AudioSenderData(ClientData, ClientData, uint8, uint16, AudioCodec, []byte) {}
func (NopNotifier) WhisperSessionReset(ClientData)                                            {}
func (NopNotifier) OfferGenerated(ClientData, string)                                         {}
func (NopNotifier) ICECandidate(ClientData, string)                                           {}
func (NopNotifier) RTCConfigure(ClientData) error                                             { return nil }

// MultiNotifier fans every callback out to each member in order.
type MultiNotifier []Notifier

func (m MultiNotifier) StreamAssignment(owner ClientData, streamID uint32, kind MediaType, source ClientData) {
	for _, n := range m {
		n.StreamAssignment(owner, streamID, kind, source)
	}
}

func (m MultiNotifier) StreamStart(owner ClientData, streamID uint32, source ClientData) {
	for _, n := range m {
		n.StreamStart(owner, streamID, source)
	}
}

func (m MultiNotifier) StreamStop(owner ClientData, streamID uint32, source ClientData) {
	for _, n := range m {
		n.StreamStop(owner, streamID, source)
	}
}

func (m MultiNotifier) VideoJoin(source ClientData, streamID uint32, viewer ClientData) {
	for _, n := range m {
		n.VideoJoin(source, streamID, viewer)
	}
}

func (m MultiNotifier) VideoLeave(source ClientData, streamID uint32, viewer ClientData) {
	for _, n := range m {
		n.VideoLeave(source, streamID, viewer)
	}
}

func (m MultiNotifier) VideoDirectory(recipients []ClientData, broadcasts []BroadcastInfo) {
	for _, n := range m {
		n.VideoDirectory(recipients, broadcasts)
	}
}

func (m MultiNotifier) AudioSenderData(owner ClientData, source ClientData, mode uint8, seq uint16, codec AudioCodec, payload []byte) {
	for _, n := range m {
		n.AudioSenderData(owner, source, mode, seq, codec, payload)
	}
}

func (m MultiNotifier) WhisperSessionReset(owner ClientData) {
	for _, n := range m {
		n.WhisperSessionReset(owner)
	}
}

func (m MultiNotifier) OfferGenerated(owner ClientData, sdp string) {
	for _, n := range m {
		n.OfferGenerated(owner, sdp)
	}
}

func (m MultiNotifier) ICECandidate(owner ClientData, candidate string) {
	for _, n := range m {
		n.ICECandidate(owner, candidate)
	}
}

// RTCConfigure asks every member and joins their errors.
func (m MultiNotifier) RTCConfigure(owner ClientData) error {
	var errs []error
	for _, n := range m {
		if err := n.RTCConfigure(owner); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
