package media

// AudioSource produces the audio of one client stream. Events is closed once
// the source ended permanently.
type AudioSource interface {
	StreamID() uint32
	Events() <-chan AudioEvent
	Close()
}

type VideoSource interface {
	StreamID() uint32
	Events() <-chan VideoEvent
	RequestPLI()
	// SetBitrate limits the upstream encoder. Zero removes the limit.
	SetBitrate(bps uint32)
	Bitrate() uint32
	NotifyClientJoin(clientID uint32, data ClientData)
	NotifyClientLeave(clientID uint32, data ClientData)
	Close()
}

// AudioSink delivers audio to one receiving client. Send and the start/stop
// calls must not block. A closed Events channel means the underlying
// transport is gone; a nil channel never ends.
type AudioSink interface {
	OwnerID() uint32
	SendStart()
	Send(p AudioPacket)
	SendStop(reason StopReason)
	Events() <-chan SinkEvent
	// Close stops the sink with StopInternal and releases its transport
	// resources. It is safe to call more than once.
	Close()
}

type VideoSink interface {
	OwnerID() uint32
	OwnerData() ClientData
	SendStart()
	Send(p VideoPacket)
	SendStop(reason StopReason)
	Events() <-chan SinkEvent
	Close()
}
