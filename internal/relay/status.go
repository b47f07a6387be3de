package relay

// Status codes returned across the host boundary.

type AssignResult uint32

const (
	AssignSuccess              AssignResult = 0
	AssignClientUnknown        AssignResult = 1
	AssignTargetChannelUnknown AssignResult = 2
)

// BroadcastStatus is the outcome of starting an audio or video broadcast.
type BroadcastStatus uint32

const (
	BroadcastOK            BroadcastStatus = 0
	BroadcastNoChannel     BroadcastStatus = 2
	BroadcastInvalidMode   BroadcastStatus = 3
	BroadcastInvalidStream BroadcastStatus = 4
	BroadcastConfigError   BroadcastStatus = 5
)

type ConfigStatus uint32

const (
	ConfigOK              ConfigStatus = 0
	ConfigInvalidMode     ConfigStatus = 1
	ConfigNoChannel       ConfigStatus = 2
	ConfigNotBroadcasting ConfigStatus = 3
)

type JoinResult uint32

const (
	JoinSuccess          JoinResult = 0
	JoinInvalidMode      JoinResult = 1
	JoinInvalidClient    JoinResult = 2
	JoinInvalidBroadcast JoinResult = 3
)

type StreamCountStatus uint32

const (
	StreamCountOK            StreamCountStatus = 0
	StreamCountInvalidClient StreamCountStatus = 1
)
