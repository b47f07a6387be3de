package dto

// RelayStatus carries the numeric status the relay returned for an
// operation. Zero is success.
type RelayStatus struct {
	Status uint32 `json:"status" example:"0"`
	Result string `json:"result,omitempty" example:"ok"`
}

type ChannelResponse struct {
	ChannelID uint32 `json:"channel_id" example:"1"`
}

type CreateClientRequest struct {
	Tag string `json:"tag" example:"alice"`
}

type ClientResponse struct {
	ClientID uint32 `json:"client_id" example:"7"`
	Tag      string `json:"tag" example:"alice"`
}

type AssignChannelRequest struct {
	ChannelID uint32 `json:"channel_id" example:"1"`
}

type OfferRequest struct {
	SDP string `json:"sdp"`
}

type AnswerResponse struct {
	SDP string `json:"sdp"`
}

type CandidateRequest struct {
	Candidate string `json:"candidate" example:"candidate:1 1 udp 2122260223 10.0.0.2 50000 typ host"`
	MediaLine uint16 `json:"sdp_mline_index" example:"0"`
}

type StreamCountResponse struct {
	Camera int `json:"camera" example:"2"`
	Screen int `json:"screen" example:"0"`
}

type BroadcastRequest struct {
	StreamID uint32 `json:"stream_id" example:"3735928559"`
}

type VideoBroadcastRequest struct {
	StreamID         uint32  `json:"stream_id" example:"3735928559"`
	Bitrate          *uint32 `json:"bitrate,omitempty" example:"1500000"`
	KeyframeInterval *uint32 `json:"keyframe_interval,omitempty" example:"7000"`
}

type VideoConfigRequest struct {
	Bitrate          *uint32 `json:"bitrate,omitempty" example:"1500000"`
	KeyframeInterval *uint32 `json:"keyframe_interval,omitempty" example:"7000"`
}

type VideoConfigResponse struct {
	Bitrate          uint32 `json:"bitrate" example:"1500000"`
	KeyframeInterval uint32 `json:"keyframe_interval" example:"7000"`
}

type WhisperRequest struct {
	StreamID uint32   `json:"stream_id" example:"3735928559"`
	Targets  []uint32 `json:"targets" example:"2,3"`
}

type TokenRequest struct {
	Room string `json:"room,omitempty" example:"channel-1"`
}

type TokenResponse struct {
	Token string `json:"token"`
	URL   string `json:"url,omitempty" example:"wss://media.example.com"`
}

type BroadcastRecordResponse struct {
	ID        string  `json:"id" example:"brd_01HZX"`
	ChannelID uint32  `json:"channel_id" example:"1"`
	ClientID  uint32  `json:"client_id" example:"7"`
	Kind      string  `json:"kind" example:"camera"`
	StreamID  uint32  `json:"stream_id" example:"3735928559"`
	StartedAt string  `json:"started_at" example:"2024-01-15T10:30:00Z"`
	EndedAt   *string `json:"ended_at,omitempty" example:"2024-01-15T10:45:00Z"`
	EndReason string  `json:"end_reason,omitempty" example:"client left"`
}

type BroadcastListResponse struct {
	Broadcasts []BroadcastRecordResponse `json:"broadcasts"`
}
