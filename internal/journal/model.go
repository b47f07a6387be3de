package journal

import "time"

// BroadcastRecord is one audio or video broadcast in a channel.
type BroadcastRecord struct {
	ID        string     `gorm:"primaryKey" json:"id"`
	ChannelID uint32     `gorm:"not null;index" json:"channel_id"`
	ClientID  uint32     `gorm:"not null;index" json:"client_id"`
	Kind      string     `gorm:"not null" json:"kind"`
	StreamID  uint32     `json:"stream_id"`
	StartedAt time.Time  `gorm:"not null;index" json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (r *BroadcastRecord) Active() bool {
	return r.EndedAt == nil
}
