package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/livekit/protocol/auth"
)

const defaultTokenTTL = 6 * time.Hour

var ErrTokenConfig = errors.New("token key and secret are required")

// TokenIssuer signs join tokens clients present to the media edge.
type TokenIssuer struct {
	apiKey    string
	apiSecret string
	url       string
	ttl       time.Duration
}

func NewTokenIssuer(apiKey, apiSecret, url string, ttl time.Duration) (*TokenIssuer, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, ErrTokenConfig
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenIssuer{apiKey: apiKey, apiSecret: apiSecret, url: url, ttl: ttl}, nil
}

func (t *TokenIssuer) URL() string {
	return t.url
}

// Issue signs a token for identity. An empty room grants no room join.
func (t *TokenIssuer) Issue(identity, room string) (string, error) {
	at := auth.NewAccessToken(t.apiKey, t.apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin: room != "",
		Room:     room,
	}
	at.SetIdentity(identity).
		SetValidFor(t.ttl).
		SetVideoGrant(grant)
	return at.ToJWT()
}

func channelRoom(channelID uint32) string {
	return "channel-" + strconv.FormatUint(uint64(channelID), 10)
}
