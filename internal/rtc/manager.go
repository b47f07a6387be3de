package rtc

import (
	"fmt"
	"log/slog"

	"github.com/pion/interceptor"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/eleven-am/voice-relay/internal/media"
)

// Manager builds peer connections that share one media engine and setting
// engine.
type Manager struct {
	cfg      Config
	api      *webrtc.API
	notifier media.Notifier
	log      *slog.Logger
}

func NewManager(cfg Config, notifier media.Notifier, log *slog.Logger) (*Manager, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = media.NopNotifier{}
	}

	me := &webrtc.MediaEngine{}
	if err := registerCodecs(me); err != nil {
		return nil, err
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := &webrtc.SettingEngine{}

	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > cfg.PortRange.Min {
		if err := se.SetEphemeralUDPPortRange(uint16(cfg.PortRange.Min), uint16(cfg.PortRange.Max)); err != nil {
			return nil, err
		}
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(*se),
	)

	return &Manager{
		cfg:      cfg,
		api:      api,
		notifier: notifier,
		log:      log,
	}, nil
}

func registerCodecs(me *webrtc.MediaEngine) error {
	videoFeedback := []webrtc.RTCPFeedback{
		{Type: webrtc.TypeRTCPFBNACK},
		{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
		{Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"},
		{Type: webrtc.TypeRTCPFBGoogREMB},
	}

	codecs := []struct {
		params webrtc.RTPCodecParameters
		kind   webrtc.RTPCodecType
	}{
		{webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1"},
			PayloadType:        opusVoicePayloadType,
		}, webrtc.RTPCodecTypeAudio},
		{webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1;stereo=1;sprop-stereo=1"},
			PayloadType:        opusMusicPayloadType,
		}, webrtc.RTPCodecTypeAudio},
		{webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000, RTCPFeedback: videoFeedback},
			PayloadType:        vp8PayloadType,
		}, webrtc.RTPCodecTypeVideo},
		{webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     webrtc.MimeTypeH264,
				ClockRate:    90000,
				SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
				RTCPFeedback: videoFeedback,
			},
			PayloadType: h264PayloadType,
		}, webrtc.RTPCodecTypeVideo},
	}

	for _, c := range codecs {
		if err := me.RegisterCodec(c.params, c.kind); err != nil {
			return fmt.Errorf("register codec %s: %w", c.params.MimeType, err)
		}
	}

	if err := me.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: sdp.AudioLevelURI}, webrtc.RTPCodecTypeAudio); err != nil {
		return fmt.Errorf("register audio level extension: %w", err)
	}
	return nil
}

func (m *Manager) newPeer() (*webrtc.PeerConnection, error) {
	return m.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: m.iceServers(),
	})
}

// NewConnection runs the configure hook for the owner and creates its peer
// connection with the initial sender slots.
func (m *Manager) NewConnection(ownerID uint32, ownerData media.ClientData) (*Connection, error) {
	if err := m.notifier.RTCConfigure(ownerData); err != nil {
		return nil, fmt.Errorf("configure rtc: %w", err)
	}

	pc, err := m.newPeer()
	if err != nil {
		return nil, err
	}

	c := newConnection(ownerID, ownerData, m.cfg, m.notifier, m.log)
	c.newPeer = m.newPeer

	c.mu.Lock()
	c.attachPeer(pc)
	err = c.addInitialSlotsLocked()
	c.mu.Unlock()

	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	return c, nil
}

func (c *Connection) addInitialSlotsLocked() error {
	for _, want := range []struct {
		kind  webrtc.RTPCodecType
		count int
	}{
		{webrtc.RTPCodecTypeAudio, c.cfg.AudioSlots},
		{webrtc.RTPCodecTypeVideo, c.cfg.VideoSlots},
	} {
		for range want.count {
			s, err := c.addSlot(want.kind)
			if err != nil {
				return err
			}
			c.slots = append(c.slots, s)
		}
	}
	return nil
}

func (m *Manager) iceServers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(m.cfg.ICEServers))
	for _, s := range m.cfg.ICEServers {
		server := webrtc.ICEServer{
			URLs: s.URLs,
		}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, server)
	}

	if len(servers) == 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs: []string{"stun:stun.l.google.com:19302"},
		})
	}

	return servers
}

func (m *Manager) Config() Config {
	return m.cfg
}
