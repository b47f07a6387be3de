package rtc

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/eleven-am/voice-relay/internal/media"
)

var (
	ErrClosed            = errors.New("rtc connection closed")
	ErrSDPTooLarge       = errors.New("sdp exceeds maximum size")
	ErrInvalidSDP        = errors.New("invalid sdp")
	ErrTooManyMediaLines = errors.New("too many media lines")
)

// slotUser is the sink currently borrowing a slot.
type slotUser interface {
	requestPLI()
	transportClosed()
}

// slot is one outbound track. Borrow state is guarded by Connection.mu.
type slot struct {
	kind   webrtc.RTPCodecType
	ssrc   uint32
	track  *slotTrack
	sender *webrtc.RTPSender

	user      slotUser
	sourceID  uint32
	mediaType media.MediaType
}

func (s *slot) free() bool {
	return s.user == nil
}

type peerFactory func() (*webrtc.PeerConnection, error)

// Connection is the peer connection of one client. Sinks borrow outbound
// slots; sources attach to inbound tracks keyed by SSRC.
type Connection struct {
	ownerID   uint32
	ownerData media.ClientData
	cfg       Config
	notifier  media.Notifier
	log       *slog.Logger
	newPeer   peerFactory

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	rtcp    rtcpWriter
	addSlot func(kind webrtc.RTPCodecType) (*slot, error)
	slots   []*slot
	remotes map[uint32]*remoteStream
	slotSeq int
	closed  bool
}

func newConnection(ownerID uint32, ownerData media.ClientData, cfg Config, notifier media.Notifier, log *slog.Logger) *Connection {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = media.NopNotifier{}
	}
	return &Connection{
		ownerID:   ownerID,
		ownerData: ownerData,
		cfg:       cfg.withDefaults(),
		notifier:  notifier,
		log:       log.With("component", "rtc", "client_id", ownerID),
		remotes:   make(map[uint32]*remoteStream),
	}
}

// attachPeer installs the callbacks on pc and makes it the connection's
// transport.
func (c *Connection) attachPeer(pc *webrtc.PeerConnection) {
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.registerRemote(pc, track, receiver)
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			c.notifier.ICECandidate(c.ownerData, "")
			return
		}
		c.notifier.ICECandidate(c.ownerData, candidate.ToJSON().Candidate)
	})

	pc.OnNegotiationNeeded(func() {
		c.negotiate(pc)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.log.Debug("connection state changed", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			c.log.Warn("peer connection failed")
		}
	})

	c.pc = pc
	c.rtcp = pc
	c.addSlot = func(kind webrtc.RTPCodecType) (*slot, error) {
		return c.peerSlot(pc, kind)
	}
}

func (c *Connection) peerSlot(pc *webrtc.PeerConnection, kind webrtc.RTPCodecType) (*slot, error) {
	c.slotSeq++
	track := newSlotTrack(fmt.Sprintf("%s-%d", kind, c.slotSeq), kind, randomSequence())

	sender, err := pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("add %s slot: %w", kind, err)
	}
	params := sender.GetParameters()
	if len(params.Encodings) == 0 {
		return nil, fmt.Errorf("add %s slot: sender has no encoding", kind)
	}

	s := &slot{
		kind:   kind,
		ssrc:   uint32(params.Encodings[0].SSRC),
		track:  track,
		sender: sender,
	}
	go c.readSlotRTCP(s)
	return s, nil
}

func randomSequence() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(b[:])
}

func (c *Connection) readSlotRTCP(s *slot) {
	for {
		pkts, _, err := s.sender.ReadRTCP()
		if err != nil {
			c.slotGone(s)
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				c.mu.Lock()
				user := s.user
				c.mu.Unlock()
				if user != nil {
					user.requestPLI()
				}
			}
		}
	}
}

func (c *Connection) slotGone(s *slot) {
	c.mu.Lock()
	user := s.user
	c.mu.Unlock()

	if user != nil {
		user.transportClosed()
	}
}

func (c *Connection) writeRTCP(pkts []rtcp.Packet) error {
	c.mu.Lock()
	w := c.rtcp
	c.mu.Unlock()

	if w == nil {
		return ErrClosed
	}
	return w.WriteRTCP(pkts)
}

func (c *Connection) negotiate(pc *webrtc.PeerConnection) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		c.log.Error("failed to create offer", "error", err)
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		c.log.Error("failed to set local offer", "error", err)
		return
	}
	c.notifier.OfferGenerated(c.ownerData, withBandwidth(offer.SDP, c.cfg.MaxVideoBitrate))
}

func (c *Connection) registerRemote(pc *webrtc.PeerConnection, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	stream := &remoteStream{
		ssrc: uint32(track.SSRC()),
		kind: track.Kind(),
	}
	for _, ext := range receiver.GetParameters().HeaderExtensions {
		if ext.URI == sdp.AudioLevelURI {
			stream.levelID = uint8(ext.ID)
		}
	}

	c.mu.Lock()
	if c.closed || c.pc != pc {
		c.mu.Unlock()
		return
	}
	c.remotes[stream.ssrc] = stream
	count := len(c.remotes)
	c.mu.Unlock()

	c.log.Debug("registered remote stream", "stream_id", stream.ssrc, "kind", stream.kind.String(), "streams", count)

	go c.readRemoteRTCP(stream, receiver)
	go c.readRemote(stream, track)
}

func (c *Connection) readRemote(stream *remoteStream, track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			c.log.Log(context.Background(), levelTrace, "remote stream ended", "stream_id", stream.ssrc, "error", err)
			stream.finish()
			c.removeRemote(stream)
			return
		}
		stream.deliver(pkt)
	}
}

func (c *Connection) readRemoteRTCP(stream *remoteStream, receiver *webrtc.RTPReceiver) {
	for {
		pkts, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			if bye, ok := pkt.(*rtcp.Goodbye); ok && containsSSRC(bye.Sources, stream.ssrc) {
				stream.bye()
			}
		}
	}
}

func containsSSRC(sources []uint32, ssrc uint32) bool {
	for _, s := range sources {
		if s == ssrc {
			return true
		}
	}
	return false
}

func (c *Connection) removeRemote(stream *remoteStream) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.remotes[stream.ssrc] == stream {
		delete(c.remotes, stream.ssrc)
	}
}

func (c *Connection) addRemote(stream *remoteStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remotes[stream.ssrc] = stream
}

func (c *Connection) remote(streamID uint32, kind webrtc.RTPCodecType) (*remoteStream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false
	}
	r, ok := c.remotes[streamID]
	if !ok || r.kind != kind {
		return nil, false
	}
	return r, true
}

func (c *Connection) CreateAudioSource(streamID uint32) (media.AudioSource, bool) {
	r, ok := c.remote(streamID, webrtc.RTPCodecTypeAudio)
	if !ok {
		return nil, false
	}

	c.log.Debug("creating audio source", "stream_id", streamID)
	src := newAudioSource(r, c.log)
	r.attach(src)
	return src, true
}

func (c *Connection) CreateVideoSource(streamID uint32) (media.VideoSource, bool) {
	r, ok := c.remote(streamID, webrtc.RTPCodecTypeVideo)
	if !ok {
		return nil, false
	}

	c.log.Debug("creating video source", "stream_id", streamID)
	src := newVideoSource(r, c.ownerData, c.notifier, rtcpFunc(c.writeRTCP), c.cfg.MaxVideoBitrate, c.log)
	r.attach(src)

	src.RequestPLI()
	src.sendBitrate(0)
	return src, true
}

type rtcpFunc func([]rtcp.Packet) error

func (f rtcpFunc) WriteRTCP(pkts []rtcp.Packet) error {
	return f(pkts)
}

func codecTypeOf(kind media.MediaType) webrtc.RTPCodecType {
	if kind.IsVideo() {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

// borrow hands out a free slot of the kind, adding a batch of slots when all
// are taken, and reports the assignment.
func (c *Connection) borrow(kind media.MediaType, sourceID uint32, sourceData media.ClientData, user func(*slot) slotUser) (slotUser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.addSlot == nil {
		return nil, ErrClosed
	}

	codecType := codecTypeOf(kind)
	var s *slot
	for _, candidate := range c.slots {
		if candidate.kind == codecType && candidate.free() {
			s = candidate
			break
		}
	}
	if s == nil {
		for range defaultSlotGrowth {
			added, err := c.addSlot(codecType)
			if err != nil {
				return nil, err
			}
			c.slots = append(c.slots, added)
			s = added
		}
	}

	u := user(s)
	s.user = u
	s.sourceID = sourceID
	s.mediaType = kind
	c.notifier.StreamAssignment(c.ownerData, s.ssrc, kind, sourceData)
	return u, nil
}

func (c *Connection) release(s *slot, user slotUser) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.user != user {
		return
	}
	s.user = nil
	s.sourceID = 0
	if !c.closed {
		c.notifier.StreamAssignment(c.ownerData, s.ssrc, media.MediaTypeAudio, nil)
	}
}

func (c *Connection) CreateAudioSink(kind media.MediaType, sourceID uint32, sourceData media.ClientData) (media.AudioSink, bool) {
	if kind != media.MediaTypeAudio && kind != media.MediaTypeWhisper {
		return nil, false
	}

	u, err := c.borrow(kind, sourceID, sourceData, func(s *slot) slotUser {
		return &audioSink{sinkBase: newSinkBase(c, s, sourceData)}
	})
	if err != nil {
		c.log.Warn("failed to create audio sink", "source_id", sourceID, "error", err)
		return nil, false
	}
	return u.(*audioSink), true
}

func (c *Connection) CreateVideoSink(kind media.MediaType, sourceID uint32, sourceData media.ClientData) (media.VideoSink, bool) {
	if !kind.IsVideo() {
		return nil, false
	}

	u, err := c.borrow(kind, sourceID, sourceData, func(s *slot) slotUser {
		return &videoSink{sinkBase: newSinkBase(c, s, sourceData)}
	})
	if err != nil {
		c.log.Warn("failed to create video sink", "source_id", sourceID, "error", err)
		return nil, false
	}
	return u.(*videoSink), true
}

func (c *Connection) StreamCount() (camera, screen int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.slots {
		if s.free() || s.sourceID == c.ownerID {
			continue
		}
		switch s.mediaType {
		case media.MediaTypeCamera:
			camera++
		case media.MediaTypeScreen:
			screen++
		}
	}
	return camera, screen
}

// ApplyOffer applies a remote offer and returns the local answer.
func (c *Connection) ApplyOffer(offer string) (string, error) {
	if len(offer) > c.cfg.MaxSDPSize {
		return "", ErrSDPTooLarge
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(offer)); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSDP, err)
	}
	if len(parsed.MediaDescriptions) > maxOfferMediaLines {
		return "", ErrTooManyMediaLines
	}

	c.mu.Lock()
	pc := c.pc
	closed := c.closed
	c.mu.Unlock()

	if closed || pc == nil {
		return "", ErrClosed
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return "", err
	}

	c.mu.Lock()
	err := c.fillTransceiversLocked(pc)
	c.mu.Unlock()
	if err != nil {
		return "", err
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return withBandwidth(answer.SDP, c.cfg.MaxVideoBitrate), nil
}

// fillTransceiversLocked adds a slot for every remote media line we could
// send on but have no track for yet.
func (c *Connection) fillTransceiversLocked(pc *webrtc.PeerConnection) error {
	if c.closed || c.pc != pc {
		return ErrClosed
	}
	for _, t := range pc.GetTransceivers() {
		if t.Sender() != nil {
			continue
		}
		if k := t.Kind(); k != webrtc.RTPCodecTypeAudio && k != webrtc.RTPCodecTypeVideo {
			continue
		}
		s, err := c.addSlot(t.Kind())
		if err != nil {
			return err
		}
		c.slots = append(c.slots, s)
	}
	return nil
}

func (c *Connection) ApplyAnswer(answer string) error {
	if len(answer) > c.cfg.MaxSDPSize {
		return ErrSDPTooLarge
	}

	c.mu.Lock()
	pc := c.pc
	closed := c.closed
	c.mu.Unlock()

	if closed || pc == nil {
		return ErrClosed
	}
	return pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer})
}

func (c *Connection) AddICECandidate(candidate string, mediaLine uint16) error {
	c.mu.Lock()
	pc := c.pc
	closed := c.closed
	c.mu.Unlock()

	if closed || pc == nil {
		return ErrClosed
	}
	return pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMLineIndex: &mediaLine,
	})
}

// withBandwidth adds a TIAS limit to every media line.
func withBandwidth(raw string, bps uint32) string {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return raw
	}
	for _, m := range desc.MediaDescriptions {
		m.Bandwidth = append(m.Bandwidth, sdp.Bandwidth{Type: "TIAS", Bandwidth: uint64(bps)})
	}
	out, err := desc.Marshal()
	if err != nil {
		return raw
	}
	return string(out)
}

// Reset drops every slot and remote stream and starts over with a fresh
// peer connection.
func (c *Connection) Reset() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	old := c.pc
	users, remotes := c.detachAllLocked()
	c.pc, c.rtcp, c.addSlot = nil, nil, nil

	var err error
	if c.newPeer != nil {
		var pc *webrtc.PeerConnection
		if pc, err = c.newPeer(); err == nil {
			c.attachPeer(pc)
		}
	}
	c.mu.Unlock()

	teardown(users, remotes)
	if old != nil {
		if cerr := old.Close(); cerr != nil {
			c.log.Debug("failed to close previous peer connection", "error", cerr)
		}
	}
	return err
}

func (c *Connection) detachAllLocked() ([]slotUser, []*remoteStream) {
	var users []slotUser
	for _, s := range c.slots {
		if s.user != nil {
			users = append(users, s.user)
			s.user = nil
		}
	}
	c.slots = nil

	remotes := make([]*remoteStream, 0, len(c.remotes))
	for _, r := range c.remotes {
		remotes = append(remotes, r)
	}
	c.remotes = make(map[uint32]*remoteStream)
	return users, remotes
}

func teardown(users []slotUser, remotes []*remoteStream) {
	for _, u := range users {
		u.transportClosed()
	}
	for _, r := range remotes {
		r.finish()
	}
}

func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pc := c.pc
	users, remotes := c.detachAllLocked()
	c.mu.Unlock()

	teardown(users, remotes)
	if pc != nil {
		return pc.Close()
	}
	return nil
}
