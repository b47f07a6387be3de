package rtc

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/eleven-am/voice-relay/internal/media"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type writtenPacket struct {
	header  rtp.Header
	payload []byte
}

type fakeRTPWriter struct {
	mu      sync.Mutex
	packets []writtenPacket
}

func (w *fakeRTPWriter) WriteRTP(h *rtp.Header, payload []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.packets = append(w.packets, writtenPacket{header: h.Clone(), payload: append([]byte(nil), payload...)})
	return len(payload), nil
}

func (w *fakeRTPWriter) written() []writtenPacket {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]writtenPacket(nil), w.packets...)
}

type fakeRTCPWriter struct {
	mu      sync.Mutex
	packets []rtcp.Packet
}

func (w *fakeRTCPWriter) WriteRTCP(pkts []rtcp.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.packets = append(w.packets, pkts...)
	return nil
}

func (w *fakeRTCPWriter) byes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, p := range w.packets {
		if _, ok := p.(*rtcp.Goodbye); ok {
			n++
		}
	}
	return n
}

func (w *fakeRTCPWriter) plis() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, p := range w.packets {
		if _, ok := p.(*rtcp.PictureLossIndication); ok {
			n++
		}
	}
	return n
}

func (w *fakeRTCPWriter) lastREMB() (*rtcp.ReceiverEstimatedMaximumBitrate, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := len(w.packets) - 1; i >= 0; i-- {
		if r, ok := w.packets[i].(*rtcp.ReceiverEstimatedMaximumBitrate); ok {
			return r, true
		}
	}
	return nil, false
}

type recordingNotifier struct {
	media.NopNotifier

	mu     sync.Mutex
	calls  []string
	config error
}

func (n *recordingNotifier) record(format string, args ...any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, fmt.Sprintf(format, args...))
}

func (n *recordingNotifier) StreamAssignment(owner media.ClientData, streamID uint32, kind media.MediaType, source media.ClientData) {
	n.record("assign %v %d %s %v", owner, streamID, kind, source)
}

func (n *recordingNotifier) StreamStart(owner media.ClientData, streamID uint32, source media.ClientData) {
	n.record("start %v %d %v", owner, streamID, source)
}

func (n *recordingNotifier) StreamStop(owner media.ClientData, streamID uint32, source media.ClientData) {
	n.record("stop %v %d %v", owner, streamID, source)
}

func (n *recordingNotifier) VideoJoin(source media.ClientData, streamID uint32, viewer media.ClientData) {
	n.record("join %v %d %v", source, streamID, viewer)
}

func (n *recordingNotifier) VideoLeave(source media.ClientData, streamID uint32, viewer media.ClientData) {
	n.record("leave %v %d %v", source, streamID, viewer)
}

func (n *recordingNotifier) RTCConfigure(media.ClientData) error {
	return n.config
}

func (n *recordingNotifier) snapshot() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

var testCodecs = []webrtc.RTPCodecParameters{
	{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10"}, PayloadType: 109},
	{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;stereo=1"}, PayloadType: 110},
	{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, PayloadType: 96},
}

// testConn is a connection whose slots are bound to in-memory writers.
type testConn struct {
	*Connection
	notifier *recordingNotifier
	rtcp     *fakeRTCPWriter
	writers  map[uint32]*fakeRTPWriter
	nextSSRC uint32
}

func newTestConn(t *testing.T, ownerID uint32, ownerData media.ClientData) *testConn {
	t.Helper()

	tc := &testConn{
		notifier: &recordingNotifier{},
		rtcp:     &fakeRTCPWriter{},
		writers:  make(map[uint32]*fakeRTPWriter),
		nextSSRC: 1000,
	}
	c := newConnection(ownerID, ownerData, Config{}, tc.notifier, discardLogger())
	c.rtcp = tc.rtcp
	c.addSlot = func(kind webrtc.RTPCodecType) (*slot, error) {
		tc.nextSSRC++
		w := &fakeRTPWriter{}
		tc.writers[tc.nextSSRC] = w
		track := newSlotTrack(fmt.Sprintf("slot-%d", tc.nextSSRC), kind, 100)
		track.bind(&binding{writer: w, ssrc: tc.nextSSRC, codecs: testCodecs, levelID: 1})
		return &slot{kind: kind, ssrc: tc.nextSSRC, track: track}, nil
	}
	tc.Connection = c
	return tc
}
