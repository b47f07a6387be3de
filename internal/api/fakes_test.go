package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"

	"github.com/eleven-am/voice-relay/internal/apikey"
	"github.com/eleven-am/voice-relay/internal/journal"
	"github.com/eleven-am/voice-relay/internal/media"
	"github.com/eleven-am/voice-relay/internal/relay"
	"github.com/eleven-am/voice-relay/internal/rtc"
)

const testAdminToken = "test-admin-token"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeVideoSource struct {
	id     uint32
	events chan media.VideoEvent
	once   sync.Once

	mu      sync.Mutex
	bitrate uint32
}

func (s *fakeVideoSource) StreamID() uint32                           { return s.id }
func (s *fakeVideoSource) Events() <-chan media.VideoEvent            { return s.events }
func (s *fakeVideoSource) RequestPLI()                                {}
func (s *fakeVideoSource) NotifyClientJoin(uint32, media.ClientData)  {}
func (s *fakeVideoSource) NotifyClientLeave(uint32, media.ClientData) {}
func (s *fakeVideoSource) Close()                                     { s.once.Do(func() { close(s.events) }) }
func (s *fakeVideoSource) SetBitrate(bps uint32)                      { s.mu.Lock(); s.bitrate = bps; s.mu.Unlock() }
func (s *fakeVideoSource) Bitrate() uint32                            { s.mu.Lock(); defer s.mu.Unlock(); return s.bitrate }

// fakeRTC is a peer connection that knows a fixed set of video streams and
// answers every offer with a canned sdp.
type fakeRTC struct {
	streams map[uint32]bool

	mu         sync.Mutex
	offers     []string
	answers    []string
	candidates []string
	resets     int
	offerErr   error
	closed     bool
}

func (f *fakeRTC) CreateAudioSource(uint32) (media.AudioSource, bool) { return nil, false }
func (f *fakeRTC) CreateAudioSink(media.MediaType, uint32, media.ClientData) (media.AudioSink, bool) {
	return nil, false
}
func (f *fakeRTC) CreateVideoSink(media.MediaType, uint32, media.ClientData) (media.VideoSink, bool) {
	return nil, false
}
func (f *fakeRTC) StreamCount() (int, int) { return 1, 0 }

func (f *fakeRTC) CreateVideoSource(id uint32) (media.VideoSource, bool) {
	if !f.streams[id] {
		return nil, false
	}
	return &fakeVideoSource{id: id, events: make(chan media.VideoEvent, 8)}, true
}

func (f *fakeRTC) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return rtc.ErrClosed
	}
	f.resets++
	return nil
}

func (f *fakeRTC) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeRTC) ApplyOffer(offer string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offerErr != nil {
		return "", f.offerErr
	}
	f.offers = append(f.offers, offer)
	return "answer-for:" + offer, nil
}

func (f *fakeRTC) ApplyAnswer(answer string) error {
	f.mu.Lock()
	f.answers = append(f.answers, answer)
	f.mu.Unlock()
	return nil
}

func (f *fakeRTC) AddICECandidate(candidate string, mediaLine uint16) error {
	f.mu.Lock()
	f.candidates = append(f.candidates, candidate)
	f.mu.Unlock()
	return nil
}

type fakeLister struct {
	mu      sync.Mutex
	records []*journal.BroadcastRecord
	limits  []int
}

func (f *fakeLister) List(_ context.Context, channelID uint32, limit int) ([]*journal.BroadcastRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	var out []*journal.BroadcastRecord
	for _, r := range f.records {
		if r.ChannelID == channelID {
			out = append(out, r)
		}
	}
	return out, nil
}

type testAPI struct {
	echo    *echo.Echo
	relay   *relay.Server
	clock   *clock.Mock
	journal *fakeLister
	limiter *RateLimiter

	mu   sync.Mutex
	rtcs map[uint32]*fakeRTC
}

func newTestAPI(t *testing.T, subscriber EventSubscriber) *testAPI {
	t.Helper()
	ta := &testAPI{
		clock:   clock.NewMock(),
		journal: &fakeLister{},
		rtcs:    make(map[uint32]*fakeRTC),
	}
	ta.relay = relay.NewServer(relay.Options{
		Clock: ta.clock,
		Log:   discardLogger(),
		RTC: relay.RTCFactoryFunc(func(id uint32, _ media.ClientData) (relay.RTCTransport, error) {
			f := &fakeRTC{streams: map[uint32]bool{77: true}}
			ta.mu.Lock()
			ta.rtcs[id] = f
			ta.mu.Unlock()
			return f, nil
		}),
	})
	t.Cleanup(ta.relay.Close)

	tokens, err := NewTokenIssuer("devkey", "devsecret-devsecret-devsecret-0123", "wss://media.test", 0)
	if err != nil {
		t.Fatalf("NewTokenIssuer() error = %v", err)
	}

	ta.limiter = NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000, Clock: ta.clock})
	t.Cleanup(ta.limiter.Close)

	auth := apikey.NewAuthenticator(nil, testAdminToken)
	ta.echo = echo.New()
	h := NewHandler(ta.relay, ta.journal, subscriber, tokens, discardLogger())
	h.RegisterRoutes(ta.echo.Group("/v1", auth.Authenticate, ta.limiter.Middleware))
	return ta
}

func (ta *testAPI) rtc(id uint32) *fakeRTC {
	ta.mu.Lock()
	defer ta.mu.Unlock()
	return ta.rtcs[id]
}

func (ta *testAPI) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	ta.echo.ServeHTTP(rec, req)
	return rec
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details struct {
		Status uint32 `json:"status"`
		Result string `json:"result"`
	} `json:"details"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectCode(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func httptestRequest(ta *testAPI, method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	ta.echo.ServeHTTP(rec, httptest.NewRequest(method, path, r))
	return rec
}

func itoa(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
