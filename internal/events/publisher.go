package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"

	"github.com/eleven-am/voice-relay/internal/media"
)

const (
	defaultPrefix    = "relay"
	defaultQueueSize = 4096
	publishTimeout   = 2 * time.Second
)

var ErrPublisherClosed = errors.New("publisher closed")

type Config struct {
	Prefix    string
	QueueSize int
	Clock     clock.Clock
}

// Publisher implements media.Notifier on top of Redis pub/sub. Events are
// queued and published by a single worker, so callers holding relay locks
// never wait on the network.
type Publisher struct {
	redis  *redis.Client
	prefix string
	clock  clock.Clock
	logger *slog.Logger

	queue  chan Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	dropped uint64
}

func NewPublisher(client *redis.Client, cfg Config, logger *slog.Logger) *Publisher {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		redis:  client,
		prefix: cfg.Prefix,
		clock:  cfg.Clock,
		logger: logger.With("component", "events"),
		queue:  make(chan Event, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	p.wg.Add(1)
	go p.run()

	return p
}

// Channel is the Redis channel carrying the events of one client.
func (p *Publisher) Channel(tag string) string {
	return fmt.Sprintf("%s:client:%s", p.prefix, tag)
}

func (p *Publisher) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			p.drain()
			return
		case ev := <-p.queue:
			p.publish(ev)
		}
	}
}

func (p *Publisher) drain() {
	for {
		select {
		case ev := <-p.queue:
			p.publish(ev)
		default:
			return
		}
	}
}

func (p *Publisher) publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("marshal event", "error", err, "type", ev.Type)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.redis.Publish(ctx, p.Channel(ev.Client), data).Err(); err != nil {
		p.logger.Error("publish event", "error", err, "type", ev.Type, "client", ev.Client)
	}
}

func (p *Publisher) enqueue(ev Event) {
	ev.Time = p.clock.Now()

	select {
	case <-p.ctx.Done():
		return
	default:
	}

	select {
	case p.queue <- ev:
	default:
		p.mu.Lock()
		p.dropped++
		dropped := p.dropped
		p.mu.Unlock()
		p.logger.Warn("event queue full, dropping event", "type", ev.Type, "client", ev.Client, "dropped", dropped)
	}
}

// Dropped returns the number of events lost to a full queue.
func (p *Publisher) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close stops accepting events and publishes what is still queued.
func (p *Publisher) Close() error {
	p.cancel()
	p.wg.Wait()
	return nil
}

func (p *Publisher) StreamAssignment(owner media.ClientData, streamID uint32, kind media.MediaType, source media.ClientData) {
	p.enqueue(Event{Type: TypeStreamAssignment, Client: Tag(owner), StreamID: streamID, Kind: kind.String(), Source: Tag(source)})
}

func (p *Publisher) StreamStart(owner media.ClientData, streamID uint32, source media.ClientData) {
	p.enqueue(Event{Type: TypeStreamStart, Client: Tag(owner), StreamID: streamID, Source: Tag(source)})
}

func (p *Publisher) StreamStop(owner media.ClientData, streamID uint32, source media.ClientData) {
	p.enqueue(Event{Type: TypeStreamStop, Client: Tag(owner), StreamID: streamID, Source: Tag(source)})
}

func (p *Publisher) VideoJoin(source media.ClientData, streamID uint32, viewer media.ClientData) {
	p.enqueue(Event{Type: TypeVideoJoin, Client: Tag(source), StreamID: streamID, Viewer: Tag(viewer)})
}

func (p *Publisher) VideoLeave(source media.ClientData, streamID uint32, viewer media.ClientData) {
	p.enqueue(Event{Type: TypeVideoLeave, Client: Tag(source), StreamID: streamID, Viewer: Tag(viewer)})
}

func (p *Publisher) VideoDirectory(recipients []media.ClientData, broadcasts []media.BroadcastInfo) {
	list := make([]Broadcast, 0, len(broadcasts))
	for _, b := range broadcasts {
		list = append(list, Broadcast{Mode: b.Mode.String(), ClientID: b.ClientID, Client: Tag(b.ClientData)})
	}
	for _, r := range recipients {
		p.enqueue(Event{Type: TypeVideoDirectory, Client: Tag(r), Broadcasts: list})
	}
}

// AudioSenderData forwards a packet from a native sink. A nil payload is the
// sink's end-of-sequence marker and is published with Stop set, so that a
// zero-length packet stays distinguishable from it on the wire.
func (p *Publisher) AudioSenderData(owner media.ClientData, source media.ClientData, mode uint8, seq uint16, codec media.AudioCodec, payload []byte) {
	p.enqueue(Event{
		Type:     TypeAudioData,
		Client:   Tag(owner),
		Source:   Tag(source),
		Mode:     mode,
		Sequence: seq,
		Codec:    codec.String(),
		Payload:  bytes.Clone(payload),
		Stop:     payload == nil,
	})
}

func (p *Publisher) WhisperSessionReset(owner media.ClientData) {
	p.enqueue(Event{Type: TypeWhisperReset, Client: Tag(owner)})
}

func (p *Publisher) OfferGenerated(owner media.ClientData, sdp string) {
	p.enqueue(Event{Type: TypeOffer, Client: Tag(owner), SDP: sdp})
}

func (p *Publisher) ICECandidate(owner media.ClientData, candidate string) {
	p.enqueue(Event{Type: TypeICECandidate, Client: Tag(owner), Candidate: candidate})
}

// RTCConfigure announces the new peer connection. It never vetoes.
func (p *Publisher) RTCConfigure(owner media.ClientData) error {
	select {
	case <-p.ctx.Done():
		return ErrPublisherClosed
	default:
	}
	p.enqueue(Event{Type: TypeRTCConfigure, Client: Tag(owner)})
	return nil
}
