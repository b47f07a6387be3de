// Package journal keeps an audit trail of channel broadcasts in the
// database.
package journal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"gorm.io/gorm"

	"github.com/eleven-am/voice-relay/internal/media"
	"github.com/eleven-am/voice-relay/internal/shared"
)

const (
	defaultQueueSize = 1024
	writeTimeout     = 5 * time.Second
)

type entry struct {
	started   bool
	channelID uint32
	clientID  uint32
	kind      media.MediaType
	streamID  uint32
	reason    string
	at        time.Time
}

// Journal records broadcast starts and ends. Calls only enqueue; a single
// worker writes to the database in order.
type Journal struct {
	db     *gorm.DB
	clock  clock.Clock
	logger *slog.Logger

	queue chan entry
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

func New(db *gorm.DB, clk clock.Clock, logger *slog.Logger) *Journal {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	j := &Journal{
		db:     db,
		clock:  clk,
		logger: logger.With("component", "journal"),
		queue:  make(chan entry, defaultQueueSize),
		done:   make(chan struct{}),
	}

	j.wg.Add(1)
	go j.run()

	return j
}

func (j *Journal) Migrate() error {
	return j.db.AutoMigrate(&BroadcastRecord{})
}

func (j *Journal) BroadcastStarted(channelID, clientID uint32, kind media.MediaType, streamID uint32) {
	j.enqueue(entry{started: true, channelID: channelID, clientID: clientID, kind: kind, streamID: streamID, at: j.clock.Now()})
}

func (j *Journal) BroadcastEnded(channelID, clientID uint32, kind media.MediaType, reason string) {
	j.enqueue(entry{channelID: channelID, clientID: clientID, kind: kind, reason: reason, at: j.clock.Now()})
}

func (j *Journal) enqueue(e entry) {
	select {
	case <-j.done:
		return
	default:
	}

	select {
	case j.queue <- e:
	default:
		j.logger.Warn("journal queue full, dropping entry", "channel_id", e.channelID, "client_id", e.clientID)
	}
}

func (j *Journal) run() {
	defer j.wg.Done()

	for {
		select {
		case <-j.done:
			for {
				select {
				case e := <-j.queue:
					j.write(e)
				default:
					return
				}
			}
		case e := <-j.queue:
			j.write(e)
		}
	}
}

func (j *Journal) write(e entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	if e.started {
		err = j.create(ctx, e)
	} else {
		err = j.finish(ctx, e)
	}
	if err != nil {
		j.logger.Error("write journal entry", "error", err, "channel_id", e.channelID, "client_id", e.clientID)
	}
}

func (j *Journal) create(ctx context.Context, e entry) error {
	return j.db.WithContext(ctx).Create(&BroadcastRecord{
		ID:        shared.NewID("brd_"),
		ChannelID: e.channelID,
		ClientID:  e.clientID,
		Kind:      e.kind.String(),
		StreamID:  e.streamID,
		StartedAt: e.at,
	}).Error
}

func (j *Journal) finish(ctx context.Context, e entry) error {
	var rec BroadcastRecord
	err := j.db.WithContext(ctx).
		Where("channel_id = ? AND client_id = ? AND kind = ? AND ended_at IS NULL", e.channelID, e.clientID, e.kind.String()).
		Order("started_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	return j.db.WithContext(ctx).Model(&rec).Updates(map[string]any{
		"ended_at":   e.at,
		"end_reason": e.reason,
	}).Error
}

// List returns the broadcasts of a channel, newest first.
func (j *Journal) List(ctx context.Context, channelID uint32, limit int) ([]*BroadcastRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []*BroadcastRecord
	err := j.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("started_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (j *Journal) Get(ctx context.Context, id string) (*BroadcastRecord, error) {
	var rec BroadcastRecord
	err := j.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	return &rec, err
}

// Close stops accepting entries and writes what is still queued.
func (j *Journal) Close() error {
	j.once.Do(func() {
		close(j.done)
	})
	j.wg.Wait()
	return nil
}
