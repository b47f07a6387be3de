package relay

import (
	"slices"
	"testing"
	"time"

	"github.com/eleven-am/voice-relay/internal/broadcast"
	"github.com/eleven-am/voice-relay/internal/media"
)

func TestChannel_AudioBroadcastReachesAllMembers(t *testing.T) {
	tr := newTestRelay(t)
	chID := tr.channel(t)

	speaker, _ := tr.client(t, 7)
	_, second := tr.client(t)
	_, third := tr.client(t)
	for _, id := range []uint32{speaker, second.id, third.id} {
		if res := tr.server.AssignChannel(id, chID); res != AssignSuccess {
			t.Fatalf("assign %d: %v", id, res)
		}
	}

	if status := tr.server.BroadcastAudio(speaker, 7); status != BroadcastOK {
		t.Fatalf("broadcast audio: %v", status)
	}

	for _, ft := range []*fakeTransport{second, third} {
		waitFor(t, "existing member registered", func() bool {
			return len(ft.sinksFrom(media.MediaTypeAudio, speaker)) == 1
		})
	}

	late, lateTransport := tr.client(t)
	if res := tr.server.AssignChannel(late, chID); res != AssignSuccess {
		t.Fatalf("assign late: %v", res)
	}
	waitFor(t, "late member registered", func() bool {
		return len(lateTransport.sinksFrom(media.MediaTypeAudio, speaker)) == 1
	})

	ch := tr.server.channels[chID]
	b, ok := ch.AudioBroadcast(speaker)
	if !ok {
		t.Fatal("expected audio broadcast")
	}
	if b.ContainsClient(speaker) {
		t.Error("speaker must not receive its own audio")
	}
	if got := b.ClientIDs(); len(got) != 3 {
		t.Errorf("expected 3 receivers, got %v", got)
	}
}

func TestChannel_VideoIsOptIn(t *testing.T) {
	tr := newTestRelay(t)
	chID := tr.channel(t)

	presenter, presenterTransport := tr.client(t, 9)
	viewer, viewerTransport := tr.client(t)
	tr.server.AssignChannel(presenter, chID)
	tr.server.AssignChannel(viewer, chID)

	status := tr.server.BroadcastVideo(presenter, 9, media.VideoModeScreen, broadcast.Options{})
	if status != BroadcastOK {
		t.Fatalf("broadcast video: %v", status)
	}

	waitFor(t, "directory update", func() bool {
		for _, call := range tr.notifier.directoryCalls() {
			if len(call.broadcasts) == 1 && len(call.recipients) == 2 {
				return true
			}
		}
		return false
	})
	if sinks := viewerTransport.sinksFrom(media.MediaTypeScreen, presenter); len(sinks) != 0 {
		t.Fatal("viewer must not be subscribed automatically")
	}

	if res := tr.server.JoinVideo(viewer, presenter, media.VideoModeScreen); res != JoinSuccess {
		t.Fatalf("join: %v", res)
	}
	source := presenterTransport.videoSource(9)
	if joins, _ := source.joined(); !slices.Equal(joins, []uint32{viewer}) {
		t.Errorf("expected join notification for %d, got %v", viewer, joins)
	}
	if camera, screen, _ := tr.server.VideoStreamCount(viewer); camera != 0 || screen != 1 {
		t.Errorf("stream count = (%d, %d), want (0, 1)", camera, screen)
	}

	tr.server.LeaveVideo(viewer, presenter, media.VideoModeScreen)
	if _, leaves := source.joined(); !slices.Equal(leaves, []uint32{viewer}) {
		t.Errorf("expected leave notification for %d, got %v", viewer, leaves)
	}
	sinks := viewerTransport.sinksFrom(media.MediaTypeScreen, presenter)
	if len(sinks) != 1 || sinks[0].closeCount() != 1 {
		t.Error("expected the viewer sink to be closed")
	}
}

func TestChannel_LateMemberReceivesDirectory(t *testing.T) {
	tr := newTestRelay(t)
	chID := tr.channel(t)

	presenter, _ := tr.client(t, 3)
	tr.server.AssignChannel(presenter, chID)
	tr.server.BroadcastVideo(presenter, 3, media.VideoModeCamera, broadcast.Options{})

	waitFor(t, "initial directory", func() bool { return len(tr.notifier.directoryCalls()) > 0 })

	late, _ := tr.client(t)
	tr.server.AssignChannel(late, chID)
	lateData := tr.server.clients[late].Data()

	waitFor(t, "directory for late member", func() bool {
		for _, call := range tr.notifier.directoryCalls() {
			if len(call.recipients) == 1 && call.recipients[0] == lateData {
				return len(call.broadcasts) == 1 && call.broadcasts[0].ClientID == presenter
			}
		}
		return false
	})
}

func TestChannel_SourceEndRemovesBroadcast(t *testing.T) {
	tr := newTestRelay(t)
	chID := tr.channel(t)

	speaker, ft := tr.client(t, 7)
	tr.server.AssignChannel(speaker, chID)
	tr.server.BroadcastAudio(speaker, 7)

	ch := tr.server.channels[chID]
	if _, ok := ch.AudioBroadcast(speaker); !ok {
		t.Fatal("expected broadcast")
	}

	ft.audioSource(7).Close()

	waitFor(t, "broadcast removed", func() bool {
		_, ok := ch.AudioBroadcast(speaker)
		return !ok
	})
	waitFor(t, "end recorded", func() bool {
		return slices.Contains(tr.recorder.endedCalls(), "1/1/audio/source ended")
	})
}

func TestChannel_UnregisterClientEndsBroadcastsAndSinks(t *testing.T) {
	tr := newTestRelay(t)
	chID := tr.channel(t)

	speaker, _ := tr.client(t, 7)
	listener, listenerTransport := tr.client(t, 8)
	tr.server.AssignChannel(speaker, chID)
	tr.server.AssignChannel(listener, chID)
	tr.server.BroadcastAudio(speaker, 7)
	tr.server.BroadcastAudio(listener, 8)

	waitFor(t, "listener registered", func() bool {
		return len(listenerTransport.sinksFrom(media.MediaTypeAudio, speaker)) == 1
	})

	if res := tr.server.AssignChannel(listener, 0); res != AssignSuccess {
		t.Fatalf("leave channel: %v", res)
	}

	ch := tr.server.channels[chID]
	if _, ok := ch.AudioBroadcast(listener); ok {
		t.Error("listener broadcast should be gone")
	}
	b, _ := ch.AudioBroadcast(speaker)
	if b.ContainsClient(listener) {
		t.Error("listener should no longer receive audio")
	}
	if sink := listenerTransport.sinksFrom(media.MediaTypeAudio, speaker)[0]; sink.closeCount() != 1 {
		t.Error("listener sink should be closed")
	}
}

func TestChannel_SweepTimesOutBroadcasts(t *testing.T) {
	tr := newTestRelay(t)
	chID := tr.channel(t)

	speaker, ft := tr.client(t, 7)
	_, listenerTransport := tr.client(t)
	tr.server.AssignChannel(speaker, chID)
	tr.server.AssignChannel(listenerTransport.id, chID)
	tr.server.BroadcastAudio(speaker, 7)

	waitFor(t, "listener registered", func() bool {
		return len(listenerTransport.sinksFrom(media.MediaTypeAudio, speaker)) == 1
	})

	ft.audioSource(7).events <- media.AudioEvent{Kind: media.AudioEventPacket}
	sink := listenerTransport.sinksFrom(media.MediaTypeAudio, speaker)[0]
	waitFor(t, "packet forwarded", func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.calls) == 2
	})

	tr.server.channels[chID].SweepTimeouts(tr.clock.Now().Add(time.Second))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if want := []string{"start", "data:0", "stop:timeout"}; !slices.Equal(sink.calls, want) {
		t.Errorf("got %v, want %v", sink.calls, want)
	}
}
