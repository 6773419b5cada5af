package av

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/shadowcall/clock"
	"github.com/opd-ai/shadowcall/errmap"
	"github.com/opd-ai/shadowcall/interfaces"
	"github.com/opd-ai/shadowcall/mocks"
	"github.com/opd-ai/shadowcall/shadow"
	simtest "github.com/opd-ai/shadowcall/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var epochStart = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) OnEvent(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) of(kind EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) states() []CallState {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []CallState
	for _, ev := range l.events {
		if ev.Kind == EventStateChanged {
			out = append(out, ev.State)
		}
	}
	return out
}

// party is one device on the simulated broker with its own store, media
// and clock.
type party struct {
	device string
	pubsub *simtest.SimulatedPubSub
	store  *shadow.Store
	media  *simtest.SimulatedMedia
	sched  *clock.ManualScheduler
	mgr    *Manager
	events *eventLog
}

func newParty(t *testing.T, broker *simtest.Broker, device string) *party {
	t.Helper()
	return newPartyWithMedia(t, broker, device, nil)
}

// newPartyWithMedia lets wrap replace the media transport handed to the
// manager; the party keeps the simulated media underneath.
func newPartyWithMedia(t *testing.T, broker *simtest.Broker, device string, wrap func(*simtest.SimulatedMedia) interfaces.IMediaTransport) *party {
	t.Helper()
	ctx := context.Background()
	p := &party{
		device: device,
		pubsub: broker.NewClient(),
		store:  shadow.NewStore(),
		media:  simtest.NewSimulatedMedia(),
		sched:  clock.NewManualScheduler(epochStart),
		events: &eventLog{},
	}
	require.NoError(t, p.pubsub.Connect(ctx, interfaces.Credentials{ClientID: "client-" + device}))
	require.NoError(t, p.pubsub.Subscribe(ctx, shadow.UpdateAcceptedTopic(device, SignalShadow), func(msg interfaces.Message) {
		_, _ = p.store.Apply(msg.Topic, msg.Payload)
	}))
	var media interfaces.IMediaTransport = p.media
	if wrap != nil {
		media = wrap(p.media)
	}
	p.mgr = NewManager(p.pubsub, media, p.store, func() string { return device })
	broker.AddSettler(p.mgr.Settle)
	p.mgr.SetScheduler(p.sched)
	p.mgr.SetTimeProvider(p.sched)
	p.mgr.Subscribe(p.events)
	t.Cleanup(func() {
		p.mgr.Close()
		_ = p.pubsub.Close()
	})
	return p
}

// sendSignal publishes a raw signal from a client that has no manager.
func sendSignal(t *testing.T, client interfaces.IPubSub, to string, sig Signal) {
	t.Helper()
	payload, err := EncodeSignal(sig)
	require.NoError(t, err)
	require.NoError(t, client.Publish(context.Background(), SignalTopic(to), payload))
}

func lastInvite(t *testing.T, broker *simtest.Broker, peer string) Signal {
	t.Helper()
	records := broker.PublishesTo(SignalTopic(peer))
	require.NotEmpty(t, records)
	update, err := shadow.ParseDocument(records[len(records)-1].Payload)
	require.NoError(t, err)
	sig, ok, err := signalFromChange(shadow.ChangeEvent{
		Device:      peer,
		Shadow:      SignalShadow,
		Partition:   shadow.PartitionDesired,
		ChangedKeys: []string{SignalKey},
		Snapshot:    update.Desired,
	}, peer)
	require.NoError(t, err)
	require.True(t, ok)
	return sig
}

func TestDialAnswerHangupScenario(t *testing.T) {
	broker := simtest.NewBroker()
	alice := newParty(t, broker, "v-alice")
	door := newParty(t, broker, "doorbell-1")
	ctx := context.Background()

	require.NoError(t, alice.mgr.Dial(ctx, "doorbell-1", "front door"))
	assert.Equal(t, StateDialResponding, alice.mgr.State())
	assert.Equal(t, []CallState{StateDialRequesting, StateDialResponding}, alice.events.states())

	broker.Settle()
	assert.Equal(t, StateIncoming, door.mgr.State())
	incoming := door.events.of(EventPeerIncoming)
	require.Len(t, incoming, 1)
	assert.Equal(t, "v-alice", incoming[0].Peer)
	assert.Equal(t, "front door", incoming[0].Attach)

	require.NoError(t, door.mgr.Answer(ctx))
	assert.Equal(t, StateTalking, door.mgr.State())
	assert.True(t, door.media.Connected())

	broker.Settle()
	assert.Equal(t, StateTalking, alice.mgr.State())
	answers := alice.events.of(EventPeerAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, "doorbell-1", answers[0].Peer)
	dialDone := alice.events.of(EventDialDone)
	require.Len(t, dialDone, 1)
	assert.NoError(t, dialDone[0].Err)

	sessions := alice.media.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "doorbell-1", sessions[0].PeerID)
	assert.True(t, sessions[0].Caller)
	assert.Equal(t, incoming[0].CallID, sessions[0].CallID)

	alice.sched.Advance(90 * time.Second)
	assert.Equal(t, StateTalking, alice.mgr.State(), "no timer runs while talking")

	require.NoError(t, alice.mgr.Hangup(ctx))
	assert.Equal(t, StateIdle, alice.mgr.State())
	assert.False(t, alice.media.Connected())
	assert.Equal(t, 1, alice.media.DisconnectCount())
	require.Len(t, alice.events.of(EventHangupDone), 1)

	broker.Settle()
	assert.Equal(t, StateIdle, door.mgr.State())
	require.Len(t, door.events.of(EventPeerHangup), 1)
	assert.False(t, door.media.Connected())

	history := alice.mgr.History()
	require.Len(t, history, 1)
	assert.Equal(t, OutcomeCompleted, history[0].Outcome)
	assert.Equal(t, RoleCaller, history[0].Role)
	assert.Equal(t, 90*time.Second, history[0].Duration)
	assert.Empty(t, alice.events.of(EventPeerTimeout))
}

func TestDialWhileSessionExistsIsBusy(t *testing.T) {
	broker := simtest.NewBroker()
	alice := newParty(t, broker, "v-alice")
	newParty(t, broker, "doorbell-1")
	ctx := context.Background()

	require.NoError(t, alice.mgr.Dial(ctx, "doorbell-1", ""))
	published := len(broker.PublishLog())

	err := alice.mgr.Dial(ctx, "doorbell-2", "")
	assert.ErrorIs(t, err, errmap.KindPeerBusy)
	assert.Equal(t, StateDialResponding, alice.mgr.State())
	assert.Len(t, broker.PublishLog(), published, "a rejected dial publishes nothing")
}

func TestDialValidation(t *testing.T) {
	broker := simtest.NewBroker()
	alice := newParty(t, broker, "v-alice")
	ctx := context.Background()

	assert.ErrorIs(t, alice.mgr.Dial(ctx, "", ""), errmap.KindInvalidParameter)
	assert.ErrorIs(t, alice.mgr.Dial(ctx, "bad/peer", ""), errmap.KindInvalidParameter)
	assert.ErrorIs(t, alice.mgr.Dial(ctx, "v-alice", ""), errmap.KindInvalidParameter)

	loggedOut := NewManager(alice.pubsub, alice.media, shadow.NewStore(), func() string { return "" })
	defer loggedOut.Close()
	assert.ErrorIs(t, loggedOut.Dial(ctx, "doorbell-1", ""), errmap.KindWrongState)
	assert.Empty(t, broker.PublishLog())
}

func TestPeerBusyEndsDialWithoutMedia(t *testing.T) {
	broker := simtest.NewBroker()
	alice := newParty(t, broker, "v-alice")
	carol := newParty(t, broker, "v-carol")
	door := newParty(t, broker, "doorbell-1")
	ctx := context.Background()

	require.NoError(t, alice.mgr.Dial(ctx, "doorbell-1", ""))
	broker.Settle()
	require.NoError(t, door.mgr.Answer(ctx))
	broker.Settle()
	require.Equal(t, StateTalking, alice.mgr.State())

	require.NoError(t, carol.mgr.Dial(ctx, "doorbell-1", ""))
	broker.Settle()

	assert.Equal(t, StateIdle, carol.mgr.State())
	done := carol.events.of(EventDialDone)
	require.Len(t, done, 1)
	assert.ErrorIs(t, done[0].Err, errmap.KindPeerBusy)
	assert.Equal(t, 0, carol.media.ConnectCount())
	assert.Equal(t, StateTalking, door.mgr.State(), "the busy callee keeps its call")

	history := carol.mgr.History()
	require.Len(t, history, 1)
	assert.Equal(t, OutcomeBusy, history[0].Outcome)
	doorHistory := door.mgr.History()
	require.Len(t, doorHistory, 1)
	assert.Equal(t, OutcomeBusy, doorHistory[0].Outcome)
	assert.Equal(t, "v-carol", doorHistory[0].Peer)
}

func TestIncomingTimeoutNeverConnectsMedia(t *testing.T) {
	broker := simtest.NewBroker()
	alice := newParty(t, broker, "v-alice")
	door := newParty(t, broker, "doorbell-1")
	ctx := context.Background()

	require.NoError(t, door.mgr.Dial(ctx, "v-alice", "motion"))
	broker.Settle()
	require.Equal(t, StateIncoming, alice.mgr.State())

	alice.sched.Advance(DefaultCallTimeout - time.Second)
	assert.Equal(t, StateIncoming, alice.mgr.State())

	alice.sched.Advance(time.Second)
	assert.Equal(t, StateIdle, alice.mgr.State())
	timeouts := alice.events.of(EventPeerTimeout)
	require.Len(t, timeouts, 1)
	assert.ErrorIs(t, timeouts[0].Err, errmap.KindPeerTimeout)
	assert.Equal(t, 0, alice.media.ConnectCount())

	broker.Settle()
	assert.Equal(t, StateIdle, door.mgr.State(), "the caller learns about the timeout")
	require.Len(t, door.events.of(EventPeerTimeout), 1)
	assert.Equal(t, 0, door.media.ConnectCount())

	history := alice.mgr.History()
	require.Len(t, history, 1)
	assert.Equal(t, OutcomeMissed, history[0].Outcome)
	assert.Equal(t, RoleCallee, history[0].Role)
}

func TestDialTimeout(t *testing.T) {
	broker := simtest.NewBroker()
	alice := newParty(t, broker, "v-alice")
	require.NoError(t, alice.mgr.SetCallTimeout(5*time.Second))

	require.NoError(t, alice.mgr.Dial(context.Background(), "doorbell-9", ""))
	alice.sched.Advance(5 * time.Second)

	assert.Equal(t, StateIdle, alice.mgr.State())
	require.Len(t, alice.events.of(EventPeerTimeout), 1)
	assert.Empty(t, alice.events.of(EventDialDone))

	history := alice.mgr.History()
	require.Len(t, history, 1)
	assert.Equal(t, OutcomeTimeout, history[0].Outcome)
}

func TestExpiredInviteIsIgnored(t *testing.T) {
	broker := simtest.NewBroker()
	alice := newParty(t, broker, "v-alice")
	raw := broker.NewClient()
	require.NoError(t, raw.Connect(context.Background(), interfaces.Credentials{ClientID: "raw"}))

	sendSignal(t, raw, "v-alice", Signal{
		Type:   SignalInvite,
		CallID: "old-call",
		From:   "doorbell-1",
		TS:     epochStart.Add(-time.Hour).UnixMilli(),
	})
	broker.Settle()

	assert.Equal(t, StateIdle, alice.mgr.State())
	assert.Empty(t, alice.events.of(EventPeerIncoming))
}

func TestDuplicateInviteIsIgnored(t *testing.T) {
	broker := simtest.NewBroker()
	alice := newParty(t, broker, "v-alice")
	raw := broker.NewClient()
	require.NoError(t, raw.Connect(context.Background(), interfaces.Credentials{ClientID: "raw"}))

	invite := Signal{Type: SignalInvite, CallID: "c1", From: "doorbell-1", TS: epochStart.UnixMilli()}
	sendSignal(t, raw, "v-alice", invite)
	broker.Settle()
	invite.TS++
	sendSignal(t, raw, "v-alice", invite)
	broker.Settle()

	assert.Len(t, alice.events.of(EventPeerIncoming), 1)
	assert.Empty(t, broker.PublishesTo(SignalTopic("doorbell-1")), "no busy reply to the same call")
}

// stubbornScheduler never cancels a timer, so every armed callback can be
// fired after its state was left.
type stubbornScheduler struct {
	mu    sync.Mutex
	funcs []func()
}

type stubbornTimer struct{}

func (stubbornTimer) Stop() bool { return false }

func (s *stubbornScheduler) AfterFunc(_ time.Duration, f func()) clock.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funcs = append(s.funcs, f)
	return stubbornTimer{}
}

func (s *stubbornScheduler) fireAll() {
	s.mu.Lock()
	funcs := s.funcs
	s.funcs = nil
	s.mu.Unlock()
	for _, f := range funcs {
		f()
	}
}

func TestSupersededTimerIsNoop(t *testing.T) {
	broker := simtest.NewBroker()
	alice := newParty(t, broker, "v-alice")
	sched := &stubbornScheduler{}
	alice.mgr.SetScheduler(sched)
	raw := broker.NewClient()
	require.NoError(t, raw.Connect(context.Background(), interfaces.Credentials{ClientID: "raw"}))

	require.NoError(t, alice.mgr.Dial(context.Background(), "doorbell-1", ""))
	invite := lastInvite(t, broker, "doorbell-1")
	sendSignal(t, raw, "v-alice", Signal{Type: SignalAnswer, CallID: invite.CallID, From: "doorbell-1", TS: 1})
	broker.Settle()
	require.Equal(t, StateTalking, alice.mgr.State())

	sched.fireAll()

	assert.Equal(t, StateTalking, alice.mgr.State())
	assert.Empty(t, alice.events.of(EventPeerTimeout))
	require.Len(t, alice.events.of(EventDialDone), 1)
}

func TestLateAnswerAfterTimeoutIsIgnored(t *testing.T) {
	broker := simtest.NewBroker()
	alice := newParty(t, broker, "v-alice")
	raw := broker.NewClient()
	require.NoError(t, raw.Connect(context.Background(), interfaces.Credentials{ClientID: "raw"}))

	require.NoError(t, alice.mgr.Dial(context.Background(), "doorbell-1", ""))
	invite := lastInvite(t, broker, "doorbell-1")
	alice.sched.Advance(DefaultCallTimeout)
	require.Equal(t, StateIdle, alice.mgr.State())

	sendSignal(t, raw, "v-alice", Signal{Type: SignalAnswer, CallID: invite.CallID, From: "doorbell-1", TS: 1})
	broker.Settle()

	assert.Equal(t, StateIdle, alice.mgr.State())
	assert.Len(t, alice.events.of(EventPeerTimeout), 1)
	assert.Empty(t, alice.events.of(EventDialDone))
	assert.Equal(t, 0, alice.media.ConnectCount())
}

func TestTimeoutAnswerRaceReportsExactlyOne(t *testing.T) {
	for i := 0; i < 50; i++ {
		broker := simtest.NewBroker()
		alice := newParty(t, broker, "v-alice")

		require.NoError(t, alice.mgr.Dial(context.Background(), "doorbell-1", ""))
		invite := lastInvite(t, broker, "doorbell-1")

		alice.mgr.mu.Lock()
		epoch := alice.mgr.epoch
		alice.mgr.mu.Unlock()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			alice.mgr.onTimeout(epoch)
		}()
		go func() {
			defer wg.Done()
			alice.mgr.onAnswer(Signal{Type: SignalAnswer, CallID: invite.CallID, From: "doorbell-1"}, "v-alice")
		}()
		wg.Wait()
		alice.mgr.Settle()

		successes := 0
		for _, ev := range alice.events.of(EventDialDone) {
			if ev.Err == nil {
				successes++
			}
		}
		timeouts := len(alice.events.of(EventPeerTimeout))
		require.Equal(t, 1, successes+timeouts, "iteration %d", i)
		if timeouts == 1 {
			assert.Equal(t, StateIdle, alice.mgr.State())
		} else {
			assert.Equal(t, StateTalking, alice.mgr.State())
		}
	}
}

// slowMedia blocks Connect until release is closed or the connect is
// cancelled.
type slowMedia struct {
	*simtest.SimulatedMedia
	entered chan struct{}
	release chan struct{}
}

func (m *slowMedia) Connect(ctx context.Context, session interfaces.MediaSession) error {
	close(m.entered)
	select {
	case <-m.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.SimulatedMedia.Connect(ctx, session)
}

func TestPeerHangupDuringSlowMediaConnect(t *testing.T) {
	broker := simtest.NewBroker()
	slow := &slowMedia{entered: make(chan struct{}), release: make(chan struct{})}
	defer close(slow.release)
	alice := newPartyWithMedia(t, broker, "v-alice", func(sim *simtest.SimulatedMedia) interfaces.IMediaTransport {
		slow.SimulatedMedia = sim
		return slow
	})
	raw := broker.NewClient()
	require.NoError(t, raw.Connect(context.Background(), interfaces.Credentials{ClientID: "raw"}))

	require.NoError(t, alice.mgr.Dial(context.Background(), "doorbell-1", ""))
	invite := lastInvite(t, broker, "doorbell-1")
	sendSignal(t, raw, "v-alice", Signal{Type: SignalAnswer, CallID: invite.CallID, From: "doorbell-1", TS: 1})

	select {
	case <-slow.entered:
	case <-time.After(time.Second):
		t.Fatal("media connect never started")
	}
	assert.Equal(t, StateDialResponding, alice.mgr.State())

	sendSignal(t, raw, "v-alice", Signal{Type: SignalHangup, CallID: invite.CallID, From: "doorbell-1", TS: 2})
	require.Eventually(t, func() bool { return alice.mgr.State() == StateIdle }, time.Second, time.Millisecond,
		"the hangup is handled while media is still connecting")
	broker.Settle()

	require.Len(t, alice.events.of(EventPeerHangup), 1)
	assert.Empty(t, alice.events.of(EventDialDone))
	assert.Equal(t, 0, alice.media.ConnectCount())
	assert.False(t, alice.media.Connected())
	require.Len(t, alice.mgr.History(), 1)
	assert.Equal(t, invite.CallID, alice.mgr.History()[0].CallID)
}

func TestAtMostOneSession(t *testing.T) {
	broker := simtest.NewBroker()
	alice := newParty(t, broker, "v-alice")
	raw := broker.NewClient()
	require.NoError(t, raw.Connect(context.Background(), interfaces.Credentials{ClientID: "raw"}))

	sendSignal(t, raw, "v-alice", Signal{Type: SignalInvite, CallID: "c1", From: "doorbell-1", TS: epochStart.UnixMilli()})
	broker.Settle()
	require.Equal(t, StateIncoming, alice.mgr.State())

	assert.ErrorIs(t, alice.mgr.Dial(context.Background(), "doorbell-2", ""), errmap.KindPeerBusy)

	sendSignal(t, raw, "v-alice", Signal{Type: SignalInvite, CallID: "c2", From: "doorbell-2", TS: epochStart.UnixMilli()})
	broker.Settle()

	sess, ok := alice.mgr.Session()
	require.True(t, ok)
	assert.Equal(t, "c1", sess.CallID)
	assert.Len(t, alice.events.of(EventPeerIncoming), 1)

	busy := broker.PublishesTo(SignalTopic("doorbell-2"))
	require.Len(t, busy, 1)
	update, err := shadow.ParseDocument(busy[0].Payload)
	require.NoError(t, err)
	value, ok := update.Desired.Get(SignalKey)
	require.True(t, ok)
	assert.Equal(t, string(SignalBusy), value.(map[string]any)["type"])
}

func TestHangupWhileIdleIsNoop(t *testing.T) {
	broker := simtest.NewBroker()
	alice := newParty(t, broker, "v-alice")

	assert.NoError(t, alice.mgr.Hangup(context.Background()))
	assert.Equal(t, StateIdle, alice.mgr.State())
	assert.Empty(t, alice.events.events)
	assert.Empty(t, broker.PublishLog())
}

func TestHangupCancelsDial(t *testing.T) {
	broker := simtest.NewBroker()
	alice := newParty(t, broker, "v-alice")
	door := newParty(t, broker, "doorbell-1")
	ctx := context.Background()

	require.NoError(t, alice.mgr.Dial(ctx, "doorbell-1", ""))
	broker.Settle()
	require.NoError(t, alice.mgr.Hangup(ctx))
	assert.Equal(t, 0, alice.sched.Pending(), "hangup cancels the dial timer")

	broker.Settle()
	assert.Equal(t, StateIdle, door.mgr.State())
	require.Len(t, door.events.of(EventPeerHangup), 1)
	assert.Equal(t, OutcomeCancelled, alice.mgr.History()[0].Outcome)
	assert.Equal(t, OutcomeMissed, door.mgr.History()[0].Outcome)
}

func TestCalleeDeclines(t *testing.T) {
	broker := simtest.NewBroker()
	alice := newParty(t, broker, "v-alice")
	door := newParty(t, broker, "doorbell-1")
	ctx := context.Background()

	require.NoError(t, alice.mgr.Dial(ctx, "doorbell-1", ""))
	broker.Settle()
	require.NoError(t, door.mgr.Hangup(ctx))
	broker.Settle()

	assert.Equal(t, StateIdle, alice.mgr.State())
	require.Len(t, alice.events.of(EventPeerHangup), 1)
	assert.Equal(t, OutcomeRejected, alice.mgr.History()[0].Outcome)
	assert.Equal(t, OutcomeRejected, door.mgr.History()[0].Outcome)
}

func TestAnswerOutsideIncoming(t *testing.T) {
	broker := simtest.NewBroker()
	alice := newParty(t, broker, "v-alice")
	assert.ErrorIs(t, alice.mgr.Answer(context.Background()), errmap.KindWrongState)
}

func TestDialPublishFailure(t *testing.T) {
	broker := simtest.NewBroker()
	alice := newParty(t, broker, "v-alice")
	broker.SetPublishError(errors.New("link down"))

	err := alice.mgr.Dial(context.Background(), "doorbell-1", "")
	assert.ErrorIs(t, err, errmap.KindConnectFailed)
	assert.Equal(t, StateIdle, alice.mgr.State())
	done := alice.events.of(EventDialDone)
	require.Len(t, done, 1)
	assert.Error(t, done[0].Err)
	assert.Equal(t, 0, alice.sched.Pending())
}

func TestAnswerMediaFailure(t *testing.T) {
	broker := simtest.NewBroker()
	alice := newParty(t, broker, "v-alice")
	door := newParty(t, broker, "doorbell-1")
	ctx := context.Background()

	require.NoError(t, alice.mgr.Dial(ctx, "doorbell-1", ""))
	broker.Settle()
	door.media.SetConnectError(errors.New("no camera"))

	err := door.mgr.Answer(ctx)
	assert.ErrorIs(t, err, errmap.KindConnectFailed)
	assert.Equal(t, StateIdle, door.mgr.State())

	broker.Settle()
	assert.Equal(t, StateIdle, alice.mgr.State(), "the caller is told to hang up")
	assert.Equal(t, OutcomeFailed, door.mgr.History()[0].Outcome)
}

func TestMediaControlsRequireTalking(t *testing.T) {
	broker := simtest.NewBroker()
	alice := newParty(t, broker, "v-alice")
	door := newParty(t, broker, "doorbell-1")
	ctx := context.Background()

	assert.ErrorIs(t, alice.mgr.MuteAudio(), errmap.KindWrongState)
	assert.ErrorIs(t, alice.mgr.UnmuteAudio(), errmap.KindWrongState)
	assert.ErrorIs(t, alice.mgr.MuteVideo(), errmap.KindWrongState)
	assert.ErrorIs(t, alice.mgr.UnmuteVideo(), errmap.KindWrongState)
	assert.ErrorIs(t, alice.mgr.SetVolume(50), errmap.KindWrongState)
	assert.False(t, alice.mgr.NetworkStats().Valid)

	require.NoError(t, alice.mgr.SetAudioEffect("robot"))
	assert.Empty(t, alice.media.Effect(), "effect waits for the call")

	require.NoError(t, alice.mgr.Dial(ctx, "doorbell-1", ""))
	broker.Settle()
	require.NoError(t, door.mgr.Answer(ctx))
	broker.Settle()
	require.Equal(t, StateTalking, alice.mgr.State())

	assert.Equal(t, "robot", alice.media.Effect())
	require.NoError(t, alice.mgr.MuteAudio())
	assert.True(t, alice.media.AudioMuted())
	require.NoError(t, alice.mgr.UnmuteAudio())
	assert.False(t, alice.media.AudioMuted())
	require.NoError(t, alice.mgr.MuteVideo())
	assert.True(t, alice.media.VideoMuted())
	require.NoError(t, alice.mgr.UnmuteVideo())
	require.NoError(t, alice.mgr.SetVolume(30))
	assert.Equal(t, 30, alice.media.Volume())
	assert.ErrorIs(t, alice.mgr.SetVolume(101), errmap.KindInvalidParameter)
	require.NoError(t, alice.mgr.SetAudioEffect("echo"))
	assert.Equal(t, "echo", alice.media.Effect())

	stats := alice.mgr.NetworkStats()
	assert.True(t, stats.Valid)
	assert.Positive(t, stats.RTT)
}

func TestResetAbortsCall(t *testing.T) {
	broker := simtest.NewBroker()
	alice := newParty(t, broker, "v-alice")
	door := newParty(t, broker, "doorbell-1")
	ctx := context.Background()

	require.NoError(t, alice.mgr.Dial(ctx, "doorbell-1", ""))
	broker.Settle()
	require.NoError(t, door.mgr.Answer(ctx))
	broker.Settle()
	published := len(broker.PublishesTo(SignalTopic("doorbell-1")))

	reason := errmap.New(errmap.KindTokenInvalid, "kicked")
	alice.mgr.Reset(reason)

	assert.Equal(t, StateIdle, alice.mgr.State())
	assert.False(t, alice.media.Connected())
	done := alice.events.of(EventHangupDone)
	require.Len(t, done, 1)
	assert.ErrorIs(t, done[0].Err, errmap.KindTokenInvalid)
	assert.Len(t, broker.PublishesTo(SignalTopic("doorbell-1")), published, "reset does not signal the peer")
	assert.Equal(t, OutcomeAborted, alice.mgr.History()[0].Outcome)

	alice.mgr.Reset(reason)
	assert.Len(t, alice.events.of(EventHangupDone), 1)
}

func TestSetCallTimeoutValidation(t *testing.T) {
	broker := simtest.NewBroker()
	alice := newParty(t, broker, "v-alice")
	assert.ErrorIs(t, alice.mgr.SetCallTimeout(0), errmap.KindInvalidParameter)
	require.NoError(t, alice.mgr.SetCallTimeout(time.Minute))
	assert.Equal(t, time.Minute, alice.mgr.CallTimeout())
}

func TestListenerMayAnswerFromCallback(t *testing.T) {
	broker := simtest.NewBroker()
	alice := newParty(t, broker, "v-alice")
	door := newParty(t, broker, "doorbell-1")
	ctx := context.Background()

	answered := make(chan error, 1)
	door.mgr.SubscribeFunc(func(ev Event) {
		if ev.Kind == EventPeerIncoming {
			answered <- door.mgr.Answer(ctx)
		}
	})

	require.NoError(t, alice.mgr.Dial(ctx, "doorbell-1", ""))
	broker.Settle()
	require.NoError(t, <-answered)
	broker.Settle()

	assert.Equal(t, StateTalking, alice.mgr.State())
	assert.Equal(t, StateTalking, door.mgr.State())
}

func TestRejectedOperationsTouchNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	pubsub := mocks.NewMockIPubSub(ctrl)
	media := mocks.NewMockIMediaTransport(ctrl)
	mgr := NewManager(pubsub, media, shadow.NewStore(), func() string { return "v-alice" })
	defer mgr.Close()

	assert.ErrorIs(t, mgr.MuteAudio(), errmap.KindWrongState)
	assert.ErrorIs(t, mgr.UnmuteVideo(), errmap.KindWrongState)
	assert.ErrorIs(t, mgr.SetVolume(10), errmap.KindWrongState)
	assert.ErrorIs(t, mgr.Answer(context.Background()), errmap.KindWrongState)
	assert.ErrorIs(t, mgr.Dial(context.Background(), "bad#peer", ""), errmap.KindInvalidParameter)
	assert.NoError(t, mgr.Hangup(context.Background()))
	assert.NoError(t, mgr.SetAudioEffect("robot"))
	assert.False(t, mgr.NetworkStats().Valid)
}

func TestDialConnectsMediaOnceThroughMock(t *testing.T) {
	ctrl := gomock.NewController(t)
	pubsub := mocks.NewMockIPubSub(ctrl)
	media := mocks.NewMockIMediaTransport(ctrl)
	store := shadow.NewStore()
	mgr := NewManager(pubsub, media, store, func() string { return "v-alice" })
	defer mgr.Close()
	mgr.SetScheduler(clock.NewManualScheduler(epochStart))

	pubsub.EXPECT().Publish(gomock.Any(), SignalTopic("doorbell-1"), gomock.Any()).Return(nil).Times(2)
	gomock.InOrder(
		media.EXPECT().Connect(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, s interfaces.MediaSession) error {
				assert.Equal(t, "doorbell-1", s.PeerID)
				assert.True(t, s.Caller)
				return nil
			}),
		media.EXPECT().Disconnect().Return(nil),
	)

	require.NoError(t, mgr.Dial(context.Background(), "doorbell-1", ""))
	sess, ok := mgr.Session()
	require.True(t, ok)

	answer := shadow.NewOrderedMap()
	answer.Set(SignalKey, Signal{Type: SignalAnswer, CallID: sess.CallID, From: "doorbell-1", TS: 1})
	payload, err := shadow.EncodeUpdate(shadow.PartitionDesired, answer)
	require.NoError(t, err)
	_, err = store.Apply(shadow.UpdateAcceptedTopic("v-alice", SignalShadow), payload)
	require.NoError(t, err)
	mgr.Settle()
	require.Equal(t, StateTalking, mgr.State())

	require.NoError(t, mgr.Hangup(context.Background()))
	assert.Equal(t, StateIdle, mgr.State())
}
