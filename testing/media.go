package testing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/opd-ai/shadowcall/interfaces"
	"github.com/sirupsen/logrus"
)

// ErrMediaNotConnected is returned by media controls used before Connect.
var ErrMediaNotConnected = errors.New("simulated media not connected")

// SimulatedMedia implements interfaces.IMediaTransport and records every
// command for test verification.
type SimulatedMedia struct {
	mu          sync.RWMutex
	connected   bool
	sessions    []interfaces.MediaSession
	disconnects int
	audioMuted  bool
	videoMuted  bool
	volume      int
	effect      string
	connectErr  error
}

// NewSimulatedMedia creates a disconnected media transport.
func NewSimulatedMedia() *SimulatedMedia {
	return &SimulatedMedia{volume: 100}
}

// SetConnectError makes the next connects fail with err until cleared.
func (m *SimulatedMedia) SetConnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

// Connect implements IMediaTransport.Connect with simulation
func (m *SimulatedMedia) Connect(ctx context.Context, session interfaces.MediaSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, session)
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true

	logrus.WithFields(logrus.Fields{
		"function": "SimulatedMedia.Connect",
		"call_id":  session.CallID,
		"peer_id":  session.PeerID,
	}).Info("Simulated media connected")
	return nil
}

// Disconnect implements IMediaTransport.Disconnect
func (m *SimulatedMedia) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	m.connected = false
	m.audioMuted = false
	m.videoMuted = false
	return nil
}

// MuteAudio implements IMediaTransport.MuteAudio
func (m *SimulatedMedia) MuteAudio(muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrMediaNotConnected
	}
	m.audioMuted = muted
	return nil
}

// MuteVideo implements IMediaTransport.MuteVideo
func (m *SimulatedMedia) MuteVideo(muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrMediaNotConnected
	}
	m.videoMuted = muted
	return nil
}

// SetVolume implements IMediaTransport.SetVolume
func (m *SimulatedMedia) SetVolume(volume int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrMediaNotConnected
	}
	m.volume = volume
	return nil
}

// SetAudioEffect implements IMediaTransport.SetAudioEffect. Effects may be
// set before a session exists.
func (m *SimulatedMedia) SetAudioEffect(effect string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.effect = effect
	return nil
}

// NetworkStats implements IMediaTransport.NetworkStats
func (m *SimulatedMedia) NetworkStats() interfaces.NetworkStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return interfaces.NetworkStats{}
	}
	return interfaces.NetworkStats{
		Valid:       true,
		RTT:         40 * time.Millisecond,
		Jitter:      5 * time.Millisecond,
		PacketLoss:  0.01,
		SendBitrate: 512000,
		RecvBitrate: 480000,
	}
}

// Connected reports whether a session is active.
func (m *SimulatedMedia) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// ConnectCount returns how many Connect calls were made.
func (m *SimulatedMedia) ConnectCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sessions returns every session passed to Connect.
func (m *SimulatedMedia) Sessions() []interfaces.MediaSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]interfaces.MediaSession, len(m.sessions))
	copy(out, m.sessions)
	return out
}

// DisconnectCount returns how many Disconnect calls were made.
func (m *SimulatedMedia) DisconnectCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.disconnects
}

// AudioMuted reports the current audio mute flag.
func (m *SimulatedMedia) AudioMuted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.audioMuted
}

// VideoMuted reports the current video mute flag.
func (m *SimulatedMedia) VideoMuted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.videoMuted
}

// Volume returns the last volume set.
func (m *SimulatedMedia) Volume() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.volume
}

// Effect returns the last audio effect set.
func (m *SimulatedMedia) Effect() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.effect
}
