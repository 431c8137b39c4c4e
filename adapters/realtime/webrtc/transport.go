// Package webrtc carries the realtime session over a WebRTC peer connection:
// audio travels as an Opus media track and every other event on the
// "oai-events" data channel.
package webrtc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"

	"github.com/satriahrh/voicebridge/adapters/realtime"
	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/entities"
	"github.com/satriahrh/voicebridge/domain/repositories"
	"github.com/satriahrh/voicebridge/internal/audio"
)

const (
	opusSampleRate   = 48000
	opusFrameMs      = 20
	opusFrameSamples = opusSampleRate * opusFrameMs / 1000
	maxOpusPacket    = 4000
	// 120ms is the longest Opus frame.
	maxDecodedSamples = opusSampleRate * 120 / 1000

	dataChannelLabel = "oai-events"
	eventBuffer      = 256
)

// Config configures a Transport.
// - Credentials: where the ephemeral session credential comes from
// - ICEServers: STUN/TURN urls (default: Google public STUN)
// - HTTPClient: used for the SDP exchange (default: 15s timeout)
type Config struct {
	Credentials repositories.CredentialBroker
	ICEServers  []string
	HTTPClient  *http.Client
}

// Transport implements repositories.Transport over WebRTC.
type Transport struct {
	config Config
	logger *zap.Logger
	state  *realtime.StateTracker

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	dc      *webrtc.DataChannel
	handler func(domain.Event)

	sendMu     sync.Mutex
	track      *webrtc.TrackLocalStaticSample
	encoder    *opus.Encoder
	packetizer *Packetizer
	opusBuf    []byte

	events    chan domain.Event
	closeCh   chan struct{}
	closeOnce sync.Once
}

var _ repositories.Transport = (*Transport)(nil)

// NewTransport creates an unconnected WebRTC transport.
func NewTransport(config Config, logger *zap.Logger) *Transport {
	if len(config.ICEServers) == 0 {
		config.ICEServers = []string{"stun:stun.l.google.com:19302"}
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Transport{
		config:     config,
		logger:     logger,
		state:      realtime.NewStateTracker(),
		packetizer: NewPacketizer(opusFrameSamples),
		opusBuf:    make([]byte, maxOpusPacket),
		events:     make(chan domain.Event, eventBuffer),
		closeCh:    make(chan struct{}),
	}
}

func (t *Transport) OnMessage(handler func(domain.Event)) {
	t.mu.Lock()
	t.handler = handler
	t.mu.Unlock()
}

func (t *Transport) OnStateChange(handler func(entities.ConnState)) {
	t.state.Observe(handler)
}

func (t *Transport) State() entities.ConnState {
	return t.state.State()
}

// Connect mints a credential, negotiates the peer connection and waits for
// the data channel to open.
func (t *Transport) Connect(ctx context.Context) error {
	if t.state.State() != entities.ConnStateIdle {
		return fmt.Errorf("failed to connect: transport already used (%s)", t.state.State())
	}
	t.state.Set(entities.ConnStateConnecting)

	if err := t.connect(ctx); err != nil {
		t.state.Set(entities.ConnStateFailed)
		t.Close()
		return err
	}
	go t.dispatch()
	t.state.Set(entities.ConnStateOpen)
	t.logger.Info("Realtime WebRTC link established")
	return nil
}

func (t *Transport) connect(ctx context.Context) error {
	cred, err := t.config.Credentials.MintSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain session credential: %w", err)
	}
	if cred.TransportEndpoint == "" {
		return fmt.Errorf("failed to connect: %w: credential has no webrtc endpoint", domain.ErrProtocol)
	}

	encoder, err := opus.NewEncoder(opusSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return fmt.Errorf("failed to create opus encoder: %w", err)
	}
	decoder, err := opus.NewDecoder(opusSampleRate, 1)
	if err != nil {
		return fmt.Errorf("failed to create opus decoder: %w", err)
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: t.config.ICEServers}},
	})
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusSampleRate, Channels: 2},
		"audio", "voicebridge-mic",
	)
	if err != nil {
		pc.Close()
		return fmt.Errorf("failed to create audio track: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		pc.Close()
		return fmt.Errorf("failed to add audio track: %w", err)
	}
	go drainRTCP(sender)

	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("failed to create data channel: %w", err)
	}

	t.mu.Lock()
	t.pc = pc
	t.dc = dc
	t.mu.Unlock()
	t.sendMu.Lock()
	t.track = track
	t.encoder = encoder
	t.sendMu.Unlock()

	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.push(realtime.DecodeEvent(msg.Data))
	})
	dc.OnClose(func() {
		t.logger.Info("Realtime data channel closed")
		t.push(linkLost{state: entities.ConnStateClosed})
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		t.logger.Debug("Remote audio track", zap.String("codec", remote.Codec().MimeType))
		go t.readRemote(remote, decoder)
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		t.logger.Debug("Peer connection state", zap.String("state", s.String()))
		if s == webrtc.PeerConnectionStateFailed {
			t.push(linkLost{state: entities.ConnStateFailed})
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return fmt.Errorf("failed to gather ice candidates: %w: %v", domain.ErrNetwork, ctx.Err())
	}

	answer, err := t.exchangeSDP(ctx, cred, pc.LocalDescription().SDP)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return fmt.Errorf("failed to set remote description: %w: %v", domain.ErrProtocol, err)
	}

	select {
	case <-opened:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to open data channel: %w: %v", domain.ErrNetwork, ctx.Err())
	}
}

// exchangeSDP posts the offer to the regional WebRTC endpoint and returns
// the answer.
func (t *Transport) exchangeSDP(ctx context.Context, cred *entities.SessionCredential, offer string) (string, error) {
	endpoint, err := url.Parse(cred.TransportEndpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse webrtc endpoint: %w: %v", domain.ErrProtocol, err)
	}
	if cred.Model != "" {
		q := endpoint.Query()
		q.Set("model", cred.Model)
		endpoint.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewBufferString(offer))
	if err != nil {
		return "", fmt.Errorf("failed to create sdp request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.Credential)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := t.config.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send offer: %w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read answer: %w: %v", domain.ErrNetwork, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("failed to send offer: %w: status %d", domain.ErrAuth, resp.StatusCode)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return "", fmt.Errorf("failed to send offer: %w: status %d: %s", domain.ErrProtocol, resp.StatusCode, string(body))
	}
	return string(body), nil
}

// Send encodes audio onto the media track and everything else onto the
// data channel.
func (t *Transport) Send(event domain.ClientEvent) error {
	if t.state.State() != entities.ConnStateOpen {
		return domain.ErrNotConnected
	}
	if ev, ok := event.(domain.AppendAudio); ok {
		return t.sendAudio(ev.Frame)
	}

	data, err := realtime.EncodeEvent(event)
	if err != nil {
		return err
	}
	t.mu.Lock()
	dc := t.dc
	t.mu.Unlock()
	if dc == nil {
		return domain.ErrNotConnected
	}
	if err := dc.Send(data); err != nil {
		return fmt.Errorf("failed to send %s: %w: %v", event.ClientEventType(), domain.ErrNetwork, err)
	}
	return nil
}

func (t *Transport) sendAudio(frame entities.AudioFrame) error {
	upsampled := audio.InterpolatePCM16(frame.Samples(), opusSampleRate/entities.ProviderAudioFormat.SampleRate)

	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if t.track == nil {
		return domain.ErrNotConnected
	}
	for _, packet := range t.packetizer.Push(upsampled) {
		n, err := t.encoder.Encode(packet, t.opusBuf)
		if err != nil {
			return fmt.Errorf("failed to encode opus: %w", err)
		}
		if err := t.track.WriteSample(media.Sample{Data: t.opusBuf[:n], Duration: opusFrameMs * time.Millisecond}); err != nil {
			return fmt.Errorf("failed to write audio sample: %w: %v", domain.ErrNetwork, err)
		}
	}
	return nil
}

func (t *Transport) readRemote(remote *webrtc.TrackRemote, decoder *opus.Decoder) {
	pcm := make([]int16, maxDecodedSamples)
	factor := opusSampleRate / entities.ProviderAudioFormat.SampleRate
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			t.logger.Debug("Remote audio track ended", zap.Error(err))
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := decoder.Decode(pkt.Payload, pcm)
		if err != nil {
			t.logger.Warn("Failed to decode remote opus packet", zap.Error(err))
			continue
		}
		frame := entities.NewAudioFrameFromSamples(audio.DecimatePCM16(pcm[:n], factor))
		t.push(domain.AudioDelta{Frame: frame})
	}
}

func (t *Transport) push(event domain.Event) {
	select {
	case <-t.closeCh:
	case t.events <- event:
	}
}

func (t *Transport) dispatch() {
	for {
		select {
		case <-t.closeCh:
			return
		case event := <-t.events:
			if lost, ok := event.(linkLost); ok {
				t.state.SetUnlessTerminal(lost.state)
				continue
			}
			t.mu.Lock()
			handler := t.handler
			t.mu.Unlock()
			if handler != nil {
				handler(event)
			}
		}
	}
}

// Close tears down the peer connection. Safe to call repeatedly.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closeCh)
		err = t.teardown()
		t.state.SetUnlessTerminal(entities.ConnStateClosed)
	})
	return err
}

func (t *Transport) teardown() error {
	t.sendMu.Lock()
	t.track = nil
	t.sendMu.Unlock()

	t.mu.Lock()
	pc := t.pc
	t.pc = nil
	t.dc = nil
	t.mu.Unlock()
	if pc == nil {
		return nil
	}
	return pc.Close()
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// linkLost travels through the event queue so the state change is ordered
// after earlier events.
type linkLost struct {
	domain.Ignored
	state entities.ConnState
}

// Packetizer slices a continuous sample stream into fixed-size packets,
// carrying the remainder over to the next push.
type Packetizer struct {
	size    int
	pending []int16
}

// NewPacketizer creates a packetizer emitting packets of size samples.
func NewPacketizer(size int) *Packetizer {
	return &Packetizer{size: size}
}

// Push appends samples and returns every complete packet.
func (p *Packetizer) Push(samples []int16) [][]int16 {
	p.pending = append(p.pending, samples...)
	var packets [][]int16
	for len(p.pending) >= p.size {
		packet := make([]int16, p.size)
		copy(packet, p.pending[:p.size])
		packets = append(packets, packet)
		p.pending = p.pending[p.size:]
	}
	if len(p.pending) == 0 {
		p.pending = nil
	}
	return packets
}

// Pending is the number of buffered samples not yet emitted.
func (p *Packetizer) Pending() int {
	return len(p.pending)
}
