package networking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/internal/metrics"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

var (
	ErrManagerClosed = errors.New("connection manager is closed")
	ErrInvalidOffer  = errors.New("session description is not an offer")
)

// Payload type used for the audio track in every answer
const audioPayloadType webrtc.PayloadType = 111

// ConnectionManager answers WebRTC offers from listeners and sends each of them
// the single shared audio track.
//
// The general flow of a connection is as follows:
//
//  1. A listener POSTs an SDP offer to the signalling endpoint (see internal/server).
//
//  2. HandleOffer creates a new webrtc.PeerConnection carrying the shared track, answers
//     the offer, and waits for ICE gathering to complete so the answer holds every candidate.
//
//  3. The answer is returned to the listener, which completes the connection.
//     Audio written to the track (see TrackTransport) now reaches the listener.
//
//  4. When the connection fails or is closed, the peer is forgotten.
//
// Peers are tracked by a uuid, and are closed by Close.
type ConnectionManager struct {
	logger *slog.Logger

	api                     *webrtc.API
	connectionConfiguration webrtc.Configuration
	track                   *webrtc.TrackLocalStaticSample
	metrics                 *metrics.Metrics

	peersMutex sync.Mutex
	peers      map[uuid.UUID]*webrtc.PeerConnection
	closed     bool
}

// Create a new ConnectionManager sending audio encoded with trackCodec.
//
// connectionConfig defines the configuration (e.g. ICE servers) of every webrtc.PeerConnection.
// See https://github.com/pion/webrtc for details on these options.
func NewConnectionManager(
	connectionConfig webrtc.Configuration,
	trackCodec webrtc.RTPCodecCapability,
	m *metrics.Metrics,
) (*ConnectionManager, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: trackCodec,
		PayloadType:        audioPayloadType,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}

	track, err := webrtc.NewTrackLocalStaticSample(trackCodec, "audio", "sinkcast")
	if err != nil {
		return nil, err
	}

	return &ConnectionManager{
		logger: slog.Default().With(
			"connection manager uuid", uuid.New(),
		),
		api:                     webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine)),
		connectionConfiguration: connectionConfig,
		track:                   track,
		metrics:                 metrics.OrUnregistered(m),
		peers:                   make(map[uuid.UUID]*webrtc.PeerConnection),
	}, nil
}

// The track shared by every peer. Write encoded audio here.
func (manager *ConnectionManager) Track() *webrtc.TrackLocalStaticSample {
	return manager.track
}

func (manager *ConnectionManager) NumPeers() int {
	manager.peersMutex.Lock()
	defer manager.peersMutex.Unlock()
	return len(manager.peers)
}

// Answer an SDP offer from a new listener.
//
// Blocks until ICE gathering completes or ctx is done. On any error the new
// peer connection is closed and forgotten.
func (manager *ConnectionManager) HandleOffer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if offer.Type != webrtc.SDPTypeOffer {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidOffer, offer.Type)
	}

	peerUUID := uuid.New()
	requestLogger := manager.logger.WithGroup("request").With(
		"peerUUID", peerUUID.String(),
	)
	requestLogger.Debug("new incoming session offer")

	pc, err := manager.api.NewPeerConnection(manager.connectionConfiguration)
	if err != nil {
		requestLogger.Error(
			"error while creating new peer connection for listening",
			"err", err,
		)
		return nil, err
	}

	if err := manager.addPeer(peerUUID, pc); err != nil {
		pc.Close()
		return nil, err
	}

	answer, err := manager.answer(ctx, requestLogger, peerUUID, pc, offer)
	if err != nil {
		manager.removePeer(peerUUID)
		pc.Close()
		return nil, err
	}
	return answer, nil
}

func (manager *ConnectionManager) answer(
	ctx context.Context,
	requestLogger *slog.Logger,
	peerUUID uuid.UUID,
	pc *webrtc.PeerConnection,
	offer webrtc.SessionDescription,
) (*webrtc.SessionDescription, error) {
	rtpSender, err := pc.AddTrack(manager.track)
	if err != nil {
		requestLogger.Error("error while adding audio track", "err", err)
		return nil, err
	}

	// RTCP packets must be read for interceptors (NACK, reports) to work
	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, err := rtpSender.Read(rtcpBuf); err != nil {
				return
			}
		}
	}()

	var connected atomic.Bool
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		requestLogger.Debug("connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			if connected.CompareAndSwap(false, true) {
				manager.metrics.ConnectedPeers.Inc()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if connected.CompareAndSwap(true, false) {
				manager.metrics.ConnectedPeers.Dec()
			}
			if manager.removePeer(peerUUID) {
				pc.Close()
			}
		}
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		requestLogger.Error(
			"error while setting remote description of new peer connection",
			"err", err,
		)
		return nil, err
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		requestLogger.Error(
			"error while creating answer of new peer connection",
			"err", err,
		)
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		requestLogger.Error(
			"error while setting local description of new peer connection",
			"err", err,
		)
		return nil, err
	}

	// Wait for ICE to resolve, finalizing the answer
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		requestLogger.Warn("context done before ICE gathering completed", "err", ctx.Err())
		return nil, ctx.Err()
	}
	requestLogger.Debug("answering peer connection ICE resolved")

	return pc.LocalDescription(), nil
}

func (manager *ConnectionManager) addPeer(peerUUID uuid.UUID, pc *webrtc.PeerConnection) error {
	manager.peersMutex.Lock()
	defer manager.peersMutex.Unlock()
	if manager.closed {
		return ErrManagerClosed
	}
	manager.peers[peerUUID] = pc
	return nil
}

// Forget a peer. Reports whether it was still tracked.
func (manager *ConnectionManager) removePeer(peerUUID uuid.UUID) bool {
	manager.peersMutex.Lock()
	defer manager.peersMutex.Unlock()
	_, ok := manager.peers[peerUUID]
	delete(manager.peers, peerUUID)
	return ok
}

// Close every peer connection. No further offers are accepted.
func (manager *ConnectionManager) Close() error {
	manager.peersMutex.Lock()
	manager.closed = true
	peers := manager.peers
	manager.peers = make(map[uuid.UUID]*webrtc.PeerConnection)
	manager.peersMutex.Unlock()

	var err error
	for _, pc := range peers {
		err = errors.Join(err, pc.Close())
	}
	manager.logger.Debug("closed", "peers", len(peers))
	return err
}
