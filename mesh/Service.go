/*
File Name:  Service.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Single orchestrator tying together the wire stack (router), the Noise
session manager, the channel cipher, the peer directory, the
store-and-forward cache, and the persistent identity. Grounded on the
teacher's Backend struct and its Init/Connect lifecycle (Peernet.go):
one struct owning every subsystem, a fixed set of background goroutines
launched from Run, and a Filters-shaped delegate for application events.
*/

package mesh

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bitchat-mesh/mesh/chat"
	"github.com/bitchat-mesh/mesh/channel"
	"github.com/bitchat-mesh/mesh/directory"
	"github.com/bitchat-mesh/mesh/forward"
	"github.com/bitchat-mesh/mesh/identity"
	"github.com/bitchat-mesh/mesh/link"
	"github.com/bitchat-mesh/mesh/noise"
	"github.com/bitchat-mesh/mesh/protocol"
	"github.com/bitchat-mesh/mesh/router"
	"github.com/bitchat-mesh/mesh/store"
)

// Service is the mesh orchestrator.
type Service struct {
	cfg      Config
	delegate Delegate
	closeLog func()

	identity *identity.Identity
	router   *router.Router
	noiseMgr *noise.Manager
	dir      *directory.Directory
	fwd      *forward.Cache

	chMu     sync.Mutex
	channels map[string]*channel.Cipher
	chanReg  *channel.Registry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Service. idStore persists the local static keypair and
// rotation schedule; fwdStore backs the store-and-forward cache.
func New(cfg Config, idStore store.Store, fwdStore store.Store, delegate Delegate) (*Service, error) {
	closeLog, err := initLog(cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("mesh: init log: %w", err)
	}

	id, err := identity.Load(idStore)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("mesh: load identity: %w", err)
	}

	protocol.CompressionEnabled = cfg.CompressionEnabled

	s := &Service{
		cfg:      cfg,
		delegate: delegate,
		closeLog: closeLog,
		identity: id,
		dir:      directory.New(),
		fwd:      forward.NewCache(fwdStore, cfg.forwardConfig()),
		channels: make(map[string]*channel.Cipher),
		chanReg:  channel.NewRegistry(),
	}

	s.noiseMgr = noise.NewManager(id.PeerID, id.Static, cfg.noiseConfig(), s)
	s.router = router.New(id.PeerID, cfg.routerConfig(), s)

	return s, nil
}

// Self returns the local peer-id.
func (s *Service) Self() protocol.PeerID { return s.identity.PeerID }

// Fingerprint returns the local static-key fingerprint.
func (s *Service) Fingerprint() string { return s.identity.Fingerprint }

// AttachLink registers a transport link for relay and read dispatch.
func (s *Service) AttachLink(ctx context.Context, l link.Link) {
	s.router.AttachLink(ctx, l)
}

// Run launches the fixed set of background tasks (maintenance,
// keep-alive) and blocks until ctx is done.
func (s *Service) Run(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	maintenance := time.Duration(s.cfg.MaintenanceIntervalSeconds) * time.Second
	if maintenance <= 0 {
		maintenance = 5 * time.Second
	}
	keepalive := time.Duration(s.cfg.KeepaliveIntervalSeconds) * time.Second
	if keepalive <= 0 {
		keepalive = 60 * time.Second
	}

	s.wg.Add(2)
	go s.maintenanceLoop(maintenance)
	go s.keepaliveLoop(keepalive)

	<-s.ctx.Done()
	s.wg.Wait()
}

// Close stops background tasks and releases the log file.
func (s *Service) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.closeLog != nil {
		s.closeLog()
	}
}

func (s *Service) maintenanceLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runMaintenance()
		}
	}
}

func (s *Service) runMaintenance() {
	now := time.Now()

	s.router.PurgeFragments()
	s.noiseMgr.PurgeExpiredHandshakes(now)
	s.fwd.Purge()

	for _, p := range s.dir.Snapshot() {
		if s.noiseMgr.NeedsRekey(p.PeerID) {
			if msg, err := s.noiseMgr.Rekey(p.PeerID); err == nil && msg != nil {
				s.sendHandshakePacket(protocol.TypeNoiseHandshakeInit, p.PeerID, msg)
			}
		}
	}

	quiet := time.Duration(s.cfg.PeerQuietTimeoutMinutes) * time.Minute
	if quiet <= 0 {
		quiet = DefaultPeerQuietTimeout
	}
	for _, p := range s.dir.EvictStale(now, quiet) {
		s.noiseMgr.Drop(p.PeerID)
		s.delegate.emitDisconnect(p.PeerID)
	}

	if s.identity.ShouldRotatePeerID(now) {
		if err := s.identity.MarkRotationCompleted(now); err != nil {
			log.Printf("mesh: peer-id rotation persist failed: %v", err)
			return
		}
		s.router.SetSelf(s.identity.PeerID)
		s.noiseMgr.SetSelf(s.identity.PeerID)
	}
}

func (s *Service) keepaliveLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.SendAnnounce(s.delegate.nickname()); err != nil {
				log.Printf("mesh: keep-alive announce failed: %v", err)
			}
		}
	}
}

// --- router.Delegate ---

// Deliver is called by the router for every packet addressed to us.
func (s *Service) Deliver(pkt *protocol.Packet, from link.Link) {
	now := time.Now()

	// Bind the packet's sender to the link it arrived on, so a later
	// link loss (timeout or clean close) can raise a peer-level
	// disconnect. This assumes the common single-hop topology; a link
	// that also carries relayed traffic is rebound to whichever sender's
	// packet arrived on it last, so its loss is reported for that sender
	// only.
	if from != nil {
		s.router.BindLinkPeer(from.ID(), pkt.SenderID)
	}

	switch pkt.Type {
	case protocol.TypeAnnounce:
		s.dir.Seen(pkt.SenderID, string(pkt.Payload), now)
		s.delegate.emitConnect(pkt.SenderID)

	case protocol.TypeLeave:
		s.delegate.emitChannelLeave(string(pkt.Payload), pkt.SenderID)

	case protocol.TypeNoiseIdentityAnnounce:
		fp, err := identityFingerprintOf(pkt.Payload)
		if err == nil {
			s.dir.Bind(pkt.SenderID, fp, now)
		}

	case protocol.TypeNoiseHandshakeInit, protocol.TypeNoiseHandshakeResp:
		reply, err := s.noiseMgr.HandleHandshakeMessage(pkt.SenderID, pkt.Payload)
		if err != nil {
			log.Printf("mesh: handshake with %s failed: %v", pkt.SenderID, err)
			return
		}
		if reply != nil {
			s.sendHandshakePacket(protocol.TypeNoiseHandshakeResp, pkt.SenderID, reply)
		}

	case protocol.TypeHandshakeRequest:
		if err := s.InitiateNoiseHandshake(pkt.SenderID); err != nil {
			log.Printf("mesh: handshake request from %s could not be honored: %v", pkt.SenderID, err)
		}

	case protocol.TypeNoiseEncrypted:
		s.deliverEncrypted(pkt)

	case protocol.TypeMessage:
		s.deliverMessage(pkt, false)

	case protocol.TypeDeliveryAck:
		s.handleReceipt(pkt, s.delegate.OnDeliveryAck)

	case protocol.TypeReadReceipt:
		s.handleReceipt(pkt, s.delegate.OnReadReceipt)

	case protocol.TypeDeliveryStatusRequest:
		if s.delegate.OnDeliveryStatusRequest != nil {
			s.delegate.OnDeliveryStatusRequest(string(pkt.Payload), pkt.SenderID)
		}

	case protocol.TypeChannelAnnounce:
		tag, creator, passwordProtected, err := channel.DecodeAnnouncePayload(pkt.Payload)
		if err == nil {
			s.chanReg.Announce(tag, creator, passwordProtected)
		}

	case protocol.TypeChannelRetention:
		tag, seconds, err := channel.DecodeRetentionPayload(pkt.Payload)
		if err == nil {
			s.chanReg.SetRetention(tag, seconds)
		}

	case protocol.TypeChannelMetadata, protocol.TypeChannelPasswordUpdate:
		tag, commitment, err := channel.DecodeCommitmentPayload(pkt.Payload)
		if err == nil {
			s.chanReg.SetCommitment(tag, commitment)
		}

	case protocol.TypeChannelKeyVerifyRequest:
		tag, err := channel.DecodeTagPayload(pkt.Payload)
		if err != nil {
			return
		}
		if commitment, ok := s.chanReg.Commitment(tag); ok {
			s.sendHandshakePacket(protocol.TypeChannelKeyVerifyResponse, pkt.SenderID, channel.EncodeCommitmentPayload(tag, commitment))
		}

	case protocol.TypeChannelKeyVerifyResponse:
		tag, commitment, err := channel.DecodeCommitmentPayload(pkt.Payload)
		if err == nil {
			s.chanReg.SetCommitment(tag, commitment)
		}
	}
}

// LinkLost implements router.Delegate: a link bound (via BindLinkPeer)
// to peerID stopped producing frames, whether from a clean close or a
// read timeout. The peer's session and directory entry are torn down and
// the application is told it disconnected.
func (s *Service) LinkLost(peerID protocol.PeerID) {
	s.noiseMgr.Drop(peerID)
	s.dir.Forget(peerID)
	s.delegate.emitDisconnect(peerID)
}

func (s *Service) deliverEncrypted(pkt *protocol.Packet) {
	plaintext, err := s.noiseMgr.Decrypt(pkt.SenderID, pkt.Payload)
	if err != nil {
		log.Printf("mesh: decrypt from %s failed: %v", pkt.SenderID, err)
		return
	}

	inner, err := protocol.Decode(plaintext)
	if err != nil {
		log.Printf("mesh: decode inner packet from %s failed: %v", pkt.SenderID, err)
		return
	}
	inner.SenderID = pkt.SenderID

	if inner.Type == protocol.TypeMessage {
		s.deliverMessage(inner, true)
	}
}

func (s *Service) deliverMessage(pkt *protocol.Packet, private bool) {
	if p, known := s.dir.Lookup(pkt.SenderID); known && p.Fingerprint != "" && s.dir.IsBlocked(p.Fingerprint) {
		return
	}

	channelTag, hasChannel, content, err := chat.DecodePayload(pkt.Payload)
	if err != nil {
		log.Printf("mesh: malformed message payload from %s: %v", pkt.SenderID, err)
		return
	}

	if hasChannel {
		if cipher, ok := s.lookupChannelCipher(channelTag); ok {
			if opened, err := cipher.Open([]byte(content)); err == nil {
				content = string(opened)
			} else if s.delegate.DecryptChannelMessage != nil {
				if opened, ok := s.delegate.DecryptChannelMessage([]byte(content), channelTag); ok {
					content = string(opened)
				} else {
					return
				}
			} else {
				return
			}
		}
	}

	p, known := s.dir.Lookup(pkt.SenderID)
	senderName := pkt.SenderID.String()
	if known && p.Nickname != "" {
		senderName = p.Nickname
	}

	m := chat.NewMessage(senderName, content)
	m.SenderPeerID = pkt.SenderID
	m.HasSenderPeer = true
	m.Channel = channelTag
	m.HasChannel = hasChannel
	m.Private = private
	m.Encrypted = private
	m.Mentions = chat.ParseMentions(content)
	m.MarkDelivered(pkt.SenderID, time.Now())

	s.delegate.emitMessage(m)
}

func (s *Service) handleReceipt(pkt *protocol.Packet, emit func(messageID string, by protocol.PeerID, at time.Time)) {
	if emit == nil {
		return
	}
	emit(string(pkt.Payload), pkt.SenderID, time.Now())
}

// IsOnline reports whether peerID currently has an established Noise
// session, used by the router to decide relay vs. store-and-forward.
func (s *Service) IsOnline(peerID protocol.PeerID) bool {
	sess, ok := s.noiseMgr.Session(peerID)
	return ok && sess.State() == noise.StateEstablished
}

// Enqueue hands a directed packet to the store-and-forward cache
// because its recipient is not currently reachable.
func (s *Service) Enqueue(pkt *protocol.Packet) {
	p, ok := s.dir.Lookup(pkt.RecipientID)
	if !ok {
		return
	}
	if err := s.fwd.Enqueue(p.Fingerprint, pkt); err != nil {
		log.Printf("mesh: enqueue to %s failed: %v", p.Fingerprint, err)
	}
}

// --- noise.Delegate ---

// RegisterFingerprint binds peerID to fingerprint in the directory and
// replays any store-and-forward backlog now that the peer is reachable.
func (s *Service) RegisterFingerprint(peerID protocol.PeerID, fingerprint string) {
	s.dir.Bind(peerID, fingerprint, time.Now())

	if drained, err := s.noiseMgr.DrainPending(peerID); err == nil {
		for _, ciphertext := range drained {
			s.sendHandshakePacket(protocol.TypeNoiseEncrypted, peerID, ciphertext)
		}
	}

	queued, err := s.fwd.Replay(fingerprint)
	if err != nil {
		log.Printf("mesh: replay for %s failed: %v", fingerprint, err)
		return
	}
	for _, pkt := range queued {
		if err := s.router.Send(pkt); err != nil {
			log.Printf("mesh: replay send to %s failed: %v", fingerprint, err)
		}
	}
}

// HandshakeRequired logs that peerID's session needs a fresh handshake.
// It does nothing else: no HANDSHAKE_REQUEST is sent, and the maintenance
// pass only rekeys sessions that are already established.
func (s *Service) HandshakeRequired(peerID protocol.PeerID) {
	log.Printf("mesh: handshake required for %s", peerID)
}

// --- application-facing send API ---

func (s *Service) sendHandshakePacket(typ uint8, to protocol.PeerID, payload []byte) {
	pkt := &protocol.Packet{
		Type:         typ,
		HasRecipient: true,
		RecipientID:  to,
		Payload:      payload,
	}
	if err := s.router.Send(pkt); err != nil {
		log.Printf("mesh: send handshake packet to %s failed: %v", to, err)
	}
}

// SendPublic broadcasts content, optionally channel-encrypted.
func (s *Service) SendPublic(content string, channelTag string) (*chat.Message, error) {
	hasChannel := channelTag != ""
	body := content

	if hasChannel {
		if cipher, ok := s.lookupChannelCipher(channelTag); ok {
			sealed, err := cipher.Seal([]byte(content))
			if err != nil {
				return nil, err
			}
			body = string(sealed)
		}
	}

	payload := chat.EncodePayload(channelTag, hasChannel, body)
	pkt := &protocol.Packet{
		Type:         protocol.TypeMessage,
		HasRecipient: true,
		RecipientID:  protocol.BroadcastRecipient,
		Payload:      payload,
	}

	m := chat.NewMessage(s.delegate.nickname(), content)
	m.Channel = channelTag
	m.HasChannel = hasChannel
	m.Mentions = chat.ParseMentions(content)

	if err := s.router.Send(pkt); err != nil {
		m.MarkFailed()
		return m, err
	}
	m.MarkSent()
	return m, nil
}

// SendPrivate end-to-end encrypts content for to, using its established
// Noise session.
func (s *Service) SendPrivate(content string, to protocol.PeerID, messageID string) (*chat.Message, error) {
	payload := chat.EncodePayload("", false, content)
	inner := &protocol.Packet{Type: protocol.TypeMessage, Payload: payload}
	innerRaw, err := protocol.Encode(inner)
	if err != nil {
		return nil, err
	}

	m := chat.NewMessage(s.delegate.nickname(), content)
	m.Private = true
	m.Encrypted = true
	m.ID = messageID

	ciphertext, err := s.noiseMgr.Send(to, innerRaw)
	if err != nil {
		// Left in Sending: the plaintext is queued inside the session
		// manager and will go out once the handshake completes.
		return m, err
	}

	outer := &protocol.Packet{
		Type:         protocol.TypeNoiseEncrypted,
		HasRecipient: true,
		RecipientID:  to,
		Payload:      ciphertext,
	}
	if err := s.router.Send(outer); err != nil {
		m.MarkFailed()
		return m, err
	}
	m.MarkSent()
	return m, nil
}

// SendAnnounce broadcasts the current nickname.
func (s *Service) SendAnnounce(nickname string) error {
	pkt := &protocol.Packet{
		Type:         protocol.TypeAnnounce,
		HasRecipient: true,
		RecipientID:  protocol.BroadcastRecipient,
		Payload:      []byte(nickname),
	}
	return s.router.Send(pkt)
}

// InitiateNoiseHandshake starts a Noise_XX handshake with peer, if the
// local peer-id wins the tie-break.
func (s *Service) InitiateNoiseHandshake(peer protocol.PeerID) error {
	msg, err := s.noiseMgr.InitiateHandshake(peer)
	if err != nil {
		return err
	}
	s.sendHandshakePacket(protocol.TypeNoiseHandshakeInit, peer, msg)
	return nil
}

// SendIdentityAnnounce broadcasts the local static public key so peers
// can bind our current peer-id to our fingerprint without a full
// handshake.
func (s *Service) SendIdentityAnnounce() error {
	pkt := &protocol.Packet{
		Type:         protocol.TypeNoiseIdentityAnnounce,
		HasRecipient: true,
		RecipientID:  protocol.BroadcastRecipient,
		Payload:      append([]byte(nil), s.identity.Static.Public...),
	}
	return s.router.Send(pkt)
}

// SendHandshakeRequest asks peer to (re)initiate a handshake, e.g. after
// ours failed, noting how many messages are queued for delivery.
func (s *Service) SendHandshakeRequest(peer protocol.PeerID, pendingCount int) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(pendingCount))
	pkt := &protocol.Packet{
		Type:         protocol.TypeHandshakeRequest,
		HasRecipient: true,
		RecipientID:  peer,
		Payload:      buf[:],
	}
	return s.router.Send(pkt)
}

// ErrChannelKeyMismatch is returned by JoinChannel when a commitment is
// already known for the channel and the derived key does not satisfy it:
// the password is wrong. No ciphertext is ever attempted in this case.
var ErrChannelKeyMismatch = errors.New("mesh: derived channel key does not match the advertised commitment")

// CreateChannel derives the symmetric key for a new password-protected
// channel, advertises its key commitment (CHANNEL_METADATA) and creation
// (CHANNEL_ANNOUNCE) to the mesh, and joins it locally.
func (s *Service) CreateChannel(tag, password string) error {
	key := channel.DeriveKey(password, tag)
	cipher, err := channel.NewCipher(key)
	if err != nil {
		return err
	}
	commitment := channel.Commitment(key)

	s.chMu.Lock()
	s.channels[tag] = cipher
	s.chMu.Unlock()
	s.chanReg.SetCommitment(tag, commitment)
	s.chanReg.Announce(tag, s.Self(), true)

	if err := s.broadcast(protocol.TypeChannelMetadata, channel.EncodeCommitmentPayload(tag, commitment)); err != nil {
		return err
	}
	return s.broadcast(protocol.TypeChannelAnnounce, channel.EncodeAnnouncePayload(tag, s.Self(), true))
}

// JoinChannel derives the symmetric key for a password channel and, if a
// key commitment has already been learned for tag (via CHANNEL_METADATA
// or a key-verify exchange), verifies the derived key against it before
// storing the cipher. If no commitment is known yet, the cipher is
// stored provisionally and a CHANNEL_KEY_VERIFY_REQUEST is broadcast. A
// commitment that arrives later is recorded and checked by the next
// JoinChannel call for tag; the provisionally stored cipher is not
// re-checked when the commitment arrives.
func (s *Service) JoinChannel(tag, password string) error {
	key := channel.DeriveKey(password, tag)

	if commitment, ok := s.chanReg.Commitment(tag); ok && !channel.VerifyCommitment(key, commitment) {
		return ErrChannelKeyMismatch
	}

	cipher, err := channel.NewCipher(key)
	if err != nil {
		return err
	}
	s.chMu.Lock()
	s.channels[tag] = cipher
	s.chMu.Unlock()

	if _, ok := s.chanReg.Commitment(tag); !ok {
		return s.broadcast(protocol.TypeChannelKeyVerifyRequest, channel.EncodeTagPayload(tag))
	}
	return nil
}

// SendChannelRetention broadcasts how long members should retain tag's
// message history.
func (s *Service) SendChannelRetention(tag string, window time.Duration) error {
	s.chanReg.SetRetention(tag, uint32(window.Seconds()))
	return s.broadcast(protocol.TypeChannelRetention, channel.EncodeRetentionPayload(tag, uint32(window.Seconds())))
}

// SendChannelPasswordUpdate rotates tag's password: it derives the new
// key, advertises the new commitment, and joins locally under the new
// key. Existing members must rejoin with the new password to keep
// decrypting.
func (s *Service) SendChannelPasswordUpdate(tag, newPassword string) error {
	key := channel.DeriveKey(newPassword, tag)
	cipher, err := channel.NewCipher(key)
	if err != nil {
		return err
	}
	commitment := channel.Commitment(key)

	s.chMu.Lock()
	s.channels[tag] = cipher
	s.chMu.Unlock()
	s.chanReg.SetCommitment(tag, commitment)

	return s.broadcast(protocol.TypeChannelPasswordUpdate, channel.EncodeCommitmentPayload(tag, commitment))
}

// SendLeave announces departure from tag to the mesh.
func (s *Service) SendLeave(tag string) error {
	return s.broadcast(protocol.TypeLeave, []byte(tag))
}

// SendDeliveryAck acknowledges receipt of messageID to its sender.
func (s *Service) SendDeliveryAck(to protocol.PeerID, messageID string) error {
	s.sendHandshakePacket(protocol.TypeDeliveryAck, to, []byte(messageID))
	return nil
}

// SendReadReceipt tells to that messageID has been read locally.
func (s *Service) SendReadReceipt(to protocol.PeerID, messageID string) error {
	s.sendHandshakePacket(protocol.TypeReadReceipt, to, []byte(messageID))
	return nil
}

// SendDeliveryStatusRequest asks to for the current delivery status of
// messageID, e.g. after reconnecting without having seen an ack.
func (s *Service) SendDeliveryStatusRequest(to protocol.PeerID, messageID string) error {
	s.sendHandshakePacket(protocol.TypeDeliveryStatusRequest, to, []byte(messageID))
	return nil
}

func (s *Service) broadcast(typ uint8, payload []byte) error {
	pkt := &protocol.Packet{
		Type:         typ,
		HasRecipient: true,
		RecipientID:  protocol.BroadcastRecipient,
		Payload:      payload,
	}
	return s.router.Send(pkt)
}

func (s *Service) lookupChannelCipher(tag string) (*channel.Cipher, bool) {
	s.chMu.Lock()
	defer s.chMu.Unlock()
	c, ok := s.channels[tag]
	return c, ok
}

func identityFingerprintOf(staticPub []byte) (string, error) {
	if len(staticPub) == 0 {
		return "", fmt.Errorf("mesh: empty static key in identity announce")
	}
	return noise.FingerprintOf(staticPub), nil
}
