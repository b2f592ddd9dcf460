package ws

import (
	"encoding/base64"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sigcoord/coordinator/coordinator"
	"github.com/sigcoord/coordinator/internal/coordinatorlog"
	"github.com/sigcoord/coordinator/ledger"
	"github.com/sigcoord/coordinator/protocol"
	"github.com/sigcoord/coordinator/session"
)

// authFailCloseDelay is the small delay between sending AUTH_FAILED and
// closing the connection, giving the writer goroutine a chance to flush
// the frame first.
const authFailCloseDelay = 200 * time.Millisecond

// readLoop decodes inbound frames and dispatches them until the connection
// errors or closes.
func (s *ConnectionServer) readLoop(c *conn) {
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.HeartbeatTimeout))
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		env, err := protocol.Decode(raw)
		if err != nil {
			s.sendError(c, "", err.Error())
			continue
		}
		s.dispatch(c, env)
	}
}

// writeLoop drains c.send and, on its own ticker, emits protocol-level
// PING frames. The JSON PING/PONG pair is the contractual heartbeat,
// layered over whatever native ping/pong the transport offers underneath.
func (s *ConnectionServer) writeLoop(c *conn) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.mu.Lock()
			idle := time.Since(c.lastPong)
			c.mu.Unlock()
			if idle > s.cfg.HeartbeatTimeout {
				s.log.Warn("heartbeat timeout, closing connection")
				_ = c.ws.Close()
				return
			}
			frame, err := protocol.Encode(protocol.TypePing, struct{}{})
			if err != nil {
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}

func (s *ConnectionServer) dispatch(c *conn, env *protocol.Envelope) {
	if !protocol.KnownType(env.Type) {
		s.sendError(c, "", "unknown message type")
		return
	}

	switch env.Type {
	case protocol.TypeAuth:
		s.handleAuth(c, env)
	case protocol.TypeParticipantReady:
		s.handleParticipantReady(c, env)
	case protocol.TypeSignatureSubmit:
		s.handleSignatureSubmit(c, env)
	case protocol.TypeTransactionReceived:
		s.handleTransactionInjection(c, env)
	case protocol.TypeTransactionRejected:
		s.handleTransactionRejected(c, env)
	case protocol.TypePong:
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
	case protocol.TypePing:
		frame, err := protocol.Encode(protocol.TypePong, struct{}{})
		if err == nil {
			s.enqueue(c, frame, false)
		}
	default:
		s.sendError(c, "", "unsupported message type for this connection")
	}
}

func (s *ConnectionServer) handleAuth(c *conn, env *protocol.Envelope) {
	var req protocol.AuthRequest
	if err := protocol.DecodePayload(env, &req); err != nil {
		s.sendError(c, "", "malformed AUTH payload")
		return
	}

	sess, participant, cerr := s.mgr.Authenticate(c.remoteAddr, req.SessionID, req.AuthToken, req.Label)
	if cerr != nil {
		frame, _ := protocol.Encode(protocol.TypeAuthFailed, protocol.AuthFailed{Reason: cerr.Code})
		s.enqueue(c, frame, false)
		// Any AUTH failure (rate-limited or not) closes the connection
		// after a small delay so the AUTH_FAILED frame flushes first.
		go func() {
			time.Sleep(authFailCloseDelay)
			_ = c.ws.Close()
		}()
		return
	}

	c.mu.Lock()
	c.role = req.Role
	c.mu.Unlock()
	s.registerAuthenticated(c, sess.ID(), participant.ID)

	threshold, eligibleCount, expected, status, expiresAt := sess.Info()
	frame, _ := protocol.Encode(protocol.TypeAuthSuccess, protocol.AuthSuccess{
		ParticipantID: participant.ID,
		SessionInfo: protocol.SessionInfo{
			SessionID:            sess.ID(),
			Threshold:            threshold,
			EligibleKeyCount:     eligibleCount,
			ExpectedParticipants: expected,
			Status:               string(status),
			ExpiresAt:            expiresAt.Unix(),
		},
	})
	s.enqueue(c, frame, false)

	// Replay the last TRANSACTION_RECEIVED so a late-arriving participant
	// still learns about an already-injected transaction.
	if tx := sess.Transaction(); tx != nil {
		s.enqueue(c, s.encodeTransactionReceived(tx), true)
	}
}

func (s *ConnectionServer) handleParticipantReady(c *conn, env *protocol.Envelope) {
	sessionID, participantID, ok := s.identity(c)
	if !ok {
		s.sendError(c, "", "not authenticated")
		return
	}
	var req protocol.ParticipantReadyRequest
	if err := protocol.DecodePayload(env, &req); err != nil {
		s.sendError(c, sessionID, "malformed PARTICIPANT_READY payload")
		return
	}
	if _, cerr := s.mgr.ParticipantReady(sessionID, participantID, req.PublicKey); cerr != nil {
		s.sendError(c, sessionID, cerr.Message)
	}
}

func (s *ConnectionServer) handleSignatureSubmit(c *conn, env *protocol.Envelope) {
	sessionID, participantID, ok := s.identity(c)
	if !ok {
		s.sendError(c, "", "not authenticated")
		return
	}
	var req protocol.SignatureSubmitRequest
	if err := protocol.DecodePayload(env, &req); err != nil {
		s.sendError(c, sessionID, "malformed SIGNATURE_SUBMIT payload")
		return
	}

	result, cerr := s.mgr.SubmitSignature(sessionID, participantID, req.PublicKey, req.Signature)
	if cerr != nil {
		s.sendError(c, sessionID, cerr.Message)
		return
	}
	if result.Outcome == session.SignatureAccepted || result.Outcome == session.SignatureAlreadyAccepted {
		frame, _ := protocol.Encode(protocol.TypeSignatureAccepted, struct{}{})
		s.enqueue(c, frame, false)
		return
	}
	frame, _ := protocol.Encode(protocol.TypeSignatureRejected, protocol.SignatureRejected{Reason: string(result.Outcome)})
	s.enqueue(c, frame, false)
}

// handleTransactionInjection lets a coordinator-role connection supply the
// frozen transaction over the wire: the same TRANSACTION_RECEIVED shape is
// reused inbound (by the operator) and outbound (broadcast to signers),
// since the payload the operator supplies and the payload participants
// receive are identical.
func (s *ConnectionServer) handleTransactionInjection(c *conn, env *protocol.Envelope) {
	sessionID, _, ok := s.identity(c)
	if !ok {
		s.sendError(c, "", "not authenticated")
		return
	}
	c.mu.Lock()
	role := c.role
	c.mu.Unlock()
	if role != protocol.RoleCoordinator {
		s.sendError(c, sessionID, "only a coordinator connection may inject a transaction")
		return
	}

	var req protocol.TransactionReceived
	if err := protocol.DecodePayload(env, &req); err != nil {
		s.sendError(c, sessionID, "malformed TRANSACTION_RECEIVED payload")
		return
	}
	txBytes, err := base64.StdEncoding.DecodeString(req.FrozenTransactionBase64)
	if err != nil {
		s.sendError(c, sessionID, "frozen_transaction_base64 is not valid base64")
		return
	}
	if cerr := s.mgr.InjectTransaction(sessionID, txBytes, req.TxSummary); cerr != nil {
		s.sendError(c, sessionID, cerr.Message)
	}
}

func (s *ConnectionServer) handleTransactionRejected(c *conn, env *protocol.Envelope) {
	sessionID, participantID, ok := s.identity(c)
	if !ok {
		s.sendError(c, "", "not authenticated")
		return
	}
	var req protocol.TransactionRejectedRequest
	if err := protocol.DecodePayload(env, &req); err != nil {
		s.sendError(c, sessionID, "malformed TRANSACTION_REJECTED payload")
		return
	}
	if cerr := s.mgr.RejectTransaction(sessionID, participantID, req.Reason); cerr != nil {
		s.sendError(c, sessionID, cerr.Message)
	}
}

func (s *ConnectionServer) identity(c *conn) (sessionID, participantID string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.participantID, c.authenticated
}

func (s *ConnectionServer) sendError(c *conn, sessionID, message string) {
	frame, err := protocol.Encode(protocol.TypeError, protocol.ErrorPayload{Message: message})
	if err != nil {
		return
	}
	s.enqueue(c, frame, false)
}

func (s *ConnectionServer) encodeTransactionReceived(tx *session.FrozenTransaction) []byte {
	frame, _ := protocol.Encode(protocol.TypeTransactionReceived, protocol.TransactionReceived{
		FrozenTransactionBase64: base64.StdEncoding.EncodeToString(tx.Bytes),
		TxSummary:               tx.Summary,
	})
	return frame
}

// fanOutEvents drains the Manager's event channel for the server's whole
// lifetime, translating each coordinator.Event into a wire Envelope and
// routing it to the right connection(s).
func (s *ConnectionServer) fanOutEvents() {
	for {
		select {
		case ev, ok := <-s.mgr.Events():
			if !ok {
				return
			}
			s.routeEvent(ev)
		case <-s.stop:
			return
		}
	}
}

func (s *ConnectionServer) routeEvent(ev coordinator.Event) {
	frame, critical := s.eventToFrame(ev)
	if frame == nil {
		return
	}

	s.mu.RLock()
	byParticipant := s.bySession[ev.SessionID]
	var targets []*conn
	if ev.Broadcast {
		targets = make([]*conn, 0, len(byParticipant))
		for _, c := range byParticipant {
			targets = append(targets, c)
		}
	} else if c, ok := byParticipant[ev.TargetParticipantID]; ok {
		targets = []*conn{c}
	}
	s.mu.RUnlock()

	for _, c := range targets {
		s.enqueue(c, frame, critical)
	}
}

// eventToFrame returns the encoded wire frame for ev and whether delivery
// is critical (TRANSACTION_RECEIVED/TRANSACTION_EXECUTED must not be
// silently dropped under back-pressure).
func (s *ConnectionServer) eventToFrame(ev coordinator.Event) ([]byte, bool) {
	switch ev.Kind {
	case coordinator.EventParticipantConnected:
		p, ok := ev.Payload.(coordinator.ParticipantConnectedPayload)
		if !ok {
			return nil, false
		}
		frame, _ := protocol.Encode(protocol.TypeParticipantConnected, protocol.ParticipantConnected{ParticipantID: p.ParticipantID, Label: p.Label})
		return frame, false

	case coordinator.EventParticipantDisconnected:
		p, ok := ev.Payload.(coordinator.ParticipantDisconnectedPayload)
		if !ok {
			return nil, false
		}
		frame, _ := protocol.Encode(protocol.TypeParticipantDisconnected, protocol.ParticipantDisconnected{ParticipantID: p.ParticipantID})
		return frame, false

	case coordinator.EventParticipantReady:
		p, ok := ev.Payload.(coordinator.ParticipantReadyPayload)
		if !ok {
			return nil, false
		}
		frame, _ := protocol.Encode(protocol.TypeParticipantReady, protocol.ParticipantReadyBroadcast{ParticipantID: p.ParticipantID, AllReady: p.AllReady})
		return frame, false

	case coordinator.EventTransactionReceived:
		p, ok := ev.Payload.(coordinator.TransactionReceivedPayload)
		if !ok {
			return nil, true
		}
		frame, _ := protocol.Encode(protocol.TypeTransactionReceived, protocol.TransactionReceived{
			FrozenTransactionBase64: base64.StdEncoding.EncodeToString(p.TxBytes),
			TxSummary:               p.Summary,
		})
		return frame, true

	case coordinator.EventThresholdMet:
		p, ok := ev.Payload.(coordinator.ThresholdMetPayload)
		if !ok {
			return nil, false
		}
		frame, _ := protocol.Encode(protocol.TypeThresholdMet, protocol.ThresholdMetEvent{Threshold: p.Threshold})
		return frame, false

	case coordinator.EventTransactionExecuted:
		result, ok := ev.Payload.(ledger.Result)
		if !ok {
			return nil, true
		}
		frame, _ := protocol.Encode(protocol.TypeTransactionExecuted, protocol.TransactionExecuted{TransactionID: result.TransactionID, Status: result.Status})
		return frame, true

	case coordinator.EventSessionExpired:
		p, ok := ev.Payload.(coordinator.SessionExpiredPayload)
		if !ok {
			return nil, false
		}
		frame, _ := protocol.Encode(protocol.TypeSessionExpired, protocol.SessionExpiredEvent{Reason: p.Reason})
		return frame, false

	case coordinator.EventError:
		p, ok := ev.Payload.(coordinator.ErrorEventPayload)
		if !ok {
			return nil, false
		}
		frame, _ := protocol.Encode(protocol.TypeError, protocol.ErrorPayload{Message: p.Err.Message, Code: p.Err.Code})
		return frame, false

	default:
		s.log.Warn("unrecognized event kind", coordinatorlog.String("kind", string(ev.Kind)))
		return nil, false
	}
}
