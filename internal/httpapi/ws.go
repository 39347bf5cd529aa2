package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/windhoek-dev/aegis/internal/protocol"
)

// handleEventsWS streams engine events for one owner and accepts sensor
// readings and control actions over the same connection.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	if ownerID == "" {
		respondError(w, http.StatusBadRequest, "missing_owner_id", "query parameter owner_id is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := s.engine.Subscribe(ownerID)
	defer unsubscribe()

	outbound := make(chan any, 256)

	// Feed forwarder. The writer below is the only goroutine touching the
	// connection for writes.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				select {
				case outbound <- evt.Payload:
				default:
				}
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok && s.metrics != nil {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:    protocol.TypeErrorEvent,
				OwnerID: ownerID,
				Code:    "invalid_client_message",
				Detail:  err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
			}
			continue
		}
		if t, ok := messageTypeOf(parsed); ok && s.metrics != nil {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}

		switch msg := parsed.(type) {
		case protocol.ClientSignal:
			if msg.OwnerID != ownerID {
				continue
			}
			if _, err := s.engine.ReportSignal(ctx, ownerID, msg.Reading); err != nil {
				sendWSError(outbound, ownerID, "signal_rejected", err)
			}
		case protocol.ClientControl:
			if msg.OwnerID != ownerID {
				continue
			}
			if msg.Action == "cancel_countdown" && msg.CountdownID != "" {
				if err := s.engine.CancelCountdown(msg.CountdownID, msg.Reason); err != nil {
					sendWSError(outbound, ownerID, "cancel_failed", err)
				}
			}
		}
	}

	cancel()
	<-writerDone
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	}
}

// handleSignalsWS is a read-only tap on the normalized signal stream,
// optionally filtered to one owner. Intended for ops tooling and live
// dashboards; the client is never read from.
func (s *Server) handleSignalsWS(w http.ResponseWriter, r *http.Request) {
	ownerFilter := strings.TrimSpace(r.URL.Query().Get("owner_id"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	samples, unsubscribe := s.engine.Broker().Subscribe()
	defer unsubscribe()

	// Unsubscribing closes the sample channel, which unblocks the loop
	// below when the client goes away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				unsubscribe()
				return
			}
		}
	}()

	for sample := range samples {
		if ownerFilter != "" && sample.OwnerID != ownerFilter {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(sample); err != nil {
			return
		}
	}
}

func sendWSError(outbound chan<- any, ownerID, code string, err error) {
	msg := protocol.ErrorEvent{
		Type:    protocol.TypeErrorEvent,
		OwnerID: ownerID,
		Code:    code,
		Detail:  err.Error(),
	}
	select {
	case outbound <- msg:
	default:
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientSignal:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.SessionEvent:
		return m.Type, true
	case protocol.ThreatUpdate:
		return m.Type, true
	case protocol.CrashEvent:
		return m.Type, true
	case protocol.CountdownEvent:
		return m.Type, true
	case protocol.DispatchResult:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
