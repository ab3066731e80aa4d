package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sentinal-realtime/internal/domain"
	"sentinal-realtime/internal/realtime"
	"sentinal-realtime/internal/services"
	"sentinal-realtime/internal/transport/wsdto"
	sentinal_errors "sentinal-realtime/pkg/errors"
)

// Services are the domain services the hub dispatches client frames to.
type Services struct {
	Presence *services.PresenceService
	Sessions *services.SessionService
	Messages *services.MessageService
	Signals  *services.SignalService
	Offline  *services.OfflineService
}

// Hub owns the lifecycle of every websocket client on this instance and
// routes their frames to the services.
type Hub struct {
	services Services
	logger   *WebSocketLogger

	mu      sync.Mutex
	clients map[string]*Client
	stopped bool
	wg      sync.WaitGroup
}

func NewHub(svcs Services, logger *WebSocketLogger) *Hub {
	if logger == nil {
		logger = NewWebSocketLogger(nil)
	}
	return &Hub{
		services: svcs,
		logger:   logger,
		clients:  make(map[string]*Client),
	}
}

// register marks the client online, replays its offline queue and starts
// its pumps.
func (h *Hub) register(client *Client) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return sentinal_errors.ErrServiceUnavailable
	}
	h.clients[client.clientID] = client
	h.wg.Add(1)
	h.mu.Unlock()

	ctx := client.baseContext()
	if err := h.services.Presence.Connect(ctx, client); err != nil {
		h.mu.Lock()
		delete(h.clients, client.clientID)
		h.mu.Unlock()
		h.wg.Done()
		return fmt.Errorf("presence connect: %w", err)
	}

	h.logger.Info("client connected", client.principal.ID, client.clientID)
	go client.writePump()

	replayed, err := h.services.Offline.Replay(ctx, client)
	if err != nil {
		h.logger.Error("offline replay failed", client.principal.ID, client.clientID, err)
	} else if replayed > 0 {
		h.logger.Info("offline queue replayed", client.principal.ID, client.clientID, zap.Int("count", replayed))
	}

	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
	return nil
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.clientID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.clientID)
	h.mu.Unlock()

	h.services.Sessions.Disconnect(client.baseContext(), client)
	client.close()
	h.logger.Info("client disconnected", client.principal.ID, client.clientID,
		zap.Duration("session", time.Since(client.connectedAt)))
}

// dispatch runs one client request and returns the acknowledgement data.
func (h *Hub) dispatch(ctx context.Context, conn realtime.Conn, frame wsdto.Frame) (any, error) {
	switch frame.Event {
	case domain.EventJoin:
		var req wsdto.JoinRequest
		if err := wsdto.Decode(frame.Data, &req); err != nil {
			return nil, err
		}
		return h.services.Sessions.Join(ctx, conn, req.ThreadID)

	case domain.EventLeave:
		var req wsdto.LeaveRequest
		if err := wsdto.Decode(frame.Data, &req); err != nil {
			return nil, err
		}
		return nil, h.services.Sessions.Leave(ctx, conn, req.ThreadID)

	case domain.EventTypingSet:
		var req wsdto.TypingRequest
		if err := wsdto.Decode(frame.Data, &req); err != nil {
			return nil, err
		}
		return nil, h.services.Signals.SetTyping(ctx, conn, req.ThreadID, req.IsTyping)

	case domain.EventSendMessage:
		var req wsdto.SendMessageRequest
		if err := wsdto.Decode(frame.Data, &req); err != nil {
			return nil, err
		}
		res, err := h.services.Messages.Send(ctx, conn, services.SendInput{
			ThreadID:     req.ThreadID,
			Body:         req.Body,
			ClientTempID: req.ClientTempID,
			Type:         domain.MessageType(req.Type),
			Metadata:     req.Metadata,
		})
		if err != nil {
			return nil, err
		}
		return wsdto.SendMessageResponse{Message: res.Message, ClientTempID: res.ClientTempID}, nil

	case domain.EventMarkRead:
		var req wsdto.ReadRequest
		if err := wsdto.Decode(frame.Data, &req); err != nil {
			return nil, err
		}
		return h.services.Signals.MarkRead(ctx, conn, req.ThreadID, req.MessageID)

	default:
		return nil, fmt.Errorf("%w: unknown event %q", sentinal_errors.ErrValidation, frame.Event)
	}
}

func (h *Hub) logError(conn realtime.Conn, event string, err error) {
	if sentinal_errors.Code(err) == sentinal_errors.CodeInternal {
		h.logger.Error("request failed", conn.Principal().ID, conn.ID(), err, zap.String("msg_type", event))
		return
	}
	h.logger.Warn("request rejected", conn.Principal().ID, conn.ID(),
		zap.String("msg_type", event), zap.String("code", sentinal_errors.Code(err)), zap.Error(err))
}

// Stop closes every client and waits for their disconnect handling to
// finish or ctx to expire.
func (h *Hub) Stop(ctx context.Context) {
	h.mu.Lock()
	h.stopped = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
