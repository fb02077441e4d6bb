package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/skobkin/llmsim-web/internal/api"
	"github.com/skobkin/llmsim-web/internal/control"
)

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	reqLogger := s.loggerFromContext(r.Context())
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.sampler == nil || s.controller == nil {
		http.Error(w, "simulation unavailable", http.StatusServiceUnavailable)
		return
	}

	if !s.reserveWS() {
		reqLogger.Warn("websocket rejected", "reason", "capacity")
		http.Error(w, "websocket capacity reached", http.StatusServiceUnavailable)
		return
	}
	defer s.releaseWS()

	patterns := originPatterns(s.cfg.AllowedOrigins)
	opts := &websocket.AcceptOptions{
		OriginPatterns:     patterns,
		InsecureSkipVerify: patterns == nil,
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		reqLogger.Warn("websocket accept failed", "err", err)
		return
	}
	defer closeWebsocket(reqLogger, conn, websocket.StatusNormalClosure, "")

	connID := s.wsConnIDs.Add(1)
	s.wsTotal.Add(1)
	logger := reqLogger.With("ws_id", connID)

	outbound := newWSOutbound(wsSendQueueSize, &s.wsDropped)

	features := map[string]bool{
		"prometheus": s.cfg.EnablePrometheus,
		"annotate":   s.cfg.Annotate.APIKey != "",
	}
	hello := api.NewHelloMessage(
		int(s.sampler.Interval()/time.Millisecond),
		int(s.controller.StepInterval()/time.Millisecond),
		s.controller.MaxSteps(),
		s.sampler.HistorySize(),
		s.sampler.Device(),
		features,
	)

	ctx, cancel := context.WithCancel(r.Context())

	writerDone := make(chan struct{})
	go s.wsWriter(ctx, conn, outbound, cancel, logger, writerDone)

	// Subscribe before sending the initial view so no event falls in between.
	events, unsubscribeEvents := s.controller.Subscribe(wsEventBuffer)
	snapshots, unsubscribeSnapshots := s.sampler.Subscribe()

	defer func() {
		unsubscribeSnapshots()
		unsubscribeEvents()
		outbound.close()
		cancel()
		<-writerDone
	}()

	initial := []any{
		hello,
		api.NewHistoryMessage(s.sampler.History()),
		api.NewStateMessage(s.controller.State()),
	}
	for _, msg := range initial {
		if !s.enqueueMessage(outbound, msg, logger) {
			return
		}
	}
	logger.Info("ws session started")

	messageCh := make(chan []byte, 8)
	readErrCh := make(chan error, 1)
	go s.readMessages(ctx, conn, messageCh, readErrCh)

	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				snapshots = nil
				continue
			}
			if !s.enqueueMessage(outbound, api.NewStatsMessage(snap.Latest), logger) {
				return
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			msg := eventMessage(ev)
			if msg == nil {
				continue
			}
			if !s.enqueueMessage(outbound, msg, logger) {
				return
			}
		case data, ok := <-messageCh:
			if !ok {
				messageCh = nil
				continue
			}
			if err := s.handleClientMessage(outbound, data, logger); err != nil {
				logger.Warn("client message handling error", "err", err)
				return
			}
		case err := <-readErrCh:
			if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				logger.Warn("websocket read error", "err", err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// eventMessage converts a controller event to its wire form.
func eventMessage(ev control.Event) any {
	switch ev.Type {
	case control.EventState, control.EventStopped:
		if ev.State == nil {
			return nil
		}
		return api.NewStateMessage(*ev.State)
	case control.EventLog:
		if ev.Log == nil {
			return nil
		}
		return api.NewLogMessage(*ev.Log)
	case control.EventTip:
		return api.NewTipMessage(ev.Mode, ev.Tip)
	case control.EventCompleted:
		return api.NewCompletedMessage(ev.Mode)
	default:
		return nil
	}
}

func (s *Server) readMessages(ctx context.Context, conn *websocket.Conn, out chan<- []byte, errCh chan<- error) {
	defer close(out)
	for {
		readCtx := ctx
		var cancel context.CancelFunc
		if s.cfg.WS.ReadTimeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, s.cfg.WS.ReadTimeout)
		}
		msgType, data, err := conn.Read(readCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				continue
			}
			errCh <- err
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		select {
		case out <- data:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleClientMessage(outbound *wsOutbound, data []byte, logger *slog.Logger) error {
	var envelope api.ClientMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		logger.Debug("invalid client message", "err", err)
		return nil
	}

	switch envelope.Type {
	case api.ClientPing:
		if !s.enqueueMessage(outbound, api.PongMessage{Type: "pong"}, logger) {
			return fmt.Errorf("failed to enqueue pong response")
		}
	case api.ClientStart, api.ClientTogglePause, api.ClientPause, api.ClientResume, api.ClientStop:
		accepted, err := s.applyControl(envelope.Type, envelope.Mode)
		if errors.Is(err, control.ErrClosed) {
			return err
		}
		if err != nil {
			if !s.enqueueError(outbound, err.Error(), logger) {
				return fmt.Errorf("failed to enqueue control error")
			}
			return nil
		}
		logger.Debug("ws control request", "action", envelope.Type, "accepted", accepted)
		ack := api.AckMessage{Type: "ack", Action: envelope.Type, Accepted: accepted}
		if !s.enqueueMessage(outbound, ack, logger) {
			return fmt.Errorf("failed to enqueue ack")
		}
	default:
		logger.Debug("unknown message type", "type", envelope.Type)
	}
	return nil
}

func (s *Server) wsWriter(ctx context.Context, conn *websocket.Conn, outbound *wsOutbound, cancel context.CancelFunc, logger *slog.Logger, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-outbound.channel():
			if !ok {
				return
			}
			if err := s.writeRaw(ctx, conn, msg); err != nil {
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
					logger.Warn("websocket write failed", "err", err)
				}
				cancel()
				return
			}
			s.wsSent.Add(1)
		}
	}
}

func (s *Server) writeRaw(ctx context.Context, conn *websocket.Conn, data []byte) error {
	writeCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.WS.WriteTimeout > 0 {
		writeCtx, cancel = context.WithTimeout(ctx, s.cfg.WS.WriteTimeout)
	}
	if cancel != nil {
		defer cancel()
	}
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (s *Server) enqueueMessage(outbound *wsOutbound, payload any, logger *slog.Logger) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal websocket payload", "err", err)
		return false
	}
	if !outbound.enqueue(data) {
		logger.Warn("websocket outbound queue unavailable")
		return false
	}
	return true
}

func (s *Server) enqueueError(outbound *wsOutbound, msg string, logger *slog.Logger) bool {
	return s.enqueueMessage(outbound, api.ErrorMessage{Type: "error", Message: msg}, logger)
}

type wsOutbound struct {
	ch     chan []byte
	closed atomic.Bool
	drops  *atomic.Uint64
}

func newWSOutbound(size int, dropCounter *atomic.Uint64) *wsOutbound {
	if size <= 0 {
		size = 1
	}
	return &wsOutbound{
		ch:    make(chan []byte, size),
		drops: dropCounter,
	}
}

// enqueue never blocks; when the queue is full the oldest message is dropped.
func (o *wsOutbound) enqueue(msg []byte) bool {
	if o.closed.Load() {
		o.countDrop()
		return false
	}

	select {
	case o.ch <- msg:
		return true
	default:
	}

	select {
	case <-o.ch:
		o.countDrop()
	default:
	}

	select {
	case o.ch <- msg:
		return true
	default:
		o.countDrop()
		return false
	}
}

func (o *wsOutbound) close() {
	if o.closed.CompareAndSwap(false, true) {
		close(o.ch)
	}
}

func (o *wsOutbound) channel() <-chan []byte {
	return o.ch
}

func (o *wsOutbound) countDrop() {
	if o.drops != nil {
		o.drops.Add(1)
	}
}
