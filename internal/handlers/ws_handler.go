package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/talkbridge/backend/internal/services"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Inbound event names.
const (
	EventRegisterUser   = "register-user"
	EventStartCall      = "start-call"
	EventAcceptCall     = "accept-call"
	EventRejectCall     = "reject-call"
	EventEndCall        = "end-call"
	EventSignal         = "call-signal"
	EventTranslateAudio = "translate-audio"
)

const (
	outboundQueue = 64
	writeTimeout  = 10 * time.Second
	readLimit     = 4 << 20
)

var (
	errConnClosed   = errors.New("connection closed")
	errSlowConsumer = errors.New("outbound queue full")
)

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type callRef struct {
	CallID int64  `json:"callId" validate:"required,gt=0"`
	Reason string `json:"reason,omitempty"`
}

type callError struct {
	Event  string `json:"event"`
	CallID int64  `json:"callId,omitempty"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

// WSHandler upgrades authenticated requests to a websocket and runs one
// reader and one writer goroutine per connection.
type WSHandler struct {
	calls          CallOperations
	validator      *services.ValidationHelper
	originPatterns []string
}

func NewWSHandler(calls CallOperations, originPatterns []string) *WSHandler {
	return &WSHandler{
		calls:          calls,
		validator:      services.NewValidationHelper(),
		originPatterns: originPatterns,
	}
}

// ServeHTTP handles the websocket session
// @Summary Call signalling websocket
// @Description Upgrade to a websocket carrying {"type","data"} envelopes
// @Tags Calls
// @Param token query string true "JWT"
// @Router /ws [get]
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		log.Printf("[WS] upgrade failed for account %d: %v", accountID, err)
		return
	}
	ws.SetReadLimit(readLimit)

	conn := newWSConn(ws)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go conn.writeLoop(ctx)

	h.calls.Register(accountID, conn)
	log.Printf("[WS] account %d connected as %s", accountID, conn.ID())
	defer func() {
		conn.close()
		h.calls.Disconnect(context.WithoutCancel(ctx), conn.ID())
		ws.Close(websocket.StatusNormalClosure, "")
		log.Printf("[WS] connection %s closed", conn.ID())
	}()

	for {
		var env envelope
		if err := wsjson.Read(ctx, ws, &env); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					log.Printf("[WS] read from %s failed: %v", conn.ID(), err)
				}
			}
			return
		}
		h.dispatch(ctx, accountID, conn, env)
	}
}

func (h *WSHandler) dispatch(ctx context.Context, accountID int64, conn *wsConn, env envelope) {
	switch env.Type {
	case EventRegisterUser:
		h.calls.Register(accountID, conn)

	case EventStartCall:
		var req services.InitiateRequest
		if !h.decode(conn, env, &req) {
			return
		}
		req.CallerID = accountID
		if call, err := h.calls.Initiate(ctx, req); err != nil {
			var callID int64
			if call != nil {
				callID = call.ID
			}
			sendCallError(conn, env.Type, callID, err)
		}

	case EventAcceptCall:
		var ref callRef
		if h.decode(conn, env, &ref) {
			if _, err := h.calls.Accept(ctx, ref.CallID, accountID); err != nil {
				sendCallError(conn, env.Type, ref.CallID, err)
			}
		}

	case EventRejectCall:
		var ref callRef
		if h.decode(conn, env, &ref) {
			if _, err := h.calls.Reject(ctx, ref.CallID, accountID); err != nil {
				sendCallError(conn, env.Type, ref.CallID, err)
			}
		}

	case EventEndCall:
		var ref callRef
		if h.decode(conn, env, &ref) {
			if _, err := h.calls.End(ctx, ref.CallID, accountID, ""); err != nil {
				sendCallError(conn, env.Type, ref.CallID, err)
			}
		}

	case EventSignal:
		var req SignalRequest
		if h.decode(conn, env, &req) {
			if err := h.calls.ForwardSignal(ctx, req.CallID, accountID, req.TargetID, req.Signal); err != nil {
				sendCallError(conn, env.Type, req.CallID, err)
			}
		}

	case EventTranslateAudio:
		var req services.AudioTranslation
		if h.decode(conn, env, &req) {
			if err := h.calls.TranslateAudio(ctx, accountID, req); err != nil {
				sendCallError(conn, env.Type, req.CallID, err)
			}
		}

	default:
		conn.Send(services.Event{Type: services.EventCallError, Data: callError{
			Event: env.Type,
			Code:  "unknown_event",
			Error: "unknown event type",
		}})
	}
}

func (h *WSHandler) decode(conn *wsConn, env envelope, dst any) bool {
	if err := json.Unmarshal(env.Data, dst); err != nil {
		conn.Send(services.Event{Type: services.EventCallError, Data: callError{Event: env.Type, Code: "bad_request", Error: "invalid payload"}})
		return false
	}
	if err := h.validator.ValidateStruct(dst); err != nil {
		conn.Send(services.Event{Type: services.EventCallError, Data: callError{Event: env.Type, Code: "bad_request", Error: err.Error()}})
		return false
	}
	return true
}

func sendCallError(conn *wsConn, event string, callID int64, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.Printf("[WS] %s on call %d failed: %v", event, callID, err)
		msg = "internal error"
	}
	conn.Send(services.Event{Type: services.EventCallError, Data: callError{
		Event:  event,
		CallID: callID,
		Code:   code,
		Error:  msg,
	}})
}

// wsConn is the services.Connection for one websocket. Send only enqueues;
// writeLoop owns the socket's write side.
type wsConn struct {
	id        string
	ws        *websocket.Conn
	out       chan services.Event
	closed    chan struct{}
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{
		id:     uuid.NewString(),
		ws:     ws,
		out:    make(chan services.Event, outboundQueue),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(event services.Event) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	select {
	case c.out <- event:
		return nil
	case <-c.closed:
		return errConnClosed
	default:
		return errSlowConsumer
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *wsConn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case event := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.ws, event)
			cancel()
			if err != nil {
				log.Printf("[WS] write %s to %s failed: %v", event.Type, c.id, err)
				c.close()
				c.ws.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

var _ services.Connection = (*wsConn)(nil)

