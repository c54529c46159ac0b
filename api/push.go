package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/xiaoyuanzhu-com/sync-alarm/log"
	"github.com/xiaoyuanzhu-com/sync-alarm/protocol"
	"github.com/xiaoyuanzhu-com/sync-alarm/session"
)

const (
	pushWriteTimeout = 10 * time.Second
	pushPingInterval = 30 * time.Second
	pushReadLimit    = 64 << 10
)

// PushSocket handles GET /ws: one session per connection.
//
// The connection is sent WELCOME and the current presence snapshot, then
// every broadcast in order. Inbound frames go to the session state machine.
func (h *Handlers) PushSocket(c *gin.Context) {
	var w http.ResponseWriter = c.Writer
	if unwrapper, ok := c.Writer.(interface{ Unwrap() http.ResponseWriter }); ok {
		w = unwrapper.Unwrap()
	}

	log.MarkHijacked(c)
	conn, err := websocket.Accept(w, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // devices pair from arbitrary origins; there is no auth layer
	})
	if err != nil {
		log.Error().Err(err).Msg("push websocket upgrade failed")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(pushReadLimit)

	// Abort Gin context to prevent middleware from writing headers on hijacked connection
	c.Abort()

	// Gin's request context doesn't cancel when the websocket closes
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stop := context.AfterFunc(h.server.ShutdownContext(), cancel)
	defer stop()

	notif := h.server.Notifications()
	sess := session.New(h.server.Presence(), notif, h.server.Metrics())
	logger := log.GetLogger("Push").With().Str("sessionId", sess.ID()).Logger()

	var events <-chan protocol.Message
	var unsubscribe func()
	initial := sess.Open(func() {
		events, unsubscribe = notif.Subscribe()
	})
	// unsubscribe runs first so the closing presence update is not queued to ourselves
	defer sess.Close()
	defer unsubscribe()

	for _, msg := range initial {
		if err := writeMessage(ctx, conn, msg); err != nil {
			logger.Debug().Err(err).Msg("failed to send initial frame")
			return
		}
	}

	logger.Debug().Str("ip", c.ClientIP()).Msg("push socket connected")

	// Writer: drain the subscription in order
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-events:
				if !ok {
					// evicted or shutting down; the client must reconnect and re-fetch
					if h.server.ShutdownContext().Err() != nil {
						conn.Close(websocket.StatusGoingAway, "server shutting down")
					} else {
						conn.Close(websocket.StatusTryAgainLater, "fell behind, resync required")
					}
					return
				}
				if err := writeMessage(ctx, conn, msg); err != nil {
					logger.Debug().Err(err).Msg("push write failed")
					return
				}
			}
		}
	}()

	// Ping goroutine
	go func() {
		ticker := time.NewTicker(pushPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.Ping(ctx); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// Reader: the session decides what each frame means
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusGoingAway ||
				closeStatus == websocket.StatusNormalClosure ||
				closeStatus == websocket.StatusNoStatusRcvd {
				logger.Debug().Int("closeStatus", int(closeStatus)).Msg("push socket closed normally")
			} else {
				logger.Debug().Err(err).Msg("push socket read error")
			}
			break
		}

		if msgType != websocket.MessageText {
			logger.Debug().Int("msgType", int(msgType)).Msg("ignoring non-text frame")
			continue
		}

		if _, err := sess.Handle(data); err != nil {
			break
		}
	}

	cancel()
	<-writerDone
}

func writeMessage(ctx context.Context, conn *websocket.Conn, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, pushWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
