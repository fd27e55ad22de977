// internal/gateway/client.go
package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// outChanSize bounds the per-connection send queue. Sends beyond it are
// dropped; ephemeral state is best-effort and clients resync lifecycle state
// with lobby:request_state.
const outChanSize = 32

// client is one authenticated websocket connection.
type client struct {
	wallet string
	out    chan Envelope
}

// send queues a frame without blocking. Drops and logs when the queue is
// full, matching the no-acknowledgement transport contract.
func (cl *client) send(logger *logrus.Logger, env Envelope) {
	select {
	case cl.out <- env:
	default:
		logger.WithFields(logrus.Fields{
			"wallet": cl.wallet,
			"event":  env.Event,
		}).Warn("send queue full, frame dropped")
	}
}

func (cl *client) sendError(logger *logrus.Logger, msg string) {
	cl.send(logger, newEnvelope(EventError, errorPayload{Message: msg}))
}

// writePump drains the client's queue onto the websocket and pings
// periodically. Exits when the context is cancelled or a write fails; the
// read side notices the broken connection and triggers cleanup.
func (cl *client) writePump(ctx context.Context, c *websocket.Conn, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-cl.out:
			data, err := json.Marshal(env)
			if err != nil {
				logger.WithError(err).WithField("wallet", cl.wallet).Warn("failed to marshal outgoing frame")
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.WithError(err).WithField("wallet", cl.wallet).Warn("websocket write failed")
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.WithError(err).WithField("wallet", cl.wallet).Warn("ping failed, assuming disconnect")
				return
			}
		}
	}
}
