package broker

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/spindlemq/spindle/internal/codec"
	"github.com/spindlemq/spindle/internal/config"
	"github.com/spindlemq/spindle/internal/metrics"
	"github.com/spindlemq/spindle/internal/mqtt"
)

// maxSubackReasons caps the reason codes echoed back in one SUBACK.
const maxSubackReasons = 8

// meteredConn wraps a socket with a per-read idle deadline and byte counters.
type meteredConn struct {
	net.Conn
	timeout time.Duration
}

func (m *meteredConn) Read(p []byte) (int, error) {
	if m.timeout > 0 {
		m.Conn.SetReadDeadline(time.Now().Add(m.timeout))
	}
	n, err := m.Conn.Read(p)
	if n > 0 {
		metrics.BytesReceived.Add(float64(n))
	}
	return n, err
}

func (m *meteredConn) Write(p []byte) (int, error) {
	if m.timeout > 0 {
		m.Conn.SetWriteDeadline(time.Now().Add(m.timeout))
	}
	n, err := m.Conn.Write(p)
	if n > 0 {
		metrics.BytesSent.Add(float64(n))
	}
	return n, err
}

// conn drives one client connection through the handshake and connected
// states, multiplexing inbound packets against outbound deliveries.
type conn struct {
	sock *meteredConn
	dec  *codec.Decoder
	enc  *codec.Encoder
	h    *Handle
	cfg  config.ServerConfig
	log  *zap.Logger
}

func newConn(sock net.Conn, h *Handle, cfg config.ServerConfig, log *zap.Logger) *conn {
	m := &meteredConn{Conn: sock, timeout: cfg.HandshakeTimeout}
	return &conn{
		sock: m,
		dec:  codec.NewDecoder(m, codec.DefaultBufferSize),
		enc:  codec.NewEncoder(m, codec.DefaultBufferSize),
		h:    h,
		cfg:  cfg,
		log:  log,
	}
}

func (c *conn) writePacket(pkt mqtt.Packet) error {
	if err := c.enc.Write(pkt); err != nil {
		return err
	}
	metrics.PacketsSent.WithLabelValues(pkt.Type().String()).Inc()
	return nil
}

// handshake waits for the CONNECT packet, stores the will if one is
// announced, and replies with CONNACK. Anything else closes the connection.
func (c *conn) handshake() error {
	pkt, err := c.dec.Next()
	if err != nil {
		return err
	}
	connect, ok := pkt.(*mqtt.ConnectPacket)
	if !ok {
		c.log.Warn("first packet is not CONNECT", zap.Stringer("type", pkt.Type()))
		return ErrUnexpectedPacket
	}
	metrics.PacketsReceived.WithLabelValues("CONNECT").Inc()
	if connect.WillFlag {
		if err := c.h.SetWill(connect.WillTopic, connect.WillPayload); err != nil {
			return err
		}
	}
	return c.writePacket(&mqtt.ConnackPacket{ReasonCode: mqtt.ReasonSuccess})
}

type inboundResult struct {
	pkt mqtt.Packet
	err error
}

// run is the connected-state loop. It returns once the connection is over;
// the caller performs cleanup (which fires any pending will).
func (c *conn) run() {
	c.sock.timeout = c.cfg.IdleTimeout

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Outbound side: pull the next delivery addressed to this slot.
	deliveries := make(chan Message)
	go func() {
		for {
			msg, err := c.h.Next(ctx)
			if err != nil {
				return
			}
			select {
			case deliveries <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Inbound side: decode the next packet, then reserve a queue slot before
	// handing it over. Decoded packets borrow the codec buffer, so the reader
	// waits for the dispatch to finish before decoding again.
	inbound := make(chan inboundResult)
	done := make(chan struct{})
	go func() {
		for {
			pkt, err := c.dec.Next()
			if err == nil {
				if lockErr := c.h.Lock(ctx); lockErr != nil {
					return
				}
			}
			select {
			case inbound <- inboundResult{pkt: pkt, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case msg := <-deliveries:
			if err := c.enc.WriteRaw(msg.Bytes()); err != nil {
				c.log.Warn("delivery failed", zap.Error(err))
				return
			}
			metrics.PacketsSent.WithLabelValues("PUBLISH").Inc()

		case res := <-inbound:
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					c.log.Info("connection closed by peer")
				} else {
					c.log.Warn("codec error", zap.Error(res.err))
					c.sendDisconnect(mqtt.ReasonUnspecifiedError)
				}
				return
			}
			clean, err := c.dispatch(res.pkt)
			c.h.Unlock()
			if err != nil {
				c.log.Warn("closing connection", zap.Error(err))
				c.sendDisconnect(DisconnectReason(err))
				return
			}
			if clean {
				return
			}
			done <- struct{}{}
		}
	}
}

// dispatch handles one inbound packet. It returns clean=true for a DISCONNECT
// packet; any returned error tears the connection down with a mapped reason.
func (c *conn) dispatch(pkt mqtt.Packet) (clean bool, err error) {
	metrics.PacketsReceived.WithLabelValues(pkt.Type().String()).Inc()

	switch p := pkt.(type) {
	case *mqtt.PublishPacket:
		if err := c.h.Publish(p.Topic, p.Payload); err != nil {
			return false, err
		}
		// QoS>0 is acknowledged but not tracked; a missing id defaults to 1.
		pid := p.PacketID
		if pid == 0 {
			pid = 1
		}
		return false, c.writePacket(&mqtt.PubackPacket{PacketID: pid, ReasonCode: mqtt.ReasonSuccess})

	case *mqtt.SubscribePacket:
		reasons := make([]mqtt.ReasonCode, 0, maxSubackReasons)
		for _, sub := range p.Subscriptions {
			err := c.h.Subscribe(sub.Filter)
			if err != nil {
				c.log.Warn("subscribe rejected", zap.String("filter", sub.Filter), zap.Error(err))
			} else {
				c.log.Debug("subscribed", zap.String("filter", sub.Filter))
			}
			if len(reasons) < maxSubackReasons {
				reasons = append(reasons, SubackReason(err))
			}
		}
		return false, c.writePacket(&mqtt.SubackPacket{PacketID: p.PacketID, Reasons: reasons})

	case *mqtt.UnsubscribePacket:
		reasons := make([]mqtt.ReasonCode, 0, len(p.Filters))
		for _, f := range p.Filters {
			c.h.Unsubscribe(f)
			reasons = append(reasons, mqtt.ReasonSuccess)
		}
		return false, c.writePacket(&mqtt.UnsubackPacket{PacketID: p.PacketID, Reasons: reasons})

	case *mqtt.PingreqPacket:
		return false, c.writePacket(&mqtt.PingrespPacket{})

	case *mqtt.DisconnectPacket:
		// Clean close: the will does not fire.
		c.h.ClearWill()
		c.log.Info("client disconnected")
		return true, nil

	case *mqtt.PubackPacket:
		// Outbound QoS is fire-and-forget; stray acknowledgements are dropped.
		return false, nil

	default:
		return false, ErrUnexpectedPacket
	}
}

// sendDisconnect makes a best-effort attempt to tell the client why.
func (c *conn) sendDisconnect(reason mqtt.ReasonCode) {
	if err := c.writePacket(&mqtt.DisconnectPacket{ReasonCode: reason}); err != nil {
		c.log.Debug("disconnect not delivered", zap.Error(err))
	}
}
