package integration

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"go.uber.org/zap"

	"github.com/spindlemq/spindle/internal/broker"
	"github.com/spindlemq/spindle/internal/config"
)

// startTestBroker boots the broker on an ephemeral port.
func startTestBroker(t *testing.T) string {
	t.Helper()

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	b := broker.New(cfg, zap.NewNop())
	go func() {
		if err := b.Start(); err != nil {
			t.Logf("broker stopped: %v", err)
		}
	}()
	t.Cleanup(func() { b.Stop() })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr := b.Addr(); addr != nil {
			return addr.String()
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("broker never started listening")
	return ""
}

type received struct {
	topic   string
	payload []byte
}

// newClient connects a paho v5 client and funnels deliveries into a channel.
func newClient(t *testing.T, addr, id string, will *paho.WillMessage) (*paho.Client, <-chan received) {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to dial broker: %v", err)
	}

	inbox := make(chan received, 16)
	client := paho.NewClient(paho.ClientConfig{
		Conn: conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				inbox <- received{topic: pr.Packet.Topic, payload: pr.Packet.Payload}
				return true, nil
			},
		},
	})

	connect := &paho.Connect{
		ClientID:    id,
		KeepAlive:   30,
		CleanStart:  true,
		WillMessage: will,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ca, err := client.Connect(ctx, connect)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	if ca.ReasonCode != 0 {
		t.Fatalf("Broker rejected connection: reason %d", ca.ReasonCode)
	}
	t.Cleanup(func() { conn.Close() })

	return client, inbox
}

func subscribe(t *testing.T, client *paho.Client, filter string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sa, err := client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter}},
	})
	if err != nil {
		t.Fatalf("Failed to subscribe to %s: %v", filter, err)
	}
	if len(sa.Reasons) != 1 || sa.Reasons[0] != 0 {
		t.Fatalf("SUBACK reasons = %v", sa.Reasons)
	}
}

func publish(t *testing.T, client *paho.Client, topic string, payload []byte, qos byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     qos,
		Payload: payload,
	}); err != nil {
		t.Fatalf("Failed to publish to %s: %v", topic, err)
	}
}

func expectMessage(t *testing.T, inbox <-chan received, topic string, payload []byte) {
	t.Helper()
	select {
	case msg := <-inbox:
		if msg.topic != topic || string(msg.payload) != string(payload) {
			t.Fatalf("received (%q, % X), want (%q, % X)", msg.topic, msg.payload, topic, payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no message on %s within timeout", topic)
	}
}

func expectSilence(t *testing.T, inbox <-chan received, window time.Duration) {
	t.Helper()
	select {
	case msg := <-inbox:
		t.Fatalf("unexpected message on %q: % X", msg.topic, msg.payload)
	case <-time.After(window):
	}
}

func TestMQTTConnect(t *testing.T) {
	addr := startTestBroker(t)
	client, _ := newClient(t, addr, "test-client-connect", nil)

	if err := client.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
		t.Logf("disconnect: %v", err)
	}
}

func TestMQTTPublishSubscribe(t *testing.T) {
	addr := startTestBroker(t)

	sub, inbox := newClient(t, addr, "test-subscriber", nil)
	subscribe(t, sub, "a/b")

	pub, _ := newClient(t, addr, "test-publisher", nil)
	publish(t, pub, "a/b", []byte{0x01, 0x02, 0x03}, 1)

	expectMessage(t, inbox, "a/b", []byte{0x01, 0x02, 0x03})
}

func TestMQTTWildcards(t *testing.T) {
	addr := startTestBroker(t)

	sub, inbox := newClient(t, addr, "test-wildcard", nil)
	subscribe(t, sub, "sensors/+/temp")

	pub, _ := newClient(t, addr, "test-wild-pub", nil)
	publish(t, pub, "sensors/kitchen/temp", []byte{0x7E}, 0)
	expectMessage(t, inbox, "sensors/kitchen/temp", []byte{0x7E})

	publish(t, pub, "sensors/kitchen/temp/extra", []byte{0xFF}, 0)
	expectSilence(t, inbox, 300*time.Millisecond)
}

func TestMQTTMultiLevelWildcard(t *testing.T) {
	addr := startTestBroker(t)

	sub, inbox := newClient(t, addr, "test-hash", nil)
	subscribe(t, sub, "a/#")

	pub, _ := newClient(t, addr, "test-hash-pub", nil)
	for _, topic := range []string{"a", "a/b", "a/b/c"} {
		publish(t, pub, topic, []byte(topic), 0)
		expectMessage(t, inbox, topic, []byte(topic))
	}
}

func TestMQTTWill(t *testing.T) {
	addr := startTestBroker(t)

	sub, inbox := newClient(t, addr, "test-will-sub", nil)
	subscribe(t, sub, "last")

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to dial broker: %v", err)
	}
	dying := paho.NewClient(paho.ClientConfig{Conn: conn})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ca, err := dying.Connect(ctx, &paho.Connect{
		ClientID:   "test-will-client",
		KeepAlive:  30,
		CleanStart: true,
		WillMessage: &paho.WillMessage{
			Topic:   "last",
			Payload: []byte("bye"),
		},
	})
	if err != nil || ca.ReasonCode != 0 {
		t.Fatalf("Failed to connect will client: %v (reason %v)", err, ca)
	}

	// Drop the TCP connection without DISCONNECT.
	conn.Close()

	expectMessage(t, inbox, "last", []byte("bye"))
	subscribe(t, sub, "still/alive")
}
