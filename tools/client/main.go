package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/eclipse/paho.golang/paho"
)

var (
	server   = flag.String("server", "127.0.0.1:1883", "MQTT broker address")
	clientID = flag.String("client", "demo-client", "Client ID")
	qos      = flag.Int("qos", 0, "Quality of Service (0 or 1)")
	willTopic = flag.String("will-topic", "", "Will topic announced at CONNECT")
	willMsg   = flag.String("will-message", "", "Will payload announced at CONNECT")
)

func main() {
	flag.Parse()

	fmt.Printf("MQTT v5 demo client\n")
	fmt.Printf("Connecting to broker: %s\n", *server)
	fmt.Printf("Client ID: %s, QoS: %d\n\n", *clientID, *qos)

	conn, err := net.Dial("tcp", *server)
	if err != nil {
		fmt.Printf("❌ Failed to dial broker: %v\n", err)
		os.Exit(1)
	}

	client := paho.NewClient(paho.ClientConfig{
		Conn: conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				fmt.Printf("\n📨 Message received:\n")
				fmt.Printf("   Topic: %s\n", pr.Packet.Topic)
				fmt.Printf("   QoS: %d\n", pr.Packet.QoS)
				fmt.Printf("   Payload: %s\n", string(pr.Packet.Payload))
				fmt.Print("\n> ")
				return true, nil
			},
		},
	})

	connect := &paho.Connect{
		ClientID:   *clientID,
		KeepAlive:  30,
		CleanStart: true,
	}
	if *willTopic != "" {
		connect.WillMessage = &paho.WillMessage{
			Topic:   *willTopic,
			Payload: []byte(*willMsg),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	ca, err := client.Connect(ctx, connect)
	cancel()
	if err != nil {
		fmt.Printf("❌ Failed to connect: %v\n", err)
		os.Exit(1)
	}
	if ca.ReasonCode != 0 {
		fmt.Printf("❌ Broker rejected connection: reason %d\n", ca.ReasonCode)
		os.Exit(1)
	}
	fmt.Println("✅ Connected to MQTT broker")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\n👋 Disconnecting...")
		client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		os.Exit(0)
	}()

	printHelp()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		parts := strings.Fields(line)
		if len(parts) == 0 {
			fmt.Print("> ")
			continue
		}

		opCtx, opCancel := context.WithTimeout(context.Background(), 5*time.Second)

		switch strings.ToLower(parts[0]) {
		case "help", "h":
			printHelp()

		case "subscribe", "sub":
			if len(parts) < 2 {
				fmt.Println("❌ Usage: subscribe <topic>")
				break
			}
			_, err := client.Subscribe(opCtx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{
					{Topic: parts[1], QoS: byte(*qos)},
				},
			})
			if err != nil {
				fmt.Printf("❌ Subscribe failed: %v\n", err)
			} else {
				fmt.Printf("✅ Subscribed to '%s'\n", parts[1])
			}

		case "unsubscribe", "unsub":
			if len(parts) < 2 {
				fmt.Println("❌ Usage: unsubscribe <topic>")
				break
			}
			_, err := client.Unsubscribe(opCtx, &paho.Unsubscribe{Topics: []string{parts[1]}})
			if err != nil {
				fmt.Printf("❌ Unsubscribe failed: %v\n", err)
			} else {
				fmt.Printf("✅ Unsubscribed from '%s'\n", parts[1])
			}

		case "publish", "pub":
			if len(parts) < 3 {
				fmt.Println("❌ Usage: publish <topic> <message>")
				break
			}
			message := strings.Join(parts[2:], " ")
			_, err := client.Publish(opCtx, &paho.Publish{
				Topic:   parts[1],
				QoS:     byte(*qos),
				Payload: []byte(message),
			})
			if err != nil {
				fmt.Printf("❌ Publish failed: %v\n", err)
			} else {
				fmt.Printf("✅ Published to '%s'\n", parts[1])
			}

		case "exit", "quit", "q":
			opCancel()
			fmt.Println("👋 Disconnecting...")
			client.Disconnect(&paho.Disconnect{ReasonCode: 0})
			return

		default:
			fmt.Printf("❌ Unknown command: %s (type 'help' for available commands)\n", parts[0])
		}

		opCancel()
		fmt.Print("> ")
	}

	if err := scanner.Err(); err != nil {
		fmt.Printf("Error reading input: %v\n", err)
	}
}

func printHelp() {
	fmt.Println("\n📖 Available Commands:")
	fmt.Println("  subscribe <topic>       (sub)   - Subscribe to a topic filter")
	fmt.Println("  unsubscribe <topic>     (unsub) - Unsubscribe from a topic filter")
	fmt.Println("  publish <topic> <message> (pub) - Publish a message")
	fmt.Println("  help / h                        - Show this help")
	fmt.Println("  exit / quit / q                 - Exit the client")
	fmt.Println("\n💡 Examples:")
	fmt.Println("  sub sensors/+/temperature")
	fmt.Println("  pub sensors/room1/temp 25.5")
	fmt.Println()
}
