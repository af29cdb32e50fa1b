package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	mqttlib "github.com/eclipse/paho.mqtt.golang"
	"github.com/fisaks/uhn-relay/internal/catalog"
	"github.com/fisaks/uhn-relay/internal/mqtt"
)

// topicIndex maps listen and report topics to the devices announced in catalogs.
type topicIndex struct {
	mu     sync.Mutex
	topics map[string]string
}

func newTopicIndex() *topicIndex {
	return &topicIndex{topics: map[string]string{}}
}

func (ix *topicIndex) readCatalogMessage(payload []byte) (string, error) {
	var catalogMsg catalog.EdgeCatalogMessage
	if err := json.Unmarshal(payload, &catalogMsg); err != nil {
		return "", err
	}
	ix.mu.Lock()
	for _, dev := range catalogMsg.Devices {
		label := fmt.Sprintf("%s/%s(%s)", catalogMsg.Edge, dev.Name, dev.Kind)
		ix.topics[dev.ListenTopic] = label + " cmd"
		if dev.ReportTopic != "" {
			ix.topics[dev.ReportTopic] = label + " state"
		}
	}
	ix.mu.Unlock()

	out, err := json.Marshal(catalogMsg)
	return string(out), err
}

func (ix *topicIndex) format(topic string, payload []byte) string {
	if strings.HasSuffix(topic, "/catalog") {
		line, err := ix.readCatalogMessage(payload)
		if err != nil {
			return fmt.Sprintf("%s %s (error: %v)", topic, string(payload), err)
		}
		return fmt.Sprintf("%s %s", topic, line)
	}
	ix.mu.Lock()
	label, ok := ix.topics[topic]
	ix.mu.Unlock()
	if ok {
		return fmt.Sprintf("%s [%s] %s", topic, label, string(payload))
	}
	return fmt.Sprintf("%s %s", topic, string(payload))
}

func main() {
	var broker, topic string
	flag.StringVar(&broker, "broker", "tcp://localhost:1883", "MQTT broker address")
	flag.StringVar(&topic, "topic", "uhn/#", "MQTT topic filter")
	flag.Parse()

	ix := newTopicIndex()
	client, err := mqtt.Connect(broker, "uhn-monitor", func(_ mqttlib.Client, msg mqttlib.Message) {
		fmt.Println(ix.format(msg.Topic(), msg.Payload()))
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Connected to MQTT broker %s, subscribing to %s...\n", broker, topic)

	if token := client.Subscribe(topic, 0, nil); token.Wait() && token.Error() != nil {
		log.Fatal(token.Error())
	}

	// Wait for interrupt
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()
	<-ctx.Done()
	client.Disconnect(200)
}
