package main

// cSpell:ignore mqtt godotenv
import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fisaks/uhn-relay/internal/catalog"
	"github.com/fisaks/uhn-relay/internal/config"
	"github.com/fisaks/uhn-relay/internal/controller"
	"github.com/fisaks/uhn-relay/internal/logging"
	"github.com/fisaks/uhn-relay/internal/messaging"
	"github.com/joho/godotenv"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	// .env is optional, real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Warn("Could not load .env", "error", err)
	}
	logging.Init()

	mqttURL := getenv("MQTT_URL", "tcp://localhost:1883")
	path := getenv("EDGE_CONFIG_PATH", "/etc/uhn/relay-config.json")
	edgeName := getenv("EDGE_NAME", "edge1")

	cfg, err := config.LoadEdgeConfig(path)
	if err != nil {
		logging.Fatal("Edge config error", "error", err)
	}
	topicPrefix := cfg.TopicPrefix
	if topicPrefix == "" {
		topicPrefix = "uhn/" + edgeName
	}

	logging.Info("Loaded config",
		"io", cfg.IO.Type,
		"lamps", len(cfg.Lamps),
		"shutters", len(cfg.Shutters),
		"topicPrefix", topicPrefix,
	)

	// Graceful shutdown context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := messaging.NewMsgBroker(messaging.BrokerConfig{
		BrokerURL:        mqttURL,
		ClientName:       edgeName,
		Username:         os.Getenv("MQTT_USERNAME"),
		Password:         os.Getenv("MQTT_PASSWORD"),
		TopicPrefix:      topicPrefix,
		ConnectTimeout:   10 * time.Second,
		PublishTimeout:   5 * time.Second,
		SubscribeTimeout: 5 * time.Second,
	})

	cat := catalog.NewEdgeCatalog(edgeName, cfg.IO.Type, broker.Topic("catalog"))
	broker.AddOnConnectPublisher("catalog", cat.OnConnectPublish)

	if err := broker.Connect(ctx); err != nil {
		logging.Fatal("MQTT connect failed", "url", mqttURL, "error", err)
	}

	provider, err := controller.NewProvider(cfg.IO)
	if err != nil {
		_ = broker.Close(ctx)
		logging.Fatal("I/O init failed", "io", cfg.IO.Type, "error", err)
	}

	edge := controller.New(cfg, provider, broker, cat)
	if err := edge.Start(ctx); err != nil {
		_ = provider.Close()
		_ = broker.Close(ctx)
		logging.Fatal("Device init failed", "error", err)
	}

	// devices were registered after the first connect
	if req, err := cat.OnConnectPublish(); err == nil {
		if err := broker.PublishJSON(ctx, req.Topic, req.Qos, req.Retain, req.Payload); err != nil {
			logging.Warn("Catalog publish failed", "error", err)
		}
	}

	// Wait for SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	logging.Info("Shutting down", "signal", s)

	shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer done()
	if err := edge.Close(shutdownCtx); err != nil {
		logging.Error("Device shutdown", "error", err)
	}
	cancel()
	if err := broker.Close(shutdownCtx); err != nil {
		logging.Error("MQTT close", "error", err)
	}
	logging.Info("bye")
}
