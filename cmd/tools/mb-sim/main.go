package main

// cSpell:ignore mbserver Modbus
import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/fisaks/uhn-relay/internal/config"
	"github.com/fisaks/uhn-relay/internal/logging"
	"github.com/fisaks/uhn-relay/internal/sim"
	"github.com/tbrandon/mbserver"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	logging.Init()

	addr := getenv("MB_LISTEN_ADDR", ":1502")
	restAddr := getenv("SIM_REST_ADDR", ":8081")

	// without a config the REST API still serves raw coils and inputs
	cfg := &config.EdgeConfig{}
	if path := os.Getenv("SIM_CONFIG_PATH"); path != "" {
		var err error
		if cfg, err = config.LoadEdgeConfig(path); err != nil {
			logging.Fatal("Edge config error", "error", err)
		}
	}

	srv := mbserver.NewServer()
	if err := srv.ListenTCP(addr); err != nil {
		logging.Fatal("ListenTCP failed", "addr", addr, "error", err)
	}
	defer srv.Close()
	logging.Info("Modbus TCP slave listening", "addr", addr, "lamps", len(cfg.Lamps), "shutters", len(cfg.Shutters))

	simulator := sim.New(sim.NewBank(srv.Coils, srv.DiscreteInputs), cfg)
	go simulator.Watch(context.Background(), 100*time.Millisecond)

	logging.Info("Simulator REST API listening", "addr", restAddr)
	if err := http.ListenAndServe(restAddr, simulator.Handler()); err != nil {
		logging.Fatal("REST API stopped", "error", err)
	}
}
