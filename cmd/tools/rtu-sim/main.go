package main

// cSpell:ignore mbserver serial
import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/fisaks/uhn-relay/internal/config"
	"github.com/fisaks/uhn-relay/internal/logging"
	"github.com/fisaks/uhn-relay/internal/sim"
	"github.com/goburrow/serial"
	"github.com/womat/mbserver"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	logging.Init()

	configPath := os.Getenv("SIM_CONFIG_PATH")
	if configPath == "" {
		logging.Fatal("SIM_CONFIG_PATH not set")
	}
	restAddr := getenv("SIM_REST_ADDR", ":8080")

	cfg, err := config.LoadEdgeConfig(configPath)
	if err != nil {
		logging.Fatal("Edge config error", "error", err)
	}
	if cfg.IO.Type != config.IOTypeModbus || cfg.IO.Bus.Type != "rtu" {
		logging.Fatal("Config does not describe a Modbus RTU module", "io", cfg.IO.Type)
	}
	bus := cfg.IO.Bus

	s := mbserver.NewServer()
	id := cfg.IO.UnitId
	if id != 1 {
		if err := s.NewDevice(id); err != nil {
			logging.Fatal("NewDevice failed", "unit", id, "error", err)
		}
	}

	port, err := serial.Open(&serial.Config{
		Address:  bus.Port,
		BaudRate: bus.Baud,
		DataBits: bus.DataBits,
		StopBits: bus.StopBits,
		Parity:   bus.Parity,
		Timeout:  2 * time.Second,
	})
	if err != nil {
		logging.Fatal("serial open failed", "port", bus.Port, "error", err)
	}
	defer port.Close()

	if err := s.ListenRTU(port); err != nil {
		logging.Fatal("listenRTU failed", "error", err)
	}
	logging.Info("RTU simulator ready", "port", bus.Port, "bus", bus.BusId, "unit", id,
		"lamps", len(cfg.Lamps), "shutters", len(cfg.Shutters))

	simulator := sim.New(sim.NewBank(s.Devices[id].Coils, s.Devices[id].DiscreteInputs), cfg)
	go simulator.Watch(context.Background(), 100*time.Millisecond)

	logging.Info("RTU simulator REST API listening", "addr", restAddr)
	if err := http.ListenAndServe(restAddr, simulator.Handler()); err != nil {
		logging.Fatal("REST API stopped", "error", err)
	}
}
