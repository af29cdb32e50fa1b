package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fisaks/uhn-relay/internal/mqtt"
	"github.com/fisaks/uhn-relay/internal/uhn"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  uhnctl send --edge EDGE --device DEVICE --command COMMAND

Required flags for 'send':
  --edge     (string)   Name of the edge
  --device   (string)   Name of the lamp or shutter
  --command  (string)   on | off | open | close | stop

Optional flags:
  --topic    (string)   Listen topic, overrides uhn/EDGE/DEVICE/set
  --broker   (string)   MQTT broker address (default: tcp://localhost:1883)

`)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Missing command (e.g. send)\n")
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	if cmd != "send" {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(2)
	}

	sendFlags := flag.NewFlagSet("send", flag.ExitOnError)
	edge := sendFlags.String("edge", "", "Edge name (required)")
	device := sendFlags.String("device", "", "Device name (required)")
	command := sendFlags.String("command", "", "Command payload (required)")
	topic := sendFlags.String("topic", "", "Listen topic (optional)")
	broker := sendFlags.String("broker", "tcp://localhost:1883", "MQTT broker address")
	sendFlags.Usage = usage

	if err := sendFlags.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	missing := false
	if *topic == "" && (*edge == "" || *device == "") {
		fmt.Fprintf(os.Stderr, "--edge and --device are required unless --topic is given\n")
		missing = true
	}
	c, ok := uhn.ParseCommand([]byte(*command))
	if !ok {
		fmt.Fprintf(os.Stderr, "--command must be one of on, off, open, close, stop\n")
		missing = true
	}
	if missing {
		usage()
		os.Exit(2)
	}

	target := *topic
	if target == "" {
		target = fmt.Sprintf("uhn/%s/%s/set", *edge, *device)
	}

	client, err := mqtt.Connect(*broker, "uhnctl", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer client.Disconnect(250)

	if err := mqtt.PublishText(client, target, 0, false, string(c)); err != nil {
		fmt.Fprintf(os.Stderr, "MQTT publish error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Sent %q to %s\n", c, target)
}
