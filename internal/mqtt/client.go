package mqtt

// cSpell:ignore mqtt
import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connect builds a plain client for the command-line tools. The daemon uses messaging.MsgBroker.
func Connect(brokerURL, clientPrefix string, onMessage mqtt.MessageHandler) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("%s-%d", clientPrefix, time.Now().UnixNano()))
	opts.SetAutoReconnect(true)
	if onMessage != nil {
		opts.SetDefaultPublishHandler(onMessage)
	}
	c := mqtt.NewClient(opts)
	if tok := c.Connect(); !tok.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect %s: timeout", brokerURL)
	} else if tok.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", brokerURL, tok.Error())
	}
	return c, nil
}

// PublishText sends a plain-text payload and waits for the broker to accept it.
func PublishText(c mqtt.Client, topic string, qos byte, retain bool, text string) error {
	token := c.Publish(topic, qos, retain, []byte(text))
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	return token.Error()
}
