package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/paho"

	"github.com/hubertat/swvio"
	"github.com/hubertat/swvio/mqtt"
)

const clientID = "swvio-watch"

var (
	broker = flag.String("broker", "mqtt://localhost:1883", "mqtt broker url")
	prefix = flag.String("prefix", "swvio", "topic prefix of the watched swvio instance")
)

type outputWatcher struct {
	topic string
}

func (ow *outputWatcher) MqttSubscribeTopic() string {
	return ow.topic
}

func (ow *outputWatcher) MqttHandle(pub *paho.Publish) {
	var msg swvio.OutputMessage
	err := json.Unmarshal(pub.Payload, &msg)
	if err != nil {
		log.Warn("unexpected payload", "topic", pub.Topic, "err", err)
		return
	}
	log.Info("output written", "mask", msg.Mask, "shadow", msg.Shadow)
}

func main() {
	flag.Parse()
	log.SetLevel(log.DebugLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mc, err := mqtt.NewMqttClient(*broker, clientID)
	if err != nil {
		log.Error("failed to create mqtt client", "error", err)
		return
	}

	err = mc.Connect([]mqtt.MqttHandler{
		&outputWatcher{topic: *prefix + "/out"},
	})
	if err != nil {
		log.Error("failed to connect to mqtt broker", "error", err)
		return
	}
	log.Info("mqtt client connected, watching", "topic", *prefix+"/out")

	<-ctx.Done()

	disconnectCtx, cancelDisconnect := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelDisconnect()
	mc.Disconnect(disconnectCtx)
}
