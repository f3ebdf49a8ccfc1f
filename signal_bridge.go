package swvio

import (
	"context"
	"encoding/json"
	"os"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/paho"

	"github.com/hubertat/swvio/mqtt"
	"github.com/hubertat/swvio/vio"
)

type OutputMessage struct {
	Mask   vio.Mask `json:"mask"`
	Shadow vio.Mask `json:"shadow"`
}

type SetOutputMessage struct {
	Mask   vio.Mask `json:"mask"`
	Levels vio.Mask `json:"levels"`
}

type SetValueMessage struct {
	Index int   `json:"index"`
	Value int32 `json:"value"`
}

const outputQueueSize = 64

type BridgedRegistry interface {
	SetOutputSignal(mask, levels vio.Mask) vio.Mask
	SetValue(index int, value int32)
}

// SignalBridge publishes output writes to <prefix>/out and accepts writes on
// <prefix>/out/set and <prefix>/value/set.
type SignalBridge struct {
	prefix    string
	registry  BridgedRegistry
	publisher mqtt.Publisher
	logger    *log.Logger

	// drained by Run, oldest message dropped when full
	queue chan OutputMessage
}

func NewSignalBridge(prefix string, registry BridgedRegistry, publisher mqtt.Publisher) *SignalBridge {
	return &SignalBridge{
		prefix:    prefix,
		registry:  registry,
		publisher: publisher,
		queue:     make(chan OutputMessage, outputQueueSize),
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "bridge",
			Level:  log.GetLevel(),
		}),
	}
}

func (sb *SignalBridge) OutputTopic() string {
	return sb.prefix + "/out"
}

// OutputChanged queues an output message for Run. It never blocks the writer.
func (sb *SignalBridge) OutputChanged(mask, shadow vio.Mask) {
	msg := OutputMessage{Mask: mask, Shadow: shadow}
	select {
	case sb.queue <- msg:
		return
	default:
	}

	select {
	case <-sb.queue:
		sb.logger.Warn("output queue full, dropping oldest message")
	default:
	}
	select {
	case sb.queue <- msg:
	default:
		sb.logger.Warn("output queue full, message dropped", "shadow", shadow)
	}
}

// Run publishes queued output messages one by one, in write order, until
// ctx is done.
func (sb *SignalBridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-sb.queue:
			sb.publish(msg)
		}
	}
}

// Flush publishes whatever is still queued. Call it after Run has returned.
func (sb *SignalBridge) Flush() {
	for {
		select {
		case msg := <-sb.queue:
			sb.publish(msg)
		default:
			return
		}
	}
}

func (sb *SignalBridge) publish(msg OutputMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		sb.logger.Error("failed to encode output message", "err", err)
		return
	}

	err = sb.publisher.Publish(sb.OutputTopic(), payload)
	if err != nil {
		sb.logger.Warn("failed to publish output", "topic", sb.OutputTopic(), "err", err)
	}
}

func (sb *SignalBridge) Handlers() []mqtt.MqttHandler {
	return []mqtt.MqttHandler{
		&setOutputHandler{sb},
		&setValueHandler{sb},
	}
}

type setOutputHandler struct {
	bridge *SignalBridge
}

func (h *setOutputHandler) MqttSubscribeTopic() string {
	return h.bridge.prefix + "/out/set"
}

func (h *setOutputHandler) MqttHandle(pub *paho.Publish) {
	var msg SetOutputMessage
	err := json.Unmarshal(pub.Payload, &msg)
	if err != nil {
		h.bridge.logger.Warn("invalid output set message", "topic", pub.Topic, "err", err)
		return
	}
	h.bridge.registry.SetOutputSignal(msg.Mask, msg.Levels)
}

type setValueHandler struct {
	bridge *SignalBridge
}

func (h *setValueHandler) MqttSubscribeTopic() string {
	return h.bridge.prefix + "/value/set"
}

func (h *setValueHandler) MqttHandle(pub *paho.Publish) {
	var msg SetValueMessage
	err := json.Unmarshal(pub.Payload, &msg)
	if err != nil {
		h.bridge.logger.Warn("invalid value set message", "topic", pub.Topic, "err", err)
		return
	}
	h.bridge.registry.SetValue(msg.Index, msg.Value)
}
