package signal

import (
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTSource 从 MQTT 桥接收手机端上报的传感信号
// 主题布局: <base>/<device_id>/connectivity 和 <base>/<device_id>/motion
type MQTTSource struct {
	broker    string
	clientID  string
	topicBase string
	handler   Handler
	logger    *zap.Logger
	client    mqtt.Client
}

func NewMQTTSource(broker, clientID, topicBase string, handler Handler, logger *zap.Logger) *MQTTSource {
	return &MQTTSource{
		broker:    broker,
		clientID:  clientID,
		topicBase: strings.TrimSuffix(topicBase, "/"),
		handler:   handler,
		logger:    logger,
	}
}

func (s *MQTTSource) Start() error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.broker).
		SetClientID(s.clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.logger.Warn("MQTT connection lost", zap.Error(err))
		})

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to mqtt broker %s: %w", s.broker, token.Error())
	}
	return nil
}

// onConnect 每次 (重) 连接后重新订阅
func (s *MQTTSource) onConnect(c mqtt.Client) {
	s.logger.Info("Connected to MQTT broker", zap.String("broker", s.broker))

	subs := map[string]mqtt.MessageHandler{
		s.topicBase + "/+/connectivity": s.onConnectivity,
		s.topicBase + "/+/motion":       s.onMotion,
	}
	for topic, h := range subs {
		if token := c.Subscribe(topic, 1, h); token.Wait() && token.Error() != nil {
			s.logger.Error("Failed to subscribe", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}
}

func (s *MQTTSource) onConnectivity(_ mqtt.Client, msg mqtt.Message) {
	deviceID, ok := s.deviceFromTopic(msg.Topic())
	if !ok {
		return
	}
	ev, err := DecodeConnectivity(deviceID, msg.Payload())
	if err != nil {
		s.logger.Warn("Dropping bad connectivity payload",
			zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	s.handler.HandleConnectivity(ev)
}

func (s *MQTTSource) onMotion(_ mqtt.Client, msg mqtt.Message) {
	deviceID, ok := s.deviceFromTopic(msg.Topic())
	if !ok {
		return
	}
	sample, err := DecodeMotion(deviceID, msg.Payload())
	if err != nil {
		s.logger.Warn("Dropping bad motion payload",
			zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	s.handler.HandleMotion(sample)
}

// deviceFromTopic 从 <base>/<device_id>/<kind> 中取出设备标识
func (s *MQTTSource) deviceFromTopic(topic string) (string, bool) {
	rest := strings.TrimPrefix(topic, s.topicBase+"/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		s.logger.Warn("Unexpected topic layout", zap.String("topic", topic))
		return "", false
	}
	return parts[0], true
}

func (s *MQTTSource) Stop() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}
