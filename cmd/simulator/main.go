package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// 通过 MQTT 模拟一台手机上报"行驶 -> 停车 -> 离开"的信号流,
// 用于对完整链路 (桥接 -> 检测 -> 推送) 做联调。
func main() {
	broker := flag.String("broker", "tcp://localhost:1883", "MQTT broker address")
	topicBase := flag.String("topic-base", "curbsense", "topic prefix")
	deviceID := flag.String("device", "phone-001", "simulated device id")
	parkDuration := flag.Duration("park", 90*time.Second, "how long to stay parked per cycle")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	opts := mqtt.NewClientOptions().
		AddBroker(*broker).
		SetClientID("curbsense-simulator-" + *deviceID).
		SetConnectRetry(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to connect", zap.Error(token.Error()))
	}
	defer client.Disconnect(250)

	logger.Info("Simulator connected",
		zap.String("broker", *broker),
		zap.String("device_id", *deviceID))

	sim := &simulator{
		client:    client,
		topicBase: *topicBase,
		deviceID:  *deviceID,
		logger:    logger,
		lat:       37.7749,
		lon:       -122.4194,
	}

	stop := make(chan os.Signal, 1)
	ossignal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	for {
		if !sim.cycle(stop, *parkDuration) {
			logger.Info("Simulator stopped")
			return
		}
	}
}

type simulator struct {
	client    mqtt.Client
	topicBase string
	deviceID  string
	logger    *zap.Logger
	lat, lon  float64
}

// cycle 一个完整的行驶-停车-离开周期, 收到退出信号返回 false
func (s *simulator) cycle(stop chan os.Signal, parkDuration time.Duration) bool {
	s.logger.Info("Driving")
	s.publishConnectivity("link_up")
	for i := 0; i < 6; i++ {
		s.lat += 0.0005 * rand.Float64()
		s.lon += 0.0005 * rand.Float64()
		s.publishMotion("automotive", 12+3*rand.Float64(), 15)
		if s.wait(stop, 5*time.Second) {
			return false
		}
	}

	s.logger.Info("Parking")
	s.publishConnectivity("link_down")
	if s.wait(stop, 2*time.Second) {
		return false
	}

	deadline := time.Now().Add(parkDuration)
	for time.Now().Before(deadline) {
		s.publishMotion("stationary", 0, 8)
		if s.wait(stop, 10*time.Second) {
			return false
		}
	}

	s.logger.Info("Departing")
	return !s.wait(stop, 2*time.Second)
}

func (s *simulator) publishConnectivity(kind string) {
	payload, _ := json.Marshal(map[string]interface{}{
		"kind":      kind,
		"timestamp": time.Now().UnixMilli(),
	})
	topic := fmt.Sprintf("%s/%s/connectivity", s.topicBase, s.deviceID)
	s.client.Publish(topic, 1, false, payload)
}

func (s *simulator) publishMotion(classification string, speed, accuracy float64) {
	payload, _ := json.Marshal(map[string]interface{}{
		"classification": classification,
		"speed_ms":       speed,
		"latitude":       s.lat + 3e-5*rand.Float64(),
		"longitude":      s.lon + 3e-5*rand.Float64(),
		"accuracy_m":     accuracy,
		"timestamp":      time.Now().UnixMilli(),
	})
	topic := fmt.Sprintf("%s/%s/motion", s.topicBase, s.deviceID)
	s.client.Publish(topic, 1, false, payload)
}

func (s *simulator) wait(stop chan os.Signal, d time.Duration) (stopped bool) {
	select {
	case <-stop:
		return true
	case <-time.After(d):
		return false
	}
}
