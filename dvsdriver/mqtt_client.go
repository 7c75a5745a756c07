package dvsdriver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	TOPIC_PREFIX             = "dvs_calibration"
	TOPIC_START              = TOPIC_PREFIX + "/start"
	TOPIC_RESET              = TOPIC_PREFIX + "/reset"
	TOPIC_SAVE               = TOPIC_PREFIX + "/save"
	TOPIC_PATTERN_DETECTIONS = TOPIC_PREFIX + "/pattern_detections"
	TOPIC_OUTPUT             = TOPIC_PREFIX + "/output"
	TOPIC_CAMERA_EVENTS      = TOPIC_PREFIX + "/camera/+/events"

	MQTT_PUBLISH_TIMEOUT = 2 * time.Second
	MQTT_COMMAND_TIMEOUT = 30 * time.Second
)

var (
	MQTT_BROKER    = "tcp://localhost:1883"
	MQTT_CLIENT_ID = "dvs-calibration"
)

func init() {
	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		MQTT_BROKER = broker
	}
	if clientID := os.Getenv("MQTT_CLIENT_ID"); clientID != "" {
		MQTT_CLIENT_ID = clientID
	}
}

func cameraTopic(cameraID int, leaf string) string {
	return fmt.Sprintf("%s/camera/%d/%s", TOPIC_PREFIX, cameraID, leaf)
}

// parseCameraTopic extracts the id from dvs_calibration/camera/<id>/events.
func parseCameraTopic(topic string) (int, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TOPIC_PREFIX || parts[1] != "camera" || parts[3] != "events" {
		return 0, fmt.Errorf("unexpected event topic %q", topic)
	}
	id, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, fmt.Errorf("bad camera id in topic %q: %w", topic, err)
	}
	return id, nil
}

func NewMQTTClient() (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().AddBroker(MQTT_BROKER).SetClientID(MQTT_CLIENT_ID)
	opts.SetKeepAlive(2 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetAutoReconnect(true)
	// handlers for one topic run in order, one at a time
	opts.SetOrderMatters(true)
	opts.SetDefaultPublishHandler(func(client mqtt.Client, msg mqtt.Message) {
		Logger.Debug().Str("topic", msg.Topic()).Int("bytes", len(msg.Payload())).Msg("Unhandled MQTT message")
	})

	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", MQTT_BROKER, token.Error())
	}
	Logger.Info().Str("broker", MQTT_BROKER).Str("client_id", MQTT_CLIENT_ID).Msg("Connected to MQTT broker")
	return c, nil
}

// Router dispatches lifecycle commands and camera event feeds to a session.
type Router struct {
	session *Session
}

func NewRouter(session *Session) *Router {
	return &Router{session: session}
}

func SetupMQTTSubscriptionCallbacks(router *Router, client mqtt.Client) error {
	subscriptions := map[string]mqtt.MessageHandler{
		TOPIC_START:         router.handleStart,
		TOPIC_RESET:         router.handleReset,
		TOPIC_SAVE:          router.handleSave,
		TOPIC_CAMERA_EVENTS: router.handleEvents,
	}
	for topic, handler := range subscriptions {
		if token := client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", topic, token.Error())
		}
		Logger.Debug().Str("topic", topic).Msg("Subscribed")
	}
	return nil
}

func (r *Router) handleEvents(client mqtt.Client, msg mqtt.Message) {
	cameraID, err := parseCameraTopic(msg.Topic())
	if err != nil {
		Logger.Warn().Err(err).Msg("Ignoring event message")
		return
	}
	arr, err := DecodeEventArray(msg.Payload())
	if err != nil {
		Logger.Warn().Int("camera", cameraID).Err(err).Msg("Dropping malformed event message")
		return
	}
	if _, err := r.session.HandleEvents(cameraID, arr.Events); err != nil {
		Logger.Warn().Int("camera", cameraID).Err(err).Msg("Event message rejected")
	}
}

func (r *Router) handleStart(client mqtt.Client, msg mqtt.Message) {
	Logger.Info().Msg("start calib call")
	ctx, cancel := context.WithTimeout(context.Background(), MQTT_COMMAND_TIMEOUT)
	defer cancel()
	if _, err := r.session.StartCalibration(ctx); err != nil {
		Logger.Error().Err(err).Msg("Calibration failed")
	}
}

func (r *Router) handleReset(client mqtt.Client, msg mqtt.Message) {
	Logger.Info().Msg("reset call")
	r.session.ResetCalibration()
}

func (r *Router) handleSave(client mqtt.Client, msg mqtt.Message) {
	Logger.Info().Msg("save calib call")
	ctx, cancel := context.WithTimeout(context.Background(), MQTT_COMMAND_TIMEOUT)
	defer cancel()
	if err := r.session.SaveCalibration(ctx); err != nil {
		Logger.Error().Err(err).Msg("Saving calibration failed")
	}
}

// MQTTPublisher publishes session output on the broker.
type MQTTPublisher struct {
	client mqtt.Client
}

func NewMQTTPublisher(client mqtt.Client) *MQTTPublisher {
	return &MQTTPublisher{client: client}
}

// publish does not wait for the broker: it is called from message handlers,
// which must not block while order matters.
func (p *MQTTPublisher) publish(topic string, qos byte, payload []byte) error {
	token := p.client.Publish(topic, qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	default:
	}
	go func() {
		if !token.WaitTimeout(MQTT_PUBLISH_TIMEOUT) {
			Logger.Warn().Str("topic", topic).Msg("Publish not acknowledged in time")
			return
		}
		if err := token.Error(); err != nil {
			Logger.Error().Str("topic", topic).Err(err).Msg("Publish failed")
		}
	}()
	return nil
}

func (p *MQTTPublisher) PublishDetections(count int) error {
	return p.publish(TOPIC_PATTERN_DETECTIONS, 1, []byte(strconv.Itoa(count)))
}

func (p *MQTTPublisher) PublishPattern(msg PatternMessage) error {
	return publishJsonMsg(p, cameraTopic(msg.CameraID, "pattern"), msg)
}

func (p *MQTTPublisher) PublishOutput(text string) error {
	return p.publish(TOPIC_OUTPUT, 2, []byte(text))
}

// PublishImage sends a JPEG as base64 text.
func (p *MQTTPublisher) PublishImage(cameraID int, jpeg []byte) error {
	b64bytes := make([]byte, base64.StdEncoding.EncodedLen(len(jpeg)))
	base64.StdEncoding.Encode(b64bytes, jpeg)
	return p.publish(cameraTopic(cameraID, "visualization"), 0, b64bytes)
}

func publishJsonMsg(p *MQTTPublisher, topic string, obj interface{}) error {
	msg, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return p.publish(topic, 2, msg)
}
