// Package relay republishes applied status snapshots to an MQTT broker so other
// tools can follow the device without polling it themselves.
//
// Topic Structure:
//   <topic>            - one JSON message per applied snapshot
//
// Message Format:
//   JSON with fields: session id, poll sequence, receive time, hostname,
//   recording flag, recording duration (seconds) and per-sink counters
//
// Features:
//   - MQTT auto-reconnect with 1-minute max interval
//   - Buffered publish queue (64 messages) with non-blocking enqueue, so a slow
//     broker never stalls the status poller
//   - Connection state callbacks (onConnect, onConnectionLost)
package relay

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"

	"recstatus/stats"
	"recstatus/status"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const queueSize = 64

// Config selects the broker and topic.
type Config struct {
	Broker   string
	Port     int
	Topic    string
	ClientID string
	QoS      byte
	Retain   bool
}

// Message is the JSON payload published per snapshot.
type Message struct {
	Session           string        `json:"session"`
	Seq               uint64        `json:"seq"`
	At                string        `json:"at"`
	Hostname          string        `json:"hostname,omitempty"`
	Recording         bool          `json:"recording"`
	RecordingDuration float64       `json:"recording_duration"`
	Sinks             []SinkMessage `json:"sinks"`
}

// SinkMessage mirrors one sink in the device status format.
type SinkMessage struct {
	Name             string  `json:"name"`
	BytesIn          int64   `json:"bytes_in"`
	BytesInPerSecond float64 `json:"bytes_in_per_second"`
}

// Publisher maintains an MQTT connection and drains a bounded queue of
// encoded snapshots.
//
// Thread Safety:
//   - Publish may be called from any goroutine and never blocks
//   - one drain goroutine owns the broker publish calls
type Publisher struct {
	cfg     Config
	session string
	logger  *log.Logger
	stats   *stats.Tracker

	client mqtt.Client
	send   func(payload []byte) error

	queue    chan []byte
	shutdown chan struct{}
	done     chan struct{}
	once     sync.Once
	started  bool
}

// NewPublisher creates a publisher; nothing is sent until Connect.
func NewPublisher(cfg Config, session string, logger *log.Logger, tracker *stats.Tracker) *Publisher {
	if cfg.Port <= 0 {
		cfg.Port = 1883
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("recstatus-%s", session)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Publisher{
		cfg:      cfg,
		session:  session,
		logger:   logger,
		stats:    tracker,
		queue:    make(chan []byte, queueSize),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Connect establishes the broker connection and starts the drain goroutine.
func (p *Publisher) Connect() error {
	if p == nil {
		return errors.New("relay: nil publisher")
	}
	if p.cfg.Broker == "" {
		return errors.New("relay: broker required")
	}
	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", p.cfg.Broker, p.cfg.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(p.cfg.ClientID)

	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(p.onConnectionLost)

	p.client = mqtt.NewClient(opts)

	p.logger.Printf("relay: connecting to MQTT broker at %s", brokerURL)
	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("relay: connect %s: %w", brokerURL, token.Error())
	}
	p.start(p.mqttSend)
	return nil
}

func (p *Publisher) onConnect(client mqtt.Client) {
	p.logger.Printf("relay: connected, publishing to %s", p.cfg.Topic)
}

func (p *Publisher) onConnectionLost(client mqtt.Client, err error) {
	p.logger.Printf("relay: connection lost: %v (will reconnect)", err)
}

func (p *Publisher) mqttSend(payload []byte) error {
	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, p.cfg.Retain, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("publish timed out")
	}
	return token.Error()
}

func (p *Publisher) start(send func([]byte) error) {
	p.send = send
	p.started = true
	go p.drain()
}

func (p *Publisher) drain() {
	defer close(p.done)
	for {
		select {
		case <-p.shutdown:
			return
		case payload := <-p.queue:
			if err := p.send(payload); err != nil {
				p.logger.Printf("relay: publish failed: %v", err)
				continue
			}
			p.stats.Inc(stats.SnapshotSent)
		}
	}
}

// Publish encodes snap and enqueues it. When the queue is full the snapshot is
// dropped; the next poll supersedes it anyway.
func (p *Publisher) Publish(snap status.Snapshot) {
	if p == nil {
		return
	}
	payload, err := Encode(p.session, snap)
	if err != nil {
		p.logger.Printf("relay: encode: %v", err)
		return
	}
	select {
	case p.queue <- payload:
	default:
		p.logger.Println("relay: queue full, dropping snapshot")
	}
}

// Close stops the drain goroutine and disconnects.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		close(p.shutdown)
		if p.started {
			<-p.done
		}
		if p.client != nil && p.client.IsConnected() {
			p.client.Disconnect(250)
		}
	})
}

// Encode renders snap as the relay JSON payload.
func Encode(session string, snap status.Snapshot) ([]byte, error) {
	msg := Message{
		Session:           session,
		Seq:               snap.Seq,
		At:                snap.At.UTC().Format(time.RFC3339Nano),
		Hostname:          snap.Hostname,
		Recording:         snap.Recording,
		RecordingDuration: snap.RecordingDuration.Seconds(),
		Sinks:             make([]SinkMessage, 0, len(snap.Sinks)),
	}
	for _, s := range snap.Sinks {
		msg.Sinks = append(msg.Sinks, SinkMessage{
			Name:             s.Name,
			BytesIn:          s.BytesIn,
			BytesInPerSecond: s.BytesInPerSecond,
		})
	}
	return json.Marshal(msg)
}
