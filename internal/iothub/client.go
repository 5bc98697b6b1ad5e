package iothub

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// DefaultQueueSize bounds the messages held while the client is offline.
const DefaultQueueSize = 64

const (
	defaultKeepAlive  = 4 * time.Minute
	defaultStepWait   = 5 * time.Second
	connectTimeout    = 30 * time.Second
	disconnectQuiesce = 250 // ms
)

// newPahoClient creates the transport. Tests replace it with a scripted fake.
type newPahoClient func(*paho.ClientOptions) paho.Client

// hubConfig is the connection target returned by provisioning.
type hubConfig struct {
	hostname  string
	deviceID  string
	tls       *tls.Config
	queueSize int
}

type inboundKind int

const (
	inboundMessage inboundKind = iota
	inboundLost
)

// inbound is a paho event waiting for DoWork.
type inbound struct {
	kind    inboundKind
	topic   string
	payload []byte
	err     error
}

type inflight struct {
	token paho.Token
	msg   outbound
}

// mqttClient is the IoT Hub client. Paho runs its own goroutines; everything
// they produce is queued under mu and handled by DoWork.
type mqttClient struct {
	cfg       hubConfig
	newClient newPahoClient
	keepAlive time.Duration
	stepWait  time.Duration

	statusCb ConnectionStatusCallback
	twinCb   TwinCallback

	conn        paho.Client
	connecting  paho.Token
	subscribing paho.Token
	online      bool

	outbox   *ringBuffer
	failed   []outbound // dropped by the outbox, reported on the next DoWork
	inflight []inflight
	reports  map[string]ReportedStateCallback
	twinRID  string
	nextRID  int

	mu        sync.Mutex
	inbox     []inbound
	destroyed bool
}

func newMQTTClient(cfg hubConfig, newClient newPahoClient) *mqttClient {
	if cfg.queueSize <= 0 {
		cfg.queueSize = DefaultQueueSize
	}
	if newClient == nil {
		newClient = paho.NewClient
	}
	return &mqttClient{
		cfg:       cfg,
		newClient: newClient,
		keepAlive: defaultKeepAlive,
		stepWait:  defaultStepWait,
		outbox:    newRingBuffer(cfg.queueSize),
		reports:   make(map[string]ReportedStateCallback),
	}
}

// SetOption sets a transport option. It takes effect on the next connect.
func (c *mqttClient) SetOption(name string, value any) error {
	if c.isDestroyed() {
		return ErrDestroyed
	}
	switch name {
	case OptionKeepAlive:
		var d time.Duration
		switch v := value.(type) {
		case time.Duration:
			d = v
		case int:
			d = time.Duration(v) * time.Second
		default:
			return fmt.Errorf("iothub: option %s: unsupported value %T", name, value)
		}
		if d <= 0 {
			return fmt.Errorf("iothub: option %s: must be positive", name)
		}
		c.keepAlive = d
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownOption, name)
	}
}

func (c *mqttClient) SetConnectionStatusCallback(cb ConnectionStatusCallback) { c.statusCb = cb }

func (c *mqttClient) SetTwinCallback(cb TwinCallback) { c.twinCb = cb }

// SendEventAsync queues a telemetry message. cb, which may be nil, runs from
// a later DoWork once the hub acknowledged or the message was lost.
func (c *mqttClient) SendEventAsync(msg *Message, cb DeliveryCallback) error {
	if c.isDestroyed() {
		return ErrDestroyed
	}
	if msg == nil || len(msg.Payload) == 0 {
		return ErrEmptyPayload
	}
	c.enqueue(outbound{
		topic:      telemetryTopic(c.cfg.deviceID, msg),
		payload:    msg.Payload,
		qos:        1,
		onDelivery: cb,
	})
	return nil
}

// SendReportedStateAsync queues a reported-properties patch. cb receives the
// status code of the hub's twin response.
func (c *mqttClient) SendReportedStateAsync(reported []byte, cb ReportedStateCallback) error {
	if c.isDestroyed() {
		return ErrDestroyed
	}
	if len(reported) == 0 {
		return ErrEmptyPayload
	}
	rid := c.newRID()
	c.enqueue(outbound{
		topic:    twinReportTopic(rid),
		payload:  reported,
		qos:      0,
		onReport: cb,
		rid:      rid,
	})
	return nil
}

func (c *mqttClient) enqueue(m outbound) {
	if dropped, ok := c.outbox.push(m); ok {
		c.failed = append(c.failed, dropped)
	}
}

func (c *mqttClient) newRID() string {
	c.nextRID++
	return strconv.Itoa(c.nextRID)
}

// DoWork advances the connection, publishes queued messages and runs every
// pending callback. While connecting it blocks for at most stepWait per
// handshake step.
func (c *mqttClient) DoWork() {
	if c.isDestroyed() {
		return
	}

	for _, m := range c.failed {
		m.fail(ConfirmationError)
	}
	c.failed = nil

	if !c.online && !c.advance() {
		return
	}
	if !c.handleInbox() {
		return
	}
	c.flush()
	c.checkInflight()
}

// advance moves the connection through connect and subscribe. It returns
// true once the client is online.
func (c *mqttClient) advance() bool {
	if c.conn == nil {
		c.connect()
	}

	if c.connecting != nil {
		if !c.connecting.WaitTimeout(c.stepWait) {
			return false
		}
		tok := c.connecting
		c.connecting = nil
		if err := tok.Error(); err != nil {
			log.Printf("iothub: connect to %s failed: %v", c.cfg.hostname, err)
			c.conn = nil
			c.notifyStatus(Unauthenticated, connectReason(err))
			return false
		}
		c.subscribing = c.conn.SubscribeMultiple(map[string]byte{
			twinResponseFilter: 0,
			twinDesiredFilter:  0,
		}, c.onMessage)
	}

	if c.subscribing != nil {
		if !c.subscribing.WaitTimeout(c.stepWait) {
			return false
		}
		tok := c.subscribing
		c.subscribing = nil
		if err := tok.Error(); err != nil {
			log.Printf("iothub: subscribe failed: %v", err)
			c.drop(ReasonCommunicationError)
			return false
		}
	}

	c.online = true
	log.Printf("iothub: connected to %s as %s", c.cfg.hostname, c.cfg.deviceID)
	c.notifyStatus(Authenticated, ReasonOK)
	c.requestTwin()
	return true
}

func (c *mqttClient) connect() {
	opts := paho.NewClientOptions().
		AddBroker("ssl://" + c.cfg.hostname + ":8883").
		SetClientID(c.cfg.deviceID).
		SetUsername(hubUsername(c.cfg.hostname, c.cfg.deviceID)).
		SetTLSConfig(c.cfg.tls).
		SetProtocolVersion(4).
		SetCleanSession(true).
		SetKeepAlive(c.keepAlive).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(false).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.post(inbound{kind: inboundLost, err: err})
		})

	c.conn = c.newClient(opts)
	c.connecting = c.conn.Connect()
}

// drop tears the connection down after a failure and reports it. The next
// DoWork reconnects.
func (c *mqttClient) drop(reason StatusReason) {
	if c.conn != nil {
		c.conn.Disconnect(disconnectQuiesce)
	}
	c.conn = nil
	c.connecting = nil
	c.subscribing = nil
	c.online = false
	c.twinRID = ""
	for _, f := range c.inflight {
		if f.msg.onReport != nil {
			delete(c.reports, f.msg.rid)
		}
		f.msg.fail(ConfirmationError)
	}
	c.inflight = nil
	for rid, cb := range c.reports {
		delete(c.reports, rid)
		if cb != nil {
			cb(0)
		}
	}
	c.notifyStatus(Unauthenticated, reason)
}

func (c *mqttClient) notifyStatus(status ConnectionStatus, reason StatusReason) {
	if c.statusCb != nil {
		c.statusCb(status, reason)
	}
}

func (c *mqttClient) requestTwin() {
	c.twinRID = c.newRID()
	c.conn.Publish(twinGetTopic(c.twinRID), 0, false, []byte{})
}

// onMessage runs on a paho goroutine.
func (c *mqttClient) onMessage(_ paho.Client, m paho.Message) {
	c.post(inbound{kind: inboundMessage, topic: m.Topic(), payload: m.Payload()})
}

func (c *mqttClient) post(ev inbound) {
	c.mu.Lock()
	c.inbox = append(c.inbox, ev)
	c.mu.Unlock()
}

// handleInbox dispatches queued paho events. It returns false when the
// connection was lost.
func (c *mqttClient) handleInbox() bool {
	c.mu.Lock()
	events := c.inbox
	c.inbox = nil
	c.mu.Unlock()

	for _, ev := range events {
		switch ev.kind {
		case inboundLost:
			log.Printf("iothub: connection lost: %v", ev.err)
			c.drop(ReasonCommunicationError)
			return false
		case inboundMessage:
			c.handleMessage(ev.topic, ev.payload)
		}
	}
	return true
}

func (c *mqttClient) handleMessage(topic string, payload []byte) {
	switch {
	case strings.HasPrefix(topic, twinDesiredPrefix):
		if c.twinCb != nil {
			c.twinCb(TwinPartial, payload)
		}
	case strings.HasPrefix(topic, twinResponsePrefix):
		resp, err := parseResponseTopic(twinResponsePrefix, topic)
		if err != nil {
			log.Printf("iothub: %v", err)
			return
		}
		if resp.rid == c.twinRID {
			c.twinRID = ""
			if resp.status != 200 {
				log.Printf("iothub: twin request failed with status %d", resp.status)
				return
			}
			if c.twinCb != nil {
				c.twinCb(TwinComplete, payload)
			}
			return
		}
		cb, ok := c.reports[resp.rid]
		if !ok {
			log.Printf("iothub: twin response for unknown request %q", resp.rid)
			return
		}
		delete(c.reports, resp.rid)
		if cb != nil {
			cb(resp.status)
		}
	default:
		log.Printf("iothub: ignoring message on %s", topic)
	}
}

func (c *mqttClient) flush() {
	for _, m := range c.outbox.drainAll() {
		tok := c.conn.Publish(m.topic, m.qos, false, m.payload)
		if m.onReport != nil {
			c.reports[m.rid] = m.onReport
		}
		c.inflight = append(c.inflight, inflight{token: tok, msg: m})
	}
}

func (c *mqttClient) checkInflight() {
	pending := c.inflight[:0]
	for _, f := range c.inflight {
		if !isDone(f.token) {
			pending = append(pending, f)
			continue
		}
		err := f.token.Error()
		switch {
		case f.msg.onReport != nil:
			// the callback fires on the twin response
			if err != nil {
				delete(c.reports, f.msg.rid)
				f.msg.onReport(0)
			}
		case f.msg.onDelivery != nil:
			if err != nil {
				f.msg.onDelivery(ConfirmationError)
			} else {
				f.msg.onDelivery(ConfirmationOK)
			}
		}
	}
	c.inflight = pending
}

// Destroy disconnects and fails every message not yet confirmed.
func (c *mqttClient) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.inbox = nil
	c.mu.Unlock()

	if c.conn != nil {
		c.conn.Disconnect(disconnectQuiesce)
		c.conn = nil
	}
	for _, m := range c.failed {
		m.fail(ConfirmationError)
	}
	c.failed = nil
	for _, m := range c.outbox.drainAll() {
		m.fail(ConfirmationBecauseDestroy)
	}
	for _, f := range c.inflight {
		if f.msg.onReport != nil {
			delete(c.reports, f.msg.rid)
		}
		f.msg.fail(ConfirmationBecauseDestroy)
	}
	c.inflight = nil
	for rid, cb := range c.reports {
		delete(c.reports, rid)
		if cb != nil {
			cb(0)
		}
	}
}

func (c *mqttClient) isDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

func isDone(t paho.Token) bool {
	select {
	case <-t.Done():
		return true
	default:
		return false
	}
}

func connectReason(err error) StatusReason {
	var netErr net.Error
	switch {
	case errors.Is(err, packets.ErrorRefusedNotAuthorised),
		errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword):
		return ReasonBadCredential
	case errors.As(err, &netErr):
		return ReasonNoNetwork
	default:
		return ReasonCommunicationError
	}
}
