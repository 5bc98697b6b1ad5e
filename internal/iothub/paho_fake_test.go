package iothub

import (
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func pendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func doneToken(err error) *fakeToken {
	t := pendingToken()
	t.complete(err)
	return t
}

func (t *fakeToken) complete(err error) {
	t.err = err
	close(t.done)
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakePaho is a scripted paho.Client. onPublish plays the broker.
type fakePaho struct {
	mu sync.Mutex

	opts         *paho.ClientOptions
	connectToken *fakeToken
	subscribeErr error
	publishToken func(topic string) *fakeToken

	handlers     map[string]paho.MessageHandler
	published    []published
	disconnected bool

	onPublish func(f *fakePaho, topic string, payload []byte)
}

func newFakePaho() *fakePaho {
	return &fakePaho{
		connectToken: doneToken(nil),
		handlers:     make(map[string]paho.MessageHandler),
	}
}

// factory returns a newPahoClient that hands out f.
func (f *fakePaho) factory() newPahoClient {
	return func(o *paho.ClientOptions) paho.Client {
		f.opts = o
		return f
	}
}

func (f *fakePaho) IsConnected() bool      { return !f.disconnected }
func (f *fakePaho) IsConnectionOpen() bool { return !f.disconnected }
func (f *fakePaho) Connect() paho.Token    { return f.connectToken }

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()
}

func (f *fakePaho) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	b, _ := payload.([]byte)
	f.mu.Lock()
	f.published = append(f.published, published{topic: topic, qos: qos, payload: b})
	script := f.onPublish
	f.mu.Unlock()

	if script != nil {
		script(f, topic, b)
	}
	if f.publishToken != nil {
		return f.publishToken(topic)
	}
	return doneToken(nil)
}

func (f *fakePaho) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	f.mu.Lock()
	f.handlers[topic] = cb
	f.mu.Unlock()
	return doneToken(f.subscribeErr)
}

func (f *fakePaho) SubscribeMultiple(filters map[string]byte, cb paho.MessageHandler) paho.Token {
	f.mu.Lock()
	for topic := range filters {
		f.handlers[topic] = cb
	}
	f.mu.Unlock()
	return doneToken(f.subscribeErr)
}

func (f *fakePaho) Unsubscribe(...string) paho.Token        { return doneToken(nil) }
func (f *fakePaho) AddRoute(string, paho.MessageHandler)    {}
func (f *fakePaho) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }

// deliver routes an inbound message to the subscription matching topic.
func (f *fakePaho) deliver(topic, payload string) bool {
	f.mu.Lock()
	var cb paho.MessageHandler
	for filter, h := range f.handlers {
		if strings.HasPrefix(topic, strings.TrimSuffix(filter, "#")) {
			cb = h
			break
		}
	}
	f.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(f, fakeMessage{topic: topic, payload: []byte(payload)})
	return true
}

// lose simulates a dropped connection.
func (f *fakePaho) lose(err error) {
	f.opts.OnConnectionLost(f, err)
}

func (f *fakePaho) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.published))
	for i, p := range f.published {
		out[i] = p.topic
	}
	return out
}
