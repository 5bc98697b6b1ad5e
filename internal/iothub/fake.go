package iothub

import (
	"fmt"
	"time"
)

// FakeProvisioner hands out FakeClients and records Create calls.
type FakeProvisioner struct {
	// Results are consumed one per Create; nil or an exhausted list succeeds.
	Results []ProvisioningResult

	// Calls records the scope id of every Create.
	Calls []string

	// Timeouts records the timeout of every Create.
	Timeouts []time.Duration

	// Clients contains every client returned, oldest first.
	Clients []*FakeClient
}

// NewFakeProvisioner creates a FakeProvisioner that always succeeds.
func NewFakeProvisioner() *FakeProvisioner {
	return &FakeProvisioner{}
}

// Create returns a new FakeClient or the next scripted failure.
func (f *FakeProvisioner) Create(scopeID string, timeout time.Duration) (Client, error) {
	f.Calls = append(f.Calls, scopeID)
	f.Timeouts = append(f.Timeouts, timeout)

	if len(f.Results) > 0 {
		r := f.Results[0]
		f.Results = f.Results[1:]
		if r != ProvisioningOK {
			return nil, &ProvisioningError{Result: r}
		}
	}

	c := NewFakeClient()
	f.Clients = append(f.Clients, c)
	return c, nil
}

// Last returns the most recently created client, or nil.
func (f *FakeProvisioner) Last() *FakeClient {
	if len(f.Clients) == 0 {
		return nil
	}
	return f.Clients[len(f.Clients)-1]
}

// SentEvent is a telemetry message recorded by FakeClient.
type SentEvent struct {
	Message  *Message
	Callback DeliveryCallback
}

// SentReport is a reported-state patch recorded by FakeClient.
type SentReport struct {
	Payload  []byte
	Callback ReportedStateCallback
}

type fakeStatus struct {
	status ConnectionStatus
	reason StatusReason
}

type fakeTwin struct {
	state   TwinUpdateState
	payload []byte
}

// FakeClient records sends and fires queued callbacks on DoWork, like the
// real client.
type FakeClient struct {
	Options   map[string]any
	Events    []SentEvent
	Reports   []SentReport
	DoWorks   int
	Destroyed bool

	// SendError, if set, is returned by both send methods.
	SendError error

	// DeliveryResult and ReportStatus are passed to callbacks on DoWork.
	DeliveryResult ConfirmationResult
	ReportStatus   int

	statusCb ConnectionStatusCallback
	twinCb   TwinCallback

	statuses  []fakeStatus
	twins     []fakeTwin
	delivered int
	reported  int
}

// NewFakeClient creates a FakeClient whose sends succeed with status 204.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		Options:      make(map[string]any),
		ReportStatus: 204,
	}
}

func (f *FakeClient) SetOption(name string, value any) error {
	if f.Destroyed {
		return ErrDestroyed
	}
	if name != OptionKeepAlive {
		return fmt.Errorf("%w: %s", ErrUnknownOption, name)
	}
	f.Options[name] = value
	return nil
}

func (f *FakeClient) SetConnectionStatusCallback(cb ConnectionStatusCallback) { f.statusCb = cb }

func (f *FakeClient) SetTwinCallback(cb TwinCallback) { f.twinCb = cb }

func (f *FakeClient) SendEventAsync(msg *Message, cb DeliveryCallback) error {
	if f.Destroyed {
		return ErrDestroyed
	}
	if f.SendError != nil {
		return f.SendError
	}
	f.Events = append(f.Events, SentEvent{Message: msg, Callback: cb})
	return nil
}

func (f *FakeClient) SendReportedStateAsync(reported []byte, cb ReportedStateCallback) error {
	if f.Destroyed {
		return ErrDestroyed
	}
	if f.SendError != nil {
		return f.SendError
	}
	f.Reports = append(f.Reports, SentReport{Payload: reported, Callback: cb})
	return nil
}

// QueueStatus makes the next DoWork report a connection status change.
func (f *FakeClient) QueueStatus(status ConnectionStatus, reason StatusReason) {
	f.statuses = append(f.statuses, fakeStatus{status, reason})
}

// QueueTwin makes the next DoWork deliver a twin document or patch.
func (f *FakeClient) QueueTwin(state TwinUpdateState, payload string) {
	f.twins = append(f.twins, fakeTwin{state, []byte(payload)})
}

// DoWork fires queued status and twin callbacks, then confirms sends.
func (f *FakeClient) DoWork() {
	if f.Destroyed {
		return
	}
	f.DoWorks++

	statuses := f.statuses
	f.statuses = nil
	for _, s := range statuses {
		if f.statusCb != nil {
			f.statusCb(s.status, s.reason)
		}
	}

	twins := f.twins
	f.twins = nil
	for _, t := range twins {
		if f.twinCb != nil {
			f.twinCb(t.state, t.payload)
		}
	}

	for ; f.delivered < len(f.Events); f.delivered++ {
		if cb := f.Events[f.delivered].Callback; cb != nil {
			cb(f.DeliveryResult)
		}
	}
	for ; f.reported < len(f.Reports); f.reported++ {
		if cb := f.Reports[f.reported].Callback; cb != nil {
			cb(f.ReportStatus)
		}
	}
}

// Destroy marks the client destroyed and fails unconfirmed sends.
func (f *FakeClient) Destroy() {
	if f.Destroyed {
		return
	}
	f.Destroyed = true
	for ; f.delivered < len(f.Events); f.delivered++ {
		if cb := f.Events[f.delivered].Callback; cb != nil {
			cb(ConfirmationBecauseDestroy)
		}
	}
	for ; f.reported < len(f.Reports); f.reported++ {
		if cb := f.Reports[f.reported].Callback; cb != nil {
			cb(0)
		}
	}
}

// ReportPayloads returns the recorded reported-state payloads as strings.
func (f *FakeClient) ReportPayloads() []string {
	out := make([]string, len(f.Reports))
	for i, r := range f.Reports {
		out[i] = string(r.Payload)
	}
	return out
}

// EventPayloads returns the recorded telemetry payloads as strings.
func (f *FakeClient) EventPayloads() []string {
	out := make([]string, len(f.Events))
	for i, e := range f.Events {
		out[i] = string(e.Message.Payload)
	}
	return out
}
