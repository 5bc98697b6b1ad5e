// Package iothub is a low-level Azure IoT Hub device client over MQTT.
//
// The client follows the "LL" model of the Azure device SDKs: calls only queue
// work, and nothing is sent or delivered until DoWork is called. All callbacks
// run inside DoWork, on the caller's goroutine.
package iothub

import (
	"errors"
	"fmt"
	"time"
)

// ConnectionStatus is reported to the connection status callback.
type ConnectionStatus int

const (
	Unauthenticated ConnectionStatus = iota
	Authenticated
)

func (s ConnectionStatus) String() string {
	if s == Authenticated {
		return "AUTHENTICATED"
	}
	return "UNAUTHENTICATED"
}

// StatusReason qualifies a ConnectionStatus.
type StatusReason int

const (
	ReasonOK StatusReason = iota
	ReasonExpiredSASToken
	ReasonDeviceDisabled
	ReasonBadCredential
	ReasonRetryExpired
	ReasonNoNetwork
	ReasonCommunicationError
)

func (r StatusReason) String() string {
	switch r {
	case ReasonOK:
		return "CONNECTION_OK"
	case ReasonExpiredSASToken:
		return "EXPIRED_SAS_TOKEN"
	case ReasonDeviceDisabled:
		return "DEVICE_DISABLED"
	case ReasonBadCredential:
		return "BAD_CREDENTIAL"
	case ReasonRetryExpired:
		return "RETRY_EXPIRED"
	case ReasonNoNetwork:
		return "NO_NETWORK"
	case ReasonCommunicationError:
		return "COMMUNICATION_ERROR"
	default:
		return "unknown reason"
	}
}

// ConfirmationResult is the outcome of a telemetry send.
type ConfirmationResult int

const (
	ConfirmationOK ConfirmationResult = iota
	ConfirmationBecauseDestroy
	ConfirmationMessageTimeout
	ConfirmationError
)

func (c ConfirmationResult) String() string {
	switch c {
	case ConfirmationOK:
		return "OK"
	case ConfirmationBecauseDestroy:
		return "BECAUSE_DESTROY"
	case ConfirmationMessageTimeout:
		return "MESSAGE_TIMEOUT"
	default:
		return "ERROR"
	}
}

// TwinUpdateState tells whether a twin callback carries the full document or
// a desired-properties patch.
type TwinUpdateState int

const (
	TwinComplete TwinUpdateState = iota
	TwinPartial
)

// Callbacks. They are only ever invoked from DoWork or Destroy.
type (
	ConnectionStatusCallback func(status ConnectionStatus, reason StatusReason)
	TwinCallback             func(state TwinUpdateState, payload []byte)
	DeliveryCallback         func(result ConfirmationResult)
	// ReportedStateCallback receives the hub's HTTP-style status code, or 0
	// when the report never reached the hub.
	ReportedStateCallback func(status int)
)

// Option names accepted by SetOption.
const (
	OptionKeepAlive = "keepalive" // time.Duration
)

// Message is a device-to-cloud telemetry message.
type Message struct {
	Payload         []byte
	ContentType     string
	ContentEncoding string
	Properties      map[string]string
}

// NewMessage creates a JSON telemetry message.
func NewMessage(payload []byte) *Message {
	return &Message{
		Payload:         payload,
		ContentType:     "application/json",
		ContentEncoding: "utf-8",
	}
}

// Client is a provisioned device client.
type Client interface {
	SetOption(name string, value any) error
	SetConnectionStatusCallback(cb ConnectionStatusCallback)
	SetTwinCallback(cb TwinCallback)
	SendEventAsync(msg *Message, cb DeliveryCallback) error
	SendReportedStateAsync(reported []byte, cb ReportedStateCallback) error
	DoWork()
	Destroy()
}

// Provisioner creates clients through the Device Provisioning Service.
type Provisioner interface {
	// Create registers the device under scopeID and returns a client bound
	// to the assigned hub. Failures are *ProvisioningError.
	Create(scopeID string, timeout time.Duration) (Client, error)
}

// ProvisioningResult classifies provisioning outcomes.
type ProvisioningResult int

const (
	ProvisioningOK ProvisioningResult = iota
	ProvisioningInvalidParam
	ProvisioningNetworkNotReady
	ProvisioningDeviceAuthNotReady
	ProvisioningDeviceError
	ProvisioningGenericError
)

func (r ProvisioningResult) String() string {
	switch r {
	case ProvisioningOK:
		return "PROV_RESULT_OK"
	case ProvisioningInvalidParam:
		return "PROV_RESULT_INVALID_PARAM"
	case ProvisioningNetworkNotReady:
		return "PROV_RESULT_NETWORK_NOT_READY"
	case ProvisioningDeviceAuthNotReady:
		return "PROV_RESULT_DEVICEAUTH_NOT_READY"
	case ProvisioningDeviceError:
		return "PROV_RESULT_PROV_DEVICE_ERROR"
	case ProvisioningGenericError:
		return "PROV_RESULT_GENERIC_ERROR"
	default:
		return "UNKNOWN_RETURN_VALUE"
	}
}

// ProvisioningError is returned by Provisioner.Create.
type ProvisioningError struct {
	Result ProvisioningResult
	Err    error
}

func (e *ProvisioningError) Error() string {
	if e.Err == nil {
		return "provisioning: " + e.Result.String()
	}
	return fmt.Sprintf("provisioning: %s: %v", e.Result, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// Errors returned by Client methods.
var (
	ErrDestroyed     = errors.New("iothub: client destroyed")
	ErrUnknownOption = errors.New("iothub: unknown option")
	ErrEmptyPayload  = errors.New("iothub: empty payload")
)
