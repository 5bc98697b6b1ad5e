package iothub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const defaultRetryAfter = 3 * time.Second

// MQTTProvisioner registers the device with the Device Provisioning Service
// over MQTT and returns a client for the assigned hub.
type MQTTProvisioner struct {
	Endpoint    string
	Credentials *Credentials
	QueueSize   int

	newClient newPahoClient
}

// NewMQTTProvisioner creates a provisioner. An empty endpoint selects
// DefaultDPSEndpoint.
func NewMQTTProvisioner(endpoint string, creds *Credentials) *MQTTProvisioner {
	if endpoint == "" {
		endpoint = DefaultDPSEndpoint
	}
	return &MQTTProvisioner{
		Endpoint:    endpoint,
		Credentials: creds,
		QueueSize:   DefaultQueueSize,
		newClient:   paho.NewClient,
	}
}

// Create blocks until the registration is assigned, fails, or timeout
// elapses. The returned client has not connected yet; its first DoWork does.
func (p *MQTTProvisioner) Create(scopeID string, timeout time.Duration) (Client, error) {
	if scopeID == "" || timeout <= 0 {
		return nil, &ProvisioningError{Result: ProvisioningInvalidParam}
	}
	if !p.Credentials.ready() {
		return nil, &ProvisioningError{Result: ProvisioningDeviceAuthNotReady}
	}

	deadline := time.Now().Add(timeout)
	hub, deviceID, err := p.register(scopeID, deadline)
	if err != nil {
		return nil, err
	}
	log.Printf("iothub: device %s assigned to %s", deviceID, hub)

	return newMQTTClient(hubConfig{
		hostname:  hub,
		deviceID:  deviceID,
		tls:       p.Credentials.TLS,
		queueSize: p.QueueSize,
	}, p.newClient), nil
}

func (p *MQTTProvisioner) register(scopeID string, deadline time.Time) (hub, deviceID string, err error) {
	regID := p.Credentials.RegistrationID
	opts := paho.NewClientOptions().
		AddBroker(p.Endpoint).
		SetClientID(regID).
		SetUsername(dpsUsername(scopeID, regID)).
		SetTLSConfig(p.Credentials.TLS).
		SetProtocolVersion(4).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectTimeout(time.Until(deadline))

	conn := p.newClient(opts)
	if err := await(conn.Connect(), deadline); err != nil {
		return "", "", &ProvisioningError{Result: connectResult(err), Err: fmt.Errorf("connect: %w", err)}
	}
	defer conn.Disconnect(disconnectQuiesce)

	responses := make(chan paho.Message, 4)
	sub := conn.Subscribe(dpsResponseFilter, 1, func(_ paho.Client, m paho.Message) {
		select {
		case responses <- m:
		default:
			log.Printf("iothub: dropping unexpected provisioning response on %s", m.Topic())
		}
	})
	if err := await(sub, deadline); err != nil {
		return "", "", &ProvisioningError{Result: ProvisioningGenericError, Err: fmt.Errorf("subscribe: %w", err)}
	}

	body, err := json.Marshal(registrationRequest{RegistrationID: regID})
	if err != nil {
		return "", "", &ProvisioningError{Result: ProvisioningGenericError, Err: err}
	}

	rid := 1
	topic := dpsRegisterTopic(strconv.Itoa(rid))
	for {
		if err := await(conn.Publish(topic, 1, false, body), deadline); err != nil {
			return "", "", &ProvisioningError{Result: ProvisioningGenericError, Err: fmt.Errorf("publish: %w", err)}
		}

		resp, status, err := awaitRegistration(responses, strconv.Itoa(rid), deadline)
		if err != nil {
			return "", "", &ProvisioningError{Result: ProvisioningGenericError, Err: err}
		}

		switch {
		case resp.status == 202 || status.Status == "assigning":
			if status.OperationID == "" {
				return "", "", &ProvisioningError{Result: ProvisioningGenericError, Err: errors.New("assigning without operation id")}
			}
			wait := defaultRetryAfter
			if resp.retryAfter > 0 {
				wait = time.Duration(resp.retryAfter) * time.Second
			}
			if time.Now().Add(wait).After(deadline) {
				return "", "", &ProvisioningError{Result: ProvisioningGenericError, Err: errors.New("timed out waiting for assignment")}
			}
			time.Sleep(wait)
			rid++
			topic = dpsOperationStatusTopic(strconv.Itoa(rid), status.OperationID)
			body = []byte{}
		case resp.status == 200 && status.Status == "assigned":
			state := status.RegistrationState
			if state.AssignedHub == "" || state.DeviceID == "" {
				return "", "", &ProvisioningError{Result: ProvisioningDeviceError, Err: errors.New("assignment without hub or device id")}
			}
			return state.AssignedHub, state.DeviceID, nil
		default:
			return "", "", &ProvisioningError{
				Result: ProvisioningDeviceError,
				Err: fmt.Errorf("registration %s (status %d): %s",
					status.Status, resp.status, status.RegistrationState.ErrorMessage),
			}
		}
	}
}

// awaitRegistration waits for the response to request rid, skipping stale ones.
func awaitRegistration(ch <-chan paho.Message, rid string, deadline time.Time) (response, registrationStatus, error) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return response{}, registrationStatus{}, errors.New("timed out waiting for provisioning response")
		case m := <-ch:
			resp, err := parseResponseTopic(dpsResponsePrefix, m.Topic())
			if err != nil {
				log.Printf("iothub: %v", err)
				continue
			}
			if resp.rid != rid {
				continue
			}
			status, err := parseRegistrationStatus(m.Payload())
			if err != nil && resp.status < 300 {
				return resp, status, err
			}
			return resp, status, nil
		}
	}
}

// await waits for a paho token until deadline.
func await(t paho.Token, deadline time.Time) error {
	if !t.WaitTimeout(time.Until(deadline)) {
		return errors.New("timed out")
	}
	return t.Error()
}

func connectResult(err error) ProvisioningResult {
	switch connectReason(err) {
	case ReasonBadCredential:
		return ProvisioningDeviceError
	default:
		return ProvisioningNetworkNotReady
	}
}
