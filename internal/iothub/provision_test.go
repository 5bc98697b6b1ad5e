package iothub

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCredentials() *Credentials {
	return &Credentials{
		TLS:            &tls.Config{Certificates: []tls.Certificate{{}}},
		RegistrationID: "dev-1",
	}
}

func newTestProvisioner(broker *fakePaho) *MQTTProvisioner {
	p := NewMQTTProvisioner("", testCredentials())
	p.newClient = broker.factory()
	return p
}

const assignedBody = `{"operationId":"4.abc","status":"assigned",
	"registrationState":{"assignedHub":"hub.azure-devices.net","deviceId":"dev-1"}}`

func TestCreateAssignedImmediately(t *testing.T) {
	broker := newFakePaho()
	broker.onPublish = func(f *fakePaho, topic string, payload []byte) {
		if strings.HasPrefix(topic, "$dps/registrations/PUT/iotdps-register/") {
			assert.JSONEq(t, `{"registrationId":"dev-1"}`, string(payload))
			f.deliver("$dps/registrations/res/200/?$rid=1", assignedBody)
		}
	}

	c, err := newTestProvisioner(broker).Create("0ne000A1B2C", 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, "dev-1", broker.opts.ClientID)
	assert.Equal(t, "0ne000A1B2C/registrations/dev-1/api-version=2019-03-31", broker.opts.Username)
	assert.Equal(t, DefaultDPSEndpoint, broker.opts.Servers[0].String())
	assert.True(t, broker.disconnected, "DPS connection is closed after registration")

	mc, ok := c.(*mqttClient)
	require.True(t, ok)
	assert.Equal(t, "hub.azure-devices.net", mc.cfg.hostname)
	assert.Equal(t, "dev-1", mc.cfg.deviceID)
}

func TestCreatePollsWhileAssigning(t *testing.T) {
	broker := newFakePaho()
	broker.onPublish = func(f *fakePaho, topic string, _ []byte) {
		switch {
		case strings.HasPrefix(topic, "$dps/registrations/PUT/"):
			f.deliver("$dps/registrations/res/202/?$rid=1&retry-after=1", `{"operationId":"4.abc","status":"assigning"}`)
		case strings.HasPrefix(topic, "$dps/registrations/GET/"):
			assert.Equal(t, "$dps/registrations/GET/iotdps-get-operationstatus/?$rid=2&operationId=4.abc", topic)
			f.deliver("$dps/registrations/res/200/?$rid=2", assignedBody)
		}
	}

	_, err := newTestProvisioner(broker).Create("scope", 5*time.Second)
	require.NoError(t, err)
	assert.Len(t, broker.topics(), 2)
}

func TestCreateRejectedRegistration(t *testing.T) {
	broker := newFakePaho()
	broker.onPublish = func(f *fakePaho, _ string, _ []byte) {
		f.deliver("$dps/registrations/res/401/?$rid=1", `{"errorCode":401002,"message":"unauthorized"}`)
	}

	_, err := newTestProvisioner(broker).Create("scope", 5*time.Second)
	var perr *ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ProvisioningDeviceError, perr.Result)
}

func TestCreateIgnoresStaleResponses(t *testing.T) {
	broker := newFakePaho()
	broker.onPublish = func(f *fakePaho, _ string, _ []byte) {
		f.deliver("$dps/registrations/res/200/?$rid=99", `{"status":"failed"}`)
		f.deliver("$dps/registrations/res/200/?$rid=1", assignedBody)
	}

	_, err := newTestProvisioner(broker).Create("scope", 5*time.Second)
	assert.NoError(t, err)
}

func TestCreateTimesOutWithoutResponse(t *testing.T) {
	broker := newFakePaho()

	start := time.Now()
	_, err := newTestProvisioner(broker).Create("scope", 50*time.Millisecond)
	var perr *ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ProvisioningGenericError, perr.Result)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCreateConnectFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ProvisioningResult
	}{
		{"refused", packets.ErrorRefusedNotAuthorised, ProvisioningDeviceError},
		{"network", errors.New("dial tcp: no route to host"), ProvisioningNetworkNotReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := newFakePaho()
			broker.connectToken = doneToken(tt.err)

			_, err := newTestProvisioner(broker).Create("scope", time.Second)
			var perr *ProvisioningError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.want, perr.Result)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestCreateInvalidParams(t *testing.T) {
	p := newTestProvisioner(newFakePaho())

	_, err := p.Create("", time.Second)
	var perr *ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ProvisioningInvalidParam, perr.Result)

	p.Credentials = nil
	_, err = p.Create("scope", time.Second)
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ProvisioningDeviceAuthNotReady, perr.Result)
}

func writeSelfSigned(t *testing.T, cn string) (certPath, keyPath string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certPath = filepath.Join(dir, "device.pem")
	keyPath = filepath.Join(dir, "device.key")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func TestLoadCredentials(t *testing.T) {
	certPath, keyPath := writeSelfSigned(t, "pulseox-01")

	creds, err := LoadCredentials(certPath, keyPath, "")
	require.NoError(t, err)
	assert.Equal(t, "pulseox-01", creds.RegistrationID)
	assert.Nil(t, creds.TLS.RootCAs)
	assert.True(t, creds.ready())

	creds, err = LoadCredentials(certPath, keyPath, certPath)
	require.NoError(t, err)
	assert.NotNil(t, creds.TLS.RootCAs)

	_, err = LoadCredentials(certPath, keyPath, keyPath)
	assert.Error(t, err, "a key file is not a CA bundle")

	_, err = LoadCredentials(filepath.Join(t.TempDir(), "missing.pem"), keyPath, "")
	assert.Error(t, err)
}

func TestLoadCredentialsRequiresCommonName(t *testing.T) {
	certPath, keyPath := writeSelfSigned(t, "")
	_, err := LoadCredentials(certPath, keyPath, "")
	assert.Error(t, err)
}
