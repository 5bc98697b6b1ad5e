package iothub

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// API versions negotiated in the MQTT username.
const (
	dpsAPIVersion = "2019-03-31"
	hubAPIVersion = "2021-04-12"
)

// DefaultDPSEndpoint is the global Device Provisioning Service broker.
const DefaultDPSEndpoint = "ssl://global.azure-devices-provisioning.net:8883"

// Device Provisioning Service topics.
const (
	dpsResponseFilter = "$dps/registrations/res/#"
	dpsResponsePrefix = "$dps/registrations/res/"
)

// IoT Hub topics.
const (
	twinResponseFilter = "$iothub/twin/res/#"
	twinResponsePrefix = "$iothub/twin/res/"
	twinDesiredFilter  = "$iothub/twin/PATCH/properties/desired/#"
	twinDesiredPrefix  = "$iothub/twin/PATCH/properties/desired/"
)

func dpsUsername(scopeID, registrationID string) string {
	return fmt.Sprintf("%s/registrations/%s/api-version=%s", scopeID, registrationID, dpsAPIVersion)
}

func dpsRegisterTopic(rid string) string {
	return "$dps/registrations/PUT/iotdps-register/?$rid=" + rid
}

func dpsOperationStatusTopic(rid, operationID string) string {
	return fmt.Sprintf("$dps/registrations/GET/iotdps-get-operationstatus/?$rid=%s&operationId=%s",
		rid, url.QueryEscape(operationID))
}

func hubUsername(hostname, deviceID string) string {
	return fmt.Sprintf("%s/%s/?api-version=%s", hostname, deviceID, hubAPIVersion)
}

func twinGetTopic(rid string) string {
	return "$iothub/twin/GET/?$rid=" + rid
}

func twinReportTopic(rid string) string {
	return "$iothub/twin/PATCH/properties/reported/?$rid=" + rid
}

// telemetryTopic builds the device-to-cloud topic with the message's property
// bag appended. System properties come first, then application properties in
// key order.
func telemetryTopic(deviceID string, msg *Message) string {
	var parts []string
	if msg.ContentType != "" {
		parts = append(parts, "$.ct="+url.QueryEscape(msg.ContentType))
	}
	if msg.ContentEncoding != "" {
		parts = append(parts, "$.ce="+url.QueryEscape(msg.ContentEncoding))
	}

	keys := make([]string, 0, len(msg.Properties))
	for k := range msg.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(msg.Properties[k]))
	}

	return "devices/" + deviceID + "/messages/events/" + strings.Join(parts, "&")
}

// response is a parsed "<prefix><status>/?<query>" topic.
type response struct {
	status     int
	rid        string
	retryAfter int // seconds, 0 when absent
	version    int
}

// parseResponseTopic parses DPS and twin response topics, e.g.
// "$iothub/twin/res/204/?$rid=3&$version=7".
func parseResponseTopic(prefix, topic string) (response, error) {
	var r response
	rest, ok := strings.CutPrefix(topic, prefix)
	if !ok {
		return r, fmt.Errorf("topic %q: missing prefix %q", topic, prefix)
	}
	code, query, _ := strings.Cut(rest, "/")
	status, err := strconv.Atoi(code)
	if err != nil {
		return r, fmt.Errorf("topic %q: bad status: %w", topic, err)
	}
	r.status = status

	values, err := url.ParseQuery(strings.TrimPrefix(query, "?"))
	if err != nil {
		return r, fmt.Errorf("topic %q: bad query: %w", topic, err)
	}
	r.rid = values.Get("$rid")
	if v := values.Get("retry-after"); v != "" {
		r.retryAfter, _ = strconv.Atoi(v)
	}
	if v := values.Get("$version"); v != "" {
		r.version, _ = strconv.Atoi(v)
	}
	return r, nil
}

// registrationRequest is the DPS register body.
type registrationRequest struct {
	RegistrationID string `json:"registrationId"`
}

// registrationStatus is the DPS register and operation status body.
type registrationStatus struct {
	OperationID       string `json:"operationId"`
	Status            string `json:"status"`
	RegistrationState struct {
		AssignedHub  string `json:"assignedHub"`
		DeviceID     string `json:"deviceId"`
		Status       string `json:"status"`
		ErrorCode    int    `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	} `json:"registrationState"`
}

func parseRegistrationStatus(payload []byte) (registrationStatus, error) {
	var s registrationStatus
	if err := json.Unmarshal(payload, &s); err != nil {
		return s, fmt.Errorf("registration status: %w", err)
	}
	return s, nil
}
