package main

import (
	"errors"
	"net"
	"testing"

	"github.com/sweeney/pulseox-sensor/internal/status"
)

// TestEnvVarNames pins the constants to the names pi-helper writes to
// /run/pi-helper.env. If pi-helper renames them, update the constants.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfo(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want *status.NetworkInfo
	}{
		{
			name: "none set",
			want: nil,
		},
		{
			name: "status only",
			env:  map[string]string{envNetworkStatus: "connected"},
			want: &status.NetworkInfo{Status: "connected"},
		},
		{
			name: "type without status is ignored",
			env:  map[string]string{envNetworkType: "ethernet"},
			want: nil,
		},
		{
			name: "all set",
			env: map[string]string{
				envNetworkType:       "wifi",
				envNetworkIP:         "192.168.1.100",
				envNetworkStatus:     "connected",
				envNetworkGateway:    "192.168.1.1",
				envNetworkWifiStatus: "connected",
				envNetworkWifiSSID:   "MyNetwork",
			},
			want: &status.NetworkInfo{
				Type:       "wifi",
				IP:         "192.168.1.100",
				Status:     "connected",
				Gateway:    "192.168.1.1",
				WifiStatus: "connected",
				SSID:       "MyNetwork",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{envNetworkType, envNetworkIP, envNetworkStatus, envNetworkGateway, envNetworkWifiStatus, envNetworkWifiSSID} {
				t.Setenv(k, tt.env[k])
			}

			got := readNetworkInfo()
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("expected nil, got %+v", got)
			case tt.want != nil && got == nil:
				t.Fatal("expected non-nil NetworkInfo")
			case tt.want != nil && *got != *tt.want:
				t.Errorf("got %+v, want %+v", *got, *tt.want)
			}
		})
	}
}

func fakeInterfaces(ifaces []net.Interface, addrs map[string][]net.Addr) *networkReady {
	return &networkReady{
		interfaces: func() ([]net.Interface, error) { return ifaces, nil },
		addrs: func(i net.Interface) ([]net.Addr, error) {
			a, ok := addrs[i.Name]
			if !ok {
				return nil, errors.New("no such interface")
			}
			return a, nil
		},
	}
}

func ipNet(s string) *net.IPNet {
	ip, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	n.IP = ip
	return n
}

func TestNetworkReady(t *testing.T) {
	lo := net.Interface{Name: "lo", Flags: net.FlagUp | net.FlagLoopback}
	wlan := net.Interface{Name: "wlan0", Flags: net.FlagUp}
	eth := net.Interface{Name: "eth0"}

	tests := []struct {
		name   string
		ifaces []net.Interface
		addrs  map[string][]net.Addr
		want   bool
	}{
		{
			name:   "loopback only",
			ifaces: []net.Interface{lo},
			addrs:  map[string][]net.Addr{"lo": {ipNet("127.0.0.1/8")}},
			want:   false,
		},
		{
			name:   "wifi with address",
			ifaces: []net.Interface{lo, wlan},
			addrs:  map[string][]net.Addr{"wlan0": {ipNet("192.168.1.42/24")}},
			want:   true,
		},
		{
			name:   "link-local only",
			ifaces: []net.Interface{wlan},
			addrs:  map[string][]net.Addr{"wlan0": {ipNet("fe80::1/64")}},
			want:   false,
		},
		{
			name:   "interface down",
			ifaces: []net.Interface{eth},
			addrs:  map[string][]net.Addr{"eth0": {ipNet("10.0.0.5/8")}},
			want:   false,
		},
		{
			name:   "address lookup fails",
			ifaces: []net.Interface{wlan},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fakeInterfaces(tt.ifaces, tt.addrs).NetworkReady()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %t, want %t", got, tt.want)
			}
		})
	}
}

func TestNetworkReadyListError(t *testing.T) {
	n := &networkReady{interfaces: func() ([]net.Interface, error) { return nil, errors.New("netlink") }}
	ready, err := n.NetworkReady()
	if err == nil || ready {
		t.Errorf("got (%t, %v), want (false, error)", ready, err)
	}
}
