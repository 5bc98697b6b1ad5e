package main

import (
	"net"
	"os"

	"github.com/sweeney/pulseox-sensor/internal/status"
)

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// interfaceLister is net.Interfaces, replaceable in tests.
type interfaceLister func() ([]net.Interface, error)

// addrLister returns the addresses of one interface.
type addrLister func(net.Interface) ([]net.Addr, error)

// networkReady reports whether any interface other than loopback is up and
// holds a global unicast address.
type networkReady struct {
	interfaces interfaceLister
	addrs      addrLister
}

func newNetworkReady() *networkReady {
	return &networkReady{
		interfaces: net.Interfaces,
		addrs:      func(i net.Interface) ([]net.Addr, error) { return i.Addrs() },
	}
}

// NetworkReady implements cloud.NetworkChecker.
func (n *networkReady) NetworkReady() (bool, error) {
	ifaces, err := n.interfaces()
	if err != nil {
		return false, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := n.addrs(iface)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok && ipn.IP.IsGlobalUnicast() {
				return true, nil
			}
		}
	}
	return false, nil
}
