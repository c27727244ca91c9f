package controller

import (
	"fmt"
	"net"
)

// AdvertisedAddress returns the address clients should mount from: the vip
// when an HA add-on manages it, else our public address.
func AdvertisedAddress(haCluster bool, vip, publicAddr string) (string, error) {
	if haCluster {
		if vip == "" {
			return "", fmt.Errorf("%w: hacluster set without a vip", ErrConfiguration)
		}

		return vip, nil
	}

	if publicAddr != "" {
		return publicAddr, nil
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}

	return firstAddress(addrs)
}

func firstAddress(addrs []net.Addr) (string, error) {
	var v6 string
	for _, a := range addrs {
		n, ok := a.(*net.IPNet)
		if !ok || n.IP.IsLoopback() || n.IP.IsLinkLocalUnicast() {
			continue
		}

		if n.IP.To4() != nil {
			return n.IP.String(), nil
		}

		if v6 == "" {
			v6 = n.IP.String()
		}
	}

	if v6 != "" {
		return v6, nil
	}

	return "", fmt.Errorf("no usable interface address")
}
