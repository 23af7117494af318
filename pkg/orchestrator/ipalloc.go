package orchestrator

import (
	"fmt"
	"net"

	"github.com/apparentlymart/go-cidr/cidr"

	monoerrors "github.com/monocore/monocore/pkg/errors"
)

// GroupGatewayIP returns the first usable address in groupCIDR, used as
// the group's gateway and recorded in every member service's sandbox
// row as group_ip.
func GroupGatewayIP(groupCIDR string) (net.IP, error) {
	_, ipnet, err := net.ParseCIDR(groupCIDR)
	if err != nil {
		return nil, monoerrors.InvalidConfig(fmt.Sprintf("group cidr %q: %v", groupCIDR, err))
	}
	first, _ := cidr.AddressRange(ipnet)
	return cidr.Inc(first), nil
}

// AllocateServiceIP scans groupCIDR from the address after the gateway
// upward, skipping the broadcast address and any address already in
// used, and returns the lowest free one. Deterministic for a given
// (groupCIDR, used) pair.
func AllocateServiceIP(groupCIDR string, used map[string]bool) (net.IP, error) {
	_, ipnet, err := net.ParseCIDR(groupCIDR)
	if err != nil {
		return nil, monoerrors.InvalidConfig(fmt.Sprintf("group cidr %q: %v", groupCIDR, err))
	}
	first, last := cidr.AddressRange(ipnet)
	gateway := cidr.Inc(first)
	for ip := cidr.Inc(gateway); !ipGreater(ip, last); ip = cidr.Inc(ip) {
		if ip.Equal(last) {
			break // broadcast address, never allocated
		}
		if !used[ip.String()] {
			return ip, nil
		}
	}
	return nil, monoerrors.InvalidConfig(fmt.Sprintf("group cidr %q: address pool exhausted", groupCIDR))
}

func ipGreater(a, b net.IP) bool {
	a4, b4 := a.To4(), b.To4()
	if a4 != nil && b4 != nil {
		for i := range a4 {
			if a4[i] != b4[i] {
				return a4[i] > b4[i]
			}
		}
		return false
	}
	return false
}
