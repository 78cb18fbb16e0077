package bpsimutil

import (
	"encoding/binary"
	"net"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/pkg/errors"
)

// Parses an IPv4 address given as four dotted decimal octets.
func ParseIPv4(address string) (net.IP, error) {
	address = strings.TrimSpace(address)
	if !govalidator.IsIPv4(address) {
		return nil, errors.Errorf("%s is not a valid IPv4 address", address)
	}
	return net.ParseIP(address).To4(), nil
}

// Parses a comma separated list of IPv4 addresses. Empty items are skipped.
func ParseIPv4List(addresses string) ([]net.IP, error) {
	var ips []net.IP
	for _, address := range strings.Split(addresses, ",") {
		if strings.TrimSpace(address) == "" {
			continue
		}
		ip, err := ParseIPv4(address)
		if err != nil {
			return nil, err
		}
		ips = append(ips, ip)
	}
	return ips, nil
}

// Converts the IPv4 address to its numeric value.
func IPv4ToUint32(ip net.IP) (uint32, bool) {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0, false
	}
	return binary.BigEndian.Uint32(ip4), true
}

// Converts the numeric value to the IPv4 address.
func Uint32ToIPv4(value uint32) net.IP {
	ip := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(ip, value)
	return ip
}

// Returns true if the address is a zero or unset IPv4 address.
func IsUnspecifiedIPv4(ip net.IP) bool {
	return ip == nil || ip.To4() == nil || ip.To4().Equal(net.IPv4zero)
}
