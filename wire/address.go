package wire

import (
	"net"
	"strconv"
	"time"

	btcwire "github.com/btcsuite/btcd/wire"
)

// Placeholders for the address family a record does not use.
var (
	PlaceholderIPv4 = net.IPv4(127, 0, 0, 1).To4()
	PlaceholderIPv6 = net.ParseIP("0000:0000:0000:0000:0000:0000:0000:ffff")
)

// AddressRecord is a gossiped peer address with both address families
// spelled out.
type AddressRecord struct {
	Timestamp time.Time
	Services  btcwire.ServiceFlag
	IPv4      net.IP
	IPv6      net.IP
	Port      uint16
}

// NewAddressRecord converts a wire address.
func NewAddressRecord(na *btcwire.NetAddress) *AddressRecord {
	rec := &AddressRecord{
		Timestamp: na.Timestamp,
		Services:  na.Services,
		IPv6:      na.IP.To16(),
		Port:      na.Port,
	}
	if v4 := na.IP.To4(); v4 != nil {
		rec.IPv4 = v4
	} else {
		rec.IPv4 = PlaceholderIPv4
	}
	return rec
}

// IP returns the address the record actually refers to.
func (r *AddressRecord) IP() net.IP {
	if r.IPv4 == nil {
		return r.IPv6
	}
	if r.IPv4.Equal(PlaceholderIPv4) && r.IPv6 != nil &&
		!r.IPv6.Equal(PlaceholderIPv6) && r.IPv6.To4() == nil {
		return r.IPv6
	}
	return r.IPv4
}

// Host returns the record as a dialable host:port.
func (r *AddressRecord) Host() string {
	return net.JoinHostPort(r.IP().String(), strconv.Itoa(int(r.Port)))
}

// NetAddress converts the record back to its wire form.
func (r *AddressRecord) NetAddress() *btcwire.NetAddress {
	return &btcwire.NetAddress{
		Timestamp: r.Timestamp,
		Services:  r.Services,
		IP:        r.IP(),
		Port:      r.Port,
	}
}
