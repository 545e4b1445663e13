package ifacemon

import (
	"net"
	"sort"
	"strings"
)

// SystemFingerprint samples the local network interfaces via the
// standard library and returns a deterministic fingerprint: the sorted
// set of "name:addr" pairs for interfaces that are up and non-loopback.
// Two samples taken while the interface set and addressing are unchanged
// produce identical fingerprints regardless of enumeration order.
func SystemFingerprint() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	var parts []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			parts = append(parts, iface.Name+":"+a.String())
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, "|"), nil
}
