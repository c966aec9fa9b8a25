package facade

import (
	"net"
	"strings"
)

// MaskIP hides the host part of an address: IPv4 keeps the first two octets, IPv6 the first two groups.
// Values that are not IP addresses are masked completely.
func MaskIP(ip string) string {
	if ip == "" {
		return ""
	}
	parsed := net.ParseIP(ip)
	switch {
	case parsed == nil:
		return "xxx"
	case parsed.To4() != nil:
		o := strings.Split(parsed.To4().String(), ".")
		return o[0] + "." + o[1] + ".xxx.xxx"
	default:
		groups := strings.SplitN(ip, ":", 3)
		g1, g2 := groups[0], ""
		if len(groups) > 1 {
			g2 = groups[1]
		}
		return g1 + ":" + g2 + strings.Repeat(":xxxx", 6)
	}
}
