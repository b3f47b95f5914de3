package httputil

import (
	"fmt"
	"net"
)

// ValidateIP decides whether an IP is an acceptable fetch target.
// Auctioneer sites control their own redirects, and a compromised one
// must not be able to point the crawler at RFC 1918 space, loopback,
// the link-local metadata range or other non-routable addresses. The
// host is carried into the message so the event log names the site,
// not just the address it resolved to.
func ValidateIP(ip net.IP, host string) error {
	switch {
	case ip.IsPrivate():
		return fmt.Errorf("refusing redirect to private IP: %s (%s)", host, ip)
	case ip.IsLoopback():
		return fmt.Errorf("refusing redirect to loopback IP: %s (%s)", host, ip)
	case ip.IsLinkLocalUnicast():
		return fmt.Errorf("refusing redirect to link-local IP: %s (%s)", host, ip)
	case ip.IsLinkLocalMulticast():
		return fmt.Errorf("refusing redirect to link-local multicast: %s (%s)", host, ip)
	case ip.IsMulticast():
		return fmt.Errorf("refusing redirect to multicast IP: %s (%s)", host, ip)
	case ip.IsUnspecified():
		return fmt.Errorf("refusing redirect to unspecified IP: %s (%s)", host, ip)
	}
	return nil
}
