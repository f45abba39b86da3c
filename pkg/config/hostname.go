package config

import (
	"net"
	"os"
	"strings"
)

// HostnameFunc resolves the local host identity used in sender addresses.
type HostnameFunc func() string

// ResolveHostname returns the fully qualified host name when reverse lookup
// of the host's own address yields one, the short name otherwise, and
// "localhost" when even that fails.
func ResolveHostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "localhost"
	}
	if strings.Contains(name, ".") {
		return name
	}
	addrs, err := net.LookupHost(name)
	if err != nil {
		return name
	}
	for _, addr := range addrs {
		names, err := net.LookupAddr(addr)
		if err != nil {
			continue
		}
		for _, n := range names {
			n = strings.TrimSuffix(n, ".")
			if strings.HasPrefix(n, name+".") {
				return n
			}
		}
	}
	return name
}
