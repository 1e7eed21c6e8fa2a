// Package multihost parses the server's bind address syntax: one or more
// bind hosts sharing one bind port. It is adapted from the teacher's
// std.ParseMultiPort, which parsed one host with a port *range*; here the
// axis that varies is the host list and the port is singular.
package multihost

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Parse splits a "host1,host2,...:port" spec, a comma-separated host list
// followed by one ":port" suffix shared by all of them, and returns the
// fully qualified "host:port" bind addresses.
func Parse(spec string) ([]string, error) {
	idx := strings.LastIndex(spec, ":")
	if idx < 0 {
		return nil, errors.Errorf("multihost: missing port in %q", spec)
	}
	hostPart, portPart := spec[:idx], spec[idx+1:]

	port, err := strconv.Atoi(portPart)
	if err != nil || port <= 0 || port > 65535 {
		return nil, errors.Errorf("multihost: invalid port in %q", spec)
	}

	var hosts []string
	for _, h := range strings.Split(hostPart, ",") {
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, errors.Errorf("multihost: empty host in %q", spec)
		}
		hosts = append(hosts, h)
	}
	if len(hosts) == 0 {
		return nil, errors.Errorf("multihost: no hosts in %q", spec)
	}

	addrs := make([]string, len(hosts))
	for i, h := range hosts {
		addrs[i] = h + ":" + portPart
	}
	return addrs, nil
}
