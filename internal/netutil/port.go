package netutil

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// SelectBindAddr returns preferred when it is free. Otherwise, with
// autoFallback set, it returns the first free address among candidates.
func SelectBindAddr(preferred string, candidates []string, autoFallback bool) (string, error) {
	if preferred != "" {
		if IsAddrAvailable(preferred) {
			return preferred, nil
		}
		if !autoFallback {
			return "", fmt.Errorf("bind address in use: %s", preferred)
		}
	}

	for _, addr := range candidates {
		if addr == preferred {
			continue
		}
		if IsAddrAvailable(addr) {
			return addr, nil
		}
	}
	return "", errors.New("no available bind address")
}

// IsAddrAvailable reports whether addr can be listened on right now.
func IsAddrAvailable(addr string) bool {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// NextPorts lists the n addresses on the same host following addr's port.
func NextPorts(addr string, n int) ([]string, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("bad port in %q: %w", addr, err)
	}
	out := make([]string, 0, n)
	for i := 1; i <= n && port+i <= 65535; i++ {
		out = append(out, net.JoinHostPort(host, strconv.Itoa(port+i)))
	}
	return out, nil
}
