//go:build !linux && !windows

package network

import "net"

// ReuseAddrListenConfig returns the default listen config.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
