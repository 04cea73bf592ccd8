//go:build !unix

package transport

import "syscall"

// On non-unix platforms address reuse semantics differ (SO_REUSEADDR on Windows allows port
// stealing), so the listener keeps the platform default.
func reuseAddrControl(network, address string, rc syscall.RawConn) error {
	return nil
}
