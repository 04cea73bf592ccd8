package commands

import (
	"fmt"
	"plugin"

	"packet-rpc/server"
)

// registerSymbol is the function every worker plugin exports.
const registerSymbol = "Register"

// loadPlugin opens a Go plugin and lets it register its entry points on srv.
func loadPlugin(srv *server.Server, path string) error {
	p, err := plugin.Open(path)
	if err != nil {
		return fmt.Errorf("open plugin %s: %w", path, err)
	}
	sym, err := p.Lookup(registerSymbol)
	if err != nil {
		return fmt.Errorf("plugin %s: %w", path, err)
	}
	register, ok := sym.(func(*server.Server) error)
	if !ok {
		return fmt.Errorf("plugin %s: %s has type %T, want func(*server.Server) error", path, registerSymbol, sym)
	}
	if err := register(srv); err != nil {
		return fmt.Errorf("plugin %s: register: %w", path, err)
	}
	if len(srv.Methods()) == 0 {
		return fmt.Errorf("plugin %s registered no entry points", path)
	}
	return nil
}
