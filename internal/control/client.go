package control

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"callsense/internal/config"
	"callsense/internal/store"
)

// call sends one request over the control socket and decodes the reply.
// timeout of zero waits as long as the daemon needs.
func call(socketPath string, req Request, out any, timeout time.Duration) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("cannot connect to daemon: %w", err)
	}
	defer conn.Close()
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return err
	}
	return json.NewDecoder(conn).Decode(out)
}

func openStore(cfgPath string) (*config.Config, *store.Store, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	if err := config.MustStatePaths(cfg); err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, st, nil
}
