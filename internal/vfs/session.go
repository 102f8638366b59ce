package vfs

import (
	"time"

	"atomic-deploy/internal/jobconfig"
)

// OpenSession picks the local or remote backend for a Connection and
// roots it at path, following the factory-selection pattern
// internal/devsync/bridge_factory.go uses to pick an SSH or local PTY
// bridge at runtime from a single call site.
func OpenSession(conn *jobconfig.Connection, path string) (Dir, error) {
	if conn == nil || !conn.IsRemote() {
		return OpenLocal(path)
	}

	timeout := 30 * time.Second
	if conn.TimeoutSeconds > 0 {
		timeout = time.Duration(conn.TimeoutSeconds) * time.Second
	}

	return OpenRemote(DialOptions{
		Hostname:           conn.Hostname,
		Port:               conn.Port,
		Username:           conn.Username,
		Password:           conn.Password,
		PrivateKeyPath:     conn.PrivateKeyPath,
		PrivateKeyMaterial: conn.PrivateKeyMaterial,
		Timeout:            timeout,
	}, path)
}
