package core

import (
	"context"
	"io"
	"time"
)

// RemoteChannel is how the orchestrator reaches fleet nodes. Hosts are the
// addresses from a Roster.
type RemoteChannel interface {
	Copy(ctx context.Context, localPath, host, remotePath string) error
	Exec(ctx context.Context, host, command string, stdout, stderr io.Writer) error
	Exists(ctx context.Context, host, remotePath string) (bool, error)
	Fetch(ctx context.Context, host, remotePath, localDir string) (int, error)
	Probe(ctx context.Context, host string, timeout time.Duration) error
	Close() error
}
