package api

// Public types shared with worker programs running on fleet nodes.

// ShardConfig is the per-worker configuration file. Workers read it from
// <remote base>/configuration and search [Left, Right).
type ShardConfig struct {
	Left  int64 `json:"left" yaml:"left"`
	Right int64 `json:"right" yaml:"right"`
	// Worker and Workers identify the shard; older workers ignore them.
	Worker  int `json:"worker" yaml:"worker"`
	Workers int `json:"workers" yaml:"workers"`
}

type LaunchMode string

const (
	LaunchForeground LaunchMode = "foreground"
	LaunchBackground LaunchMode = "background"
)
