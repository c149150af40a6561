package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/3cpo-dev/shardfleet/pkg/api"
)

// WorkItem is the half-open range [Left, Right) assigned to one worker.
type WorkItem struct {
	Left  int64
	Right int64
}

func (w WorkItem) Size() int64 { return w.Right - w.Left }

type Strategy string

const (
	// Strided gives every slot ceil((n-2)/k) values except the last, which
	// is clipped at n.
	Strided Strategy = "strided"
	// Balanced gives slots sizes that differ by at most one.
	Balanced Strategy = "balanced"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(s)) {
	case "", Strided:
		return Strided, nil
	case Balanced:
		return Balanced, nil
	}
	return "", fmt.Errorf("%w: unknown strategy %q (want strided or balanced)", ErrInvalidPartition, s)
}

// Partition splits [2, n) into k contiguous ranges in worker order. Every
// range is non-empty.
func Partition(n int64, k int, strategy Strategy) ([]WorkItem, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: worker count %d must be at least 1", ErrInvalidPartition, k)
	}
	if n < 3 {
		return nil, fmt.Errorf("%w: upper bound %d leaves nothing to search (need n >= 3)", ErrInvalidPartition, n)
	}
	span := n - 2
	if int64(k) > span {
		return nil, fmt.Errorf("%w: %d workers for %d values would leave some idle", ErrInvalidPartition, k, span)
	}

	switch strategy {
	case "", Strided:
		return strided(n, k)
	case Balanced:
		return balanced(n, k), nil
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidPartition, strategy)
	}
}

func strided(n int64, k int) ([]WorkItem, error) {
	span := n - 2
	stride := ceilDiv(span, int64(k))
	if used := ceilDiv(span, stride); used < int64(k) {
		return nil, fmt.Errorf("%w: a stride of %d fills only %d of %d workers; use the balanced strategy", ErrInvalidPartition, stride, used, k)
	}
	items := make([]WorkItem, 0, k)
	cursor := int64(2)
	for i := 0; i < k; i++ {
		right := n
		if stride < n-cursor {
			right = cursor + stride
		}
		items = append(items, WorkItem{Left: cursor, Right: right})
		cursor = right
	}
	return items, nil
}

// ceilDiv rounds a/b up without forming a+b, so it holds near MaxInt64.
func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 {
		q++
	}
	return q
}

func balanced(n int64, k int) []WorkItem {
	span := n - 2
	base := span / int64(k)
	extra := span % int64(k)
	items := make([]WorkItem, 0, k)
	cursor := int64(2)
	for i := 0; i < k; i++ {
		size := base
		if int64(i) < extra {
			size++
		}
		items = append(items, WorkItem{Left: cursor, Right: cursor + size})
		cursor += size
	}
	return items
}

// ShardConfigName is the local file name of worker i's shard config.
func ShardConfigName(i int) string { return fmt.Sprintf("config-%d.json", i) }

// WriteShardConfigs writes one config-<i>.json per item into dir and returns
// the paths in worker order.
func WriteShardConfigs(dir string, items []WorkItem) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	paths := make([]string, 0, len(items))
	for i, it := range items {
		body, err := json.MarshalIndent(api.ShardConfig{
			Left:    it.Left,
			Right:   it.Right,
			Worker:  i,
			Workers: len(items),
		}, "", "    ")
		if err != nil {
			return nil, fmt.Errorf("encode shard %d: %w", i, err)
		}
		p := filepath.Join(dir, ShardConfigName(i))
		if err := os.WriteFile(p, append(body, '\n'), 0o644); err != nil {
			return nil, fmt.Errorf("write shard %d: %w", i, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}
