package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"

	prov "github.com/3cpo-dev/shardfleet/internal/providers"
)

func BenchmarkPartitionStrided(b *testing.B) {
	for i := 0; i < b.N; i++ {
		if _, err := Partition(1_000_000_000, 64, Strided); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPartitionBalanced(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Partition(1_000_000_007, 1000, Balanced); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkReadinessCheck(b *testing.B) {
	records := make([]prov.InstanceRecord, 500)
	for i := range records {
		records[i] = running(fmt.Sprintf("i-%d", i), fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	p := &MockProvider{records: records}
	poller := NewReadinessPoller(p)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := poller.Check(ctx, "bench"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRosterFileWrite(b *testing.B) {
	addrs := make([]string, 200)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("10.1.%d.%d", i/256, i%256)
	}
	path := filepath.Join(b.TempDir(), "neighbors.txt")
	r := Roster{Ready: true, Addresses: addrs}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := WriteRosterFile(path, r); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPrefixWriter(b *testing.B) {
	chunk := bytes.Repeat([]byte("checked 1000 candidates\n"), 64)
	w := newPrefixWriter(io.Discard, "10.0.0.1")
	b.SetBytes(int64(len(chunk)))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = w.Write(chunk)
	}
}
