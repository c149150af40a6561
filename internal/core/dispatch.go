package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/shardfleet/internal/ssh"
	"github.com/3cpo-dev/shardfleet/internal/telemetry"
	"github.com/3cpo-dev/shardfleet/pkg/api"
)

// RunLogName is the file that collects a background job's output, relative
// to the remote base path.
const RunLogName = "run.log"

type Mode = api.LaunchMode

const (
	Foreground = api.LaunchForeground
	Background = api.LaunchBackground
)

type DispatchJob struct {
	ScriptPath     string
	SupportFiles   []string
	RemoteBasePath string
	Mode           Mode
}

// Launch describes a dispatched job. For background jobs it is the only
// handle the caller gets; the outcome on the nodes is never reported back.
type Launch struct {
	ID      uuid.UUID
	Mode    Mode
	Script  string
	Nodes   []string
	LogPath string

	done chan struct{}
}

// Submitted blocks until every node session has handed its detached command
// to the remote shell, or failed trying. It does not wait for the job.
func (l *Launch) Submitted(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type JobDispatcher struct {
	ch      RemoteChannel
	out     io.Writer
	metrics *telemetry.Metrics
}

// NewJobDispatcher streams foreground output to out, each line prefixed
// with the node address.
func NewJobDispatcher(ch RemoteChannel, out io.Writer, m *telemetry.Metrics) *JobDispatcher {
	if out == nil {
		out = io.Discard
	}
	return &JobDispatcher{ch: ch, out: out, metrics: m}
}

func (d *JobDispatcher) Dispatch(ctx context.Context, job DispatchJob, roster Roster) (*Launch, error) {
	if err := requireLocalFiles(append([]string{job.ScriptPath}, job.SupportFiles...)...); err != nil {
		return nil, err
	}
	if err := roster.RequireReady(); err != nil {
		return nil, err
	}
	if len(roster.Addresses) == 0 {
		return nil, fmt.Errorf("%w: roster has no addresses", ErrEmptyFleet)
	}

	l := &Launch{
		ID:      uuid.New(),
		Mode:    job.Mode,
		Script:  filepath.Base(job.ScriptPath),
		Nodes:   append([]string(nil), roster.Addresses...),
		LogPath: path.Join(job.RemoteBasePath, RunLogName),
		done:    make(chan struct{}),
	}
	d.metrics.RecordLaunch(string(job.Mode), len(l.Nodes))

	switch job.Mode {
	case Foreground:
		defer close(l.done)
		if err := d.foreground(ctx, job, l.Nodes); err != nil {
			return l, err
		}
		return l, nil
	case Background:
		d.background(ctx, job, l)
		return l, nil
	default:
		return nil, fmt.Errorf("unknown dispatch mode %q", job.Mode)
	}
}

func (d *JobDispatcher) foreground(ctx context.Context, job DispatchJob, nodes []string) error {
	body, err := os.ReadFile(job.ScriptPath)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	command := fmt.Sprintf("cd %s || exit 1\n%s", ssh.Quote(job.RemoteBasePath), body)

	for _, host := range nodes {
		if err := d.prepare(ctx, host, job); err != nil {
			return err
		}
		log.Info().Str("host", host).Str("script", job.ScriptPath).Msg("running")
		stdout := newPrefixWriter(d.out, host)
		stderr := newPrefixWriter(d.out, host)
		start := time.Now()
		err := d.ch.Exec(ctx, host, command, stdout, stderr)
		stdout.Flush()
		stderr.Flush()
		d.metrics.RecordRemoteOp("exec", time.Since(start), err == nil)
		if err != nil {
			return remoteErr(host, "run "+filepath.Base(job.ScriptPath), err)
		}
	}
	return nil
}

// prepare creates the base directory and copies support files.
func (d *JobDispatcher) prepare(ctx context.Context, host string, job DispatchJob) error {
	if err := d.ch.Exec(ctx, host, "mkdir -p "+ssh.Quote(job.RemoteBasePath), nil, nil); err != nil {
		return remoteErr(host, "mkdir", err)
	}
	for _, f := range job.SupportFiles {
		start := time.Now()
		err := d.ch.Copy(ctx, f, host, path.Join(job.RemoteBasePath, filepath.Base(f)))
		d.metrics.RecordRemoteOp("copy", time.Since(start), err == nil)
		if err != nil {
			return remoteErr(host, "copy "+filepath.Base(f), err)
		}
	}
	return nil
}

func (d *JobDispatcher) background(ctx context.Context, job DispatchJob, l *Launch) {
	var wg sync.WaitGroup
	for _, host := range l.Nodes {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			if err := d.session(ctx, host, job, l.LogPath); err != nil {
				log.Error().Err(err).Str("host", host).Str("launch", l.ID.String()).Msg("background session failed")
				return
			}
			log.Info().Str("host", host).Str("log", l.LogPath).Msg("job submitted")
		}(host)
	}
	go func() {
		wg.Wait()
		close(l.done)
	}()
}

func (d *JobDispatcher) session(ctx context.Context, host string, job DispatchJob, logPath string) error {
	if err := d.prepare(ctx, host, job); err != nil {
		return err
	}
	name := filepath.Base(job.ScriptPath)
	remoteScript := path.Join(job.RemoteBasePath, name)
	exists, err := d.ch.Exists(ctx, host, remoteScript)
	if err != nil {
		return remoteErr(host, "stat script", err)
	}
	if exists {
		log.Debug().Str("host", host).Str("script", remoteScript).Msg("script already present, not copying")
	} else if err := d.ch.Copy(ctx, job.ScriptPath, host, remoteScript); err != nil {
		return remoteErr(host, "copy script", err)
	}
	if err := d.ch.Exec(ctx, host, "chmod u+x "+ssh.Quote(remoteScript), nil, nil); err != nil {
		return remoteErr(host, "chmod", err)
	}
	start := time.Now()
	err = d.ch.Exec(ctx, host, detachedCommand(job.RemoteBasePath, name, logPath), nil, nil)
	d.metrics.RecordRemoteOp("launch", time.Since(start), err == nil)
	if err != nil {
		return remoteErr(host, "launch", err)
	}
	return nil
}

// detachedCommand starts the script under nohup with every standard stream
// redirected, so the SSH session returns immediately and the job survives
// the disconnect.
func detachedCommand(base, script, logPath string) string {
	inner := fmt.Sprintf("cd %s && ./%s", ssh.Quote(base), ssh.Quote(script))
	return fmt.Sprintf("nohup sh -c %s > %s 2>&1 < /dev/null &", ssh.Quote(inner), ssh.Quote(logPath))
}

// prefixWriter prefixes each complete line with "[host] ".
type prefixWriter struct {
	mu     *sync.Mutex
	w      io.Writer
	prefix []byte
	buf    bytes.Buffer
}

var outputMu sync.Mutex

func newPrefixWriter(w io.Writer, host string) *prefixWriter {
	return &prefixWriter{mu: &outputMu, w: w, prefix: []byte("[" + host + "] ")}
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	p.buf.Write(b)
	for {
		i := bytes.IndexByte(p.buf.Bytes(), '\n')
		if i < 0 {
			return len(b), nil
		}
		line := p.buf.Next(i + 1)
		if err := p.emit(line); err != nil {
			return len(b), err
		}
	}
}

// Flush writes a trailing partial line, if any.
func (p *prefixWriter) Flush() {
	if p.buf.Len() == 0 {
		return
	}
	rest := append(p.buf.Bytes(), '\n')
	p.buf.Reset()
	_ = p.emit(rest)
}

func (p *prefixWriter) emit(line []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.w.Write(p.prefix); err != nil {
		return err
	}
	_, err := p.w.Write(line)
	return err
}
