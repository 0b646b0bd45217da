package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id       string
	tools    []ToolDescriptor
	closed   bool
	closeLog *[]string
	closeErr error
	pings    int
	pingFn   func(ctx context.Context) error
}

func (f *fakeConn) ID() string              { return f.id }
func (f *fakeConn) Tools() []ToolDescriptor { return f.tools }

func (f *fakeConn) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (f *fakeConn) Ping(ctx context.Context) error {
	f.pings++
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	*f.closeLog = append(*f.closeLog, f.id)
	return f.closeErr
}

// fakeSupervisor returns a supervisor whose launcher fabricates fakeConns,
// failing for the provider id in failOn.
func fakeSupervisor(closeLog *[]string, failOn string) (*Supervisor, map[string]*fakeConn) {
	conns := map[string]*fakeConn{}
	s := NewSupervisor()
	s.launch = func(ctx context.Context, spec Spec) (Conn, error) {
		if spec.ID == failOn {
			return nil, fmt.Errorf("handshake refused")
		}
		fc := &fakeConn{id: spec.ID, closeLog: closeLog}
		conns[spec.ID] = fc
		return fc, nil
	}
	return s, conns
}

func specs(ids ...string) []Spec {
	out := make([]Spec, 0, len(ids))
	for _, id := range ids {
		out = append(out, Spec{ID: id, Command: "true"})
	}
	return out
}

func TestSupervisorStart(t *testing.T) {
	t.Run("should start providers in spec order", func(t *testing.T) {
		var closeLog []string
		s, _ := fakeSupervisor(&closeLog, "")

		require.NoError(t, s.Start(context.Background(), specs("pdf", "email", "calendar")))

		conns := s.Connections()
		require.Len(t, conns, 3)
		assert.Equal(t, "pdf", conns[0].ID())
		assert.Equal(t, "email", conns[1].ID())
		assert.Equal(t, "calendar", conns[2].ID())
	})

	t.Run("should tear down already-open connections in reverse order on failure", func(t *testing.T) {
		var closeLog []string
		s, conns := fakeSupervisor(&closeLog, "calendar")

		err := s.Start(context.Background(), specs("pdf", "email", "calendar", "websearch"))
		require.Error(t, err)

		var startupErr *StartupError
		require.ErrorAs(t, err, &startupErr)
		assert.Equal(t, "calendar", startupErr.Provider)

		assert.Equal(t, []string{"email", "pdf"}, closeLog)
		assert.True(t, conns["pdf"].closed)
		assert.True(t, conns["email"].closed)
		assert.Empty(t, s.Connections())
	})

	t.Run("should reject specs without id or command", func(t *testing.T) {
		var closeLog []string
		s, _ := fakeSupervisor(&closeLog, "")

		err := s.Start(context.Background(), []Spec{{ID: "pdf", Command: "python"}, {ID: ""}})
		require.Error(t, err)

		var startupErr *StartupError
		require.ErrorAs(t, err, &startupErr)
		assert.Equal(t, []string{"pdf"}, closeLog)
	})

	t.Run("should refuse a second start", func(t *testing.T) {
		var closeLog []string
		s, _ := fakeSupervisor(&closeLog, "")

		require.NoError(t, s.Start(context.Background(), specs("pdf")))
		assert.Error(t, s.Start(context.Background(), specs("email")))
	})
}

func TestSupervisorClose(t *testing.T) {
	t.Run("should close in reverse acquisition order", func(t *testing.T) {
		var closeLog []string
		s, _ := fakeSupervisor(&closeLog, "")

		require.NoError(t, s.Start(context.Background(), specs("pdf", "email", "websearch")))
		require.NoError(t, s.Close())

		assert.Equal(t, []string{"websearch", "email", "pdf"}, closeLog)
	})

	t.Run("should be idempotent", func(t *testing.T) {
		var closeLog []string
		s, _ := fakeSupervisor(&closeLog, "")

		require.NoError(t, s.Start(context.Background(), specs("pdf")))
		require.NoError(t, s.Close())
		require.NoError(t, s.Close())

		assert.Equal(t, []string{"pdf"}, closeLog)
	})

	t.Run("should report the first close error and still close the rest", func(t *testing.T) {
		var closeLog []string
		s, conns := fakeSupervisor(&closeLog, "")

		require.NoError(t, s.Start(context.Background(), specs("pdf", "email")))
		conns["email"].closeErr = errors.New("stuck")

		err := s.Close()
		assert.EqualError(t, err, "stuck")
		assert.True(t, conns["pdf"].closed)
	})
}

func TestSupervisorKeepalive(t *testing.T) {
	t.Run("should reject an invalid schedule", func(t *testing.T) {
		var closeLog []string
		s, _ := fakeSupervisor(&closeLog, "")

		require.NoError(t, s.Start(context.Background(), specs("pdf")))
		assert.Error(t, s.StartKeepalive("not a schedule"))
	})

	t.Run("should accept a valid schedule and stop on close", func(t *testing.T) {
		var closeLog []string
		s, _ := fakeSupervisor(&closeLog, "")

		require.NoError(t, s.Start(context.Background(), specs("pdf")))
		require.NoError(t, s.StartKeepalive("@every 1h"))
		assert.Error(t, s.StartKeepalive("@every 1h"))
		require.NoError(t, s.Close())
	})

	t.Run("should wait for an in-flight ping before tearing down", func(t *testing.T) {
		var closeLog []string
		s, conns := fakeSupervisor(&closeLog, "")

		require.NoError(t, s.Start(context.Background(), specs("pdf")))

		started := make(chan struct{})
		var startedOnce sync.Once
		var finished atomic.Bool
		conns["pdf"].pingFn = func(ctx context.Context) error {
			startedOnce.Do(func() { close(started) })
			time.Sleep(300 * time.Millisecond)
			finished.Store(true)
			return nil
		}

		require.NoError(t, s.StartKeepalive("@every 1s"))

		select {
		case <-started:
		case <-time.After(3 * time.Second):
			t.Fatal("keepalive never fired")
		}

		require.NoError(t, s.Close())
		assert.True(t, finished.Load())
		assert.Equal(t, []string{"pdf"}, closeLog)
	})
}
