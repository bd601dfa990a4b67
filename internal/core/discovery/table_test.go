package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Populate / Resolve Tests
// =============================================================================

func TestResolve_NotYetResolved(t *testing.T) {
	table := NewTable()

	_, err := table.Resolve("db")
	require.Error(t, err)

	var nyr *NotYetResolvedError
	assert.True(t, errors.As(err, &nyr))
	assert.Equal(t, "db", nyr.Service)
	assert.ErrorIs(t, err, ErrNotYetResolved)
}

func TestResolve_AfterFinalizeIsUnknown(t *testing.T) {
	table := NewTable()
	table.Finalize()

	_, err := table.Resolve("db")
	assert.ErrorIs(t, err, ErrUnknownService)
	assert.NotErrorIs(t, err, ErrNotYetResolved)
}

func TestPopulate_MergesPorts(t *testing.T) {
	table := NewTable()

	require.NoError(t, table.Populate("api", "localhost", map[int]int{8080: 49152}))
	require.NoError(t, table.Populate("api", "", map[int]int{9090: 49153}))

	entry, err := table.Resolve("api")
	require.NoError(t, err)
	assert.Equal(t, "localhost", entry.Host)
	assert.Equal(t, map[int]int{8080: 49152, 9090: 49153}, entry.Ports)
}

func TestPopulate_HostReplaced(t *testing.T) {
	table := NewTable()

	require.NoError(t, table.Populate("api", "localhost", nil))
	require.NoError(t, table.Populate("api", "10.0.0.5", nil))

	entry, err := table.Resolve("api")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", entry.Host)
	assert.NotNil(t, entry.Ports)
}

func TestPopulate_AfterFinalizeFails(t *testing.T) {
	table := NewTable()
	table.Finalize()

	err := table.Populate("api", "localhost", map[int]int{80: 8080})
	assert.ErrorIs(t, err, ErrFinalized)
	assert.Empty(t, table.Services())
}

func TestResolve_ReturnsCopy(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Populate("api", "localhost", map[int]int{8080: 49152}))

	entry, err := table.Resolve("api")
	require.NoError(t, err)
	entry.Ports[8080] = 1

	port, err := table.Port("api", 8080)
	require.NoError(t, err)
	assert.Equal(t, 49152, port)
}

func TestFinalize_Idempotent(t *testing.T) {
	table := NewTable()
	table.Finalize()
	table.Finalize()
	assert.True(t, table.Finalized())
}

// =============================================================================
// Port / Address Tests
// =============================================================================

func TestAddress(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Populate("db", "localhost", map[int]int{5432: 50000}))

	tests := []struct {
		name     string
		service  string
		declared int
		want     string
		wantErr  error
	}{
		{"declared port", "db", 5432, "localhost:50000", nil},
		{"undeclared port", "db", 3306, "", ErrUnknownPort},
		{"unknown service", "cache", 6379, "", ErrNotYetResolved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := table.Address(tt.service, tt.declared)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, addr)
		})
	}
}

func TestEndpointAddress_IPv6(t *testing.T) {
	e := Endpoint{Host: "::1", Ports: map[int]int{80: 8080}}
	addr, err := e.Address(80)
	require.NoError(t, err)
	assert.Equal(t, "[::1]:8080", addr)
}

func TestServices_Sorted(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Populate("web", "localhost", nil))
	require.NoError(t, table.Populate("api", "localhost", nil))
	require.NoError(t, table.Populate("db", "localhost", nil))

	assert.Equal(t, []string{"api", "db", "web"}, table.Services())
	assert.Len(t, table.Snapshot(), 3)
}

// =============================================================================
// Wait Tests
// =============================================================================

func TestWait_BlocksUntilPopulated(t *testing.T) {
	table := NewTable()

	done := make(chan Endpoint, 1)
	go func() {
		entry, err := table.Wait(context.Background(), "db")
		if err == nil {
			done <- entry
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, table.Populate("db", "localhost", map[int]int{5432: 50000}))

	select {
	case entry, ok := <-done:
		require.True(t, ok)
		assert.Equal(t, 50000, entry.Ports[5432])
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Populate")
	}
}

func TestWait_ReturnsOnFinalize(t *testing.T) {
	table := NewTable()

	errCh := make(chan error, 1)
	go func() {
		_, err := table.Wait(context.Background(), "ghost")
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	table.Finalize()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrUnknownService)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Finalize")
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	table := NewTable()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := table.Wait(ctx, "db")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWait_AlreadyPopulated(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Populate("db", "localhost", map[int]int{5432: 50000}))

	entry, err := table.Wait(context.Background(), "db")
	require.NoError(t, err)
	assert.Equal(t, "localhost", entry.Host)
}

func TestTable_ConcurrentAccess(t *testing.T) {
	table := NewTable()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = table.Populate("svc", "localhost", map[int]int{1000 + i: 50000 + i})
		}(i)
		go func() {
			defer wg.Done()
			_, _ = table.Resolve("svc")
		}()
	}
	wg.Wait()

	entry, err := table.Resolve("svc")
	require.NoError(t, err)
	assert.Len(t, entry.Ports, 20)
}
