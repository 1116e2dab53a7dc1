package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func collectBatch(t *testing.T, d *Debouncer) []FileEvent {
	t.Helper()
	select {
	case batch := <-d.Events():
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("no batch emitted before deadline")
		return nil
	}
}

func TestDebouncerCoalescing(t *testing.T) {
	tests := []struct {
		name   string
		events []Operation
		want   *Operation // nil means the events cancel out
	}{
		{"create then modify keeps create", []Operation{OpCreate, OpModify}, opPtr(OpCreate)},
		{"create then delete cancels", []Operation{OpCreate, OpDelete}, nil},
		{"modify then delete keeps delete", []Operation{OpModify, OpDelete}, opPtr(OpDelete)},
		{"delete then create becomes modify", []Operation{OpDelete, OpCreate}, opPtr(OpModify)},
		{"modify then modify keeps modify", []Operation{OpModify, OpModify}, opPtr(OpModify)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(20 * time.Millisecond)
			defer d.Stop()

			for _, op := range tt.events {
				d.Add(FileEvent{Path: "a.go", Operation: op})
			}

			if tt.want == nil {
				select {
				case batch := <-d.Events():
					t.Fatalf("expected no batch, got %v", batch)
				case <-time.After(100 * time.Millisecond):
				}
				return
			}

			batch := collectBatch(t, d)
			require.Len(t, batch, 1)
			assert.Equal(t, *tt.want, batch[0].Operation)
		})
	}
}

func opPtr(op Operation) *Operation { return &op }

func TestDebouncerBatchesDistinctPaths(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "a.go", Operation: OpModify})
	d.Add(FileEvent{Path: "b.go", Operation: OpCreate})
	d.Add(FileEvent{Path: "c.go", Operation: OpDelete})

	batch := collectBatch(t, d)
	assert.Len(t, batch, 3)
}

func TestDebouncerWindowResets(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "a.go", Operation: OpModify})
	time.Sleep(30 * time.Millisecond)
	// Still within the window: this resets the flush timer.
	d.Add(FileEvent{Path: "a.go", Operation: OpModify})

	select {
	case <-d.Events():
		t.Fatal("flushed before the window elapsed")
	case <-time.After(30 * time.Millisecond):
	}

	batch := collectBatch(t, d)
	assert.Len(t, batch, 1)
}

func TestDebouncerStopIsIdempotent(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	d.Add(FileEvent{Path: "a.go", Operation: OpModify})
	d.Stop()
	d.Stop()

	// Channel is closed after Stop.
	_, open := <-d.Events()
	assert.False(t, open)
}
