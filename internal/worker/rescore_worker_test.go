package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budget/internal/amqp"
	"budget/internal/core"
	"budget/internal/storage"
)

type fakeRescorer struct {
	months  []storage.MonthRecord
	failFor map[core.MonthKey]error
	calls   []core.MonthKey
}

func (f *fakeRescorer) Rescore(_ context.Context, key core.MonthKey) (core.MonthStats, error) {
	f.calls = append(f.calls, key)
	if err, ok := f.failFor[key]; ok {
		return core.MonthStats{}, err
	}
	return core.MonthStats{Score: 2, Label: core.LabelOkay}, nil
}

func (f *fakeRescorer) Months(context.Context) ([]storage.MonthRecord, error) {
	return f.months, nil
}

var october = core.MonthKey{Year: 2025, Month: 10}

func TestHandleRescoreRequest(t *testing.T) {
	tests := []struct {
		name      string
		month     string
		failFor   map[core.MonthKey]error
		wantErr   bool
		wantCalls int
	}{
		{name: "rescored", month: "2025-10", wantCalls: 1},
		{name: "invalid month dropped", month: "2025-13", wantCalls: 0},
		{
			name:      "unknown month dropped",
			month:     "2025-10",
			failFor:   map[core.MonthKey]error{october: fmt.Errorf("get: %w", storage.ErrNotFound)},
			wantCalls: 1,
		},
		{
			name:      "storage failure requeued",
			month:     "2025-10",
			failFor:   map[core.MonthKey]error{october: errors.New("database is locked")},
			wantErr:   true,
			wantCalls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRescorer{failFor: tt.failFor}
			w := NewRescoreWorker(r, nil)

			err := w.HandleRescoreRequest(context.Background(), amqp.NewRescoreRequestMessage(tt.month, "test"))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, r.calls, tt.wantCalls)
		})
	}
}

func TestRescoreAll_ContinuesPastFailures(t *testing.T) {
	sept := core.MonthKey{Year: 2025, Month: 9}
	boom := errors.New("boom")
	r := &fakeRescorer{
		months:  []storage.MonthRecord{{Key: sept}, {Key: october}},
		failFor: map[core.MonthKey]error{sept: boom},
	}

	failed, err := NewRescoreWorker(r, nil).RescoreAll(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, failed)
	assert.Equal(t, []core.MonthKey{sept, october}, r.calls)
}
