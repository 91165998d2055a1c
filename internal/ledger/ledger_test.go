package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/pantry-score/internal/repository"
)

type stubStore struct {
	scores map[int64]int64
	calls  int
}

func (s *stubStore) IncrementScore(ctx context.Context, userID, delta int64) (int64, error) {
	s.calls++
	score, ok := s.scores[userID]
	if !ok {
		return 0, repository.ErrInventoryNotFound
	}
	score += delta
	s.scores[userID] = score
	return score, nil
}

func TestApplyDelta(t *testing.T) {
	tests := []struct {
		name      string
		userID    int64
		delta     int
		wantScore int64
		wantCalls int
		wantErr   error
	}{
		{name: "credit", userID: 1, delta: 7, wantScore: 12, wantCalls: 1},
		{name: "debit below zero", userID: 1, delta: -10, wantScore: -5, wantCalls: 1},
		{name: "zero is a no-op", userID: 1, delta: 0, wantScore: 5, wantCalls: 0},
		{name: "zero skips inventory lookup", userID: 2, delta: 0, wantCalls: 0},
		{name: "missing inventory", userID: 2, delta: 3, wantCalls: 1, wantErr: repository.ErrInventoryNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &stubStore{scores: map[int64]int64{1: 5}}
			l := New(store, nil)

			err := l.ApplyDelta(context.Background(), tt.userID, tt.delta)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantScore, store.scores[tt.userID])
			}
			assert.Equal(t, tt.wantCalls, store.calls)
		})
	}
}
