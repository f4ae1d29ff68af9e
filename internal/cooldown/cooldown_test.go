package cooldown

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexYaroshenko/krasavchik/internal/clock"
	"github.com/AlexYaroshenko/krasavchik/internal/store"
)

func moscow(t *testing.T) *time.Location {
	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)
	return loc
}

func TestCheckDailyAtMidnight(t *testing.T) {
	loc := moscow(t)
	last := time.Date(2025, 6, 1, 23, 59, 59, 0, loc)

	tests := []struct {
		name    string
		now     time.Time
		allowed bool
	}{
		{"same second", last, false},
		{"later same day", time.Date(2025, 6, 1, 23, 59, 59, 900, loc), false},
		{"two seconds later across midnight", time.Date(2025, 6, 2, 0, 0, 1, 0, loc), true},
		{"exactly midnight", time.Date(2025, 6, 2, 0, 0, 0, 0, loc), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Check(DailyAtMidnight, &last, tt.now, loc, time.Hour)
			assert.Equal(t, tt.allowed, v.Allowed)
		})
	}
}

func TestCheckDailyUsesCivilZone(t *testing.T) {
	loc := moscow(t)
	// 20:30 UTC is 23:30 in Moscow, 21:30 UTC is 00:30 next day in Moscow
	last := time.Date(2025, 6, 1, 20, 30, 0, 0, time.UTC)
	now := time.Date(2025, 6, 1, 21, 30, 0, 0, time.UTC)
	assert.True(t, Check(DailyAtMidnight, &last, now, loc, 0).Allowed)
	assert.False(t, Check(DailyAtMidnight, &last, now, time.UTC, 0).Allowed)
}

func TestCheckDailyRemaining(t *testing.T) {
	loc := moscow(t)
	last := time.Date(2025, 6, 1, 10, 0, 0, 0, loc)
	now := time.Date(2025, 6, 1, 22, 0, 0, 0, loc)
	v := Check(DailyAtMidnight, &last, now, loc, 0)
	assert.False(t, v.Allowed)
	assert.Equal(t, 2*time.Hour, v.Remaining)
}

func TestCheckRollingWindow(t *testing.T) {
	last := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	window := time.Hour

	v := Check(RollingWindow, &last, last.Add(window-time.Second), time.UTC, window)
	assert.False(t, v.Allowed)
	assert.Equal(t, time.Second, v.Remaining)

	assert.True(t, Check(RollingWindow, &last, last.Add(window), time.UTC, window).Allowed)
	assert.True(t, Check(RollingWindow, nil, last, time.UTC, window).Allowed)
}

func TestScopeKeys(t *testing.T) {
	assert.Equal(t, "chat:-100", ScopeFor(Run, -100, 7).Key())
	assert.Equal(t, "chat:-100", ScopeFor(Pidor, -100, 8).Key())
	assert.Equal(t, "chat:-100:user:7", ScopeFor(Sosal, -100, 7).Key())
	assert.NotEqual(t, ScopeFor(Nesosal, -100, 7).Key(), ScopeFor(Nesosal, -100, 8).Key())
}

func TestLedgerRecordThenCheck(t *testing.T) {
	ctx := context.Background()
	s, err := store.OpenBolt(filepath.Join(t.TempDir(), "cd.db"), "")
	require.NoError(t, err)
	defer s.Close()

	clk := &clock.Fixed{T: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), Loc: moscow(t)}
	l := NewLedger(clk, time.Hour)

	for _, cmd := range []Command{Run, Pidor, Sosal, Nesosal} {
		t.Run(cmd.Name, func(t *testing.T) {
			scope := ScopeFor(cmd, -1, 42)
			require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
				v, err := l.Allowed(ctx, tx, scope, cmd)
				require.NoError(t, err)
				assert.True(t, v.Allowed)
				return l.Record(ctx, tx, scope, cmd)
			}))
			require.NoError(t, s.View(ctx, func(tx store.Tx) error {
				v, err := l.Allowed(ctx, tx, scope, cmd)
				require.NoError(t, err)
				assert.False(t, v.Allowed)
				assert.Positive(t, v.Remaining)
				return nil
			}))
		})
	}

	// another member keeps an independent hourly cooldown
	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		v, err := l.Allowed(ctx, tx, ScopeFor(Sosal, -1, 43), Sosal)
		require.NoError(t, err)
		assert.True(t, v.Allowed)
		return nil
	}))
}
