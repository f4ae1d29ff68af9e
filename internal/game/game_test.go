package game

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/AlexYaroshenko/krasavchik/internal/clock"
	"github.com/AlexYaroshenko/krasavchik/internal/counters"
	"github.com/AlexYaroshenko/krasavchik/internal/lock"
	"github.com/AlexYaroshenko/krasavchik/internal/members"
	"github.com/AlexYaroshenko/krasavchik/internal/store"
)

type fakeSelector struct {
	member members.Member
	err    error
	picks  int32
}

func (f *fakeSelector) Pick(context.Context, int64) (members.Member, error) {
	atomic.AddInt32(&f.picks, 1)
	return f.member, f.err
}

type busyLocker struct{}

func (busyLocker) Acquire(context.Context, string) (func(), error) {
	return nil, lock.ErrAlreadyLocked
}

type env struct {
	svc      *Service
	store    store.Store
	clock    *clock.Fixed
	selector *fakeSelector
}

var (
	alice = members.Member{ID: 1, Name: store.Handle("alice")}
	admin = Actor{ID: 99, Name: store.Handle("Boss")}
	bob   = Actor{ID: 2, Name: store.Plain("Bob")}
)

func newEnv(t *testing.T) *env {
	t.Helper()
	s, err := store.OpenBolt(filepath.Join(t.TempDir(), "game.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)
	clk := &clock.Fixed{T: time.Date(2025, 3, 1, 9, 0, 0, 0, loc), Loc: loc}
	sel := &fakeSelector{member: alice}
	svc := New(Options{
		Store:          s,
		Clock:          clk,
		Locker:         lock.NewLocal(),
		Selector:       sel,
		Admin:          "boss",
		HourlyCooldown: time.Hour,
		SeasonLength:   90 * 24 * time.Hour,
		Log:            zerolog.Nop(),
	})
	return &env{svc: svc, store: s, clock: clk, selector: sel}
}

func (e *env) user(t *testing.T, id int64) (store.UserCounters, store.SeasonCounters) {
	t.Helper()
	ctx := context.Background()
	var u store.UserCounters
	var sc store.SeasonCounters
	require.NoError(t, e.store.View(ctx, func(tx store.Tx) error {
		ctl, err := tx.GetControl(ctx)
		if err != nil {
			return err
		}
		if u, err = tx.GetUser(ctx, id); err != nil {
			return err
		}
		sc, err = tx.GetSeasonCounters(ctx, ctl.Current, id)
		return err
	}))
	return u, sc
}

func TestAwardEndToEnd(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var shown []int64
	res, err := e.svc.Award(ctx, -100, AwardRun, func(_ context.Context, w members.Member) error {
		shown = append(shown, w.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, alice, res.Winner)
	assert.Equal(t, 1, res.Season)
	assert.Equal(t, int64(1), res.Total)
	assert.Equal(t, []int64{1}, shown)

	u, sc := e.user(t, alice.ID)
	assert.Equal(t, int64(1), u.Run)
	assert.Equal(t, int64(1), sc.Run)
	assert.Equal(t, store.Handle("alice"), u.Name)

	e.clock.Advance(10 * time.Hour)
	_, err = e.svc.Award(ctx, -100, AwardRun, nil)
	var cd *CooldownError
	require.ErrorAs(t, err, &cd)
	assert.Equal(t, "run", cd.Command.Name)
	assert.Equal(t, 5*time.Hour, cd.Remaining)
	assert.Equal(t, int32(1), e.selector.picks)

	// the other award and another chat are independent
	_, err = e.svc.Award(ctx, -100, AwardPidor, nil)
	require.NoError(t, err)
	_, err = e.svc.Award(ctx, -200, AwardRun, nil)
	require.NoError(t, err)

	// next local day
	e.clock.Advance(6 * time.Hour)
	res, err = e.svc.Award(ctx, -100, AwardRun, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Total)
}

func TestAwardInsufficientMembers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.selector.err = members.ErrNotEnoughMembers

	built := false
	_, err := e.svc.Award(ctx, -1, AwardPidor, func(context.Context, members.Member) error {
		built = true
		return nil
	})
	assert.ErrorIs(t, err, ErrInsufficientMembers)
	assert.False(t, built)

	// nothing stamped, the award can be retried once members appear
	e.selector.err = nil
	_, err = e.svc.Award(ctx, -1, AwardPidor, nil)
	require.NoError(t, err)
}

func TestAwardBuildUpFailureLeavesNoTrace(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Award(ctx, -1, AwardRun, func(context.Context, members.Member) error {
		return errors.New("send failed")
	})
	require.Error(t, err)

	_, err = e.svc.Status(ctx)
	assert.ErrorIs(t, err, ErrNoSeason)
	_, err = e.svc.Award(ctx, -1, AwardRun, nil)
	require.NoError(t, err)
}

func TestAwardSerializedPerChat(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var ok, cooled int32
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := e.svc.Award(ctx, -5, AwardRun, nil)
			var cd *CooldownError
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.As(err, &cd):
				atomic.AddInt32(&cooled, 1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), ok)
	assert.Equal(t, int32(9), cooled)

	u, _ := e.user(t, alice.ID)
	assert.Equal(t, int64(1), u.Run)
}

func TestAwardBusyElsewhere(t *testing.T) {
	e := newEnv(t)
	e.svc.locker = busyLocker{}
	_, err := e.svc.Award(context.Background(), -1, AwardRun, nil)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestHourlyAndReverse(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Reverse(ctx, -1, bob)
	assert.ErrorIs(t, err, ErrNoPriorRecord)

	total, err := e.svc.Hourly(ctx, -1, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	_, err = e.svc.Hourly(ctx, -1, bob)
	var cd *CooldownError
	require.ErrorAs(t, err, &cd)
	assert.Equal(t, time.Hour, cd.Remaining)

	// per member: alice is not blocked by bob
	_, err = e.svc.Hourly(ctx, -1, Actor{ID: alice.ID, Name: alice.Name})
	require.NoError(t, err)

	// the failed reverse did not stamp its cooldown
	total, err = e.svc.Reverse(ctx, -1, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	e.clock.Advance(time.Hour)
	total, err = e.svc.Hourly(ctx, -1, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	total, err = e.svc.Reverse(ctx, -1, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)

	u, sc := e.user(t, bob.ID)
	assert.Equal(t, int64(6), u.Sosal)
	assert.Equal(t, int64(6), sc.Sosal)
}

func TestReverseOverflowIsUserFacing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Hourly(ctx, -1, bob)
	require.NoError(t, err)
	require.NoError(t, e.store.Update(ctx, func(tx store.Tx) error {
		_, err := counters.Increment(ctx, tx, 1, bob.ID, bob.Name, store.CounterSosal, 1<<62-1)
		return err
	}))

	_, err = e.svc.Reverse(ctx, -1, bob)
	assert.ErrorIs(t, err, ErrCounterOverflow)
	assert.NotErrorIs(t, err, ErrPersistence)

	u, _ := e.user(t, bob.ID)
	assert.Equal(t, int64(1<<62), u.Sosal)

	// nothing was stamped, so the next attempt is not on cooldown
	_, err = e.svc.Reverse(ctx, -1, bob)
	assert.ErrorIs(t, err, ErrCounterOverflow)
}

func TestLeaderboards(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	boards, err := e.svc.Leaderboard(ctx, store.CounterRun, store.CounterPidor)
	require.NoError(t, err)
	require.Len(t, boards, 2)
	assert.Empty(t, boards[0].Entries)

	_, err = e.svc.Award(ctx, -1, AwardRun, nil)
	require.NoError(t, err)
	_, err = e.svc.Hourly(ctx, -1, bob)
	require.NoError(t, err)

	boards, err = e.svc.Leaderboard(ctx, store.CounterRun, store.CounterSosal)
	require.NoError(t, err)
	require.Len(t, boards[0].Entries, 1)
	assert.Equal(t, alice.ID, boards[0].Entries[0].UserID)
	require.Len(t, boards[1].Entries, 1)
	assert.Equal(t, bob.Name, boards[1].Entries[0].Name)

	boards, err = e.svc.SeasonBoard(ctx, 1, store.CounterSosal)
	require.NoError(t, err)
	require.Len(t, boards[0].Entries, 1)
	assert.Equal(t, int64(1), boards[0].Entries[0].Value)
}

func TestRolloverPermissions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Rollover(ctx, bob, false)
	assert.ErrorIs(t, err, ErrNoSeason)

	_, err = e.svc.Hourly(ctx, -1, bob)
	require.NoError(t, err)

	_, err = e.svc.Rollover(ctx, bob, true)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = e.svc.Rollover(ctx, bob, false)
	var soon *RolloverTooSoonError
	require.ErrorAs(t, err, &soon)
	assert.Equal(t, 90, soon.DaysRemaining)

	res, err := e.svc.Rollover(ctx, admin, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)
	assert.Equal(t, 1, res.Archived)

	ctl, err := e.svc.Status(ctx)
	require.NoError(t, err)
	assert.False(t, ctl.Active)
	assert.Equal(t, 90, e.svc.DaysUntilRollover(ctl))

	boards, err := e.svc.SeasonBoard(ctx, 1, store.CounterSosal)
	require.NoError(t, err)
	require.Len(t, boards[0].Entries, 1)
	boards, err = e.svc.Leaderboard(ctx, store.CounterSosal)
	require.NoError(t, err)
	assert.Empty(t, boards[0].Entries)
}

func TestStartSeason(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.StartSeason(ctx, bob)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	ctl, err := e.svc.StartSeason(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, ctl.Current)

	_, err = e.svc.StartSeason(ctx, admin)
	assert.ErrorIs(t, err, ErrAlreadyActive)
}

func TestSeasonsMenu(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Seasons(ctx)
	assert.ErrorIs(t, err, ErrNoSeason)

	_, err = e.svc.Hourly(ctx, -1, bob)
	require.NoError(t, err)
	for i := 0; i < 9; i++ {
		_, err := e.svc.Rollover(ctx, admin, true)
		require.NoError(t, err)
	}
	menu, err := e.svc.Seasons(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, menu.Current)
	assert.Equal(t, []int{3, 4, 5, 6, 7, 8, 9, 10}, menu.Seasons)
}

func TestIsAdmin(t *testing.T) {
	e := newEnv(t)
	assert.True(t, e.svc.IsAdmin(admin))
	assert.False(t, e.svc.IsAdmin(Actor{ID: 99, Name: store.Plain("boss")}))
	assert.False(t, e.svc.IsAdmin(bob))
}

func TestPersistenceErrorsAreWrapped(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.store.Close())

	_, err := e.svc.Leaderboard(context.Background(), store.CounterRun)
	assert.ErrorIs(t, err, ErrPersistence)
	_, err = e.svc.Hourly(context.Background(), -1, bob)
	assert.ErrorIs(t, err, ErrPersistence)
}
