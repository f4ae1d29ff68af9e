// Package season owns the season number, the active flag and the rollover that archives
// live counters into a season snapshot.
package season

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AlexYaroshenko/krasavchik/internal/clock"
	"github.com/AlexYaroshenko/krasavchik/internal/counters"
	"github.com/AlexYaroshenko/krasavchik/internal/store"
)

// MenuWindow is how many recent seasons the selection menu offers.
const MenuWindow = 8

const lockKey = "season"

var (
	ErrNoSeason      = errors.New("no season yet")
	ErrAlreadyActive = errors.New("season already active")
)

// TooSoonError is returned by a non-forced rollover inside the season length.
type TooSoonError struct {
	DaysRemaining int
}

func (e *TooSoonError) Error() string {
	return fmt.Sprintf("rollover too soon, %d days remaining", e.DaysRemaining)
}

// Result describes a completed rollover.
type Result struct {
	Closed   int
	Next     int
	Archived int
}

type Controller struct {
	clock  clock.Clock
	length time.Duration
}

func NewController(c clock.Clock, length time.Duration) *Controller {
	return &Controller{clock: c, length: length}
}

func (c *Controller) requiredDays() int {
	return int(c.length / (24 * time.Hour))
}

// EnsureExists creates season 1, active, when no control row exists yet. Safe to call
// before every countable action. The shared lock keeps a concurrent rollover from
// changing the season number until the caller's transaction ends.
func (c *Controller) EnsureExists(ctx context.Context, tx store.Tx) (store.SeasonControl, error) {
	if err := tx.Lock(ctx, lockKey, store.LockShared); err != nil {
		return store.SeasonControl{}, err
	}
	ctl, err := tx.GetControl(ctx)
	if err == nil {
		return ctl, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return ctl, err
	}
	// concurrent first uses write identical rows; the writes are upserts
	return c.create(ctx, tx)
}

func (c *Controller) create(ctx context.Context, tx store.Tx) (store.SeasonControl, error) {
	now := c.clock.Now()
	ctl := store.SeasonControl{Current: 1, Active: true, LastRollover: &now}
	if err := tx.PutControl(ctx, ctl); err != nil {
		return ctl, err
	}
	if err := tx.PutSeason(ctx, store.SeasonMeta{Number: 1, StartedAt: now}); err != nil {
		return ctl, err
	}
	return ctl, nil
}

// Current returns the control row, or ErrNoSeason.
func (c *Controller) Current(ctx context.Context, tx store.Tx) (store.SeasonControl, error) {
	ctl, err := tx.GetControl(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return ctl, ErrNoSeason
	}
	return ctl, err
}

// Rollover archives every non-zero user row under the current season, advances the
// season number by one, marks the season inactive and zeroes all live counters.
// Without force it requires the season length to have elapsed since the last rollover.
// The caller's transaction makes the whole sequence atomic.
func (c *Controller) Rollover(ctx context.Context, tx store.Tx, force bool) (Result, error) {
	if err := tx.Lock(ctx, lockKey, store.LockExclusive); err != nil {
		return Result{}, err
	}
	ctl, err := c.Current(ctx, tx)
	if err != nil {
		return Result{}, err
	}
	now := c.clock.Now()

	if !force {
		last := now.Add(-c.length)
		if ctl.LastRollover != nil {
			last = *ctl.LastRollover
		}
		required := c.requiredDays()
		if days := clock.CivilDays(last, now, c.clock.Location()); days < required {
			return Result{}, &TooSoonError{DaysRemaining: required - days}
		}
	}

	users, err := tx.ListUsers(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Result{Closed: ctl.Current, Next: ctl.Current + 1}
	for _, u := range users {
		if u.IsZero() {
			continue
		}
		snap := store.SeasonCounters{Season: ctl.Current, UserID: u.UserID, Name: u.Name, Tally: u.Tally}
		if existing, err := tx.GetSeasonCounters(ctx, ctl.Current, u.UserID); err == nil {
			snap.Seq = existing.Seq
		} else if !errors.Is(err, store.ErrNotFound) {
			return Result{}, err
		}
		if _, err := tx.PutSeasonCounters(ctx, snap); err != nil {
			return Result{}, err
		}
		res.Archived++

		u.Tally = store.Tally{}
		if _, err := tx.PutUser(ctx, u); err != nil {
			return Result{}, err
		}
	}

	if err := c.closeSeason(ctx, tx, ctl, now); err != nil {
		return Result{}, err
	}
	if err := tx.PutSeason(ctx, store.SeasonMeta{Number: res.Next, StartedAt: now}); err != nil {
		return Result{}, err
	}

	ctl.Current = res.Next
	ctl.Active = false
	ctl.LastRollover = &now
	if err := tx.PutControl(ctx, ctl); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (c *Controller) closeSeason(ctx context.Context, tx store.Tx, ctl store.SeasonControl, now time.Time) error {
	meta := store.SeasonMeta{Number: ctl.Current, StartedAt: now}
	if ctl.LastRollover != nil {
		meta.StartedAt = *ctl.LastRollover
	}
	seasons, err := tx.ListSeasons(ctx)
	if err != nil {
		return err
	}
	for _, m := range seasons {
		if m.Number == ctl.Current {
			meta.StartedAt = m.StartedAt
		}
	}
	meta.EndedAt = &now
	return tx.PutSeason(ctx, meta)
}

// Start marks the current season active, creating season 1 if needed. Counters are untouched.
func (c *Controller) Start(ctx context.Context, tx store.Tx) (store.SeasonControl, error) {
	if err := tx.Lock(ctx, lockKey, store.LockExclusive); err != nil {
		return store.SeasonControl{}, err
	}
	ctl, err := tx.GetControl(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.create(ctx, tx)
	case err != nil:
		return ctl, err
	case ctl.Active:
		return ctl, ErrAlreadyActive
	}
	ctl.Active = true
	return ctl, tx.PutControl(ctx, ctl)
}

// TopForSeason returns the season's users with counter above zero, highest first.
func TopForSeason(ctx context.Context, tx store.Tx, season int, ctr store.Counter) ([]counters.Entry, error) {
	rows, err := tx.ListSeasonCounters(ctx, season)
	if err != nil {
		return nil, err
	}
	entries := make([]counters.Entry, 0, len(rows))
	for _, r := range rows {
		if v := r.Get(ctr); v > 0 {
			entries = append(entries, counters.Entry{UserID: r.UserID, Name: r.Name, Value: v})
		}
	}
	counters.Rank(entries)
	return entries, nil
}

// RecentSeasons lists max(1, current-7) through current.
func RecentSeasons(current int) []int {
	if current < 1 {
		return nil
	}
	from := current - (MenuWindow - 1)
	if from < 1 {
		from = 1
	}
	res := make([]int, 0, current-from+1)
	for i := from; i <= current; i++ {
		res = append(res, i)
	}
	return res
}
