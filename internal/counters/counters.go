// Package counters mutates live per-user counters and mirrors each change into the
// current season's row within the caller's transaction.
package counters

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/AlexYaroshenko/krasavchik/internal/store"
)

// ErrNoPriorRecord is returned by Double when the user never earned the counter.
var ErrNoPriorRecord = errors.New("no prior record")

// ErrNegative guards the non-negative invariant.
var ErrNegative = errors.New("counter would become negative")

// ErrOverflow is returned when a change would push a counter past math.MaxInt64.
var ErrOverflow = errors.New("counter would overflow")

const seasonLockKey = "season"

func userLockKey(userID int64) string { return fmt.Sprintf("user:%d", userID) }

// lockForWrite holds the season lock shared (rollover takes it exclusively) and the user lock exclusively.
func lockForWrite(ctx context.Context, tx store.Tx, userID int64) error {
	if err := tx.Lock(ctx, seasonLockKey, store.LockShared); err != nil {
		return err
	}
	return tx.Lock(ctx, userLockKey(userID), store.LockExclusive)
}

// Increment adds delta to counter c of the user, creating the row if absent, and mirrors
// the change into season's row. The stored display name is overwritten.
func Increment(ctx context.Context, tx store.Tx, season int, userID int64, name store.DisplayName, c store.Counter, delta int64) (store.UserCounters, error) {
	if !c.Valid() {
		return store.UserCounters{}, fmt.Errorf("unknown counter %q", c)
	}
	if err := lockForWrite(ctx, tx, userID); err != nil {
		return store.UserCounters{}, err
	}
	u, err := tx.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return store.UserCounters{}, err
	}
	return apply(ctx, tx, season, u, userID, name, c, delta)
}

// Double multiplies counter c by two. It fails with ErrNoPriorRecord and changes
// nothing when the user has no row or the counter is zero.
func Double(ctx context.Context, tx store.Tx, season int, userID int64, name store.DisplayName, c store.Counter) (store.UserCounters, error) {
	if !c.Valid() {
		return store.UserCounters{}, fmt.Errorf("unknown counter %q", c)
	}
	if err := lockForWrite(ctx, tx, userID); err != nil {
		return store.UserCounters{}, err
	}
	u, err := tx.GetUser(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return store.UserCounters{}, ErrNoPriorRecord
	case err != nil:
		return store.UserCounters{}, err
	}
	cur := u.Get(c)
	if cur <= 0 {
		return u, ErrNoPriorRecord
	}
	return apply(ctx, tx, season, u, userID, name, c, cur)
}

func checkAdd(cur, delta int64) error {
	if delta > 0 && cur > math.MaxInt64-delta {
		return ErrOverflow
	}
	if cur+delta < 0 {
		return ErrNegative
	}
	return nil
}

func apply(ctx context.Context, tx store.Tx, season int, u store.UserCounters, userID int64, name store.DisplayName, c store.Counter, delta int64) (store.UserCounters, error) {
	if err := checkAdd(u.Get(c), delta); err != nil {
		return u, err
	}
	u.UserID = userID
	u.Name = name
	u.Add(c, delta)
	u, err := tx.PutUser(ctx, u)
	if err != nil {
		return u, err
	}

	sc, err := tx.GetSeasonCounters(ctx, season, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return u, err
	}
	if err := checkAdd(sc.Get(c), delta); err != nil {
		return u, err
	}
	sc.Season = season
	sc.UserID = userID
	sc.Name = name
	sc.Add(c, delta)
	if _, err := tx.PutSeasonCounters(ctx, sc); err != nil {
		return u, err
	}
	return u, nil
}

// Entry is one leaderboard line.
type Entry struct {
	UserID int64
	Name   store.DisplayName
	Value  int64
}

// Top returns users with counter c above zero, highest first, ties in insertion order.
func Top(ctx context.Context, tx store.Tx, c store.Counter) ([]Entry, error) {
	users, err := tx.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(users))
	for _, u := range users {
		if v := u.Get(c); v > 0 {
			entries = append(entries, Entry{UserID: u.UserID, Name: u.Name, Value: v})
		}
	}
	Rank(entries)
	return entries, nil
}

// Rank sorts entries descending by value, keeping the incoming order for ties.
func Rank(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Value > entries[j].Value })
}
