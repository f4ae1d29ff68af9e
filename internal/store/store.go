package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// NameKind tells how a stored display name was obtained.
type NameKind string

const (
	// NameHandle is a platform handle, shown with a leading @.
	NameHandle NameKind = "handle"
	// NamePlain is a profile name, shown bare.
	NamePlain NameKind = "plain"
)

// DisplayName is a user's last seen name together with its provenance.
type DisplayName struct {
	Kind  NameKind `json:"kind"`
	Value string   `json:"value"`
}

func Handle(v string) DisplayName { return DisplayName{Kind: NameHandle, Value: v} }
func Plain(v string) DisplayName  { return DisplayName{Kind: NamePlain, Value: v} }

// Counter names one of the three per-user counters.
type Counter string

const (
	CounterRun   Counter = "run"
	CounterPidor Counter = "pidor"
	CounterSosal Counter = "sosal"
)

var Counters = []Counter{CounterRun, CounterPidor, CounterSosal}

func (c Counter) Valid() bool {
	switch c {
	case CounterRun, CounterPidor, CounterSosal:
		return true
	}
	return false
}

// Tally holds the three counter values.
type Tally struct {
	Run   int64 `json:"run"`
	Pidor int64 `json:"pidor"`
	Sosal int64 `json:"sosal"`
}

func (t Tally) Get(c Counter) int64 {
	switch c {
	case CounterRun:
		return t.Run
	case CounterPidor:
		return t.Pidor
	case CounterSosal:
		return t.Sosal
	}
	return 0
}

func (t *Tally) Add(c Counter, delta int64) {
	switch c {
	case CounterRun:
		t.Run += delta
	case CounterPidor:
		t.Pidor += delta
	case CounterSosal:
		t.Sosal += delta
	}
}

func (t Tally) IsZero() bool { return t.Run == 0 && t.Pidor == 0 && t.Sosal == 0 }

// UserCounters is the live, cumulative row of a user.
type UserCounters struct {
	UserID int64       `json:"user_id"`
	Name   DisplayName `json:"name"`
	Tally
	// Seq is the insertion order, used to break ties in leaderboards.
	Seq int64 `json:"seq"`
}

// SeasonCounters mirrors UserCounters for one season.
type SeasonCounters struct {
	Season int         `json:"season"`
	UserID int64       `json:"user_id"`
	Name   DisplayName `json:"name"`
	Tally
	Seq int64 `json:"seq"`
}

// SeasonControl is the single season state row.
type SeasonControl struct {
	Current      int        `json:"current"`
	Active       bool       `json:"active"`
	LastRollover *time.Time `json:"last_rollover,omitempty"`
}

// CooldownEntry is the last successful use of a command under a scope.
type CooldownEntry struct {
	Scope    string    `json:"scope"`
	Command  string    `json:"command"`
	LastUsed time.Time `json:"last_used"`
}

// SeasonMeta records when a season started and ended.
type SeasonMeta struct {
	Number    int        `json:"number"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// LockMode selects shared or exclusive locking for Tx.Lock.
type LockMode int

const (
	LockShared LockMode = iota
	LockExclusive
)

// Tx is a scoped storage handle. Everything done through one Tx commits or rolls back together.
type Tx interface {
	// Lock holds key until the transaction ends.
	Lock(ctx context.Context, key string, mode LockMode) error

	GetCooldown(ctx context.Context, scope, command string) (CooldownEntry, error)
	PutCooldown(ctx context.Context, e CooldownEntry) error

	GetUser(ctx context.Context, userID int64) (UserCounters, error)
	PutUser(ctx context.Context, u UserCounters) (UserCounters, error)
	// ListUsers returns every user in insertion order.
	ListUsers(ctx context.Context) ([]UserCounters, error)

	GetSeasonCounters(ctx context.Context, season int, userID int64) (SeasonCounters, error)
	PutSeasonCounters(ctx context.Context, sc SeasonCounters) (SeasonCounters, error)
	// ListSeasonCounters returns every row of a season in insertion order.
	ListSeasonCounters(ctx context.Context, season int) ([]SeasonCounters, error)

	GetControl(ctx context.Context) (SeasonControl, error)
	PutControl(ctx context.Context, c SeasonControl) error

	PutSeason(ctx context.Context, m SeasonMeta) error
	ListSeasons(ctx context.Context) ([]SeasonMeta, error)
}

// Store abstracts persistent storage operations
type Store interface {
	Close() error
	// Update runs fn in a read-write transaction; a non-nil error rolls it back.
	Update(ctx context.Context, fn func(Tx) error) error
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error
}

var (
	ErrNotFound = errors.New("not found")
	ErrReadOnly = errors.New("read-only transaction")
)

// ErrUnavailable wraps connection level failures.
var ErrUnavailable = errors.New("storage unavailable")

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
