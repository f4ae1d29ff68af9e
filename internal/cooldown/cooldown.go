// Package cooldown decides whether a gated command may run and stamps successful uses.
package cooldown

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AlexYaroshenko/krasavchik/internal/clock"
	"github.com/AlexYaroshenko/krasavchik/internal/store"
)

// Class selects the cooldown rule of a command.
type Class int

const (
	// DailyAtMidnight resets at local midnight, shared by the whole chat.
	DailyAtMidnight Class = iota + 1
	// RollingWindow resets a fixed duration after the last use, per chat member.
	RollingWindow
)

func (c Class) String() string {
	switch c {
	case DailyAtMidnight:
		return "daily"
	case RollingWindow:
		return "rolling"
	}
	return "unknown"
}

// Command is a gated command with its cooldown class attached.
type Command struct {
	Name  string
	Class Class
}

var (
	Run     = Command{Name: "run", Class: DailyAtMidnight}
	Pidor   = Command{Name: "pidor", Class: DailyAtMidnight}
	Sosal   = Command{Name: "sosal", Class: RollingWindow}
	Nesosal = Command{Name: "nesosal", Class: RollingWindow}
)

// Scope is the identity a cooldown is tracked under.
type Scope struct {
	ChatID  int64
	UserID  int64
	perUser bool
}

func ChatScope(chatID int64) Scope { return Scope{ChatID: chatID} }

func UserScope(chatID, userID int64) Scope {
	return Scope{ChatID: chatID, UserID: userID, perUser: true}
}

// ScopeFor picks the scope a command's class requires.
func ScopeFor(cmd Command, chatID, userID int64) Scope {
	if cmd.Class == RollingWindow {
		return UserScope(chatID, userID)
	}
	return ChatScope(chatID)
}

func (s Scope) Key() string {
	if s.perUser {
		return fmt.Sprintf("chat:%d:user:%d", s.ChatID, s.UserID)
	}
	return fmt.Sprintf("chat:%d", s.ChatID)
}

// Verdict is the answer to "may this command run now".
type Verdict struct {
	Allowed bool
	// Remaining is the wait until the command becomes usable; zero when allowed.
	Remaining time.Duration
}

// Check applies the class rule. last is nil when the command was never used under the scope.
func Check(class Class, last *time.Time, now time.Time, loc *time.Location, window time.Duration) Verdict {
	if last == nil {
		return Verdict{Allowed: true}
	}
	switch class {
	case DailyAtMidnight:
		if last.In(loc).Before(clock.Midnight(now, loc)) {
			return Verdict{Allowed: true}
		}
		return Verdict{Remaining: clock.NextMidnight(now, loc).Sub(now)}
	case RollingWindow:
		elapsed := now.Sub(*last)
		if elapsed >= window {
			return Verdict{Allowed: true}
		}
		return Verdict{Remaining: window - elapsed}
	}
	return Verdict{}
}

// Ledger reads and stamps cooldown entries inside a store transaction.
type Ledger struct {
	clock  clock.Clock
	window time.Duration
}

func NewLedger(c clock.Clock, window time.Duration) *Ledger {
	return &Ledger{clock: c, window: window}
}

// Allowed reports whether cmd may run under scope. Inside an Update it locks the
// (scope, command) pair so a concurrent check-then-act on the same key waits.
func (l *Ledger) Allowed(ctx context.Context, tx store.Tx, scope Scope, cmd Command) (Verdict, error) {
	return l.AllowedAt(ctx, tx, scope, cmd, l.clock.Now())
}

func (l *Ledger) AllowedAt(ctx context.Context, tx store.Tx, scope Scope, cmd Command, now time.Time) (Verdict, error) {
	if err := tx.Lock(ctx, LockKey(scope, cmd), store.LockExclusive); err != nil {
		return Verdict{}, err
	}
	e, err := tx.GetCooldown(ctx, scope.Key(), cmd.Name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return Check(cmd.Class, nil, now, l.clock.Location(), l.window), nil
	case err != nil:
		return Verdict{}, err
	}
	return Check(cmd.Class, &e.LastUsed, now, l.clock.Location(), l.window), nil
}

// Record stamps a successful use; one row per (scope, command), last write wins.
func (l *Ledger) Record(ctx context.Context, tx store.Tx, scope Scope, cmd Command) error {
	return l.RecordAt(ctx, tx, scope, cmd, l.clock.Now())
}

func (l *Ledger) RecordAt(ctx context.Context, tx store.Tx, scope Scope, cmd Command, now time.Time) error {
	return tx.PutCooldown(ctx, store.CooldownEntry{Scope: scope.Key(), Command: cmd.Name, LastUsed: now})
}

// LockKey names the (scope, command) pair for locks held across a check-then-act.
func LockKey(scope Scope, cmd Command) string {
	return "cooldown:" + scope.Key() + ":" + cmd.Name
}
