package game

import (
	"errors"
	"fmt"
	"time"

	"github.com/AlexYaroshenko/krasavchik/internal/cooldown"
	"github.com/AlexYaroshenko/krasavchik/internal/counters"
	"github.com/AlexYaroshenko/krasavchik/internal/season"
)

var (
	ErrInsufficientMembers = errors.New("insufficient members")
	ErrNoPriorRecord       = counters.ErrNoPriorRecord
	ErrCounterOverflow     = counters.ErrOverflow
	ErrPermissionDenied    = errors.New("permission denied")
	ErrAlreadyActive       = season.ErrAlreadyActive
	ErrNoSeason            = season.ErrNoSeason
	// ErrBusy means the same command is running for the scope on another instance.
	ErrBusy = errors.New("command already in progress")
	// ErrPersistence wraps storage failures; the command is aborted with nothing written.
	ErrPersistence = errors.New("persistence unavailable")
)

// RolloverTooSoonError carries the days left until a regular rollover is allowed.
type RolloverTooSoonError = season.TooSoonError

// CooldownError is returned when a gated command is used too soon.
type CooldownError struct {
	Command   cooldown.Command
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s on cooldown for %s", e.Command.Name, e.Remaining)
}

// userFacing reports whether err is a domain outcome rather than an infrastructure failure.
func userFacing(err error) bool {
	var cd *CooldownError
	var soon *RolloverTooSoonError
	switch {
	case errors.As(err, &cd), errors.As(err, &soon):
		return true
	case errors.Is(err, ErrInsufficientMembers),
		errors.Is(err, ErrNoPriorRecord),
		errors.Is(err, ErrCounterOverflow),
		errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrAlreadyActive),
		errors.Is(err, ErrNoSeason),
		errors.Is(err, ErrBusy):
		return true
	}
	return false
}

func persistence(op string, err error) error {
	if err == nil || userFacing(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, ErrPersistence, err)
}
