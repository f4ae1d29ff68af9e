// Package game implements the chat commands on top of the cooldown ledger, counters and
// season controller. It knows nothing about the chat platform.
package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/AlexYaroshenko/krasavchik/internal/clock"
	"github.com/AlexYaroshenko/krasavchik/internal/cooldown"
	"github.com/AlexYaroshenko/krasavchik/internal/counters"
	"github.com/AlexYaroshenko/krasavchik/internal/lock"
	"github.com/AlexYaroshenko/krasavchik/internal/members"
	"github.com/AlexYaroshenko/krasavchik/internal/season"
	"github.com/AlexYaroshenko/krasavchik/internal/store"
)

// Award is one of the daily random awards.
type Award struct {
	Command cooldown.Command
	Counter store.Counter
}

var (
	AwardRun   = Award{Command: cooldown.Run, Counter: store.CounterRun}
	AwardPidor = Award{Command: cooldown.Pidor, Counter: store.CounterPidor}
)

// Actor is the chat user who sent a command.
type Actor struct {
	ID   int64
	Name store.DisplayName
}

// BuildUp runs between drawing the winner and recording the award. An error aborts the
// award and leaves the cooldown unstamped.
type BuildUp func(ctx context.Context, winner members.Member) error

type AwardResult struct {
	Winner members.Member
	Season int
	Total  int64
}

// Board is a ranked leaderboard for one counter.
type Board struct {
	Counter store.Counter
	Entries []counters.Entry
}

// Menu is what the season selection keyboard is built from.
type Menu struct {
	Current int
	Seasons []int
}

type Options struct {
	Store          store.Store
	Clock          clock.Clock
	Locker         lock.Locker
	Selector       members.Selector
	Admin          string
	HourlyCooldown time.Duration
	SeasonLength   time.Duration
	Log            zerolog.Logger
}

type Service struct {
	store    store.Store
	clock    clock.Clock
	ledger   *cooldown.Ledger
	seasons  *season.Controller
	locker   lock.Locker
	selector members.Selector
	admin    string
	length   time.Duration
	log      zerolog.Logger
}

func New(o Options) *Service {
	return &Service{
		store:    o.Store,
		clock:    o.Clock,
		ledger:   cooldown.NewLedger(o.Clock, o.HourlyCooldown),
		seasons:  season.NewController(o.Clock, o.SeasonLength),
		locker:   o.Locker,
		selector: o.Selector,
		admin:    strings.TrimPrefix(o.Admin, "@"),
		length:   o.SeasonLength,
		log:      o.Log,
	}
}

// IsAdmin compares the actor's handle with the configured administrator handle.
func (s *Service) IsAdmin(a Actor) bool {
	return s.admin != "" && a.Name.Kind == store.NameHandle && strings.EqualFold(a.Name.Value, s.admin)
}

func (s *Service) acquire(ctx context.Context, scope cooldown.Scope, cmd cooldown.Command) (func(), error) {
	release, err := s.locker.Acquire(ctx, cooldown.LockKey(scope, cmd))
	if errors.Is(err, lock.ErrAlreadyLocked) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", cmd.Name, err)
	}
	return release, nil
}

func (s *Service) gate(ctx context.Context, tx store.Tx, scope cooldown.Scope, cmd cooldown.Command) error {
	v, err := s.ledger.Allowed(ctx, tx, scope, cmd)
	if err != nil {
		return err
	}
	if !v.Allowed {
		return &CooldownError{Command: cmd, Remaining: v.Remaining}
	}
	return nil
}

// Award draws a random member and credits them with the award. The scope stays locked
// from the cooldown check through the build-up until the use is recorded.
func (s *Service) Award(ctx context.Context, chatID int64, a Award, buildUp BuildUp) (AwardResult, error) {
	log := s.log.With().Int64("chat_id", chatID).Str("command", a.Command.Name).Logger()
	scope := cooldown.ScopeFor(a.Command, chatID, 0)

	release, err := s.acquire(ctx, scope, a.Command)
	if err != nil {
		return AwardResult{}, err
	}
	defer release()

	err = s.store.View(ctx, func(tx store.Tx) error {
		return s.gate(ctx, tx, scope, a.Command)
	})
	if err != nil {
		return AwardResult{}, persistence("check cooldown", err)
	}

	winner, err := s.selector.Pick(ctx, chatID)
	if errors.Is(err, members.ErrNotEnoughMembers) {
		return AwardResult{}, ErrInsufficientMembers
	}
	if err != nil {
		return AwardResult{}, fmt.Errorf("pick member: %w", err)
	}
	log.Debug().Int64("winner_id", winner.ID).Msg("Winner drawn")

	if buildUp != nil {
		if err := buildUp(ctx, winner); err != nil {
			return AwardResult{}, fmt.Errorf("build-up: %w", err)
		}
	}

	res := AwardResult{Winner: winner}
	err = s.store.Update(ctx, func(tx store.Tx) error {
		// the lock above covers this process; the transaction re-check covers the rest
		if err := s.gate(ctx, tx, scope, a.Command); err != nil {
			return err
		}
		ctl, err := s.seasons.EnsureExists(ctx, tx)
		if err != nil {
			return err
		}
		u, err := counters.Increment(ctx, tx, ctl.Current, winner.ID, winner.Name, a.Counter, 1)
		if err != nil {
			return err
		}
		res.Season = ctl.Current
		res.Total = u.Get(a.Counter)
		return s.ledger.Record(ctx, tx, scope, a.Command)
	})
	if err != nil {
		return AwardResult{}, persistence("record award", err)
	}
	log.Info().Int64("winner_id", winner.ID).Int("season", res.Season).Msg("Award recorded")
	return res, nil
}

// Hourly adds one to the actor's sosal counter, once per rolling window per member.
func (s *Service) Hourly(ctx context.Context, chatID int64, actor Actor) (int64, error) {
	return s.selfAction(ctx, chatID, actor, cooldown.Sosal, func(ctx context.Context, tx store.Tx, season int) (store.UserCounters, error) {
		return counters.Increment(ctx, tx, season, actor.ID, actor.Name, store.CounterSosal, 1)
	})
}

// Reverse doubles the actor's sosal counter. It needs at least one prior Hourly.
func (s *Service) Reverse(ctx context.Context, chatID int64, actor Actor) (int64, error) {
	return s.selfAction(ctx, chatID, actor, cooldown.Nesosal, func(ctx context.Context, tx store.Tx, season int) (store.UserCounters, error) {
		return counters.Double(ctx, tx, season, actor.ID, actor.Name, store.CounterSosal)
	})
}

type mutation func(ctx context.Context, tx store.Tx, season int) (store.UserCounters, error)

func (s *Service) selfAction(ctx context.Context, chatID int64, actor Actor, cmd cooldown.Command, mutate mutation) (int64, error) {
	scope := cooldown.ScopeFor(cmd, chatID, actor.ID)
	release, err := s.acquire(ctx, scope, cmd)
	if err != nil {
		return 0, err
	}
	defer release()

	var total int64
	err = s.store.Update(ctx, func(tx store.Tx) error {
		if err := s.gate(ctx, tx, scope, cmd); err != nil {
			return err
		}
		ctl, err := s.seasons.EnsureExists(ctx, tx)
		if err != nil {
			return err
		}
		u, err := mutate(ctx, tx, ctl.Current)
		if err != nil {
			return err
		}
		total = u.Sosal
		return s.ledger.Record(ctx, tx, scope, cmd)
	})
	if err != nil {
		return 0, persistence(cmd.Name, err)
	}
	s.log.Debug().Int64("chat_id", chatID).Int64("user_id", actor.ID).Str("command", cmd.Name).Int64("total", total).Msg("Counted")
	return total, nil
}

// Leaderboard ranks the live counters.
func (s *Service) Leaderboard(ctx context.Context, ctrs ...store.Counter) ([]Board, error) {
	boards := make([]Board, 0, len(ctrs))
	err := s.store.View(ctx, func(tx store.Tx) error {
		for _, c := range ctrs {
			entries, err := counters.Top(ctx, tx, c)
			if err != nil {
				return err
			}
			boards = append(boards, Board{Counter: c, Entries: entries})
		}
		return nil
	})
	if err != nil {
		return nil, persistence("leaderboard", err)
	}
	return boards, nil
}

// SeasonBoard ranks the counters recorded for one season.
func (s *Service) SeasonBoard(ctx context.Context, number int, ctrs ...store.Counter) ([]Board, error) {
	boards := make([]Board, 0, len(ctrs))
	err := s.store.View(ctx, func(tx store.Tx) error {
		for _, c := range ctrs {
			entries, err := season.TopForSeason(ctx, tx, number, c)
			if err != nil {
				return err
			}
			boards = append(boards, Board{Counter: c, Entries: entries})
		}
		return nil
	})
	if err != nil {
		return nil, persistence("season board", err)
	}
	return boards, nil
}

// Rollover closes the current season. force skips the season length check and is
// restricted to the administrator.
func (s *Service) Rollover(ctx context.Context, actor Actor, force bool) (season.Result, error) {
	if force && !s.IsAdmin(actor) {
		return season.Result{}, ErrPermissionDenied
	}
	var res season.Result
	err := s.store.Update(ctx, func(tx store.Tx) error {
		var err error
		res, err = s.seasons.Rollover(ctx, tx, force)
		return err
	})
	if err != nil {
		return season.Result{}, persistence("rollover", err)
	}
	s.log.Info().Int64("user_id", actor.ID).Bool("force", force).Int("closed", res.Closed).Int("archived", res.Archived).Msg("Season rolled over")
	return res, nil
}

// StartSeason marks the current season active. Administrator only.
func (s *Service) StartSeason(ctx context.Context, actor Actor) (store.SeasonControl, error) {
	if !s.IsAdmin(actor) {
		return store.SeasonControl{}, ErrPermissionDenied
	}
	var ctl store.SeasonControl
	err := s.store.Update(ctx, func(tx store.Tx) error {
		var err error
		ctl, err = s.seasons.Start(ctx, tx)
		return err
	})
	if err != nil {
		return store.SeasonControl{}, persistence("start season", err)
	}
	s.log.Info().Int("season", ctl.Current).Msg("Season started")
	return ctl, nil
}

// Seasons returns the current season and the recent window for the selection menu.
func (s *Service) Seasons(ctx context.Context) (Menu, error) {
	ctl, err := s.Status(ctx)
	if err != nil {
		return Menu{}, err
	}
	return Menu{Current: ctl.Current, Seasons: season.RecentSeasons(ctl.Current)}, nil
}

// Status returns the season control row, or ErrNoSeason before the first countable command.
func (s *Service) Status(ctx context.Context) (store.SeasonControl, error) {
	var ctl store.SeasonControl
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		ctl, err = s.seasons.Current(ctx, tx)
		return err
	})
	if err != nil {
		return store.SeasonControl{}, persistence("season status", err)
	}
	return ctl, nil
}

// DaysUntilRollover is the number of whole days before a regular rollover is allowed.
func (s *Service) DaysUntilRollover(ctl store.SeasonControl) int {
	if ctl.LastRollover == nil {
		return 0
	}
	required := int(s.length / (24 * time.Hour))
	left := required - clock.CivilDays(*ctl.LastRollover, s.clock.Now(), s.clock.Location())
	if left < 0 {
		return 0
	}
	return left
}
