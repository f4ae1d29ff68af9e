// Package members picks a random chat member for the daily awards.
package members

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/AlexYaroshenko/krasavchik/internal/store"
)

// ErrNotEnoughMembers is returned when the chat has fewer than two members or no known candidate.
var ErrNotEnoughMembers = errors.New("not enough members")

// MinMembers is the smallest chat a random pick is allowed in.
const MinMembers = 2

type Member struct {
	ID    int64             `json:"id"`
	Name  store.DisplayName `json:"name"`
	IsBot bool              `json:"is_bot"`
}

// NameOf prefers the handle and falls back to "first last".
func NameOf(username, first, last string) store.DisplayName {
	if username != "" {
		return store.Handle(username)
	}
	return store.Plain(strings.TrimSpace(first + " " + last))
}

type Selector interface {
	Pick(ctx context.Context, chatID int64) (Member, error)
}

// Platform is the slice of the chat API the selector needs.
type Platform interface {
	MemberCount(ctx context.Context, chatID int64) (int, error)
	Administrators(ctx context.Context, chatID int64) ([]Member, error)
	// IsMember reports whether the user is still in the chat.
	IsMember(ctx context.Context, chatID, userID int64) (bool, error)
}

// Roster remembers the users seen in each chat.
type Roster interface {
	Add(ctx context.Context, chatID int64, m Member) error
	Remove(ctx context.Context, chatID, userID int64) error
	List(ctx context.Context, chatID int64) ([]Member, error)
}

// MemoryRoster keeps the roster in process memory, lost on restart.
type MemoryRoster struct {
	mu    sync.RWMutex
	chats map[int64]map[int64]Member
}

func NewMemoryRoster() *MemoryRoster {
	return &MemoryRoster{chats: make(map[int64]map[int64]Member)}
}

func (r *MemoryRoster) Add(_ context.Context, chatID int64, m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[chatID]
	if !ok {
		chat = make(map[int64]Member)
		r.chats[chatID] = chat
	}
	chat[m.ID] = m
	return nil
}

func (r *MemoryRoster) Remove(_ context.Context, chatID, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chats[chatID], userID)
	return nil
}

func (r *MemoryRoster) List(_ context.Context, chatID int64) ([]Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]Member, 0, len(r.chats[chatID]))
	for _, m := range r.chats[chatID] {
		res = append(res, m)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// RandomSelector draws uniformly from the roster plus the chat administrators, skipping bots
// and verifying the drawn user is still a member.
type RandomSelector struct {
	roster   Roster
	platform Platform
	intn     func(n int) int
	log      zerolog.Logger
}

func NewRandomSelector(roster Roster, platform Platform, log zerolog.Logger) *RandomSelector {
	return &RandomSelector{roster: roster, platform: platform, intn: rand.Intn, log: log}
}

func (s *RandomSelector) Pick(ctx context.Context, chatID int64) (Member, error) {
	count, err := s.platform.MemberCount(ctx, chatID)
	if err != nil {
		return Member{}, fmt.Errorf("failed to get member count: %w", err)
	}
	if count < MinMembers {
		return Member{}, ErrNotEnoughMembers
	}

	candidates, err := s.candidates(ctx, chatID)
	if err != nil {
		return Member{}, err
	}
	for len(candidates) > 0 {
		i := s.intn(len(candidates))
		m := candidates[i]
		ok, err := s.platform.IsMember(ctx, chatID, m.ID)
		if err != nil {
			return Member{}, fmt.Errorf("failed to check member %d: %w", m.ID, err)
		}
		if ok {
			return m, nil
		}
		s.log.Debug().Int64("chat_id", chatID).Int64("user_id", m.ID).Msg("Dropping departed member")
		if err := s.roster.Remove(ctx, chatID, m.ID); err != nil {
			s.log.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to update roster")
		}
		candidates = append(candidates[:i], candidates[i+1:]...)
	}
	return Member{}, ErrNotEnoughMembers
}

func (s *RandomSelector) candidates(ctx context.Context, chatID int64) ([]Member, error) {
	seen, err := s.roster.List(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roster: %w", err)
	}
	// private chats and chats hiding their admin list fail here; the roster still counts
	admins, err := s.platform.Administrators(ctx, chatID)
	if err != nil {
		s.log.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to get administrators, using roster only")
		admins = nil
	}

	byID := make(map[int64]struct{}, len(seen)+len(admins))
	res := make([]Member, 0, len(seen)+len(admins))
	for _, m := range append(seen, admins...) {
		if m.IsBot {
			continue
		}
		if _, dup := byID[m.ID]; dup {
			continue
		}
		byID[m.ID] = struct{}{}
		res = append(res, m)
	}
	return res, nil
}
