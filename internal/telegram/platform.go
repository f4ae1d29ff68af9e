package telegram

import (
	"context"
	"errors"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/AlexYaroshenko/krasavchik/internal/members"
)

// ChatAPI is the membership part of *tgbotapi.BotAPI.
type ChatAPI interface {
	GetChatMembersCount(config tgbotapi.ChatMemberCountConfig) (int, error)
	GetChatAdministrators(config tgbotapi.ChatAdministratorsConfig) ([]tgbotapi.ChatMember, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// Platform answers the member selector's questions through the Bot API.
type Platform struct {
	api ChatAPI
}

func NewPlatform(api ChatAPI) *Platform {
	return &Platform{api: api}
}

func (p *Platform) MemberCount(_ context.Context, chatID int64) (int, error) {
	return p.api.GetChatMembersCount(tgbotapi.ChatMemberCountConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
}

func (p *Platform) Administrators(_ context.Context, chatID int64) ([]members.Member, error) {
	admins, err := p.api.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return nil, err
	}
	res := make([]members.Member, 0, len(admins))
	for _, a := range admins {
		if a.User == nil {
			continue
		}
		res = append(res, memberOf(a.User))
	}
	return res, nil
}

func (p *Platform) IsMember(_ context.Context, chatID, userID int64) (bool, error) {
	m, err := p.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusBadRequest {
		// "user not found": never joined or the account is gone
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch m.Status {
	case "left", "kicked":
		return false, nil
	case "restricted":
		return m.IsMember, nil
	}
	return true, nil
}

func memberOf(u *tgbotapi.User) members.Member {
	return members.Member{
		ID:    u.ID,
		Name:  members.NameOf(u.UserName, u.FirstName, u.LastName),
		IsBot: u.IsBot,
	}
}
