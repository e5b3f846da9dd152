// Package bot is the Telegram front end for students and mess staff.
package bot

import (
	"context"
	"time"

	"messhall/internal/access"
	"messhall/internal/config"
	"messhall/internal/domain"
	"messhall/internal/models"
	"messhall/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// UserDirectory maps chat identities to users.
type UserDirectory interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
}

// Services bundles the workflows the bot drives.
type Services struct {
	Users      UserDirectory
	Bookings   *service.BookingService
	Catalog    *service.CatalogService
	Promotions *service.PromotionService
}

type Bot struct {
	tg      TelegramAPI
	svc     Services
	policy  *access.Policy
	limiter domain.RateLimiter
	cfg     config.BotConfig
	now     func() time.Time
	logger  *zerolog.Logger
}

// NewBot builds the bot. limiter may be nil to disable per-chat throttling.
func NewBot(tg TelegramAPI, svc Services, policy *access.Policy, limiter domain.RateLimiter, cfg config.BotConfig, logger *zerolog.Logger) *Bot {
	l := logger.With().Str("component", "bot").Logger()
	return &Bot{
		tg:      tg,
		svc:     svc,
		policy:  policy,
		limiter: limiter,
		cfg:     cfg,
		now:     time.Now,
		logger:  &l,
	}
}

func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.tg.GetUpdatesChan(u)

	b.logger.Info().Str("username", b.tg.GetSelf().UserName).Msg("Authorized on account")

	for {
		select {
		case <-ctx.Done():
			b.tg.StopReceivingUpdates()
			b.logger.Info().Msg("Bot stopping...")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.processUpdate(ctx, update)
		}
	}
}

func (b *Bot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	updateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	l := b.logger.With().Str("request_id", uuid.NewString()).Logger()
	updateCtx = l.WithContext(updateCtx)

	b.withRecovery(func() {
		var (
			from   *tgbotapi.User
			chatID int64
			kind   string
		)
		switch {
		case update.CallbackQuery != nil:
			from, kind = update.CallbackQuery.From, "callback"
			if update.CallbackQuery.Message != nil {
				chatID = update.CallbackQuery.Message.Chat.ID
			}
		case update.Message != nil:
			from, chatID, kind = update.Message.From, update.Message.Chat.ID, "message"
		}
		if from == nil || chatID == 0 {
			return
		}

		if !b.allow(updateCtx, from.ID) {
			b.reply(chatID, "You are sending messages too fast. Please wait a minute.")
			recordUpdate(kind, "throttled")
			return
		}

		if kind == "callback" {
			b.handleCallbackQuery(updateCtx, update.CallbackQuery)
		} else {
			b.handleMessage(updateCtx, update.Message)
		}
		recordUpdate(kind, "ok")
	})
}
