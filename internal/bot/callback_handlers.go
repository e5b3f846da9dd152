package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"messhall/internal/models"
	"messhall/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Callback data is "<action>:<id>".
const (
	actionBook    = "book"
	actionCancel  = "cancel"
	actionApprove = "approve"
	actionReject  = "reject"
)

const rejectReason = "declined in Telegram"

func (b *Bot) handleCallbackQuery(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	// Answer right away so the client stops showing the spinner.
	if _, err := b.tg.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to answer callback")
	}
	chatID := cq.Message.Chat.ID

	action, rawID, ok := strings.Cut(cq.Data, ":")
	id, err := strconv.ParseInt(rawID, 10, 64)
	if !ok || err != nil || id <= 0 {
		b.logger.Warn().Str("data", cq.Data).Msg("Malformed callback data")
		return
	}

	actor, err := b.actor(ctx, cq.From.ID)
	if err != nil {
		b.reply(chatID, errorMessage(err))
		return
	}

	switch action {
	case actionBook:
		b.bookMeal(ctx, chatID, actor, id)
	case actionCancel:
		b.cancelBooking(ctx, chatID, actor, id)
	case actionApprove:
		b.resolvePromotion(ctx, chatID, actor, id, true)
	case actionReject:
		b.resolvePromotion(ctx, chatID, actor, id, false)
	default:
		b.logger.Warn().Str("action", action).Msg("Unknown callback action")
	}
}

func (b *Bot) resolvePromotion(ctx context.Context, chatID int64, actor service.Actor, userID int64, approve bool) {
	op := service.OpRejectPromotion
	if approve {
		op = service.OpApprovePromotion
	}
	if !b.authorized(chatID, op, actor) {
		return
	}

	var (
		req *models.PromotionRequest
		err error
	)
	if approve {
		req, err = b.svc.Promotions.ApprovePromotion(ctx, userID, actor.UserID)
	} else {
		req, err = b.svc.Promotions.RejectPromotion(ctx, userID, actor.UserID, rejectReason)
	}
	if err != nil {
		b.reply(chatID, errorMessage(err))
		return
	}

	b.reply(chatID, fmt.Sprintf("Request of user #%d for %s: %s.", userID, req.RequestedRole, req.Status))
	b.tellRequester(ctx, userID, req)
}

// tellRequester messages the user whose request was decided, when they use the bot.
func (b *Bot) tellRequester(ctx context.Context, userID int64, req *models.PromotionRequest) {
	u, err := b.svc.Users.GetUser(ctx, userID)
	if err != nil || u.TelegramID == 0 {
		return
	}
	text := fmt.Sprintf("🎉 You are now %s.", req.RequestedRole)
	if req.Status == models.PromotionRejected {
		text = fmt.Sprintf("Your request for %s was declined. You can send a new /request.", req.RequestedRole)
	}
	b.reply(u.TelegramID, text)
}
