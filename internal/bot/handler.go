package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"messhall/internal/domain"
	"messhall/internal/models"
	"messhall/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// staffStartParam is the deep-link payload (t.me/<bot>?start=staff) that
// registers a newcomer as awaiting staff setup instead of as a student.
const staffStartParam = "staff"

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !msg.IsCommand() {
		b.reply(chatID, helpText)
		return
	}

	args := strings.TrimSpace(msg.CommandArguments())
	if msg.Command() == "start" {
		b.handleStart(ctx, msg, args)
		return
	}

	actor, err := b.actor(ctx, msg.From.ID)
	if err != nil {
		b.reply(chatID, errorMessage(err))
		return
	}

	switch msg.Command() {
	case "help":
		b.reply(chatID, helpText)
	case "menu":
		b.handleMenu(ctx, chatID, actor, args)
	case "book":
		b.withID(chatID, args, "/book <meal id>", func(id int64) { b.bookMeal(ctx, chatID, actor, id) })
	case "day":
		b.handleDay(ctx, chatID, actor, args)
	case "week":
		b.handleWeek(ctx, chatID, actor, args)
	case "mine":
		b.handleMine(ctx, chatID, actor)
	case "cancel":
		b.withID(chatID, args, "/cancel <booking id>", func(id int64) { b.cancelBooking(ctx, chatID, actor, id) })
	case "served":
		b.withID(chatID, args, "/served <booking id>", func(id int64) { b.markServed(ctx, chatID, actor, id) })
	case "request":
		b.handleRequest(ctx, chatID, actor, args)
	case "pending":
		b.handlePending(ctx, chatID, actor)
	default:
		b.reply(chatID, "Unknown command.\n\n"+helpText)
	}
}

// actor resolves the caller's current role from storage.
func (b *Bot) actor(ctx context.Context, telegramID int64) (service.Actor, error) {
	u, err := b.svc.Users.GetUserByTelegramID(ctx, telegramID)
	if errors.Is(err, domain.ErrNotFound) {
		return service.Actor{}, errNotRegistered
	}
	if err != nil {
		return service.Actor{}, err
	}
	return service.Actor{UserID: u.ID, Role: u.Role}, nil
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message, args string) {
	chatID := msg.Chat.ID
	existing, err := b.svc.Users.GetUserByTelegramID(ctx, msg.From.ID)
	switch {
	case err == nil:
		b.reply(chatID, fmt.Sprintf("Welcome back, %s. Your role: %s.\n\n%s", existing.Name, existing.Role, helpText))
		return
	case !errors.Is(err, domain.ErrNotFound):
		b.reply(chatID, errorMessage(err))
		return
	}

	role := models.RoleStudent
	if args == staffStartParam {
		role = models.RoleAwaitingSetup
	}
	user := &models.User{Name: displayName(msg.From), Role: role, TelegramID: msg.From.ID}
	if err := b.svc.Users.CreateUser(ctx, user); err != nil {
		b.logger.Error().Err(err).Int64("telegram_id", msg.From.ID).Msg("Failed to register user")
		b.reply(chatID, errorMessage(err))
		return
	}
	b.logger.Info().Int64("user_id", user.ID).Str("role", string(role)).Msg("User registered")

	text := fmt.Sprintf("Hello, %s! You are registered as %s.", user.Name, role)
	if role == models.RoleAwaitingSetup {
		text += "\nUse /request <role> to ask an admin for staff access."
	}
	b.reply(chatID, text+"\n\n"+helpText)
}

func (b *Bot) authorized(chatID int64, op service.Operation, actor service.Actor) bool {
	if err := b.policy.Authorize(op, actor); err != nil {
		b.reply(chatID, errorMessage(err))
		return false
	}
	return true
}

func (b *Bot) withID(chatID int64, args, usage string, fn func(id int64)) {
	id, err := strconv.ParseInt(strings.TrimPrefix(args, "#"), 10, 64)
	if err != nil || id <= 0 {
		b.reply(chatID, "Usage: "+usage)
		return
	}
	fn(id)
}

func (b *Bot) handleMenu(ctx context.Context, chatID int64, actor service.Actor, args string) {
	if !b.authorized(chatID, service.OpListMeals, actor) {
		return
	}
	date, err := parseDay(args, b.now())
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	meals, err := b.svc.Catalog.ListMeals(ctx, date)
	if err != nil {
		b.reply(chatID, errorMessage(err))
		return
	}
	day := date.Format(models.DateLayout)
	if len(meals) == 0 {
		b.reply(chatID, "No meals on "+day+".")
		return
	}

	lines := []string{"Menu for " + day + ":"}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, m := range meals {
		lines = append(lines, formatMeal(m))
		if m.IsAvailable && !m.IsFull() {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Book %s", m.Slot), fmt.Sprintf("%s:%d", actionBook, m.ID)),
			))
		}
	}
	b.replyWithKeyboard(chatID, strings.Join(lines, "\n"), tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows})
}

func (b *Bot) bookMeal(ctx context.Context, chatID int64, actor service.Actor, mealID int64) {
	if !b.authorized(chatID, service.OpCreateBooking, actor) {
		return
	}
	booking, err := b.svc.Bookings.CreateBooking(ctx, service.CreateBookingRequest{UserID: actor.UserID, MealID: mealID})
	if err != nil {
		b.reply(chatID, errorMessage(err))
		return
	}
	b.reply(chatID, "✅ Booked, awaiting payment:\n"+formatBooking(booking))
}

func (b *Bot) handleDay(ctx context.Context, chatID int64, actor service.Actor, args string) {
	if !b.authorized(chatID, service.OpCreateBooking, actor) {
		return
	}
	date, err := parseDay(args, b.now().AddDate(0, 0, 1))
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	res, err := b.svc.Bookings.CreateDayBooking(ctx, service.DayBookingRequest{UserID: actor.UserID, Date: date})
	if err != nil {
		b.reply(chatID, errorMessage(err))
		return
	}
	b.reply(chatID, fmt.Sprintf("✅ %d meals booked, total %s:\n%s", len(res.Bookings), res.Total.StringFixed(2), formatBatch(res.Bookings)))
}

func (b *Bot) handleWeek(ctx context.Context, chatID int64, actor service.Actor, args string) {
	if !b.authorized(chatID, service.OpCreateBooking, actor) {
		return
	}
	date, err := parseDay(args, service.WeekStart(b.now()).AddDate(0, 0, 7))
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	res, err := b.svc.Bookings.CreateWeekBooking(ctx, service.WeekBookingRequest{UserID: actor.UserID, WeekStart: service.WeekStart(date)})
	if err != nil {
		b.reply(chatID, errorMessage(err))
		return
	}
	b.reply(chatID, fmt.Sprintf("✅ %d meals booked, total %s:\n%s", len(res.Bookings), res.Total.StringFixed(2), formatBatch(res.Bookings)))
}

func (b *Bot) handleMine(ctx context.Context, chatID int64, actor service.Actor) {
	if !b.authorized(chatID, service.OpListOwnBookings, actor) {
		return
	}
	bookings, err := b.svc.Bookings.ListUserBookings(ctx, actor.UserID)
	if err != nil {
		b.reply(chatID, errorMessage(err))
		return
	}
	if len(bookings) == 0 {
		b.reply(chatID, "You have no bookings yet. Try /menu.")
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, bk := range bookings {
		if bk.Status == models.StatusPending || bk.Status == models.StatusBooked {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Cancel #%d", bk.ID), fmt.Sprintf("%s:%d", actionCancel, bk.ID)),
			))
		}
	}
	b.replyWithKeyboard(chatID, "Your bookings:\n"+formatBatch(bookings), tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows})
}

func (b *Bot) cancelBooking(ctx context.Context, chatID int64, actor service.Actor, bookingID int64) {
	if !b.authorized(chatID, service.OpCancelBooking, actor) {
		return
	}
	booking, err := b.svc.Bookings.CancelBooking(ctx, bookingID, actor)
	if err != nil {
		b.reply(chatID, errorMessage(err))
		return
	}
	b.reply(chatID, "Cancelled:\n"+formatBooking(booking))
}

func (b *Bot) markServed(ctx context.Context, chatID int64, actor service.Actor, bookingID int64) {
	if !b.authorized(chatID, service.OpMarkConsumed, actor) {
		return
	}
	booking, err := b.svc.Bookings.MarkConsumed(ctx, bookingID, actor)
	if err != nil {
		b.reply(chatID, errorMessage(err))
		return
	}
	b.reply(chatID, "🍽 Served:\n"+formatBooking(booking))
}

func (b *Bot) handleRequest(ctx context.Context, chatID int64, actor service.Actor, args string) {
	if !b.authorized(chatID, service.OpRequestPromotion, actor) {
		return
	}
	role := models.Role(strings.ToLower(args))
	if !role.IsElevated() {
		b.reply(chatID, "Usage: /request <mess_staff|mess_supervisor|admin>")
		return
	}
	if _, err := b.svc.Promotions.RequestPromotion(ctx, actor.UserID, role); err != nil {
		b.reply(chatID, errorMessage(err))
		return
	}
	b.reply(chatID, fmt.Sprintf("📨 Your request for %s was sent to the admins.", role))
}

func (b *Bot) handlePending(ctx context.Context, chatID int64, actor service.Actor) {
	if !b.authorized(chatID, service.OpListPromotions, actor) {
		return
	}
	reqs, err := b.svc.Promotions.ListRequests(ctx, models.PromotionPending)
	if err != nil {
		b.reply(chatID, errorMessage(err))
		return
	}
	if len(reqs) == 0 {
		b.reply(chatID, "No open role requests.")
		return
	}

	lines := []string{"Open role requests:"}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, r := range reqs {
		lines = append(lines, fmt.Sprintf("user #%d wants %s (since %s)", r.UserID, r.RequestedRole, r.CreatedAt.Format(models.DateLayout)))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✅ #%d", r.UserID), fmt.Sprintf("%s:%d", actionApprove, r.UserID)),
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("❌ #%d", r.UserID), fmt.Sprintf("%s:%d", actionReject, r.UserID)),
		))
	}
	b.replyWithKeyboard(chatID, strings.Join(lines, "\n"), tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows})
}
