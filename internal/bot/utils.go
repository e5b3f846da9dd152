package bot

import (
	"fmt"
	"strings"
	"time"

	"messhall/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const helpText = `Commands:
/menu [YYYY-MM-DD] - meals for a day
/book <meal id> - book one meal
/day [YYYY-MM-DD] - book every open meal of a day
/week [YYYY-MM-DD] - book every open meal of a week
/mine - your bookings
/cancel <booking id> - cancel a booking
/request <mess_staff|mess_supervisor|admin> - ask for a staff role
/pending - open role requests (admins)`

var slotIcons = map[models.Slot]string{
	models.SlotBreakfast: "🍳",
	models.SlotLunch:     "🍛",
	models.SlotSnacks:    "☕",
	models.SlotDinner:    "🍲",
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) replyWithKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	if len(keyboard.InlineKeyboard) > 0 {
		msg.ReplyMarkup = keyboard
	}
	b.send(msg)
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.tg.Send(c); err != nil {
		b.logger.Error().Err(err).Msg("Failed to send message")
	}
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	if name == "" {
		name = fmt.Sprintf("tg%d", u.ID)
	}
	return name
}

// parseDay reads an optional YYYY-MM-DD argument, defaulting to fallback.
func parseDay(arg string, fallback time.Time) (time.Time, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		y, m, d := fallback.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.ParseInLocation(models.DateLayout, arg, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("dates look like 2026-03-09, not %q", arg)
	}
	return t, nil
}

func formatMeal(m *models.MealOffering) string {
	state := fmt.Sprintf("%d of %d left", m.Remaining(), m.Capacity)
	switch {
	case !m.IsAvailable:
		state = "closed"
	case m.IsFull():
		state = "full"
	}
	return fmt.Sprintf("%s %s #%d %s, %s (%s)", slotIcons[m.Slot], m.Slot, m.ID, m.Name, m.Price.StringFixed(2), state)
}

func formatBooking(bk *models.Booking) string {
	line := fmt.Sprintf("#%d %s %s, %s [%s]", bk.ID, bk.Date.Format(models.DateLayout), bk.Slot, bk.Price.StringFixed(2), bk.Status)
	if bk.SpecialRequest != "" {
		line += " note: " + bk.SpecialRequest
	}
	return line
}

func formatBatch(bookings []*models.Booking) string {
	lines := make([]string, 0, len(bookings))
	for _, bk := range bookings {
		lines = append(lines, formatBooking(bk))
	}
	return strings.Join(lines, "\n")
}
