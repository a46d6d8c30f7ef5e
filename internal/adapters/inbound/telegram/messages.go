package telegram

import (
	"fmt"
	"strconv"
	"strings"

	tgapi "github.com/archon-research/p2pwatch/internal/adapters/outbound/telegram"
	"github.com/archon-research/p2pwatch/internal/domain/entity"
)

const mainMenuTitle = "Bybit P2P Watch Bot: Main Menu"

const helpText = `Commands:
/start - menu
/status - current settings and run flag
/history - recent order attempts
/run - start watching
/stop - stop watching
Send a price range like '1400-1455' to set the range.
Send a number to set min or max buy (numbers above max buy set max buy).`

func button(text, data string) tgapi.InlineKeyboardButton {
	return tgapi.InlineKeyboardButton{Text: text, CallbackData: data}
}

func mainMenu() *tgapi.InlineKeyboardMarkup {
	return &tgapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgapi.InlineKeyboardButton{
		{button("⚙️ Settings", "settings")},
		{button("▶️ Start Bot", "start_bot"), button("⏹ Stop Bot", "stop_bot")},
		{button("📜 History", "history")},
		{button("ℹ️ Status", "status")},
	}}
}

func settingsMenu() *tgapi.InlineKeyboardMarkup {
	return &tgapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgapi.InlineKeyboardButton{
		{button("Set Price Range", "set_range")},
		{button("Set Min Buy", "set_min_buy"), button("Set Max Buy", "set_max_buy")},
		{button("Toggle Auto-Start", "toggle_autostart")},
		{button("Back", "back_main")},
	}}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func statusText(s entity.Summary) string {
	return fmt.Sprintf("Status:\nBot running: %t\nMarket: %s (%s)\nPrice range: %s - %s\nMin buy: %d\nMax buy: %d",
		s.BotRunning,
		s.Market.Pair(), s.Market.Side,
		formatFloat(s.PriceRange.Min), formatFloat(s.PriceRange.Max),
		s.MinBuy, s.MaxBuy)
}

func settingsText(s entity.Summary) string {
	return fmt.Sprintf("Current settings:\nPrice range: %s - %s\nMin buy: %d\nMax buy: %d\nAuto-start: %t\nBot running: %t\n\nChoose an action:",
		formatFloat(s.PriceRange.Min), formatFloat(s.PriceRange.Max),
		s.MinBuy, s.MaxBuy, s.AutoStart, s.BotRunning)
}

func historyText(attempts []entity.OrderAttempt) string {
	if len(attempts) == 0 {
		return "No history yet."
	}
	lines := make([]string, 0, len(attempts))
	for i, a := range attempts {
		status := "failed"
		if a.Succeeded() {
			status = "created"
			if id := a.OrderID(); id != "" {
				status = "order " + id
			}
		}
		lines = append(lines, fmt.Sprintf("%d. Ad %s price %s amount %d time %s (%s)",
			i+1, a.Ad.ID, formatFloat(a.Ad.Price), a.Amount, a.Timestamp, status))
	}
	return strings.Join(lines, "\n")
}

func settingErrorText(err error) string {
	switch {
	case entity.IsInputError(err):
		return "I didn't understand that: " + err.Error()
	default:
		return "Failed to save the setting; check logs."
	}
}
