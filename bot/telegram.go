package bot

import (
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"llm-trading-arena/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - Competition notifications & control
// ═══════════════════════════════════════════════════════════════════════════════
//
// Features:
//   🏁 Session start/finish announcements
//   📊 Round leaderboards
//   🎛️ Control commands (/status, /pause, /resume, /leaderboard)
//
// ═══════════════════════════════════════════════════════════════════════════════

// TelegramBot posts competition events to one chat and accepts control
// commands. It satisfies the scheduler's observer surface.
type TelegramBot struct {
	mu      sync.RWMutex
	api     *tgbotapi.BotAPI
	chatID  int64
	running bool
	stopCh  chan struct{}

	lastRecord *types.RoundRecord
	sessionID  string

	// Control callbacks
	onPause  func()
	onResume func()
	onStatus func() string
}

// NewTelegramBot creates the bot from token and chat id
func NewTelegramBot(token string, chatID int64) (*TelegramBot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token not set")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id not set")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	bot := &TelegramBot{
		api:    api,
		chatID: chatID,
		stopCh: make(chan struct{}),
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")
	return bot, nil
}

// SetControlCallbacks sets pause/resume/status handlers
func (b *TelegramBot) SetControlCallbacks(onPause, onResume func(), onStatus func() string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPause = onPause
	b.onResume = onResume
	b.onStatus = onStatus
}

// Start begins listening for commands
func (b *TelegramBot) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.commandLoop()
	log.Info().Msg("📱 Telegram bot started")
}

// Stop stops the command loop
func (b *TelegramBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	b.running = false
	close(b.stopCh)
	log.Info().Msg("Telegram bot stopped")
}

// ═══════════════════════════════════════════════════════════════════════════════
// OBSERVER EVENTS
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) SessionStarted(sessionID string, symbols, modelIDs []string) {
	b.mu.Lock()
	b.sessionID = sessionID
	b.mu.Unlock()

	msg := fmt.Sprintf(`🏁 *COMPETITION STARTED*
Session: %s
Symbols: %s
Models: %s`,
		sessionID,
		strings.Join(symbols, ", "),
		strings.Join(modelIDs, ", "))
	b.send(msg)
}

func (b *TelegramBot) RoundStarted(round int) {
	// Round starts are log noise at chat granularity.
}

func (b *TelegramBot) RoundCompleted(rec types.RoundRecord) {
	b.mu.Lock()
	copied := rec
	b.lastRecord = &copied
	b.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "✅ *Round %d* (%d orders, %d rejected)\n\n",
		rec.Round, rec.TotalExecuted(), rec.TotalRejected())
	sb.WriteString(formatLeaderboard(rec.Leaderboard))
	b.send(sb.String())
}

func (b *TelegramBot) SessionFinished(sessionID string, final []types.LeaderboardEntry) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🏆 *COMPETITION FINISHED*\nSession: %s\n\n", sessionID)
	sb.WriteString(formatLeaderboard(final))
	if len(final) > 0 {
		fmt.Fprintf(&sb, "\nWinner: *%s* (%+.2f%%)", final[0].Model, final[0].ReturnPct)
	}
	b.send(sb.String())
}

func (b *TelegramBot) SessionError(round int, err error) {
	b.send(fmt.Sprintf("⚠️ Round %d error: %v", round, err))
}

func formatLeaderboard(entries []types.LeaderboardEntry) string {
	medals := []string{"🥇", "🥈", "🥉"}
	var sb strings.Builder
	for i, e := range entries {
		badge := fmt.Sprintf("%d.", e.Rank)
		if i < len(medals) {
			badge = medals[i]
		}
		fmt.Fprintf(&sb, "%s %s  $%.2f (%+.2f%%)  wr %.0f%%\n",
			badge, e.Model, e.TotalValue, e.ReturnPct, e.WinRate*100)
	}
	return sb.String()
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.stopCh:
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.Chat.ID != b.chatID {
				continue
			}
			b.handleCommand(update.Message.Command())
		}
	}
}

func (b *TelegramBot) handleCommand(cmd string) {
	b.mu.RLock()
	onPause, onResume, onStatus := b.onPause, b.onResume, b.onStatus
	last := b.lastRecord
	b.mu.RUnlock()

	switch cmd {
	case "status":
		if onStatus != nil {
			b.send("ℹ️ " + onStatus())
		}
	case "pause":
		if onPause != nil {
			onPause()
			b.send("⏸️ Paused")
		}
	case "resume":
		if onResume != nil {
			onResume()
			b.send("▶️ Resumed")
		}
	case "leaderboard":
		if last == nil {
			b.send("No rounds completed yet")
			return
		}
		b.send(fmt.Sprintf("📊 *Round %d*\n\n%s", last.Round, formatLeaderboard(last.Leaderboard)))
	default:
		b.send("Commands: /status /pause /resume /leaderboard")
	}
}

func (b *TelegramBot) send(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}
