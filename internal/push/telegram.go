// Package push delivers relay messages to the Telegram channel, absorbing
// rate limits with bounded backoff.
package push

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/minsuk-ha/sentinel/internal/logger"
	"github.com/minsuk-ha/sentinel/internal/models"
)

// ErrDelivery marks a send that exhausted its retry budget. The job that
// carried it is recorded as failed, never dropped silently.
var ErrDelivery = errors.New("push delivery failed")

// botAPI is the slice of tgbotapi.BotAPI the dispatcher needs; tests
// substitute a fake.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Config tunes the dispatcher's retry and throttle behavior.
type Config struct {
	MaxAttempts    int
	RetryDelayBase time.Duration
	RatePerSec     float64
}

// Result reports how a send went.
type Result struct {
	OK       bool
	Attempts int
}

// Dispatcher sends messages to a fixed chat with client-side throttling and
// exponential backoff with jitter on rate-limit and server errors.
type Dispatcher struct {
	bot         botAPI
	chatID      int64
	limiter     *rate.Limiter
	maxAttempts int
	delayBase   time.Duration
	sleep       func(time.Duration) // injectable for tests
}

// New connects to the Telegram Bot API and builds a dispatcher.
func New(botToken, chatID string, cfg Config) (*Dispatcher, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}
	return newWithBot(bot, chatIDInt, cfg), nil
}

func newWithBot(bot botAPI, chatID int64, cfg Config) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = 500 * time.Millisecond
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	return &Dispatcher{
		bot:         bot,
		chatID:      chatID,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		maxAttempts: cfg.MaxAttempts,
		delayBase:   cfg.RetryDelayBase,
		sleep:       time.Sleep,
	}
}

// Send delivers text, retrying rate-limit responses with exponential backoff
// plus jitter. The channel's own retry-after hint wins over the computed
// backoff when it is longer.
func (d *Dispatcher) Send(ctx context.Context, text string) (Result, error) {
	msg := tgbotapi.NewMessage(d.chatID, text)

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return Result{Attempts: attempt - 1}, err
		}
		_, err := d.bot.Send(msg)
		if err == nil {
			return Result{OK: true, Attempts: attempt}, nil
		}
		lastErr = err

		if attempt == d.maxAttempts {
			break
		}
		wait := d.backoff(attempt)
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			hinted := time.Duration(apiErr.RetryAfter) * time.Second
			if hinted > wait {
				wait = hinted
			}
		}
		logger.Warn("push attempt %d/%d failed: %v (retrying in %v)", attempt, d.maxAttempts, err, wait)
		select {
		case <-ctx.Done():
			return Result{Attempts: attempt}, ctx.Err()
		default:
			d.sleep(wait)
		}
	}
	return Result{Attempts: d.maxAttempts}, fmt.Errorf("%w after %d attempts: %v", ErrDelivery, d.maxAttempts, lastErr)
}

// backoff is delayBase * 2^(attempt-1) plus up to 50% jitter.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	base := d.delayBase << (attempt - 1)
	return base + time.Duration(rand.Int63n(int64(base)/2+1))
}

// FormatAlert renders one relay job into the channel message.
func FormatAlert(env models.IngestEnvelope, ack, jobURL string) string {
	a := env.Alert
	lines := []string{
		fmt.Sprintf("[Sentinel/%s] %s %+.2f%%", a.Level, a.InstrumentID, a.DeltaPct),
		fmt.Sprintf("session=%s triggered_at=%s", a.Session, a.TriggeredAt.Format(time.RFC3339)),
	}
	if a.Note != "" {
		lines = append(lines, a.Note)
	}
	if jobURL != "" {
		lines = append(lines, "job: "+jobURL)
	}
	lines = append(lines, "ACK: "+ack)
	out := lines[0]
	for _, l := range lines[1:] {
		out += "\n" + l
	}
	return out
}

// SendError notifies the channel about a pipeline error. Call only on the
// first occurrence of a consecutive error sequence.
func (d *Dispatcher) SendError(ctx context.Context, cycleErr error) error {
	_, err := d.Send(ctx, fmt.Sprintf("⚠️ Sentinel error\n%s", cycleErr.Error()))
	return err
}

// SendRecovery notifies the channel after consecutive failures clear.
func (d *Dispatcher) SendRecovery(ctx context.Context, failureCount int) error {
	_, err := d.Send(ctx, fmt.Sprintf("✅ Sentinel recovered after %d consecutive failure(s)", failureCount))
	return err
}
