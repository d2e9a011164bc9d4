package push

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/minsuk-ha/sentinel/internal/models"
)

// fakeBot fails the first failUntil sends, then succeeds.
type fakeBot struct {
	mu        sync.Mutex
	calls     int
	failUntil int
	err       error
	lastText  string
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.lastText = msg.Text
	}
	if f.calls <= f.failUntil {
		err := f.err
		if err == nil {
			err = errors.New("send failed")
		}
		return tgbotapi.Message{}, err
	}
	return tgbotapi.Message{MessageID: f.calls}, nil
}

func newTestDispatcher(bot botAPI) *Dispatcher {
	d := newWithBot(bot, 42, Config{
		MaxAttempts:    3,
		RetryDelayBase: time.Millisecond,
		RatePerSec:     1000,
	})
	d.sleep = func(time.Duration) {}
	return d
}

func TestSend_SucceedsFirstAttempt(t *testing.T) {
	bot := &fakeBot{}
	d := newTestDispatcher(bot)

	res, err := d.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !res.OK || res.Attempts != 1 {
		t.Errorf("result = %+v, want OK on attempt 1", res)
	}
	if bot.lastText != "hello" {
		t.Errorf("sent text = %q", bot.lastText)
	}
}

func TestSend_RetriesTransientFailures(t *testing.T) {
	bot := &fakeBot{failUntil: 2}
	d := newTestDispatcher(bot)

	res, err := d.Send(context.Background(), "retry me")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
}

func TestSend_ExhaustionReturnsErrDelivery(t *testing.T) {
	bot := &fakeBot{failUntil: 10}
	d := newTestDispatcher(bot)

	res, err := d.Send(context.Background(), "doomed")
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("error = %v, want ErrDelivery", err)
	}
	if res.OK {
		t.Error("result reports OK on failure")
	}
	if bot.calls != 3 {
		t.Errorf("bot calls = %d, want 3 (bounded)", bot.calls)
	}
}

func TestSend_HonorsRateLimitHint(t *testing.T) {
	bot := &fakeBot{
		failUntil: 1,
		err: &tgbotapi.Error{
			Code:               429,
			Message:            "Too Many Requests",
			ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 2},
		},
	}
	d := newTestDispatcher(bot)
	var waited time.Duration
	d.sleep = func(w time.Duration) { waited = w }

	if _, err := d.Send(context.Background(), "throttled"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if waited < 2*time.Second {
		t.Errorf("waited %v, want at least the 2s retry-after hint", waited)
	}
}

func TestSend_ContextCancelStopsRetrying(t *testing.T) {
	bot := &fakeBot{failUntil: 10}
	d := newTestDispatcher(bot)
	ctx, cancel := context.WithCancel(context.Background())
	d.sleep = func(time.Duration) { cancel() }

	_, err := d.Send(ctx, "cancelled")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if bot.calls >= 3 {
		t.Errorf("bot calls = %d, want fewer than max after cancel", bot.calls)
	}
}

func TestFormatAlert(t *testing.T) {
	env := models.IngestEnvelope{
		IdempotencyKey: "SN-KOSPI-LV2-20250820T061200Z",
		Alert: models.Alert{
			InstrumentID: "ΔKOSPI",
			Level:        "LV2",
			DeltaPct:     -2.23,
			Session:      models.SessionDay,
			TriggeredAt:  time.Date(2025, 8, 20, 6, 12, 0, 0, time.UTC),
			Note:         "companion filter passed",
		},
	}
	text := FormatAlert(env, "a1b2c3", "http://hub/jobs/7")

	for _, want := range []string{
		"[Sentinel/LV2]", "ΔKOSPI", "-2.23%", "session=DAY",
		"companion filter passed", "http://hub/jobs/7", "ACK: a1b2c3",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("formatted message missing %q:\n%s", want, text)
		}
	}
}

func TestFormatAlert_Cleared(t *testing.T) {
	env := models.IngestEnvelope{
		Alert: models.Alert{
			InstrumentID: "VIX",
			Level:        models.LevelCleared,
			DeltaPct:     0.4,
			Session:      models.SessionDay,
			TriggeredAt:  time.Now(),
		},
	}
	text := FormatAlert(env, "ack", "")
	if !strings.Contains(text, "[Sentinel/CLEARED]") {
		t.Errorf("cleared alert not labelled:\n%s", text)
	}
	if strings.Contains(text, "job:") {
		t.Errorf("empty job URL should be omitted:\n%s", text)
	}
}
