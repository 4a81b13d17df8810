package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"property-scraper/config"
	"property-scraper/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatRun(t *testing.T) {
	tests := []struct {
		name string
		run  models.Run
		link string
		want string
	}{
		{
			name: "instruments done",
			run: models.Run{ID: "r1", Kind: models.RunKindInstruments, Status: models.RunStatusDone,
				InstrumentTypes: []string{"Deed", "Lien"}, StartDate: "09/01/2025", EndDate: "09/10/2025", TotalRecords: 42},
			link: "http://localhost:8501/",
			want: "✅ Step 1 (instruments) finished\nTypes: Deed, Lien\nDates: 09/01/2025 - 09/10/2025\nRecords: 42\nhttp://localhost:8501/runs/r1",
		},
		{
			name: "addresses done",
			run: models.Run{ID: "r2", Kind: models.RunKindAddresses, Status: models.RunStatusDone,
				TotalRecords: 10, AddressesFound: 7, SuccessRate: 70},
			want: "✅ Step 2 (addresses) finished\nAddresses: 7 of 10 (70.0%)",
		},
		{
			name: "failed",
			run:  models.Run{ID: "r3", Kind: models.RunKindInstruments, Status: models.RunStatusFailed, ErrorMessage: "clerk: login failed"},
			want: "❌ Step 1 (instruments) failed\nError: clerk: login failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatRun(tt.run, tt.link))
		})
	}
}

func TestNew_NotConfigured(t *testing.T) {
	n, err := New(config.TelegramConfig{}, "")
	require.NoError(t, err)
	assert.IsType(t, Nop{}, n)
	assert.NoError(t, n.RunFinished(context.Background(), models.Run{}))
}

func TestTelegram_RunFinished(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []string
		chat []string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"records_bot"}}`)) //nolint:errcheck
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			assert.NoError(t, r.ParseForm())
			mu.Lock()
			sent = append(sent, r.PostForm.Get("text"))
			chat = append(chat, r.PostForm.Get("chat_id"))
			mu.Unlock()
			w.Write([]byte(`{"ok":true,"result":{"message_id":5,"date":0,"chat":{"id":42,"type":"private"}}}`)) //nolint:errcheck
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint("token", srv.URL+"/bot%s/%s")
	require.NoError(t, err)

	n := NewTelegram(bot, 42, "")
	run := models.Run{ID: "r1", Kind: models.RunKindAddresses, Status: models.RunStatusDone, TotalRecords: 2, AddressesFound: 1, SuccessRate: 50}
	require.NoError(t, n.RunFinished(context.Background(), run))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sent, 1)
	assert.Equal(t, "42", chat[0])
	assert.Contains(t, sent[0], "Addresses: 1 of 2 (50.0%)")
}

func TestTelegram_RunFinished_ContextDone(t *testing.T) {
	var (
		mu   sync.Mutex
		sent int
	)
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"records_bot"}}`)) //nolint:errcheck
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			mu.Lock()
			sent++
			mu.Unlock()
			<-release
			w.Write([]byte(`{"ok":true,"result":{"message_id":5,"date":0,"chat":{"id":42,"type":"private"}}}`)) //nolint:errcheck
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	defer close(release)

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint("token", srv.URL+"/bot%s/%s")
	require.NoError(t, err)
	n := NewTelegram(bot, 42, "")
	run := models.Run{ID: "r1", Kind: models.RunKindInstruments, Status: models.RunStatusDone}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err = n.RunFinished(cancelled, run)
	assert.ErrorIs(t, err, context.Canceled)
	mu.Lock()
	assert.Zero(t, sent)
	mu.Unlock()

	// A send that outlives ctx returns once ctx expires.
	slow, cancelSlow := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelSlow()
	err = n.RunFinished(slow, run)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
