package notify

import (
	"context"
	"testing"

	"github.com/nebulink/vpnbroker/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recorder struct {
	sent []Message
	err  error
}

func (r *recorder) Send(_ context.Context, msg Message) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func TestFormatKopeks(t *testing.T) {
	assert.Equal(t, "0 ₽", FormatKopeks(0))
	assert.Equal(t, "990 ₽", FormatKopeks(99000))
	assert.Equal(t, "990.50 ₽", FormatKopeks(99050))
	assert.Equal(t, "0.01 ₽", FormatKopeks(1))
}

func TestBusFanout(t *testing.T) {
	rec := &recorder{}
	bus := NewBus(BusParam{
		Log:       zaptest.NewLogger(t),
		Messenger: rec,
		Cfg: config.Config{Admin: config.AdminConfig{
			ChatIDs:        []int64{10, 11},
			AuditChannelID: 99,
		}},
	})
	ctx := context.Background()

	bus.User(ctx, 42, "привет", []Button{Buttonf("Продлить", "extend:%d", 42)})
	require.Len(t, rec.sent, 1)
	assert.Equal(t, int64(42), rec.sent[0].ChatID)
	assert.Equal(t, "extend:42", rec.sent[0].Buttons[0][0].Callback)

	rec.sent = nil
	bus.Admins(ctx, "alert")
	require.Len(t, rec.sent, 3)
	// Audit channel first, then operator chats.
	assert.Equal(t, int64(99), rec.sent[0].ChatID)
}

func TestBusSwallowsDeliveryErrors(t *testing.T) {
	rec := &recorder{err: assert.AnError}
	bus := NewBus(BusParam{
		Log:       zaptest.NewLogger(t),
		Messenger: rec,
		Cfg:       config.Config{Admin: config.AdminConfig{ChatIDs: []int64{10}}},
	})

	// Neither path panics or propagates the transport error.
	bus.User(context.Background(), 42, "text")
	bus.Admins(context.Background(), "text")
	assert.Empty(t, rec.sent)
}
