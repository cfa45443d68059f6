package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

func TestApply(t *testing.T) {
	t.Run("mode selection shows card and clears context", func(t *testing.T) {
		s := State{
			ImageDesc:     Slot{Value: "a cat", ExpiresAt: t0.Add(time.Minute)},
			Clarification: Slot{Value: "write copy", ExpiresAt: t0.Add(time.Minute)},
			PendingText:   Slot{Value: "held text", ExpiresAt: t0.Add(time.Minute)},
		}
		next, action := Apply(s, ModeSelected(ModeImage), t0, DefaultTTL)

		assert.Equal(t, ActionShowModeCard, action)
		v := next.View(t0)
		assert.Equal(t, ModeImage, v.Mode)
		assert.Empty(t, v.ImageDesc)
		assert.Empty(t, v.Clarification)
		assert.Equal(t, "held text", v.PendingText)
	})

	t.Run("unknown mode leaves state untouched", func(t *testing.T) {
		s := State{Mode: ModeBasic, ModeExpiresAt: t0.Add(time.Minute)}
		next, action := Apply(s, ModeSelected(Mode("MENU_UNKNOWN")), t0, DefaultTTL)

		assert.Equal(t, ActionRejectUnknownMode, action)
		assert.Equal(t, ModeBasic, next.View(t0).Mode)
	})

	t.Run("input is not mutated", func(t *testing.T) {
		s := State{Mode: ModeBasic, ModeExpiresAt: t0.Add(time.Minute)}
		_, _ = Apply(s, ClarificationRequested("draft", ""), t0, DefaultTTL)
		assert.Empty(t, s.Clarification.Value)
	})

	t.Run("clarification round trip", func(t *testing.T) {
		s, _ := Apply(State{}, ModeSelected(ModeBasic), t0, DefaultTTL)
		s, _ = Apply(s, ClarificationRequested("写个文案", "system"), t0, DefaultTTL)
		v := s.View(t0.Add(time.Minute))
		assert.Equal(t, "写个文案", v.Clarification)
		assert.Equal(t, "system", v.ClarificationKind)

		s, _ = Apply(s, ClarificationAnswered(), t0.Add(time.Minute), DefaultTTL)
		v = s.View(t0.Add(time.Minute))
		assert.Empty(t, v.Clarification)
		assert.Empty(t, v.ClarificationKind)
	})

	t.Run("clarification kind expires with the prompt", func(t *testing.T) {
		s, _ := Apply(State{}, ClarificationRequested("写个文案", "system"), t0, DefaultTTL)
		assert.Empty(t, s.View(t0.Add(DefaultTTL)).ClarificationKind)
		assert.True(t, s.Expired(t0.Add(DefaultTTL)))
	})

	t.Run("last result is kept until the mode changes", func(t *testing.T) {
		s, _ := Apply(State{}, ModeSelected(ModeBasic), t0, DefaultTTL)
		s, _ = Apply(s, ResultProduced("优化后的提示词"), t0, DefaultTTL)
		assert.Equal(t, "优化后的提示词", s.View(t0.Add(time.Minute)).LastResult)

		s, _ = Apply(s, ModeSelected(ModeBasic), t0.Add(time.Minute), DefaultTTL)
		assert.Empty(t, s.View(t0.Add(time.Minute)).LastResult)
	})

	t.Run("empty payload stores nothing", func(t *testing.T) {
		s, _ := Apply(State{}, PendingTextHeld(""), t0, DefaultTTL)
		assert.Equal(t, Slot{}, s.PendingText)
	})
}

func TestModeExpiry(t *testing.T) {
	fresh, freshAction := Apply(State{}, MessageSeen(), t0, DefaultTTL)

	selected, _ := Apply(State{}, ModeSelected(ModeReport), t0, DefaultTTL)
	later := t0.Add(DefaultTTL)
	expired, expiredAction := Apply(selected, MessageSeen(), later, DefaultTTL)

	assert.Equal(t, ActionPromptModeSelection, freshAction)
	assert.Equal(t, freshAction, expiredAction)
	assert.Equal(t, fresh.View(later), expired.View(later))
	assert.False(t, expired.View(later).HasMode())
}

func TestMessageSeenRefreshesMode(t *testing.T) {
	s, _ := Apply(State{}, ModeSelected(ModeBasic), t0, DefaultTTL)
	s, action := Apply(s, MessageSeen(), t0.Add(9*time.Minute), DefaultTTL)
	require.Equal(t, ActionNone, action)

	assert.Equal(t, ModeBasic, s.View(t0.Add(18*time.Minute)).Mode)
	assert.False(t, s.View(t0.Add(19*time.Minute)).HasMode())
}

func TestSlotsExpireIndependently(t *testing.T) {
	s, _ := Apply(State{}, ModeSelected(ModeImage), t0, DefaultTTL)
	s, _ = Apply(s, ImageAnalyzed("desc"), t0.Add(5*time.Minute), DefaultTTL)

	at := t0.Add(12 * time.Minute)
	v := s.View(at)
	assert.False(t, v.HasMode())
	assert.Equal(t, "desc", v.ImageDesc)
	assert.False(t, s.Expired(at))
	assert.True(t, s.Expired(t0.Add(15*time.Minute)))
}

func TestManagerDispatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := t0
	m := NewManager(store, DefaultTTL, zap.NewNop()).WithClock(func() time.Time { return now })

	v, action := m.Dispatch(ctx, "u1", ModeSelected(ModeBasic))
	assert.Equal(t, ActionShowModeCard, action)
	assert.Equal(t, ModeBasic, v.Mode)
	assert.Equal(t, 1, store.Len())

	now = now.Add(DefaultTTL + time.Second)
	assert.False(t, m.View(ctx, "u1").HasMode())

	_, action = m.Dispatch(ctx, "u1", MessageSeen())
	assert.Equal(t, ActionPromptModeSelection, action)
	assert.Equal(t, 0, store.Len())
}

func TestSweep(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	live, _ := Apply(State{}, ModeSelected(ModeBasic), t0, DefaultTTL)
	require.NoError(t, store.Save(ctx, "live", live))
	require.NoError(t, store.Save(ctx, "dead", State{Mode: ModeBasic, ModeExpiresAt: t0}))

	assert.Equal(t, 1, store.Sweep(t0.Add(time.Minute)))
	_, ok, _ := store.Load(ctx, "live")
	assert.True(t, ok)
}

func TestSweeperStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := NewMemoryStore().StartSweeper(ctx, time.Millisecond, zap.NewNop())
	time.Sleep(5 * time.Millisecond)
	cancel()
	<-done
}
