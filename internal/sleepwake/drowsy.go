package sleepwake

import (
	"context"

	"github.com/gaia-project/gaia-core/internal/types"
)

// enterDrowsy moves ACTIVE -> DROWSY and kicks off the cancellable
// checkpoint write in the background.
func (m *Manager) enterDrowsy() {
	m.mu.Lock()
	m.pendingWake = false
	m.mu.Unlock()

	m.setState(types.StateDrowsy)
	go m.produceCheckpointAndSleep()
}

// produceCheckpointAndSleep builds and writes the checkpoint that will
// let a later wake's fast path resume context. It checks the
// pending-wake flag before and after the write and, if set, returns to
// ACTIVE instead of ASLEEP. A wake seen before the write abandons the
// checkpoint with no `current` update; one seen after it leaves the
// written checkpoint in place.
func (m *Manager) produceCheckpointAndSleep() {
	ctx := context.Background()

	var text string
	var err error
	if m.producer != nil {
		text, err = m.producer.Produce(ctx)
	}

	if m.consumePendingWake() {
		m.setState(types.StateActive)
		return
	}

	if err != nil {
		m.logger.Warn().Err(err).Msg("checkpoint production failed, returning to active")
		m.setState(types.StateActive)
		return
	}

	if m.checkpoints != nil {
		if werr := m.checkpoints.Write(m.checkpointKey, text); werr != nil {
			m.logger.Warn().Err(werr).Msg("checkpoint write failed, returning to active")
			m.setState(types.StateActive)
			return
		}
	}

	if m.consumePendingWake() {
		m.setState(types.StateActive)
		return
	}

	m.setState(types.StateAsleep)
}

func (m *Manager) consumePendingWake() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := m.pendingWake
	m.pendingWake = false
	return pending
}
