// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/lpf2/pkg/motor"
)

func simMonitor(t *testing.T, kind string) (monitorModel, *session) {
	t.Helper()
	saved := config
	t.Cleanup(func() { config = saved })

	config = DefaultConfig()
	config.Connection.Sim = kind
	config.Poll.Interval = 2 * time.Millisecond
	config.Poll.ReplyDelay = time.Millisecond
	config.Motor.Settle = 5 * time.Millisecond
	config.Motor.MoveTimeout = 10 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)

	sess, err := openSession(ctx)
	require.NoError(t, err)
	t.Cleanup(sess.Close)

	var ctrl *motor.Controller
	if hasMotor(sess.dev.Modes()) {
		ctrl = motor.NewController(sess.dev, config.ControllerConfig())
	}
	return initialMonitorModel(ctx, sess.dev, ctrl, sess.connInfo), sess
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m monitorModel, msg tea.Msg) (monitorModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	mm, ok := next.(monitorModel)
	require.True(t, ok)
	return mm, cmd
}

func TestMonitorSelectModeByDigit(t *testing.T) {
	m, sess := simMonitor(t, "force")
	require.Nil(t, m.ctrl)

	m, cmd := update(t, m, runes("2"))
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	require.Equal(t, 2, sess.dev.SelectedMode())
	require.Equal(t, 2, m.modeList.Index())
	require.Contains(t, m.eventLog[len(m.eventLog)-1].message, "Selected mode 2")

	// no such mode
	_, cmd = update(t, m, runes("9"))
	require.Nil(t, cmd)

	// tab does nothing without a motor
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.Equal(t, focusModeList, m.focus)
}

func TestMonitorRefresh(t *testing.T) {
	m, sess := simMonitor(t, "force")

	require.Eventually(t, func() bool {
		m, _ = update(t, m, monitorTickMsg(time.Now()))
		return m.latest.Valid()
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, 0, m.latest.Mode)
	require.NotZero(t, m.counters.ValidFrames)

	view := m.View()
	require.Contains(t, view, "LPF2 MONITOR")
	require.Contains(t, view, "FORCE")
	require.Contains(t, view, sess.connInfo)
}

func TestMonitorMove(t *testing.T) {
	m, sess := simMonitor(t, "motor")
	require.NotNil(t, m.ctrl)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.Equal(t, focusTarget, m.focus)
	m, _ = update(t, m, runes("1"))
	m, _ = update(t, m, runes("0"))
	require.Equal(t, "10", m.target.Value())

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.True(t, m.moving)
	require.NotNil(t, cmd)
	require.Empty(t, m.target.Value())

	m, _ = update(t, m, cmd())
	require.False(t, m.moving)
	require.Equal(t, motor.PhaseDone, m.motor.Phase)
	require.Equal(t, motor.ModeAbsolutePosition, sess.dev.SelectedMode())
	require.True(t, strings.HasPrefix(m.eventLog[len(m.eventLog)-1].message, "Reached 10"))

	// invalid target is logged, not moved
	m.target.SetValue("north")
	m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Nil(t, cmd)
	require.False(t, m.moving)
	require.True(t, m.eventLog[len(m.eventLog)-1].isError)

	// esc returns to the mode list
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	require.Equal(t, focusModeList, m.focus)
}
