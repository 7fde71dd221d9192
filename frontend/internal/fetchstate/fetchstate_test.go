package fetchstate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(m *Machine)
		event   func(m *Machine) error
		want    State
		illegal bool
	}{
		{"idle start", func(m *Machine) {}, (*Machine).Start, Loading, false},
		{"idle succeed", func(m *Machine) {}, (*Machine).Succeed, Idle, true},
		{"idle retry", func(m *Machine) {}, (*Machine).Retry, Idle, true},
		{"loading succeed", func(m *Machine) { m.Start() }, (*Machine).Succeed, Success, false},
		{"loading fail", func(m *Machine) { m.Start() }, func(m *Machine) error { return m.Fail(errors.New("x")) }, Error, false},
		{"loading start", func(m *Machine) { m.Start() }, (*Machine).Start, Loading, true},
		{"error retry", func(m *Machine) { m.Start(); m.Fail(errors.New("x")) }, (*Machine).Retry, Loading, false},
		{"error succeed", func(m *Machine) { m.Start(); m.Fail(errors.New("x")) }, (*Machine).Succeed, Error, true},
		{"success retry", func(m *Machine) { m.Start(); m.Succeed() }, (*Machine).Retry, Success, true},
		{"success start", func(m *Machine) { m.Start(); m.Succeed() }, (*Machine).Start, Success, true},
		{"success fail", func(m *Machine) { m.Start(); m.Succeed() }, func(m *Machine) error { return m.Fail(errors.New("x")) }, Success, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			tt.setup(m)
			err := tt.event(m)
			if tt.illegal {
				var ite *IllegalTransitionError
				require.ErrorAs(t, err, &ite)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, m.State())
		})
	}
}

func TestMachine_Run(t *testing.T) {
	m := New()
	boom := errors.New("boom")

	err := m.Run(func() error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, Error, m.State())
	assert.ErrorIs(t, m.Err(), boom)

	calls := 0
	err = m.Run(func() error {
		calls++
		assert.Equal(t, Loading, m.State())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, Success, m.State())
	assert.NoError(t, m.Err())

	err = m.Run(func() error { t.Fatal("must not run after success"); return nil })
	var ite *IllegalTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, Success, ite.From)
}
