package commands_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"devour/internal/commands"
	"devour/internal/commands/mocks"
	"devour/internal/retention"
	"devour/internal/sweep"
	logx "devour/pkg/logx"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func newHandler(t *testing.T) (*commands.Handler, *mocks.MockPolicies, *mocks.MockStatusSource) {
	ctrl := gomock.NewController(t)
	p := mocks.NewMockPolicies(ctrl)
	st := mocks.NewMockStatusSource(ctrl)
	h := commands.New(p, st, logx.Nop())
	h.SetNow(func() time.Time { return now })
	return h, p, st
}

func manager(cmd string) commands.Invocation {
	return commands.Invocation{
		Command:   cmd,
		GuildID:   "g1",
		ChannelID: "c1",
		Caller:    commands.User{ID: "u1", Name: "ana"},
		CanManage: true,
	}
}

func TestConsumeUsesDefaults(t *testing.T) {
	h, p, _ := newHandler(t)
	p.EXPECT().Configure(gomock.Any(), retention.ConfigureRequest{GuildID: "g1", ChannelID: "c1", Amount: retention.DefaultAmount, ActorID: "u1"}).
		Return(retention.Policy{ChannelID: "c1", InactiveAfter: 30 * 24 * time.Hour}, nil)

	r, err := h.Handle(context.Background(), manager(commands.Consume))
	require.NoError(t, err)
	assert.Equal(t, "Set up to devour messages older than 30 days in this channel.", r.Text)
	assert.False(t, r.Ephemeral)
}

func TestConsumePassesAmountAndUnit(t *testing.T) {
	h, p, _ := newHandler(t)
	inv := manager(commands.Consume)
	inv.Amount, inv.Unit = 90, "minutes"
	p.EXPECT().Configure(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req retention.ConfigureRequest) (retention.Policy, error) {
			assert.EqualValues(t, 90, req.Amount)
			assert.Equal(t, "minutes", req.Unit)
			return retention.Policy{InactiveAfter: 90 * time.Minute}, nil
		})

	r, err := h.Handle(context.Background(), inv)
	require.NoError(t, err)
	assert.Contains(t, r.Text, "90 minutes")
}

func TestConsumeValidationErrorIsShown(t *testing.T) {
	h, p, _ := newHandler(t)
	p.EXPECT().Configure(gomock.Any(), gomock.Any()).
		Return(retention.Policy{}, &retention.ValidationError{Field: "amount", Reason: "too large"})

	r, err := h.Handle(context.Background(), manager(commands.Consume))
	require.NoError(t, err)
	assert.Equal(t, "Invalid amount: too large.", r.Text)
	assert.True(t, r.Ephemeral)
}

func TestStoreErrorsAreHidden(t *testing.T) {
	h, p, _ := newHandler(t)
	p.EXPECT().Remove(gomock.Any(), "c1", "u1").Return(false, errors.New("dial tcp: connection refused"))

	r, err := h.Handle(context.Background(), manager(commands.Release))
	require.NoError(t, err)
	assert.NotContains(t, r.Text, "dial tcp")
	assert.True(t, r.Ephemeral)
}

func TestManagementRequiresPermission(t *testing.T) {
	h, _, _ := newHandler(t)
	for _, cmd := range []string{commands.Consume, commands.Release} {
		inv := manager(cmd)
		inv.CanManage = false
		r, err := h.Handle(context.Background(), inv)
		require.NoError(t, err)
		assert.Contains(t, r.Text, "Manage Messages", cmd)
	}

	inv := manager(commands.Consume)
	inv.GuildID = ""
	r, err := h.Handle(context.Background(), inv)
	require.NoError(t, err)
	assert.Contains(t, r.Text, "server channel")
}

func TestRelease(t *testing.T) {
	h, p, _ := newHandler(t)
	gomock.InOrder(
		p.EXPECT().Remove(gomock.Any(), "c1", "u1").Return(true, nil),
		p.EXPECT().Remove(gomock.Any(), "c1", "u1").Return(false, nil),
	)

	r, err := h.Handle(context.Background(), manager(commands.Release))
	require.NoError(t, err)
	assert.Contains(t, r.Text, "no longer")

	r, err = h.Handle(context.Background(), manager(commands.Release))
	require.NoError(t, err)
	assert.Contains(t, r.Text, "no retention policy")
}

func TestRetentionShowsPolicyAndState(t *testing.T) {
	h, p, st := newHandler(t)
	swept := now.Add(-3 * time.Hour)
	p.EXPECT().Get(gomock.Any(), "c1").Return(retention.Policy{InactiveAfter: 7 * 24 * time.Hour, LastSweptAt: &swept}, true, nil)
	st.EXPECT().ChannelStatus("c1").Return(sweep.ChannelStatus{State: sweep.Failed, FailureName: "retryable", Attempt: 2}, true)

	inv := manager(commands.Retention)
	inv.CanManage = false
	r, err := h.Handle(context.Background(), inv)
	require.NoError(t, err)
	assert.Contains(t, r.Text, "older than 7 days")
	assert.Contains(t, r.Text, "3 hours ago")
	assert.Contains(t, r.Text, "retryable, 2 in a row")
}

func TestRetentionWithoutPolicy(t *testing.T) {
	h, p, _ := newHandler(t)
	p.EXPECT().Get(gomock.Any(), "c1").Return(retention.Policy{}, false, nil)

	r, err := h.Handle(context.Background(), manager(commands.Retention))
	require.NoError(t, err)
	assert.Contains(t, r.Text, "/consume")
}

func TestAge(t *testing.T) {
	h, _, _ := newHandler(t)
	inv := commands.Invocation{Command: commands.Age, Caller: commands.User{ID: "u1", Name: "ana", CreatedAt: now.Add(-48 * time.Hour)}}

	r, err := h.Handle(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, "ana's account was created at Wed, 08 May 2024 12:00:00 UTC (2 days ago).", r.Text)

	inv.Target = &commands.User{ID: "u2", Name: "bo", CreatedAt: now.Add(-90 * time.Minute)}
	r, err = h.Handle(context.Background(), inv)
	require.NoError(t, err)
	assert.Contains(t, r.Text, "bo's account")
	assert.Contains(t, r.Text, "(1 hour ago)")
}

func TestUnknownCommand(t *testing.T) {
	h, _, _ := newHandler(t)
	_, err := h.Handle(context.Background(), commands.Invocation{Command: "nope"})
	assert.ErrorIs(t, err, commands.ErrUnknownCommand)
}

func TestDefinitionsCoverHandledCommands(t *testing.T) {
	names := map[string]bool{}
	for _, d := range commands.Definitions() {
		names[d.Name] = true
	}
	assert.Equal(t, map[string]bool{"consume": true, "release": true, "retention": true, "age": true}, names)
}
