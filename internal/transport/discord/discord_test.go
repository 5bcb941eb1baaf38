package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"devour/internal/commands"
	"devour/internal/purge"
	logx "devour/pkg/logx"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restErr(status, code int) error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: status},
		Message:  &discordgo.APIErrorMessage{Code: code, Message: "x"},
	}
}

func TestMapError(t *testing.T) {
	rl := &discordgo.RateLimitError{RateLimit: &discordgo.RateLimit{
		TooManyRequests: &discordgo.TooManyRequests{RetryAfter: 1500 * time.Millisecond, Bucket: "b1"},
	}}
	got := mapError("delete", rl)
	var prl *purge.RateLimitError
	require.ErrorAs(t, got, &prl)
	assert.Equal(t, 1500*time.Millisecond, prl.RetryAfter)
	assert.Equal(t, "b1", prl.Bucket)

	assert.ErrorIs(t, mapError("delete", restErr(404, codeUnknownMessage)), purge.ErrUnknownMessage)
	assert.ErrorIs(t, mapError("bulk", restErr(400, codeBulkTooOld)), purge.ErrBulkTooOld)

	for _, tc := range []struct {
		status, code int
		reason       string
	}{
		{403, codeMissingAccess, "missing_access"},
		{403, codeMissingPermissions, "missing_permissions"},
		{404, codeUnknownChannel, "unknown_channel"},
		{401, 0, "unauthorized"},
		{400, 50035, "rejected"},
	} {
		var pf *purge.PermanentFailure
		require.ErrorAs(t, mapError("list", restErr(tc.status, tc.code)), &pf, "%d/%d", tc.status, tc.code)
		assert.Equal(t, tc.reason, pf.Reason)
	}

	assert.True(t, purge.IsRetryable(mapError("list", restErr(502, 0))))
	assert.True(t, purge.IsRetryable(mapError("list", errors.New("connection reset by peer"))))

	wrapped := fmt.Errorf("request: %w", context.DeadlineExceeded)
	assert.ErrorIs(t, mapError("list", wrapped), context.DeadlineExceeded)
	assert.NoError(t, mapError("list", nil))
}

func TestSnowflakeCursor(t *testing.T) {
	at := time.Date(2024, 2, 3, 4, 5, 6, 7_000_000, time.UTC)
	id := snowflakeAt(at)
	assert.True(t, CreatedAt(id).Equal(at), "round trip %s", CreatedAt(id))
	assert.Less(t, id, snowflakeAt(at.Add(time.Millisecond)))
	assert.Equal(t, "", snowflakeAt(time.Unix(0, 0)))
	assert.True(t, CreatedAt("not-a-number").IsZero())
}

func TestSnowflakeCursorRoundsUpPartialMillisecond(t *testing.T) {
	ms := time.UnixMilli(1_700_000_000_000)
	cutoff := ms.Add(500 * time.Microsecond)

	msg, err := strconv.ParseUint(snowflakeAt(ms), 10, 64)
	require.NoError(t, err)
	msg |= 1<<22 - 1 // last id minted in that millisecond
	cursor, err := strconv.ParseUint(snowflakeAt(cutoff), 10, 64)
	require.NoError(t, err)

	assert.Less(t, msg, cursor)
	assert.Equal(t, snowflakeAt(ms.Add(time.Millisecond)), snowflakeAt(cutoff))
}

func TestInvocationFromInteraction(t *testing.T) {
	perms := int64(discordgo.PermissionManageMessages | discordgo.PermissionViewChannel)
	ic := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   "g1",
		ChannelID: "c1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "175928847299117063", Username: "ana"}, Permissions: perms},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "consume",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "amount", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(12)},
				{Name: "period", Type: discordgo.ApplicationCommandOptionString, Value: "hours"},
			},
		},
	}}

	inv, ok := invocation(ic)
	require.True(t, ok)
	assert.Equal(t, commands.Consume, inv.Command)
	assert.Equal(t, "g1", inv.GuildID)
	assert.Equal(t, "c1", inv.ChannelID)
	assert.True(t, inv.CanManage)
	assert.EqualValues(t, 12, inv.Amount)
	assert.Equal(t, "hours", inv.Unit)
	assert.Equal(t, "ana", inv.Caller.Name)
	assert.Equal(t, 2016, inv.Caller.CreatedAt.Year())

	ic.Member.Permissions = int64(discordgo.PermissionViewChannel)
	inv, _ = invocation(ic)
	assert.False(t, inv.CanManage)
}

func TestInvocationResolvesUserOption(t *testing.T) {
	ic := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		User: &discordgo.User{ID: "1", Username: "dm-user"},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "age",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "175928847299117063"},
			},
			Resolved: &discordgo.ApplicationCommandInteractionDataResolved{
				Users: map[string]*discordgo.User{"175928847299117063": {ID: "175928847299117063", Username: "bo", GlobalName: "Bo"}},
			},
		},
	}}
	inv, ok := invocation(ic)
	require.True(t, ok)
	assert.False(t, inv.CanManage)
	assert.Equal(t, "dm-user", inv.Caller.Name)
	require.NotNil(t, inv.Target)
	assert.Equal(t, "Bo", inv.Target.Name)
	assert.False(t, inv.Target.CreatedAt.IsZero())

	_, ok = invocation(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{Type: discordgo.InteractionPing}})
	assert.False(t, ok)
}

func TestApplicationCommands(t *testing.T) {
	acs := applicationCommands(commands.Definitions())
	require.Len(t, acs, 4)

	consume := acs[0]
	assert.Equal(t, "consume", consume.Name)
	require.NotNil(t, consume.DefaultMemberPermissions)
	assert.Equal(t, int64(discordgo.PermissionManageMessages), *consume.DefaultMemberPermissions)
	require.Len(t, consume.Options, 2)
	assert.Equal(t, discordgo.ApplicationCommandOptionInteger, consume.Options[0].Type)
	require.NotNil(t, consume.Options[0].MinValue)
	assert.Equal(t, 1.0, *consume.Options[0].MinValue)
	assert.Len(t, consume.Options[1].Choices, 4)

	age := acs[3]
	assert.Nil(t, age.DefaultMemberPermissions)
	assert.Nil(t, age.DMPermission)
	assert.Equal(t, discordgo.ApplicationCommandOptionUser, age.Options[0].Type)
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{}, logx.Nop())
	assert.Error(t, err)

	c, err := New(Config{Token: "abc"}, logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, "Bot abc", c.Session().Token)
	assert.False(t, c.Session().ShouldRetryOnRateLimit)
}
