// Package commands implements the chat commands independent of the chat
// platform. Transports translate platform interactions into an Invocation and
// render the Reply.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"devour/internal/retention"
	"devour/internal/sweep"
	logx "devour/pkg/logx"
)

//go:generate mockgen -destination=mocks/mock_policies.go -package=mocks devour/internal/commands Policies,StatusSource

// Policies is the policy write path (retention.Manager).
type Policies interface {
	Configure(ctx context.Context, req retention.ConfigureRequest) (retention.Policy, error)
	Remove(ctx context.Context, channelID, actorID string) (bool, error)
	Get(ctx context.Context, channelID string) (retention.Policy, bool, error)
}

// StatusSource reports the sweep state of a channel (sweep.Scheduler).
type StatusSource interface {
	ChannelStatus(channelID string) (sweep.ChannelStatus, bool)
}

const (
	Consume   = "consume"
	Release   = "release"
	Retention = "retention"
	Age       = "age"
)

var ErrUnknownCommand = errors.New("unknown command")

type User struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Invocation is one parsed command call.
type Invocation struct {
	Command   string
	GuildID   string
	ChannelID string
	Caller    User

	// CanManage is true when the caller may manage messages in the channel.
	CanManage bool

	Amount int64  // consume; 0 when the option was omitted
	Unit   string // consume; empty means the default
	Target *User  // age; nil means the caller
}

type Reply struct {
	Text      string
	Ephemeral bool
}

type Handler struct {
	policies Policies
	status   StatusSource
	log      logx.Logger
	now      func() time.Time
}

func New(policies Policies, status StatusSource, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{policies: policies, status: status, log: log, now: time.Now}
}

// Handle runs inv and returns the text to show. Errors are rendered into the
// reply; only ErrUnknownCommand is returned.
func (h *Handler) Handle(ctx context.Context, inv Invocation) (Reply, error) {
	var (
		r   Reply
		err error
	)
	switch inv.Command {
	case Consume:
		r, err = h.guarded(ctx, inv, h.consume)
	case Release:
		r, err = h.guarded(ctx, inv, h.release)
	case Retention:
		r, err = h.retention(ctx, inv)
	case Age:
		r = h.age(inv)
	default:
		return Reply{}, fmt.Errorf("%w: %q", ErrUnknownCommand, inv.Command)
	}
	if err != nil {
		return h.failure(inv, err), nil
	}
	return r, nil
}

func (h *Handler) guarded(ctx context.Context, inv Invocation, fn func(context.Context, Invocation) (Reply, error)) (Reply, error) {
	if strings.TrimSpace(inv.GuildID) == "" {
		return Reply{Text: "This command only works in a server channel.", Ephemeral: true}, nil
	}
	if !inv.CanManage {
		return Reply{Text: "You need the Manage Messages permission to do that.", Ephemeral: true}, nil
	}
	return fn(ctx, inv)
}

func (h *Handler) consume(ctx context.Context, inv Invocation) (Reply, error) {
	amount := inv.Amount
	if amount == 0 {
		amount = retention.DefaultAmount
	}
	p, err := h.policies.Configure(ctx, retention.ConfigureRequest{
		GuildID:   inv.GuildID,
		ChannelID: inv.ChannelID,
		Amount:    amount,
		Unit:      inv.Unit,
		ActorID:   inv.Caller.ID,
	})
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("Set up to devour messages older than %s in this channel.", retention.FormatDuration(p.InactiveAfter))}, nil
}

func (h *Handler) release(ctx context.Context, inv Invocation) (Reply, error) {
	removed, err := h.policies.Remove(ctx, inv.ChannelID, inv.Caller.ID)
	if err != nil {
		return Reply{}, err
	}
	if !removed {
		return Reply{Text: "This channel has no retention policy.", Ephemeral: true}, nil
	}
	return Reply{Text: "Messages in this channel will no longer be devoured."}, nil
}

func (h *Handler) retention(ctx context.Context, inv Invocation) (Reply, error) {
	p, ok, err := h.policies.Get(ctx, inv.ChannelID)
	if err != nil {
		return Reply{}, err
	}
	if !ok {
		return Reply{Text: "This channel has no retention policy. Use /consume to set one.", Ephemeral: true}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Messages older than %s are devoured.\n", retention.FormatDuration(p.InactiveAfter))
	if p.LastSweptAt != nil {
		fmt.Fprintf(&b, "Last sweep: %s (%s ago).", p.LastSweptAt.UTC().Format(time.RFC1123), ago(h.now().Sub(*p.LastSweptAt)))
	} else {
		b.WriteString("Not swept yet.")
	}
	if h.status != nil {
		if st, ok := h.status.ChannelStatus(inv.ChannelID); ok {
			switch st.State {
			case sweep.Sweeping:
				b.WriteString("\nA sweep is running now.")
			case sweep.Failed:
				fmt.Fprintf(&b, "\nLast sweep failed (%s, %d in a row); it is retried on the next tick.", st.FailureName, st.Attempt)
			}
		}
	}
	return Reply{Text: b.String(), Ephemeral: true}, nil
}

func (h *Handler) age(inv Invocation) Reply {
	u := inv.Caller
	if inv.Target != nil {
		u = *inv.Target
	}
	if u.CreatedAt.IsZero() {
		return Reply{Text: "Could not determine the account creation date.", Ephemeral: true}
	}
	return Reply{Text: fmt.Sprintf("%s's account was created at %s (%s ago).", u.Name, u.CreatedAt.UTC().Format(time.RFC1123), ago(h.now().Sub(u.CreatedAt)))}
}

func (h *Handler) failure(inv Invocation, err error) Reply {
	var ve *retention.ValidationError
	if errors.As(err, &ve) {
		return Reply{Text: "Invalid " + ve.Field + ": " + ve.Reason + ".", Ephemeral: true}
	}
	h.log.Error("command failed",
		logx.String("command", inv.Command),
		logx.String("guild", inv.GuildID),
		logx.String("channel", inv.ChannelID),
		logx.Err(err),
	)
	return Reply{Text: "Something went wrong, please try again later.", Ephemeral: true}
}

// ago renders d coarsely, e.g. "3 days" or "5 minutes".
func ago(d time.Duration) string {
	if d < time.Minute {
		return "less than a minute"
	}
	return retention.FormatDuration(d.Truncate(unitFor(d)))
}

func unitFor(d time.Duration) time.Duration {
	switch {
	case d >= 24*time.Hour:
		return 24 * time.Hour
	case d >= time.Hour:
		return time.Hour
	}
	return time.Minute
}
