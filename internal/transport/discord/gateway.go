package discord

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"devour/internal/commands"
	rtsup "devour/internal/runtime/supervisor"
	logx "devour/pkg/logx"

	"github.com/bwmarrin/discordgo"
)

// interactionBudget keeps command handling inside Discord's 3s reply window.
const interactionBudget = 2500 * time.Millisecond

type CommandHandler interface {
	Handle(ctx context.Context, inv commands.Invocation) (commands.Reply, error)
}

// Gateway owns the websocket session: it registers slash commands on ready
// and dispatches interactions to the command handler.
type Gateway struct {
	c       *Client
	handler CommandHandler
	log     logx.Logger

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	remove  []func()

	connected  atomic.Bool
	registered atomic.Bool
}

func NewGateway(c *Client, handler CommandHandler, log logx.Logger) *Gateway {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gateway{c: c, handler: handler, log: log}
}

// Ready reports whether the gateway is connected.
func (g *Gateway) Ready() bool { return g.connected.Load() }

func (g *Gateway) Start(ctx context.Context) error {
	g.runMu.Lock()
	defer g.runMu.Unlock()
	if g.running {
		return nil
	}
	s := g.c.s
	g.remove = []func(){
		s.AddHandler(g.onReady),
		s.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
			g.connected.Store(false)
			g.log.Warn("gateway disconnected")
		}),
		s.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
			g.connected.Store(true)
			g.log.Info("gateway resumed")
		}),
		s.AddHandler(g.onInteraction),
	}
	if err := s.Open(); err != nil {
		g.removeHandlers()
		return err
	}
	g.running = true
	g.sup = rtsup.New(ctx,
		rtsup.WithLogger(g.log.With(logx.String("comp", "discord.gateway"))),
		rtsup.WithCancelOnError(false),
	)
	sup := g.sup
	sup.Go0("gateway.close_on_cancel", func(c context.Context) {
		<-c.Done()
		g.close()
	})
	return nil
}

func (g *Gateway) Stop(ctx context.Context) error {
	g.runMu.Lock()
	sup := g.sup
	g.sup = nil
	wasRunning := g.running
	g.running = false
	g.runMu.Unlock()
	if !wasRunning {
		return nil
	}
	if sup != nil {
		sup.Cancel()
		if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
			g.log.Warn("gateway stop timed out", logx.Err(err))
		}
	}
	return nil
}

func (g *Gateway) close() {
	g.runMu.Lock()
	g.removeHandlers()
	g.runMu.Unlock()
	g.connected.Store(false)
	if err := g.c.s.Close(); err != nil {
		g.log.Debug("gateway close", logx.Err(err))
	}
	g.log.Info("gateway closed")
}

func (g *Gateway) removeHandlers() {
	for _, rm := range g.remove {
		rm()
	}
	g.remove = nil
}

func (g *Gateway) onReady(s *discordgo.Session, r *discordgo.Ready) {
	g.connected.Store(true)
	g.log.Info("gateway ready", logx.String("user", r.User.Username), logx.Int("guilds", len(r.Guilds)))
	if !g.c.cfg.RegisterCommands || g.registered.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.c.cfg.RequestTimeout)
	defer cancel()
	cmds, err := s.ApplicationCommandBulkOverwrite(r.User.ID, g.c.cfg.GuildID, applicationCommands(commands.Definitions()), discordgo.WithContext(ctx))
	if err != nil {
		g.log.Error("register commands failed", logx.String("guild", g.c.cfg.GuildID), logx.Err(err))
		return
	}
	g.registered.Store(true)
	scope := "global"
	if g.c.cfg.GuildID != "" {
		scope = "guild"
	}
	g.log.Info("commands registered", logx.Int("count", len(cmds)), logx.String("scope", scope))
}

func (g *Gateway) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	inv, ok := invocation(i)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), interactionBudget)
	defer cancel()

	start := time.Now()
	reply, err := g.handler.Handle(ctx, inv)
	if err != nil {
		g.log.Warn("interaction not handled", logx.String("command", inv.Command), logx.Err(err))
		reply = commands.Reply{Text: "Unknown command.", Ephemeral: true}
	}
	data := &discordgo.InteractionResponseData{
		Content:         truncate(reply.Text, messageLimit),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if reply.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}); err != nil {
		g.log.Warn("interaction respond failed", logx.String("command", inv.Command), logx.Err(err))
		return
	}
	g.log.Debug("interaction handled",
		logx.String("command", inv.Command),
		logx.String("guild", inv.GuildID),
		logx.String("channel", inv.ChannelID),
		logx.String("user", inv.Caller.ID),
		logx.Duration("dur", time.Since(start)),
	)
}

// invocation translates an application command interaction.
func invocation(i *discordgo.InteractionCreate) (commands.Invocation, bool) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionApplicationCommand {
		return commands.Invocation{}, false
	}
	data := i.ApplicationCommandData()
	inv := commands.Invocation{
		Command:   data.Name,
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
	}
	switch {
	case i.Member != nil && i.Member.User != nil:
		inv.Caller = user(i.Member.User)
		inv.CanManage = i.Member.Permissions&int64(discordgo.PermissionManageMessages) != 0
	case i.User != nil:
		inv.Caller = user(i.User)
	}
	for _, o := range data.Options {
		if o == nil {
			continue
		}
		switch o.Name {
		case "amount":
			if o.Type == discordgo.ApplicationCommandOptionInteger {
				inv.Amount = o.IntValue()
			}
		case "period":
			if o.Type == discordgo.ApplicationCommandOptionString {
				inv.Unit = o.StringValue()
			}
		case "user":
			id, _ := o.Value.(string)
			if id == "" {
				continue
			}
			u := commands.User{ID: id, Name: id, CreatedAt: CreatedAt(id)}
			if data.Resolved != nil {
				if ru, ok := data.Resolved.Users[id]; ok && ru != nil {
					u = user(ru)
				}
			}
			inv.Target = &u
		}
	}
	return inv, true
}

func user(u *discordgo.User) commands.User {
	name := u.GlobalName
	if name == "" {
		name = u.Username
	}
	return commands.User{ID: u.ID, Name: name, CreatedAt: CreatedAt(u.ID)}
}

// applicationCommands renders command definitions for registration.
func applicationCommands(defs []commands.Definition) []*discordgo.ApplicationCommand {
	manage := int64(discordgo.PermissionManageMessages)
	noDM := false
	out := make([]*discordgo.ApplicationCommand, 0, len(defs))
	for _, d := range defs {
		ac := &discordgo.ApplicationCommand{Name: d.Name, Description: d.Description}
		if d.RequiresManage {
			ac.DefaultMemberPermissions = &manage
		}
		if d.GuildOnly {
			ac.DMPermission = &noDM
		}
		for _, o := range d.Options {
			opt := &discordgo.ApplicationCommandOption{Name: o.Name, Description: o.Description, Required: o.Required}
			switch o.Kind {
			case commands.OptionInteger:
				opt.Type = discordgo.ApplicationCommandOptionInteger
				if o.Min > 0 {
					m := float64(o.Min)
					opt.MinValue = &m
				}
			case commands.OptionString:
				opt.Type = discordgo.ApplicationCommandOptionString
			case commands.OptionUser:
				opt.Type = discordgo.ApplicationCommandOptionUser
			}
			for _, c := range o.Choices {
				opt.Choices = append(opt.Choices, &discordgo.ApplicationCommandOptionChoice{Name: c, Value: c})
			}
			ac.Options = append(ac.Options, opt)
		}
		out = append(out, ac)
	}
	return out
}
