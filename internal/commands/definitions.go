package commands

import "devour/internal/retention"

type OptionKind int

const (
	OptionInteger OptionKind = iota
	OptionString
	OptionUser
)

type Option struct {
	Name        string
	Description string
	Kind        OptionKind
	Required    bool
	Min         int64
	Choices     []string
}

// Definition describes a command for registration with the platform.
type Definition struct {
	Name        string
	Description string
	Options     []Option

	// RequiresManage hides the command from members without the Manage
	// Messages permission. Handle checks it again.
	RequiresManage bool
	GuildOnly      bool
}

// Definitions lists every command in registration order.
func Definitions() []Definition {
	units := make([]string, 0, len(retention.Units))
	for _, u := range retention.Units {
		units = append(units, string(u))
	}
	return []Definition{
		{
			Name:        Consume,
			Description: "Delete messages in this channel once they are older than a threshold",
			Options: []Option{
				{Name: "amount", Description: "How many periods to keep messages (default 30)", Kind: OptionInteger, Min: 1},
				{Name: "period", Description: "Period unit (default days)", Kind: OptionString, Choices: units},
			},
			RequiresManage: true,
			GuildOnly:      true,
		},
		{
			Name:           Release,
			Description:    "Stop deleting old messages in this channel",
			RequiresManage: true,
			GuildOnly:      true,
		},
		{
			Name:        Retention,
			Description: "Show this channel's retention policy and sweep state",
			GuildOnly:   true,
		},
		{
			Name:        Age,
			Description: "Displays your or another user's account creation date",
			Options: []Option{
				{Name: "user", Description: "Selected user", Kind: OptionUser},
			},
		},
	}
}
