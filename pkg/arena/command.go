package arena

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAction is returned for unknown action names and malformed payloads.
var ErrInvalidAction = errors.New("invalid action")

// Action is the tag of a command variant.
type Action string

const (
	ActionAttack    Action = "attack"
	ActionHarvest   Action = "harvest"
	ActionReinforce Action = "reinforce"
	ActionUnlock    Action = "unlock_tech"
	ActionProtect   Action = "protect"
	ActionPass      Action = "pass"
)

// Alternate names accepted on the wire.
var actionAliases = map[string]Action{
	"purge":   ActionHarvest,
	"fortify": ActionReinforce,
	"mercy":   ActionProtect,
	"tech":    ActionUnlock,
	"unlock":  ActionUnlock,
}

// Command is one of Attack, Harvest, Reinforce, UnlockTech, Protect or Pass.
type Command interface {
	Action() Action
	Envelope() Envelope
	command()
}

type Attack struct {
	Target    SectorID
	Intensity int
}

type Harvest struct {
	Target SectorID
}

type Reinforce struct {
	Target SectorID
}

type UnlockTech struct {
	Tech TechID
}

type Protect struct {
	Target SectorID
}

type Pass struct{}

func (Attack) Action() Action     { return ActionAttack }
func (Harvest) Action() Action    { return ActionHarvest }
func (Reinforce) Action() Action  { return ActionReinforce }
func (UnlockTech) Action() Action { return ActionUnlock }
func (Protect) Action() Action    { return ActionProtect }
func (Pass) Action() Action       { return ActionPass }

func (Attack) command()     {}
func (Harvest) command()    {}
func (Reinforce) command()  {}
func (UnlockTech) command() {}
func (Protect) command()    {}
func (Pass) command()       {}

func (c Attack) Envelope() Envelope {
	return Envelope{Action: string(ActionAttack), TargetSector: c.Target.String(), Intensity: c.Intensity}
}

func (c Harvest) Envelope() Envelope {
	return Envelope{Action: string(ActionHarvest), TargetSector: c.Target.String()}
}

func (c Reinforce) Envelope() Envelope {
	return Envelope{Action: string(ActionReinforce), TargetSector: c.Target.String()}
}

func (c UnlockTech) Envelope() Envelope {
	return Envelope{Action: string(ActionUnlock), TechID: string(c.Tech)}
}

func (c Protect) Envelope() Envelope {
	return Envelope{Action: string(ActionProtect), TargetSector: c.Target.String()}
}

func (Pass) Envelope() Envelope {
	return Envelope{Action: string(ActionPass)}
}

// Envelope is the wire shape of a command.
type Envelope struct {
	Action       string `json:"action"`
	TargetSector string `json:"target_sector,omitempty"`
	Intensity    int    `json:"intensity,omitempty"`
	TechID       string `json:"tech_id,omitempty"`
}

// ParseCommand converts a wire envelope into a typed command. Any failure
// wraps ErrInvalidAction. Game-state preconditions are not checked here.
func ParseCommand(env Envelope) (Command, error) {
	name := strings.ToLower(strings.TrimSpace(env.Action))
	action := Action(name)
	if alias, ok := actionAliases[name]; ok {
		action = alias
	}

	switch action {
	case ActionAttack:
		target, err := parseTarget(env)
		if err != nil {
			return nil, err
		}
		if env.Intensity < 1 {
			return nil, fmt.Errorf("%w: intensity must be at least 1", ErrInvalidAction)
		}
		return Attack{Target: target, Intensity: env.Intensity}, nil
	case ActionHarvest:
		target, err := parseTarget(env)
		if err != nil {
			return nil, err
		}
		return Harvest{Target: target}, nil
	case ActionReinforce:
		target, err := parseTarget(env)
		if err != nil {
			return nil, err
		}
		return Reinforce{Target: target}, nil
	case ActionProtect:
		target, err := parseTarget(env)
		if err != nil {
			return nil, err
		}
		return Protect{Target: target}, nil
	case ActionUnlock:
		if strings.TrimSpace(env.TechID) == "" {
			return nil, fmt.Errorf("%w: tech_id is required", ErrInvalidAction)
		}
		return UnlockTech{Tech: TechID(strings.TrimSpace(env.TechID))}, nil
	case ActionPass:
		return Pass{}, nil
	}
	return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidAction, env.Action)
}

func parseTarget(env Envelope) (SectorID, error) {
	if env.TargetSector == "" {
		return SectorID{}, fmt.Errorf("%w: target_sector is required", ErrInvalidAction)
	}
	id, err := ParseSectorID(env.TargetSector)
	if err != nil {
		return SectorID{}, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	return id, nil
}
