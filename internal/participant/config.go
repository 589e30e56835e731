package participant

import (
	"arena-sync/internal/config"
	"arena-sync/internal/sim"
)

// FromSettings maps environment settings onto a participant Config.
func FromSettings(s config.Participant) (Config, error) {
	policy, err := s.Policy()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ID:              s.ID,
		Arena:           sim.Arena{Width: s.Width, Height: s.Height},
		Spawn:           sim.Vec{X: s.SpawnX, Y: s.SpawnY},
		Radius:          s.Radius,
		Speed:           s.Speed,
		Color:           s.Color,
		BotCount:        s.BotCount,
		BotRadius:       s.BotRadius,
		BotSpeed:        s.BotSpeed,
		Seed:            s.Seed,
		Policy:          policy,
		AnnounceKeyDown: s.AnnounceKeyDown,
		Loop:            sim.LoopConfig{TickRate: s.TickRate, CatchupMaxTicks: s.CatchupMaxTicks},
		RenderRate:      s.RenderRate,
	}, nil
}
