package config

// MissionCapabilities are the mission-level switches that gate feature
// flags. A feature can never be enabled when its capability is off.
type MissionCapabilities struct {
	EhaEnabled     bool
	EvrEnabled     bool
	ProductEnabled bool
	SseEnabled     bool
}

// LoadMission reads mission.* keys. Every capability defaults to on.
func LoadMission(p *Properties) MissionCapabilities {
	return MissionCapabilities{
		EhaEnabled:     p.GetBool("mission.eha.enable", true),
		EvrEnabled:     p.GetBool("mission.evr.enable", true),
		ProductEnabled: p.GetBool("mission.product.enable", true),
		SseEnabled:     p.GetBool("mission.sse.enable", false),
	}
}

// Personal.AI order the ending
