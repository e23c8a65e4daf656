package models

// Player is the identity resolved from an auth token. Any of the fields may be empty.
type Player struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	PIN  string `json:"pin,omitempty"`
}

// LogID is the identifier written to per-message transcript rows: id, then name, then pin.
func (p *Player) LogID() string {
	if p == nil {
		return ""
	}
	switch {
	case p.ID != "":
		return p.ID
	case p.Name != "":
		return p.Name
	default:
		return p.PIN
	}
}

// DisplayName is the name written to pair transcript rows.
func (p *Player) DisplayName() string {
	if p == nil {
		return ""
	}
	switch {
	case p.Name != "":
		return p.Name
	case p.ID != "":
		return p.ID
	default:
		return "User-" + p.PIN
	}
}
