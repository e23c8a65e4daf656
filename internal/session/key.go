package session

import "typhonrelay/internal/models"

const anonymousUser = "anonymous"

// UserKey derives the identity part of a session key: name, then id, then "PIN-"+pin,
// then "anonymous".
func UserKey(p *models.Player) string {
	if p == nil {
		return anonymousUser
	}
	switch {
	case p.Name != "":
		return p.Name
	case p.ID != "":
		return p.ID
	case p.PIN != "":
		return "PIN-" + p.PIN
	default:
		return anonymousUser
	}
}

// Key composes the store key for a caller-supplied session id and a player.
func Key(sessionID string, p *models.Player) string {
	return sessionID + "::" + UserKey(p)
}
