// Package session turns the raw session reference handed in by the hosting
// runtime into a typed context, parsed once at the boundary.
package session

import "strings"

// DefaultPeerID is shared by every session reference that carries no dm
// marker. Distinct unscoped peers alias onto it; callers must not treat it as
// a unique identity.
const DefaultPeerID = "default"

type Context struct {
	Key    string
	PeerID string
}

// Parse extracts the peer identifier from a colon-delimited session key. The
// identifier is the token following the literal "dm" marker, e.g.
// "tg:dm:42:abc" -> "42". Keys without the marker map to DefaultPeerID.
func Parse(key string) Context {
	ctx := Context{Key: key, PeerID: DefaultPeerID}
	if key == "" {
		return ctx
	}
	parts := strings.Split(key, ":")
	for i, p := range parts {
		if p == "dm" && i+1 < len(parts) && parts[i+1] != "" {
			ctx.PeerID = parts[i+1]
			break
		}
	}
	return ctx
}
