// Package auth implements the static allow-list gate for bot access.
package auth

// Gate answers authorization questions from two allow-lists: ordinary
// users and admins. An entry of "*" in either list allows everyone at
// that tier. Admins are implicitly authorized users.
type Gate struct {
	users    map[string]struct{}
	admins   map[string]struct{}
	anyUser  bool
	anyAdmin bool
}

// New builds a gate from the configured id lists.
func New(users, admins []string) *Gate {
	g := &Gate{
		users:  make(map[string]struct{}, len(users)),
		admins: make(map[string]struct{}, len(admins)),
	}
	for _, u := range users {
		if u == "*" {
			g.anyUser = true
			continue
		}
		g.users[u] = struct{}{}
	}
	for _, a := range admins {
		if a == "*" {
			g.anyAdmin = true
			continue
		}
		g.admins[a] = struct{}{}
	}
	return g
}

// IsAuthorized reports whether the identity may use the bot at all.
func (g *Gate) IsAuthorized(id string) bool {
	if g.anyUser {
		return true
	}
	if _, ok := g.users[id]; ok {
		return true
	}
	return g.IsAdmin(id)
}

// IsAdmin reports whether the identity may use admin commands.
func (g *Gate) IsAdmin(id string) bool {
	if g.anyAdmin {
		return true
	}
	_, ok := g.admins[id]
	return ok
}
