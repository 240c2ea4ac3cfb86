package service

import "github.com/cosync/appkey-go/core"

// ValidateHandle checks a handle against the cached app configuration
// before any network round trip. With no app configuration cached, any
// non-empty handle passes and the server has the final word. For login
// flows with usernames enabled the handle may be a username, so format
// checks are skipped.
func (c *Coordinator) ValidateHandle(value string, login bool) bool {
	return core.ValidateHandle(c.session.App(), value, login)
}
