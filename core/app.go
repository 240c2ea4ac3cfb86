package core

import (
	"regexp"
	"strings"
)

// Handle types a tenant may require for user handles.
const (
	HandleTypeEmail = "email"
	HandleTypePhone = "phone"
)

// App is the tenant/application configuration returned by the identity API.
// It is fetched once at startup, cached on the session, and treated as
// immutable until explicitly refreshed.
type App struct {
	AppID                 string   `json:"appId"`
	DisplayAppName        string   `json:"displayAppName"`
	HandleType            string   `json:"handleType"`
	UserNamesEnabled      bool     `json:"userNamesEnabled"`
	AnonymousLoginEnabled bool     `json:"anonymousLoginEnabled"`
	AppleLoginEnabled     bool     `json:"appleLoginEnabled"`
	AppleBundleID         string   `json:"appleBundleId"`
	GoogleLoginEnabled    bool     `json:"googleLoginEnabled"`
	GoogleClientID        string   `json:"googleClientId"`
	Locales               []string `json:"locales"`
}

// phonePattern: a leading + followed by 8 to 16 digits or spaces.
var phonePattern = regexp.MustCompile(`^\+[0-9\s]{8,16}$`)

// ValidateHandle reports whether value is an acceptable user handle for the
// given tenant configuration. In a login context a tenant that allows
// free-form usernames accepts any non-empty value regardless of handle type.
// A nil or unconfigured app accepts any non-empty value.
func ValidateHandle(app *App, value string, login bool) bool {
	if value == "" {
		return false
	}
	if app == nil {
		return true
	}
	if login && app.UserNamesEnabled {
		return true
	}
	switch app.HandleType {
	case HandleTypePhone:
		return phonePattern.MatchString(value)
	case HandleTypeEmail:
		return validEmail(value)
	default:
		return true
	}
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	if at <= 0 {
		return false
	}
	dot := strings.LastIndex(email, ".")
	return dot > at+1 && dot < len(email)-1
}
