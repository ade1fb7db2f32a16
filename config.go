package identity

import "time"

// DefaultResetTokenTTL bounds how long a password reset link stays valid.
const DefaultResetTokenTTL = 24 * time.Hour

// StaticConfig is a plain-value Config implementation.
type StaticConfig struct {
	SigningKey    string
	ResetTokenTTL time.Duration
	SiteURL       string
}

func (c StaticConfig) GetSigningKey() string {
	return c.SigningKey
}

func (c StaticConfig) GetResetTokenTTL() time.Duration {
	if c.ResetTokenTTL <= 0 {
		return DefaultResetTokenTTL
	}
	return c.ResetTokenTTL
}

// GetSiteURL returns the public root used to build email links, always
// with a trailing slash.
func (c StaticConfig) GetSiteURL() string {
	if c.SiteURL == "" {
		return "/"
	}
	if c.SiteURL[len(c.SiteURL)-1] != '/' {
		return c.SiteURL + "/"
	}
	return c.SiteURL
}
