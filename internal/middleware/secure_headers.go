package middleware

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecureHeadersConfig contains configuration for secure headers
type SecureHeadersConfig struct {
	// HSTS settings
	UseHSTS               bool
	HSTSMaxAge            time.Duration
	HSTSIncludeSubdomains bool

	// CSP settings
	UseCSP        bool
	CSPDirectives map[string]string

	UseNoSniff        bool
	UseReferrerPolicy bool
	ReferrerPolicy    string

	// NoStorePrefixes are path prefixes whose responses must never be cached
	NoStorePrefixes []string
}

// DefaultSecureHeadersConfig returns the headers used in production. The OAuth
// callback pages run an inline script and talk to their opener window, so
// inline scripts are allowed and framing is left to the opener's origin.
func DefaultSecureHeadersConfig() SecureHeadersConfig {
	return SecureHeadersConfig{
		UseHSTS:               true,
		HSTSMaxAge:            365 * 24 * time.Hour,
		HSTSIncludeSubdomains: true,

		UseCSP: true,
		CSPDirectives: map[string]string{
			"default-src": "'self'",
			"script-src":  "'self' 'unsafe-inline'",
			"style-src":   "'self' 'unsafe-inline'",
			"img-src":     "'self' data: https://cdn.discordapp.com https://pbs.twimg.com",
			"connect-src": "'self'",
			"object-src":  "'none'",
			"base-uri":    "'self'",
		},

		UseNoSniff:        true,
		UseReferrerPolicy: true,
		ReferrerPolicy:    "strict-origin-when-cross-origin",

		NoStorePrefixes: []string{"/auth/", "/api/session/", "/api/neftit/"},
	}
}

// SecureHeadersMiddleware adds security headers to responses
func SecureHeadersMiddleware(config SecureHeadersConfig) gin.HandlerFunc {
	hsts := ""
	if config.UseHSTS {
		hsts = "max-age=" + strconv.FormatInt(int64(config.HSTSMaxAge.Seconds()), 10)
		if config.HSTSIncludeSubdomains {
			hsts += "; includeSubDomains"
		}
	}

	csp := ""
	if config.UseCSP {
		directives := make([]string, 0, len(config.CSPDirectives))
		for directive, value := range config.CSPDirectives {
			directives = append(directives, directive+" "+value)
		}
		sort.Strings(directives)
		csp = strings.Join(directives, "; ")
	}

	return func(c *gin.Context) {
		if hsts != "" {
			c.Header("Strict-Transport-Security", hsts)
		}
		if csp != "" {
			c.Header("Content-Security-Policy", csp)
		}
		if config.UseNoSniff {
			c.Header("X-Content-Type-Options", "nosniff")
		}
		if config.UseReferrerPolicy {
			c.Header("Referrer-Policy", config.ReferrerPolicy)
		}

		for _, prefix := range config.NoStorePrefixes {
			if strings.HasPrefix(c.Request.URL.Path, prefix) {
				c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
				c.Header("Pragma", "no-cache")
				c.Header("Expires", "0")
				break
			}
		}

		c.Next()
	}
}
