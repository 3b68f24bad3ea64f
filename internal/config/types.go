package config

// ServerTransportStdio is the only transport currently supported for locally
// launched tool servers.
const ServerTransportStdio = "stdio"

// DelegatedAuthConfig describes the authorization a downstream server
// requires before it will serve a user.
type DelegatedAuthConfig struct {
	// Issuer is the identity provider URL tokens must come from.
	Issuer string `yaml:"issuer,omitempty" json:"issuer,omitempty"`
	// Scopes are the OAuth scopes the server expects, if any.
	Scopes []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`
}

// ServiceConfig is the connection recipe for one downstream tool server.
// Instances are treated as immutable once stored in a tier: updates replace
// the whole value, never mutate it in place.
type ServiceConfig struct {
	// Name uniquely identifies the server across all tiers.
	Name string `yaml:"name" json:"name"`

	// Command, Args and Env describe how to launch a local stdio server.
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// RequiresDelegatedAuth marks servers that need a per-user OAuth token
	// rather than a static credential.
	RequiresDelegatedAuth bool `yaml:"requiresDelegatedAuth,omitempty" json:"requiresDelegatedAuth,omitempty"`

	// DelegatedAuth carries the authorization details when
	// RequiresDelegatedAuth is set.
	DelegatedAuth *DelegatedAuthConfig `yaml:"delegatedAuth,omitempty" json:"delegatedAuth,omitempty"`

	// Variables holds per-caller variable overrides, keyed by caller ID.
	Variables map[string]map[string]string `yaml:"variables,omitempty" json:"variables,omitempty"`
}

// Clone returns a deep copy so callers can build a replacement value without
// touching the stored one.
func (c *ServiceConfig) Clone() *ServiceConfig {
	if c == nil {
		return nil
	}
	out := *c
	if c.Args != nil {
		out.Args = append([]string(nil), c.Args...)
	}
	if c.Env != nil {
		out.Env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			out.Env[k] = v
		}
	}
	if c.DelegatedAuth != nil {
		auth := *c.DelegatedAuth
		if c.DelegatedAuth.Scopes != nil {
			auth.Scopes = append([]string(nil), c.DelegatedAuth.Scopes...)
		}
		out.DelegatedAuth = &auth
	}
	if c.Variables != nil {
		out.Variables = make(map[string]map[string]string, len(c.Variables))
		for caller, vars := range c.Variables {
			copied := make(map[string]string, len(vars))
			for k, v := range vars {
				copied[k] = v
			}
			out.Variables[caller] = copied
		}
	}
	return &out
}

// TetherConfig is the top-level configuration file structure.
type TetherConfig struct {
	// Servers is the static fallback table of downstream tool servers.
	Servers []*ServiceConfig `yaml:"servers"`
}
