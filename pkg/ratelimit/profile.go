package ratelimit

import (
	"fmt"
	"sort"
	"time"
)

// Built-in profile names
const (
	ProfileAuth        = "auth"
	ProfileEmailSend   = "emailSend"
	ProfileAIExtract   = "aiExtract"
	ProfilePDFGenerate = "pdfGenerate"
	ProfileGeneral     = "general"
)

// Profile is a named fixed-window budget
type Profile struct {
	Name   string        `yaml:"name"`
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// Validate reports a profile that could never admit a request
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if p.Limit <= 0 {
		return fmt.Errorf("profile %q: limit must be > 0, got %d", p.Name, p.Limit)
	}
	if p.Window <= 0 {
		return fmt.Errorf("profile %q: window must be > 0, got %s", p.Name, p.Window)
	}
	return nil
}

// DefaultProfiles returns the production profile set
func DefaultProfiles() []Profile {
	return []Profile{
		{Name: ProfileAuth, Limit: 5, Window: 15 * time.Minute},
		{Name: ProfileEmailSend, Limit: 10, Window: time.Hour},
		{Name: ProfileAIExtract, Limit: 20, Window: time.Hour},
		{Name: ProfilePDFGenerate, Limit: 30, Window: time.Hour},
		{Name: ProfileGeneral, Limit: 100, Window: time.Minute},
	}
}

// Registry is the immutable, process-wide profile table
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry validates and indexes profiles. The general profile must be present
// because every layered check consults it first.
func NewRegistry(profiles []Profile) (*Registry, error) {
	r := &Registry{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.profiles[p.Name]; dup {
			return nil, fmt.Errorf("duplicate profile %q", p.Name)
		}
		r.profiles[p.Name] = p
	}
	if _, ok := r.profiles[ProfileGeneral]; !ok {
		return nil, fmt.Errorf("profile %q is required", ProfileGeneral)
	}
	return r, nil
}

// Get returns the named profile
func (r *Registry) Get(name string) (Profile, error) {
	p, ok := r.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return p, nil
}

// MustGet returns the named profile and panics if it is not registered.
// Use it where routes are declared, so a typo fails at startup.
func (r *Registry) MustGet(name string) Profile {
	p, err := r.Get(name)
	if err != nil {
		panic(err)
	}
	return p
}

// Names lists registered profiles in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
