// Package contests holds the catalog of known recurring contests. The
// registry is built once at startup (built-in defaults or a YAML file) and is
// read-only afterwards, so it is safe for concurrent use without locking.
package contests

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"github.com/tbourn/contest-notifier/internal/recurrence"
)

// Channel kinds a contest can be delivered through.
const (
	ChannelEmail = "email"
	ChannelVoice = "voice"
)

// ErrInvalidContest is returned when a contest definition is rejected.
var ErrInvalidContest = errors.New("invalid contest definition")

// Contest is one recurring event users can subscribe to.
//
// LeadTime is subtracted from each occurrence to get the moment the reminder
// fires (e.g. 2h for "call two hours before start").
type Contest struct {
	Name     string
	Rule     recurrence.Rule
	LeadTime time.Duration
	Channel  string
	URL      string
}

// FireTime returns when the reminder for occurrence should go out.
func (c Contest) FireTime(occurrence time.Time) time.Time {
	return occurrence.Add(-c.LeadTime)
}

// Registry is an immutable, name-indexed set of contests.
type Registry struct {
	byName map[string]Contest
	order  []string
}

// NewRegistry validates the contests and indexes them by name. Names must be
// unique; the registration order is preserved for listing.
func NewRegistry(cs ...Contest) (*Registry, error) {
	r := &Registry{byName: make(map[string]Contest, len(cs))}
	for _, c := range cs {
		c.Name = strings.TrimSpace(c.Name)
		c.Channel = strings.ToLower(strings.TrimSpace(c.Channel))
		if c.Channel == "" {
			c.Channel = ChannelEmail
		}
		switch {
		case c.Name == "":
			return nil, fmt.Errorf("%w: empty name", ErrInvalidContest)
		case strings.Contains(c.Name, ";"):
			// ';' separates names in the CSV Contests column.
			return nil, fmt.Errorf("%w: %q contains ';'", ErrInvalidContest, c.Name)
		case c.Rule == nil:
			return nil, fmt.Errorf("%w: %q has no schedule", ErrInvalidContest, c.Name)
		case c.LeadTime < 0:
			return nil, fmt.Errorf("%w: %q lead time must be >= 0", ErrInvalidContest, c.Name)
		case c.Channel != ChannelEmail && c.Channel != ChannelVoice:
			return nil, fmt.Errorf("%w: %q unknown channel %q", ErrInvalidContest, c.Name, c.Channel)
		}
		if _, dup := r.byName[c.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidContest, c.Name)
		}
		r.byName[c.Name] = c
		r.order = append(r.order, c.Name)
	}
	return r, nil
}

// Get looks up a contest by name.
func (r *Registry) Get(name string) (Contest, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// Has reports whether name is a known contest.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// All returns the contests in registration order.
func (r *Registry) All() []Contest {
	out := make([]Contest, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byName[n])
	}
	return out
}

// Names returns contest names in registration order.
func (r *Registry) Names() []string { return append([]string(nil), r.order...) }

// Defaults returns the built-in catalog: the email reminders keyed by slug and
// the voice-call reminders two hours ahead of the LeetCode rounds.
func Defaults() []Contest {
	must := func(spec string) recurrence.Rule {
		rule, err := recurrence.ParseRule(spec)
		if err != nil {
			panic(err)
		}
		return rule
	}
	return []Contest{
		{Name: "leetcode-weekly", Rule: must("cron:0 0 19 * * 0"), Channel: ChannelEmail, URL: "https://leetcode.com/contest/"},
		{Name: "leetcode-biweekly", Rule: must("cron:0 24 16 * * 0,3"), Channel: ChannelEmail, URL: "https://leetcode.com/contest/"},
		{Name: "LeetCode Weekly Contest", Rule: must("sat@19:00"), LeadTime: 2 * time.Hour, Channel: ChannelVoice},
		{Name: "LeetCode Biweekly Contest", Rule: must("wed,sat@19:00"), LeadTime: 2 * time.Hour, Channel: ChannelVoice},
	}
}

// fileSpec is the YAML layout of a contest catalog file:
//
//	contests:
//	  - name: leetcode-weekly
//	    schedule: "cron:0 0 19 * * 0"
//	    lead: 2h
//	    channel: email
//	    url: https://leetcode.com/contest/
type fileSpec struct {
	Contests []struct {
		Name     string `yaml:"name"`
		Schedule string `yaml:"schedule"`
		Lead     string `yaml:"lead"`
		Channel  string `yaml:"channel"`
		URL      string `yaml:"url"`
	} `yaml:"contests"`
}

// Parse decodes a YAML catalog.
func Parse(data []byte) ([]Contest, error) {
	var fs fileSpec
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("contests yaml: %w", err)
	}
	out := make([]Contest, 0, len(fs.Contests))
	for i, e := range fs.Contests {
		rule, err := recurrence.ParseRule(e.Schedule)
		if err != nil {
			return nil, fmt.Errorf("contest #%d %q: %w", i+1, e.Name, err)
		}
		var lead time.Duration
		if s := strings.TrimSpace(e.Lead); s != "" {
			if lead, err = time.ParseDuration(s); err != nil {
				return nil, fmt.Errorf("contest #%d %q: lead: %w", i+1, e.Name, err)
			}
		}
		out = append(out, Contest{Name: e.Name, Rule: rule, LeadTime: lead, Channel: e.Channel, URL: e.URL})
	}
	return out, nil
}

// Load builds the registry from path, or from Defaults when path is empty.
func Load(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return NewRegistry(Defaults()...)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cs, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return NewRegistry(cs...)
}
