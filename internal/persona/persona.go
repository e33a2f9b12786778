package persona

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

// DefaultAntiRepeatPenalty is the weight multiplier applied to whoever
// spoke last in a channel so the same voice does not dominate
// back-to-back autonomous turns.
const DefaultAntiRepeatPenalty = 0.1

// Profile describes one persona identity: how it presents itself and how
// strongly it gravitates toward each channel.
type Profile struct {
	ID              string
	DisplayName     string
	Style           string
	Interests       []string
	ChannelAffinity map[string]float64
}

// Catalog holds the loaded persona set plus per-channel speaker history.
type Catalog struct {
	mu         sync.RWMutex
	profiles   []Profile
	byID       map[string]int
	lastSpoke  map[string]speakerMark
	antiRepeat float64
}

type speakerMark struct {
	persona string
	at      time.Time
}

// NewCatalog builds a catalog from the given profiles; an empty slice
// falls back to the built-in trio.
func NewCatalog(profiles []Profile) *Catalog {
	if len(profiles) == 0 {
		profiles = DefaultProfiles()
	}
	c := &Catalog{
		profiles:   make([]Profile, 0, len(profiles)),
		byID:       make(map[string]int, len(profiles)),
		lastSpoke:  make(map[string]speakerMark),
		antiRepeat: DefaultAntiRepeatPenalty,
	}
	for _, p := range profiles {
		if _, exists := c.byID[p.ID]; exists {
			continue
		}
		c.byID[p.ID] = len(c.profiles)
		c.profiles = append(c.profiles, p)
	}
	return c
}

// DefaultProfiles is the built-in trio used when no persona directory is
// configured. spectra coordinates and acts as the fallback voice, lynq
// leans technical, paz leans creative.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			ID:          "spectra",
			DisplayName: "Spectra",
			Style:       "calm coordinator; keeps discussions on track and summarizes decisions",
			Interests:   []string{"planning", "coordination", "retrospectives"},
			ChannelAffinity: map[string]float64{
				"command_center": 0.4,
				"development":    0.25,
				"creation":       0.25,
				"lounge":         1.0 / 3.0,
			},
		},
		{
			ID:          "lynq",
			DisplayName: "Lynq",
			Style:       "precise engineer; talks in concrete steps and tradeoffs",
			Interests:   []string{"architecture", "debugging", "tooling"},
			ChannelAffinity: map[string]float64{
				"command_center": 0.3,
				"development":    0.5,
				"creation":       0.25,
				"lounge":         1.0 / 3.0,
			},
		},
		{
			ID:          "paz",
			DisplayName: "Paz",
			Style:       "playful creative; riffs on ideas and sketches alternatives",
			Interests:   []string{"design", "writing", "brainstorms"},
			ChannelAffinity: map[string]float64{
				"command_center": 0.3,
				"development":    0.25,
				"creation":       0.5,
				"lounge":         1.0 / 3.0,
			},
		},
	}
}

// Get returns the profile for id.
func (c *Catalog) Get(id string) (Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.byID[id]
	if !ok {
		return Profile{}, false
	}
	return c.profiles[idx], true
}

// Has reports whether id names a catalog persona.
func (c *Catalog) Has(id string) bool {
	_, ok := c.Get(id)
	return ok
}

// All returns the profiles in load order.
func (c *Catalog) All() []Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Profile, len(c.profiles))
	copy(out, c.profiles)
	return out
}

// IDs returns the persona IDs in load order.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.profiles))
	for _, p := range c.profiles {
		out = append(out, p.ID)
	}
	return out
}

// DefaultFor picks the deterministic voice for a channel: the persona
// with the highest affinity, ties broken by load order, spectra-first
// catalogs therefore fall back to spectra on even channels.
func (c *Catalog) DefaultFor(channel string) Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	best := c.profiles[0]
	bestWeight := affinity(best, channel)
	for _, p := range c.profiles[1:] {
		if w := affinity(p, channel); w > bestWeight {
			best, bestWeight = p, w
		}
	}
	return best
}

// MarkSpoke records id as the channel's most recent autonomous speaker.
// Ticks that fail the probability gate never call this, so a silent tick
// does not reset the anti-repeat state.
func (c *Catalog) MarkSpoke(channel, id string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSpoke[channel] = speakerMark{persona: id, at: at}
}

// LastSpeaker returns the most recent autonomous speaker in channel, or
// the empty string when none has spoken yet.
func (c *Catalog) LastSpeaker(channel string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSpoke[channel].persona
}

// LastSpokeAt returns when the persona last spoke anywhere, or the zero
// time.
func (c *Catalog) LastSpokeAt(id string) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var latest time.Time
	for _, mark := range c.lastSpoke {
		if mark.persona == id && mark.at.After(latest) {
			latest = mark.at
		}
	}
	return latest
}

// SetAntiRepeatPenalty overrides the last-speaker weight multiplier.
// Values outside (0, 1] keep the default.
func (c *Catalog) SetAntiRepeatPenalty(penalty float64) {
	if penalty <= 0 || penalty > 1 {
		return
	}
	c.mu.Lock()
	c.antiRepeat = penalty
	c.mu.Unlock()
}

// PickWeighted samples a persona for channel proportionally to channel
// affinity, with the last speaker's weight multiplied by the anti-repeat
// penalty. Personas without an affinity entry weigh zero; if every weight
// is zero the pick is uniform.
func (c *Catalog) PickWeighted(rng *rand.Rand, channel, lastSpeaker string) Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()

	weights := make([]float64, len(c.profiles))
	total := 0.0
	for i, p := range c.profiles {
		w := affinity(p, channel)
		if p.ID == lastSpeaker {
			w *= c.antiRepeat
		}
		weights[i] = w
		total += w
	}

	if total <= 0 {
		return c.profiles[rng.Intn(len(c.profiles))]
	}

	target := rng.Float64() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if target < acc {
			return c.profiles[i]
		}
	}
	return c.profiles[len(c.profiles)-1]
}

func affinity(p Profile, channel string) float64 {
	if w, ok := p.ChannelAffinity[channel]; ok && w > 0 {
		return w
	}
	return 0
}

func sortedChannels(affinities map[string]float64) []string {
	out := make([]string, 0, len(affinities))
	for ch := range affinities {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}
