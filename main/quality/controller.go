package quality

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/olebedev/emitter"
	"github.com/rs/zerolog/log"
)

type Mode string

const (
	ModeManual Mode = "manual"
	ModeAuto   Mode = "auto"
)

type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ParseResolution parses "WxH".
func ParseResolution(s string) (Resolution, error) {
	sizes := strings.Split(strings.TrimSpace(strings.ToLower(s)), "x")
	if len(sizes) != 2 {
		return Resolution{}, fmt.Errorf("invalid resolution %q", s)
	}
	width, err := strconv.Atoi(sizes[0])
	if err != nil || width <= 0 {
		return Resolution{}, fmt.Errorf("invalid resolution width %q", s)
	}
	height, err := strconv.Atoi(sizes[1])
	if err != nil || height <= 0 {
		return Resolution{}, fmt.Errorf("invalid resolution height %q", s)
	}
	return Resolution{Width: width, Height: height}, nil
}

type Policy struct {
	Resolution Resolution
	FPS        int
}

type bucket struct {
	lower  float64
	upper  float64
	policy Policy
}

// RTT buckets in milliseconds, [lower, upper), evaluated in order.
var buckets = []bucket{
	{0, 4, Policy{Resolution{1920, 1080}, 60}},
	{4, 8, Policy{Resolution{820, 720}, 30}},
	{8, 12, Policy{Resolution{640, 480}, 15}},
	{12, math.Inf(1), Policy{Resolution{320, 240}, 5}},
}

var (
	DefaultResolution = Resolution{Width: 640, Height: 480}
	DefaultFPS        = 30
)

// PolicyFor returns the bucket policy for rtt. ok is false for negative or NaN samples.
func PolicyFor(rttMillis float64) (policy Policy, ok bool) {
	for _, b := range buckets {
		if b.lower <= rttMillis && rttMillis < b.upper {
			return b.policy, true
		}
	}
	return Policy{}, false
}

// Controller picks the outbound resolution and frame rate. In manual mode
// the policy is frozen and RTT samples are only recorded.
type Controller struct {
	mu      sync.RWMutex
	mode    Mode
	policy  Policy
	lastRTT float64
	hasRTT  bool
	events  *emitter.Emitter
}

func NewController(mode Mode) *Controller {
	if mode != ModeAuto {
		mode = ModeManual
	}
	e := &emitter.Emitter{}
	e.Use("*", emitter.Void)

	log.Info().Str("mode", string(mode)).Msg("Quality controller initialized")
	return &Controller{
		mode:   mode,
		policy: Policy{Resolution: DefaultResolution, FPS: DefaultFPS},
		events: e,
	}
}

// setPolicy must be called with mu held. It reports whether the policy changed.
func (c *Controller) setPolicy(policy Policy) bool {
	if policy == c.policy {
		return false
	}
	c.policy = policy
	log.Info().
		Str("resolution", policy.Resolution.String()).
		Int("fps", policy.FPS).
		Msg("Adjusted quality policy")
	return true
}

func (c *Controller) update(fn func() bool) {
	c.mu.Lock()
	changed := fn()
	policy := c.policy
	c.mu.Unlock()

	if changed {
		c.events.Emit("change", policy)
	}
}

// Observe feeds one RTT sample in milliseconds.
func (c *Controller) Observe(rttMillis float64) {
	if _, ok := PolicyFor(rttMillis); !ok {
		log.Debug().Float64("rtt", rttMillis).Msg("Ignoring invalid rtt sample")
		return
	}

	c.update(func() bool {
		c.lastRTT = rttMillis
		c.hasRTT = true
		if c.mode == ModeManual {
			return false
		}
		policy, _ := PolicyFor(rttMillis)
		return c.setPolicy(policy)
	})
}

// SetManual freezes the resolution until ClearManual. The frame rate is kept.
func (c *Controller) SetManual(resolution Resolution) {
	c.update(func() bool {
		c.mode = ModeManual
		return c.setPolicy(Policy{Resolution: resolution, FPS: c.policy.FPS})
	})
}

// ClearManual switches to automatic selection and applies the last sample, if any.
func (c *Controller) ClearManual() {
	c.update(func() bool {
		c.mode = ModeAuto
		if !c.hasRTT {
			return false
		}
		policy, _ := PolicyFor(c.lastRTT)
		return c.setPolicy(policy)
	})
}

func (c *Controller) Policy() Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy
}

func (c *Controller) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// LastRTT returns the most recent sample and whether one has arrived.
func (c *Controller) LastRTT() (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRTT, c.hasRTT
}

func (c *Controller) FrameRate() int {
	return c.Policy().FPS
}

func (c *Controller) OnChange(cb func(policy Policy)) {
	c.events.On("change", func(e *emitter.Event) {
		cb(e.Args[0].(Policy))
	})
}
