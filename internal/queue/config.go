package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/visit-scheduler/internal/visit"
)

// ErrInvalidConfig is returned when a throttle setting cannot be applied.
var ErrInvalidConfig = errors.New("invalid host config")

// HostConfig is the throttle applied to one host queue.
type HostConfig struct {
	// MinDelay is the minimum time between two acquisitions from the host.
	MinDelay time.Duration
	// MaxAccess is the maximum number of orders in flight for the host.
	MaxAccess int
}

// DefaultHostConfig allows one connection per host with no delay.
var DefaultHostConfig = HostConfig{MaxAccess: 1}

// Validate rejects negative delays and non-positive concurrency.
func (c HostConfig) Validate() error {
	if c.MinDelay < 0 {
		return fmt.Errorf("%w: min delay %s is negative", ErrInvalidConfig, c.MinDelay)
	}
	if c.MaxAccess < 1 {
		return fmt.Errorf("%w: max access %d must be at least 1", ErrInvalidConfig, c.MaxAccess)
	}
	return nil
}

// HostRule overrides the defaults for a host (and every subdomain of it that
// has no rule of its own), optionally restricted to one order type.
type HostRule struct {
	Domain string
	Type   visit.Type
	HostConfig
}

// Config seeds a VisitQueue.
type Config struct {
	Defaults HostConfig
	Hosts    []HostRule
}

type ruleKey struct {
	domain string
	typ    visit.Type
}

func newRuleKey(domain string, typ visit.Type) (ruleKey, error) {
	domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if domain == "" {
		return ruleKey{}, fmt.Errorf("%w: empty domain", ErrInvalidConfig)
	}
	return ruleKey{domain: domain, typ: typ}, nil
}

// queueKey names the host queue a rule feeds.
func (k ruleKey) queueKey() string {
	if k.typ == "" {
		return k.domain
	}
	return k.domain + "|" + string(k.typ)
}
