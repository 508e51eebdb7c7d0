// Package loadbalancer implements the gateway's LoadBalancer: picking
// one instance from a non-empty candidate set per a selection
// strategy. Instance health itself is the registry's concern (an
// unhealthy instance simply doesn't appear in the list ProxyEngine
// passes in here) — this package carries no circuit breaker state of
// its own.
package loadbalancer

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/fleetgate/api-gateway/internal/registry"
)

// Strategy selects a LoadBalancer's selection algorithm.
type Strategy int

const (
	Random Strategy = iota
	RoundRobin
)

func (s Strategy) String() string {
	switch s {
	case Random:
		return "Random"
	case RoundRobin:
		return "RoundRobin"
	default:
		return "Unknown"
	}
}

// ParseStrategy resolves the `loadBalancerStrategy` config string
// ("round-robin" | "random") to a Strategy, defaulting to Random per
// the gateway constructor's documented default.
func ParseStrategy(s string) Strategy {
	if s == "round-robin" {
		return RoundRobin
	}
	return Random
}

// LoadBalancer chooses one instance from a candidate list. Random is
// stateless; RoundRobin keeps a cursor per service type, guarded so
// concurrent selectors never observe a torn value.
type LoadBalancer struct {
	strategy Strategy

	mu      sync.Mutex
	cursors map[string]int
}

// New builds a LoadBalancer using strategy.
func New(strategy Strategy) *LoadBalancer {
	return &LoadBalancer{
		strategy: strategy,
		cursors:  make(map[string]int),
	}
}

// SelectInstance picks one instance from a non-empty list. serviceType
// identifies the round-robin cursor to use; it is ignored by Random.
func (lb *LoadBalancer) SelectInstance(serviceType string, instances []registry.Instance) (registry.Instance, error) {
	if len(instances) == 0 {
		return registry.Instance{}, fmt.Errorf("no instances available to select from")
	}

	switch lb.strategy {
	case RoundRobin:
		return lb.roundRobinSelect(serviceType, instances), nil
	default:
		return lb.randomSelect(instances), nil
	}
}

func (lb *LoadBalancer) randomSelect(instances []registry.Instance) registry.Instance {
	return instances[rand.Intn(len(instances))]
}

// roundRobinSelect reads the stored cursor for serviceType (0 if
// unseen), clamps it into range — instances may have shrunk since the
// last call — returns that instance, then advances the cursor modulo
// the current length. Two concurrent callers may read the same index;
// that is acceptable, the contract only requires the stored cursor
// never point outside the last-observed range.
func (lb *LoadBalancer) roundRobinSelect(serviceType string, instances []registry.Instance) registry.Instance {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	cursor := lb.cursors[serviceType]
	if cursor < 0 || cursor >= len(instances) {
		cursor = 0
	}

	selected := instances[cursor]
	lb.cursors[serviceType] = (cursor + 1) % len(instances)
	return selected
}

// Strategy returns the configured selection strategy.
func (lb *LoadBalancer) Strategy() Strategy {
	return lb.strategy
}
