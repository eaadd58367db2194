package device

import (
	"fmt"
	"sync"
	"time"

	"accel-sched/internal/logging"

	"github.com/sirupsen/logrus"
)

// SimDevice models a single physical accelerator for the CLI demo and the
// scheduler tests. It enforces the one-resident-configuration rule and
// records the activation order so tests can assert on fairness.
type SimDevice struct {
	mu                sync.Mutex
	logger            *logrus.Logger
	activationLatency time.Duration
	resident          string
	tokenSeq          int
	activationOrder   []string
}

type simToken struct {
	group string
	seq   int
}

func NewSimDevice(activationLatency time.Duration) *SimDevice {
	return &SimDevice{
		logger:            logging.GetLogger(),
		activationLatency: activationLatency,
	}
}

// Group returns the activation capability for one simulated network group.
func (d *SimDevice) Group(desc Descriptor) *SimGroup {
	return &SimGroup{device: d, desc: desc}
}

// ActivationOrder returns the group names in the order they were activated.
func (d *SimDevice) ActivationOrder() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.activationOrder...)
}

func (d *SimDevice) activate(group string) (ActivationToken, error) {
	if d.activationLatency > 0 {
		time.Sleep(d.activationLatency)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.resident != "" {
		return nil, fmt.Errorf("group %s is still resident while activating %s", d.resident, group)
	}
	d.resident = group
	d.tokenSeq++
	d.activationOrder = append(d.activationOrder, group)

	d.logger.WithFields(logrus.Fields{
		"group": group,
		"seq":   d.tokenSeq,
	}).Debug("Simulated device activated group")

	return &simToken{group: group, seq: d.tokenSeq}, nil
}

func (d *SimDevice) deactivate(token ActivationToken) error {
	tok, ok := token.(*simToken)
	if !ok {
		return fmt.Errorf("unknown activation token %T", token)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.resident != tok.group {
		return fmt.Errorf("token for group %s but %q is resident", tok.group, d.resident)
	}
	d.resident = ""
	return nil
}

// SimGroup is the simulated activation capability for one group.
type SimGroup struct {
	device *SimDevice
	desc   Descriptor

	mu          sync.Mutex
	failNext    error
	activations int
}

func (g *SimGroup) Describe() Descriptor {
	return g.desc
}

func (g *SimGroup) Activate() (ActivationToken, error) {
	g.mu.Lock()
	if g.failNext != nil {
		err := g.failNext
		g.failNext = nil
		g.mu.Unlock()
		return nil, err
	}
	g.activations++
	g.mu.Unlock()

	return g.device.activate(g.desc.Name)
}

func (g *SimGroup) Deactivate(token ActivationToken) error {
	return g.device.deactivate(token)
}

// FailNextActivation makes the next Activate call return err.
func (g *SimGroup) FailNextActivation(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = err
}

// Activations returns how many times this group was successfully activated.
func (g *SimGroup) Activations() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activations
}
