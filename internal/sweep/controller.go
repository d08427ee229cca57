// Package sweep drives a source-meter through a voltage sweep in a background
// goroutine, collecting per-point measurements into a shared buffer and
// fanning progress and log notifications out to subscribers.
package sweep

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/iv.report/internal/monitoring"
	"github.com/banshee-data/iv.report/internal/sourcemeter"
)

// State is the lifecycle phase of a Controller. A controller is single-shot:
// StateStopped is terminal, a fresh controller must be constructed to sweep
// again.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

var (
	// ErrNotConfigured is returned by Start before a successful Configure.
	ErrNotConfigured = errors.New("sweep: controller not configured")
	// ErrNotIdle is returned by Configure once the controller has left Idle.
	ErrNotIdle = errors.New("sweep: controller is not idle")
)

// Opener connects to the instrument at the given port.
type Opener func(port string) (sourcemeter.Instrument, error)

// settleDelay gives the instrument time to react after mode selection.
const settleDelay = 100 * time.Millisecond

// Controller owns one sweep: the plan, the sample buffer, the instrument
// handle and the single background acquisition goroutine. All methods are safe
// for concurrent use from the caller's side; the buffer is only ever written
// by the background goroutine.
type Controller struct {
	open Opener
	hub  *Hub

	mu        sync.Mutex
	state     State
	plan      *Plan
	buffer    *Buffer
	instr     sourcemeter.Instrument
	simulated bool
	started   bool

	ready     chan struct{}
	readyOnce sync.Once
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	shutOnce  sync.Once
}

// NewController returns an Idle controller that connects through open. A nil
// open uses the real serial source-meter driver.
func NewController(open Opener) *Controller {
	if open == nil {
		open = func(port string) (sourcemeter.Instrument, error) {
			return sourcemeter.Open(port)
		}
	}
	return &Controller{
		open:  open,
		hub:   NewHub(),
		state: StateIdle,
		ready: make(chan struct{}),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Simulated reports whether the controller is running without a physical
// instrument, either by request or after a failed connection.
func (c *Controller) Simulated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.simulated
}

// Subscribe registers an event consumer. See Hub.Subscribe.
func (c *Controller) Subscribe() (string, <-chan Event) { return c.hub.Subscribe() }

// Unsubscribe removes an event consumer.
func (c *Controller) Unsubscribe(id string) { c.hub.Unsubscribe(id) }

// Done is closed once the background acquisition goroutine has exited.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Snapshot returns a copy of the current sample buffer contents.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	buffer := c.buffer
	c.mu.Unlock()
	if buffer == nil {
		return Snapshot{}
	}
	return buffer.Snapshot()
}

// Plan returns the configured sweep plan, or nil before Configure.
func (c *Controller) Plan() *Plan {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plan
}

// Configure validates opts, computes the sweep plan, zeroes the sample buffer
// and opens the instrument. A connection failure is not an error: the
// controller degrades to simulation mode for the rest of its life and reports
// it through a warning-severity log event. Configure is only legal in Idle.
func (c *Controller) Configure(opts Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrNotIdle
	}

	plan, err := NewPlan(opts)
	if err != nil {
		return err
	}
	c.plan = plan
	if c.buffer == nil {
		c.buffer = NewBuffer(len(plan.Points))
	} else {
		c.buffer.Reset(len(plan.Points))
	}

	c.logEvent(SeverityInfo, fmt.Sprintf("trying to connect to %s", opts.Port))
	if opts.Port == SimulatedPort {
		c.simulated = true
		return nil
	}

	instr, err := c.open(opts.Port)
	if err != nil {
		c.simulated = true
		monitoring.Logf("sourcemeter connection to %s failed: %v", opts.Port, err)
		c.logEvent(SeverityWarning, fmt.Sprintf("failed to connect to %s", opts.Port))
		return nil
	}
	c.logEvent(SeverityInfo, fmt.Sprintf("connected to %s", opts.Port))

	if err := configureInstrument(instr, plan); err != nil {
		// treat a failed setup like a failed connection: degrade, don't raise
		if shutErr := instr.Shutdown(); shutErr != nil {
			monitoring.Logf("sourcemeter shutdown after failed setup: %v", shutErr)
		}
		c.simulated = true
		monitoring.Logf("sourcemeter setup on %s failed: %v", opts.Port, err)
		c.logEvent(SeverityWarning, fmt.Sprintf("failed to configure %s", opts.Port))
		return nil
	}

	c.instr = instr
	c.simulated = false
	return nil
}

// configureInstrument resets the source-meter to a known state, selects the
// measurement mode, applies compliance and averaging, and arms the output.
func configureInstrument(instr sourcemeter.Instrument, plan *Plan) error {
	if err := instr.Reset(); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if err := instr.SelectMeasurementMode(); err != nil {
		return fmt.Errorf("select measurement mode: %w", err)
	}
	time.Sleep(settleDelay)
	if err := instr.SetComplianceLimit(plan.ComplianceLimit); err != nil {
		return fmt.Errorf("set compliance limit: %w", err)
	}
	if err := instr.SetAveraging(plan.Averages); err != nil {
		return fmt.Errorf("set averaging: %w", err)
	}
	if err := instr.ArmOutput(); err != nil {
		return fmt.Errorf("arm output: %w", err)
	}
	return nil
}

// Start spawns the background acquisition goroutine and blocks until it has
// produced its first data point (or, in simulation mode, signalled readiness).
// Calling Start while already Running is a no-op.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.state == StateRunning {
		c.mu.Unlock()
		return nil
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("sweep: cannot start from state %q", c.state)
	}
	if c.plan == nil {
		c.mu.Unlock()
		return ErrNotConfigured
	}
	c.state = StateRunning
	c.started = true
	c.mu.Unlock()

	go c.run()

	<-c.ready
	return nil
}

// Stop requests a cooperative stop, waits for the background goroutine to
// exit, and releases the instrument. It is safe to call repeatedly; only the
// first call shuts down the instrument and emits the disconnect log event.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state == StateIdle {
		// configured but never started; release the handle and park the
		// controller in its terminal state
		c.state = StateStopped
		c.mu.Unlock()
		c.releaseInstrument()
		return nil
	}
	if c.state == StateRunning {
		c.state = StateStopping
	}
	started := c.started
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stop) })
	if started {
		<-c.done
	}
	c.releaseInstrument()
	c.setState(StateStopped)
	return nil
}

// run is the background acquisition goroutine. It sweeps the excitation
// sequence for each repetition, honouring stop requests at repetition and
// per-point boundaries only, so in-flight instrument calls always complete.
func (c *Controller) run() {
	defer close(c.done)
	defer c.finish()

	c.mu.Lock()
	plan := c.plan
	simulated := c.simulated
	instr := c.instr
	c.mu.Unlock()

	for repetition := 1; repetition <= plan.Repetitions; repetition++ {
		if c.stopRequested() {
			return
		}
		if simulated {
			c.markReady()
		} else {
			for i := range plan.Points {
				if c.stopRequested() {
					return
				}
				if err := c.measure(instr, plan, i); err != nil {
					monitoring.Logf("sweep aborted: %v", err)
					c.logEvent(SeverityError, fmt.Sprintf("measurement failed at point %d: %v", i, err))
					return
				}
			}
			// safety: de-energize the output after the pass
			if err := instr.SetExcitation(0); err != nil {
				monitoring.Logf("sweep aborted: %v", err)
				c.logEvent(SeverityError, fmt.Sprintf("failed to zero excitation: %v", err))
				return
			}
		}

		c.hub.Publish(Event{Kind: EventRepetitionDone, Repetition: repetition})
		c.logEvent(SeverityInfo, fmt.Sprintf("finished curve #%d", repetition))
		if repetition < plan.Repetitions {
			select {
			case <-c.stop:
			case <-time.After(plan.RepetitionDelay):
			}
		} else {
			c.logEvent(SeverityInfo, "finished sweep")
		}
	}
}

// measure performs the per-point protocol: set excitation, settle, trigger an
// averaged measurement and record the readings. The buffer write happens
// before the progress event is published.
func (c *Controller) measure(instr sourcemeter.Instrument, plan *Plan, i int) error {
	if err := instr.SetExcitation(plan.Points[i]); err != nil {
		return fmt.Errorf("point %d: set excitation: %w", i, err)
	}
	time.Sleep(plan.PointDelay)
	if err := instr.TriggerAndWait(); err != nil {
		return fmt.Errorf("point %d: trigger: %w", i, err)
	}

	excitation, err := instr.MeanExcitation()
	if err != nil {
		return fmt.Errorf("point %d: read excitation: %w", i, err)
	}
	response, err := instr.MeanResponse()
	if err != nil {
		return fmt.Errorf("point %d: read response: %w", i, err)
	}
	std, err := instr.StdResponse()
	if err != nil {
		return fmt.Errorf("point %d: read response std: %w", i, err)
	}

	// sign convention: source current flows opposite to the measured direction
	c.buffer.Record(i, time.Now(), excitation, -response, std)
	c.hub.Publish(Event{Kind: EventProgress, Point: i})
	c.markReady()
	return nil
}

// finish runs on every exit path of the acquisition goroutine: it releases
// the instrument, parks the controller in its terminal state and unblocks a
// caller still waiting in Start.
func (c *Controller) finish() {
	c.releaseInstrument()
	c.setState(StateStopped)
	c.markReady()
}

// releaseInstrument shuts the instrument down exactly once. Simulation mode
// holds no handle, so there is nothing to release and no disconnect event.
func (c *Controller) releaseInstrument() {
	c.shutOnce.Do(func() {
		c.mu.Lock()
		instr := c.instr
		c.mu.Unlock()
		if instr == nil {
			return
		}
		if err := instr.Shutdown(); err != nil {
			monitoring.Logf("sourcemeter shutdown failed: %v", err)
		}
		c.logEvent(SeverityInfo, "disconnected sourcemeter")
	})
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) stopRequested() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func (c *Controller) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

func (c *Controller) logEvent(severity Severity, message string) {
	c.hub.Publish(Event{Kind: EventLog, Severity: severity, Message: message})
}
