package sourcemeter

import (
	"fmt"
	"sync"
	"time"
)

// Reading is one scripted measurement for the Mock instrument.
type Reading struct {
	Excitation float64
	Response   float64
	Std        float64
}

// Mock implements Instrument for testing. Each TriggerAndWait consumes the
// next scripted Reading (the last one repeats once the script runs out), and
// any method can be made to fail on its nth invocation.
type Mock struct {
	mu sync.Mutex

	calls       map[string]int
	callLog     []string
	readings    []Reading
	nextReading int
	current     Reading
	measured    bool
	excitations []float64
	shutdowns   int

	failMethod string
	failCall   int
	failErr    error

	// TriggerDelay is added to each TriggerAndWait to mimic integration time.
	TriggerDelay time.Duration
}

// NewMock returns a mock that replays the given readings in order.
func NewMock(readings ...Reading) *Mock {
	return &Mock{
		calls:    make(map[string]int),
		readings: readings,
	}
}

// FailOn makes the nth call (1-based) to the named method return err.
func (m *Mock) FailOn(method string, call int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failMethod = method
	m.failCall = call
	m.failErr = err
}

// record logs the call and returns the injected error when it is due.
func (m *Mock) record(method string) error {
	m.calls[method]++
	m.callLog = append(m.callLog, method)
	if method == m.failMethod && m.calls[method] == m.failCall {
		if m.failErr != nil {
			return m.failErr
		}
		return fmt.Errorf("mock: injected %s failure", method)
	}
	return nil
}

func (m *Mock) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("Reset")
}

func (m *Mock) SelectMeasurementMode() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("SelectMeasurementMode")
}

func (m *Mock) SetComplianceLimit(amps float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("SetComplianceLimit")
}

func (m *Mock) SetAveraging(count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("SetAveraging")
}

func (m *Mock) ArmOutput() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("ArmOutput")
}

func (m *Mock) SetExcitation(volts float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("SetExcitation"); err != nil {
		return err
	}
	m.excitations = append(m.excitations, volts)
	return nil
}

func (m *Mock) TriggerAndWait() error {
	m.mu.Lock()
	if err := m.record("TriggerAndWait"); err != nil {
		m.mu.Unlock()
		return err
	}
	if len(m.readings) > 0 {
		m.current = m.readings[m.nextReading]
		if m.nextReading < len(m.readings)-1 {
			m.nextReading++
		}
	}
	m.measured = true
	delay := m.TriggerDelay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return nil
}

func (m *Mock) MeanExcitation() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("MeanExcitation"); err != nil {
		return 0, err
	}
	if !m.measured {
		return 0, ErrNoMeasurement
	}
	return m.current.Excitation, nil
}

func (m *Mock) MeanResponse() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("MeanResponse"); err != nil {
		return 0, err
	}
	if !m.measured {
		return 0, ErrNoMeasurement
	}
	return m.current.Response, nil
}

func (m *Mock) StdResponse() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("StdResponse"); err != nil {
		return 0, err
	}
	if !m.measured {
		return 0, ErrNoMeasurement
	}
	return m.current.Std, nil
}

func (m *Mock) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("Shutdown"); err != nil {
		return err
	}
	m.shutdowns++
	return nil
}

// Shutdowns returns how many times Shutdown has been called.
func (m *Mock) Shutdowns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdowns
}

// Excitations returns every voltage passed to SetExcitation, in order.
func (m *Mock) Excitations() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.excitations))
	copy(out, m.excitations)
	return out
}

// Calls returns the ordered log of method invocations.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.callLog))
	copy(out, m.callLog)
	return out
}

// CallCount returns how many times the named method has been invoked.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}
