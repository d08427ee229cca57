package sourcemeter

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrNoMeasurement is returned by the statistics accessors before the
	// first successful TriggerAndWait.
	ErrNoMeasurement = errors.New("sourcemeter: no measurement available")
	// ErrMeasurementTimeout is returned when the instrument buffer does not
	// fill within the driver's deadline.
	ErrMeasurementTimeout = errors.New("sourcemeter: timed out waiting for measurement buffer")
)

// pollInterval is how often TriggerAndWait checks the trace buffer fill level.
const pollInterval = 50 * time.Millisecond

// Keithley2400 drives a Keithley 2400-class source-meter over RS-232 using
// SCPI. One averaged measurement fills the instrument's trace buffer with
// `averages` voltage/current pairs which the driver reads back and reduces.
type Keithley2400 struct {
	port     serial.Port
	reader   *bufio.Reader
	averages int

	// readings from the last TriggerAndWait
	volts []float64
	amps  []float64
}

// Open connects to the source-meter on the given serial port.
func Open(portName string) (*Keithley2400, error) {
	mode := &serial.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: 1,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(2 * time.Second); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", portName, err)
	}
	return NewKeithley2400(port), nil
}

// NewKeithley2400 wraps an already-open port. Tests use this with a mock port.
func NewKeithley2400(port serial.Port) *Keithley2400 {
	return &Keithley2400{
		port:     port,
		reader:   bufio.NewReader(port),
		averages: 1,
	}
}

// write sends one SCPI command, terminated with a newline.
func (k *Keithley2400) write(command string) error {
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := k.port.Write([]byte(command))
	if err != nil {
		return fmt.Errorf("write %q: %w", strings.TrimSpace(command), err)
	}
	if n != len(command) {
		return fmt.Errorf("write %q: short write (%d of %d bytes)", strings.TrimSpace(command), n, len(command))
	}
	return nil
}

// query sends a command and reads one response line.
func (k *Keithley2400) query(command string) (string, error) {
	if err := k.write(command); err != nil {
		return "", err
	}
	line, err := k.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("query %q: %w", command, err)
	}
	return strings.TrimSpace(line), nil
}

// Reset returns the instrument to its power-on state on the front terminals.
func (k *Keithley2400) Reset() error {
	for _, command := range []string{
		"*RST",
		":ROUT:TERM FRON",
	} {
		if err := k.write(command); err != nil {
			return err
		}
	}
	return nil
}

// SelectMeasurementMode configures voltage sourcing with DC current sensing.
// Trace data is returned as voltage/current pairs.
func (k *Keithley2400) SelectMeasurementMode() error {
	for _, command := range []string{
		":SOUR:FUNC VOLT",
		":SENS:FUNC \"CURR:DC\"",
		":SENS:CURR:DC:RANG:AUTO ON",
		":FORM:ELEM VOLT,CURR",
	} {
		if err := k.write(command); err != nil {
			return err
		}
	}
	return nil
}

// SetComplianceLimit caps the sensed current.
func (k *Keithley2400) SetComplianceLimit(amps float64) error {
	return k.write(fmt.Sprintf(":SENS:CURR:PROT %g", amps))
}

// SetAveraging sizes the trace buffer so each triggered measurement collects
// count samples.
func (k *Keithley2400) SetAveraging(count int) error {
	if count < 1 {
		return fmt.Errorf("sourcemeter: averaging count must be >= 1, got %d", count)
	}
	for _, command := range []string{
		":TRAC:CLE",
		fmt.Sprintf(":TRAC:POIN %d", count),
		fmt.Sprintf(":TRIG:COUN %d", count),
		":TRAC:FEED SENS",
		":TRAC:FEED:CONT NEXT",
	} {
		if err := k.write(command); err != nil {
			return err
		}
	}
	k.averages = count
	return nil
}

// ArmOutput enables the source output.
func (k *Keithley2400) ArmOutput() error {
	return k.write(":OUTP ON")
}

// SetExcitation applies the given source voltage.
func (k *Keithley2400) SetExcitation(volts float64) error {
	return k.write(fmt.Sprintf(":SOUR:VOLT:LEV %g", volts))
}

// TriggerAndWait starts one buffered measurement and blocks until the trace
// buffer holds a full set of samples, then reads them back. The deadline
// scales with the averaging count so slow integration settings do not trip it.
func (k *Keithley2400) TriggerAndWait() error {
	for _, command := range []string{
		":TRAC:CLE",
		":TRAC:FEED:CONT NEXT",
		":INIT",
	} {
		if err := k.write(command); err != nil {
			return err
		}
	}

	deadline := time.Now().Add(time.Duration(k.averages) * time.Second)
	for {
		resp, err := k.query(":TRAC:POIN:ACT?")
		if err != nil {
			return err
		}
		filled, err := strconv.Atoi(resp)
		if err != nil {
			return fmt.Errorf("parse buffer fill level %q: %w", resp, err)
		}
		if filled >= k.averages {
			break
		}
		if time.Now().After(deadline) {
			return ErrMeasurementTimeout
		}
		time.Sleep(pollInterval)
	}

	data, err := k.query(":TRAC:DATA?")
	if err != nil {
		return err
	}
	volts, amps, err := parseTraceData(data)
	if err != nil {
		return err
	}
	if len(volts) == 0 {
		return fmt.Errorf("sourcemeter: empty trace buffer response %q", data)
	}
	k.volts, k.amps = volts, amps
	return nil
}

// parseTraceData splits a trace readback into voltage and current columns.
// The instrument interleaves the elements selected by :FORM:ELEM, so the
// response alternates voltage, current, voltage, current.
func parseTraceData(data string) (volts, amps []float64, err error) {
	fields := strings.Split(data, ",")
	if len(fields)%2 != 0 {
		return nil, nil, fmt.Errorf("sourcemeter: odd trace element count %d", len(fields))
	}
	for i := 0; i+1 < len(fields); i += 2 {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return nil, nil, fmt.Errorf("parse voltage %q: %w", fields[i], err)
		}
		a, err := strconv.ParseFloat(strings.TrimSpace(fields[i+1]), 64)
		if err != nil {
			return nil, nil, fmt.Errorf("parse current %q: %w", fields[i+1], err)
		}
		volts = append(volts, v)
		amps = append(amps, a)
	}
	return volts, amps, nil
}

// MeanExcitation returns the mean sourced voltage of the last measurement.
func (k *Keithley2400) MeanExcitation() (float64, error) {
	if len(k.volts) == 0 {
		return 0, ErrNoMeasurement
	}
	return stat.Mean(k.volts, nil), nil
}

// MeanResponse returns the mean measured current of the last measurement.
func (k *Keithley2400) MeanResponse() (float64, error) {
	if len(k.amps) == 0 {
		return 0, ErrNoMeasurement
	}
	return stat.Mean(k.amps, nil), nil
}

// StdResponse returns the standard deviation of the measured current. With a
// single sample it reports zero rather than gonum's NaN.
func (k *Keithley2400) StdResponse() (float64, error) {
	if len(k.amps) == 0 {
		return 0, ErrNoMeasurement
	}
	if len(k.amps) == 1 {
		return 0, nil
	}
	return stat.StdDev(k.amps, nil), nil
}

// Shutdown ramps the source to zero, disables the output and closes the port.
func (k *Keithley2400) Shutdown() error {
	var firstErr error
	for _, command := range []string{
		":SOUR:VOLT:LEV 0",
		":OUTP OFF",
	} {
		if err := k.write(command); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := k.port.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
