package sourcemeter

import (
	"bytes"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"go.bug.st/serial"
)

// scriptPort implements serial.Port for driver tests. Writes are captured and
// each query consumes the next scripted response line.
type scriptPort struct {
	writes    bytes.Buffer
	responses []string
	pending   bytes.Buffer
	closed    bool
}

func (p *scriptPort) Read(b []byte) (int, error) {
	if p.pending.Len() == 0 {
		if len(p.responses) == 0 {
			return 0, io.EOF
		}
		p.pending.WriteString(p.responses[0] + "\r\n")
		p.responses = p.responses[1:]
	}
	return p.pending.Read(b)
}

func (p *scriptPort) Write(b []byte) (int, error) {
	return p.writes.Write(b)
}

func (p *scriptPort) Close() error {
	p.closed = true
	return nil
}

func (p *scriptPort) SetMode(mode *serial.Mode) error                      { return nil }
func (p *scriptPort) Drain() error                                         { return nil }
func (p *scriptPort) ResetInputBuffer() error                              { return nil }
func (p *scriptPort) ResetOutputBuffer() error                             { return nil }
func (p *scriptPort) SetDTR(dtr bool) error                                { return nil }
func (p *scriptPort) SetRTS(rts bool) error                                { return nil }
func (p *scriptPort) GetModemStatusBits() (*serial.ModemStatusBits, error) { return nil, nil }
func (p *scriptPort) SetReadTimeout(t time.Duration) error                 { return nil }
func (p *scriptPort) Break(d time.Duration) error                          { return nil }

func TestTriggerAndWaitReadsBuffer(t *testing.T) {
	port := &scriptPort{responses: []string{
		"2", // :TRAC:POIN:ACT?
		"0.5,0.001,0.5,0.003", // :TRAC:DATA? (volt,curr pairs)
	}}
	k := NewKeithley2400(port)
	if err := k.SetAveraging(2); err != nil {
		t.Fatalf("SetAveraging: %v", err)
	}

	if err := k.TriggerAndWait(); err != nil {
		t.Fatalf("TriggerAndWait: %v", err)
	}

	volts, err := k.MeanExcitation()
	if err != nil {
		t.Fatalf("MeanExcitation: %v", err)
	}
	if volts != 0.5 {
		t.Errorf("mean excitation = %v, want 0.5", volts)
	}

	amps, err := k.MeanResponse()
	if err != nil {
		t.Fatalf("MeanResponse: %v", err)
	}
	if amps != 0.002 {
		t.Errorf("mean response = %v, want 0.002", amps)
	}

	std, err := k.StdResponse()
	if err != nil {
		t.Fatalf("StdResponse: %v", err)
	}
	// sample standard deviation of {0.001, 0.003}
	if math.Abs(std-0.0014142135623730952) > 1e-12 {
		t.Errorf("response std = %v", std)
	}
}

func TestTriggerAndWaitTimesOutOnShortBuffer(t *testing.T) {
	// driver deadline is averages seconds; keep averages at 1 so the test is
	// quick and the buffer never fills
	port := &scriptPort{responses: []string{"0"}}
	k := NewKeithley2400(port)

	err := k.TriggerAndWait()
	if err == nil {
		t.Fatal("expected an error from an unfilled buffer")
	}
}

func TestStatisticsBeforeMeasurement(t *testing.T) {
	k := NewKeithley2400(&scriptPort{})
	if _, err := k.MeanExcitation(); !errors.Is(err, ErrNoMeasurement) {
		t.Errorf("MeanExcitation error = %v, want ErrNoMeasurement", err)
	}
	if _, err := k.MeanResponse(); !errors.Is(err, ErrNoMeasurement) {
		t.Errorf("MeanResponse error = %v, want ErrNoMeasurement", err)
	}
	if _, err := k.StdResponse(); !errors.Is(err, ErrNoMeasurement) {
		t.Errorf("StdResponse error = %v, want ErrNoMeasurement", err)
	}
}

func TestConfigurationCommands(t *testing.T) {
	port := &scriptPort{}
	k := NewKeithley2400(port)

	if err := k.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := k.SelectMeasurementMode(); err != nil {
		t.Fatalf("SelectMeasurementMode: %v", err)
	}
	if err := k.SetComplianceLimit(0.5); err != nil {
		t.Fatalf("SetComplianceLimit: %v", err)
	}
	if err := k.SetAveraging(5); err != nil {
		t.Fatalf("SetAveraging: %v", err)
	}
	if err := k.ArmOutput(); err != nil {
		t.Fatalf("ArmOutput: %v", err)
	}
	if err := k.SetExcitation(0.25); err != nil {
		t.Fatalf("SetExcitation: %v", err)
	}

	got := port.writes.String()
	for _, want := range []string{
		"*RST",
		":SOUR:FUNC VOLT",
		":SENS:CURR:PROT 0.5",
		":TRAC:POIN 5",
		":TRIG:COUN 5",
		":OUTP ON",
		":SOUR:VOLT:LEV 0.25",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("command stream missing %q:\n%s", want, got)
		}
	}
}

func TestShutdownZeroesOutputAndClosesPort(t *testing.T) {
	port := &scriptPort{}
	k := NewKeithley2400(port)

	if err := k.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !port.closed {
		t.Error("Shutdown did not close the port")
	}
	got := port.writes.String()
	if !strings.Contains(got, ":SOUR:VOLT:LEV 0") || !strings.Contains(got, ":OUTP OFF") {
		t.Errorf("Shutdown command stream = %q", got)
	}
}

func TestParseTraceDataRejectsOddFields(t *testing.T) {
	if _, _, err := parseTraceData("0.5,0.001,0.7"); err == nil {
		t.Error("expected an error for an odd element count")
	}
	if _, _, err := parseTraceData("0.5,bogus"); err == nil {
		t.Error("expected an error for a non-numeric element")
	}
}
