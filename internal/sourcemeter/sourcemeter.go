// Package sourcemeter talks to a programmable voltage-source/current-meter.
// The real driver speaks SCPI to a Keithley 2400-class instrument over a
// serial port; a mock implementation backs the tests.
package sourcemeter

// Instrument is the capability the sweep controller consumes: configure the
// instrument, set an excitation, trigger one averaged measurement and read the
// statistics back. Any call may fail with a transport error.
type Instrument interface {
	// Reset returns the instrument to a known power-on state.
	Reset() error
	// SelectMeasurementMode sets up voltage sourcing with current sensing.
	SelectMeasurementMode() error
	// SetComplianceLimit caps the measured current in amps.
	SetComplianceLimit(amps float64) error
	// SetAveraging sets the number of samples averaged per measurement.
	SetAveraging(count int) error
	// ArmOutput enables the source output.
	ArmOutput() error
	// SetExcitation applies the given source voltage.
	SetExcitation(volts float64) error
	// TriggerAndWait starts one averaged measurement and blocks until the
	// instrument's buffer is ready or its own timeout expires.
	TriggerAndWait() error
	// MeanExcitation returns the mean sourced voltage of the last measurement.
	MeanExcitation() (float64, error)
	// MeanResponse returns the mean measured current of the last measurement.
	MeanResponse() (float64, error)
	// StdResponse returns the standard deviation of the measured current.
	StdResponse() (float64, error)
	// Shutdown de-energizes the output and closes the connection.
	Shutdown() error
}
