// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ina260

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// DefaultAddr is the factory-strapped I²C address of the INA260. Boards with
// the address-select pins rewired use 0x41-0x4F.
const DefaultAddr uint16 = 0x40

const (
	// Value of the manufacturer ID register, "TI" in ASCII.
	manufacturerID uint16 = 0x5449
	// Value of the device ID bits of the die ID register.
	deviceID uint16 = 0x227
)

var (
	// ErrOutOfRange is returned when a value cannot be represented in the
	// target register's raw encoding. No bus transaction has been issued
	// when this error is returned.
	ErrOutOfRange = errors.New("value out of range")

	// ErrWrongDevice is returned by NewI2C when the chip at the given
	// address does not identify as a TI INA260.
	ErrWrongDevice = errors.New("unexpected device identification")

	// ErrTimeout is returned by Trigger when the conversion ready flag is
	// not raised in time.
	ErrTimeout = errors.New("timed out waiting for conversion")
)

// Fixed scale factors from the datasheet. One count of the respective data
// register stands for one LSB.
const (
	currentLSB physic.ElectricCurrent   = 1250 * physic.MicroAmpere
	voltageLSB physic.ElectricPotential = 1250 * physic.MicroVolt
	powerLSB   physic.Power             = 10 * physic.MilliWatt
)

// Mode is the operating mode set in the configuration register.
type Mode uint16

const (
	// ModeShutdown turns off current into the device inputs. Set another
	// mode to re-enable measurements.
	ModeShutdown Mode = 0x0
	// ModeTriggered performs a single conversion of current, bus voltage
	// and power. Re-set this mode to trigger another conversion.
	ModeTriggered Mode = 0x3
	// ModeContinuous continuously measures current, bus voltage and power.
	// This is the power-on default.
	ModeContinuous Mode = 0x7
)

// ConversionTime selects the ADC conversion time for the bus voltage or the
// current measurement.
type ConversionTime uint16

const (
	Time140us  ConversionTime = 0x0
	Time204us  ConversionTime = 0x1
	Time332us  ConversionTime = 0x2
	Time588us  ConversionTime = 0x3
	Time1ms1   ConversionTime = 0x4 // power-on default
	Time2ms116 ConversionTime = 0x5
	Time4ms156 ConversionTime = 0x6
	Time8ms244 ConversionTime = 0x7
)

// Duration returns the conversion time the selector stands for.
func (c ConversionTime) Duration() time.Duration {
	switch c {
	case Time140us:
		return 140 * time.Microsecond
	case Time204us:
		return 204 * time.Microsecond
	case Time332us:
		return 332 * time.Microsecond
	case Time588us:
		return 588 * time.Microsecond
	case Time1ms1:
		return 1100 * time.Microsecond
	case Time2ms116:
		return 2116 * time.Microsecond
	case Time4ms156:
		return 4156 * time.Microsecond
	case Time8ms244:
		return 8244 * time.Microsecond
	}
	return 0
}

// AveragingCount selects the window size of the rolling average applied to
// all measurements.
type AveragingCount uint16

const (
	Average1    AveragingCount = 0x0 // power-on default
	Average4    AveragingCount = 0x1
	Average16   AveragingCount = 0x2
	Average64   AveragingCount = 0x3
	Average128  AveragingCount = 0x4
	Average256  AveragingCount = 0x5
	Average512  AveragingCount = 0x6
	Average1024 AveragingCount = 0x7
)

// Count returns the number of samples averaged per measurement.
func (a AveragingCount) Count() int {
	switch a {
	case Average1:
		return 1
	case Average4:
		return 4
	case Average16:
		return 16
	case Average64:
		return 64
	case Average128:
		return 128
	case Average256:
		return 256
	case Average512:
		return 512
	case Average1024:
		return 1024
	}
	return 0
}

// AlertFlag is a set of bits of the mask/enable register.
type AlertFlag uint16

const (
	// AlertOverCurrent asserts the ALERT pin if a current conversion
	// exceeds the alert limit register.
	AlertOverCurrent AlertFlag = 1 << 15
	// AlertUnderCurrent asserts the ALERT pin if a current conversion
	// drops below the alert limit register.
	AlertUnderCurrent AlertFlag = 1 << 14
	// AlertBusOverVoltage asserts the ALERT pin if a bus voltage
	// conversion exceeds the alert limit register.
	AlertBusOverVoltage AlertFlag = 1 << 13
	// AlertBusUnderVoltage asserts the ALERT pin if a bus voltage
	// conversion drops below the alert limit register.
	AlertBusUnderVoltage AlertFlag = 1 << 12
	// AlertPowerOverLimit asserts the ALERT pin if a power calculation
	// exceeds the alert limit register.
	AlertPowerOverLimit AlertFlag = 1 << 11
	// AlertConversionReady asserts the ALERT pin when a conversion
	// completes.
	AlertConversionReady AlertFlag = 1 << 10
	// AlertPolarityActiveHigh makes the ALERT pin an active-high open
	// collector instead of the active-low default.
	AlertPolarityActiveHigh AlertFlag = 1 << 1
	// AlertLatchEnable latches the ALERT pin and flag bits until the
	// mask/enable register is read.
	AlertLatchEnable AlertFlag = 1 << 0
)

// Read-only status bits of the mask/enable register.
const (
	flagAlertFunction   uint16 = 1 << 4
	flagConversionReady uint16 = 1 << 3
	flagMathOverflow    uint16 = 1 << 2
)

const alertWritableMask = AlertOverCurrent | AlertUnderCurrent |
	AlertBusOverVoltage | AlertBusUnderVoltage | AlertPowerOverLimit |
	AlertConversionReady | AlertPolarityActiveHigh | AlertLatchEnable

// Bits 14-12 of the configuration register are reserved and read back as
// 0b110. They are kept at that value on every full configuration write.
const configReserved uint16 = 0x6000

// Measurement is one set of readings from the three data registers.
type Measurement struct {
	Voltage physic.ElectricPotential
	Current physic.ElectricCurrent
	Power   physic.Power
}

// Opts is the initial configuration written to the device by NewI2C. A nil
// Opts leaves the device configuration untouched.
type Opts struct {
	Mode                  Mode
	AveragingCount        AveragingCount
	VoltageConversionTime ConversionTime
	CurrentConversionTime ConversionTime
}

// DefaultOpts matches the power-on defaults of the chip.
var DefaultOpts = Opts{
	Mode:                  ModeContinuous,
	AveragingCount:        Average1,
	VoltageConversionTime: Time1ms1,
	CurrentConversionTime: Time1ms1,
}

func (o *Opts) word() uint16 {
	return configReserved |
		uint16(o.AveragingCount)<<9 |
		uint16(o.VoltageConversionTime)<<6 |
		uint16(o.CurrentConversionTime)<<3 |
		uint16(o.Mode)
}

// Dev is a handle to an INA260 power monitor.
//
// The driver performs no caching: every accessor is one bus transaction,
// except the Set accessors for configuration and alert bits which
// read-modify-write their register. The mutex serializes those sequences
// against other calls on the same Dev only; sharing the bus with another
// writer of the same chip is the caller's problem.
type Dev struct {
	d  *i2c.Dev
	mu sync.Mutex
}

// NewI2C returns a handle to an INA260 on the given bus. The manufacturer
// and device IDs are read back to verify the wiring; ErrWrongDevice is
// returned when another chip answers. If opts is not nil, the configuration
// register is written once with the requested settings.
func NewI2C(b i2c.Bus, addr uint16, opts *Opts) (*Dev, error) {
	d := &Dev{d: &i2c.Dev{Bus: b, Addr: addr}}

	mfg, err := d.readRegister(regManufacturerID)
	if err != nil {
		return nil, err
	}
	if mfg != manufacturerID {
		return nil, fmt.Errorf("%w: manufacturer ID 0x%04X, want 0x%04X", ErrWrongDevice, mfg, manufacturerID)
	}
	die, err := d.readRegister(regDieID)
	if err != nil {
		return nil, err
	}
	if fieldDeviceID.get(die) != deviceID {
		return nil, fmt.Errorf("%w: device ID 0x%03X, want 0x%03X", ErrWrongDevice, fieldDeviceID.get(die), deviceID)
	}

	if opts != nil {
		if err := d.writeRegister(regConfiguration, opts.word()); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Current returns the current flowing between V+ and V-. The register is
// two's complement, negative when current flows out of the bus.
func (d *Dev) Current() (physic.ElectricCurrent, error) {
	raw, err := d.readRegister(regCurrent)
	if err != nil {
		return 0, err
	}
	return physic.ElectricCurrent(int16(raw)) * currentLSB, nil
}

// Voltage returns the bus voltage.
func (d *Dev) Voltage() (physic.ElectricPotential, error) {
	raw, err := d.readRegister(regBusVoltage)
	if err != nil {
		return 0, err
	}
	return physic.ElectricPotential(raw) * voltageLSB, nil
}

// Power returns the power delivered to the load.
func (d *Dev) Power() (physic.Power, error) {
	raw, err := d.readRegister(regPower)
	if err != nil {
		return 0, err
	}
	return physic.Power(raw) * powerLSB, nil
}

// Read returns the three data registers in one call, voltage first. The
// three reads are separate transactions, so the values may belong to
// different conversions.
func (d *Dev) Read() (Measurement, error) {
	var m Measurement
	var err error
	if m.Voltage, err = d.Voltage(); err != nil {
		return Measurement{}, err
	}
	if m.Current, err = d.Current(); err != nil {
		return Measurement{}, err
	}
	if m.Power, err = d.Power(); err != nil {
		return Measurement{}, err
	}
	return m, nil
}

// Mode returns the operating mode.
func (d *Dev) Mode() (Mode, error) {
	v, err := d.readField(fieldMode)
	return Mode(v), err
}

// SetMode sets the operating mode, preserving the rest of the configuration
// register.
func (d *Dev) SetMode(m Mode) error {
	return d.writeField(fieldMode, uint16(m))
}

// AveragingCount returns the averaging window size.
func (d *Dev) AveragingCount() (AveragingCount, error) {
	v, err := d.readField(fieldAveraging)
	return AveragingCount(v), err
}

// SetAveragingCount sets the averaging window size.
func (d *Dev) SetAveragingCount(a AveragingCount) error {
	return d.writeField(fieldAveraging, uint16(a))
}

// VoltageConversionTime returns the bus voltage conversion time.
func (d *Dev) VoltageConversionTime() (ConversionTime, error) {
	v, err := d.readField(fieldBusConvTime)
	return ConversionTime(v), err
}

// SetVoltageConversionTime sets the bus voltage conversion time.
func (d *Dev) SetVoltageConversionTime(c ConversionTime) error {
	return d.writeField(fieldBusConvTime, uint16(c))
}

// CurrentConversionTime returns the current conversion time.
func (d *Dev) CurrentConversionTime() (ConversionTime, error) {
	v, err := d.readField(fieldCurrentConvTime)
	return ConversionTime(v), err
}

// SetCurrentConversionTime sets the current conversion time.
func (d *Dev) SetCurrentConversionTime(c ConversionTime) error {
	return d.writeField(fieldCurrentConvTime, uint16(c))
}

// Reset generates a system reset, restoring all registers to their power-on
// defaults. A single write setting only the reset bit is issued; the driver
// does not read back to verify, the chip clears the bit itself.
func (d *Dev) Reset() error {
	return d.writeRegister(regConfiguration, fieldReset.mask())
}

// Alerts returns the full mask/enable register, enable bits and status
// flags. When AlertLatchEnable is set, this read clears a latched alert.
func (d *Dev) Alerts() (AlertFlag, error) {
	v, err := d.readRegister(regMaskEnable)
	return AlertFlag(v), err
}

// EnableAlerts sets the given alert enable bits, preserving all other bits
// of the mask/enable register. Only one alert function should be enabled at
// a time; with several set, the highest bit position wins. Flags that are
// not writable return ErrOutOfRange before any bus transaction.
func (d *Dev) EnableAlerts(flags AlertFlag) error {
	return d.updateAlerts(flags, true)
}

// DisableAlerts clears the given alert enable bits, preserving all other
// bits of the mask/enable register.
func (d *Dev) DisableAlerts(flags AlertFlag) error {
	return d.updateAlerts(flags, false)
}

func (d *Dev) updateAlerts(flags AlertFlag, enable bool) error {
	if flags&^alertWritableMask != 0 {
		return fmt.Errorf("%w: 0x%04X contains read-only mask/enable bits", ErrOutOfRange, uint16(flags))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	word, err := d.readRegister(regMaskEnable)
	if err != nil {
		return err
	}
	if enable {
		word |= uint16(flags)
	} else {
		word &^= uint16(flags)
	}
	return d.writeRegister(regMaskEnable, word)
}

// ConversionReady reports whether the last triggered conversion, averaging
// and multiplication are complete. The flag clears when the configuration
// register is written or the mask/enable register is read.
func (d *Dev) ConversionReady() (bool, error) {
	v, err := d.readRegister(regMaskEnable)
	return v&flagConversionReady != 0, err
}

// AlertFunctionTriggered reports whether the enabled alert function was the
// source of the last ALERT pin assertion.
func (d *Dev) AlertFunctionTriggered() (bool, error) {
	v, err := d.readRegister(regMaskEnable)
	return v&flagAlertFunction != 0, err
}

// MathOverflow reports whether an internal arithmetic operation overflowed,
// invalidating the power and current data.
func (d *Dev) MathOverflow() (bool, error) {
	v, err := d.readRegister(regMaskEnable)
	return v&flagMathOverflow != 0, err
}

// AlertLimit returns the raw alert limit register. Its encoding matches the
// data register of the enabled alert function.
func (d *Dev) AlertLimit() (uint16, error) {
	return d.readRegister(regAlertLimit)
}

// SetAlertLimit writes the raw alert limit register.
func (d *Dev) SetAlertLimit(limit uint16) error {
	return d.writeRegister(regAlertLimit, limit)
}

// SetCurrentAlertLimit writes the alert limit for the over/under current
// alert functions. Limits outside ±40.96A return ErrOutOfRange without
// touching the bus.
func (d *Dev) SetCurrentAlertLimit(limit physic.ElectricCurrent) error {
	counts := int64(limit) / int64(currentLSB)
	if counts < -0x8000 || counts > 0x7FFF {
		return fmt.Errorf("%w: %s is not representable as a current limit", ErrOutOfRange, limit)
	}
	return d.writeRegister(regAlertLimit, uint16(int16(counts)))
}

// SetVoltageAlertLimit writes the alert limit for the bus voltage alert
// functions. Limits outside 0V-81.91875V return ErrOutOfRange without
// touching the bus.
func (d *Dev) SetVoltageAlertLimit(limit physic.ElectricPotential) error {
	counts := int64(limit) / int64(voltageLSB)
	if limit < 0 || counts > 0xFFFF {
		return fmt.Errorf("%w: %s is not representable as a voltage limit", ErrOutOfRange, limit)
	}
	return d.writeRegister(regAlertLimit, uint16(counts))
}

// SetPowerAlertLimit writes the alert limit for the power over-limit alert
// function. Limits outside 0W-655.35W return ErrOutOfRange without touching
// the bus.
func (d *Dev) SetPowerAlertLimit(limit physic.Power) error {
	counts := int64(limit) / int64(powerLSB)
	if limit < 0 || counts > 0xFFFF {
		return fmt.Errorf("%w: %s is not representable as a power limit", ErrOutOfRange, limit)
	}
	return d.writeRegister(regAlertLimit, uint16(counts))
}

// ManufacturerID returns the manufacturer ID register, 0x5449 ("TI") on a
// genuine part.
func (d *Dev) ManufacturerID() (uint16, error) {
	return d.readRegister(regManufacturerID)
}

// DieID returns the raw die ID register, device ID and revision combined.
func (d *Dev) DieID() (uint16, error) {
	return d.readRegister(regDieID)
}

// DeviceID returns the device identification bits of the die ID register,
// 0x227 for the INA260.
func (d *Dev) DeviceID() (uint16, error) {
	return d.readField(fieldDeviceID)
}

// Revision returns the die revision bits of the die ID register.
func (d *Dev) Revision() (uint8, error) {
	v, err := d.readField(fieldRevision)
	return uint8(v), err
}

// Trigger starts a one-shot conversion and blocks until the conversion
// ready flag is raised or the timeout expires. A timeout of 0 polls
// forever. After a successful Trigger the data registers hold the results
// of the completed conversion until the next trigger.
func (d *Dev) Trigger(timeout time.Duration) error {
	if err := d.SetMode(ModeTriggered); err != nil {
		return err
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		ready, err := d.ConversionReady()
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
		if timeout > 0 && time.Now().After(deadline) {
			return ErrTimeout
		}
		time.Sleep(time.Millisecond)
	}
}

// Halt puts the device in shutdown mode, reducing the quiescent current.
// Set a mode to re-enable measurements. Implements conn.Resource.
func (d *Dev) Halt() error {
	return d.SetMode(ModeShutdown)
}

// String implements conn.Resource.
func (d *Dev) String() string {
	return fmt.Sprintf("ina260: %s", d.d.String())
}

var _ conn.Resource = &Dev{}
