// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ina260

import (
	"encoding/binary"
	"fmt"
)

type access int

const (
	registerRO access = iota
	registerRW
)

// register describes one 16 bit register of the INA260. All registers are
// transferred big-endian, most significant byte first.
type register struct {
	addr   byte
	access access
}

var (
	regConfiguration  = register{0x00, registerRW}
	regCurrent        = register{0x01, registerRO}
	regBusVoltage     = register{0x02, registerRO}
	regPower          = register{0x03, registerRO}
	regMaskEnable     = register{0x06, registerRW}
	regAlertLimit     = register{0x07, registerRW}
	regManufacturerID = register{0xFE, registerRO}
	regDieID          = register{0xFF, registerRO}
)

// field is a named bit range within a register.
type field struct {
	reg   register
	shift uint
	width uint
}

func (f field) mask() uint16 {
	return uint16((1<<f.width)-1) << f.shift
}

// get extracts the field value from a full register word.
func (f field) get(word uint16) uint16 {
	return (word & f.mask()) >> f.shift
}

// put returns word with only the field's bits replaced by v.
func (f field) put(word, v uint16) uint16 {
	return (word &^ f.mask()) | (v << f.shift)
}

// fits reports whether v is representable in the field's width.
func (f field) fits(v uint16) bool {
	return v>>f.width == 0
}

var (
	fieldReset           = field{regConfiguration, 15, 1}
	fieldAveraging       = field{regConfiguration, 9, 3}
	fieldBusConvTime     = field{regConfiguration, 6, 3}
	fieldCurrentConvTime = field{regConfiguration, 3, 3}
	fieldMode            = field{regConfiguration, 0, 3}

	fieldDeviceID = field{regDieID, 4, 12}
	fieldRevision = field{regDieID, 0, 4}
)

// readRegister reads a full 16 bit register in a single transaction.
func (d *Dev) readRegister(r register) (uint16, error) {
	buf := make([]byte, 2)
	if err := d.d.Tx([]byte{r.addr}, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

// writeRegister writes a full 16 bit register in a single transaction.
func (d *Dev) writeRegister(r register, value uint16) error {
	if r.access != registerRW {
		return fmt.Errorf("ina260: register 0x%02X is read-only", r.addr)
	}
	w := make([]byte, 3)
	w[0] = r.addr
	binary.BigEndian.PutUint16(w[1:], value)
	return d.d.Tx(w, nil)
}

// readField reads the register holding f and extracts the field value.
func (d *Dev) readField(f field) (uint16, error) {
	word, err := d.readRegister(f.reg)
	if err != nil {
		return 0, err
	}
	return f.get(word), nil
}

// writeField updates only the bits of f, preserving the rest of the register
// with a read-modify-write sequence. The sequence is not atomic with respect
// to other users of the same bus; d.mu serializes it against this Dev's own
// accessors only.
func (d *Dev) writeField(f field, v uint16) error {
	if !f.fits(v) {
		return fmt.Errorf("%w: 0x%X exceeds %d bit field", ErrOutOfRange, v, f.width)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	word, err := d.readRegister(f.reg)
	if err != nil {
		return err
	}
	return d.writeRegister(f.reg, f.put(word, v))
}
