// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ina260 controls a Texas Instruments INA260 current, voltage and
// power monitor over an I²C bus.
//
// The INA260 integrates a 2mΩ shunt, so no calibration is required: the
// chip reports current with a 1.25mA resolution, bus voltage with a 1.25mV
// resolution and power with a 10mW resolution, up to 36V and ±15A.
//
// # Datasheet
//
// https://www.ti.com/lit/ds/symlink/ina260.pdf
package ina260
