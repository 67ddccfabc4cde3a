// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ina260_test

import (
	"log"
	"time"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"periph.io/x/ina260"
)

func Example() {
	// Make sure periph is initialized.
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}

	// Open default I²C bus.
	bus, err := i2creg.Open("")
	if err != nil {
		log.Fatalf("failed to open I²C: %v", err)
	}
	defer bus.Close()

	// Connect to the monitor, averaging 16 samples per reading.
	dev, err := ina260.NewI2C(bus, ina260.DefaultAddr, &ina260.Opts{
		Mode:                  ina260.ModeContinuous,
		AveragingCount:        ina260.Average16,
		VoltageConversionTime: ina260.Time1ms1,
		CurrentConversionTime: ina260.Time1ms1,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer dev.Halt()

	for i := 0; i < 10; i++ {
		m, err := dev.Read()
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("%s  %s  %s", m.Voltage, m.Current, m.Power)
		time.Sleep(time.Second)
	}
}
