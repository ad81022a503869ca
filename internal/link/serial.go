package link

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// SerialOpener opens a serial port in 8N1 mode at the given baud rate.
func SerialOpener(portName string, baudRate int) Opener {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return func() (io.ReadWriteCloser, error) {
		port, err := serial.Open(portName, mode)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", portName, err)
		}
		// USB CDC ACM: co-processor firmware waits for DTR/RTS.
		_ = port.SetDTR(true)
		_ = port.SetRTS(true)
		return port, nil
	}
}

// Ports lists the serial ports present on the host.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}
