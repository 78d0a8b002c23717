// Package source adapts a live SensorGnome-style USB receiver, talking
// line-oriented records over a serial port, to a record.Reader. Grounded
// on the teacher's deleted internal/serialmux SerialPorter/SerialPortFactory
// abstraction: a tiny interface wrapping go.bug.st/serial so tests can
// substitute an in-memory port without opening real hardware.
package source

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/vhftag/tagfinder/internal/record"
	"github.com/vhftag/tagfinder/internal/timeutil"
)

// SerialPorter is the subset of serial.Port this package depends on.
type SerialPorter interface {
	io.ReadWriteCloser
}

// SerialPortFactory opens a named serial port at the given mode; the
// default implementation is OpenSerialPort, wrapping go.bug.st/serial.
type SerialPortFactory func(name string, mode *serial.Mode) (SerialPorter, error)

// OpenSerialPort is the default SerialPortFactory.
func OpenSerialPort(name string, mode *serial.Mode) (SerialPorter, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", name, err)
	}
	return p, nil
}

// DefaultMode matches the baud rate SensorGnome-style VHF receivers use
// for their line-oriented record stream.
var DefaultMode = &serial.Mode{BaudRate: 115200}

// Port is a live receiver ingestion source: a serial connection decoded
// into record.Record values as they arrive.
type Port struct {
	conn   SerialPorter
	reader *record.Reader
}

// Open opens name using factory (nil selects OpenSerialPort) and wraps
// it in a record.Reader.
func Open(name string, factory SerialPortFactory) (*Port, error) {
	if factory == nil {
		factory = OpenSerialPort
	}
	conn, err := factory(name, DefaultMode)
	if err != nil {
		return nil, err
	}
	return &Port{conn: conn, reader: record.NewReader(conn)}, nil
}

// Next returns the next decoded record from the port, blocking until
// one arrives, EOF if the connection closes, or a parse/IO error.
func (p *Port) Next() (*record.Record, error) {
	return p.reader.Next()
}

// Close closes the underlying serial connection.
func (p *Port) Close() error {
	return p.conn.Close()
}

// OpenWithRetry opens name like Open, but retries with doubling backoff
// (capped at maxBackoff) while attempts fail, using clk so tests can run
// without real sleeps. A USB receiver that is slow to enumerate after
// power-up otherwise fails a findtags run that started a few seconds early.
func OpenWithRetry(name string, factory SerialPortFactory, attempts int, backoff, maxBackoff time.Duration, clk timeutil.Clock) (*Port, error) {
	if clk == nil {
		clk = timeutil.RealClock{}
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		p, err := Open(name, factory)
		if err == nil {
			return p, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		clk.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return nil, fmt.Errorf("source: open %s after %d attempts: %w", name, attempts, lastErr)
}
