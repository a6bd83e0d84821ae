package targeting

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"apis-edge-go/internal/models"
)

// Driver is the hardware boundary for the pan/tilt servos and the laser
// enable line. The gate is the only caller with laser authority; everything
// else reads state. Implementations must be safe for concurrent use because
// the kill switch path can force the laser off from outside the control
// cycle.
type Driver interface {
	Move(pos models.ServoPosition) error
	SetLaser(on bool) error
	// KillSwitchEngaged reflects the physical interlock line.
	KillSwitchEngaged() bool
	// SupplyVoltageMV returns the measured rail voltage, or 0 when the
	// hardware cannot report one.
	SupplyVoltageMV() int
	Close() error
}

// SimDriver is the in-memory driver used when no actuator port is
// configured, and by tests. It records the last commanded state and lets
// callers inject kill switch and voltage readings.
type SimDriver struct {
	mu        sync.Mutex
	position  models.ServoPosition
	laserOn   bool
	moveCount int

	killSwitch atomic.Bool
	voltageMV  atomic.Int64
}

func NewSimDriver() *SimDriver {
	d := &SimDriver{}
	d.voltageMV.Store(5000)
	return d
}

func (d *SimDriver) Move(pos models.ServoPosition) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.position = pos
	d.moveCount++
	return nil
}

func (d *SimDriver) SetLaser(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.laserOn = on
	return nil
}

func (d *SimDriver) KillSwitchEngaged() bool { return d.killSwitch.Load() }
func (d *SimDriver) SupplyVoltageMV() int    { return int(d.voltageMV.Load()) }
func (d *SimDriver) Close() error            { return nil }

// SetKillSwitch injects the interlock state.
func (d *SimDriver) SetKillSwitch(engaged bool) { d.killSwitch.Store(engaged) }

// SetVoltage injects a supply voltage reading.
func (d *SimDriver) SetVoltage(mv int) { d.voltageMV.Store(int64(mv)) }

// Position returns the last commanded servo position.
func (d *SimDriver) Position() models.ServoPosition {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.position
}

// LaserOn returns the last commanded laser state.
func (d *SimDriver) LaserOn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.laserOn
}

// MoveCount returns how many servo commands were issued.
func (d *SimDriver) MoveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.moveCount
}

// SerialDriver speaks the line protocol of the servo controller over a tty:
// commands are written as "P<pan> T<tilt>" and "L0"/"L1" lines, while the
// controller pushes "K0"/"K1" interlock and "V<millivolts>" telemetry lines
// that a background reader folds into atomics.
type SerialDriver struct {
	mu     sync.Mutex
	port   *os.File
	logger zerolog.Logger

	killSwitch atomic.Bool
	voltageMV  atomic.Int64
	closed     atomic.Bool
}

func NewSerialDriver(path string, logger zerolog.Logger) (*SerialDriver, error) {
	port, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening actuator port %s: %w", path, err)
	}
	d := &SerialDriver{port: port, logger: logger}
	go d.readLoop()
	return d, nil
}

func (d *SerialDriver) Move(pos models.ServoPosition) error {
	return d.writeLine(fmt.Sprintf("P%.2f T%.2f", pos.PanDeg, pos.TiltDeg))
}

func (d *SerialDriver) SetLaser(on bool) error {
	if on {
		return d.writeLine("L1")
	}
	return d.writeLine("L0")
}

func (d *SerialDriver) KillSwitchEngaged() bool { return d.killSwitch.Load() }
func (d *SerialDriver) SupplyVoltageMV() int    { return int(d.voltageMV.Load()) }

func (d *SerialDriver) Close() error {
	d.closed.Store(true)
	// Laser off is the last word on the wire.
	_ = d.writeLine("L0")
	return d.port.Close()
}

func (d *SerialDriver) writeLine(line string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.port.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("writing actuator command: %w", err)
	}
	return nil
}

func (d *SerialDriver) readLoop() {
	scanner := bufio.NewScanner(d.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "K0":
			d.killSwitch.Store(false)
		case line == "K1":
			d.killSwitch.Store(true)
		case strings.HasPrefix(line, "V"):
			if mv, err := strconv.Atoi(line[1:]); err == nil {
				d.voltageMV.Store(int64(mv))
			}
		}
	}
	if !d.closed.Load() {
		d.logger.Error().Err(scanner.Err()).Msg("Actuator port reader stopped")
	}
}
