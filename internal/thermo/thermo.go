// Package thermo reads an optional DS18B20 temperature sensor on the 1-wire bus.
package thermo

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultBusPath is the sysfs directory of the first 1-wire bus master.
const DefaultBusPath = "/sys/bus/w1/devices/w1_bus_master1"

// ErrNoSensor is returned by Discover when no slave is on the bus.
var ErrNoSensor = errors.New("thermo: no sensor found")

// Sensor reads one DS18B20 through the w1_therm driver.
type Sensor struct {
	Serial string
	path   string
}

// New returns a sensor with a known serial on the bus at busPath.
func New(busPath, serial string) *Sensor {
	return &Sensor{
		Serial: serial,
		path:   filepath.Join(busPath, serial, "w1_slave"),
	}
}

// Discover returns the first slave listed by the bus master.
func Discover(busPath string) (*Sensor, error) {
	data, err := os.ReadFile(filepath.Join(busPath, "w1_master_slaves"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSensor
		}
		return nil, errors.Wrap(err, "read w1_master_slaves")
	}

	serial := strings.TrimSpace(strings.SplitN(string(data), "\n", 2)[0])
	if serial == "" || serial == "not found." {
		return nil, ErrNoSensor
	}
	return New(busPath, serial), nil
}

// Read returns the temperature in °C.
func (s *Sensor) Read() (float64, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return 0, errors.Wrapf(err, "open sensor %s", s.Serial)
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return 0, errors.Wrapf(err, "sensor %s", s.Serial)
	}
	return c, nil
}

// Parse decodes w1_slave output. The first line must end in YES (CRC ok);
// the second carries t= in millidegrees.
func Parse(r io.Reader) (float64, error) {
	sc := bufio.NewScanner(r)

	if !sc.Scan() {
		return 0, errors.New("empty reading")
	}
	if !strings.HasSuffix(strings.TrimSpace(sc.Text()), "YES") {
		return 0, errors.New("crc check failed")
	}

	if !sc.Scan() {
		return 0, errors.New("missing temperature line")
	}
	_, raw, ok := strings.Cut(sc.Text(), "t=")
	if !ok {
		return 0, errors.New("missing t= field")
	}
	milli, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.Wrap(err, "parse temperature")
	}
	return float64(milli) / 1000, nil
}
