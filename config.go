package mbbridge

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// maxQuantity is the largest register count a single modbus read or write
// multiple registers transaction can carry.
const maxQuantity = 123

// Duration is a time.Duration that unmarshals from the usual textual form
// ("500ms", "3s") in yaml.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) (err error) {
	var s string
	var parsed time.Duration

	err = value.Decode(&s)
	if err != nil {
		return
	}

	parsed, err = time.ParseDuration(s)
	if err == nil {
		*d = Duration(parsed)
	}

	return
}

func (d Duration) String() (s string) {
	s = time.Duration(d).String()

	return
}

// EndpointConfig describes one modbus endpoint. The URL follows the client
// library convention: tcp://host:port or rtu:///dev/ttyUSB0. The serial
// settings are ignored for tcp endpoints.
type EndpointConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Speed    uint   `yaml:"speed"`
	DataBits uint   `yaml:"data_bits"`
	Parity   string `yaml:"parity"`
	StopBits uint   `yaml:"stop_bits"`
	UnitId   uint8  `yaml:"unit_id"`
}

// RelayConfig describes one bridge direction: read count registers at
// read_address on the direction's source, write them at write_address on
// its destination.
type RelayConfig struct {
	ReadAddress  uint16 `yaml:"read_address"`
	WriteAddress uint16 `yaml:"write_address"`
	Count        uint16 `yaml:"count"`
}

// Config is the whole run configuration. The presence of a forward endpoint
// selects bridge mode; otherwise the source endpoint is polled. Everything
// is validated up front: the schedulers never parse and never see an invalid
// value.
type Config struct {
	Source  EndpointConfig  `yaml:"source"`
	Forward *EndpointConfig `yaml:"forward,omitempty"`

	// bridge mode: outbound relays source registers to the forward
	// endpoint, inbound relays forward registers back to the source.
	Outbound RelayConfig `yaml:"outbound"`
	Inbound  RelayConfig `yaml:"inbound"`

	// poll mode
	Slaves    string        `yaml:"slaves"`     // compact list, e.g. "1,3:5"
	Reference uint16        `yaml:"reference"`  // start reference
	Count     uint16        `yaml:"count"`      // values per poll
	Table     string        `yaml:"table"`      // holding|input|coil|discrete
	DataType  string        `yaml:"type"`       // uint16|int16|hex|text|int32|float32|bool
	WordOrder string        `yaml:"word_order"` // highfirst|lowfirst
	Rate      Duration      `yaml:"rate"`       // poll interval
	Timeout   Duration      `yaml:"timeout"`    // response timeout
	Verbose   bool          `yaml:"verbose"`

	// derived by Validate
	format    Format
	wordOrder WordOrder
	slaveIds  []uint8
}

// LoadConfig reads a yaml run configuration from disk.
func LoadConfig(path string) (cfg *Config, err error) {
	var raw []byte

	raw, err = os.ReadFile(path)
	if err != nil {
		return
	}

	cfg = &Config{}
	err = yaml.Unmarshal(raw, cfg)
	if err != nil {
		cfg = nil
		err = fmt.Errorf("failed to parse config file '%s': %v", path, err)
	}

	return
}

// Mode returns the run mode implied by the configuration.
func (cfg *Config) Mode() (m Mode) {
	if cfg.Forward != nil {
		m = MODE_BRIDGE
	}

	return
}

// Validate fills in defaults, checks every parameter and computes the
// derived fields. Any violation is a fatal configuration error, surfaced
// before any transport activity takes place.
func (cfg *Config) Validate() (err error) {
	var ids []int

	if cfg.Table == "" {
		cfg.Table = "holding"
	}
	if cfg.DataType == "" {
		if cfg.Table == "coil" || cfg.Table == "discrete" {
			cfg.DataType = "bool"
		} else {
			cfg.DataType = "uint16"
		}
	}
	if cfg.WordOrder == "" {
		cfg.WordOrder = "highfirst"
	}
	if cfg.Slaves == "" {
		cfg.Slaves = "1"
	}
	if cfg.Count == 0 {
		cfg.Count = 1
	}
	if cfg.Rate == 0 {
		cfg.Rate = Duration(time.Second)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = Duration(time.Second)
	}

	err = validateEndpoint(&cfg.Source, "source")
	if err != nil {
		return
	}

	switch cfg.Table {
	case "holding", "input", "coil", "discrete":
	default:
		err = fmt.Errorf("unknown table '%s' (should be one of holding, input, coil, discrete)", cfg.Table)
		return
	}

	cfg.format, err = ParseFormat(cfg.DataType)
	if err != nil {
		return
	}

	cfg.wordOrder, err = ParseWordOrder(cfg.WordOrder)
	if err != nil {
		return
	}

	// bit tables carry bits and nothing else; register tables carry
	// register formats and nothing else
	var bitTable = cfg.Table == "coil" || cfg.Table == "discrete"
	if bitTable != (cfg.format == FMT_BOOL) {
		err = fmt.Errorf("data format '%s' cannot be used with table '%s'", cfg.DataType, cfg.Table)
		return
	}

	ids, err = ParseIntList(cfg.Slaves)
	if err != nil {
		err = fmt.Errorf("invalid slave list '%s': %v", cfg.Slaves, err)
		return
	}
	if len(ids) == 0 {
		err = fmt.Errorf("empty slave list")
		return
	}
	cfg.slaveIds = cfg.slaveIds[:0]
	for _, id := range ids {
		if id < 0 || id > 255 {
			err = fmt.Errorf("slave id %d out of range (0-255)", id)
			return
		}
		cfg.slaveIds = append(cfg.slaveIds, uint8(id))
	}

	var quantity = cfg.format.BufferSize(int(cfg.Count))
	if quantity > maxQuantity && !bitTable {
		err = fmt.Errorf("count %d needs %d registers per transaction, maximum is %d", cfg.Count, quantity, maxQuantity)
		return
	}
	if int(cfg.Reference)+quantity-1 > 0xffff {
		err = fmt.Errorf("reference %d plus count %d is past the end of the address space", cfg.Reference, cfg.Count)
		return
	}

	if cfg.Timeout < 0 || cfg.Rate < 0 {
		err = fmt.Errorf("timeout and rate must be positive")
		return
	}

	if cfg.Mode() == MODE_BRIDGE {
		err = validateEndpoint(cfg.Forward, "forward")
		if err != nil {
			return
		}

		// bridging relays raw holding registers: a writable table is
		// required on both sides
		if cfg.Table != "holding" {
			err = fmt.Errorf("bridging requires the holding register table, got '%s'", cfg.Table)
			return
		}

		err = validateRelay(&cfg.Outbound, "outbound")
		if err != nil {
			return
		}
		err = validateRelay(&cfg.Inbound, "inbound")
	}

	return
}

func validateEndpoint(ec *EndpointConfig, role string) (err error) {
	if ec == nil || ec.URL == "" {
		err = fmt.Errorf("no %s endpoint url configured", role)
		return
	}

	if !strings.HasPrefix(ec.URL, "tcp://") && !strings.HasPrefix(ec.URL, "rtu://") {
		err = fmt.Errorf("%s endpoint '%s': unknown scheme (should be tcp:// or rtu://)", role, ec.URL)
		return
	}

	switch ec.Parity {
	case "", "none", "even", "odd":
	default:
		err = fmt.Errorf("%s endpoint: unknown parity setting '%s' (should be one of none, even or odd)", role, ec.Parity)
		return
	}

	if ec.StopBits > 2 {
		err = fmt.Errorf("%s endpoint: stop bits must be 0, 1 or 2, got %d", role, ec.StopBits)
		return
	}

	if ec.Name == "" {
		ec.Name = ec.URL
	}

	return
}

func validateRelay(rc *RelayConfig, direction string) (err error) {
	if rc.Count == 0 || rc.Count > maxQuantity {
		err = fmt.Errorf("%s relay count must be between 1 and %d, got %d", direction, maxQuantity, rc.Count)
		return
	}

	if int(rc.ReadAddress)+int(rc.Count)-1 > 0xffff ||
		int(rc.WriteAddress)+int(rc.Count)-1 > 0xffff {
		err = fmt.Errorf("%s relay block runs past the end of the address space", direction)
	}

	return
}
