package mbbridge

import (
	"fmt"
	"time"

	"github.com/simonvetter/modbus"
)

// Bus is the slice of modbus client behaviour the schedulers depend on. It
// deals in geometry only: addresses, quantities and register words. The wire
// protocol, framing and connection handling all live in the client library
// behind this interface.
type Bus interface {
	Open() (err error)
	Close() (err error)
	SetUnitId(id uint8) (err error)
	ReadRegisters(addr uint16, quantity uint16) (values []uint16, err error)
	WriteRegisters(addr uint16, values []uint16) (err error)
	ReadCoils(addr uint16, quantity uint16) (values []bool, err error)
	ReadDiscreteInputs(addr uint16, quantity uint16) (values []bool, err error)
}

// modbusBus adapts a ModbusClient to the Bus interface.
type modbusBus struct {
	client  *modbus.ModbusClient
	regType modbus.RegType
}

// NewBus creates (but does not open) a Bus for the given endpoint. The
// response timeout is uniform across all requests on the handle. When
// inputRegs is true register reads target the input register table instead
// of the holding register table.
func NewBus(ec *EndpointConfig, timeout time.Duration, inputRegs bool) (b Bus, err error) {
	var client *modbus.ModbusClient
	var conf = &modbus.ClientConfiguration{
		URL:      ec.URL,
		Speed:    ec.Speed,
		DataBits: ec.DataBits,
		StopBits: ec.StopBits,
		Timeout:  timeout,
	}

	switch ec.Parity {
	case "", "none":
		conf.Parity = modbus.PARITY_NONE
	case "even":
		conf.Parity = modbus.PARITY_EVEN
	case "odd":
		conf.Parity = modbus.PARITY_ODD
	default:
		err = fmt.Errorf("unknown parity setting '%s' (should be one of none, even or odd)", ec.Parity)
		return
	}

	client, err = modbus.NewClient(conf)
	if err != nil {
		err = fmt.Errorf("failed to create client for '%s': %v", ec.URL, err)
		return
	}

	var regType = modbus.HOLDING_REGISTER
	if inputRegs {
		regType = modbus.INPUT_REGISTER
	}

	b = &modbusBus{
		client:  client,
		regType: regType,
	}

	return
}

func (b *modbusBus) Open() (err error) {
	err = b.client.Open()

	return
}

func (b *modbusBus) Close() (err error) {
	err = b.client.Close()

	return
}

func (b *modbusBus) SetUnitId(id uint8) (err error) {
	err = b.client.SetUnitId(id)

	return
}

func (b *modbusBus) ReadRegisters(addr uint16, quantity uint16) (values []uint16, err error) {
	values, err = b.client.ReadRegisters(addr, quantity, b.regType)

	return
}

func (b *modbusBus) WriteRegisters(addr uint16, values []uint16) (err error) {
	err = b.client.WriteRegisters(addr, values)

	return
}

func (b *modbusBus) ReadCoils(addr uint16, quantity uint16) (values []bool, err error) {
	values, err = b.client.ReadCoils(addr, quantity)

	return
}

func (b *modbusBus) ReadDiscreteInputs(addr uint16, quantity uint16) (values []bool, err error) {
	values, err = b.client.ReadDiscreteInputs(addr, quantity)

	return
}
