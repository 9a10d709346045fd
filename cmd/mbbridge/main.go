package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbtools/mbbridge"
)

func main() {
	var err error
	var cfg *mbbridge.Config
	var b *mbbridge.Bridge
	var help bool
	var configPath string
	var source string
	var forward string
	var sourceName string
	var forwardName string
	var slaves string
	var reference uint
	var count uint
	var outRead uint
	var outWrite uint
	var outCount uint
	var inRead uint
	var inWrite uint
	var inCount uint
	var table string
	var dataType string
	var wordOrder string
	var timeout string
	var rate string
	var speed uint
	var dataBits uint
	var parity string
	var stopBits uint
	var unitId uint
	var verbose bool

	flag.StringVar(&configPath, "config", "", "yaml run configuration (overrides the other options)")
	flag.StringVar(&source, "source", "", "source endpoint to connect to (e.g. tcp://somehost:502) [required]")
	flag.StringVar(&forward, "forward", "", "forward endpoint; giving one selects bridge mode")
	flag.StringVar(&sourceName, "source-name", "", "display name for the source endpoint")
	flag.StringVar(&forwardName, "forward-name", "", "display name for the forward endpoint")
	flag.StringVar(&slaves, "slaves", "1", "slave ids to poll, compact list (e.g. 1,3:5,0x10)")
	flag.UintVar(&reference, "reference", 0, "start reference to poll")
	flag.UintVar(&count, "count", 1, "number of values to poll")
	flag.UintVar(&outRead, "out-read", 0, "bridge: read address on the source")
	flag.UintVar(&outWrite, "out-write", 0, "bridge: write address on the forward endpoint")
	flag.UintVar(&outCount, "out-count", 0, "bridge: registers relayed source->forward")
	flag.UintVar(&inRead, "in-read", 0, "bridge: read address on the forward endpoint")
	flag.UintVar(&inWrite, "in-write", 0, "bridge: write address on the source")
	flag.UintVar(&inCount, "in-count", 0, "bridge: registers relayed forward->source")
	flag.StringVar(&table, "table", "holding", "table to poll <holding|input|coil|discrete>")
	flag.StringVar(&dataType, "type", "", "data format <uint16|int16|hex|text|int32|float32|bool>")
	flag.StringVar(&wordOrder, "word-order", "highfirst", "word ordering for 32-bit formats <highfirst|hf|lowfirst|lf>")
	flag.StringVar(&timeout, "timeout", "1s", "response timeout")
	flag.StringVar(&rate, "rate", "1s", "poll interval")
	flag.UintVar(&speed, "speed", 9600, "serial bus speed in bps (rtu)")
	flag.UintVar(&dataBits, "data-bits", 8, "number of bits per character on the serial bus (rtu)")
	flag.StringVar(&parity, "parity", "none", "parity bit <none|even|odd> on the serial bus (rtu)")
	flag.UintVar(&stopBits, "stop-bits", 2, "number of stop bits <0|1|2> on the serial bus (rtu)")
	flag.UintVar(&unitId, "unit-id", 1, "default unit/slave id addressed on each endpoint")
	flag.BoolVar(&verbose, "verbose", false, "emit a confirmation line per transaction")
	flag.BoolVar(&help, "help", false, "show a wall-of-text help message")
	flag.Parse()

	if help {
		displayHelp()
		os.Exit(0)
	}

	if configPath != "" {
		cfg, err = mbbridge.LoadConfig(configPath)
		if err != nil {
			fail(err)
		}
	} else {
		if unitId > 0xff {
			fail(fmt.Errorf("unit id '%v' out of range (0-255)", unitId))
		}
		if reference > 0xffff || outRead > 0xffff || outWrite > 0xffff ||
			inRead > 0xffff || inWrite > 0xffff {
			fail(fmt.Errorf("addresses must fit in 16 bits"))
		}

		cfg = &mbbridge.Config{
			Source: mbbridge.EndpointConfig{
				Name:     sourceName,
				URL:      source,
				Speed:    speed,
				DataBits: dataBits,
				Parity:   parity,
				StopBits: stopBits,
				UnitId:   uint8(unitId),
			},
			Slaves:    slaves,
			Reference: uint16(reference),
			Count:     uint16(count),
			Table:     table,
			DataType:  dataType,
			WordOrder: wordOrder,
			Verbose:   verbose,
		}

		var d time.Duration

		d, err = time.ParseDuration(timeout)
		if err != nil {
			fail(fmt.Errorf("failed to parse timeout setting '%s': %v", timeout, err))
		}
		cfg.Timeout = mbbridge.Duration(d)

		d, err = time.ParseDuration(rate)
		if err != nil {
			fail(fmt.Errorf("failed to parse rate setting '%s': %v", rate, err))
		}
		cfg.Rate = mbbridge.Duration(d)

		if forward != "" {
			cfg.Forward = &mbbridge.EndpointConfig{
				Name:     forwardName,
				URL:      forward,
				Speed:    speed,
				DataBits: dataBits,
				Parity:   parity,
				StopBits: stopBits,
				UnitId:   uint8(unitId),
			}
			cfg.Outbound = mbbridge.RelayConfig{
				ReadAddress:  uint16(outRead),
				WriteAddress: uint16(outWrite),
				Count:        uint16(outCount),
			}
			cfg.Inbound = mbbridge.RelayConfig{
				ReadAddress:  uint16(inRead),
				WriteAddress: uint16(inWrite),
				Count:        uint16(inCount),
			}
		}
	}

	b, err = mbbridge.NewBridge(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mbbridge: %v! Try -help for help.\n", err)
		os.Exit(1)
	}

	printBanner(cfg)

	err = b.Open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mbbridge: %v.\n", err)
		os.Exit(1)
	}

	var sigCh = make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	b.Start()
	fmt.Println("running... Ctrl-C to stop")

	// the main goroutine idles until either the operator interrupts the
	// run or a worker flips the run flag; the signal is translated into
	// a single cooperative stop, observed at the workers' checkpoints
	for b.Running() {
		select {
		case <-sigCh:
			b.Stop()
		case <-time.After(50 * time.Millisecond):
		}
	}

	var code = b.Shutdown()
	if code == 0 {
		fmt.Println("everything was closed neatly, have a nice day")
	}
	os.Exit(code)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "mbbridge: %v! Try -help for help.\n", err)
	os.Exit(1)
}

func printBanner(cfg *mbbridge.Config) {
	if cfg.Forward != nil {
		fmt.Printf("protocol configuration: Modbus bridge\n")
		fmt.Printf("source................: %s\n", cfg.Source.URL)
		fmt.Printf("forward...............: %s\n", cfg.Forward.URL)
		fmt.Printf("outbound..............: read %d+%d -> write %d\n",
			cfg.Outbound.ReadAddress, cfg.Outbound.Count, cfg.Outbound.WriteAddress)
		fmt.Printf("inbound...............: read %d+%d -> write %d\n",
			cfg.Inbound.ReadAddress, cfg.Inbound.Count, cfg.Inbound.WriteAddress)
	} else {
		fmt.Printf("protocol configuration: Modbus poll\n")
		fmt.Printf("source................: %s\n", cfg.Source.URL)
		fmt.Printf("slaves................: %s, reference %d, count %d\n",
			cfg.Slaves, cfg.Reference, cfg.Count)
		fmt.Printf("data type.............: %s, %s table, word order %s\n",
			cfg.DataType, cfg.Table, cfg.WordOrder)
	}
	fmt.Printf("communication.........: t/o %v, poll rate %v\n\n", cfg.Timeout, cfg.Rate)

	return
}

func displayHelp() {
	fmt.Println(`
mbbridge polls registers from a modbus device or relays register values
between two independent modbus endpoints on a fixed cadence, continuously,
until interrupted.

Available options:`)
	flag.PrintDefaults()
	fmt.Printf(`
Poll mode (no -forward given) reads -count values starting at -reference
from every slave in -slaves, decodes them as -type and prints one line per
reference, repeating every -rate.

Example: mbbridge -source tcp://plc:502 -slaves 1,3:5 -reference 100 \
         -count 4 -type float32 -word-order lowfirst
	 Poll slaves 1, 3, 4 and 5 every second, reading four 32-bit floats
	 (eight registers) starting at reference 100 from each.

Bridge mode (with -forward) runs two concurrent pipelines: one reads
-out-count holding registers at -out-read on the source and writes them at
-out-write on the forward endpoint, the other relays -in-count registers the
opposite way. Each direction retries forever; transient errors trigger a
short quiescing pause shared by both pipelines.

Example: mbbridge -source tcp://ur:502 -forward tcp://sew:502 \
         -out-read 192 -out-write 4 -out-count 6 \
         -in-read 4 -in-write 200 -in-count 4
	 Relay registers 192-197 of the source into registers 4-9 of the
	 forward device, and registers 4-7 of the forward device back into
	 registers 200-203 of the source.

The final statistics block reports frames transmitted, received, errors and
the percentage frame loss. The process exits non-zero iff any transaction
error was recorded.
`)

	return
}
