// Command lora-sim simulates the LoRa gateway board on a serial line.
//
// It writes one framed packet per interval, optionally asks for the time
// with a 0xFE request byte, and logs every time-sync message it receives.
// With --pty it creates a pseudo-terminal and prints the device path to
// point lora-gateway at, so the relay can be tried without hardware.
//
//	lora-sim --pty --device-id DEV0000001 --interval 2s
package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/spf13/pflag"
	"github.com/wingyeung0317/IBSP/frame"
	"github.com/wingyeung0317/IBSP/internal/pool"
	"github.com/wingyeung0317/IBSP/link"
	"github.com/wingyeung0317/IBSP/logger"
	"github.com/wingyeung0317/IBSP/packet"
	"github.com/wingyeung0317/IBSP/timesync"
)

var log logger.Logger

type options struct {
	device   string
	usePTY   bool
	deviceID string
	port     uint8
	dataSize int
	interval time.Duration
	rssi     int
	snr      int
	request  bool
	count    int
}

// boardPort is the simulator's end of the serial line.
type boardPort interface {
	io.Writer
	ReadAvailable() ([]byte, error)
	Close() error
}

func main() {
	var opts options

	fs := pflag.NewFlagSet("lora-sim", pflag.ContinueOnError)
	fs.StringVarP(&opts.device, "device", "d", "", "serial device to write to")
	fs.BoolVar(&opts.usePTY, "pty", false, "create a pseudo-terminal instead of opening --device")
	fs.StringVar(&opts.deviceID, "device-id", "DEV0000001", "device id, at most 10 bytes")
	fs.Uint8Var(&opts.port, "port", uint8(packet.TypeRealtime), "packet type: 1 realtime, 2 ECG, 3 fall event")
	fs.IntVar(&opts.dataSize, "data-size", 16, "random data bytes per packet")
	fs.DurationVar(&opts.interval, "interval", time.Second, "delay between packets")
	fs.IntVar(&opts.rssi, "rssi", -60, "reported RSSI in dBm")
	fs.IntVar(&opts.snr, "snr", 8, "reported SNR in dB")
	fs.BoolVar(&opts.request, "request", false, "send a time sync request before every packet")
	fs.IntVar(&opts.count, "count", 0, "packets to send, 0 runs until interrupted")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	log = logger.NewSlog(logger.InfoLevel, false)

	if err := run(opts); err != nil {
		log.Error("simulator failed", "error", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	if len(opts.deviceID) > packet.DeviceIDSize {
		return fmt.Errorf("device id %q longer than %d bytes", opts.deviceID, packet.DeviceIDSize)
	}
	if opts.dataSize < 0 || packet.HeaderSize+opts.dataSize > frame.MaxLength {
		return fmt.Errorf("data size %d out of range [0, %d]", opts.dataSize, frame.MaxLength-packet.HeaderSize)
	}

	bp, err := openPort(opts)
	if err != nil {
		return err
	}
	defer bp.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exitSig := make(chan os.Signal, 1)
	signal.Notify(exitSig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-exitSig
		log.Info("exit signal received")
		cancel()
	}()

	go watchTimeSync(ctx, bp)

	rssiByte, snrByte := packet.SignalQuality{RSSI: opts.rssi, SNR: opts.snr}.Bytes()

	for counter := uint16(0); opts.count == 0 || int(counter) < opts.count; counter++ {
		if opts.request {
			if _, err := bp.Write([]byte{frame.TimeSyncRequest}); err != nil {
				return err
			}
		}

		payload, err := buildPayload(opts, counter)
		if err != nil {
			return err
		}
		wire, err := frame.Encode(rssiByte, snrByte, payload)
		if err != nil {
			return err
		}
		if _, err := bp.Write(wire); err != nil {
			return err
		}

		log.Info("packet sent",
			"deviceID", opts.deviceID,
			"frameCounter", counter,
			"type", packet.Type(opts.port).String(),
			"size", len(wire),
		)

		if !pool.Sleep(ctx, opts.interval) {
			return nil
		}
	}

	return nil
}

func buildPayload(opts options, counter uint16) ([]byte, error) {
	p := make([]byte, packet.HeaderSize+opts.dataSize)
	copy(p[:packet.DeviceIDSize], opts.deviceID)
	binary.LittleEndian.PutUint16(p[packet.DeviceIDSize:], counter)
	p[packet.HeaderSize-1] = opts.port

	if _, err := rand.Read(p[packet.HeaderSize:]); err != nil {
		return nil, err
	}

	return p, nil
}

// watchTimeSync logs every time-sync message the gateway writes.
func watchTimeSync(ctx context.Context, bp boardPort) {
	var buf []byte

	for ctx.Err() == nil {
		data, err := bp.ReadAvailable()
		if err != nil {
			log.Warn("read failed", "error", err)
			return
		}
		buf = append(buf, data...)

		for {
			start := bytes.IndexByte(buf, timesync.Preamble1)
			if start < 0 {
				buf = buf[:0]
				break
			}
			if len(buf)-start < timesync.MessageSize {
				buf = buf[start:]
				break
			}

			t, err := timesync.Parse(buf[start:start+timesync.MessageSize], time.Local)
			if err != nil {
				buf = buf[start+1:]
				continue
			}
			log.Info("time sync received", "time", t.Format(time.DateTime), "skew", time.Since(t).Round(time.Second).String())
			buf = buf[start+timesync.MessageSize:]
		}

		pool.Sleep(ctx, 10*time.Millisecond)
	}
}

func openPort(opts options) (boardPort, error) {
	if opts.usePTY {
		master, tty, err := pty.Open()
		if err != nil {
			return nil, fmt.Errorf("open pty: %w", err)
		}
		// tty stays open so the line survives gateway reconnects.
		log.Info("pseudo-terminal ready", "device", tty.Name())

		return newPTYPort(master, tty), nil
	}

	if opts.device == "" {
		return nil, errors.New("either --device or --pty is required")
	}

	s, err := link.Open(link.Config{Device: opts.device})
	if err != nil {
		return nil, err
	}

	return s, nil
}

// ptyPort adapts the blocking master side of a pty to ReadAvailable.
type ptyPort struct {
	master *os.File
	tty    *os.File

	mu  sync.Mutex
	buf []byte
	err error
}

func newPTYPort(master, tty *os.File) *ptyPort {
	p := &ptyPort{master: master, tty: tty}
	go p.readLoop()

	return p
}

func (p *ptyPort) readLoop() {
	chunk := make([]byte, 256)
	for {
		n, err := p.master.Read(chunk)

		p.mu.Lock()
		p.buf = append(p.buf, chunk[:n]...)
		if err != nil {
			p.err = err
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
	}
}

func (p *ptyPort) ReadAvailable() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := p.buf
	p.buf = nil
	if len(out) == 0 && p.err != nil {
		return nil, p.err
	}

	return out, nil
}

func (p *ptyPort) Write(b []byte) (int, error) { return p.master.Write(b) }

func (p *ptyPort) Close() error {
	return errors.Join(p.master.Close(), p.tty.Close())
}
