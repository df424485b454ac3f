package midi

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"go.uber.org/zap"
)

// PortInfo describes one MIDI device name and the directions it
// supports.
type PortInfo struct {
	Name   string
	Input  bool
	Output bool
}

func (p PortInfo) String() string {
	var caps []string
	if p.Input {
		caps = append(caps, "Input")
	}
	if p.Output {
		caps = append(caps, "Output")
	}
	return fmt.Sprintf("%s (%s)", p.Name, strings.Join(caps, "/"))
}

// Ports lists the MIDI devices known to the system, one entry per
// distinct port name, sorted by name.
func Ports() ([]PortInfo, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("open MIDI driver: %w", err)
	}
	defer drv.Close()
	return listPorts(drv)
}

func listPorts(drv *rtmididrv.Driver) ([]PortInfo, error) {
	ins, err := drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("list MIDI inputs: %w", err)
	}
	outs, err := drv.Outs()
	if err != nil {
		return nil, fmt.Errorf("list MIDI outputs: %w", err)
	}
	byName := make(map[string]*PortInfo)
	for _, in := range ins {
		info := byName[in.String()]
		if info == nil {
			info = &PortInfo{Name: in.String()}
			byName[info.Name] = info
		}
		info.Input = true
	}
	for _, out := range outs {
		info := byName[out.String()]
		if info == nil {
			info = &PortInfo{Name: out.String()}
			byName[info.Name] = info
		}
		info.Output = true
	}
	infos := make([]PortInfo, 0, len(byName))
	for _, info := range byName {
		infos = append(infos, *info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Device is a named MIDI device resolved to its input and output
// ports. Either direction may be absent; operations needing the
// missing direction degrade with a warning or an error.
type Device struct {
	name   string
	logger *zap.Logger
	drv    *rtmididrv.Driver
	in     drivers.In
	out    drivers.Out

	mu        sync.Mutex
	stop      func()
	receivers []Receiver
}

// Open resolves a device by substring match against the system's port
// names. No match returns ErrDeviceUnavailable; more than one match is
// an error asking for a less ambiguous name.
func Open(name string, logger *zap.Logger) (*Device, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("open MIDI driver: %w", err)
	}
	dev, err := open(drv, name, logger)
	if err != nil {
		drv.Close()
		return nil, err
	}
	return dev, nil
}

func open(drv *rtmididrv.Driver, name string, logger *zap.Logger) (*Device, error) {
	infos, err := listPorts(drv)
	if err != nil {
		return nil, err
	}
	var matches []PortInfo
	for _, info := range infos {
		if strings.Contains(info.Name, name) {
			matches = append(matches, info)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no MIDI device matches %q: %w", name, ErrDeviceUnavailable)
	}
	if len(matches) > 1 {
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		return nil, fmt.Errorf("MIDI device name %q is ambiguous, matches: %s",
			name, strings.Join(names, ", "))
	}

	d := &Device{name: matches[0].Name, logger: logger, drv: drv}
	if matches[0].Input {
		ins, err := drv.Ins()
		if err != nil {
			return nil, fmt.Errorf("list MIDI inputs: %w", err)
		}
		for _, in := range ins {
			if in.String() == d.name {
				if err := in.Open(); err != nil {
					return nil, fmt.Errorf("open MIDI input %s: %w", d.name, err)
				}
				d.in = in
				break
			}
		}
	}
	if matches[0].Output {
		outs, err := drv.Outs()
		if err != nil {
			return nil, fmt.Errorf("list MIDI outputs: %w", err)
		}
		for _, out := range outs {
			if out.String() == d.name {
				if err := out.Open(); err != nil {
					return nil, fmt.Errorf("open MIDI output %s: %w", d.name, err)
				}
				d.out = out
				break
			}
		}
	}
	return d, nil
}

// Name returns the resolved port name.
func (d *Device) Name() string { return d.name }

// HasInput reports whether the device has an input port.
func (d *Device) HasInput() bool { return d.in != nil }

// HasOutput reports whether the device has an output port.
func (d *Device) HasOutput() bool { return d.out != nil }

// String renders the device with its capabilities.
func (d *Device) String() string {
	return PortInfo{Name: d.name, Input: d.in != nil, Output: d.out != nil}.String()
}

// Send implements Sender against the output port.
func (d *Device) Send(msg gomidi.Message) error {
	if d.out == nil {
		return fmt.Errorf("%s has no output port: %w", d.name, ErrDeviceUnavailable)
	}
	return d.out.Send(msg.Bytes())
}

// AddReceiver registers a consumer of incoming messages. Receivers
// added after Watch starts see subsequent messages.
func (d *Device) AddReceiver(rcv Receiver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.receivers = append(d.receivers, rcv)
}

// Watch starts delivering incoming messages to the registered
// receivers. Watching a device without an input port logs a warning
// and succeeds; watching twice is an error.
func (d *Device) Watch() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return fmt.Errorf("already watching %s", d.name)
	}
	if d.in == nil {
		d.logger.Warn("no MIDI input port, cannot watch events",
			zap.String("device", d.name))
		return nil
	}
	stop, err := gomidi.ListenTo(d.in, func(msg gomidi.Message, _ int32) {
		d.mu.Lock()
		receivers := make([]Receiver, len(d.receivers))
		copy(receivers, d.receivers)
		d.mu.Unlock()
		for _, rcv := range receivers {
			rcv(msg)
		}
	}, gomidi.HandleError(func(err error) {
		d.logger.Warn("MIDI listener error",
			zap.String("device", d.name), zap.Error(err))
	}))
	if err != nil {
		return fmt.Errorf("listen to %s: %w", d.name, err)
	}
	d.stop = stop
	d.logger.Info("watching MIDI events", zap.String("device", d.name))
	return nil
}

// StopWatch stops event delivery. Safe to call repeatedly.
func (d *Device) StopWatch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		d.stop()
		d.stop = nil
	}
}

// Close releases the ports and the underlying driver.
func (d *Device) Close() error {
	d.StopWatch()
	if d.in != nil {
		_ = d.in.Close()
	}
	if d.out != nil {
		_ = d.out.Close()
	}
	return d.drv.Close()
}
