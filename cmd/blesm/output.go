package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/srg/blesm/internal/bledb"
	"github.com/srg/blesm/internal/device"
)

// printer renders command results as a table or JSON. Colour is used only
// when the output is a terminal.
type printer struct {
	w      io.Writer
	format string
	color  bool
}

func newPrinter(w io.Writer, format string) *printer {
	return &printer{w: w, format: format, color: isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (p *printer) json() bool { return p.format == "json" }

func (p *printer) paint(s string, attrs ...color.Attribute) string {
	if !p.color {
		return s
	}
	c := color.New(attrs...)
	c.EnableColor()
	return c.Sprint(s)
}

func (p *printer) encode(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// state prints one manager state, coloured by how usable it is.
func (p *printer) state(role string, s device.ManagerState) error {
	if p.json() {
		return p.encode(struct {
			Role  string `json:"role"`
			State string `json:"state"`
		}{role, s.String()})
	}
	attr := color.FgYellow
	switch s {
	case device.StatePoweredOn:
		attr = color.FgGreen
	case device.StatePoweredOff, device.StateUnsupported, device.StateUnauthorized:
		attr = color.FgRed
	}
	_, err := fmt.Fprintf(p.w, "%s: %s\n", role, p.paint(s.String(), attr, color.Bold))
	return err
}

func (p *printer) peripherals(ps []device.Peripheral) error {
	if p.json() {
		if ps == nil {
			ps = []device.Peripheral{}
		}
		return p.encode(ps)
	}
	if len(ps) == 0 {
		_, err := fmt.Fprintln(p.w, "No peripherals found")
		return err
	}

	w := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, p.paint("ID\tNAME\tRSSI\tSERVICES\tCONNECTED", color.Bold))
	for _, per := range ps {
		name := per.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		services := strings.Join(per.Services, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}
		connected := "no"
		if per.Connected {
			connected = p.paint("yes", color.FgGreen)
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s\n", per.ID, name, per.RSSI, services, connected)
	}
	return w.Flush()
}

// value prints an attribute value. Without asHex, printable UTF-8 is shown
// as text and anything else falls back to hex.
func (p *printer) value(id device.DeviceID, service, characteristic string, v []byte, asHex bool) error {
	if p.json() {
		return p.encode(struct {
			Device         device.DeviceID `json:"device"`
			Service        string          `json:"service"`
			Characteristic string          `json:"characteristic"`
			Name           string          `json:"name,omitempty"`
			Value          string          `json:"value"`
		}{
			Device:         id,
			Service:        device.ShortenUUID(service),
			Characteristic: device.ShortenUUID(characteristic),
			Name:           bledb.LookupCharacteristic(characteristic),
			Value:          hex.EncodeToString(v),
		})
	}
	_, err := fmt.Fprintln(p.w, formatValue(v, asHex))
	return err
}

// status prints a one-line confirmation in table mode.
func (p *printer) status(format string, args ...any) {
	if p.json() {
		return
	}
	fmt.Fprintln(p.w, p.paint(fmt.Sprintf(format, args...), color.FgGreen))
}

func formatValue(v []byte, asHex bool) string {
	if !asHex && utf8.Valid(v) && isPrintable(string(v)) {
		return string(v)
	}
	return hex.EncodeToString(v)
}

func isPrintable(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}

// parseHexData accepts hex with optional 0x prefixes and space, colon or
// dash separators.
func parseHexData(s string) ([]byte, error) {
	replacer := strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "", "0X", "")
	clean := replacer.Replace(s)
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data %q: %w", s, err)
	}
	return data, nil
}
