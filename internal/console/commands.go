package console

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"matter-bridge/internal/bridge"
	"matter-bridge/internal/matter"
	"matter-bridge/internal/matter/clusters"
)

var errUsage = errors.New("usage")

type command struct {
	usage string
	help  string
	run   func(c *Console, w io.Writer, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"help":       {"help", "Show this help", (*Console).cmdHelp},
		"list":       {"list", "List devices", (*Console).cmdList},
		"show":       {"show <ep>", "Show one device", (*Console).cmdShow},
		"on":         {"on <ep>", "Switch a light on", (*Console).cmdOn},
		"off":        {"off <ep>", "Switch a light off", (*Console).cmdOff},
		"toggle":     {"toggle <ep>", "Toggle a light", (*Console).cmdToggle},
		"temp":       {"temp <ep> <celsius>", "Set a temperature reading", (*Console).cmdTemp},
		"humidity":   {"humidity <ep> <percent>", "Set a humidity reading", (*Console).cmdHumidity},
		"battery":    {"battery <ep> <ok|warning|critical>", "Set a battery charge level", (*Console).cmdBattery},
		"reachable":  {"reachable <ep> <true|false>", "Set reachability", (*Console).cmdReachable},
		"rename":     {"rename <ep> <name>", "Rename a device", (*Console).cmdRename},
		"add":        {"add <archetype> <ep> <parent> <name>", "Add a device", (*Console).cmdAdd},
		"remove":     {"remove <ep>", "Remove a device and its children", (*Console).cmdRemove},
		"set":        {"set <ep> <cluster> <attr> <kind> <value>", "Update a generic attribute", (*Console).cmdSet},
		"get":        {"get <ep> <cluster> <attr>", "Show a generic attribute", (*Console).cmdGet},
		"read":       {"read <ep> <cluster> <attr>", "Read as the stack would", (*Console).cmdRead},
		"archetypes": {"archetypes", "List device archetypes", (*Console).cmdArchetypes},
		"ports":      {"ports", "List serial ports", (*Console).cmdPorts},
		"reset":      {"reset confirm", "Factory reset: remove every device", (*Console).cmdReset},
	}
}

// Execute runs one command line and writes its output to w. It returns
// true when the line asks the console to exit.
func (c *Console) Execute(line string, w io.Writer) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	name := strings.ToLower(fields[0])
	switch name {
	case "quit", "exit", "q":
		return true
	case "?":
		name = "help"
	case "ls":
		name = "list"
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(w, "Unknown command: %s (type 'help' for commands)\n", name)
		return false
	}
	if err := cmd.run(c, w, fields[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(w, "Usage: %s\n", cmd.usage)
		} else {
			fmt.Fprintf(w, "Error: %v\n", err)
		}
	}
	return false
}

func parseNumber(raw, what string) (uint16, error) {
	n, err := strconv.ParseUint(raw, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, raw)
	}
	return uint16(n), nil
}

// endpointArgs parses the leading endpoint and checks the argument count.
func endpointArgs(args []string, n int) (uint16, error) {
	if len(args) != n {
		return 0, errUsage
	}
	return parseNumber(args[0], "endpoint")
}

func attrArgs(args []string) (uint16, uint16, uint16, error) {
	ep, err := parseNumber(args[0], "endpoint")
	if err != nil {
		return 0, 0, 0, err
	}
	cl, err := parseNumber(args[1], "cluster")
	if err != nil {
		return 0, 0, 0, err
	}
	at, err := parseNumber(args[2], "attribute")
	if err != nil {
		return 0, 0, 0, err
	}
	return ep, cl, at, nil
}

func reportChange(w io.Writer, changed bool) {
	if changed {
		fmt.Fprintln(w, "OK")
	} else {
		fmt.Fprintln(w, "Unchanged")
	}
}

func (c *Console) cmdHelp(w io.Writer, _ []string) error {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Commands:")
	for _, n := range names {
		fmt.Fprintf(tw, "  %s\t%s\n", commands[n].usage, commands[n].help)
	}
	fmt.Fprintf(tw, "  quit\tExit\n")
	return tw.Flush()
}

func (c *Console) cmdList(w io.Writer, _ []string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EP\tPARENT\tNAME\tKIND\tREACHABLE\tSTATE")
	for _, d := range c.br.Devices() {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%t\t%s\n", d.Endpoint, d.ParentEndpoint, d.Name, d.Kind(), d.Reachable, describeState(d))
	}
	return tw.Flush()
}

func describeState(d *bridge.Device) string {
	switch s := d.State.(type) {
	case *bridge.Light:
		if s.On {
			return "on"
		}
		return "off"
	case *bridge.TemperatureSensor:
		return fmt.Sprintf("%.2f°C", float64(s.CentiDegrees)/100)
	case *bridge.HumiditySensor:
		return fmt.Sprintf("%.2f%%", float64(s.CentiPercent)/100)
	case *bridge.Composed:
		if int(s.BatteryChargeLevel) < len(clusters.BatChargeLevelNames) {
			return "battery " + clusters.BatChargeLevelNames[s.BatteryChargeLevel]
		}
		return fmt.Sprintf("battery %d", s.BatteryChargeLevel)
	case *bridge.Generic:
		return fmt.Sprintf("%d attributes", len(s.Attributes))
	}
	return ""
}

func (c *Console) cmdShow(w io.Writer, args []string) error {
	ep, err := endpointArgs(args, 1)
	if err != nil {
		return err
	}
	d, ok := c.br.Device(ep)
	if !ok {
		return fmt.Errorf("endpoint %d: %w", ep, bridge.ErrEndpointNotFound)
	}
	fmt.Fprintf(w, "Endpoint:   %d (parent %d)\n", d.Endpoint, d.ParentEndpoint)
	fmt.Fprintf(w, "Name:       %s\n", d.Name)
	fmt.Fprintf(w, "Archetype:  %s\n", d.Archetype)
	fmt.Fprintf(w, "Unique ID:  %s\n", d.UniqueID)
	fmt.Fprintf(w, "Bridged:    %t\n", d.BridgedNode)
	fmt.Fprintf(w, "Reachable:  %t\n", d.Reachable)
	fmt.Fprintf(w, "State:      %s\n", describeState(d))
	fmt.Fprintln(w, "Clusters:")
	for _, id := range d.Clusters {
		fmt.Fprintf(w, "  0x%04X %s\n", id, c.br.Clusters().ClusterName(id))
	}
	if g, ok := d.State.(*bridge.Generic); ok {
		fmt.Fprintln(w, "Attributes:")
		for _, a := range d.Attributes {
			if v, ok := g.Attributes[bridge.AttrKey{Cluster: a.ClusterID, Attribute: a.AttributeID}]; ok {
				fmt.Fprintf(w, "  0x%04X/0x%04X %s = %s\n", a.ClusterID, a.AttributeID,
					c.br.Clusters().AttributeName(a.ClusterID, a.AttributeID), v)
			}
		}
	}
	return nil
}

func (c *Console) cmdOn(w io.Writer, args []string) error  { return c.switchLight(w, args, true) }
func (c *Console) cmdOff(w io.Writer, args []string) error { return c.switchLight(w, args, false) }

func (c *Console) switchLight(w io.Writer, args []string, on bool) error {
	ep, err := endpointArgs(args, 1)
	if err != nil {
		return err
	}
	changed, err := c.br.SetOnOff(ep, on)
	if err != nil {
		return err
	}
	reportChange(w, changed)
	return nil
}

func (c *Console) cmdToggle(w io.Writer, args []string) error {
	ep, err := endpointArgs(args, 1)
	if err != nil {
		return err
	}
	on, err := c.br.ToggleOnOff(ep)
	if err != nil {
		return err
	}
	if on {
		fmt.Fprintln(w, "on")
	} else {
		fmt.Fprintln(w, "off")
	}
	return nil
}

// centi parses a decimal reading, scales it by 100 and checks [lo, hi].
func centi(raw string, lo, hi int) (int, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid reading %q", raw)
	}
	n := math.Round(v * 100)
	if n < float64(lo) || n > float64(hi) {
		return 0, fmt.Errorf("%s out of range [%g, %g]", raw, float64(lo)/100, float64(hi)/100)
	}
	return int(n), nil
}

func (c *Console) cmdTemp(w io.Writer, args []string) error {
	ep, err := endpointArgs(args, 2)
	if err != nil {
		return err
	}
	n, err := centi(args[1], int(clusters.TemperatureMinCentiDegrees), int(clusters.TemperatureMaxCentiDegrees))
	if err != nil {
		return err
	}
	changed, err := c.br.SetTemperature(ep, int16(n))
	if err != nil {
		return err
	}
	reportChange(w, changed)
	return nil
}

func (c *Console) cmdHumidity(w io.Writer, args []string) error {
	ep, err := endpointArgs(args, 2)
	if err != nil {
		return err
	}
	n, err := centi(args[1], int(clusters.HumidityMinCentiPercent), int(clusters.HumidityMaxCentiPercent))
	if err != nil {
		return err
	}
	changed, err := c.br.SetHumidity(ep, uint16(n))
	if err != nil {
		return err
	}
	reportChange(w, changed)
	return nil
}

func (c *Console) cmdBattery(w io.Writer, args []string) error {
	ep, err := endpointArgs(args, 2)
	if err != nil {
		return err
	}
	level, ok := clusters.ParseBatChargeLevel(args[1])
	if !ok {
		return fmt.Errorf("invalid battery level %q", args[1])
	}
	changed, err := c.br.SetBatteryChargeLevel(ep, level)
	if err != nil {
		return err
	}
	reportChange(w, changed)
	return nil
}

func (c *Console) cmdReachable(w io.Writer, args []string) error {
	ep, err := endpointArgs(args, 2)
	if err != nil {
		return err
	}
	reachable, err := strconv.ParseBool(args[1])
	if err != nil {
		return fmt.Errorf("invalid reachability %q", args[1])
	}
	changed, err := c.br.SetReachable(ep, reachable)
	if err != nil {
		return err
	}
	reportChange(w, changed)
	return nil
}

func (c *Console) cmdRename(w io.Writer, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	ep, err := parseNumber(args[0], "endpoint")
	if err != nil {
		return err
	}
	changed, err := c.br.Rename(ep, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	reportChange(w, changed)
	return nil
}

func (c *Console) cmdAdd(w io.Writer, args []string) error {
	if len(args) < 4 {
		return errUsage
	}
	ep, err := parseNumber(args[1], "endpoint")
	if err != nil {
		return err
	}
	parent, err := parseNumber(args[2], "parent")
	if err != nil {
		return err
	}
	d, err := c.br.AddDevice(bridge.Archetype(args[0]), strings.Join(args[3:], " "), ep, parent)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Added %s %q on endpoint %d\n", d.Archetype, d.Name, d.Endpoint)
	return nil
}

func (c *Console) cmdRemove(w io.Writer, args []string) error {
	ep, err := endpointArgs(args, 1)
	if err != nil {
		return err
	}
	if err := c.br.RemoveDevice(ep); err != nil {
		return err
	}
	fmt.Fprintf(w, "Removed endpoint %d\n", ep)
	return nil
}

func (c *Console) cmdSet(w io.Writer, args []string) error {
	if len(args) != 5 {
		return errUsage
	}
	ep, cl, at, err := attrArgs(args)
	if err != nil {
		return err
	}
	kind, err := matter.ParseKind(args[3])
	if err != nil {
		return err
	}
	v, err := parseValue(kind, args[4])
	if err != nil {
		return err
	}
	changed, err := c.br.UpdateAttribute(ep, cl, at, v)
	if err != nil {
		return err
	}
	reportChange(w, changed)
	return nil
}

// parseValue converts a command line token into a value of kind k. Bytes
// are given in hex.
func parseValue(k matter.Kind, raw string) (matter.Value, error) {
	switch {
	case k == matter.KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return matter.Value{}, fmt.Errorf("invalid bool %q", raw)
		}
		return matter.Bool(b), nil
	case k == matter.KindString:
		return matter.String(raw), nil
	case k == matter.KindBytes:
		b, err := hex.DecodeString(raw)
		if err != nil {
			return matter.Value{}, fmt.Errorf("invalid hex %q", raw)
		}
		return matter.Bytes(b), nil
	case k.IsSigned():
		n, err := strconv.ParseInt(raw, 0, k.Width()*8)
		if err != nil {
			return matter.Value{}, fmt.Errorf("invalid %s %q", k, raw)
		}
		return matter.Int(k, n)
	case k.IsInteger():
		n, err := strconv.ParseUint(raw, 0, k.Width()*8)
		if err != nil {
			return matter.Value{}, fmt.Errorf("invalid %s %q", k, raw)
		}
		if k == matter.KindU64 {
			return matter.U64(n), nil
		}
		return matter.Int(k, int64(n))
	}
	return matter.Value{}, fmt.Errorf("%s: %w", k, matter.ErrUnsupportedValueKind)
}

func (c *Console) cmdGet(w io.Writer, args []string) error {
	if len(args) != 3 {
		return errUsage
	}
	ep, cl, at, err := attrArgs(args)
	if err != nil {
		return err
	}
	v, ok := c.br.GetAttribute(ep, cl, at)
	if !ok {
		return fmt.Errorf("no value for 0x%04X/0x%04X on endpoint %d", cl, at, ep)
	}
	fmt.Fprintln(w, v)
	return nil
}

func (c *Console) cmdRead(w io.Writer, args []string) error {
	if len(args) != 3 {
		return errUsage
	}
	ep, cl, at, err := attrArgs(args)
	if err != nil {
		return err
	}
	data, ok := c.br.Read(ep, cl, at, bridge.UnboundedRead)
	if !ok {
		fmt.Fprintln(w, "Not handled")
		return nil
	}
	fmt.Fprintf(w, "%X\n", data)
	return nil
}

func (c *Console) cmdArchetypes(w io.Writer, _ []string) error {
	for _, a := range bridge.Archetypes() {
		fmt.Fprintln(w, a)
	}
	return nil
}

func (c *Console) cmdPorts(w io.Writer, _ []string) error {
	if c.ports == nil {
		return errors.New("serial port listing unavailable")
	}
	ports, err := c.ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "No serial ports found")
	}
	for _, p := range ports {
		fmt.Fprintln(w, p)
	}
	return nil
}

func (c *Console) cmdReset(w io.Writer, args []string) error {
	if len(args) != 1 || args[0] != "confirm" {
		return errUsage
	}
	n, err := c.br.FactoryReset()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Removed %d devices\n", n)
	return nil
}
