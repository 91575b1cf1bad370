package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wrtkit/router-command/internal/log"
	"github.com/wrtkit/router-command/pkg/action"
	"github.com/wrtkit/router-command/pkg/cli"
	"github.com/wrtkit/router-command/pkg/coordinator"
	"github.com/wrtkit/router-command/pkg/monitor"
	"github.com/wrtkit/router-command/pkg/registry"
	"github.com/wrtkit/router-command/pkg/state"
)

var (
	ErrCommandLineArgs = errors.New("invalid command line arguments")
	ErrUnknownCommand  = errors.New("unrecognized command")
)

// Shared output options, set from command-line flags in main.
var (
	jsonOutput bool
	maxAge     time.Duration = -1
)

type Argument struct {
	name string
	help string
}

type Handler func(ctx context.Context, config *cli.Config, router *coordinator.Coordinator, args map[string]string) error

type Command struct {
	help     string
	args     []Argument
	optional []Argument
	handler  Handler
}

// getValue reads key through the coordinator, honoring the -max-age flag. A negative max age
// accepts whatever the key's registered TTL accepts.
func getValue(ctx context.Context, router *coordinator.Coordinator, key registry.DataKey) (interface{}, error) {
	if maxAge >= 0 {
		return router.GetWithMaxAge(ctx, key, maxAge)
	}
	return router.Get(ctx, key)
}

func printJSON(value interface{}) error {
	data, err := json.MarshalIndent(value, "", "\t")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func formatUptime(seconds int64) string {
	days := seconds / 86400
	hours := (seconds % 86400) / 3600
	minutes := (seconds % 3600) / 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

func formatBytes(count uint64) string {
	switch {
	case count >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(count)/(1<<30))
	case count >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(count)/(1<<20))
	default:
		return fmt.Sprintf("%.1f KiB", float64(count)/(1<<10))
	}
}

// formatRate renders an iwinfo rate, which arrives in kbit/s.
func formatRate(kbit int64) string {
	return fmt.Sprintf("%.0f Mbit/s", float64(kbit)/1000)
}

func parseKeys(list string) ([]registry.DataKey, error) {
	var keys []registry.DataKey
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty key name", ErrCommandLineArgs)
		}
		keys = append(keys, registry.DataKey(name))
	}
	return keys, nil
}

// resolveKey registers parameterized capabilities on demand so that get and watch accept
// per-interface keys without prior setup.
func resolveKey(router *coordinator.Coordinator, key registry.DataKey) registry.DataKey {
	reg := router.Registry()
	if _, ok := reg.Lookup(key); ok {
		return key
	}
	name := string(key)
	if device, ok := strings.CutPrefix(name, string(registry.StationListKey(""))); ok {
		_ = reg.Register(registry.StationListCapability(device))
	} else if iface, ok := strings.CutPrefix(name, string(registry.HostapdClientsKey(""))); ok {
		_ = reg.Register(registry.HostapdClientsCapability(iface))
	} else if path, ok := strings.CutPrefix(name, string(registry.FileReadKey(""))); ok {
		_ = reg.Register(registry.FileReadCapability(path))
	}
	return key
}

// findStationInterface locates the hostapd interface a station is associated with by asking
// each hostapd object on the device for its client list.
func findStationInterface(ctx context.Context, config *cli.Config, router *coordinator.Coordinator, mac string) (string, error) {
	client, err := config.Client()
	if err != nil {
		return "", err
	}
	objects, err := client.List(ctx, "hostapd.*")
	if err != nil {
		return "", err
	}
	target := state.NormalizeMAC(mac)
	reg := router.Registry()
	for name := range objects {
		if name == "hostapd" {
			continue
		}
		key := registry.HostapdClientsKey(name)
		if _, ok := reg.Lookup(key); !ok {
			if err := reg.Register(registry.HostapdClientsCapability(name)); err != nil {
				return "", err
			}
		}
		value, err := router.GetWithMaxAge(ctx, key, 0)
		if err != nil {
			log.Warning("Skipping %s: %s", name, err)
			continue
		}
		clients, ok := value.(*state.HostapdClients)
		if !ok {
			continue
		}
		for _, known := range clients.MACs() {
			if known == target {
				return name, nil
			}
		}
	}
	return "", fmt.Errorf("station %s is not associated with any hostapd interface", mac)
}

func execute(ctx context.Context, config *cli.Config, router *coordinator.Coordinator, args []string) error {
	if len(args) == 0 {
		return errors.New("missing COMMAND")
	}

	info, ok := commands[args[0]]
	if !ok {
		return ErrUnknownCommand
	}

	var err error
	if len(args)-1 < len(info.args) || len(args)-1 > len(info.args)+len(info.optional) {
		writeErr("Invalid number of command line arguments: %d (%d required, %d optional).", len(args)-1, len(info.args), len(info.optional))
		err = ErrCommandLineArgs
	} else {
		keywords := make(map[string]string)
		for i, argInfo := range info.args {
			keywords[argInfo.name] = args[i+1]
		}
		index := len(info.args) + 1
		for _, argInfo := range info.optional {
			if index >= len(args) {
				break
			}
			keywords[argInfo.name] = args[index]
			index++
		}
		err = info.handler(ctx, config, router, keywords)
	}

	// Print command-specific help
	if errors.Is(err, ErrCommandLineArgs) {
		info.Usage(args[0])
	}
	return err
}

func (c *Command) Usage(name string) {
	fmt.Printf("Usage: %s", name)
	maxLength := 0
	for _, arg := range c.args {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" [")
	}
	for _, arg := range c.optional {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" ]")
	}
	fmt.Printf("\n%s\n", c.help)
	maxLength++
	for _, arg := range c.args {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
	for _, arg := range c.optional {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
}

var commands = map[string]*Command{
	"board": &Command{
		help: "Show the router's hardware and firmware identity",
		handler: func(ctx context.Context, config *cli.Config, router *coordinator.Coordinator, args map[string]string) error {
			value, err := getValue(ctx, router, registry.SystemBoard)
			if err != nil {
				return err
			}
			board, ok := value.(*state.BoardInfo)
			if jsonOutput || !ok {
				return printJSON(value)
			}
			fmt.Printf("Hostname: %s\n", board.Hostname)
			fmt.Printf("Model:    %s\n", board.Model)
			fmt.Printf("Board:    %s\n", board.BoardName)
			fmt.Printf("Kernel:   %s\n", board.Kernel)
			fmt.Printf("Firmware: %s\n", board.Release.Description)
			return nil
		},
	},
	"info": &Command{
		help: "Show uptime, load, and memory usage",
		handler: func(ctx context.Context, config *cli.Config, router *coordinator.Coordinator, args map[string]string) error {
			value, err := getValue(ctx, router, registry.SystemInfo)
			if err != nil {
				return err
			}
			info, ok := value.(*state.SystemInfo)
			if jsonOutput || !ok {
				return printJSON(value)
			}
			loads := info.LoadAverages()
			fmt.Printf("Uptime: %s\n", formatUptime(info.Uptime))
			fmt.Printf("Load:   %.2f %.2f %.2f\n", loads[0], loads[1], loads[2])
			fmt.Printf("Memory: %.1f%% of %s used\n", info.Memory.UsedPercent(), formatBytes(info.Memory.Total))
			if info.Swap.Total > 0 {
				fmt.Printf("Swap:   %s of %s used\n", formatBytes(info.Swap.Total-info.Swap.Free), formatBytes(info.Swap.Total))
			}
			return nil
		},
	},
	"modem": &Command{
		help: "Show cellular modem details (requires the qmodem package on the router)",
		handler: func(ctx context.Context, config *cli.Config, router *coordinator.Coordinator, args map[string]string) error {
			value, err := getValue(ctx, router, registry.ModemInfo)
			if err != nil {
				return err
			}
			modem, ok := value.(*state.ModemInfo)
			if jsonOutput || !ok {
				return printJSON(value)
			}
			if !modem.Present() {
				fmt.Println("No modem reported.")
				return nil
			}
			for _, section := range modem.Info {
				for _, item := range section.ModemInfo {
					fmt.Printf("%-12s %-24s %s\n", item.ClassOrigin, item.Key, item.Value)
				}
			}
			return nil
		},
	},
	"radios": &Command{
		help: "List the router's wireless interfaces",
		handler: func(ctx context.Context, config *cli.Config, router *coordinator.Coordinator, args map[string]string) error {
			value, err := getValue(ctx, router, registry.RadioDevices)
			if err != nil {
				return err
			}
			radios, ok := value.(*state.RadioList)
			if jsonOutput || !ok {
				return printJSON(value)
			}
			for _, device := range radios.Devices {
				fmt.Println(device)
			}
			return nil
		},
	},
	"stations": &Command{
		help: "Show associated wireless stations with link quality and DHCP names",
		handler: func(ctx context.Context, config *cli.Config, router *coordinator.Coordinator, args map[string]string) error {
			set, err := monitor.NewStationMonitor(router, monitor.NamesAuto).Stations(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(set)
			}
			macs := make([]string, 0, len(set.Stations))
			for mac := range set.Stations {
				macs = append(macs, mac)
			}
			sort.Strings(macs)
			for _, mac := range macs {
				report := set.Stations[mac]
				hostname := report.Hostname
				if hostname == "" {
					hostname = "-"
				}
				ip := report.IP
				if ip == "" {
					ip = "-"
				}
				fmt.Printf("%s  %-12s %-15s %4d dBm  rx %-10s tx %-10s %s\n",
					mac, report.Radio, ip, report.Link.Signal,
					formatRate(report.Link.RX.Rate), formatRate(report.Link.TX.Rate), hostname)
			}
			return nil
		},
	},
	"leases": &Command{
		help: "List DHCP leases",
		handler: func(ctx context.Context, config *cli.Config, router *coordinator.Coordinator, args map[string]string) error {
			value, err := getValue(ctx, router, registry.DHCPLeases)
			if err != nil {
				return err
			}
			table, ok := value.(*state.LeaseTable)
			if jsonOutput || !ok {
				return printJSON(value)
			}
			byMAC := table.ByMAC()
			macs := make([]string, 0, len(byMAC))
			for mac := range byMAC {
				macs = append(macs, mac)
			}
			sort.Strings(macs)
			for _, mac := range macs {
				lease := byMAC[mac]
				hostname := lease.Hostname
				if hostname == "" {
					hostname = "-"
				}
				fmt.Printf("%s  %-15s %-24s expires in %s\n",
					mac, lease.IPAddress(), hostname, time.Duration(lease.Valid)*time.Second)
			}
			return nil
		},
	},
	"get": &Command{
		help: "Fetch a data key and print its JSON value",
		args: []Argument{
			Argument{name: "KEY", help: "Data key, e.g. system_board or iwinfo_assoclist:phy0-ap0"},
		},
		handler: func(ctx context.Context, config *cli.Config, router *coordinator.Coordinator, args map[string]string) error {
			key := resolveKey(router, registry.DataKey(args["KEY"]))
			value, err := getValue(ctx, router, key)
			if err != nil {
				return err
			}
			return printJSON(value)
		},
	},
	"watch": &Command{
		help: "Poll data keys until the command timeout expires",
		args: []Argument{
			Argument{name: "KEYS", help: "Comma-separated data keys, e.g. system_info,dhcp_ipv4leases"},
		},
		optional: []Argument{
			Argument{name: "INTERVAL", help: "Polling interval (default 5s)"},
		},
		handler: func(ctx context.Context, config *cli.Config, router *coordinator.Coordinator, args map[string]string) error {
			keys, err := parseKeys(args["KEYS"])
			if err != nil {
				return err
			}
			for _, key := range keys {
				resolveKey(router, key)
			}
			interval := 5 * time.Second
			if value, ok := args["INTERVAL"]; ok {
				interval, err = time.ParseDuration(value)
				if err != nil {
					return fmt.Errorf("%w: invalid INTERVAL: %s", ErrCommandLineArgs, err)
				}
			}

			scheduler := monitor.NewScheduler(router)
			defer scheduler.Stop()
			sub, err := scheduler.Subscribe(interval, keys...)
			if err != nil {
				return err
			}
			for {
				select {
				case <-ctx.Done():
					return nil
				case update, ok := <-sub.Updates():
					if !ok {
						return nil
					}
					fmt.Printf("--- %s\n", update.Taken.Format(time.RFC3339))
					for _, key := range keys {
						outcome := update.Outcomes[key]
						if outcome.Err != nil {
							fmt.Printf("%s: error: %s\n", key, outcome.Err)
							continue
						}
						data, err := json.Marshal(outcome.Value)
						if err != nil {
							fmt.Printf("%s: error: %s\n", key, err)
							continue
						}
						fmt.Printf("%s: %s\n", key, data)
					}
				}
			}
		},
	},
	"kick": &Command{
		help: "Force a wireless station to disconnect and ban it briefly",
		args: []Argument{
			Argument{name: "MAC", help: "Station MAC address, e.g. aa:bb:cc:dd:ee:ff"},
		},
		optional: []Argument{
			Argument{name: "INTERFACE", help: "hostapd interface (e.g. hostapd.wlan0); discovered when omitted"},
			Argument{name: "BAN_TIME", help: "Ban duration, e.g. 30s (default 60s)"},
		},
		handler: func(ctx context.Context, config *cli.Config, router *coordinator.Coordinator, args map[string]string) error {
			var banTime time.Duration
			if value, ok := args["BAN_TIME"]; ok {
				var err error
				banTime, err = time.ParseDuration(value)
				if err != nil {
					return fmt.Errorf("%w: invalid BAN_TIME: %s", ErrCommandLineArgs, err)
				}
			}
			iface, ok := args["INTERFACE"]
			if !ok {
				var err error
				iface, err = findStationInterface(ctx, config, router, args["MAC"])
				if err != nil {
					return err
				}
			} else if !strings.HasPrefix(iface, "hostapd.") {
				iface = "hostapd." + iface
			}
			if _, err := router.Execute(ctx, action.KickStation(iface, args["MAC"], banTime)); err != nil {
				return err
			}
			fmt.Printf("Kicked %s from %s\n", args["MAC"], iface)
			return nil
		},
	},
	"reboot": &Command{
		help: "Reboot the router",
		handler: func(ctx context.Context, config *cli.Config, router *coordinator.Coordinator, args map[string]string) error {
			if _, err := router.Execute(ctx, action.Reboot()); err != nil {
				return err
			}
			fmt.Println("Reboot requested.")
			return nil
		},
	},
	"service": &Command{
		help: "Control an init service",
		args: []Argument{
			Argument{name: "NAME", help: "Service name, e.g. dnsmasq"},
			Argument{name: "ACTION", help: "One of: start, stop, restart, reload"},
		},
		handler: func(ctx context.Context, config *cli.Config, router *coordinator.Coordinator, args map[string]string) error {
			var build func(string, ...registry.DataKey) registry.Action
			switch args["ACTION"] {
			case "restart":
				build = action.RestartService
			case "reload":
				build = action.ReloadService
			case "start":
				build = action.StartService
			case "stop":
				build = action.StopService
			default:
				return fmt.Errorf("%w: ACTION must be start, stop, restart, or reload", ErrCommandLineArgs)
			}
			if _, err := router.Execute(ctx, build(args["NAME"])); err != nil {
				return err
			}
			fmt.Printf("Service %s: %s requested.\n", args["NAME"], args["ACTION"])
			return nil
		},
	},
	"logout": &Command{
		help: "Destroy the router session and forget the cached token",
		handler: func(ctx context.Context, config *cli.Config, router *coordinator.Coordinator, args map[string]string) error {
			if err := config.Logout(ctx); err != nil {
				return err
			}
			fmt.Println("Session destroyed.")
			return nil
		},
	},
	"ping": &Command{
		help: "Check that the router answers authenticated requests",
		handler: func(ctx context.Context, config *cli.Config, router *coordinator.Coordinator, args map[string]string) error {
			client, err := config.Client()
			if err != nil {
				return err
			}
			start := time.Now()
			if _, err := client.EnsureSession(ctx); err != nil {
				return err
			}
			objects, err := client.List(ctx, "*")
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d ubus objects, round trip %s\n",
				client.Endpoint(), len(objects), time.Since(start).Round(time.Millisecond))
			return nil
		},
	},
}
