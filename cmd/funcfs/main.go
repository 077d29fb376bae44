// Command funcfs exercises the function engine from the command line:
// it inspects descriptor blobs and runs a self-contained loopback
// function against the in-memory transport.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ardnew/funcfs/desc"
	"github.com/ardnew/funcfs/function"
	"github.com/ardnew/funcfs/function/hal"
	"github.com/ardnew/funcfs/function/hal/loop"
	"github.com/ardnew/funcfs/pkg"
	"github.com/ardnew/funcfs/pkg/prof"
)

var (
	verbose    bool
	logJSON    bool
	cpuProfile string
)

func main() {
	root := &cobra.Command{
		Use:   "funcfs",
		Short: "USB function engine tools",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logJSON {
				pkg.SetLogFormat(pkg.LogFormatJSON)
			}
			if verbose {
				pkg.SetLogLevel(slog.LevelDebug)
			}
			if cpuProfile != "" {
				return prof.StartCPU(cpuProfile)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			prof.StopCPU()
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")
	root.PersistentFlags().BoolVar(&logJSON, "log-json", false,
		"log in JSON format")
	root.PersistentFlags().StringVar(&cpuProfile, "cpuprofile", "",
		"write a CPU capture to this file (requires the profile build tag)")

	root.AddCommand(inspectCommand())
	root.AddCommand(loopbackCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func inspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <descriptors.bin> [strings.bin]",
		Short: "Parse and summarize configuration blobs",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			blob, err := desc.ParseBlob(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			printBlob(cmd, blob)

			if len(args) == 2 {
				data, err := os.ReadFile(args[1])
				if err != nil {
					return err
				}
				table, err := desc.ParseStrings(data, blob.StringsNeeded)
				if err != nil {
					return fmt.Errorf("%s: %w", args[1], err)
				}
				printStrings(cmd, table)
			}
			return nil
		},
	}
}

func printBlob(cmd *cobra.Command, b *desc.Blob) {
	cmd.Printf("flags:       0x%08x\n", b.Flags)
	if b.NotifierHandle >= 0 {
		cmd.Printf("notifier:    handle %d\n", b.NotifierHandle)
	}
	cmd.Printf("interfaces:  %d\n", b.InterfaceCount)
	cmd.Printf("endpoints:   %d\n", b.EndpointCount)
	cmd.Printf("strings:     %d required\n", b.StringsNeeded)
	if b.OSDescCount > 0 {
		cmd.Printf("os descs:    %d records\n", b.OSDescCount)
	}

	tierNames := [desc.TierCount]string{"full", "high", "super"}
	for tier, name := range tierNames {
		if !b.HasTier(tier) {
			continue
		}
		cmd.Printf("%s speed: %d descriptors\n", name, b.Counts[tier])
		_, err := desc.Walk(b.Tier(tier), int(b.Counts[tier]),
			func(kind desc.EntityKind, value *byte, d []byte) error {
				switch kind {
				case desc.KindInterface:
					cmd.Printf("  interface %d (%d bytes)\n", *value, len(d))
				case desc.KindEndpoint:
					ed := desc.EndpointDesc(d)
					dir := "out"
					if ed.IsIn() {
						dir = "in"
					}
					cmd.Printf("    endpoint 0x%02x %s, max packet %d\n",
						ed.Address(), dir, ed.MaxPacketSize())
				}
				return nil
			})
		if err != nil {
			cmd.Printf("  walk error: %v\n", err)
		}
	}
	for i := 1; i <= b.EndpointCount; i++ {
		cmd.Printf("endpoint %d declared at 0x%02x\n", i, b.Address(i))
	}
}

func printStrings(cmd *cobra.Command, t *desc.StringTable) {
	for _, lang := range t.Languages {
		cmd.Printf("language 0x%04x:\n", lang.ID)
		for i, s := range lang.Strings {
			cmd.Printf("  %d: %q\n", i+1, s)
		}
	}
}

func loopbackCommand() *cobra.Command {
	var (
		speedName string
		message   string
	)
	cmd := &cobra.Command{
		Use:   "loopback",
		Short: "Run a loopback function against the in-memory transport",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			speed, err := parseSpeed(speedName)
			if err != nil {
				return err
			}
			return runLoopback(cmd, speed, []byte(message))
		},
	}
	cmd.Flags().StringVar(&speedName, "speed", "high",
		"connection speed: full, high, or super")
	cmd.Flags().StringVar(&message, "message", "hello from funcfs",
		"payload to echo through the function")
	return cmd
}

func parseSpeed(name string) (hal.Speed, error) {
	switch name {
	case "full":
		return hal.SpeedFull, nil
	case "high":
		return hal.SpeedHigh, nil
	case "super":
		return hal.SpeedSuper, nil
	}
	return hal.SpeedUnknown, fmt.Errorf("unknown speed %q", name)
}

// runLoopback stands up a complete function instance and pushes one
// payload device-to-host and back, reporting each lifecycle event.
func runLoopback(cmd *cobra.Command, speed hal.Speed, payload []byte) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	reg := function.NewRegistry()
	s, err := reg.Create("loopback", function.Options{})
	if err != nil {
		return err
	}
	defer reg.Destroy("loopback")

	ep0, err := s.OpenControl()
	if err != nil {
		return err
	}
	defer ep0.Close()

	raw := desc.AppendInterface(nil, 0, 2, 0xFF, 0x42, 1, 1)
	raw = desc.AppendBulkEndpoint(raw, 0x81, 64)
	raw = desc.AppendBulkEndpoint(raw, 0x01, 64)
	blob := new(desc.BlobBuilder).
		SetTier(desc.TierFull, 3, raw).
		SetTier(desc.TierHigh, 3, raw).
		Bytes()
	if _, err := ep0.Write(ctx, blob); err != nil {
		return fmt.Errorf("descriptors: %w", err)
	}
	strs := desc.BuildStrings([]desc.Language{
		{ID: 0x0409, Strings: []string{"Loopback"}},
	})
	if _, err := ep0.Write(ctx, strs); err != nil {
		return fmt.Errorf("strings: %w", err)
	}

	tr := loop.New(speed)
	fn, err := function.Bind(s, tr, new(function.SimpleAllocator))
	if err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	if err := fn.Enable(); err != nil {
		return fmt.Errorf("enable: %w", err)
	}
	reportEvents(cmd, ep0, 2)

	files := s.EndpointFiles()
	in, out := files[0], files[1]
	if err := in.Open(); err != nil {
		return err
	}
	defer in.Close()
	if err := out.Open(); err != nil {
		return err
	}
	defer out.Close()

	hostIn, _ := tr.Host(0x81)
	hostOut, _ := tr.Host(0x02)

	// Device to host.
	echo := make(chan []byte, 1)
	go func() {
		data, err := hostIn.HostRead(ctx)
		if err != nil {
			data = nil
		}
		echo <- data
	}()
	if _, err := in.Write(ctx, payload); err != nil {
		return fmt.Errorf("device write: %w", err)
	}
	cmd.Printf("host received: %q\n", <-echo)

	// Host to device.
	if err := hostOut.HostWrite(payload); err != nil {
		return fmt.Errorf("host write: %w", err)
	}
	buf := make([]byte, 512)
	n, err := out.Read(ctx, buf)
	if err != nil {
		return fmt.Errorf("device read: %w", err)
	}
	cmd.Printf("device received: %q\n", buf[:n])

	fn.Unbind()
	reportEvents(cmd, ep0, 1)
	return nil
}

func reportEvents(cmd *cobra.Command, ep0 *function.ControlFile, n int) {
	buf := make([]byte, n*desc.EventRecordSize)
	got, err := ep0.Read(context.Background(), buf)
	if err != nil {
		cmd.Printf("event read: %v\n", err)
		return
	}
	for off := 0; off+desc.EventRecordSize <= got; off += desc.EventRecordSize {
		var ev desc.Event
		if err := desc.ParseEvent(buf[off:], &ev); err != nil {
			continue
		}
		cmd.Printf("event: %s\n", ev.Type)
	}
}
