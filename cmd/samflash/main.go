// Command samflash writes firmware to SAM3X and SAM E70/S70/V70/V71 parts
// through the SAM-BA ROM monitor.
package main

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/synthread/go-samflash/flash"
	"github.com/synthread/go-samflash/sim"
)

type globalFlags struct {
	port      string
	baud      int
	eraseGPIO int
	powerGPIO int
	debug     int
	dryRun    string
}

var simModels = map[string]sim.Config{
	"sam3x8e":   sim.SAM3X8E,
	"same70q21": sim.SAME70Q21,
}

// target is either a real chip behind a serial port or a simulated one
type target struct {
	mc      *flash.Microcontroller
	pr      *flash.Programmer
	chipID  uint32
	version string
}

func (t *target) Close() {
	if t.mc != nil {
		t.mc.Close()
	}
}

func openTarget(g *globalFlags) (*target, error) {
	if g.dryRun != "" {
		cfg, ok := simModels[strings.ToLower(g.dryRun)]
		if !ok {
			return nil, errors.Errorf("unknown simulated chip %q", g.dryRun)
		}
		dev, err := flash.DeviceForChip(cfg.ChipID)
		if err != nil {
			return nil, err
		}
		logrus.Infof("dry run against simulated %s", cfg.Name)
		return &target{
			pr:      flash.NewProgrammer(sim.NewChip(cfg), dev),
			chipID:  cfg.ChipID,
			version: "simulated",
		}, nil
	}

	mc, err := flash.NewMicrocontroller(&flash.Config{
		ErasePinGPIO:   g.eraseGPIO,
		PowerGPIO:      g.powerGPIO,
		BootloaderBaud: g.baud,
		TTY:            g.port,
	})
	if err != nil {
		return nil, err
	}
	if err := mc.Open(); err != nil {
		return nil, err
	}
	pr, err := mc.Programmer()
	if err != nil {
		mc.Close()
		return nil, err
	}
	return &target{mc: mc, pr: pr, chipID: mc.ChipID(), version: mc.Version()}, nil
}

func main() {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "samflash",
		Short:         "Flash SAM3X and SAM x70 parts through SAM-BA",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if g.debug > 0 {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.port, "port", "p", flash.DefaultTTY, "serial device of the SAM-BA monitor")
	pf.IntVar(&g.baud, "baud", flash.DefaultBaud, "baud rate")
	pf.IntVar(&g.eraseGPIO, "erase-gpio", -1, "GPIO wired to the ERASE pin (negative to disable)")
	pf.IntVar(&g.powerGPIO, "power-gpio", -1, "GPIO switching the board supply (negative to disable)")
	pf.CountVarP(&g.debug, "debug", "D", "turn up the verbosity")
	pf.StringVar(&g.dryRun, "dry-run", "", "run against a simulated chip (sam3x8e, same70q21)")

	root.AddCommand(infoCmd(g), writeCmd(g), runCmd(g))

	if err := root.Execute(); err != nil {
		logrus.Errorf("FAILED: %v", err)
		os.Exit(1)
	}
}
