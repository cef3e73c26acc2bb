package main

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/synthread/go-samflash/flash"
)

func infoCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print the chip id, monitor version and flash descriptors",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			t, err := openTarget(g)
			if err != nil {
				return err
			}
			defer t.Close()

			if err := t.pr.Init(); err != nil {
				return errors.Wrap(err, "could not init flash")
			}

			dev := t.pr.Device()
			fmt.Printf("chip:    %08x (%s)\n", t.chipID, dev.Name)
			fmt.Printf("monitor: %s\n", t.version)
			fmt.Printf("flash:   %d pages of %d bytes at %08x, %d plane(s)\n", dev.Pages, dev.PageSize, dev.Addr, dev.Planes)
			for i, d := range t.pr.Descriptors() {
				fmt.Printf("eefc%d:   id=%08x size=%d page=%d planes=[%d %d]\n",
					i, d.ID, d.TotalSize, d.PageSize, d.Planes[0], d.Planes[1])
			}
			return nil
		},
	}
}

func writeCmd(g *globalFlags) *cobra.Command {
	var opts flash.Options

	cmd := &cobra.Command{
		Use:   "write FILE",
		Short: "Write a .bin or .hex image to flash",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			img, err := flash.ReadImage(args[0])
			if err != nil {
				return err
			}

			t, err := openTarget(g)
			if err != nil {
				return err
			}
			defer t.Close()

			opts.Progress = func(done, total int) {
				logrus.Infof("wrote page %d of %d", done, total)
			}

			if err := t.pr.Program(img, opts); err != nil {
				return err
			}
			if opts.Boot {
				logrus.Info("boot set to flash")
			}
			if opts.Reset {
				logrus.Info("board reset")
			}
			logrus.Info("done!")
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&opts.Boot, "boot", "B", true, "set the board to boot from flash (--boot=false to leave it)")
	f.BoolVarP(&opts.Reset, "reset", "R", true, "reset the board after everything else")
	f.BoolVar(&opts.Verify, "verify", true, "read back and compare every page")
	f.BoolVar(&opts.EraseAll, "erase", false, "erase all flash before writing")

	return cmd
}

func runCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run ADDR",
		Short: "Start the code at ADDR through the monitor's go command",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			addr, err := strconv.ParseUint(args[0], 0, 32)
			if err != nil {
				return errors.Wrapf(err, "bad address %q", args[0])
			}

			t, err := openTarget(g)
			if err != nil {
				return err
			}
			defer t.Close()

			if err := t.pr.Init(); err != nil {
				return errors.Wrap(err, "could not init flash")
			}
			if err := t.pr.Run(uint32(addr)); err != nil {
				return errors.Wrapf(err, "could not start %08x", addr)
			}
			logrus.Infof("started %08x", addr)
			return nil
		},
	}
}
