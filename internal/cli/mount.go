package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	opfuse "github.com/systemshift/opdag/internal/fuse"
)

func newMountCommand(a *app) *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "mount MOUNTPOINT",
		Short: "Serve the operation log as a read-only filesystem",
		Long: `Mount the operation log at MOUNTPOINT until interrupted.

  heads          current operation heads, one id per line
  log/N          the Nth most recent operation, as JSON
  ops/<id>       an operation by its full hex id
  views/<id>     a view by its full hex id`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.loader()
			if err != nil {
				return err
			}
			mountpoint := args[0]
			if err := os.MkdirAll(mountpoint, 0755); err != nil {
				return fmt.Errorf("create mountpoint: %w", err)
			}
			server, err := opfuse.Mount(mountpoint, l, debug || a.cfg.FUSE.Debug)
			if err != nil {
				return fmt.Errorf("mount failed: %w", err)
			}

			done := make(chan os.Signal, 1)
			signal.Notify(done, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-done
				a.logger.Info("unmounting", "mountpoint", mountpoint)
				server.Unmount()
			}()

			a.logger.Info("mounted operation log", "mountpoint", mountpoint, "pid", os.Getpid())
			server.Wait()
			signal.Stop(done)
			return nil
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "Log FUSE requests")
	return cmd
}
