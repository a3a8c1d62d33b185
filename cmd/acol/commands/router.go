package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/acol/src/config"
	"github.com/mosaicnetworks/acol/src/net"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var (
	routerAddr  = config.DefaultRouterAddr
	routerRealm = config.DefaultRealm
	routerLog   = config.DefaultLogLevel
)

//NewRouterCmd returns the command that starts a standalone WAMP router, to
//which the agents of several acol processes can connect with --transport=wamp
func NewRouterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "router",
		Short: "Run a WAMP router for multi-process fleets",
		RunE:  runRouter,
	}

	cmd.Flags().StringVarP(&routerAddr, "router", "r", routerAddr, "Listen IP:Port of the WAMP router")
	cmd.Flags().StringVar(&routerRealm, "realm", routerRealm, "WAMP realm")
	cmd.Flags().StringVar(&routerLog, "log", routerLog, "debug, info, warn, error, fatal, panic")

	return cmd
}

// runRouter starts the WAMP router and waits for a SIGINT or SIGTERM
func runRouter(cmd *cobra.Command, args []string) error {
	logger := logrus.New()
	logger.Level = config.LogLevel(routerLog)
	logger.Formatter = new(prefixed.TextFormatter)

	router, err := net.NewRouter(routerAddr, routerRealm, logger.WithField("prefix", "router"))
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- router.Run()
	}()

	//Prepare sigCh to relay SIGINT and SIGTERM system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
	case err = <-errCh:
	}

	router.Shutdown()

	return err
}
