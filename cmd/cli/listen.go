package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"godiscover/pkg/discover"
	"godiscover/pkg/peers"
)

// listenCmd runs in client mode: track peers and subscribed channels
// without ever announcing the local instance.
func listenCmd() *cobra.Command {
	var channel string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Discover peers and channel events without announcing",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newInstance(cmd)
			if err != nil {
				return err
			}
			defer d.Release()

			if err := d.SetOption("client", true); err != nil {
				return err
			}

			d.On("added", func(d *discover.Instance, node *peers.Record) {
				fmt.Printf("added %s (%s) at %s:%d master=%v weight=%v\n",
					node.IID, node.Hostname, node.Address, node.Port, node.Data.IsMaster, node.Data.Weight)
			})
			d.On("removed", func(d *discover.Instance, node *peers.Record) {
				fmt.Printf("removed %s (%s)\n", node.IID, node.Hostname)
			})
			d.On("error", func(d *discover.Instance, err error) {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			})

			if channel != "" {
				err := d.Join(channel, func(d *discover.Instance, event string, msg *discover.Message) {
					fmt.Printf("event %s from %s: %s\n", event, msg.IID, string(msg.Data))
				})
				if err != nil {
					return err
				}
			}

			if err := d.Start(); err != nil {
				return err
			}
			fmt.Println("listening")

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			<-sigChan
			return nil
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "", "Regex pattern of events to subscribe to")
	return cmd
}
