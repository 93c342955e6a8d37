package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"godiscover/pkg/discover"
	"godiscover/pkg/peers"
)

// advertiseCmd announces the local instance with an advertisement payload
// and prints the peer lifecycle until interrupted.
func advertiseCmd() *cobra.Command {
	var payload string

	cmd := &cobra.Command{
		Use:   "advertise",
		Short: "Announce this instance and print discovered peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newInstance(cmd)
			if err != nil {
				return err
			}
			defer d.Release()

			if payload != "" {
				if !json.Valid([]byte(payload)) {
					return fmt.Errorf("advertisement is not valid JSON: %s", payload)
				}
				if err := d.Advertise(json.RawMessage(payload)); err != nil {
					return err
				}
			}

			d.On("added", func(d *discover.Instance, node *peers.Record) {
				fmt.Printf("added %s (%s) at %s:%d advertisement=%s\n",
					node.IID, node.Hostname, node.Address, node.Port, string(node.Data.Advertisement))
			})
			d.On("removed", func(d *discover.Instance, node *peers.Record) {
				fmt.Printf("removed %s (%s)\n", node.IID, node.Hostname)
			})
			d.On("master", func(d *discover.Instance, node *peers.Record) {
				fmt.Printf("master %s weight=%v\n", node.IID, node.Data.Weight)
			})
			d.On("promotion", func(d *discover.Instance) {
				fmt.Println("promoted to master")
			})
			d.On("demotion", func(d *discover.Instance) {
				fmt.Println("demoted from master")
			})
			d.On("error", func(d *discover.Instance, err error) {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			})

			if err := d.Start(); err != nil {
				return err
			}
			fmt.Printf("advertising as %s\n", d.IID())

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			<-sigChan
			return nil
		},
	}

	cmd.Flags().StringVar(&payload, "json", "", "Advertisement payload attached to each hello")
	return cmd
}
