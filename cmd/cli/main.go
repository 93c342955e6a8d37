package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"godiscover/pkg/discover"
)

var (
	address         string
	port            int
	broadcast       string
	multicast       string
	unicast         string
	weight          float64
	mastersRequired int
	hostname        string
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "disco",
		Short: "disco - decentralized peer discovery and master election",
		Long:  `disco discovers peers on the local network over UDP, elects masters by weight and exchanges named JSON events without any central coordinator`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&address, "address", "0.0.0.0", "Local bind address")
	rootCmd.PersistentFlags().IntVar(&port, "port", 12345, "Bind and destination port")
	rootCmd.PersistentFlags().StringVar(&broadcast, "broadcast", "255.255.255.255", "Broadcast destination")
	rootCmd.PersistentFlags().StringVar(&multicast, "multicast", "", "Multicast group (overrides broadcast)")
	rootCmd.PersistentFlags().StringVar(&unicast, "unicast", "", "Comma-separated unicast destinations (overrides multicast)")
	rootCmd.PersistentFlags().Float64Var(&weight, "weight", 0, "Election weight, higher wins")
	rootCmd.PersistentFlags().IntVar(&mastersRequired, "masters-required", 1, "Target master count")
	rootCmd.PersistentFlags().StringVar(&hostname, "hostname", "", "Override the OS hostname in hellos")

	// Add subcommands
	rootCmd.AddCommand(advertiseCmd())
	rootCmd.AddCommand(listenCmd())
	rootCmd.AddCommand(sendCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newInstance builds an instance from the global flags.
func newInstance(cmd *cobra.Command) (*discover.Instance, error) {
	d, err := discover.New()
	if err != nil {
		return nil, err
	}
	apply := func(name string, value any) error {
		if err := d.SetOption(name, value); err != nil {
			d.Release()
			return err
		}
		return nil
	}
	if err := apply("address", address); err != nil {
		return nil, err
	}
	if err := apply("port", port); err != nil {
		return nil, err
	}
	if err := apply("broadcast", broadcast); err != nil {
		return nil, err
	}
	if err := apply("mastersRequired", mastersRequired); err != nil {
		return nil, err
	}
	if multicast != "" {
		if err := apply("multicast", multicast); err != nil {
			return nil, err
		}
	}
	if unicast != "" {
		if err := apply("unicast", unicast); err != nil {
			return nil, err
		}
	}
	if cmd.Flags().Changed("weight") {
		if err := apply("weight", weight); err != nil {
			return nil, err
		}
	}
	if hostname != "" {
		if err := apply("hostname", hostname); err != nil {
			return nil, err
		}
	}
	return d, nil
}
