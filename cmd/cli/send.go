package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// sendCmd fires one named event datagram and exits after a short grace
// period so the datagram actually leaves the socket.
func sendCmd() *cobra.Command {
	var event string
	var linger int

	cmd := &cobra.Command{
		Use:   "send [json]",
		Short: "Send one named event datagram",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := "{}"
			if len(args) == 1 {
				payload = args[0]
			}
			if !json.Valid([]byte(payload)) {
				return fmt.Errorf("payload is not valid JSON: %s", payload)
			}

			d, err := newInstance(cmd)
			if err != nil {
				return err
			}
			defer d.Release()

			// Client mode: no hello chatter from a one-shot sender.
			if err := d.SetOption("client", true); err != nil {
				return err
			}
			if err := d.Start(); err != nil {
				return err
			}
			if err := d.Send(event, json.RawMessage(payload)); err != nil {
				return err
			}
			time.Sleep(time.Duration(linger) * time.Millisecond)
			fmt.Printf("sent %s\n", event)
			return nil
		},
	}

	cmd.Flags().StringVar(&event, "event", "message", "Event name to send")
	cmd.Flags().IntVar(&linger, "linger", 200, "Milliseconds to wait before closing the socket")
	return cmd
}
