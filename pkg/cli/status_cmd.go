package cli

import (
	"github.com/spf13/cobra"
)

func newStatusCmd(host *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue depth, cache composition and reachability",
		RunE: func(_ *cobra.Command, _ []string) error {
			raw, err := newDaemonClient(*host).get("/status")
			if err != nil {
				return err
			}
			return printJSON(raw)
		},
	}
}

func newFlushCmd(host *string) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Drain the pending mutation queue now",
		RunE: func(_ *cobra.Command, _ []string) error {
			raw, err := newDaemonClient(*host).post("/flush", nil)
			if err != nil {
				return err
			}
			return printJSON(raw)
		},
	}
}
