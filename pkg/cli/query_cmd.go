package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newQueryCmd(host *string) *cobra.Command {
	return &cobra.Command{
		Use:   "query <sql>",
		Short: "Run an analytical SQL query against the cached data",
		Example: `  fieldsync query "SELECT COUNT(*) FROM audits"
  fieldsync query "SELECT id FROM ncrs WHERE origin = 'local-optimistic'"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			sql := strings.Join(args, " ")
			if strings.TrimSpace(sql) == "" {
				return fmt.Errorf("sql must not be empty")
			}

			raw, err := newDaemonClient(*host).post("/query", map[string]string{"sql": sql})
			if err != nil {
				return err
			}
			return printJSON(raw)
		},
	}
}
