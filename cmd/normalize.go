package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/visit-scheduler/internal/visiturl"
)

func newNormalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize URL [REF]",
		Short: "Print the normalized form, host key and hash key of a URL",
		Long: `normalize shows how the scheduler sees a URL. With REF, REF is resolved
against URL first, the way redirect locations are.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := visiturl.Normalize(args[0])
			if err != nil {
				return fmt.Errorf("normalize: %w", err)
			}
			if len(args) == 2 {
				if u, err = u.Resolve(args[1]); err != nil {
					return fmt.Errorf("resolve: %w", err)
				}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "url:    %s\n", u)
			fmt.Fprintf(out, "host:   %s\n", u.Host())
			fmt.Fprintf(out, "domain: %s\n", u.Domain())
			fmt.Fprintf(out, "hash:   %s\n", u.HashKey())
			return nil
		},
	}
}
