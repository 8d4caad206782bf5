package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/julienstroheker/HexRelay/internal/api"
	"github.com/spf13/cobra"
)

const defaultStatusAddr = "127.0.0.1:9090"

var statusServerFlag string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show listeners and live redirections of a running relay",
	Long: `Query the status server of a running relay (see start --status-addr)
and print its listeners and live redirections.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := statusServerFlag
		if addr == "" {
			addr = cfg.StatusAddr
		}
		if addr == "" {
			addr = defaultStatusAddr
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		client := api.NewClient(&api.Options{Addr: addr, Timeout: 5 * time.Second, MaxRetries: 2, Logger: logger})
		return printStatus(ctx, cmd.OutOrStdout(), client)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusServerFlag, "addr", "",
		"Status server address (default: HEXRELAY_STATUS_ADDR or "+defaultStatusAddr+")")
}

func printStatus(ctx context.Context, out io.Writer, client *api.Client) error {
	servers, err := client.Servers(ctx)
	if err != nil {
		return err
	}
	redirections, err := client.Redirections(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PORT\tSTATE\tDESTINATION\tADDR")
	for _, s := range servers {
		destination := "dynamic"
		if !s.Dynamic {
			destination = net.JoinHostPort(s.ServiceHost, strconv.Itoa(s.ServicePort))
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.LocalPort, s.State, destination, s.Addr)
	}
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "ID\tPORT\tCLIENT\tSERVICE\tAGE")
	for _, r := range redirections {
		age := time.Since(r.StartTime).Truncate(time.Second)
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", r.ID, r.LocalPort, r.Client, r.Service, age)
	}
	return w.Flush()
}
