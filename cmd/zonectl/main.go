// Command zonectl is the operator CLI for zonecored: one subcommand per
// operation, talking to the daemon's admin API over HTTP.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/korsgren/zonecore/logging"
)

var (
	apiAddr string
	verbose bool
)

func main() {
	root := &cobra.Command{
		Use:   "zonectl",
		Short: "Operate a zonecored zone-management daemon",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetupCLI(verbose)
		},
	}
	root.PersistentFlags().StringVar(&apiAddr, "api", "http://localhost:8053", "zonecored admin API base address")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(listCmd(), statusCmd(), flushCmd(), refreshCmd(), freezeCmd(), thawCmd(), bumpCmd(), journalCmd(), updateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List zones known to zonecored",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(apiAddr + "/zones")
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <zone>",
		Short: "Show a zone's transfer state, live serial, and zonefile serial",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(apiAddr + "/zones/" + args[0] + "/status")
		},
	}
}

func flushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush <zone>",
		Short: "Force a flush of a zone's live content to its zonefile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Post(apiAddr+"/zones/"+args[0]+"/flush", "application/octet-stream", nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			_, err = io.Copy(os.Stdout, resp.Body)
			return err
		},
	}
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <zone>",
		Short: "Force an immediate REFRESH attempt for a zone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAndPrint(apiAddr+"/zones/"+args[0]+"/refresh", nil)
		},
	}
}

func freezeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "freeze <zone>",
		Short: "Freeze a zone: block updates and REFRESH until thawed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAndPrint(apiAddr+"/zones/"+args[0]+"/freeze", nil)
		},
	}
}

func thawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "thaw <zone>",
		Short: "Thaw a previously frozen zone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAndPrint(apiAddr+"/zones/"+args[0]+"/thaw", nil)
		},
	}
}

func bumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bump <zone>",
		Short: "Force a new SOA serial with no other content change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAndPrint(apiAddr+"/zones/"+args[0]+"/bump", nil)
		},
	}
}

func journalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "journal <zone>",
		Short: "Dump journal entry metadata for a zone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(apiAddr + "/zones/" + args[0] + "/journal")
		},
	}
}

func updateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "update <zone>",
		Short: "Apply a raw dynamic-update message from a file through the update pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body io.Reader
			if file == "-" || file == "" {
				body = os.Stdin
			} else {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				body = f
			}
			resp, err := http.Post(apiAddr+"/zones/"+args[0]+"/update", "application/octet-stream", body)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			_, err = io.Copy(os.Stdout, resp.Body)
			return err
		},
	}
	cmd.Flags().StringVar(&file, "file", "-", "path to a raw wire-format UPDATE packet, or - for stdin")
	return cmd
}

func postAndPrint(url string, body io.Reader) error {
	resp, err := http.Post(url, "application/octet-stream", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

func getAndPrint(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}
