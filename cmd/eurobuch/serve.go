package main

import (
	"github.com/aluiziolira/go-eurobuch/api"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr        string
		withHistory bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search API over HTTP",
		Long: `Serve exposes GET /api/search?q=, GET /api/isbn/{isbn}, /healthcheck and
Prometheus /metrics. With --history every search is recorded and
GET /api/history and GET /api/history/{isbn} are enabled.`,
		Example: `  eurobuch serve --addr :8080 --history`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.ListenAddr = addr
			}

			client, err := a.newClient()
			if err != nil {
				return err
			}

			opts := api.Options{
				Host:     a.cfg.SearchHost,
				Registry: client.Metrics.Registry,
			}
			if withHistory {
				history, err := a.openHistory()
				if err != nil {
					return err
				}
				defer history.Close()
				opts.History = history
			}

			return api.NewServer(client, opts).ListenAndServe(cmd.Context(), a.cfg.ListenAddr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address (env EUROBUCH_LISTEN_ADDR)")
	cmd.Flags().BoolVar(&withHistory, "history", false, "Record searches and enable history endpoints")

	return cmd
}
