// Package main runs a small chi service instrumented by the APM agent.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "apm-chi-demo",
		Short: "chi service instrumented by the APM agent",
		Long: `apm-chi-demo serves a handful of endpoints that exercise the APM agent:
named routes, panics, slow requests, database queries and an N+1 query
pattern. Collected metrics are served on the configured debug endpoint.`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newServeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
