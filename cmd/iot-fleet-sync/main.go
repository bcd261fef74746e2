package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
)

const serviceName string = "iot-fleet-sync"

type flagType int
type flagMap map[flagType]string

const (
	listenAddress flagType = iota
	servicePort
	configurationFile
	logLevel

	dbHost
	dbUser
	dbPassword
	dbPort
	dbName
	dbSSLMode

	redisAddr
	fleetUsername
	fleetPassword
	jwtSecret

	apiURL
	apiToken
)

func defaultFlags() flagMap {
	return flagMap{
		listenAddress:     "0.0.0.0",
		servicePort:       "8080",
		configurationFile: "/opt/diwise/config/iot-fleet-sync.yaml",
		logLevel:          "info",

		dbHost:     "",
		dbUser:     "",
		dbPassword: "",
		dbPort:     "5432",
		dbName:     "fleet",
		dbSSLMode:  "disable",

		apiURL: "http://localhost:8080",
	}
}

func main() {
	flags := defaultFlags()

	root := newRootCmd(context.Background(), flags)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(ctx context.Context, flags flagMap) *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Scheduled synchronization of a solar device fleet",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			parseExternalConfig(flags)
			applyCommandLine(cmd, flags)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(newServeCmd(ctx, flags))
	root.AddCommand(newJobsCmd(ctx, flags))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), serviceName, version())
		},
	})

	return root
}

// parseExternalConfig lets environment variables override the defaults.
func parseExternalConfig(flags flagMap) flagMap {
	envOrDef := func(name string, def string) string {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		return def
	}

	flags[listenAddress] = envOrDef("LISTEN_ADDRESS", flags[listenAddress])
	flags[servicePort] = envOrDef("SERVICE_PORT", flags[servicePort])
	flags[configurationFile] = envOrDef("CONFIG_FILE", flags[configurationFile])
	flags[logLevel] = envOrDef("LOG_LEVEL", flags[logLevel])

	flags[dbHost] = envOrDef("POSTGRES_HOST", flags[dbHost])
	flags[dbPort] = envOrDef("POSTGRES_PORT", flags[dbPort])
	flags[dbName] = envOrDef("POSTGRES_DBNAME", flags[dbName])
	flags[dbUser] = envOrDef("POSTGRES_USER", flags[dbUser])
	flags[dbPassword] = envOrDef("POSTGRES_PASSWORD", flags[dbPassword])
	flags[dbSSLMode] = envOrDef("POSTGRES_SSLMODE", flags[dbSSLMode])

	flags[redisAddr] = envOrDef("REDIS_ADDR", flags[redisAddr])
	flags[fleetUsername] = envOrDef("FLEET_USERNAME", flags[fleetUsername])
	flags[fleetPassword] = envOrDef("FLEET_PASSWORD", flags[fleetPassword])
	flags[jwtSecret] = envOrDef("API_JWT_SECRET", flags[jwtSecret])

	flags[apiURL] = envOrDef("FLEET_SYNC_URL", flags[apiURL])
	flags[apiToken] = envOrDef("FLEET_SYNC_TOKEN", flags[apiToken])

	return flags
}

var commandLineFlags = map[string]flagType{
	"log-level": logLevel,
	"config":    configurationFile,
	"listen":    listenAddress,
	"port":      servicePort,
	"url":       apiURL,
	"token":     apiToken,
}

// applyCommandLine lets explicitly given command line flags override both
// defaults and environment variables.
func applyCommandLine(cmd *cobra.Command, flags flagMap) {
	for name, f := range commandLineFlags {
		fl := cmd.Flags().Lookup(name)
		if fl != nil && fl.Changed {
			flags[f] = fl.Value.String()
		}
	}
}

func version() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	buildSettings := buildInfo.Settings
	infoMap := map[string]string{}
	for _, s := range buildSettings {
		infoMap[s.Key] = s.Value
	}

	sha := infoMap["vcs.revision"]
	if infoMap["vcs.modified"] == "true" {
		sha += "+"
	}

	if sha == "" {
		return "unknown"
	}

	return sha
}
