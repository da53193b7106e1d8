package main

import (
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"dashgov/internal/appconfig"
	"dashgov/internal/logger"
	"dashgov/internal/quicsession"
)

var targetURLPattern = regexp.MustCompile(`^https?://`)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		betaFlag        bool
		plotDir         string
		dumpResultsPath string
		envName         string
		abrName         string
		autoConfirm     bool
		num             int
		logLevel        string
		userAgent       string
		authEntries     []string
	)

	cmd := &cobra.Command{
		Use:   "dashgov TARGET_MPD_URL",
		Short: "Headless adaptive MPEG-DASH client with the BETA download governor",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("dashgov: expected exactly one TARGET_MPD_URL argument")
			}
			if !targetURLPattern.MatchString(args[0]) {
				return fmt.Errorf("dashgov: TARGET_MPD_URL %q must match %s", args[0], targetURLPattern.String())
			}
			return nil
		},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.LoadNamed(envName)
			if err != nil {
				return fmt.Errorf("dashgov: loading --env %q: %w", envName, err)
			}

			log := logger.NewLogger(logLevel)
			sessionCache := quicsession.New()

			opts := runOptions{
				targetURL:       args[0],
				cfg:             cfg,
				beta:            betaFlag,
				abrName:         abrName,
				plotDir:         plotDir,
				dumpResultsPath: dumpResultsPath,
				autoConfirm:     autoConfirm,
				authEntries:     authEntries,
				userAgent:       userAgent,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if num < 1 {
				num = 1
			}
			for i := 0; i < num; i++ {
				report, err := runOnce(ctx, opts, sessionCache, log)
				if err != nil {
					return err
				}

				var sb strings.Builder
				report.WriteText(&sb)
				fmt.Fprint(cmd.OutOrStdout(), sb.String())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&betaFlag, "beta", false, "enable the BETA download governor's early-abort/drop-replace feedback loop")
	cmd.Flags().StringVar(&plotDir, "plot", "", "directory to write the throughput/buffer-level series (status.csv)")
	cmd.Flags().StringVar(&dumpResultsPath, "dump-results", "", "path to dump the playback report as JSON")
	cmd.Flags().StringVar(&envName, "env", "default", "named embedded preset or path to a YAML configuration file")
	cmd.Flags().StringVar(&abrName, "abr", "bandwidth-based", "ABR algorithm to use")
	cmd.Flags().BoolVarP(&autoConfirm, "yes", "y", false, "overwrite an existing --plot status.csv without prompting")
	cmd.Flags().IntVar(&num, "num", 1, "number of times to play the target presentation, reusing one QUIC session cache across runs")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (error, warn, info, debug)")
	cmd.Flags().StringVar(&userAgent, "user-agent", "dashgov/1.0", "User-Agent header sent with every request")
	cmd.Flags().StringArrayVar(&authEntries, "auth", nil, "host=scheme:credential Authorization header entries, repeatable")

	return cmd
}
