package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/esimov/phenomorph"
	"github.com/esimov/phenomorph/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const HelpBanner = `
┌─┐┬ ┬┌─┐┌┐┌┌─┐┌┬┐┌─┐┬─┐┌─┐┬ ┬
├─┘├─┤├┤ │││││ ││││││ │├┬┘├─┘├─┤
┴  ┴ ┴└─┘┘└┘└─┘┴ ┴└─┘┴└─┴  ┴ ┴

Landmark shape predictor toolkit.
    Version: %s

`

// Version indicates the current build version.
var Version = "dev"

// globalFlags holds the flags shared by every sub-command.
type globalFlags struct {
	root        string
	backend     string
	backendArgs []string
	cascade     string
	verbose     bool
	noColor     bool
}

var (
	flags  globalFlags
	logger = logrus.New()
)

func main() {
	log.SetFlags(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		log.Fatal(utils.DecorateText(fmt.Sprintf("Error: %v", err), utils.ErrorMessage))
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "phenomorph",
		Short:   "Train and apply landmark shape predictors",
		Long:    fmt.Sprintf(HelpBanner, Version),
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logger.SetOutput(cmd.ErrOrStderr())
			logger.SetFormatter(&logrus.TextFormatter{
				DisableTimestamp: true,
				DisableColors:    flags.noColor,
			})
			if flags.verbose {
				logger.SetLevel(logrus.DebugLevel)
			}
			if flags.noColor {
				utils.SetColor(false)
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.root, "root", "r", ".", "Project directory")
	pf.StringVar(&flags.backend, "backend", "dlib-shape", "Shape predictor backend executable")
	pf.StringArrayVar(&flags.backendArgs, "backend-arg", nil, "Argument passed to the backend before the sub-command (repeatable)")
	pf.StringVar(&flags.cascade, "cascade", "", "Pigo cascade classifier used to locate the specimen")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Verbose output")
	pf.BoolVar(&flags.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(
		newPreprocessCmd(),
		newTrainCmd(),
		newTestCmd(),
		newPredictCmd(),
		newReportCmd(),
		newStatusCmd(),
	)

	return rootCmd
}

// newModel builds the model of the project directory from the global flags.
func newModel() (*phenomorph.Model, error) {
	backend := phenomorph.NewExecBackend(flags.backend, flags.backendArgs...)
	backend.Logger = logger
	if flags.verbose {
		backend.Stderr = os.Stderr
	}

	opts := []phenomorph.Option{phenomorph.WithLogger(logger)}
	if flags.cascade != "" {
		det, err := phenomorph.NewCascadeDetector(flags.cascade)
		if err != nil {
			return nil, err
		}
		opts = append(opts, phenomorph.WithDetector(det))
	}
	return phenomorph.NewModel(flags.root, backend, opts...)
}
