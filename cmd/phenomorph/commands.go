package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/esimov/phenomorph"
	"github.com/esimov/phenomorph/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// addTagFlag registers the dataset tag flag shared by every sub-command.
func addTagFlag(fs *pflag.FlagSet, tag *string) {
	fs.StringVarP(tag, "tag", "t", "", "Dataset tag")
}

func newPreprocessCmd() *cobra.Command {
	var (
		tag       string
		ratio     float64
		overwrite bool
		shuffle   bool
		seed      int64
	)
	cmd := &cobra.Command{
		Use:   "preprocess",
		Short: "Split the landmark table into train and test documents",
		Example: `  # 80/20 split of landmarks_ml-morph_wings.csv
  phenomorph preprocess -t wings

  # reproducible shuffled split
  phenomorph preprocess -t wings --ratio 0.75 --shuffle --seed 42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newModel()
			if err != nil {
				return err
			}
			var opts []phenomorph.SplitOptions
			if shuffle {
				opts = append(opts, phenomorph.SplitOptions{Shuffle: true, Seed: seed})
			}
			res, err := m.Preprocess(tag, ratio, overwrite, opts...)
			if err != nil {
				return err
			}

			w := cmd.ErrOrStderr()
			if res.Status == phenomorph.StatusExists {
				fmt.Fprintln(w, utils.DecorateText("Train/Test split already exists. Use --overwrite to replace it.", utils.StatusMessage))
				return nil
			}
			fmt.Fprintf(w, "Train/Test split generated. Train dataset has %s images, Test dataset has %s images.\n",
				utils.DecorateText(fmt.Sprint(res.Train), utils.SuccessMessage),
				utils.DecorateText(fmt.Sprint(res.Test), utils.SuccessMessage),
			)
			return nil
		},
	}
	addTagFlag(cmd.Flags(), &tag)
	cmd.Flags().Float64Var(&ratio, "ratio", 0.8, "Fraction of the images used for training")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing split")
	cmd.Flags().BoolVar(&shuffle, "shuffle", false, "Shuffle the images before splitting")
	cmd.Flags().Int64Var(&seed, "seed", 1, "Shuffle seed")
	_ = cmd.MarkFlagRequired("tag")

	return cmd
}

func newTrainCmd() *cobra.Command {
	var (
		tag       string
		config    string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the shape predictor of a tag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := phenomorph.LoadConfig(config)
			if err != nil {
				return err
			}
			logger.WithField("config", config).Info("loaded training configuration")

			m, err := newModel()
			if err != nil {
				return err
			}

			var res *phenomorph.TrainResult
			err = withSpinner(cmd.ErrOrStderr(), "is training the shape predictor...", func() error {
				res, err = m.Train(cmd.Context(), tag, cfg, overwrite)
				return err
			})
			if err != nil {
				return err
			}

			w := cmd.ErrOrStderr()
			if res.Status == phenomorph.StatusExists {
				fmt.Fprintln(w, utils.DecorateText("Model already exists. Use --overwrite to replace it.", utils.StatusMessage))
				return nil
			}
			fmt.Fprintf(w, "Training error (average pixel deviation): %s\n",
				utils.DecorateText(fmt.Sprintf("%.4f", res.TrainingError), utils.SuccessMessage))
			fmt.Fprintf(w, "The model has been saved as: %s\n",
				utils.DecorateText(filepath.Base(res.Artifact), utils.SuccessMessage))
			return nil
		},
	}
	addTagFlag(cmd.Flags(), &tag)
	cmd.Flags().StringVarP(&config, "config", "c", "", "Training configuration file (yaml)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing model")
	_ = cmd.MarkFlagRequired("tag")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func newTestCmd() *cobra.Command {
	var tag, testTag string
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Evaluate a shape predictor on a test split",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newModel()
			if err != nil {
				return err
			}
			var v float64
			err = withSpinner(cmd.ErrOrStderr(), "is testing the shape predictor...", func() error {
				v, err = m.Test(cmd.Context(), tag, testTag)
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Testing error (average pixel deviation): %s\n",
				utils.DecorateText(fmt.Sprintf("%.4f", v), utils.SuccessMessage))
			return nil
		},
	}
	addTagFlag(cmd.Flags(), &tag)
	cmd.Flags().StringVar(&testTag, "test-tag", "", "Tag of the test split (defaults to --tag)")
	_ = cmd.MarkFlagRequired("tag")

	return cmd
}

func newPredictCmd() *cobra.Command {
	var (
		tag    string
		bbox   string
		plot   string
		colour string
		csv    bool
	)
	cmd := &cobra.Command{
		Use:   "predict <image|url|directory>",
		Short: "Predict the landmarks of an image or of every image of a directory",
		Example: `  # landmarks of a single image, drawn on a copy
  phenomorph predict -t wings wing.jpg --plot wing_landmarks.png

  # every image of a directory, stored as predicted_wings.csv
  phenomorph predict -t wings images/ --csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newModel()
			if err != nil {
				return err
			}
			src := args[0]
			out := cmd.OutOrStdout()
			start := time.Now()

			if fi, err := os.Stat(src); err == nil && fi.IsDir() {
				var records []phenomorph.Record
				err = withSpinner(cmd.ErrOrStderr(), "is predicting the landmarks...", func() error {
					records, err = m.PredictDir(cmd.Context(), tag, src, phenomorph.PredictDirOptions{WriteCSV: csv})
					return err
				})
				if err != nil {
					return err
				}
				printElapsed(cmd.ErrOrStderr(), start)
				return phenomorph.WriteAnnotations(out, records)
			}

			opts := phenomorph.PredictOptions{Plot: plot}
			if bbox != "" {
				if opts.BBox, err = phenomorph.ParseBBox(bbox); err != nil {
					return err
				}
			}
			if colour != "" {
				c, err := utils.ParseColor(colour)
				if err != nil {
					return err
				}
				opts.Color = c
			}
			points, err := m.PredictImage(cmd.Context(), tag, src, opts)
			if err != nil {
				return err
			}
			for i, p := range points {
				fmt.Fprintf(out, "%d %d %d\n", i, p.X, p.Y)
			}
			if plot != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "The annotated image has been saved as: %s\n",
					utils.DecorateText(filepath.Base(plot), utils.SuccessMessage))
			}
			printElapsed(cmd.ErrOrStderr(), start)
			return nil
		},
	}
	addTagFlag(cmd.Flags(), &tag)
	cmd.Flags().StringVar(&bbox, "bbox", "", "Region of interest as x,y,width,height")
	cmd.Flags().StringVar(&plot, "plot", "", "Save the image annotated with the landmarks to this path")
	cmd.Flags().StringVar(&colour, "color", "red", "Marker color, by name or hex value")
	cmd.Flags().BoolVar(&csv, "csv", false, "Store the predictions of a directory as predicted_<tag>.csv")
	_ = cmd.MarkFlagRequired("tag")

	return cmd
}

func newReportCmd() *cobra.Command {
	var tag, testTag, plot string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Break down the test error per landmark",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newModel()
			if err != nil {
				return err
			}
			var rep *phenomorph.ErrorReport
			err = withSpinner(cmd.ErrOrStderr(), "is measuring the landmark error...", func() error {
				rep, err = m.Report(cmd.Context(), tag, testTag)
				return err
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %10s %10s %10s\n", "landmark", "mean", "stddev", "max")
			for _, le := range rep.Landmarks {
				fmt.Fprintf(out, "%-10d %10.3f %10.3f %10.3f\n", le.Index+1, le.Mean, le.StdDev, le.Max)
			}
			fmt.Fprintf(out, "\nAverage pixel deviation over %d images: %.3f\n", rep.Images, rep.Mean)

			if plot != "" {
				if err := rep.Plot(plot); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "The chart has been saved as: %s\n",
					utils.DecorateText(filepath.Base(plot), utils.SuccessMessage))
			}
			return nil
		},
	}
	addTagFlag(cmd.Flags(), &tag)
	cmd.Flags().StringVar(&testTag, "test-tag", "", "Tag of the test split (defaults to --tag)")
	cmd.Flags().StringVar(&plot, "plot", "", "Save a bar chart of the error per landmark to this path")
	_ = cmd.MarkFlagRequired("tag")

	return cmd
}

func newStatusCmd() *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which files of a tag are present",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newModel()
			if err != nil {
				return err
			}
			st := m.Status(tag)
			out := cmd.OutOrStdout()

			printPresence(out, "landmarks", m.AnnotationPath(tag), st.Annotations)
			printPresence(out, "train split", m.TrainPath(tag), st.TrainSplit)
			printPresence(out, "test split", m.TestPath(tag), st.TestSplit)
			printPresence(out, "model", m.ArtifactPath(tag), st.Artifact)
			if mf := st.Manifest; mf != nil {
				fmt.Fprintf(out, "\ntrained %s in %s (run %s), training error %.4f\n",
					mf.CreatedAt.Format(time.RFC3339), mf.Duration, mf.RunID, mf.TrainingError)
			}
			return nil
		},
	}
	addTagFlag(cmd.Flags(), &tag)
	_ = cmd.MarkFlagRequired("tag")

	return cmd
}

// withSpinner runs fn while showing the progress indicator.
func withSpinner(w io.Writer, msg string, fn func() error) error {
	text := fmt.Sprintf("%s %s",
		utils.DecorateText("⚡ PHENOMORPH", utils.StatusMessage),
		utils.DecorateText(msg, utils.DefaultMessage))
	spinner := utils.NewSpinner(w, text, 200*time.Millisecond)
	spinner.Start()

	err := fn()
	if err == nil {
		spinner.StopMsg = text + " ✔\n"
	}
	spinner.Stop()

	return err
}

func printElapsed(w io.Writer, start time.Time) {
	fmt.Fprintf(w, "Execution time: %s\n",
		utils.DecorateText(utils.FormatTime(time.Since(start)), utils.SuccessMessage))
}

func printPresence(w io.Writer, label, path string, ok bool) {
	mark := utils.DecorateText("missing", utils.ErrorMessage)
	if ok {
		mark = utils.DecorateText("ok", utils.SuccessMessage)
	}
	fmt.Fprintf(w, "%-12s %-8s %s\n", label, mark, path)
}
