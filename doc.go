/*
Package phenomorph trains and applies shape predictors which place point landmarks on
images of organisms.

A project lives in a single directory. The annotated landmarks of a dataset tag are read
from landmarks_ml-morph_<tag>.csv, split into a training and a test document in the dlib
dataset format, used to fit a predictor and finally to predict the landmarks of new images.
The numerical work is delegated to a Backend; ExecBackend drives an external program,
typically a thin wrapper around dlib.

The package provides a command line interface covering the whole lifecycle.
To check the supported commands type:

	$ phenomorph --help

In case you wish to integrate the API in a self constructed environment here is a simple example:

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/esimov/phenomorph"
	)

	func main() {
		m, err := phenomorph.NewModel("project", phenomorph.NewExecBackend("dlib-shape"))
		if err != nil {
			log.Fatal(err)
		}
		if _, err := m.Preprocess("wings", 0.8, false); err != nil {
			log.Fatal(err)
		}
		cfg, err := phenomorph.LoadConfig("config.yaml")
		if err != nil {
			log.Fatal(err)
		}
		if _, err := m.Train(context.Background(), "wings", cfg, false); err != nil {
			log.Fatal(err)
		}
		points, err := m.PredictImage(context.Background(), "wings", "wing.jpg", phenomorph.PredictOptions{})
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(points)
	}
*/
package phenomorph
