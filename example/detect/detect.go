// Command detect runs the road hazard pipeline over a single image, saving
// the annotated image and printing the frame metadata as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"

	"github.com/rs/zerolog"
	"github.com/swdee/go-roadhazard"
	"github.com/swdee/go-roadhazard/config"
	"gocv.io/x/gocv"
)

func main() {

	cfgFile := flag.String("c", "", "YAML configuration file, optional")
	imgFile := flag.String("i", "../data/road.jpg", "Image file to run detection on")
	saveFile := flag.String("o", "../data/road-out.jpg", "The output JPG file with object detection markers")

	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load(*cfgFile)

	if err != nil {
		log.Fatal().Err(err).Msg("error loading configuration")
	}

	dets, err := roadhazard.LoadDetectors(cfg, log)

	if err != nil {
		log.Fatal().Err(err).Msg("error loading models")
	}

	defer dets.Close()

	pipeline, err := roadhazard.NewPipeline(cfg, dets, log)

	if err != nil {
		log.Fatal().Err(err).Msg("error creating pipeline")
	}

	img := gocv.IMRead(*imgFile, gocv.IMReadColor)

	if img.Empty() {
		log.Fatal().Str("file", *imgFile).Msg("error reading image")
	}

	defer img.Close()

	res, err := pipeline.Process(context.Background(), img)

	if err != nil {
		log.Fatal().Err(err).Msg("error processing image")
	}

	defer res.Close()

	if ok := gocv.IMWrite(*saveFile, *res.Image); !ok {
		log.Fatal().Str("file", *saveFile).Msg("error saving annotated image")
	}

	for _, d := range res.Detections {
		box := d.BoundingBox()

		log.Info().
			Str("source", string(d.Source())).
			Str("class", d.ClassName()).
			Float32("confidence", d.Confidence()).
			Ints("box", []int{box.Left, box.Top, box.Right, box.Bottom}).
			Bool("in_lane", d.InDriverLane()).
			Msg("detection")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(res.Metadata()); err != nil {
		log.Fatal().Err(err).Msg("error encoding metadata")
	}

	log.Info().Str("file", *saveFile).Msg("saved annotated image")
}
