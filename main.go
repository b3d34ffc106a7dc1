package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"

	"github.com/pkg/errors"

	"micrograd-explorer/mnist"
	"micrograd-explorer/train"
)

func main() {
	var (
		configPath = flag.String("config", "", "JSON config file (defaults are used when empty)")
		serve      = flag.String("serve", "", "serve the HTTP API on this address instead of training")
		steps      = flag.Int("steps", 0, "samples to train on")
		workers    = flag.Int("workers", 0, "replica graphs per batch")
		dataDir    = flag.String("data", "", "directory holding the MNIST files")
		fetch      = flag.Bool("fetch", false, "download missing MNIST files")
		checkpoint = flag.String("checkpoint", "", "load weights from and save them to this file")
	)
	flag.Parse()

	cfg := train.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = train.LoadConfig(*configPath); err != nil {
			log.Fatalf("config: %v", err)
		}
	}
	// Flags given explicitly win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "steps":
			cfg.Steps = *steps
		case "workers":
			cfg.Workers = *workers
		case "data":
			cfg.DataDir = *dataDir
		case "fetch":
			cfg.Fetch = *fetch
		case "checkpoint":
			cfg.Checkpoint = *checkpoint
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	load := mnistLoader()
	if *serve != "" {
		mux := http.NewServeMux()
		NewServer(cfg, load, log.Default()).RegisterRoutes(mux)
		log.Printf("Server starting on %s...", *serve)
		if err := http.ListenAndServe(*serve, mux); err != nil {
			log.Fatalf("serve: %v", err)
		}
		return
	}

	if err := run(ctx, cfg, load); err != nil {
		log.Fatalf("train: %v", err)
	}
}

// run trains for cfg.Steps samples, reports test accuracy and writes the
// checkpoint. An interrupt stops training early but still saves.
func run(ctx context.Context, cfg train.Config, load DataLoader) error {
	trainSet, testSet, err := load(ctx, cfg)
	if err != nil {
		return err
	}
	t, err := train.New(cfg, trainSet, log.Default())
	if err != nil {
		return err
	}

	sum, err := t.Run(ctx, cfg.Steps)
	if err != nil && errors.Cause(err) != context.Canceled {
		return err
	}
	log.Printf("trained on %d samples (%d updates): loss %.6f, accuracy %.4f", sum.Step, sum.Updates, sum.Loss, sum.Accuracy)

	if testSet != nil {
		acc, n := t.Evaluate(testSet, cfg.EvalSamples)
		log.Printf("test accuracy: %.4f over %d samples", acc, n)
	}
	return t.Save()
}

// mnistLoader reads both MNIST splits from cfg.DataDir, downloading them
// first when cfg.Fetch is set. Splits are cached per directory.
func mnistLoader() DataLoader {
	var (
		mu    sync.Mutex
		cache = map[string][2]*mnist.Dataset{}
	)
	return func(ctx context.Context, cfg train.Config) (train.Dataset, train.Dataset, error) {
		mu.Lock()
		defer mu.Unlock()
		if sets, ok := cache[cfg.DataDir]; ok {
			return sets[0], sets[1], nil
		}
		if cfg.Fetch {
			log.Printf("fetching MNIST into %s", cfg.DataDir)
			if err := mnist.Fetch(ctx, http.DefaultClient, cfg.BaseURL, cfg.DataDir); err != nil {
				return nil, nil, err
			}
		}
		trainSet, err := mnist.Open(cfg.DataDir, mnist.Train)
		if err != nil {
			return nil, nil, errors.Wrap(err, "training set (run with -fetch to download)")
		}
		testSet, err := mnist.Open(cfg.DataDir, mnist.Test)
		if err != nil {
			return nil, nil, errors.Wrap(err, "test set")
		}
		cache[cfg.DataDir] = [2]*mnist.Dataset{trainSet, testSet}
		return trainSet, testSet, nil
	}
}
