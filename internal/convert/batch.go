package convert

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stylizer-ml/stylizer/internal/parallel"
	"github.com/stylizer-ml/stylizer/internal/report"
)

// JobResult is the outcome of one batch entry.
type JobResult struct {
	ID       string
	Name     string
	Output   string
	Report   report.Report
	Manifest Manifest
	Err      error
}

// RunBatch converts every model in the configuration on a bounded worker
// pool. Jobs are independent: each worker owns its graph, engine and
// output file. Results come back in configuration order regardless of
// completion order.
func RunBatch(cfg *Config, workers int) []JobResult {
	results := make([]JobResult, len(cfg.Models))

	parallel.Jobs(len(cfg.Models), workers, func(i int) error {
		spec := cfg.Models[i]
		res := JobResult{
			ID:     uuid.NewString(),
			Name:   spec.Name,
			Output: spec.Output,
		}
		log := logrus.WithFields(logrus.Fields{"job": res.ID, "model": spec.Name})

		opts, err := cfg.options(spec)
		if err != nil {
			res.Err = err
			results[i] = res
			return err
		}
		// Every worker runs its own engine so no execution state is shared.
		opts.Engine = nil

		outcome, err := Run(FileSource(spec.Input), opts)
		if outcome != nil {
			res.Report = outcome.Report
			res.Manifest = outcome.Manifest
		}
		if err != nil {
			log.WithError(err).Error("conversion failed")
			res.Err = err
			results[i] = res
			return err
		}

		if err := WriteFileAtomic(spec.Output, outcome.Model); err != nil {
			res.Err = err
			results[i] = res
			return err
		}
		log.WithField("output", spec.Output).Info("model written")
		results[i] = res
		return nil
	})

	return results
}

// WriteFileAtomic writes data to a sibling temp file and renames it into
// place, so a failed conversion never leaves a partial model behind.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming model into place: %w", err)
	}
	return nil
}
