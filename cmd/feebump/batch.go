// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"io"

	"golang.org/x/sync/errgroup"
)

// processFiles runs the requests stored in files, at most cfg.Parallel at a
// time, and returns their responses in the order of files. A request that
// fails yields a response carrying the error; only a cancelled context stops
// the batch.
func processFiles(ctx context.Context, cfg *config,
	files []string) ([]*response, error) {

	responses := make([]*response, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Parallel)

	for i, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			req, err := readRequest(file)
			if err != nil {
				log.Errorf("Unable to read request %s: %v", file, err)
				responses[i] = &response{File: file, Error: err.Error()}

				return nil
			}

			log.Debugf("Processing %s request %s", req.Operation, file)
			responses[i] = req.process(cfg, file)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return responses, nil
}

// writeResponses encodes the responses as a JSON array.
func writeResponses(w io.Writer, responses []*response, indent bool) error {
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}

	return enc.Encode(responses)
}

// failed returns the number of responses carrying an error.
func failed(responses []*response) int {
	n := 0
	for _, resp := range responses {
		if resp.Error != "" {
			n++
		}
	}

	return n
}
