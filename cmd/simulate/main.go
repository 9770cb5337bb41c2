// Simulate runs one simulation request (or a seed sweep) from the command
// line. The request is read as JSON from the file argument or stdin and the
// response is written as JSON to stdout; logs go to stderr. With -replay the
// strategy runs over the prices of an Arrow stream written by -arrow.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"backtest-sandbox/proto"
	"backtest-sandbox/services/arrowpipeline"
	"backtest-sandbox/services/config"
	"backtest-sandbox/services/runner"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML configuration (defaults when empty)")
		csvOut     = flag.String("csv", "", "Write the trade log and summary to this CSV file")
		arrowOut   = flag.String("arrow", "", "Write prices, signals and equity as an Arrow IPC stream to this file")
		sweepRuns  = flag.Int("sweep", 0, "Run a seed sweep of N runs starting at the request seed")
		replayIn   = flag.String("replay", "", "Run the strategy over the price column of this Arrow IPC stream")
		pretty     = flag.Bool("pretty", false, "Indent the JSON output")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [request.json]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if err := flagConflict(*sweepRuns, *csvOut, *arrowOut, *replayIn); err != nil {
		fmt.Fprintln(flag.CommandLine.Output(), err)
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}

	req, err := readRequest(flag.Arg(0))
	if err != nil {
		fail(enc, err)
	}

	sim := runner.New(cfg.Engine,
		runner.WithLogger(logger),
		runner.WithPipeline(arrowpipeline.NewPipeline(nil, arrowpipeline.WithCompression(cfg.Arrow.Compression))),
	)
	ctx := context.Background()

	if *sweepRuns > 0 {
		resp, err := sim.Sweep(ctx, &proto.SweepRequest{Request: *req, Runs: sweepRuns})
		if err != nil {
			fail(enc, err)
		}
		if err := enc.Encode(resp); err != nil {
			log.Fatalf("Failed to write response: %v", err)
		}
		return
	}

	var resp *proto.SimulateResponse
	if *replayIn != "" {
		data, err := os.ReadFile(*replayIn)
		if err != nil {
			fail(enc, err)
		}
		resp, err = sim.Replay(ctx, req, data)
		if err != nil {
			fail(enc, err)
		}
	} else {
		resp, err = sim.Simulate(ctx, req)
		if err != nil {
			fail(enc, err)
		}
	}

	if *csvOut != "" {
		if err := writeTradesCSV(*csvOut, resp); err != nil {
			fail(enc, err)
		}
		logger.Info("Trades exported", zap.String("path", *csvOut), zap.Int("trades", len(resp.Trades)))
	}
	if *arrowOut != "" {
		data, err := sim.Export(ctx, req)
		if err != nil {
			fail(enc, err)
		}
		if err := os.WriteFile(*arrowOut, data, 0o644); err != nil {
			fail(enc, err)
		}
		logger.Info("Arrow stream exported", zap.String("path", *arrowOut), zap.Int("bytes", len(data)))
	}

	if err := enc.Encode(resp); err != nil {
		log.Fatalf("Failed to write response: %v", err)
	}
}

func readRequest(path string) (*proto.SimulateRequest, error) {
	var r io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return decodeRequest(r)
}

// decodeRequest accepts an empty input as an all-defaults request. A UTF-16
// byte order mark (PowerShell redirection) switches decoding to UTF-16.
func decodeRequest(r io.Reader) (*proto.SimulateRequest, error) {
	tr := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	data, err := io.ReadAll(tr)
	if err != nil {
		return nil, err
	}
	var req proto.SimulateRequest
	if len(data) == 0 {
		return &req, nil
	}
	if err := proto.Decode(bytes.NewReader(data), &req); err != nil {
		return nil, requestError(err)
	}
	return &req, nil
}

// flagConflict rejects output flags that a mode would otherwise ignore.
func flagConflict(sweep int, csvOut, arrowOut, replay string) error {
	if sweep > 0 {
		for _, f := range []struct{ name, value string }{{"csv", csvOut}, {"arrow", arrowOut}, {"replay", replay}} {
			if f.value != "" {
				return fmt.Errorf("-sweep cannot be combined with -%s", f.name)
			}
		}
	}
	if replay != "" && arrowOut != "" {
		return errors.New("-replay cannot be combined with -arrow")
	}
	return nil
}

func fail(enc *json.Encoder, err error) {
	enc.Encode(proto.ErrorResponse(err))
	os.Exit(1)
}
