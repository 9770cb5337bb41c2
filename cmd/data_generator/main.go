// Data Generator writes a synthetic price series to CSV for offline use.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/shopspring/decimal"

	"backtest-sandbox/services/engine"
)

func main() {
	var (
		market = flag.String("market", "Trending", "Market regime: Trending, Sideways or MeanReverting")
		bars   = flag.Int("bars", 1000, "Number of timesteps to generate")
		seed   = flag.Int64("seed", 42, "Random seed")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <output_file.csv>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	outputFile := flag.Arg(0)

	regime, err := engine.ParseRegime(*market)
	if err != nil {
		log.Fatalf("Invalid market: %v", err)
	}
	prices, err := engine.GenerateSeries(engine.MarketConfig{Regime: regime, Timesteps: *bars, Seed: *seed})
	if err != nil {
		log.Fatalf("Failed to generate prices: %v", err)
	}

	log.Printf("Generating %d bars of %s data to %s", *bars, regime, outputFile)

	file, err := os.Create(outputFile)
	if err != nil {
		log.Fatalf("Failed to create file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"t", "price"}); err != nil {
		log.Fatalf("Failed to write header: %v", err)
	}
	for t, p := range prices {
		record := []string{strconv.Itoa(t), decimal.NewFromFloat(p).StringFixed(6)}
		if err := writer.Write(record); err != nil {
			log.Fatalf("Failed to write record: %v", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		log.Fatalf("Failed to flush CSV: %v", err)
	}

	first, last := decimal.NewFromFloat(prices[0]), decimal.NewFromFloat(prices[len(prices)-1])
	log.Printf("Price range: %s -> %s", first.StringFixed(2), last.StringFixed(2))
}
