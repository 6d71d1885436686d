// Package export writes the timeline and grid histograms of an overview to JSON or CSV.
//
// # Supported Formats
//
// JSON Format:
//   - Includes export metadata (period, dataset count, time range, generation time)
//   - Timeline buckets in ascending order, grid cells sorted by identifier
//   - Human-readable with pretty-printing
//
// CSV Format:
//   - One row per histogram entry: section ("timeline" or "grid"), bucket, count
//   - Good for analysis in spreadsheets or pandas
//
// # HTTP API
//
// Export endpoint: GET /v1/export[/{product}[/{year}[/{month}[/{day}]]]]
// Query parameters:
//   - format: "json" or "csv" (default: json)
//   - compute: "true" computes the overview when none is stored (default: stored only)
//
// The product "_all" selects the global overview.
//
// Example:
//
//	curl "http://localhost:8080/v1/export/ls8/2021?format=csv" -o ls8-2021.csv
//
// # Programmatic Usage
//
//	exporter := export.NewExporter(summaryStore)
//	opts := export.ExportOptions{
//	    Key:    period.Key{Product: "ls8", Year: 2021},
//	    Format: "json",
//	}
//
//	file, _ := os.Create("ls8-2021.json")
//	defer file.Close()
//
//	result, err := exporter.ExportToJSON(ctx, file, opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Exported %d timeline buckets\n", result.TimelineBuckets)
package export
