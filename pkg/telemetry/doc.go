// Package telemetry provides observability instrumentation for the autosynth
// coordination layer: structured logging (zerolog), Prometheus metrics, and
// optional OpenTelemetry tracing of the init phases.
//
// Initialize telemetry once at process start:
//
//	tel, err := telemetry.New(telemetry.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Component loggers carry the coordination context:
//
//	logger := tel.Logger.NewComponentLogger("rendezvous").WithRank(0)
//	logger.Info("Published environment bundle")
//
// Tracing wraps the init phases (detect, gather, synthesize, lower, publish,
// wait) when enabled; the stdout exporter needs no backend and is the
// default for debugging.
package telemetry
