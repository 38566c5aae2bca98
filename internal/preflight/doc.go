// Package preflight checks that docchat can run on this machine.
//
// Every check is a Probe. The Checker adds the system probes for the data
// directory (free space, write access) and the descriptor limit to any
// backend probes it is given, runs them concurrently and collects a
// Report in registration order:
//
//	checker := preflight.New(preflight.WithProbes(embedder, generator))
//	report := checker.Run(ctx, dataDir)
//	if report.Failed() {
//	    // a required probe failed
//	}
package preflight
