// Package autosynth drives the one-shot init flow that configures a
// distributed job with machine-appropriate collective algorithms.
//
// Every process of the job calls Init before constructing its
// communication backend. Coordinators detect the local machine, agree
// on its archetype across the job, synthesize (or fetch from cache) the
// algorithm artifacts, and publish the resulting environment bundle.
// Launcher-managed sibling processes wait for the bundle through the
// lock file instead. On return the process environment carries the
// artifact path and device ordering the runtime expects.
package autosynth
