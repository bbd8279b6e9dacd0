// Package benchmark holds benchmarks that span several gowork packages,
// such as the overhead the work engine and its observers add on top of a
// bare worker pool.
package benchmark
