// Package metrics provides Prometheus instrumentation for jobflow engines.
//
// Engines never depend on this package. Instead, a Registry hands out an
// observer per executor name that is subscribed to the engine's observer
// registry like any other sink:
//
//	promReg := prometheus.NewRegistry()
//	reg := metrics.NewRegistry(promReg)
//	obs := observer.NewRegistry()
//	obs.Subscribe(reg.Observer("orders"))
//
//	e, _ := channel.New(channel.Config{Config: executor.Config{Name: "orders", Observer: obs}})
//	if err := e.Submit(j); err == nil {
//		reg.RecordSubmitted("orders")
//	}
//
// Then expose the Prometheus registry via HTTP:
//
//	http.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
//
// # Metrics
//
// All metrics live in the "executor" subsystem and carry an "executor" label:
//
//	jobs_submitted_total   accepted submissions (recorded by the caller)
//	jobs_rejected_total    refused submissions
//	jobs_started_total     invoked actions
//	jobs_completed_total   actions that returned nil
//	jobs_failed_total      actions that returned an error or panicked
//	jobs_cancelled_total   jobs dropped because their token had fired
//	jobs_timed_out_total   wait-handle registrations that timed out
//	jobs_abandoned_total   jobs left unstarted at shutdown (recorded by the caller)
//	job_duration_seconds   histogram of action run time
//	jobs_running           actions in flight
//	warnings_total, exhausted_total, shutdowns_total
//
// # Custom Registry
//
// Use a custom Prometheus registry, namespace or constant labels for isolation:
//
//	registry := prometheus.NewRegistry()
//	m := metrics.NewRegistryWithConfig(metrics.Config{
//		Enabled:   true,
//		Registry:  registry,
//		Namespace: "batch",
//		Labels:    prometheus.Labels{"service": "reports"},
//	})
package metrics
