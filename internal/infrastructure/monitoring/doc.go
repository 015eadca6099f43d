/*
Package monitoring provides metrics collection for the host runtime.

# Overview

Prometheus collectors track the control API, running instances, bridge
traffic, the pending task queue, surface pools, navigation and drawing
command batches.

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	metrics.RecordInvocation("navigateTo", "ok")

Every Record method accepts a nil receiver, so domain packages take a
*Metrics without caring whether one was configured.
*/
package monitoring
