/*
Package tracing provides lightweight request tracing for the host.

Every HTTP request and every renderer connection gets a span. Spans are
buffered and logged asynchronously with their trace and span ids so a slow
navigation can be followed from the control API call to the renderer.

# Usage

	tracer := tracing.New("apphost", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "renderer")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

# Propagation

X-Trace-ID and X-Span-ID request headers continue an existing trace. The
ids of the server span are echoed in the response headers.
*/
package tracing
