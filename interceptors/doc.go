// Package interceptors provides a composable pipeline around outbound
// message delivery.
//
// Every transport send issued by the delivery queue - direct publishes and
// queued retry attempts alike - flows through the configured chain, so
// cross-cutting concerns observe each attempt exactly once:
//   - LoggingInterceptor: structured logging of every delivery attempt
//   - MetricsInterceptor: latency and success/failure recording
//   - TimeoutInterceptor: per-attempt deadline enforcement
//
// Example usage:
//
//	chain := interceptors.NewChain(
//	    interceptors.NewLoggingInterceptor(logger),
//	    interceptors.NewTimeoutInterceptor(5*time.Second),
//	)
//
//	err := chain.Execute(ctx, msg, interceptors.PublishHandlerFunc(
//	    func(ctx context.Context, msg contracts.Message) error {
//	        return transport.Send(ctx, msg)
//	    }))
package interceptors
