package tracing

import (
	"context"
	"net/http"
	"runtime"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/opentracing/opentracing-go/log"

	"github.com/customeros/dmarcwatch/internal/logger"
)

const (
	SpanTagComponent = "component"
	SpanTagEntityId  = "entity-id"
)

const (
	SpanTagComponentPostgresRepository = "postgresRepository"
	SpanTagComponentRest               = "rest"
	SpanTagComponentCronJob            = "cronJob"
	SpanTagComponentService            = "service"
)

func TracingEnhancer(ctx context.Context, endpoint string) func(c *gin.Context) {
	return func(c *gin.Context) {
		ctxWithSpan, span := StartHttpServerTracerSpanWithHeader(ctx, endpoint, c.Request.Header)
		defer span.Finish()
		TagComponentRest(span)
		c.Request = c.Request.WithContext(ctxWithSpan)
		c.Next()
	}
}

func StartHttpServerTracerSpanWithHeader(ctx context.Context, operationName string, headers http.Header) (context.Context, opentracing.Span) {
	spanCtx, err := opentracing.GlobalTracer().Extract(opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(headers))
	if err != nil {
		serverSpan := opentracing.GlobalTracer().StartSpan(operationName)
		opentracing.GlobalTracer().Inject(serverSpan.Context(), opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(headers))
		return opentracing.ContextWithSpan(ctx, serverSpan), serverSpan
	}

	serverSpan := opentracing.GlobalTracer().StartSpan(operationName, ext.RPCServerOption(spanCtx))
	return opentracing.ContextWithSpan(ctx, serverSpan), serverSpan
}

func StartTracerSpan(ctx context.Context, operationName string) (opentracing.Span, context.Context) {
	serverSpan := opentracing.GlobalTracer().StartSpan(operationName)
	return serverSpan, opentracing.ContextWithSpan(ctx, serverSpan)
}

func TraceErr(span opentracing.Span, err error, fields ...log.Field) {
	if span == nil || err == nil {
		return
	}
	ext.LogError(span, err, fields...)
}

func TagEntity(span opentracing.Span, entityId string) {
	if entityId != "" {
		span.SetTag(SpanTagEntityId, entityId)
	}
}

func TagComponentPostgresRepository(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentPostgresRepository)
}

func TagComponentCronJob(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentCronJob)
}

func TagComponentRest(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentRest)
}

func TagComponentService(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentService)
}

func RecoveryWithJaeger(tracer opentracing.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				// Log the panic to Jaeger
				span := tracer.StartSpan("panic-recovery")
				defer span.Finish()

				buf := make([]byte, 4096)
				stackSize := runtime.Stack(buf, false)
				span.LogKV(
					"event", "error",
					"error.object", r,
					"stack", string(buf[:stackSize]),
				)
				span.SetTag("error", true)
			}
		}()
		c.Next()
	}
}

func RecoverAndLogToJaeger(appLogger logger.Logger) {
	if r := recover(); r != nil {
		tracer := opentracing.GlobalTracer()
		span := tracer.StartSpan("panic-recovery")
		defer span.Finish()

		stackTrace := string(debug.Stack())
		span.LogKV(
			"event", "error",
			"error.object", r,
			"stack", stackTrace,
		)
		span.SetTag("error", true)

		appLogger.Errorf("Recovered from panic: %v\nStack trace:\n%s", r, stackTrace)
	}
}
