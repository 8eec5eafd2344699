package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go/log"

	"github.com/customeros/dmarcwatch/internal/tracing"
)

// TracingMiddleware creates a span per request and tags it as REST
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(
			c.Request.Context(),
			c.Request.Method+" "+c.FullPath(),
			c.Request.Header,
		)
		defer span.Finish()

		tracing.TagComponentRest(span)

		if id := c.Param("id"); id != "" {
			tracing.TagEntity(span, id)
		}

		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if c.Writer.Status() >= 400 {
			tracing.TraceErr(span, nil, log.Int("http.status", c.Writer.Status()))
		}
	}
}
