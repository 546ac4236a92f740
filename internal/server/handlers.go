package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zoobzio/spanz"
)

// errSimulated is the failure GET /error reports.
var errSimulated = errors.New("simulated error for tracing demonstration")

func (s *Server) bonjour(c *gin.Context) {
	start := time.Now()
	message, err := spanz.TraceValueContext(c.Request.Context(), s.tracer, "bonjour-eql-request",
		func(context.Context) (string, error) {
			s.tracer.SimulateWork(50*time.Millisecond, 200*time.Millisecond)
			return "Bonjour EQL, this is spanz with simple tracing!", nil
		})
	if s.metrics != nil {
		s.metrics.RecordBonjour(time.Since(start))
	}
	if err != nil {
		c.String(http.StatusInternalServerError, "%s", err.Error())
		return
	}
	c.String(http.StatusOK, "%s", message)
}

func (s *Server) getUser(c *gin.Context) {
	id := c.Param("id")

	root := s.tracer.StartTrace("get-user-request")
	defer s.tracer.FinishTrace(root)
	root.AddTag("user.id", id)

	validation := s.store.StartChildTrace("validate-user", root.TraceID(), root.SpanID())
	s.tracer.SimulateWork(20*time.Millisecond, 50*time.Millisecond)
	validation.AddTag("validation", "success")
	s.store.FinishTrace(validation)

	query := s.store.StartChildTrace("database-query", root.TraceID(), root.SpanID())
	s.tracer.SimulateWork(30*time.Millisecond, 100*time.Millisecond)
	query.AddTag("query", "SELECT * FROM users WHERE id="+id)
	s.store.FinishTrace(query)

	c.String(http.StatusOK, "User: %s", id)
}

func (s *Server) postData(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "read body: %v", err)
		return
	}
	data := string(body)

	message, err := spanz.TraceValueContext(c.Request.Context(), s.tracer, "process-data",
		func(ctx context.Context) (string, error) {
			_, span := s.store.StartSpan(ctx, "data-processing")
			defer s.store.FinishTrace(span)

			span.AddTag("data.size", strconv.Itoa(len(data)))
			s.tracer.SimulateWork(30*time.Millisecond, 150*time.Millisecond)
			return fmt.Sprintf("Data processed: %d characters", len(data)), nil
		})
	if err != nil {
		c.String(http.StatusInternalServerError, "%s", err.Error())
		return
	}
	c.String(http.StatusOK, "%s", message)
}

func (s *Server) simulateError(c *gin.Context) {
	span := s.tracer.StartTrace("error-simulation")
	defer s.tracer.FinishTrace(span)

	s.tracer.SimulateWork(10*time.Millisecond, 50*time.Millisecond)
	if s.random() < s.errorRate {
		s.tracer.AddError(span, errSimulated.Error())
		s.logger.Warn("simulated failure", zap.String("trace_id", span.TraceID()))
		c.String(http.StatusInternalServerError, "%s", errSimulated.Error())
		return
	}
	c.String(http.StatusOK, "No error this time!")
}

func (s *Server) viewTraces(c *gin.Context) {
	spans := s.store.ListAllFinished()

	var b strings.Builder
	fmt.Fprintf(&b, "Active: %d, Total: %d\n\n", s.store.CountActive(), len(spans))
	for i := range spans {
		b.WriteString(spans[i].String())
		b.WriteByte('\n')
	}
	c.String(http.StatusOK, "%s", b.String())
}

func (s *Server) listTraces(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.ListAllFinished())
}

func (s *Server) getTrace(c *gin.Context) {
	spans := s.store.ListByTraceID(c.Param("traceID"))
	if len(spans) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "trace not found"})
		return
	}
	c.JSON(http.StatusOK, spans)
}

func (s *Server) stats(c *gin.Context) {
	c.String(http.StatusOK, "Active: %d, Total: %d", s.store.CountActive(), s.store.CountTotalFinished())
}

func (s *Server) clearTraces(c *gin.Context) {
	s.store.Clear()
	c.String(http.StatusOK, "Traces cleared!")
}

func (s *Server) recordCustomMetric(c *gin.Context) {
	operation := c.Query("operation")
	if operation == "" {
		c.String(http.StatusBadRequest, "operation is required")
		return
	}
	value, err := strconv.ParseFloat(c.Query("value"), 64)
	if err != nil {
		c.String(http.StatusBadRequest, "invalid value: %v", err)
		return
	}

	s.metrics.RecordCustom(operation, value)
	c.String(http.StatusOK, "Metric recorded: %s = %g", operation, value)
}
