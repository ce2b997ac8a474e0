// Package router adapts HTTP requests onto the WFS executor.
package router

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mohammed-shakir/pgwfs/internal/core/model"
	"github.com/mohammed-shakir/pgwfs/internal/core/observability"
	"github.com/mohammed-shakir/pgwfs/internal/core/serialize"
	"github.com/mohammed-shakir/pgwfs/internal/core/wfs"
)

// Executor serves one decoded request.
type Executor interface {
	Handle(ctx context.Context, w http.ResponseWriter, p wfs.Params) error
}

// HandleWFS decodes the request, runs it and renders failures as OWS
// exception reports while nothing has been written yet.
func HandleWFS(logger *slog.Logger, ex Executor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		op := "unknown"
		p, err := Decode(r)
		if err == nil {
			op = operationLabel(p)
			err = ex.Handle(r.Context(), sw, p)
		}

		outcome := "ok"
		if err != nil {
			werr := wfs.AsError(err)
			outcome = "client_error"
			if werr.Status() >= http.StatusInternalServerError {
				outcome = "server_error"
			}
			switch {
			case sw.wrote:
				logger.ErrorContext(r.Context(), "response aborted", "op", op, "err", err)
			default:
				if outcome == "server_error" {
					logger.ErrorContext(r.Context(), "request failed", "op", op, "err", err)
				} else {
					logger.DebugContext(r.Context(), "request rejected", "op", op, "code", werr.ExceptionCode(), "err", err)
				}
				writeException(sw, werr)
			}
		}

		observability.ObserveOperation(op, outcome)
		observability.ObserveHTTP(r.Method, "/wfs", sw.code, time.Since(start).Seconds())
	}
}

var operations = []model.Operation{
	model.OpGetCapabilities, model.OpDescribeFeatureType, model.OpGetFeature, model.OpTransaction,
}

// operationLabel keeps the metric label set closed.
func operationLabel(p wfs.Params) string {
	name, _ := p.Get("request")
	for _, op := range operations {
		if strings.EqualFold(name, string(op)) {
			return string(op)
		}
	}
	return "unknown"
}

func writeException(w http.ResponseWriter, err *wfs.Error) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(err.Status())
	_ = serialize.WriteException(w, err)
}

// statusWriter records the status code and whether the body was started.
type statusWriter struct {
	http.ResponseWriter
	code  int
	wrote bool
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
