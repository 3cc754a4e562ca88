package xmlconf

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/md-riaz/NIZAM-sub001/pkg/logger"
)

// MetricsInterface mirrors the Prometheus facade.
type MetricsInterface interface {
	IncrementCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
}

// Handler serves the switch's configuration pull endpoint. Every
// request gets HTTP 200 and a well-formed XML body; internal failures
// degrade to empty or not-found documents, never to transport errors,
// because the switch treats anything else as a hard lookup failure.
type Handler struct {
	compiler *Compiler
	metrics  MetricsInterface
}

func NewHandler(compiler *Compiler, metrics MetricsInterface) *Handler {
	return &Handler{compiler: compiler, metrics: metrics}
}

// Register mounts the pull endpoint on the router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/xmlapi", h.ServeConfig).Methods(http.MethodGet, http.MethodPost)
}

func (h *Handler) ServeConfig(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	section := r.FormValue("section")
	domain := r.FormValue("domain")
	if domain == "" {
		domain = r.FormValue("variable_domain_name")
	}

	if h.metrics != nil {
		h.metrics.IncrementCounter("xml_requests_total", map[string]string{"section": section})
	}

	var body []byte
	var err error

	switch section {
	case "directory":
		body, err = h.compiler.CompileDirectory(r.Context(), domain)
	case "dialplan":
		destination := r.FormValue("Caller-Destination-Number")
		if destination == "" {
			destination = r.FormValue("destination_number")
		}
		body, err = h.compiler.CompileDialplan(r.Context(), domain, destination)
	default:
		body = NotFound()
	}

	if err != nil {
		logger.WithError(err).WithFields(map[string]interface{}{
			"section": section,
			"domain":  domain,
		}).Error("Configuration compile failed")
		body = NotFound()
	}

	if h.metrics != nil {
		h.metrics.ObserveHistogram("xml_compile_seconds",
			time.Since(started).Seconds(), map[string]string{"section": section})
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
