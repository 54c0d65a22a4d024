package trace

import (
	"contrib.go.opencensus.io/exporter/ocagent"
	log "github.com/sirupsen/logrus"
	"go.opencensus.io/trace"
)

// InitializeTracing initiates trace, exporter and the sampler. The returned
// function flushes buffered spans and stops the exporter; call it on
// shutdown.
func InitializeTracing(serviceName string, address string) (func(), error) {
	oce, err := ocagent.NewExporter(
		ocagent.WithInsecure(),
		ocagent.WithAddress(address),
		ocagent.WithServiceName(serviceName))
	if err != nil {
		return nil, err
	}
	trace.RegisterExporter(oce)
	trace.ApplyConfig(trace.Config{
		DefaultSampler: trace.AlwaysSample(),
	})
	return func() {
		oce.Flush()
		if err := oce.Stop(); err != nil {
			log.Warnf("failed to stop trace exporter: %s", err)
		}
	}, nil
}
