package otel

import otelMetric "go.opentelemetry.io/otel/metric"

type allMeters struct {
	client clientMeters
	http   httpMeters
}

// clientMeters measure each logical call, all attempts together.
type clientMeters struct {
	inFlight otelMetric.Int64UpDownCounter
	duration otelMetric.Float64Histogram
	retries  otelMetric.Int64Counter
}

// httpMeters measure each HTTP attempt separately.
type httpMeters struct {
	inFlight otelMetric.Int64UpDownCounter
	duration otelMetric.Float64Histogram
}

func newMeters(meter otelMetric.Meter) *allMeters {
	return &allMeters{
		client: clientMeters{
			inFlight: upDownCounter(meter, clientMeterPrefix+"request.in_flight", "HTTP client: in flight requests."),
			duration: histogram(meter, clientMeterPrefix+"request.duration", "HTTP client: requests duration.", "ms"),
			retries:  counter(meter, clientMeterPrefix+"request.retries", "HTTP client: retry attempts."),
		},
		http: httpMeters{
			inFlight: upDownCounter(meter, httpMeterPrefix+"request.in_flight", "HTTP request: in flight requests."),
			duration: histogram(meter, httpMeterPrefix+"request.duration", "HTTP request: response received duration (without mapping).", "ms"),
		},
	}
}

func counter(meter otelMetric.Meter, name, desc string) otelMetric.Int64Counter {
	return mustInstrument(meter.Int64Counter(name, otelMetric.WithDescription(desc)))
}

func upDownCounter(meter otelMetric.Meter, name, desc string) otelMetric.Int64UpDownCounter {
	return mustInstrument(meter.Int64UpDownCounter(name, otelMetric.WithDescription(desc)))
}

func histogram(meter otelMetric.Meter, name, desc string, unit string) otelMetric.Float64Histogram {
	return mustInstrument(meter.Float64Histogram(name, otelMetric.WithDescription(desc), otelMetric.WithUnit(unit)))
}

func mustInstrument[T any](instrument T, err error) T {
	if err != nil {
		panic(err)
	}
	return instrument
}
