package metrics

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

type otelHandler struct {
	meter otelmetric.Meter
	tags  map[string]string

	int64CountersMtx sync.Mutex
	int64Counters    map[string]otelmetric.Int64Counter
	int64HistosMtx   sync.Mutex
	int64Histos      map[string]otelmetric.Int64Histogram
	int64GaugesMtx   sync.Mutex
	int64Gauges      map[string]*syncInt64Gauge
}

// attributes merges the handler tags with the call tags, call tags winning.
func attributes(base, tags map[string]string) attribute.Set {
	merged := make(map[string]string, len(base)+len(tags))
	maps.Copy(merged, base)
	maps.Copy(merged, tags)

	kvs := make([]attribute.KeyValue, 0, len(merged))
	for _, k := range slices.Sorted(maps.Keys(merged)) {
		kvs = append(kvs, attribute.String(k, merged[k]))
	}
	return attribute.NewSet(kvs...)
}

type otelInt64Histogram struct {
	h    otelmetric.Int64Histogram
	base map[string]string
}

func (o *otelInt64Histogram) Record(ctx context.Context, value int64, tags map[string]string) {
	o.h.Record(ctx, value, otelmetric.WithAttributeSet(attributes(o.base, tags)))
}

var _ Int64Histogram = (*otelInt64Histogram)(nil)

type otelInt64Counter struct {
	c    otelmetric.Int64Counter
	base map[string]string
}

func (o *otelInt64Counter) Add(ctx context.Context, value int64, tags map[string]string) {
	o.c.Add(ctx, value, otelmetric.WithAttributeSet(attributes(o.base, tags)))
}

var _ Int64Counter = (*otelInt64Counter)(nil)

// syncInt64Gauge keeps the last observed value per attribute set and reports
// them from the meter callback.
type syncInt64Gauge struct {
	mu     sync.Mutex
	values map[attribute.Distinct]gaugeValue
	gauge  otelmetric.Int64ObservableGauge
}

type gaugeValue struct {
	attrs attribute.Set
	value int64
}

func (s *syncInt64Gauge) observe(value int64, attrs attribute.Set) {
	s.mu.Lock()
	s.values[attrs.Equivalent()] = gaugeValue{attrs: attrs, value: value}
	s.mu.Unlock()
}

func (s *syncInt64Gauge) report(observer otelmetric.Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.values {
		observer.ObserveInt64(s.gauge, v.value, otelmetric.WithAttributeSet(v.attrs))
	}
}

type boundGauge struct {
	g    *syncInt64Gauge
	base map[string]string
}

func (b *boundGauge) Observe(_ context.Context, value int64, tags map[string]string) {
	b.g.observe(value, attributes(b.base, tags))
}

var _ Int64Gauge = (*boundGauge)(nil)

func (h *otelHandler) Int64Histogram(name string, description string, unit Unit) Int64Histogram {
	h.int64HistosMtx.Lock()
	defer h.int64HistosMtx.Unlock()

	name = strings.ToLower(name)

	c, ok := h.int64Histos[name]
	var err error
	if !ok {
		c, err = h.meter.Int64Histogram(name, otelmetric.WithDescription(description), otelmetric.WithUnit(string(unit)))
		if err != nil {
			panic(err)
		}
		h.int64Histos[name] = c
	}

	return &otelInt64Histogram{h: c, base: h.tags}
}

func (h *otelHandler) Int64Counter(name string, description string, unit Unit) Int64Counter {
	h.int64CountersMtx.Lock()
	defer h.int64CountersMtx.Unlock()

	name = strings.ToLower(name)

	c, ok := h.int64Counters[name]
	var err error
	if !ok {
		c, err = h.meter.Int64Counter(name, otelmetric.WithDescription(description), otelmetric.WithUnit(string(unit)))
		if err != nil {
			panic(err)
		}
		h.int64Counters[name] = c
	}

	return &otelInt64Counter{c: c, base: h.tags}
}

func (h *otelHandler) Int64Gauge(name string, description string, unit Unit) Int64Gauge {
	h.int64GaugesMtx.Lock()
	defer h.int64GaugesMtx.Unlock()

	name = strings.ToLower(name)

	if g, ok := h.int64Gauges[name]; ok {
		return &boundGauge{g: g, base: h.tags}
	}

	gauge, err := h.meter.Int64ObservableGauge(name, otelmetric.WithDescription(description), otelmetric.WithUnit(string(unit)))
	if err != nil {
		panic(err)
	}
	g := &syncInt64Gauge{values: make(map[attribute.Distinct]gaugeValue), gauge: gauge}

	_, err = h.meter.RegisterCallback(func(_ context.Context, observer otelmetric.Observer) error {
		g.report(observer)
		return nil
	}, gauge)
	if err != nil {
		panic(err)
	}

	h.int64Gauges[name] = g
	return &boundGauge{g: g, base: h.tags}
}

// WithTags returns a handler sharing the same instruments whose recordings
// carry tags in addition to any call tags.
func (h *otelHandler) WithTags(tags map[string]string) Handler {
	merged := make(map[string]string, len(h.tags)+len(tags))
	maps.Copy(merged, h.tags)
	maps.Copy(merged, tags)
	return &taggedHandler{parent: h, tags: merged}
}

// taggedHandler delegates instrument creation to the parent so instruments
// are registered with the meter only once.
type taggedHandler struct {
	parent *otelHandler
	tags   map[string]string
}

func (t *taggedHandler) Int64Counter(name string, description string, unit Unit) Int64Counter {
	c := t.parent.Int64Counter(name, description, unit).(*otelInt64Counter)
	return &otelInt64Counter{c: c.c, base: t.tags}
}

func (t *taggedHandler) Int64Histogram(name string, description string, unit Unit) Int64Histogram {
	h := t.parent.Int64Histogram(name, description, unit).(*otelInt64Histogram)
	return &otelInt64Histogram{h: h.h, base: t.tags}
}

func (t *taggedHandler) Int64Gauge(name string, description string, unit Unit) Int64Gauge {
	g := t.parent.Int64Gauge(name, description, unit).(*boundGauge)
	return &boundGauge{g: g.g, base: t.tags}
}

func (t *taggedHandler) WithTags(tags map[string]string) Handler {
	merged := make(map[string]string, len(t.tags)+len(tags))
	maps.Copy(merged, t.tags)
	maps.Copy(merged, tags)
	return &taggedHandler{parent: t.parent, tags: merged}
}

func NewOtelHandler(_ context.Context, provider otelmetric.MeterProvider, name string) Handler {
	return &otelHandler{
		meter:         provider.Meter(name),
		int64Counters: make(map[string]otelmetric.Int64Counter),
		int64Histos:   make(map[string]otelmetric.Int64Histogram),
		int64Gauges:   make(map[string]*syncInt64Gauge),
	}
}

var _ Handler = (*otelHandler)(nil)
var _ Handler = (*taggedHandler)(nil)
