package monitor

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"meshmon/internal/alert"
	"meshmon/internal/health"
	"meshmon/internal/model"
	"meshmon/internal/nodetext"
)

// Fetcher returns the raw node-list text for one poll.
type Fetcher interface {
	Nodes(ctx context.Context) (string, error)
}

// Cycle is the outcome of one fetch-parse-classify-evaluate pass.
type Cycle struct {
	Mesh   string
	At     time.Time
	Err    error
	Nodes  []model.NodeStatus
	Events []model.AlertEvent
}

// OK reports whether the fetch produced data.
func (c Cycle) OK() bool {
	return c.Err == nil
}

// Sink consumes finished cycles.
type Sink interface {
	Publish(ctx context.Context, c Cycle) error
}

// Options configures a Monitor.
type Options struct {
	Mesh     string
	Fetcher  Fetcher
	Machine  *alert.Machine
	Sink     Sink
	Logger   *zap.Logger
	Interval time.Duration
	// Targets restricts evaluation to these node ids. Empty means every
	// observed node plus every node seen earlier in the run.
	Targets []string
	// Now overrides the clock; tests inject a fixed one.
	Now func() time.Time
}

// Monitor polls one mesh on a fixed interval. Cycles never overlap.
type Monitor struct {
	mesh     string
	fetcher  Fetcher
	machine  *alert.Machine
	sink     Sink
	log      *zap.Logger
	interval time.Duration
	targets  []string
	now      func() time.Time
	cycles   int
}

func New(opts Options) *Monitor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Machine == nil {
		mo := alert.DefaultOptions()
		mo.Mesh = opts.Mesh
		opts.Machine = alert.NewMachine(mo)
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Monitor{
		mesh:     opts.Mesh,
		fetcher:  opts.Fetcher,
		machine:  opts.Machine,
		sink:     opts.Sink,
		log:      opts.Logger.With(zap.String("mesh", opts.Mesh)),
		interval: opts.Interval,
		targets:  opts.Targets,
		now:      opts.Now,
	}
}

// Run performs one cycle immediately and then one per tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("monitor started",
		zap.Duration("interval", m.interval),
		zap.Strings("targets", m.targets),
	)
	m.tick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("monitor stopped", zap.Int("cycles", m.cycles))
			return ctx.Err()
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	cycle := m.RunOnce(ctx)
	if ctx.Err() != nil {
		return
	}
	if m.sink == nil {
		return
	}
	if err := m.sink.Publish(ctx, cycle); err != nil {
		m.log.Error("publish cycle failed", zap.Error(err))
	}
}

// RunOnce fetches and evaluates a single cycle. A failed fetch leaves the
// alert state untouched: no data is not evidence that nodes went away.
func (m *Monitor) RunOnce(ctx context.Context) Cycle {
	m.cycles++
	cycle := Cycle{Mesh: m.mesh, At: m.now()}

	text, err := m.fetcher.Nodes(ctx)
	if err != nil {
		m.log.Warn("node fetch failed, skipping cycle", zap.Int("cycle", m.cycles), zap.Error(err))
		cycle.Err = err
		return cycle
	}

	if len(m.targets) > 0 {
		for _, id := range m.targets {
			m.observe(&cycle, model.NodeRecord{ID: id, Fields: nodetext.ParseSingleNode(text, id)})
		}
	} else {
		for _, rec := range m.interesting(nodetext.Records(text)) {
			m.observe(&cycle, rec)
		}
	}

	m.log.Debug("cycle evaluated",
		zap.Int("cycle", m.cycles),
		zap.Int("nodes", len(cycle.Nodes)),
		zap.Int("events", len(cycle.Events)),
	)
	return cycle
}

func (m *Monitor) observe(cycle *Cycle, rec model.NodeRecord) {
	fact := health.Classify(rec.ID, rec.Fields)
	cycle.Nodes = append(cycle.Nodes, health.Status(fact))
	cycle.Events = append(cycle.Events, m.machine.Evaluate(rec.ID, fact, cycle.At)...)
}

// interesting returns the parsed records plus an empty record for every
// previously seen node missing from them, sorted by id.
func (m *Monitor) interesting(records []model.NodeRecord) []model.NodeRecord {
	present := make(map[string]struct{}, len(records))
	for _, rec := range records {
		present[rec.ID] = struct{}{}
	}
	for _, id := range m.machine.Seen() {
		if _, ok := present[id]; !ok {
			records = append(records, model.NodeRecord{ID: id})
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records
}
