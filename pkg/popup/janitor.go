package popup

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/autohub/pkg/observability"
)

// Janitor periodically sweeps abandoned popup flows
type Janitor struct {
	cron    *cron.Cron
	broker  *Broker
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewJanitor schedules broker sweeps. schedule uses cron syntax, e.g. "@every 1m".
func NewJanitor(broker *Broker, schedule string, logger *observability.Logger, metrics *observability.Metrics) (*Janitor, error) {
	j := &Janitor{
		cron:    cron.New(),
		broker:  broker,
		logger:  logger,
		metrics: metrics,
	}

	if _, err := j.cron.AddFunc(schedule, j.Run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Run sweeps once
func (j *Janitor) Run() {
	defer observability.RecoverPanic(j.logger, "popup janitor")

	removed := j.broker.Sweep()
	if removed > 0 {
		j.logger.WithField("removed", removed).Info("Swept expired popup flows")
	}
	if j.metrics != nil {
		j.metrics.PopupFlowsPending.Set(float64(j.broker.Pending()))
	}
}

// Start begins the schedule in the background
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
