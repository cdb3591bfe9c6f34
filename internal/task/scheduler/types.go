package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tagtimer/internal/task/engine"
	logx "tagtimer/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ for cron specs, e.g. "America/New_York"
}

// Enqueuer accepts fired jobs. *engine.Service implements it.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	opt     engine.TaskOptions
	entryID cron.EntryID
}

type onceDef struct {
	at      time.Time
	timeout time.Duration
	job     Job
	ver     uint64
	timer   *time.Timer
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	eng Enqueuer

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time

	tmu  sync.Mutex
	once map[string]*onceDef
	ver  uint64
	live bool
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
	Once    bool
}

type Snapshot struct {
	Enabled   bool
	Timezone  string
	Schedules []ScheduleInfo
}
