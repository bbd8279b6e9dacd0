// Package scheduler dispatches work into a work engine at fixed times, at fixed
// intervals or on cron schedules.
//
// The scheduler owns no workers. On every tick it hands due entries to a
// Submitter, normally a started *workengine.Engine, under the fire-and-forget
// policy:
//
//	engine, _ := workengine.New(workengine.Config{})
//	_ = engine.Start()
//	defer engine.Dispose()
//
//	s, _ := scheduler.New(scheduler.Config{Submitter: engine})
//	_ = s.Start()
//	defer func() { <-s.Stop() }()
//
//	_ = s.ScheduleAfter("warmup", work, 5*time.Second)
//	_ = s.ScheduleRepeating("heartbeat", work, 30*time.Second)
//	_ = s.ScheduleCron("report", "0 0 6 * * 1-5", work)
//
// Each dispatch is named after its entry ID, so listeners and logs can tell
// scheduled work apart. Config.Options are appended to every submission, for
// example a start timeout:
//
//	scheduler.Config{
//		Submitter: engine,
//		Options:   []workengine.SubmitOption{workengine.WithStartTimeout(time.Minute)},
//	}
//
// A rejected dispatch (engine disposed, pool full) is logged and counted in
// gowork_scheduler_dispatch_failed_total. It is not retried: repeating and
// cron entries simply fire again at their next run time, one-shot entries are
// gone.
//
// Cron expressions have six fields with seconds first, or a descriptor:
//
//	"0 30 14 * * 1-5"   2:30 PM on weekdays
//	"*/10 * * * * *"    every 10 seconds
//	"@daily"            midnight
//
// CronOptions.MaxRuns removes an entry after a number of dispatches and
// CronOptions.Location evaluates it in another time zone.
//
// Stop keeps the entries, so a stopped scheduler can be started again. RunDue
// dispatches due entries once without the ticker, which is handy with an
// injected clock.
package scheduler
