/*
Package redisstream publishes work lifecycle events to a Redis stream.

The Sink implements workengine.Listener. Callbacks never touch the network:
events are buffered and appended by a single goroutine with XADD, so a slow
or unreachable Redis cannot stall pool workers. When the buffer is full,
events are dropped and counted in gowork_sink_dropped_total.

	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	sink, err := redisstream.New(redisstream.Config{Client: rdb, Stream: "ingest:events"})
	if err != nil {
		return err
	}
	defer sink.Close(context.Background())

	engine, _ := workengine.New(workengine.Config{Listener: sink})

Each entry carries the fields event (accepted, started, completed or
rejected), work_id, instance, and when set name, policy, accepted_at,
started_at, done_at, kind and error. Times are RFC 3339 in UTC. The stream is
trimmed approximately to Config.MaxLen.

Consumers read the stream with XREAD or a consumer group, for example to
build a dashboard of rejected work across instances.
*/
package redisstream
